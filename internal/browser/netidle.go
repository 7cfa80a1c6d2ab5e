package browser

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
)

// networkIdleQuiet is how long no request may be in flight before the
// network counts as idle.
const networkIdleQuiet = 500 * time.Millisecond

// netIdle tracks in-flight requests of one tab from CDP network events.
type netIdle struct {
	mu       sync.Mutex
	inflight map[network.RequestID]struct{}
	changed  time.Time
	now      func() time.Time
}

func newNetIdle(now func() time.Time) *netIdle {
	if now == nil {
		now = time.Now
	}
	return &netIdle{inflight: make(map[network.RequestID]struct{}), changed: now(), now: now}
}

// observe is a chromedp target listener.
func (n *netIdle) observe(ev any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		n.inflight[e.RequestID] = struct{}{}
	case *network.EventLoadingFinished:
		delete(n.inflight, e.RequestID)
	case *network.EventLoadingFailed:
		delete(n.inflight, e.RequestID)
	default:
		return
	}
	n.changed = n.now()
}

func (n *netIdle) idle() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.inflight) == 0 && n.now().Sub(n.changed) >= networkIdleQuiet
}

// wait polls until the network is idle or ctx ends.
func (n *netIdle) wait(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for !n.idle() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
