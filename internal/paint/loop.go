package paint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/neboloop/wplace-painter/internal/config"
	"github.com/neboloop/wplace-painter/internal/crashlog"
	"github.com/neboloop/wplace-painter/internal/logging"
)

// Loop paints for one user until ctx ends, the user disappears from the
// configuration or a cycle returns ErrShouldQuit. Settings are re-read
// from the store before every cycle so edits apply without a restart.
func (p *Painter) Loop(ctx context.Context, identifier string) error {
	log := logging.For(identifier)
	for {
		user, ok := p.Store.User(identifier)
		if !ok {
			log.Info("user removed from config, stopping")
			return nil
		}

		log.Info("starting painting cycle")
		wait, err := p.safeCycle(ctx, user)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, ErrShouldQuit):
			log.Warn("exiting paint loop", "reason", err)
			if p.OnQuit != nil {
				p.OnQuit(identifier, err)
			}
			return err
		case err != nil:
			log.Error("painting cycle failed", "error", err)
			crashlog.LogError("paint", err, map[string]string{"user": identifier})
			wait = p.uniform(time.Minute, 3*time.Minute)
			log.Info("sleeping before retrying", "for", wait.Round(time.Second))
		default:
			log.Info("sleeping", "for", wait.Round(time.Second))
		}

		if err := p.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// safeCycle runs one cycle and turns a panic into an ordinary error.
func (p *Painter) safeCycle(ctx context.Context, user config.User) (wait time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			crashlog.LogPanic("paint", r, map[string]string{"user": user.Identifier})
			wait, err = 0, fmt.Errorf("panic in painting cycle: %v", r)
		}
	}()
	return p.Cycle(ctx, user)
}

// RunAll runs one loop per configured user and blocks until every loop has
// ended. Users added to the configuration later get a loop of their own.
// A user quitting does not stop the others.
func (p *Painter) RunAll(ctx context.Context) error {
	var (
		g       errgroup.Group
		mu      sync.Mutex
		running = make(map[string]bool)
		quit    = make(map[string]error)
		// set once the last loop ends; no loop may start after that
		done bool
	)

	start := func(cfg *config.Config) {
		mu.Lock()
		defer mu.Unlock()
		if done || ctx.Err() != nil {
			return
		}
		for _, u := range cfg.Users {
			id := u.Identifier
			if running[id] {
				continue
			}
			running[id] = true
			g.Go(func() error {
				err := p.Loop(ctx, id)
				mu.Lock()
				delete(running, id)
				if len(running) == 0 {
					done = true
				}
				if errors.Is(err, ErrShouldQuit) {
					quit[id] = err
				}
				mu.Unlock()
				return nil
			})
		}
	}

	p.Store.Subscribe(start)
	start(p.Store.Get())
	g.Wait()

	mu.Lock()
	defer mu.Unlock()
	done = true
	if ctx.Err() != nil {
		return ctx.Err()
	}
	errs := make([]error, 0, len(quit))
	for _, err := range quit {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
