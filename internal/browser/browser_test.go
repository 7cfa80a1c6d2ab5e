package browser

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDriver struct {
	headless bool
	closed   bool
}

func (d *stubDriver) NewPage(ctx context.Context, opts PageOptions) (Page, error) {
	return &stubPage{opts: opts}, nil
}

func (d *stubDriver) Close() error {
	d.closed = true
	return nil
}

type stubPage struct {
	mu       sync.Mutex
	opts     PageOptions
	present  int // Exists reports true this many times
	navigate string
	closed   bool
}

func (p *stubPage) Navigate(ctx context.Context, opts NavigateOptions) (*Response, error) {
	p.navigate = opts.URL
	return &Response{Status: 200, Body: `{"ok":true}`}, nil
}

func (p *stubPage) Click(ctx context.Context, selector string) (bool, error) { return true, nil }

func (p *stubPage) Exists(ctx context.Context, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.present > 0 {
		p.present--
		return true, nil
	}
	return false, nil
}

func (p *stubPage) Viewport() Viewport                                           { return p.opts.Viewport }
func (p *stubPage) MouseMove(ctx context.Context, x, y float64, steps int) error { return nil }
func (p *stubPage) MouseDown(ctx context.Context) error                          { return nil }
func (p *stubPage) MouseUp(ctx context.Context) error                            { return nil }
func (p *stubPage) MouseClick(ctx context.Context, x, y float64, d time.Duration) error {
	return nil
}
func (p *stubPage) Close() error { p.closed = true; return nil }

func TestManagerLaunchesLazilyPerMode(t *testing.T) {
	var launched []*stubDriver
	m := NewManager(func(ctx context.Context, cfg Config, headless bool) (Driver, error) {
		d := &stubDriver{headless: headless}
		launched = append(launched, d)
		return d, nil
	})

	_, err := m.Driver(context.Background(), true)
	require.Error(t, err, "driver before Start")

	require.NoError(t, m.Start(Config{Engine: EngineFirefox}))
	assert.Equal(t, EngineFirefox, m.Config().Engine)
	assert.Empty(t, launched)

	d1, err := m.Driver(context.Background(), true)
	require.NoError(t, err)
	d2, err := m.Driver(context.Background(), true)
	require.NoError(t, err)
	assert.Same(t, d1, d2)

	_, err = m.Driver(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, launched, 2)
	assert.True(t, launched[0].headless)
	assert.False(t, launched[1].headless)

	require.NoError(t, m.Stop())
	assert.True(t, launched[0].closed)
	assert.True(t, launched[1].closed)
}

func TestManagerHeadlessOverride(t *testing.T) {
	var modes []bool
	m := NewManager(func(ctx context.Context, cfg Config, headless bool) (Driver, error) {
		modes = append(modes, headless)
		return &stubDriver{headless: headless}, nil
	})
	require.NoError(t, m.Start(Config{Engine: EngineWebKit, Headless: true}))
	defer m.Stop()

	_, err := m.NewPage(context.Background(), PageOptions{Headless: false})
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, modes)
}

func TestManagerLaunchError(t *testing.T) {
	m := NewManager(func(ctx context.Context, cfg Config, headless bool) (Driver, error) {
		return nil, errors.New("boom")
	})
	require.NoError(t, m.Start(Config{}))
	_, err := m.Driver(context.Background(), true)
	require.ErrorContains(t, err, "boom")
}

func TestResolveConfig(t *testing.T) {
	cfg, err := ResolveConfig(Config{})
	require.NoError(t, err)
	assert.Equal(t, EngineChromium, cfg.Engine)

	_, err = ResolveConfig(Config{Engine: "netscape"})
	assert.Error(t, err)

	_, err = ResolveConfig(Config{Engine: EngineFirefox, Proxy: "not a url"})
	assert.Error(t, err)

	cfg, err = ResolveConfig(Config{Engine: EngineWebKit, Proxy: "http://127.0.0.1:3128"})
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:3128", cfg.Proxy)

	exe := filepath.Join(t.TempDir(), "chrome")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\n"), 0755))
	cfg, err = ResolveConfig(Config{Engine: EngineChrome, ExecutablePath: exe})
	require.NoError(t, err)
	assert.Equal(t, exe, cfg.ExecutablePath)

	_, err = ResolveConfig(Config{Engine: EngineChrome, ExecutablePath: exe + ".missing"})
	assert.Error(t, err)
}

func TestChromeCandidates(t *testing.T) {
	for _, goos := range []string{"darwin", "linux", "windows"} {
		c := chromeCandidates(goos)
		require.NotEmpty(t, c, goos)
		assert.Equal(t, BrowserChrome, c[0].kind, goos)
	}
	assert.Empty(t, chromeCandidates("plan9"))
}

func TestCookieConversion(t *testing.T) {
	c := Cookie{Name: "j", Value: "tok", Domain: "backend.wplace.live", Path: "/", Secure: true, SameSite: "Lax", Expires: 1700000000.5}

	pc, err := c.playwright()
	require.NoError(t, err)
	assert.Equal(t, "j", pc.Name)
	assert.Equal(t, "backend.wplace.live", *pc.Domain)
	assert.Equal(t, playwright.SameSiteAttributeLax, pc.SameSite)
	assert.True(t, *pc.Secure)
	assert.False(t, *pc.HttpOnly)

	cc, err := c.cdp()
	require.NoError(t, err)
	assert.Equal(t, network.CookieSameSiteLax, cc.SameSite)
	assert.Equal(t, "/", cc.Path)
	require.NotNil(t, cc.Expires)
	assert.Equal(t, int64(1700000000), cc.Expires.Time().Unix())

	_, err = Cookie{Value: "x", Domain: "a", Path: "/"}.playwright()
	assert.Error(t, err)
	_, err = Cookie{Name: "x"}.cdp()
	assert.Error(t, err)
}

func TestWaitGone(t *testing.T) {
	p := &stubPage{present: 3}
	require.NoError(t, WaitGone(context.Background(), p, "#btn", time.Millisecond))

	p = &stubPage{present: 1 << 30}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, WaitGone(ctx, p, "#btn", time.Millisecond), context.DeadlineExceeded)
}

func TestFetchText(t *testing.T) {
	d := &stubDriver{}
	resp, err := FetchText(context.Background(), d, "https://backend.wplace.live/me", PageOptions{})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
}

func TestViewportCenter(t *testing.T) {
	x, y := PaintViewport.Center()
	assert.Equal(t, 640.0, x)
	assert.Equal(t, 360.0, y)
}

func TestNetIdle(t *testing.T) {
	now := time.Unix(1700000000, 0)
	n := newNetIdle(func() time.Time { return now })
	assert.False(t, n.idle(), "quiet period not elapsed yet")

	now = now.Add(networkIdleQuiet)
	assert.True(t, n.idle())

	n.observe(&network.EventRequestWillBeSent{RequestID: "1"})
	n.observe(&network.EventRequestWillBeSent{RequestID: "2"})
	now = now.Add(time.Second)
	assert.False(t, n.idle(), "requests in flight")

	n.observe(&network.EventLoadingFinished{RequestID: "1"})
	n.observe(&network.EventLoadingFailed{RequestID: "2"})
	assert.False(t, n.idle(), "just settled")

	n.observe(&network.EventResponseReceived{RequestID: "3"})
	now = now.Add(networkIdleQuiet)
	assert.True(t, n.idle(), "unrelated events do not reset the timer")
}

func TestNetIdleWait(t *testing.T) {
	n := newNetIdle(nil)
	n.observe(&network.EventRequestWillBeSent{RequestID: "1"})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, n.wait(ctx), context.DeadlineExceeded)

	n.observe(&network.EventLoadingFinished{RequestID: "1"})
	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	require.NoError(t, n.wait(ctx2))
}
