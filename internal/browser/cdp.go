package browser

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// cdpDriver drives an installed Chrome through chromedp.
type cdpDriver struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

func newCDPDriver(ctx context.Context, cfg Config, headless bool) (*cdpDriver, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(cfg.ExecutablePath),
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-gpu", headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(PaintViewport.Width, PaintViewport.Height),
	)
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if cfg.Proxy != "" {
		opts = append(opts, chromedp.ProxyServer(cfg.Proxy))
	}

	// The browser outlives the launching request, so it hangs off Background.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// First Run starts the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start chrome: %w", err)
	}

	return &cdpDriver{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

func (d *cdpDriver) NewPage(ctx context.Context, opts PageOptions) (Page, error) {
	tabCtx, cancel := chromedp.NewContext(d.browserCtx, chromedp.WithNewBrowserContext())

	vp := opts.Viewport
	if vp == (Viewport{}) {
		vp = PaintViewport
	}

	setup := chromedp.Tasks{
		network.Enable(),
		chromedp.EmulateViewport(int64(vp.Width), int64(vp.Height)),
	}
	if opts.UserAgent != "" {
		setup = append(setup, emulation.SetUserAgentOverride(opts.UserAgent))
	}
	for _, script := range opts.InitScripts {
		src := script
		setup = append(setup, chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(src).Do(ctx)
			return err
		}))
	}
	if len(opts.Cookies) > 0 {
		params := make([]*network.CookieParam, 0, len(opts.Cookies))
		for _, c := range opts.Cookies {
			p, err := c.cdp()
			if err != nil {
				cancel()
				return nil, err
			}
			params = append(params, p)
		}
		setup = append(setup, network.SetCookies(params))
	}

	if err := chromedp.Run(tabCtx, setup); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to prepare page: %w", err)
	}
	return &cdpPage{ctx: tabCtx, cancel: cancel, viewport: vp}, nil
}

func (d *cdpDriver) Close() error {
	d.browserCancel()
	d.allocCancel()
	return nil
}

// cdpPage is one chromedp tab in its own browser context.
type cdpPage struct {
	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	viewport Viewport
	mouseX   float64
	mouseY   float64
	button   input.MouseButton
	closed   bool
}

// bind derives a tab context that is also cancelled when ctx ends.
func (p *cdpPage) bind(ctx context.Context) (context.Context, func(), error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, nil, fmt.Errorf("page is closed")
	}

	runCtx, cancel := context.WithCancel(p.ctx)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() { stop(); cancel() }, nil
}

// run executes actions on the tab, bounded by the caller's ctx.
func (p *cdpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, done, err := p.bind(ctx)
	if err != nil {
		return err
	}
	defer done()
	return chromedp.Run(runCtx, actions...)
}

func (p *cdpPage) Navigate(ctx context.Context, opts NavigateOptions) (*Response, error) {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultNavigateTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	runCtx, done, err := p.bind(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	// chromedp.Navigate returns after the load event, which also covers
	// "load" and "domcontentloaded".
	var idle *netIdle
	if opts.WaitUntil == "networkidle" {
		idle = newNetIdle(nil)
		chromedp.ListenTarget(runCtx, idle.observe)
		if err := chromedp.Run(runCtx, network.Enable()); err != nil {
			return nil, fmt.Errorf("failed to enable network events: %w", err)
		}
	}

	resp, err := chromedp.RunResponse(runCtx, chromedp.Navigate(opts.URL))
	if err != nil {
		return nil, fmt.Errorf("navigation failed: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("navigation to %s returned no response", opts.URL)
	}
	if idle != nil {
		if err := idle.wait(runCtx); err != nil {
			return nil, fmt.Errorf("waiting for network idle: %w", err)
		}
	}

	var body string
	if err := chromedp.Run(runCtx, chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &body)); err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return &Response{Status: int(resp.Status), Body: body}, nil
}

func (p *cdpPage) query(ctx context.Context, selector string) ([]*cdp.Node, error) {
	var nodes []*cdp.Node
	err := p.run(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQuery, chromedp.AtLeast(0)))
	if err != nil {
		return nil, fmt.Errorf("query %s failed: %w", selector, err)
	}
	return nodes, nil
}

func (p *cdpPage) Click(ctx context.Context, selector string) (bool, error) {
	nodes, err := p.query(ctx, selector)
	if err != nil || len(nodes) == 0 {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultActionTimeout)
	defer cancel()
	if err := p.run(ctx, chromedp.MouseClickNode(nodes[0])); err != nil {
		return false, fmt.Errorf("click failed: %w", err)
	}
	return true, nil
}

func (p *cdpPage) Exists(ctx context.Context, selector string) (bool, error) {
	nodes, err := p.query(ctx, selector)
	return len(nodes) > 0, err
}

func (p *cdpPage) Viewport() Viewport {
	return p.viewport
}

func (p *cdpPage) mouse(typ input.MouseType, x, y float64, button input.MouseButton) chromedp.Action {
	return input.DispatchMouseEvent(typ, x, y).WithButton(button).WithClickCount(1)
}

func (p *cdpPage) MouseMove(ctx context.Context, x, y float64, steps int) error {
	steps = max(steps, 1)
	p.mu.Lock()
	fromX, fromY, button := p.mouseX, p.mouseY, p.button
	p.mu.Unlock()
	if button == "" {
		button = input.None
	}

	actions := make([]chromedp.Action, 0, steps)
	for i := 1; i <= steps; i++ {
		t := float64(i) / float64(steps)
		actions = append(actions, p.mouse(input.MouseMoved, fromX+(x-fromX)*t, fromY+(y-fromY)*t, button))
	}
	if err := p.run(ctx, actions...); err != nil {
		return err
	}
	p.mu.Lock()
	p.mouseX, p.mouseY = x, y
	p.mu.Unlock()
	return nil
}

func (p *cdpPage) MouseDown(ctx context.Context) error {
	p.mu.Lock()
	x, y := p.mouseX, p.mouseY
	p.mu.Unlock()
	if err := p.run(ctx, p.mouse(input.MousePressed, x, y, input.Left)); err != nil {
		return err
	}
	p.setButton(input.Left)
	return nil
}

func (p *cdpPage) MouseUp(ctx context.Context) error {
	p.mu.Lock()
	x, y := p.mouseX, p.mouseY
	p.mu.Unlock()
	if err := p.run(ctx, p.mouse(input.MouseReleased, x, y, input.Left)); err != nil {
		return err
	}
	p.setButton(input.None)
	return nil
}

// setButton records the held button so moves while dragging report it.
func (p *cdpPage) setButton(b input.MouseButton) {
	p.mu.Lock()
	p.button = b
	p.mu.Unlock()
}

func (p *cdpPage) MouseClick(ctx context.Context, x, y float64, delay time.Duration) error {
	if err := p.MouseMove(ctx, x, y, 1); err != nil {
		return err
	}
	if err := p.MouseDown(ctx); err != nil {
		return err
	}
	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return p.MouseUp(ctx)
}

func (p *cdpPage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.cancel()
	return nil
}

func timeFromEpoch(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*1e9))
}
