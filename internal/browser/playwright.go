package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
)

var (
	// Playwright instance (singleton)
	pwMu       sync.Mutex
	pwInstance *playwright.Playwright
	pwEngines  = make(map[string]bool)
)

// getPlaywright returns the singleton Playwright instance, installing the
// engine's browser on first use.
func getPlaywright(engine string) (*playwright.Playwright, error) {
	pwMu.Lock()
	defer pwMu.Unlock()

	if !pwEngines[engine] {
		if err := playwright.Install(&playwright.RunOptions{Browsers: []string{engine}}); err != nil {
			return nil, fmt.Errorf("failed to install playwright %s: %w", engine, err)
		}
		pwEngines[engine] = true
	}

	if pwInstance == nil {
		pw, err := playwright.Run()
		if err != nil {
			return nil, fmt.Errorf("failed to start playwright: %w", err)
		}
		pwInstance = pw
	}
	return pwInstance, nil
}

func stopPlaywright() error {
	pwMu.Lock()
	defer pwMu.Unlock()

	if pwInstance == nil {
		return nil
	}
	err := pwInstance.Stop()
	pwInstance = nil
	return err
}

// playwrightDriver is one launched Playwright browser.
type playwrightDriver struct {
	browser playwright.Browser
}

func newPlaywrightDriver(cfg Config, headless bool) (*playwrightDriver, error) {
	pw, err := getPlaywright(cfg.Engine)
	if err != nil {
		return nil, err
	}

	var bt playwright.BrowserType
	switch cfg.Engine {
	case EngineFirefox:
		bt = pw.Firefox
	case EngineWebKit:
		bt = pw.WebKit
	default:
		bt = pw.Chromium
	}

	opts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(headless),
	}
	if cfg.Proxy != "" {
		opts.Proxy = &playwright.Proxy{Server: cfg.Proxy}
	}
	if cfg.NoSandbox {
		opts.ChromiumSandbox = playwright.Bool(false)
	}

	browser, err := bt.Launch(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to launch %s: %w", cfg.Engine, err)
	}
	return &playwrightDriver{browser: browser}, nil
}

func (d *playwrightDriver) NewPage(ctx context.Context, opts PageOptions) (Page, error) {
	ctxOpts := playwright.BrowserNewContextOptions{
		JavaScriptEnabled: playwright.Bool(true),
	}
	if opts.Viewport != (Viewport{}) {
		ctxOpts.Viewport = &playwright.Size{Width: opts.Viewport.Width, Height: opts.Viewport.Height}
	}
	if opts.UserAgent != "" {
		ctxOpts.UserAgent = playwright.String(opts.UserAgent)
	}

	bctx, err := d.browser.NewContext(ctxOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	for _, script := range opts.InitScripts {
		if err := bctx.AddInitScript(playwright.Script{Content: playwright.String(script)}); err != nil {
			bctx.Close()
			return nil, fmt.Errorf("failed to add init script: %w", err)
		}
	}

	if len(opts.Cookies) > 0 {
		cookies := make([]playwright.OptionalCookie, 0, len(opts.Cookies))
		for _, c := range opts.Cookies {
			pc, err := c.playwright()
			if err != nil {
				bctx.Close()
				return nil, err
			}
			cookies = append(cookies, pc)
		}
		if err := bctx.AddCookies(cookies); err != nil {
			bctx.Close()
			return nil, fmt.Errorf("set cookie failed: %w", err)
		}
	}

	pwPage, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	page := &playwrightPage{
		targetID: fmt.Sprintf("page-%s", uuid.New().String()[:8]),
		context:  bctx,
		page:     pwPage,
	}
	pwPage.OnClose(func(playwright.Page) {
		page.mu.Lock()
		defer page.mu.Unlock()
		page.closed = true
	})
	return page, nil
}

func (d *playwrightDriver) Close() error {
	return d.browser.Close()
}

// playwrightPage wraps a Playwright page and owns its context.
type playwrightPage struct {
	mu sync.RWMutex

	targetID string
	context  playwright.BrowserContext
	page     playwright.Page
	closed   bool
}

func (p *playwrightPage) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

func (p *playwrightPage) Navigate(ctx context.Context, opts NavigateOptions) (*Response, error) {
	if p.isClosed() {
		return nil, fmt.Errorf("page is closed")
	}

	waitUntil := playwright.WaitUntilStateLoad
	switch opts.WaitUntil {
	case "domcontentloaded":
		waitUntil = playwright.WaitUntilStateDomcontentloaded
	case "networkidle":
		waitUntil = playwright.WaitUntilStateNetworkidle
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultNavigateTimeout
	}

	resp, err := p.page.Goto(opts.URL, playwright.PageGotoOptions{
		WaitUntil: waitUntil,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return nil, fmt.Errorf("navigation failed: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("navigation to %s returned no response", opts.URL)
	}

	body, err := resp.Text()
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return &Response{Status: resp.Status(), Body: body}, nil
}

func (p *playwrightPage) Click(ctx context.Context, selector string) (bool, error) {
	if p.isClosed() {
		return false, fmt.Errorf("page is closed")
	}
	el, err := p.page.QuerySelector(selector)
	if err != nil {
		return false, fmt.Errorf("query %s failed: %w", selector, err)
	}
	if el == nil {
		return false, nil
	}
	if err := el.Click(playwright.ElementHandleClickOptions{
		Timeout: playwright.Float(float64(DefaultActionTimeout.Milliseconds())),
	}); err != nil {
		return false, fmt.Errorf("click failed: %w", err)
	}
	return true, nil
}

func (p *playwrightPage) Exists(ctx context.Context, selector string) (bool, error) {
	if p.isClosed() {
		return false, fmt.Errorf("page is closed")
	}
	el, err := p.page.QuerySelector(selector)
	if err != nil {
		return false, fmt.Errorf("query %s failed: %w", selector, err)
	}
	return el != nil, nil
}

func (p *playwrightPage) Viewport() Viewport {
	size := p.page.ViewportSize()
	if size == nil {
		return Viewport{}
	}
	return Viewport{Width: size.Width, Height: size.Height}
}

func (p *playwrightPage) MouseMove(ctx context.Context, x, y float64, steps int) error {
	if p.isClosed() {
		return fmt.Errorf("page is closed")
	}
	opts := playwright.MouseMoveOptions{}
	if steps > 0 {
		opts.Steps = playwright.Int(steps)
	}
	return p.page.Mouse().Move(x, y, opts)
}

func (p *playwrightPage) MouseDown(ctx context.Context) error {
	if p.isClosed() {
		return fmt.Errorf("page is closed")
	}
	return p.page.Mouse().Down(playwright.MouseDownOptions{Button: playwright.MouseButtonLeft})
}

func (p *playwrightPage) MouseUp(ctx context.Context) error {
	if p.isClosed() {
		return fmt.Errorf("page is closed")
	}
	return p.page.Mouse().Up(playwright.MouseUpOptions{Button: playwright.MouseButtonLeft})
}

func (p *playwrightPage) MouseClick(ctx context.Context, x, y float64, delay time.Duration) error {
	if p.isClosed() {
		return fmt.Errorf("page is closed")
	}
	return p.page.Mouse().Click(x, y, playwright.MouseClickOptions{
		Button: playwright.MouseButtonLeft,
		Delay:  playwright.Float(float64(delay.Milliseconds())),
	})
}

// Close closes the page and its context.
func (p *playwrightPage) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.context.Close()
}
