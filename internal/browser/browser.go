package browser

import (
	"context"
	"time"
)

// Viewport is a window size in CSS pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Center returns the middle of the viewport.
func (v Viewport) Center() (float64, float64) {
	return float64(v.Width / 2), float64(v.Height / 2)
}

// PageOptions configures the isolated context a page is opened in.
type PageOptions struct {
	Headless    bool
	Viewport    Viewport
	UserAgent   string
	InitScripts []string
	Cookies     []Cookie
}

// NavigateOptions configures navigation.
type NavigateOptions struct {
	URL       string
	WaitUntil string // "load", "domcontentloaded", "networkidle"
	Timeout   time.Duration
}

// Response is the main document response of a navigation.
type Response struct {
	Status int
	Body   string
}

// Driver opens pages on one browser engine.
type Driver interface {
	// NewPage opens a page in a fresh context with its own cookies and
	// init scripts. Closing the page disposes the context.
	NewPage(ctx context.Context, opts PageOptions) (Page, error)
	Close() error
}

// Page is the subset of page automation the painter needs.
type Page interface {
	Navigate(ctx context.Context, opts NavigateOptions) (*Response, error)
	// Click clicks the first element matching selector. It reports false
	// when nothing matches.
	Click(ctx context.Context, selector string) (bool, error)
	// Exists reports whether selector currently matches an element.
	Exists(ctx context.Context, selector string) (bool, error)
	Viewport() Viewport

	MouseMove(ctx context.Context, x, y float64, steps int) error
	MouseDown(ctx context.Context) error
	MouseUp(ctx context.Context) error
	MouseClick(ctx context.Context, x, y float64, delay time.Duration) error

	Close() error
}

// WaitGone polls until selector no longer matches or ctx ends.
func WaitGone(ctx context.Context, p Page, selector string, poll time.Duration) error {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		ok, err := p.Exists(ctx, selector)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// FetchText opens a headless page, navigates to url and returns the
// response. The page runs with the given cookies and init scripts so the
// request carries the same session as a painting page.
func FetchText(ctx context.Context, d Driver, url string, opts PageOptions) (*Response, error) {
	opts.Headless = true
	if opts.Viewport == (Viewport{}) {
		opts.Viewport = FetchViewport
	}
	if opts.UserAgent == "" {
		opts.UserAgent = UserAgent
	}
	page, err := d.NewPage(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer page.Close()
	return page.Navigate(ctx, NavigateOptions{URL: url, WaitUntil: "networkidle"})
}
