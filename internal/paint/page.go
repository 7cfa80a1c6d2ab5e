package paint

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/neboloop/wplace-painter/internal/browser"
	"github.com/neboloop/wplace-painter/internal/coords"
	"github.com/neboloop/wplace-painter/internal/defaults"
	"github.com/neboloop/wplace-painter/internal/logging"
	"github.com/neboloop/wplace-painter/internal/wplace"
)

// PaintButtonSelector matches the site's "Paint" button that opens the
// color panel.
const PaintButtonSelector = ".disable-pinch-zoom > div.absolute .btn.btn-primary.btn-lg"

// Zoom is a map zoom level with a known on-screen pixel size.
type Zoom float64

const (
	Zoom15 Zoom = 15
	Zoom16 Zoom = 16
)

// PixelSize is the width of one canvas pixel in CSS pixels.
func (z Zoom) PixelSize() float64 {
	if z == Zoom16 {
		return 16
	}
	return 7.65
}

// ParseZoom reads "15" or "16". Empty selects Zoom15.
func ParseZoom(s string) (Zoom, error) {
	switch strings.TrimSpace(s) {
	case "", "15":
		return Zoom15, nil
	case "16":
		return Zoom16, nil
	}
	return 0, fmt.Errorf("unsupported zoom %q (want 15 or 16)", s)
}

const (
	dragPause  = 175 * time.Millisecond
	clickDelay = 50 * time.Millisecond
)

// Action is one pixel of a paint request.
type Action struct {
	Tile     [2]int `json:"tile"`
	Season   int    `json:"season"`
	ColorIdx int    `json:"colorIdx"`
	Pixel    [2]int `json:"pixel"`
}

// NewAction builds the request entry for one canvas pixel.
func NewAction(p coords.Pixel, colorID int) Action {
	return Action{
		Tile:     [2]int{p.TlX, p.TlY},
		ColorIdx: colorID,
		Pixel:    [2]int{p.PxX, p.PxY},
	}
}

// ScriptData is handed to the injected submit button.
type ScriptData struct {
	Button      string   `json:"btn"`
	Actions     []Action `json:"a"`
	Fingerprint string   `json:"f"`
	Resolved    []string `json:"r"`
}

// Encode returns the base64 JSON form embedded into the script.
func (d ScriptData) Encode() (string, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// PageConfig describes a painting page.
type PageConfig struct {
	Cookies []browser.Cookie
	ColorID int
	Script  ScriptData
	// Origin is the pixel the map is centered on after loading.
	Origin coords.Pixel
	Zoom   Zoom
}

// Page drives the map of one painting session.
type Page struct {
	page    browser.Page
	zoom    Zoom
	button  string
	current coords.Pixel

	sleep func(context.Context, time.Duration) error
	steps func() int
}

func pageScripts(cfg PageConfig) ([]string, error) {
	initScript, err := wplace.InitScript(cfg.ColorID)
	if err != nil {
		return nil, err
	}
	btn, err := defaults.Asset("paint_btn")
	if err != nil {
		return nil, err
	}
	data, err := cfg.Script.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode script data: %w", err)
	}
	return []string{initScript, strings.ReplaceAll(btn, "{{script_data}}", data)}, nil
}

// OpenPage opens a headed page at the share URL of cfg.Origin.
func (p *Painter) OpenPage(ctx context.Context, cfg PageConfig) (*Page, error) {
	scripts, err := pageScripts(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Zoom == 0 {
		cfg.Zoom = Zoom15
	}

	bp, err := p.Driver.NewPage(ctx, browser.PageOptions{
		Viewport:    browser.PaintViewport,
		InitScripts: scripts,
		Cookies:     cfg.Cookies,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	url := cfg.Origin.ShareURL(float64(cfg.Zoom))
	if _, err := bp.Navigate(ctx, browser.NavigateOptions{URL: url, WaitUntil: "networkidle", Timeout: browser.DefaultNavigateTimeout}); err != nil {
		bp.Close()
		return nil, fmt.Errorf("failed to open %s: %w", url, err)
	}

	button := cfg.Script.Button
	if button == "" {
		button = "paint-button-7685"
	}
	return &Page{
		page:    bp,
		zoom:    cfg.Zoom,
		button:  button,
		current: cfg.Origin,
		sleep:   p.sleep,
		steps:   func() int { return p.randInt(7, 15) },
	}, nil
}

// Current is the pixel under the viewport center.
func (pg *Page) Current() coords.Pixel {
	return pg.current
}

// OpenPanel clicks the paint button so pixels can be placed.
func (pg *Page) OpenPanel(ctx context.Context) error {
	ok, err := pg.page.Click(ctx, PaintButtonSelector)
	if err != nil {
		return fmt.Errorf("failed to click paint button: %w", err)
	}
	if !ok {
		logging.Warnf("[paint] no paint button found on the page")
		return nil
	}
	logging.Debugf("[paint] opened paint panel")
	return nil
}

// MoveBy drags the map so the center moves by dx, dy canvas pixels. Each
// axis is dragged separately.
func (pg *Page) MoveBy(ctx context.Context, dx, dy int) error {
	if dx != 0 {
		if err := pg.drag(ctx, dx, 0); err != nil {
			return err
		}
	}
	if dy != 0 {
		if err := pg.drag(ctx, 0, dy); err != nil {
			return err
		}
	}
	return nil
}

func (pg *Page) drag(ctx context.Context, dx, dy int) error {
	size := pg.zoom.PixelSize()
	x, y := pg.page.Viewport().Center()

	if err := pg.page.MouseUp(ctx); err != nil {
		return err
	}
	if err := pg.page.MouseMove(ctx, x, y, 1); err != nil {
		return err
	}
	if err := pg.page.MouseDown(ctx); err != nil {
		return err
	}
	if err := pg.page.MouseMove(ctx, x-float64(dx)*size, y-float64(dy)*size, pg.steps()); err != nil {
		return err
	}
	if err := pg.sleep(ctx, dragPause); err != nil {
		return err
	}
	if err := pg.page.MouseUp(ctx); err != nil {
		return err
	}
	pg.current = pg.current.Offset(dx, dy)
	return nil
}

// ClickCurrent places a pixel at the viewport center.
func (pg *Page) ClickCurrent(ctx context.Context) error {
	if err := pg.page.MouseUp(ctx); err != nil {
		return err
	}
	x, y := pg.page.Viewport().Center()
	return pg.page.MouseClick(ctx, x, y, clickDelay)
}

// Submit clicks the injected submit button and waits until the script
// removes it.
func (pg *Page) Submit(ctx context.Context) error {
	selector := "#" + pg.button
	ok, err := pg.page.Click(ctx, selector)
	if err != nil {
		return fmt.Errorf("failed to click submit button: %w", err)
	}
	if !ok {
		logging.Warnf("[paint] no submit button found on the page")
		return nil
	}
	logging.Debugf("[paint] clicked submit button %s", selector)
	if err := browser.WaitGone(ctx, pg.page, selector, browser.DefaultPollInterval); err != nil {
		return fmt.Errorf("waiting for submit: %w", err)
	}
	logging.Infof("[paint] submit completed")
	return nil
}

// Close disposes the page and its context.
func (pg *Page) Close() error {
	return pg.page.Close()
}
