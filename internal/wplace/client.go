// Package wplace talks to the wplace.live backend: the account endpoint,
// which is read through a browser page so the clearance cookie applies,
// and the public canvas tiles.
package wplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"github.com/neboloop/wplace-painter/internal/browser"
	"github.com/neboloop/wplace-painter/internal/coords"
	"github.com/neboloop/wplace-painter/internal/defaults"
	"github.com/neboloop/wplace-painter/internal/logging"
)

const (
	// BackendURL is the API host.
	BackendURL = "https://backend.wplace.live"
	// SiteURL is the page host.
	SiteURL = "https://wplace.live"

	tileAttempts    = 3
	maxTileRequests = 4
)

// ErrUnauthorized means the site rejected the session cookies.
var ErrUnauthorized = errors.New("unauthorized: refresh the token and cf_clearance with `wpaint config`")

// Client reads account and canvas data.
type Client struct {
	// Driver opens the pages used for account requests.
	Driver browser.Driver
	// HTTP downloads tiles. Defaults to http.DefaultClient.
	HTTP *http.Client
	// Backend overrides BackendURL.
	Backend string
	// RetryDelay is the pause between tile attempts.
	RetryDelay time.Duration
}

func (c *Client) backend() string {
	if c.Backend != "" {
		return strings.TrimRight(c.Backend, "/")
	}
	return BackendURL
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

// InitScript returns the page init script with colorID selected.
func InitScript(colorID int) (string, error) {
	script, err := defaults.Asset("page_init")
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(script, "{{color_id}}", strconv.Itoa(colorID)), nil
}

// Me fetches the account behind cookies.
func (c *Client) Me(ctx context.Context, cookies []browser.Cookie) (*UserInfo, error) {
	if c.Driver == nil {
		return nil, fmt.Errorf("no browser driver")
	}
	script, err := InitScript(1)
	if err != nil {
		return nil, err
	}

	resp, err := browser.FetchText(ctx, c.Driver, c.backend()+"/me", browser.PageOptions{
		InitScripts: []string{script},
		Cookies:     cookies,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}
	switch {
	case resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden:
		return nil, fmt.Errorf("%w (HTTP %d)", ErrUnauthorized, resp.Status)
	case resp.Status != http.StatusOK:
		return nil, fmt.Errorf("failed to fetch user info: HTTP %d", resp.Status)
	}

	var info UserInfo
	if err := json.Unmarshal([]byte(resp.Body), &info); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}
	return &info, nil
}

// TileURL returns the PNG address of one canvas tile.
func (c *Client) TileURL(t coords.Tile) string {
	return fmt.Sprintf("%s/files/s0/tiles/%d/%d.png", c.backend(), t.X, t.Y)
}

// Tile downloads one tile. A tile nobody has painted yet does not exist
// and comes back as nil without error.
func (c *Client) Tile(ctx context.Context, t coords.Tile) (image.Image, error) {
	delay := c.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}
	backoff := retry.WithMaxRetries(tileAttempts-1, retry.NewConstant(delay))

	var img image.Image
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		img, err = c.fetchTile(ctx, t)
		if err != nil {
			logging.Debugf("[wplace] tile %d,%d: %v", t.X, t.Y, err)
		}
		return err
	})
	return img, err
}

func (c *Client) fetchTile(ctx context.Context, t coords.Tile) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.TileURL(t), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", browser.UserAgent)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, retry.RetryableError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, retry.RetryableError(fmt.Errorf("tile %d,%d: HTTP %d", t.X, t.Y, resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("tile %d,%d: HTTP %d", t.X, t.Y, resp.StatusCode)
	}

	img, err := png.Decode(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, retry.RetryableError(fmt.Errorf("tile %d,%d: %w", t.X, t.Y, err))
	}
	return img, nil
}

// Canvas downloads the rectangle spanned by two canvas pixels, inclusive.
// The result's top-left pixel is the rectangle's top-left corner.
func (c *Client) Canvas(ctx context.Context, p1, p2 coords.Pixel) (*image.NRGBA, error) {
	c1, _ := p1.Normalize(p2)
	w, h := p1.Size(p2)
	origin := c1.Abs()

	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	tiles := p1.Tiles(p2)
	imgs := make([]image.Image, len(tiles))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxTileRequests)
	for i, t := range tiles {
		g.Go(func() error {
			img, err := c.Tile(gctx, t)
			if err != nil {
				return err
			}
			imgs[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to download canvas: %w", err)
	}

	for i, t := range tiles {
		if imgs[i] == nil {
			continue
		}
		// tile rectangle relative to out
		dst := image.Rect(0, 0, coords.TileSize, coords.TileSize).
			Add(image.Pt(t.X*coords.TileSize-origin.X, t.Y*coords.TileSize-origin.Y))
		src := imgs[i].Bounds().Min
		draw.Draw(out, dst, imgs[i], src, draw.Src)
	}
	logging.Debugf("[wplace] downloaded %d tiles for %dx%d canvas", len(tiles), w, h)
	return out, nil
}
