// Package paint runs the per-user paint loop: read the account, compare
// the template with the live canvas, pick a color and place as many pixels
// of it as the charges allow through a real browser page.
package paint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/neboloop/wplace-painter/internal/browser"
	"github.com/neboloop/wplace-painter/internal/config"
	"github.com/neboloop/wplace-painter/internal/coords"
	"github.com/neboloop/wplace-painter/internal/defaults"
	"github.com/neboloop/wplace-painter/internal/logging"
	"github.com/neboloop/wplace-painter/internal/palette"
	"github.com/neboloop/wplace-painter/internal/resolver"
	"github.com/neboloop/wplace-painter/internal/template"
	"github.com/neboloop/wplace-painter/internal/wplace"
)

// ErrShouldQuit stops a user's loop for good: banned account, rejected
// credentials or a site change the painter does not understand.
var ErrShouldQuit = errors.New("paint loop should quit")

// MinCharges is the smallest budget worth opening a page for.
const MinCharges = 10

// Account reads account state and canvas pixels.
type Account interface {
	Me(ctx context.Context, cookies []browser.Cookie) (*wplace.UserInfo, error)
	Canvas(ctx context.Context, p1, p2 coords.Pixel) (*image.NRGBA, error)
}

// Resolver finds the site's paint entry points.
type Resolver interface {
	Resolve(ctx context.Context) (resolver.Names, error)
}

// Purchaser runs auto purchase for a user.
type Purchaser interface {
	Auto(ctx context.Context, user config.User, info *wplace.UserInfo) (bool, error)
}

// Painter holds what the paint loops of all users share.
type Painter struct {
	Account  Account
	Driver   browser.Driver
	Resolver Resolver
	// Purchaser is optional.
	Purchaser Purchaser
	Store     *config.Store
	Claims    *Claims
	Zoom      Zoom
	// OnQuit is called when a user's loop stops for good.
	OnQuit func(identifier string, err error)

	// Sleep, Rand and Now are replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
	Rand  *rand.Rand
	Now   func() time.Time

	randMu sync.Mutex
}

// New returns a painter with real clocks and randomness.
func New(account Account, driver browser.Driver, res Resolver, store *config.Store) *Painter {
	return &Painter{
		Account:  account,
		Driver:   driver,
		Resolver: res,
		Store:    store,
		Claims:   NewClaims(),
		Zoom:     Zoom15,
	}
}

func (p *Painter) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (p *Painter) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// uniform returns a random duration in [lo, hi).
func (p *Painter) uniform(lo, hi time.Duration) time.Duration {
	p.randMu.Lock()
	defer p.randMu.Unlock()
	f := rand.Float64
	if p.Rand != nil {
		f = p.Rand.Float64
	}
	return lo + time.Duration(f()*float64(hi-lo))
}

// randInt returns a random int in [lo, hi].
func (p *Painter) randInt(lo, hi int) int {
	p.randMu.Lock()
	defer p.randMu.Unlock()
	n := rand.IntN
	if p.Rand != nil {
		n = p.Rand.IntN
	}
	return lo + n(hi-lo+1)
}

func (p *Painter) claims() *Claims {
	if p.Claims == nil {
		p.Claims = NewClaims()
	}
	return p.Claims
}

// UserInfo fetches the account and logs its budget. Banned accounts and
// rejected credentials yield ErrShouldQuit.
func (p *Painter) UserInfo(ctx context.Context, user config.User) (*wplace.UserInfo, error) {
	log := logging.For(user.Identifier)

	info, err := p.Account.Me(ctx, user.Credentials.Cookies())
	if err != nil {
		if errors.Is(err, wplace.ErrUnauthorized) {
			return nil, fmt.Errorf("%w: %w", ErrShouldQuit, err)
		}
		return nil, err
	}
	owned := info.OwnedColors()
	log.Debug("fetched user info",
		"id", info.ID,
		"name", info.Name,
		"flags", len(info.OwnFlags()),
		"colors", lo.Map(owned, func(c palette.Color, _ int) string { return c.Name }))
	log.Info("account state",
		"level", int(info.Level),
		"next_level_in", info.NextLevelPixels(),
		"owned_colors", len(owned),
		"droplets", info.Droplets,
		"charges", fmt.Sprintf("%.2f/%d", info.Charges.Count, info.Charges.Max),
		"remaining", info.Charges.Remaining().Round(time.Second))
	if info.Banned {
		log.Warn("user is banned from painting")
		return nil, fmt.Errorf("%w: user %s is banned", ErrShouldQuit, user.Identifier)
	}
	return info, nil
}

// Result is a template compared with the live canvas.
type Result struct {
	Template *template.Template
	Canvas   *image.NRGBA
	Entries  []template.ColorEntry
}

// Diff loads the user's template, downloads the canvas under it and
// compares both according to the user's mode.
func (p *Painter) Diff(ctx context.Context, user config.User) (*Result, error) {
	tpl, err := template.Load(defaults.TemplatePath(user.Template.FileID), user.Template.Coords)
	if err != nil {
		return nil, err
	}
	canvas, err := p.Account.Canvas(ctx, tpl.Origin, tpl.End())
	if err != nil {
		return nil, err
	}
	entries := template.Compare(tpl.Image, canvas, user.PaintMode() == config.ModeAll)
	return &Result{Template: tpl, Canvas: canvas, Entries: entries}, nil
}

// Fingerprint is the per-account value the site expects with paint
// requests.
func Fingerprint(userID int) string {
	sum := sha256.Sum256([]byte(strconv.Itoa(userID)))
	return hex.EncodeToString(sum[:])[:32]
}

// Cycle runs one paint cycle and returns how long to wait before the next.
func (p *Painter) Cycle(ctx context.Context, user config.User) (time.Duration, error) {
	log := logging.For(user.Identifier)

	if config.TokenExpired(user.Credentials.Token, config.DefaultExpiryMargin) {
		log.Warn("session token expired; refresh it with `wpaint config`")
		return 0, fmt.Errorf("%w: token of %s expired", ErrShouldQuit, user.Identifier)
	}

	info, err := p.UserInfo(ctx, user)
	if err != nil {
		return 0, err
	}
	if now := p.now(); info.TimedOut(now) {
		log.Warn("account is in a painting timeout", "until", info.TimeoutUntil.Local().Format(time.DateTime))
		return info.TimeoutUntil.Sub(now) + p.uniform(time.Minute, 3*time.Minute), nil
	}

	if p.Purchaser != nil && user.AutoPurchase != nil {
		bought, err := p.Purchaser.Auto(ctx, user, info)
		switch {
		case errors.Is(err, wplace.ErrUnauthorized):
			return 0, fmt.Errorf("%w: %w", ErrShouldQuit, err)
		case err != nil:
			log.Warn("auto purchase failed", "error", err)
		case bought:
			if info, err = p.UserInfo(ctx, user); err != nil {
				return 0, err
			}
		}
	}

	if info.Charges.Count < MinCharges {
		log.Warn("not enough charges to paint", "charges", fmt.Sprintf("%.2f", info.Charges.Count))
		return max(10*time.Minute, info.Charges.Remaining()-p.uniform(10*time.Minute, 20*time.Minute)), nil
	}

	wait, ok, err := p.paintPixels(ctx, user, info, log)
	if err != nil {
		return 0, err
	}
	if !ok || wait < 0 {
		wait = p.uniform(25*time.Minute, 35*time.Minute)
	}
	return wait, nil
}

func (p *Painter) paintPixels(ctx context.Context, user config.User, info *wplace.UserInfo, log *slog.Logger) (time.Duration, bool, error) {
	names, err := p.Resolver.Resolve(ctx)
	if err != nil {
		if errors.Is(err, resolver.ErrPatternMissing) {
			return 0, false, fmt.Errorf("%w: %w", ErrShouldQuit, err)
		}
		return 0, false, fmt.Errorf("failed to resolve paint functions: %w", err)
	}
	log.Debug("resolved paint functions", "names", names.Slice())

	res, err := p.Diff(ctx, user)
	if err != nil {
		return 0, false, err
	}

	entry, release, ok := p.claims().Pick(res.Entries, info.OwnsColor)
	if !ok {
		busy := lo.FilterMap(res.Entries, func(e template.ColorEntry, _ int) (string, bool) {
			return e.Name, e.Count > 0 && p.claims().Claimed(e.ID)
		})
		log.Warn("no available colors to paint the template", "claimed_by_others", busy)
		return 0, false, nil
	}
	defer release()
	log.Info("selected color", "color", entry.Name, "pixels", entry.Count)

	group := template.GroupAdjacent(entry.Pixels)[0]
	n := min(int(info.Charges.Count)-p.randInt(5, 10), len(group)-1)
	if n < MinCharges {
		log.Warn("not enough pixels to paint", "group", len(group), "charges", int(info.Charges.Count))
		return 0, false, nil
	}
	log.Info("preparing to paint", "pixels", n)

	actions := make([]Action, n)
	for i, pt := range group[:n] {
		actions[i] = NewAction(res.Template.At(pt), entry.ID)
	}
	page, err := p.OpenPage(ctx, PageConfig{
		Cookies: user.Credentials.Cookies(),
		ColorID: entry.ID,
		Script: ScriptData{
			Button:      fmt.Sprintf("paint-button-%d", p.now().Unix()),
			Actions:     actions,
			Fingerprint: Fingerprint(info.ID),
			Resolved:    names.Slice(),
		},
		Origin: res.Template.At(group[0]),
		Zoom:   p.Zoom,
	})
	if err != nil {
		return 0, false, err
	}
	defer page.Close()

	if err := p.pause(ctx, log, "painting"); err != nil {
		return 0, false, err
	}
	if err := page.OpenPanel(ctx); err != nil {
		return 0, false, err
	}

	prev := group[0]
	for i, cur := range group[:n] {
		if err := page.MoveBy(ctx, cur.X-prev.X, cur.Y-prev.Y); err != nil {
			return 0, false, fmt.Errorf("failed to move map: %w", err)
		}
		if err := page.ClickCurrent(ctx); err != nil {
			return 0, false, fmt.Errorf("failed to click pixel: %w", err)
		}
		log.Debug("clicked pixel", "n", i+1, "at", page.Current().String())
		prev = cur
	}

	if err := p.pause(ctx, log, "submitting"); err != nil {
		return 0, false, err
	}
	if err := page.Submit(ctx); err != nil {
		return 0, false, err
	}
	release()

	info, err = p.UserInfo(ctx, user)
	if err != nil {
		return 0, false, err
	}
	wait := info.Charges.Remaining() - p.uniform(10*time.Minute, 20*time.Minute)
	log.Info("next painting session", "in", wait.Round(time.Second))
	return wait, true, nil
}

func (p *Painter) pause(ctx context.Context, log *slog.Logger, before string) error {
	d := p.uniform(3*time.Second, 10*time.Second)
	log.Info("waiting before "+before, "delay", d.Round(10*time.Millisecond))
	return p.sleep(ctx, d)
}
