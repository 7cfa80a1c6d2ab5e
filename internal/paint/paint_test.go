package paint

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fogleman/gg"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/wplace-painter/internal/browser"
	"github.com/neboloop/wplace-painter/internal/config"
	"github.com/neboloop/wplace-painter/internal/coords"
	"github.com/neboloop/wplace-painter/internal/defaults"
	"github.com/neboloop/wplace-painter/internal/resolver"
	"github.com/neboloop/wplace-painter/internal/template"
	"github.com/neboloop/wplace-painter/internal/wplace"
)

var origin = coords.Pixel{TlX: 100, TlY: 200, PxX: 10, PxY: 20}

func validToken(t *testing.T) string {
	t.Helper()
	claims := config.TokenClaims{
		UserID: 42,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return tok
}

// writeTemplate stores a w x 1 row of c as templates/<id>.png in a fresh
// data dir.
func writeTemplate(t *testing.T, id string, w int, c color.Color) {
	t.Helper()
	defaults.SetDataDir(t.TempDir())
	t.Cleanup(func() { defaults.SetDataDir("") })

	img := image.NewNRGBA(image.Rect(0, 0, w, 1))
	for x := 0; x < w; x++ {
		img.Set(x, 0, c)
	}
	path := defaults.TemplatePath(id)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, gg.SavePNG(path, img))
}

type fakeAccount struct {
	mu    sync.Mutex
	infos []*wplace.UserInfo
	err   error
	calls int
}

func (a *fakeAccount) Me(ctx context.Context, cookies []browser.Cookie) (*wplace.UserInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	info := a.infos[0]
	if len(a.infos) > 1 {
		a.infos = a.infos[1:]
	}
	return info, nil
}

func (a *fakeAccount) Canvas(ctx context.Context, p1, p2 coords.Pixel) (*image.NRGBA, error) {
	w, h := p1.Size(p2)
	return image.NewNRGBA(image.Rect(0, 0, w, h)), nil
}

type fakeResolver struct{ err error }

func (r fakeResolver) Resolve(ctx context.Context) (resolver.Names, error) {
	if r.err != nil {
		return resolver.Names{}, r.err
	}
	return resolver.Names{PaintName: "P", PaintChunk: "https://wplace.live/_app/immutable/chunks/p.js", WorkerName: "W", WorkerChunk: "https://wplace.live/_app/immutable/chunks/w.js"}, nil
}

type fakeDriver struct {
	pages []*fakePage
}

func (d *fakeDriver) NewPage(ctx context.Context, opts browser.PageOptions) (browser.Page, error) {
	p := &fakePage{opts: opts}
	d.pages = append(d.pages, p)
	return p, nil
}

func (d *fakeDriver) Close() error { return nil }

type fakePage struct {
	opts    browser.PageOptions
	url     string
	events  []string
	clicks  int
	present map[string]bool
	closed  bool
}

func (p *fakePage) Navigate(ctx context.Context, opts browser.NavigateOptions) (*browser.Response, error) {
	p.url = opts.URL
	return &browser.Response{Status: 200}, nil
}

func (p *fakePage) Click(ctx context.Context, selector string) (bool, error) {
	p.events = append(p.events, "click "+selector)
	return true, nil
}

func (p *fakePage) Exists(ctx context.Context, selector string) (bool, error) {
	return p.present[selector], nil
}

func (p *fakePage) Viewport() browser.Viewport { return p.opts.Viewport }

func (p *fakePage) MouseMove(ctx context.Context, x, y float64, steps int) error {
	p.events = append(p.events, fmt.Sprintf("move %.2f,%.2f", x, y))
	return nil
}

func (p *fakePage) MouseDown(ctx context.Context) error {
	p.events = append(p.events, "down")
	return nil
}

func (p *fakePage) MouseUp(ctx context.Context) error {
	p.events = append(p.events, "up")
	return nil
}

func (p *fakePage) MouseClick(ctx context.Context, x, y float64, delay time.Duration) error {
	p.clicks++
	p.events = append(p.events, fmt.Sprintf("tap %.0f,%.0f", x, y))
	return nil
}

func (p *fakePage) Close() error {
	p.closed = true
	return nil
}

type harness struct {
	painter *Painter
	account *fakeAccount
	driver  *fakeDriver
	sleeps  []time.Duration
	user    config.User
}

func newHarness(t *testing.T, infos ...*wplace.UserInfo) *harness {
	h := &harness{
		account: &fakeAccount{infos: infos},
		driver:  &fakeDriver{},
		user: config.User{
			Identifier:  "alice",
			Template:    config.Template{FileID: "cat", Coords: origin},
			Credentials: config.Credentials{Token: validToken(t)},
		},
	}
	store := config.NewStore(&config.Config{Users: []config.User{h.user}})
	h.painter = New(h.account, h.driver, fakeResolver{}, store)
	h.painter.Rand = rand.New(rand.NewPCG(1, 2))
	h.painter.Now = func() time.Time { return time.Unix(1700000000, 0) }
	h.painter.Sleep = func(ctx context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return ctx.Err()
	}
	return h
}

func account(count float64) *wplace.UserInfo {
	return &wplace.UserInfo{ID: 42, Name: "alice", Droplets: 100, Charges: wplace.Charges{CooldownMs: 30000, Count: count, Max: 60}}
}

func TestCyclePaintsLargestGroup(t *testing.T) {
	writeTemplate(t, "cat", 20, color.Black)
	after := account(1)
	h := newHarness(t, account(30), after)

	wait, err := h.painter.Cycle(context.Background(), h.user)
	require.NoError(t, err)

	require.Len(t, h.driver.pages, 1)
	page := h.driver.pages[0]
	assert.True(t, page.closed)
	assert.False(t, page.opts.Headless)
	assert.Equal(t, browser.PaintViewport, page.opts.Viewport)
	assert.Equal(t, origin.ShareURL(15), page.url)
	assert.Equal(t, h.user.Credentials.Cookies(), page.opts.Cookies)

	require.Len(t, page.opts.InitScripts, 2)
	assert.Contains(t, page.opts.InitScripts[0], `"1"`)
	assert.NotContains(t, page.opts.InitScripts[1], "{{script_data}}")

	// 20 pixels in one row, the last one is always kept back
	assert.Equal(t, 19, page.clicks)
	assert.Equal(t, "click "+PaintButtonSelector, page.events[0])
	assert.Equal(t, "click #paint-button-1700000000", page.events[len(page.events)-1])

	remaining := after.Charges.Remaining()
	assert.True(t, wait <= remaining-10*time.Minute && wait > remaining-20*time.Minute, "wait %v", wait)
	assert.False(t, h.painter.Claims.Claimed(1))
	assert.Equal(t, 2, h.account.calls)
}

func TestCycleLowCharges(t *testing.T) {
	h := newHarness(t, account(5))
	wait, err := h.painter.Cycle(context.Background(), h.user)
	require.NoError(t, err)
	assert.Empty(t, h.driver.pages)
	assert.GreaterOrEqual(t, wait, 10*time.Minute)
}

func TestCycleTimedOut(t *testing.T) {
	writeTemplate(t, "cat", 20, color.Black)
	info := account(30)
	info.TimeoutUntil = time.Unix(1700000000, 0).Add(time.Hour)
	h := newHarness(t, info)

	wait, err := h.painter.Cycle(context.Background(), h.user)
	require.NoError(t, err)
	assert.Empty(t, h.driver.pages)
	assert.True(t, wait >= time.Hour+time.Minute && wait < time.Hour+3*time.Minute, "wait %v", wait)

	// an expired timeout does not block painting
	info = account(30)
	info.TimeoutUntil = time.Unix(1700000000, 0).Add(-time.Minute)
	assert.False(t, info.TimedOut(h.painter.now()))
}

func TestCycleSmallGroup(t *testing.T) {
	writeTemplate(t, "cat", 8, color.Black)
	h := newHarness(t, account(30))

	wait, err := h.painter.Cycle(context.Background(), h.user)
	require.NoError(t, err)
	assert.Empty(t, h.driver.pages)
	assert.True(t, wait >= 25*time.Minute && wait < 35*time.Minute, "wait %v", wait)
}

func TestCycleColorClaimedElsewhere(t *testing.T) {
	writeTemplate(t, "cat", 20, color.Black)
	h := newHarness(t, account(30))

	_, release, ok := h.painter.Claims.Pick([]template.ColorEntry{{ID: 1, Count: 1}}, func(int) bool { return true })
	require.True(t, ok)
	defer release()

	wait, err := h.painter.Cycle(context.Background(), h.user)
	require.NoError(t, err)
	assert.Empty(t, h.driver.pages)
	assert.True(t, wait >= 25*time.Minute && wait < 35*time.Minute)
}

func TestCycleFatalErrors(t *testing.T) {
	t.Run("banned", func(t *testing.T) {
		info := account(30)
		info.Banned = true
		h := newHarness(t, info)
		_, err := h.painter.Cycle(context.Background(), h.user)
		assert.ErrorIs(t, err, ErrShouldQuit)
	})
	t.Run("unauthorized", func(t *testing.T) {
		h := newHarness(t)
		h.account.err = fmt.Errorf("fetch: %w", wplace.ErrUnauthorized)
		_, err := h.painter.Cycle(context.Background(), h.user)
		assert.ErrorIs(t, err, ErrShouldQuit)
		assert.ErrorIs(t, err, wplace.ErrUnauthorized)
	})
	t.Run("expired token", func(t *testing.T) {
		h := newHarness(t, account(30))
		h.user.Credentials.Token = "not-a-jwt"
		_, err := h.painter.Cycle(context.Background(), h.user)
		assert.ErrorIs(t, err, ErrShouldQuit)
		assert.Zero(t, h.account.calls)
	})
	t.Run("site changed", func(t *testing.T) {
		h := newHarness(t, account(30))
		h.painter.Resolver = fakeResolver{err: fmt.Errorf("%w: paint", resolver.ErrPatternMissing)}
		_, err := h.painter.Cycle(context.Background(), h.user)
		assert.ErrorIs(t, err, ErrShouldQuit)
	})
	t.Run("missing template", func(t *testing.T) {
		defaults.SetDataDir(t.TempDir())
		t.Cleanup(func() { defaults.SetDataDir("") })
		h := newHarness(t, account(30))
		_, err := h.painter.Cycle(context.Background(), h.user)
		assert.ErrorIs(t, err, template.ErrTemplateMissing)
		assert.NotErrorIs(t, err, ErrShouldQuit)
	})
}

type fakePurchaser struct{ calls int }

func (f *fakePurchaser) Auto(ctx context.Context, user config.User, info *wplace.UserInfo) (bool, error) {
	f.calls++
	return true, nil
}

func TestCycleAutoPurchaseRefetches(t *testing.T) {
	h := newHarness(t, account(100), account(5))
	purchaser := &fakePurchaser{}
	h.painter.Purchaser = purchaser
	h.user.AutoPurchase = &config.AutoPurchase{Type: config.PurchaseCharges}

	_, err := h.painter.Cycle(context.Background(), h.user)
	require.NoError(t, err)
	assert.Equal(t, 1, purchaser.calls)
	assert.Equal(t, 2, h.account.calls)
	assert.Empty(t, h.driver.pages)
}

func TestPageMoveBy(t *testing.T) {
	h := newHarness(t)
	writeTemplate(t, "cat", 1, color.Black)
	page, err := h.painter.OpenPage(context.Background(), PageConfig{Origin: origin, ColorID: 1, Script: ScriptData{Button: "b"}})
	require.NoError(t, err)
	fp := h.driver.pages[0]

	require.NoError(t, page.MoveBy(context.Background(), 2, -1))
	assert.Equal(t, origin.Offset(2, -1), page.Current())
	assert.Equal(t, []string{
		"up", "move 640.00,360.00", "down", "move 624.70,360.00", "up",
		"up", "move 640.00,360.00", "down", "move 640.00,367.65", "up",
	}, fp.events)
	assert.Equal(t, []time.Duration{dragPause, dragPause}, h.sleeps)

	fp.events = nil
	require.NoError(t, page.MoveBy(context.Background(), 0, 0))
	require.NoError(t, page.ClickCurrent(context.Background()))
	assert.Equal(t, []string{"up", "tap 640,360"}, fp.events)
}

func TestPageMoveByAtZoom16(t *testing.T) {
	h := newHarness(t)
	writeTemplate(t, "cat", 1, color.Black)
	page, err := h.painter.OpenPage(context.Background(), PageConfig{Origin: origin, Zoom: Zoom16, Script: ScriptData{Button: "b"}})
	require.NoError(t, err)
	fp := h.driver.pages[0]

	require.NoError(t, page.MoveBy(context.Background(), 2, -1))
	assert.Equal(t, []string{
		"up", "move 640.00,360.00", "down", "move 608.00,360.00", "up",
		"up", "move 640.00,360.00", "down", "move 640.00,376.00", "up",
	}, fp.events)
}

func TestParseZoom(t *testing.T) {
	for in, want := range map[string]Zoom{"": Zoom15, "15": Zoom15, " 16 ": Zoom16} {
		z, err := ParseZoom(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, z, in)
	}
	_, err := ParseZoom("17")
	assert.Error(t, err)
	assert.InDelta(t, 7.65, Zoom15.PixelSize(), 1e-9)
	assert.InDelta(t, 16.0, Zoom16.PixelSize(), 1e-9)
}

func TestSubmitWaitsForButton(t *testing.T) {
	h := newHarness(t)
	writeTemplate(t, "cat", 1, color.Black)
	page, err := h.painter.OpenPage(context.Background(), PageConfig{Origin: origin, Script: ScriptData{Button: "go"}})
	require.NoError(t, err)

	fp := h.driver.pages[0]
	fp.present = map[string]bool{"#go": true}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, page.Submit(ctx), context.DeadlineExceeded)

	fp.present = nil
	require.NoError(t, page.Submit(context.Background()))
}

func TestScriptDataEncode(t *testing.T) {
	data := ScriptData{
		Button:      "paint-button-1",
		Actions:     []Action{NewAction(coords.Pixel{TlX: 1, TlY: 2, PxX: 3, PxY: 4}, 33)},
		Fingerprint: Fingerprint(42),
		Resolved:    []string{"a", "b", "c", "d"},
	}
	enc, err := data.Encode()
	require.NoError(t, err)
	assert.NotContains(t, enc, "{")
	assert.Len(t, Fingerprint(42), 32)
	assert.Equal(t, "73475cb40a568e8da8a045ced110137e", Fingerprint(42))
}

func TestRankAndPick(t *testing.T) {
	entries := []template.ColorEntry{
		{ID: 1, Name: "Black", Count: 50},
		{ID: 7, Name: "Red", Count: 80},
		{ID: 33, Name: "Dark Red", Paid: true, Count: 5},
		{ID: 34, Name: "Light Red", Paid: true, Count: 90},
		{ID: 5, Name: "White", Count: 0},
	}
	owns := func(id int) bool { return id != 34 }

	ranked := Rank(entries, owns)
	ids := make([]int, len(ranked))
	for i, e := range ranked {
		ids[i] = e.ID
	}
	assert.Equal(t, []int{33, 34, 7, 1, 5}, ids)

	c := NewClaims()
	first, releaseFirst, ok := c.Pick(entries, owns)
	require.True(t, ok)
	assert.Equal(t, 33, first.ID)

	second, releaseSecond, ok := c.Pick(entries, owns)
	require.True(t, ok)
	assert.Equal(t, 7, second.ID)

	releaseFirst()
	releaseFirst()
	assert.False(t, c.Claimed(33))
	assert.True(t, c.Claimed(7))
	releaseSecond()

	_, _, ok = c.Pick([]template.ColorEntry{{ID: 5, Count: 0}}, owns)
	assert.False(t, ok)
}

func TestLoopStopsOnFatalError(t *testing.T) {
	info := account(30)
	info.Banned = true
	h := newHarness(t, info)

	err := h.painter.Loop(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrShouldQuit)
	assert.Empty(t, h.sleeps)
}

func TestLoopNotifiesOnQuit(t *testing.T) {
	info := account(30)
	info.Banned = true
	h := newHarness(t, info)

	var quitID string
	var quitErr error
	h.painter.OnQuit = func(id string, err error) { quitID, quitErr = id, err }

	err := h.painter.Loop(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrShouldQuit)
	assert.Equal(t, "alice", quitID)
	assert.ErrorIs(t, quitErr, ErrShouldQuit)
}

func TestLoopRecoversPanic(t *testing.T) {
	// no queued user info makes the fake account panic
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	h.painter.Sleep = func(ctx context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		cancel()
		return ctx.Err()
	}

	err := h.painter.Loop(ctx, "alice")
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, h.sleeps, 1)
	assert.True(t, h.sleeps[0] >= time.Minute, "sleep %v", h.sleeps[0])
}

func TestLoopRetriesAfterError(t *testing.T) {
	h := newHarness(t)
	h.account.err = errors.New("network down")

	ctx, cancel := context.WithCancel(context.Background())
	h.painter.Sleep = func(ctx context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		if len(h.sleeps) == 2 {
			cancel()
		}
		return ctx.Err()
	}

	err := h.painter.Loop(ctx, "alice")
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, h.sleeps, 2)
	for _, d := range h.sleeps {
		assert.True(t, d >= time.Minute && d < 3*time.Minute, "sleep %v", d)
	}
	assert.Equal(t, 2, h.account.calls)
}

func TestLoopUserRemoved(t *testing.T) {
	h := newHarness(t)
	h.painter.Store.Set(&config.Config{Users: []config.User{{Identifier: "bob"}}})
	assert.NoError(t, h.painter.Loop(context.Background(), "alice"))
}

func TestRunAllCollectsQuitUsers(t *testing.T) {
	info := account(30)
	info.Banned = true
	h := newHarness(t, info)
	bob := h.user
	bob.Identifier = "bob"
	h.painter.Store.Set(&config.Config{Users: []config.User{h.user, bob}})

	err := h.painter.RunAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrShouldQuit)
	assert.True(t, strings.Contains(err.Error(), "alice") && strings.Contains(err.Error(), "bob"))
}
