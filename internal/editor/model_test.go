package editor

import (
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fogleman/gg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/wplace-painter/internal/config"
	"github.com/neboloop/wplace-painter/internal/coords"
)

func testModel(t *testing.T, cfg *config.Config) (*Model, map[string]string) {
	t.Helper()
	dir := t.TempDir()
	stored := map[string]string{}
	m := NewModel(cfg)
	m.TemplatePath = func(id string) string {
		if id == "" {
			return filepath.Join(dir, "template.png")
		}
		return filepath.Join(dir, "templates", id+".png")
	}
	m.SetToken = func(id, tok string) error {
		stored[id] = tok
		return nil
	}
	m.GetToken = func(id string) (string, error) {
		if tok, ok := stored[id]; ok {
			return tok, nil
		}
		return "", errors.New("not found")
	}
	m.DeleteToken = func(id string) error {
		delete(stored, id)
		return nil
	}
	m.KeychainAvailable = func() bool { return true }
	return m, stored
}

func validForm(id string) Form {
	return Form{
		Identifier: id,
		Coords:     "(Tl X: 1674, Tl Y: 857, Px X: 12, Px Y: 999)",
		Token:      "tok-" + id,
		Mode:       config.ModeDiff,
	}
}

func TestAddSelectRemove(t *testing.T) {
	m, _ := testModel(t, nil)
	require.NoError(t, m.AddUser("alice"))
	require.NoError(t, m.AddUser(" bob "))
	assert.Equal(t, 1, m.Selected)

	assert.Error(t, m.AddUser("bob"))
	assert.Error(t, m.AddUser("  "))

	cur, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, "bob", cur.Identifier)
	assert.Equal(t, NewUser("bob"), cur)

	m.Select(10)
	assert.Equal(t, 1, m.Selected)
	m.Select(-3)
	assert.Equal(t, 0, m.Selected)

	m.Select(1)
	assert.True(t, m.RemoveUser("bob"))
	assert.False(t, m.RemoveUser("bob"))
	assert.Equal(t, 0, m.Selected)
	require.Len(t, m.Config.Users, 1)

	assert.True(t, m.RemoveUser("alice"))
	_, ok = m.Current()
	assert.False(t, ok)
}

func TestNewModelCopiesConfig(t *testing.T) {
	cfg := &config.Config{Users: []config.User{{Identifier: "alice"}}}
	m, _ := testModel(t, cfg)
	require.NoError(t, m.AddUser("bob"))
	assert.Len(t, cfg.Users, 1)
}

func TestApply(t *testing.T) {
	m, _ := testModel(t, nil)
	require.NoError(t, m.AddUser("alice"))

	f := validForm("alice")
	f.FileID = " cat "
	f.CFClearance = "cf"
	f.Mode = config.ModeAll
	require.NoError(t, m.Apply(f))

	u, _ := m.Current()
	assert.Equal(t, coords.Pixel{TlX: 1674, TlY: 857, PxX: 12, PxY: 999}, u.Template.Coords)
	assert.Equal(t, "cat", u.Template.FileID)
	assert.Equal(t, "tok-alice", u.Credentials.Token)
	assert.Equal(t, "cf", u.Credentials.CFClearance)
	assert.Equal(t, config.ModeAll, u.Mode)

	back := m.FormFor()
	assert.Equal(t, "(Tl X: 1674, Tl Y: 857, Px X: 12, Px Y: 999)", back.Coords)
	assert.Equal(t, config.ModeAll, back.Mode)

	f.Mode = config.ModeDiff
	require.NoError(t, m.Apply(f))
	u, _ = m.Current()
	assert.Empty(t, u.Mode, "default mode is not written")
}

func TestApplyRejects(t *testing.T) {
	m, _ := testModel(t, nil)
	require.NoError(t, m.AddUser("alice"))
	require.NoError(t, m.AddUser("bob"))

	tests := map[string]func(f *Form){
		"duplicate identifier": func(f *Form) { f.Identifier = "alice" },
		"empty identifier":     func(f *Form) { f.Identifier = " " },
		"bad coords":           func(f *Form) { f.Coords = "1,2,3,4" },
		"pixel out of range":   func(f *Form) { f.Coords = "(Tl X: 1, Tl Y: 2, Px X: 1000, Px Y: 4)" },
		"bad mode":             func(f *Form) { f.Mode = "some" },
		"bad crop":             func(f *Form) { f.Crop = "1,2,3" },
		"empty crop":           func(f *Form) { f.Crop = "0,0,0,5" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			f := validForm("bob")
			mutate(&f)
			assert.Error(t, m.Apply(f))
			u, _ := m.Current()
			assert.Equal(t, "bob", u.Identifier)
		})
	}
}

func TestCycleBrowser(t *testing.T) {
	m, _ := testModel(t, nil)
	assert.Equal(t, config.Firefox, m.CycleBrowser())
	assert.Equal(t, config.WebKit, m.CycleBrowser())
	assert.Equal(t, config.Chrome, m.CycleBrowser())
	assert.Equal(t, config.Chromium, m.CycleBrowser())
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{237, 28, 36, 255})
		}
	}
	require.NoError(t, gg.SavePNG(path, img))
}

func TestSaveImportsAndWrites(t *testing.T) {
	m, _ := testModel(t, nil)
	src := filepath.Join(t.TempDir(), "drawing.png")
	writePNG(t, src, 4, 4)

	require.NoError(t, m.AddUser("alice"))
	f := validForm("alice")
	f.ImagePath = src
	f.Crop = "1,1,2,2"
	require.NoError(t, m.Apply(f))

	u, _ := m.Current()
	assert.Equal(t, "alice", u.Template.FileID, "file id defaults to the identifier")
	assert.Equal(t, "1,1,2,2", m.FormFor().Crop)
	assert.True(t, m.TemplateExists(func(string) bool { return false }))

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, m.Save(path))

	got, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, m.Config, got)

	dst := m.TemplatePath("alice")
	require.FileExists(t, dst)
	img, err := gg.LoadPNG(dst)
	require.NoError(t, err)
	_, _, _, a := img.At(0, 0).RGBA()
	assert.Zero(t, a, "outside the crop is transparent")
	_, _, _, a = img.At(1, 1).RGBA()
	assert.NotZero(t, a)
}

func TestSaveKeepsExistingTemplate(t *testing.T) {
	m, _ := testModel(t, nil)
	require.NoError(t, m.AddUser("alice"))
	f := validForm("alice")
	f.FileID = "cat"
	f.ImagePath = filepath.Join(t.TempDir(), "new.png")
	writePNG(t, f.ImagePath, 8, 8)
	require.NoError(t, m.Apply(f))

	dst := m.TemplatePath("cat")
	require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0755))
	writePNG(t, dst, 2, 2)

	require.NoError(t, m.Save(filepath.Join(t.TempDir(), "config.json")))
	img, err := gg.LoadPNG(dst)
	require.NoError(t, err)
	assert.Equal(t, 2, img.Bounds().Dx())
}

func TestSaveKeychain(t *testing.T) {
	m, stored := testModel(t, nil)
	require.NoError(t, m.AddUser("alice"))
	f := validForm("alice")
	f.Keychain = true
	require.NoError(t, m.Apply(f))

	form := m.FormFor()
	assert.True(t, form.Keychain)
	assert.Equal(t, "tok-alice", form.Token)

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, m.Save(path))
	assert.Equal(t, "tok-alice", stored["alice"])

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "tok-alice")

	// the keychain still holds the token on the next save
	require.NoError(t, m.Save(path))
}

func TestSaveRejectsInvalid(t *testing.T) {
	m, _ := testModel(t, nil)
	path := filepath.Join(t.TempDir(), "config.json")
	assert.ErrorIs(t, m.Save(path), config.ErrInvalid)

	require.NoError(t, m.AddUser("alice"))
	assert.ErrorIs(t, m.Save(path), config.ErrInvalid, "user without token")
	assert.NoFileExists(t, path)
}

func TestUIAddAndSave(t *testing.T) {
	m, _ := testModel(t, nil)
	path := filepath.Join(t.TempDir(), "config.json")
	u := newUI(m, path)

	press := func(keys ...tea.KeyMsg) {
		for _, k := range keys {
			u.Update(k)
		}
	}
	runes := func(s string) tea.KeyMsg { return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)} }

	press(runes("a"), runes("alice"), tea.KeyMsg{Type: tea.KeyEnter})
	require.Equal(t, screenForm, u.screen)

	u.inputs[fieldCoords].SetValue("(Tl X: 1, Tl Y: 2, Px X: 3, Px Y: 4)")
	u.inputs[fieldToken].SetValue("secret")
	u.focus = fieldMode
	press(runes(" "), tea.KeyMsg{Type: tea.KeyEnter})
	require.Equal(t, screenList, u.screen, "status: %v", u.err)

	press(runes("s"))
	require.NoError(t, u.err)
	assert.True(t, u.saved)

	got, err := config.Load(path)
	require.NoError(t, err)
	require.Len(t, got.Users, 1)
	assert.Equal(t, config.ModeAll, got.Users[0].Mode)
	assert.Contains(t, u.View(), "alice")
}

func TestSaveDeletesRemovedUserToken(t *testing.T) {
	m, stored := testModel(t, nil)
	path := filepath.Join(t.TempDir(), "config.json")

	require.NoError(t, m.AddUser("alice"))
	require.NoError(t, m.Apply(validForm("alice")))
	require.NoError(t, m.AddUser("bob"))
	f := validForm("bob")
	f.Token = "bob-secret"
	f.Keychain = true
	require.NoError(t, m.Apply(f))
	require.NoError(t, m.Save(path))
	require.Equal(t, "bob-secret", stored["bob"])

	require.True(t, m.RemoveUser("bob"))
	require.NoError(t, m.Save(path))
	assert.NotContains(t, stored, "bob")

	// a new account reusing the identifier does not inherit the old token
	require.NoError(t, m.AddUser("bob"))
	f = validForm("bob")
	f.Token = ""
	require.NoError(t, m.Apply(f))
	assert.ErrorIs(t, m.Save(path), config.ErrInvalid)
}

func TestSaveDeletesTokenOfRenamedUser(t *testing.T) {
	cfg := &config.Config{Users: []config.User{{
		Identifier: "alice",
		Template:   config.Template{Coords: coords.Pixel{TlX: 1, TlY: 2, PxX: 3, PxY: 4}},
	}}}
	m, stored := testModel(t, cfg)
	stored["alice"] = "kept-in-keychain"

	form := m.FormFor()
	require.True(t, form.Keychain)
	form.Identifier = "alice2"
	require.NoError(t, m.Apply(form))

	require.NoError(t, m.Save(filepath.Join(t.TempDir(), "config.json")))
	assert.Equal(t, map[string]string{"alice2": "kept-in-keychain"}, stored)
}

func TestFormForShowsKeychainToken(t *testing.T) {
	cfg := &config.Config{Users: []config.User{
		{Identifier: "alice"},
		{Identifier: "bob", Credentials: config.Credentials{Token: "in-file"}},
	}}
	m, stored := testModel(t, cfg)
	stored["alice"] = "from-keychain"
	stored["bob"] = "stale"

	form := m.FormFor()
	assert.True(t, form.Keychain)
	assert.Equal(t, "from-keychain", form.Token)

	m.Select(1)
	form = m.FormFor()
	assert.False(t, form.Keychain)
	assert.Equal(t, "in-file", form.Token)
}

func TestSaveTokenCleanupFailure(t *testing.T) {
	m, _ := testModel(t, nil)
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, m.AddUser("alice"))
	require.NoError(t, m.Apply(validForm("alice")))
	require.NoError(t, m.AddUser("bob"))
	require.NoError(t, m.Apply(validForm("bob")))
	require.NoError(t, m.Save(path))

	calls := 0
	m.DeleteToken = func(id string) error {
		calls++
		if calls == 1 {
			return errors.New("keychain locked")
		}
		return nil
	}
	m.RemoveUser("bob")
	err := m.Save(path)
	assert.ErrorIs(t, err, ErrTokenCleanup)
	assert.FileExists(t, path)

	// retried on the next save
	require.NoError(t, m.Save(path))
	assert.Equal(t, 2, calls)
}

func TestApplyKeychainUnavailable(t *testing.T) {
	m, _ := testModel(t, nil)
	m.KeychainAvailable = func() bool { return false }
	require.NoError(t, m.AddUser("alice"))

	f := validForm("alice")
	f.Keychain = true
	assert.Error(t, m.Apply(f))

	f.Keychain = false
	require.NoError(t, m.Apply(f))
	assert.Equal(t, "tok-alice", m.Config.Users[0].Credentials.Token)
}
