// Package editor is the terminal configuration editor. Model holds the
// document and every state transition; ui.go only renders it.
package editor

import (
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/neboloop/wplace-painter/internal/config"
	"github.com/neboloop/wplace-painter/internal/coords"
	"github.com/neboloop/wplace-painter/internal/defaults"
	"github.com/neboloop/wplace-painter/internal/keyring"
	"github.com/neboloop/wplace-painter/internal/template"
)

// ErrTokenCleanup means the document was saved but a removed user's
// keychain token could not be deleted.
var ErrTokenCleanup = errors.New("config saved, keychain cleanup failed")

// Form is the editable text of one user.
type Form struct {
	Identifier  string
	Coords      string // Blue Marble form
	FileID      string
	ImagePath   string // imported on save
	Crop        string // "x,y,w,h", empty keeps the whole image
	Token       string
	CFClearance string
	Mode        config.Mode
	// Keychain stores the token in the OS keychain instead of the file.
	Keychain bool
}

type pendingImport struct {
	src  string
	crop image.Rectangle
}

// Model is the editor state.
type Model struct {
	Config   *config.Config
	Selected int

	imports  map[string]pendingImport // by identifier
	keychain map[string]string        // tokens to move into the keychain
	saved    map[string]bool          // identifiers in the document on disk

	// SetToken, GetToken and DeleteToken access the keychain.
	SetToken    func(identifier, token string) error
	GetToken    func(identifier string) (string, error)
	DeleteToken func(identifier string) error
	// KeychainAvailable reports whether tokens can be stored at all.
	KeychainAvailable func() bool
	// TemplatePath maps a file id to its image path.
	TemplatePath func(fileID string) string
}

// NewUser returns a user with empty fields.
func NewUser(identifier string) config.User {
	return config.User{Identifier: identifier}
}

// NewModel edits a copy of cfg. A nil cfg starts an empty document.
func NewModel(cfg *config.Config) *Model {
	if cfg == nil {
		cfg = &config.Config{}
	} else {
		cfg = cfg.Clone()
	}
	m := &Model{
		Config:       cfg,
		imports:      make(map[string]pendingImport),
		keychain:     make(map[string]string),
		SetToken:     keyring.SetToken,
		GetToken:     keyring.GetToken,
		DeleteToken:  keyring.DeleteToken,
		TemplatePath: defaults.TemplatePath,

		KeychainAvailable: keyring.Available,
	}
	m.markSaved()
	return m
}

func (m *Model) markSaved() {
	m.saved = make(map[string]bool, len(m.Config.Users))
	for _, u := range m.Config.Users {
		m.saved[u.Identifier] = true
	}
}

// Current returns the selected user.
func (m *Model) Current() (config.User, bool) {
	if m.Selected < 0 || m.Selected >= len(m.Config.Users) {
		return config.User{}, false
	}
	return m.Config.Users[m.Selected], true
}

// Select moves the selection, clamped to the user list.
func (m *Model) Select(i int) {
	m.Selected = max(0, min(i, len(m.Config.Users)-1))
}

func (m *Model) index(identifier string) int {
	for i, u := range m.Config.Users {
		if u.Identifier == identifier {
			return i
		}
	}
	return -1
}

// AddUser appends an empty user and selects it.
func (m *Model) AddUser(identifier string) error {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return errors.New("identifier must not be empty")
	}
	if m.index(identifier) >= 0 {
		return fmt.Errorf("user %q already exists", identifier)
	}
	m.Config.Users = append(m.Config.Users, NewUser(identifier))
	m.Selected = len(m.Config.Users) - 1
	return nil
}

// RemoveUser drops every user with identifier and reports whether any was
// removed.
func (m *Model) RemoveUser(identifier string) bool {
	users := m.Config.Users[:0]
	for _, u := range m.Config.Users {
		if u.Identifier != identifier {
			users = append(users, u)
		}
	}
	removed := len(users) != len(m.Config.Users)
	m.Config.Users = users
	delete(m.imports, identifier)
	delete(m.keychain, identifier)
	m.Select(m.Selected)
	return removed
}

// CycleBrowser switches to the next engine.
func (m *Model) CycleBrowser() config.Browser {
	cur := m.Config.Engine()
	for i, b := range config.Browsers {
		if b == cur {
			m.Config.Browser = config.Browsers[(i+1)%len(config.Browsers)]
			return m.Config.Browser
		}
	}
	m.Config.Browser = config.Chromium
	return m.Config.Browser
}

// FormFor fills a form from the selected user. A token that lives only in
// the keychain is shown with Keychain set.
func (m *Model) FormFor() Form {
	u, ok := m.Current()
	if !ok {
		return Form{Mode: config.ModeDiff}
	}
	f := Form{
		Identifier:  u.Identifier,
		Coords:      u.Template.Coords.BlueMarble(),
		FileID:      u.Template.FileID,
		Token:       u.Credentials.Token,
		CFClearance: u.Credentials.CFClearance,
		Mode:        u.PaintMode(),
	}
	if p, ok := m.imports[u.Identifier]; ok {
		f.ImagePath = p.src
		f.Crop = formatCrop(p.crop)
	}
	if tok, ok := m.keychain[u.Identifier]; ok {
		f.Token = tok
		f.Keychain = true
	} else if f.Token == "" && m.GetToken != nil {
		if tok, err := m.GetToken(u.Identifier); err == nil && tok != "" {
			f.Token = tok
			f.Keychain = true
		}
	}
	return f
}

// Apply writes a form into the selected user.
func (m *Model) Apply(f Form) error {
	if _, ok := m.Current(); !ok {
		return errors.New("no user selected")
	}
	u := &m.Config.Users[m.Selected]

	id := strings.TrimSpace(f.Identifier)
	if id == "" {
		return errors.New("identifier must not be empty")
	}
	if i := m.index(id); i >= 0 && i != m.Selected {
		return fmt.Errorf("user %q already exists", id)
	}
	pos, err := coords.Parse(f.Coords)
	if err != nil {
		return err
	}
	if !pos.Valid() {
		return fmt.Errorf("coords %s out of range", pos.BlueMarble())
	}
	if !f.Mode.Valid() {
		return fmt.Errorf("unknown mode %q", f.Mode)
	}
	crop, err := parseCrop(f.Crop)
	if err != nil {
		return err
	}
	if f.Keychain && strings.TrimSpace(f.Token) != "" {
		if _, pending := m.keychain[u.Identifier]; !pending && m.KeychainAvailable != nil && !m.KeychainAvailable() {
			return errors.New("OS keychain is not available; store the token in the config instead")
		}
	}

	old := u.Identifier
	delete(m.imports, old)
	delete(m.keychain, old)

	u.Identifier = id
	u.Template.Coords = pos
	u.Template.FileID = strings.TrimSpace(f.FileID)
	u.Credentials.CFClearance = strings.TrimSpace(f.CFClearance)
	u.Mode = f.Mode
	if u.Mode == config.ModeDiff {
		u.Mode = ""
	}

	token := strings.TrimSpace(f.Token)
	if f.Keychain && token != "" {
		m.keychain[id] = token
		u.Credentials.Token = ""
	} else {
		u.Credentials.Token = token
	}

	if src := strings.TrimSpace(f.ImagePath); src != "" {
		if u.Template.FileID == "" {
			u.Template.FileID = id
		}
		m.imports[id] = pendingImport{src: src, crop: crop}
	}
	return nil
}

// Save imports pending template images, moves tokens into the keychain
// and writes the document to path. Keychain tokens of users that were
// removed or renamed since the last save are deleted afterwards.
func (m *Model) Save(path string) error {
	if err := m.Config.Validate(); err != nil {
		return err
	}
	for _, u := range m.Config.Users {
		if _, ok := m.keychain[u.Identifier]; ok || u.Credentials.Token != "" {
			continue
		}
		if tok, err := m.GetToken(u.Identifier); err == nil && tok != "" {
			continue
		}
		return fmt.Errorf("%w: user %q has no token", config.ErrInvalid, u.Identifier)
	}

	for _, u := range m.Config.Users {
		p, ok := m.imports[u.Identifier]
		if !ok {
			continue
		}
		dst := m.TemplatePath(u.Template.FileID)
		if err := template.Import(p.src, dst, p.crop, false); err != nil {
			return fmt.Errorf("failed to import template for %s: %w", u.Identifier, err)
		}
		delete(m.imports, u.Identifier)
	}

	for id, tok := range m.keychain {
		if err := m.SetToken(id, tok); err != nil {
			return fmt.Errorf("failed to store token for %s: %w", id, err)
		}
		delete(m.keychain, id)
	}

	if err := config.Save(path, m.Config); err != nil {
		return err
	}

	current := make(map[string]bool, len(m.Config.Users))
	for _, u := range m.Config.Users {
		current[u.Identifier] = true
	}
	var errs []error
	for id := range m.saved {
		if current[id] {
			continue
		}
		if err := m.DeleteToken(id); err != nil {
			// retried on the next save
			current[id] = true
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	m.saved = current
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrTokenCleanup, errors.Join(errs...))
	}
	return nil
}

// TemplateExists reports whether the selected user's image is in place.
func (m *Model) TemplateExists(exists func(string) bool) bool {
	u, ok := m.Current()
	if !ok {
		return false
	}
	if _, pending := m.imports[u.Identifier]; pending {
		return true
	}
	return exists(m.TemplatePath(u.Template.FileID))
}

func parseCrop(s string) (image.Rectangle, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return image.Rectangle{}, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return image.Rectangle{}, fmt.Errorf("crop must be x,y,w,h: %q", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return image.Rectangle{}, fmt.Errorf("crop must be x,y,w,h: %q", s)
		}
		v[i] = n
	}
	if v[2] == 0 || v[3] == 0 {
		return image.Rectangle{}, fmt.Errorf("crop is empty: %q", s)
	}
	return image.Rect(v[0], v[1], v[0]+v[2], v[1]+v[3]), nil
}

func formatCrop(r image.Rectangle) string {
	if r.Empty() {
		return ""
	}
	return fmt.Sprintf("%d,%d,%d,%d", r.Min.X, r.Min.Y, r.Dx(), r.Dy())
}

// displayPath shortens a template path for the list view.
func displayPath(path string) string {
	return filepath.Join(filepath.Base(filepath.Dir(path)), filepath.Base(path))
}
