// Package config loads and saves the painter configuration document
// (<data_dir>/config.json).
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/neboloop/wplace-painter/internal/coords"
)

var (
	// ErrNotFound means the configuration file does not exist.
	ErrNotFound = errors.New("config not found")
	// ErrInvalid means the configuration could not be parsed or failed
	// validation.
	ErrInvalid = errors.New("invalid config")
)

// IsConfigError reports whether err should send the user to the editor.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalid)
}

// LegacyIdentifier names the single user of a pre-multi-user document.
const LegacyIdentifier = "default"

// Browser selects the automation engine.
type Browser string

const (
	Chromium Browser = "chromium"
	Firefox  Browser = "firefox"
	WebKit   Browser = "webkit"
	// Chrome drives an installed Google Chrome over CDP.
	Chrome Browser = "chrome"
)

// Browsers lists the accepted values in editor order.
var Browsers = []Browser{Chromium, Firefox, WebKit, Chrome}

// Valid reports whether b is a known engine. Empty means Chromium.
func (b Browser) Valid() bool {
	switch b {
	case "", Chromium, Firefox, WebKit, Chrome:
		return true
	}
	return false
}

// Mode selects which template pixels are submitted.
type Mode string

const (
	// ModeDiff submits only pixels that differ from the live canvas.
	ModeDiff Mode = "diff"
	// ModeAll submits every non-transparent template pixel.
	ModeAll Mode = "all"
)

// Modes lists the accepted values in editor order.
var Modes = []Mode{ModeDiff, ModeAll}

// Valid reports whether m is a known mode. Empty means ModeDiff.
func (m Mode) Valid() bool {
	switch m {
	case "", ModeDiff, ModeAll:
		return true
	}
	return false
}

// PurchaseType is the product bought by auto purchase.
type PurchaseType string

const (
	PurchaseMaxCharges PurchaseType = "max_charges"
	PurchaseCharges    PurchaseType = "charges"
)

// Template places a template image on the canvas.
type Template struct {
	// FileID names templates/<file_id>.png. Empty selects template.png.
	FileID string       `json:"file_id"`
	Coords coords.Pixel `json:"coords"`
}

// Credentials are the site cookies of one account.
type Credentials struct {
	Token       string `json:"token"`
	CFClearance string `json:"cf_clearance"`
}

// AutoPurchase buys charges or max charges with droplets before painting.
type AutoPurchase struct {
	Type           PurchaseType `json:"type"`
	TargetMax      *int         `json:"target_max,omitempty"`
	RetainDroplets int          `json:"retain_droplets"`
}

// User is one painting account and its template.
type User struct {
	Identifier   string        `json:"identifier"`
	Template     Template      `json:"template"`
	Credentials  Credentials   `json:"credentials"`
	AutoPurchase *AutoPurchase `json:"auto_purchase,omitempty"`
	Mode         Mode          `json:"mode,omitempty"`
}

// PaintMode returns the effective paint mode.
func (u User) PaintMode() Mode {
	if u.Mode == "" {
		return ModeDiff
	}
	return u.Mode
}

// Config is the whole document.
type Config struct {
	Users    []User  `json:"users"`
	Browser  Browser `json:"browser"`
	Proxy    string  `json:"proxy,omitempty"`
	Headless bool    `json:"headless,omitempty"`
}

// Engine returns the effective browser engine.
func (c *Config) Engine() Browser {
	if c.Browser == "" {
		return Chromium
	}
	return c.Browser
}

// User finds a user by identifier.
func (c *Config) User(identifier string) (User, bool) {
	for _, u := range c.Users {
		if u.Identifier == identifier {
			return u, true
		}
	}
	return User{}, false
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Users = make([]User, len(c.Users))
	for i, u := range c.Users {
		if u.AutoPurchase != nil {
			ap := *u.AutoPurchase
			if ap.TargetMax != nil {
				v := *ap.TargetMax
				ap.TargetMax = &v
			}
			u.AutoPurchase = &ap
		}
		out.Users[i] = u
	}
	return &out
}

// document accepts both the multi-user and the legacy single-user layout.
type document struct {
	Config
	Identifier  string       `json:"identifier,omitempty"`
	Template    *Template    `json:"template,omitempty"`
	Credentials *Credentials `json:"credentials,omitempty"`
}

// Parse decodes a configuration document without validating it.
func Parse(data []byte) (*Config, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	cfg := doc.Config
	if cfg.Users == nil && doc.Template != nil {
		id := doc.Identifier
		if id == "" {
			id = LegacyIdentifier
		}
		u := User{Identifier: id, Template: *doc.Template}
		if doc.Credentials != nil {
			u.Credentials = *doc.Credentials
		}
		cfg.Users = []User{u}
	}
	return &cfg, nil
}

// Load reads and validates the configuration at path. A missing file yields
// an error matching ErrNotFound; a malformed or invalid one ErrInvalid.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as indented JSON, creating parent directories.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks structural invariants. Tokens are checked separately by
// ResolveTokens since they may live in the keychain.
func (c *Config) Validate() error {
	if len(c.Users) == 0 {
		return fmt.Errorf("%w: no users configured", ErrInvalid)
	}
	if !c.Browser.Valid() {
		return fmt.Errorf("%w: unknown browser %q", ErrInvalid, c.Browser)
	}
	seen := make(map[string]bool, len(c.Users))
	for i, u := range c.Users {
		if u.Identifier == "" {
			return fmt.Errorf("%w: user #%d has no identifier", ErrInvalid, i+1)
		}
		if seen[u.Identifier] {
			return fmt.Errorf("%w: duplicate user %q", ErrInvalid, u.Identifier)
		}
		seen[u.Identifier] = true

		if !u.Template.Coords.Valid() {
			return fmt.Errorf("%w: user %q: coords %s out of range", ErrInvalid, u.Identifier, u.Template.Coords.BlueMarble())
		}
		if !u.Mode.Valid() {
			return fmt.Errorf("%w: user %q: unknown mode %q", ErrInvalid, u.Identifier, u.Mode)
		}
		if ap := u.AutoPurchase; ap != nil {
			if ap.Type != PurchaseMaxCharges && ap.Type != PurchaseCharges {
				return fmt.Errorf("%w: user %q: unknown auto_purchase type %q", ErrInvalid, u.Identifier, ap.Type)
			}
			if ap.RetainDroplets < 0 {
				return fmt.Errorf("%w: user %q: retain_droplets must not be negative", ErrInvalid, u.Identifier)
			}
		}
	}
	return nil
}

// TokenLookup returns a stored token for a user identifier.
type TokenLookup func(identifier string) (string, error)

// ResolveTokens fills empty tokens through lookup. A user left without a
// token is a configuration error.
func (c *Config) ResolveTokens(lookup TokenLookup) error {
	for i := range c.Users {
		u := &c.Users[i]
		if u.Credentials.Token != "" {
			continue
		}
		if lookup != nil {
			if tok, err := lookup(u.Identifier); err == nil && tok != "" {
				u.Credentials.Token = tok
				continue
			}
		}
		return fmt.Errorf("%w: user %q has no token", ErrInvalid, u.Identifier)
	}
	return nil
}
