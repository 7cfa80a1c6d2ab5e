package browser

import (
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/playwright-community/playwright-go"
)

// Cookie represents a browser cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	URL      string  `json:"url,omitempty"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"` // "Strict", "Lax", "None"
}

func (c Cookie) validate() error {
	if c.Name == "" {
		return fmt.Errorf("cookie name is required")
	}
	// Must have either URL or domain+path
	hasURL := c.URL != ""
	hasDomainPath := c.Domain != "" && c.Path != ""
	if !hasURL && !hasDomainPath {
		return fmt.Errorf("cookie %s requires url, or domain+path", c.Name)
	}
	return nil
}

// playwright converts the cookie for BrowserContext.AddCookies.
func (c Cookie) playwright() (playwright.OptionalCookie, error) {
	if err := c.validate(); err != nil {
		return playwright.OptionalCookie{}, err
	}

	var sameSite *playwright.SameSiteAttribute
	switch c.SameSite {
	case "Strict":
		sameSite = playwright.SameSiteAttributeStrict
	case "None":
		sameSite = playwright.SameSiteAttributeNone
	case "Lax", "":
		sameSite = playwright.SameSiteAttributeLax
	}

	pc := playwright.OptionalCookie{
		Name:     c.Name,
		Value:    c.Value,
		SameSite: sameSite,
		HttpOnly: playwright.Bool(c.HTTPOnly),
		Secure:   playwright.Bool(c.Secure),
	}
	if c.Domain != "" {
		pc.Domain = playwright.String(c.Domain)
	}
	if c.Path != "" {
		pc.Path = playwright.String(c.Path)
	}
	if c.URL != "" {
		pc.URL = playwright.String(c.URL)
	}
	if c.Expires > 0 {
		pc.Expires = playwright.Float(c.Expires)
	}
	return pc, nil
}

// cdp converts the cookie for Network.setCookies.
func (c Cookie) cdp() (*network.CookieParam, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}

	sameSite := network.CookieSameSiteLax
	switch c.SameSite {
	case "Strict":
		sameSite = network.CookieSameSiteStrict
	case "None":
		sameSite = network.CookieSameSiteNone
	}

	p := &network.CookieParam{
		Name:     c.Name,
		Value:    c.Value,
		URL:      c.URL,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HTTPOnly: c.HTTPOnly,
		SameSite: sameSite,
	}
	if c.Expires > 0 {
		exp := cdp.TimeSinceEpoch(timeFromEpoch(c.Expires))
		p.Expires = &exp
	}
	return p, nil
}
