package config

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/neboloop/wplace-painter/internal/browser"
)

// CookieDomain is where the site's API reads the session cookies.
const CookieDomain = "backend.wplace.live"

// DefaultExpiryMargin is how far ahead TokenExpired looks by default.
const DefaultExpiryMargin = 60 * time.Second

func cookie(name, value string) browser.Cookie {
	return browser.Cookie{
		Name:     name,
		Value:    value,
		Domain:   CookieDomain,
		Path:     "/",
		HTTPOnly: false,
		Secure:   true,
		SameSite: "Lax",
	}
}

// Cookies returns the session cookie "j" and, when set, "cf_clearance".
func (c Credentials) Cookies() []browser.Cookie {
	cookies := []browser.Cookie{cookie("j", c.Token)}
	if c.CFClearance != "" {
		cookies = append(cookies, cookie("cf_clearance", c.CFClearance))
	}
	return cookies
}

// HTTPCookies returns the same cookies for a net/http client.
func (c Credentials) HTTPCookies() []*http.Cookie {
	out := make([]*http.Cookie, 0, 2)
	for _, bc := range c.Cookies() {
		out = append(out, &http.Cookie{
			Name:     bc.Name,
			Value:    bc.Value,
			Domain:   bc.Domain,
			Path:     bc.Path,
			Secure:   bc.Secure,
			HttpOnly: bc.HTTPOnly,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return out
}

// TokenClaims is the payload of the session JWT.
type TokenClaims struct {
	UserID    int64  `json:"userId"`
	SessionID string `json:"sessionId"`
	jwt.RegisteredClaims
}

// ParseToken decodes the session token without verifying its signature.
func ParseToken(token string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	return claims, nil
}

// TokenExpired reports whether the token expires within ahead of now.
// A malformed token, or one without exp, counts as expired.
func TokenExpired(token string, ahead time.Duration) bool {
	claims, err := ParseToken(token)
	if err != nil || claims.ExpiresAt == nil {
		return true
	}
	return !time.Now().Add(ahead).Before(claims.ExpiresAt.Time)
}
