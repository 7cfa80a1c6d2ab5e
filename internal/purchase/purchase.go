// Package purchase spends droplets on charges before a paint cycle.
package purchase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/neboloop/wplace-painter/internal/config"
	"github.com/neboloop/wplace-painter/internal/logging"
	"github.com/neboloop/wplace-painter/internal/wplace"
)

// Product ids of the shop.
const (
	ProductMaxCharges = 70 // +5 max charges
	ProductCharges    = 80 // +30 charges
)

// Price is the droplet cost of one unit of either product.
const Price = 500

const (
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/140.0.0.0 Safari/537.36"
	timeout   = 20 * time.Second
)

// Order is one purchase request.
type Order struct {
	Product int
	Amount  int
}

// Plan decides what auto purchase should buy for the account state. It
// returns false when nothing should be bought.
func Plan(ap *config.AutoPurchase, info *wplace.UserInfo) (Order, bool) {
	if ap == nil || info == nil {
		return Order{}, false
	}
	budget := (info.Droplets - ap.RetainDroplets) / Price

	switch ap.Type {
	case config.PurchaseMaxCharges:
		amount := budget
		if ap.TargetMax != nil {
			if info.Charges.Max >= *ap.TargetMax {
				return Order{}, false
			}
			amount = min((*ap.TargetMax-info.Charges.Max)/5, budget)
		}
		if amount <= 0 {
			return Order{}, false
		}
		return Order{Product: ProductMaxCharges, Amount: amount}, true
	case config.PurchaseCharges:
		if budget <= 0 {
			return Order{}, false
		}
		return Order{Product: ProductCharges, Amount: budget}, true
	}
	return Order{}, false
}

// Client posts purchases with the account's cookies.
type Client struct {
	// Backend overrides wplace.BackendURL.
	Backend string
	// Proxy is an optional HTTP proxy URL.
	Proxy string

	transport http.RoundTripper
}

// NewClient returns a client using proxy when set.
func NewClient(proxy string) *Client {
	return &Client{Proxy: proxy}
}

func (c *Client) backend() string {
	if c.Backend != "" {
		return strings.TrimRight(c.Backend, "/")
	}
	return wplace.BackendURL
}

func (c *Client) httpClient(creds config.Credentials) (*http.Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(c.backend())
	if err != nil {
		return nil, err
	}
	cookies := creds.HTTPCookies()
	for _, ck := range cookies {
		// the jar scopes by request host
		ck.Domain = ""
		ck.Secure = u.Scheme == "https"
	}
	jar.SetCookies(u, cookies)

	transport := c.transport
	if transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		if c.Proxy != "" {
			pu, err := url.Parse(c.Proxy)
			if err != nil {
				return nil, fmt.Errorf("invalid proxy: %w", err)
			}
			t.Proxy = http.ProxyURL(pu)
		}
		transport = t
	}
	return &http.Client{Jar: jar, Transport: transport, Timeout: timeout}, nil
}

// Buy posts one order.
func (c *Client) Buy(ctx context.Context, creds config.Credentials, order Order) error {
	client, err := c.httpClient(creds)
	if err != nil {
		return err
	}

	payload := map[string]any{"product": map[string]int{"id": order.Product, "amount": order.Amount}}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.backend()+"/purchase", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Sec-Ch-Ua", `"Chromium";v="140", "Not=A?Brand";v="24", "Google Chrome";v="140"`)
	req.Header.Set("Sec-Ch-Ua-Mobile", "?0")
	req.Header.Set("Sec-Ch-Ua-Platform", `"Windows"`)
	req.Header.Set("Origin", wplace.SiteURL)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("purchase request failed: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w (purchase HTTP %d)", wplace.ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("purchase failed: HTTP %d", resp.StatusCode)
	}

	var result struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return fmt.Errorf("failed to decode purchase response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("purchase failed: unknown error")
	}
	return nil
}

// Auto buys what Plan decides for the user. It reports whether a purchase
// was made.
func (c *Client) Auto(ctx context.Context, user config.User, info *wplace.UserInfo) (bool, error) {
	order, ok := Plan(user.AutoPurchase, info)
	if !ok {
		return false, nil
	}

	log := logging.For(user.Identifier)
	switch order.Product {
	case ProductMaxCharges:
		target := "none"
		if user.AutoPurchase.TargetMax != nil {
			target = fmt.Sprint(*user.AutoPurchase.TargetMax)
		}
		log.Info("auto-purchasing max charges", "current_max", info.Charges.Max, "target_max", target, "amount", order.Amount)
	case ProductCharges:
		log.Info("auto-purchasing charges", "current", fmt.Sprintf("%.2f", info.Charges.Count), "amount", order.Amount)
	}

	if err := c.Buy(ctx, user.Credentials, order); err != nil {
		return false, err
	}
	return true, nil
}
