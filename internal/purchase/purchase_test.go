package purchase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/wplace-painter/internal/config"
	"github.com/neboloop/wplace-painter/internal/wplace"
)

func intp(v int) *int { return &v }

func TestPlan(t *testing.T) {
	tests := []struct {
		name   string
		ap     *config.AutoPurchase
		info   wplace.UserInfo
		want   Order
		wantOK bool
	}{
		{
			name: "disabled",
			info: wplace.UserInfo{Droplets: 10000},
		},
		{
			name:   "max charges up to target",
			ap:     &config.AutoPurchase{Type: config.PurchaseMaxCharges, TargetMax: intp(100)},
			info:   wplace.UserInfo{Droplets: 10000, Charges: wplace.Charges{Max: 80}},
			want:   Order{Product: ProductMaxCharges, Amount: 4},
			wantOK: true,
		},
		{
			name:   "max charges limited by droplets",
			ap:     &config.AutoPurchase{Type: config.PurchaseMaxCharges, TargetMax: intp(200), RetainDroplets: 500},
			info:   wplace.UserInfo{Droplets: 1600, Charges: wplace.Charges{Max: 80}},
			want:   Order{Product: ProductMaxCharges, Amount: 2},
			wantOK: true,
		},
		{
			name: "target reached",
			ap:   &config.AutoPurchase{Type: config.PurchaseMaxCharges, TargetMax: intp(80)},
			info: wplace.UserInfo{Droplets: 10000, Charges: wplace.Charges{Max: 80}},
		},
		{
			name: "target gap below one unit",
			ap:   &config.AutoPurchase{Type: config.PurchaseMaxCharges, TargetMax: intp(84)},
			info: wplace.UserInfo{Droplets: 10000, Charges: wplace.Charges{Max: 80}},
		},
		{
			name:   "max charges without target",
			ap:     &config.AutoPurchase{Type: config.PurchaseMaxCharges},
			info:   wplace.UserInfo{Droplets: 1999},
			want:   Order{Product: ProductMaxCharges, Amount: 3},
			wantOK: true,
		},
		{
			name:   "charges",
			ap:     &config.AutoPurchase{Type: config.PurchaseCharges, RetainDroplets: 1000},
			info:   wplace.UserInfo{Droplets: 2500},
			want:   Order{Product: ProductCharges, Amount: 3},
			wantOK: true,
		},
		{
			name: "charges retain everything",
			ap:   &config.AutoPurchase{Type: config.PurchaseCharges, RetainDroplets: 3000},
			info: wplace.UserInfo{Droplets: 2500},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Plan(tt.ap, &tt.info)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

type recorded struct {
	body    map[string]map[string]int
	cookies map[string]string
	origin  string
}

func shop(t *testing.T, status int, reply string) (*httptest.Server, *recorded) {
	rec := &recorded{cookies: map[string]string{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/purchase", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&rec.body))
		for _, c := range r.Cookies() {
			rec.cookies[c.Name] = c.Value
		}
		rec.origin = r.Header.Get("Origin")
		w.WriteHeader(status)
		w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestBuy(t *testing.T) {
	srv, rec := shop(t, 200, `{"success":true}`)
	c := &Client{Backend: srv.URL}

	creds := config.Credentials{Token: "tok", CFClearance: "cf"}
	require.NoError(t, c.Buy(context.Background(), creds, Order{Product: ProductCharges, Amount: 2}))
	assert.Equal(t, map[string]int{"id": 80, "amount": 2}, rec.body["product"])
	assert.Equal(t, map[string]string{"j": "tok", "cf_clearance": "cf"}, rec.cookies)
	assert.Equal(t, "https://wplace.live", rec.origin)
}

func TestBuyFailures(t *testing.T) {
	srv, _ := shop(t, 200, `{"success":false}`)
	err := (&Client{Backend: srv.URL}).Buy(context.Background(), config.Credentials{Token: "t"}, Order{Product: 70, Amount: 1})
	assert.ErrorContains(t, err, "purchase failed")

	srv, _ = shop(t, 401, `{}`)
	err = (&Client{Backend: srv.URL}).Buy(context.Background(), config.Credentials{Token: "t"}, Order{Product: 70, Amount: 1})
	assert.ErrorIs(t, err, wplace.ErrUnauthorized)

	srv, _ = shop(t, 500, `oops`)
	err = (&Client{Backend: srv.URL}).Buy(context.Background(), config.Credentials{Token: "t"}, Order{Product: 70, Amount: 1})
	assert.ErrorContains(t, err, "HTTP 500")
}

func TestAuto(t *testing.T) {
	srv, rec := shop(t, 200, `{"success":true}`)
	c := &Client{Backend: srv.URL}
	user := config.User{
		Identifier:   "alice",
		Credentials:  config.Credentials{Token: "tok"},
		AutoPurchase: &config.AutoPurchase{Type: config.PurchaseMaxCharges, TargetMax: intp(90)},
	}

	bought, err := c.Auto(context.Background(), user, &wplace.UserInfo{Droplets: 5000, Charges: wplace.Charges{Max: 80}})
	require.NoError(t, err)
	assert.True(t, bought)
	assert.Equal(t, map[string]int{"id": 70, "amount": 2}, rec.body["product"])

	bought, err = c.Auto(context.Background(), user, &wplace.UserInfo{Droplets: 5000, Charges: wplace.Charges{Max: 90}})
	require.NoError(t, err)
	assert.False(t, bought)
}

func TestInvalidProxy(t *testing.T) {
	c := NewClient("://bad")
	err := c.Buy(context.Background(), config.Credentials{Token: "t"}, Order{Product: 80, Amount: 1})
	assert.Error(t, err)
}
