package wplace

import (
	"encoding/base64"
	"math"
	"time"

	"github.com/neboloop/wplace-painter/internal/coords"
	"github.com/neboloop/wplace-painter/internal/palette"
)

// Charges is the paint budget of an account.
type Charges struct {
	CooldownMs int     `json:"cooldownMs"`
	Count      float64 `json:"count"`
	Max        int     `json:"max"`
}

// RemainingSecs is the time until the budget is full again.
func (c Charges) RemainingSecs() float64 {
	return (float64(c.Max) - c.Count) * float64(c.CooldownMs) / 1000
}

// Remaining is RemainingSecs as a duration.
func (c Charges) Remaining() time.Duration {
	return time.Duration(c.RemainingSecs() * float64(time.Second))
}

// FavoriteLocation is a saved map position.
type FavoriteLocation struct {
	ID        int     `json:"id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Coords returns the canvas pixel at the saved position.
func (f FavoriteLocation) Coords() coords.Pixel {
	return coords.FromLatLon(f.Latitude, f.Longitude)
}

// UserInfo is the body of GET /me.
type UserInfo struct {
	ID                     int                `json:"id"`
	Name                   string             `json:"name"`
	AllianceID             *int               `json:"allianceId,omitempty"`
	AllianceRole           string             `json:"allianceRole,omitempty"`
	Banned                 bool               `json:"banned"`
	Charges                Charges            `json:"charges"`
	Country                string             `json:"country"`
	Discord                string             `json:"discord,omitempty"`
	Droplets               int                `json:"droplets"`
	EquippedFlag           int                `json:"equippedFlag"`
	Experiments            map[string]any     `json:"experiments,omitempty"`
	ExtraColorsBitmap      int64              `json:"extraColorsBitmap"`
	FavoriteLocations      []FavoriteLocation `json:"favoriteLocations"`
	FlagsBitmap            string             `json:"flagsBitmap"`
	IsCustomer             bool               `json:"isCustomer"`
	Level                  float64            `json:"level"`
	MaxFavoriteLocations   int                `json:"maxFavoriteLocations"`
	NeedsPhoneVerification bool               `json:"needsPhoneVerification"`
	Picture                string             `json:"picture,omitempty"`
	PixelsPainted          int                `json:"pixelsPainted"`
	ShowLastPixel          bool               `json:"showLastPixel"`
	TimeoutUntil           time.Time          `json:"timeoutUntil"`
}

// NextLevelPixels is the number of pixels left until the next level.
func (u *UserInfo) NextLevelPixels() int {
	need := math.Pow(math.Floor(u.Level)*math.Pow(30, 0.65), 1/0.65)
	return int(math.Ceil(need - float64(u.PixelsPainted)))
}

// OwnsColor reports whether the account may paint with palette id. Free
// colors and Transparent are always owned; paid colors follow the bitmap.
func (u *UserInfo) OwnsColor(id int) bool {
	c, ok := palette.ByID(id)
	if !ok {
		return false
	}
	if !c.Paid() {
		return true
	}
	bit := id - palette.PaidColors()[0].ID
	return u.ExtraColorsBitmap&(1<<bit) != 0
}

// OwnedColors lists the usable palette entries in id order.
func (u *UserInfo) OwnedColors() []palette.Color {
	out := append([]palette.Color{palette.All[palette.Transparent]}, palette.Free()...)
	for _, c := range palette.PaidColors() {
		if u.OwnsColor(c.ID) {
			out = append(out, c)
		}
	}
	return out
}

// OwnFlags decodes the flags bitmap. Bit 0 is the lowest bit of the last
// byte.
func (u *UserInfo) OwnFlags() map[int]bool {
	b, err := base64.StdEncoding.DecodeString(u.FlagsBitmap)
	if err != nil {
		return nil
	}
	flags := make(map[int]bool)
	for i := 0; i < len(b)*8; i++ {
		if b[len(b)-i/8-1]&(1<<(i%8)) != 0 {
			flags[i] = true
		}
	}
	return flags
}

// TimedOut reports whether the account is in a painting timeout at now.
func (u *UserInfo) TimedOut(now time.Time) bool {
	return u.TimeoutUntil.After(now)
}
