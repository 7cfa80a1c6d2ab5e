// Package coords converts between the canvas coordinate systems: tile plus
// pixel offset, absolute pixel, latitude/longitude and the Blue Marble
// display string.
package coords

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
)

// TileSize is the width and height of one canvas tile in pixels.
const TileSize = 1000

// Web-mercator calibration constants of the canvas.
const (
	ScaleX  = 325949.3234522017
	ScaleY  = -325949.3234522014
	OffsetX = 1023999.5
	OffsetY = 1023999.4999999999
)

// DefaultZoom is used by ShareURL callers that do not care about zoom.
const DefaultZoom = 20

var blueMarblePattern = regexp.MustCompile(`.*Tl X: (\d+), Tl Y: (\d+), Px X: (\d+), Px Y: (\d+).*`)

// Abs is an absolute canvas pixel.
type Abs struct {
	X int
	Y int
}

// Offset returns the point moved by (dx, dy).
func (a Abs) Offset(dx, dy int) Abs {
	return Abs{X: a.X + dx, Y: a.Y + dy}
}

// Pixel splits the absolute position into tile and in-tile offset.
func (a Abs) Pixel() Pixel {
	tlx, pxx := floorDivMod(a.X, TileSize)
	tly, pxy := floorDivMod(a.Y, TileSize)
	return Pixel{TlX: tlx, TlY: tly, PxX: pxx, PxY: pxy}
}

// LatLon is a geographic position in degrees.
type LatLon struct {
	Lat float64
	Lon float64
}

// Pixel returns the canvas pixel that contains the position.
func (l LatLon) Pixel() Pixel {
	return FromLatLon(l.Lat, l.Lon)
}

// Pixel addresses one canvas pixel by tile index and offset inside the tile.
type Pixel struct {
	TlX int `json:"tlx"`
	TlY int `json:"tly"`
	PxX int `json:"pxx"`
	PxY int `json:"pxy"`
}

// Parse reads the Blue Marble form "(Tl X: a, Tl Y: b, Px X: c, Px Y: d)".
// Surrounding text is ignored.
func Parse(s string) (Pixel, error) {
	m := blueMarblePattern.FindStringSubmatch(s)
	if m == nil {
		return Pixel{}, fmt.Errorf("invalid coords: %q", s)
	}
	var v [4]int
	for i := range v {
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return Pixel{}, fmt.Errorf("invalid coords: %q: %w", s, err)
		}
		v[i] = n
	}
	return Pixel{TlX: v[0], TlY: v[1], PxX: v[2], PxY: v[3]}, nil
}

// FromLatLon maps a geographic position to the canvas pixel containing it.
func FromLatLon(lat, lon float64) Pixel {
	mercX := lon * math.Pi / 180
	mercY := math.Log(math.Tan(math.Pi/4 + (lat*math.Pi/180)/2))
	return Abs{
		X: int(mercX*ScaleX + OffsetX),
		Y: int(mercY*ScaleY + OffsetY),
	}.Pixel()
}

// Abs returns the absolute canvas position.
func (p Pixel) Abs() Abs {
	return Abs{X: p.TlX*TileSize + p.PxX, Y: p.TlY*TileSize + p.PxY}
}

// Offset moves the pixel by (dx, dy), crossing tile borders as needed.
func (p Pixel) Offset(dx, dy int) Pixel {
	return p.Abs().Offset(dx, dy).Pixel()
}

// LatLon returns the geographic position of the pixel's corner.
func (p Pixel) LatLon() LatLon {
	a := p.Abs()
	mercX := (float64(a.X) - OffsetX) / ScaleX
	mercY := (float64(a.Y) - OffsetY) / ScaleY
	return LatLon{
		Lat: (2*math.Atan(math.Exp(mercY)) - math.Pi/2) * 180 / math.Pi,
		Lon: mercX * 180 / math.Pi,
	}
}

// ShareURL returns a wplace.live link centred on the pixel.
func (p Pixel) ShareURL(zoom float64) string {
	ll := p.LatLon()
	return "https://wplace.live/?lat=" + formatFloat(ll.Lat) +
		"&lng=" + formatFloat(ll.Lon) +
		"&zoom=" + formatFloat(zoom)
}

// BlueMarble returns the "(Tl X: a, Tl Y: b, Px X: c, Px Y: d)" form.
func (p Pixel) BlueMarble() string {
	return fmt.Sprintf("(Tl X: %d, Tl Y: %d, Px X: %d, Px Y: %d)", p.TlX, p.TlY, p.PxX, p.PxY)
}

// String is a short human form "(tlx, tly) + (pxx, pxy)".
func (p Pixel) String() string {
	return fmt.Sprintf("(%d, %d) + (%d, %d)", p.TlX, p.TlY, p.PxX, p.PxY)
}

// Valid reports whether all indices are non-negative and offsets fit a tile.
func (p Pixel) Valid() bool {
	return p.TlX >= 0 && p.TlY >= 0 &&
		p.PxX >= 0 && p.PxX < TileSize &&
		p.PxY >= 0 && p.PxY < TileSize
}

// Normalize returns the top-left and bottom-right corners of the rectangle
// spanned by p and other.
func (p Pixel) Normalize(other Pixel) (Pixel, Pixel) {
	a, b := p.Abs(), other.Abs()
	x1, x2 := min(a.X, b.X), max(a.X, b.X)
	y1, y2 := min(a.Y, b.Y), max(a.Y, b.Y)
	return Abs{X: x1, Y: y1}.Pixel(), Abs{X: x2, Y: y2}.Pixel()
}

// Tile is a tile index pair.
type Tile struct {
	X int
	Y int
}

// Tiles lists every tile touched by the rectangle spanned by p and other,
// column-major.
func (p Pixel) Tiles(other Pixel) []Tile {
	c1, c2 := p.Normalize(other)
	tiles := make([]Tile, 0, (c2.TlX-c1.TlX+1)*(c2.TlY-c1.TlY+1))
	for x := c1.TlX; x <= c2.TlX; x++ {
		for y := c1.TlY; y <= c2.TlY; y++ {
			tiles = append(tiles, Tile{X: x, Y: y})
		}
	}
	return tiles
}

// Size returns the inclusive width and height of the rectangle spanned by p
// and other.
func (p Pixel) Size(other Pixel) (int, int) {
	c1, c2 := p.Normalize(other)
	a, b := c1.Abs(), c2.Abs()
	return b.X - a.X + 1, b.Y - a.Y + 1
}

func floorDivMod(a, b int) (int, int) {
	q, r := a/b, a%b
	if r < 0 {
		q--
		r += b
	}
	return q, r
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
