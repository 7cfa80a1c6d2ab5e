package template

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fogleman/gg"
	"golang.org/x/image/draw"
	"golang.org/x/term"

	"github.com/neboloop/wplace-painter/internal/palette"
)

// Overlay draws the canvas scaled by scale and marks every pixel listed in
// entries with its target color and a red outline.
func Overlay(actual image.Image, entries []ColorEntry, scale int) image.Image {
	if scale < 1 {
		scale = 1
	}
	b := actual.Bounds()
	dc := gg.NewContext(b.Dx()*scale, b.Dy()*scale)

	scaled := image.NewNRGBA(image.Rect(0, 0, b.Dx()*scale, b.Dy()*scale))
	draw.NearestNeighbor.Scale(scaled, scaled.Bounds(), actual, b, draw.Src, nil)
	dc.DrawImage(scaled, 0, 0)

	s := float64(scale)
	dc.SetLineWidth(1)
	for _, e := range entries {
		c := paletteColor(e.ID)
		for _, p := range e.Pixels {
			x, y := float64(p.X)*s, float64(p.Y)*s
			dc.DrawRectangle(x, y, s, s)
			dc.SetColor(c)
			dc.FillPreserve()
			dc.SetRGBA(1, 0, 0, 0.8)
			dc.Stroke()
		}
	}
	return dc.Image()
}

func paletteColor(id int) color.Color {
	c, _ := palette.ByID(id)
	return c
}

// SaveOverlay writes Overlay's result as PNG.
func SaveOverlay(path string, actual image.Image, entries []ColorEntry, scale int) error {
	if err := gg.SavePNG(path, Overlay(actual, entries, scale)); err != nil {
		return fmt.Errorf("failed to save overlay: %w", err)
	}
	return nil
}

// TerminalSize returns the size of f, or 80x24 when f is not a terminal.
func TerminalSize(f *os.File) (cols, rows int) {
	if f != nil && term.IsTerminal(int(f.Fd())) {
		if w, h, err := term.GetSize(int(f.Fd())); err == nil && w > 0 && h > 1 {
			return w, h
		}
	}
	return 80, 24
}

// fitTerminal scales w x h into a pixel grid for cols x rows character
// cells. Each cell shows two pixels stacked with a half block, so pixels
// come out roughly square.
func fitTerminal(w, h, cols, rows int) (int, int) {
	if rows < 2 {
		rows = 2
	}
	maxH := 2 * (rows - 1)
	var ow, oh int
	if w*maxH > h*cols {
		ow, oh = cols, h*cols/w
	} else {
		ow, oh = w*maxH/h, maxH
	}
	return max(ow, 1), max(oh, 1)
}

// shrink resamples img to ow x oh without blending, so every output pixel
// is a palette color of the source.
func shrink(img image.Image, ow, oh int) *image.NRGBA {
	small := image.NewNRGBA(image.Rect(0, 0, ow, oh))
	draw.NearestNeighbor.Scale(small, small.Bounds(), img, img.Bounds(), draw.Src, nil)
	return small
}

type cell struct{ top, bottom color.NRGBA }

func hex(c color.NRGBA) lipgloss.Color {
	return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B))
}

// render draws one cell as a half block. Transparent halves print as the
// terminal background.
func (c cell) render(styles map[cell]string) string {
	if s, ok := styles[c]; ok {
		return s
	}
	var s string
	switch {
	case c.top.A == 0 && c.bottom.A == 0:
		s = " "
	case c.bottom.A == 0:
		s = lipgloss.NewStyle().Foreground(hex(c.top)).Render("▀")
	case c.top.A == 0:
		s = lipgloss.NewStyle().Foreground(hex(c.bottom)).Render("▄")
	default:
		s = lipgloss.NewStyle().Foreground(hex(c.top)).Background(hex(c.bottom)).Render("▀")
	}
	styles[c] = s
	return s
}

// RenderANSI writes img as colored half-block characters fitted to
// cols x rows.
func RenderANSI(w io.Writer, img image.Image, cols, rows int) error {
	b := img.Bounds()
	ow, oh := fitTerminal(b.Dx(), b.Dy(), cols, rows)
	small := shrink(img, ow, oh)

	opaque := func(x, y int) color.NRGBA {
		if y >= oh {
			return color.NRGBA{}
		}
		c := small.NRGBAAt(x, y)
		if c.A == 0 {
			return color.NRGBA{}
		}
		c.A = 0xff
		return c
	}

	styles := make(map[cell]string)
	bw := bufio.NewWriter(w)
	var line strings.Builder
	for y := 0; y < oh; y += 2 {
		line.Reset()
		for x := 0; x < ow; x++ {
			line.WriteString(cell{top: opaque(x, y), bottom: opaque(x, y+1)}.render(styles))
		}
		line.WriteByte('\n')
		if _, err := bw.WriteString(line.String()); err != nil {
			return err
		}
	}
	return bw.Flush()
}
