// Package template loads template images, compares them with the live
// canvas and renders previews.
package template

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"github.com/fogleman/gg"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/neboloop/wplace-painter/internal/coords"
)

// ErrTemplateMissing is returned when the template image file does not exist.
var ErrTemplateMissing = errors.New("template image missing")

// Template is a decoded template placed on the canvas.
type Template struct {
	Image *image.NRGBA
	// Origin is the canvas pixel of the image's top-left corner.
	Origin coords.Pixel
}

// End returns the canvas pixel of the image's bottom-right corner.
func (t *Template) End() coords.Pixel {
	b := t.Image.Bounds()
	return t.Origin.Offset(b.Dx()-1, b.Dy()-1)
}

// At returns the canvas pixel for an image-relative point.
func (t *Template) At(p image.Point) coords.Pixel {
	return t.Origin.Offset(p.X, p.Y)
}

// Load decodes the image at path and places it at origin.
func Load(path string, origin coords.Pixel) (*Template, error) {
	img, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	return &Template{Image: img, Origin: origin}, nil
}

func decodeFile(path string) (*image.NRGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrTemplateMissing, path)
		}
		return nil, fmt.Errorf("failed to open template: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return toNRGBA(img), nil
}

// toNRGBA copies img into a zero-origin NRGBA image.
func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// Mask keeps only the pixels inside rect; everything else becomes
// transparent. The image size is unchanged.
func Mask(img image.Image, rect image.Rectangle) *image.NRGBA {
	src := toNRGBA(img)
	out := image.NewNRGBA(src.Bounds())
	rect = rect.Intersect(src.Bounds())
	if !rect.Empty() {
		draw.Draw(out, rect, src, rect.Min, draw.Src)
	}
	return out
}

// Import decodes src, optionally masks it to crop, and writes it as PNG to
// dst. An existing dst is left untouched unless overwrite is set.
func Import(src, dst string, crop image.Rectangle, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(dst); err == nil {
			return nil
		}
	}
	img, err := decodeFile(src)
	if err != nil {
		return err
	}
	if !crop.Empty() {
		img = Mask(img, crop)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create templates directory: %w", err)
	}
	if err := gg.SavePNG(dst, img); err != nil {
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	return nil
}
