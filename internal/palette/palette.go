// Package palette holds the fixed set of colors accepted by the canvas and
// maps arbitrary RGBA values onto it.
package palette

import (
	"image/color"
	"math"
	"strconv"
	"strings"
)

// Transparent is the id of the erase color.
const Transparent = 0

// Color is one palette entry.
type Color struct {
	ID   int
	Name string
	R    uint8
	G    uint8
	B    uint8
}

// Paid reports whether the color must be unlocked with droplets.
func (c Color) Paid() bool {
	return c.ID >= firstPaid
}

// RGBA implements color.Color. Transparent has zero alpha.
func (c Color) RGBA() (r, g, b, a uint32) {
	if c.ID == Transparent {
		return 0, 0, 0, 0
	}
	return color.NRGBA{R: c.R, G: c.G, B: c.B, A: 0xff}.RGBA()
}

const firstPaid = 32

// All lists every color ordered by id.
var All = []Color{
	{0, "Transparent", 0, 0, 0},
	{1, "Black", 0, 0, 0},
	{2, "Dark Gray", 60, 60, 60},
	{3, "Gray", 120, 120, 120},
	{4, "Light Gray", 210, 210, 210},
	{5, "White", 255, 255, 255},
	{6, "Deep Red", 96, 0, 24},
	{7, "Red", 237, 28, 36},
	{8, "Orange", 255, 127, 39},
	{9, "Gold", 246, 170, 9},
	{10, "Yellow", 249, 221, 59},
	{11, "Light Yellow", 255, 250, 188},
	{12, "Dark Green", 14, 185, 104},
	{13, "Green", 19, 230, 123},
	{14, "Light Green", 135, 255, 94},
	{15, "Dark Teal", 12, 129, 110},
	{16, "Teal", 16, 174, 166},
	{17, "Light Teal", 19, 225, 190},
	{18, "Dark Blue", 40, 80, 158},
	{19, "Blue", 64, 147, 228},
	{20, "Cyan", 96, 247, 242},
	{21, "Indigo", 107, 80, 246},
	{22, "Light Indigo", 153, 177, 251},
	{23, "Dark Purple", 120, 12, 153},
	{24, "Purple", 170, 56, 185},
	{25, "Light Purple", 224, 159, 249},
	{26, "Dark Pink", 203, 0, 122},
	{27, "Pink", 236, 31, 128},
	{28, "Light Pink", 243, 141, 169},
	{29, "Dark Brown", 104, 70, 52},
	{30, "Brown", 149, 104, 42},
	{31, "Beige", 248, 178, 119},
	{32, "Medium Gray", 170, 170, 170},
	{33, "Dark Red", 165, 14, 30},
	{34, "Light Red", 250, 128, 114},
	{35, "Dark Orange", 228, 92, 26},
	{36, "Light Tan", 214, 181, 148},
	{37, "Dark Goldenrod", 156, 132, 49},
	{38, "Goldenrod", 197, 173, 49},
	{39, "Light Goldenrod", 232, 212, 95},
	{40, "Dark Olive", 74, 107, 58},
	{41, "Olive", 90, 148, 74},
	{42, "Light Olive", 132, 197, 115},
	{43, "Dark Cyan", 15, 121, 159},
	{44, "Light Cyan", 187, 250, 242},
	{45, "Light Blue", 125, 199, 255},
	{46, "Dark Indigo", 77, 49, 184},
	{47, "Dark Slate Blue", 74, 66, 132},
	{48, "Slate Blue", 122, 113, 196},
	{49, "Light Slate Blue", 181, 174, 241},
	{50, "Light Brown", 219, 164, 99},
	{51, "Dark Beige", 209, 128, 81},
	{52, "Light Beige", 255, 197, 165},
	{53, "Dark Peach", 155, 82, 73},
	{54, "Peach", 209, 128, 120},
	{55, "Light Peach", 250, 182, 164},
	{56, "Dark Tan", 123, 99, 82},
	{57, "Tan", 156, 132, 107},
	{58, "Dark Slate", 51, 57, 65},
	{59, "Slate", 109, 117, 141},
	{60, "Light Slate", 179, 185, 209},
	{61, "Dark Stone", 109, 100, 63},
	{62, "Stone", 148, 140, 107},
	{63, "Light Stone", 205, 197, 158},
}

var (
	byName = make(map[string]Color, len(All))
	byRGB  = make(map[[3]uint8]Color, len(All))
)

func init() {
	for _, c := range All {
		byName[normalize(c.Name)] = c
		if c.ID == Transparent {
			continue
		}
		byRGB[[3]uint8{c.R, c.G, c.B}] = c
	}
}

// Free returns the colors every account owns (ids 1..31).
func Free() []Color {
	return All[1:firstPaid]
}

// PaidColors returns the unlockable colors (ids 32..63), in bitmap order.
func PaidColors() []Color {
	return All[firstPaid:]
}

// ByID returns the color with the given id.
func ByID(id int) (Color, bool) {
	if id < 0 || id >= len(All) {
		return Color{}, false
	}
	return All[id], true
}

// ByName looks up a color ignoring case, treating spaces and underscores as
// equal.
func ByName(name string) (Color, bool) {
	c, ok := byName[normalize(name)]
	return c, ok
}

// Nearest maps an arbitrary color to the closest palette entry by squared
// RGB distance. Zero alpha maps to Transparent; ties go to the lowest id.
func Nearest(c color.Color) Color {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	if n.A == 0 {
		return All[Transparent]
	}
	if exact, ok := byRGB[[3]uint8{n.R, n.G, n.B}]; ok {
		return exact
	}

	best, bestDist := All[1], math.MaxInt
	for _, p := range All[1:] {
		dr := int(n.R) - int(p.R)
		dg := int(n.G) - int(p.G)
		db := int(n.B) - int(p.B)
		if d := dr*dr + dg*dg + db*db; d < bestDist {
			best, bestDist = p, d
		}
	}
	return best
}

// ParseNames reads color names from whitespace-split words, joining up to
// three consecutive words ("light slate blue"). Unknown words are skipped.
func ParseNames(words []string) []Color {
	var out []Color
	for i := 0; i < len(words); {
		matched := false
		for length := 3; length >= 1; length-- {
			if i+length > len(words) {
				continue
			}
			if c, ok := ByName(strings.Join(words[i:i+length], "_")); ok && c.ID != Transparent {
				out = append(out, c)
				i += length
				matched = true
				break
			}
		}
		if !matched {
			i++
		}
	}
	return out
}

// ParseHex parses "#rrggbb" or "rrggbb".
func ParseHex(s string) (color.NRGBA, bool) {
	s = strings.ToLower(strings.TrimPrefix(s, "#"))
	if len(s) != 6 {
		return color.NRGBA{}, false
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.NRGBA{}, false
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, true
}

func normalize(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}
