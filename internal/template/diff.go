package template

import (
	"image"
	"sort"

	"github.com/samber/lo"

	"github.com/neboloop/wplace-painter/internal/palette"
)

// ColorEntry is the work left for one palette color.
type ColorEntry struct {
	ID   int
	Name string
	Paid bool
	// Count is len(Pixels).
	Count int
	// Pixels are image-relative, in row-major order.
	Pixels []image.Point
}

// Compare maps every template pixel to its palette color and collects the
// pixels that still need painting. In diff mode a pixel whose canvas color
// already maps to the same palette entry is skipped; with all set, every
// non-transparent template pixel is kept. actual must cover the template
// area with the same origin; pixels outside it count as transparent.
//
// Every color used by the template gets an entry, ordered by palette id,
// even when nothing is left to paint.
func Compare(tpl, actual image.Image, all bool) []ColorEntry {
	tb := tpl.Bounds()
	var ab image.Rectangle
	if actual != nil {
		ab = actual.Bounds()
	}

	byID := make(map[int]*ColorEntry)
	for y := 0; y < tb.Dy(); y++ {
		for x := 0; x < tb.Dx(); x++ {
			want := palette.Nearest(tpl.At(tb.Min.X+x, tb.Min.Y+y))
			if want.ID == palette.Transparent {
				continue
			}
			entry, ok := byID[want.ID]
			if !ok {
				entry = &ColorEntry{ID: want.ID, Name: want.Name, Paid: want.Paid()}
				byID[want.ID] = entry
			}
			if !all {
				p := image.Pt(ab.Min.X+x, ab.Min.Y+y)
				if p.In(ab) && palette.Nearest(actual.At(p.X, p.Y)).ID == want.ID {
					continue
				}
			}
			entry.Pixels = append(entry.Pixels, image.Pt(x, y))
		}
	}

	entries := make([]ColorEntry, 0, len(byID))
	for _, e := range byID {
		e.Count = len(e.Pixels)
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

// Remaining sums the pixel counts of all entries.
func Remaining(entries []ColorEntry) int {
	return lo.SumBy(entries, func(e ColorEntry) int { return e.Count })
}

var neighbours = [8]image.Point{
	{-1, -1}, {-1, 0}, {-1, 1},
	{0, -1}, {0, 1},
	{1, -1}, {1, 0}, {1, 1},
}

// GroupAdjacent splits points into 8-connected groups, largest first. Each
// group starts with the first input point that belongs to it and continues in
// breadth-first order.
func GroupAdjacent(points []image.Point) [][]image.Point {
	set := make(map[image.Point]struct{}, len(points))
	for _, p := range points {
		set[p] = struct{}{}
	}

	visited := make(map[image.Point]struct{}, len(points))
	var groups [][]image.Point
	for _, start := range points {
		if _, seen := visited[start]; seen {
			continue
		}
		visited[start] = struct{}{}
		group := []image.Point{start}
		for i := 0; i < len(group); i++ {
			cur := group[i]
			for _, d := range neighbours {
				n := cur.Add(d)
				if _, ok := set[n]; !ok {
					continue
				}
				if _, seen := visited[n]; seen {
					continue
				}
				visited[n] = struct{}{}
				group = append(group, n)
			}
		}
		groups = append(groups, group)
	}

	sort.SliceStable(groups, func(i, j int) bool { return len(groups[i]) > len(groups[j]) })
	return groups
}
