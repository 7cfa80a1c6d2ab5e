package paint

import (
	"sort"
	"sync"

	"github.com/neboloop/wplace-painter/internal/template"
)

// Claims tracks the colors users are painting right now, so two accounts
// never work on the same color at once.
type Claims struct {
	mu    sync.Mutex
	inUse map[int]bool
}

// NewClaims returns an empty claim set.
func NewClaims() *Claims {
	return &Claims{inUse: make(map[int]bool)}
}

// Claimed reports whether color id is taken.
func (c *Claims) Claimed(id int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inUse[id]
}

// Rank orders entries for selection: paid colors first, then owned ones,
// then by remaining count, all descending.
func Rank(entries []template.ColorEntry, owns func(id int) bool) []template.ColorEntry {
	out := append([]template.ColorEntry(nil), entries...)
	key := func(e template.ColorEntry) [3]int {
		return [3]int{boolInt(e.Paid), boolInt(owns(e.ID)), e.Count}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := key(out[i]), key(out[j])
		for k := range a {
			if a[k] != b[k] {
				return a[k] > b[k]
			}
		}
		return false
	})
	return out
}

// Pick selects the first ranked entry with pixels left that the user owns
// and nobody has claimed, and claims it. The returned release func is
// idempotent.
func (c *Claims) Pick(entries []template.ColorEntry, owns func(id int) bool) (template.ColorEntry, func(), bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range Rank(entries, owns) {
		if e.Count > 0 && owns(e.ID) && !c.inUse[e.ID] {
			c.inUse[e.ID] = true
			var once sync.Once
			release := func() {
				once.Do(func() {
					c.mu.Lock()
					delete(c.inUse, e.ID)
					c.mu.Unlock()
				})
			}
			return e, release, true
		}
	}
	return template.ColorEntry{}, func() {}, false
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
