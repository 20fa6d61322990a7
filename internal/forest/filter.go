package forest

import (
	"fmt"
	"sort"
)

// Policy selects how aggressively Filter prunes cells.
type Policy string

const (
	// PolicyBasic is the conservative cap used for ordinary sentences.
	PolicyBasic Policy = "basic"
	// PolicyMax is the least restrictive cap, used when basic fails to
	// produce a derivation.
	PolicyMax Policy = "max"
)

// Default per-cell caps.
const (
	DefaultBasicCap = 100
	DefaultMaxCap   = 10000
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyBasic, PolicyMax:
		return Policy(s), nil
	}
	return "", fmt.Errorf("unknown chart filter %q (want %q or %q)", s, PolicyBasic, PolicyMax)
}

// Caps maps each policy to the number of items a cell may keep.
type Caps struct {
	Basic int
	Max   int
}

// DefaultCaps returns the built-in caps.
func DefaultCaps() Caps {
	return Caps{Basic: DefaultBasicCap, Max: DefaultMaxCap}
}

// For returns the cap of p. A non-positive cap means unlimited.
func (c Caps) For(p Policy) int {
	if p == PolicyMax {
		return c.Max
	}
	return c.Basic
}

// Filter keeps the best items of every cell under policy p. Items are ranked
// by local score, ties by cell order. The result shares the item arena of f:
// nothing is copied except the per-cell index lists, and items dropped from
// their cell are also skipped as slot alternatives during enumeration.
func Filter(f *Forest, p Policy, caps Caps) *Forest {
	if f == nil {
		return nil
	}
	limit := caps.For(p)
	cells := make(map[Symbol][]ItemID, len(f.cells))
	for sym, ids := range f.cells {
		cells[sym] = topItems(f, ids, limit)
	}
	return f.withCells(cells)
}

func topItems(f *Forest, ids []ItemID, limit int) []ItemID {
	if limit <= 0 || len(ids) <= limit {
		return append([]ItemID(nil), ids...)
	}
	ranked := make([]int, len(ids))
	for i := range ranked {
		ranked[i] = i
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return f.items[ids[ranked[a]]].Score > f.items[ids[ranked[b]]].Score
	})
	keep := make(map[int]bool, limit)
	for _, pos := range ranked[:limit] {
		keep[pos] = true
	}
	out := make([]ItemID, 0, limit)
	for pos, id := range ids {
		if keep[pos] {
			out = append(out, id)
		}
	}
	return out
}
