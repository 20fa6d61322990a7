package forest

import (
	"errors"
	"fmt"
	"sort"
)

// ErrEmptyForest reports that the root cell holds no item. Callers treat it
// as "no derivation found", not as a failure.
var ErrEmptyForest = errors.New("no derivation found")

// Forest is a packed chart: an arena of items plus one ordered index list per
// symbol. Items reference their children by ItemID, so an item shared by
// several parents is stored once.
type Forest struct {
	items []*Item
	cells map[Symbol][]ItemID
	// pruned marks items a size filter dropped from every cell holding them.
	// Enumeration skips them wherever they appear as slot alternatives.
	pruned map[ItemID]bool
}

// NewForest creates an empty forest.
func NewForest() *Forest {
	return &Forest{
		cells: make(map[Symbol][]ItemID),
	}
}

// Add appends a new item to the arena and to the cell of sym.
func (f *Forest) Add(sym Symbol, app *RuleApplication, score float64, children ...Slot) ItemID {
	id := f.Insert(sym, app, score, children...)
	f.cells[sym] = append(f.cells[sym], id)
	return id
}

// Insert appends a new item to the arena without placing it in any cell.
// Loaders use it when cell membership is declared separately.
func (f *Forest) Insert(sym Symbol, app *RuleApplication, score float64, children ...Slot) ItemID {
	id := ItemID(len(f.items))
	f.items = append(f.items, &Item{
		ID:          id,
		Symbol:      sym,
		Application: app,
		Children:    children,
		Score:       score,
	})
	return id
}

// Place appends an existing item to the cell of sym.
func (f *Forest) Place(sym Symbol, id ItemID) error {
	if f.Item(id) == nil {
		return fmt.Errorf("place %s: unknown item %d", sym, id)
	}
	f.cells[sym] = append(f.cells[sym], id)
	return nil
}

// Item returns the arena entry for id, or nil when out of range.
func (f *Forest) Item(id ItemID) *Item {
	if f == nil || id < 0 || int(id) >= len(f.items) {
		return nil
	}
	return f.items[id]
}

// Cell returns the items of sym in cell order.
func (f *Forest) Cell(sym Symbol) []*Item {
	if f == nil {
		return nil
	}
	ids := f.cells[sym]
	out := make([]*Item, 0, len(ids))
	for _, id := range ids {
		out = append(out, f.items[id])
	}
	return out
}

// CellIDs returns a copy of the index list of sym.
func (f *Forest) CellIDs(sym Symbol) []ItemID {
	if f == nil {
		return nil
	}
	return append([]ItemID(nil), f.cells[sym]...)
}

// Len is the number of items in the cell of sym.
func (f *Forest) Len(sym Symbol) int {
	if f == nil {
		return 0
	}
	return len(f.cells[sym])
}

// Has reports whether sym has a non-empty cell.
func (f *Forest) Has(sym Symbol) bool {
	return f.Len(sym) > 0
}

// Symbols returns all cell symbols in sorted order.
func (f *Forest) Symbols() []Symbol {
	if f == nil {
		return nil
	}
	out := make([]Symbol, 0, len(f.cells))
	for sym := range f.cells {
		out = append(out, sym)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NumItems is the size of the arena.
func (f *Forest) NumItems() int {
	if f == nil {
		return 0
	}
	return len(f.items)
}

// CellSizes reports the item count per symbol.
func (f *Forest) CellSizes() map[Symbol]int {
	counts := make(map[Symbol]int)
	if f == nil {
		return counts
	}
	for sym, ids := range f.cells {
		counts[sym] = len(ids)
	}
	return counts
}

// withCells returns a forest sharing the arena of f with new cell lists.
// Items that f held in some cell but cells no longer holds in any are pruned.
func (f *Forest) withCells(cells map[Symbol][]ItemID) *Forest {
	kept := make(map[ItemID]bool)
	for _, ids := range cells {
		for _, id := range ids {
			kept[id] = true
		}
	}
	pruned := make(map[ItemID]bool, len(f.pruned))
	for id := range f.pruned {
		pruned[id] = true
	}
	for _, ids := range f.cells {
		for _, id := range ids {
			if !kept[id] {
				pruned[id] = true
			}
		}
	}
	return &Forest{items: f.items, cells: cells, pruned: pruned}
}

// Retained reports whether id is in the arena and was not pruned by a size
// filter.
func (f *Forest) Retained(id ItemID) bool {
	return f.Item(id) != nil && !f.pruned[id]
}

// retainedAlternatives returns the alternatives of s that survived filtering.
func (f *Forest) retainedAlternatives(s Slot) []ItemID {
	if len(f.pruned) == 0 {
		return s.Alternatives
	}
	out := make([]ItemID, 0, len(s.Alternatives))
	for _, id := range s.Alternatives {
		if !f.pruned[id] {
			out = append(out, id)
		}
	}
	return out
}

// Validate checks that every child reference resolves and that the item
// graph has no cycle reachable from any cell.
func (f *Forest) Validate() error {
	if f == nil {
		return nil
	}
	for _, it := range f.items {
		if it.Application == nil || it.Application.Rule == nil {
			return fmt.Errorf("item %d: missing rule application", it.ID)
		}
		for _, s := range it.Children {
			if len(s.Alternatives) == 0 {
				return fmt.Errorf("item %d: slot %q has no alternatives", it.ID, s.Name)
			}
			for _, child := range s.Alternatives {
				if f.Item(child) == nil {
					return fmt.Errorf("item %d: slot %q references unknown item %d", it.ID, s.Name, child)
				}
			}
		}
	}

	const (
		white = iota
		grey
		black
	)
	color := make([]int, len(f.items))
	var visit func(id ItemID) error
	visit = func(id ItemID) error {
		switch color[id] {
		case grey:
			return fmt.Errorf("cycle through item %d", id)
		case black:
			return nil
		}
		color[id] = grey
		for _, s := range f.items[id].Children {
			for _, child := range s.Alternatives {
				if err := visit(child); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}
	for _, sym := range f.Symbols() {
		for _, id := range f.cells[sym] {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// Reachable returns the ids of all retained items reachable from the cell of
// sym, each visited once, in ascending order.
func (f *Forest) Reachable(sym Symbol) []ItemID {
	if f == nil {
		return nil
	}
	seen := make(map[ItemID]bool)
	queue := append([]ItemID(nil), f.cells[sym]...)
	for _, id := range queue {
		seen[id] = true
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, s := range f.items[cur].Children {
			for _, child := range f.retainedAlternatives(s) {
				if !seen[child] {
					seen[child] = true
					queue = append(queue, child)
				}
			}
		}
	}
	out := make([]ItemID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
