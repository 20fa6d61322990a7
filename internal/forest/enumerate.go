package forest

import (
	"container/heap"
	"fmt"
	"iter"
	"strconv"
	"strings"
)

// Enumerator lazily produces derivations of a forest in non-increasing score
// order. A derivation's score is the sum of the local scores of its items.
// Every item and every packed slot keeps one memoised k-best list, so an item
// shared by many parents is expanded once.
type Enumerator struct {
	f     *Forest
	items map[ItemID]*lazyNode
	slots map[slotKey]*lazyNode
	cells map[Symbol]*lazyNode
}

type slotKey struct {
	item ItemID
	slot int
}

// NewEnumerator validates f and prepares lazy k-best lists over it.
func NewEnumerator(f *Forest) (*Enumerator, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid forest: %w", err)
	}
	return &Enumerator{
		f:     f,
		items: make(map[ItemID]*lazyNode),
		slots: make(map[slotKey]*lazyNode),
		cells: make(map[Symbol]*lazyNode),
	}, nil
}

// Derivations returns the score-ordered derivation stream of the cell of sym.
// The sequence is empty when the cell is empty and ends when the forest is
// exhausted.
func (e *Enumerator) Derivations(sym Symbol) iter.Seq[ScoredDerivation] {
	return func(yield func(ScoredDerivation) bool) {
		root := e.cellNode(sym)
		for k := 0; ; k++ {
			d, ok := root.kth(k)
			if !ok {
				return
			}
			if !yield(d) {
				return
			}
		}
	}
}

// FromSlice adapts an already materialised list to a derivation stream.
func FromSlice(ds []ScoredDerivation) iter.Seq[ScoredDerivation] {
	return func(yield func(ScoredDerivation) bool) {
		for _, d := range ds {
			if !yield(d) {
				return
			}
		}
	}
}

func (e *Enumerator) cellNode(sym Symbol) *lazyNode {
	if n, ok := e.cells[sym]; ok {
		return n
	}
	n := e.choiceNode(e.f.cells[sym])
	e.cells[sym] = n
	return n
}

// choiceNode is an OR node over alternative items.
func (e *Enumerator) choiceNode(alternatives []ItemID) *lazyNode {
	n := &lazyNode{
		build: func(_ int, sub []Derivation) Derivation { return sub[0] },
	}
	for _, id := range alternatives {
		n.edges = append(n.edges, hyperedge{tails: []*lazyNode{e.itemNode(id)}})
	}
	return n
}

// itemNode is an AND node combining one derivation per child slot.
func (e *Enumerator) itemNode(id ItemID) *lazyNode {
	if n, ok := e.items[id]; ok {
		return n
	}
	it := e.f.items[id]
	n := &lazyNode{}
	e.items[id] = n

	tails := make([]*lazyNode, len(it.Children))
	for i, s := range it.Children {
		key := slotKey{item: id, slot: i}
		sn, ok := e.slots[key]
		if !ok {
			sn = e.choiceNode(e.f.retainedAlternatives(s))
			e.slots[key] = sn
		}
		tails[i] = sn
	}
	n.edges = []hyperedge{{weight: it.Score, tails: tails}}
	n.build = func(_ int, sub []Derivation) Derivation {
		d := &Internal{Item: it.ID, Application: it.Application}
		if len(sub) > 0 {
			d.Children = make([]Branch, len(sub))
			for i, s := range sub {
				d.Children[i] = Branch{Slot: it.Children[i].Name, Derivation: s}
			}
		}
		return d
	}
	return n
}

type hyperedge struct {
	weight float64
	tails  []*lazyNode
}

type lazyNode struct {
	edges []hyperedge
	build func(edge int, sub []Derivation) Derivation

	derived     []ScoredDerivation
	cand        candidateHeap
	seen        map[string]bool
	last        *candidate
	initialized bool
	seq         int
}

type candidate struct {
	edge  int
	ranks []int
	score float64
	seq   int
}

func (n *lazyNode) kth(k int) (ScoredDerivation, bool) {
	if !n.initialized {
		n.initialized = true
		n.seen = make(map[string]bool)
		for ei := range n.edges {
			n.push(ei, make([]int, len(n.edges[ei].tails)))
		}
	}
	for len(n.derived) <= k {
		if n.last != nil {
			n.pushSuccessors(*n.last)
			n.last = nil
		}
		if n.cand.Len() == 0 {
			return ScoredDerivation{}, false
		}
		c := heap.Pop(&n.cand).(*candidate)
		edge := n.edges[c.edge]
		sub := make([]Derivation, len(edge.tails))
		for i, t := range edge.tails {
			sub[i] = t.derived[c.ranks[i]].Derivation
		}
		n.derived = append(n.derived, ScoredDerivation{Score: c.score, Derivation: n.build(c.edge, sub)})
		n.last = c
	}
	return n.derived[k], true
}

func (n *lazyNode) pushSuccessors(c candidate) {
	for i := range c.ranks {
		next := append([]int(nil), c.ranks...)
		next[i]++
		n.push(c.edge, next)
	}
}

// push adds the candidate (edge, ranks) if every tail has the requested rank.
func (n *lazyNode) push(edge int, ranks []int) {
	key := candidateKey(edge, ranks)
	if n.seen[key] {
		return
	}
	e := n.edges[edge]
	score := e.weight
	for i, t := range e.tails {
		d, ok := t.kth(ranks[i])
		if !ok {
			return
		}
		score += d.Score
	}
	n.seen[key] = true
	n.seq++
	heap.Push(&n.cand, &candidate{edge: edge, ranks: ranks, score: score, seq: n.seq})
}

func candidateKey(edge int, ranks []int) string {
	var sb strings.Builder
	sb.WriteString(strconv.Itoa(edge))
	for _, r := range ranks {
		sb.WriteByte(',')
		sb.WriteString(strconv.Itoa(r))
	}
	return sb.String()
}

// candidateHeap pops the highest score first; equal scores pop in push order.
type candidateHeap []*candidate

func (h candidateHeap) Len() int { return len(h) }
func (h candidateHeap) Less(i, j int) bool {
	if h[i].score != h[j].score {
		return h[i].score > h[j].score
	}
	return h[i].seq < h[j].seq
}
func (h candidateHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)   { *h = append(*h, x.(*candidate)) }
func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}
