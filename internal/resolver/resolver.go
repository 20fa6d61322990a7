// Package resolver completes a partial role assignment: it guarantees a
// predicate and numbers argument spans.
package resolver

import (
	"strconv"

	"kbest/internal/forest"
	"kbest/internal/labels"
)

var defaultChain = NewDefaultChain()

// ResolvePredicate assigns a predicate to a in place when it has none.
func ResolvePredicate(a labels.Assignment, pos map[forest.GraphNode]string, topOrder []forest.GraphNode) Mode {
	return defaultChain.Resolve(a, Sentence{POS: pos, TopOrder: topOrder})
}

// AddArgIndices scans nodes 1..length: unlabeled nodes become O and every
// maximal run of adjacent A nodes gets the next 0-based index.
func AddArgIndices(a labels.Assignment, length int) {
	prev := labels.Outside
	idx := -1
	for i := 1; i <= length; i++ {
		n := forest.GraphNode(i)
		role, ok := a[n]
		switch {
		case !ok:
			a[n] = labels.Outside
		case role == labels.Argument:
			if !prev.IsArgument() {
				idx++
			}
			a[n] = labels.Role(string(labels.Argument) + strconv.Itoa(idx))
		}
		prev = a[n]
	}
}

// Complete returns a resolved, argument-indexed copy of a.
func Complete(a labels.Assignment, s Sentence) (labels.Assignment, Mode) {
	out := a.Clone()
	mode := defaultChain.Resolve(out, s)
	AddArgIndices(out, s.Length)
	return out, mode
}
