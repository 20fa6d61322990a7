package resolver

import (
	"sort"

	"kbest/internal/forest"
	"kbest/internal/labels"
)

// VerbTag is the part-of-speech tag treated as a predicate candidate.
const VerbTag = "VERB"

// Mode records which rule assigned the predicate.
type Mode string

const (
	// ModeExplicit: the grammar already produced a predicate.
	ModeExplicit Mode = "X"
	// ModeNoVerb: no verb in the sentence, the topological anchor is used.
	ModeNoVerb Mode = "A"
	// ModeSingleVerb: the only verb is the predicate.
	ModeSingleVerb Mode = "B"
	// ModeFirstVerb: the verb earliest in topological order is the predicate.
	ModeFirstVerb Mode = "C"
)

// Sentence carries the auxiliary data predicate resolution needs.
type Sentence struct {
	POS      map[forest.GraphNode]string
	TopOrder []forest.GraphNode
	// Length is the number of sentence tokens, used for argument indexing.
	Length int
}

func (s Sentence) verbs() []forest.GraphNode {
	var out []forest.GraphNode
	for n, tag := range s.POS {
		if tag == VerbTag {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// anchor is the fixed syntactic fallback: the node at topological index 1.
func (s Sentence) anchor() (forest.GraphNode, bool) {
	switch {
	case len(s.TopOrder) > 1:
		return s.TopOrder[1], true
	case len(s.TopOrder) == 1:
		return s.TopOrder[0], true
	}
	return 0, false
}

// Strategy assigns a predicate when its case applies.
type Strategy interface {
	Mode() Mode
	// Apply reports whether the strategy's case held; it may modify a.
	Apply(a labels.Assignment, s Sentence) bool
}

// Chain tries strategies in priority order until one applies.
type Chain struct {
	strategies []Strategy
}

func NewChain(strategies ...Strategy) *Chain {
	return &Chain{strategies: strategies}
}

// NewDefaultChain returns the explicit / no-verb / single-verb / first-verb
// chain. Its last strategy always applies, so Resolve is total.
func NewDefaultChain() *Chain {
	return NewChain(ExplicitStrategy{}, NoVerbStrategy{}, SingleVerbStrategy{}, FirstVerbStrategy{})
}

// Resolve runs the chain on a and returns the mode of the strategy that
// applied, or "" if none did.
func (c *Chain) Resolve(a labels.Assignment, s Sentence) Mode {
	for _, st := range c.strategies {
		if st.Apply(a, s) {
			return st.Mode()
		}
	}
	return ""
}

type ExplicitStrategy struct{}

func (ExplicitStrategy) Mode() Mode { return ModeExplicit }

func (ExplicitStrategy) Apply(a labels.Assignment, _ Sentence) bool {
	return len(a.WithRole(labels.Predicate)) > 0
}

type NoVerbStrategy struct{}

func (NoVerbStrategy) Mode() Mode { return ModeNoVerb }

func (NoVerbStrategy) Apply(a labels.Assignment, s Sentence) bool {
	if len(s.verbs()) > 0 {
		return false
	}
	if n, ok := s.anchor(); ok {
		a[n] = labels.Predicate
	}
	return true
}

type SingleVerbStrategy struct{}

func (SingleVerbStrategy) Mode() Mode { return ModeSingleVerb }

func (SingleVerbStrategy) Apply(a labels.Assignment, s Sentence) bool {
	verbs := s.verbs()
	if len(verbs) != 1 {
		return false
	}
	a[verbs[0]] = labels.Predicate
	return true
}

// FirstVerbStrategy picks the verb that occurs earliest in topological
// order. Verbs missing from the order are ignored; if none is ordered the
// topological anchor is used instead.
type FirstVerbStrategy struct{}

func (FirstVerbStrategy) Mode() Mode { return ModeFirstVerb }

func (FirstVerbStrategy) Apply(a labels.Assignment, s Sentence) bool {
	position := make(map[forest.GraphNode]int, len(s.TopOrder))
	for i, n := range s.TopOrder {
		if _, dup := position[n]; !dup {
			position[n] = i
		}
	}
	best, bestIdx := forest.GraphNode(0), -1
	for _, v := range s.verbs() {
		idx, ok := position[v]
		if !ok {
			continue
		}
		if bestIdx < 0 || idx < bestIdx {
			best, bestIdx = v, idx
		}
	}
	if bestIdx >= 0 {
		a[best] = labels.Predicate
	} else if n, ok := s.anchor(); ok {
		a[n] = labels.Predicate
	}
	return true
}
