package resolver

import (
	"testing"

	"kbest/internal/forest"
	"kbest/internal/labels"

	"github.com/stretchr/testify/assert"
)

type fakeStrategy struct {
	mode Mode
	fn   func(a labels.Assignment, s Sentence) bool
}

func (f fakeStrategy) Mode() Mode { return f.mode }
func (f fakeStrategy) Apply(a labels.Assignment, s Sentence) bool {
	return f.fn(a, s)
}

func TestChain_StopsAtFirstApplyingStrategy(t *testing.T) {
	var calls []Mode
	record := func(m Mode, applies bool) fakeStrategy {
		return fakeStrategy{mode: m, fn: func(a labels.Assignment, _ Sentence) bool {
			calls = append(calls, m)
			return applies
		}}
	}

	chain := NewChain(record("first", false), record("second", true), record("third", true))
	mode := chain.Resolve(labels.Assignment{}, Sentence{})

	if mode != "second" {
		t.Fatalf("expected mode second, got %q", mode)
	}
	if len(calls) != 2 {
		t.Fatalf("expected 2 strategy calls, got %v", calls)
	}
}

func TestChain_NoStrategyApplies(t *testing.T) {
	chain := NewChain(fakeStrategy{mode: "never", fn: func(labels.Assignment, Sentence) bool { return false }})
	assert.Equal(t, Mode(""), chain.Resolve(labels.Assignment{}, Sentence{}))
}

func TestResolvePredicate_Explicit(t *testing.T) {
	a := labels.Assignment{3: labels.Predicate, 4: labels.Argument}
	mode := ResolvePredicate(a, map[forest.GraphNode]string{1: "VERB"}, []forest.GraphNode{1, 3, 4})

	assert.Equal(t, ModeExplicit, mode)
	assert.Equal(t, labels.Assignment{3: labels.Predicate, 4: labels.Argument}, a)
}

func TestExplicitStrategy_NeedsPredicateRole(t *testing.T) {
	var st ExplicitStrategy
	assert.True(t, st.Apply(labels.Assignment{2: labels.Argument, 5: labels.Predicate}, Sentence{}))
	assert.False(t, st.Apply(labels.Assignment{2: labels.Argument, 5: "A0"}, Sentence{}))
	assert.False(t, st.Apply(labels.Assignment{}, Sentence{}))
}

func TestResolvePredicate_NoVerbUsesTopologicalAnchor(t *testing.T) {
	a := labels.Assignment{}
	pos := map[forest.GraphNode]string{7: "NOUN", 10: "ADJ", 42: "NOUN"}
	mode := ResolvePredicate(a, pos, []forest.GraphNode{10, 42, 7})

	assert.Equal(t, ModeNoVerb, mode)
	assert.Equal(t, labels.Assignment{42: labels.Predicate}, a)
}

func TestResolvePredicate_NoVerbShortOrder(t *testing.T) {
	a := labels.Assignment{}
	assert.Equal(t, ModeNoVerb, ResolvePredicate(a, nil, []forest.GraphNode{5}))
	assert.Equal(t, labels.Assignment{5: labels.Predicate}, a)

	b := labels.Assignment{}
	assert.Equal(t, ModeNoVerb, ResolvePredicate(b, nil, nil))
	assert.Empty(t, b)
}

func TestResolvePredicate_SingleVerb(t *testing.T) {
	a := labels.Assignment{2: labels.Argument}
	pos := map[forest.GraphNode]string{1: "NOUN", 2: "NOUN", 3: "VERB"}
	mode := ResolvePredicate(a, pos, []forest.GraphNode{3, 1, 2})

	assert.Equal(t, ModeSingleVerb, mode)
	assert.Equal(t, labels.Predicate, a[3])
}

func TestResolvePredicate_FirstVerbInTopologicalOrder(t *testing.T) {
	a := labels.Assignment{}
	pos := map[forest.GraphNode]string{3: "VERB", 9: "VERB", 5: "NOUN"}
	mode := ResolvePredicate(a, pos, []forest.GraphNode{5, 9, 3})

	assert.Equal(t, ModeFirstVerb, mode)
	assert.Equal(t, labels.Assignment{9: labels.Predicate}, a)
}

func TestResolvePredicate_FirstVerbIgnoresUnorderedVerbs(t *testing.T) {
	a := labels.Assignment{}
	pos := map[forest.GraphNode]string{3: "VERB", 9: "VERB"}
	mode := ResolvePredicate(a, pos, []forest.GraphNode{1, 3})

	assert.Equal(t, ModeFirstVerb, mode)
	assert.Equal(t, labels.Assignment{3: labels.Predicate}, a)
}

func TestAddArgIndices_NumbersContiguousRuns(t *testing.T) {
	a := labels.Assignment{1: "O", 2: "A", 3: "A", 4: "O", 5: "A"}
	AddArgIndices(a, 5)
	assert.Equal(t, labels.Assignment{1: "O", 2: "A0", 3: "A0", 4: "O", 5: "A1"}, a)
}

func TestAddArgIndices_FillsOutsideAndKeepsPredicate(t *testing.T) {
	a := labels.Assignment{2: "A", 3: "P", 4: "A", 5: "A"}
	AddArgIndices(a, 6)
	assert.Equal(t, labels.Assignment{1: "O", 2: "A0", 3: "P", 4: "A1", 5: "A1", 6: "O"}, a)
}

func TestComplete_DoesNotModifyInput(t *testing.T) {
	in := labels.Assignment{2: "A"}
	s := Sentence{
		POS:      map[forest.GraphNode]string{1: "VERB", 2: "NOUN", 3: "NOUN"},
		TopOrder: []forest.GraphNode{1, 2, 3},
		Length:   3,
	}
	out, mode := Complete(in, s)

	assert.Equal(t, ModeSingleVerb, mode)
	assert.Equal(t, labels.Assignment{1: "P", 2: "A0", 3: "O"}, out)
	assert.Equal(t, labels.Assignment{2: "A"}, in)
}
