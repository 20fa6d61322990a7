package metric

import (
	"testing"

	"kbest/internal/labels"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	k, err := ParseKind("precision")
	require.NoError(t, err)
	assert.Equal(t, Precision, k)

	k, err = ParseKind("f1")
	require.NoError(t, err)
	assert.Equal(t, F1, k)

	_, err = ParseKind("accuracy")
	assert.Error(t, err)
}

func TestCompare_CountsNonOutsideUnits(t *testing.T) {
	gold := labels.Assignment{1: "P", 2: "A0", 3: "O", 4: "A1"}
	pred := labels.Assignment{1: "P", 2: "A0", 3: "A1", 4: "O"}

	c := Compare(pred, gold, Options{})
	assert.Equal(t, Counts{Matched: 2, Predicted: 3, Gold: 3}, c)
	assert.InDelta(t, 2.0/3.0, c.Precision().Value, 1e-9)
	assert.InDelta(t, 2.0/3.0, c.Recall().Value, 1e-9)
	assert.InDelta(t, 2.0/3.0, c.F1().Value, 1e-9)
}

func TestScores_UndefinedIsNotZero(t *testing.T) {
	empty := Compare(labels.Assignment{1: "O"}, labels.Assignment{1: "P"}, Options{})
	assert.False(t, empty.Precision().Defined)
	assert.True(t, empty.Recall().Defined)
	assert.Equal(t, 0.0, empty.Recall().Value)
	assert.False(t, empty.F1().Defined)
	assert.Equal(t, "undefined", empty.F1().String())

	zero := Compare(labels.Assignment{1: "A0"}, labels.Assignment{1: "P"}, Options{})
	assert.Equal(t, Of(0), zero.F1())
	assert.Equal(t, "0.0000", zero.F1().String())
}

func TestScore_Better(t *testing.T) {
	assert.True(t, Of(0).Better(Undefined))
	assert.False(t, Undefined.Better(Of(0)))
	assert.True(t, Of(0.5).Better(Of(0.25)))
	assert.False(t, Of(0.5).Better(Of(0.5)))
}

func TestCompare_ArgPermutation(t *testing.T) {
	gold := labels.Assignment{1: "A0", 2: "P", 3: "A1", 4: "A1"}
	pred := labels.Assignment{1: "A1", 2: "P", 3: "A0", 4: "A0"}

	plain := Compare(pred, gold, Options{})
	assert.Equal(t, 1, plain.Matched)

	permuted := Compare(pred, gold, Options{ArgPermutation: true})
	assert.Equal(t, Counts{Matched: 4, Predicted: 4, Gold: 4}, permuted)
}

func TestCompare_ArgPermutationExtraPredictedGroup(t *testing.T) {
	gold := labels.Assignment{1: "A0", 2: "P"}
	pred := labels.Assignment{1: "A1", 2: "P", 3: "A0"}

	c := Compare(pred, gold, Options{ArgPermutation: true})
	assert.Equal(t, Counts{Matched: 2, Predicted: 3, Gold: 2}, c)
}

func TestCompare_GetByKind(t *testing.T) {
	gold := labels.Assignment{1: "P", 2: "A0"}
	pred := labels.Assignment{1: "P"}
	c := Compare(pred, gold, Options{})
	assert.Equal(t, Of(1), c.Get(Precision))
	assert.Equal(t, Of(0.5), c.Get(Recall))
	assert.InDelta(t, 2.0/3.0, c.Get(F1).Value, 1e-9)
}

func TestMean_SkipsUndefined(t *testing.T) {
	assert.Equal(t, Of(0.5), Mean([]Score{Of(1), Undefined, Of(0)}))
	assert.Equal(t, Undefined, Mean([]Score{Undefined}))
	assert.Equal(t, Undefined, Mean(nil))
}
