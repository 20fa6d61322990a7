package render

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbest/internal/aggregate"
	"kbest/internal/forest"
	"kbest/internal/labels"
	"kbest/internal/selector"
)

func sampleDerivation() forest.Derivation {
	start := &forest.Rule{ID: 1, LHS: forest.StartSymbol, Weight: 0.5, Text: "S -> A$1", Nonterminals: []string{"A$1"}}
	arg := &forest.Rule{ID: 7, LHS: "A", Weight: 0.25, Text: "A -> a"}
	return &forest.Internal{
		Item: 0,
		Application: &forest.RuleApplication{
			Rule:    start,
			Nodes:   forest.NewNodeSet(2, 1),
			Mapping: map[string]forest.GraphNode{"_1": 1},
		},
		Children: []forest.Branch{{
			Slot: "A$1",
			Derivation: &forest.Internal{
				Item: 1,
				Application: &forest.RuleApplication{
					Rule:    arg,
					Nodes:   forest.NewNodeSet(2),
					Mapping: map[string]forest.GraphNode{"_1": 2},
				},
			},
		}},
	}
}

func TestSentenceWriter_Artifacts(t *testing.T) {
	d := sampleDerivation()
	agg, err := aggregate.Aggregate(d)
	require.NoError(t, err)

	w := NewSentenceWriter(3)
	w.ChartSizes(12, 4)
	require.NoError(t, w.Add(Entry{
		Rank:       1,
		Score:      -1.5,
		Derivation: d,
		Labels:     labels.Assignment{1: "P", 2: "A0"},
		Aggregate:  agg,
	}))
	w.Anomalies(selector.Anomalies{{Prev: 1, Next: 2}: {Prev: -2, Next: -1.25}})

	dir := t.TempDir()
	require.NoError(t, w.Save(dir))
	p := ArtifactPaths(dir, 3)

	matches, err := os.ReadFile(p.Matches)
	require.NoError(t, err)
	assert.Equal(t, "(1 :P) (2 :A0);-1.5\n", string(matches))

	rules, err := os.ReadFile(p.Derivations)
	require.NoError(t, err)
	assert.Equal(t, "1(A$1 7)\t#-1.5\n"+
		"1\t0.50\tS -> A$1\n"+
		"7\t0.25\tA -> a\n"+
		"Used rules: [(1, 1), (7, 1)]\n"+
		"Different used rules: 2\n"+
		"All used rules: 2\n"+
		"\n", string(rules))

	lbl, err := os.ReadFile(p.Labels)
	require.NoError(t, err)
	assert.Equal(t, "{\"1\": \"P\", \"2\": \"A0\"}\n", string(lbl))

	log, err := os.ReadFile(p.Log)
	require.NoError(t, err)
	assert.Equal(t, "Chart 'START' length: 12\n"+
		"Chart 'START' length after size filter: 4\n"+
		"\nk1:\t[1 2] - 2\n"+
		"1-2: -2 / -1.25\n", string(log))
}

func TestSentenceWriter_SkipsEmptyArtifacts(t *testing.T) {
	w := NewSentenceWriter(9)
	w.ChartSizes(0, 0)
	dir := filepath.Join(t.TempDir(), "k1")
	require.NoError(t, w.Save(dir))

	p := ArtifactPaths(dir, 9)
	_, err := os.Stat(p.Log)
	assert.NoError(t, err)
	_, err = os.Stat(p.Matches)
	assert.True(t, os.IsNotExist(err))
}

func TestSentenceWriter_RejectsRootless(t *testing.T) {
	w := NewSentenceWriter(1)
	assert.ErrorIs(t, w.Add(Entry{Rank: 1, Derivation: forest.Leaf{}}), forest.ErrNoRoot)
}

func TestMatchLine_UnlabeledNodes(t *testing.T) {
	assert.Equal(t, "(1) (3 :O)", MatchLine(forest.NewNodeSet(3, 1), labels.Assignment{3: "O"}))
}

func TestFormatScore(t *testing.T) {
	assert.Equal(t, "0.3", FormatScore(0.1+0.2))
	assert.Equal(t, "-12.25", FormatScore(-12.25))
	assert.Equal(t, "1e-05", FormatScore(0.00001))
}
