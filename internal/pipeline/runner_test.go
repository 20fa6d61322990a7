package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"kbest/internal/config"
	"kbest/internal/dataset"
	"kbest/internal/forest"
	"kbest/internal/render"
	"kbest/internal/report"
	"kbest/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// Two START items share the A cell. Item 10 yields derivations covering
// {1,3} at -1.5 and -2.5, item 11 one covering {1,2} at -4.
const chart = `{
  "rules": [
    {"id": 1, "lhs": "S", "weight": 0.5, "text": "S -> A$1", "nonterminals": ["A$1"]},
    {"id": 2, "lhs": "A", "weight": 0.25, "text": "A -> a"},
    {"id": 3, "lhs": "P", "weight": 0.75, "text": "P -> p"}
  ],
  "items": [
    {"id": 10, "symbol": "START", "rule": 1, "nodes": [1, 3], "score": -0.5,
     "children": [{"slot": "A$1", "items": [20, 21]}]},
    {"id": 11, "symbol": "START", "rule": 1, "nodes": [1, 2], "score": -3,
     "children": [{"slot": "A$1", "items": [20]}]},
    {"id": 20, "rule": 2, "nodes": [1], "mapping": {"_1": 1}, "score": -1},
    {"id": 21, "rule": 3, "nodes": [3], "mapping": {"_1": 3}, "score": -2}
  ],
  "cells": {"START": [10, 11], "A": [20, 21]}
}`

const emptyRootChart = `{
  "rules": [{"id": 2, "lhs": "A", "weight": 1, "text": "A -> a"}],
  "items": [{"id": 1, "rule": 2, "nodes": [1], "mapping": {"_1": 1}}],
  "cells": {"A": [1]}
}`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// fixture lays out sentence 1 (full inputs), 2 (no chart) and 3 (empty root).
func fixture(t *testing.T) (string, dataset.Layout) {
	t.Helper()
	root := t.TempDir()
	l := dataset.Layout{DataDir: root, ModelDir: "model", PreprocDir: "preproc"}

	writeFile(t, l.ChartPath(1), chart)
	writeFile(t, l.GoldPath(1), `{"1": "A0", "2": "O", "3": "P"}`)
	writeFile(t, l.TopOrderPath(1), `[3, 1, 2]`)
	writeFile(t, l.ConllPath(1), strings.Join([]string{
		"1\tdogs\tdog\tNOUN\t_\t_\t3\tnsubj\t_\t_",
		"2\toften\toften\tADV\t_\t_\t3\tadvmod\t_\t_",
		"3\tbark\tbark\tVERB\t_\t_\t0\troot\t_\t_",
		"",
	}, "\n"))

	require.NoError(t, os.MkdirAll(l.BolinasDir(2), 0755))
	writeFile(t, l.ChartPath(3), emptyRootChart)
	return root, l
}

func loadConfig(t *testing.T, root string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(fmt.Sprintf(`
data_dir: %s
model_dir: model
preproc_dir: preproc
workers: 2
arg_permutation: true
chart_caps: {basic: 1, max: 10}
filters:
  k2: {k: 2}
  prf1: {pr_metric: f1, chart_filter: basic}
  old: {k: 1, ignore: true}
`, root)))
	require.NoError(t, err)
	return cfg
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestRunner_EndToEnd(t *testing.T) {
	root, layout := fixture(t)
	cfg := loadConfig(t, root)

	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "kbest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	r := NewRunner(cfg, store, zaptest.NewLogger(t))
	r.ReportPath = filepath.Join(t.TempDir(), "report.json")

	ctx := context.Background()
	res, err := r.Run(ctx)
	require.NoError(t, err)

	require.Len(t, res.Sentences, 3)
	assert.False(t, res.Sentences[0].Skipped)
	assert.True(t, res.Sentences[1].Skipped)
	assert.ErrorContains(t, res.Sentences[2].Err, "no derivation")

	k2 := render.ArtifactPaths(layout.OutputDir(1, "k2"), 1)
	assert.Equal(t, "(1 :A) (3);-1.5\n(1 :A) (2);-4\n", readFile(t, k2.Matches))
	assert.Equal(t, "{\"1\": \"A\"}\n{\"1\": \"A\"}\n", readFile(t, k2.Labels))
	assert.Contains(t, readFile(t, k2.Log), "Chart 'START' length: 2\n")
	assert.Contains(t, readFile(t, k2.Log), "k2:\t[1 2] - 2")
	assert.Contains(t, readFile(t, k2.Derivations), "Used rules: [(1, 1), (2, 1)]\n")

	prf1 := render.ArtifactPaths(layout.OutputDir(1, "prf1"), 1)
	assert.Equal(t, "(1 :A0) (3 :P);-1.5\n", readFile(t, prf1.Matches))
	assert.Contains(t, readFile(t, prf1.Log), "length after size filter: 1\n")
	assert.NoFileExists(t, filepath.Join(layout.OutputDir(1, "old"), "sen1_matches.graph"))
	assert.NoDirExists(t, layout.OutputDir(3, "k2"))

	rep := res.Report
	require.NotNil(t, rep.Summary.FirstSentence)
	assert.Equal(t, 1, *rep.Summary.FirstSentence)
	assert.Equal(t, 1, rep.Summary.Sentences)
	assert.Equal(t, 0, rep.Summary.SumDisorders)
	require.Len(t, rep.Summary.Filters, 2)
	require.NotNil(t, rep.Summary.Filters[1].MeanMetric)
	assert.InDelta(t, 1.0, *rep.Summary.Filters[1].MeanMetric, 1e-9)
	codes := make([]string, len(rep.Signals))
	for i, s := range rep.Signals {
		codes[i] = s.Code
	}
	assert.Equal(t, []string{report.SignalNoDerivation}, codes)
	assert.FileExists(t, r.ReportPath)

	runs, err := store.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.Run.ID, runs[0].ID)
	assert.Equal(t, 1, runs[0].Sentences)
	assert.False(t, runs[0].FinishedAt.IsZero())

	stats, err := store.RuleStats(ctx, res.Run.ID)
	require.NoError(t, err)
	want := []storage.RuleStat{
		{Filter: "k2", RuleID: 1, LHS: "S", Weight: 0.5, Text: "S -> A$1", Count: 2, Percent: 50, LHSPercent: 100},
		{Filter: "k2", RuleID: 2, LHS: "A", Weight: 0.25, Text: "A -> a", Count: 2, Percent: 50, LHSPercent: 100},
		{Filter: "prf1", RuleID: 1, LHS: "S", Weight: 0.5, Text: "S -> A$1", Count: 1, Percent: 50, LHSPercent: 100},
		{Filter: "prf1", RuleID: 2, LHS: "A", Weight: 0.25, Text: "A -> a", Count: 1, Percent: 50, LHSPercent: 100},
	}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Errorf("rule stats mismatch (-want +got):\n%s", diff)
	}
}

func TestRunner_WithoutStore(t *testing.T) {
	root, _ := fixture(t)
	cfg := loadConfig(t, root)
	cfg.Workers = 1

	r := NewRunner(cfg, nil, nil)
	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "model", ReportFile), r.ReportPath)
	assert.FileExists(t, r.ReportPath)

	fo := res.Sentences[0].Filters
	require.Len(t, fo, 2)
	assert.Equal(t, "k2", fo[0].Filter)
	assert.Equal(t, 2, fo[0].Record.Kept)
	assert.Equal(t, 2, fo[0].Record.CellBefore)
	assert.Equal(t, 2, fo[0].Record.CellAfter)
	assert.Equal(t, "prf1", fo[1].Filter)
	assert.True(t, fo[1].ByMetric)
	assert.Equal(t, 1, fo[1].Record.CellAfter)
	require.NotNil(t, fo[1].Record.Metric)
	assert.Equal(t, 1.0, *fo[1].Record.Metric)
	assert.Equal(t, []string{"1 3"}, keys(fo[1].Record.Derivations))
	assert.Equal(t, []string{"1 3", "1 2"}, keys(fo[0].Record.Derivations))
}

func TestRunner_SizeFilterPrunesNestedCells(t *testing.T) {
	root, _ := fixture(t)
	cfg := loadConfig(t, root)
	last := 1
	cfg.Last = &last
	core, logs := observer.New(zapcore.DebugLevel)

	res, err := NewRunner(cfg, nil, zap.New(core)).Run(context.Background())
	require.NoError(t, err)

	filtered := logs.FilterMessage("chart filtered").All()
	require.Len(t, filtered, 1)
	fields := filtered[0].ContextMap()
	assert.Equal(t, "prf1", fields["filter"])
	assert.Equal(t, "basic", fields["policy"])
	assert.Equal(t, int64(4), fields["items"])
	assert.Equal(t, int64(2), fields["reachable"])
	assert.Equal(t, map[forest.Symbol]int{forest.RootSymbol: 1, "A": 1}, fields["cells"])

	fo := res.Sentences[0].Filters[1]
	assert.Equal(t, []string{"1 3"}, keys(fo.Record.Derivations))
}

func TestRunner_InsufficientDerivations(t *testing.T) {
	root, _ := fixture(t)
	cfg := loadConfig(t, root)
	cfg.Filters = map[string]config.Filter{"k5": {K: ptr(5)}}
	last := 1
	cfg.Last = &last

	res, err := NewRunner(cfg, nil, nil).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Sentences, 1)

	fo := res.Sentences[0].Filters[0]
	assert.Equal(t, 2, fo.Record.Kept)
	require.Len(t, fo.Signals, 1)
	assert.Equal(t, report.SignalInsufficientDerivations, fo.Signals[0].Code)
	assert.Equal(t, 2.0, fo.Signals[0].Value)
}

func TestRunner_Canceled(t *testing.T) {
	root, _ := fixture(t)
	cfg := loadConfig(t, root)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewRunner(cfg, nil, nil).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunner_MissingModelDir(t *testing.T) {
	cfg := loadConfig(t, t.TempDir())
	_, err := NewRunner(cfg, nil, nil).Run(context.Background())
	assert.Error(t, err)
}

func keys(ds []storage.DerivationRecord) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Key
	}
	return out
}

func ptr[T any](v T) *T { return &v }
