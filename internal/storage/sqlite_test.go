package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_Runs(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	older := NewRun("dev_model", `{"model_dir":"dev_model"}`)
	older.StartedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := NewRun("test_model", `{}`)
	require.NotEqual(t, older.ID, newer.ID)

	require.NoError(t, store.CreateRun(ctx, older))
	require.NoError(t, store.CreateRun(ctx, newer))

	older.FinishedAt = older.StartedAt.Add(time.Minute)
	older.Sentences = 12
	older.Disorders = 3
	require.NoError(t, store.FinishRun(ctx, older))

	runs, err := store.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, newer.ID, runs[0].ID)
	assert.True(t, runs[0].FinishedAt.IsZero())
	assert.Equal(t, older.ID, runs[1].ID)
	assert.Equal(t, 12, runs[1].Sentences)
	assert.Equal(t, 3, runs[1].Disorders)
	assert.True(t, older.FinishedAt.Equal(runs[1].FinishedAt))

	assert.Error(t, store.FinishRun(ctx, &Run{ID: "missing"}))
}

func TestSQLiteStore_SaveSentence_Replaces(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	run := NewRun("m", "{}")
	require.NoError(t, store.CreateRun(ctx, run))

	best := 0.75
	rec := &SentenceRecord{
		RunID:    run.ID,
		Sentence: 4,
		Filter:   "prf1",
		Status:   StatusOK,
		Kept:     2,
		Metric:   &best,
		Derivations: []DerivationRecord{
			{Rank: 1, Score: -1, Key: "1 2", Labels: `{"1": "P"}`},
			{Rank: 2, Score: -2, Key: "1 3", Labels: `{"1": "P"}`},
		},
		Usage: []RuleUsageRecord{
			{RuleID: 7, LHS: "A", Weight: 0.5, Text: "A -> a", Count: 2},
			{RuleID: 7, LHS: "A", Weight: 0.5, Text: "A -> a", Count: 1},
		},
	}
	require.NoError(t, store.SaveSentence(ctx, rec))

	stats, err := store.RuleStats(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 3, stats[0].Count)

	// saving again replaces rows instead of accumulating
	rec.Derivations = rec.Derivations[:1]
	rec.Usage = rec.Usage[:1]
	require.NoError(t, store.SaveSentence(ctx, rec))

	stats, err = store.RuleStats(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 2, stats[0].Count)

	var n int
	require.NoError(t, store.db.QueryRow("SELECT COUNT(*) FROM derivations WHERE run_id = ?", run.ID).Scan(&n))
	assert.Equal(t, 1, n)
	var metric float64
	require.NoError(t, store.db.QueryRow("SELECT metric FROM sentences WHERE run_id = ?", run.ID).Scan(&metric))
	assert.Equal(t, 0.75, metric)
}

func TestSQLiteStore_RuleStatsPercentages(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	run := NewRun("m", "{}")
	require.NoError(t, store.CreateRun(ctx, run))

	save := func(sen int, filter string, usage ...RuleUsageRecord) {
		require.NoError(t, store.SaveSentence(ctx, &SentenceRecord{
			RunID: run.ID, Sentence: sen, Filter: filter, Status: StatusOK, Usage: usage,
		}))
	}
	save(1, "k1",
		RuleUsageRecord{RuleID: 1, LHS: "S", Text: "S", Count: 1},
		RuleUsageRecord{RuleID: 2, LHS: "A", Text: "A", Count: 1})
	save(2, "k1",
		RuleUsageRecord{RuleID: 1, LHS: "S", Text: "S", Count: 1},
		RuleUsageRecord{RuleID: 3, LHS: "A", Text: "A'", Count: 1})
	save(1, "k2", RuleUsageRecord{RuleID: 1, LHS: "S", Text: "S", Count: 5})

	stats, err := store.RuleStats(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, stats, 4)

	assert.Equal(t, "k1", stats[0].Filter)
	assert.Equal(t, 1, stats[0].RuleID)
	assert.Equal(t, 2, stats[0].Count)
	assert.InDelta(t, 50.0, stats[0].Percent, 1e-9)
	assert.InDelta(t, 100.0, stats[0].LHSPercent, 1e-9)

	assert.Equal(t, 2, stats[1].RuleID)
	assert.InDelta(t, 25.0, stats[1].Percent, 1e-9)
	assert.InDelta(t, 50.0, stats[1].LHSPercent, 1e-9)

	assert.Equal(t, "k2", stats[3].Filter)
	assert.InDelta(t, 100.0, stats[3].Percent, 1e-9)

	other, err := store.RuleStats(ctx, "no-such-run")
	require.NoError(t, err)
	assert.Empty(t, other)
}
