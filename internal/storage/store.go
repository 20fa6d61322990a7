package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store combines run bookkeeping and per-sentence result persistence.
type Store interface {
	RunStore
	ResultStore
	Close() error
}

// RunStore records batch runs.
type RunStore interface {
	// CreateRun inserts a new run.
	CreateRun(ctx context.Context, run *Run) error

	// FinishRun stores the finish time and summary counters of a run.
	FinishRun(ctx context.Context, run *Run) error

	// ListRuns returns all runs, most recent first.
	ListRuns(ctx context.Context) ([]Run, error)
}

// ResultStore persists sentence results and answers rule statistics.
type ResultStore interface {
	// SaveSentence replaces the result of one sentence under one filter.
	SaveSentence(ctx context.Context, rec *SentenceRecord) error

	// RuleStats aggregates rule usage of a run per filter and rule.
	RuleStats(ctx context.Context, runID string) ([]RuleStat, error)
}

// Run is one invocation of the batch driver.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	ModelDir   string
	// Config is the effective configuration as JSON.
	Config    string
	Sentences int
	Disorders int
}

// NewRun returns a run with a fresh id, started now.
func NewRun(modelDir, config string) *Run {
	return &Run{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		ModelDir:  modelDir,
		Config:    config,
	}
}

// Sentence statuses.
const (
	StatusOK           = "ok"
	StatusNoDerivation = "no_derivation"
	StatusError        = "error"
)

type SentenceRecord struct {
	RunID      string
	Sentence   int
	Filter     string
	Status     string
	CellBefore int
	CellAfter  int
	Kept       int
	Anomalies  int
	// Metric is the best metric value of a metric filter, nil otherwise or
	// when undefined.
	Metric      *float64
	Error       string
	Derivations []DerivationRecord
	Usage       []RuleUsageRecord
}

type DerivationRecord struct {
	Rank   int
	Score  float64
	Key    string
	Labels string
}

type RuleUsageRecord struct {
	RuleID int
	LHS    string
	Weight float64
	Text   string
	Count  int
}

// RuleStat is the usage of one rule under one filter across a run.
type RuleStat struct {
	Filter string
	RuleID int
	LHS    string
	Weight float64
	Text   string
	Count  int
	// Percent is Count relative to all rule applications of the filter.
	Percent float64
	// LHSPercent is Count relative to the applications of rules sharing LHS.
	LHSPercent float64
}
