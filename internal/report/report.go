// Package report collects stage timings, quality signals and the summary of
// one batch run and writes them as JSON.
package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"kbest/internal/metric"
)

// Signal codes.
const (
	SignalScoreDisorder           = "score_disorder"
	SignalInsufficientDerivations = "insufficient_derivations"
	SignalMalformedDerivation     = "malformed_derivation"
	SignalNoDerivation            = "no_derivation"
	SignalUndefinedMetric         = "undefined_metric"
	SignalSentenceFailed          = "sentence_failed"
)

// Severities.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

type Signal struct {
	Code     string  `json:"code"`
	Stage    string  `json:"stage"`
	Severity string  `json:"severity"`
	Sentence int     `json:"sentence"`
	Filter   string  `json:"filter,omitempty"`
	Message  string  `json:"message"`
	Value    float64 `json:"value,omitempty"`
}

type StageMetric struct {
	Name       string             `json:"name"`
	Status     string             `json:"status"`
	StartedAt  string             `json:"started_at"`
	FinishedAt string             `json:"finished_at"`
	DurationMS int64              `json:"duration_ms"`
	Counters   map[string]float64 `json:"counters,omitempty"`
	Notes      []string           `json:"notes,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// FilterSummary aggregates one filter over all processed sentences.
type FilterSummary struct {
	Name      string `json:"name"`
	Sentences int    `json:"sentences"`
	Kept      int    `json:"kept"`
	Disorders int    `json:"disorders"`
	// MeanMetric averages the defined best metrics of a metric filter.
	MeanMetric *float64 `json:"mean_metric,omitempty"`
	Undefined  int      `json:"undefined_metrics,omitempty"`
}

type Summary struct {
	FirstSentence     *int            `json:"first_sentence"`
	LastSentence      *int            `json:"last_sentence"`
	Sentences         int             `json:"sentences"`
	SumDisorders      int             `json:"sum_score_disorders"`
	AvgDisorders      float64         `json:"avg_score_disorders"`
	StageCount        int             `json:"stage_count"`
	FailedStages      int             `json:"failed_stages"`
	SignalsBySeverity map[string]int  `json:"signals_by_severity"`
	Filters           []FilterSummary `json:"filters,omitempty"`
}

type RunReport struct {
	Version     string        `json:"version"`
	RunID       string        `json:"run_id"`
	ModelDir    string        `json:"model_dir"`
	GeneratedAt string        `json:"generated_at"`
	Stages      []StageMetric `json:"stages"`
	Signals     []Signal      `json:"signals,omitempty"`
	Summary     Summary       `json:"summary"`

	// per sentence disorder counts, keyed by sentence
	disorders map[int]int
	filters   map[string]*filterAcc
}

type filterAcc struct {
	sentences int
	kept      int
	disorders int
	metricSum float64
	defined   int
	undefined int
}

type StageHandle struct {
	name    string
	started time.Time
}

func NewRunReport(runID, modelDir string) *RunReport {
	return &RunReport{
		Version:     "v1",
		RunID:       runID,
		ModelDir:    modelDir,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Stages:      []StageMetric{},
		Signals:     []Signal{},
		disorders:   make(map[int]int),
		filters:     make(map[string]*filterAcc),
	}
}

func (r *RunReport) BeginStage(name string) StageHandle {
	return StageHandle{name: strings.TrimSpace(name), started: time.Now().UTC()}
}

func (r *RunReport) EndStage(h StageHandle, status string, counters map[string]float64, notes []string, err error) {
	if r == nil || strings.TrimSpace(h.name) == "" {
		return
	}
	if strings.TrimSpace(status) == "" {
		status = "ok"
	}
	finished := time.Now().UTC()
	m := StageMetric{
		Name:       h.name,
		Status:     status,
		StartedAt:  h.started.Format(time.RFC3339Nano),
		FinishedAt: finished.Format(time.RFC3339Nano),
		DurationMS: finished.Sub(h.started).Milliseconds(),
		Counters:   cleanCounters(counters),
		Notes:      cleanNotes(notes),
	}
	if err != nil {
		m.Error = err.Error()
		if status == "ok" {
			m.Status = "error"
		}
	}
	r.Stages = append(r.Stages, m)
}

func (r *RunReport) AddSignal(s Signal) {
	if r == nil {
		return
	}
	s.Code = strings.TrimSpace(s.Code)
	s.Stage = strings.TrimSpace(s.Stage)
	s.Severity = strings.ToLower(strings.TrimSpace(s.Severity))
	s.Message = strings.TrimSpace(s.Message)
	if s.Code == "" || s.Stage == "" || s.Severity == "" || s.Message == "" {
		return
	}
	r.Signals = append(r.Signals, s)
}

// SentenceResult is what the report needs to know about one sentence under
// one filter.
type SentenceResult struct {
	Sentence  int
	Filter    string
	Kept      int
	Disorders int
	// ByMetric marks a metric filter; Metric is its best selected score.
	ByMetric bool
	Metric   metric.Score
}

// AddSentence records a processed sentence result.
func (r *RunReport) AddSentence(res SentenceResult) {
	if r == nil {
		return
	}
	if r.Summary.FirstSentence == nil || res.Sentence < *r.Summary.FirstSentence {
		v := res.Sentence
		r.Summary.FirstSentence = &v
	}
	if r.Summary.LastSentence == nil || res.Sentence > *r.Summary.LastSentence {
		v := res.Sentence
		r.Summary.LastSentence = &v
	}
	r.disorders[res.Sentence] += res.Disorders

	acc, ok := r.filters[res.Filter]
	if !ok {
		acc = &filterAcc{}
		r.filters[res.Filter] = acc
	}
	acc.sentences++
	acc.kept += res.Kept
	acc.disorders += res.Disorders
	if res.ByMetric {
		if res.Metric.Defined {
			acc.metricSum += res.Metric.Value
			acc.defined++
		} else {
			acc.undefined++
		}
	}
}

func (r *RunReport) Finalize() {
	if r == nil {
		return
	}
	r.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
	severityCount := map[string]int{
		SeverityCritical: 0,
		SeverityWarning:  0,
		SeverityInfo:     0,
	}
	sort.SliceStable(r.Signals, func(i, j int) bool {
		pi := signalPriority(r.Signals[i].Severity)
		pj := signalPriority(r.Signals[j].Severity)
		if pi != pj {
			return pi > pj
		}
		if r.Signals[i].Sentence != r.Signals[j].Sentence {
			return r.Signals[i].Sentence < r.Signals[j].Sentence
		}
		if r.Signals[i].Filter != r.Signals[j].Filter {
			return r.Signals[i].Filter < r.Signals[j].Filter
		}
		return r.Signals[i].Code < r.Signals[j].Code
	})
	for _, s := range r.Signals {
		severityCount[s.Severity]++
	}

	failed := 0
	for _, st := range r.Stages {
		if st.Status != "ok" {
			failed++
		}
	}

	sum := 0
	for _, n := range r.disorders {
		sum += n
	}
	avg := 0.0
	if len(r.disorders) > 0 {
		avg = float64(sum) / float64(len(r.disorders))
	}

	names := make([]string, 0, len(r.filters))
	for name := range r.filters {
		names = append(names, name)
	}
	sort.Strings(names)
	filters := make([]FilterSummary, 0, len(names))
	for _, name := range names {
		acc := r.filters[name]
		fs := FilterSummary{
			Name:      name,
			Sentences: acc.sentences,
			Kept:      acc.kept,
			Disorders: acc.disorders,
			Undefined: acc.undefined,
		}
		if acc.defined > 0 {
			mean := acc.metricSum / float64(acc.defined)
			fs.MeanMetric = &mean
		}
		filters = append(filters, fs)
	}

	r.Summary.Sentences = len(r.disorders)
	r.Summary.SumDisorders = sum
	r.Summary.AvgDisorders = avg
	r.Summary.StageCount = len(r.Stages)
	r.Summary.FailedStages = failed
	r.Summary.SignalsBySeverity = severityCount
	r.Summary.Filters = filters
}

func (r *RunReport) Save(path string) error {
	if r == nil {
		return nil
	}
	r.Finalize()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0644)
}

func cleanCounters(raw map[string]float64) map[string]float64 {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		out[key] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func cleanNotes(raw []string) []string {
	if len(raw) == 0 {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, n := range raw {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func signalPriority(severity string) int {
	switch severity {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	default:
		return 1
	}
}
