package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"kbest/internal/config"
	"kbest/internal/dataset"
	"kbest/internal/forest"
	"kbest/internal/logging"
	"kbest/internal/report"
	"kbest/internal/storage"
)

// ReportFile is the run report written next to the sentence directories.
const ReportFile = "kbest_report.json"

// Runner drives every configured filter over every sentence of a run.
type Runner struct {
	cfg     *config.Config
	layout  dataset.Layout
	scanner *dataset.Scanner
	loader  *dataset.Loader
	store   storage.Store
	logger  *zap.Logger

	// ReportPath overrides where the run report is written.
	ReportPath string
}

// NewRunner wires a runner. store may be nil to skip persistence.
func NewRunner(cfg *config.Config, store storage.Store, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	layout := dataset.Layout{
		DataDir:    cfg.DataDir,
		ModelDir:   cfg.ModelDir,
		PreprocDir: cfg.PreprocDir,
	}
	return &Runner{
		cfg:        cfg,
		layout:     layout,
		scanner:    dataset.NewScanner(layout),
		loader:     dataset.NewLoader(layout),
		store:      store,
		logger:     logger,
		ReportPath: filepath.Join(cfg.DataDir, cfg.ModelDir, ReportFile),
	}
}

// Result is the outcome of one run.
type Result struct {
	Run       *storage.Run
	Report    *report.RunReport
	Sentences []*SentenceOutcome
}

// Run processes all sentences in the configured range. Per-sentence failures
// are recorded and do not stop the run; only discovery, storage and
// cancellation errors are returned.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	cfgJSON, _ := json.Marshal(r.cfg)
	run := storage.NewRun(r.cfg.ModelDir, string(cfgJSON))
	rep := report.NewRunReport(run.ID, r.cfg.ModelDir)
	logger := r.logger.With(zap.String("run", run.ID))

	stage := rep.BeginStage("discover")
	sentences, err := r.scanner.Sentences(dataset.Range{First: r.cfg.First, Last: r.cfg.Last})
	if err != nil {
		rep.EndStage(stage, "error", nil, nil, err)
		return nil, err
	}
	rep.EndStage(stage, "ok", map[string]float64{"sentence_dirs": float64(len(sentences))}, nil, nil)
	logger.Info("discovered sentences",
		zap.Int("count", len(sentences)),
		zap.Strings("filters", filterNames(r.cfg.Enabled())))

	if r.store != nil {
		if err := r.store.CreateRun(ctx, run); err != nil {
			return nil, fmt.Errorf("failed to record run: %w", err)
		}
	}

	stage = rep.BeginStage("process")
	outcomes, err := r.processAll(ctx, sentences, logger)
	if err != nil {
		rep.EndStage(stage, "error", nil, nil, err)
		return nil, err
	}
	rep.EndStage(stage, "ok", processCounters(outcomes), nil, nil)

	stage = rep.BeginStage("emit")
	if err := r.emit(ctx, run, rep, outcomes, logger); err != nil {
		rep.EndStage(stage, "error", nil, nil, err)
		return nil, err
	}
	rep.EndStage(stage, "ok", nil, nil, nil)

	rep.Finalize()
	run.FinishedAt = time.Now().UTC()
	run.Sentences = rep.Summary.Sentences
	run.Disorders = rep.Summary.SumDisorders
	if r.store != nil {
		if err := r.store.FinishRun(ctx, run); err != nil {
			return nil, fmt.Errorf("failed to finish run: %w", err)
		}
	}
	if err := rep.Save(r.ReportPath); err != nil {
		logger.Warn("failed to write run report", zap.String("path", r.ReportPath), zap.Error(err))
	}

	logger.Info("run finished",
		zap.Intp("first_sentence", rep.Summary.FirstSentence),
		zap.Intp("last_sentence", rep.Summary.LastSentence),
		zap.Int("sentences", rep.Summary.Sentences),
		zap.Int("sum_score_disorders", rep.Summary.SumDisorders),
		zap.Float64("avg_score_disorders", rep.Summary.AvgDisorders))

	return &Result{Run: run, Report: rep, Sentences: outcomes}, nil
}

// processAll runs sentences on a bounded worker pool. Outcomes keep the
// order of sentences regardless of completion order.
func (r *Runner) processAll(ctx context.Context, sentences []int, logger *zap.Logger) ([]*SentenceOutcome, error) {
	outcomes := make([]*SentenceOutcome, len(sentences))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.cfg.Workers, 1))

	for i, sen := range sentences {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = r.processSentence(sen, logger)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (r *Runner) processSentence(sen int, logger *zap.Logger) *SentenceOutcome {
	out := &SentenceOutcome{Sentence: sen}
	log := logging.Sentence(logger, sen, "")

	f, err := r.loader.Forest(sen)
	switch {
	case errors.Is(err, dataset.ErrNoChart):
		out.Skipped = true
		log.Debug("no chart, skipping")
		return out
	case err != nil:
		out.Err = err
		log.Error("failed to load chart", zap.Error(err))
		return out
	}

	if !f.Has(forest.RootSymbol) {
		out.Err = forest.ErrEmptyForest
		log.Info("no derivation found")
		return out
	}

	var gold *dataset.Gold
	if r.cfg.NeedsGold() {
		gold, err = r.loader.Gold(sen)
		if err != nil {
			out.Err = err
			log.Error("failed to load gold data", zap.Error(err))
			return out
		}
	}

	for _, nf := range r.cfg.Enabled() {
		out.Filters = append(out.Filters, r.runFilter(sen, f, gold, nf, logging.Sentence(logger, sen, nf.Name)))
	}
	return out
}

func (r *Runner) emit(ctx context.Context, run *storage.Run, rep *report.RunReport, outcomes []*SentenceOutcome, logger *zap.Logger) error {
	for _, out := range outcomes {
		if out.Skipped {
			continue
		}
		if out.Err != nil {
			r.emitFailure(ctx, run, rep, out)
			continue
		}
		for _, fo := range out.Filters {
			if fo.Writer != nil {
				if err := fo.Writer.Save(r.layout.OutputDir(out.Sentence, fo.Filter)); err != nil {
					logger.Error("failed to write artifacts",
						zap.Int("sentence", out.Sentence),
						zap.String("filter", fo.Filter),
						zap.Error(err))
					fo.Record.Status = storage.StatusError
					fo.Record.Error = err.Error()
				}
			}
			for _, s := range fo.Signals {
				rep.AddSignal(s)
			}
			if fo.Record.Status == storage.StatusOK {
				rep.AddSentence(report.SentenceResult{
					Sentence:  out.Sentence,
					Filter:    fo.Filter,
					Kept:      fo.Record.Kept,
					Disorders: fo.Record.Anomalies,
					ByMetric:  fo.ByMetric,
					Metric:    fo.Best,
				})
			}
			if r.store != nil {
				fo.Record.RunID = run.ID
				if err := r.store.SaveSentence(ctx, fo.Record); err != nil {
					return fmt.Errorf("failed to save sentence %d: %w", out.Sentence, err)
				}
			}
		}
	}
	return nil
}

func (r *Runner) emitFailure(ctx context.Context, run *storage.Run, rep *report.RunReport, out *SentenceOutcome) {
	status := storage.StatusError
	sig := report.Signal{
		Code:     report.SignalSentenceFailed,
		Stage:    "load",
		Severity: report.SeverityCritical,
		Sentence: out.Sentence,
		Message:  out.Err.Error(),
	}
	if errors.Is(out.Err, forest.ErrEmptyForest) {
		status = storage.StatusNoDerivation
		sig.Code = report.SignalNoDerivation
		sig.Severity = report.SeverityInfo
		sig.Message = "root cell is empty"
	}
	rep.AddSignal(sig)
	if r.store == nil {
		return
	}
	for _, nf := range r.cfg.Enabled() {
		rec := &storage.SentenceRecord{
			RunID:    run.ID,
			Sentence: out.Sentence,
			Filter:   nf.Name,
			Status:   status,
		}
		if status == storage.StatusError {
			rec.Error = out.Err.Error()
		}
		if err := r.store.SaveSentence(ctx, rec); err != nil {
			r.logger.Warn("failed to record sentence failure", zap.Int("sentence", out.Sentence), zap.Error(err))
		}
	}
}

func filterNames(fs []config.NamedFilter) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.Name
	}
	return out
}

func processCounters(outcomes []*SentenceOutcome) map[string]float64 {
	var processed, skipped, failed float64
	for _, o := range outcomes {
		switch {
		case o.Skipped:
			skipped++
		case o.Err != nil:
			failed++
		default:
			processed++
		}
	}
	return map[string]float64{
		"processed": processed,
		"skipped":   skipped,
		"failed":    failed,
	}
}
