package pipeline

import (
	"fmt"
	"iter"

	"go.uber.org/zap"

	"kbest/internal/aggregate"
	"kbest/internal/config"
	"kbest/internal/dataset"
	"kbest/internal/forest"
	"kbest/internal/labels"
	"kbest/internal/metric"
	"kbest/internal/render"
	"kbest/internal/report"
	"kbest/internal/selector"
	"kbest/internal/storage"
)

// SentenceOutcome holds everything computed for one sentence. It is built by
// a worker and consumed in sentence order.
type SentenceOutcome struct {
	Sentence int
	// Skipped is set when the sentence has no chart.
	Skipped bool
	// Err is a load failure or forest.ErrEmptyForest.
	Err     error
	Filters []*FilterOutcome
}

// FilterOutcome is the result of one filter on one sentence.
type FilterOutcome struct {
	Filter   string
	ByMetric bool
	// Best is the metric of the top selection of a metric filter.
	Best    metric.Score
	Writer  *render.SentenceWriter
	Record  *storage.SentenceRecord
	Signals []report.Signal
}

func (o *FilterOutcome) signal(code, severity string, value float64, format string, args ...any) {
	o.Signals = append(o.Signals, report.Signal{
		Code:     code,
		Stage:    "select",
		Severity: severity,
		Sentence: o.Record.Sentence,
		Filter:   o.Filter,
		Message:  fmt.Sprintf(format, args...),
		Value:    value,
	})
}

func (r *Runner) runFilter(sen int, f *forest.Forest, gold *dataset.Gold, nf config.NamedFilter, log *zap.Logger) *FilterOutcome {
	out := &FilterOutcome{
		Filter:   nf.Name,
		ByMetric: nf.ByMetric(),
		Writer:   render.NewSentenceWriter(sen),
		Record: &storage.SentenceRecord{
			Sentence: sen,
			Filter:   nf.Name,
			Status:   storage.StatusOK,
		},
	}

	policy, err := nf.Policy()
	if err != nil {
		out.fail(err)
		log.Error("invalid chart filter", zap.Error(err))
		return out
	}
	before := f.Len(forest.RootSymbol)
	if policy != "" {
		f = forest.Filter(f, policy, r.cfg.Caps())
		log.Debug("chart filtered",
			zap.String("policy", string(policy)),
			zap.Int("items", f.NumItems()),
			zap.Int("reachable", len(f.Reachable(forest.RootSymbol))),
			zap.Any("cells", f.CellSizes()))
	}
	after := f.Len(forest.RootSymbol)
	out.Writer.ChartSizes(before, after)
	out.Record.CellBefore = before
	out.Record.CellAfter = after

	enum, err := forest.NewEnumerator(f)
	if err != nil {
		out.fail(err)
		log.Error("invalid forest", zap.Error(err))
		return out
	}
	seq := enum.Derivations(forest.RootSymbol)

	if out.ByMetric {
		r.selectByMetric(out, seq, gold, nf, log)
	} else {
		r.selectKBest(out, seq, nf, log)
	}
	return out
}

func (o *FilterOutcome) fail(err error) {
	o.Record.Status = storage.StatusError
	o.Record.Error = err.Error()
	o.Writer = nil
	o.signal(report.SignalSentenceFailed, report.SeverityCritical, 0, "%v", err)
}

func (r *Runner) selectKBest(out *FilterOutcome, seq iter.Seq[forest.ScoredDerivation], nf config.NamedFilter, log *zap.Logger) {
	k := 0
	if nf.K != nil {
		k = *nf.K
	}
	res := selector.KBestUnique(seq, k, log)

	usage := newUsageTally()
	for _, kept := range res.Kept {
		entry := render.Entry{Rank: kept.Rank, Score: kept.Score, Derivation: kept.Derivation}
		agg, err := aggregate.Aggregate(kept.Derivation)
		if err != nil {
			log.Warn("malformed derivation", zap.Int("rank", kept.Rank), zap.Error(err))
			out.signal(report.SignalMalformedDerivation, report.SeverityWarning, float64(kept.Rank),
				"rank %d: %v", kept.Rank, err)
		} else {
			entry.Labels = agg.Labels
			entry.Aggregate = agg
			usage.add(agg)
		}
		if err := out.Writer.Add(entry); err != nil {
			log.Warn("failed to render derivation", zap.Int("rank", kept.Rank), zap.Error(err))
			continue
		}
		out.Record.Derivations = append(out.Record.Derivations, derivationRecord(kept.Rank, kept.Score, kept.Key, entry.Labels))
	}
	out.Writer.Anomalies(res.Anomalies)

	out.Record.Kept = len(res.Kept)
	out.Record.Anomalies = len(res.Anomalies)
	out.Record.Usage = usage.records()

	if n := len(res.Anomalies); n > 0 {
		out.signal(report.SignalScoreDisorder, report.SeverityWarning, float64(n),
			"%d score-order violations among %d derivations", n, len(res.Kept))
	}
	if res.Warning != nil {
		out.signal(report.SignalInsufficientDerivations, report.SeverityInfo, float64(res.Warning.Found),
			"%s", res.Warning.Error())
	}
}

func (r *Runner) selectByMetric(out *FilterOutcome, seq iter.Seq[forest.ScoredDerivation], gold *dataset.Gold, nf config.NamedFilter, log *zap.Logger) {
	if gold == nil {
		out.fail(fmt.Errorf("filter %s: gold data not loaded", nf.Name))
		return
	}
	kind, err := nf.Metric()
	if err != nil {
		out.fail(err)
		return
	}
	res := selector.SelectByMetric(seq, selector.PRInput{
		Gold:           gold.Labels,
		Metric:         kind,
		Sentence:       gold.Sentence,
		ArgPermutation: r.cfg.ArgPermutation,
		Top:            nf.Top,
		MaxCandidates:  nf.Candidates,
	}, log)

	usage := newUsageTally()
	for _, sel := range res.Selected {
		usage.add(sel.Aggregate)
		entry := render.Entry{
			Rank:       sel.Rank,
			Score:      sel.ModelScore,
			Derivation: sel.Derivation,
			Labels:     sel.Labels,
			Aggregate:  sel.Aggregate,
		}
		if err := out.Writer.Add(entry); err != nil {
			log.Warn("failed to render derivation", zap.Int("rank", sel.Rank), zap.Error(err))
			continue
		}
		out.Writer.Note("\t%s=%s model_rank=%d mode=%s", kind, sel.Metric, sel.ModelRank, sel.Mode)
		key, _ := forest.DedupKey(sel.Derivation)
		out.Record.Derivations = append(out.Record.Derivations, derivationRecord(sel.Rank, sel.ModelScore, key, sel.Labels))
	}

	out.Record.Kept = len(res.Selected)
	out.Record.Usage = usage.records()
	if res.Skipped > 0 {
		out.signal(report.SignalMalformedDerivation, report.SeverityWarning, float64(res.Skipped),
			"%d of %d candidates were malformed", res.Skipped, res.Candidates)
	}
	if len(res.Selected) == 0 {
		out.Best = metric.Undefined
		out.signal(report.SignalInsufficientDerivations, report.SeverityInfo, 0,
			"no candidate derivation among %d", res.Candidates)
		return
	}
	out.Best = res.Selected[0].Metric
	if out.Best.Defined {
		v := out.Best.Value
		out.Record.Metric = &v
	} else {
		out.signal(report.SignalUndefinedMetric, report.SeverityInfo, 0,
			"%s of the best derivation is undefined", kind)
	}
}

func derivationRecord(rank int, score float64, key string, a labels.Assignment) storage.DerivationRecord {
	rec := storage.DerivationRecord{Rank: rank, Score: score, Key: key}
	if a != nil {
		if data, err := a.MarshalJSON(); err == nil {
			rec.Labels = string(data)
		}
	}
	return rec
}

// usageTally sums rule usage over the derivations kept for one sentence.
type usageTally struct {
	counts aggregate.RuleUsage
	rules  map[forest.RuleID]*forest.Rule
}

func newUsageTally() *usageTally {
	return &usageTally{
		counts: make(aggregate.RuleUsage),
		rules:  make(map[forest.RuleID]*forest.Rule),
	}
}

func (t *usageTally) add(res *aggregate.Result) {
	if res == nil {
		return
	}
	t.counts.Add(res.Usage)
	for id, rule := range res.Rules {
		t.rules[id] = rule
	}
}

func (t *usageTally) records() []storage.RuleUsageRecord {
	ids := t.counts.IDs()
	out := make([]storage.RuleUsageRecord, 0, len(ids))
	for _, id := range ids {
		rec := storage.RuleUsageRecord{RuleID: int(id), Count: t.counts[id]}
		if rule := t.rules[id]; rule != nil {
			rec.LHS = string(rule.LHS)
			rec.Weight = rule.Weight
			rec.Text = rule.Text
		}
		out = append(out, rec)
	}
	return out
}
