package selector

import (
	"iter"
	"sort"

	"go.uber.org/zap"

	"kbest/internal/aggregate"
	"kbest/internal/forest"
	"kbest/internal/labels"
	"kbest/internal/metric"
	"kbest/internal/resolver"
)

// PRInput configures SelectByMetric.
type PRInput struct {
	Gold           labels.Assignment
	Metric         metric.Kind
	Sentence       resolver.Sentence
	ArgPermutation bool
	// Top bounds the number of selected derivations; <= 0 keeps all.
	Top int
	// MaxCandidates bounds how many derivations are read; <= 0 reads the
	// whole stream.
	MaxCandidates int
}

// PRSelection is one derivation chosen by metric.
type PRSelection struct {
	Rank       int
	Metric     metric.Score
	Counts     metric.Counts
	ModelScore float64
	// ModelRank is the 1-based position of the derivation in the stream.
	ModelRank  int
	Derivation forest.Derivation
	// Labels is the completed assignment the metric was computed on.
	Labels labels.Assignment
	// Aggregate holds the raw labels, rule usage and rules of the derivation.
	Aggregate *aggregate.Result
	Mode      resolver.Mode
}

// PRResult is the outcome of SelectByMetric.
type PRResult struct {
	Selected   []PRSelection
	Candidates int
	Skipped    int
}

// Scores returns the metric values of the selection in rank order, with
// undefined metrics reported as 0.
func (r *PRResult) Scores() []float64 {
	out := make([]float64, len(r.Selected))
	for i, s := range r.Selected {
		out[i] = s.Metric.Value
	}
	return out
}

// SelectByMetric scores every candidate derivation against gold and returns
// the best ones. Candidates are not deduplicated by node set: two derivations
// covering the same nodes may label them differently. Ties keep model order.
func SelectByMetric(seq iter.Seq[forest.ScoredDerivation], in PRInput, logger *zap.Logger) *PRResult {
	if logger == nil {
		logger = zap.NewNop()
	}
	res := &PRResult{}
	var scored []PRSelection
	opts := metric.Options{ArgPermutation: in.ArgPermutation}

	for sd := range seq {
		res.Candidates++
		if sel, ok := evaluate(sd, res.Candidates, in, opts, logger); ok {
			scored = append(scored, sel)
		} else {
			res.Skipped++
		}
		if in.MaxCandidates > 0 && res.Candidates >= in.MaxCandidates {
			break
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Metric.Better(scored[j].Metric)
	})
	if in.Top > 0 && len(scored) > in.Top {
		scored = scored[:in.Top]
	}
	for i := range scored {
		scored[i].Rank = i + 1
	}
	res.Selected = scored
	return res
}

func evaluate(sd forest.ScoredDerivation, position int, in PRInput, opts metric.Options, logger *zap.Logger) (PRSelection, bool) {
	agg, err := aggregate.Aggregate(sd.Derivation)
	if err != nil {
		logger.Warn("skipping malformed derivation",
			zap.Int("position", position),
			zap.Error(err))
		return PRSelection{}, false
	}
	completed, mode := resolver.Complete(agg.Labels, in.Sentence)
	counts := metric.Compare(completed, in.Gold, opts)
	return PRSelection{
		Metric:     counts.Get(in.Metric),
		Counts:     counts,
		ModelScore: sd.Score,
		ModelRank:  position,
		Derivation: sd.Derivation,
		Labels:     completed,
		Aggregate:  agg,
		Mode:       mode,
	}, true
}
