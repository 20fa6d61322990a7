// Package selector picks a bounded, ranked subset of derivations from a
// score-ordered stream, either by model score with node-set deduplication or
// by an extrinsic metric against gold roles.
package selector

import (
	"fmt"
	"iter"

	"go.uber.org/zap"

	"kbest/internal/forest"
)

// Ranked is a kept derivation with its 1-based rank.
type Ranked struct {
	Rank       int
	Score      float64
	Key        string
	Derivation forest.Derivation
}

// InsufficientDerivationsWarning reports that the stream ran out before k
// unique derivations were found. It is informational.
type InsufficientDerivationsWarning struct {
	Requested int
	Found     int
}

func (w *InsufficientDerivationsWarning) Error() string {
	return fmt.Sprintf("found only %d of %d requested derivations", w.Found, w.Requested)
}

// KBestResult is the outcome of KBestUnique.
type KBestResult struct {
	Kept      []Ranked
	Anomalies Anomalies
	Requested int
	// Consumed counts derivations read from the stream.
	Consumed int
	// Skipped counts derivations without a readable root node set.
	Skipped int
	Warning *InsufficientDerivationsWarning
}

// Scores returns the kept scores in rank order.
func (r *KBestResult) Scores() []float64 {
	out := make([]float64, len(r.Kept))
	for i, k := range r.Kept {
		out[i] = k.Score
	}
	return out
}

// KBestUnique keeps the first k derivations of seq whose root node sets are
// pairwise distinct. It stops reading as soon as k are kept. Score-order
// violations among kept derivations are recorded, not corrected.
func KBestUnique(seq iter.Seq[forest.ScoredDerivation], k int, logger *zap.Logger) *KBestResult {
	if logger == nil {
		logger = zap.NewNop()
	}
	res := &KBestResult{Requested: k}
	if k > 0 {
		seen := make(map[string]bool)
		for sd := range seq {
			res.Consumed++
			key, err := forest.DedupKey(sd.Derivation)
			if err != nil {
				res.Skipped++
				logger.Warn("skipping derivation without root", zap.Int("position", res.Consumed), zap.Error(err))
				continue
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			logger.Debug("kept derivation",
				zap.Int("rank", len(res.Kept)+1),
				zap.Int("position", res.Consumed),
				zap.Int("items", forest.Size(sd.Derivation)))
			res.Kept = append(res.Kept, Ranked{
				Rank:       len(res.Kept) + 1,
				Score:      sd.Score,
				Key:        key,
				Derivation: sd.Derivation,
			})
			if len(res.Kept) >= k {
				break
			}
		}
	}
	res.Anomalies = DetectDisorder(res.Scores())

	if len(res.Kept) < k {
		res.Warning = &InsufficientDerivationsWarning{Requested: k, Found: len(res.Kept)}
		logger.Warn("insufficient unique derivations",
			zap.Int("requested", k),
			zap.Int("found", len(res.Kept)))
	}
	return res
}
