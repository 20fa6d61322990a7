package selector

import (
	"fmt"
	"sort"
)

// RankPair identifies two consecutive ranks (1-based).
type RankPair struct {
	Prev int
	Next int
}

func (p RankPair) String() string {
	return fmt.Sprintf("%d-%d", p.Prev, p.Next)
}

// Anomaly holds the two scores of an out-of-order rank pair.
type Anomaly struct {
	Prev float64
	Next float64
}

// Anomalies maps each out-of-order rank pair to its scores.
type Anomalies map[RankPair]Anomaly

// Pairs returns the anomalous rank pairs in rank order.
func (a Anomalies) Pairs() []RankPair {
	out := make([]RankPair, 0, len(a))
	for p := range a {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Prev < out[j].Prev })
	return out
}

// DetectDisorder records every consecutive pair where the later score is
// strictly greater than the earlier one.
func DetectDisorder(scores []float64) Anomalies {
	out := make(Anomalies)
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[i-1] {
			out[RankPair{Prev: i, Next: i + 1}] = Anomaly{Prev: scores[i-1], Next: scores[i]}
		}
	}
	return out
}
