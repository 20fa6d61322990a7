// Package metric scores a completed role assignment against gold roles.
//
// The unit of comparison is a (node, role) pair whose role is not O. A
// metric whose denominator is zero is undefined, which is kept distinct from
// a value of zero and left out of averages.
package metric

import (
	"fmt"
	"sort"

	"kbest/internal/labels"
)

// Kind selects the extrinsic metric.
type Kind string

const (
	Precision Kind = "prec"
	Recall    Kind = "rec"
	F1        Kind = "f1"
)

// ParseKind accepts prec/rec/f1 and the long forms precision/recall.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "prec", "precision":
		return Precision, nil
	case "rec", "recall":
		return Recall, nil
	case "f1":
		return F1, nil
	}
	return "", fmt.Errorf("unknown metric %q (want prec, rec or f1)", s)
}

// Score is a metric value that may be undefined.
type Score struct {
	Value   float64
	Defined bool
}

// Of wraps a defined value.
func Of(v float64) Score { return Score{Value: v, Defined: true} }

// Undefined is the score of a zero denominator.
var Undefined = Score{}

func (s Score) String() string {
	if !s.Defined {
		return "undefined"
	}
	return fmt.Sprintf("%.4f", s.Value)
}

// Better orders defined scores above undefined ones, then by value.
func (s Score) Better(o Score) bool {
	if s.Defined != o.Defined {
		return s.Defined
	}
	return s.Value > o.Value
}

// Counts are the raw quantities behind the three metrics.
type Counts struct {
	Matched   int
	Predicted int
	Gold      int
}

func ratio(num, denom int) Score {
	if denom == 0 {
		return Undefined
	}
	return Of(float64(num) / float64(denom))
}

func (c Counts) Precision() Score { return ratio(c.Matched, c.Predicted) }
func (c Counts) Recall() Score    { return ratio(c.Matched, c.Gold) }

// F1 is undefined when precision or recall is, and zero when both are zero.
func (c Counts) F1() Score {
	p, r := c.Precision(), c.Recall()
	if !p.Defined || !r.Defined {
		return Undefined
	}
	if p.Value+r.Value == 0 {
		return Of(0)
	}
	return Of(2 * p.Value * r.Value / (p.Value + r.Value))
}

// Get returns the metric of kind k.
func (c Counts) Get(k Kind) Score {
	switch k {
	case Precision:
		return c.Precision()
	case Recall:
		return c.Recall()
	default:
		return c.F1()
	}
}

// Options control how assignments are compared.
type Options struct {
	// ArgPermutation scores argument groups under the relabeling of
	// predicted argument indices that matches gold best.
	ArgPermutation bool
}

// maxPermutedGroups bounds the brute-force argument relabeling.
const maxPermutedGroups = 8

// Compare counts matching units between pred and gold.
func Compare(pred, gold labels.Assignment, opts Options) Counts {
	c := Counts{
		Predicted: countUnits(pred),
		Gold:      countUnits(gold),
	}
	if opts.ArgPermutation {
		pred = relabelArguments(pred, gold)
	}
	for n, r := range pred {
		if r == labels.Outside || r == "" {
			continue
		}
		if g, ok := gold[n]; ok && g == r {
			c.Matched++
		}
	}
	return c
}

func countUnits(a labels.Assignment) int {
	n := 0
	for _, r := range a {
		if r != labels.Outside && r != "" {
			n++
		}
	}
	return n
}

// relabelArguments maps predicted argument indices onto gold argument
// indices with the injective assignment that maximises node overlap.
func relabelArguments(pred, gold labels.Assignment) labels.Assignment {
	predIdx := argIndices(pred)
	goldIdx := argIndices(gold)
	if len(predIdx) == 0 || len(goldIdx) == 0 || len(predIdx) > maxPermutedGroups || len(goldIdx) > maxPermutedGroups {
		return pred
	}

	overlap := make([][]int, len(predIdx))
	for i, p := range predIdx {
		overlap[i] = make([]int, len(goldIdx))
		for n, r := range pred {
			if ri, ok := r.ArgIndex(); !ok || ri != p {
				continue
			}
			for j, g := range goldIdx {
				if gi, ok := gold[n].ArgIndex(); ok && gi == g {
					overlap[i][j]++
				}
			}
		}
	}

	best := bestAssignment(overlap, len(goldIdx))
	mapping := make(map[int]int, len(predIdx))
	next := maxIndex(goldIdx) + 1
	for i, p := range predIdx {
		if j := best[i]; j >= 0 {
			mapping[p] = goldIdx[j]
		} else {
			// unmatched groups get fresh indices so they cannot collide
			mapping[p] = next
			next++
		}
	}

	out := make(labels.Assignment, len(pred))
	for n, r := range pred {
		if ri, ok := r.ArgIndex(); ok {
			out[n] = labels.Role(fmt.Sprintf("%s%d", labels.Argument, mapping[ri]))
			continue
		}
		out[n] = r
	}
	return out
}

// bestAssignment returns, per row, the chosen column (or -1) of an injective
// row->column matching maximising the summed overlap. Ties keep the first
// matching found in search order.
func bestAssignment(overlap [][]int, cols int) []int {
	rows := len(overlap)
	best := make([]int, rows)
	cur := make([]int, rows)
	used := make([]bool, cols)
	bestScore := -1

	var search func(row, score int)
	search = func(row, score int) {
		if row == rows {
			if score > bestScore {
				bestScore = score
				copy(best, cur)
			}
			return
		}
		for j := 0; j < cols; j++ {
			if used[j] {
				continue
			}
			used[j] = true
			cur[row] = j
			search(row+1, score+overlap[row][j])
			used[j] = false
		}
		cur[row] = -1
		search(row+1, score)
	}
	search(0, 0)
	return best
}

func argIndices(a labels.Assignment) []int {
	seen := make(map[int]bool)
	for _, r := range a {
		if i, ok := r.ArgIndex(); ok {
			seen[i] = true
		}
	}
	out := make([]int, 0, len(seen))
	for i := range seen {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

func maxIndex(xs []int) int {
	m := -1
	for _, x := range xs {
		if x > m {
			m = x
		}
	}
	return m
}

// Mean averages the defined scores; it is undefined when none is defined.
func Mean(scores []Score) Score {
	sum, n := 0.0, 0
	for _, s := range scores {
		if s.Defined {
			sum += s.Value
			n++
		}
	}
	if n == 0 {
		return Undefined
	}
	return Of(sum / float64(n))
}
