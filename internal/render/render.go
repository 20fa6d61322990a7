// Package render writes the per-sentence, per-filter text artifacts: the
// matched graphs, the derivation listing, predicted labels and the sentence
// log.
package render

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"kbest/internal/aggregate"
	"kbest/internal/forest"
	"kbest/internal/labels"
	"kbest/internal/selector"
)

// FormatScore renders a score with six significant digits.
func FormatScore(v float64) string {
	return fmt.Sprintf("%.6g", v)
}

// Entry is one ranked derivation to render.
type Entry struct {
	Rank       int
	Score      float64
	Derivation forest.Derivation
	// Labels may be nil when the derivation could not be aggregated.
	Labels    labels.Assignment
	Aggregate *aggregate.Result
}

// SentenceWriter collects the artifact lines of one sentence under one filter.
type SentenceWriter struct {
	Sentence int
	matches  strings.Builder
	rules    strings.Builder
	labels   strings.Builder
	log      strings.Builder
}

func NewSentenceWriter(sen int) *SentenceWriter {
	return &SentenceWriter{Sentence: sen}
}

// ChartSizes logs the root cell size before and after filtering.
func (w *SentenceWriter) ChartSizes(before, after int) {
	fmt.Fprintf(&w.log, "Chart '%s' length: %d\n", forest.RootSymbol, before)
	fmt.Fprintf(&w.log, "Chart '%s' length after size filter: %d\n", forest.RootSymbol, after)
}

// Add renders one entry into every artifact.
func (w *SentenceWriter) Add(e Entry) error {
	nodes, err := forest.RootNodes(e.Derivation)
	if err != nil {
		return err
	}
	score := FormatScore(e.Score)

	w.matches.WriteString(MatchLine(nodes, e.Labels))
	w.matches.WriteString(";")
	w.matches.WriteString(score)
	w.matches.WriteString("\n")

	fmt.Fprintf(&w.rules, "%s\t#%s\n", forest.Format(e.Derivation), score)
	if e.Aggregate != nil {
		writeRules(&w.rules, e.Aggregate)
	}
	w.rules.WriteString("\n")

	if e.Labels != nil {
		data, err := e.Labels.MarshalJSON()
		if err != nil {
			return err
		}
		w.labels.Write(data)
		w.labels.WriteString("\n")
	}

	sorted := nodes.Sorted()
	fmt.Fprintf(&w.log, "\nk%d:\t%s - %d", e.Rank, nodeList(sorted), len(sorted))
	return nil
}

// Anomalies appends the score-order violations to the log.
func (w *SentenceWriter) Anomalies(a selector.Anomalies) {
	if len(a) > 0 {
		w.log.WriteString("\n")
	}
	for _, p := range a.Pairs() {
		v := a[p]
		fmt.Fprintf(&w.log, "%s: %s / %s\n", p, FormatScore(v.Prev), FormatScore(v.Next))
	}
}

// Note appends a free-form line to the log.
func (w *SentenceWriter) Note(format string, args ...any) {
	fmt.Fprintf(&w.log, format+"\n", args...)
}

// Paths names the artifact files of sentence sen inside dir.
type Paths struct {
	Matches     string
	Derivations string
	Labels      string
	Log         string
}

func ArtifactPaths(dir string, sen int) Paths {
	prefix := filepath.Join(dir, fmt.Sprintf("sen%d", sen))
	return Paths{
		Matches:     prefix + "_matches.graph",
		Derivations: prefix + "_derivation.txt",
		Labels:      prefix + "_predicted_labels.txt",
		Log:         prefix + ".log",
	}
}

// Save writes the non-empty artifacts into dir.
func (w *SentenceWriter) Save(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	p := ArtifactPaths(dir, w.Sentence)
	outputs := []struct {
		path string
		body string
	}{
		{p.Matches, w.matches.String()},
		{p.Labels, w.labels.String()},
		{p.Derivations, w.rules.String()},
		{p.Log, w.log.String()},
	}
	for _, o := range outputs {
		if o.body == "" {
			continue
		}
		if err := os.WriteFile(o.path, []byte(o.body), 0644); err != nil {
			return fmt.Errorf("write %s: %w", o.path, err)
		}
	}
	return nil
}

// MatchLine renders the covered nodes with their roles, e.g. "(1 :P) (2 :A0)".
// Nodes without a role are shown bare.
func MatchLine(nodes forest.NodeSet, a labels.Assignment) string {
	parts := make([]string, 0, len(nodes))
	for _, n := range nodes.Sorted() {
		if r, ok := a[n]; ok && r != "" {
			parts = append(parts, fmt.Sprintf("(%s :%s)", n, r))
		} else {
			parts = append(parts, fmt.Sprintf("(%s)", n))
		}
	}
	return strings.Join(parts, " ")
}

func writeRules(sb *strings.Builder, res *aggregate.Result) {
	ids := res.Usage.IDs()
	for _, id := range ids {
		r := res.Rules[id]
		if r == nil {
			continue
		}
		fmt.Fprintf(sb, "%d\t%.2f\t%s\n", id, r.Weight, r.Text)
	}
	pairs := make([]string, len(ids))
	for i, id := range ids {
		pairs[i] = fmt.Sprintf("(%d, %d)", id, res.Usage[id])
	}
	fmt.Fprintf(sb, "Used rules: [%s]\n", strings.Join(pairs, ", "))
	fmt.Fprintf(sb, "Different used rules: %d\n", len(ids))
	fmt.Fprintf(sb, "All used rules: %d\n", res.Usage.Total())
}

func nodeList(nodes []forest.GraphNode) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = n.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}
