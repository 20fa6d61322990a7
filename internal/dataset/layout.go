// Package dataset locates and reads the per-sentence inputs of a run: the
// derivation forest, gold roles, the topological node order and POS tags.
package dataset

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
)

// Layout resolves the on-disk locations of one run's inputs and outputs.
type Layout struct {
	DataDir    string
	ModelDir   string
	PreprocDir string
}

func (l Layout) modelRoot() string {
	return filepath.Join(l.DataDir, l.ModelDir)
}

func (l Layout) preprocDir(sen int) string {
	return filepath.Join(l.DataDir, l.PreprocDir, strconv.Itoa(sen), "preproc")
}

// BolinasDir is the per-sentence directory holding the chart and outputs.
func (l Layout) BolinasDir(sen int) string {
	return filepath.Join(l.modelRoot(), strconv.Itoa(sen), "bolinas")
}

func (l Layout) ChartPath(sen int) string {
	return filepath.Join(l.BolinasDir(sen), fmt.Sprintf("sen%d_chart.json", sen))
}

func (l Layout) GoldPath(sen int) string {
	return filepath.Join(l.preprocDir(sen), fmt.Sprintf("sen%d_gold_labels.json", sen))
}

func (l Layout) TopOrderPath(sen int) string {
	return filepath.Join(l.preprocDir(sen), "pos_edge_graph_top_order.json")
}

func (l Layout) ConllPath(sen int) string {
	return filepath.Join(l.preprocDir(sen), "parsed.conll")
}

// OutputDir is where the artifacts of one filter are written.
func (l Layout) OutputDir(sen int, filter string) string {
	return filepath.Join(l.BolinasDir(sen), filter)
}

// Range bounds sentence discovery; nil ends are open.
type Range struct {
	First *int
	Last  *int
}

func (r Range) contains(sen int) bool {
	if r.First != nil && sen < *r.First {
		return false
	}
	if r.Last != nil && sen > *r.Last {
		return false
	}
	return true
}

// Scanner discovers sentence directories under the model directory.
type Scanner struct {
	layout Layout
}

func NewScanner(l Layout) *Scanner {
	return &Scanner{layout: l}
}

// Sentences returns the numeric sentence directories inside r in ascending
// order. Non-numeric entries are ignored.
func (s *Scanner) Sentences(r Range) ([]int, error) {
	root := s.layout.modelRoot()
	var out []int
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if sen, convErr := strconv.Atoi(d.Name()); convErr == nil && sen >= 0 && r.contains(sen) {
			out = append(out, sen)
		}
		// sentence directories are only looked for one level down
		return filepath.SkipDir
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	sort.Ints(out)
	return out, nil
}
