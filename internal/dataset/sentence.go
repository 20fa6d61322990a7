package dataset

import (
	"errors"
	"fmt"
	"io/fs"

	"kbest/internal/forest"
	"kbest/internal/labels"
	"kbest/internal/resolver"
)

// ErrNoChart marks a sentence directory without a chart file. Such sentences
// are skipped.
var ErrNoChart = errors.New("no chart file")

// Gold bundles the reference data metric selection needs.
type Gold struct {
	Labels   labels.Assignment
	Sentence resolver.Sentence
}

// Loader reads the inputs of single sentences.
type Loader struct {
	layout Layout
}

func NewLoader(l Layout) *Loader {
	return &Loader{layout: l}
}

// Forest loads the chart of sen.
func (l *Loader) Forest(sen int) (*forest.Forest, error) {
	f, err := LoadForest(l.layout.ChartPath(sen))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("sentence %d: %w", sen, ErrNoChart)
	}
	return f, err
}

// Gold loads gold roles, topological order and POS tags of sen.
func (l *Loader) Gold(sen int) (*Gold, error) {
	gold, err := LoadGold(l.layout.GoldPath(sen))
	if err != nil {
		return nil, err
	}
	order, err := LoadTopOrder(l.layout.TopOrderPath(sen))
	if err != nil {
		return nil, err
	}
	pos, err := LoadPOS(l.layout.ConllPath(sen))
	if err != nil {
		return nil, err
	}
	return &Gold{
		Labels: gold,
		Sentence: resolver.Sentence{
			POS:      pos.Tags,
			TopOrder: order,
			Length:   pos.Length,
		},
	}, nil
}
