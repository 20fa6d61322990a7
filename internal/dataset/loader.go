package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"kbest/internal/forest"
	"kbest/internal/labels"
)

// nodeRef decodes a graph node given as "n7", "7" or 7.
type nodeRef forest.GraphNode

func (n *nodeRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	var raw string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	} else {
		raw = string(data)
	}
	v, err := forest.ParseGraphNode(raw)
	if err != nil {
		return err
	}
	*n = nodeRef(v)
	return nil
}

type chartFile struct {
	Rules []chartRule              `json:"rules"`
	Items []chartItem              `json:"items"`
	Cells map[string][]json.Number `json:"cells"`
}

type chartRule struct {
	ID           forest.RuleID `json:"id"`
	LHS          string        `json:"lhs"`
	Weight       float64       `json:"weight"`
	Text         string        `json:"text"`
	Nonterminals []string      `json:"nonterminals"`
}

type chartItem struct {
	ID       json.Number        `json:"id"`
	Symbol   string             `json:"symbol"`
	Rule     forest.RuleID      `json:"rule"`
	Nodes    []nodeRef          `json:"nodes"`
	Label    string             `json:"label"`
	Mapping  map[string]nodeRef `json:"mapping"`
	Score    float64            `json:"score"`
	Children []chartSlot        `json:"children"`
}

type chartSlot struct {
	Slot  string        `json:"slot"`
	Items []json.Number `json:"items"`
}

// LoadForest reads a chart file into an arena forest. Item ids in the file
// are arbitrary and are remapped to arena positions; rules are shared by
// every item that applies them.
func LoadForest(path string) (*forest.Forest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chart: %w", err)
	}
	f, err := DecodeForest(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode chart %s: %w", path, err)
	}
	return f, nil
}

// DecodeForest builds a forest from chart JSON.
func DecodeForest(data []byte) (*forest.Forest, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var cf chartFile
	if err := dec.Decode(&cf); err != nil {
		return nil, err
	}

	rules := make(map[forest.RuleID]*forest.Rule, len(cf.Rules))
	for _, r := range cf.Rules {
		if _, dup := rules[r.ID]; dup {
			return nil, fmt.Errorf("rule %d declared twice", r.ID)
		}
		rules[r.ID] = &forest.Rule{
			ID:           r.ID,
			LHS:          forest.Symbol(r.LHS),
			Weight:       r.Weight,
			Text:         r.Text,
			Nonterminals: r.Nonterminals,
		}
	}

	arena := make(map[string]forest.ItemID, len(cf.Items))
	for i, it := range cf.Items {
		key := it.ID.String()
		if _, dup := arena[key]; dup {
			return nil, fmt.Errorf("item %s declared twice", key)
		}
		arena[key] = forest.ItemID(i)
	}
	resolve := func(ref json.Number) (forest.ItemID, error) {
		id, ok := arena[ref.String()]
		if !ok {
			return 0, fmt.Errorf("unknown item %s", ref)
		}
		return id, nil
	}

	f := forest.NewForest()
	for _, it := range cf.Items {
		rule, ok := rules[it.Rule]
		if !ok {
			return nil, fmt.Errorf("item %s: unknown rule %d", it.ID, it.Rule)
		}
		app := &forest.RuleApplication{
			Rule:    rule,
			Nodes:   make(forest.NodeSet, len(it.Nodes)),
			Label:   it.Label,
			Mapping: make(map[string]forest.GraphNode, len(it.Mapping)),
		}
		for _, n := range it.Nodes {
			app.Nodes[forest.GraphNode(n)] = struct{}{}
		}
		for v, n := range it.Mapping {
			app.Mapping[v] = forest.GraphNode(n)
		}

		slots := make([]forest.Slot, 0, len(it.Children))
		for _, c := range it.Children {
			s := forest.Slot{Name: c.Slot}
			for _, ref := range c.Items {
				child, err := resolve(ref)
				if err != nil {
					return nil, fmt.Errorf("item %s slot %q: %w", it.ID, c.Slot, err)
				}
				s.Alternatives = append(s.Alternatives, child)
			}
			slots = append(slots, s)
		}

		sym := forest.Symbol(it.Symbol)
		if sym == "" {
			sym = rule.LHS
		}
		f.Insert(sym, app, it.Score, slots...)
	}

	for _, sym := range sortedKeys(cf.Cells) {
		for _, ref := range cf.Cells[sym] {
			id, err := resolve(ref)
			if err != nil {
				return nil, fmt.Errorf("cell %s: %w", sym, err)
			}
			if err := f.Place(forest.Symbol(sym), id); err != nil {
				return nil, err
			}
		}
	}
	return f, nil
}

// LoadGold reads the gold role assignment of a sentence.
func LoadGold(path string) (labels.Assignment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read gold labels: %w", err)
	}
	var a labels.Assignment
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to decode gold labels %s: %w", path, err)
	}
	return a, nil
}

// LoadTopOrder reads the topological node order of the sentence graph.
func LoadTopOrder(path string) ([]forest.GraphNode, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read top order: %w", err)
	}
	var refs []nodeRef
	if err := json.Unmarshal(data, &refs); err != nil {
		return nil, fmt.Errorf("failed to decode top order %s: %w", path, err)
	}
	out := make([]forest.GraphNode, len(refs))
	for i, r := range refs {
		out[i] = forest.GraphNode(r)
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
