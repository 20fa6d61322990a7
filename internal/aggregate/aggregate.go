// Package aggregate turns one derivation into its role labels and rule usage.
//
// Labels merge exclusively: a node may receive one role, and a second,
// different role for the same node means the derivation is malformed. Rule
// usage merges additively: every application of a rule counts once, so a
// recursive rule used three times counts three.
package aggregate

import (
	"errors"
	"fmt"
	"sort"

	"kbest/internal/forest"
	"kbest/internal/labels"
)

// ErrMalformedDerivation matches every *MalformedDerivationError.
var ErrMalformedDerivation = errors.New("malformed derivation")

// MalformedDerivationError names a derivation that violates the structure the
// aggregator relies on.
type MalformedDerivationError struct {
	// Derivation identifies the derivation by its dedup key, when it has one.
	Derivation string
	Item       forest.ItemID
	Reason     string
}

func (e *MalformedDerivationError) Error() string {
	return fmt.Sprintf("malformed derivation [%s] at item %d: %s", e.Derivation, e.Item, e.Reason)
}

func (e *MalformedDerivationError) Is(target error) bool {
	return target == ErrMalformedDerivation
}

// RuleUsage counts rule applications per rule id.
type RuleUsage map[forest.RuleID]int

// Add merges other into u.
func (u RuleUsage) Add(other RuleUsage) {
	for id, n := range other {
		u[id] += n
	}
}

// IDs returns the used rule ids in increasing order.
func (u RuleUsage) IDs() []forest.RuleID {
	out := make([]forest.RuleID, 0, len(u))
	for id := range u {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Total is the number of rule applications.
func (u RuleUsage) Total() int {
	n := 0
	for _, c := range u {
		n += c
	}
	return n
}

// Result is the aggregation of one derivation.
type Result struct {
	Labels labels.Assignment
	Usage  RuleUsage
	// Rules maps every used rule id to its rule, for reporting.
	Rules map[forest.RuleID]*forest.Rule
}

// Aggregate walks d and merges the contribution of every rule application.
// The walk follows the derivation tree, so an item reached through two
// branches of the same derivation is counted twice.
func Aggregate(d forest.Derivation) (*Result, error) {
	w := &walker{
		root: d,
		res: &Result{
			Labels: make(labels.Assignment),
			Usage:  make(RuleUsage),
			Rules:  make(map[forest.RuleID]*forest.Rule),
		},
	}
	if _, ok := d.(*forest.Internal); !ok {
		return nil, w.malformed(-1, "missing root application")
	}
	if err := w.walk(d); err != nil {
		return nil, err
	}
	return w.res, nil
}

type walker struct {
	root forest.Derivation
	res  *Result
}

func (w *walker) walk(d forest.Derivation) error {
	switch v := d.(type) {
	case forest.Leaf:
		return nil
	case *forest.Internal:
		return w.internal(v)
	case nil:
		return w.malformed(-1, "nil derivation")
	default:
		return w.malformed(-1, fmt.Sprintf("unexpected derivation type %T", d))
	}
}

func (w *walker) internal(d *forest.Internal) error {
	if d == nil {
		return w.malformed(-1, "nil derivation")
	}
	app := d.Application
	if app == nil || app.Rule == nil {
		return w.malformed(d.Item, "missing rule application")
	}
	rule := app.Rule

	for _, slot := range rule.Nonterminals {
		child, ok := d.Child(slot)
		if !ok || child == nil {
			return w.malformed(d.Item, fmt.Sprintf("rule %d: child slot %q is absent", rule.ID, slot))
		}
	}

	if rule.LHS != forest.StartSymbol {
		anchor, ok := app.Mapping["_1"]
		if !ok {
			return w.malformed(d.Item, fmt.Sprintf("rule %d: variable _1 is unbound", rule.ID))
		}
		role := labels.Role(app.LabelOrSymbol())
		if prev, seen := w.res.Labels[anchor]; seen && prev != role {
			return w.malformed(d.Item, fmt.Sprintf("node %d labeled both %s and %s", anchor, prev, role))
		}
		w.res.Labels[anchor] = role
	}

	if prev, seen := w.res.Rules[rule.ID]; seen && prev != rule && (prev.Text != rule.Text || prev.Weight != rule.Weight) {
		return w.malformed(d.Item, fmt.Sprintf("rule id %d bound to two different rules", rule.ID))
	}
	w.res.Rules[rule.ID] = rule
	w.res.Usage[rule.ID]++

	for _, b := range d.Children {
		if err := w.walk(b.Derivation); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) malformed(item forest.ItemID, reason string) error {
	name, err := forest.DedupKey(w.root)
	if err != nil {
		name = "no root"
	}
	return &MalformedDerivationError{Derivation: name, Item: item, Reason: reason}
}
