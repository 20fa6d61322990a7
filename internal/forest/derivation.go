package forest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNoRoot is returned when a derivation has no root application to read
// a node set from.
var ErrNoRoot = errors.New("derivation has no root application")

// Derivation is one fully resolved tree view through the forest. It is
// either Leaf or *Internal.
type Derivation interface {
	isDerivation()
}

// Leaf is the terminal sentinel: no further expansion.
type Leaf struct{}

func (Leaf) isDerivation() {}

// Internal is a rule application with one chosen derivation per child slot.
type Internal struct {
	Item        ItemID
	Application *RuleApplication
	Children    []Branch
}

func (*Internal) isDerivation() {}

// Branch binds a child slot name to the derivation chosen for it.
type Branch struct {
	Slot       string
	Derivation Derivation
}

// Child returns the derivation chosen for slot.
func (d *Internal) Child(slot string) (Derivation, bool) {
	for _, b := range d.Children {
		if b.Slot == slot {
			return b.Derivation, true
		}
	}
	return nil, false
}

// ScoredDerivation pairs a derivation with its model score.
type ScoredDerivation struct {
	Score      float64
	Derivation Derivation
}

// RootNodes returns the node set covered by the root application.
func RootNodes(d Derivation) (NodeSet, error) {
	in, ok := d.(*Internal)
	if !ok || in == nil || in.Application == nil {
		return nil, ErrNoRoot
	}
	return in.Application.Nodes, nil
}

// DedupKey is the canonical rendering of the root node set. Two derivations
// with equal keys are the same extraction regardless of their structure.
func DedupKey(d Derivation) (string, error) {
	nodes, err := RootNodes(d)
	if err != nil {
		return "", err
	}
	return nodes.Key(), nil
}

// Format renders a derivation on one line, e.g. "4(A$1 7 O$2 9(A$1 7))".
func Format(d Derivation) string {
	var sb strings.Builder
	writeDerivation(&sb, d)
	return sb.String()
}

func writeDerivation(sb *strings.Builder, d Derivation) {
	switch v := d.(type) {
	case Leaf:
		sb.WriteString(string(RootSymbol))
	case *Internal:
		if v == nil || v.Application == nil || v.Application.Rule == nil {
			sb.WriteString("?")
			return
		}
		sb.WriteString(strconv.Itoa(int(v.Application.Rule.ID)))
		if len(v.Children) == 0 {
			return
		}
		sb.WriteByte('(')
		for i, b := range v.Children {
			if i > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(b.Slot)
			sb.WriteByte(' ')
			writeDerivation(sb, b.Derivation)
		}
		sb.WriteByte(')')
	default:
		sb.WriteString(fmt.Sprintf("<%T>", d))
	}
}

// Size counts the internal nodes of a derivation.
func Size(d Derivation) int {
	in, ok := d.(*Internal)
	if !ok || in == nil {
		return 0
	}
	n := 1
	for _, b := range in.Children {
		n += Size(b.Derivation)
	}
	return n
}
