package forest

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// GraphNode identifies a token of the sentence dependency graph (1-based).
type GraphNode int

// ParseGraphNode accepts the legacy "n7" encoding as well as a bare "7".
func ParseGraphNode(s string) (GraphNode, error) {
	raw := strings.TrimSpace(s)
	raw = strings.TrimPrefix(raw, "n")
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid graph node %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid graph node %q: negative id", s)
	}
	return GraphNode(n), nil
}

func (n GraphNode) String() string {
	return strconv.Itoa(int(n))
}

// RuleID is the stable identifier of a rule within one grammar.
type RuleID int

// Symbol is a grammar nonterminal and the key of a forest cell.
type Symbol string

const (
	// RootSymbol names the distinguished root cell of a complete forest.
	RootSymbol Symbol = "START"
	// StartSymbol is the grammar start lhs; its applications emit no label.
	StartSymbol Symbol = "S"
)

// Rule is an immutable grammar production.
type Rule struct {
	ID     RuleID
	LHS    Symbol
	Weight float64
	Text   string
	// Nonterminals lists the child slot names the rule's rhs expects.
	Nonterminals []string
}

func (r *Rule) String() string {
	return fmt.Sprintf("%s; %g", r.Text, r.Weight)
}

// NodeSet is a set of covered sentence nodes.
type NodeSet map[GraphNode]struct{}

// NewNodeSet builds a set from the given nodes.
func NewNodeSet(nodes ...GraphNode) NodeSet {
	s := make(NodeSet, len(nodes))
	for _, n := range nodes {
		s[n] = struct{}{}
	}
	return s
}

// Sorted returns the nodes in increasing numeric order.
func (s NodeSet) Sorted() []GraphNode {
	out := make([]GraphNode, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Key renders the set as numerically sorted, space-joined ids.
func (s NodeSet) Key() string {
	nodes := s.Sorted()
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = n.String()
	}
	return strings.Join(parts, " ")
}

// RuleApplication is one instantiation of a rule at a chart cell.
type RuleApplication struct {
	Rule  *Rule
	Nodes NodeSet
	// Label is the role emitted directly by this application, if any.
	Label string
	// Mapping binds grammar pattern variables ("_1", ...) to graph nodes.
	Mapping map[string]GraphNode
}

// LabelOrSymbol is the role contributed by the application.
func (a *RuleApplication) LabelOrSymbol() string {
	if a.Label != "" {
		return a.Label
	}
	if a.Rule == nil {
		return ""
	}
	return string(a.Rule.LHS)
}

// ItemID indexes an item in the forest arena.
type ItemID int

// Slot is a named child position of an item. A packed slot holds more than
// one alternative child item.
type Slot struct {
	Name         string
	Alternatives []ItemID
}

// Item is one forest cell entry.
type Item struct {
	ID          ItemID
	Symbol      Symbol
	Application *RuleApplication
	Children    []Slot
	// Score is the local log-probability of the application.
	Score float64
}

// Slot returns the named child slot.
func (it *Item) Slot(name string) (Slot, bool) {
	for _, s := range it.Children {
		if s.Name == name {
			return s, true
		}
	}
	return Slot{}, false
}
