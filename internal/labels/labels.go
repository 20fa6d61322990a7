// Package labels holds per-node semantic role assignments.
package labels

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"kbest/internal/forest"
)

// Role is a role code: P, A (A0, A1, ... once indexed), O or X.
type Role string

const (
	Predicate Role = "P"
	Argument  Role = "A"
	Outside   Role = "O"
	Explicit  Role = "X"
)

// IsArgument reports whether r is A or an indexed argument.
func (r Role) IsArgument() bool {
	return strings.HasPrefix(string(r), string(Argument))
}

// ArgIndex returns the index of an indexed argument ("A2" -> 2).
func (r Role) ArgIndex() (int, bool) {
	if !r.IsArgument() || len(r) == 1 {
		return 0, false
	}
	i, err := strconv.Atoi(string(r[1:]))
	if err != nil {
		return 0, false
	}
	return i, true
}

// Assignment maps graph nodes to roles.
type Assignment map[forest.GraphNode]Role

// Clone returns an independent copy.
func (a Assignment) Clone() Assignment {
	out := make(Assignment, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Nodes returns the assigned nodes in increasing order.
func (a Assignment) Nodes() []forest.GraphNode {
	out := make([]forest.GraphNode, 0, len(a))
	for n := range a {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// WithRole lists the nodes carrying exactly role r, in increasing order.
func (a Assignment) WithRole(r Role) []forest.GraphNode {
	var out []forest.GraphNode
	for _, n := range a.Nodes() {
		if a[n] == r {
			out = append(out, n)
		}
	}
	return out
}

// MarshalJSON writes an object keyed by node id in numeric order.
func (a Assignment) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, n := range a.Nodes() {
		if i > 0 {
			buf.WriteString(", ")
		}
		key, _ := json.Marshal(n.String())
		val, err := json.Marshal(string(a[n]))
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteString(": ")
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts string keys in either "7" or "n7" form.
func (a *Assignment) UnmarshalJSON(data []byte) error {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Assignment, len(raw))
	for k, v := range raw {
		n, err := forest.ParseGraphNode(k)
		if err != nil {
			return fmt.Errorf("label key: %w", err)
		}
		out[n] = Role(v)
	}
	*a = out
	return nil
}
