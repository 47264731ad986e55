package graph

import (
	"encoding/json"
	"time"
)

// Node is a vertex in the labeled property graph (spec.md §3).
//
// Labels are a set (no duplicates); Properties keys are unique by
// construction (it's a Go map). The store owns Node records; callers get
// copies on every read (see storage.Engine).
type Node struct {
	ID         NodeID
	Labels     []string
	Properties map[string]PropertyValue
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// HasLabel reports whether label is present, case-sensitively (label
// normalization, if any, is a concern of the storage layer's label index,
// not the model).
func (n *Node) HasLabel(label string) bool {
	for _, l := range n.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// AddLabel inserts label if absent, preserving set semantics.
func (n *Node) AddLabel(label string) {
	if !n.HasLabel(label) {
		n.Labels = append(n.Labels, label)
	}
}

// Clone deep-copies the node so stores can hand out copies without
// aliasing internal state to callers (spec.md §9: "Public handles expose
// operations, not references to internals").
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	labels := make([]string, len(n.Labels))
	copy(labels, n.Labels)
	props := make(map[string]PropertyValue, len(n.Properties))
	for k, v := range n.Properties {
		props[k] = v
	}
	return &Node{
		ID:         n.ID,
		Labels:     labels,
		Properties: props,
		CreatedAt:  n.CreatedAt,
		UpdatedAt:  n.UpdatedAt,
	}
}

// Edge is a directed relationship between two nodes (spec.md §3).
type Edge struct {
	ID         EdgeID
	From       NodeID
	To         NodeID
	Type       string
	Properties map[string]PropertyValue
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Clone deep-copies the edge.
func (e *Edge) Clone() *Edge {
	if e == nil {
		return nil
	}
	props := make(map[string]PropertyValue, len(e.Properties))
	for k, v := range e.Properties {
		props[k] = v
	}
	return &Edge{
		ID:         e.ID,
		From:       e.From,
		To:         e.To,
		Type:       e.Type,
		Properties: props,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	}
}

// --- JSON wire format, used by the WAL and by index/recovery sidecars ---

type nodeWire struct {
	ID         string         `json:"id"`
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// MarshalJSON renders the node in its wire format (native Go values at
// the boundary, per PropertyValue.Native's contract).
func (n *Node) MarshalJSON() ([]byte, error) {
	props := make(map[string]any, len(n.Properties))
	for k, v := range n.Properties {
		props[k] = v.Native()
	}
	return json.Marshal(nodeWire{
		ID:         n.ID.String(),
		Labels:     n.Labels,
		Properties: props,
		CreatedAt:  n.CreatedAt,
		UpdatedAt:  n.UpdatedAt,
	})
}

func (n *Node) UnmarshalJSON(data []byte) error {
	var w nodeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	id, _ := ParseNodeID(w.ID)
	props := make(map[string]PropertyValue, len(w.Properties))
	for k, v := range w.Properties {
		props[k] = ValueOf(v)
	}
	n.ID = id
	n.Labels = w.Labels
	n.Properties = props
	n.CreatedAt = w.CreatedAt
	n.UpdatedAt = w.UpdatedAt
	return nil
}

type edgeWire struct {
	ID         string         `json:"id"`
	From       string         `json:"from"`
	To         string         `json:"to"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

func (e *Edge) MarshalJSON() ([]byte, error) {
	props := make(map[string]any, len(e.Properties))
	for k, v := range e.Properties {
		props[k] = v.Native()
	}
	return json.Marshal(edgeWire{
		ID:         e.ID.String(),
		From:       e.From.String(),
		To:         e.To.String(),
		Type:       e.Type,
		Properties: props,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	})
}

func (e *Edge) UnmarshalJSON(data []byte) error {
	var w edgeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	id, _ := ParseEdgeID(w.ID)
	from, _ := ParseNodeID(w.From)
	to, _ := ParseNodeID(w.To)
	props := make(map[string]PropertyValue, len(w.Properties))
	for k, v := range w.Properties {
		props[k] = ValueOf(v)
	}
	e.ID = id
	e.From = from
	e.To = to
	e.Type = w.Type
	e.Properties = props
	e.CreatedAt = w.CreatedAt
	e.UpdatedAt = w.UpdatedAt
	return nil
}
