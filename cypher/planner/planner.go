// Package planner lowers a parsed Cypher read query into a physical plan:
// one access method per pattern node (index seek when a matching index
// exists, otherwise a label scan, or a full scan for an unlabeled node) plus the filter/project/sort/limit
// pipeline that runs over the rows the access methods produce. This
// mirrors the teacher's index_hints.go cost-vs-scan decision, generalized
// from a user-supplied hint into an automatic decision driven by
// index.Manager's registered descriptors (spec.md §4.9, §8 Scenario F).
package planner

import (
	"github.com/deepskilling/deepgraph/cypher/ast"
	"github.com/deepskilling/deepgraph/graph"
	"github.com/deepskilling/deepgraph/index"
)

// AccessMethod is how a pattern node's candidate set is produced.
type AccessMethod int

const (
	// AllScan enumerates every live node (no label given).
	AllScan AccessMethod = iota
	// LabelScan enumerates nodes carrying a given label.
	LabelScan
	// IndexSeek performs a point lookup against a registered index,
	// chosen when the pattern's inline properties carry a literal
	// equality on the index's target (label, property).
	IndexSeek
)

// NodeAccess is the chosen access method for one pattern node.
type NodeAccess struct {
	Variable    string
	Label       string
	InlineProps []ast.PropItem

	Method    AccessMethod
	IndexName string             // set when Method == IndexSeek
	SeekValue graph.PropertyValue // set when Method == IndexSeek
}

// PatternPlan is one comma-separated pattern, lowered node-by-node.
type PatternPlan struct {
	Nodes []NodeAccess
	Rels  []ast.RelPattern
}

// Plan is the full physical plan for a read query: the access methods for
// every pattern, then the filter/project/order/limit pipeline applied to
// the rows they produce.
type Plan struct {
	Patterns []PatternPlan
	Where    ast.Expr
	Return   []ast.ReturnItem
	OrderBy  []ast.OrderItem
	Limit    *int64
}

// Plan lowers a parsed ReadQuery into a Plan, choosing IndexSeek for any
// pattern node whose inline `{key: literal}` property matches a
// registered (label, property) index (spec.md §8 Scenario F: the result
// set must be identical whether or not that index exists — only the
// access path changes).
func Plan(q *ast.ReadQuery, indices *index.Manager) (*Plan, error) {
	p := &Plan{Where: q.Where, Return: q.Return, OrderBy: q.OrderBy, Limit: q.Limit}
	for _, pattern := range q.Patterns {
		pp := PatternPlan{Rels: pattern.Rels}
		for _, n := range pattern.Nodes {
			access, err := planNode(n, indices)
			if err != nil {
				return nil, err
			}
			pp.Nodes = append(pp.Nodes, access)
		}
		p.Patterns = append(p.Patterns, pp)
	}
	return p, nil
}

func planNode(n ast.NodePattern, indices *index.Manager) (NodeAccess, error) {
	access := NodeAccess{Variable: n.Variable, Label: n.Label, InlineProps: n.Properties}

	if n.Label == "" {
		access.Method = AllScan
		return access, nil
	}
	access.Method = LabelScan

	for _, prop := range n.Properties {
		lit, ok := prop.Value.(*ast.Literal)
		if !ok {
			continue // non-literal inline value: not seekable, leave as LabelScan+Filter
		}
		value := lit.Value()
		for _, desc := range indices.Descriptors() {
			if desc.Target.Label == n.Label && desc.Target.Property == prop.Key {
				access.Method = IndexSeek
				access.IndexName = desc.Name
				access.SeekValue = value
				return access, nil
			}
		}
	}
	return access, nil
}
