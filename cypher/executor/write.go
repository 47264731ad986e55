package executor

import (
	"github.com/deepskilling/deepgraph/cypher/ast"
	"github.com/deepskilling/deepgraph/dgerr"
	"github.com/deepskilling/deepgraph/graph"
	"github.com/deepskilling/deepgraph/txn"
)

func (e *Executor) executeWrite(w *ast.WriteQuery, tx *txn.Transaction) (*QueryResult, error) {
	if tx == nil {
		return nil, dgerr.New(dgerr.InvalidOperation, "write query requires an active transaction")
	}
	switch {
	case w.Create != nil:
		return e.executeCreate(w.Create, tx)
	case w.Merge != nil:
		return e.executeMerge(w.Merge, tx)
	case w.Set != nil:
		return e.executeSet(w.Set, tx)
	case w.Delete != nil:
		return e.executeDelete(w.Delete, tx)
	default:
		return nil, dgerr.New(dgerr.ParserError, "write query names no clause")
	}
}

// executeCreate builds every pattern's nodes and relationship chain fresh
// (spec.md §6: CREATE never reuses an existing match, that's MERGE's job).
func (e *Executor) executeCreate(c *ast.CreateClause, tx *txn.Transaction) (*QueryResult, error) {
	res := &QueryResult{Columns: []string{"created"}}
	count := 0
	bound := row{}
	for _, pattern := range c.Patterns {
		r := row{}
		var prevID graph.NodeID
		for i, np := range pattern.Nodes {
			node, err := materializeNode(np, r)
			if err != nil {
				return nil, err
			}
			id, err := tx.AddNode(node)
			if err != nil {
				return nil, err
			}
			stored, _, err := tx.GetNode(id)
			if err != nil {
				return nil, err
			}
			if np.Variable != "" {
				r[np.Variable] = binding{Node: stored}
			}
			count++

			if i > 0 {
				rel := pattern.Rels[i-1]
				// An undirected CREATE pattern still needs one concrete
				// direction to store; `from -> to` in declaration order.
				edge := &graph.Edge{From: prevID, To: id, Type: rel.Type, Properties: map[string]graph.PropertyValue{}}
				if _, err := tx.AddEdge(edge); err != nil {
					return nil, err
				}
				count++
			}
			prevID = id
		}
		for k, v := range r {
			bound[k] = v
		}
	}
	res.Rows = [][]any{{graph.Int(int64(count))}}
	res.RowCount = 1
	e.lastRow = bound
	return res, nil
}

// executeMerge matches Merge's single pattern against the store; if no
// node satisfies its label/inline-property constraints, it's created the
// same way CREATE would (spec.md §6: MERGE's core contract). Only the
// single-node case is resolved to an existing match; a pattern with
// relationship hops always creates, since join-then-merge semantics are
// outside this core's scope (documented in DESIGN.md).
func (e *Executor) executeMerge(m *ast.MergeClause, tx *txn.Transaction) (*QueryResult, error) {
	res := &QueryResult{Columns: []string{"created"}}
	if len(m.Pattern.Nodes) == 1 {
		np := m.Pattern.Nodes[0]
		existing, err := e.findMatchingNode(np)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if np.Variable != "" {
				e.lastRow = row{np.Variable: binding{Node: existing}}
			}
			res.Rows = [][]any{{graph.Bool(false)}}
			res.RowCount = 1
			return res, nil
		}
	}
	if _, err := e.executeCreate(&ast.CreateClause{Patterns: []ast.Pattern{m.Pattern}}, tx); err != nil {
		return nil, err
	}
	res.Rows = [][]any{{graph.Bool(true)}}
	res.RowCount = 1
	return res, nil
}

func (e *Executor) findMatchingNode(np ast.NodePattern) (*graph.Node, error) {
	var candidates []*graph.Node
	var err error
	if np.Label != "" {
		candidates, err = e.engine.ByLabel(np.Label)
	} else {
		candidates, err = e.engine.AllNodes()
	}
	if err != nil {
		return nil, err
	}
	for _, n := range candidates {
		if matchesInlineProps(n, np.Properties) {
			return n, nil
		}
	}
	return nil, nil
}

func matchesInlineProps(n *graph.Node, props []ast.PropItem) bool {
	for _, prop := range props {
		lit, ok := prop.Value.(*ast.Literal)
		if !ok {
			continue
		}
		got, present := n.Properties[prop.Key]
		if !present || !got.Equal(lit.Value()) {
			return false
		}
	}
	return true
}

func materializeNode(np ast.NodePattern, r row) (*graph.Node, error) {
	node := &graph.Node{Properties: map[string]graph.PropertyValue{}}
	if np.Label != "" {
		node.Labels = []string{np.Label}
	}
	for _, prop := range np.Properties {
		v, err := evalScalar(prop.Value, r)
		if err != nil {
			return nil, err
		}
		node.Properties[prop.Key] = v
	}
	return node, nil
}

// executeSet resolves each item's Variable against the executor's last
// bound row (see Executor's doc comment) and applies a whole-record
// property update (storage.Engine.UpdateNode is whole-record replacement,
// so SET reads the current record, mutates one property, and writes it
// back — spec.md §4.2: "update_node(node): whole-record replacement").
func (e *Executor) executeSet(s *ast.SetClause, tx *txn.Transaction) (*QueryResult, error) {
	touched := map[graph.NodeID]*graph.Node{}
	for _, item := range s.Items {
		b, ok := e.lastRow[item.Variable]
		if !ok || b.Node == nil {
			return nil, dgerr.New(dgerr.InvalidOperation, "SET references unbound variable %q", item.Variable)
		}
		node, ok := touched[b.Node.ID]
		if !ok {
			node = b.Node.Clone()
			touched[b.Node.ID] = node
		}
		v, err := evalScalar(item.Value, e.lastRow)
		if err != nil {
			return nil, err
		}
		node.Properties[item.Property] = v
	}
	for _, node := range touched {
		if err := tx.UpdateNode(node); err != nil {
			return nil, err
		}
	}
	return &QueryResult{Columns: []string{"updated"}, Rows: [][]any{{graph.Int(int64(len(touched)))}}, RowCount: 1}, nil
}

// executeDelete removes each named variable's bound node (which cascades
// to incident edges per spec.md §4.2/§4.3) or edge.
func (e *Executor) executeDelete(d *ast.DeleteClause, tx *txn.Transaction) (*QueryResult, error) {
	count := 0
	for _, name := range d.Variables {
		b, ok := e.lastRow[name]
		if !ok {
			return nil, dgerr.New(dgerr.InvalidOperation, "DELETE references unbound variable %q", name)
		}
		switch {
		case b.Node != nil:
			if err := tx.DeleteNode(b.Node.ID); err != nil {
				return nil, err
			}
		case b.Edge != nil:
			if err := tx.DeleteEdge(b.Edge.ID); err != nil {
				return nil, err
			}
		}
		count++
	}
	e.lastRow = nil
	return &QueryResult{Columns: []string{"deleted"}, Rows: [][]any{{graph.Int(int64(count))}}, RowCount: 1}, nil
}
