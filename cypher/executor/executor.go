// Package executor evaluates a planned Cypher query against a
// storage.Engine, tuple-at-a-time: each pattern's access methods produce
// candidate rows, relationship hops join them, WHERE filters, RETURN
// projects, and ORDER BY/LIMIT finish the pipeline. This is the same
// row-as-map shape the teacher's executor.go uses (there, map[string]any
// over storage.Node/storage.Edge; here, over graph.Node/graph.Edge),
// generalized to the closed grammar spec.md §6 defines.
package executor

import (
	"sort"
	"time"

	"github.com/deepskilling/deepgraph/cypher/ast"
	"github.com/deepskilling/deepgraph/cypher/planner"
	"github.com/deepskilling/deepgraph/dgerr"
	"github.com/deepskilling/deepgraph/graph"
	"github.com/deepskilling/deepgraph/index"
	"github.com/deepskilling/deepgraph/storage"
	"github.com/deepskilling/deepgraph/txn"
)

// QueryResult is the outcome of one executed statement (spec.md §6).
type QueryResult struct {
	Columns  []string
	Rows     [][]any
	RowCount int
	Elapsed  time.Duration
}

// binding is what a pattern variable is bound to within one candidate
// row: exactly one of Node or Edge.
type binding struct {
	Node *graph.Node
	Edge *graph.Edge
}

type row map[string]binding

// Executor runs parsed/planned queries against one storage.Engine and its
// index.Manager. It keeps the variable bindings of the most recently
// executed MATCH/CREATE/MERGE so a standalone SET/DELETE statement — which
// spec.md §6's grammar gives no MATCH clause of its own — can resolve the
// bare variable it names (see DESIGN.md's resolution of this Open
// Question).
type Executor struct {
	engine   storage.Engine
	indices  *index.Manager
	lastRow  row
}

// New constructs an Executor bound to one store and its indices.
func New(engine storage.Engine, indices *index.Manager) *Executor {
	return &Executor{engine: engine, indices: indices}
}

// Execute plans (for reads) and runs one already-parsed statement. Write
// statements (CREATE/MERGE/SET/DELETE) require tx; read statements ignore
// it and read the engine directly; spec.md doesn't require snapshot
// isolation for pure reads, only exactly-one-writer on mutation (§4.7).
func (e *Executor) Execute(q *ast.Query, tx *txn.Transaction) (*QueryResult, error) {
	start := time.Now()
	var result *QueryResult
	var err error
	switch {
	case q.Read != nil:
		result, err = e.executeRead(q.Read)
	case q.Write != nil:
		result, err = e.executeWrite(q.Write, tx)
	default:
		return nil, dgerr.New(dgerr.ParserError, "query has neither a read nor a write clause")
	}
	if err != nil {
		return nil, err
	}
	result.Elapsed = time.Since(start)
	return result, nil
}

// --- Read execution ---

func (e *Executor) executeRead(q *ast.ReadQuery) (*QueryResult, error) {
	plan, err := planner.Plan(q, e.indices)
	if err != nil {
		return nil, err
	}

	rows := []row{{}}
	for _, pp := range plan.Patterns {
		rows, err = e.joinPattern(rows, pp)
		if err != nil {
			return nil, err
		}
	}

	if plan.Where != nil {
		filtered := rows[:0]
		for _, r := range rows {
			ok, err := evalBool(plan.Where, r)
			if err != nil {
				return nil, err
			}
			if ok {
				filtered = append(filtered, r)
			}
		}
		rows = filtered
	}

	if len(rows) > 0 {
		e.lastRow = rows[len(rows)-1]
	}

	if len(plan.OrderBy) > 0 {
		if err := sortRows(rows, plan.OrderBy); err != nil {
			return nil, err
		}
	}

	if plan.Limit != nil && int64(len(rows)) > *plan.Limit {
		rows = rows[:*plan.Limit]
	}

	return project(rows, plan.Return)
}

// joinPattern extends each existing row with one pattern's node/relationship
// chain, nested-loop style: candidates for the first node, then for each
// relationship hop, the neighbors reachable from the bound endpoint.
func (e *Executor) joinPattern(rows []row, pp planner.PatternPlan) ([]row, error) {
	if len(pp.Nodes) == 0 {
		return rows, nil
	}
	candidates, err := e.scanNode(pp.Nodes[0])
	if err != nil {
		return nil, err
	}

	var out []row
	for _, base := range rows {
		for _, n := range candidates {
			r := cloneRow(base)
			if pp.Nodes[0].Variable != "" {
				r[pp.Nodes[0].Variable] = binding{Node: n}
			}
			out = append(out, r)
		}
	}

	for i, rel := range pp.Rels {
		fromAccess := pp.Nodes[i]
		toAccess := pp.Nodes[i+1]
		var next []row
		for _, r := range out {
			fromNode := r[fromAccess.Variable].Node
			if fromNode == nil {
				continue
			}
			edges, err := e.candidateEdges(fromNode.ID, rel)
			if err != nil {
				return nil, err
			}
			for _, edge := range edges {
				otherID := edge.To
				if otherID == fromNode.ID {
					otherID = edge.From
				}
				toNode, ok, err := e.engine.GetNode(otherID)
				if err != nil {
					return nil, err
				}
				if !ok || !nodeMatchesAccess(toNode, toAccess) {
					continue
				}
				r2 := cloneRow(r)
				if toAccess.Variable != "" {
					r2[toAccess.Variable] = binding{Node: toNode}
				}
				next = append(next, r2)
			}
		}
		out = next
	}
	return out, nil
}

// candidateEdges returns the edges incident to from that satisfy rel's
// type and direction constraint: outgoing for a directed `->` pattern,
// both directions for an undirected `-` pattern.
func (e *Executor) candidateEdges(from graph.NodeID, rel ast.RelPattern) ([]*graph.Edge, error) {
	out, err := e.engine.Outgoing(from)
	if err != nil {
		return nil, err
	}
	var edges []*graph.Edge
	for _, edge := range out {
		if rel.Type == "" || edge.Type == rel.Type {
			edges = append(edges, edge)
		}
	}
	if !rel.Directed {
		in, err := e.engine.Incoming(from)
		if err != nil {
			return nil, err
		}
		for _, edge := range in {
			if rel.Type == "" || edge.Type == rel.Type {
				edges = append(edges, edge)
			}
		}
	}
	return edges, nil
}

func (e *Executor) scanNode(access planner.NodeAccess) ([]*graph.Node, error) {
	switch access.Method {
	case planner.IndexSeek:
		ids, err := e.indices.Lookup(access.IndexName, access.SeekValue)
		if err != nil {
			return nil, err
		}
		nodes := make([]*graph.Node, 0, len(ids))
		for _, id := range ids {
			n, ok, err := e.engine.GetNode(id)
			if err != nil {
				return nil, err
			}
			if ok && nodeMatchesAccess(n, access) {
				nodes = append(nodes, n)
			}
		}
		return nodes, nil
	case planner.LabelScan:
		nodes, err := e.engine.ByLabel(access.Label)
		if err != nil {
			return nil, err
		}
		out := nodes[:0]
		for _, n := range nodes {
			if nodeMatchesAccess(n, access) {
				out = append(out, n)
			}
		}
		return out, nil
	default: // AllScan
		nodes, err := e.engine.AllNodes()
		if err != nil {
			return nil, err
		}
		out := nodes[:0]
		for _, n := range nodes {
			if nodeMatchesAccess(n, access) {
				out = append(out, n)
			}
		}
		return out, nil
	}
}

// nodeMatchesAccess re-checks every inline pattern property against a
// candidate node, regardless of access method: an IndexSeek already
// guarantees the seek property matches, but re-checking all of them keeps
// correctness independent of which property an index happened to cover
// (spec.md §8 Scenario F: identical result set either way).
func nodeMatchesAccess(n *graph.Node, access planner.NodeAccess) bool {
	if access.Label != "" && !n.HasLabel(access.Label) {
		return false
	}
	for _, prop := range access.InlineProps {
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

func cloneRow(r row) row {
	out := make(row, len(r)+1)
	for k, v := range r {
		out[k] = v
	}
	return out
}

func sortRows(rows []row, items []ast.OrderItem) error {
	var sortErr error
	sort.SliceStable(rows, func(i, j int) bool {
		for _, item := range items {
			vi, err := evalScalar(item.Expr, rows[i])
			if err != nil {
				sortErr = err
				return false
			}
			vj, err := evalScalar(item.Expr, rows[j])
			if err != nil {
				sortErr = err
				return false
			}
			cmp, comparable := vi.Compare(vj)
			if !comparable || cmp == 0 {
				continue
			}
			if item.Descending {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	return sortErr
}

func project(rows []row, items []ast.ReturnItem) (*QueryResult, error) {
	res := &QueryResult{RowCount: len(rows)}
	for _, item := range items {
		col := item.Alias
		if col == "" {
			col = item.Text
		}
		res.Columns = append(res.Columns, col)
	}
	for _, r := range rows {
		var out []any
		for _, item := range items {
			val, err := evalCell(item.Expr, r)
			if err != nil {
				return nil, err
			}
			out = append(out, val)
		}
		res.Rows = append(res.Rows, out)
	}
	return res, nil
}

// evalCell evaluates a RETURN/projection expression to whatever the
// caller should see: the bound node/edge itself for a bare variable, or a
// graph.PropertyValue for everything else.
func evalCell(expr ast.Expr, r row) (any, error) {
	if v, ok := expr.(*ast.Var); ok {
		b, ok := r[v.Name]
		if !ok {
			return nil, dgerr.New(dgerr.InvalidOperation, "unbound variable %q", v.Name)
		}
		if b.Node != nil {
			return b.Node, nil
		}
		if b.Edge != nil {
			return b.Edge, nil
		}
		return nil, dgerr.New(dgerr.InvalidOperation, "variable %q is not bound to a node or edge", v.Name)
	}
	return evalScalar(expr, r)
}
