package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepskilling/deepgraph/cypher/parser"
	"github.com/deepskilling/deepgraph/graph"
	"github.com/deepskilling/deepgraph/index"
	"github.com/deepskilling/deepgraph/storage"
	"github.com/deepskilling/deepgraph/txn"
	"github.com/deepskilling/deepgraph/wal"
)

func newTestExecutor(t *testing.T) (*Executor, *txn.Manager, *index.Manager) {
	t.Helper()
	engine := storage.NewMemoryEngine()
	w, err := wal.Open(wal.DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	indices, err := index.NewManager(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { indices.Close() })
	mgr := txn.NewManager(engine, w, indices)
	return New(engine, indices), mgr, indices
}

func run(t *testing.T, e *Executor, tx *txn.Transaction, text string) *QueryResult {
	t.Helper()
	q, err := parser.Parse(text)
	require.NoError(t, err)
	res, err := e.Execute(q, tx)
	require.NoError(t, err)
	return res
}

// TestScenarioEPrecedence is spec.md §8 Scenario E run end-to-end: AND
// binds tighter than OR, so `n.a = 1 AND n.b = 2 OR n.c = 3` matches A, B,
// and C, but not D.
func TestScenarioEPrecedence(t *testing.T) {
	e, mgr, _ := newTestExecutor(t)
	seed, err := mgr.Begin()
	require.NoError(t, err)
	_, err = seed.AddNode(&graph.Node{Labels: []string{"X"}, Properties: map[string]graph.PropertyValue{
		"name": graph.String("A"), "a": graph.Int(1), "b": graph.Int(2),
	}})
	require.NoError(t, err)
	_, err = seed.AddNode(&graph.Node{Labels: []string{"X"}, Properties: map[string]graph.PropertyValue{
		"name": graph.String("B"), "c": graph.Int(3),
	}})
	require.NoError(t, err)
	_, err = seed.AddNode(&graph.Node{Labels: []string{"X"}, Properties: map[string]graph.PropertyValue{
		"name": graph.String("C"), "a": graph.Int(1), "b": graph.Int(2), "c": graph.Int(3),
	}})
	require.NoError(t, err)
	_, err = seed.AddNode(&graph.Node{Labels: []string{"X"}, Properties: map[string]graph.PropertyValue{
		"name": graph.String("D"),
	}})
	require.NoError(t, err)
	require.NoError(t, seed.Commit())

	res := run(t, e, nil, `MATCH (n) WHERE n.a = 1 AND n.b = 2 OR n.c = 3 RETURN n;`)

	var names []string
	for _, row := range res.Rows {
		n := row[0].(*graph.Node)
		name, _ := n.Properties["name"].AsString()
		names = append(names, name)
	}
	assert.ElementsMatch(t, []string{"A", "B", "C"}, names)
}

// TestScenarioFIndexAccelerationEquivalence is spec.md §8 Scenario F: the
// same query returns the same node set whether or not a matching index
// exists — only the chosen access method (asserted separately at the
// planner level) differs.
func TestScenarioFIndexAccelerationEquivalence(t *testing.T) {
	seedNodes := func(tx *txn.Transaction) {
		_, err := tx.AddNode(&graph.Node{Labels: []string{"Person"}, Properties: map[string]graph.PropertyValue{
			"name": graph.String("Alice"), "city": graph.String("NYC"),
		}})
		require.NoError(t, err)
		_, err = tx.AddNode(&graph.Node{Labels: []string{"Person"}, Properties: map[string]graph.PropertyValue{
			"name": graph.String("Bob"), "city": graph.String("LA"),
		}})
		require.NoError(t, err)
	}

	query := `MATCH (n:Person {city: "NYC"}) RETURN n;`

	namesOf := func(res *QueryResult) []string {
		var names []string
		for _, row := range res.Rows {
			n := row[0].(*graph.Node)
			name, _ := n.Properties["name"].AsString()
			names = append(names, name)
		}
		return names
	}

	e1, mgr1, _ := newTestExecutor(t)
	seed1, err := mgr1.Begin()
	require.NoError(t, err)
	seedNodes(seed1)
	require.NoError(t, seed1.Commit())
	withoutIndex := namesOf(run(t, e1, nil, query))

	e2, mgr2, indices2 := newTestExecutor(t)
	seed2, err := mgr2.Begin()
	require.NoError(t, err)
	seedNodes(seed2)
	require.NoError(t, seed2.Commit())
	allNodes, err := e2.engine.AllNodes()
	require.NoError(t, err)
	require.NoError(t, indices2.CreateIndex("person_city", index.Hash, index.Target{Label: "Person", Property: "city"}, allNodes))
	withIndex := namesOf(run(t, e2, nil, query))

	assert.ElementsMatch(t, []string{"Alice"}, withoutIndex)
	assert.ElementsMatch(t, withoutIndex, withIndex)
}

// TestScenarioFIndexStaysCurrentForNodesCreatedAfterTheIndex is the
// converse of the equivalence test above: the index exists before any
// matching node does, so this exercises txn.Manager's commit-time
// OnNodeInserted wiring rather than CreateIndex's own populate-from-scan
// path.
func TestScenarioFIndexStaysCurrentForNodesCreatedAfterTheIndex(t *testing.T) {
	e, mgr, indices := newTestExecutor(t)
	require.NoError(t, indices.CreateIndex("person_city", index.Hash, index.Target{Label: "Person", Property: "city"}, nil))

	tx, err := mgr.Begin()
	require.NoError(t, err)
	run(t, e, tx, `CREATE (n:Person {name: "Alice", city: "NYC"});`)
	require.NoError(t, tx.Commit())

	res := run(t, e, nil, `MATCH (n:Person {city: "NYC"}) RETURN n;`)
	require.Len(t, res.Rows, 1)
	n := res.Rows[0][0].(*graph.Node)
	name, _ := n.Properties["name"].AsString()
	assert.Equal(t, "Alice", name)

	tx2, err := mgr.Begin()
	require.NoError(t, err)
	require.NoError(t, tx2.DeleteNode(n.ID))
	require.NoError(t, tx2.Commit())

	ids, err := indices.Lookup("person_city", graph.String("NYC"))
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestCreateAndMatchRoundTrip(t *testing.T) {
	e, mgr, _ := newTestExecutor(t)
	tx, err := mgr.Begin()
	require.NoError(t, err)
	run(t, e, tx, `CREATE (n:Person {name: "Alice", age: 30});`)
	require.NoError(t, tx.Commit())

	res := run(t, e, nil, `MATCH (n:Person) RETURN n;`)
	require.Len(t, res.Rows, 1)
	n := res.Rows[0][0].(*graph.Node)
	name, _ := n.Properties["name"].AsString()
	assert.Equal(t, "Alice", name)
}

func TestCreateRelationshipAndMatchHop(t *testing.T) {
	e, mgr, _ := newTestExecutor(t)
	tx, err := mgr.Begin()
	require.NoError(t, err)
	run(t, e, tx, `CREATE (a:Person {name: "Alice"})-[:KNOWS]->(b:Person {name: "Bob"});`)
	require.NoError(t, tx.Commit())

	res := run(t, e, nil, `MATCH (a:Person)-[:KNOWS]->(b:Person) RETURN a, b;`)
	require.Len(t, res.Rows, 1)
	a := res.Rows[0][0].(*graph.Node)
	b := res.Rows[0][1].(*graph.Node)
	aName, _ := a.Properties["name"].AsString()
	bName, _ := b.Properties["name"].AsString()
	assert.Equal(t, "Alice", aName)
	assert.Equal(t, "Bob", bName)
}

func TestMergeReusesExistingMatch(t *testing.T) {
	e, mgr, _ := newTestExecutor(t)
	tx, err := mgr.Begin()
	require.NoError(t, err)
	run(t, e, tx, `CREATE (n:Person {name: "Alice"});`)
	require.NoError(t, tx.Commit())

	tx2, err := mgr.Begin()
	require.NoError(t, err)
	res := run(t, e, tx2, `MERGE (n:Person {name: "Alice"});`)
	require.NoError(t, tx2.Commit())
	created, _ := res.Rows[0][0].(graph.PropertyValue).AsBool()
	assert.False(t, created, "MERGE should report an existing match, not a fresh create")

	all, err := e.engine.AllNodes()
	require.NoError(t, err)
	assert.Len(t, all, 1, "MERGE must not duplicate an existing match")
}

func TestMergeCreatesWhenNoMatch(t *testing.T) {
	e, mgr, _ := newTestExecutor(t)
	tx, err := mgr.Begin()
	require.NoError(t, err)
	res := run(t, e, tx, `MERGE (n:Person {name: "Carol"});`)
	require.NoError(t, tx.Commit())
	created, _ := res.Rows[0][0].(graph.PropertyValue).AsBool()
	assert.True(t, created)

	all, err := e.engine.AllNodes()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSetUpdatesMostRecentlyBoundRow(t *testing.T) {
	e, mgr, _ := newTestExecutor(t)
	tx, err := mgr.Begin()
	require.NoError(t, err)
	run(t, e, tx, `CREATE (n:Person {name: "Alice", age: 30});`)
	require.NoError(t, tx.Commit())

	tx2, err := mgr.Begin()
	require.NoError(t, err)
	run(t, e, tx2, `MATCH (n:Person {name: "Alice"}) RETURN n;`)
	run(t, e, tx2, `SET n.age = 31;`)
	require.NoError(t, tx2.Commit())

	res := run(t, e, nil, `MATCH (n:Person) RETURN n;`)
	n := res.Rows[0][0].(*graph.Node)
	age, _ := n.Properties["age"].AsInt()
	assert.Equal(t, int64(31), age)
}

func TestDeleteRemovesMostRecentlyBoundRow(t *testing.T) {
	e, mgr, _ := newTestExecutor(t)
	tx, err := mgr.Begin()
	require.NoError(t, err)
	run(t, e, tx, `CREATE (n:Person {name: "Alice"});`)
	require.NoError(t, tx.Commit())

	tx2, err := mgr.Begin()
	require.NoError(t, err)
	run(t, e, tx2, `MATCH (n:Person) RETURN n;`)
	run(t, e, tx2, `DELETE n;`)
	require.NoError(t, tx2.Commit())

	all, err := e.engine.AllNodes()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestOrderByAndLimit(t *testing.T) {
	e, mgr, _ := newTestExecutor(t)
	tx, err := mgr.Begin()
	require.NoError(t, err)
	for _, age := range []int64{30, 10, 20} {
		_, err := tx.AddNode(&graph.Node{Labels: []string{"Person"}, Properties: map[string]graph.PropertyValue{"age": graph.Int(age)}})
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit())

	res := run(t, e, nil, `MATCH (n:Person) RETURN n.age AS age ORDER BY n.age ASC LIMIT 2;`)
	require.Len(t, res.Rows, 2)
	first, _ := res.Rows[0][0].(graph.PropertyValue).AsInt()
	second, _ := res.Rows[1][0].(graph.PropertyValue).AsInt()
	assert.Equal(t, int64(10), first)
	assert.Equal(t, int64(20), second)
}

func TestFunctionCalls(t *testing.T) {
	e, mgr, _ := newTestExecutor(t)
	tx, err := mgr.Begin()
	require.NoError(t, err)
	id, err := tx.AddNode(&graph.Node{Labels: []string{"Person"}, Properties: map[string]graph.PropertyValue{"name": graph.String("Alice")}})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	res := run(t, e, nil, `MATCH (n:Person) RETURN id(n) AS nid, labels(n) AS ls;`)
	require.Len(t, res.Rows, 1)
	nid, _ := res.Rows[0][0].(graph.PropertyValue).AsString()
	assert.Equal(t, id.String(), nid)
	ls, _ := res.Rows[0][1].(graph.PropertyValue).AsList()
	require.Len(t, ls, 1)
	label, _ := ls[0].AsString()
	assert.Equal(t, "Person", label)
}

func TestAbsentPropertyEvaluatesToNullInWhere(t *testing.T) {
	e, mgr, _ := newTestExecutor(t)
	tx, err := mgr.Begin()
	require.NoError(t, err)
	_, err = tx.AddNode(&graph.Node{Labels: []string{"Person"}, Properties: map[string]graph.PropertyValue{"name": graph.String("Alice")}})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	res := run(t, e, nil, `MATCH (n:Person) WHERE n.missing = 1 RETURN n;`)
	assert.Empty(t, res.Rows)
}
