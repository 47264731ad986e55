package deepgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepskilling/deepgraph/graph"
	"github.com/deepskilling/deepgraph/index"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.StorageDataDir = t.TempDir()
	e, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestOpenCreatesDataDirectoryAndIsUsableImmediately(t *testing.T) {
	e := openTestEngine(t)
	count, err := e.NodeCount()
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestBeginCommitPersistsNode(t *testing.T) {
	e := openTestEngine(t)
	tx, err := e.Begin()
	require.NoError(t, err)
	id, err := tx.AddNode(&graph.Node{Labels: []string{"Person"}, Properties: map[string]graph.PropertyValue{"name": graph.String("Alice")}})
	require.NoError(t, err)
	require.NoError(t, e.Commit(tx))

	n, ok, err := e.GetNode(id)
	require.NoError(t, err)
	require.True(t, ok)
	name, _ := n.Properties["name"].AsString()
	assert.Equal(t, "Alice", name)
}

func TestAbortDiscardsUncommittedNode(t *testing.T) {
	e := openTestEngine(t)
	tx, err := e.Begin()
	require.NoError(t, err)
	id, err := tx.AddNode(&graph.Node{Labels: []string{"Person"}})
	require.NoError(t, err)
	require.NoError(t, e.Abort(tx))

	_, ok, err := e.GetNode(id)
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestRecoveryAcrossReopen is spec.md §8 Scenario C run through the public
// API: a committed node survives Close+Open, an aborted/uncommitted one
// does not.
func TestRecoveryAcrossReopen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDataDir = t.TempDir()

	e1, err := Open(cfg)
	require.NoError(t, err)
	tx1, err := e1.Begin()
	require.NoError(t, err)
	committedID, err := tx1.AddNode(&graph.Node{Labels: []string{"Person"}})
	require.NoError(t, err)
	require.NoError(t, e1.Commit(tx1))

	tx2, err := e1.Begin()
	require.NoError(t, err)
	uncommittedID, err := tx2.AddNode(&graph.Node{Labels: []string{"Person"}})
	require.NoError(t, err)
	// no commit/abort: simulate a crash.
	require.NoError(t, e1.Close())

	e2, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { e2.Close() })

	_, ok, err := e2.GetNode(committedID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = e2.GetNode(uncommittedID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreateIndexAndLookup(t *testing.T) {
	e := openTestEngine(t)
	tx, err := e.Begin()
	require.NoError(t, err)
	id, err := tx.AddNode(&graph.Node{Labels: []string{"Person"}, Properties: map[string]graph.PropertyValue{"city": graph.String("NYC")}})
	require.NoError(t, err)
	require.NoError(t, e.Commit(tx))

	require.NoError(t, e.CreateIndex("person_city", index.Hash, index.Target{Label: "Person", Property: "city"}))
	ids, err := e.Lookup("person_city", graph.String("NYC"))
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, id, ids[0])
}

func TestExecuteCypherThroughEngine(t *testing.T) {
	e := openTestEngine(t)
	_, err := e.Execute(`CREATE (n:Person {name: "Alice"});`)
	require.NoError(t, err)

	res, err := e.Execute(`MATCH (n:Person) RETURN n;`)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
}
