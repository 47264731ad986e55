package cypher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepskilling/deepgraph/graph"
	"github.com/deepskilling/deepgraph/index"
	"github.com/deepskilling/deepgraph/storage"
	"github.com/deepskilling/deepgraph/txn"
	"github.com/deepskilling/deepgraph/wal"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	store := storage.NewMemoryEngine()
	w, err := wal.Open(wal.DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	indices, err := index.NewManager(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { indices.Close() })
	txns := txn.NewManager(store, w, indices)
	return New(store, indices, txns)
}

func TestExecuteAutoCommitsWriteStatement(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Execute(`CREATE (n:Person {name: "Alice"});`)
	require.NoError(t, err)

	res, err := e.Execute(`MATCH (n:Person) RETURN n;`)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	n := res.Rows[0][0].(*graph.Node)
	name, _ := n.Properties["name"].AsString()
	assert.Equal(t, "Alice", name)
}

func TestExecuteInTxSharesOneTransactionAcrossStatements(t *testing.T) {
	e := newTestEngine(t)
	tx, err := e.txns.Begin()
	require.NoError(t, err)

	_, err = e.ExecuteInTx(`CREATE (n:Person {name: "Alice", age: 30});`, tx)
	require.NoError(t, err)
	_, err = e.ExecuteInTx(`MATCH (n:Person {name: "Alice"}) RETURN n;`, tx)
	require.NoError(t, err)
	_, err = e.ExecuteInTx(`SET n.age = 31;`, tx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	res, err := e.Execute(`MATCH (n:Person) RETURN n;`)
	require.NoError(t, err)
	n := res.Rows[0][0].(*graph.Node)
	age, _ := n.Properties["age"].AsInt()
	assert.Equal(t, int64(31), age)
}

func TestExecuteAbortsTransactionOnWriteError(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Execute(`SET n.age = 1;`) // n is never bound: no prior MATCH in this Engine
	require.Error(t, err)

	res, err := e.Execute(`MATCH (n) RETURN n;`)
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
}

func TestExecuteInTxRejectsWriteWithoutTransaction(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.ExecuteInTx(`CREATE (n:Person);`, nil)
	assert.Error(t, err)
}
