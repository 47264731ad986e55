package txn

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepskilling/deepgraph/dgerr"
	"github.com/deepskilling/deepgraph/graph"
	"github.com/deepskilling/deepgraph/index"
	"github.com/deepskilling/deepgraph/storage"
	"github.com/deepskilling/deepgraph/wal"
)

func newTestManager(t *testing.T) (*Manager, storage.Engine) {
	t.Helper()
	engine := storage.NewMemoryEngine()
	w, err := wal.Open(wal.DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	indices, err := index.NewManager(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { indices.Close() })
	return NewManager(engine, w, indices), engine
}

func TestBeginAssignsIncreasingIDs(t *testing.T) {
	mgr, _ := newTestManager(t)
	t1, err := mgr.Begin()
	require.NoError(t, err)
	t2, err := mgr.Begin()
	require.NoError(t, err)
	assert.Less(t, t1.ID(), t2.ID())
}

func TestCommitPersistsNodeAcrossTransactionManager(t *testing.T) {
	mgr, engine := newTestManager(t)
	tx, err := mgr.Begin()
	require.NoError(t, err)

	id, err := tx.AddNode(&graph.Node{Labels: []string{"Person"}, Properties: map[string]graph.PropertyValue{"name": graph.String("Alice")}})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Equal(t, Committed, tx.Status())
	_, ok, err := engine.GetNode(id)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAbortTransitionsStatusAndReleasesLocks(t *testing.T) {
	mgr, _ := newTestManager(t)
	seed, err := mgr.Begin()
	require.NoError(t, err)
	id, err := seed.AddNode(&graph.Node{Labels: []string{"Person"}})
	require.NoError(t, err)
	require.NoError(t, seed.Commit())

	tx, err := mgr.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.UpdateNode(&graph.Node{ID: id, Labels: []string{"Person", "Updated"}}))
	require.NoError(t, tx.Abort())
	assert.Equal(t, Aborted, tx.Status())

	// The resource's lock must be released so another transaction can
	// acquire it immediately.
	tx2, err := mgr.Begin()
	require.NoError(t, err)
	require.NoError(t, tx2.UpdateNode(&graph.Node{ID: id, Labels: []string{"Person"}}))
	require.NoError(t, tx2.Commit())
}

// TestAbortDiscardsCreatedNode is spec.md §4.7's "aborts never leave
// partial effects visible" invariant, checked directly against the
// engine: a node created then aborted must never have reached it.
func TestAbortDiscardsCreatedNode(t *testing.T) {
	mgr, engine := newTestManager(t)
	tx, err := mgr.Begin()
	require.NoError(t, err)

	id, err := tx.AddNode(&graph.Node{Labels: []string{"Person"}, Properties: map[string]graph.PropertyValue{"name": graph.String("Bob")}})
	require.NoError(t, err)

	// The transaction's own reads see the buffered write before abort.
	_, ok, err := tx.GetNode(id)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, tx.Abort())

	_, ok, err = engine.GetNode(id)
	require.NoError(t, err)
	assert.False(t, ok, "aborted transaction's created node must never reach the engine")
}

// TestAbortOfUpdateLeavesPriorCommittedValueInPlace covers the
// update-then-abort half of the same invariant: the engine must keep
// reflecting the last committed value, not a buffered-then-discarded one.
func TestAbortOfUpdateLeavesPriorCommittedValueInPlace(t *testing.T) {
	mgr, engine := newTestManager(t)
	seed, err := mgr.Begin()
	require.NoError(t, err)
	id, err := seed.AddNode(&graph.Node{Labels: []string{"Person"}, Properties: map[string]graph.PropertyValue{"name": graph.String("Alice")}})
	require.NoError(t, err)
	require.NoError(t, seed.Commit())

	tx, err := mgr.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.UpdateNode(&graph.Node{ID: id, Labels: []string{"Person"}, Properties: map[string]graph.PropertyValue{"name": graph.String("Mallory")}}))
	require.NoError(t, tx.Abort())

	n, ok, err := engine.GetNode(id)
	require.NoError(t, err)
	require.True(t, ok)
	name, _ := n.Properties["name"].AsString()
	assert.Equal(t, "Alice", name)
}

// TestCommitMaintainsIndexCreatedBeforeTheMutation is spec.md §4.4's
// "maintained on every mutation" rule, checked the way the bug report
// described it: the index is created first, against an empty store, and
// only then does a transaction add/update/delete a matching node. Before
// Manager wired index.Manager's OnNode* hooks into Commit, none of this
// ever reached the index.
func TestCommitMaintainsIndexCreatedBeforeTheMutation(t *testing.T) {
	engine := storage.NewMemoryEngine()
	w, err := wal.Open(wal.DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	indices, err := index.NewManager(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { indices.Close() })
	require.NoError(t, indices.CreateIndex("person_city", index.Hash, index.Target{Label: "Person", Property: "city"}, nil))

	mgr := NewManager(engine, w, indices)

	tx, err := mgr.Begin()
	require.NoError(t, err)
	id, err := tx.AddNode(&graph.Node{Labels: []string{"Person"}, Properties: map[string]graph.PropertyValue{"city": graph.String("NYC")}})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	got, err := indices.Lookup("person_city", graph.String("NYC"))
	require.NoError(t, err)
	assert.Equal(t, []graph.NodeID{id}, got)

	tx2, err := mgr.Begin()
	require.NoError(t, err)
	require.NoError(t, tx2.UpdateNode(&graph.Node{ID: id, Labels: []string{"Person"}, Properties: map[string]graph.PropertyValue{"city": graph.String("SF")}}))
	require.NoError(t, tx2.Commit())

	nyc, err := indices.Lookup("person_city", graph.String("NYC"))
	require.NoError(t, err)
	assert.Empty(t, nyc)
	sf, err := indices.Lookup("person_city", graph.String("SF"))
	require.NoError(t, err)
	assert.Equal(t, []graph.NodeID{id}, sf)

	tx3, err := mgr.Begin()
	require.NoError(t, err)
	require.NoError(t, tx3.DeleteNode(id))
	require.NoError(t, tx3.Commit())

	sf, err = indices.Lookup("person_city", graph.String("SF"))
	require.NoError(t, err)
	assert.Empty(t, sf)
}

func TestDoubleCommitFails(t *testing.T) {
	mgr, _ := newTestManager(t)
	tx, err := mgr.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	err = tx.Commit()
	require.Error(t, err)
	assert.True(t, dgerr.Is(err, dgerr.TransactionError))
}

func TestOperationAfterAbortFails(t *testing.T) {
	mgr, _ := newTestManager(t)
	tx, err := mgr.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Abort())

	_, err = tx.AddNode(&graph.Node{Labels: []string{"X"}})
	require.Error(t, err)
	assert.True(t, dgerr.Is(err, dgerr.TransactionError))
}

// TestConcurrentUpdatesToSameNodeSerializeUnderLock is spec.md §8 Scenario
// D's non-cyclic case: two transactions updating the same node serialize
// rather than corrupting each other's write.
func TestConcurrentUpdatesToSameNodeSerializeUnderLock(t *testing.T) {
	mgr, engine := newTestManager(t)
	seed, err := mgr.Begin()
	require.NoError(t, err)
	id, err := seed.AddNode(&graph.Node{Labels: []string{"Counter"}, Properties: map[string]graph.PropertyValue{"n": graph.Int(0)}})
	require.NoError(t, err)
	require.NoError(t, seed.Commit())

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx, err := mgr.Begin()
			if err != nil {
				errs[i] = err
				return
			}
			if err := tx.UpdateNode(&graph.Node{ID: id, Labels: []string{"Counter"}, Properties: map[string]graph.PropertyValue{"n": graph.Int(int64(i))}}); err != nil {
				errs[i] = err
				return
			}
			errs[i] = tx.Commit()
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	_, ok, err := engine.GetNode(id)
	require.NoError(t, err)
	assert.True(t, ok)
}

// TestDeadlockBetweenTwoTransactionsResolvesWithOneVictim is spec.md §8
// Scenario D's cyclic case. It drives the wait-for graph directly (rather
// than via two racing goroutines) so the cycle closes deterministically:
// tx1 holds A and wants B; tx2 holds B and, once the wait edge tx1->tx2
// exists, asks for A — closing the cycle on tx2's own call.
func TestDeadlockBetweenTwoTransactionsResolvesWithOneVictim(t *testing.T) {
	mgr, _ := newTestManager(t)
	seed, err := mgr.Begin()
	require.NoError(t, err)
	idA, err := seed.AddNode(&graph.Node{Labels: []string{"A"}})
	require.NoError(t, err)
	idB, err := seed.AddNode(&graph.Node{Labels: []string{"B"}})
	require.NoError(t, err)
	require.NoError(t, seed.Commit())

	tx1, err := mgr.Begin()
	require.NoError(t, err)
	tx2, err := mgr.Begin()
	require.NoError(t, err)

	require.NoError(t, tx1.UpdateNode(&graph.Node{ID: idA, Labels: []string{"A"}}))
	require.NoError(t, tx2.UpdateNode(&graph.Node{ID: idB, Labels: []string{"B"}}))

	// Register tx1's wait on B directly, once, without entering its
	// internal retry loop (which would otherwise race this goroutine).
	granted, err := mgr.locks.RequestLock(tx1.ID(), nodeResource(idB))
	require.NoError(t, err)
	require.False(t, granted)

	err = tx2.UpdateNode(&graph.Node{ID: idA, Labels: []string{"A"}})
	require.Error(t, err)
	assert.True(t, dgerr.Is(err, dgerr.TransactionError))

	require.NoError(t, tx2.Abort())
	require.NoError(t, tx1.Commit())
}
