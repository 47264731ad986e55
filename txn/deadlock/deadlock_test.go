package deadlock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepskilling/deepgraph/dgerr"
)

func TestRequestLockGrantsUncontendedResource(t *testing.T) {
	m := NewManager()
	granted, err := m.RequestLock(1, "nodeA")
	require.NoError(t, err)
	assert.True(t, granted)
}

func TestRequestLockReentrantIsNoOp(t *testing.T) {
	m := NewManager()
	_, err := m.RequestLock(1, "nodeA")
	require.NoError(t, err)
	granted, err := m.RequestLock(1, "nodeA")
	require.NoError(t, err)
	assert.True(t, granted)
}

func TestRequestLockBlocksWithoutCycle(t *testing.T) {
	m := NewManager()
	_, err := m.RequestLock(1, "nodeA")
	require.NoError(t, err)

	granted, err := m.RequestLock(2, "nodeA")
	require.NoError(t, err)
	assert.False(t, granted)
}

// TestRequestLockDetectsTwoTransactionCycle is spec.md §8 Scenario D: txn 1
// holds A and wants B, txn 2 holds B and wants A — a direct cycle.
func TestRequestLockDetectsTwoTransactionCycle(t *testing.T) {
	m := NewManager()
	granted, err := m.RequestLock(1, "A")
	require.NoError(t, err)
	require.True(t, granted)

	granted, err = m.RequestLock(2, "B")
	require.NoError(t, err)
	require.True(t, granted)

	granted, err = m.RequestLock(1, "B") // txn1 waits on txn2
	require.NoError(t, err)
	assert.False(t, granted)

	granted, err = m.RequestLock(2, "A") // txn2 waits on txn1: cycle
	require.Error(t, err)
	assert.False(t, granted)
	assert.True(t, dgerr.Is(err, dgerr.TransactionError))

	var de *dgerr.Error
	require.ErrorAs(t, err, &de)
	victim, ok := de.Detail.(Victim)
	require.True(t, ok)
	assert.Equal(t, Victim(2), victim, "the younger (higher-id) transaction on the cycle is the victim")
}

func TestReleaseLockUnblocksWaiter(t *testing.T) {
	m := NewManager()
	_, err := m.RequestLock(1, "A")
	require.NoError(t, err)
	granted, err := m.RequestLock(2, "A")
	require.NoError(t, err)
	require.False(t, granted)

	m.ReleaseLock(1, "A")
	granted, err = m.RequestLock(2, "A")
	require.NoError(t, err)
	assert.True(t, granted)
}

func TestReleaseAllFreesEveryHeldResourceAndWaitEdges(t *testing.T) {
	m := NewManager()
	_, err := m.RequestLock(1, "A")
	require.NoError(t, err)
	_, err = m.RequestLock(1, "B")
	require.NoError(t, err)
	_, err = m.RequestLock(2, "A")
	require.NoError(t, err)

	m.ReleaseAll(1)

	_, held := m.HolderOf("A")
	assert.False(t, held)
	_, held = m.HolderOf("B")
	assert.False(t, held)

	granted, err := m.RequestLock(2, "A")
	require.NoError(t, err)
	assert.True(t, granted)
}

func TestThreeTransactionCycleIsDetected(t *testing.T) {
	m := NewManager()
	_, err := m.RequestLock(1, "A")
	require.NoError(t, err)
	_, err = m.RequestLock(2, "B")
	require.NoError(t, err)
	_, err = m.RequestLock(3, "C")
	require.NoError(t, err)

	granted, err := m.RequestLock(1, "B")
	require.NoError(t, err)
	assert.False(t, granted)
	granted, err = m.RequestLock(2, "C")
	require.NoError(t, err)
	assert.False(t, granted)

	granted, err = m.RequestLock(3, "A") // closes the 1->2->3->1 cycle
	require.Error(t, err)
	assert.False(t, granted)
	assert.True(t, dgerr.Is(err, dgerr.TransactionError))
}
