package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepskilling/deepgraph/graph"
)

func TestEncodeKeyPreservesIntOrder(t *testing.T) {
	a := EncodeKey(graph.Int(-5))
	b := EncodeKey(graph.Int(0))
	c := EncodeKey(graph.Int(5))
	assert.True(t, bytesCompare(a, b) < 0)
	assert.True(t, bytesCompare(b, c) < 0)
}

func TestEncodeKeyPreservesFloatOrder(t *testing.T) {
	a := EncodeKey(graph.Float(-3.5))
	b := EncodeKey(graph.Float(0))
	c := EncodeKey(graph.Float(3.5))
	assert.True(t, bytesCompare(a, b) < 0)
	assert.True(t, bytesCompare(b, c) < 0)
}

func TestHashIndexInsertLookupRemove(t *testing.T) {
	h := NewHashIndex()
	n1, n2 := graph.NewNodeID(), graph.NewNodeID()
	h.Insert(graph.String("NYC"), n1)
	h.Insert(graph.String("NYC"), n2)

	got := h.Lookup(graph.String("NYC"))
	assert.ElementsMatch(t, []graph.NodeID{n1, n2}, got)

	h.Remove(graph.String("NYC"), n1)
	got = h.Lookup(graph.String("NYC"))
	assert.Equal(t, []graph.NodeID{n2}, got)
}

func TestBTreeIndexRangeScan(t *testing.T) {
	dir := t.TempDir()
	bt, err := OpenBTreeIndex(dir)
	require.NoError(t, err)
	defer bt.Close()

	ids := make(map[int64]graph.NodeID)
	for _, age := range []int64{20, 25, 30, 35, 40} {
		id := graph.NewNodeID()
		ids[age] = id
		require.NoError(t, bt.Insert(graph.Int(age), id))
	}

	lo, hi := graph.Int(25), graph.Int(40)
	got, err := bt.Range(&lo, &hi)
	require.NoError(t, err)
	assert.ElementsMatch(t, []graph.NodeID{ids[25], ids[30], ids[35]}, got)
}

func TestManagerCreateIndexPopulatesFromExistingNodes(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)
	defer m.Close()

	n1 := &graph.Node{ID: graph.NewNodeID(), Labels: []string{"Person"}, Properties: map[string]graph.PropertyValue{"city": graph.String("NYC")}}
	n2 := &graph.Node{ID: graph.NewNodeID(), Labels: []string{"Person"}, Properties: map[string]graph.PropertyValue{"city": graph.String("SF")}}

	require.NoError(t, m.CreateIndex("person_city", Hash, Target{Label: "Person", Property: "city"}, []*graph.Node{n1, n2}))

	got, err := m.Lookup("person_city", graph.String("NYC"))
	require.NoError(t, err)
	assert.Equal(t, []graph.NodeID{n1.ID}, got)
}

func TestManagerOnNodeUpdatedReindexes(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.CreateIndex("person_city", Hash, Target{Label: "Person", Property: "city"}, nil))

	n := &graph.Node{ID: graph.NewNodeID(), Labels: []string{"Person"}, Properties: map[string]graph.PropertyValue{"city": graph.String("NYC")}}
	require.NoError(t, m.OnNodeInserted(n))

	updated := &graph.Node{ID: n.ID, Labels: []string{"Person"}, Properties: map[string]graph.PropertyValue{"city": graph.String("SF")}}
	require.NoError(t, m.OnNodeUpdated(n, updated))

	nyc, err := m.Lookup("person_city", graph.String("NYC"))
	require.NoError(t, err)
	assert.Empty(t, nyc)

	sf, err := m.Lookup("person_city", graph.String("SF"))
	require.NoError(t, err)
	assert.Equal(t, []graph.NodeID{n.ID}, sf)
}

func TestDropThenCreateIndexMatchesOriginal(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)
	defer m.Close()

	n := &graph.Node{ID: graph.NewNodeID(), Labels: []string{"Person"}, Properties: map[string]graph.PropertyValue{"city": graph.String("NYC")}}
	require.NoError(t, m.CreateIndex("person_city", BTree, Target{Label: "Person", Property: "city"}, []*graph.Node{n}))

	before, err := m.Lookup("person_city", graph.String("NYC"))
	require.NoError(t, err)

	require.NoError(t, m.DropIndex("person_city"))
	require.NoError(t, m.CreateIndex("person_city", BTree, Target{Label: "Person", Property: "city"}, []*graph.Node{n}))

	after, err := m.Lookup("person_city", graph.String("NYC"))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
