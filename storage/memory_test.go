package storage

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepskilling/deepgraph/dgerr"
	"github.com/deepskilling/deepgraph/graph"
)

func personNode(name string, age int64, city string) *graph.Node {
	return &graph.Node{
		Labels: []string{"Person"},
		Properties: map[string]graph.PropertyValue{
			"name": graph.String(name),
			"age":  graph.Int(age),
			"city": graph.String(city),
		},
	}
}

// TestBasicCRUDAndQuery mirrors spec.md §8 Scenario A.
func TestBasicCRUDAndQuery(t *testing.T) {
	e := NewMemoryEngine()

	_, err := e.AddNode(personNode("Alice", 30, "NYC"))
	require.NoError(t, err)
	_, err = e.AddNode(personNode("Bob", 25, "SF"))
	require.NoError(t, err)
	_, err = e.AddNode(personNode("Charlie", 35, "NYC"))
	require.NoError(t, err)

	byLabel, err := e.ByLabel("Person")
	require.NoError(t, err)
	require.Len(t, byLabel, 3)

	var matched []string
	for _, n := range byLabel {
		age, _ := n.Properties["age"].AsInt()
		city, _ := n.Properties["city"].AsString()
		if age > 25 && city == "NYC" {
			name, _ := n.Properties["name"].AsString()
			matched = append(matched, name)
		}
	}
	assert.ElementsMatch(t, []string{"Alice", "Charlie"}, matched)
}

// TestCascadeDelete mirrors spec.md §8 Scenario B.
func TestCascadeDelete(t *testing.T) {
	e := NewMemoryEngine()

	n1, err := e.AddNode(personNode("Alice", 30, "NYC"))
	require.NoError(t, err)
	n2, err := e.AddNode(personNode("Bob", 25, "SF"))
	require.NoError(t, err)
	n3, err := e.AddNode(personNode("Charlie", 35, "NYC"))
	require.NoError(t, err)

	e1, err := e.AddEdge(&graph.Edge{From: n1, To: n2, Type: "KNOWS"})
	require.NoError(t, err)
	e2, err := e.AddEdge(&graph.Edge{From: n1, To: n3, Type: "KNOWS"})
	require.NoError(t, err)

	require.NoError(t, e.DeleteNode(n1))

	nc, err := e.NodeCount()
	require.NoError(t, err)
	assert.EqualValues(t, 2, nc)

	ec, err := e.EdgeCount()
	require.NoError(t, err)
	assert.EqualValues(t, 0, ec)

	_, ok, err := e.GetEdge(e1)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = e.GetEdge(e2)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = e.GetNode(n1)
	require.NoError(t, err)
	assert.False(t, ok)

	out, err := e.Outgoing(n2)
	require.NoError(t, err)
	assert.Empty(t, out)
	in, err := e.Incoming(n3)
	require.NoError(t, err)
	assert.Empty(t, in)
}

func TestAddEdgeFailsOnMissingEndpoint(t *testing.T) {
	e := NewMemoryEngine()
	n1, err := e.AddNode(personNode("Alice", 30, "NYC"))
	require.NoError(t, err)

	_, err = e.AddEdge(&graph.Edge{From: n1, To: graph.NewNodeID(), Type: "KNOWS"})
	require.Error(t, err)
	assert.True(t, dgerr.Is(err, dgerr.NodeNotFound))
}

func TestGetNodeDistinguishesAbsentFromError(t *testing.T) {
	e := NewMemoryEngine()
	n, ok, err := e.GetNode(graph.NewNodeID())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, n)
}

func TestUpdateEdgeRejectsEndpointChange(t *testing.T) {
	e := NewMemoryEngine()
	n1, _ := e.AddNode(personNode("Alice", 30, "NYC"))
	n2, _ := e.AddNode(personNode("Bob", 25, "SF"))
	n3, _ := e.AddNode(personNode("Charlie", 35, "NYC"))
	eid, err := e.AddEdge(&graph.Edge{From: n1, To: n2, Type: "KNOWS"})
	require.NoError(t, err)

	err = e.UpdateEdge(&graph.Edge{ID: eid, From: n1, To: n3, Type: "KNOWS"})
	require.Error(t, err)
	assert.True(t, dgerr.Is(err, dgerr.InvalidOperation))
}

func TestNoDanglingEdgesUnderDeleteNode(t *testing.T) {
	e := NewMemoryEngine()
	n1, _ := e.AddNode(personNode("Alice", 30, "NYC"))
	n2, _ := e.AddNode(personNode("Bob", 25, "SF"))
	_, err := e.AddEdge(&graph.Edge{From: n1, To: n2, Type: "KNOWS"})
	require.NoError(t, err)

	require.NoError(t, e.DeleteNode(n2))

	out, err := e.Outgoing(n1)
	require.NoError(t, err)
	assert.Empty(t, out, "edge to the deleted node must not remain in the surviving node's adjacency")
}

// TestConcurrentWritesToDifferentNodes exercises the per-shard locking:
// concurrent goroutines adding edges that touch disjoint node pairs must
// not corrupt any node's adjacency list.
func TestConcurrentWritesToDifferentNodes(t *testing.T) {
	e := NewMemoryEngine()
	const pairs = 50
	froms := make([]graph.NodeID, pairs)
	tos := make([]graph.NodeID, pairs)
	for i := 0; i < pairs; i++ {
		froms[i], _ = e.AddNode(personNode("A", 1, "X"))
		tos[i], _ = e.AddNode(personNode("B", 2, "Y"))
	}

	var wg sync.WaitGroup
	for i := 0; i < pairs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.AddEdge(&graph.Edge{From: froms[i], To: tos[i], Type: "LINK"})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	for i := 0; i < pairs; i++ {
		out, err := e.Outgoing(froms[i])
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, tos[i], out[0].To)
	}
}

func TestClearResetsStore(t *testing.T) {
	e := NewMemoryEngine()
	_, err := e.AddNode(personNode("Alice", 30, "NYC"))
	require.NoError(t, err)
	require.NoError(t, e.Clear())

	nc, err := e.NodeCount()
	require.NoError(t, err)
	assert.Zero(t, nc)
}
