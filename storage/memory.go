package storage

import (
	"time"

	"github.com/deepskilling/deepgraph/dgerr"
	"github.com/deepskilling/deepgraph/graph"
	"github.com/deepskilling/deepgraph/internal/shardmap"
)

// nodeEntry bundles a node record with its adjacency in the same shard,
// so a single MultiLock on node ids also covers the adjacency lists that
// belong to those nodes, matching spec.md §4.3: "four mappings plus two
// adjacency indices ... id->node, id->edge, from->outgoing, to->incoming".
// Edge ids are kept in insertion order per spec.md §4.2 ("sequence of
// edges"), not an unordered set like the teacher's map[EdgeID]struct{}.
type nodeEntry struct {
	node     *graph.Node
	outgoing []graph.EdgeID
	incoming []graph.EdgeID
}

// MemoryEngine is the required concurrent in-memory storage backend
// (spec.md §4.3). Readers never block other readers; writers lock only
// the shard(s) their keys hash to, via internal/shardmap.
type MemoryEngine struct {
	nodes *shardmap.Map[graph.NodeID, *nodeEntry]
	edges *shardmap.Map[graph.EdgeID, *graph.Edge]
}

func nodeKeyer(id graph.NodeID) uint64 { return bytesHash(id.Bytes()) }
func edgeKeyer(id graph.EdgeID) uint64 { return bytesHash(id.Bytes()) }

func bytesHash(b [16]byte) uint64 {
	var h uint64 = 1469598103934665603
	for _, c := range b {
		h ^= uint64(c)
		h *= 1099511628211
	}
	return h
}

// NewMemoryEngine constructs an empty in-memory engine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		nodes: shardmap.New[graph.NodeID, *nodeEntry](nodeKeyer),
		edges: shardmap.New[graph.EdgeID, *graph.Edge](edgeKeyer),
	}
}

func (m *MemoryEngine) AddNode(node *graph.Node) (graph.NodeID, error) {
	if node == nil {
		return graph.NodeID{}, dgerr.New(dgerr.InvalidOperation, "node must not be nil")
	}
	id := graph.NewNodeID()
	now := time.Now()
	stored := node.Clone()
	stored.ID = id
	stored.CreatedAt = now
	stored.UpdatedAt = now
	if stored.Properties == nil {
		stored.Properties = map[string]graph.PropertyValue{}
	}

	var collided bool
	m.nodes.WithLock(id, func(bucket map[graph.NodeID]*nodeEntry) {
		if _, exists := bucket[id]; exists {
			collided = true
			return
		}
		bucket[id] = &nodeEntry{node: stored}
	})
	if collided {
		// Astronomically unlikely per spec.md §4.1; treated as fatal.
		return graph.NodeID{}, dgerr.New(dgerr.StorageError, "node id collision")
	}
	return id, nil
}

// RestoreNode installs node at its own id, creating the entry if absent
// or replacing the node record (preserving existing adjacency) if
// present. Used by WAL recovery, which replays records carrying their
// original ids rather than asking the store to mint new ones.
func (m *MemoryEngine) RestoreNode(node *graph.Node) error {
	if node == nil {
		return dgerr.New(dgerr.InvalidOperation, "node must not be nil")
	}
	stored := node.Clone()
	if stored.Properties == nil {
		stored.Properties = map[string]graph.PropertyValue{}
	}
	m.nodes.WithLock(stored.ID, func(bucket map[graph.NodeID]*nodeEntry) {
		if existing, ok := bucket[stored.ID]; ok {
			existing.node = stored
			return
		}
		bucket[stored.ID] = &nodeEntry{node: stored}
	})
	return nil
}

func (m *MemoryEngine) GetNode(id graph.NodeID) (*graph.Node, bool, error) {
	entry, ok := m.nodes.Get(id)
	if !ok {
		return nil, false, nil
	}
	return entry.node.Clone(), true, nil
}

// UpdateNode performs whole-record replacement: labels and properties are
// replaced wholesale, per spec.md §4.2. Adjacency is untouched.
func (m *MemoryEngine) UpdateNode(node *graph.Node) error {
	if node == nil {
		return dgerr.New(dgerr.InvalidOperation, "node must not be nil")
	}
	id := node.ID
	var found bool
	m.nodes.WithLock(id, func(bucket map[graph.NodeID]*nodeEntry) {
		entry, ok := bucket[id]
		if !ok {
			return
		}
		found = true
		replacement := node.Clone()
		replacement.CreatedAt = entry.node.CreatedAt
		replacement.UpdatedAt = time.Now()
		entry.node = replacement
	})
	if !found {
		return dgerr.New(dgerr.NodeNotFound, "node %s not found", id)
	}
	return nil
}

// DeleteNode removes the node and cascades to every incident edge,
// atomically from any reader's perspective (spec.md §4.2/§4.3).
//
// The full set of nodes whose adjacency must change is: the target node
// itself, plus the other endpoint of every incident edge. All of those
// node shards are locked together via MultiLock (ascending shard-index
// order), so this never deadlocks against a concurrent DeleteNode/AddEdge
// touching an overlapping set of nodes. Edge shards for the removed edges
// are locked afterward, in the same ascending-index discipline.
func (m *MemoryEngine) DeleteNode(id graph.NodeID) error {
	// Pass 1: snapshot the node's adjacency under its own lock to learn
	// which other nodes are involved, without holding every lock yet
	// (we don't know the full node set until we've read this).
	var entry *nodeEntry
	m.nodes.WithRLock(id, func(bucket map[graph.NodeID]*nodeEntry) {
		if e, ok := bucket[id]; ok {
			entry = &nodeEntry{node: e.node, outgoing: append([]graph.EdgeID(nil), e.outgoing...), incoming: append([]graph.EdgeID(nil), e.incoming...)}
		}
	})
	if entry == nil {
		return dgerr.New(dgerr.NodeNotFound, "node %s not found", id)
	}

	involvedEdges := append(append([]graph.EdgeID(nil), entry.outgoing...), entry.incoming...)
	otherNodeOf := make(map[graph.EdgeID]graph.NodeID, len(involvedEdges))
	otherEndpoints := map[graph.NodeID]struct{}{}
	m.edges.MultiRLock(involvedEdges...)()
	for _, eid := range involvedEdges {
		if e, ok := m.edges.Get(eid); ok {
			var other graph.NodeID
			if e.From == id {
				other = e.To
			} else {
				other = e.From
			}
			otherNodeOf[eid] = other
			if other != id {
				otherEndpoints[other] = struct{}{}
			}
		}
	}

	lockNodes := make([]graph.NodeID, 0, len(otherEndpoints)+1)
	lockNodes = append(lockNodes, id)
	for n := range otherEndpoints {
		lockNodes = append(lockNodes, n)
	}

	unlockNodes := m.nodes.MultiLock(lockNodes...)
	defer unlockNodes()
	unlockEdges := m.edges.MultiLock(involvedEdges...)
	defer unlockEdges()

	nodeBucket := m.nodes.At(id)
	self, exists := nodeBucket[id]
	if !exists {
		// Raced with a concurrent delete between pass 1 and the lock: the
		// node is already gone, nothing left to cascade.
		return dgerr.New(dgerr.NodeNotFound, "node %s not found", id)
	}

	for _, eid := range append(append([]graph.EdgeID(nil), self.outgoing...), self.incoming...) {
		other, ok := otherNodeOf[eid]
		if !ok {
			continue
		}
		delete(m.edges.At(eid), eid)
		if other != id {
			otherBucket := m.nodes.At(other)
			if oe, ok := otherBucket[other]; ok {
				oe.outgoing = removeEdgeID(oe.outgoing, eid)
				oe.incoming = removeEdgeID(oe.incoming, eid)
			}
		}
	}

	delete(nodeBucket, id)
	return nil
}

func removeEdgeID(list []graph.EdgeID, target graph.EdgeID) []graph.EdgeID {
	out := list[:0]
	for _, e := range list {
		if e != target {
			out = append(out, e)
		}
	}
	return out
}

func (m *MemoryEngine) AddEdge(edge *graph.Edge) (graph.EdgeID, error) {
	if edge == nil {
		return graph.EdgeID{}, dgerr.New(dgerr.InvalidOperation, "edge must not be nil")
	}
	id := graph.NewEdgeID()
	now := time.Now()
	stored := edge.Clone()
	stored.ID = id
	stored.CreatedAt = now
	stored.UpdatedAt = now
	if stored.Properties == nil {
		stored.Properties = map[string]graph.PropertyValue{}
	}

	unlock := m.nodes.MultiLock(stored.From, stored.To)
	defer unlock()

	fromBucket := m.nodes.At(stored.From)
	fromEntry, ok := fromBucket[stored.From]
	if !ok {
		return graph.EdgeID{}, dgerr.New(dgerr.NodeNotFound, "start node %s not found", stored.From)
	}
	toBucket := m.nodes.At(stored.To)
	toEntry, ok := toBucket[stored.To]
	if !ok {
		return graph.EdgeID{}, dgerr.New(dgerr.NodeNotFound, "end node %s not found", stored.To)
	}

	m.edges.Set(id, stored)
	fromEntry.outgoing = append(fromEntry.outgoing, id)
	toEntry.incoming = append(toEntry.incoming, id)
	return id, nil
}

// RestoreEdge installs edge at its own id, wiring it into both endpoints'
// adjacency (replacing any prior edge record at that id without
// duplicating the adjacency entry). Used by WAL recovery.
func (m *MemoryEngine) RestoreEdge(edge *graph.Edge) error {
	if edge == nil {
		return dgerr.New(dgerr.InvalidOperation, "edge must not be nil")
	}
	stored := edge.Clone()
	if stored.Properties == nil {
		stored.Properties = map[string]graph.PropertyValue{}
	}

	unlock := m.nodes.MultiLock(stored.From, stored.To)
	defer unlock()

	fromEntry, ok := m.nodes.At(stored.From)[stored.From]
	if !ok {
		return dgerr.New(dgerr.NodeNotFound, "start node %s not found", stored.From)
	}
	toEntry, ok := m.nodes.At(stored.To)[stored.To]
	if !ok {
		return dgerr.New(dgerr.NodeNotFound, "end node %s not found", stored.To)
	}

	if _, exists := m.edges.Get(stored.ID); !exists {
		fromEntry.outgoing = append(fromEntry.outgoing, stored.ID)
		toEntry.incoming = append(toEntry.incoming, stored.ID)
	}
	m.edges.Set(stored.ID, stored)
	return nil
}

func (m *MemoryEngine) GetEdge(id graph.EdgeID) (*graph.Edge, bool, error) {
	e, ok := m.edges.Get(id)
	if !ok {
		return nil, false, nil
	}
	return e.Clone(), true, nil
}

// UpdateEdge replaces Type/Properties; From/To are immutable after
// creation in this implementation (moving an edge's endpoints would
// require the same multi-node adjacency surgery as delete+recreate, and
// spec.md never asks for in-place endpoint migration).
func (m *MemoryEngine) UpdateEdge(edge *graph.Edge) error {
	if edge == nil {
		return dgerr.New(dgerr.InvalidOperation, "edge must not be nil")
	}
	id := edge.ID
	var found bool
	var errOut error
	m.edges.WithLock(id, func(bucket map[graph.EdgeID]*graph.Edge) {
		existing, ok := bucket[id]
		if !ok {
			return
		}
		found = true
		if existing.From != edge.From || existing.To != edge.To {
			errOut = dgerr.New(dgerr.InvalidOperation, "edge endpoints are immutable; delete and re-add instead")
			return
		}
		replacement := edge.Clone()
		replacement.CreatedAt = existing.CreatedAt
		replacement.UpdatedAt = time.Now()
		bucket[id] = replacement
	})
	if errOut != nil {
		return errOut
	}
	if !found {
		return dgerr.New(dgerr.EdgeNotFound, "edge %s not found", id)
	}
	return nil
}

func (m *MemoryEngine) DeleteEdge(id graph.EdgeID) error {
	e, ok := m.edges.Get(id)
	if !ok {
		return dgerr.New(dgerr.EdgeNotFound, "edge %s not found", id)
	}

	unlock := m.nodes.MultiLock(e.From, e.To)
	defer unlock()

	if fromEntry, ok := m.nodes.At(e.From)[e.From]; ok {
		fromEntry.outgoing = removeEdgeID(fromEntry.outgoing, id)
	}
	if toEntry, ok := m.nodes.At(e.To)[e.To]; ok {
		toEntry.incoming = removeEdgeID(toEntry.incoming, id)
	}
	m.edges.Delete(id)
	return nil
}

func (m *MemoryEngine) Outgoing(id graph.NodeID) ([]*graph.Edge, error) {
	entry, ok := m.nodes.Get(id)
	if !ok {
		return nil, dgerr.New(dgerr.NodeNotFound, "node %s not found", id)
	}
	out := make([]*graph.Edge, 0, len(entry.outgoing))
	for _, eid := range entry.outgoing {
		if e, ok := m.edges.Get(eid); ok {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}

func (m *MemoryEngine) Incoming(id graph.NodeID) ([]*graph.Edge, error) {
	entry, ok := m.nodes.Get(id)
	if !ok {
		return nil, dgerr.New(dgerr.NodeNotFound, "node %s not found", id)
	}
	out := make([]*graph.Edge, 0, len(entry.incoming))
	for _, eid := range entry.incoming {
		if e, ok := m.edges.Get(eid); ok {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}

func (m *MemoryEngine) AllNodes() ([]*graph.Node, error) {
	var out []*graph.Node
	m.nodes.Range(func(_ graph.NodeID, e *nodeEntry) bool {
		out = append(out, e.node.Clone())
		return true
	})
	return out, nil
}

func (m *MemoryEngine) AllEdges() ([]*graph.Edge, error) {
	var out []*graph.Edge
	m.edges.Range(func(_ graph.EdgeID, e *graph.Edge) bool {
		out = append(out, e.Clone())
		return true
	})
	return out, nil
}

func (m *MemoryEngine) ByLabel(label string) ([]*graph.Node, error) {
	var out []*graph.Node
	m.nodes.Range(func(_ graph.NodeID, e *nodeEntry) bool {
		if e.node.HasLabel(label) {
			out = append(out, e.node.Clone())
		}
		return true
	})
	return out, nil
}

func (m *MemoryEngine) ByProperty(key string, value graph.PropertyValue) ([]*graph.Node, error) {
	var out []*graph.Node
	m.nodes.Range(func(_ graph.NodeID, e *nodeEntry) bool {
		if v, ok := e.node.Properties[key]; ok && v.Equal(value) {
			out = append(out, e.node.Clone())
		}
		return true
	})
	return out, nil
}

func (m *MemoryEngine) ByRelationshipType(relType string) ([]*graph.Edge, error) {
	var out []*graph.Edge
	m.edges.Range(func(_ graph.EdgeID, e *graph.Edge) bool {
		if e.Type == relType {
			out = append(out, e.Clone())
		}
		return true
	})
	return out, nil
}

func (m *MemoryEngine) NodeCount() (int64, error) { return int64(m.nodes.Len()), nil }
func (m *MemoryEngine) EdgeCount() (int64, error) { return int64(m.edges.Len()), nil }

func (m *MemoryEngine) Clear() error {
	m.nodes = shardmap.New[graph.NodeID, *nodeEntry](nodeKeyer)
	m.edges = shardmap.New[graph.EdgeID, *graph.Edge](edgeKeyer)
	return nil
}

func (m *MemoryEngine) Close() error { return nil }

var _ Engine = (*MemoryEngine)(nil)
