// Package storage defines the storage backend contract (spec.md §4.2) and
// its implementations: MemoryEngine, the required concurrent in-memory
// store (§4.3), and BadgerEngine, a disk-resident implementation of the
// same contract (§4.2 "EXPANDED").
package storage

import "github.com/deepskilling/deepgraph/graph"

// Engine is the storage backend contract every implementation satisfies.
// All operations may fail; failure kinds are the closed set in dgerr.
//
// Implementations MUST be safe for concurrent use by multiple goroutines,
// and MUST hand callers copies of stored records rather than internal
// references (spec.md §9).
type Engine interface {
	AddNode(node *graph.Node) (graph.NodeID, error)
	GetNode(id graph.NodeID) (*graph.Node, bool, error)
	UpdateNode(node *graph.Node) error
	DeleteNode(id graph.NodeID) error

	// RestoreNode installs node at its own ID, creating or overwriting
	// whatever is stored there, without generating a fresh id the way
	// AddNode does. Used by WAL recovery, whose records carry the ids
	// originally assigned at write time, and by bulk loaders correlating
	// external ids (spec.md §4.1/§4.6).
	RestoreNode(node *graph.Node) error

	AddEdge(edge *graph.Edge) (graph.EdgeID, error)
	GetEdge(id graph.EdgeID) (*graph.Edge, bool, error)
	UpdateEdge(edge *graph.Edge) error
	DeleteEdge(id graph.EdgeID) error

	// RestoreEdge installs edge at its own ID, wiring it into both
	// endpoints' adjacency lists. Endpoints must already exist. Used by
	// WAL recovery, the same way RestoreNode is.
	RestoreEdge(edge *graph.Edge) error

	Outgoing(id graph.NodeID) ([]*graph.Edge, error)
	Incoming(id graph.NodeID) ([]*graph.Edge, error)

	AllNodes() ([]*graph.Node, error)
	AllEdges() ([]*graph.Edge, error)

	ByLabel(label string) ([]*graph.Node, error)
	ByProperty(key string, value graph.PropertyValue) ([]*graph.Node, error)
	ByRelationshipType(relType string) ([]*graph.Edge, error)

	NodeCount() (int64, error)
	EdgeCount() (int64, error)

	// Clear removes every node and edge. recovery.Recover does not call
	// it; it expects an engine that is already empty.
	Clear() error

	Close() error
}
