// Package recovery replays a WAL directory into an empty storage.Engine
// after a crash or restart (spec.md §4.6).
package recovery

import (
	"encoding/json"

	"github.com/deepskilling/deepgraph/dgerr"
	"github.com/deepskilling/deepgraph/graph"
	"github.com/deepskilling/deepgraph/index"
	"github.com/deepskilling/deepgraph/storage"
	"github.com/deepskilling/deepgraph/wal"
)

// idPayload is the WAL payload shape for delete operations, which only
// need to name what they removed.
type idPayload struct {
	ID string `json:"id"`
}

// Result summarizes one recovery run, for the caller to log or surface
// (spec.md §8 Scenario C: "recovery reports the number of operations
// replayed").
type Result struct {
	OpsReplayed    int
	CommittedTxns  int
	IncompleteTxns int
	HighestLSNSeen uint64
}

// Recover replays every well-formed record across dir's WAL segments into
// engine, which must be empty. It determines the committed-transaction
// set first, then replays only operations belonging to a committed
// transaction, applying them in LSN order so that later writes to the
// same id naturally supersede earlier ones (last-writer-wins).
//
// A truncated or CRC-failing record at the tail of the last segment
// (spec.md §4.6: "an unfinished write at the moment of the crash") is not
// an error: the segment reader stops there, and recovery proceeds with
// whatever came before it.
func Recover(dir string, engine storage.Engine, indices *index.Manager) (Result, error) {
	committed, highest, err := scanCommittedTxns(dir)
	if err != nil {
		return Result{}, err
	}

	segments, err := wal.Segments(dir)
	if err != nil {
		return Result{}, err
	}

	var result Result
	result.HighestLSNSeen = highest
	incomplete := map[uint64]bool{}

	for _, seg := range segments {
		err := wal.ReadSegment(wal.SegmentPath(dir, seg), func(rec wal.Record) error {
			if rec.Op == wal.OpBeginTxn || rec.Op == wal.OpCommitTxn ||
				rec.Op == wal.OpAbortTxn || rec.Op == wal.OpCheckpoint {
				return nil
			}
			if !committed[rec.TxnID] {
				incomplete[rec.TxnID] = true
				return nil
			}
			if err := applyRecord(engine, rec); err != nil {
				return err
			}
			result.OpsReplayed++
			return nil
		})
		if err != nil {
			return result, err
		}
	}

	result.CommittedTxns = len(committed)
	result.IncompleteTxns = len(incomplete)

	if indices != nil {
		nodes, err := engine.AllNodes()
		if err != nil {
			return result, err
		}
		if err := indices.Rebuild(nodes); err != nil {
			return result, err
		}
	}

	return result, nil
}

// scanCommittedTxns makes the first of recovery's two passes: a scan that
// only tracks which transaction ids reached OpCommitTxn, without touching
// the engine (spec.md §4.6's "two-pass replay").
func scanCommittedTxns(dir string) (map[uint64]bool, uint64, error) {
	segments, err := wal.Segments(dir)
	if err != nil {
		return nil, 0, err
	}
	committed := map[uint64]bool{}
	var highest uint64
	for _, seg := range segments {
		err := wal.ReadSegment(wal.SegmentPath(dir, seg), func(rec wal.Record) error {
			if rec.LSN > highest {
				highest = rec.LSN
			}
			if rec.Op == wal.OpCommitTxn {
				committed[rec.TxnID] = true
			}
			return nil
		})
		if err != nil {
			return nil, 0, err
		}
	}
	return committed, highest, nil
}

func applyRecord(engine storage.Engine, rec wal.Record) error {
	switch rec.Op {
	case wal.OpInsertNode, wal.OpUpdateNode:
		node, err := decodeNode(rec.Payload)
		if err != nil {
			return err
		}
		return engine.RestoreNode(node)
	case wal.OpDeleteNode:
		id, err := decodeNodeID(rec.Payload)
		if err != nil {
			return err
		}
		if err := engine.DeleteNode(id); err != nil && !dgerr.Is(err, dgerr.NodeNotFound) {
			return err
		}
		return nil
	case wal.OpInsertEdge, wal.OpUpdateEdge:
		edge, err := decodeEdge(rec.Payload)
		if err != nil {
			return err
		}
		return engine.RestoreEdge(edge)
	case wal.OpDeleteEdge:
		id, err := decodeEdgeID(rec.Payload)
		if err != nil {
			return err
		}
		if err := engine.DeleteEdge(id); err != nil && !dgerr.Is(err, dgerr.EdgeNotFound) {
			return err
		}
		return nil
	default:
		return nil
	}
}

func decodeNode(payload []byte) (*graph.Node, error) {
	var n graph.Node
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, dgerr.Wrap(dgerr.SerializationError, err, "decoding wal node payload")
	}
	return &n, nil
}

func decodeEdge(payload []byte) (*graph.Edge, error) {
	var e graph.Edge
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, dgerr.Wrap(dgerr.SerializationError, err, "decoding wal edge payload")
	}
	return &e, nil
}

func decodeNodeID(payload []byte) (graph.NodeID, error) {
	var p idPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return graph.NodeID{}, dgerr.Wrap(dgerr.SerializationError, err, "decoding wal delete-node payload")
	}
	id, ok := graph.ParseNodeID(p.ID)
	if !ok {
		return graph.NodeID{}, dgerr.New(dgerr.SerializationError, "invalid node id in wal payload: %q", p.ID)
	}
	return id, nil
}

func decodeEdgeID(payload []byte) (graph.EdgeID, error) {
	var p idPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return graph.EdgeID{}, dgerr.Wrap(dgerr.SerializationError, err, "decoding wal delete-edge payload")
	}
	id, ok := graph.ParseEdgeID(p.ID)
	if !ok {
		return graph.EdgeID{}, dgerr.New(dgerr.SerializationError, "invalid edge id in wal payload: %q", p.ID)
	}
	return id, nil
}
