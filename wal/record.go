// Package wal implements DeepGraph's append-only write-ahead log:
// segment-numbered binary files, a closed set of operation tags, and the
// durability knobs spec.md §4.5/§6 specify.
package wal

import (
	"encoding/binary"
	"hash/crc32"
	"time"

	"github.com/deepskilling/deepgraph/dgerr"
)

// Op is the closed set of WAL operation tags (spec.md §4.5).
type Op byte

const (
	OpBeginTxn Op = iota + 1
	OpInsertNode
	OpUpdateNode
	OpDeleteNode
	OpInsertEdge
	OpUpdateEdge
	OpDeleteEdge
	OpCommitTxn
	OpAbortTxn
	OpCheckpoint
)

func (o Op) String() string {
	switch o {
	case OpBeginTxn:
		return "BeginTxn"
	case OpInsertNode:
		return "InsertNode"
	case OpUpdateNode:
		return "UpdateNode"
	case OpDeleteNode:
		return "DeleteNode"
	case OpInsertEdge:
		return "InsertEdge"
	case OpUpdateEdge:
		return "UpdateEdge"
	case OpDeleteEdge:
		return "DeleteEdge"
	case OpCommitTxn:
		return "CommitTxn"
	case OpAbortTxn:
		return "AbortTxn"
	case OpCheckpoint:
		return "Checkpoint"
	default:
		return "Unknown"
	}
}

// Record is one WAL entry: {lsn, txn-id, op, payload, timestamp}
// (spec.md §3/§4.5). Payload is an already-JSON-encoded operation body —
// the serialized node/edge record for insert/update, the id for delete,
// empty for txn-lifecycle and checkpoint records.
type Record struct {
	LSN       uint64
	TxnID     uint64
	Op        Op
	Payload   []byte
	Timestamp time.Time
}

// header is the record's fixed binary prefix, ahead of the JSON payload:
// lsn(8) + txnID(8) + op(1) + timestampMillis(8) = 25 bytes.
const headerSize = 8 + 8 + 1 + 8

// encode renders a record as [4-byte length][header][payload][4-byte CRC32]
// (spec.md §6's "WAL segment format"). length covers header+payload only;
// the CRC32 covers header+payload too, so a torn trailing write — of
// either the length prefix or the body — is detected, not silently
// accepted the way the teacher's rolling-XOR checksum would be.
func encode(r Record) []byte {
	body := make([]byte, headerSize+len(r.Payload))
	binary.BigEndian.PutUint64(body[0:8], r.LSN)
	binary.BigEndian.PutUint64(body[8:16], r.TxnID)
	body[16] = byte(r.Op)
	binary.BigEndian.PutUint64(body[17:25], uint64(r.Timestamp.UnixMilli()))
	copy(body[headerSize:], r.Payload)

	out := make([]byte, 4+len(body)+4)
	binary.BigEndian.PutUint32(out[0:4], uint32(len(body)))
	copy(out[4:4+len(body)], body)
	binary.BigEndian.PutUint32(out[4+len(body):], crc32.ChecksumIEEE(body))
	return out
}

// decode parses one record body (header+payload), with the length prefix
// and CRC32 already stripped; the caller reads the frame and checks the
// CRC before calling it. Returns an error only if body is shorter than
// the fixed header.
func decode(frame []byte) (Record, error) {
	if len(frame) < headerSize {
		return Record{}, dgerr.New(dgerr.SerializationError, "wal record shorter than fixed header")
	}
	r := Record{
		LSN:       binary.BigEndian.Uint64(frame[0:8]),
		TxnID:     binary.BigEndian.Uint64(frame[8:16]),
		Op:        Op(frame[16]),
		Timestamp: time.UnixMilli(int64(binary.BigEndian.Uint64(frame[17:25]))),
	}
	if len(frame) > headerSize {
		r.Payload = append([]byte(nil), frame[headerSize:]...)
	}
	return r, nil
}
