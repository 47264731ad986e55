package storage

import (
	"encoding/json"

	"github.com/dgraph-io/badger/v4"

	"github.com/deepskilling/deepgraph/dgerr"
	"github.com/deepskilling/deepgraph/graph"
	"github.com/deepskilling/deepgraph/index"
)

// Key prefixes for BadgerDB storage organization. Single-byte prefixes
// partition the keyspace; adjacency and label membership are encoded as
// empty-valued index keys rather than stored inline on the record, so
// scanning a prefix never requires decoding the records it points at.
const (
	prefixNode          = byte(0x01) // node:id -> json(Node)
	prefixEdge          = byte(0x02) // edge:id -> json(Edge)
	prefixLabelIndex    = byte(0x03) // label:name:0x00:nodeID -> empty
	prefixOutgoingIndex = byte(0x04) // outgoing:nodeID:0x00:edgeID -> empty
	prefixIncomingIndex = byte(0x05) // incoming:nodeID:0x00:edgeID -> empty
	prefixPropertyIndex = byte(0x06) // property:key:0x00:encodedValue:0x00:nodeID -> empty
)

// BadgerOptions configures the disk-resident storage engine.
type BadgerOptions struct {
	// DataDir is the directory for storing data files. Required unless
	// InMemory is set.
	DataDir string

	// InMemory runs BadgerDB with no on-disk footprint. Useful for tests
	// that want BadgerEngine's exact codec/index behavior without disk I/O.
	InMemory bool

	// SyncWrites forces fsync after each write. Slower, more durable.
	SyncWrites bool
}

// BadgerEngine is a disk-resident implementation of the storage.Engine
// contract backed by BadgerDB, a second Engine alongside MemoryEngine
// (spec.md §4.2 "EXPANDED": any backend may satisfy the contract).
//
// Key structure:
//   - node:id          -> JSON(Node)
//   - edge:id          -> JSON(Edge)
//   - label:name       -> nodeID set, for ByLabel
//   - outgoing:nodeID  -> edgeID set, for Outgoing
//   - incoming:nodeID  -> edgeID set, for Incoming
//   - property:key     -> (encodedValue, nodeID) set, for ByProperty
//
// Every mutation that touches more than one key runs inside a single
// badger.Txn, so BadgerEngine's CRUD operations are individually atomic
// even though the Engine contract itself has no notion of multi-operation
// transactions (that's layered on top by package txn).
type BadgerEngine struct {
	db *badger.DB
}

// NewBadgerEngine opens (or creates) a BadgerDB-backed engine at dataDir.
func NewBadgerEngine(dataDir string) (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{DataDir: dataDir})
}

// NewBadgerEngineInMemory opens a BadgerDB-backed engine with no on-disk
// footprint, for tests that want BadgerEngine's codec/index behavior
// without paying for disk I/O.
func NewBadgerEngineInMemory() (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{InMemory: true})
}

// NewBadgerEngineWithOptions opens a BadgerDB-backed engine with explicit
// durability and memory trade-offs.
func NewBadgerEngineWithOptions(opts BadgerOptions) (*BadgerEngine, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir).WithLogger(nil)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	badgerOpts = badgerOpts.
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, dgerr.Wrap(dgerr.IoError, err, "opening badger store at %q", opts.DataDir)
	}
	return &BadgerEngine{db: db}, nil
}

// --- key encoding ---

func nodeKey(id graph.NodeID) []byte {
	b := id.Bytes()
	return append([]byte{prefixNode}, b[:]...)
}

func edgeKey(id graph.EdgeID) []byte {
	b := id.Bytes()
	return append([]byte{prefixEdge}, b[:]...)
}

func labelIndexKey(label string, nodeID graph.NodeID) []byte {
	nb := nodeID.Bytes()
	key := make([]byte, 0, 1+len(label)+1+len(nb))
	key = append(key, prefixLabelIndex)
	key = append(key, []byte(label)...)
	key = append(key, 0x00)
	key = append(key, nb[:]...)
	return key
}

func labelIndexPrefix(label string) []byte {
	key := make([]byte, 0, 1+len(label)+1)
	key = append(key, prefixLabelIndex)
	key = append(key, []byte(label)...)
	key = append(key, 0x00)
	return key
}

func outgoingIndexKey(nodeID graph.NodeID, edgeID graph.EdgeID) []byte {
	nb, eb := nodeID.Bytes(), edgeID.Bytes()
	key := make([]byte, 0, 1+len(nb)+1+len(eb))
	key = append(key, prefixOutgoingIndex)
	key = append(key, nb[:]...)
	key = append(key, 0x00)
	key = append(key, eb[:]...)
	return key
}

func outgoingIndexPrefix(nodeID graph.NodeID) []byte {
	nb := nodeID.Bytes()
	key := make([]byte, 0, 1+len(nb)+1)
	key = append(key, prefixOutgoingIndex)
	key = append(key, nb[:]...)
	key = append(key, 0x00)
	return key
}

func incomingIndexKey(nodeID graph.NodeID, edgeID graph.EdgeID) []byte {
	nb, eb := nodeID.Bytes(), edgeID.Bytes()
	key := make([]byte, 0, 1+len(nb)+1+len(eb))
	key = append(key, prefixIncomingIndex)
	key = append(key, nb[:]...)
	key = append(key, 0x00)
	key = append(key, eb[:]...)
	return key
}

func incomingIndexPrefix(nodeID graph.NodeID) []byte {
	nb := nodeID.Bytes()
	key := make([]byte, 0, 1+len(nb)+1)
	key = append(key, prefixIncomingIndex)
	key = append(key, nb[:]...)
	key = append(key, 0x00)
	return key
}

// propertyIndexKey encodes (key, value, nodeID) using the canonical
// order-preserving value encoding from package index, so BTree-style range
// scans over this same layout are possible later without re-encoding.
func propertyIndexKey(key string, value graph.PropertyValue, nodeID graph.NodeID) []byte {
	ev := encodePropertyValue(value)
	nb := nodeID.Bytes()
	out := make([]byte, 0, 1+len(key)+1+len(ev)+1+len(nb))
	out = append(out, prefixPropertyIndex)
	out = append(out, []byte(key)...)
	out = append(out, 0x00)
	out = append(out, ev...)
	out = append(out, 0x00)
	out = append(out, nb[:]...)
	return out
}

func propertyIndexPrefix(key string, value graph.PropertyValue) []byte {
	ev := encodePropertyValue(value)
	out := make([]byte, 0, 1+len(key)+1+len(ev)+1)
	out = append(out, prefixPropertyIndex)
	out = append(out, []byte(key)...)
	out = append(out, 0x00)
	out = append(out, ev...)
	out = append(out, 0x00)
	return out
}

// encodePropertyValue renders a PropertyValue's defining bytes for use as
// an index key fragment, reusing the index package's canonical encoder
// (spec.md §4.4) so the property index embedded here and index.BTreeIndex
// agree on byte order for the same value.
func encodePropertyValue(v graph.PropertyValue) []byte {
	return index.EncodeKey(v)
}

func extractEdgeIDFromIndexKey(key []byte) (graph.EdgeID, bool) {
	for i := 1; i < len(key); i++ {
		if key[i] == 0x00 {
			var b [16]byte
			rest := key[i+1:]
			if len(rest) != 16 {
				return graph.EdgeID{}, false
			}
			copy(b[:], rest)
			return idFromBytesEdge(b), true
		}
	}
	return graph.EdgeID{}, false
}

// idFromBytesEdge/idFromBytesNode round-trip raw 16-byte ids through the
// string form, since graph.NodeID/EdgeID deliberately expose no
// from-bytes constructor outside the package (ids are opaque, spec.md
// §4.1) other than via ParseNodeID/ParseEdgeID's hex string form.
func idFromBytesNode(b [16]byte) graph.NodeID {
	id, _ := graph.ParseNodeID(hexID(b))
	return id
}

func idFromBytesEdge(b [16]byte) graph.EdgeID {
	id, _ := graph.ParseEdgeID(hexID(b))
	return id
}

func hexID(b [16]byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 0, 36)
	for i, c := range b {
		if i == 4 || i == 6 || i == 8 || i == 10 {
			out = append(out, '-')
		}
		out = append(out, hexdigits[c>>4], hexdigits[c&0x0f])
	}
	return string(out)
}

// --- serialization: reuse graph.Node/Edge's own JSON codec ---

func encodeNode(n *graph.Node) ([]byte, error) { return json.Marshal(n) }
func decodeNode(data []byte) (*graph.Node, error) {
	var n graph.Node
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func encodeEdge(e *graph.Edge) ([]byte, error) { return json.Marshal(e) }
func decodeEdge(data []byte) (*graph.Edge, error) {
	var e graph.Edge
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// --- node operations ---

func (b *BadgerEngine) AddNode(node *graph.Node) (graph.NodeID, error) {
	if node == nil {
		return graph.NodeID{}, dgerr.New(dgerr.InvalidOperation, "node must not be nil")
	}
	id := graph.NewNodeID()
	stored := node.Clone()
	stored.ID = id
	if stored.Properties == nil {
		stored.Properties = map[string]graph.PropertyValue{}
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		key := nodeKey(id)
		if _, err := txn.Get(key); err == nil {
			return dgerr.New(dgerr.StorageError, "node id collision")
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		data, err := encodeNode(stored)
		if err != nil {
			return dgerr.Wrap(dgerr.SerializationError, err, "encoding node")
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		for _, label := range stored.Labels {
			if err := txn.Set(labelIndexKey(label, id), nil); err != nil {
				return err
			}
		}
		for k, v := range stored.Properties {
			if err := txn.Set(propertyIndexKey(k, v, id), nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return graph.NodeID{}, wrapBadgerErr(err)
	}
	return id, nil
}

// RestoreNode installs node at its own id, replacing whatever was
// previously indexed under that id if it already existed. Used by WAL
// recovery, which replays records carrying their original ids.
func (b *BadgerEngine) RestoreNode(node *graph.Node) error {
	if node == nil {
		return dgerr.New(dgerr.InvalidOperation, "node must not be nil")
	}
	stored := node.Clone()
	if stored.Properties == nil {
		stored.Properties = map[string]graph.PropertyValue{}
	}
	id := stored.ID

	err := b.db.Update(func(txn *badger.Txn) error {
		key := nodeKey(id)
		if item, err := txn.Get(key); err == nil {
			var existing *graph.Node
			if err := item.Value(func(val []byte) error {
				var decodeErr error
				existing, decodeErr = decodeNode(val)
				return decodeErr
			}); err != nil {
				return err
			}
			for _, label := range existing.Labels {
				if err := txn.Delete(labelIndexKey(label, id)); err != nil {
					return err
				}
			}
			for k, v := range existing.Properties {
				if err := txn.Delete(propertyIndexKey(k, v, id)); err != nil {
					return err
				}
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		data, err := encodeNode(stored)
		if err != nil {
			return dgerr.Wrap(dgerr.SerializationError, err, "encoding node")
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		for _, label := range stored.Labels {
			if err := txn.Set(labelIndexKey(label, id), nil); err != nil {
				return err
			}
		}
		for k, v := range stored.Properties {
			if err := txn.Set(propertyIndexKey(k, v, id), nil); err != nil {
				return err
			}
		}
		return nil
	})
	return wrapBadgerErr(err)
}

func (b *BadgerEngine) GetNode(id graph.NodeID) (*graph.Node, bool, error) {
	var node *graph.Node
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(nodeKey(id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var decodeErr error
			node, decodeErr = decodeNode(val)
			return decodeErr
		})
	})
	if err != nil {
		return nil, false, wrapBadgerErr(err)
	}
	if node == nil {
		return nil, false, nil
	}
	return node, true, nil
}

func (b *BadgerEngine) UpdateNode(node *graph.Node) error {
	if node == nil {
		return dgerr.New(dgerr.InvalidOperation, "node must not be nil")
	}
	id := node.ID
	err := b.db.Update(func(txn *badger.Txn) error {
		key := nodeKey(id)
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return dgerr.New(dgerr.NodeNotFound, "node %s not found", id)
		}
		if err != nil {
			return err
		}
		var existing *graph.Node
		if err := item.Value(func(val []byte) error {
			var decodeErr error
			existing, decodeErr = decodeNode(val)
			return decodeErr
		}); err != nil {
			return err
		}

		for _, label := range existing.Labels {
			if err := txn.Delete(labelIndexKey(label, id)); err != nil {
				return err
			}
		}
		for k, v := range existing.Properties {
			if err := txn.Delete(propertyIndexKey(k, v, id)); err != nil {
				return err
			}
		}

		replacement := node.Clone()
		replacement.CreatedAt = existing.CreatedAt
		data, err := encodeNode(replacement)
		if err != nil {
			return dgerr.Wrap(dgerr.SerializationError, err, "encoding node")
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		for _, label := range replacement.Labels {
			if err := txn.Set(labelIndexKey(label, id), nil); err != nil {
				return err
			}
		}
		for k, v := range replacement.Properties {
			if err := txn.Set(propertyIndexKey(k, v, id), nil); err != nil {
				return err
			}
		}
		return nil
	})
	return wrapBadgerErr(err)
}

func (b *BadgerEngine) DeleteNode(id graph.NodeID) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		key := nodeKey(id)
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return dgerr.New(dgerr.NodeNotFound, "node %s not found", id)
		}
		if err != nil {
			return err
		}
		var node *graph.Node
		if err := item.Value(func(val []byte) error {
			var decodeErr error
			node, decodeErr = decodeNode(val)
			return decodeErr
		}); err != nil {
			return err
		}

		for _, label := range node.Labels {
			if err := txn.Delete(labelIndexKey(label, id)); err != nil {
				return err
			}
		}
		for k, v := range node.Properties {
			if err := txn.Delete(propertyIndexKey(k, v, id)); err != nil {
				return err
			}
		}

		if err := b.deleteEdgesWithPrefix(txn, outgoingIndexPrefix(id)); err != nil {
			return err
		}
		if err := b.deleteEdgesWithPrefix(txn, incomingIndexPrefix(id)); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	return wrapBadgerErr(err)
}

// deleteEdgesWithPrefix deletes every edge whose index key matches prefix,
// used by DeleteNode to cascade (spec.md §4.2/§4.3).
func (b *BadgerEngine) deleteEdgesWithPrefix(txn *badger.Txn, prefix []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	var edgeIDs []graph.EdgeID
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if eid, ok := extractEdgeIDFromIndexKey(it.Item().KeyCopy(nil)); ok {
			edgeIDs = append(edgeIDs, eid)
		}
	}
	it.Close()

	for _, eid := range edgeIDs {
		if err := b.deleteEdgeInTxn(txn, eid); err != nil {
			if dgerr.Is(err, dgerr.EdgeNotFound) {
				continue
			}
			return err
		}
	}
	return nil
}

// --- edge operations ---

func (b *BadgerEngine) AddEdge(edge *graph.Edge) (graph.EdgeID, error) {
	if edge == nil {
		return graph.EdgeID{}, dgerr.New(dgerr.InvalidOperation, "edge must not be nil")
	}
	id := graph.NewEdgeID()
	stored := edge.Clone()
	stored.ID = id
	if stored.Properties == nil {
		stored.Properties = map[string]graph.PropertyValue{}
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(nodeKey(stored.From)); err == badger.ErrKeyNotFound {
			return dgerr.New(dgerr.NodeNotFound, "start node %s not found", stored.From)
		} else if err != nil {
			return err
		}
		if _, err := txn.Get(nodeKey(stored.To)); err == badger.ErrKeyNotFound {
			return dgerr.New(dgerr.NodeNotFound, "end node %s not found", stored.To)
		} else if err != nil {
			return err
		}

		data, err := encodeEdge(stored)
		if err != nil {
			return dgerr.Wrap(dgerr.SerializationError, err, "encoding edge")
		}
		if err := txn.Set(edgeKey(id), data); err != nil {
			return err
		}
		if err := txn.Set(outgoingIndexKey(stored.From, id), nil); err != nil {
			return err
		}
		return txn.Set(incomingIndexKey(stored.To, id), nil)
	})
	if err != nil {
		return graph.EdgeID{}, wrapBadgerErr(err)
	}
	return id, nil
}

// RestoreEdge installs edge at its own id, wiring it into both
// endpoints' adjacency indices (without duplicating the index entry if
// the edge already existed at that id). Used by WAL recovery.
func (b *BadgerEngine) RestoreEdge(edge *graph.Edge) error {
	if edge == nil {
		return dgerr.New(dgerr.InvalidOperation, "edge must not be nil")
	}
	stored := edge.Clone()
	if stored.Properties == nil {
		stored.Properties = map[string]graph.PropertyValue{}
	}
	id := stored.ID

	err := b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(nodeKey(stored.From)); err == badger.ErrKeyNotFound {
			return dgerr.New(dgerr.NodeNotFound, "start node %s not found", stored.From)
		} else if err != nil {
			return err
		}
		if _, err := txn.Get(nodeKey(stored.To)); err == badger.ErrKeyNotFound {
			return dgerr.New(dgerr.NodeNotFound, "end node %s not found", stored.To)
		} else if err != nil {
			return err
		}

		_, getErr := txn.Get(edgeKey(id))
		alreadyIndexed := getErr == nil

		data, err := encodeEdge(stored)
		if err != nil {
			return dgerr.Wrap(dgerr.SerializationError, err, "encoding edge")
		}
		if err := txn.Set(edgeKey(id), data); err != nil {
			return err
		}
		if alreadyIndexed {
			return nil
		}
		if err := txn.Set(outgoingIndexKey(stored.From, id), nil); err != nil {
			return err
		}
		return txn.Set(incomingIndexKey(stored.To, id), nil)
	})
	return wrapBadgerErr(err)
}

func (b *BadgerEngine) GetEdge(id graph.EdgeID) (*graph.Edge, bool, error) {
	var edge *graph.Edge
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(edgeKey(id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var decodeErr error
			edge, decodeErr = decodeEdge(val)
			return decodeErr
		})
	})
	if err != nil {
		return nil, false, wrapBadgerErr(err)
	}
	if edge == nil {
		return nil, false, nil
	}
	return edge, true, nil
}

func (b *BadgerEngine) UpdateEdge(edge *graph.Edge) error {
	if edge == nil {
		return dgerr.New(dgerr.InvalidOperation, "edge must not be nil")
	}
	id := edge.ID
	err := b.db.Update(func(txn *badger.Txn) error {
		key := edgeKey(id)
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return dgerr.New(dgerr.EdgeNotFound, "edge %s not found", id)
		}
		if err != nil {
			return err
		}
		var existing *graph.Edge
		if err := item.Value(func(val []byte) error {
			var decodeErr error
			existing, decodeErr = decodeEdge(val)
			return decodeErr
		}); err != nil {
			return err
		}
		if existing.From != edge.From || existing.To != edge.To {
			return dgerr.New(dgerr.InvalidOperation, "edge endpoints are immutable; delete and re-add instead")
		}

		replacement := edge.Clone()
		replacement.CreatedAt = existing.CreatedAt
		data, err := encodeEdge(replacement)
		if err != nil {
			return dgerr.Wrap(dgerr.SerializationError, err, "encoding edge")
		}
		return txn.Set(key, data)
	})
	return wrapBadgerErr(err)
}

func (b *BadgerEngine) DeleteEdge(id graph.EdgeID) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return b.deleteEdgeInTxn(txn, id)
	})
	return wrapBadgerErr(err)
}

func (b *BadgerEngine) deleteEdgeInTxn(txn *badger.Txn, id graph.EdgeID) error {
	key := edgeKey(id)
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return dgerr.New(dgerr.EdgeNotFound, "edge %s not found", id)
	}
	if err != nil {
		return err
	}
	var edge *graph.Edge
	if err := item.Value(func(val []byte) error {
		var decodeErr error
		edge, decodeErr = decodeEdge(val)
		return decodeErr
	}); err != nil {
		return err
	}

	if err := txn.Delete(outgoingIndexKey(edge.From, id)); err != nil {
		return err
	}
	if err := txn.Delete(incomingIndexKey(edge.To, id)); err != nil {
		return err
	}
	return txn.Delete(key)
}

// --- adjacency and scans ---

func (b *BadgerEngine) Outgoing(id graph.NodeID) ([]*graph.Edge, error) {
	return b.edgesByPrefix(outgoingIndexPrefix(id), id, true)
}

func (b *BadgerEngine) Incoming(id graph.NodeID) ([]*graph.Edge, error) {
	return b.edgesByPrefix(incomingIndexPrefix(id), id, false)
}

func (b *BadgerEngine) edgesByPrefix(prefix []byte, nodeID graph.NodeID, checkNodeExists bool) ([]*graph.Edge, error) {
	var out []*graph.Edge
	err := b.db.View(func(txn *badger.Txn) error {
		if checkNodeExists {
			if _, err := txn.Get(nodeKey(nodeID)); err == badger.ErrKeyNotFound {
				return dgerr.New(dgerr.NodeNotFound, "node %s not found", nodeID)
			} else if err != nil {
				return err
			}
		}
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		var ids []graph.EdgeID
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if eid, ok := extractEdgeIDFromIndexKey(it.Item().KeyCopy(nil)); ok {
				ids = append(ids, eid)
			}
		}
		for _, eid := range ids {
			item, err := txn.Get(edgeKey(eid))
			if err == badger.ErrKeyNotFound {
				continue
			}
			if err != nil {
				return err
			}
			if err := item.Value(func(val []byte) error {
				e, decodeErr := decodeEdge(val)
				if decodeErr != nil {
					return decodeErr
				}
				out = append(out, e)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrapBadgerErr(err)
	}
	return out, nil
}

func (b *BadgerEngine) AllNodes() ([]*graph.Node, error) {
	var out []*graph.Node
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte{prefixNode}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := it.Item().Value(func(val []byte) error {
				n, err := decodeNode(val)
				if err != nil {
					return err
				}
				out = append(out, n)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrapBadgerErr(err)
	}
	return out, nil
}

func (b *BadgerEngine) AllEdges() ([]*graph.Edge, error) {
	var out []*graph.Edge
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte{prefixEdge}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := it.Item().Value(func(val []byte) error {
				e, err := decodeEdge(val)
				if err != nil {
					return err
				}
				out = append(out, e)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrapBadgerErr(err)
	}
	return out, nil
}

func (b *BadgerEngine) ByLabel(label string) ([]*graph.Node, error) {
	prefix := labelIndexPrefix(label)
	var ids []graph.NodeID
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			rest := it.Item().KeyCopy(nil)[len(prefix):]
			if len(rest) != 16 {
				continue
			}
			var b16 [16]byte
			copy(b16[:], rest)
			ids = append(ids, idFromBytesNode(b16))
		}
		return nil
	})
	if err != nil {
		return nil, wrapBadgerErr(err)
	}
	return b.resolveNodes(ids)
}

func (b *BadgerEngine) ByProperty(key string, value graph.PropertyValue) ([]*graph.Node, error) {
	prefix := propertyIndexPrefix(key, value)
	var ids []graph.NodeID
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			rest := it.Item().KeyCopy(nil)[len(prefix):]
			if len(rest) != 16 {
				continue
			}
			var b16 [16]byte
			copy(b16[:], rest)
			ids = append(ids, idFromBytesNode(b16))
		}
		return nil
	})
	if err != nil {
		return nil, wrapBadgerErr(err)
	}
	return b.resolveNodes(ids)
}

func (b *BadgerEngine) resolveNodes(ids []graph.NodeID) ([]*graph.Node, error) {
	var out []*graph.Node
	err := b.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			item, err := txn.Get(nodeKey(id))
			if err == badger.ErrKeyNotFound {
				continue
			}
			if err != nil {
				return err
			}
			if err := item.Value(func(val []byte) error {
				n, decodeErr := decodeNode(val)
				if decodeErr != nil {
					return decodeErr
				}
				out = append(out, n)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrapBadgerErr(err)
	}
	return out, nil
}

func (b *BadgerEngine) ByRelationshipType(relType string) ([]*graph.Edge, error) {
	all, err := b.AllEdges()
	if err != nil {
		return nil, err
	}
	var out []*graph.Edge
	for _, e := range all {
		if e.Type == relType {
			out = append(out, e)
		}
	}
	return out, nil
}

func (b *BadgerEngine) NodeCount() (int64, error) {
	var n int64
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte{prefixNode}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, wrapBadgerErr(err)
}

func (b *BadgerEngine) EdgeCount() (int64, error) {
	var n int64
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte{prefixEdge}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, wrapBadgerErr(err)
}

func (b *BadgerEngine) Clear() error {
	return wrapBadgerErr(b.db.DropAll())
}

func (b *BadgerEngine) Close() error {
	return wrapBadgerErr(b.db.Close())
}

// wrapBadgerErr passes dgerr errors through unchanged and wraps anything
// else (a raw badger/IO error) as a StorageError.
func wrapBadgerErr(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*dgerr.Error); ok {
		return err
	}
	return dgerr.Wrap(dgerr.StorageError, err, "badger engine operation failed")
}

var _ Engine = (*BadgerEngine)(nil)
