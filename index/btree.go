package index

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/deepskilling/deepgraph/dgerr"
	"github.com/deepskilling/deepgraph/graph"
)

var entriesBucket = []byte("entries")

// BTreeIndex is the required disk-backed, ordered index kind (spec.md
// §4.4): an encoded-key to node-id-set mapping persisted in its own bbolt
// database file, supporting point lookup and half-open range scans.
// Grounded in cuemby-warren's pkg/storage/boltdb.go, the one repo in the
// retrieval pack built on an embedded ordered B+tree KV store.
//
// Durability is independent of the WAL's: an index may lag the store
// after a crash and must be rebuildable via Manager.Rebuild, but it is
// never required to replay faster than it can flush (spec.md §9's Open
// Question on index durability, resolved in favor of "rebuildable, not
// crash-consistent with the WAL").
type BTreeIndex struct {
	db *bolt.DB
}

// value stored per key: the set of node ids, JSON-encoded as a slice of
// canonical id strings in the order they were inserted.
type btreeEntry struct {
	NodeIDs []string `json:"nodeIds"`
}

// OpenBTreeIndex opens (or creates) a BTree index at <dir>/index.db.
func OpenBTreeIndex(dir string) (*BTreeIndex, error) {
	path := filepath.Join(dir, "index.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, dgerr.Wrap(dgerr.IoError, err, "opening btree index at %q", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(entriesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, dgerr.Wrap(dgerr.IoError, err, "initializing btree index bucket")
	}
	return &BTreeIndex{db: db}, nil
}

func (bt *BTreeIndex) Close() error {
	if err := bt.db.Close(); err != nil {
		return dgerr.Wrap(dgerr.IoError, err, "closing btree index")
	}
	return nil
}

// Insert records that id now holds value.
func (bt *BTreeIndex) Insert(value graph.PropertyValue, id graph.NodeID) error {
	key := EncodeKey(value)
	return bt.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		entry, err := readEntry(b, key)
		if err != nil {
			return err
		}
		idStr := id.String()
		for _, existing := range entry.NodeIDs {
			if existing == idStr {
				return nil
			}
		}
		entry.NodeIDs = append(entry.NodeIDs, idStr)
		return writeEntry(b, key, entry)
	})
}

// Remove undoes a prior Insert. Idempotent.
func (bt *BTreeIndex) Remove(value graph.PropertyValue, id graph.NodeID) error {
	key := EncodeKey(value)
	return bt.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		entry, err := readEntry(b, key)
		if err != nil {
			return err
		}
		idStr := id.String()
		kept := entry.NodeIDs[:0]
		for _, existing := range entry.NodeIDs {
			if existing != idStr {
				kept = append(kept, existing)
			}
		}
		if len(kept) == 0 {
			return b.Delete(key)
		}
		entry.NodeIDs = kept
		return writeEntry(b, key, entry)
	})
}

// Lookup returns every node id currently indexed under value.
func (bt *BTreeIndex) Lookup(value graph.PropertyValue) ([]graph.NodeID, error) {
	key := EncodeKey(value)
	var out []graph.NodeID
	err := bt.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		data := b.Get(key)
		if data == nil {
			return nil
		}
		var entry btreeEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return err
		}
		out = idsFromStrings(entry.NodeIDs)
		return nil
	})
	if err != nil {
		return nil, dgerr.Wrap(dgerr.StorageError, err, "btree index lookup")
	}
	return out, nil
}

// Range returns every node id indexed under a value whose encoded key
// falls in the half-open interval [lo, hi), in key order. Either bound may
// be nil: a nil lo starts from the first key, a nil hi runs to the last.
func (bt *BTreeIndex) Range(lo, hi *graph.PropertyValue) ([]graph.NodeID, error) {
	var loKey, hiKey []byte
	if lo != nil {
		loKey = EncodeKey(*lo)
	}
	if hi != nil {
		hiKey = EncodeKey(*hi)
	}

	var out []graph.NodeID
	err := bt.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		c := b.Cursor()
		var k, v []byte
		if loKey != nil {
			k, v = c.Seek(loKey)
		} else {
			k, v = c.First()
		}
		for ; k != nil; k, v = c.Next() {
			if hiKey != nil && bytesCompare(k, hiKey) >= 0 {
				break
			}
			var entry btreeEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			out = append(out, idsFromStrings(entry.NodeIDs)...)
		}
		return nil
	})
	if err != nil {
		return nil, dgerr.Wrap(dgerr.StorageError, err, "btree index range scan")
	}
	return out, nil
}

// Clear removes every entry, used before Rebuild.
func (bt *BTreeIndex) Clear() error {
	return bt.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(entriesBucket); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket(entriesBucket)
		return err
	})
}

func readEntry(b *bolt.Bucket, key []byte) (*btreeEntry, error) {
	data := b.Get(key)
	if data == nil {
		return &btreeEntry{}, nil
	}
	var entry btreeEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decoding btree index entry: %w", err)
	}
	return &entry, nil
}

func writeEntry(b *bolt.Bucket, key []byte, entry *btreeEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding btree index entry: %w", err)
	}
	return b.Put(key, data)
}

func idsFromStrings(ss []string) []graph.NodeID {
	out := make([]graph.NodeID, 0, len(ss))
	for _, s := range ss {
		if id, ok := graph.ParseNodeID(s); ok {
			out = append(out, id)
		}
	}
	return out
}

func bytesCompare(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
