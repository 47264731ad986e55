package index

import (
	"sync"

	"github.com/deepskilling/deepgraph/graph"
)

// HashIndex is the required in-memory index kind (spec.md §4.4): exact
// point lookup from an encoded key to the set of node ids currently
// holding that value. Not durable — entirely rebuildable from the store
// via Manager.Rebuild, so it never needs to survive a crash.
type HashIndex struct {
	mu      sync.RWMutex
	buckets map[string]map[graph.NodeID]struct{}
}

// NewHashIndex constructs an empty hash index.
func NewHashIndex() *HashIndex {
	return &HashIndex{buckets: make(map[string]map[graph.NodeID]struct{})}
}

// Insert records that id now holds value.
func (h *HashIndex) Insert(value graph.PropertyValue, id graph.NodeID) {
	key := string(EncodeKey(value))
	h.mu.Lock()
	defer h.mu.Unlock()
	bucket, ok := h.buckets[key]
	if !ok {
		bucket = make(map[graph.NodeID]struct{})
		h.buckets[key] = bucket
	}
	bucket[id] = struct{}{}
}

// Remove undoes a prior Insert. Idempotent: removing an absent entry is a
// no-op, matching §4.4's "idempotent: remove-then-insert" re-indexing rule.
func (h *HashIndex) Remove(value graph.PropertyValue, id graph.NodeID) {
	key := string(EncodeKey(value))
	h.mu.Lock()
	defer h.mu.Unlock()
	bucket, ok := h.buckets[key]
	if !ok {
		return
	}
	delete(bucket, id)
	if len(bucket) == 0 {
		delete(h.buckets, key)
	}
}

// Lookup returns every node id currently indexed under value.
func (h *HashIndex) Lookup(value graph.PropertyValue) []graph.NodeID {
	key := string(EncodeKey(value))
	h.mu.RLock()
	defer h.mu.RUnlock()
	bucket, ok := h.buckets[key]
	if !ok {
		return nil
	}
	out := make([]graph.NodeID, 0, len(bucket))
	for id := range bucket {
		out = append(out, id)
	}
	return out
}

// Clear empties the index, used before Rebuild.
func (h *HashIndex) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buckets = make(map[string]map[graph.NodeID]struct{})
}

// Len reports the number of distinct indexed values (not entries).
func (h *HashIndex) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.buckets)
}
