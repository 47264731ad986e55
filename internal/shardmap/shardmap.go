// Package shardmap provides a generic sharded concurrent map: a fixed
// array of independent maps, each guarded by its own RWMutex, indexed by
// a hash of the key. This is the concurrency shape spec.md §4.3 asks for
// ("readers proceed without blocking each other; writers lock only the
// affected bucket(s)"), generalized from the per-field sharded indexes
// (nodesByLabel, outgoingEdges, incomingEdges) the teacher's MemoryEngine
// builds ad hoc in pkg/storage/memory.go — here it's one reusable,
// type-parameterized primitive instead of three bespoke maps each paired
// with the engine's single global mutex.
package shardmap

import "sync"

const numShards = 64

// Keyer produces a stable hash for a key, used to pick its shard.
type Keyer[K comparable] func(K) uint64

// Map is a sharded map from K to V.
type Map[K comparable, V any] struct {
	shards [numShards]shard[K, V]
	keyer  Keyer[K]
}

type shard[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

// New constructs a Map using keyer to select shards.
func New[K comparable, V any](keyer Keyer[K]) *Map[K, V] {
	m := &Map[K, V]{keyer: keyer}
	for i := range m.shards {
		m.shards[i].m = make(map[K]V)
	}
	return m
}

func (m *Map[K, V]) shardFor(k K) *shard[K, V] {
	return &m.shards[m.keyer(k)%numShards]
}

func (m *Map[K, V]) shardIndex(k K) uint64 { return m.keyer(k) % numShards }

// Get reads a value, read-locking only its shard.
func (m *Map[K, V]) Get(k K) (V, bool) {
	s := m.shardFor(k)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[k]
	return v, ok
}

// Set writes a value, write-locking only its shard.
func (m *Map[K, V]) Set(k K, v V) {
	s := m.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[k] = v
}

// Delete removes a key, write-locking only its shard.
func (m *Map[K, V]) Delete(k K) {
	s := m.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, k)
}

// Len returns the total number of entries across all shards. Caller must
// not hold any shard lock (acquired via WithLock/WithLocks) when calling.
func (m *Map[K, V]) Len() int {
	n := 0
	for i := range m.shards {
		m.shards[i].mu.RLock()
		n += len(m.shards[i].m)
		m.shards[i].mu.RUnlock()
	}
	return n
}

// Range iterates a snapshot-ish view: each shard is locked only for the
// duration of copying its entries, never for the whole iteration, so
// long-running callbacks never block unrelated writers.
func (m *Map[K, V]) Range(fn func(K, V) bool) {
	for i := range m.shards {
		m.shards[i].mu.RLock()
		entries := make([]V, 0, len(m.shards[i].m))
		keys := make([]K, 0, len(m.shards[i].m))
		for k, v := range m.shards[i].m {
			keys = append(keys, k)
			entries = append(entries, v)
		}
		m.shards[i].mu.RUnlock()
		for j, k := range keys {
			if !fn(k, entries[j]) {
				return
			}
		}
	}
}

// WithLock runs fn with k's shard write-locked, giving callers an atomic
// read-modify-write on that single key (e.g. "insert only if absent").
func (m *Map[K, V]) WithLock(k K, fn func(m map[K]V)) {
	s := m.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.m)
}

// WithRLock runs fn with k's shard read-locked.
func (m *Map[K, V]) WithRLock(k K, fn func(m map[K]V)) {
	s := m.shardFor(k)
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.m)
}

// MultiLock write-locks the distinct shards covering keys, always in
// ascending shard-index order, so that any two callers locking any two
// overlapping sets of keys can never form a cycle (a strict
// generalization of spec.md §4.3's "(min(from,to), max(from,to))"
// pairwise rule to an arbitrary number of keys). Returns an unlock
// function that releases in the reverse order.
func (m *Map[K, V]) MultiLock(keys ...K) (unlock func()) {
	idx := uniqueSortedShardIndexes(m, keys)
	for _, i := range idx {
		m.shards[i].mu.Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			m.shards[idx[j]].mu.Unlock()
		}
	}
}

// MultiRLock is MultiLock's read-only counterpart.
func (m *Map[K, V]) MultiRLock(keys ...K) (unlock func()) {
	idx := uniqueSortedShardIndexes(m, keys)
	for _, i := range idx {
		m.shards[i].mu.RLock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			m.shards[idx[j]].mu.RUnlock()
		}
	}
}

func uniqueSortedShardIndexes[K comparable, V any](m *Map[K, V], keys []K) []int {
	seen := make(map[int]struct{}, len(keys))
	for _, k := range keys {
		seen[int(m.shardIndex(k))] = struct{}{}
	}
	idx := make([]int, 0, len(seen))
	for i := range seen {
		idx = append(idx, i)
	}
	// insertion sort: numShards is tiny (64), no need for sort.Ints import churn
	for i := 1; i < len(idx); i++ {
		for j := i; j > 0 && idx[j-1] > idx[j]; j-- {
			idx[j-1], idx[j] = idx[j], idx[j-1]
		}
	}
	return idx
}

// At returns the raw backing map for k's shard. Callers MUST already hold
// that shard's lock — via WithLock/WithRLock, or via a MultiLock/MultiRLock
// call that covered k — before reading or writing through the result.
func (m *Map[K, V]) At(k K) map[K]V { return m.shards[m.shardIndex(k)].m }
