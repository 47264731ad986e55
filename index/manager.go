package index

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/deepskilling/deepgraph/dgerr"
	"github.com/deepskilling/deepgraph/graph"
)

// Kind is the closed set of index implementations (spec.md §3/§4.4).
type Kind int

const (
	Hash Kind = iota
	BTree
)

func (k Kind) String() string {
	if k == BTree {
		return "BTree"
	}
	return "Hash"
}

// Target names what an index is built over: either every node carrying a
// label, or the value of one property key on nodes carrying a label.
type Target struct {
	Label    string
	Property string // empty when the index is purely label-based
}

// Descriptor is the persisted record of one created index (spec.md §3).
type Descriptor struct {
	Name   string `json:"name"`
	Kind   Kind   `json:"kind"`
	Target Target `json:"target"`
}

type boundIndex struct {
	desc Descriptor
	hash *HashIndex // set when desc.Kind == Hash
	tree *BTreeIndex
}

// Manager owns every index descriptor for one store, persists each as a
// descriptor.json file in that index's own directory (for both kinds; a
// Hash index keeps no other on-disk state), and intercepts every
// mutation that could affect an indexed attribute to keep indices in sync
// (spec.md §4.4).
type Manager struct {
	dataDir string

	mu      sync.RWMutex
	indices map[string]*boundIndex
}

// NewManager constructs a Manager rooted at <data_dir>/indices, matching
// the on-disk layout in spec.md §6.
func NewManager(dataDir string) (*Manager, error) {
	dir := filepath.Join(dataDir, "indices")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, dgerr.Wrap(dgerr.IoError, err, "creating index directory %q", dir)
	}
	m := &Manager{dataDir: dir, indices: make(map[string]*boundIndex)}
	if err := m.loadExisting(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) loadExisting() error {
	entries, err := os.ReadDir(m.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return dgerr.Wrap(dgerr.IoError, err, "scanning index directory")
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		desc, err := readDescriptor(filepath.Join(m.dataDir, e.Name()))
		if err != nil {
			continue // not an index directory; skip
		}
		bi := &boundIndex{desc: *desc}
		if desc.Kind == BTree {
			tree, err := OpenBTreeIndex(filepath.Join(m.dataDir, e.Name()))
			if err != nil {
				return err
			}
			bi.tree = tree
		} else {
			bi.hash = NewHashIndex()
		}
		m.indices[desc.Name] = bi
	}
	return nil
}

func descriptorPath(indexDir string) string { return filepath.Join(indexDir, "descriptor.json") }

func readDescriptor(indexDir string) (*Descriptor, error) {
	data, err := os.ReadFile(descriptorPath(indexDir))
	if err != nil {
		return nil, err
	}
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func writeDescriptor(indexDir string, d Descriptor) error {
	if err := os.MkdirAll(indexDir, 0o755); err != nil {
		return dgerr.Wrap(dgerr.IoError, err, "creating index directory %q", indexDir)
	}
	data, err := json.Marshal(d)
	if err != nil {
		return dgerr.Wrap(dgerr.SerializationError, err, "encoding index descriptor")
	}
	if err := os.WriteFile(descriptorPath(indexDir), data, 0o644); err != nil {
		return dgerr.Wrap(dgerr.IoError, err, "writing index descriptor")
	}
	return nil
}

// CreateIndex creates a new named index over target, populated from the
// current store state via nodes (spec.md: "populated from current store
// state and maintained on every mutation").
func (m *Manager) CreateIndex(name string, kind Kind, target Target, nodes []*graph.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.indices[name]; exists {
		return dgerr.New(dgerr.InvalidOperation, "index %q already exists", name)
	}

	dir := filepath.Join(m.dataDir, name)
	desc := Descriptor{Name: name, Kind: kind, Target: target}
	bi := &boundIndex{desc: desc}

	switch kind {
	case Hash:
		bi.hash = NewHashIndex()
	case BTree:
		tree, err := OpenBTreeIndex(dir)
		if err != nil {
			return err
		}
		bi.tree = tree
	default:
		return dgerr.New(dgerr.InvalidOperation, "unknown index kind %d", kind)
	}
	if err := writeDescriptor(dir, desc); err != nil {
		return err
	}

	m.indices[name] = bi
	for _, n := range nodes {
		if !matchesTarget(n, target) {
			continue
		}
		if err := m.insertLocked(bi, n); err != nil {
			return err
		}
	}
	return nil
}

// DropIndex removes a named index and its on-disk state, if any.
func (m *Manager) DropIndex(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bi, ok := m.indices[name]
	if !ok {
		return dgerr.New(dgerr.InvalidOperation, "index %q does not exist", name)
	}
	if bi.tree != nil {
		if err := bi.tree.Close(); err != nil {
			return err
		}
	}
	delete(m.indices, name)
	return os.RemoveAll(filepath.Join(m.dataDir, name))
}

// Lookup performs a point lookup by value against a named index.
func (m *Manager) Lookup(name string, value graph.PropertyValue) ([]graph.NodeID, error) {
	m.mu.RLock()
	bi, ok := m.indices[name]
	m.mu.RUnlock()
	if !ok {
		return nil, dgerr.New(dgerr.InvalidOperation, "index %q does not exist", name)
	}
	if bi.hash != nil {
		return bi.hash.Lookup(value), nil
	}
	return bi.tree.Lookup(value)
}

// Range performs a half-open [lo, hi) range scan against a named BTree
// index. Hash indices don't support ranges (spec.md §4.4: "Hash index:
// ... supports point lookup only").
func (m *Manager) Range(name string, lo, hi *graph.PropertyValue) ([]graph.NodeID, error) {
	m.mu.RLock()
	bi, ok := m.indices[name]
	m.mu.RUnlock()
	if !ok {
		return nil, dgerr.New(dgerr.InvalidOperation, "index %q does not exist", name)
	}
	if bi.tree == nil {
		return nil, dgerr.New(dgerr.InvalidOperation, "index %q does not support range scans", name)
	}
	return bi.tree.Range(lo, hi)
}

// Descriptor returns the descriptor for name, used by the planner to
// decide whether a query predicate can be index-accelerated.
func (m *Manager) Descriptor(name string) (Descriptor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bi, ok := m.indices[name]
	if !ok {
		return Descriptor{}, false
	}
	return bi.desc, true
}

// Descriptors returns every currently-registered descriptor, used by the
// planner to find an index matching a query's label/property predicate
// without the caller needing to know index names in advance.
func (m *Manager) Descriptors() []Descriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Descriptor, 0, len(m.indices))
	for _, bi := range m.indices {
		out = append(out, bi.desc)
	}
	return out
}

// OnNodeInserted updates every index whose target matches node.
func (m *Manager) OnNodeInserted(node *graph.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, bi := range m.indices {
		if matchesTarget(node, bi.desc.Target) {
			if err := m.insertLocked(bi, node); err != nil {
				return err
			}
		}
	}
	return nil
}

// OnNodeUpdated re-indexes a node whose properties may have changed,
// idempotently (spec.md §4.4: "idempotent: remove-then-insert").
func (m *Manager) OnNodeUpdated(before, after *graph.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, bi := range m.indices {
		if matchesTarget(before, bi.desc.Target) {
			if err := m.removeLocked(bi, before); err != nil {
				return err
			}
		}
		if matchesTarget(after, bi.desc.Target) {
			if err := m.insertLocked(bi, after); err != nil {
				return err
			}
		}
	}
	return nil
}

// OnNodeDeleted removes a node from every index that held it.
func (m *Manager) OnNodeDeleted(node *graph.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, bi := range m.indices {
		if matchesTarget(node, bi.desc.Target) {
			if err := m.removeLocked(bi, node); err != nil {
				return err
			}
		}
	}
	return nil
}

// Rebuild discards and repopulates every index from the current store
// state, used after WAL recovery (spec.md §4.6) and to restore a Hash
// index, which carries no on-disk state of its own.
func (m *Manager) Rebuild(nodes []*graph.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, bi := range m.indices {
		if bi.hash != nil {
			bi.hash.Clear()
		} else if err := bi.tree.Clear(); err != nil {
			return err
		}
	}
	for _, n := range nodes {
		for _, bi := range m.indices {
			if matchesTarget(n, bi.desc.Target) {
				if err := m.insertLocked(bi, n); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Close closes every BTree index's underlying bbolt file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, bi := range m.indices {
		if bi.tree != nil {
			if err := bi.tree.Close(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Manager) insertLocked(bi *boundIndex, node *graph.Node) error {
	value := targetValue(node, bi.desc.Target)
	if bi.hash != nil {
		bi.hash.Insert(value, node.ID)
		return nil
	}
	if len(EncodeKey(value)) == 0 {
		// bbolt rejects zero-length keys; null/list/map-valued properties
		// are outside the BTree index's domain (spec.md §4.1: ordering is
		// defined only within a scalar tag).
		return nil
	}
	return bi.tree.Insert(value, node.ID)
}

func (m *Manager) removeLocked(bi *boundIndex, node *graph.Node) error {
	value := targetValue(node, bi.desc.Target)
	if bi.hash != nil {
		bi.hash.Remove(value, node.ID)
		return nil
	}
	if len(EncodeKey(value)) == 0 {
		return nil
	}
	return bi.tree.Remove(value, node.ID)
}

// matchesTarget reports whether node carries the label (and, if set, the
// property key) a target names. A purely label-based target (Property
// empty) indexes every node carrying that label under a fixed sentinel
// value, giving by_label an index-accelerated path alongside by_property.
func matchesTarget(node *graph.Node, target Target) bool {
	if !node.HasLabel(target.Label) {
		return false
	}
	if target.Property == "" {
		return true
	}
	_, ok := node.Properties[target.Property]
	return ok
}

// targetValue returns the value a node is indexed under for a target: the
// property value for a (label, property) target, or a fixed label-presence
// sentinel for a label-only target.
func targetValue(node *graph.Node, target Target) graph.PropertyValue {
	if target.Property == "" {
		return graph.Bool(true)
	}
	return node.Properties[target.Property]
}
