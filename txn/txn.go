// Package txn implements DeepGraph's MVCC transaction manager: a
// monotonic timestamp/txn-id counter, the Active→Committing→Committed|
// Aborted state machine, and WAL-backed commit/abort (spec.md §4.7).
// Mutual exclusion between concurrent writers to the same node or edge
// runs through package deadlock, grounded in the teacher's
// apoc/lock.Batch idea of ordered multi-resource locking, generalized
// into the real wait-for-graph cycle detector spec.md §4.8 specifies.
package txn

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/deepskilling/deepgraph/dgerr"
	"github.com/deepskilling/deepgraph/graph"
	"github.com/deepskilling/deepgraph/index"
	"github.com/deepskilling/deepgraph/storage"
	"github.com/deepskilling/deepgraph/txn/deadlock"
	"github.com/deepskilling/deepgraph/wal"
)

// Status is a transaction's place in the Active→Committing→Committed|
// Aborted state machine (spec.md §4.7).
type Status int

const (
	Active Status = iota
	Committing
	Committed
	Aborted
)

func (s Status) String() string {
	switch s {
	case Active:
		return "Active"
	case Committing:
		return "Committing"
	case Committed:
		return "Committed"
	case Aborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// lockWaitTimeout bounds how long a transaction waits for a contended
// resource before giving up; spec.md §4.8 specifies cycle detection but
// leaves the non-cyclic wait itself open-ended, so a bounded retry keeps
// a permanently-stuck caller from blocking forever on a resource whose
// holder never finishes.
const lockWaitTimeout = 5 * time.Second

// idPayload mirrors package recovery's delete-operation WAL payload shape.
type idPayload struct {
	ID string `json:"id"`
}

// Manager issues txn-ids from a single shared counter and coordinates
// every transaction's access to one storage.Engine, optionally logging
// every operation to a WAL for durability and crash recovery and keeping
// indices in sync with every mutation a transaction commits.
type Manager struct {
	counter atomic.Uint64

	engine  storage.Engine
	log     *wal.WAL // nil when wal.enabled=false (volatile engine)
	indices *index.Manager
	locks   *deadlock.Manager

	mu     sync.Mutex
	active map[uint64]*Transaction
}

// NewManager constructs a transaction manager bound to engine. log may be
// nil, matching spec.md §6's `wal.enabled=false` configuration. indices
// may also be nil (no secondary indices to maintain); when set, every
// commit feeds its node mutations through indices.OnNodeInserted/
// OnNodeUpdated/OnNodeDeleted so an index built before a write still sees
// that write (spec.md §4.4).
func NewManager(engine storage.Engine, log *wal.WAL, indices *index.Manager) *Manager {
	return &Manager{
		engine:  engine,
		log:     log,
		indices: indices,
		locks:   deadlock.NewManager(),
		active:  make(map[uint64]*Transaction),
	}
}

// AdvancePast fast-forwards the txn-id counter to at least highest, so the
// next Begin issues an id above it. deepgraph.Open calls it after WAL
// recovery so freshly begun transactions never reuse an id recovery
// already observed (spec.md §4.6: "advanced past the highest observed
// txn-id").
func (m *Manager) AdvancePast(highest uint64) {
	for {
		cur := m.counter.Load()
		if cur >= highest {
			return
		}
		if m.counter.CompareAndSwap(cur, highest) {
			return
		}
	}
}

// Begin issues a new transaction. Its txn-id and start-timestamp are the
// same value, drawn from the shared counter (spec.md §4.7).
func (m *Manager) Begin() (*Transaction, error) {
	id := m.counter.Add(1)
	t := &Transaction{
		id:     id,
		mgr:    m,
		status: Active,
		nodes:  make(map[graph.NodeID]*nodeChange),
		edges:  make(map[graph.EdgeID]*edgeChange),
	}

	if m.log != nil {
		if _, err := m.log.Append(id, wal.OpBeginTxn, nil); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	m.active[id] = t
	m.mu.Unlock()
	return t, nil
}

// Lookup returns the transaction with the given id, if still tracked
// (Committed/Aborted transactions are dropped after Commit/Abort
// returns).
func (m *Manager) Lookup(id uint64) (*Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.active[id]
	return t, ok
}

func (m *Manager) forget(id uint64) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
}

// nodeKind distinguishes the three shapes a buffered node write can take.
type nodeKind int

const (
	nodeCreate nodeKind = iota
	nodeUpdate
	nodeDelete
)

// nodeChange is one node's final buffered state within a transaction's
// write overlay: later calls on the same id replace the previous entry
// rather than appending one, so the overlay always holds exactly one
// pending change per id regardless of how many times it was touched.
type nodeChange struct {
	kind nodeKind
	node *graph.Node // nil when kind == nodeDelete
}

type edgeKind int

const (
	edgeCreate edgeKind = iota
	edgeUpdate
	edgeDelete
)

type edgeChange struct {
	kind edgeKind
	edge *graph.Edge
}

// Transaction is one unit of work against the bound storage.Engine.
// Every mutating method buffers its effect in a transaction-local write
// overlay instead of touching the engine; Commit applies the overlay to
// the engine (and to any secondary indices) in one pass, and Abort simply
// discards it. This keeps the engine's visible state exactly the set of
// committed transactions, which is what gives spec.md §4.7's snapshot
// rule ("a version written by W is visible iff W is Committed, or W is
// the reader's own transaction") and its "aborts never leave partial
// effects visible" invariant for free: a transaction's writes are never
// applied anywhere a concurrent reader can see them until Commit runs.
// GetNode/GetEdge consult the overlay first so a transaction always sees
// its own uncommitted writes.
//
// Deadlock-checked mutual exclusion (package deadlock) still gates
// UpdateNode/DeleteNode/UpdateEdge/DeleteEdge for the lifetime of the
// transaction, same as before the overlay: two transactions racing to
// update the same node must still serialize, even though neither touches
// the engine until it commits.
//
// One corner case the overlay does not reconcile: creating a new edge to
// a pre-existing node and then deleting that node within the same
// transaction. DeleteNode drops the transaction's own edge creates only
// for a node the same transaction created, so the edge create stays
// buffered; Commit applies node deletes before edge creates, and the
// edge create fails against the engine with NodeNotFound. (The other
// order, delete first and then AddEdge, fails at AddEdge, which sees the
// buffered delete.) It is left as a commit-time error rather than
// special-cased.
type Transaction struct {
	id  uint64
	mgr *Manager

	mu     sync.Mutex
	status Status

	omu   sync.Mutex
	nodes map[graph.NodeID]*nodeChange
	edges map[graph.EdgeID]*edgeChange
}

// ID returns the transaction's txn-id / start-timestamp.
func (t *Transaction) ID() uint64 { return t.id }

// Status returns the transaction's current state.
func (t *Transaction) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Transaction) requireActive() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != Active {
		return dgerr.New(dgerr.TransactionError, "transaction %d is not active (status=%s)", t.id, t.status)
	}
	return nil
}

func nodeResource(id graph.NodeID) deadlock.ResourceID { return "node:" + id.String() }
func edgeResource(id graph.EdgeID) deadlock.ResourceID { return "edge:" + id.String() }

// lock acquires resource for this transaction, retrying while contended
// and not cyclic, for up to lockWaitTimeout. A detected cycle returns the
// deadlock error directly, whichever transaction the detector picked as
// victim; the error's Detail names the victim.
func (t *Transaction) lock(resource deadlock.ResourceID) error {
	deadline := time.Now().Add(lockWaitTimeout)
	for {
		granted, err := t.mgr.locks.RequestLock(t.id, resource)
		if err != nil {
			return err
		}
		if granted {
			return nil
		}
		if time.Now().After(deadline) {
			return dgerr.New(dgerr.TransactionError, "timed out waiting for a lock on %v", resource)
		}
		time.Sleep(time.Millisecond)
	}
}

// resolveNode returns this transaction's current view of id: its own
// buffered change if one exists (nodeDelete reporting not-found), else
// whatever is committed in the engine. The returned node is an internal
// overlay record when it comes from the overlay branch; callers that
// hand it to the outside world must Clone it first.
func (t *Transaction) resolveNode(id graph.NodeID) (*graph.Node, bool, error) {
	t.omu.Lock()
	nc, buffered := t.nodes[id]
	t.omu.Unlock()
	if buffered {
		if nc.kind == nodeDelete {
			return nil, false, nil
		}
		return nc.node, true, nil
	}
	return t.mgr.engine.GetNode(id)
}

func (t *Transaction) resolveEdge(id graph.EdgeID) (*graph.Edge, bool, error) {
	t.omu.Lock()
	ec, buffered := t.edges[id]
	t.omu.Unlock()
	if buffered {
		if ec.kind == edgeDelete {
			return nil, false, nil
		}
		return ec.edge, true, nil
	}
	return t.mgr.engine.GetEdge(id)
}

// AddNode buffers a new node, minting its id immediately so it can be
// returned to the caller and reused (e.g. as an edge endpoint) within
// the same transaction, well before the engine ever sees it.
func (t *Transaction) AddNode(node *graph.Node) (graph.NodeID, error) {
	if err := t.requireActive(); err != nil {
		return graph.NodeID{}, err
	}
	stored := node.Clone()
	stored.ID = graph.NewNodeID()
	now := time.Now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	if stored.Properties == nil {
		stored.Properties = map[string]graph.PropertyValue{}
	}

	t.omu.Lock()
	t.nodes[stored.ID] = &nodeChange{kind: nodeCreate, node: stored}
	t.omu.Unlock()

	if err := t.logNodeOp(wal.OpInsertNode, stored); err != nil {
		return graph.NodeID{}, err
	}
	return stored.ID, nil
}

// UpdateNode replaces a node's record, holding the node's lock for the
// remainder of the transaction (released on Commit/Abort).
func (t *Transaction) UpdateNode(node *graph.Node) error {
	if err := t.requireActive(); err != nil {
		return err
	}
	if err := t.lock(nodeResource(node.ID)); err != nil {
		return err
	}
	existing, ok, err := t.resolveNode(node.ID)
	if err != nil {
		return err
	}
	if !ok {
		return dgerr.New(dgerr.NodeNotFound, "node %s not found", node.ID)
	}

	stored := node.Clone()
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = time.Now()
	if stored.Properties == nil {
		stored.Properties = map[string]graph.PropertyValue{}
	}

	t.omu.Lock()
	kind := nodeUpdate
	if prev, found := t.nodes[node.ID]; found && prev.kind == nodeCreate {
		kind = nodeCreate // still never committed; stays a create at commit time
	}
	t.nodes[node.ID] = &nodeChange{kind: kind, node: stored}
	t.omu.Unlock()

	return t.logNodeOp(wal.OpUpdateNode, stored)
}

// DeleteNode removes a node and its incident edges.
func (t *Transaction) DeleteNode(id graph.NodeID) error {
	if err := t.requireActive(); err != nil {
		return err
	}
	if err := t.lock(nodeResource(id)); err != nil {
		return err
	}
	if _, ok, err := t.resolveNode(id); err != nil {
		return err
	} else if !ok {
		return dgerr.New(dgerr.NodeNotFound, "node %s not found", id)
	}

	t.omu.Lock()
	if prev, found := t.nodes[id]; found && prev.kind == nodeCreate {
		// Created and deleted within the same transaction: it never
		// reached the engine, so there's nothing to commit, and no edge
		// created against it in this transaction can ever commit either.
		delete(t.nodes, id)
		for eid, ec := range t.edges {
			if ec.kind == edgeCreate && (ec.edge.From == id || ec.edge.To == id) {
				delete(t.edges, eid)
			}
		}
	} else {
		t.nodes[id] = &nodeChange{kind: nodeDelete}
	}
	t.omu.Unlock()

	return t.logIDOp(wal.OpDeleteNode, id.String())
}

// AddEdge creates an edge between two existing nodes, "existing" judged
// against this transaction's own view (overlay first, then engine) so an
// edge can target a node the same transaction created.
func (t *Transaction) AddEdge(edge *graph.Edge) (graph.EdgeID, error) {
	if err := t.requireActive(); err != nil {
		return graph.EdgeID{}, err
	}
	if _, ok, err := t.resolveNode(edge.From); err != nil {
		return graph.EdgeID{}, err
	} else if !ok {
		return graph.EdgeID{}, dgerr.New(dgerr.NodeNotFound, "node %s not found", edge.From)
	}
	if _, ok, err := t.resolveNode(edge.To); err != nil {
		return graph.EdgeID{}, err
	} else if !ok {
		return graph.EdgeID{}, dgerr.New(dgerr.NodeNotFound, "node %s not found", edge.To)
	}

	stored := edge.Clone()
	stored.ID = graph.NewEdgeID()
	now := time.Now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	if stored.Properties == nil {
		stored.Properties = map[string]graph.PropertyValue{}
	}

	t.omu.Lock()
	t.edges[stored.ID] = &edgeChange{kind: edgeCreate, edge: stored}
	t.omu.Unlock()

	if err := t.logEdgeOp(wal.OpInsertEdge, stored); err != nil {
		return graph.EdgeID{}, err
	}
	return stored.ID, nil
}

// UpdateEdge replaces an edge's type/properties. Endpoints are immutable
// (spec.md §4.1), enforced against this transaction's own view.
func (t *Transaction) UpdateEdge(edge *graph.Edge) error {
	if err := t.requireActive(); err != nil {
		return err
	}
	if err := t.lock(edgeResource(edge.ID)); err != nil {
		return err
	}
	existing, ok, err := t.resolveEdge(edge.ID)
	if err != nil {
		return err
	}
	if !ok {
		return dgerr.New(dgerr.EdgeNotFound, "edge %s not found", edge.ID)
	}
	if edge.From != existing.From || edge.To != existing.To {
		return dgerr.New(dgerr.InvalidOperation, "edge %s endpoints are immutable", edge.ID)
	}

	stored := edge.Clone()
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = time.Now()
	if stored.Properties == nil {
		stored.Properties = map[string]graph.PropertyValue{}
	}

	t.omu.Lock()
	kind := edgeUpdate
	if prev, found := t.edges[edge.ID]; found && prev.kind == edgeCreate {
		kind = edgeCreate
	}
	t.edges[edge.ID] = &edgeChange{kind: kind, edge: stored}
	t.omu.Unlock()

	return t.logEdgeOp(wal.OpUpdateEdge, stored)
}

// DeleteEdge removes an edge.
func (t *Transaction) DeleteEdge(id graph.EdgeID) error {
	if err := t.requireActive(); err != nil {
		return err
	}
	if err := t.lock(edgeResource(id)); err != nil {
		return err
	}
	if _, ok, err := t.resolveEdge(id); err != nil {
		return err
	} else if !ok {
		return dgerr.New(dgerr.EdgeNotFound, "edge %s not found", id)
	}

	t.omu.Lock()
	if prev, found := t.edges[id]; found && prev.kind == edgeCreate {
		delete(t.edges, id)
	} else {
		t.edges[id] = &edgeChange{kind: edgeDelete}
	}
	t.omu.Unlock()

	return t.logIDOp(wal.OpDeleteEdge, id.String())
}

// GetNode reads through the overlay first, so a transaction sees its own
// uncommitted writes (spec.md §4.7: "W = the reader's own transaction"),
// falling back to the engine's committed state otherwise. Unrestricted,
// no locking (spec.md §4.7: "concurrent readers are unrestricted").
func (t *Transaction) GetNode(id graph.NodeID) (*graph.Node, bool, error) {
	node, ok, err := t.resolveNode(id)
	if err != nil || !ok {
		return nil, false, err
	}
	return node.Clone(), true, nil
}

func (t *Transaction) GetEdge(id graph.EdgeID) (*graph.Edge, bool, error) {
	edge, ok, err := t.resolveEdge(id)
	if err != nil || !ok {
		return nil, false, err
	}
	return edge.Clone(), true, nil
}

// Commit transitions Active→Committing, logs CommitTxn, applies the
// overlay to the engine and its indices, then transitions to Committed
// and releases locks. The WAL record is durable before the overlay ever
// touches the engine, so a crash between the two leaves recovery (which
// replays from the WAL into a fresh engine, not from live engine state)
// able to reconstruct the same result.
func (t *Transaction) Commit() error {
	t.mu.Lock()
	if t.status != Active {
		err := dgerr.New(dgerr.TransactionError, "transaction %d is not active (status=%s)", t.id, t.status)
		t.mu.Unlock()
		return err
	}
	t.status = Committing
	t.mu.Unlock()

	if t.mgr.log != nil {
		if _, err := t.mgr.log.Append(t.id, wal.OpCommitTxn, nil); err != nil {
			return err
		}
	}

	if err := t.applyOverlay(); err != nil {
		return err
	}

	t.mu.Lock()
	t.status = Committed
	t.mu.Unlock()

	t.mgr.locks.ReleaseAll(t.id)
	t.mgr.forget(t.id)
	return nil
}

// applyOverlay replays this transaction's buffered writes against the
// engine, in an order that always lands a node's create/update/delete
// before any edge create/update/delete that could reference it (edge
// creation needs its endpoints already committed; node deletion cascades
// away any of the engine's own incident edges before the transaction's
// own edge writes run). Every mutation that reaches the engine is also
// fed through the index manager, the hook spec.md §4.4 calls "maintained
// on every mutation."
func (t *Transaction) applyOverlay() error {
	nodes, edges := t.nodes, t.edges

	for _, nc := range nodes {
		if nc.kind != nodeCreate {
			continue
		}
		if err := t.mgr.engine.RestoreNode(nc.node); err != nil {
			return err
		}
		if t.mgr.indices != nil {
			if err := t.mgr.indices.OnNodeInserted(nc.node); err != nil {
				return err
			}
		}
	}
	for id, nc := range nodes {
		if nc.kind != nodeUpdate {
			continue
		}
		before, err := t.indexBefore(id)
		if err != nil {
			return err
		}
		if err := t.mgr.engine.UpdateNode(nc.node); err != nil {
			return err
		}
		if t.mgr.indices != nil && before != nil {
			if err := t.mgr.indices.OnNodeUpdated(before, nc.node); err != nil {
				return err
			}
		}
	}
	for id, nc := range nodes {
		if nc.kind != nodeDelete {
			continue
		}
		before, err := t.indexBefore(id)
		if err != nil {
			return err
		}
		if err := t.mgr.engine.DeleteNode(id); err != nil {
			return err
		}
		if t.mgr.indices != nil && before != nil {
			if err := t.mgr.indices.OnNodeDeleted(before); err != nil {
				return err
			}
		}
	}

	for _, ec := range edges {
		if ec.kind != edgeCreate {
			continue
		}
		if err := t.mgr.engine.RestoreEdge(ec.edge); err != nil {
			return err
		}
	}
	for _, ec := range edges {
		if ec.kind != edgeUpdate {
			continue
		}
		if err := t.mgr.engine.UpdateEdge(ec.edge); err != nil {
			return err
		}
	}
	for id, ec := range edges {
		if ec.kind != edgeDelete {
			continue
		}
		if err := t.mgr.engine.DeleteEdge(id); err != nil {
			return err
		}
	}
	return nil
}

// indexBefore fetches a node's pre-mutation state from the engine for
// the index manager's before/after comparison, if any index exists at
// all; nil with no error means the caller can skip re-indexing.
func (t *Transaction) indexBefore(id graph.NodeID) (*graph.Node, error) {
	if t.mgr.indices == nil {
		return nil, nil
	}
	before, ok, err := t.mgr.engine.GetNode(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return before, nil
}

// Abort transitions the transaction to Aborted, logs AbortTxn, releases
// every lock it held, and discards the write overlay. Since nothing in
// the overlay was ever applied to the engine, discarding it is the
// entire rollback: no compensating undo is needed, and no reader — this
// transaction's own future reads included, since Abort ends the
// transaction — can observe any of it (spec.md §4.7: "aborts never leave
// partial effects visible").
func (t *Transaction) Abort() error {
	t.mu.Lock()
	if t.status != Active {
		err := dgerr.New(dgerr.TransactionError, "transaction %d is not active (status=%s)", t.id, t.status)
		t.mu.Unlock()
		return err
	}
	t.status = Aborted
	t.mu.Unlock()

	if t.mgr.log != nil {
		if _, err := t.mgr.log.Append(t.id, wal.OpAbortTxn, nil); err != nil {
			return err
		}
	}

	t.omu.Lock()
	t.nodes = nil
	t.edges = nil
	t.omu.Unlock()

	t.mgr.locks.ReleaseAll(t.id)
	t.mgr.forget(t.id)
	return nil
}

func (t *Transaction) logNodeOp(op wal.Op, node *graph.Node) error {
	if t.mgr.log == nil {
		return nil
	}
	payload, err := json.Marshal(node)
	if err != nil {
		return dgerr.Wrap(dgerr.SerializationError, err, "encoding wal node payload")
	}
	_, err = t.mgr.log.Append(t.id, op, payload)
	return err
}

func (t *Transaction) logEdgeOp(op wal.Op, edge *graph.Edge) error {
	if t.mgr.log == nil {
		return nil
	}
	payload, err := json.Marshal(edge)
	if err != nil {
		return dgerr.Wrap(dgerr.SerializationError, err, "encoding wal edge payload")
	}
	_, err = t.mgr.log.Append(t.id, op, payload)
	return err
}

func (t *Transaction) logIDOp(op wal.Op, id string) error {
	if t.mgr.log == nil {
		return nil
	}
	payload, err := json.Marshal(idPayload{ID: id})
	if err != nil {
		return dgerr.Wrap(dgerr.SerializationError, err, "encoding wal id payload")
	}
	_, err = t.mgr.log.Append(t.id, op, payload)
	return err
}
