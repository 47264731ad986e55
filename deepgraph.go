// Package deepgraph is the embedded, in-process labeled property graph
// database's single public entrypoint: Open wires package storage, wal,
// recovery, index, txn, and cypher into one *Engine, the way the teacher's
// own top-level package composes pkg/storage + pkg/cypher + pkg/config
// behind one constructor.
package deepgraph

import (
	"os"
	"path/filepath"

	"github.com/deepskilling/deepgraph/cypher"
	"github.com/deepskilling/deepgraph/dgerr"
	"github.com/deepskilling/deepgraph/graph"
	"github.com/deepskilling/deepgraph/index"
	"github.com/deepskilling/deepgraph/internal/loglevel"
	"github.com/deepskilling/deepgraph/recovery"
	"github.com/deepskilling/deepgraph/storage"
	"github.com/deepskilling/deepgraph/txn"
	"github.com/deepskilling/deepgraph/wal"
)

// WALConfig configures the write-ahead log (spec.md §6).
type WALConfig struct {
	Enabled            bool
	SyncOnWrite        bool
	SegmentSizeBytes   int64
	CheckpointEveryOps int
}

// IndexConfig configures the secondary index subsystem (spec.md §6).
type IndexConfig struct {
	// Dir is the index directory, relative to Config.StorageDataDir.
	// index.Manager currently always roots itself at "<data_dir>/indices"
	// (see index/manager.go); a non-default Dir is accepted here for
	// interface completeness but not yet honored (documented in
	// DESIGN.md), so it's limited to "indices" by DefaultConfig.
	Dir         string
	DefaultKind index.Kind
}

// LoggingConfig configures the ambient stdlib-backed logger (spec.md §6).
type LoggingConfig struct {
	Level string // one of trace|debug|info|warn|error
}

// Config is spec.md §6's closed configuration surface. There is
// deliberately no file/env loader: that collaborator is out of scope
// (spec.md §1/§7); callers build a Config literal or start from
// DefaultConfig and override fields.
type Config struct {
	StorageDataDir string
	WAL            WALConfig
	Index          IndexConfig
	Logging        LoggingConfig
}

// DefaultConfig returns spec.md §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		StorageDataDir: "./data",
		WAL: WALConfig{
			Enabled:            true,
			SyncOnWrite:        true,
			SegmentSizeBytes:   64 << 20,
			CheckpointEveryOps: 1000,
		},
		Index: IndexConfig{
			Dir:         "indices",
			DefaultKind: index.BTree,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Engine is one open graph database: an in-memory store kept durable by
// an optional WAL, a secondary index manager, an MVCC transaction
// manager, and the Cypher query pipeline, all bound to one data
// directory.
type Engine struct {
	cfg Config
	log *loglevel.Logger

	store   storage.Engine
	wal     *wal.WAL
	indices *index.Manager
	txns    *txn.Manager
	query   *cypher.Engine

	opsSinceCheckpoint int
}

// Open creates the data directory if needed, opens the WAL (if enabled)
// and replays it into a fresh in-memory store (spec.md §4.5 "Recovery"),
// opens the index manager, and returns a ready Engine.
func Open(cfg Config) (*Engine, error) {
	if cfg.StorageDataDir == "" {
		return nil, dgerr.New(dgerr.InvalidOperation, "Config.StorageDataDir must not be empty")
	}
	if err := os.MkdirAll(cfg.StorageDataDir, 0o755); err != nil {
		return nil, dgerr.Wrap(dgerr.IoError, err, "creating data directory %q", cfg.StorageDataDir)
	}
	logger := loglevel.New(loglevel.ParseLevel(cfg.Logging.Level))

	store := storage.NewMemoryEngine()

	indices, err := index.NewManager(cfg.StorageDataDir)
	if err != nil {
		return nil, err
	}

	var w *wal.WAL
	var highestLSN uint64
	if cfg.WAL.Enabled {
		walDir := filepath.Join(cfg.StorageDataDir, "wal")
		walCfg := wal.Config{
			Dir:              walDir,
			SyncOnWrite:      cfg.WAL.SyncOnWrite,
			SegmentSizeBytes: cfg.WAL.SegmentSizeBytes,
		}
		w, err = wal.Open(walCfg)
		if err != nil {
			return nil, err
		}
		result, err := recovery.Recover(walDir, store, indices)
		if err != nil {
			w.Close()
			return nil, err
		}
		logger.Infof("recovery replayed %d operations across %d committed transactions", result.OpsReplayed, result.CommittedTxns)
		highestLSN = result.HighestLSNSeen
	}

	txns := txn.NewManager(store, w, indices)
	// Every txn-id logged a BeginTxn record, so no logged txn-id exceeds
	// the highest LSN seen.
	txns.AdvancePast(highestLSN)
	query := cypher.New(store, indices, txns)

	return &Engine{
		cfg:     cfg,
		log:     logger,
		store:   store,
		wal:     w,
		indices: indices,
		txns:    txns,
		query:   query,
	}, nil
}

// Close flushes and releases every resource Open acquired. An Engine must
// not be used after Close.
func (e *Engine) Close() error {
	if e.wal != nil {
		if err := e.wal.Close(); err != nil {
			return err
		}
	}
	if err := e.indices.Close(); err != nil {
		return err
	}
	return e.store.Close()
}

// --- Transactions (spec.md §4.7/§6) ---

// Begin starts a new MVCC transaction.
func (e *Engine) Begin() (*txn.Transaction, error) {
	return e.txns.Begin()
}

// Commit commits tx and, once CheckpointEveryOps commits have accumulated
// since the last checkpoint, appends a WAL checkpoint record (spec.md
// §4.5: "checkpoints always flush"). Each commit counts as one, however
// many writes it made, and statements committed by Execute are not
// counted.
func (e *Engine) Commit(tx *txn.Transaction) error {
	if err := tx.Commit(); err != nil {
		return err
	}
	if e.wal == nil || e.cfg.WAL.CheckpointEveryOps <= 0 {
		return nil
	}
	e.opsSinceCheckpoint++
	if e.opsSinceCheckpoint >= e.cfg.WAL.CheckpointEveryOps {
		e.opsSinceCheckpoint = 0
		if _, err := e.wal.Checkpoint(); err != nil {
			return err
		}
	}
	return nil
}

// Abort rolls tx back.
func (e *Engine) Abort(tx *txn.Transaction) error {
	return tx.Abort()
}

// --- Direct store reads (spec.md §4.2/§4.3, no transaction required) ---

func (e *Engine) GetNode(id graph.NodeID) (*graph.Node, bool, error) { return e.store.GetNode(id) }
func (e *Engine) GetEdge(id graph.EdgeID) (*graph.Edge, bool, error) { return e.store.GetEdge(id) }
func (e *Engine) AllNodes() ([]*graph.Node, error)                   { return e.store.AllNodes() }
func (e *Engine) AllEdges() ([]*graph.Edge, error)                   { return e.store.AllEdges() }
func (e *Engine) NodeCount() (int64, error)                          { return e.store.NodeCount() }
func (e *Engine) EdgeCount() (int64, error)                          { return e.store.EdgeCount() }

// --- Indices (spec.md §4.4/§6) ---

// CreateIndex registers a new index over target, populated from the
// store's current contents.
func (e *Engine) CreateIndex(name string, kind index.Kind, target index.Target) error {
	nodes, err := e.store.AllNodes()
	if err != nil {
		return err
	}
	return e.indices.CreateIndex(name, kind, target, nodes)
}

func (e *Engine) DropIndex(name string) error { return e.indices.DropIndex(name) }

func (e *Engine) Lookup(name string, value graph.PropertyValue) ([]graph.NodeID, error) {
	return e.indices.Lookup(name, value)
}

func (e *Engine) Range(name string, lo, hi *graph.PropertyValue) ([]graph.NodeID, error) {
	return e.indices.Range(name, lo, hi)
}

// --- Queries (spec.md §4.9/§6) ---

// Execute runs one Cypher statement (spec.md §6's accepted grammar
// subset), auto-committing a write statement's own transaction.
func (e *Engine) Execute(text string) (*cypher.QueryResult, error) {
	return e.query.Execute(text)
}

// ExecuteInTx runs one Cypher statement against a caller-managed
// transaction, letting several statements share one atomic commit.
func (e *Engine) ExecuteInTx(text string, tx *txn.Transaction) (*cypher.QueryResult, error) {
	return e.query.ExecuteInTx(text, tx)
}
