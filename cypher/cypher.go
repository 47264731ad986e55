// Package cypher wires the parser, planner, and executor into the single
// entrypoint deepgraph.Engine exposes: Execute(text) runs one statement
// through parse → plan → execute, auto-wrapping a write statement in its
// own transaction the way the teacher's StorageExecutor.Execute does for
// its implicit (non-pre-begun) queries.
package cypher

import (
	"github.com/deepskilling/deepgraph/cypher/executor"
	"github.com/deepskilling/deepgraph/cypher/parser"
	"github.com/deepskilling/deepgraph/dgerr"
	"github.com/deepskilling/deepgraph/index"
	"github.com/deepskilling/deepgraph/storage"
	"github.com/deepskilling/deepgraph/txn"
)

// QueryResult is re-exported so callers never need to import the executor
// package directly.
type QueryResult = executor.QueryResult

// Engine runs Cypher text against one storage.Engine/index.Manager pair,
// using txns to commit writes atomically.
type Engine struct {
	exec *executor.Executor
	txns *txn.Manager
}

// New builds an Engine bound to one store, its indices, and its
// transaction manager.
func New(store storage.Engine, indices *index.Manager, txns *txn.Manager) *Engine {
	return &Engine{exec: executor.New(store, indices), txns: txns}
}

// Execute parses text as a single statement and runs it. A write statement
// (CREATE/MERGE/SET/DELETE) is wrapped in a transaction that is begun,
// committed, and — on any error — aborted by Execute itself; a read
// statement runs directly against the live store. Callers needing several
// write statements inside one atomic transaction should use ExecuteInTx
// with a transaction they manage themselves instead.
func (e *Engine) Execute(text string) (*QueryResult, error) {
	q, err := parser.Parse(text)
	if err != nil {
		return nil, err
	}
	if q.Read != nil {
		return e.exec.Execute(q, nil)
	}

	tx, err := e.txns.Begin()
	if err != nil {
		return nil, err
	}
	res, err := e.exec.Execute(q, tx)
	if err != nil {
		_ = tx.Abort()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return res, nil
}

// ExecuteInTx parses text and runs it against the caller-supplied
// transaction, letting several statements share one atomic unit of work.
// A read statement ignores tx and runs directly against the live store.
func (e *Engine) ExecuteInTx(text string, tx *txn.Transaction) (*QueryResult, error) {
	q, err := parser.Parse(text)
	if err != nil {
		return nil, err
	}
	if q.Read != nil {
		return e.exec.Execute(q, nil)
	}
	if tx == nil {
		return nil, dgerr.New(dgerr.InvalidOperation, "write statement requires a transaction")
	}
	return e.exec.Execute(q, tx)
}
