package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig(t.TempDir())
	cfg.SegmentSizeBytes = 1 << 20
	return cfg
}

func TestAppendAssignsIncreasingLSNs(t *testing.T) {
	w, err := Open(testConfig(t))
	require.NoError(t, err)
	defer w.Close()

	lsn1, err := w.Append(1, OpInsertNode, []byte(`{"a":1}`))
	require.NoError(t, err)
	lsn2, err := w.Append(1, OpCommitTxn, nil)
	require.NoError(t, err)
	assert.Equal(t, lsn1+1, lsn2)
}

func TestReadSegmentReplaysAppendedRecords(t *testing.T) {
	cfg := testConfig(t)
	w, err := Open(cfg)
	require.NoError(t, err)

	_, err = w.Append(42, OpInsertNode, []byte(`{"id":"n1"}`))
	require.NoError(t, err)
	_, err = w.Append(42, OpCommitTxn, nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	segments, err := Segments(cfg.Dir)
	require.NoError(t, err)
	require.Len(t, segments, 1)

	var ops []Op
	var txns []uint64
	err = ReadSegment(SegmentPath(cfg.Dir, segments[0]), func(r Record) error {
		ops = append(ops, r.Op)
		txns = append(txns, r.TxnID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []Op{OpInsertNode, OpCommitTxn}, ops)
	assert.Equal(t, []uint64{42, 42}, txns)
}

func TestReopenResumesLSNAndSegmentState(t *testing.T) {
	cfg := testConfig(t)
	w, err := Open(cfg)
	require.NoError(t, err)
	lastLSN, err := w.Append(1, OpInsertNode, []byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w2, err := Open(cfg)
	require.NoError(t, err)
	defer w2.Close()
	next, err := w2.Append(2, OpInsertNode, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, lastLSN+1, next)
}

func TestRotationCreatesNewSegmentAndPreservesOrder(t *testing.T) {
	cfg := testConfig(t)
	cfg.SegmentSizeBytes = 64 // force rotation almost every append
	w, err := Open(cfg)
	require.NoError(t, err)

	var lsns []uint64
	for i := 0; i < 10; i++ {
		lsn, err := w.Append(uint64(i), OpInsertNode, []byte(`{"payload":"some bytes to pad the frame"}`))
		require.NoError(t, err)
		lsns = append(lsns, lsn)
	}
	require.NoError(t, w.Close())

	segments, err := Segments(cfg.Dir)
	require.NoError(t, err)
	assert.Greater(t, len(segments), 1)

	var replayed []uint64
	for _, s := range segments {
		err := ReadSegment(SegmentPath(cfg.Dir, s), func(r Record) error {
			replayed = append(replayed, r.LSN)
			return nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, lsns, replayed)
}

func TestCheckpointAlwaysFlushesEvenWithoutSyncOnWrite(t *testing.T) {
	cfg := testConfig(t)
	cfg.SyncOnWrite = false
	w, err := Open(cfg)
	require.NoError(t, err)

	_, err = w.Append(1, OpInsertNode, []byte(`{}`))
	require.NoError(t, err)
	ckptLSN, err := w.Checkpoint()
	require.NoError(t, err)
	assert.Greater(t, ckptLSN, uint64(0))

	// Read the segment without closing the writer: Checkpoint's flush
	// must have made both records visible on disk already.
	segments, err := Segments(cfg.Dir)
	require.NoError(t, err)
	require.Len(t, segments, 1)

	var ops []Op
	err = ReadSegment(SegmentPath(cfg.Dir, segments[0]), func(r Record) error {
		ops = append(ops, r.Op)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []Op{OpInsertNode, OpCheckpoint}, ops)
	require.NoError(t, w.Close())
}

func TestReadSegmentStopsCleanlyAtTruncatedTrailingRecord(t *testing.T) {
	cfg := testConfig(t)
	w, err := Open(cfg)
	require.NoError(t, err)
	_, err = w.Append(1, OpInsertNode, []byte(`{"id":"n1"}`))
	require.NoError(t, err)
	_, err = w.Append(1, OpCommitTxn, nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	segments, err := Segments(cfg.Dir)
	require.NoError(t, err)
	path := SegmentPath(cfg.Dir, segments[0])

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-3))

	var ops []Op
	err = ReadSegment(path, func(r Record) error {
		ops = append(ops, r.Op)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []Op{OpInsertNode}, ops)
}

func TestOpenSkipsNonSegmentFiles(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.Dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Dir, "README.txt"), []byte("not a segment"), 0o644))

	w, err := Open(cfg)
	require.NoError(t, err)
	defer w.Close()
	_, err = w.Append(1, OpInsertNode, []byte(`{}`))
	require.NoError(t, err)
}
