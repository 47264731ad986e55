package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/deepskilling/deepgraph/dgerr"
)

// Config configures WAL behavior (spec.md §6).
type Config struct {
	// Dir is the segment directory, usually <data_dir>/wal.
	Dir string

	// SyncOnWrite, when true, fsyncs every append before its LSN is
	// returned to the caller (strongest durability, one fsync per op).
	// When false, appends are buffered and Checkpoint always flushes.
	SyncOnWrite bool

	// SegmentSizeBytes triggers rotation when a segment would exceed it.
	SegmentSizeBytes int64
}

// DefaultConfig returns spec.md §6's defaults: sync_on_write=true,
// segment_size_bytes=64MiB.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:              dir,
		SyncOnWrite:      true,
		SegmentSizeBytes: 64 << 20,
	}
}

// WAL is the append-only durable log. Append is single-writer (an
// internal mutex), but never blocks store readers (spec.md §5
// "Suspension and blocking").
type WAL struct {
	cfg Config

	mu           sync.Mutex
	file         *os.File
	writer       *bufio.Writer
	segmentNum   int
	segmentBytes int64

	lsn atomic.Uint64
}

// segmentFileName renders the zero-padded segment file name spec.md §6's
// on-disk layout shows (<segment-number>.log).
func segmentFileName(n int) string { return fmt.Sprintf("%010d.log", n) }

// Open opens (or creates) a WAL rooted at cfg.Dir, resuming the LSN
// counter and segment numbering from whatever segments already exist.
func Open(cfg Config) (*WAL, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, dgerr.Wrap(dgerr.IoError, err, "creating wal directory %q", cfg.Dir)
	}
	segments, err := listSegments(cfg.Dir)
	if err != nil {
		return nil, err
	}

	w := &WAL{cfg: cfg}
	lastSegment := 0
	if len(segments) > 0 {
		lastSegment = segments[len(segments)-1]
		lastLSN, err := highestLSN(filepath.Join(cfg.Dir, segmentFileName(lastSegment)))
		if err != nil {
			return nil, err
		}
		w.lsn.Store(lastLSN)
	}

	if err := w.openSegment(lastSegment); err != nil {
		return nil, err
	}
	return w, nil
}

func listSegments(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, dgerr.Wrap(dgerr.IoError, err, "listing wal segments in %q", dir)
	}
	var nums []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(e.Name(), "%010d.log", &n); err == nil {
			nums = append(nums, n)
		}
	}
	sort.Ints(nums)
	return nums, nil
}

// highestLSN scans a segment file for its highest valid LSN, stopping at
// the first truncated or CRC-failing record (spec.md §4.5/§4.6: "a
// corrupted record at the tail ... terminates replay ... not an error").
func highestLSN(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, dgerr.Wrap(dgerr.IoError, err, "opening wal segment %q", path)
	}
	defer f.Close()

	var last uint64
	r := bufio.NewReader(f)
	for {
		rec, ok := readOneRecord(r)
		if !ok {
			break
		}
		last = rec.LSN
	}
	return last, nil
}

func (w *WAL) openSegment(num int) error {
	path := filepath.Join(w.cfg.Dir, segmentFileName(num))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return dgerr.Wrap(dgerr.IoError, err, "opening wal segment %q", path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return dgerr.Wrap(dgerr.IoError, err, "stat wal segment %q", path)
	}
	w.file = f
	w.writer = bufio.NewWriterSize(f, 64*1024)
	w.segmentNum = num
	w.segmentBytes = info.Size()
	return nil
}

// Append writes one record and returns its assigned LSN. The LSN
// returned is valid as soon as Append returns; whether the bytes are on
// disk yet depends on cfg.SyncOnWrite.
func (w *WAL) Append(txnID uint64, op Op, payload []byte) (uint64, error) {
	lsn := w.lsn.Add(1)
	rec := Record{LSN: lsn, TxnID: txnID, Op: op, Payload: payload, Timestamp: time.Now()}
	frame := encode(rec)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.segmentBytes > 0 && w.segmentBytes+int64(len(frame)) > w.cfg.SegmentSizeBytes {
		if err := w.rotateLocked(); err != nil {
			return 0, err
		}
	}

	if _, err := w.writer.Write(frame); err != nil {
		return 0, dgerr.Wrap(dgerr.IoError, err, "appending wal record")
	}
	w.segmentBytes += int64(len(frame))

	if w.cfg.SyncOnWrite {
		if err := w.flushAndSyncLocked(); err != nil {
			return 0, err
		}
	}
	return lsn, nil
}

// Checkpoint appends a Checkpoint record carrying the current LSN as its
// recovery hint, and always flushes regardless of SyncOnWrite (spec.md
// §4.5: "checkpoints always flush").
func (w *WAL) Checkpoint() (uint64, error) {
	lsn, err := w.Append(0, OpCheckpoint, nil)
	if err != nil {
		return 0, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flushAndSyncLocked(); err != nil {
		return 0, err
	}
	return lsn, nil
}

// rotateLocked fsyncs the outgoing segment and opens a new one, with the
// LSN counter continuing monotonically (spec.md §4.5).
func (w *WAL) rotateLocked() error {
	if err := w.flushAndSyncLocked(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return dgerr.Wrap(dgerr.IoError, err, "closing wal segment during rotation")
	}
	return w.openSegment(w.segmentNum + 1)
}

func (w *WAL) flushAndSyncLocked() error {
	if err := w.writer.Flush(); err != nil {
		return dgerr.Wrap(dgerr.IoError, err, "flushing wal writer")
	}
	if err := w.file.Sync(); err != nil {
		return dgerr.Wrap(dgerr.IoError, err, "fsyncing wal segment")
	}
	return nil
}

// Flush forces buffered writes to disk without appending a record. Used
// by callers running with sync_on_write=false that want an explicit
// durability point.
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushAndSyncLocked()
}

// Close flushes and closes the active segment.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flushAndSyncLocked(); err != nil {
		return err
	}
	return dgerr.Wrap(dgerr.IoError, w.file.Close(), "closing wal segment")
}

// readOneRecord reads a single [length][body][crc32] frame from r. ok is
// false at clean EOF or at the first truncated/corrupted frame — either
// case terminates the caller's scan without being treated as an error
// (spec.md §4.6).
func readOneRecord(r *bufio.Reader) (Record, bool) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Record{}, false
	}
	bodyLen := binary.BigEndian.Uint32(lenBuf[:])

	frame := make([]byte, bodyLen+4)
	if _, err := io.ReadFull(r, frame); err != nil {
		return Record{}, false
	}
	body, crcBytes := frame[:bodyLen], frame[bodyLen:]
	if crc32.ChecksumIEEE(body) != binary.BigEndian.Uint32(crcBytes) {
		return Record{}, false
	}
	rec, err := decode(body)
	if err != nil {
		return Record{}, false
	}
	return rec, true
}

// Segments returns the sorted segment numbers present in dir, for readers
// (recovery) that want to replay independently of an open *WAL writer.
func Segments(dir string) ([]int, error) { return listSegments(dir) }

// SegmentPath returns the path of segment n within dir.
func SegmentPath(dir string, n int) string { return filepath.Join(dir, segmentFileName(n)) }

// ReadSegment streams every well-formed record from one segment file, in
// file order, calling fn for each. It stops (without error) at the first
// truncated or CRC-failing frame.
func ReadSegment(path string, fn func(Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return dgerr.Wrap(dgerr.IoError, err, "opening wal segment %q", path)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		rec, ok := readOneRecord(r)
		if !ok {
			return nil
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}
