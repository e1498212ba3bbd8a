// Package wal implements the per-column-family write-ahead log: a
// crash-durable record of mutations for the active MemStore, written
// as fixed-framing binary records and replayed on column family open.
//
// Record format (little-endian):
//
//	len:u32 | row_len:u32 | row | col_len:u32 | col | ts:i64 | kind:u8 | value_or_ttl
//
// len covers every field after itself, which lets recover stop cleanly
// at the last complete record instead of failing the whole segment.
package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/dd0wney/colstore/pkg/cell"
	"github.com/dd0wney/colstore/pkg/engine"
)

const (
	kindPut            = 0
	kindTombstoneNoTTL = 1
	kindTombstoneTTL   = 2
)

func segmentName(seq uint64) string {
	return fmt.Sprintf("wal-%020d.log", seq)
}

// Segment is one `wal-<seq>.log` file backing the active MemStore.
type Segment struct {
	mu   sync.Mutex
	dir  string
	seq  uint64
	file *os.File
	w    *bufio.Writer
}

// Create opens a new WAL segment at the given sequence number.
func Create(dir string, seq uint64) (*Segment, error) {
	path := filepath.Join(dir, segmentName(seq))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, engine.IOError("wal.create", "wal", err)
	}
	return &Segment{dir: dir, seq: seq, file: f, w: bufio.NewWriter(f)}, nil
}

// Seq returns the segment's sequence number.
func (s *Segment) Seq() uint64 { return s.seq }

// Append writes one cell as a durable record: buffered write, OS
// flush, then fsync, returning only once durability is reached.
func (s *Segment) Append(c *cell.Cell) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := encodeRecord(c)
	if _, err := s.w.Write(buf); err != nil {
		return engine.IOError("wal.append", "wal", err)
	}
	if err := s.w.Flush(); err != nil {
		return engine.IOError("wal.append", "wal", err)
	}
	if err := s.file.Sync(); err != nil {
		return engine.IOError("wal.append", "wal", err)
	}
	return nil
}

// Close flushes and closes the underlying file without removing it.
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		return engine.IOError("wal.close", "wal", err)
	}
	return s.file.Close()
}

// Remove unlinks the segment file. Callers must only do this once the
// MemStore it backs is durably written to an SSTable.
func Remove(dir string, seq uint64) error {
	path := filepath.Join(dir, segmentName(seq))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return engine.IOError("wal.remove", "wal", err)
	}
	return nil
}

func encodeRecord(c *cell.Cell) []byte {
	var body []byte
	body = appendLenPrefixed(body, c.Row)
	body = appendLenPrefixed(body, c.Column)
	body = appendInt64(body, c.Ts)

	switch c.Kind {
	case cell.KindPut:
		body = append(body, kindPut)
		body = appendLenPrefixed(body, c.Value)
	case cell.KindTombstone:
		if c.HasTTL() {
			body = append(body, kindTombstoneTTL)
			body = appendInt64(body, c.TTLMs)
		} else {
			body = append(body, kindTombstoneNoTTL)
		}
	}

	rec := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(rec[0:4], uint32(len(body)))
	copy(rec[4:], body)
	return rec
}

func appendLenPrefixed(buf, data []byte) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(data)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, data...)
	return buf
}

func appendInt64(buf []byte, v int64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return append(buf, b[:]...)
}

// ReadAll replays every complete record in a segment file in order.
// A partial trailing record (truncated by a crash mid-append) is
// treated as the clean end of the log, not an error.
func ReadAll(dir string, seq uint64) ([]*cell.Cell, error) {
	path := filepath.Join(dir, segmentName(seq))
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, engine.IOError("wal.read", "wal", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var cells []*cell.Cell
	for {
		c, err := readRecord(r)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			// Corruption mid-stream: stop cleanly at the last good record,
			// matching the WAL's "recover to last complete record" contract.
			break
		}
		cells = append(cells, c)
	}
	return cells, nil
}

func readRecord(r *bufio.Reader) (*cell.Cell, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, io.ErrUnexpectedEOF
	}

	pos := 0
	row, pos, err := readLenPrefixed(body, pos)
	if err != nil {
		return nil, err
	}
	col, pos, err := readLenPrefixed(body, pos)
	if err != nil {
		return nil, err
	}
	if pos+8 > len(body) {
		return nil, io.ErrUnexpectedEOF
	}
	ts := int64(binary.LittleEndian.Uint64(body[pos : pos+8]))
	pos += 8
	if pos >= len(body) {
		return nil, io.ErrUnexpectedEOF
	}
	kind := body[pos]
	pos++

	c := &cell.Cell{Row: row, Column: col, Ts: ts}
	switch kind {
	case kindPut:
		val, _, err := readLenPrefixed(body, pos)
		if err != nil {
			return nil, err
		}
		c.Kind = cell.KindPut
		c.Value = val
	case kindTombstoneNoTTL:
		c.Kind = cell.KindTombstone
	case kindTombstoneTTL:
		if pos+8 > len(body) {
			return nil, io.ErrUnexpectedEOF
		}
		c.Kind = cell.KindTombstone
		c.TTLMs = int64(binary.LittleEndian.Uint64(body[pos : pos+8]))
	default:
		return nil, io.ErrUnexpectedEOF
	}
	return c, nil
}

func readLenPrefixed(body []byte, pos int) ([]byte, int, error) {
	if pos+4 > len(body) {
		return nil, pos, io.ErrUnexpectedEOF
	}
	n := binary.LittleEndian.Uint32(body[pos : pos+4])
	pos += 4
	if pos+int(n) > len(body) {
		return nil, pos, io.ErrUnexpectedEOF
	}
	out := body[pos : pos+int(n)]
	pos += int(n)
	return out, pos, nil
}

// ListSegments returns the sequence numbers of every wal-*.log file in
// dir, ascending.
func ListSegments(dir string) ([]uint64, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "wal-*.log"))
	if err != nil {
		return nil, engine.IOError("wal.list", "wal", err)
	}
	seqs := make([]uint64, 0, len(matches))
	for _, m := range matches {
		var seq uint64
		if _, err := fmt.Sscanf(filepath.Base(m), "wal-%d.log", &seq); err != nil {
			continue
		}
		seqs = append(seqs, seq)
	}
	for i := 1; i < len(seqs); i++ {
		for j := i; j > 0 && seqs[j-1] > seqs[j]; j-- {
			seqs[j-1], seqs[j] = seqs[j], seqs[j-1]
		}
	}
	return seqs, nil
}

// Recover replays every WAL segment in dir, in sequence order, into a
// single combined cell slice — used to rebuild a fresh MemStore when a
// column family is reopened after an unclean shutdown.
func Recover(dir string) ([]*cell.Cell, error) {
	seqs, err := ListSegments(dir)
	if err != nil {
		return nil, err
	}
	var all []*cell.Cell
	for _, seq := range seqs {
		cells, err := ReadAll(dir, seq)
		if err != nil {
			return nil, err
		}
		all = append(all, cells...)
	}
	return all, nil
}
