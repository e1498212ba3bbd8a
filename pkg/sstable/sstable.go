// Package sstable implements the immutable, sorted, on-disk run of
// cells written on flush or by the compactor.
//
// On-disk layout (bit-exact, little-endian):
//
//	Header: magic "RBST" | version:u16 | flags:u16 | cell_count:u64
//	Cells*: row_len:u32 | row | col_len:u32 | col | ts:i64 | kind:u8 |
//	        [value_len:u32 | value] (Put) OR [ttl_ms:i64] (Tombstone)
//	Footer: index_offset:u64 | min_row_len:u32 | min_row |
//	        max_row_len:u32 | max_row | footer_len:u32 | magic
//
// Cells are written in ascending (row, column) order, descending
// timestamp within a (row, column). A sparse index (row -> file offset)
// is appended before the footer every indexInterval cells. footer_len
// is the byte length of the footer fields before it, so the reader can
// find the footer's start from the end of the file.
package sstable

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dd0wney/colstore/pkg/cell"
	"github.com/dd0wney/colstore/pkg/engine"
)

const (
	magic          = "RBST"
	formatVersion  = uint16(1)
	indexInterval  = 128
	kindPut        = 0
	kindTombstone  = 1
	noTTLSentinel  = int64(-1)
	headerFixedLen = 4 + 2 + 2 + 8 // magic + version + flags + cell_count
)

func segmentName(seq uint64) string {
	return fmt.Sprintf("sst-%020d.sst", seq)
}

// indexEntry records the row and file offset of every indexInterval-th
// cell, for binary search during Get/Scan. An entry can fall in the
// middle of a row's cells.
type indexEntry struct {
	row    []byte
	offset int64
}

// Handle is an opened, read-only SSTable.
type Handle struct {
	Path     string
	Seq      uint64
	MinRow   []byte
	MaxRow   []byte
	CellCnt  uint64
	index    []indexEntry
	dataBase int64 // file offset where cell records begin
}

// Create writes cells (already sorted per the on-disk ordering
// contract) to a new SSTable file, via a temp-name-then-atomic-rename
// discipline so partial writes are never visible under the final name.
func Create(dir string, seq uint64, cells []cell.Cell) (*Handle, error) {
	finalPath := filepath.Join(dir, segmentName(seq))
	tmpPath := finalPath + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, engine.IOError("sstable.create", "sstable", err)
	}

	w := bufio.NewWriter(f)
	var written int64

	// Placeholder header; rewritten once cell_count and layout are final.
	if _, err := w.Write(make([]byte, headerFixedLen)); err != nil {
		f.Close()
		return nil, engine.IOError("sstable.create", "sstable", err)
	}
	written += headerFixedLen

	var index []indexEntry
	var minRow, maxRow []byte
	for i := range cells {
		c := &cells[i]
		if i == 0 {
			minRow = append([]byte(nil), c.Row...)
		}
		maxRow = append([]byte(nil), c.Row...)

		if i%indexInterval == 0 {
			index = append(index, indexEntry{row: append([]byte(nil), c.Row...), offset: written})
		}
		n, err := writeCell(w, c)
		if err != nil {
			f.Close()
			return nil, engine.IOError("sstable.create", "sstable", err)
		}
		written += int64(n)
	}

	indexOffset := written
	if err := writeIndex(w, index); err != nil {
		f.Close()
		return nil, engine.IOError("sstable.create", "sstable", err)
	}
	if err := writeFooter(w, indexOffset, minRow, maxRow); err != nil {
		f.Close()
		return nil, engine.IOError("sstable.create", "sstable", err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return nil, engine.IOError("sstable.create", "sstable", err)
	}

	// Rewrite the header now that cell_count and indexOffset are known.
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, engine.IOError("sstable.create", "sstable", err)
	}
	hdr := make([]byte, headerFixedLen)
	copy(hdr[0:4], magic)
	binary.LittleEndian.PutUint16(hdr[4:6], formatVersion)
	binary.LittleEndian.PutUint16(hdr[6:8], 0)
	binary.LittleEndian.PutUint64(hdr[8:16], uint64(len(cells)))
	if _, err := f.Write(hdr); err != nil {
		f.Close()
		return nil, engine.IOError("sstable.create", "sstable", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return nil, engine.IOError("sstable.create", "sstable", err)
	}
	if err := f.Close(); err != nil {
		return nil, engine.IOError("sstable.create", "sstable", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return nil, engine.IOError("sstable.create", "sstable", err)
	}
	if dirf, err := os.Open(dir); err == nil {
		dirf.Sync()
		dirf.Close()
	}

	return &Handle{
		Path: finalPath, Seq: seq, MinRow: minRow, MaxRow: maxRow,
		CellCnt: uint64(len(cells)), index: index, dataBase: headerFixedLen,
	}, nil
}

func writeCell(w *bufio.Writer, c *cell.Cell) (int, error) {
	var buf bytes.Buffer
	writeLenPrefixed(&buf, c.Row)
	writeLenPrefixed(&buf, c.Column)
	writeInt64(&buf, c.Ts)
	switch c.Kind {
	case cell.KindPut:
		buf.WriteByte(kindPut)
		writeLenPrefixed(&buf, c.Value)
	case cell.KindTombstone:
		buf.WriteByte(kindTombstone)
		ttl := noTTLSentinel
		if c.HasTTL() {
			ttl = c.TTLMs
		}
		writeInt64(&buf, ttl)
	}
	return w.Write(buf.Bytes())
}

func writeLenPrefixed(buf *bytes.Buffer, data []byte) {
	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(data)))
	buf.Write(l[:])
	buf.Write(data)
}

func writeInt64(buf *bytes.Buffer, v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}

func writeIndex(w *bufio.Writer, index []indexEntry) error {
	var cnt [4]byte
	binary.LittleEndian.PutUint32(cnt[:], uint32(len(index)))
	if _, err := w.Write(cnt[:]); err != nil {
		return err
	}
	for _, e := range index {
		var buf bytes.Buffer
		writeLenPrefixed(&buf, e.row)
		var off [8]byte
		binary.LittleEndian.PutUint64(off[:], uint64(e.offset))
		buf.Write(off[:])
		if _, err := w.Write(buf.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

// writeFooter emits the documented footer fields in the documented
// order, plus one trailing fixed-size length field ahead of the magic
// so the reader can locate the (variable-length) footer start without
// an ambiguous reverse scan. The documented fields and their order are
// unchanged; footer_len is pure framing metadata, not stored data.
func writeFooter(w *bufio.Writer, indexOffset int64, minRow, maxRow []byte) error {
	var body bytes.Buffer
	var off [8]byte
	binary.LittleEndian.PutUint64(off[:], uint64(indexOffset))
	body.Write(off[:])
	writeLenPrefixed(&body, minRow)
	writeLenPrefixed(&body, maxRow)

	var buf bytes.Buffer
	buf.Write(body.Bytes())
	var flen [4]byte
	binary.LittleEndian.PutUint32(flen[:], uint32(body.Len()))
	buf.Write(flen[:])
	buf.WriteString(magic)
	_, err := w.Write(buf.Bytes())
	return err
}

// Open validates the header/footer magics and loads the sparse index.
func Open(path string) (*Handle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, engine.IOError("sstable.open", "sstable", err)
	}
	defer f.Close()

	hdr := make([]byte, headerFixedLen)
	if _, err := io.ReadFull(f, hdr); err != nil {
		return nil, engine.CorruptionError("sstable.open", "sstable", "truncated header")
	}
	if string(hdr[0:4]) != magic {
		return nil, engine.CorruptionError("sstable.open", "sstable", "bad header magic")
	}
	version := binary.LittleEndian.Uint16(hdr[4:6])
	if version != formatVersion {
		return nil, engine.CorruptionError("sstable.open", "sstable", fmt.Sprintf("unsupported version %d", version))
	}
	cellCount := binary.LittleEndian.Uint64(hdr[8:16])

	info, err := f.Stat()
	if err != nil {
		return nil, engine.IOError("sstable.open", "sstable", err)
	}
	footerTailLen := int64(len(magic))
	if info.Size() < headerFixedLen+footerTailLen {
		return nil, engine.CorruptionError("sstable.open", "sstable", "file too small for footer")
	}

	tail := make([]byte, footerTailLen)
	if _, err := f.ReadAt(tail, info.Size()-footerTailLen); err != nil {
		return nil, engine.CorruptionError("sstable.open", "sstable", "truncated footer")
	}
	if string(tail) != magic {
		return nil, engine.CorruptionError("sstable.open", "sstable", "bad footer magic")
	}

	footerStart, minRow, maxRow, indexOffset, err := readFooter(f, info.Size()-footerTailLen)
	if err != nil {
		return nil, err
	}

	idx, err := readIndex(f, indexOffset, footerStart)
	if err != nil {
		return nil, err
	}

	var seq uint64
	fmt.Sscanf(filepath.Base(path), "sst-%d.sst", &seq)

	return &Handle{
		Path: path, Seq: seq, MinRow: minRow, MaxRow: maxRow,
		CellCnt: cellCount, index: idx, dataBase: headerFixedLen,
	}, nil
}

// readFooter locates the variable-length footer body using the
// trailing footer_len field written immediately before the magic (see
// writeFooter), then parses the documented fields forward.
func readFooter(f *os.File, tailStart int64) (footerStart int64, minRow, maxRow []byte, indexOffset int64, err error) {
	flenPos := tailStart - 4
	if flenPos < headerFixedLen {
		return 0, nil, nil, 0, engine.CorruptionError("sstable.open", "sstable", "file too small for footer length")
	}
	var flenBuf [4]byte
	if _, err := f.ReadAt(flenBuf[:], flenPos); err != nil {
		return 0, nil, nil, 0, engine.CorruptionError("sstable.open", "sstable", "unreadable footer length")
	}
	footerLen := int64(binary.LittleEndian.Uint32(flenBuf[:]))
	bodyStart := flenPos - footerLen
	if bodyStart < headerFixedLen {
		return 0, nil, nil, 0, engine.CorruptionError("sstable.open", "sstable", "invalid footer length")
	}

	body := make([]byte, footerLen)
	if _, err := f.ReadAt(body, bodyStart); err != nil {
		return 0, nil, nil, 0, engine.CorruptionError("sstable.open", "sstable", "unreadable footer body")
	}

	if len(body) < 8 {
		return 0, nil, nil, 0, engine.CorruptionError("sstable.open", "sstable", "truncated footer body")
	}
	idxOff := int64(binary.LittleEndian.Uint64(body[0:8]))
	mr, p, ok := tryReadLenPrefixed(body, 8)
	if !ok {
		return 0, nil, nil, 0, engine.CorruptionError("sstable.open", "sstable", "corrupt min_row")
	}
	xr, p2, ok := tryReadLenPrefixed(body, p)
	if !ok || p2 != len(body) {
		return 0, nil, nil, 0, engine.CorruptionError("sstable.open", "sstable", "corrupt max_row")
	}
	return bodyStart, mr, xr, idxOff, nil
}

func tryReadLenPrefixed(buf []byte, pos int) ([]byte, int, bool) {
	if pos+4 > len(buf) {
		return nil, pos, false
	}
	n := int(binary.LittleEndian.Uint32(buf[pos : pos+4]))
	pos += 4
	if n < 0 || pos+n > len(buf) {
		return nil, pos, false
	}
	return buf[pos : pos+n], pos + n, true
}

func readIndex(f *os.File, indexOffset, footerStart int64) ([]indexEntry, error) {
	n := footerStart - indexOffset
	if n < 4 {
		return nil, engine.CorruptionError("sstable.open", "sstable", "invalid index region")
	}
	buf := make([]byte, n)
	if _, err := f.ReadAt(buf, indexOffset); err != nil {
		return nil, engine.CorruptionError("sstable.open", "sstable", "unreadable index")
	}
	count := binary.LittleEndian.Uint32(buf[0:4])
	pos := 4
	out := make([]indexEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		row, p2, ok := tryReadLenPrefixed(buf, pos)
		if !ok || p2+8 > len(buf) {
			return nil, engine.CorruptionError("sstable.open", "sstable", "corrupt index entry")
		}
		offset := int64(binary.LittleEndian.Uint64(buf[p2 : p2+8]))
		out = append(out, indexEntry{row: append([]byte(nil), row...), offset: offset})
		pos = p2 + 8
	}
	return out, nil
}

// Overlaps reports whether [rowLo, rowHi] could intersect this table's
// row range, letting callers skip opening tables that cannot match.
func (h *Handle) Overlaps(rowLo, rowHi []byte) bool {
	if rowHi != nil && bytes.Compare(h.MinRow, rowHi) > 0 {
		return false
	}
	if rowLo != nil && bytes.Compare(h.MaxRow, rowLo) < 0 {
		return false
	}
	return true
}

// Get positions at the first cell matching row (via the sparse index
// when present) then streams cells for (row, col), gathering up to
// maxVersions that satisfy the optional [tLo, tHi] range.
func (h *Handle) Get(row, col []byte, maxVersions int, tLo, tHi int64, hasRange bool) ([]cell.Cell, error) {
	f, err := os.Open(h.Path)
	if err != nil {
		return nil, engine.IOError("sstable.get", "sstable", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, engine.IOError("sstable.get", "sstable", err)
	}
	// Cell records end where the index begins.
	_, _, _, dataEnd, err := readFooter(f, info.Size()-int64(len(magic)))
	if err != nil {
		return nil, err
	}
	offset := h.seekOffset(row)
	r := bufio.NewReader(io.NewSectionReader(f, offset, dataEnd-offset))

	var out []cell.Cell
	for {
		c, err := readCell(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, engine.CorruptionError("sstable.get", "sstable", err.Error())
		}
		cmp := bytes.Compare(c.Row, row)
		if cmp > 0 {
			break
		}
		if cmp < 0 {
			continue
		}
		if !bytes.Equal(c.Column, col) {
			continue
		}
		if hasRange && (c.Ts < tLo || c.Ts > tHi) {
			continue
		}
		out = append(out, *c)
		if len(out) >= maxVersions {
			break
		}
	}
	return out, nil
}

func (h *Handle) seekOffset(row []byte) int64 {
	if len(h.index) == 0 {
		return h.dataBase
	}
	lo, hi := 0, len(h.index)-1
	best := h.index[0].offset
	// Last entry whose row sorts strictly before row: an entry equal to
	// row may sit after that row's first cells.
	for lo <= hi {
		mid := (lo + hi) / 2
		if bytes.Compare(h.index[mid].row, row) < 0 {
			best = h.index[mid].offset
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return best
}

// Scan streams every cell whose row falls within [rowLo, rowHi], in
// file order, finite and single-shot.
func (h *Handle) Scan(rowLo, rowHi []byte) ([]cell.Cell, error) {
	f, err := os.Open(h.Path)
	if err != nil {
		return nil, engine.IOError("sstable.scan", "sstable", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, engine.IOError("sstable.scan", "sstable", err)
	}
	// Cell records end where the index begins.
	_, _, _, dataEnd, err := readFooter(f, info.Size()-int64(len(magic)))
	if err != nil {
		return nil, err
	}
	offset := h.dataBase
	if rowLo != nil {
		offset = h.seekOffset(rowLo)
	}
	r := bufio.NewReader(io.NewSectionReader(f, offset, dataEnd-offset))

	var out []cell.Cell
	for {
		c, err := readCell(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, engine.CorruptionError("sstable.scan", "sstable", err.Error())
		}
		if rowHi != nil && bytes.Compare(c.Row, rowHi) > 0 {
			break
		}
		if rowLo != nil && bytes.Compare(c.Row, rowLo) < 0 {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

// Iterator returns every cell in file order, used by the compactor's
// streaming merge.
func (h *Handle) Iterator() ([]cell.Cell, error) {
	return h.Scan(nil, nil)
}

func readCell(r *bufio.Reader) (*cell.Cell, error) {
	row, err := readLenPrefixedStream(r)
	if err != nil {
		return nil, err
	}
	col, err := readLenPrefixedStream(r)
	if err != nil {
		return nil, err
	}
	var tsBuf [8]byte
	if _, err := io.ReadFull(r, tsBuf[:]); err != nil {
		return nil, err
	}
	ts := int64(binary.LittleEndian.Uint64(tsBuf[:]))
	kindByte, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	c := &cell.Cell{Row: row, Column: col, Ts: ts}
	switch kindByte {
	case kindPut:
		val, err := readLenPrefixedStream(r)
		if err != nil {
			return nil, err
		}
		c.Kind = cell.KindPut
		c.Value = val
	case kindTombstone:
		var ttlBuf [8]byte
		if _, err := io.ReadFull(r, ttlBuf[:]); err != nil {
			return nil, err
		}
		ttl := int64(binary.LittleEndian.Uint64(ttlBuf[:]))
		c.Kind = cell.KindTombstone
		if ttl != noTTLSentinel {
			c.TTLMs = ttl
		}
	default:
		return nil, fmt.Errorf("unknown cell kind byte %d", kindByte)
	}
	return c, nil
}

func readLenPrefixedStream(r *bufio.Reader) ([]byte, error) {
	var l [4]byte
	if _, err := io.ReadFull(r, l[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(l[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Delete unlinks the SSTable file.
func (h *Handle) Delete() error {
	if err := os.Remove(h.Path); err != nil && !os.IsNotExist(err) {
		return engine.IOError("sstable.delete", "sstable", err)
	}
	return nil
}

// ListSSTables returns handles for every sst-*.sst file in dir, ordered
// by ascending sequence number, matching the lexicographic/numeric
// zero-padded filename ordering required by the external interface.
func ListSSTables(dir string) ([]*Handle, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "sst-*.sst"))
	if err != nil {
		return nil, engine.IOError("sstable.list", "sstable", err)
	}
	handles := make([]*Handle, 0, len(matches))
	for _, m := range matches {
		h, err := Open(m)
		if err != nil {
			return nil, err
		}
		handles = append(handles, h)
	}
	for i := 1; i < len(handles); i++ {
		for j := i; j > 0 && handles[j-1].Seq > handles[j].Seq; j-- {
			handles[j-1], handles[j] = handles[j], handles[j-1]
		}
	}
	return handles, nil
}
