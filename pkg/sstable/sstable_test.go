package sstable

import (
	"testing"

	"github.com/dd0wney/colstore/pkg/cell"
)

func sampleCells() []cell.Cell {
	return []cell.Cell{
		{Row: []byte("r1"), Column: []byte("c1"), Ts: 2, Kind: cell.KindPut, Value: []byte("v2")},
		{Row: []byte("r1"), Column: []byte("c1"), Ts: 1, Kind: cell.KindPut, Value: []byte("v1")},
		{Row: []byte("r1"), Column: []byte("c2"), Ts: 1, Kind: cell.KindTombstone, TTLMs: 500},
		{Row: []byte("r2"), Column: []byte("c1"), Ts: 1, Kind: cell.KindPut, Value: []byte("v3")},
	}
}

func TestCreateOpenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	h, err := Create(dir, 1, sampleCells())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if string(h.MinRow) != "r1" || string(h.MaxRow) != "r2" {
		t.Fatalf("unexpected min/max row: %s/%s", h.MinRow, h.MaxRow)
	}

	reopened, err := Open(h.Path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if reopened.CellCnt != 4 {
		t.Fatalf("expected 4 cells, got %d", reopened.CellCnt)
	}
	if string(reopened.MinRow) != "r1" || string(reopened.MaxRow) != "r2" {
		t.Fatalf("unexpected reopened min/max row: %s/%s", reopened.MinRow, reopened.MaxRow)
	}
}

func TestGetReturnsVersionsNewestFirst(t *testing.T) {
	dir := t.TempDir()
	h, err := Create(dir, 1, sampleCells())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := h.Get([]byte("r1"), []byte("c1"), 10, 0, 0, false)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(got))
	}
	if string(got[0].Value) != "v2" || string(got[1].Value) != "v1" {
		t.Fatalf("expected newest-first, got %s then %s", got[0].Value, got[1].Value)
	}
}

func TestGetTombstoneRoundTrip(t *testing.T) {
	dir := t.TempDir()
	h, err := Create(dir, 1, sampleCells())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := h.Get([]byte("r1"), []byte("c2"), 10, 0, 0, false)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 1 || got[0].Kind != cell.KindTombstone || got[0].TTLMs != 500 {
		t.Fatalf("expected one tombstone with ttl 500, got %+v", got)
	}
}

func TestScanRange(t *testing.T) {
	dir := t.TempDir()
	h, err := Create(dir, 1, sampleCells())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := h.Scan([]byte("r1"), []byte("r1"))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 cells for row r1, got %d", len(got))
	}
}

func TestOverlapsSkipsDisjointRanges(t *testing.T) {
	dir := t.TempDir()
	h, err := Create(dir, 1, sampleCells())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if h.Overlaps([]byte("r9"), []byte("r9")) {
		t.Fatalf("expected no overlap with out-of-range query")
	}
	if !h.Overlaps([]byte("r1"), []byte("r2")) {
		t.Fatalf("expected overlap with in-range query")
	}
}

func TestListSSTablesOrdersBySequence(t *testing.T) {
	dir := t.TempDir()
	if _, err := Create(dir, 2, sampleCells()); err != nil {
		t.Fatalf("create seq 2: %v", err)
	}
	if _, err := Create(dir, 1, sampleCells()); err != nil {
		t.Fatalf("create seq 1: %v", err)
	}
	handles, err := ListSSTables(dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(handles) != 2 || handles[0].Seq != 1 || handles[1].Seq != 2 {
		t.Fatalf("expected ascending sequence order, got %+v", handles)
	}
}
