package compaction

import (
	"testing"

	"github.com/dd0wney/colstore/pkg/cell"
	"github.com/dd0wney/colstore/pkg/sstable"
)

func TestRunMajorNoOpRetentionPreservesEverything(t *testing.T) {
	dir := t.TempDir()
	h, err := sstable.Create(dir, 1, []cell.Cell{
		{Row: []byte("r1"), Column: []byte("c1"), Ts: 2, Kind: cell.KindPut, Value: []byte("v2")},
		{Row: []byte("r1"), Column: []byte("c1"), Ts: 1, Kind: cell.KindPut, Value: []byte("v1")},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	plan := &Plan{Inputs: []*sstable.Handle{h}, Options: Options{Type: Major}}
	result, err := Run(plan, 1000)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.Output) != 2 {
		t.Fatalf("expected no-op retention to preserve both cells, got %d", len(result.Output))
	}
}

func TestRunMajorCleansUpRetiredNoTTLTombstone(t *testing.T) {
	dir := t.TempDir()
	h, err := sstable.Create(dir, 1, []cell.Cell{
		{Row: []byte("r1"), Column: []byte("c1"), Ts: 100, Kind: cell.KindTombstone},
		{Row: []byte("r1"), Column: []byte("c1"), Ts: 50, Kind: cell.KindPut, Value: []byte("v1")},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	plan := &Plan{
		Inputs:  []*sstable.Handle{h},
		Options: Options{Type: Major, CleanupTombstones: true},
		GraceMs: 10,
	}
	result, err := Run(plan, 200)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.Output) != 0 {
		t.Fatalf("expected tombstone and shadowed put both dropped, got %d cells", len(result.Output))
	}
}

func TestRunMinorNeverDropsNoTTLTombstoneEvenWithCleanupFlag(t *testing.T) {
	dir := t.TempDir()
	h, err := sstable.Create(dir, 1, []cell.Cell{
		{Row: []byte("r1"), Column: []byte("c1"), Ts: 100, Kind: cell.KindTombstone},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	plan := &Plan{
		Inputs:  []*sstable.Handle{h},
		Options: Options{Type: Minor, CleanupTombstones: true},
		GraceMs: 10,
	}
	result, err := Run(plan, 100000)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.Output) != 1 {
		t.Fatalf("expected Minor compaction to retain the no-TTL tombstone regardless of cleanup_tombstones, got %d", len(result.Output))
	}
}

func TestRunMaxVersionsCapsPutCount(t *testing.T) {
	dir := t.TempDir()
	h, err := sstable.Create(dir, 1, []cell.Cell{
		{Row: []byte("r1"), Column: []byte("c1"), Ts: 3, Kind: cell.KindPut, Value: []byte("v3")},
		{Row: []byte("r1"), Column: []byte("c1"), Ts: 2, Kind: cell.KindPut, Value: []byte("v2")},
		{Row: []byte("r1"), Column: []byte("c1"), Ts: 1, Kind: cell.KindPut, Value: []byte("v1")},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	plan := &Plan{Inputs: []*sstable.Handle{h}, Options: Options{Type: Major, MaxVersions: 2}}
	result, err := Run(plan, 1000)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.Output) != 2 {
		t.Fatalf("expected max_versions=2 to cap output at 2 cells, got %d", len(result.Output))
	}
}

func TestSelectMinorRequiresMinimumInputs(t *testing.T) {
	if got := SelectMinor(nil, 2); got != nil {
		t.Fatalf("expected nil selection with no tables")
	}
}
