// Package compaction implements the selection policies and in-memory
// merge that reduce the number of SSTables for a column family while
// applying version/age retention and reclaiming expired tombstones.
//
// Grounded on the teacher's panic-recovery-wrapped Compact and
// cleanup-on-failure discipline (pkg/lsm/compaction.go), generalized
// from single-latest-value dedup to the richer retention rules this
// engine's multi-version model requires.
package compaction

import (
	"fmt"
	"sort"

	"github.com/dd0wney/colstore/pkg/cell"
	"github.com/dd0wney/colstore/pkg/engine"
	"github.com/dd0wney/colstore/pkg/sstable"
)

// Type selects the compaction strategy.
type Type int

const (
	Minor Type = iota
	Major
)

// Options mirrors spec §4.5's per-compaction retention policy.
type Options struct {
	Type              Type
	MaxVersions       uint32 // 0 means unlimited
	MaxAgeMs          int64  // 0 means unlimited
	CleanupTombstones bool
}

// Validate enforces the InvalidArgument conditions that apply to
// compaction options.
func (o Options) Validate() error {
	if o.MaxAgeMs < 0 {
		return engine.InvalidArgument("compaction.validate", "max_age_ms must not be negative")
	}
	return nil
}

// Plan describes what a compaction run selected.
type Plan struct {
	Inputs     []*sstable.Handle
	MemStore   []cell.Cell // non-nil only for Major compactions that fold in the live memstore's cells
	OutputSeq  uint64
	Options    Options
	GraceMs    int64
}

// SelectMinor chooses the oldest minInputs SSTables (minInputs is
// raised to 2 if lower), the cheap-and-frequent compaction path; it
// returns nil when fewer tables exist.
func SelectMinor(tables []*sstable.Handle, minInputs int) []*sstable.Handle {
	if minInputs < 2 {
		minInputs = 2
	}
	if len(tables) < minInputs {
		return nil
	}
	sorted := sortedBySeq(tables)
	return sorted[:minInputs]
}

// SelectMajor chooses every SSTable for the column family.
func SelectMajor(tables []*sstable.Handle) []*sstable.Handle {
	return sortedBySeq(tables)
}

func sortedBySeq(tables []*sstable.Handle) []*sstable.Handle {
	out := append([]*sstable.Handle(nil), tables...)
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Result is the outcome of running a compaction plan.
type Result struct {
	Output       []cell.Cell
	Removed      int // cells dropped by retention/tombstone cleanup
}

// Run merges the plan's inputs and returns the surviving cells in
// on-disk order, ready to be handed to sstable.Create. It reads every
// input cell into memory and sorts them all before applying retention
// per (row, column) group; it does not stream the inputs. nowMs is supplied by the caller's Clock so expiry
// decisions are deterministic under test.
func Run(plan *Plan, nowMs int64) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("compaction panic: %v", r)
		}
	}()

	grace := plan.GraceMs

	all := make([]cell.Cell, 0, 1024)
	for _, in := range plan.Inputs {
		cells, ierr := in.Iterator()
		if ierr != nil {
			return nil, ierr
		}
		all = append(all, cells...)
	}
	all = append(all, plan.MemStore...)

	sort.Slice(all, func(i, j int) bool { return cell.Less(&all[i], &all[j]) })

	var out []cell.Cell
	removed := 0

	i := 0
	for i < len(all) {
		j := i + 1
		for j < len(all) && cell.SameRowCol(&all[i], &all[j]) {
			j++
		}
		group := all[i:j]
		survivors, drop := applyRetention(group, plan.Options, grace, nowMs, plan.Options.Type == Major)
		out = append(out, survivors...)
		removed += drop
		i = j
	}

	return &Result{Output: out, Removed: removed}, nil
}

// applyRetention implements spec §4.5 step 2 for one (row, column)
// group, already sorted newest-first.
func applyRetention(group []cell.Cell, opts Options, graceMs, nowMs int64, isMajor bool) (survivors []cell.Cell, removed int) {
	shadowTs := int64(-1)
	haveShadow := false

	for i, c := range group {
		if i > 0 && c.Ts == group[i-1].Ts {
			// The same cell from a second source (a Major compaction folds
			// in the live MemStore, which a later flush also writes out).
			removed++
			continue
		}
		if c.Kind == cell.KindTombstone && !haveShadow {
			retired := false
			if c.HasTTL() {
				window := c.TTLMs
				if graceMs > window {
					window = graceMs
				}
				retired = opts.CleanupTombstones && nowMs-c.Ts >= window
			} else if isMajor {
				retired = opts.CleanupTombstones && nowMs-c.Ts >= graceMs
			}
			if retired {
				removed++
				if !c.HasTTL() {
					// A retired no-TTL tombstone takes the Puts it shadowed
					// with it; a retired TTL tombstone stops shadowing.
					shadowTs = c.Ts
					haveShadow = true
				}
				continue
			}
			survivors = append(survivors, c)
			shadowTs = c.Ts
			haveShadow = true
			continue
		}

		if c.Kind == cell.KindTombstone {
			// A newer tombstone (kept, or retired without a TTL) already
			// shadows this one, which is dropped. After a retired TTL
			// tombstone no shadow is set, so the next older tombstone is
			// judged by the branch above in this same pass.
			if haveShadow && c.Ts <= shadowTs {
				removed++
				continue
			}
			survivors = append(survivors, c)
			continue
		}

		// Put cell.
		if haveShadow && c.Ts <= shadowTs {
			removed++
			continue
		}
		if opts.MaxVersions > 0 && uint32(countPuts(survivors)) >= opts.MaxVersions {
			removed++
			continue
		}
		if opts.MaxAgeMs > 0 && nowMs-c.Ts > opts.MaxAgeMs {
			removed++
			continue
		}
		survivors = append(survivors, c)
	}
	return survivors, removed
}

func countPuts(cells []cell.Cell) int {
	n := 0
	for _, c := range cells {
		if c.Kind == cell.KindPut {
			n++
		}
	}
	return n
}
