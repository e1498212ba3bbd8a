package columnfamily

import (
	"math"
	"sort"
	"time"

	"github.com/dd0wney/colstore/pkg/cell"
	"github.com/dd0wney/colstore/pkg/engine"
	"github.com/dd0wney/colstore/pkg/memstore"
	"github.com/dd0wney/colstore/pkg/sstable"
	"github.com/dd0wney/colstore/pkg/validation"
)

// snapshot is the short-lived read view taken under the state lock and
// used without further locking, per spec §4.4.
type snapshot struct {
	mem    *memstore.MemStore
	tables []*sstable.Handle
}

func (cf *ColumnFamily) snapshot() snapshot {
	cf.stateMu.RLock()
	defer cf.stateMu.RUnlock()
	return snapshot{mem: cf.mem, tables: append([]*sstable.Handle(nil), cf.tables...)}
}

// Get returns the value of the newest non-tombstoned Put for (row,
// col), or (nil, false) if absent.
func (cf *ColumnFamily) Get(row, col []byte) ([]byte, bool, error) {
	start := time.Now()
	vs, err := cf.GetVersions(row, col, 1)
	if err != nil {
		cf.opts.Metrics.RecordRead(cf.name, "error", time.Since(start))
		return nil, false, err
	}
	if len(vs) == 0 {
		cf.opts.Metrics.RecordRead(cf.name, "miss", time.Since(start))
		return nil, false, nil
	}
	cf.opts.Metrics.RecordRead(cf.name, "hit", time.Since(start))
	return vs[0].Value, true, nil
}

// Version is a (timestamp, value) pair returned by GetVersions.
type Version struct {
	Ts    int64
	Value []byte
}

// GetVersions returns up to max surviving Put versions for (row, col)
// in newest-first order, honoring tombstone visibility rules.
func (cf *ColumnFamily) GetVersions(row, col []byte, max int) ([]Version, error) {
	return cf.GetVersionsInRange(row, col, max, 0, 0)
}

// GetVersionsInRange returns up to max surviving Put versions for (row,
// col) whose timestamp falls within [tLo, tHi] (tHi == 0 means
// unbounded), newest first, honoring tombstone visibility rules.
func (cf *ColumnFamily) GetVersionsInRange(row, col []byte, max int, tLo, tHi int64) ([]Version, error) {
	if err := validation.ValidateVersionRangeRequest(&validation.VersionRangeRequest{Max: max, TLo: tLo, THi: tHi}); err != nil {
		return nil, engine.InvalidArgument("cf.get_versions", err.Error())
	}
	hasRange := tLo != 0 || tHi != 0
	if hasRange && tHi == 0 {
		tHi = math.MaxInt64
	}

	snap := cf.snapshot()
	merged, err := mergeRowColumn(snap, row, col, tLo, tHi, hasRange)
	if err != nil {
		return nil, err
	}
	now := cf.now()
	survivors := filterVisible(merged, now)

	out := make([]Version, 0, max)
	for _, c := range survivors {
		if c.Kind != cell.KindPut {
			continue
		}
		out = append(out, Version{Ts: c.Ts, Value: c.Value})
		if len(out) >= max {
			break
		}
	}
	return out, nil
}

func mergeRowColumn(snap snapshot, row, col []byte, tLo, tHi int64, hasRange bool) ([]cell.Cell, error) {
	var all []cell.Cell
	all = append(all, snap.mem.GetVersions(row, col, 1<<30, tLo, tHi, hasRange)...)

	// Newest SSTable first: source precedence is MemStore > higher seq >
	// lower seq, though ties are avoided by the monotonic-timestamp rule.
	tables := append([]*sstable.Handle(nil), snap.tables...)
	sort.Slice(tables, func(i, j int) bool { return tables[i].Seq > tables[j].Seq })
	for _, t := range tables {
		if !t.Overlaps(row, row) {
			continue
		}
		cells, err := t.Get(row, col, 1<<30, tLo, tHi, hasRange)
		if err != nil {
			return nil, err
		}
		all = append(all, cells...)
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Ts > all[j].Ts })
	return all, nil
}

// filterVisible applies tombstone visibility over a newest-first merged
// sequence for a single (row, column): a no-TTL tombstone shadows every
// Put at or below its timestamp forever; a TTL tombstone only while its
// window is open (resolved Open Question 1: it resurrects afterward).
func filterVisible(merged []cell.Cell, now int64) []cell.Cell {
	var out []cell.Cell
	shadowTs := int64(-1)
	haveShadow := false

	for i, c := range merged {
		if i > 0 && c.Ts == merged[i-1].Ts {
			// The same cell held by more than one source (e.g. the live
			// MemStore and a Major compaction output); the first copy, from
			// the source with the highest precedence, stands for it.
			continue
		}
		if c.Kind == cell.KindTombstone {
			if c.HasTTL() && c.Expired(now) {
				// Expired TTL tombstone: stops shadowing, and is itself no
				// longer reported as an effective tombstone to readers.
				continue
			}
			if !haveShadow || c.Ts > shadowTs {
				shadowTs = c.Ts
				haveShadow = true
			}
			out = append(out, c)
			continue
		}
		if haveShadow && c.Ts <= shadowTs {
			continue
		}
		out = append(out, c)
	}
	return out
}

// ScanRowVersions returns up to max surviving Put versions per column
// of the given row, keyed as in ScanRangeVersions; columns with no
// surviving version are omitted.
func (cf *ColumnFamily) ScanRowVersions(row []byte, max int) (map[string][]Version, error) {
	return cf.ScanRangeVersions(row, row, max)
}

// ScanRangeVersions returns the surviving version histories of every
// (row, column) whose row falls within [rowLo, rowHi], in a single map
// keyed by row + "\x00" + column. The map carries no order; columns with
// no surviving version are omitted.
func (cf *ColumnFamily) ScanRangeVersions(rowLo, rowHi []byte, max int) (map[string][]Version, error) {
	snap := cf.snapshot()

	type key struct{ row, col string }
	grouped := make(map[key][]cell.Cell)
	var order []key

	for _, g := range snap.mem.ScanRange(rowLo, rowHi) {
		k := key{string(g.Row), string(g.Column)}
		if _, ok := grouped[k]; !ok {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], g.Versions...)
	}

	tables := append([]*sstable.Handle(nil), snap.tables...)
	sort.Slice(tables, func(i, j int) bool { return tables[i].Seq > tables[j].Seq })
	for _, t := range tables {
		if !t.Overlaps(rowLo, rowHi) {
			continue
		}
		cells, err := t.Scan(rowLo, rowHi)
		if err != nil {
			return nil, err
		}
		for _, c := range cells {
			k := key{string(c.Row), string(c.Column)}
			if _, ok := grouped[k]; !ok {
				order = append(order, k)
			}
			grouped[k] = append(grouped[k], c)
		}
	}

	now := cf.now()
	out := make(map[string][]Version)
	for _, k := range order {
		cells := grouped[k]
		sort.SliceStable(cells, func(i, j int) bool { return cells[i].Ts > cells[j].Ts })
		survivors := filterVisible(cells, now)
		var versions []Version
		for _, c := range survivors {
			if c.Kind != cell.KindPut {
				continue
			}
			versions = append(versions, Version{Ts: c.Ts, Value: c.Value})
			if len(versions) >= max {
				break
			}
		}
		if len(versions) > 0 {
			out[k.row+"\x00"+k.col] = versions
		}
	}
	return out, nil
}
