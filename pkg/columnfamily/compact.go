package columnfamily

import (
	"time"

	"github.com/dd0wney/colstore/pkg/compaction"
	"github.com/dd0wney/colstore/pkg/engine"
	"github.com/dd0wney/colstore/pkg/sstable"
	"go.uber.org/zap"
)

// Compact runs one compaction synchronously under the compaction lock.
// Manual compaction bypasses the background scheduler but shares the
// same lock, so at most one compaction runs at a time.
func (cf *ColumnFamily) Compact(opts compaction.Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	if !cf.compMu.TryLock() {
		return engine.NewError("cf.compact", engine.KindBusy).Entity("cf").Err()
	}
	defer cf.compMu.Unlock()
	return cf.runCompaction(opts)
}

func (cf *ColumnFamily) runCompaction(opts compaction.Options) error {
	start := time.Now()

	cf.stateMu.RLock()
	tables := append([]*sstable.Handle(nil), cf.tables...)
	cf.stateMu.RUnlock()

	var inputs []*sstable.Handle
	switch opts.Type {
	case compaction.Minor:
		inputs = compaction.SelectMinor(tables, cf.opts.MinorCompactionTrigger/2+1)
	case compaction.Major:
		inputs = compaction.SelectMajor(tables)
	}
	if len(inputs) == 0 {
		return nil
	}

	plan := &compaction.Plan{Inputs: inputs, Options: opts, GraceMs: cf.opts.TombstoneGraceMs}
	if opts.Type == compaction.Major {
		// §4.5: Major "optionally also flush[es] the MemStore first" — rather
		// than forcing a flush (which would briefly stall writers), fold the
		// live MemStore's cells straight into the merge. Nothing is removed
		// from the active MemStore, so a concurrent flush can still pick up
		// the same cells later; duplicate survivors across the MemStore and
		// this output are harmless, since both reads and later compactions
		// resolve them by timestamp.
		snap := cf.snapshot()
		for _, g := range snap.mem.All() {
			plan.MemStore = append(plan.MemStore, g.Versions...)
		}
	}

	result, err := compaction.Run(plan, cf.now())
	if err != nil {
		cf.opts.Metrics.RecordCompaction(cf.name, typeLabel(opts.Type), "error", time.Since(start), 0)
		return err
	}

	outSeq := cf.nextSeq()
	output, err := sstable.Create(cf.dir, outSeq, result.Output)
	if err != nil {
		cf.opts.Metrics.RecordCompaction(cf.name, typeLabel(opts.Type), "error", time.Since(start), 0)
		return err
	}

	// Atomically replace the input set with the output under the state
	// lock: copy-on-write so in-flight readers holding the old slice
	// keep seeing a consistent, still-valid view (invariant 5).
	cf.stateMu.Lock()
	newTables := make([]*sstable.Handle, 0, len(cf.tables)-len(inputs)+1)
	inputSet := make(map[uint64]bool, len(inputs))
	for _, in := range inputs {
		inputSet[in.Seq] = true
	}
	for _, t := range cf.tables {
		if !inputSet[t.Seq] {
			newTables = append(newTables, t)
		}
	}
	newTables = append(newTables, output)
	cf.tables = newTables
	cf.stateMu.Unlock()

	for _, in := range inputs {
		if err := in.Delete(); err != nil {
			cf.opts.Logger.Warn("failed to remove compacted input sstable",
				zap.String("path", in.Path), zap.Error(err))
		}
	}

	cf.opts.Metrics.RecordCompaction(cf.name, typeLabel(opts.Type), "ok", time.Since(start), result.Removed)
	cf.opts.Metrics.SetSSTableCount(cf.name, len(newTables))
	return nil
}

func typeLabel(t compaction.Type) string {
	if t == compaction.Major {
		return "major"
	}
	return "minor"
}

// compactionWorker wakes every CompactionInterval and runs a Minor
// compaction if the SSTable count exceeds MinorCompactionTrigger.
func (cf *ColumnFamily) compactionWorker() {
	defer cf.wg.Done()
	ticker := time.NewTicker(cf.opts.CompactionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cf.stopCh:
			return
		case <-ticker.C:
			cf.stateMu.RLock()
			count := len(cf.tables)
			cf.stateMu.RUnlock()
			if count <= cf.opts.MinorCompactionTrigger {
				continue
			}
			if err := cf.Compact(compaction.Options{Type: compaction.Minor}); err != nil {
				// Errors during background compaction are logged; the
				// worker never terminates on a single failure.
				cf.opts.Logger.Warn("background minor compaction failed",
					zap.String("cf", cf.name), zap.Error(err))
			}
		}
	}
}
