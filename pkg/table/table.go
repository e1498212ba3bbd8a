// Package table implements the Table handle from spec §6: a root
// directory owning a set of named column families, plus the shared
// configuration options every one of them is opened with; there is no
// per-column-family override.
//
// New relative to the teacher, which has no multi-CF container;
// grounded on the directory-scanning idiom in the teacher's
// pkg/lsm/lsm.go loadSSTables/ListSSTables (glob + parse sequence
// numbers from filenames), generalized to discover column-family
// subdirectories instead of SSTable files.
package table

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dd0wney/colstore/pkg/columnfamily"
	"github.com/dd0wney/colstore/pkg/engine"
	"github.com/dd0wney/colstore/pkg/logging"
	"github.com/dd0wney/colstore/pkg/metrics"
)

// Table owns a root directory and a registry of named ColumnFamilies.
type Table struct {
	root    string
	config  Config
	logger  logging.Logger
	metrics *metrics.Registry

	mu  sync.Mutex
	cfs map[string]*columnfamily.ColumnFamily
}

// Open opens (or creates) a Table rooted at path, loading config.yaml
// from the root if present.
func Open(path string) (*Table, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, engine.IOError("table.open", "table", err)
	}
	cfg, err := LoadConfig(filepath.Join(path, "config.yaml"))
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewProduction()
	if err != nil {
		logger = logging.NewNop()
	}

	t := &Table{
		root: path, config: cfg, logger: logger, metrics: metrics.New(),
		cfs: make(map[string]*columnfamily.ColumnFamily),
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, engine.IOError("table.open", "table", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		cf, err := t.openCF(e.Name())
		if err != nil {
			return nil, err
		}
		t.cfs[e.Name()] = cf
	}

	return t, nil
}

// CreateCF creates (or opens, if it already exists) a named column
// family under the table root.
func (t *Table) CreateCF(name string) (*columnfamily.ColumnFamily, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cf, ok := t.cfs[name]; ok {
		return cf, nil
	}
	cf, err := t.openCF(name)
	if err != nil {
		return nil, err
	}
	t.cfs[name] = cf
	return cf, nil
}

// CF returns the named column family, or NotFound if it does not exist.
func (t *Table) CF(name string) (*columnfamily.ColumnFamily, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cf, ok := t.cfs[name]
	if !ok {
		return nil, engine.NewError("table.cf", engine.KindNotFound).
			Entity("cf").Detail(name).Err()
	}
	return cf, nil
}

// Names returns the names of every open column family.
func (t *Table) Names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.cfs))
	for n := range t.cfs {
		names = append(names, n)
	}
	return names
}

func (t *Table) openCF(name string) (*columnfamily.ColumnFamily, error) {
	dir := filepath.Join(t.root, name)
	return columnfamily.Open(dir, name, columnfamily.Options{
		FlushThreshold:         t.config.FlushThreshold,
		CompactionInterval:     time.Duration(t.config.CompactionIntervalMs) * time.Millisecond,
		MinorCompactionTrigger: t.config.MinorCompactionTrigger,
		TombstoneGraceMs:       t.config.TombstoneGraceMs,
		Logger:                 t.logger,
		Metrics:                t.metrics,
	})
}

// Close closes every open column family.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	for _, cf := range t.cfs {
		if err := cf.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
