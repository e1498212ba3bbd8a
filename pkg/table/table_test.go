package table

import "testing"

func TestCreateCFAndReopen(t *testing.T) {
	dir := t.TempDir()
	tbl, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	cf, err := tbl.CreateCF("events")
	if err != nil {
		t.Fatalf("create_cf: %v", err)
	}
	if err := cf.Put([]byte("r1"), []byte("c1"), []byte("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := tbl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if names := reopened.Names(); len(names) != 1 || names[0] != "events" {
		t.Fatalf("expected to rediscover 'events' cf, got %v", names)
	}
	got, err := reopened.CF("events")
	if err != nil {
		t.Fatalf("cf: %v", err)
	}
	val, ok, err := got.Get([]byte("r1"), []byte("c1"))
	if err != nil || !ok || string(val) != "v1" {
		t.Fatalf("expected recovered put, got %s ok=%v err=%v", val, ok, err)
	}
}

func TestCFReturnsNotFoundForUnknownName(t *testing.T) {
	tbl, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer tbl.Close()
	if _, err := tbl.CF("nope"); err == nil {
		t.Fatalf("expected error for unknown column family")
	}
}

func TestLoadConfigDefaultsWhenAbsent(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir() + "/config.yaml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.FlushThreshold != 10_000 {
		t.Fatalf("expected default flush threshold, got %d", cfg.FlushThreshold)
	}
}

func TestSaveAndLoadConfig(t *testing.T) {
	path := t.TempDir() + "/config.yaml"
	cfg := Config{FlushThreshold: 500, CompactionIntervalMs: 1000, MinorCompactionTrigger: 3, TombstoneGraceMs: 50}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded != cfg {
		t.Fatalf("expected round-tripped config %+v, got %+v", cfg, loaded)
	}
}
