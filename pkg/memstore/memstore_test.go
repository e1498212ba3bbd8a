package memstore

import "testing"

func TestPutGetVersionsNewestFirst(t *testing.T) {
	m := New()
	row, col := []byte("r1"), []byte("c1")
	if err := m.Put(row, col, 1, []byte("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := m.Put(row, col, 2, []byte("v2")); err != nil {
		t.Fatalf("put: %v", err)
	}
	vs := m.GetVersions(row, col, 10, 0, 0, false)
	if len(vs) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(vs))
	}
	if string(vs[0].Value) != "v2" || string(vs[1].Value) != "v1" {
		t.Fatalf("expected newest-first order, got %s then %s", vs[0].Value, vs[1].Value)
	}
}

func TestGetVersionsRespectsMax(t *testing.T) {
	m := New()
	row, col := []byte("r1"), []byte("c1")
	for ts := int64(1); ts <= 5; ts++ {
		m.Put(row, col, ts, []byte("v"))
	}
	vs := m.GetVersions(row, col, 2, 0, 0, false)
	if len(vs) != 2 {
		t.Fatalf("expected max=2 versions, got %d", len(vs))
	}
}

func TestFreezeRejectsWrites(t *testing.T) {
	m := New()
	m.Freeze()
	if err := m.Put([]byte("r1"), []byte("c1"), 1, []byte("v1")); err == nil {
		t.Fatalf("expected write to frozen memstore to be rejected")
	}
}

func TestScanRangeOrdersByRowThenColumn(t *testing.T) {
	m := New()
	m.Put([]byte("r2"), []byte("c1"), 1, []byte("v"))
	m.Put([]byte("r1"), []byte("c2"), 2, []byte("v"))
	m.Put([]byte("r1"), []byte("c1"), 3, []byte("v"))

	groups := m.ScanRange([]byte("r1"), []byte("r2"))
	if len(groups) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(groups))
	}
	if string(groups[0].Row) != "r1" || string(groups[0].Column) != "c1" {
		t.Fatalf("expected r1/c1 first, got %s/%s", groups[0].Row, groups[0].Column)
	}
	if string(groups[1].Row) != "r1" || string(groups[1].Column) != "c2" {
		t.Fatalf("expected r1/c2 second, got %s/%s", groups[1].Row, groups[1].Column)
	}
}

func TestLenCountsAllVersions(t *testing.T) {
	m := New()
	m.Put([]byte("r1"), []byte("c1"), 1, []byte("v1"))
	m.Put([]byte("r1"), []byte("c1"), 2, []byte("v2"))
	m.Delete([]byte("r1"), []byte("c2"), 3, 0)
	if m.Len() != 3 {
		t.Fatalf("expected len 3, got %d", m.Len())
	}
}
