package columnfamily

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/dd0wney/colstore/pkg/clock"
)

// TestStorageInvariants checks the round-trip, version-history, and
// flush-transparency properties from the testable-properties list
// against randomized sequences of puts.
func TestStorageInvariants(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping property tests in short mode")
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("round-trip: latest put wins", prop.ForAll(
		func(values []string) bool {
			if len(values) == 0 {
				return true
			}
			cf := newTestCF(t)
			defer cf.Close()
			for _, v := range values {
				if err := cf.Put([]byte("r"), []byte("c"), []byte(v)); err != nil {
					return false
				}
			}
			got, ok, err := cf.Get([]byte("r"), []byte("c"))
			return err == nil && ok && string(got) == values[len(values)-1]
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("version history returns min(N,M) entries newest first", prop.ForAll(
		func(values []string) bool {
			if len(values) == 0 {
				return true
			}
			cf := newTestCF(t)
			defer cf.Close()
			for _, v := range values {
				if err := cf.Put([]byte("r"), []byte("c"), []byte(v)); err != nil {
					return false
				}
			}
			const m = 3
			vs, err := cf.GetVersions([]byte("r"), []byte("c"), m)
			if err != nil {
				return false
			}
			want := len(values)
			if want > m {
				want = m
			}
			if len(vs) != want {
				return false
			}
			for i := 0; i < len(vs); i++ {
				if string(vs[i].Value) != values[len(values)-1-i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("flush is transparent", prop.ForAll(
		func(values []string) bool {
			if len(values) == 0 {
				return true
			}
			cf := newTestCF(t)
			defer cf.Close()
			for _, v := range values {
				if err := cf.Put([]byte("r"), []byte("c"), []byte(v)); err != nil {
					return false
				}
			}
			before, _, _ := cf.Get([]byte("r"), []byte("c"))
			if err := cf.Flush(); err != nil {
				return false
			}
			after, _, _ := cf.Get([]byte("r"), []byte("c"))
			return string(before) == string(after)
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

func newTestCF(t *testing.T) *ColumnFamily {
	t.Helper()
	cf, err := Open(t.TempDir(), "default", Options{Clock: clock.NewSystem()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return cf
}
