package validation

import "testing"

func TestValidatePutRequest(t *testing.T) {
	tests := []struct {
		name        string
		req         PutRequest
		expectError bool
	}{
		{"valid put", PutRequest{Row: []byte("r1"), Column: []byte("c1"), Value: []byte("v1")}, false},
		{"empty row", PutRequest{Row: nil, Column: []byte("c1"), Value: []byte("v1")}, true},
		{"empty column", PutRequest{Row: []byte("r1"), Column: nil, Value: []byte("v1")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePutRequest(&tt.req)
			if (err != nil) != tt.expectError {
				t.Fatalf("expected error=%v, got %v", tt.expectError, err)
			}
		})
	}
}

func TestValidateDeleteRequestRejectsNegativeTTL(t *testing.T) {
	req := DeleteRequest{Row: []byte("r1"), Column: []byte("c1"), TTLMs: -1}
	if err := ValidateDeleteRequest(&req); err == nil {
		t.Fatalf("expected negative TTL to be rejected")
	}
}

func TestValidateVersionRangeRequestRejectsInvertedRange(t *testing.T) {
	req := VersionRangeRequest{Max: 10, TLo: 100, THi: 50}
	if err := ValidateVersionRangeRequest(&req); err == nil {
		t.Fatalf("expected inverted time range to be rejected")
	}
}

func TestValidateTableConfig(t *testing.T) {
	valid := TableConfigRequest{FlushThreshold: 10000, CompactionIntervalMs: 60000, MinorCompactionTrigger: 4, TombstoneGraceMs: 0}
	if err := ValidateTableConfig(&valid); err != nil {
		t.Fatalf("expected default-shaped config to be valid: %v", err)
	}

	invalid := TableConfigRequest{FlushThreshold: 0, CompactionIntervalMs: 60000, MinorCompactionTrigger: 4}
	if err := ValidateTableConfig(&invalid); err == nil {
		t.Fatalf("expected zero flush threshold to be rejected")
	}
}
