package jobid_test

import (
	"errors"
	"testing"

	"shuttle/internal/jobid"
	"shuttle/internal/services"
)

func TestNewProducesCanonicalIDs(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id, err := jobid.New()
		if err != nil {
			t.Fatalf("New returned error: %v", err)
		}
		if !jobid.Valid(id) {
			t.Fatalf("generated id %q failed validation", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestParseRejectsNonCanonicalInput(t *testing.T) {
	cases := []string{
		"",
		"..",
		"../../etc/passwd",
		"7c1f5c3e-58f4-4f38-9d7a-2d9b1f0c7a1",
		"7c1f5c3e-58f4-4f38-9d7a-2d9b1f0c7a111",
		"7C1F5C3E-58F4-4F38-9D7A-2D9B1F0C7A11",
		"{7c1f5c3e-58f4-4f38-9d7a-2d9b1f0c7a11}",
		"urn:uuid:7c1f5c3e-58f4-4f38-9d7a-2d9b1f0c7a11",
		"7c1f5c3e58f44f389d7a2d9b1f0c7a11",
		"7c1f5c3e-58f4-4f38-9d7a/2d9b1f0c7a1",
		"7c1f5c3e-58f4-4f38-9d7a-2d9b1f0c7a1g",
	}
	for _, raw := range cases {
		if _, err := jobid.Parse(raw); !errors.Is(err, services.ErrInvalidRequest) {
			t.Fatalf("Parse(%q) = %v, want invalid request", raw, err)
		}
	}
}

func TestParseAcceptsCanonical(t *testing.T) {
	const id = "7c1f5c3e-58f4-4f38-9d7a-2d9b1f0c7a11"
	got, err := jobid.Parse(id)
	if err != nil || got != id {
		t.Fatalf("Parse(%q) = %q, %v", id, got, err)
	}
}
