package idgen

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNew_IsUUID(t *testing.T) {
	id := New()
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("New() = %q, not a uuid: %v", id, err)
	}
}

func TestWithPrefix(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := WithPrefix("txn_")
		if !strings.HasPrefix(id, "txn_") {
			t.Fatalf("missing prefix: %q", id)
		}
		if len(id) != len("txn_")+32 {
			t.Fatalf("unexpected length %d for %q", len(id), id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
