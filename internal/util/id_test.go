package util

import (
	"strings"
	"testing"
)

func TestNewIDPrefixAndUniqueness(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := NewID("itm")
		if !strings.HasPrefix(id, "itm_") || len(id) != len("itm_")+32 {
			t.Fatalf("unexpected id %q", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
	if strings.Contains(NewID(""), "_") {
		t.Fatal("unprefixed id should not contain a separator")
	}
}
