package idgen

import (
	"sort"
	"testing"
)

func TestNewUUID(t *testing.T) {
	a, b := NewUUID(), NewUUID()
	if a == b {
		t.Fatalf("expected distinct ids, got %s twice", a)
	}
	if !IsUUID(a) {
		t.Errorf("%q is not a uuid", a)
	}
}

func TestNewULID_Sortable(t *testing.T) {
	ids := make([]string, 100)
	for i := range ids {
		ids[i] = NewULID()
	}
	if !sort.StringsAreSorted(ids) {
		t.Error("ulids are not monotonic")
	}
	for _, id := range ids {
		if !IsULID(id) {
			t.Fatalf("%q is not a ulid", id)
		}
	}
}

func TestUseGenerators(t *testing.T) {
	UseUUID(func() string { return "fixed-uuid" })
	UseULID(func() string { return "fixed-ulid" })
	defer UseUUID(nil)
	defer UseULID(nil)

	if got := NewUUID(); got != "fixed-uuid" {
		t.Errorf("expected fixed-uuid, got %s", got)
	}
	if got := NewULID(); got != "fixed-ulid" {
		t.Errorf("expected fixed-ulid, got %s", got)
	}
}
