package session

import (
	"testing"

	"mdrd/internal/mdr"
)

func TestNameTable(t *testing.T) {
	table := newNameTable([]mdr.NamedValue{
		{ID: 0, Name: "Off"},
		{ID: 2, Name: "Rock"},
		{ID: 5, Name: "Jazz"},
	})

	if table.empty() {
		t.Fatal("table reported empty")
	}
	if id, ok := table.id("Rock"); !ok || id != 2 {
		t.Errorf("id(Rock) = %d, %v", id, ok)
	}
	if _, ok := table.id("Pop"); ok {
		t.Error("unknown name resolved")
	}
	if got := table.name(5); got != "Jazz" {
		t.Errorf("name(5) = %s", got)
	}
	if got := table.name(9); got != "0x09" {
		t.Errorf("name(9) = %s, want hex fallback", got)
	}
	if got := table.all(); len(got) != 3 || got[0] != "Off" || got[2] != "Jazz" {
		t.Errorf("all() = %v, want report order", got)
	}
}

func TestNameTableSkipsDuplicateNames(t *testing.T) {
	table := newNameTable([]mdr.NamedValue{
		{ID: 0, Name: "Off"},
		{ID: 1, Name: "Off"},
	})
	if got := table.all(); len(got) != 1 {
		t.Fatalf("all() = %v, want one entry", got)
	}
	if id, _ := table.id("Off"); id != 0 {
		t.Errorf("id(Off) = %d, want first occurrence", id)
	}
}

func TestNameTableEmpty(t *testing.T) {
	if !newNameTable(nil).empty() {
		t.Error("nil report not empty")
	}
}
