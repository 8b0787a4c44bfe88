package session

import (
	"fmt"

	"mdrd/internal/mdr"
)

// nameTable is a bidirectional mapping between a compact on-wire
// value and its display name, built once per session from a device
// capability report. The same table serves the export path and the
// inbound-command validation path, so the two cannot diverge.
type nameTable struct {
	byID   map[uint8]string
	byName map[string]uint8
	names  []string // report order
}

func newNameTable(values []mdr.NamedValue) *nameTable {
	t := &nameTable{
		byID:   make(map[uint8]string, len(values)),
		byName: make(map[string]uint8, len(values)),
		names:  make([]string, 0, len(values)),
	}
	for _, v := range values {
		if _, dup := t.byName[v.Name]; dup {
			continue
		}
		t.byID[v.ID] = v.Name
		t.byName[v.Name] = v.ID
		t.names = append(t.names, v.Name)
	}
	return t
}

func (t *nameTable) id(name string) (uint8, bool) {
	id, ok := t.byName[name]
	return id, ok
}

func (t *nameTable) empty() bool {
	return len(t.names) == 0
}

// name returns the display name for id. Devices may push values their
// own capability report did not announce; those render as hex rather
// than being dropped.
func (t *nameTable) name(id uint8) string {
	if n, ok := t.byID[id]; ok {
		return n
	}
	return fmt.Sprintf("0x%02x", id)
}

// all returns the display names in report order.
func (t *nameTable) all() []string {
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}
