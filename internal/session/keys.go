package session

import (
	"errors"
	"fmt"

	dbus "github.com/godbus/dbus/v5"

	"mdrd/internal/mdr"
)

// keysFeature exports the assignable-key functions: each key carries
// its own legal preset list, reported by the device as a capability
// tree and built into per-key tables once per session.
type keysFeature struct {
	s        *Session
	keyNames []string              // report order
	keyIDs   *nameTable            // key name <-> key id
	presets  map[string]*nameTable // key name -> legal presets
	current  map[string]string     // key name -> preset name
}

func newKeysFeature(s *Session, caps []mdr.KeyCapability) (*keysFeature, error) {
	f := &keysFeature{
		s:       s,
		presets: make(map[string]*nameTable, len(caps)),
		current: make(map[string]string, len(caps)),
	}
	keys := make([]mdr.NamedValue, 0, len(caps))
	for _, kc := range caps {
		if kc.Key.Name == "" {
			return nil, errors.New("capability report has an unnamed key")
		}
		t := newNameTable(kc.Presets)
		if t.empty() {
			return nil, fmt.Errorf("key %q has no presets", kc.Key.Name)
		}
		keys = append(keys, kc.Key)
		f.presets[kc.Key.Name] = t
	}
	f.keyIDs = newNameTable(keys)
	f.keyNames = f.keyIDs.all()
	if len(f.keyNames) == 0 {
		return nil, errors.New("capability report has no keys")
	}
	return f, nil
}

// update refreshes the cached per-key presets from a device report,
// which lists one preset id per key in capability order.
func (f *keysFeature) update(ids []uint8) {
	if len(ids) != len(f.keyNames) {
		f.s.log.Warn("assignable preset report length mismatch",
			"device", f.s.identity, "got", len(ids), "keys", len(f.keyNames))
		return
	}
	for i, key := range f.keyNames {
		f.current[key] = f.presets[key].name(ids[i])
	}
	f.pushCurrent()
}

func (f *keysFeature) pushCurrent() {
	out := make(map[string]string, len(f.current))
	for k, v := range f.current {
		out[k] = v
	}
	f.s.props.set(ifaceAssignable, "Presets", out)
}

// SetPreset assigns a preset to one key, both by name.
func (f *keysFeature) SetPreset(key, preset string) *dbus.Error {
	return f.s.invoke(func(reply chan<- *dbus.Error) { f.setPreset(key, preset, reply) })
}

func (f *keysFeature) setPreset(key, preset string, reply chan<- *dbus.Error) {
	s := f.s
	if !s.alive() {
		reply <- errDisconnected()
		return
	}
	keyID, ok := f.keyIDs.id(key)
	if !ok {
		reply <- errInvalidArgs("unknown key %q", key)
		return
	}
	presetID, ok := f.presets[key].id(preset)
	if !ok {
		reply <- errInvalidArgs("preset %q is not assignable to key %q", preset, key)
		return
	}
	s.ref()
	err := s.engine.SetAssignablePreset(keyID, presetID,
		func() {
			if s.alive() {
				f.current[key] = preset
				f.pushCurrent()
			}
			reply <- nil
			s.unref()
		},
		func(err error) {
			reply <- errFailed(err)
			s.unref()
		},
	)
	if err != nil {
		s.unref()
		reply <- errFailed(err)
	}
}

// probeAssignable runs two ordered steps under a single barrier
// count: the key/preset capability tree first, then the current
// assignments.
func (s *Session) probeAssignable() {
	s.ref()
	s.beginRegistration()
	err := s.engine.GetAssignableCapability(
		func(caps []mdr.KeyCapability) { s.assignableCapProbed(caps) },
		func(err error) { s.probeFailed("assignable-settings", err) },
	)
	if err != nil {
		s.probeIssueFailed("assignable-settings", err)
	}
}

func (s *Session) assignableCapProbed(caps []mdr.KeyCapability) {
	if !s.alive() {
		s.probeSettled()
		return
	}
	f, err := newKeysFeature(s, caps)
	if err != nil {
		s.probeFailed("assignable-settings", err)
		return
	}
	err = s.engine.GetAssignablePresets(
		func(ids []uint8) { s.assignableProbed(f, ids) },
		func(err error) { s.probeFailed("assignable-settings", err) },
	)
	if err != nil {
		s.probeIssueFailed("assignable-settings", err)
	}
}

func (s *Session) assignableProbed(f *keysFeature, ids []uint8) {
	defer s.probeSettled()
	if !s.alive() {
		return
	}
	if len(ids) != len(f.keyNames) {
		s.log.Warn("probe failed", "device", s.identity, "feature", "assignable-settings",
			"err", fmt.Sprintf("%d presets reported for %d keys", len(ids), len(f.keyNames)))
		return
	}
	if !s.export(ifaceAssignable, f) {
		return
	}
	available := make(map[string][]string, len(f.keyNames))
	for _, key := range f.keyNames {
		available[key] = f.presets[key].all()
	}
	s.props.setMany(ifaceAssignable, map[string]interface{}{
		"Keys":             f.keyNames,
		"AvailablePresets": available,
	})
	f.update(ids)
	s.engine.SubscribeAssignablePresets(f.update)
	s.keys = f
}
