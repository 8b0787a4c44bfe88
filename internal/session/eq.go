package session

import (
	"errors"

	dbus "github.com/godbus/dbus/v5"

	"mdrd/internal/mdr"
)

// eqFeature exports the equalizer: a named preset and per-band
// levels. The preset table and the band/level bounds come from the
// device's capability report and are authoritative for validation.
type eqFeature struct {
	s          *Session
	presets    *nameTable
	bandCount  uint8
	levelSteps uint8
	state      mdr.EqState
}

func (f *eqFeature) update(st mdr.EqState) {
	f.state = st
	levels := make([]byte, len(st.Levels))
	copy(levels, st.Levels)
	f.s.props.setMany(ifaceEq, map[string]interface{}{
		"Preset": f.presets.name(st.Preset),
		"Levels": levels,
	})
}

// SetPreset selects an equalizer preset by name.
func (f *eqFeature) SetPreset(name string) *dbus.Error {
	return f.s.invoke(func(reply chan<- *dbus.Error) { f.setPreset(name, reply) })
}

func (f *eqFeature) setPreset(name string, reply chan<- *dbus.Error) {
	s := f.s
	if !s.alive() {
		reply <- errDisconnected()
		return
	}
	id, ok := f.presets.id(name)
	if !ok {
		reply <- errInvalidArgs("unknown equalizer preset %q", name)
		return
	}
	s.ref()
	err := s.engine.SetEqPreset(id,
		func() {
			if s.alive() {
				f.update(mdr.EqState{Preset: id, Levels: f.state.Levels})
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

// SetLevels adjusts all band levels at once.
func (f *eqFeature) SetLevels(levels []byte) *dbus.Error {
	return f.s.invoke(func(reply chan<- *dbus.Error) { f.setLevels(levels, reply) })
}

func (f *eqFeature) setLevels(levels []byte, reply chan<- *dbus.Error) {
	s := f.s
	if !s.alive() {
		reply <- errDisconnected()
		return
	}
	if len(levels) != int(f.bandCount) {
		reply <- errInvalidArgs("got %d levels, device has %d bands",
			len(levels), f.bandCount)
		return
	}
	for i, l := range levels {
		if l >= f.levelSteps {
			reply <- errInvalidArgs("band %d level %d out of range: device reports %d steps",
				i, l, f.levelSteps)
			return
		}
	}
	want := make([]uint8, len(levels))
	copy(want, levels)
	s.ref()
	err := s.engine.SetEqLevels(want,
		func() {
			if s.alive() {
				f.update(mdr.EqState{Preset: f.state.Preset, Levels: want})
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

// probeEq runs two ordered steps under a single barrier count: the
// capability report first, then the current setting.
func (s *Session) probeEq() {
	s.ref()
	s.beginRegistration()
	err := s.engine.GetEqCapability(
		func(c mdr.EqCapability) { s.eqCapProbed(c) },
		func(err error) { s.probeFailed("eq", err) },
	)
	if err != nil {
		s.probeIssueFailed("eq", err)
	}
}

func (s *Session) eqCapProbed(c mdr.EqCapability) {
	if !s.alive() {
		s.probeSettled()
		return
	}
	presets := newNameTable(c.Presets)
	if presets.empty() && c.BandCount == 0 {
		s.probeFailed("eq", errors.New("empty capability report"))
		return
	}
	err := s.engine.GetEq(
		func(st mdr.EqState) { s.eqProbed(c, presets, st) },
		func(err error) { s.probeFailed("eq", err) },
	)
	if err != nil {
		s.probeIssueFailed("eq", err)
	}
}

func (s *Session) eqProbed(c mdr.EqCapability, presets *nameTable, st mdr.EqState) {
	defer s.probeSettled()
	if !s.alive() {
		return
	}
	f := &eqFeature{s: s, presets: presets, bandCount: c.BandCount, levelSteps: c.LevelSteps}
	if !s.export(ifaceEq, f) {
		return
	}
	s.props.setMany(ifaceEq, map[string]interface{}{
		"AvailablePresets": presets.all(),
		"BandCount":        c.BandCount,
		"LevelSteps":       c.LevelSteps,
	})
	f.update(st)
	s.engine.SubscribeEq(f.update)
	s.eq = f
}
