package session

import (
	"errors"

	dbus "github.com/godbus/dbus/v5"

	"mdrd/internal/mdr"
)

// ambientFeature exports the ambient sound mode: a named mode plus a
// pass-through amount. Valid mode names and the amount range come
// from the device's own capability report.
type ambientFeature struct {
	s           *Session
	modes       *nameTable
	amountSteps uint8
	state       mdr.AsmState
}

func (f *ambientFeature) update(st mdr.AsmState) {
	f.state = st
	f.s.props.setMany(ifaceAmbientSound, map[string]interface{}{
		"Mode":   f.modes.name(st.Mode),
		"Amount": st.Amount,
	})
}

// SetMode selects an ambient sound mode by name.
func (f *ambientFeature) SetMode(name string) *dbus.Error {
	return f.s.invoke(func(reply chan<- *dbus.Error) { f.setMode(name, reply) })
}

func (f *ambientFeature) setMode(name string, reply chan<- *dbus.Error) {
	if !f.s.alive() {
		reply <- errDisconnected()
		return
	}
	id, ok := f.modes.id(name)
	if !ok {
		reply <- errInvalidArgs("unknown ambient sound mode %q", name)
		return
	}
	f.apply(mdr.AsmState{Mode: id, Amount: f.state.Amount}, reply)
}

// SetAmount adjusts how much ambient sound is passed through.
func (f *ambientFeature) SetAmount(amount uint8) *dbus.Error {
	return f.s.invoke(func(reply chan<- *dbus.Error) { f.setAmount(amount, reply) })
}

func (f *ambientFeature) setAmount(amount uint8, reply chan<- *dbus.Error) {
	if !f.s.alive() {
		reply <- errDisconnected()
		return
	}
	if amount >= f.amountSteps {
		reply <- errInvalidArgs("amount %d out of range: device reports %d steps",
			amount, f.amountSteps)
		return
	}
	f.apply(mdr.AsmState{Mode: f.state.Mode, Amount: amount}, reply)
}

func (f *ambientFeature) apply(st mdr.AsmState, reply chan<- *dbus.Error) {
	s := f.s
	s.ref()
	err := s.engine.SetAmbientSound(st,
		func() {
			if s.alive() {
				f.update(st)
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

// probeAmbientSound runs two ordered steps under a single barrier
// count: the capability table first, then the current setting.
func (s *Session) probeAmbientSound() {
	s.ref()
	s.beginRegistration()
	err := s.engine.GetAsmCapability(
		func(c mdr.AsmCapability) { s.ambientCapProbed(c) },
		func(err error) { s.probeFailed("ambient-sound", err) },
	)
	if err != nil {
		s.probeIssueFailed("ambient-sound", err)
	}
}

func (s *Session) ambientCapProbed(c mdr.AsmCapability) {
	if !s.alive() {
		s.probeSettled()
		return
	}
	modes := newNameTable(c.Modes)
	if modes.empty() {
		s.probeFailed("ambient-sound", errors.New("capability report has no modes"))
		return
	}
	err := s.engine.GetAmbientSound(
		func(st mdr.AsmState) { s.ambientProbed(modes, c.AmountSteps, st) },
		func(err error) { s.probeFailed("ambient-sound", err) },
	)
	if err != nil {
		s.probeIssueFailed("ambient-sound", err)
	}
}

func (s *Session) ambientProbed(modes *nameTable, amountSteps uint8, st mdr.AsmState) {
	defer s.probeSettled()
	if !s.alive() {
		return
	}
	f := &ambientFeature{s: s, modes: modes, amountSteps: amountSteps}
	if !s.export(ifaceAmbientSound, f) {
		return
	}
	f.s.props.setMany(ifaceAmbientSound, map[string]interface{}{
		"AvailableModes": modes.all(),
		"AmountSteps":    amountSteps,
	})
	f.update(st)
	s.engine.SubscribeAmbientSound(f.update)
	s.ambient = f
}
