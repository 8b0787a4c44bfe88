package session

import (
	"errors"

	dbus "github.com/godbus/dbus/v5"

	"mdrd/internal/mdr"
)

// autoPowerOffFeature exports the auto-power-off timer. The set of
// valid timeout names is the device's own capability report.
type autoPowerOffFeature struct {
	s        *Session
	timeouts *nameTable
	current  uint8
}

func (f *autoPowerOffFeature) update(id uint8) {
	f.current = id
	f.s.props.set(ifaceAutoPowerOff, "Timeout", f.timeouts.name(id))
}

// SetTimeout selects an auto-power-off timeout by name.
func (f *autoPowerOffFeature) SetTimeout(name string) *dbus.Error {
	return f.s.invoke(func(reply chan<- *dbus.Error) { f.setTimeout(name, reply) })
}

func (f *autoPowerOffFeature) setTimeout(name string, reply chan<- *dbus.Error) {
	s := f.s
	if !s.alive() {
		reply <- errDisconnected()
		return
	}
	id, ok := f.timeouts.id(name)
	if !ok {
		reply <- errInvalidArgs("unknown auto power off timeout %q", name)
		return
	}
	s.ref()
	err := s.engine.SetAutoPowerOff(id,
		func() {
			if s.alive() {
				f.update(id)
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

// probeAutoPowerOff runs two ordered steps under a single barrier
// count: the timeout table first, then the current setting.
func (s *Session) probeAutoPowerOff() {
	s.ref()
	s.beginRegistration()
	err := s.engine.GetAutoPowerOffTimeouts(
		func(timeouts []mdr.NamedValue) { s.autoPowerOffCapProbed(timeouts) },
		func(err error) { s.probeFailed("auto-power-off", err) },
	)
	if err != nil {
		s.probeIssueFailed("auto-power-off", err)
	}
}

func (s *Session) autoPowerOffCapProbed(timeouts []mdr.NamedValue) {
	if !s.alive() {
		s.probeSettled()
		return
	}
	table := newNameTable(timeouts)
	if table.empty() {
		s.probeFailed("auto-power-off", errors.New("capability report has no timeouts"))
		return
	}
	err := s.engine.GetAutoPowerOff(
		func(id uint8) { s.autoPowerOffProbed(table, id) },
		func(err error) { s.probeFailed("auto-power-off", err) },
	)
	if err != nil {
		s.probeIssueFailed("auto-power-off", err)
	}
}

func (s *Session) autoPowerOffProbed(table *nameTable, id uint8) {
	defer s.probeSettled()
	if !s.alive() {
		return
	}
	f := &autoPowerOffFeature{s: s, timeouts: table}
	if !s.export(ifaceAutoPowerOff, f) {
		return
	}
	s.props.set(ifaceAutoPowerOff, "AvailableTimeouts", table.all())
	f.update(id)
	s.engine.SubscribeAutoPowerOff(f.update)
	s.autoPowerOff = f
}
