package session

import (
	dbus "github.com/godbus/dbus/v5"
)

// noiseFeature exports the noise cancelling on/off switch.
type noiseFeature struct {
	s       *Session
	enabled bool
}

func (f *noiseFeature) update(enabled bool) {
	f.enabled = enabled
	f.s.props.set(ifaceNoiseCancelling, "Enabled", enabled)
}

// SetEnabled switches noise cancelling on or off.
func (f *noiseFeature) SetEnabled(enabled bool) *dbus.Error {
	return f.s.invoke(func(reply chan<- *dbus.Error) { f.setEnabled(enabled, reply) })
}

func (f *noiseFeature) setEnabled(enabled bool, reply chan<- *dbus.Error) {
	s := f.s
	if !s.alive() {
		reply <- errDisconnected()
		return
	}
	s.ref()
	err := s.engine.SetNoiseCancelling(enabled,
		func() {
			if s.alive() {
				f.update(enabled)
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

func (s *Session) probeNoiseCancelling() {
	s.ref()
	s.beginRegistration()
	err := s.engine.GetNoiseCancelling(
		func(enabled bool) { s.noiseProbed(enabled) },
		func(err error) { s.probeFailed("noise-cancelling", err) },
	)
	if err != nil {
		s.probeIssueFailed("noise-cancelling", err)
	}
}

func (s *Session) noiseProbed(enabled bool) {
	defer s.probeSettled()
	if !s.alive() {
		return
	}
	f := &noiseFeature{s: s}
	if !s.export(ifaceNoiseCancelling, f) {
		return
	}
	f.update(enabled)
	s.engine.SubscribeNoiseCancelling(f.update)
	s.noise = f
}
