package session

import (
	dbus "github.com/godbus/dbus/v5"
)

// powerOffObject exports org.mdr.PowerOff. The function has no
// readable state, so it binds synchronously during the fan-out and
// never touches the registration barrier.
type powerOffObject struct {
	s *Session
}

func (s *Session) bindPowerOff() {
	o := &powerOffObject{s: s}
	if s.export(ifacePowerOff, o) {
		s.power = o
	}
}

// PowerOff asks the device to power down. The device usually drops
// the link right after acknowledging; the hangup then tears the
// session down through the normal fatal-I/O path.
func (o *powerOffObject) PowerOff() *dbus.Error {
	return o.s.invoke(o.powerOff)
}

func (o *powerOffObject) powerOff(reply chan<- *dbus.Error) {
	s := o.s
	if !s.alive() {
		reply <- errDisconnected()
		return
	}
	s.ref()
	err := s.engine.PowerOff(
		func() {
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
