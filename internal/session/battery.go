package session

import "mdrd/internal/mdr"

// batteryFeature exports a single-cell battery reading; the main
// battery and the cradle battery share the shape and differ only in
// interface name.
type batteryFeature struct {
	s     *Session
	iface string
}

func (f *batteryFeature) update(b mdr.Battery) {
	f.s.props.setMany(f.iface, map[string]interface{}{
		"Level":    b.Level,
		"Charging": b.Charging,
	})
}

func (s *Session) probeBattery() {
	s.ref()
	s.beginRegistration()
	err := s.engine.GetBattery(
		func(b mdr.Battery) { s.batteryProbed(ifaceBattery, b, s.engine.SubscribeBattery) },
		func(err error) { s.probeFailed("battery", err) },
	)
	if err != nil {
		s.probeIssueFailed("battery", err)
	}
}

func (s *Session) probeCradleBattery() {
	s.ref()
	s.beginRegistration()
	err := s.engine.GetCradleBattery(
		func(b mdr.Battery) { s.batteryProbed(ifaceCradleBattery, b, s.engine.SubscribeCradleBattery) },
		func(err error) { s.probeFailed("cradle-battery", err) },
	)
	if err != nil {
		s.probeIssueFailed("cradle-battery", err)
	}
}

func (s *Session) batteryProbed(iface string, b mdr.Battery, subscribe func(func(mdr.Battery))) {
	defer s.probeSettled()
	if !s.alive() {
		return
	}
	f := &batteryFeature{s: s, iface: iface}
	if !s.export(iface, f) {
		return
	}
	f.update(b)
	subscribe(f.update)
	if iface == ifaceBattery {
		s.battery = f
	} else {
		s.cradle = f
	}
}

// dualBatteryFeature exports the per-earbud battery interface.
type dualBatteryFeature struct {
	s *Session
}

func (f *dualBatteryFeature) update(b mdr.DualBattery) {
	f.s.props.setMany(ifaceLeftRightBattery, map[string]interface{}{
		"LeftLevel":     b.Left.Level,
		"LeftCharging":  b.Left.Charging,
		"RightLevel":    b.Right.Level,
		"RightCharging": b.Right.Charging,
	})
}

func (s *Session) probeDualBattery() {
	s.ref()
	s.beginRegistration()
	err := s.engine.GetDualBattery(
		func(b mdr.DualBattery) { s.dualBatteryProbed(b) },
		func(err error) { s.probeFailed("left-right-battery", err) },
	)
	if err != nil {
		s.probeIssueFailed("left-right-battery", err)
	}
}

func (s *Session) dualBatteryProbed(b mdr.DualBattery) {
	defer s.probeSettled()
	if !s.alive() {
		return
	}
	f := &dualBatteryFeature{s: s}
	if !s.export(ifaceLeftRightBattery, f) {
		return
	}
	f.update(b)
	s.engine.SubscribeDualBattery(f.update)
	s.dualBattery = f
}
