package session

import (
	"fmt"
	"log/slog"

	dbus "github.com/godbus/dbus/v5"

	"mdrd/internal/mdr"
	"mdrd/internal/reactor"
)

// Session supervises one connected device: it owns the protocol
// engine handle and the reactor registration, and exposes every
// confirmed capability as a D-Bus interface on the device object.
//
// All fields are owned by the loop goroutine. Inbound D-Bus methods
// hop onto the loop through invoke before touching anything.
type Session struct {
	log      *slog.Logger
	registry *Registry
	loop     *reactor.Loop
	bus      Bus

	identity string
	path     dbus.ObjectPath

	engine mdr.Engine // nil once removal has begun
	sock   int
	reg    *reactor.Registration
	props  *propStore

	// refs counts the registry, the reactor source, and every
	// in-flight engine callback borrowing the session. The decrement
	// that reaches zero runs teardown, exactly once.
	refs int

	// inProgress counts capability probes that have been fanned out
	// but not settled. Connected fires the first time it returns to
	// zero; the fan-out itself holds one count so a synchronous probe
	// failure cannot cause an early zero-crossing.
	inProgress int
	connected  bool

	deviceExported bool
	bound          []string // exported interface names, teardown unexports them

	// bound features; nil while not probed or absent
	power        *powerOffObject
	battery      *batteryFeature
	dualBattery  *dualBatteryFeature
	cradle       *batteryFeature
	leftRight    *leftRightFeature
	noise        *noiseFeature
	ambient      *ambientFeature
	eq           *eqFeature
	autoPowerOff *autoPowerOffFeature
	keys         *keysFeature
	volume       *volumeFeature
}

// creation carries the caller's callbacks through the handshake chain.
type creation struct {
	s         *Session
	onSuccess func(*Session)
	onError   func(error)
}

// Identity returns the session's registry identity.
func (s *Session) Identity() string { return s.identity }

// Path returns the D-Bus object path of the device object.
func (s *Session) Path() dbus.ObjectPath { return s.path }

// alive reports whether the session still owns its engine. Callbacks
// that fire after removal must check it and do nothing beyond
// balancing their counts.
func (s *Session) alive() bool { return s.engine != nil }

func (s *Session) ref() {
	s.refs++
	s.log.Debug("ref", "device", s.identity, "refs", s.refs)
}

func (s *Session) unref() {
	if s.refs <= 0 {
		panic("session: unref underflow")
	}
	s.refs--
	s.log.Debug("unref", "device", s.identity, "refs", s.refs)
	if s.refs == 0 {
		s.teardown()
	}
}

// remove starts teardown: the engine closes (failing every pending
// callback, which drains the borrowed refs), the reactor registration
// is released, and the registry's own reference is dropped. The final
// unref, whoever holds it, runs teardown.
func (s *Session) remove() {
	if eng := s.engine; eng != nil {
		s.engine = nil // callbacks fired by Close see a defunct session
		if err := eng.Close(); err != nil {
			s.log.Warn("engine close failed", "device", s.identity, "err", err)
		}
	}
	if reg := s.reg; reg != nil {
		s.reg = nil
		reg.Remove()
	}
	s.unref()
}

// teardown runs when the last reference drains. It unbinds every
// exported interface and announces the disconnect, exactly once per
// session.
func (s *Session) teardown() {
	s.log.Info("session closed", "device", s.identity)
	if s.deviceExported {
		_ = s.bus.Emit(s.path, signalDisconnected)
	}
	for _, iface := range s.bound {
		_ = s.bus.Export(nil, s.path, iface)
	}
	s.bound = nil
	if s.props != nil {
		s.props.unexport()
		s.props = nil
	}
	if eng := s.engine; eng != nil {
		// Early setup failure: removal never ran.
		s.engine = nil
		_ = eng.Close()
	}
	if reg := s.reg; reg != nil {
		s.reg = nil
		reg.Remove()
	}
	s.registry.drop(s)
}

// creationFailed reports a setup failure to the creating caller and
// releases everything allocated so far; nothing stays registered.
func (s *Session) creationFailed(c *creation, err error) {
	s.log.Warn("session setup failed", "device", s.identity, "err", err)
	c.onError(fmt.Errorf("session %q: %w", s.identity, err))
	// When the failure was delivered by remove itself (engine close
	// failing the pending handshake call), teardown is already under
	// way and must not be restarted.
	if s.alive() {
		s.remove()
	}
}

// initDone continues creation after the protocol handshake.
func (s *Session) initDone(c *creation) {
	if !s.alive() {
		c.onError(fmt.Errorf("session %q: removed during handshake", s.identity))
		return
	}
	s.log.Debug("handshake complete", "device", s.identity)
	err := s.engine.GetModelName(
		func(name string) { s.nameDone(c, name) },
		func(err error) { s.creationFailed(c, fmt.Errorf("model name: %w", err)) },
	)
	if err != nil {
		s.creationFailed(c, fmt.Errorf("query model name: %w", err))
	}
}

// nameDone exports the primary device interface. Only when that
// export succeeds does the session enter the registry and report
// creation success; the capability fan-out follows.
func (s *Session) nameDone(c *creation, name string) {
	if !s.alive() {
		c.onError(fmt.Errorf("session %q: removed during handshake", s.identity))
		return
	}
	s.log.Debug("got model name", "device", s.identity, "name", name)

	props := newPropStore(s.bus, s.path)
	if err := props.export(); err != nil {
		s.creationFailed(c, fmt.Errorf("export properties: %w", err))
		return
	}
	s.props = props
	if ok := s.export(ifaceDevice, &deviceObject{s: s}); !ok {
		s.props = nil
		props.unexport()
		s.creationFailed(c, fmt.Errorf("export device interface"))
		return
	}
	s.props.set(ifaceDevice, "Name", name)
	s.deviceExported = true
	s.log.Debug("registered device interface", "device", s.identity, "path", s.path)

	s.registry.insert(s)
	c.onSuccess(s)

	s.fanOut()
}

// fanOut probes every capability the device reported. The barrier is
// held for the duration of the enumeration so Connected cannot fire
// between two probes, and fires on this very turn when the device
// supports nothing optional.
func (s *Session) fanOut() {
	caps := s.engine.Capabilities()
	s.beginRegistration()
	if caps.PowerOff {
		s.bindPowerOff()
	}
	if caps.Battery {
		s.probeBattery()
	}
	if caps.LeftRightBattery {
		s.probeDualBattery()
	}
	if caps.CradleBattery {
		s.probeCradleBattery()
	}
	if caps.LeftRight {
		s.probeLeftRight()
	}
	if caps.NoiseCancelling {
		s.probeNoiseCancelling()
	}
	if caps.AmbientSoundMode {
		s.probeAmbientSound()
	}
	if caps.Eq {
		s.probeEq()
	}
	if caps.AutoPowerOff {
		s.probeAutoPowerOff()
	}
	if caps.AssignableSettings {
		s.probeAssignable()
	}
	if caps.PlaybackVolume {
		s.probePlaybackVolume()
	}
	s.finishRegistration()
}

// beginRegistration must run synchronously with the fan-out of the
// probe it accounts for.
func (s *Session) beginRegistration() {
	s.inProgress++
}

// finishRegistration settles one probe. The first return to zero
// announces the session as connected.
func (s *Session) finishRegistration() {
	if s.inProgress <= 0 {
		panic("session: registration underflow")
	}
	s.inProgress--
	if s.inProgress == 0 && !s.connected && s.alive() {
		s.connected = true
		s.log.Info("device connected", "device", s.identity, "path", s.path)
		_ = s.bus.Emit(s.path, signalConnected)
	}
}

// probeIssueFailed balances a probe whose engine call could not even
// be queued.
func (s *Session) probeIssueFailed(feature string, err error) {
	s.log.Warn("probe not issued", "device", s.identity, "feature", feature, "err", err)
	s.finishRegistration()
	s.unref()
}

// probeFailed is the error continuation shared by all probes: the
// feature stays absent, the session carries on.
func (s *Session) probeFailed(feature string, err error) {
	s.log.Warn("probe failed", "device", s.identity, "feature", feature, "err", err)
	s.finishRegistration()
	s.unref()
}

// probeSettled balances a probe whose success continuation ran.
func (s *Session) probeSettled() {
	s.finishRegistration()
	s.unref()
}

// export binds one feature interface on the device object. Export
// failure degrades the feature, never the session.
func (s *Session) export(iface string, obj interface{}) bool {
	if err := s.bus.Export(obj, s.path, iface); err != nil {
		s.log.Warn("interface export failed",
			"device", s.identity, "interface", iface, "err", err)
		return false
	}
	s.bound = append(s.bound, iface)
	s.log.Debug("registered interface", "device", s.identity, "interface", iface)
	return true
}

// invoke runs fn on the loop goroutine and waits for the command
// reply. fn must arrange for exactly one send, possibly from a later
// engine completion. A loop that has already shut down means every
// session is gone, so the command is answered as disconnected.
func (s *Session) invoke(fn func(reply chan<- *dbus.Error)) *dbus.Error {
	reply := make(chan *dbus.Error, 1)
	if !s.loop.Post(func() { fn(reply) }) {
		return errDisconnected()
	}
	return <-reply
}

// deviceObject is the primary org.mdr.Device interface.
type deviceObject struct {
	s *Session
}

// Disconnect asks the daemon to drop the device session.
func (d *deviceObject) Disconnect() *dbus.Error {
	return d.s.invoke(func(reply chan<- *dbus.Error) {
		if err := d.s.registry.Remove(d.s.identity); err != nil {
			reply <- errFailed(err)
			return
		}
		reply <- nil
	})
}
