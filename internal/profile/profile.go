// Package profile registers the BlueZ RFCOMM profile that feeds
// incoming device connections into the session registry.
package profile

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	dbus "github.com/godbus/dbus/v5"
	"github.com/google/uuid"

	"mdrd/internal/reactor"
	"mdrd/internal/session"
)

const (
	// DefaultUUID is the service UUID MDR devices expose for the
	// vendor protocol channel.
	DefaultUUID = "96cc203e-5068-46ad-b32d-e316f5e069ba"

	bluezService        = "org.bluez"
	profileIface        = "org.bluez.Profile1"
	profileManagerIface = "org.bluez.ProfileManager1"

	// Path is the object path the profile is exported at.
	Path = dbus.ObjectPath("/org/mdr")
)

var bluezPath = dbus.ObjectPath("/org/bluez")

// Profile implements org.bluez.Profile1. bluetoothd hands each
// accepted RFCOMM socket to NewConnection; session creation and
// removal always run on the loop goroutine.
type Profile struct {
	log      *slog.Logger
	bus      *dbus.Conn
	loop     *reactor.Loop
	registry *session.Registry
	uuid     string

	// cleanup functions run in reverse order on Close.
	cleanup []func()
}

// Register exports the profile object and registers it with the BlueZ
// profile manager. serviceUUID is validated and canonicalized before
// registration. channel pins the RFCOMM channel; zero lets bluetoothd
// resolve it from the device's SDP record.
func Register(bus *dbus.Conn, loop *reactor.Loop, registry *session.Registry, serviceUUID string, channel uint16, log *slog.Logger) (*Profile, error) {
	if log == nil {
		log = slog.Default()
	}
	id, err := uuid.Parse(serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("profile: service uuid %q: %w", serviceUUID, err)
	}

	p := &Profile{
		log:      log,
		bus:      bus,
		loop:     loop,
		registry: registry,
		uuid:     id.String(),
	}
	if err := bus.Export(p, Path, profileIface); err != nil {
		return nil, fmt.Errorf("profile: export: %w", err)
	}
	p.cleanup = append(p.cleanup, func() {
		_ = bus.Export(nil, Path, profileIface)
	})

	opts := map[string]dbus.Variant{
		"Name":                  dbus.MakeVariant("mdr"),
		"RequireAuthentication": dbus.MakeVariant(true),
		"AutoConnect":           dbus.MakeVariant(true),
	}
	if channel != 0 {
		opts["Channel"] = dbus.MakeVariant(channel)
	}
	pm := bus.Object(bluezService, bluezPath)
	if call := pm.Call(profileManagerIface+".RegisterProfile", 0, Path, p.uuid, opts); call.Err != nil {
		p.Close()
		return nil, fmt.Errorf("profile: RegisterProfile: %w", call.Err)
	}
	p.cleanup = append(p.cleanup, func() {
		_ = pm.Call(profileManagerIface+".UnregisterProfile", 0, Path).Err
	})

	log.Info("profile registered", "uuid", p.uuid)
	return p, nil
}

// Close unregisters the profile and unexports the object. Redundant
// calls are allowed.
func (p *Profile) Close() {
	cleanup := p.cleanup
	p.cleanup = nil
	for i := len(cleanup) - 1; i >= 0; i-- {
		cleanup[i]()
	}
}

// NewConnection supervises the delivered socket as a device session.
// The reply is held until the handshake and the primary interface
// export have settled, so bluetoothd learns about setup failures.
func (p *Profile) NewConnection(device dbus.ObjectPath, fd dbus.UnixFD, _ map[string]dbus.Variant) *dbus.Error {
	identity := identityFromPath(device)
	if identity == "" {
		_ = os.NewFile(uintptr(fd), "mdr").Close()
		return dbus.NewError("org.bluez.Error.Rejected",
			[]interface{}{fmt.Sprintf("unrecognized device path %q", device)})
	}
	p.log.Info("incoming connection", "device", identity)

	done := make(chan error, 1)
	posted := p.loop.Post(func() {
		p.registry.Create(identity, int(fd),
			func(*session.Session) { done <- nil },
			func(err error) { done <- err },
		)
	})
	if !posted {
		_ = os.NewFile(uintptr(fd), "mdr").Close()
		return dbus.NewError("org.bluez.Error.Canceled",
			[]interface{}{"daemon is shutting down"})
	}
	if err := <-done; err != nil {
		p.log.Warn("session setup rejected", "device", identity, "err", err)
		return dbus.NewError("org.bluez.Error.Canceled", []interface{}{err.Error()})
	}
	return nil
}

// RequestDisconnection tears down the device's session.
func (p *Profile) RequestDisconnection(device dbus.ObjectPath) *dbus.Error {
	identity := identityFromPath(device)
	done := make(chan error, 1)
	if !p.loop.Post(func() { done <- p.registry.Remove(identity) }) {
		return dbus.NewError("org.bluez.Error.DoesNotExist",
			[]interface{}{"daemon is shutting down"})
	}
	if err := <-done; err != nil {
		return dbus.NewError("org.bluez.Error.DoesNotExist", []interface{}{err.Error()})
	}
	return nil
}

// Release is called by bluetoothd when the profile registration is
// being torn down.
func (p *Profile) Release() *dbus.Error {
	p.log.Info("profile released")
	return nil
}

// identityFromPath derives a session identity from a BlueZ device
// object path, e.g. /org/bluez/hci0/dev_04_5D_4B_AA_BB_CC.
func identityFromPath(path dbus.ObjectPath) string {
	s := string(path)
	idx := strings.LastIndex(s, "/dev_")
	if idx < 0 {
		return ""
	}
	return s[idx+1:]
}
