package session

import (
	"fmt"
	"strings"

	dbus "github.com/godbus/dbus/v5"
)

// D-Bus interface names exported per device object.
const (
	ifaceDevice           = "org.mdr.Device"
	ifacePowerOff         = "org.mdr.PowerOff"
	ifaceBattery          = "org.mdr.Battery"
	ifaceLeftRightBattery = "org.mdr.LeftRightBattery"
	ifaceCradleBattery    = "org.mdr.CradleBattery"
	ifaceLeftRight        = "org.mdr.LeftRight"
	ifaceNoiseCancelling  = "org.mdr.NoiseCancelling"
	ifaceAmbientSound     = "org.mdr.AmbientSoundMode"
	ifaceEq               = "org.mdr.Eq"
	ifaceAutoPowerOff     = "org.mdr.AutoPowerOff"
	ifaceAssignable       = "org.mdr.AssignableSettings"
	ifacePlaybackVolume   = "org.mdr.PlaybackVolume"

	ifaceProps = "org.freedesktop.DBus.Properties"

	signalConnected    = ifaceDevice + ".Connected"
	signalDisconnected = ifaceDevice + ".Disconnected"
)

// Client-visible error names for inbound commands.
const (
	errNameInvalidArguments = "org.mdr.Error.InvalidArguments"
	errNameFailed           = "org.mdr.Error.Failed"
	errNameDisconnected     = "org.mdr.Error.Disconnected"
)

// Bus is the slice of the D-Bus connection the session layer needs.
// *dbus.Conn satisfies it.
type Bus interface {
	Export(v interface{}, path dbus.ObjectPath, iface string) error
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
}

func errInvalidArgs(format string, args ...interface{}) *dbus.Error {
	return dbus.NewError(errNameInvalidArguments, []interface{}{fmt.Sprintf(format, args...)})
}

func errFailed(err error) *dbus.Error {
	return dbus.NewError(errNameFailed, []interface{}{err.Error()})
}

func errDisconnected() *dbus.Error {
	return dbus.NewError(errNameDisconnected, []interface{}{"device is disconnected"})
}

const devicePathPrefix = "/org/mdr/device/"

// devicePath maps a session identity onto a D-Bus object path,
// replacing everything a path element cannot carry.
func devicePath(identity string) dbus.ObjectPath {
	var b strings.Builder
	b.WriteString(devicePathPrefix)
	for _, r := range identity {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return dbus.ObjectPath(b.String())
}
