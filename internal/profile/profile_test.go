package profile

import (
	"testing"

	dbus "github.com/godbus/dbus/v5"
)

func TestIdentityFromPath(t *testing.T) {
	cases := []struct {
		path dbus.ObjectPath
		want string
	}{
		{"/org/bluez/hci0/dev_04_5D_4B_AA_BB_CC", "dev_04_5D_4B_AA_BB_CC"},
		{"/org/bluez/hci1/dev_FF_FF_FF_FF_FF_FF", "dev_FF_FF_FF_FF_FF_FF"},
		{"/org/bluez/hci0", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := identityFromPath(c.path); got != c.want {
			t.Errorf("identityFromPath(%q) = %q, want %q", c.path, got, c.want)
		}
	}
}

func TestRegisterRejectsBadUUID(t *testing.T) {
	if _, err := Register(nil, nil, nil, "not-a-uuid", 0, nil); err == nil {
		t.Fatal("Register accepted a malformed UUID")
	}
}
