package session

import (
	"errors"
	"testing"

	dbus "github.com/godbus/dbus/v5"

	"mdrd/internal/mdr"
)

func eqEngineScript(h *harness) {
	h.eng.Caps = mdr.CapabilitySet{Eq: true}
	h.eng.EqCaps = mdr.EqCapability{
		BandCount:  3,
		LevelSteps: 11,
		Presets: []mdr.NamedValue{
			{ID: 0, Name: "Off"},
			{ID: 1, Name: "Rock"},
			{ID: 2, Name: "Jazz"},
		},
	}
	h.eng.EqState = mdr.EqState{Preset: 0, Levels: []uint8{5, 5, 5}}
}

func TestEqSetPreset(t *testing.T) {
	h := newHarness(t)
	eqEngineScript(h)
	s := h.connect("dev_AA")

	replyCh := make(chan *dbus.Error, 1)
	s.eq.setPreset("Rock", replyCh)
	if got := h.eng.Pending(); len(got) != 1 || got[0] != "SetEqPreset" {
		t.Fatalf("pending %v, want [SetEqPreset]", got)
	}
	h.eng.FireNext()
	if derr := reply(t, replyCh); derr != nil {
		t.Fatalf("SetPreset: %v", derr)
	}
	v, _ := s.props.Get(ifaceEq, "Preset")
	if v.Value() != "Rock" {
		t.Errorf("Preset = %v, want Rock", v.Value())
	}
}

func TestEqSetPresetUnknownName(t *testing.T) {
	h := newHarness(t)
	eqEngineScript(h)
	s := h.connect("dev_AA")

	replyCh := make(chan *dbus.Error, 1)
	s.eq.setPreset("Thrash", replyCh)
	wantDBusError(t, reply(t, replyCh), errNameInvalidArguments)
	if h.eng.Calls("SetEqPreset") != 0 {
		t.Error("engine call issued for an invalid preset")
	}
}

func TestEqSetLevelsValidation(t *testing.T) {
	h := newHarness(t)
	eqEngineScript(h)
	s := h.connect("dev_AA")

	replyCh := make(chan *dbus.Error, 1)
	s.eq.setLevels([]byte{5, 5}, replyCh) // device has 3 bands
	wantDBusError(t, reply(t, replyCh), errNameInvalidArguments)

	replyCh = make(chan *dbus.Error, 1)
	s.eq.setLevels([]byte{5, 5, 11}, replyCh) // 11 >= LevelSteps
	wantDBusError(t, reply(t, replyCh), errNameInvalidArguments)

	if h.eng.SetCalls() != 0 {
		t.Error("engine calls issued for invalid levels")
	}

	replyCh = make(chan *dbus.Error, 1)
	s.eq.setLevels([]byte{0, 10, 5}, replyCh)
	h.eng.FireNext()
	if derr := reply(t, replyCh); derr != nil {
		t.Fatalf("SetLevels: %v", derr)
	}
	v, _ := s.props.Get(ifaceEq, "Levels")
	if got := v.Value().([]byte); len(got) != 3 || got[1] != 10 {
		t.Errorf("Levels = %v", got)
	}
}

func TestEqSetFailureKeepsState(t *testing.T) {
	h := newHarness(t)
	eqEngineScript(h)
	h.eng.Fail["SetEqPreset"] = errors.New("nak")
	s := h.connect("dev_AA")

	replyCh := make(chan *dbus.Error, 1)
	s.eq.setPreset("Jazz", replyCh)
	h.eng.FireNext()
	wantDBusError(t, reply(t, replyCh), errNameFailed)

	v, _ := s.props.Get(ifaceEq, "Preset")
	if v.Value() != "Off" {
		t.Errorf("Preset = %v after rejected command, want Off", v.Value())
	}
}

func TestAmbientSoundValidation(t *testing.T) {
	h := newHarness(t)
	h.eng.Caps = mdr.CapabilitySet{AmbientSoundMode: true}
	h.eng.AsmCaps = mdr.AsmCapability{
		Modes: []mdr.NamedValue{
			{ID: 0, Name: "Normal"},
			{ID: 1, Name: "Wind"},
		},
		AmountSteps: 20,
	}
	h.eng.AsmState = mdr.AsmState{Mode: 0, Amount: 10}
	s := h.connect("dev_AA")

	replyCh := make(chan *dbus.Error, 1)
	s.ambient.setMode("Underwater", replyCh)
	wantDBusError(t, reply(t, replyCh), errNameInvalidArguments)

	replyCh = make(chan *dbus.Error, 1)
	s.ambient.setAmount(20, replyCh) // steps is 20, range is 0..19
	wantDBusError(t, reply(t, replyCh), errNameInvalidArguments)

	if h.eng.SetCalls() != 0 {
		t.Error("engine calls issued for invalid arguments")
	}

	replyCh = make(chan *dbus.Error, 1)
	s.ambient.setMode("Wind", replyCh)
	h.eng.FireNext()
	if derr := reply(t, replyCh); derr != nil {
		t.Fatalf("SetMode: %v", derr)
	}
	v, _ := s.props.Get(ifaceAmbientSound, "Mode")
	if v.Value() != "Wind" {
		t.Errorf("Mode = %v", v.Value())
	}
	// The amount rides along unchanged.
	v, _ = s.props.Get(ifaceAmbientSound, "Amount")
	if v.Value() != uint8(10) {
		t.Errorf("Amount = %v, want 10", v.Value())
	}
}

func TestAutoPowerOffByName(t *testing.T) {
	h := newHarness(t)
	h.eng.Caps = mdr.CapabilitySet{AutoPowerOff: true}
	h.eng.Timeouts = []mdr.NamedValue{
		{ID: 0, Name: "Off"},
		{ID: 1, Name: "5 min"},
		{ID: 2, Name: "30 min"},
	}
	h.eng.AutoPowerOffID = 0
	s := h.connect("dev_AA")

	v, _ := s.props.Get(ifaceAutoPowerOff, "AvailableTimeouts")
	if got := v.Value().([]string); len(got) != 3 || got[1] != "5 min" {
		t.Errorf("AvailableTimeouts = %v", got)
	}

	replyCh := make(chan *dbus.Error, 1)
	s.autoPowerOff.setTimeout("45 min", replyCh)
	wantDBusError(t, reply(t, replyCh), errNameInvalidArguments)

	replyCh = make(chan *dbus.Error, 1)
	s.autoPowerOff.setTimeout("30 min", replyCh)
	h.eng.FireNext()
	if derr := reply(t, replyCh); derr != nil {
		t.Fatalf("SetTimeout: %v", derr)
	}
	v, _ = s.props.Get(ifaceAutoPowerOff, "Timeout")
	if v.Value() != "30 min" {
		t.Errorf("Timeout = %v", v.Value())
	}
}

func keysEngineScript(h *harness) {
	h.eng.Caps = mdr.CapabilitySet{AssignableSettings: true}
	h.eng.KeyCaps = []mdr.KeyCapability{
		{
			Key: mdr.NamedValue{ID: 1, Name: "Left"},
			Presets: []mdr.NamedValue{
				{ID: 0, Name: "Noise Cancelling"},
				{ID: 1, Name: "Ambient Sound"},
			},
		},
		{
			Key: mdr.NamedValue{ID: 2, Name: "Right"},
			Presets: []mdr.NamedValue{
				{ID: 0, Name: "Playback Control"},
				{ID: 1, Name: "Volume"},
			},
		},
	}
	h.eng.KeyPresets = []uint8{0, 1}
}

func TestAssignableKeys(t *testing.T) {
	h := newHarness(t)
	keysEngineScript(h)
	s := h.connect("dev_AA")

	v, _ := s.props.Get(ifaceAssignable, "Keys")
	if got := v.Value().([]string); len(got) != 2 || got[0] != "Left" {
		t.Errorf("Keys = %v", got)
	}
	v, _ = s.props.Get(ifaceAssignable, "Presets")
	current := v.Value().(map[string]string)
	if current["Left"] != "Noise Cancelling" || current["Right"] != "Volume" {
		t.Errorf("Presets = %v", current)
	}

	// Unknown key, then a preset that belongs to the other key.
	replyCh := make(chan *dbus.Error, 1)
	s.keys.setPreset("Middle", "Volume", replyCh)
	wantDBusError(t, reply(t, replyCh), errNameInvalidArguments)

	replyCh = make(chan *dbus.Error, 1)
	s.keys.setPreset("Left", "Volume", replyCh)
	wantDBusError(t, reply(t, replyCh), errNameInvalidArguments)

	if h.eng.SetCalls() != 0 {
		t.Error("engine calls issued for invalid assignments")
	}

	replyCh = make(chan *dbus.Error, 1)
	s.keys.setPreset("Left", "Ambient Sound", replyCh)
	h.eng.FireNext()
	if derr := reply(t, replyCh); derr != nil {
		t.Fatalf("SetPreset: %v", derr)
	}
	v, _ = s.props.Get(ifaceAssignable, "Presets")
	if got := v.Value().(map[string]string); got["Left"] != "Ambient Sound" {
		t.Errorf("Presets = %v", got)
	}
}

func TestAssignableLengthMismatchDegrades(t *testing.T) {
	h := newHarness(t)
	keysEngineScript(h)
	h.eng.KeyPresets = []uint8{0} // two keys, one assignment

	s := h.connect("dev_AA")
	if h.bus.exported(s.Path(), ifaceAssignable) {
		t.Error("assignable settings exported from a mismatched report")
	}
	if h.bus.emitCount(signalConnected) != 1 {
		t.Errorf("Connected emitted %d times, want 1", h.bus.emitCount(signalConnected))
	}
}

func TestAssignableMismatchedPushIsDropped(t *testing.T) {
	h := newHarness(t)
	keysEngineScript(h)
	s := h.connect("dev_AA")

	h.eng.PushAssignablePresets([]uint8{1}) // wrong length
	v, _ := s.props.Get(ifaceAssignable, "Presets")
	if got := v.Value().(map[string]string); got["Left"] != "Noise Cancelling" {
		t.Errorf("Presets = %v, want unchanged", got)
	}
}

func TestVolumeValidation(t *testing.T) {
	h := newHarness(t)
	h.eng.Caps = mdr.CapabilitySet{PlaybackVolume: true}
	h.eng.VolumeState = mdr.VolumeState{Volume: 10, Steps: 31}
	s := h.connect("dev_AA")

	replyCh := make(chan *dbus.Error, 1)
	s.volume.setVolume(31, replyCh)
	wantDBusError(t, reply(t, replyCh), errNameInvalidArguments)
	if h.eng.SetCalls() != 0 {
		t.Error("engine call issued for out-of-range volume")
	}

	replyCh = make(chan *dbus.Error, 1)
	s.volume.setVolume(30, replyCh)
	h.eng.FireNext()
	if derr := reply(t, replyCh); derr != nil {
		t.Fatalf("SetVolume: %v", derr)
	}
	v, _ := s.props.Get(ifacePlaybackVolume, "Volume")
	if v.Value() != uint8(30) {
		t.Errorf("Volume = %v", v.Value())
	}
}

func TestVolumeZeroStepsDegrades(t *testing.T) {
	h := newHarness(t)
	h.eng.Caps = mdr.CapabilitySet{PlaybackVolume: true}
	h.eng.VolumeState = mdr.VolumeState{}

	s := h.connect("dev_AA")
	if h.bus.exported(s.Path(), ifacePlaybackVolume) {
		t.Error("playback volume exported with zero steps")
	}
}

func TestPowerOff(t *testing.T) {
	h := newHarness(t)
	h.eng.Caps = mdr.CapabilitySet{PowerOff: true}
	s := h.connect("dev_AA")

	if !h.bus.exported(s.Path(), ifacePowerOff) {
		t.Fatal("power off interface not exported")
	}
	// Binding is synchronous: no probe traffic beyond the handshake.
	if h.eng.Calls("PowerOff") != 0 {
		t.Error("power off issued during fan-out")
	}

	replyCh := make(chan *dbus.Error, 1)
	s.power.powerOff(replyCh)
	h.eng.FireNext()
	if derr := reply(t, replyCh); derr != nil {
		t.Fatalf("PowerOff: %v", derr)
	}
}

func TestDevicePushedUpdates(t *testing.T) {
	h := newHarness(t)
	h.eng.Caps = mdr.CapabilitySet{Battery: true, LeftRightBattery: true, LeftRight: true}
	h.eng.BatteryState = mdr.Battery{Level: 50}
	s := h.connect("dev_AA")

	before := len(h.bus.emits)
	h.eng.PushBattery(mdr.Battery{Level: 49, Charging: true})

	v, _ := s.props.Get(ifaceBattery, "Level")
	if v.Value() != uint8(49) {
		t.Errorf("Level = %v", v.Value())
	}
	v, _ = s.props.Get(ifaceBattery, "Charging")
	if v.Value() != true {
		t.Errorf("Charging = %v", v.Value())
	}
	if len(h.bus.emits) != before+1 {
		t.Errorf("%d signals for one update, want 1", len(h.bus.emits)-before)
	}
	if last := h.bus.emits[len(h.bus.emits)-1]; last.name != ifaceProps+".PropertiesChanged" {
		t.Errorf("signal %s", last.name)
	}

	h.eng.PushDualBattery(mdr.DualBattery{
		Left:  mdr.Battery{Level: 20},
		Right: mdr.Battery{Level: 90, Charging: true},
	})
	v, _ = s.props.Get(ifaceLeftRightBattery, "RightLevel")
	if v.Value() != uint8(90) {
		t.Errorf("RightLevel = %v", v.Value())
	}

	h.eng.PushLeftRight(mdr.LeftRightStatus{LeftConnected: true})
	v, _ = s.props.Get(ifaceLeftRight, "LeftConnected")
	if v.Value() != true {
		t.Errorf("LeftConnected = %v", v.Value())
	}
	v, _ = s.props.Get(ifaceLeftRight, "RightConnected")
	if v.Value() != false {
		t.Errorf("RightConnected = %v", v.Value())
	}
}

func TestUnannouncedPushedValueRendersAsHex(t *testing.T) {
	h := newHarness(t)
	h.eng.Caps = mdr.CapabilitySet{AmbientSoundMode: true}
	h.eng.AsmCaps = mdr.AsmCapability{
		Modes:       []mdr.NamedValue{{ID: 0, Name: "Normal"}},
		AmountSteps: 2,
	}
	s := h.connect("dev_AA")

	h.eng.PushAmbientSound(mdr.AsmState{Mode: 0x7f, Amount: 1})
	v, _ := s.props.Get(ifaceAmbientSound, "Mode")
	if v.Value() != "0x7f" {
		t.Errorf("Mode = %v, want 0x7f", v.Value())
	}
}

func TestFeatureExportFailureDegrades(t *testing.T) {
	h := newHarness(t)
	h.eng.Caps = mdr.CapabilitySet{Battery: true, NoiseCancelling: true}
	h.bus.failExport[ifaceBattery] = errors.New("name taken")

	s := h.connect("dev_AA")
	if h.bus.exported(s.Path(), ifaceBattery) {
		t.Error("battery exported despite export failure")
	}
	if !h.bus.exported(s.Path(), ifaceNoiseCancelling) {
		t.Error("noise cancelling missing")
	}
	if h.bus.emitCount(signalConnected) != 1 {
		t.Errorf("Connected emitted %d times, want 1", h.bus.emitCount(signalConnected))
	}
	if s.refs != 2 {
		t.Errorf("refs = %d, want 2", s.refs)
	}
}

func TestRemoveWithProbeInFlight(t *testing.T) {
	h := newHarness(t)
	eqEngineScript(h)

	h.create("dev_AA")
	h.eng.FireOp("Init")
	h.eng.FireOp("GetModelName")
	h.eng.FireOp("GetEqCapability")
	if got := h.eng.Pending(); len(got) != 1 || got[0] != "GetEq" {
		t.Fatalf("pending %v, want [GetEq]", got)
	}
	s := h.created[0]

	// Teardown with the probe's second step outstanding: the engine
	// close fails it, the late callback balances the barrier and the
	// refcount without touching the bus.
	if err := h.registry.Remove("dev_AA"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if s.refs != 0 {
		t.Errorf("refs = %d, want 0", s.refs)
	}
	if s.inProgress != 0 {
		t.Errorf("inProgress = %d, want 0", s.inProgress)
	}
	if h.bus.emitCount(signalConnected) != 0 {
		t.Error("Connected emitted for a session removed mid-probe")
	}
	if h.bus.emitCount(signalDisconnected) != 1 {
		t.Errorf("Disconnected emitted %d times, want 1", h.bus.emitCount(signalDisconnected))
	}
	if h.bus.exported(s.Path(), ifaceEq) {
		t.Error("eq exported on a removed session")
	}
}

func TestNoiseCancellingRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.eng.Caps = mdr.CapabilitySet{NoiseCancelling: true}
	h.eng.NoiseEnabled = true
	s := h.connect("dev_AA")

	v, _ := s.props.Get(ifaceNoiseCancelling, "Enabled")
	if v.Value() != true {
		t.Fatalf("Enabled = %v after probe", v.Value())
	}

	replyCh := make(chan *dbus.Error, 1)
	s.noise.setEnabled(false, replyCh)
	h.eng.FireNext()
	if derr := reply(t, replyCh); derr != nil {
		t.Fatalf("SetEnabled: %v", derr)
	}
	v, _ = s.props.Get(ifaceNoiseCancelling, "Enabled")
	if v.Value() != false {
		t.Errorf("Enabled = %v", v.Value())
	}
}
