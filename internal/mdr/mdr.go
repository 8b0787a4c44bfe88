// Package mdr defines the boundary to the vendor protocol engine that
// speaks the MDR headphone protocol over an RFCOMM socket.
//
// Every query and command is asynchronous: the engine records the
// callback pair and invokes exactly one of them during a later Pump
// call. A non-nil error from the issuing method means the request was
// never queued and neither callback will fire. PollInfo and Pump are
// synchronous and must only be called from the goroutine that drives
// the engine.
package mdr

import (
	"errors"
	"time"
)

var (
	// ErrClosed is delivered to every pending callback when the engine
	// is closed with requests still in flight.
	ErrClosed = errors.New("mdr: engine closed")

	// ErrNotSupported is returned by engine builds that cannot issue
	// the requested command.
	ErrNotSupported = errors.New("mdr: not supported")
)

// ErrorFunc receives the failure of an asynchronous engine call.
type ErrorFunc func(error)

// PollInfo describes the socket readiness the engine wants before its
// next Pump.
type PollInfo struct {
	// Timeout is the longest the caller may wait before pumping again
	// so the engine can run its retransmission schedule. Zero means
	// pump immediately; negative means no deadline.
	Timeout time.Duration

	// WantWrite reports whether the engine has frames queued and needs
	// write readiness.
	WantWrite bool
}

// CapabilitySet lists the optional functions a device reported during
// the protocol handshake. Valid once Init has succeeded.
type CapabilitySet struct {
	PowerOff           bool
	Battery            bool
	LeftRightBattery   bool
	CradleBattery      bool
	LeftRight          bool
	NoiseCancelling    bool
	AmbientSoundMode   bool
	Eq                 bool
	AutoPowerOff       bool
	AssignableSettings bool
	PlaybackVolume     bool
}

// Battery is a single battery reading.
type Battery struct {
	Level    uint8 // percent, 0-100
	Charging bool
}

// DualBattery is a left/right earbud battery reading.
type DualBattery struct {
	Left  Battery
	Right Battery
}

// LeftRightStatus reports which earbuds are currently connected to
// each other.
type LeftRightStatus struct {
	LeftConnected  bool
	RightConnected bool
}

// NamedValue pairs a compact on-wire value with its display name.
// Capability reports are lists of these; the device decides which
// values exist, the engine decides what they are called.
type NamedValue struct {
	ID   uint8
	Name string
}

// EqCapability is the device's equalizer capability report.
type EqCapability struct {
	BandCount  uint8 // number of adjustable bands
	LevelSteps uint8 // valid band levels are 0..LevelSteps-1
	Presets    []NamedValue
}

// EqState is the current equalizer setting.
type EqState struct {
	Preset uint8
	Levels []uint8 // one per band
}

// AsmCapability is the device's ambient sound mode capability report.
type AsmCapability struct {
	Modes       []NamedValue
	AmountSteps uint8 // valid amounts are 0..AmountSteps-1
}

// AsmState is the current ambient sound setting.
type AsmState struct {
	Mode   uint8
	Amount uint8
}

// KeyCapability describes one assignable key and the presets the
// device accepts for it.
type KeyCapability struct {
	Key     NamedValue
	Presets []NamedValue
}

// VolumeState is the current playback volume and the device's volume
// range; valid volumes are 0..Steps-1.
type VolumeState struct {
	Volume uint8
	Steps  uint8
}

// Engine drives the vendor protocol for one connected device.
//
// The interface is deliberately wide: it mirrors the per-function
// surface of the protocol library one to one, so a capability binding
// touches exactly the calls its feature needs and nothing else.
type Engine interface {
	// Init runs the protocol handshake. Capabilities is only valid
	// after success fires.
	Init(success func(), fail ErrorFunc) error

	// GetModelName fetches the device's display name.
	GetModelName(success func(name string), fail ErrorFunc) error

	// Capabilities returns the functions the device supports.
	Capabilities() CapabilitySet

	// PollInfo returns the readiness interest for the next wait cycle.
	PollInfo() PollInfo

	// Pump advances the protocol with the given socket readiness,
	// invoking any completions that became due.
	Pump(readable, writable bool) error

	// Close shuts the engine down and closes its socket. Every pending
	// callback fails with ErrClosed; callbacks that already settled
	// are never invoked again. Close is idempotent.
	Close() error

	PowerOff(success func(), fail ErrorFunc) error

	GetBattery(success func(Battery), fail ErrorFunc) error
	SubscribeBattery(update func(Battery))

	GetDualBattery(success func(DualBattery), fail ErrorFunc) error
	SubscribeDualBattery(update func(DualBattery))

	GetCradleBattery(success func(Battery), fail ErrorFunc) error
	SubscribeCradleBattery(update func(Battery))

	GetLeftRight(success func(LeftRightStatus), fail ErrorFunc) error
	SubscribeLeftRight(update func(LeftRightStatus))

	GetNoiseCancelling(success func(enabled bool), fail ErrorFunc) error
	SubscribeNoiseCancelling(update func(enabled bool))
	SetNoiseCancelling(enabled bool, success func(), fail ErrorFunc) error

	GetAsmCapability(success func(AsmCapability), fail ErrorFunc) error
	GetAmbientSound(success func(AsmState), fail ErrorFunc) error
	SubscribeAmbientSound(update func(AsmState))
	SetAmbientSound(state AsmState, success func(), fail ErrorFunc) error

	GetEqCapability(success func(EqCapability), fail ErrorFunc) error
	GetEq(success func(EqState), fail ErrorFunc) error
	SubscribeEq(update func(EqState))
	SetEqPreset(preset uint8, success func(), fail ErrorFunc) error
	SetEqLevels(levels []uint8, success func(), fail ErrorFunc) error

	GetAutoPowerOffTimeouts(success func([]NamedValue), fail ErrorFunc) error
	GetAutoPowerOff(success func(timeout uint8), fail ErrorFunc) error
	SubscribeAutoPowerOff(update func(timeout uint8))
	SetAutoPowerOff(timeout uint8, success func(), fail ErrorFunc) error

	GetAssignableCapability(success func([]KeyCapability), fail ErrorFunc) error
	GetAssignablePresets(success func([]uint8), fail ErrorFunc) error
	SubscribeAssignablePresets(update func([]uint8))
	SetAssignablePreset(key, preset uint8, success func(), fail ErrorFunc) error

	GetPlaybackVolume(success func(VolumeState), fail ErrorFunc) error
	SubscribePlaybackVolume(update func(volume uint8))
	SetPlaybackVolume(volume uint8, success func(), fail ErrorFunc) error
}
