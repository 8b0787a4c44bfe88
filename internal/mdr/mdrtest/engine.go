// Package mdrtest provides a scriptable in-memory protocol engine.
//
// Completions never fire from the issuing call: they queue up and the
// test decides when each one settles, in which order, and whether it
// succeeds. Close fails everything still pending with mdr.ErrClosed,
// matching the engine contract for teardown with calls in flight.
package mdrtest

import (
	"fmt"

	"mdrd/internal/mdr"
)

type pendingOp struct {
	op      string
	succeed func()
	fail    mdr.ErrorFunc
}

// Engine implements mdr.Engine. The exported fields are the script:
// canned results for queries, per-op completion failures, per-op
// issue failures. Not safe for concurrent use; neither is the real
// engine.
type Engine struct {
	Caps mdr.CapabilitySet
	Name string

	BatteryState     mdr.Battery
	DualBatteryState mdr.DualBattery
	CradleState      mdr.Battery
	LeftRightState   mdr.LeftRightStatus
	NoiseEnabled     bool
	AsmCaps          mdr.AsmCapability
	AsmState         mdr.AsmState
	EqCaps           mdr.EqCapability
	EqState          mdr.EqState
	Timeouts         []mdr.NamedValue
	AutoPowerOffID   uint8
	KeyCaps          []mdr.KeyCapability
	KeyPresets       []uint8
	VolumeState      mdr.VolumeState

	Poll    mdr.PollInfo
	PumpErr error

	// Fail completes the named op with the given error.
	Fail map[string]error
	// IssueErr makes the named op's issuing call return the error
	// immediately; nothing is queued and no callback fires.
	IssueErr map[string]error

	Pumps  [][2]bool
	Closed int

	pending []pendingOp
	calls   map[string]int

	batterySub    func(mdr.Battery)
	dualSub       func(mdr.DualBattery)
	cradleSub     func(mdr.Battery)
	leftRightSub  func(mdr.LeftRightStatus)
	noiseSub      func(bool)
	ambientSub    func(mdr.AsmState)
	eqSub         func(mdr.EqState)
	autoPowerSub  func(uint8)
	assignableSub func([]uint8)
	volumeSub     func(uint8)
}

// New returns an engine that succeeds at everything and supports
// nothing optional; tests flip on what they need.
func New() *Engine {
	return &Engine{
		Name:     "Fake MDR",
		Poll:     mdr.PollInfo{Timeout: -1},
		Fail:     make(map[string]error),
		IssueErr: make(map[string]error),
		calls:    make(map[string]int),
	}
}

func (e *Engine) enqueue(op string, succeed func(), fail mdr.ErrorFunc) error {
	e.calls[op]++
	if err := e.IssueErr[op]; err != nil {
		return err
	}
	e.pending = append(e.pending, pendingOp{op: op, succeed: succeed, fail: fail})
	return nil
}

// Calls returns how many times the named op was issued (including
// calls rejected through IssueErr).
func (e *Engine) Calls(op string) int { return e.calls[op] }

// SetCalls returns the total number of issued mutating ops.
func (e *Engine) SetCalls() int {
	n := 0
	for op, c := range e.calls {
		if len(op) >= 3 && op[:3] == "Set" || op == "PowerOff" {
			n += c
		}
	}
	return n
}

// Pending returns the ops awaiting completion, oldest first.
func (e *Engine) Pending() []string {
	out := make([]string, len(e.pending))
	for i, p := range e.pending {
		out[i] = p.op
	}
	return out
}

// FireNext completes the oldest pending op.
func (e *Engine) FireNext() {
	if len(e.pending) == 0 {
		panic("mdrtest: nothing pending")
	}
	p := e.pending[0]
	e.pending = e.pending[1:]
	e.complete(p)
}

// FireOp completes the oldest pending op with the given name,
// regardless of its position.
func (e *Engine) FireOp(op string) {
	for i, p := range e.pending {
		if p.op == op {
			e.pending = append(e.pending[:i], e.pending[i+1:]...)
			e.complete(p)
			return
		}
	}
	panic(fmt.Sprintf("mdrtest: no pending %s", op))
}

// FireAll completes pending ops in order until none remain, including
// ops issued by earlier completions.
func (e *Engine) FireAll() {
	for len(e.pending) > 0 {
		e.FireNext()
	}
}

func (e *Engine) complete(p pendingOp) {
	if err := e.Fail[p.op]; err != nil {
		p.fail(err)
		return
	}
	p.succeed()
}

// mdr.Engine implementation.

func (e *Engine) Init(success func(), fail mdr.ErrorFunc) error {
	return e.enqueue("Init", success, fail)
}

func (e *Engine) GetModelName(success func(string), fail mdr.ErrorFunc) error {
	return e.enqueue("GetModelName", func() { success(e.Name) }, fail)
}

func (e *Engine) Capabilities() mdr.CapabilitySet { return e.Caps }

func (e *Engine) PollInfo() mdr.PollInfo { return e.Poll }

func (e *Engine) Pump(readable, writable bool) error {
	e.Pumps = append(e.Pumps, [2]bool{readable, writable})
	return e.PumpErr
}

// Close fails every pending callback with mdr.ErrClosed, in issue
// order, then marks the engine closed.
func (e *Engine) Close() error {
	e.Closed++
	pending := e.pending
	e.pending = nil
	for _, p := range pending {
		p.fail(mdr.ErrClosed)
	}
	return nil
}

func (e *Engine) PowerOff(success func(), fail mdr.ErrorFunc) error {
	return e.enqueue("PowerOff", success, fail)
}

func (e *Engine) GetBattery(success func(mdr.Battery), fail mdr.ErrorFunc) error {
	return e.enqueue("GetBattery", func() { success(e.BatteryState) }, fail)
}

func (e *Engine) SubscribeBattery(update func(mdr.Battery)) { e.batterySub = update }

// PushBattery delivers a device-initiated battery update.
func (e *Engine) PushBattery(b mdr.Battery) {
	if e.batterySub != nil {
		e.batterySub(b)
	}
}

func (e *Engine) GetDualBattery(success func(mdr.DualBattery), fail mdr.ErrorFunc) error {
	return e.enqueue("GetDualBattery", func() { success(e.DualBatteryState) }, fail)
}

func (e *Engine) SubscribeDualBattery(update func(mdr.DualBattery)) { e.dualSub = update }

// PushDualBattery delivers a device-initiated earbud battery update.
func (e *Engine) PushDualBattery(b mdr.DualBattery) {
	if e.dualSub != nil {
		e.dualSub(b)
	}
}

func (e *Engine) GetCradleBattery(success func(mdr.Battery), fail mdr.ErrorFunc) error {
	return e.enqueue("GetCradleBattery", func() { success(e.CradleState) }, fail)
}

func (e *Engine) SubscribeCradleBattery(update func(mdr.Battery)) { e.cradleSub = update }

// PushCradleBattery delivers a device-initiated cradle battery update.
func (e *Engine) PushCradleBattery(b mdr.Battery) {
	if e.cradleSub != nil {
		e.cradleSub(b)
	}
}

func (e *Engine) GetLeftRight(success func(mdr.LeftRightStatus), fail mdr.ErrorFunc) error {
	return e.enqueue("GetLeftRight", func() { success(e.LeftRightState) }, fail)
}

func (e *Engine) SubscribeLeftRight(update func(mdr.LeftRightStatus)) { e.leftRightSub = update }

// PushLeftRight delivers a device-initiated connection-pair update.
func (e *Engine) PushLeftRight(st mdr.LeftRightStatus) {
	if e.leftRightSub != nil {
		e.leftRightSub(st)
	}
}

func (e *Engine) GetNoiseCancelling(success func(bool), fail mdr.ErrorFunc) error {
	return e.enqueue("GetNoiseCancelling", func() { success(e.NoiseEnabled) }, fail)
}

func (e *Engine) SubscribeNoiseCancelling(update func(bool)) { e.noiseSub = update }

// PushNoiseCancelling delivers a device-initiated switch update.
func (e *Engine) PushNoiseCancelling(enabled bool) {
	if e.noiseSub != nil {
		e.noiseSub(enabled)
	}
}

func (e *Engine) SetNoiseCancelling(enabled bool, success func(), fail mdr.ErrorFunc) error {
	return e.enqueue("SetNoiseCancelling", success, fail)
}

func (e *Engine) GetAsmCapability(success func(mdr.AsmCapability), fail mdr.ErrorFunc) error {
	return e.enqueue("GetAsmCapability", func() { success(e.AsmCaps) }, fail)
}

func (e *Engine) GetAmbientSound(success func(mdr.AsmState), fail mdr.ErrorFunc) error {
	return e.enqueue("GetAmbientSound", func() { success(e.AsmState) }, fail)
}

func (e *Engine) SubscribeAmbientSound(update func(mdr.AsmState)) { e.ambientSub = update }

// PushAmbientSound delivers a device-initiated mode/amount update.
func (e *Engine) PushAmbientSound(st mdr.AsmState) {
	if e.ambientSub != nil {
		e.ambientSub(st)
	}
}

func (e *Engine) SetAmbientSound(st mdr.AsmState, success func(), fail mdr.ErrorFunc) error {
	return e.enqueue("SetAmbientSound", success, fail)
}

func (e *Engine) GetEqCapability(success func(mdr.EqCapability), fail mdr.ErrorFunc) error {
	return e.enqueue("GetEqCapability", func() { success(e.EqCaps) }, fail)
}

func (e *Engine) GetEq(success func(mdr.EqState), fail mdr.ErrorFunc) error {
	return e.enqueue("GetEq", func() { success(e.EqState) }, fail)
}

func (e *Engine) SubscribeEq(update func(mdr.EqState)) { e.eqSub = update }

// PushEq delivers a device-initiated equalizer update.
func (e *Engine) PushEq(st mdr.EqState) {
	if e.eqSub != nil {
		e.eqSub(st)
	}
}

func (e *Engine) SetEqPreset(preset uint8, success func(), fail mdr.ErrorFunc) error {
	return e.enqueue("SetEqPreset", success, fail)
}

func (e *Engine) SetEqLevels(levels []uint8, success func(), fail mdr.ErrorFunc) error {
	return e.enqueue("SetEqLevels", success, fail)
}

func (e *Engine) GetAutoPowerOffTimeouts(success func([]mdr.NamedValue), fail mdr.ErrorFunc) error {
	return e.enqueue("GetAutoPowerOffTimeouts", func() { success(e.Timeouts) }, fail)
}

func (e *Engine) GetAutoPowerOff(success func(uint8), fail mdr.ErrorFunc) error {
	return e.enqueue("GetAutoPowerOff", func() { success(e.AutoPowerOffID) }, fail)
}

func (e *Engine) SubscribeAutoPowerOff(update func(uint8)) { e.autoPowerSub = update }

// PushAutoPowerOff delivers a device-initiated timeout update.
func (e *Engine) PushAutoPowerOff(id uint8) {
	if e.autoPowerSub != nil {
		e.autoPowerSub(id)
	}
}

func (e *Engine) SetAutoPowerOff(timeout uint8, success func(), fail mdr.ErrorFunc) error {
	return e.enqueue("SetAutoPowerOff", success, fail)
}

func (e *Engine) GetAssignableCapability(success func([]mdr.KeyCapability), fail mdr.ErrorFunc) error {
	return e.enqueue("GetAssignableCapability", func() { success(e.KeyCaps) }, fail)
}

func (e *Engine) GetAssignablePresets(success func([]uint8), fail mdr.ErrorFunc) error {
	return e.enqueue("GetAssignablePresets", func() { success(e.KeyPresets) }, fail)
}

func (e *Engine) SubscribeAssignablePresets(update func([]uint8)) { e.assignableSub = update }

// PushAssignablePresets delivers a device-initiated assignment update.
func (e *Engine) PushAssignablePresets(ids []uint8) {
	if e.assignableSub != nil {
		e.assignableSub(ids)
	}
}

func (e *Engine) SetAssignablePreset(key, preset uint8, success func(), fail mdr.ErrorFunc) error {
	return e.enqueue("SetAssignablePreset", success, fail)
}

func (e *Engine) GetPlaybackVolume(success func(mdr.VolumeState), fail mdr.ErrorFunc) error {
	return e.enqueue("GetPlaybackVolume", func() { success(e.VolumeState) }, fail)
}

func (e *Engine) SubscribePlaybackVolume(update func(uint8)) { e.volumeSub = update }

// PushPlaybackVolume delivers a device-initiated volume update.
func (e *Engine) PushPlaybackVolume(volume uint8) {
	if e.volumeSub != nil {
		e.volumeSub(volume)
	}
}

func (e *Engine) SetPlaybackVolume(volume uint8, success func(), fail mdr.ErrorFunc) error {
	return e.enqueue("SetPlaybackVolume", success, fail)
}

var _ mdr.Engine = (*Engine)(nil)
