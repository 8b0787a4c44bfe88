//go:build linux && cgo

// Package native binds the mdr.Engine boundary to libmdr, the vendor
// protocol library. Only the entry points the daemon currently drives
// are bound; Capabilities masks everything else so a session never
// probes a function this binding cannot issue.
//
// All methods must run on the loop goroutine: libmdr is not
// thread-safe and neither is the handle table here.
package native

/*
#cgo LDFLAGS: -lmdr

#include <stdint.h>
#include <stdbool.h>
#include <mdr/device.h>

extern void mdrdGoSuccess(uintptr_t h);
extern void mdrdGoError(uintptr_t h);
extern void mdrdGoName(uint8_t len, uint8_t* name, uintptr_t h);
extern void mdrdGoBattery(uint8_t level, bool charging, uintptr_t h);
extern void mdrdGoDualBattery(uint8_t left_level, bool left_charging,
                              uint8_t right_level, bool right_charging,
                              uintptr_t h);
extern void mdrdGoLeftRight(bool left, bool right, uintptr_t h);

static void mdrd_success_cb(void* user) { mdrdGoSuccess((uintptr_t) user); }
static void mdrd_error_cb(void* user) { mdrdGoError((uintptr_t) user); }

static void mdrd_name_cb(uint8_t len, const uint8_t* name, void* user)
{
    mdrdGoName(len, (uint8_t*) name, (uintptr_t) user);
}

static void mdrd_battery_cb(uint8_t level, bool charging, void* user)
{
    mdrdGoBattery(level, charging, (uintptr_t) user);
}

static void mdrd_dual_battery_cb(uint8_t left_level, bool left_charging,
                                 uint8_t right_level, bool right_charging,
                                 void* user)
{
    mdrdGoDualBattery(left_level, left_charging,
                      right_level, right_charging,
                      (uintptr_t) user);
}

static void mdrd_left_right_cb(bool left, bool right, void* user)
{
    mdrdGoLeftRight(left, right, (uintptr_t) user);
}

static void mdrd_init(mdr_device_t* dev, uintptr_t h)
{
    mdr_device_init(dev, mdrd_success_cb, mdrd_error_cb, (void*) h);
}

static int mdrd_get_name(mdr_device_t* dev, uintptr_t h)
{
    return mdr_device_get_model_name(dev, mdrd_name_cb, mdrd_error_cb, (void*) h);
}

static int mdrd_get_battery(mdr_device_t* dev, uintptr_t h)
{
    return mdr_device_get_battery_level(dev, mdrd_battery_cb, mdrd_error_cb, (void*) h);
}

static int mdrd_get_dual_battery(mdr_device_t* dev, uintptr_t h)
{
    return mdr_device_get_left_right_battery_level(
            dev, mdrd_dual_battery_cb, mdrd_error_cb, (void*) h);
}

static int mdrd_get_cradle_battery(mdr_device_t* dev, uintptr_t h)
{
    return mdr_device_get_cradle_battery_level(
            dev, mdrd_battery_cb, mdrd_error_cb, (void*) h);
}

static int mdrd_get_left_right(mdr_device_t* dev, uintptr_t h)
{
    return mdr_device_get_left_right_connection_status(
            dev, mdrd_left_right_cb, mdrd_error_cb, (void*) h);
}

static void mdrd_subscribe_battery(mdr_device_t* dev, uintptr_t h)
{
    mdr_device_subscribe_battery_level(dev, mdrd_battery_cb, (void*) h);
}

static void mdrd_subscribe_dual_battery(mdr_device_t* dev, uintptr_t h)
{
    mdr_device_subscribe_left_right_battery_level(dev, mdrd_dual_battery_cb, (void*) h);
}

static void mdrd_subscribe_cradle_battery(mdr_device_t* dev, uintptr_t h)
{
    mdr_device_subscribe_cradle_battery_level(dev, mdrd_battery_cb, (void*) h);
}

static void mdrd_subscribe_left_right(mdr_device_t* dev, uintptr_t h)
{
    mdr_device_subscribe_left_right_connection_status(dev, mdrd_left_right_cb, (void*) h);
}
*/
import "C"

import (
	"errors"
	"fmt"
	"time"

	"mdrd/internal/mdr"
)

// op is one registered continuation. One-shots leave the handle table
// and their engine's pending set when they settle; subscriptions stay
// until Close.
type op struct {
	e       *Engine
	oneShot bool

	success   func()
	fail      mdr.ErrorFunc
	name      func(string)
	battery   func(mdr.Battery)
	dual      func(mdr.DualBattery)
	leftRight func(mdr.LeftRightStatus)
}

// Engine drives one libmdr device handle.
type Engine struct {
	dev     *C.mdr_device_t
	pending map[uintptr]*op
}

var _ mdr.Engine = (*Engine)(nil)

// Open wraps a connected RFCOMM socket in a protocol engine. On
// success the engine owns the descriptor.
func Open(sock int) (mdr.Engine, error) {
	dev, err := C.mdr_device_new_from_sock(C.int(sock))
	if dev == nil {
		if err == nil {
			err = errors.New("unknown error")
		}
		return nil, fmt.Errorf("native: open device: %w", err)
	}
	return &Engine{dev: dev, pending: make(map[uintptr]*op)}, nil
}

func (e *Engine) track(o *op) uintptr {
	o.e = e
	h := newHandle(o)
	e.pending[h] = o
	return h
}

func (e *Engine) untrack(h uintptr) {
	delete(e.pending, h)
	dropHandle(h)
}

func issueErr(what string, err error) error {
	if err == nil {
		err = errors.New("request queue full")
	}
	return fmt.Errorf("native: %s: %w", what, err)
}

func (e *Engine) Init(success func(), fail mdr.ErrorFunc) error {
	if e.dev == nil {
		return mdr.ErrClosed
	}
	h := e.track(&op{oneShot: true, success: success, fail: fail})
	C.mdrd_init(e.dev, C.uintptr_t(h))
	return nil
}

func (e *Engine) GetModelName(success func(string), fail mdr.ErrorFunc) error {
	if e.dev == nil {
		return mdr.ErrClosed
	}
	h := e.track(&op{oneShot: true, name: success, fail: fail})
	if rc, err := C.mdrd_get_name(e.dev, C.uintptr_t(h)); rc < 0 {
		e.untrack(h)
		return issueErr("model name", err)
	}
	return nil
}

// Capabilities reports the functions both the device and this binding
// support. The remaining protocol surface is masked until the
// corresponding libmdr entry points are bound.
func (e *Engine) Capabilities() mdr.CapabilitySet {
	if e.dev == nil {
		return mdr.CapabilitySet{}
	}
	f := C.mdr_device_get_supported_functions(e.dev)
	return mdr.CapabilitySet{
		Battery:          bool(f.battery),
		LeftRightBattery: bool(f.left_right_battery),
		CradleBattery:    bool(f.cradle_battery),
		LeftRight:        bool(f.left_right_connection_status),
	}
}

func (e *Engine) PollInfo() mdr.PollInfo {
	if e.dev == nil {
		return mdr.PollInfo{Timeout: -1}
	}
	info := C.mdr_device_poll_info(e.dev)
	return mdr.PollInfo{
		Timeout:   time.Duration(info.timeout) * time.Millisecond,
		WantWrite: bool(info.write),
	}
}

func (e *Engine) Pump(readable, writable bool) error {
	if e.dev == nil {
		return mdr.ErrClosed
	}
	C.mdr_device_process_by_availability(e.dev, C.bool(readable), C.bool(writable))
	return nil
}

// Close fails every pending one-shot with mdr.ErrClosed, releases all
// callback handles, and closes the device (which closes the socket).
func (e *Engine) Close() error {
	if e.dev == nil {
		return nil
	}
	dev := e.dev
	e.dev = nil
	// Handles go first: completions fired from inside
	// mdr_device_close must find nothing to call.
	pending := e.pending
	e.pending = nil
	for h, o := range pending {
		dropHandle(h)
		if o.oneShot && o.fail != nil {
			o.fail(mdr.ErrClosed)
		}
	}
	C.mdr_device_close(dev)
	return nil
}

func (e *Engine) GetBattery(success func(mdr.Battery), fail mdr.ErrorFunc) error {
	if e.dev == nil {
		return mdr.ErrClosed
	}
	h := e.track(&op{oneShot: true, battery: success, fail: fail})
	if rc, err := C.mdrd_get_battery(e.dev, C.uintptr_t(h)); rc < 0 {
		e.untrack(h)
		return issueErr("battery level", err)
	}
	return nil
}

func (e *Engine) SubscribeBattery(update func(mdr.Battery)) {
	if e.dev == nil {
		return
	}
	h := e.track(&op{battery: update})
	C.mdrd_subscribe_battery(e.dev, C.uintptr_t(h))
}

func (e *Engine) GetDualBattery(success func(mdr.DualBattery), fail mdr.ErrorFunc) error {
	if e.dev == nil {
		return mdr.ErrClosed
	}
	h := e.track(&op{oneShot: true, dual: success, fail: fail})
	if rc, err := C.mdrd_get_dual_battery(e.dev, C.uintptr_t(h)); rc < 0 {
		e.untrack(h)
		return issueErr("left-right battery level", err)
	}
	return nil
}

func (e *Engine) SubscribeDualBattery(update func(mdr.DualBattery)) {
	if e.dev == nil {
		return
	}
	h := e.track(&op{dual: update})
	C.mdrd_subscribe_dual_battery(e.dev, C.uintptr_t(h))
}

func (e *Engine) GetCradleBattery(success func(mdr.Battery), fail mdr.ErrorFunc) error {
	if e.dev == nil {
		return mdr.ErrClosed
	}
	h := e.track(&op{oneShot: true, battery: success, fail: fail})
	if rc, err := C.mdrd_get_cradle_battery(e.dev, C.uintptr_t(h)); rc < 0 {
		e.untrack(h)
		return issueErr("cradle battery level", err)
	}
	return nil
}

func (e *Engine) SubscribeCradleBattery(update func(mdr.Battery)) {
	if e.dev == nil {
		return
	}
	h := e.track(&op{battery: update})
	C.mdrd_subscribe_cradle_battery(e.dev, C.uintptr_t(h))
}

func (e *Engine) GetLeftRight(success func(mdr.LeftRightStatus), fail mdr.ErrorFunc) error {
	if e.dev == nil {
		return mdr.ErrClosed
	}
	h := e.track(&op{oneShot: true, leftRight: success, fail: fail})
	if rc, err := C.mdrd_get_left_right(e.dev, C.uintptr_t(h)); rc < 0 {
		e.untrack(h)
		return issueErr("left-right connection status", err)
	}
	return nil
}

func (e *Engine) SubscribeLeftRight(update func(mdr.LeftRightStatus)) {
	if e.dev == nil {
		return
	}
	h := e.track(&op{leftRight: update})
	C.mdrd_subscribe_left_right(e.dev, C.uintptr_t(h))
}

// Unbound protocol surface. TODO: bind the power-off, ncasm, eq,
// auto-power-off, assignable-settings and playback-volume entry
// points; until then Capabilities masks these functions.

func (e *Engine) PowerOff(func(), mdr.ErrorFunc) error { return mdr.ErrNotSupported }

func (e *Engine) GetNoiseCancelling(func(bool), mdr.ErrorFunc) error { return mdr.ErrNotSupported }
func (e *Engine) SubscribeNoiseCancelling(func(bool))                {}
func (e *Engine) SetNoiseCancelling(bool, func(), mdr.ErrorFunc) error {
	return mdr.ErrNotSupported
}

func (e *Engine) GetAsmCapability(func(mdr.AsmCapability), mdr.ErrorFunc) error {
	return mdr.ErrNotSupported
}
func (e *Engine) GetAmbientSound(func(mdr.AsmState), mdr.ErrorFunc) error {
	return mdr.ErrNotSupported
}
func (e *Engine) SubscribeAmbientSound(func(mdr.AsmState)) {}
func (e *Engine) SetAmbientSound(mdr.AsmState, func(), mdr.ErrorFunc) error {
	return mdr.ErrNotSupported
}

func (e *Engine) GetEqCapability(func(mdr.EqCapability), mdr.ErrorFunc) error {
	return mdr.ErrNotSupported
}
func (e *Engine) GetEq(func(mdr.EqState), mdr.ErrorFunc) error { return mdr.ErrNotSupported }
func (e *Engine) SubscribeEq(func(mdr.EqState))                {}
func (e *Engine) SetEqPreset(uint8, func(), mdr.ErrorFunc) error {
	return mdr.ErrNotSupported
}
func (e *Engine) SetEqLevels([]uint8, func(), mdr.ErrorFunc) error {
	return mdr.ErrNotSupported
}

func (e *Engine) GetAutoPowerOffTimeouts(func([]mdr.NamedValue), mdr.ErrorFunc) error {
	return mdr.ErrNotSupported
}
func (e *Engine) GetAutoPowerOff(func(uint8), mdr.ErrorFunc) error { return mdr.ErrNotSupported }
func (e *Engine) SubscribeAutoPowerOff(func(uint8))                {}
func (e *Engine) SetAutoPowerOff(uint8, func(), mdr.ErrorFunc) error {
	return mdr.ErrNotSupported
}

func (e *Engine) GetAssignableCapability(func([]mdr.KeyCapability), mdr.ErrorFunc) error {
	return mdr.ErrNotSupported
}
func (e *Engine) GetAssignablePresets(func([]uint8), mdr.ErrorFunc) error {
	return mdr.ErrNotSupported
}
func (e *Engine) SubscribeAssignablePresets(func([]uint8)) {}
func (e *Engine) SetAssignablePreset(uint8, uint8, func(), mdr.ErrorFunc) error {
	return mdr.ErrNotSupported
}

func (e *Engine) GetPlaybackVolume(func(mdr.VolumeState), mdr.ErrorFunc) error {
	return mdr.ErrNotSupported
}
func (e *Engine) SubscribePlaybackVolume(func(uint8)) {}
func (e *Engine) SetPlaybackVolume(uint8, func(), mdr.ErrorFunc) error {
	return mdr.ErrNotSupported
}
