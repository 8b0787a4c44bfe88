//go:build linux && cgo

package native

/*
#include <stdint.h>
#include <stdbool.h>
*/
import "C"

import (
	"errors"
	"unsafe"

	"mdrd/internal/mdr"
)

// errDevice is delivered when libmdr invokes an error callback; the
// library reports no detail beyond the fact of failure.
var errDevice = errors.New("native: device reported an error")

// Handles stand in for Go pointers on the C side. A plain counter map
// instead of runtime/cgo handles so that a callback arriving after
// Close finds nothing rather than panicking on a deleted handle. No
// locking: the table is only touched from the loop goroutine, and
// libmdr only fires callbacks from inside calls made on it.
var (
	handles    = make(map[uintptr]*op)
	nextHandle uintptr
)

func newHandle(o *op) uintptr {
	nextHandle++
	handles[nextHandle] = o
	return nextHandle
}

func dropHandle(h uintptr) {
	delete(handles, h)
}

// settle resolves a handle for one callback delivery and pops it if it
// was a one-shot. Unknown handles (closed engine, already-settled op)
// return nil and the delivery is dropped. A one-shot leaves its
// engine's pending set here too, so Close never re-fails a callback
// that already fired.
func settle(h uintptr) *op {
	o, ok := handles[h]
	if !ok {
		return nil
	}
	if o.oneShot {
		delete(handles, h)
		delete(o.e.pending, h)
	}
	return o
}

//export mdrdGoSuccess
func mdrdGoSuccess(h C.uintptr_t) {
	if o := settle(uintptr(h)); o != nil && o.success != nil {
		o.success()
	}
}

//export mdrdGoError
func mdrdGoError(h C.uintptr_t) {
	if o := settle(uintptr(h)); o != nil && o.fail != nil {
		o.fail(errDevice)
	}
}

//export mdrdGoName
func mdrdGoName(length C.uint8_t, name *C.uint8_t, h C.uintptr_t) {
	o := settle(uintptr(h))
	if o == nil || o.name == nil {
		return
	}
	o.name(C.GoStringN((*C.char)(unsafe.Pointer(name)), C.int(length)))
}

//export mdrdGoBattery
func mdrdGoBattery(level C.uint8_t, charging C.bool, h C.uintptr_t) {
	if o := settle(uintptr(h)); o != nil && o.battery != nil {
		o.battery(mdr.Battery{Level: uint8(level), Charging: bool(charging)})
	}
}

//export mdrdGoDualBattery
func mdrdGoDualBattery(leftLevel C.uint8_t, leftCharging C.bool,
	rightLevel C.uint8_t, rightCharging C.bool, h C.uintptr_t) {
	if o := settle(uintptr(h)); o != nil && o.dual != nil {
		o.dual(mdr.DualBattery{
			Left:  mdr.Battery{Level: uint8(leftLevel), Charging: bool(leftCharging)},
			Right: mdr.Battery{Level: uint8(rightLevel), Charging: bool(rightCharging)},
		})
	}
}

//export mdrdGoLeftRight
func mdrdGoLeftRight(left, right C.bool, h C.uintptr_t) {
	if o := settle(uintptr(h)); o != nil && o.leftRight != nil {
		o.leftRight(mdr.LeftRightStatus{
			LeftConnected:  bool(left),
			RightConnected: bool(right),
		})
	}
}
