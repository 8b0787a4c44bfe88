package session

import (
	"time"

	"mdrd/internal/reactor"
)

// sessionSource adapts the protocol engine to the reactor: readiness
// interest and the poll timeout come from the engine's own
// retransmission schedule, dispatched events feed its pump. Hangup or
// a socket error is always fatal and unconditional; everything else
// is level-triggered and re-evaluated next cycle.
type sessionSource struct {
	s *Session
}

func (src *sessionSource) FD() int { return src.s.sock }

func (src *sessionSource) Prepare() (time.Duration, bool, bool) {
	s := src.s
	if !s.alive() {
		return -1, false, false
	}
	info := s.engine.PollInfo()
	if info.Timeout == 0 {
		return 0, info.WantWrite, true
	}
	return info.Timeout, info.WantWrite, false
}

func (src *sessionSource) Dispatch(ev reactor.Events) bool {
	s := src.s
	if !s.alive() {
		return false
	}
	if ev.Hangup || ev.Err {
		s.log.Warn("lost connection to device",
			"device", s.identity, "hangup", ev.Hangup, "error", ev.Err)
		src.fatal()
		return false
	}
	if err := s.engine.Pump(ev.Readable, ev.Writable); err != nil {
		s.log.Error("protocol pump failed", "device", s.identity, "err", err)
		src.fatal()
		return false
	}
	return true
}

// fatal tears the session down on an I/O failure. A session that is
// still mid-handshake has no registry entry yet, so removal starts
// directly on the session; closing the engine fails the pending
// handshake call and reports creation failure to the caller.
func (src *sessionSource) fatal() {
	s := src.s
	if err := s.registry.Remove(s.identity); err != nil {
		s.remove()
	}
}
