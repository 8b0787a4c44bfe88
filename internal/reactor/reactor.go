//go:build linux

// Package reactor runs the daemon's single-threaded readiness loop.
//
// One goroutine owns every registered Source; all session state in the
// daemon is mutated only from that goroutine. Post is the sole entry
// point for other goroutines: it queues a function that runs on the
// next loop turn.
//
// A Source follows a prepare/dispatch cycle: each turn the loop asks
// it for its poll timeout and write interest, polls all source
// descriptors at once, and dispatches readable/writable/hangup flags
// back. Write interest is recomputed every turn and I/O is
// level-triggered, so short reads and writes are retried naturally on
// the next readiness notification.
package reactor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"
)

// Events carries the readiness flags reported for one source.
type Events struct {
	Readable bool
	Writable bool
	Hangup   bool
	Err      bool
}

// Any reports whether any flag is set.
func (e Events) Any() bool {
	return e.Readable || e.Writable || e.Hangup || e.Err
}

// Source is a pollable participant of the loop.
type Source interface {
	// FD returns the descriptor to poll.
	FD() int

	// Prepare returns the poll timeout (negative for none), whether
	// write readiness is wanted, and whether the source should be
	// dispatched immediately without waiting.
	Prepare() (timeout time.Duration, wantWrite bool, ready bool)

	// Dispatch handles one readiness notification. A source whose own
	// timeout elapsed is dispatched with zero Events. Returning false
	// removes the source from the loop.
	Dispatch(ev Events) bool
}

// Registration is a source's membership in the loop.
type Registration struct {
	loop     *Loop
	src      Source
	onRemove func()
	removed  bool

	// per-turn poll state
	idx         int
	ready       bool
	deadline    time.Time
	hasDeadline bool
}

// Remove takes the source out of the loop. It must be called on the
// loop goroutine and is idempotent. The registration's onRemove hook
// runs exactly once, no matter whether removal came from Remove or
// from Dispatch returning false.
func (r *Registration) Remove() {
	r.loop.remove(r)
}

// Loop multiplexes sources and posted tasks on one goroutine.
type Loop struct {
	log *slog.Logger

	mu    sync.Mutex
	tasks *queue.Queue
	done  bool // Run has returned; Post rejects

	wakeR   int
	wakeW   int
	sources []*Registration
	stopped bool
}

// New creates a loop. The wake pipe lets Post interrupt a blocking
// poll from another goroutine.
func New(log *slog.Logger) (*Loop, error) {
	if log == nil {
		log = slog.Default()
	}
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("reactor: wake pipe: %w", err)
	}
	return &Loop{
		log:   log,
		tasks: queue.New(),
		wakeR: p[0],
		wakeW: p[1],
	}, nil
}

// Post queues fn to run on the next loop turn and reports whether it
// was accepted. Safe from any goroutine. Once Run has returned, Post
// rejects; every accepted task runs before Run returns.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.done {
		l.mu.Unlock()
		return false
	}
	l.tasks.Add(fn)
	l.mu.Unlock()
	// Wake a blocking Poll; EAGAIN means a wakeup is already pending.
	_, _ = unix.Write(l.wakeW, []byte{0})
	return true
}

// Stop ends the loop after the tasks already posted have run.
func (l *Loop) Stop() {
	l.Post(func() { l.stopped = true })
}

// Register adds a source. Must be called on the loop goroutine (or
// via Post before Run). onRemove, if non-nil, runs exactly once when
// the registration leaves the loop.
func (l *Loop) Register(src Source, onRemove func()) *Registration {
	reg := &Registration{loop: l, src: src, onRemove: onRemove}
	l.sources = append(l.sources, reg)
	return reg
}

func (l *Loop) remove(reg *Registration) {
	if reg.removed {
		return
	}
	reg.removed = true
	if reg.onRemove != nil {
		reg.onRemove()
	}
}

// Run drives the loop until Stop is called or ctx is done. Remaining
// sources are removed (running their onRemove hooks) before Run
// returns. The wake pipe is closed; the loop cannot be reused.
func (l *Loop) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cancel := context.AfterFunc(ctx, l.Stop)
	defer cancel()

	defer func() {
		// Reject further tasks, then honor the ones already accepted
		// so a caller blocked on a posted reply is not stranded.
		l.mu.Lock()
		l.done = true
		l.mu.Unlock()
		l.runTasks()

		for _, reg := range l.sources {
			l.remove(reg)
		}
		l.sources = nil
		_ = unix.Close(l.wakeR)
		_ = unix.Close(l.wakeW)
	}()

	for {
		l.runTasks()
		if l.stopped {
			return ctx.Err()
		}

		// Snapshot: Dispatch and posted tasks may register new
		// sources mid-turn; they join from the next turn on.
		active := l.sources
		fds := make([]unix.PollFd, 1, 1+len(active))
		fds[0] = unix.PollFd{Fd: int32(l.wakeR), Events: unix.POLLIN}

		now := time.Now()
		timeout := -1
		for _, reg := range active {
			reg.idx = -1
			if reg.removed {
				continue
			}
			t, wantWrite, ready := reg.src.Prepare()
			reg.ready = ready
			reg.hasDeadline = false
			switch {
			case ready:
				timeout = 0
			case t >= 0:
				reg.deadline = now.Add(t)
				reg.hasDeadline = true
				ms := timeoutMillis(t)
				if timeout < 0 || ms < timeout {
					timeout = ms
				}
			}
			ev := int16(unix.POLLIN)
			if wantWrite {
				ev |= unix.POLLOUT
			}
			reg.idx = len(fds)
			fds = append(fds, unix.PollFd{Fd: int32(reg.src.FD()), Events: ev})
		}

		n, err := unix.Poll(fds, timeout)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("reactor: poll: %w", err)
		}
		if n > 0 && fds[0].Revents != 0 {
			l.drainWake()
		}

		now = time.Now()
		for _, reg := range active {
			if reg.removed || reg.idx < 0 {
				continue
			}
			re := fds[reg.idx].Revents
			ev := Events{
				Readable: re&unix.POLLIN != 0,
				Writable: re&unix.POLLOUT != 0,
				Hangup:   re&unix.POLLHUP != 0,
				Err:      re&(unix.POLLERR|unix.POLLNVAL) != 0,
			}
			due := reg.ready || (reg.hasDeadline && !now.Before(reg.deadline))
			if !ev.Any() && !due {
				continue
			}
			if !reg.src.Dispatch(ev) {
				l.remove(reg)
			}
		}

		l.compact()
	}
}

func (l *Loop) runTasks() {
	for {
		l.mu.Lock()
		if l.tasks.Length() == 0 {
			l.mu.Unlock()
			return
		}
		fn := l.tasks.Remove().(func())
		l.mu.Unlock()
		fn()
	}
}

func (l *Loop) drainWake() {
	var buf [64]byte
	for {
		n, err := unix.Read(l.wakeR, buf[:])
		if n < len(buf) || err != nil {
			return
		}
	}
}

func (l *Loop) compact() {
	kept := l.sources[:0]
	for _, reg := range l.sources {
		if !reg.removed {
			kept = append(kept, reg)
		}
	}
	l.sources = kept
}

// timeoutMillis rounds up so a short engine deadline is never polled
// past with a zero timeout.
func timeoutMillis(t time.Duration) int {
	ms := (t + time.Millisecond - 1) / time.Millisecond
	return int(ms)
}
