//go:build linux

package reactor

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// testSource is a Source driven by function fields. Defaults: no
// timeout, no write interest, stay registered.
type testSource struct {
	fd       int
	prepare  func() (time.Duration, bool, bool)
	dispatch func(Events) bool
}

func (s *testSource) FD() int { return s.fd }

func (s *testSource) Prepare() (time.Duration, bool, bool) {
	if s.prepare != nil {
		return s.prepare()
	}
	return -1, false, false
}

func (s *testSource) Dispatch(ev Events) bool {
	if s.dispatch != nil {
		return s.dispatch(ev)
	}
	return true
}

func newTestLoop(t *testing.T) *Loop {
	t.Helper()
	l, err := New(slog.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

// run drives the loop with a deadline backstop so a test that never
// stops the loop fails instead of hanging.
func run(t *testing.T, l *Loop) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func testPipe(t *testing.T) (r, w int) {
	t.Helper()
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(p[0])
		unix.Close(p[1])
	})
	return p[0], p[1]
}

func TestPostRunsInOrder(t *testing.T) {
	l := newTestLoop(t)
	var got []int
	for i := 0; i < 5; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	l.Stop()
	run(t, l)

	if len(got) != 5 {
		t.Fatalf("ran %d tasks, want 5", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("task order %v", got)
		}
	}
}

func TestPostAfterRunIsRejected(t *testing.T) {
	l := newTestLoop(t)
	l.Stop()
	run(t, l)

	if l.Post(func() { t.Error("task ran on a finished loop") }) {
		t.Fatal("Post accepted a task after Run returned")
	}
}

func TestDispatchReadable(t *testing.T) {
	r, w := testPipe(t)
	if _, err := unix.Write(w, []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}

	l := newTestLoop(t)
	var got Events
	dispatched := 0
	src := &testSource{
		fd: r,
		dispatch: func(ev Events) bool {
			got = ev
			dispatched++
			l.Stop()
			return false
		},
	}
	removed := 0
	l.Post(func() { l.Register(src, func() { removed++ }) })
	run(t, l)

	if dispatched != 1 {
		t.Fatalf("dispatched %d times, want 1", dispatched)
	}
	if !got.Readable {
		t.Errorf("events %+v, want Readable", got)
	}
	if removed != 1 {
		t.Errorf("onRemove ran %d times, want 1", removed)
	}
}

func TestDispatchWritable(t *testing.T) {
	_, w := testPipe(t)

	l := newTestLoop(t)
	var got Events
	src := &testSource{
		fd: w,
		prepare: func() (time.Duration, bool, bool) {
			return -1, true, false // want write readiness
		},
		dispatch: func(ev Events) bool {
			got = ev
			l.Stop()
			return false
		},
	}
	l.Post(func() { l.Register(src, nil) })
	run(t, l)

	if !got.Writable {
		t.Errorf("events %+v, want Writable", got)
	}
}

func TestDispatchHangup(t *testing.T) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer unix.Close(p[0])
	unix.Close(p[1]) // peer gone

	l := newTestLoop(t)
	var got Events
	src := &testSource{
		fd: p[0],
		dispatch: func(ev Events) bool {
			got = ev
			l.Stop()
			return false
		},
	}
	l.Post(func() { l.Register(src, nil) })
	run(t, l)

	if !got.Hangup {
		t.Errorf("events %+v, want Hangup", got)
	}
}

func TestTimeoutDispatchesZeroEvents(t *testing.T) {
	r, _ := testPipe(t) // never readable

	l := newTestLoop(t)
	var got Events
	fired := false
	src := &testSource{
		fd: r,
		prepare: func() (time.Duration, bool, bool) {
			if fired {
				return -1, false, false
			}
			return 5 * time.Millisecond, false, false
		},
		dispatch: func(ev Events) bool {
			got = ev
			fired = true
			l.Stop()
			return true
		},
	}
	l.Post(func() { l.Register(src, nil) })
	run(t, l)

	if !fired {
		t.Fatal("timeout never dispatched")
	}
	if got.Any() {
		t.Errorf("timeout dispatch carried events %+v, want none", got)
	}
}

func TestReadyDispatchesImmediately(t *testing.T) {
	r, _ := testPipe(t) // fd stays quiet; readiness comes from Prepare

	l := newTestLoop(t)
	fired := false
	src := &testSource{
		fd: r,
		prepare: func() (time.Duration, bool, bool) {
			return -1, false, !fired
		},
		dispatch: func(Events) bool {
			fired = true
			l.Stop()
			return true
		},
	}
	l.Post(func() { l.Register(src, nil) })
	run(t, l)

	if !fired {
		t.Fatal("ready source was not dispatched")
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	r, _ := testPipe(t)
	l := newTestLoop(t)

	removed := 0
	var reg *Registration
	l.Post(func() {
		reg = l.Register(&testSource{fd: r}, func() { removed++ })
	})
	l.Post(func() {
		reg.Remove()
		reg.Remove()
		l.Stop()
	})
	run(t, l)

	if removed != 1 {
		t.Fatalf("onRemove ran %d times, want 1", removed)
	}
}

func TestRunRemovesSourcesOnExit(t *testing.T) {
	r, _ := testPipe(t)
	l := newTestLoop(t)

	removed := 0
	l.Post(func() { l.Register(&testSource{fd: r}, func() { removed++ }) })
	l.Stop()
	run(t, l)

	if removed != 1 {
		t.Fatalf("onRemove ran %d times on shutdown, want 1", removed)
	}
}

func TestContextCancelStopsRun(t *testing.T) {
	l := newTestLoop(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	l.Post(func() {}) // prove the loop is alive
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestPostFromAnotherGoroutineWakesPoll(t *testing.T) {
	l := newTestLoop(t)

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	ran := make(chan struct{})
	// The loop is (or soon will be) blocked in poll with no sources
	// and no timeout; Post must wake it.
	time.Sleep(10 * time.Millisecond)
	l.Post(func() { close(ran) })

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("posted task never ran")
	}
	l.Stop()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}
