package session

import (
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"

	"mdrd/internal/mdr"
	"mdrd/internal/reactor"
)

var (
	// ErrExists is returned when an identity is already registered.
	ErrExists = errors.New("session: already exists")

	// ErrNotFound is returned when no session has the given identity.
	ErrNotFound = errors.New("session: not found")
)

// EngineOpener opens a protocol engine on a connected socket. On
// success the engine owns the descriptor.
type EngineOpener func(sock int) (mdr.Engine, error)

// Registry is the process-wide identity-to-session table and the sole
// owner of every session. Everything else holding a session across a
// suspension point borrows it through the session's reference count.
//
// All methods must be called on the loop goroutine.
type Registry struct {
	log  *slog.Logger
	loop *reactor.Loop
	bus  Bus
	open EngineOpener

	table map[string]*Session
}

// NewRegistry builds an empty registry. open is used for every new
// connection; bus receives the exported device objects.
func NewRegistry(loop *reactor.Loop, bus Bus, open EngineOpener, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:   log,
		loop:  loop,
		bus:   bus,
		open:  open,
		table: make(map[string]*Session),
	}
}

// Create supervises a newly accepted socket as a device session and
// returns the session under creation (nil when creation failed on the
// spot). Exactly one of onSuccess and onError fires, on the loop
// goroutine, once the protocol handshake and the primary interface
// export have settled; the session is not registered until then. The
// socket is owned by the session (or closed) from this call on; on
// error nothing stays registered.
func (r *Registry) Create(identity string, sock int, onSuccess func(*Session), onError func(error)) *Session {
	if identity == "" {
		_ = unix.Close(sock)
		onError(errors.New("session: empty identity"))
		return nil
	}
	if _, ok := r.table[identity]; ok {
		_ = unix.Close(sock)
		onError(fmt.Errorf("session %q: %w", identity, ErrExists))
		return nil
	}

	eng, err := r.open(sock)
	if err != nil {
		_ = unix.Close(sock)
		onError(fmt.Errorf("session %q: open engine: %w", identity, err))
		return nil
	}

	r.log.Debug("connected to device", "device", identity)

	s := &Session{
		log:      r.log,
		registry: r,
		loop:     r.loop,
		bus:      r.bus,
		identity: identity,
		path:     devicePath(identity),
		engine:   eng,
		sock:     sock,
		refs:     2, // registry + reactor source
	}

	c := &creation{s: s, onSuccess: onSuccess, onError: onError}
	if err := eng.Init(
		func() { s.initDone(c) },
		func(err error) { s.creationFailed(c, fmt.Errorf("handshake: %w", err)) },
	); err != nil {
		_ = eng.Close()
		onError(fmt.Errorf("session %q: start handshake: %w", identity, err))
		return nil
	}

	// The handshake completes during later pump turns, so the source
	// must be polling before Init can make progress.
	s.reg = r.loop.Register(&sessionSource{s: s}, s.unref)
	return s
}

// Remove tears down the session registered under identity. This is
// the one place teardown starts: the entry leaves the table first, so
// a second Remove (or a fatal I/O event racing a client request on
// the same turn) is a no-op.
func (r *Registry) Remove(identity string) error {
	s, ok := r.table[identity]
	if !ok {
		return fmt.Errorf("session %q: %w", identity, ErrNotFound)
	}
	delete(r.table, identity)
	s.remove()
	return nil
}

// Get looks up a session by identity.
func (r *Registry) Get(identity string) (*Session, bool) {
	s, ok := r.table[identity]
	return s, ok
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	return len(r.table)
}

// CloseAll tears down every registered session. Used on daemon
// shutdown.
func (r *Registry) CloseAll() {
	for identity, s := range r.table {
		delete(r.table, identity)
		s.remove()
	}
}

// insert records a fully created session. Called from the creation
// chain after the primary interface export succeeded.
func (r *Registry) insert(s *Session) {
	r.table[s.identity] = s
}

// drop removes s from the table if it is still the registered entry.
// Teardown calls it so a session whose last borrow drains without an
// explicit Remove still leaves the table.
func (r *Registry) drop(s *Session) {
	if cur, ok := r.table[s.identity]; ok && cur == s {
		delete(r.table, s.identity)
	}
}
