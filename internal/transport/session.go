// Package transport manages the process-wide streaming session: at most one
// ActiveSession exists at any instant, new sessions preempt old ones, and a
// stale close callback can never clear a session it no longer owns.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrSessionClosed is returned by sends on a closed session.
var ErrSessionClosed = errors.New("transport: session closed")

// State is the session lifecycle position.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Conn is the underlying bidirectional transport.
type Conn interface {
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// Handle is one bound session. It stays valid until released or preempted.
type Handle struct {
	id       string
	registry *Registry

	mu    sync.Mutex
	state State
	conn  Conn
}

// SessionID returns the identifier the handle is bound to.
func (h *Handle) SessionID() string { return h.id }

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Send pushes a payload over the session's connection.
func (h *Handle) Send(ctx context.Context, payload []byte) error {
	h.mu.Lock()
	if h.state != StateActive {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionClosed, h.id)
	}
	conn := h.conn
	h.mu.Unlock()
	return conn.Send(ctx, payload)
}

// Release closes the session and clears the singleton slot, but only if
// this handle is still the registered one. A release racing with a
// preemption, or arriving after one, is a no-op.
func (h *Handle) Release() {
	h.registry.release(h)
}

// close transitions Active -> Closing -> Closed and closes the connection.
// Idempotent.
func (h *Handle) close() {
	h.mu.Lock()
	if h.state == StateClosed {
		h.mu.Unlock()
		return
	}
	h.state = StateClosing
	conn := h.conn
	h.state = StateClosed
	h.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

// Registry owns the ActiveSession singleton.
type Registry struct {
	mu     sync.Mutex
	active *Handle
	logger *slog.Logger
}

// NewRegistry creates an empty session registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger.With("component", "transport")}
}

// Acquire binds a connection to a session id and returns its handle.
// Same id as the current session: the existing handle adopts the new
// connection (the old one is closed). Different id: the current session is
// preempted before the new one becomes active.
func (r *Registry) Acquire(ctx context.Context, sessionID string, conn Conn) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sessionID == "" {
		return nil, errors.New("transport: session id required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		if r.active.id == sessionID {
			r.adoptConn(r.active, conn)
			r.logger.Debug("session reconnected", "session_id", sessionID)
			return r.active, nil
		}
		// Preempt: the old session must be fully closed before the new
		// one exists, so there is never a second active session.
		old := r.active
		r.active = nil
		old.close()
		r.logger.Info("session preempted", "old_session_id", old.id, "new_session_id", sessionID)
	}

	h := &Handle{id: sessionID, registry: r, state: StateConnecting, conn: conn}
	h.mu.Lock()
	h.state = StateActive
	h.mu.Unlock()
	r.active = h
	r.logger.Debug("session active", "session_id", sessionID)
	return h, nil
}

func (r *Registry) adoptConn(h *Handle, conn Conn) {
	h.mu.Lock()
	old := h.conn
	h.conn = conn
	h.state = StateActive
	h.mu.Unlock()
	if old != nil && old != conn {
		_ = old.Close()
	}
}

// Active returns the current session handle, if any.
func (r *Registry) Active() (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active, r.active != nil
}

// Push sends a payload to the active session, if one exists.
func (r *Registry) Push(ctx context.Context, payload []byte) error {
	h, ok := r.Active()
	if !ok {
		return nil
	}
	return h.Send(ctx, payload)
}

func (r *Registry) release(h *Handle) {
	r.mu.Lock()
	// Identity guard: only the currently-registered handle may clear the
	// slot. A preempted session's late close callback lands here too.
	if r.active == h {
		r.active = nil
		r.logger.Debug("session released", "session_id", h.id)
	}
	r.mu.Unlock()
	h.close()
}
