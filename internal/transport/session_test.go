package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type fakeConn struct {
	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

func (f *fakeConn) Send(ctx context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("conn closed")
	}
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestAcquire(t *testing.T) {
	ctx := context.Background()

	t.Run("first acquire activates", func(t *testing.T) {
		reg := NewRegistry(nil)
		h, err := reg.Acquire(ctx, "s1", &fakeConn{})
		if err != nil {
			t.Fatalf("acquire: %v", err)
		}
		if h.State() != StateActive {
			t.Errorf("state = %v", h.State())
		}
		if active, ok := reg.Active(); !ok || active != h {
			t.Error("handle not registered as the active session")
		}
	})

	t.Run("same id reuses the handle and adopts the new conn", func(t *testing.T) {
		reg := NewRegistry(nil)
		first := &fakeConn{}
		second := &fakeConn{}

		h1, _ := reg.Acquire(ctx, "s1", first)
		h2, err := reg.Acquire(ctx, "s1", second)
		if err != nil {
			t.Fatalf("reacquire: %v", err)
		}
		if h1 != h2 {
			t.Error("reconnect with the same id must not create a new session")
		}
		if !first.isClosed() {
			t.Error("replaced connection left open")
		}
		if err := h2.Send(ctx, []byte("hi")); err != nil {
			t.Fatalf("send: %v", err)
		}
		if len(second.sent) != 1 {
			t.Error("send did not use the adopted connection")
		}
	})

	t.Run("different id preempts the old session", func(t *testing.T) {
		reg := NewRegistry(nil)
		oldConn := &fakeConn{}

		h1, _ := reg.Acquire(ctx, "s1", oldConn)
		h2, err := reg.Acquire(ctx, "s2", &fakeConn{})
		if err != nil {
			t.Fatalf("acquire s2: %v", err)
		}

		if h1.State() != StateClosed {
			t.Errorf("preempted session state = %v", h1.State())
		}
		if !oldConn.isClosed() {
			t.Error("preempted connection left open")
		}
		if errors.Is(h1.Send(ctx, []byte("x")), ErrSessionClosed) == false {
			t.Error("send on preempted session must fail with ErrSessionClosed")
		}
		if active, ok := reg.Active(); !ok || active != h2 {
			t.Error("new session not active after preemption")
		}
	})
}

func TestStaleReleaseIsNoOp(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(nil)

	h1, _ := reg.Acquire(ctx, "s1", &fakeConn{})
	h2, _ := reg.Acquire(ctx, "s2", &fakeConn{})

	// The preempted session's close callback fires late. It must not clear
	// the session that replaced it.
	h1.Release()

	if active, ok := reg.Active(); !ok || active != h2 {
		t.Fatal("stale release cleared the current session")
	}

	h2.Release()
	if _, ok := reg.Active(); ok {
		t.Error("legitimate release did not clear the singleton")
	}
	if h2.State() != StateClosed {
		t.Errorf("released session state = %v", h2.State())
	}
}

func TestPush(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(nil)

	// No session: push is a silent no-op.
	if err := reg.Push(ctx, []byte("dropped")); err != nil {
		t.Fatalf("push without session: %v", err)
	}

	conn := &fakeConn{}
	if _, err := reg.Acquire(ctx, "s1", conn); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := reg.Push(ctx, []byte("hello")); err != nil {
		t.Fatalf("push: %v", err)
	}
	if len(conn.sent) != 1 || string(conn.sent[0]) != "hello" {
		t.Errorf("payload not delivered: %v", conn.sent)
	}
}
