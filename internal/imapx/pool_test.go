package imapx

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func connectedConn(t *testing.T) *Conn {
	t.Helper()
	conn := newTestConn(t, &fakeSession{})
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return conn
}

func TestPoolRoundTrip(t *testing.T) {
	pool := NewPool(4, time.Minute, time.Hour, testLogger())
	conn := connectedConn(t)
	key := conn.Key()

	pool.Release(key, conn)
	if got := pool.Size(); got != 1 {
		t.Fatalf("Size = %d, want 1", got)
	}

	got := pool.Acquire(context.Background(), key)
	if got != conn {
		t.Fatalf("Acquire returned %v, want the released connection", got)
	}
	if size := pool.Size(); size != 0 {
		t.Errorf("Size = %d after Acquire, want 0", size)
	}
}

func TestPoolAcquireMissReturnsNil(t *testing.T) {
	pool := NewPool(4, time.Minute, time.Hour, testLogger())
	if got := pool.Acquire(context.Background(), PoolKey("nobody@example.com", "imap.example.com:993")); got != nil {
		t.Fatalf("Acquire on empty pool = %v, want nil", got)
	}
}

func TestPoolRejectsDisconnected(t *testing.T) {
	pool := NewPool(4, time.Minute, time.Hour, testLogger())
	conn := newTestConn(t, &fakeSession{})

	pool.Release(conn.Key(), conn)
	if got := pool.Size(); got != 0 {
		t.Errorf("Size = %d, want 0: unauthenticated connections are never pooled", got)
	}
}

func TestPoolRejectsThrottled(t *testing.T) {
	pool := NewPool(4, time.Minute, time.Hour, testLogger())
	conn := connectedConn(t)
	conn.MarkThrottled(time.Minute)

	pool.Release(conn.Key(), conn)
	if got := pool.Size(); got != 0 {
		t.Errorf("Size = %d, want 0: throttled connections are never pooled", got)
	}
}

func TestPoolEvictsAtCapacity(t *testing.T) {
	pool := NewPool(2, time.Minute, time.Hour, testLogger())

	a := connectedConn(t)
	time.Sleep(5 * time.Millisecond)
	b := connectedConn(t)
	time.Sleep(5 * time.Millisecond)
	c := connectedConn(t)

	pool.Release(PoolKey("a@example.com", "s"), a)
	pool.Release(PoolKey("b@example.com", "s"), b)
	pool.Release(PoolKey("c@example.com", "s"), c)

	if got := pool.Size(); got != 2 {
		t.Fatalf("Size = %d, want capacity 2", got)
	}
	// The oldest idle entry went first.
	if got := pool.Acquire(context.Background(), PoolKey("a@example.com", "s")); got != nil {
		t.Error("least-recently-used connection survived eviction")
	}
	if got := pool.Acquire(context.Background(), PoolKey("c@example.com", "s")); got != c {
		t.Error("most recent connection was evicted")
	}
}

func TestPoolSweepsIdleConnections(t *testing.T) {
	pool := NewPool(4, 5*time.Millisecond, time.Hour, testLogger())
	conn := connectedConn(t)
	key := conn.Key()

	pool.Release(key, conn)
	time.Sleep(20 * time.Millisecond)

	if got := pool.Acquire(context.Background(), key); got != nil {
		t.Fatalf("Acquire returned an idle-expired connection")
	}
	if size := pool.Size(); size != 0 {
		t.Errorf("Size = %d, want 0 after sweep", size)
	}
}

func TestPoolAcquireSkipsDeadConnection(t *testing.T) {
	pool := NewPool(4, time.Minute, time.Hour, testLogger())

	sess := &fakeSession{}
	conn := newTestConn(t, sess)
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	pool.Release(conn.Key(), conn)

	// The server dropped the session while pooled.
	sess.mu.Lock()
	sess.noopErr = errTest("connection reset by peer")
	sess.mu.Unlock()

	if got := pool.Acquire(context.Background(), conn.Key()); got != nil {
		t.Fatalf("Acquire returned a dead connection")
	}
}

func TestPoolClose(t *testing.T) {
	pool := NewPool(4, time.Minute, time.Hour, testLogger())
	a := connectedConn(t)
	b := connectedConn(t)
	pool.Release(PoolKey("a@example.com", "s"), a)
	pool.Release(PoolKey("b@example.com", "s"), b)

	pool.Close()
	if got := pool.Size(); got != 0 {
		t.Errorf("Size = %d after Close, want 0", got)
	}
	if a.State() != StateDisconnected || b.State() != StateDisconnected {
		t.Error("Close left pooled connections connected")
	}
}
