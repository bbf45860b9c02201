package imapx

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// PoolKey builds the pool key for an (account, server) pair.
func PoolKey(email, server string) string {
	return email + "|" + server
}

// Pool is a bounded, process-wide set of reusable connections keyed by
// (account, server). It is internally synchronized and independent of any
// account-level sync lock.
type Pool struct {
	max         int
	idleTimeout time.Duration
	maxAge      time.Duration
	logger      *slog.Logger

	mu    sync.Mutex
	conns map[string][]*Conn
}

// NewPool creates an empty pool holding at most max connections in total.
func NewPool(max int, idleTimeout, maxAge time.Duration, logger *slog.Logger) *Pool {
	if max < 1 {
		max = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		max:         max,
		idleTimeout: idleTimeout,
		maxAge:      maxAge,
		logger:      logger.With("component", "imap_pool"),
		conns:       make(map[string][]*Conn),
	}
}

// Acquire returns a live, verified connection for key, or nil when none is
// available (the caller creates one). Stale, over-age and throttled entries
// are swept first.
func (p *Pool) Acquire(ctx context.Context, key string) *Conn {
	p.mu.Lock()
	p.sweepLocked()
	candidates := p.conns[key]
	delete(p.conns, key)
	p.mu.Unlock()

	var result *Conn
	for _, c := range candidates {
		if result == nil && c.VerifyState(ctx, []State{StateAuthenticated, StateFolderSelected}, false, "") {
			result = c
			continue
		}
		if result == nil {
			// Dead connection, drop it.
			c.Disconnect()
			continue
		}
		// Extra live entries go back to the pool.
		p.Release(key, c)
	}
	return result
}

// Release returns a connection to the pool. Dead connections are never
// stored; at capacity the least-recently-used entry is evicted first.
func (p *Pool) Release(key string, c *Conn) {
	if c == nil {
		return
	}
	switch c.State() {
	case StateAuthenticated, StateFolderSelected:
	default:
		c.Disconnect()
		return
	}
	if c.Throttled() {
		c.Disconnect()
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for p.sizeLocked() >= p.max {
		p.evictLRULocked()
	}
	p.conns[key] = append(p.conns[key], c)
}

// Size returns the number of pooled connections.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sizeLocked()
}

func (p *Pool) sizeLocked() int {
	n := 0
	for _, cs := range p.conns {
		n += len(cs)
	}
	return n
}

// sweepLocked evicts idle-timed-out, over-age and throttled entries.
func (p *Pool) sweepLocked() {
	for key, cs := range p.conns {
		kept := cs[:0]
		for _, c := range cs {
			evict := false
			if p.idleTimeout > 0 && c.Idle() > p.idleTimeout {
				evict = true
			}
			if p.maxAge > 0 && c.Age() > p.maxAge {
				evict = true
			}
			if c.Throttled() {
				evict = true
			}
			if evict {
				p.logger.Debug("evicting pooled connection", "key", key,
					"idle", c.Idle(), "age", c.Age(), "throttled", c.Throttled())
				go c.Disconnect()
				continue
			}
			kept = append(kept, c)
		}
		if len(kept) == 0 {
			delete(p.conns, key)
		} else {
			p.conns[key] = kept
		}
	}
}

// evictLRULocked removes the entry with the oldest last activity.
func (p *Pool) evictLRULocked() {
	var (
		lruKey string
		lruIdx int
		lru    *Conn
	)
	for key, cs := range p.conns {
		for i, c := range cs {
			if lru == nil || c.Idle() > lru.Idle() {
				lru, lruKey, lruIdx = c, key, i
			}
		}
	}
	if lru == nil {
		return
	}
	cs := p.conns[lruKey]
	p.conns[lruKey] = append(cs[:lruIdx], cs[lruIdx+1:]...)
	if len(p.conns[lruKey]) == 0 {
		delete(p.conns, lruKey)
	}
	go lru.Disconnect()
}

// Close disconnects and removes all pooled connections.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, cs := range p.conns {
		for _, c := range cs {
			c.Disconnect()
		}
		delete(p.conns, key)
	}
}
