package ratelimit

import (
	"container/list"
	"sync"

	"github.com/benbjohnson/clock"
)

// DefaultMaxClients bounds the per-client bucket table.
const DefaultMaxClients = 1024

// Decision is the outcome of Limiter.Allow.
type Decision int

const (
	Allowed Decision = iota
	// DeniedGlobal means the server-wide budget is exhausted.
	DeniedGlobal
	// DeniedClient means this client exceeded its own budget.
	DeniedClient
)

// Limiter combines a global bucket with one bucket per client key. Client
// buckets are kept in an LRU table so a spray of addresses cannot grow it
// without bound.
type Limiter struct {
	clock      clock.Clock
	global     *TokenBucket
	perClient  int64
	maxClients int
	onEvict    func()

	mu      sync.Mutex
	clients map[string]*clientEntry
	lru     *list.List
}

type clientEntry struct {
	bucket *TokenBucket
	elem   *list.Element
}

type LimiterConfig struct {
	// PerSecond is the global budget. <= 0 disables the global bucket.
	PerSecond int
	// PerClientPerSecond is the per-key budget. <= 0 disables per-client
	// buckets.
	PerClientPerSecond int
	MaxClients         int
	// OnEvict is called, outside the lock, once per evicted client bucket.
	OnEvict func()
}

func NewLimiter(clk clock.Clock, cfg LimiterConfig) *Limiter {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = DefaultMaxClients
	}
	l := &Limiter{
		clock:      clk,
		perClient:  int64(cfg.PerClientPerSecond),
		maxClients: cfg.MaxClients,
		onEvict:    cfg.OnEvict,
		clients:    make(map[string]*clientEntry),
		lru:        list.New(),
	}
	if cfg.PerSecond > 0 {
		l.global = NewTokenBucket(clk, int64(cfg.PerSecond), int64(cfg.PerSecond))
	}
	return l
}

// Allow charges one request to key. A nil Limiter allows everything.
func (l *Limiter) Allow(key string) Decision {
	if l == nil {
		return Allowed
	}
	if l.perClient > 0 && !l.clientBucket(key).Allow(1) {
		return DeniedClient
	}
	if l.global != nil && !l.global.Allow(1) {
		return DeniedGlobal
	}
	return Allowed
}

// Clients returns the number of tracked client buckets.
func (l *Limiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func (l *Limiter) clientBucket(key string) *TokenBucket {
	var evicted bool

	l.mu.Lock()
	if entry, ok := l.clients[key]; ok {
		l.lru.MoveToFront(entry.elem)
		l.mu.Unlock()
		return entry.bucket
	}

	if len(l.clients) >= l.maxClients {
		// Oldest at the back.
		if elem := l.lru.Back(); elem != nil {
			l.lru.Remove(elem)
			delete(l.clients, elem.Value.(string))
			evicted = true
		}
	}

	bucket := NewTokenBucket(l.clock, l.perClient, l.perClient)
	l.clients[key] = &clientEntry{bucket: bucket, elem: l.lru.PushFront(key)}
	l.mu.Unlock()

	if evicted && l.onEvict != nil {
		l.onEvict()
	}
	return bucket
}
