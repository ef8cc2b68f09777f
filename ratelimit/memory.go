package ratelimit

import (
	"context"
	"sync"
	"time"
)

// acquirePollInterval is how often a blocked Acquire rechecks for a
// time-based refill while no Release arrives.
const acquirePollInterval = 50 * time.Millisecond

// bucket is the token state for one gateway. Tokens refill
// continuously at configured/window; a throttle announcement shrinks
// capacity, pauses refill for a full window, and the configured
// ceiling is then earned back a quarter at a time over quiet windows.
type bucket struct {
	configured int // operator-configured ceiling
	capacity   int // current ceiling, <= configured after a throttle
	available  int
	window     time.Duration
	lastRefill time.Time

	// pauseUntil suspends refill after the gateway throttles us. The
	// gateways do not say how long to back off, so one full window is
	// the backoff unit.
	pauseUntil   time.Time
	nextRecovery time.Time

	inFlight int
	waiters  *sync.Cond
}

// refill adds tokens for the time elapsed since the last refill and
// steps reduced capacity back toward the configured ceiling once the
// gateway has been quiet for a window. Reports whether tokens were
// added.
func (b *bucket) refill(now time.Time) bool {
	if b.window == 0 || b.capacity == 0 || now.Before(b.pauseUntil) {
		return false
	}

	if b.capacity < b.configured && !b.nextRecovery.IsZero() && !now.Before(b.nextRecovery) {
		step := b.configured / 4
		if step < 1 {
			step = 1
		}
		b.capacity += step
		if b.capacity >= b.configured {
			b.capacity = b.configured
			b.nextRecovery = time.Time{}
		} else {
			b.nextRecovery = now.Add(b.window)
		}
	}

	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return false
	}
	added := int(float64(b.capacity) * float64(elapsed) / float64(b.window))
	if added <= 0 {
		return false
	}
	b.available += added
	if b.available > b.capacity {
		b.available = b.capacity
	}
	b.lastRefill = now
	return true
}

// throttle applies a gateway backoff: shrink the ceiling by a quarter
// (floor 1), stop refilling for a window, and schedule recovery.
func (b *bucket) throttle(now time.Time) {
	reduced := b.capacity * 3 / 4
	if reduced < 1 {
		reduced = 1
	}
	b.capacity = reduced
	if b.available > reduced {
		b.available = reduced
	}
	b.pauseUntil = now.Add(b.window)
	// Restart the refill clock at the end of the pause so the paused
	// time never converts into a burst of tokens.
	b.lastRefill = b.pauseUntil
	b.nextRecovery = now.Add(2 * b.window)
}

// MemoryLimiter throttles transmissions per gateway within one
// process. Safe for concurrent use.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	closed  bool
	nowFunc func() time.Time // for tests
}

// NewMemoryLimiter creates a node-local rate limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		buckets: make(map[string]*bucket),
		nowFunc: time.Now,
	}
}

// SetCapacity configures the rate limit for a gateway. A capacity or
// window of zero removes the gateway. Setting capacity clears any
// throttle state; it is the operator's word on what the gateway
// allows.
func (m *MemoryLimiter) SetCapacity(gateway string, capacity int, window time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	if capacity <= 0 || window <= 0 {
		delete(m.buckets, gateway)
		return
	}

	now := m.nowFunc()
	b, ok := m.buckets[gateway]
	if !ok {
		m.buckets[gateway] = &bucket{
			configured: capacity,
			capacity:   capacity,
			available:  capacity,
			window:     window,
			lastRefill: now,
		}
		return
	}

	b.configured = capacity
	b.capacity = capacity
	b.window = window
	if b.available > capacity {
		b.available = capacity
	}
	b.pauseUntil = time.Time{}
	b.nextRecovery = time.Time{}
	if b.waiters != nil {
		b.waiters.Broadcast()
	}
}

// GetCapacity returns the current capacity for a gateway, nil when the
// gateway is not configured.
func (m *MemoryLimiter) GetCapacity(gateway string) *Capacity {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[gateway]
	if !ok {
		return nil
	}
	b.refill(m.nowFunc())

	return &Capacity{
		Gateway:   gateway,
		Available: b.available,
		Total:     b.capacity,
		Window:    b.window,
		InFlight:  b.inFlight,
	}
}

// Acquire blocks until a token is available for the gateway, the
// context ends, or the limiter closes.
func (m *MemoryLimiter) Acquire(ctx context.Context, gateway string) error {
	if m.TryAcquire(gateway) {
		return nil
	}

	// Wake the waiter when the context ends; cond waits cannot select.
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			m.broadcast(gateway)
		case <-done:
		}
	}()
	defer close(done)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	b, ok := m.buckets[gateway]
	if !ok {
		return ErrUnknownGateway
	}
	if b.waiters == nil {
		b.waiters = sync.NewCond(&m.mu)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if m.closed {
			return ErrClosed
		}
		b, ok = m.buckets[gateway]
		if !ok {
			return ErrUnknownGateway
		}
		if b.waiters == nil {
			b.waiters = sync.NewCond(&m.mu)
		}

		b.refill(m.nowFunc())
		if b.available > 0 {
			b.available--
			b.inFlight++
			return nil
		}

		// No Release may be coming; poke the cond so the time-based
		// refill gets rechecked.
		go func() {
			time.Sleep(acquirePollInterval)
			m.broadcast(gateway)
		}()
		b.waiters.Wait()
	}
}

func (m *MemoryLimiter) broadcast(gateway string) {
	m.mu.Lock()
	if b, ok := m.buckets[gateway]; ok && b.waiters != nil {
		b.waiters.Broadcast()
	}
	m.mu.Unlock()
}

// TryAcquire takes a token without blocking.
func (m *MemoryLimiter) TryAcquire(gateway string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	b, ok := m.buckets[gateway]
	if !ok {
		return false
	}

	b.refill(m.nowFunc())
	if b.available == 0 {
		return false
	}
	b.available--
	b.inFlight++
	return true
}

// Release returns a token after a transmission finishes, letting the
// next waiter go without waiting out the refill.
func (m *MemoryLimiter) Release(gateway string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	b, ok := m.buckets[gateway]
	if !ok {
		return
	}

	if b.inFlight > 0 {
		b.inFlight--
	}
	if b.available < b.capacity {
		b.available++
	}
	if b.waiters != nil {
		b.waiters.Signal()
	}
}

// AnnounceReduced applies a gateway throttle locally: the ceiling
// drops by a quarter and refill pauses for a full window. The memory
// limiter has no peers to notify; reason is carried for parity with
// the distributed limiter.
func (m *MemoryLimiter) AnnounceReduced(gateway string, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[gateway]
	if !ok {
		return
	}
	b.throttle(m.nowFunc())
}

// Close shuts down the limiter and releases all waiters.
func (m *MemoryLimiter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.closed = true

	for _, b := range m.buckets {
		if b.waiters != nil {
			b.waiters.Broadcast()
		}
	}
	return nil
}

var _ RateLimiter = (*MemoryLimiter)(nil)
