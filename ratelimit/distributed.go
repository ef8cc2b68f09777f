package ratelimit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/mdtaxnav/navigator/bus"
)

// DistributedConfig configures a distributed rate limiter.
type DistributedConfig struct {
	// Bus is the message bus for coordination.
	Bus bus.MessageBus

	// NodeID is the unique identifier for this navigator node.
	NodeID string

	// ReduceFactor is the multiplier when reducing capacity (0-1).
	// Default: 0.5 (reduce by 50%)
	ReduceFactor float64

	// RecoveryInterval is how often to attempt capacity recovery.
	// Default: 30 seconds
	RecoveryInterval time.Duration

	// RecoveryFactor is the multiplier when recovering capacity (>1).
	// Default: 1.1 (increase by 10%)
	RecoveryFactor float64

	// MaxRecovery caps recovery at original capacity.
	// Default: true
	MaxRecovery bool
}

// Validate checks the configuration.
func (c *DistributedConfig) Validate() error {
	if c.Bus == nil {
		return ErrInvalidConfig
	}
	if c.NodeID == "" {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultDistributedConfig returns configuration with sensible defaults.
func DefaultDistributedConfig() DistributedConfig {
	return DistributedConfig{
		ReduceFactor:     0.5,
		RecoveryInterval: 30 * time.Second,
		RecoveryFactor:   1.1,
		MaxRecovery:      true,
	}
}

// gatewayConfig tracks per-gateway configuration.
type gatewayConfig struct {
	originalCapacity int           // initial capacity before reductions
	window           time.Duration // refill window
}

// DistributedLimiter coordinates gateway rate limits across navigator
// nodes via the message bus. When one node observes throttling from
// MeF or iFile, every node shrinks its share of the capacity.
type DistributedLimiter struct {
	config DistributedConfig

	// local is the underlying memory limiter
	local *MemoryLimiter

	// originalCapacities tracks original settings for recovery
	mu                 sync.RWMutex
	gatewayConfigs     map[string]*gatewayConfig
	lastReduction      map[string]time.Time
	onCapacityCallback OnCapacityChange

	// subscription for capacity updates
	sub    bus.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDistributedLimiter creates a new distributed rate limiter.
func NewDistributedLimiter(config DistributedConfig) (*DistributedLimiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	// Apply defaults
	if config.ReduceFactor == 0 {
		config.ReduceFactor = DefaultDistributedConfig().ReduceFactor
	}
	if config.RecoveryInterval == 0 {
		config.RecoveryInterval = DefaultDistributedConfig().RecoveryInterval
	}
	if config.RecoveryFactor == 0 {
		config.RecoveryFactor = DefaultDistributedConfig().RecoveryFactor
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &DistributedLimiter{
		config:         config,
		local:          NewMemoryLimiter(),
		gatewayConfigs: make(map[string]*gatewayConfig),
		lastReduction:  make(map[string]time.Time),
		ctx:            ctx,
		cancel:         cancel,
	}

	// Subscribe to capacity updates (use specific subject, not wildcard)
	sub, err := config.Bus.Subscribe(SubjectPrefix + "capacity")
	if err != nil {
		cancel()
		return nil, err
	}
	d.sub = sub

	// Start listener goroutine
	d.wg.Add(1)
	go d.listenForUpdates()

	// Start recovery goroutine
	d.wg.Add(1)
	go d.recoveryLoop()

	return d, nil
}

// listenForUpdates processes capacity updates from other nodes.
func (d *DistributedLimiter) listenForUpdates() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case msg, ok := <-d.sub.Messages():
			if !ok {
				return
			}
			d.handleUpdate(msg)
		}
	}
}

// handleUpdate processes a single capacity update message.
func (d *DistributedLimiter) handleUpdate(msg *bus.Message) {
	var update CapacityUpdate
	if err := json.Unmarshal(msg.Data, &update); err != nil {
		return // Ignore malformed messages
	}

	// Ignore our own updates
	if update.NodeID == d.config.NodeID {
		return
	}

	// Apply the reduced capacity locally
	d.mu.Lock()
	gc, exists := d.gatewayConfigs[update.Gateway]
	if exists && update.NewCapacity < gc.originalCapacity {
		d.local.SetCapacity(update.Gateway, update.NewCapacity, gc.window)
		d.lastReduction[update.Gateway] = time.Now()
	}
	callback := d.onCapacityCallback
	d.mu.Unlock()

	// Notify callback if set
	if callback != nil {
		callback(&update)
	}
}

// recoveryLoop periodically attempts to recover capacity.
func (d *DistributedLimiter) recoveryLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.RecoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.attemptRecovery()
		}
	}
}

// attemptRecovery tries to gradually restore reduced capacity.
func (d *DistributedLimiter) attemptRecovery() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()

	for gateway, lastReduce := range d.lastReduction {
		// Wait at least one recovery interval before recovering
		if now.Sub(lastReduce) < d.config.RecoveryInterval {
			continue
		}

		gc, exists := d.gatewayConfigs[gateway]
		if !exists {
			continue
		}

		current := d.local.GetCapacity(gateway)
		if current == nil {
			continue
		}

		// Gradually increase capacity
		newCapacity := int(float64(current.Total) * d.config.RecoveryFactor)
		if d.config.MaxRecovery && newCapacity > gc.originalCapacity {
			newCapacity = gc.originalCapacity
		}

		if newCapacity > current.Total {
			d.local.SetCapacity(gateway, newCapacity, gc.window)
		}

		// If we've recovered to original, stop tracking
		if newCapacity >= gc.originalCapacity {
			delete(d.lastReduction, gateway)
		}
	}
}

// SetCapacity configures the rate limit for a gateway.
func (d *DistributedLimiter) SetCapacity(gateway string, capacity int, window time.Duration) {
	d.mu.Lock()
	d.gatewayConfigs[gateway] = &gatewayConfig{
		originalCapacity: capacity,
		window:           window,
	}
	d.mu.Unlock()

	d.local.SetCapacity(gateway, capacity, window)
}

// GetCapacity returns the current capacity info for a gateway.
func (d *DistributedLimiter) GetCapacity(gateway string) *Capacity {
	return d.local.GetCapacity(gateway)
}

// Acquire blocks until a token is available for the gateway.
func (d *DistributedLimiter) Acquire(ctx context.Context, gateway string) error {
	return d.local.Acquire(ctx, gateway)
}

// TryAcquire attempts to acquire a token without blocking.
func (d *DistributedLimiter) TryAcquire(gateway string) bool {
	return d.local.TryAcquire(gateway)
}

// Release returns a token to the gateway bucket.
func (d *DistributedLimiter) Release(gateway string) {
	d.local.Release(gateway)
}

// AnnounceReduced broadcasts that capacity should be reduced.
func (d *DistributedLimiter) AnnounceReduced(gateway string, reason string) {
	d.mu.Lock()
	gc, exists := d.gatewayConfigs[gateway]
	if !exists {
		d.mu.Unlock()
		return
	}

	// Calculate reduced capacity
	current := d.local.GetCapacity(gateway)
	if current == nil {
		d.mu.Unlock()
		return
	}

	newCapacity := int(float64(current.Total) * d.config.ReduceFactor)
	if newCapacity < 1 {
		newCapacity = 1
	}

	// Apply locally
	d.local.SetCapacity(gateway, newCapacity, gc.window)
	d.lastReduction[gateway] = time.Now()
	d.mu.Unlock()

	// Broadcast to other nodes
	update := CapacityUpdate{
		Gateway:     gateway,
		NodeID:      d.config.NodeID,
		NewCapacity: newCapacity,
		Reason:      reason,
		Timestamp:   time.Now(),
	}

	data, err := json.Marshal(update)
	if err != nil {
		return
	}

	// Publish to the capacity subject
	_ = d.config.Bus.Publish(SubjectPrefix+"capacity", data)
}

// OnCapacityChange sets a callback for capacity change notifications.
func (d *DistributedLimiter) OnCapacityChange(cb OnCapacityChange) {
	d.mu.Lock()
	d.onCapacityCallback = cb
	d.mu.Unlock()
}

// Close shuts down the limiter.
func (d *DistributedLimiter) Close() error {
	d.cancel()

	if d.sub != nil {
		_ = d.sub.Unsubscribe()
	}

	// Wait for goroutines with timeout
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		// Timeout waiting for goroutines
	}

	return d.local.Close()
}

// Ensure DistributedLimiter implements RateLimiter.
var _ RateLimiter = (*DistributedLimiter)(nil)
