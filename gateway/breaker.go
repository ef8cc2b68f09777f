package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/mdtaxnav/navigator/errors"
)

// BreakerState is the current circuit breaker state.
type BreakerState string

// Breaker states.
const (
	// StateClosed allows all calls through.
	StateClosed BreakerState = "closed"

	// StateOpen refuses all calls until the cooldown elapses.
	StateOpen BreakerState = "open"

	// StateHalfOpen allows a limited number of probe calls.
	StateHalfOpen BreakerState = "half-open"
)

// BreakerConfig holds circuit breaker tuning.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that
	// trips the breaker open.
	FailureThreshold int

	// Cooldown is how long the breaker stays open before allowing
	// probe calls.
	Cooldown time.Duration

	// HalfOpenProbes is how many concurrent probe calls the half-open
	// state admits.
	HalfOpenProbes int
}

// DefaultBreakerConfig returns the standard breaker tuning.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         60 * time.Second,
		HalfOpenProbes:   1,
	}
}

// Breaker is a per-gateway circuit breaker. A run of consecutive
// failures trips it open; after the cooldown it admits probe calls,
// and a successful probe closes it again.
type Breaker struct {
	mu       sync.Mutex
	gateway  string
	config   BreakerConfig
	state    BreakerState
	failures int
	openedAt time.Time
	probes   int

	nowFunc func() time.Time
}

// NewBreaker creates a circuit breaker for the named gateway.
func NewBreaker(gateway string, config BreakerConfig) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultBreakerConfig().Cooldown
	}
	if config.HalfOpenProbes <= 0 {
		config.HalfOpenProbes = DefaultBreakerConfig().HalfOpenProbes
	}
	return &Breaker{
		gateway: gateway,
		config:  config,
		state:   StateClosed,
		nowFunc: time.Now,
	}
}

// Allow reports whether a call may proceed. A nil error means the
// caller must follow up with RecordSuccess or RecordFailure.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if b.nowFunc().Sub(b.openedAt) < b.config.Cooldown {
			return errors.CircuitOpen(b.gateway)
		}
		b.state = StateHalfOpen
		b.probes = 0
		fallthrough

	case StateHalfOpen:
		if b.probes >= b.config.HalfOpenProbes {
			return errors.CircuitOpen(b.gateway)
		}
		b.probes++
		return nil
	}

	return nil
}

// RecordSuccess reports a successful call. A success in half-open
// closes the breaker; in closed it resets the failure run.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.state = StateClosed
		b.failures = 0
		b.probes = 0
	case StateClosed:
		b.failures = 0
	}
}

// RecordFailure reports a failed call. Reaching the threshold in
// closed, or any failure in half-open, opens the breaker.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.trip()
	case StateClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.trip()
		}
	}
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.nowFunc()
	b.probes = 0
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.nowFunc().Sub(b.openedAt) >= b.config.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// BreakerClient wraps a Client with a circuit breaker. Calls refused
// by the breaker fail fast with a CIRCUIT_OPEN error; gateway results
// feed the breaker state.
type BreakerClient struct {
	client  Client
	breaker *Breaker
}

// NewBreakerClient wraps client with a breaker using the given config.
func NewBreakerClient(client Client, config BreakerConfig) *BreakerClient {
	return &BreakerClient{
		client:  client,
		breaker: NewBreaker(client.Name(), config),
	}
}

// Name returns the wrapped gateway's name.
func (c *BreakerClient) Name() string {
	return c.client.Name()
}

// Breaker returns the underlying breaker, for health reporting.
func (c *BreakerClient) Breaker() *Breaker {
	return c.breaker
}

// Transmit sends a return through the breaker.
func (c *BreakerClient) Transmit(ctx context.Context, req TransmitRequest) (*TransmitResponse, error) {
	if err := c.breaker.Allow(); err != nil {
		return nil, err
	}
	resp, err := c.client.Transmit(ctx, req)
	c.record(err)
	return resp, err
}

// FetchAcks retrieves acknowledgments through the breaker.
func (c *BreakerClient) FetchAcks(ctx context.Context, receipts []string) ([]Ack, error) {
	if err := c.breaker.Allow(); err != nil {
		return nil, err
	}
	acks, err := c.client.FetchAcks(ctx, receipts)
	c.record(err)
	return acks, err
}

// Ping checks reachability through the breaker.
func (c *BreakerClient) Ping(ctx context.Context) error {
	if err := c.breaker.Allow(); err != nil {
		return err
	}
	err := c.client.Ping(ctx)
	c.record(err)
	return err
}

// record feeds a call outcome into the breaker. Permanent errors are
// the gateway doing its job (rejecting a bad return) and do not count
// against it; only transient, resource and internal failures do.
func (c *BreakerClient) record(err error) {
	if err == nil || errors.IsPermanent(err) {
		c.breaker.RecordSuccess()
		return
	}
	c.breaker.RecordFailure()
}
