package worker

import (
	"errors"
	"time"

	"github.com/mdtaxnav/navigator/bus"
	"github.com/mdtaxnav/navigator/gateway"
	"github.com/mdtaxnav/navigator/health"
	"github.com/mdtaxnav/navigator/logging"
	"github.com/mdtaxnav/navigator/queue"
	"github.com/mdtaxnav/navigator/ratelimit"
	"github.com/mdtaxnav/navigator/store"
	"github.com/mdtaxnav/navigator/telemetry"
)

var (
	// ErrAlreadyStarted is returned when Start is called on a running
	// component.
	ErrAlreadyStarted = errors.New("already started")

	// ErrNotStarted is returned when Stop is called before Start.
	ErrNotStarted = errors.New("not started")

	// ErrInvalidConfig is returned when required fields are missing.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Defaults applied by Validate.
const (
	DefaultConcurrency  = 4
	DefaultPollInterval = time.Second
	DefaultAckInterval  = time.Minute
	DefaultReapInterval = time.Minute

	// DefaultVisibilityTimeout is how long a claim may sit before the
	// reaper returns the submission to pending.
	DefaultVisibilityTimeout = 10 * time.Minute
)

// Config wires one node's transmit workers, ack poller and reaper.
type Config struct {
	// Queue is the submission queue (required).
	Queue queue.Manager

	// Clients maps each gateway to its client (required, at least one).
	// Wrap with gateway.NewBreakerClient for circuit breaking.
	Clients map[queue.Gateway]gateway.Client

	// Limiter throttles per-gateway transmissions. Optional; gateways
	// without configured capacity are not throttled.
	Limiter ratelimit.RateLimiter

	// Bus receives submission lifecycle events. Optional.
	Bus bus.MessageBus

	// Metrics receives retry, failure and latency records. Optional.
	Metrics *telemetry.Metrics

	// Health is fed transmit outcomes alongside the prober. Optional.
	Health *health.Tracker

	// Store resolves tax years for transmit requests and records acks
	// and return status transitions. Optional.
	Store *store.DB

	// Logger for worker activity. Defaults to a nop logger.
	Logger *logging.Logger

	// NodeID prefixes worker IDs so claims are attributable across
	// nodes. Default: "navigator".
	NodeID string

	// Concurrency is the number of transmit workers. Default: 4.
	Concurrency int

	// PollInterval is how long an idle worker sleeps between claim
	// attempts. Default: 1s.
	PollInterval time.Duration
}

// Validate checks required fields and applies defaults.
func (c *Config) Validate() error {
	if c.Queue == nil {
		return errors.Join(ErrInvalidConfig, errors.New("queue is required"))
	}
	if len(c.Clients) == 0 {
		return errors.Join(ErrInvalidConfig, errors.New("at least one gateway client is required"))
	}
	if c.Logger == nil {
		c.Logger = logging.NewNop()
	}
	if c.NodeID == "" {
		c.NodeID = "navigator"
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return nil
}

// gateways returns the gateway filter for ClaimNext.
func (c *Config) gateways() []queue.Gateway {
	gws := make([]queue.Gateway, 0, len(c.Clients))
	for gw := range c.Clients {
		gws = append(gws, gw)
	}
	return gws
}

// publish emits a lifecycle event, dropping publish failures: they
// are not actionable mid-transmission and the queue is authoritative.
func publish(mb bus.MessageBus, e bus.Event) {
	if mb == nil {
		return
	}
	_ = bus.PublishEvent(mb, e)
}
