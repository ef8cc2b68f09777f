package health

import (
	"errors"
	"time"

	"github.com/mdtaxnav/navigator/bus"
	"github.com/mdtaxnav/navigator/gateway"
)

// Common errors.
var (
	ErrAlreadyStarted = errors.New("health: already started")
	ErrNotStarted     = errors.New("health: not started")
	ErrInvalidConfig  = errors.New("health: invalid configuration")
)

// Status of a gateway as seen by the prober.
type Status string

// Gateway statuses.
const (
	// StatusHealthy means the last probe succeeded.
	StatusHealthy Status = "healthy"

	// StatusDegraded means recent probes failed but the gateway is not
	// yet considered down.
	StatusDegraded Status = "degraded"

	// StatusDown means consecutive failures reached the down threshold.
	StatusDown Status = "down"

	// StatusUnknown means no probe has completed yet.
	StatusUnknown Status = "unknown"
)

// Report is the current health picture for one gateway.
type Report struct {
	Gateway             string    `json:"gateway"`
	Status              Status    `json:"status"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
	LastFailure         time.Time `json:"last_failure,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
	CheckedAt           time.Time `json:"checked_at,omitempty"`
}

// ProberConfig configures a gateway prober.
type ProberConfig struct {
	// Clients are the gateways to probe.
	Clients []gateway.Client

	// Bus, when set, receives gateway.degraded / gateway.recovered
	// events on status transitions.
	Bus bus.MessageBus

	// Interval between probe rounds.
	// Default: 30 seconds
	Interval time.Duration

	// DownThreshold is the number of consecutive failures after which
	// a gateway is reported down.
	// Default: 3
	DownThreshold int
}

// Validate checks the configuration.
func (c *ProberConfig) Validate() error {
	if len(c.Clients) == 0 {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultProberConfig returns configuration with sensible defaults.
func DefaultProberConfig() ProberConfig {
	return ProberConfig{
		Interval:      30 * time.Second,
		DownThreshold: 3,
	}
}
