package ratelimit

import (
	"context"
	"errors"
	"time"
)

// Common errors.
var (
	ErrClosed            = errors.New("limiter closed")
	ErrUnknownGateway    = errors.New("unknown gateway")
	ErrCapacityExhausted = errors.New("capacity exhausted")
	ErrInvalidCapacity   = errors.New("invalid capacity")
	ErrInvalidWindow     = errors.New("invalid window")
	ErrInvalidConfig     = errors.New("invalid configuration")
)

// SubjectPrefix is the message bus subject prefix for rate limit messages.
const SubjectPrefix = "efile.ratelimit."

// RateLimiter throttles transmissions toward the e-file gateways.
type RateLimiter interface {
	// Acquire blocks until a token is available for the gateway.
	// Returns context.Canceled or context.DeadlineExceeded if context ends.
	// Returns ErrUnknownGateway if the gateway has no configured capacity.
	Acquire(ctx context.Context, gateway string) error

	// TryAcquire attempts to acquire a token without blocking.
	// Returns true if a token was acquired, false otherwise.
	TryAcquire(gateway string) bool

	// Release returns a token to the gateway bucket.
	// This is optional and useful for tracking in-flight transmissions.
	// Has no effect if the gateway is unknown or already at capacity.
	Release(gateway string)

	// SetCapacity configures the rate limit for a gateway.
	// capacity is the number of tokens per window.
	// window is the time period for refill (e.g., time.Minute).
	SetCapacity(gateway string, capacity int, window time.Duration)

	// AnnounceReduced broadcasts that capacity should be reduced.
	// reason describes why (e.g., "MeF returned throttling response").
	// For distributed limiters, this notifies other navigator nodes.
	// For local limiters, this reduces local capacity only.
	AnnounceReduced(gateway string, reason string)

	// GetCapacity returns the current capacity info for a gateway.
	// Returns nil if the gateway is unknown.
	GetCapacity(gateway string) *Capacity

	// Close shuts down the limiter and releases resources.
	Close() error
}

// Capacity describes the rate limit configuration for a gateway.
type Capacity struct {
	// Gateway is the rate-limited endpoint identifier.
	Gateway string

	// Available is the current number of available tokens.
	Available int

	// Total is the maximum capacity (tokens per window).
	Total int

	// Window is the refill period.
	Window time.Duration

	// InFlight tracks transmissions currently in progress (if Release is used).
	InFlight int
}

// CapacityUpdate is broadcast when capacity changes across nodes.
type CapacityUpdate struct {
	// Gateway that changed.
	Gateway string `json:"gateway"`

	// NodeID that sent the update.
	NodeID string `json:"node_id"`

	// NewCapacity is the suggested new total capacity.
	NewCapacity int `json:"new_capacity"`

	// Reason for the change.
	Reason string `json:"reason"`

	// Timestamp of the update.
	Timestamp time.Time `json:"timestamp"`
}

// OnCapacityChange is a callback for capacity change notifications.
type OnCapacityChange func(update *CapacityUpdate)
