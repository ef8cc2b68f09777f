// Package ratelimit throttles transmissions toward the e-file gateways.
//
// The IRS MeF and Maryland iFile endpoints enforce per-transmitter
// volume limits. This package keeps the transmit workers inside those
// limits with a token bucket per gateway, both locally and coordinated
// across navigator nodes.
//
// # Local Rate Limiting
//
// The MemoryLimiter provides per-process rate limiting using token buckets:
//
//	limiter := ratelimit.NewMemoryLimiter()
//	limiter.SetCapacity("mef", 60, time.Minute) // 60 transmissions per minute
//
//	// Block until token available
//	if err := limiter.Acquire(ctx, "mef"); err != nil {
//	    return err // context cancelled
//	}
//	defer limiter.Release("mef")
//
//	// Non-blocking attempt
//	if limiter.TryAcquire("mef") {
//	    defer limiter.Release("mef")
//	    // Transmit
//	}
//
// # Distributed Rate Limiting
//
// The DistributedLimiter coordinates limits across nodes via the message bus:
//
//	limiter, err := ratelimit.NewDistributedLimiter(ratelimit.DistributedConfig{
//	    Bus:    nbus,
//	    NodeID: "navigator-1",
//	})
//	limiter.SetCapacity("mef", 100, time.Minute)
//
//	// Announce reduced capacity (e.g., after a throttling response)
//	limiter.AnnounceReduced("mef", "MeF returned busy")
//
// When one node announces reduced capacity, all nodes shrink their
// local limits to share the remaining capacity, then recover gradually.
//
// # Algorithm
//
// Both implementations use the token bucket algorithm with refill:
//   - Tokens are added at a fixed rate based on capacity/window
//   - Each Acquire consumes one token
//   - If no tokens available, Acquire blocks (or TryAcquire returns false)
//   - Release returns a token to the bucket (optional, for in-flight tracking)
package ratelimit
