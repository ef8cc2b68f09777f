// Package queue implements the e-file submission queue.
//
// # Overview
//
// A Submission is a prepared tax return bound for a government gateway
// (IRS MeF or Maryland iFile). Submissions move through a fixed
// lifecycle:
//
//	pending -> claimed -> transmitted -> acknowledged
//	                   \-> rejected        \-> rejected
//	        \-> dead (retries exhausted)
//
// Workers claim the highest-priority due submission (FIFO within a
// priority), transmit it, and report the outcome. Transient failures
// schedule a retry with exponential backoff and jitter; once
// MaxAttempts is exhausted the submission is dead-lettered and waits
// for a human to Requeue it. Claims that outlive the visibility
// timeout (a worker crashed mid-transmit) are returned to pending by
// RequeueStalled.
//
// # Idempotency
//
// Submit deduplicates on IdempotencyKey: resubmitting the same return
// never creates a second queue entry, it returns the original ID.
//
// # Backends
//
// Two Manager implementations share the same semantics:
//
//   - MemoryManager: in-process, for tests and development
//   - SQLiteManager: durable, over the store's submissions table
package queue
