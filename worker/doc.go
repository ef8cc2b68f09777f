// Package worker drives the submission queue: the transmit pool, the
// acknowledgment poller and the stalled-claim reaper.
//
// The Pool claims due submissions and transmits them:
//
//	pool, err := worker.NewPool(worker.Config{
//		Queue:   q,
//		Clients: map[queue.Gateway]gateway.Client{
//			queue.GatewayMeF:   gateway.NewBreakerClient(mef, gateway.DefaultBreakerConfig()),
//			queue.GatewayIFile: gateway.NewBreakerClient(ifile, gateway.DefaultBreakerConfig()),
//		},
//		Limiter:     limiter,
//		Bus:         mbus,
//		Concurrency: 4,
//	})
//	pool.Start(ctx)
//
// Transient failures reschedule with exponential backoff until
// MaxAttempts, then dead-letter. Permanent failures reject the
// submission immediately.
//
// The AckPoller resolves transmitted submissions: it fetches
// acknowledgments by receipt and marks each submission acknowledged
// or rejected, recording the ack and updating the tax return's
// filing status when a store is wired.
//
// The Reaper recovers claims abandoned by dead workers, returning
// them to pending after the visibility timeout.
package worker
