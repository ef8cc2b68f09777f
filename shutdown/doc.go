// Package shutdown coordinates graceful teardown of the navigator
// daemon.
//
// # Overview
//
// Components register handlers under ordered phases: ingress (HTTP API,
// SMS webhook) stops first so no new submissions arrive, then the
// workers drain their transmit claims, then telemetry flushes, and
// storage closes last. Handlers within a phase stop concurrently; the
// whole pass is bounded by a timeout, and any submission still claimed
// when time runs out is recovered by the queue reaper on the next
// start.
//
// # Usage
//
//	coord := shutdown.NewCoordinator(shutdown.Config{
//	    Timeout: 30 * time.Second,
//	    OnProgress: func(r shutdown.Result) {
//	        log.Info("stopped", zap.String("component", r.Name))
//	    },
//	})
//	coord.RegisterFunc("api", shutdown.PhaseIngress, srv.Shutdown)
//	coord.RegisterFunc("pool", shutdown.PhaseWorkers, func(ctx context.Context) error {
//	    return pool.Stop()
//	})
//	coord.RegisterFunc("store", shutdown.PhaseStorage, func(ctx context.Context) error {
//	    return db.Close()
//	})
//	coord.HandleSignals()
//	<-coord.Done()
package shutdown
