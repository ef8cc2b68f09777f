// Package health monitors e-file gateway availability.
//
// A Tracker accumulates call outcomes per gateway: the prober's
// periodic pings, and transmit results reported by workers. Crossing
// the consecutive-failure threshold marks a gateway down; the next
// success brings it back.
//
//	prober, err := health.NewProber(health.ProberConfig{
//		Clients: []gateway.Client{mef, ifile},
//		Bus:     mbus,
//	})
//	prober.Start(ctx)
//
// Status transitions publish gateway.degraded and gateway.recovered
// events on the bus for the SSE stream and telemetry. The admin API
// serves Tracker.Reports().
package health
