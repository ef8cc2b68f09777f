// Package api serves the navigator admin HTTP interface.
//
// # Overview
//
// Navigator staff manage households, tax returns, and e-file submissions
// through a JSON API. The server fronts the relational store and the
// submission queue, exposes queue statistics and telemetry snapshots, and
// streams submission lifecycle events over SSE so dashboards see returns
// move through transmission live.
//
// # Endpoints
//
//	POST /api/households                create a household
//	GET  /api/households/{id}/returns   returns filed by a household
//	POST /api/submissions               enqueue a prepared return
//	GET  /api/deadletters               submissions out of retries
//	POST /api/submissions/{id}/requeue  revive a dead submission
//	GET  /api/queue/stats               queue depth by status and gateway
//	GET  /api/gateways                  gateway health reports
//	GET  /api/search                    full-text search over submissions
//	GET  /api/events                    SSE lifecycle event stream
//	POST /webhooks/twilio               inbound SMS webhook
//
// # Usage
//
//	srv, err := api.NewServer(api.Config{
//	    Addr:  ":8080",
//	    Store: db,
//	    Queue: q,
//	    Bus:   mbus,
//	})
//	if err != nil {
//	    return err
//	}
//	go srv.Start()
//	defer srv.Shutdown(context.Background())
//
// Errors carry structured codes from the errors package; the HTTP status
// is derived from the code (InvalidInput -> 400, NotFound -> 404,
// RateLimited -> 429, and so on).
package api
