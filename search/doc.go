// Package search maintains a bleve full-text index over e-file
// submissions for the admin API.
//
// Navigators working the dead-letter queue search by taxpayer name,
// error text or gateway acknowledgment code:
//
//	ix, err := search.Open(cfg.IndexPath)
//	hits, err := ix.Search("schema validation", search.Options{
//		Status:  "dead",
//		Gateway: "mef",
//	})
//
// Taxpayer names and error text are analyzed for partial matching;
// identifiers, statuses and ack codes match exactly. An empty query
// with filters lists everything matching the filters.
//
// The index is derived data. It is rebuilt from the store on demand
// and updated as submissions move through the queue, so losing it
// never loses a return.
package search
