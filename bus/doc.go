// Package bus provides message bus clients for submission lifecycle events.
//
// # Overview
//
// The MessageBus interface enables pub/sub fan-out of e-file pipeline
// events: submissions accepted into the queue, transmitted to a gateway,
// acknowledged, rejected, or dead-lettered. All implementations use
// channel-based APIs for Go-idiomatic concurrent use.
//
// # Available Implementations
//
//   - NATSBus: Production-grade messaging using NATS
//   - MemoryBus: In-memory implementation for testing and single-process use
//
// # Patterns
//
// Pub/Sub - broadcast to all subscribers:
//
//	bus.Publish(bus.SubjectSubmissionDead, data)
//	sub, _ := bus.Subscribe(bus.SubjectSubmissionDead)
//	for msg := range sub.Messages() {
//	    // Handle message
//	}
//
// Queue Groups - load balanced across workers:
//
//	sub, _ := bus.QueueSubscribe(bus.SubjectSubmissionAccepted, "transmitters")
//	// Only one worker in the group receives each message
//
// # Queue Groups for Transmit Workers
//
// Queue subscriptions enable load balancing across worker instances:
//
//   - Multiple workers subscribe to same subject with same queue name
//   - Each message delivered to exactly one worker in the queue group
//   - Natural scaling: add more workers to handle more load
//   - No coordination needed between workers
//
// # Typed Events
//
// For the common case of publishing and consuming submission lifecycle
// events, use PublishEvent and SubscribeEvents, which handle the JSON
// envelope:
//
//	bus.PublishEvent(mb, bus.Event{
//	    Type:         bus.EventSubmissionTransmitted,
//	    SubmissionID: id,
//	    Gateway:      "mef",
//	})
package bus
