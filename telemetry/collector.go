package telemetry

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/mdtaxnav/navigator/bus"
)

var (
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("collector already started")

	// ErrNotStarted is returned when Stop is called before Start.
	ErrNotStarted = errors.New("collector not started")
)

// Collector subscribes to submission lifecycle events and feeds the
// counters. Running one next to the admin API keeps its metrics
// current even when transmit workers run in other processes.
type Collector struct {
	metrics *Metrics
	mbus    bus.MessageBus

	running atomic.Bool
	subs    []bus.Subscription
	wg      sync.WaitGroup
}

// NewCollector creates a collector feeding metrics from mbus.
func NewCollector(mbus bus.MessageBus, metrics *Metrics) *Collector {
	return &Collector{
		metrics: metrics,
		mbus:    mbus,
	}
}

// Start subscribes to the lifecycle subjects and begins counting.
func (c *Collector) Start() error {
	if c.running.Swap(true) {
		return ErrAlreadyStarted
	}

	subjects := []string{
		bus.SubjectSubmissionAccepted,
		bus.SubjectSubmissionTransmitted,
		bus.SubjectSubmissionAcknowledged,
		bus.SubjectSubmissionRejected,
		bus.SubjectSubmissionDead,
	}

	for _, subject := range subjects {
		sub, err := c.mbus.Subscribe(subject)
		if err != nil {
			c.stopSubs()
			c.running.Store(false)
			return err
		}
		c.subs = append(c.subs, sub)

		c.wg.Add(1)
		go c.consume(sub)
	}

	return nil
}

// consume counts events from one subscription until its channel closes.
func (c *Collector) consume(sub bus.Subscription) {
	defer c.wg.Done()

	for msg := range sub.Messages() {
		event, err := bus.DecodeEvent(msg)
		if err != nil {
			continue
		}
		c.record(event)
	}
}

// record maps one lifecycle event onto the counters.
func (c *Collector) record(event bus.Event) {
	switch event.Type {
	case bus.EventSubmissionAccepted:
		c.metrics.RecordSubmitted(event.Gateway)
	case bus.EventSubmissionTransmitted:
		c.metrics.RecordTransmitted(event.Gateway)
	case bus.EventSubmissionAcknowledged:
		c.metrics.RecordAcknowledged(event.Gateway)
	case bus.EventSubmissionRejected:
		c.metrics.RecordRejected(event.Gateway)
	case bus.EventSubmissionDead:
		c.metrics.RecordDead(event.Gateway)
	}
}

// Stop unsubscribes and waits for in-flight events to be counted.
func (c *Collector) Stop() error {
	if !c.running.Swap(false) {
		return ErrNotStarted
	}
	c.stopSubs()
	c.wg.Wait()
	return nil
}

func (c *Collector) stopSubs() {
	for _, sub := range c.subs {
		sub.Unsubscribe()
	}
	c.subs = nil
}
