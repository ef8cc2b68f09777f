package health

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/mdtaxnav/navigator/bus"
	"github.com/mdtaxnav/navigator/gateway"
)

// Prober pings each gateway on a timer and feeds the tracker. Status
// transitions are published on the bus as gateway.degraded and
// gateway.recovered events.
type Prober struct {
	clients  []gateway.Client
	tracker  *Tracker
	mbus     bus.MessageBus
	interval time.Duration

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewProber creates a gateway prober.
func NewProber(cfg ProberConfig) (*Prober, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultProberConfig().Interval
	}

	p := &Prober{
		clients:  cfg.Clients,
		tracker:  NewTracker(cfg.DownThreshold),
		mbus:     cfg.Bus,
		interval: interval,
	}

	if p.mbus != nil {
		p.tracker.OnDown(func(gw string) {
			p.publish(bus.EventGatewayDegraded, gw)
		})
		p.tracker.OnRecovered(func(gw string) {
			p.publish(bus.EventGatewayRecovered, gw)
		})
	}

	return p, nil
}

// Tracker returns the tracker the prober feeds, for sharing with the
// transmit worker and the admin API.
func (p *Prober) Tracker() *Tracker {
	return p.tracker
}

// Start begins probing at the configured interval.
func (p *Prober) Start(ctx context.Context) error {
	if p.running.Swap(true) {
		return ErrAlreadyStarted
	}

	if ctx == nil {
		ctx = context.Background()
	}

	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	go p.run(ctx)
	return nil
}

// run is the probe loop.
func (p *Prober) run(ctx context.Context) {
	defer close(p.doneCh)

	p.probeAll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.running.Store(false)
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.probeAll(ctx)
		}
	}
}

// probeAll pings every gateway once.
func (p *Prober) probeAll(ctx context.Context) {
	for _, client := range p.clients {
		probeCtx, cancel := context.WithTimeout(ctx, p.interval)
		err := client.Ping(probeCtx)
		cancel()

		if err != nil {
			p.tracker.RecordFailure(client.Name(), err)
		} else {
			p.tracker.RecordSuccess(client.Name())
		}
	}
}

// publish emits a gateway lifecycle event. Publish failures are not
// actionable here and are dropped.
func (p *Prober) publish(eventType bus.EventType, gw string) {
	detail := ""
	if r := p.tracker.Report(gw); r.LastError != "" && eventType == bus.EventGatewayDegraded {
		detail = r.LastError
	}
	_ = bus.PublishEvent(p.mbus, bus.Event{
		Type:    eventType,
		Gateway: gw,
		Detail:  detail,
	})
}

// Stop stops probing.
func (p *Prober) Stop() error {
	if !p.running.Swap(false) {
		return ErrNotStarted
	}
	close(p.stopCh)
	<-p.doneCh
	return nil
}
