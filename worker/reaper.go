package worker

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mdtaxnav/navigator/logging"
	"github.com/mdtaxnav/navigator/queue"
)

// Reaper returns stalled claims to pending. A claim stalls when a
// worker dies mid-transmission; after the visibility timeout the
// submission becomes claimable again.
type Reaper struct {
	queue      queue.Manager
	interval   time.Duration
	visibility time.Duration
	logger     *logging.Logger

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewReaper creates a stalled-claim reaper. Non-positive interval and
// visibility fall back to DefaultReapInterval and
// DefaultVisibilityTimeout.
func NewReaper(q queue.Manager, interval, visibility time.Duration, logger *logging.Logger) (*Reaper, error) {
	if q == nil {
		return nil, ErrInvalidConfig
	}
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	if visibility <= 0 {
		visibility = DefaultVisibilityTimeout
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Reaper{
		queue:      q,
		interval:   interval,
		visibility: visibility,
		logger:     logger.WithComponent("worker.reaper"),
	}, nil
}

// Start begins reaping on the configured interval.
func (r *Reaper) Start(ctx context.Context) error {
	if r.running.Swap(true) {
		return ErrAlreadyStarted
	}

	if ctx == nil {
		ctx = context.Background()
	}

	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})

	go r.run(ctx)
	return nil
}

// Stop stops reaping.
func (r *Reaper) Stop() error {
	if !r.running.Swap(false) {
		return ErrNotStarted
	}
	close(r.stopCh)
	<-r.doneCh
	return nil
}

func (r *Reaper) run(ctx context.Context) {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.running.Store(false)
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.reap(ctx)
		}
	}
}

// reap requeues claims older than the visibility timeout.
func (r *Reaper) reap(ctx context.Context) {
	n, err := r.queue.RequeueStalled(ctx, r.visibility)
	if err != nil {
		r.logger.Error("requeue stalled failed", zap.Error(err))
		return
	}
	if n > 0 {
		r.logger.Warn("requeued stalled claims",
			zap.Int("count", n),
			zap.Duration("visibility_timeout", r.visibility))
	}
}
