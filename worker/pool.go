package worker

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mdtaxnav/navigator/bus"
	"github.com/mdtaxnav/navigator/errors"
	"github.com/mdtaxnav/navigator/gateway"
	"github.com/mdtaxnav/navigator/logging"
	"github.com/mdtaxnav/navigator/queue"
	"github.com/mdtaxnav/navigator/ratelimit"
	"github.com/mdtaxnav/navigator/store"
)

// Pool runs the transmit workers. Each worker claims due submissions,
// acquires a rate-limit token and transmits through the gateway
// client. Transient failures go back to the queue with backoff,
// permanent failures reject the submission.
type Pool struct {
	cfg    Config
	logger *logging.Logger

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewPool creates a transmit worker pool.
func NewPool(cfg Config) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Pool{
		cfg:    cfg,
		logger: cfg.Logger.WithComponent("worker.pool"),
	}, nil
}

// Start launches the workers.
func (p *Pool) Start(ctx context.Context) error {
	if p.running.Swap(true) {
		return ErrAlreadyStarted
	}

	if ctx == nil {
		ctx = context.Background()
	}

	p.stopCh = make(chan struct{})

	for i := 0; i < p.cfg.Concurrency; i++ {
		workerID := fmt.Sprintf("%s-%d", p.cfg.NodeID, i+1)
		p.wg.Add(1)
		go p.run(ctx, workerID)
	}

	p.logger.Info("transmit workers started",
		zap.Int("concurrency", p.cfg.Concurrency),
		zap.Duration("poll_interval", p.cfg.PollInterval))
	return nil
}

// Stop drains the pool: in-flight transmissions finish, idle workers
// exit. Claims abandoned by a killed process are recovered by the
// reaper instead.
func (p *Pool) Stop() error {
	if !p.running.Swap(false) {
		return ErrNotStarted
	}
	close(p.stopCh)
	p.wg.Wait()
	p.logger.Info("transmit workers stopped")
	return nil
}

// run is one worker's claim loop.
func (p *Pool) run(ctx context.Context, workerID string) {
	defer p.wg.Done()

	gateways := p.cfg.gateways()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		default:
		}

		sub, err := p.cfg.Queue.ClaimNext(ctx, workerID, gateways...)
		switch {
		case err == nil:
			p.transmit(ctx, workerID, sub)
		case stderrors.Is(err, queue.ErrNothingDue):
			p.sleep(ctx)
		case stderrors.Is(err, queue.ErrClosed), stderrors.Is(err, context.Canceled):
			return
		default:
			p.logger.Error("claim failed", zap.String("worker", workerID), zap.Error(err))
			p.sleep(ctx)
		}
	}
}

// sleep waits one poll interval, or until shutdown.
func (p *Pool) sleep(ctx context.Context) {
	timer := time.NewTimer(p.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-p.stopCh:
	case <-timer.C:
	}
}

// transmit sends one claimed submission through its gateway client.
func (p *Pool) transmit(ctx context.Context, workerID string, sub *queue.Submission) {
	gw := string(sub.Gateway)
	client := p.cfg.Clients[sub.Gateway]

	if p.cfg.Limiter != nil {
		err := p.cfg.Limiter.Acquire(ctx, gw)
		switch {
		case err == nil, stderrors.Is(err, ratelimit.ErrUnknownGateway):
			// Unconfigured gateways are not throttled.
		default:
			// Shutdown while waiting for a token. The claim stays put
			// and the reaper returns it to pending.
			return
		}
	}

	req := gateway.TransmitRequest{
		SubmissionID: sub.ID,
		ReturnID:     sub.ReturnID,
		TaxYear:      p.taxYear(ctx, sub.ReturnID),
		Payload:      sub.Payload,
	}

	start := time.Now()
	resp, err := client.Transmit(ctx, req)
	duration := time.Since(start)
	p.logger.GatewayCall(gw, "transmit", duration, err)

	if err != nil {
		p.handleFailure(ctx, workerID, sub, err)
		return
	}

	if p.cfg.Health != nil {
		p.cfg.Health.RecordSuccess(gw)
	}

	if err := p.cfg.Queue.MarkTransmitted(ctx, sub.ID, workerID, resp.ReceiptID); err != nil {
		p.logger.Error("mark transmitted failed",
			zap.String("submission", sub.ID), zap.Error(err))
		return
	}

	p.logger.Transmitted(sub.ID, resp.ReceiptID, duration)
	p.setReturnStatus(ctx, sub.ReturnID, store.ReturnStatusFiled)
	publish(p.cfg.Bus, bus.Event{
		Type:         bus.EventSubmissionTransmitted,
		SubmissionID: sub.ID,
		ReturnID:     sub.ReturnID,
		Gateway:      gw,
		Receipt:      resp.ReceiptID,
	})
}

// handleFailure routes a transmit error: retryable errors reschedule
// with backoff or dead-letter once attempts run out, permanent errors
// reject the submission.
func (p *Pool) handleFailure(ctx context.Context, workerID string, sub *queue.Submission, terr error) {
	gw := string(sub.Gateway)

	if !errors.IsRetryable(terr) {
		// A rejection means the gateway answered; it counts as contact
		// for health purposes.
		if p.cfg.Health != nil {
			p.cfg.Health.RecordSuccess(gw)
		}
		if err := p.cfg.Queue.MarkRejected(ctx, sub.ID, workerID, terr.Error()); err != nil {
			p.logger.Error("mark rejected failed",
				zap.String("submission", sub.ID), zap.Error(err))
			return
		}
		p.setReturnStatus(ctx, sub.ReturnID, store.ReturnStatusRejected)
		publish(p.cfg.Bus, bus.Event{
			Type:         bus.EventSubmissionRejected,
			SubmissionID: sub.ID,
			ReturnID:     sub.ReturnID,
			Gateway:      gw,
			Detail:       terr.Error(),
		})
		return
	}

	if p.cfg.Health != nil {
		p.cfg.Health.RecordFailure(gw, terr)
	}
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.RecordGatewayFailure(gw)
	}
	if p.cfg.Limiter != nil && errors.Is(terr, errors.ErrCodeRateLimit) {
		p.cfg.Limiter.AnnounceReduced(gw, terr.Error())
	}

	if err := p.cfg.Queue.Fail(ctx, sub.ID, workerID, terr); err != nil {
		p.logger.Error("fail transition failed",
			zap.String("submission", sub.ID), zap.Error(err))
		return
	}

	after, err := p.cfg.Queue.Get(ctx, sub.ID)
	if err != nil {
		return
	}

	if after.Status == queue.StatusDead {
		p.logger.DeadLettered(sub.ID, after.Attempts, terr)
		publish(p.cfg.Bus, bus.Event{
			Type:         bus.EventSubmissionDead,
			SubmissionID: sub.ID,
			ReturnID:     sub.ReturnID,
			Gateway:      gw,
			Detail:       after.LastError,
		})
		return
	}

	if p.cfg.Metrics != nil {
		p.cfg.Metrics.RecordRetry(gw)
	}
	p.logger.RetryScheduled(sub.ID, after.Attempts, time.Until(after.NextAttemptAt), terr)
}

// taxYear resolves the return's tax year when a store is wired.
func (p *Pool) taxYear(ctx context.Context, returnID string) int {
	if p.cfg.Store == nil || returnID == "" {
		return 0
	}
	ret, err := p.cfg.Store.GetReturn(ctx, returnID)
	if err != nil {
		return 0
	}
	return ret.TaxYear
}

// setReturnStatus updates the return's filing status when a store is
// wired. Missing returns are tolerated: submissions can be enqueued
// for returns this node does not hold.
func (p *Pool) setReturnStatus(ctx context.Context, returnID, status string) {
	if p.cfg.Store == nil || returnID == "" {
		return
	}
	if err := p.cfg.Store.SetReturnStatus(ctx, returnID, status); err != nil {
		p.logger.Debug("return status update skipped",
			zap.String("return", returnID), zap.Error(err))
	}
}
