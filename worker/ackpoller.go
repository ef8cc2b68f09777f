package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mdtaxnav/navigator/bus"
	"github.com/mdtaxnav/navigator/gateway"
	"github.com/mdtaxnav/navigator/logging"
	"github.com/mdtaxnav/navigator/queue"
	"github.com/mdtaxnav/navigator/store"
)

// AckPoller periodically fetches acknowledgments for transmitted
// submissions and applies the gateway's verdict: accepted returns are
// acknowledged, rejected returns move to rejected with the gateway's
// code. Pending acks are left for the next poll.
type AckPoller struct {
	cfg      Config
	interval time.Duration
	logger   *logging.Logger

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewAckPoller creates an acknowledgment poller. interval <= 0 uses
// DefaultAckInterval.
func NewAckPoller(cfg Config, interval time.Duration) (*AckPoller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = DefaultAckInterval
	}
	return &AckPoller{
		cfg:      cfg,
		interval: interval,
		logger:   cfg.Logger.WithComponent("worker.acks"),
	}, nil
}

// Start begins polling. The first poll runs immediately.
func (a *AckPoller) Start(ctx context.Context) error {
	if a.running.Swap(true) {
		return ErrAlreadyStarted
	}

	if ctx == nil {
		ctx = context.Background()
	}

	a.stopCh = make(chan struct{})
	a.doneCh = make(chan struct{})

	go a.run(ctx)
	return nil
}

// Stop stops polling.
func (a *AckPoller) Stop() error {
	if !a.running.Swap(false) {
		return ErrNotStarted
	}
	close(a.stopCh)
	<-a.doneCh
	return nil
}

func (a *AckPoller) run(ctx context.Context) {
	defer close(a.doneCh)

	a.pollAll(ctx)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.running.Store(false)
			return
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.pollAll(ctx)
		}
	}
}

// pollAll fetches acks from every gateway with outstanding receipts.
func (a *AckPoller) pollAll(ctx context.Context) {
	for gw, client := range a.cfg.Clients {
		if err := a.poll(ctx, gw, client); err != nil {
			a.logger.Warn("ack poll failed",
				zap.String("gateway", string(gw)), zap.Error(err))
		}
	}
}

// ackListPage bounds one List call while collecting receipts.
const ackListPage = 100

// poll fetches and applies acknowledgments for one gateway.
func (a *AckPoller) poll(ctx context.Context, gw queue.Gateway, client gateway.Client) error {
	// Page through every transmitted submission. A single capped List
	// would drop the oldest receipts whenever more than one page is
	// outstanding, and those acks would never be fetched.
	var subs []*queue.Submission
	for offset := 0; ; offset += ackListPage {
		page, err := a.cfg.Queue.List(ctx, queue.Filter{
			Status:  queue.StatusTransmitted,
			Gateway: gw,
			Limit:   ackListPage,
			Offset:  offset,
		})
		if err != nil {
			return fmt.Errorf("list transmitted: %w", err)
		}
		subs = append(subs, page...)
		if len(page) < ackListPage {
			break
		}
	}

	byReceipt := make(map[string]*queue.Submission, len(subs))
	receipts := make([]string, 0, len(subs))
	for _, sub := range subs {
		if sub.Receipt == "" {
			continue
		}
		byReceipt[sub.Receipt] = sub
		receipts = append(receipts, sub.Receipt)
	}
	if len(receipts) == 0 {
		return nil
	}

	acks, err := client.FetchAcks(ctx, receipts)
	if err != nil {
		return fmt.Errorf("fetch acks: %w", err)
	}

	for _, ack := range acks {
		sub, ok := byReceipt[ack.ReceiptID]
		if !ok {
			continue
		}
		a.apply(ctx, sub, ack)
	}
	return nil
}

// apply moves one submission according to its acknowledgment.
func (a *AckPoller) apply(ctx context.Context, sub *queue.Submission, ack gateway.Ack) {
	gw := string(sub.Gateway)

	switch ack.Disposition {
	case gateway.DispositionAccepted:
		if err := a.cfg.Queue.MarkAcknowledged(ctx, sub.ID, ack.ReceiptID); err != nil {
			a.logger.Error("mark acknowledged failed",
				zap.String("submission", sub.ID), zap.Error(err))
			return
		}
		a.logger.AckReceived(sub.ID, ack.ReceiptID, string(ack.Disposition))
		a.observeLatency(sub, ack)
		a.recordAck(ctx, sub, ack)
		a.setReturnStatus(ctx, sub.ReturnID, store.ReturnStatusAccepted)
		publish(a.cfg.Bus, bus.Event{
			Type:         bus.EventSubmissionAcknowledged,
			SubmissionID: sub.ID,
			ReturnID:     sub.ReturnID,
			Gateway:      gw,
			Receipt:      ack.ReceiptID,
		})

	case gateway.DispositionRejected:
		reason := ack.Detail
		if ack.Code != "" {
			reason = fmt.Sprintf("%s: %s", ack.Code, ack.Detail)
		}
		if err := a.cfg.Queue.MarkRejected(ctx, sub.ID, "", reason); err != nil {
			a.logger.Error("mark rejected failed",
				zap.String("submission", sub.ID), zap.Error(err))
			return
		}
		a.logger.AckReceived(sub.ID, ack.ReceiptID, string(ack.Disposition))
		a.recordAck(ctx, sub, ack)
		a.setReturnStatus(ctx, sub.ReturnID, store.ReturnStatusRejected)
		publish(a.cfg.Bus, bus.Event{
			Type:         bus.EventSubmissionRejected,
			SubmissionID: sub.ID,
			ReturnID:     sub.ReturnID,
			Gateway:      gw,
			Receipt:      ack.ReceiptID,
			Detail:       reason,
		})

	case gateway.DispositionPending:
		// Still processing; ask again next poll.
	}
}

// observeLatency records transmission-to-acknowledgment latency. The
// submission's UpdatedAt is when it became transmitted.
func (a *AckPoller) observeLatency(sub *queue.Submission, ack gateway.Ack) {
	if a.cfg.Metrics == nil {
		return
	}
	ackedAt := ack.Timestamp
	if ackedAt.IsZero() {
		ackedAt = time.Now().UTC()
	}
	a.cfg.Metrics.ObserveAckLatency(ackedAt.Sub(sub.UpdatedAt))
}

// recordAck stores the acknowledgment when a store is wired.
func (a *AckPoller) recordAck(ctx context.Context, sub *queue.Submission, ack gateway.Ack) {
	if a.cfg.Store == nil {
		return
	}
	status := store.AckStatusAccepted
	if ack.Disposition == gateway.DispositionRejected {
		status = store.AckStatusRejected
	}
	rec := &store.Ack{
		SubmissionID: sub.ID,
		Gateway:      string(sub.Gateway),
		Receipt:      ack.ReceiptID,
		Status:       status,
		Code:         ack.Code,
		Detail:       ack.Detail,
		ReceivedAt:   ack.Timestamp,
	}
	if err := a.cfg.Store.RecordAck(ctx, rec); err != nil {
		a.logger.Error("record ack failed",
			zap.String("submission", sub.ID), zap.Error(err))
	}
}

// setReturnStatus mirrors pool.setReturnStatus for ack transitions.
func (a *AckPoller) setReturnStatus(ctx context.Context, returnID, status string) {
	if a.cfg.Store == nil || returnID == "" {
		return
	}
	if err := a.cfg.Store.SetReturnStatus(ctx, returnID, status); err != nil {
		a.logger.Debug("return status update skipped",
			zap.String("return", returnID), zap.Error(err))
	}
}
