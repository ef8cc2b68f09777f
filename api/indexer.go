package api

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mdtaxnav/navigator/bus"
	"github.com/mdtaxnav/navigator/logging"
	"github.com/mdtaxnav/navigator/queue"
	"github.com/mdtaxnav/navigator/search"
	"github.com/mdtaxnav/navigator/store"
)

// indexerLookupTimeout bounds the re-fetch done for one event.
const indexerLookupTimeout = 5 * time.Second

// searchIndexer keeps the search index aligned with the queue. The
// submit and requeue handlers index directly, but workers move
// submissions to transmitted, rejected and dead without touching the
// API, so the indexer follows the lifecycle events on the bus and
// re-indexes each submission as its status changes. Without it the
// dead-letter search view would only ever see statuses the API itself
// wrote.
type searchIndexer struct {
	queue  queue.Manager
	db     *store.DB
	index  *search.Index
	mbus   bus.MessageBus
	logger *logging.Logger

	running atomic.Bool
	subs    []bus.Subscription
	wg      sync.WaitGroup
}

func newSearchIndexer(q queue.Manager, db *store.DB, idx *search.Index, mbus bus.MessageBus, logger *logging.Logger) *searchIndexer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &searchIndexer{
		queue:  q,
		db:     db,
		index:  idx,
		mbus:   mbus,
		logger: logger.WithComponent("api.indexer"),
	}
}

// Start subscribes to the submission lifecycle subjects.
func (ix *searchIndexer) Start() error {
	if ix.running.Swap(true) {
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
		sub, err := ix.mbus.Subscribe(subject)
		if err != nil {
			ix.stopSubs()
			ix.running.Store(false)
			return err
		}
		ix.subs = append(ix.subs, sub)

		ix.wg.Add(1)
		go ix.consume(sub)
	}
	return nil
}

// Stop unsubscribes and waits for in-flight events to be indexed.
func (ix *searchIndexer) Stop() error {
	if !ix.running.Swap(false) {
		return ErrNotStarted
	}
	ix.stopSubs()
	ix.wg.Wait()
	return nil
}

func (ix *searchIndexer) stopSubs() {
	for _, sub := range ix.subs {
		sub.Unsubscribe()
	}
	ix.subs = nil
}

func (ix *searchIndexer) consume(sub bus.Subscription) {
	defer ix.wg.Done()

	for msg := range sub.Messages() {
		event, err := bus.DecodeEvent(msg)
		if err != nil || event.SubmissionID == "" {
			continue
		}
		ix.reindex(event.SubmissionID)
	}
}

// reindex re-fetches the submission and writes its current state to
// the index. Best effort; a missed update is repaired by the next
// lifecycle event for the same submission.
func (ix *searchIndexer) reindex(submissionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), indexerLookupTimeout)
	defer cancel()

	sub, err := ix.queue.Get(ctx, submissionID)
	if err != nil {
		ix.logger.Debug("reindex lookup failed",
			zap.String("submission_id", submissionID), zap.Error(err))
		return
	}

	doc := search.FromSubmission(sub, ix.lookupName(ctx, sub.ReturnID))
	doc.AckCode = ix.lookupAckCode(ctx, sub)
	if err := ix.index.Put(doc); err != nil {
		ix.logger.Warn("search index update failed",
			zap.String("submission_id", submissionID), zap.Error(err))
	}
}

// lookupName mirrors the handlers' taxpayer-name resolution.
func (ix *searchIndexer) lookupName(ctx context.Context, returnID string) string {
	if ix.db == nil {
		return ""
	}
	ret, err := ix.db.GetReturn(ctx, returnID)
	if err != nil {
		return ""
	}
	members, err := ix.db.ListMembers(ctx, ret.HouseholdID)
	if err != nil || len(members) == 0 {
		return ""
	}
	return members[0].FirstName + " " + members[0].LastName
}

// lookupAckCode pulls the latest recorded ack code, so a rejected
// submission is findable by the gateway's error code.
func (ix *searchIndexer) lookupAckCode(ctx context.Context, sub *queue.Submission) string {
	if ix.db == nil {
		return ""
	}
	acks, err := ix.db.ListAcks(ctx, sub.ID)
	if err != nil || len(acks) == 0 {
		return ""
	}
	return acks[len(acks)-1].Code
}
