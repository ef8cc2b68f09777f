package api

import (
	"context"
	"net/http"
	"time"

	"github.com/mdtaxnav/navigator/bus"
	"github.com/mdtaxnav/navigator/errors"
	"github.com/mdtaxnav/navigator/queue"
	"github.com/mdtaxnav/navigator/search"
	"go.uber.org/zap"
)

// submitRequest enqueues a return for transmission. The payload is
// the prepared return document, base64 inside JSON.
type submitRequest struct {
	ReturnID       string `json:"return_id"`
	Gateway        string `json:"gateway"`
	Priority       string `json:"priority,omitempty"`
	Payload        []byte `json:"payload"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	MaxAttempts    int    `json:"max_attempts,omitempty"`
}

// submissionJSON is the wire form of a submission. The payload stays
// server-side.
type submissionJSON struct {
	ID            string     `json:"id"`
	ReturnID      string     `json:"return_id"`
	Gateway       string     `json:"gateway"`
	Priority      string     `json:"priority"`
	Status        string     `json:"status"`
	Attempts      int        `json:"attempts"`
	MaxAttempts   int        `json:"max_attempts"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	ClaimedBy     string     `json:"claimed_by,omitempty"`
	Receipt       string     `json:"receipt,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	PayloadBytes  int        `json:"payload_bytes"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func toSubmissionJSON(sub *queue.Submission) submissionJSON {
	out := submissionJSON{
		ID:           sub.ID,
		ReturnID:     sub.ReturnID,
		Gateway:      string(sub.Gateway),
		Priority:     sub.Priority.String(),
		Status:       string(sub.Status),
		Attempts:     sub.Attempts,
		MaxAttempts:  sub.MaxAttempts,
		ClaimedBy:    sub.ClaimedBy,
		Receipt:      sub.Receipt,
		LastError:    sub.LastError,
		PayloadBytes: len(sub.Payload),
		CreatedAt:    sub.CreatedAt,
		UpdatedAt:    sub.UpdatedAt,
	}
	if !sub.NextAttemptAt.IsZero() {
		t := sub.NextAttemptAt
		out.NextAttemptAt = &t
	}
	return out
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ReturnID == "" {
		writeError(w, errors.InvalidInput("return_id is required"))
		return
	}
	if len(req.Payload) == 0 {
		writeError(w, errors.InvalidInput("payload is required"))
		return
	}
	gw := queue.Gateway(req.Gateway)
	if !gw.Valid() {
		writeError(w, errors.InvalidInput("gateway must be mef or ifile"))
		return
	}
	priority, err := queue.ParsePriority(req.Priority)
	if err != nil {
		writeError(w, errors.InvalidInput(err.Error()))
		return
	}

	id, err := s.cfg.Queue.Submit(r.Context(), queue.Submission{
		ReturnID:       req.ReturnID,
		Gateway:        gw,
		Priority:       priority,
		Payload:        req.Payload,
		IdempotencyKey: req.IdempotencyKey,
		MaxAttempts:    req.MaxAttempts,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	sub, err := s.cfg.Queue.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	if s.cfg.Bus != nil {
		_ = bus.PublishEvent(s.cfg.Bus, bus.Event{
			Type:         bus.EventSubmissionAccepted,
			SubmissionID: sub.ID,
			ReturnID:     sub.ReturnID,
			Gateway:      string(sub.Gateway),
		})
	}
	s.indexSubmission(r, sub)
	s.logger.Submitted(sub.ID, string(sub.Gateway), sub.Priority.String())

	writeJSON(w, http.StatusAccepted, toSubmissionJSON(sub))
}

func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	limit, offset := paging(r)
	subs, err := s.cfg.Queue.List(r.Context(), queue.Filter{
		Status:  queue.Status(r.URL.Query().Get("status")),
		Gateway: queue.Gateway(r.URL.Query().Get("gateway")),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]submissionJSON, 0, len(subs))
	for _, sub := range subs {
		out = append(out, toSubmissionJSON(sub))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	sub, err := s.cfg.Queue.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubmissionJSON(sub))
}

// handleListDeadLetters is the navigator's worklist: submissions that
// exhausted their retries.
func (s *Server) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit, offset := paging(r)
	subs, err := s.cfg.Queue.List(r.Context(), queue.Filter{
		Status:  queue.StatusDead,
		Gateway: queue.Gateway(r.URL.Query().Get("gateway")),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]submissionJSON, 0, len(subs))
	for _, sub := range subs {
		out = append(out, toSubmissionJSON(sub))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleRequeue revives a dead submission.
func (s *Server) handleRequeue(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.cfg.Queue.Requeue(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	sub, err := s.cfg.Queue.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	s.indexSubmission(r, sub)
	writeJSON(w, http.StatusOK, toSubmissionJSON(sub))
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.cfg.Queue.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Metrics == nil {
		writeError(w, errors.NotFound("metrics not enabled"))
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Metrics.Snapshot())
}

func (s *Server) handleGatewayHealth(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Tracker == nil {
		writeError(w, errors.NotFound("gateway health tracking not enabled"))
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Tracker.Reports())
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Search == nil {
		writeError(w, errors.NotFound("search not enabled"))
		return
	}

	q := r.URL.Query()
	limit, _ := paging(r)
	hits, err := s.cfg.Search.Search(q.Get("q"), search.Options{
		Status:  q.Get("status"),
		Gateway: q.Get("gateway"),
		Limit:   limit,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

// indexSubmission mirrors a submission into the search index with the
// taxpayer's name resolved through the return's household.
func (s *Server) indexSubmission(r *http.Request, sub *queue.Submission) {
	if s.cfg.Search == nil {
		return
	}
	doc := search.FromSubmission(sub, s.taxpayerName(r.Context(), sub.ReturnID))
	if err := s.cfg.Search.Put(doc); err != nil {
		s.logger.Warn("search index update failed", zap.String("submission_id", sub.ID), zap.Error(err))
	}
}

// taxpayerName resolves the primary member's name for search. Best
// effort; indexing proceeds without a name when lookups fail.
func (s *Server) taxpayerName(ctx context.Context, returnID string) string {
	ret, err := s.cfg.Store.GetReturn(ctx, returnID)
	if err != nil {
		return ""
	}
	members, err := s.cfg.Store.ListMembers(ctx, ret.HouseholdID)
	if err != nil || len(members) == 0 {
		return ""
	}
	return members[0].FirstName + " " + members[0].LastName
}
