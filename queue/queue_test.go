package queue

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mdtaxnav/navigator/store"
)

// fakeClock is a controllable time source shared by both backends in
// the conformance tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// noJitterBackoff keeps retry delays exact for assertions.
func noJitterBackoff() Backoff {
	return Backoff{Base: 30 * time.Second, Cap: time.Hour, Multiplier: 2.0}
}

// eachManager runs the test against both queue backends.
func eachManager(t *testing.T, fn func(t *testing.T, m Manager, clock *fakeClock)) {
	t.Helper()

	backends := map[string]func(t *testing.T, clock *fakeClock) Manager{
		"memory": func(t *testing.T, clock *fakeClock) Manager {
			m := NewMemoryManager(WithClock(clock.Now), WithBackoff(noJitterBackoff()))
			t.Cleanup(func() { m.Close() })
			return m
		},
		"sqlite": func(t *testing.T, clock *fakeClock) Manager {
			db, err := store.Open(filepath.Join(t.TempDir(), "queue.db"))
			if err != nil {
				t.Fatalf("open store: %v", err)
			}
			t.Cleanup(func() { db.Close() })
			return NewSQLiteManager(db, WithClock(clock.Now), WithBackoff(noJitterBackoff()))
		},
	}

	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			clock := newFakeClock()
			fn(t, factory(t, clock), clock)
		})
	}
}

func testSubmission(gw Gateway) Submission {
	return Submission{
		ReturnID: "ret-1",
		Gateway:  gw,
		Payload:  []byte("<Return/>"),
	}
}

// --- Submit ---

func TestSubmit_Defaults(t *testing.T) {
	eachManager(t, func(t *testing.T, m Manager, clock *fakeClock) {
		ctx := context.Background()

		id, err := m.Submit(ctx, testSubmission(GatewayMeF))
		if err != nil {
			t.Fatalf("Submit error: %v", err)
		}
		if id == "" {
			t.Fatal("expected ID to be assigned")
		}

		s, err := m.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get error: %v", err)
		}
		if s.Status != StatusPending {
			t.Errorf("status = %q, want pending", s.Status)
		}
		if s.MaxAttempts != DefaultMaxAttempts {
			t.Errorf("max attempts = %d, want %d", s.MaxAttempts, DefaultMaxAttempts)
		}
		if s.Attempts != 0 {
			t.Errorf("attempts = %d, want 0", s.Attempts)
		}
	})
}

func TestSubmit_ManagerMaxAttempts(t *testing.T) {
	m := NewMemoryManager(WithMaxAttempts(3))
	defer m.Close()
	ctx := context.Background()

	id, err := m.Submit(ctx, testSubmission(GatewayMeF))
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	s, err := m.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if s.MaxAttempts != 3 {
		t.Errorf("max attempts = %d, want 3", s.MaxAttempts)
	}

	// A per-submission value still wins.
	sub := testSubmission(GatewayMeF)
	sub.MaxAttempts = 7
	id, err = m.Submit(ctx, sub)
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	s, err = m.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if s.MaxAttempts != 7 {
		t.Errorf("max attempts = %d, want 7", s.MaxAttempts)
	}
}

func TestSubmit_Validation(t *testing.T) {
	eachManager(t, func(t *testing.T, m Manager, clock *fakeClock) {
		ctx := context.Background()

		tests := []struct {
			name string
			sub  Submission
		}{
			{"missing payload", Submission{ReturnID: "r", Gateway: GatewayMeF}},
			{"missing return", Submission{Gateway: GatewayMeF, Payload: []byte("x")}},
			{"bad gateway", Submission{ReturnID: "r", Gateway: "efile2000", Payload: []byte("x")}},
		}
		for _, tt := range tests {
			if _, err := m.Submit(ctx, tt.sub); !errors.Is(err, ErrInvalidSubmission) {
				t.Errorf("%s: expected ErrInvalidSubmission, got %v", tt.name, err)
			}
		}
	})
}

func TestSubmit_Idempotent(t *testing.T) {
	eachManager(t, func(t *testing.T, m Manager, clock *fakeClock) {
		ctx := context.Background()

		sub := testSubmission(GatewayMeF)
		sub.IdempotencyKey = "ret-1/2025"

		id1, err := m.Submit(ctx, sub)
		if err != nil {
			t.Fatalf("first Submit error: %v", err)
		}
		id2, err := m.Submit(ctx, sub)
		if err != nil {
			t.Fatalf("second Submit error: %v", err)
		}
		if id1 != id2 {
			t.Errorf("ids differ: %q vs %q", id1, id2)
		}

		stats, _ := m.Stats(ctx)
		if stats.Total != 1 {
			t.Errorf("total = %d, want 1", stats.Total)
		}

		got, err := m.GetByIdempotencyKey(ctx, "ret-1/2025")
		if err != nil {
			t.Fatalf("GetByIdempotencyKey error: %v", err)
		}
		if got.ID != id1 {
			t.Errorf("id = %q, want %q", got.ID, id1)
		}
	})
}

// --- ClaimNext ---

func TestClaimNext_Empty(t *testing.T) {
	eachManager(t, func(t *testing.T, m Manager, clock *fakeClock) {
		_, err := m.ClaimNext(context.Background(), "w1")
		if !errors.Is(err, ErrNothingDue) {
			t.Errorf("expected ErrNothingDue, got %v", err)
		}
	})
}

func TestClaimNext_RequiresWorkerID(t *testing.T) {
	eachManager(t, func(t *testing.T, m Manager, clock *fakeClock) {
		_, err := m.ClaimNext(context.Background(), "")
		if !errors.Is(err, ErrInvalidWorkerID) {
			t.Errorf("expected ErrInvalidWorkerID, got %v", err)
		}
	})
}

func TestClaimNext_PriorityOrder(t *testing.T) {
	eachManager(t, func(t *testing.T, m Manager, clock *fakeClock) {
		ctx := context.Background()

		low := testSubmission(GatewayMeF)
		low.Priority = PriorityLow
		urgent := testSubmission(GatewayMeF)
		urgent.Priority = PriorityUrgent
		normal := testSubmission(GatewayMeF)
		normal.Priority = PriorityNormal

		lowID, _ := m.Submit(ctx, low)
		clock.Advance(time.Millisecond)
		urgentID, _ := m.Submit(ctx, urgent)
		clock.Advance(time.Millisecond)
		normalID, _ := m.Submit(ctx, normal)

		want := []string{urgentID, normalID, lowID}
		for i, wantID := range want {
			s, err := m.ClaimNext(ctx, "w1")
			if err != nil {
				t.Fatalf("claim %d error: %v", i, err)
			}
			if s.ID != wantID {
				t.Errorf("claim %d = %q, want %q", i, s.ID, wantID)
			}
		}
	})
}

func TestClaimNext_FIFOWithinPriority(t *testing.T) {
	eachManager(t, func(t *testing.T, m Manager, clock *fakeClock) {
		ctx := context.Background()

		var want []string
		for i := 0; i < 3; i++ {
			id, _ := m.Submit(ctx, testSubmission(GatewayIFile))
			want = append(want, id)
			clock.Advance(time.Millisecond)
		}

		for i, wantID := range want {
			s, err := m.ClaimNext(ctx, "w1")
			if err != nil {
				t.Fatalf("claim %d error: %v", i, err)
			}
			if s.ID != wantID {
				t.Errorf("claim %d = %q, want %q (FIFO)", i, s.ID, wantID)
			}
		}
	})
}

func TestClaimNext_GatewayFilter(t *testing.T) {
	eachManager(t, func(t *testing.T, m Manager, clock *fakeClock) {
		ctx := context.Background()

		m.Submit(ctx, testSubmission(GatewayMeF))
		clock.Advance(time.Millisecond)
		ifileID, _ := m.Submit(ctx, testSubmission(GatewayIFile))

		s, err := m.ClaimNext(ctx, "w1", GatewayIFile)
		if err != nil {
			t.Fatalf("ClaimNext error: %v", err)
		}
		if s.ID != ifileID {
			t.Errorf("claimed %q, want ifile submission %q", s.ID, ifileID)
		}

		if _, err := m.ClaimNext(ctx, "w1", GatewayIFile); !errors.Is(err, ErrNothingDue) {
			t.Errorf("expected ErrNothingDue for drained gateway, got %v", err)
		}
	})
}

func TestClaimNext_SkipsNotDue(t *testing.T) {
	eachManager(t, func(t *testing.T, m Manager, clock *fakeClock) {
		ctx := context.Background()

		id, _ := m.Submit(ctx, testSubmission(GatewayMeF))
		s, _ := m.ClaimNext(ctx, "w1")
		if err := m.Fail(ctx, s.ID, "w1", errors.New("gateway offline")); err != nil {
			t.Fatalf("Fail error: %v", err)
		}

		// Backoff is 30s; not due yet.
		if _, err := m.ClaimNext(ctx, "w1"); !errors.Is(err, ErrNothingDue) {
			t.Errorf("expected ErrNothingDue during backoff, got %v", err)
		}

		clock.Advance(31 * time.Second)

		s2, err := m.ClaimNext(ctx, "w1")
		if err != nil {
			t.Fatalf("ClaimNext after backoff error: %v", err)
		}
		if s2.ID != id {
			t.Errorf("claimed %q, want %q", s2.ID, id)
		}
		if s2.Attempts != 2 {
			t.Errorf("attempts = %d, want 2", s2.Attempts)
		}
	})
}

// --- Transitions ---

func TestMarkTransmitted(t *testing.T) {
	eachManager(t, func(t *testing.T, m Manager, clock *fakeClock) {
		ctx := context.Background()

		id, _ := m.Submit(ctx, testSubmission(GatewayMeF))
		if _, err := m.ClaimNext(ctx, "w1"); err != nil {
			t.Fatalf("ClaimNext error: %v", err)
		}

		if err := m.MarkTransmitted(ctx, id, "w1", "MEF-2026-0001"); err != nil {
			t.Fatalf("MarkTransmitted error: %v", err)
		}

		s, _ := m.Get(ctx, id)
		if s.Status != StatusTransmitted {
			t.Errorf("status = %q, want transmitted", s.Status)
		}
		if s.Receipt != "MEF-2026-0001" {
			t.Errorf("receipt = %q, want MEF-2026-0001", s.Receipt)
		}
		if s.ClaimedBy != "" || s.ClaimedAt != nil {
			t.Error("expected claim to be released")
		}
	})
}

func TestMarkTransmitted_WrongWorker(t *testing.T) {
	eachManager(t, func(t *testing.T, m Manager, clock *fakeClock) {
		ctx := context.Background()

		id, _ := m.Submit(ctx, testSubmission(GatewayMeF))
		m.ClaimNext(ctx, "w1")

		if err := m.MarkTransmitted(ctx, id, "w2", "r"); !errors.Is(err, ErrWrongWorker) {
			t.Errorf("expected ErrWrongWorker, got %v", err)
		}
	})
}

func TestMarkTransmitted_NotClaimed(t *testing.T) {
	eachManager(t, func(t *testing.T, m Manager, clock *fakeClock) {
		ctx := context.Background()

		id, _ := m.Submit(ctx, testSubmission(GatewayMeF))
		if err := m.MarkTransmitted(ctx, id, "w1", "r"); !errors.Is(err, ErrNotClaimed) {
			t.Errorf("expected ErrNotClaimed, got %v", err)
		}
	})
}

func TestMarkAcknowledged(t *testing.T) {
	eachManager(t, func(t *testing.T, m Manager, clock *fakeClock) {
		ctx := context.Background()

		id, _ := m.Submit(ctx, testSubmission(GatewayIFile))
		m.ClaimNext(ctx, "w1")
		m.MarkTransmitted(ctx, id, "w1", "IF-77")

		if err := m.MarkAcknowledged(ctx, id, ""); err != nil {
			t.Fatalf("MarkAcknowledged error: %v", err)
		}
		s, _ := m.Get(ctx, id)
		if s.Status != StatusAcknowledged {
			t.Errorf("status = %q, want acknowledged", s.Status)
		}
		if s.Receipt != "IF-77" {
			t.Errorf("receipt = %q, want IF-77 preserved", s.Receipt)
		}

		// Idempotent.
		if err := m.MarkAcknowledged(ctx, id, ""); err != nil {
			t.Errorf("second MarkAcknowledged error: %v", err)
		}
	})
}

func TestMarkAcknowledged_NotTransmitted(t *testing.T) {
	eachManager(t, func(t *testing.T, m Manager, clock *fakeClock) {
		ctx := context.Background()

		id, _ := m.Submit(ctx, testSubmission(GatewayMeF))
		if err := m.MarkAcknowledged(ctx, id, ""); !errors.Is(err, ErrNotTransmitted) {
			t.Errorf("expected ErrNotTransmitted, got %v", err)
		}
	})
}

func TestMarkRejected_FromClaimed(t *testing.T) {
	eachManager(t, func(t *testing.T, m Manager, clock *fakeClock) {
		ctx := context.Background()

		id, _ := m.Submit(ctx, testSubmission(GatewayMeF))
		m.ClaimNext(ctx, "w1")

		if err := m.MarkRejected(ctx, id, "w2", "schema"); !errors.Is(err, ErrWrongWorker) {
			t.Errorf("expected ErrWrongWorker, got %v", err)
		}
		if err := m.MarkRejected(ctx, id, "w1", "schema validation failed"); err != nil {
			t.Fatalf("MarkRejected error: %v", err)
		}

		s, _ := m.Get(ctx, id)
		if s.Status != StatusRejected {
			t.Errorf("status = %q, want rejected", s.Status)
		}
		if s.LastError != "schema validation failed" {
			t.Errorf("last error = %q", s.LastError)
		}
	})
}

func TestMarkRejected_FromTransmitted(t *testing.T) {
	eachManager(t, func(t *testing.T, m Manager, clock *fakeClock) {
		ctx := context.Background()

		id, _ := m.Submit(ctx, testSubmission(GatewayMeF))
		m.ClaimNext(ctx, "w1")
		m.MarkTransmitted(ctx, id, "w1", "r")

		// Ack processing path; no worker ID.
		if err := m.MarkRejected(ctx, id, "", "duplicate return"); err != nil {
			t.Fatalf("MarkRejected error: %v", err)
		}

		s, _ := m.Get(ctx, id)
		if s.Status != StatusRejected {
			t.Errorf("status = %q, want rejected", s.Status)
		}

		// Idempotent.
		if err := m.MarkRejected(ctx, id, "", "again"); err != nil {
			t.Errorf("second MarkRejected error: %v", err)
		}
	})
}

func TestMarkRejected_Terminal(t *testing.T) {
	eachManager(t, func(t *testing.T, m Manager, clock *fakeClock) {
		ctx := context.Background()

		id, _ := m.Submit(ctx, testSubmission(GatewayMeF))
		m.ClaimNext(ctx, "w1")
		m.MarkTransmitted(ctx, id, "w1", "r")
		m.MarkAcknowledged(ctx, id, "")

		if err := m.MarkRejected(ctx, id, "", "x"); !errors.Is(err, ErrTerminal) {
			t.Errorf("expected ErrTerminal on acknowledged, got %v", err)
		}
	})
}

// --- Fail / dead-letter ---

func TestFail_SchedulesBackoff(t *testing.T) {
	eachManager(t, func(t *testing.T, m Manager, clock *fakeClock) {
		ctx := context.Background()

		id, _ := m.Submit(ctx, testSubmission(GatewayMeF))
		m.ClaimNext(ctx, "w1")

		if err := m.Fail(ctx, id, "w1", errors.New("gateway busy")); err != nil {
			t.Fatalf("Fail error: %v", err)
		}

		s, _ := m.Get(ctx, id)
		if s.Status != StatusPending {
			t.Errorf("status = %q, want pending", s.Status)
		}
		if s.LastError != "gateway busy" {
			t.Errorf("last error = %q", s.LastError)
		}
		want := clock.Now().Add(30 * time.Second)
		if !s.NextAttemptAt.Equal(want) {
			t.Errorf("next attempt = %v, want %v", s.NextAttemptAt, want)
		}
	})
}

func TestFail_DeadLetterAfterMaxAttempts(t *testing.T) {
	eachManager(t, func(t *testing.T, m Manager, clock *fakeClock) {
		ctx := context.Background()

		sub := testSubmission(GatewayMeF)
		sub.MaxAttempts = 2
		id, _ := m.Submit(ctx, sub)

		for attempt := 1; attempt <= 2; attempt++ {
			clock.Advance(time.Hour) // past any backoff
			s, err := m.ClaimNext(ctx, "w1")
			if err != nil {
				t.Fatalf("claim attempt %d error: %v", attempt, err)
			}
			if s.Attempts != attempt {
				t.Errorf("attempts = %d, want %d", s.Attempts, attempt)
			}
			if err := m.Fail(ctx, id, "w1", errors.New("offline")); err != nil {
				t.Fatalf("Fail attempt %d error: %v", attempt, err)
			}
		}

		s, _ := m.Get(ctx, id)
		if s.Status != StatusDead {
			t.Errorf("status = %q, want dead after %d attempts", s.Status, s.MaxAttempts)
		}
		if s.Attempts != s.MaxAttempts {
			t.Errorf("attempts = %d, want exactly %d", s.Attempts, s.MaxAttempts)
		}

		// Dead submissions are not claimable.
		clock.Advance(24 * time.Hour)
		if _, err := m.ClaimNext(ctx, "w1"); !errors.Is(err, ErrNothingDue) {
			t.Errorf("expected ErrNothingDue, got %v", err)
		}
	})
}

func TestRequeue_RevivesDead(t *testing.T) {
	eachManager(t, func(t *testing.T, m Manager, clock *fakeClock) {
		ctx := context.Background()

		sub := testSubmission(GatewayMeF)
		sub.MaxAttempts = 1
		id, _ := m.Submit(ctx, sub)
		m.ClaimNext(ctx, "w1")
		m.Fail(ctx, id, "w1", errors.New("offline"))

		if err := m.Requeue(ctx, id); err != nil {
			t.Fatalf("Requeue error: %v", err)
		}

		s, _ := m.Get(ctx, id)
		if s.Status != StatusPending {
			t.Errorf("status = %q, want pending", s.Status)
		}
		if s.Attempts != 0 {
			t.Errorf("attempts = %d, want reset to 0", s.Attempts)
		}
		if !s.NextAttemptAt.IsZero() {
			t.Errorf("expected immediate due, got %v", s.NextAttemptAt)
		}
	})
}

func TestRequeue_NotDead(t *testing.T) {
	eachManager(t, func(t *testing.T, m Manager, clock *fakeClock) {
		ctx := context.Background()

		id, _ := m.Submit(ctx, testSubmission(GatewayMeF))
		if err := m.Requeue(ctx, id); !errors.Is(err, ErrNotDead) {
			t.Errorf("expected ErrNotDead, got %v", err)
		}
	})
}

func TestRequeueStalled(t *testing.T) {
	eachManager(t, func(t *testing.T, m Manager, clock *fakeClock) {
		ctx := context.Background()

		staleID, _ := m.Submit(ctx, testSubmission(GatewayMeF))
		if _, err := m.ClaimNext(ctx, "w1"); err != nil {
			t.Fatalf("ClaimNext error: %v", err)
		}

		clock.Advance(11 * time.Minute)

		freshID, _ := m.Submit(ctx, testSubmission(GatewayIFile))
		if _, err := m.ClaimNext(ctx, "w2"); err != nil {
			t.Fatalf("second ClaimNext error: %v", err)
		}

		n, err := m.RequeueStalled(ctx, 10*time.Minute)
		if err != nil {
			t.Fatalf("RequeueStalled error: %v", err)
		}
		if n != 1 {
			t.Errorf("requeued = %d, want 1", n)
		}

		stale, _ := m.Get(ctx, staleID)
		if stale.Status != StatusPending {
			t.Errorf("stale status = %q, want pending", stale.Status)
		}
		fresh, _ := m.Get(ctx, freshID)
		if fresh.Status != StatusClaimed {
			t.Errorf("fresh status = %q, want still claimed", fresh.Status)
		}
	})
}

// --- Lookup / list / stats ---

func TestGet_NotFound(t *testing.T) {
	eachManager(t, func(t *testing.T, m Manager, clock *fakeClock) {
		ctx := context.Background()

		if _, err := m.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get: expected ErrNotFound, got %v", err)
		}
		if _, err := m.GetByIdempotencyKey(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetByIdempotencyKey: expected ErrNotFound, got %v", err)
		}
	})
}

func TestList_Filters(t *testing.T) {
	eachManager(t, func(t *testing.T, m Manager, clock *fakeClock) {
		ctx := context.Background()

		mefID, _ := m.Submit(ctx, testSubmission(GatewayMeF))
		clock.Advance(time.Millisecond)
		m.Submit(ctx, testSubmission(GatewayIFile))

		m.ClaimNext(ctx, "w1", GatewayMeF)
		m.MarkTransmitted(ctx, mefID, "w1", "r")

		transmitted, err := m.List(ctx, Filter{Status: StatusTransmitted})
		if err != nil {
			t.Fatalf("List error: %v", err)
		}
		if len(transmitted) != 1 || transmitted[0].ID != mefID {
			t.Errorf("transmitted filter = %v", transmitted)
		}

		ifile, err := m.List(ctx, Filter{Gateway: GatewayIFile})
		if err != nil {
			t.Fatalf("List error: %v", err)
		}
		if len(ifile) != 1 || ifile[0].Gateway != GatewayIFile {
			t.Errorf("gateway filter = %v", ifile)
		}

		all, _ := m.List(ctx, Filter{})
		if len(all) != 2 {
			t.Fatalf("got %d submissions, want 2", len(all))
		}
		// Newest first.
		if !all[0].CreatedAt.After(all[1].CreatedAt) {
			t.Errorf("expected newest first: %v then %v", all[0].CreatedAt, all[1].CreatedAt)
		}
	})
}

func TestStats(t *testing.T) {
	eachManager(t, func(t *testing.T, m Manager, clock *fakeClock) {
		ctx := context.Background()

		m.Submit(ctx, testSubmission(GatewayMeF))
		m.Submit(ctx, testSubmission(GatewayIFile))
		m.Submit(ctx, testSubmission(GatewayIFile))

		m.ClaimNext(ctx, "w1", GatewayMeF)

		st, err := m.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats error: %v", err)
		}
		if st.Total != 3 {
			t.Errorf("total = %d, want 3", st.Total)
		}
		if st.ByStatus[StatusPending] != 2 || st.ByStatus[StatusClaimed] != 1 {
			t.Errorf("by status = %v", st.ByStatus)
		}
		if st.ByGateway[GatewayIFile] != 2 || st.ByGateway[GatewayMeF] != 1 {
			t.Errorf("by gateway = %v", st.ByGateway)
		}
	})
}
