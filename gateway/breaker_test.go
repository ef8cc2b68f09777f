package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/mdtaxnav/navigator/errors"
)

func TestBreaker_StartsClosed(t *testing.T) {
	b := NewBreaker("mef", DefaultBreakerConfig())

	if b.State() != StateClosed {
		t.Errorf("expected closed, got %s", b.State())
	}
	if err := b.Allow(); err != nil {
		t.Errorf("expected calls allowed, got %v", err)
	}
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b := NewBreaker("mef", BreakerConfig{FailureThreshold: 3, Cooldown: time.Minute})

	for i := 0; i < 2; i++ {
		b.RecordFailure()
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed after 2 failures, got %s", b.State())
	}

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open after 3 failures, got %s", b.State())
	}

	err := b.Allow()
	if !errors.Is(err, errors.ErrCodeCircuitOpen) {
		t.Errorf("expected CIRCUIT_OPEN, got %v", err)
	}
}

func TestBreaker_SuccessResetsFailureRun(t *testing.T) {
	b := NewBreaker("mef", BreakerConfig{FailureThreshold: 3, Cooldown: time.Minute})

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	// Two failures after the reset: still closed.
	if b.State() != StateClosed {
		t.Errorf("expected closed, got %s", b.State())
	}
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	now := time.Now()
	b := NewBreaker("mef", BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute, HalfOpenProbes: 1})
	b.nowFunc = func() time.Time { return now }

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}
	if err := b.Allow(); !errors.Is(err, errors.ErrCodeCircuitOpen) {
		t.Fatalf("expected CIRCUIT_OPEN during cooldown, got %v", err)
	}

	// Cooldown elapses: one probe allowed, second refused.
	now = now.Add(61 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("expected probe allowed after cooldown, got %v", err)
	}
	if err := b.Allow(); !errors.Is(err, errors.ErrCodeCircuitOpen) {
		t.Errorf("expected second probe refused, got %v", err)
	}
}

func TestBreaker_ProbeSuccessCloses(t *testing.T) {
	now := time.Now()
	b := NewBreaker("mef", BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute})
	b.nowFunc = func() time.Time { return now }

	b.RecordFailure()
	now = now.Add(2 * time.Minute)

	if err := b.Allow(); err != nil {
		t.Fatalf("expected probe allowed, got %v", err)
	}
	b.RecordSuccess()

	if b.State() != StateClosed {
		t.Errorf("expected closed after successful probe, got %s", b.State())
	}
	if err := b.Allow(); err != nil {
		t.Errorf("expected calls allowed, got %v", err)
	}
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker("mef", BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute})
	b.nowFunc = func() time.Time { return now }

	b.RecordFailure()
	now = now.Add(2 * time.Minute)

	if err := b.Allow(); err != nil {
		t.Fatalf("expected probe allowed, got %v", err)
	}
	b.RecordFailure()

	if b.State() != StateOpen {
		t.Fatalf("expected open after failed probe, got %s", b.State())
	}
	// Fresh cooldown from the probe failure.
	now = now.Add(30 * time.Second)
	if err := b.Allow(); !errors.Is(err, errors.ErrCodeCircuitOpen) {
		t.Errorf("expected CIRCUIT_OPEN, got %v", err)
	}
}

func TestBreakerClient_FailFast(t *testing.T) {
	mock := NewMockClient("mef")
	mock.SetError(errors.New(errors.ErrCodeUnavailable, "gateway down"))

	bc := NewBreakerClient(mock, BreakerConfig{FailureThreshold: 2, Cooldown: time.Minute})

	ctx := context.Background()
	req := TransmitRequest{SubmissionID: "s1", ReturnID: "r1", Payload: []byte("doc")}

	// Two failures trip the breaker.
	for i := 0; i < 2; i++ {
		if _, err := bc.Transmit(ctx, req); err == nil {
			t.Fatalf("expected transmit error on attempt %d", i+1)
		}
	}

	// Third call is refused without reaching the gateway.
	_, err := bc.Transmit(ctx, req)
	if !errors.Is(err, errors.ErrCodeCircuitOpen) {
		t.Fatalf("expected CIRCUIT_OPEN, got %v", err)
	}
	if mock.TransmitCount() != 2 {
		t.Errorf("expected 2 gateway calls, got %d", mock.TransmitCount())
	}
}

func TestBreakerClient_PermanentErrorsDontTrip(t *testing.T) {
	mock := NewMockClient("mef")
	mock.SetError(errors.SchemaRejected("s1", "bad return"))

	bc := NewBreakerClient(mock, BreakerConfig{FailureThreshold: 2, Cooldown: time.Minute})

	ctx := context.Background()
	req := TransmitRequest{SubmissionID: "s1", ReturnID: "r1", Payload: []byte("doc")}

	// Rejections are the gateway answering, not failing.
	for i := 0; i < 5; i++ {
		if _, err := bc.Transmit(ctx, req); !errors.Is(err, errors.ErrCodeSchemaRejected) {
			t.Fatalf("expected SCHEMA_REJECTED, got %v", err)
		}
	}
	if bc.Breaker().State() != StateClosed {
		t.Errorf("expected breaker closed, got %s", bc.Breaker().State())
	}
}

func TestBreakerClient_PingFeedsBreaker(t *testing.T) {
	mock := NewMockClient("ifile")
	mock.SetPingError(errors.GatewayOffline("ifile"))

	bc := NewBreakerClient(mock, BreakerConfig{FailureThreshold: 2, Cooldown: time.Minute})

	ctx := context.Background()
	bc.Ping(ctx)
	bc.Ping(ctx)

	if bc.Breaker().State() != StateOpen {
		t.Fatalf("expected open after failed pings, got %s", bc.Breaker().State())
	}
	if err := bc.Ping(ctx); !errors.Is(err, errors.ErrCodeCircuitOpen) {
		t.Errorf("expected CIRCUIT_OPEN, got %v", err)
	}
}

func TestBreakerClient_Name(t *testing.T) {
	bc := NewBreakerClient(NewMockClient("mef"), DefaultBreakerConfig())
	if bc.Name() != "mef" {
		t.Errorf("expected mef, got %s", bc.Name())
	}
}
