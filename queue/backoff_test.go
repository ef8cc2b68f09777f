package queue

import (
	"testing"
	"time"
)

// fixedRand pins the jitter factor to exactly 1.0 (rand = 0.5).
func fixedRand() float64 { return 0.5 }

func TestBackoff_Growth(t *testing.T) {
	b := Backoff{Base: 30 * time.Second, Cap: time.Hour, Multiplier: 2.0, Jitter: 0.2, rand: fixedRand}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{4, 4 * time.Minute},
		{5, 8 * time.Minute},
	}

	for _, tt := range tests {
		got := b.Delay(tt.attempt)
		if got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoff_Cap(t *testing.T) {
	b := Backoff{Base: 30 * time.Second, Cap: time.Hour, Multiplier: 2.0, rand: fixedRand}

	if got := b.Delay(20); got != time.Hour {
		t.Errorf("Delay(20) = %v, want capped at 1h", got)
	}
}

func TestBackoff_JitterBounds(t *testing.T) {
	b := DefaultBackoff()

	for i := 0; i < 100; i++ {
		got := b.Delay(1)
		lo := time.Duration(float64(b.Base) * (1 - b.Jitter))
		hi := time.Duration(float64(b.Base) * (1 + b.Jitter))
		if got < lo || got > hi {
			t.Fatalf("Delay(1) = %v outside [%v, %v]", got, lo, hi)
		}
	}
}

func TestBackoff_AttemptFloor(t *testing.T) {
	b := Backoff{Base: 30 * time.Second, Cap: time.Hour, Multiplier: 2.0, rand: fixedRand}

	if got := b.Delay(0); got != 30*time.Second {
		t.Errorf("Delay(0) = %v, want base", got)
	}
	if got := b.Delay(-3); got != 30*time.Second {
		t.Errorf("Delay(-3) = %v, want base", got)
	}
}

func TestBackoff_NextAttempt(t *testing.T) {
	b := Backoff{Base: 30 * time.Second, Cap: time.Hour, Multiplier: 2.0, rand: fixedRand}
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	got := b.NextAttempt(now, 2)
	want := now.Add(time.Minute)
	if !got.Equal(want) {
		t.Errorf("NextAttempt = %v, want %v", got, want)
	}
}
