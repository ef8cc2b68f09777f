package worker

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/mdtaxnav/navigator/gateway"
	"github.com/mdtaxnav/navigator/queue"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fastBackoff makes retries due almost immediately.
func fastBackoff() queue.Backoff {
	return queue.Backoff{Base: time.Millisecond, Cap: 10 * time.Millisecond, Multiplier: 1.0}
}

// waitFor polls until cond returns true or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// submitOne enqueues a test submission bound for the given gateway.
func submitOne(t *testing.T, q queue.Manager, gw queue.Gateway) string {
	t.Helper()
	id, err := q.Submit(context.Background(), queue.Submission{
		ReturnID: "ret-1",
		Gateway:  gw,
		Payload:  []byte("<Return/>"),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return id
}

// getSub fetches a submission, failing the test on error.
func getSub(t *testing.T, q queue.Manager, id string) *queue.Submission {
	t.Helper()
	sub, err := q.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return sub
}

func TestConfigValidate(t *testing.T) {
	q := queue.NewMemoryManager()
	defer q.Close()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name:    "missing queue",
			cfg:     Config{Clients: map[queue.Gateway]gateway.Client{queue.GatewayMeF: gateway.NewMockClient("mef")}},
			wantErr: true,
		},
		{
			name:    "missing clients",
			cfg:     Config{Queue: q},
			wantErr: true,
		},
		{
			name: "valid",
			cfg: Config{
				Queue:   q,
				Clients: map[queue.Gateway]gateway.Client{queue.GatewayMeF: gateway.NewMockClient("mef")},
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	q := queue.NewMemoryManager()
	defer q.Close()

	cfg := Config{
		Queue:   q,
		Clients: map[queue.Gateway]gateway.Client{queue.GatewayMeF: gateway.NewMockClient("mef")},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.Concurrency != DefaultConcurrency {
		t.Errorf("concurrency = %d, want %d", cfg.Concurrency, DefaultConcurrency)
	}
	if cfg.PollInterval != DefaultPollInterval {
		t.Errorf("poll interval = %v, want %v", cfg.PollInterval, DefaultPollInterval)
	}
	if cfg.NodeID != "navigator" {
		t.Errorf("node ID = %q, want navigator", cfg.NodeID)
	}
	if cfg.Logger == nil {
		t.Error("expected default logger")
	}
}
