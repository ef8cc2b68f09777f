package worker

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mdtaxnav/navigator/gateway"
	"github.com/mdtaxnav/navigator/queue"
)

// transmitOne pushes a submission through claim and MarkTransmitted
// so the ack poller has a receipt to resolve.
func transmitOne(t *testing.T, q queue.Manager, gw queue.Gateway, receipt string) string {
	t.Helper()
	ctx := context.Background()

	id := submitOne(t, q, gw)
	sub, err := q.ClaimNext(ctx, "test-worker", gw)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if sub.ID != id {
		t.Fatalf("claimed %s, want %s", sub.ID, id)
	}
	if err := q.MarkTransmitted(ctx, id, "test-worker", receipt); err != nil {
		t.Fatalf("mark transmitted: %v", err)
	}
	return id
}

// startAckPoller builds and starts a poller with a fast interval.
func startAckPoller(t *testing.T, cfg Config) *AckPoller {
	t.Helper()
	poller, err := NewAckPoller(cfg, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("new ack poller: %v", err)
	}
	if err := poller.Start(context.Background()); err != nil {
		t.Fatalf("start ack poller: %v", err)
	}
	t.Cleanup(func() {
		if poller.running.Load() {
			poller.Stop()
		}
	})
	return poller
}

func TestAckPollerAcknowledges(t *testing.T) {
	q := queue.NewMemoryManager()
	defer q.Close()
	mock := gateway.NewMockClient("mef")

	id := transmitOne(t, q, queue.GatewayMeF, "MEF-2026-0001")
	mock.QueueAck(gateway.Ack{
		ReceiptID:   "MEF-2026-0001",
		Disposition: gateway.DispositionAccepted,
		Timestamp:   time.Now().UTC(),
	})

	startAckPoller(t, Config{
		Queue:   q,
		Clients: map[queue.Gateway]gateway.Client{queue.GatewayMeF: mock},
	})

	waitFor(t, func() bool {
		return getSub(t, q, id).Status == queue.StatusAcknowledged
	})
}

func TestAckPollerRejects(t *testing.T) {
	q := queue.NewMemoryManager()
	defer q.Close()
	mock := gateway.NewMockClient("mef")

	id := transmitOne(t, q, queue.GatewayMeF, "MEF-2026-0002")
	mock.QueueAck(gateway.Ack{
		ReceiptID:   "MEF-2026-0002",
		Disposition: gateway.DispositionRejected,
		Code:        "R0000-902-01",
		Detail:      "taxpayer TIN already used",
		Timestamp:   time.Now().UTC(),
	})

	startAckPoller(t, Config{
		Queue:   q,
		Clients: map[queue.Gateway]gateway.Client{queue.GatewayMeF: mock},
	})

	waitFor(t, func() bool {
		return getSub(t, q, id).Status == queue.StatusRejected
	})

	sub := getSub(t, q, id)
	if !strings.Contains(sub.LastError, "R0000-902-01") {
		t.Errorf("last error = %q, want the gateway code", sub.LastError)
	}
	if !strings.Contains(sub.LastError, "taxpayer TIN already used") {
		t.Errorf("last error = %q, want the gateway detail", sub.LastError)
	}
}

func TestAckPollerResolvesBeyondOneListPage(t *testing.T) {
	q := queue.NewMemoryManager()
	defer q.Close()
	mock := gateway.NewMockClient("mef")

	// More outstanding receipts than one List page holds; a single
	// poll cycle must still resolve every one of them.
	const outstanding = ackListPage + 50
	for i := 0; i < outstanding; i++ {
		receipt := fmt.Sprintf("MEF-2026-%04d", i)
		transmitOne(t, q, queue.GatewayMeF, receipt)
		mock.QueueAck(gateway.Ack{
			ReceiptID:   receipt,
			Disposition: gateway.DispositionAccepted,
			Timestamp:   time.Now().UTC(),
		})
	}

	poller, err := NewAckPoller(Config{
		Queue:   q,
		Clients: map[queue.Gateway]gateway.Client{queue.GatewayMeF: mock},
	}, time.Hour)
	if err != nil {
		t.Fatalf("new ack poller: %v", err)
	}
	poller.pollAll(context.Background())

	stats, err := q.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if got := stats.ByStatus[queue.StatusAcknowledged]; got != outstanding {
		t.Errorf("one poll acknowledged %d of %d outstanding receipts", got, outstanding)
	}
}

func TestAckPollerLeavesPending(t *testing.T) {
	q := queue.NewMemoryManager()
	defer q.Close()
	mock := gateway.NewMockClient("mef")

	id := transmitOne(t, q, queue.GatewayMeF, "MEF-2026-0003")
	mock.QueueAck(gateway.Ack{
		ReceiptID:   "MEF-2026-0003",
		Disposition: gateway.DispositionPending,
	})

	startAckPoller(t, Config{
		Queue:   q,
		Clients: map[queue.Gateway]gateway.Client{queue.GatewayMeF: mock},
	})

	// Give the poller a few cycles; the submission must stay put.
	time.Sleep(50 * time.Millisecond)
	if got := getSub(t, q, id).Status; got != queue.StatusTransmitted {
		t.Errorf("status = %s, want transmitted while ack is pending", got)
	}
}

func TestAckPollerIgnoresUnknownReceipts(t *testing.T) {
	q := queue.NewMemoryManager()
	defer q.Close()
	mock := gateway.NewMockClient("mef")

	id := transmitOne(t, q, queue.GatewayMeF, "MEF-2026-0004")
	mock.QueueAck(gateway.Ack{
		ReceiptID:   "MEF-2026-9999",
		Disposition: gateway.DispositionAccepted,
	})

	startAckPoller(t, Config{
		Queue:   q,
		Clients: map[queue.Gateway]gateway.Client{queue.GatewayMeF: mock},
	})

	time.Sleep(50 * time.Millisecond)
	if got := getSub(t, q, id).Status; got != queue.StatusTransmitted {
		t.Errorf("status = %s, want transmitted", got)
	}
}

func TestAckPollerStartStop(t *testing.T) {
	q := queue.NewMemoryManager()
	defer q.Close()

	poller, err := NewAckPoller(Config{
		Queue:   q,
		Clients: map[queue.Gateway]gateway.Client{queue.GatewayMeF: gateway.NewMockClient("mef")},
	}, time.Minute)
	if err != nil {
		t.Fatalf("new ack poller: %v", err)
	}

	if err := poller.Stop(); err != ErrNotStarted {
		t.Errorf("Stop before Start = %v, want ErrNotStarted", err)
	}
	if err := poller.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := poller.Start(context.Background()); err != ErrAlreadyStarted {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}
	if err := poller.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
