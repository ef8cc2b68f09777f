package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockClient is a gateway client for tests and local development.
type MockClient struct {
	name string

	mu            sync.Mutex
	err           error
	pingErr       error
	acks          map[string]Ack
	receiptSeq    int
	transmitCount int
	ackCount      int
	pingCount     int
	lastRequest   *TransmitRequest

	// TransmitFunc can be overridden for custom behavior.
	TransmitFunc func(ctx context.Context, req TransmitRequest) (*TransmitResponse, error)
}

// NewMockClient creates a mock gateway with the given name.
func NewMockClient(name string) *MockClient {
	return &MockClient{
		name: name,
		acks: make(map[string]Ack),
	}
}

// SetError sets an error returned by Transmit and FetchAcks.
func (m *MockClient) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetPingError sets an error returned by Ping.
func (m *MockClient) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
}

// QueueAck registers an acknowledgment to be returned by FetchAcks
// for the given receipt.
func (m *MockClient) QueueAck(ack Ack) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acks[ack.ReceiptID] = ack
}

// TransmitCount returns the number of Transmit calls made.
func (m *MockClient) TransmitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transmitCount
}

// PingCount returns the number of Ping calls made.
func (m *MockClient) PingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingCount
}

// LastRequest returns the most recent transmit request.
func (m *MockClient) LastRequest() *TransmitRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRequest
}

// Name implements Client.
func (m *MockClient) Name() string {
	return m.name
}

// Transmit implements Client. Receipts are sequential and stable
// ("mock-mef-1", "mock-mef-2", ...).
func (m *MockClient) Transmit(ctx context.Context, req TransmitRequest) (*TransmitResponse, error) {
	m.mu.Lock()
	m.transmitCount++
	m.lastRequest = &req
	err := m.err
	fn := m.TransmitFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.receiptSeq++
	receipt := fmt.Sprintf("mock-%s-%d", m.name, m.receiptSeq)
	m.mu.Unlock()

	return &TransmitResponse{
		ReceiptID:     receipt,
		TransmittedAt: time.Now().UTC(),
	}, nil
}

// FetchAcks implements Client, returning any queued acks matching the
// requested receipts.
func (m *MockClient) FetchAcks(ctx context.Context, receipts []string) ([]Ack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ackCount++
	if m.err != nil {
		return nil, m.err
	}

	var acks []Ack
	for _, r := range receipts {
		if ack, ok := m.acks[r]; ok {
			acks = append(acks, ack)
		}
	}
	return acks, nil
}

// Ping implements Client.
func (m *MockClient) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingCount++
	return m.pingErr
}
