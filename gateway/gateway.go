// Package gateway provides clients for the e-file transmission gateways.
package gateway

import (
	"context"
	"time"
)

// Disposition is a gateway's verdict on a transmitted return.
type Disposition string

// Ack dispositions.
const (
	DispositionAccepted Disposition = "accepted"
	DispositionRejected Disposition = "rejected"
	DispositionPending  Disposition = "pending"
)

// TransmitRequest carries one return document to a gateway.
type TransmitRequest struct {
	SubmissionID string `json:"submission_id"`
	ReturnID     string `json:"return_id"`
	TaxYear      int    `json:"tax_year,omitempty"`
	Payload      []byte `json:"payload"`
}

// TransmitResponse is the gateway's receipt for a transmitted return.
type TransmitResponse struct {
	ReceiptID     string    `json:"receipt_id"`
	StatusMessage string    `json:"status_message,omitempty"`
	TransmittedAt time.Time `json:"transmitted_at"`
}

// Ack is one acknowledgment record fetched from a gateway.
type Ack struct {
	ReceiptID   string      `json:"receipt_id"`
	Disposition Disposition `json:"disposition"`
	Code        string      `json:"code,omitempty"`
	Detail      string      `json:"detail,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// Client is the interface for e-file gateway implementations.
type Client interface {
	// Name returns the gateway identifier ("mef" or "ifile").
	Name() string

	// Transmit sends a return document and returns the gateway receipt.
	Transmit(ctx context.Context, req TransmitRequest) (*TransmitResponse, error)

	// FetchAcks retrieves acknowledgments for previously transmitted
	// receipts. Receipts with no acknowledgment yet are simply absent
	// from the result.
	FetchAcks(ctx context.Context, receipts []string) ([]Ack, error)

	// Ping checks gateway reachability.
	Ping(ctx context.Context) error
}
