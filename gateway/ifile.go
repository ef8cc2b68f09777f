package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mdtaxnav/navigator/errors"
	"github.com/mdtaxnav/navigator/queue"
)

// IFileConfig holds configuration for the Maryland iFile client.
type IFileConfig struct {
	BaseURL  string        // defaults to https://interactive.marylandtaxes.gov/ifile/api
	VendorID string        // assigned software vendor identifier
	APIKey   string        // bearer credential
	Timeout  time.Duration // per-request timeout, defaults to 60s

	// HTTPClient overrides the default client, for tests.
	HTTPClient *http.Client
}

// IFileClient talks to the Maryland iFile gateway, a stateless JSON
// API authenticated per request with a bearer key.
type IFileClient struct {
	config IFileConfig
	client *http.Client
}

// NewIFileClient creates an iFile gateway client.
func NewIFileClient(cfg IFileConfig) (*IFileClient, error) {
	if cfg.VendorID == "" {
		return nil, errors.InvalidInput("ifile: vendor id is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.InvalidInput("ifile: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://interactive.marylandtaxes.gov/ifile/api"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &IFileClient{config: cfg, client: client}, nil
}

// Name implements Client.
func (c *IFileClient) Name() string {
	return string(queue.GatewayIFile)
}

type ifileSubmitRequest struct {
	VendorID     string `json:"vendor_id"`
	SubmissionID string `json:"submission_id"`
	TaxYear      int    `json:"tax_year,omitempty"`
	FormType     string `json:"form_type"`
	Document     string `json:"document"` // base64
}

type ifileSubmitResponse struct {
	ConfirmationNumber string `json:"confirmation_number"`
	Status             string `json:"status"`
	Message            string `json:"message,omitempty"`
}

type ifileAckRequest struct {
	VendorID            string   `json:"vendor_id"`
	ConfirmationNumbers []string `json:"confirmation_numbers"`
}

type ifileAckResponse struct {
	Acknowledgments []ifileAck `json:"acknowledgments"`
}

type ifileAck struct {
	ConfirmationNumber string    `json:"confirmation_number"`
	Status             string    `json:"status"` // accepted, rejected, processing
	ErrorCode          string    `json:"error_code,omitempty"`
	ErrorDetail        string    `json:"error_detail,omitempty"`
	ProcessedAt        time.Time `json:"processed_at"`
}

// Transmit implements Client.
func (c *IFileClient) Transmit(ctx context.Context, req TransmitRequest) (*TransmitResponse, error) {
	if len(req.Payload) == 0 {
		return nil, errors.InvalidInput("ifile: empty return document",
			errors.WithSubmissionID(req.SubmissionID))
	}

	body := ifileSubmitRequest{
		VendorID:     c.config.VendorID,
		SubmissionID: req.SubmissionID,
		TaxYear:      req.TaxYear,
		FormType:     "502",
		Document:     base64.StdEncoding.EncodeToString(req.Payload),
	}

	var resp ifileSubmitResponse
	if err := c.doJSON(ctx, http.MethodPost, "/returns", body, &resp); err != nil {
		return nil, errors.Wrap(err, "ifile: transmit failed",
			errors.WithSubmissionID(req.SubmissionID))
	}

	if resp.Status == "rejected" {
		return nil, errors.SchemaRejected(req.SubmissionID, resp.Message,
			errors.WithGateway(c.Name()))
	}
	if resp.ConfirmationNumber == "" {
		return nil, errors.New(errors.ErrCodeTransmitFailed, "ifile: no confirmation number in response",
			errors.WithGateway(c.Name()),
			errors.WithSubmissionID(req.SubmissionID))
	}

	return &TransmitResponse{
		ReceiptID:     resp.ConfirmationNumber,
		StatusMessage: resp.Message,
		TransmittedAt: time.Now().UTC(),
	}, nil
}

// FetchAcks implements Client.
func (c *IFileClient) FetchAcks(ctx context.Context, receipts []string) ([]Ack, error) {
	if len(receipts) == 0 {
		return nil, nil
	}

	body := ifileAckRequest{
		VendorID:            c.config.VendorID,
		ConfirmationNumbers: receipts,
	}

	var resp ifileAckResponse
	if err := c.doJSON(ctx, http.MethodPost, "/acknowledgments", body, &resp); err != nil {
		return nil, errors.Wrap(err, "ifile: fetch acks failed")
	}

	acks := make([]Ack, 0, len(resp.Acknowledgments))
	for _, a := range resp.Acknowledgments {
		var disp Disposition
		switch a.Status {
		case "accepted":
			disp = DispositionAccepted
		case "rejected":
			disp = DispositionRejected
		default:
			continue
		}
		ts := a.ProcessedAt
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		acks = append(acks, Ack{
			ReceiptID:   a.ConfirmationNumber,
			Disposition: disp,
			Code:        a.ErrorCode,
			Detail:      a.ErrorDetail,
			Timestamp:   ts,
		})
	}
	return acks, nil
}

// Ping implements Client.
func (c *IFileClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/health", nil)
	if err != nil {
		return errors.Internal(fmt.Sprintf("ifile: build request: %v", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.New(errors.ErrCodeNetworkErr, "ifile: ping failed",
			errors.WithGateway(c.Name()),
			errors.WithCause(err))
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return statusError(c.Name(), resp.StatusCode, nil)
	}
	return nil
}

// doJSON performs a JSON round trip. Non-2xx statuses become coded
// errors.
func (c *IFileClient) doJSON(ctx context.Context, method, path string, reqBody, respBody interface{}) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return errors.Internal(fmt.Sprintf("ifile: marshal request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return errors.Internal(fmt.Sprintf("ifile: build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errors.Timeout("ifile: request canceled",
				errors.WithGateway(c.Name()),
				errors.WithCause(err))
		}
		return errors.New(errors.ErrCodeNetworkErr, "ifile: request failed",
			errors.WithGateway(c.Name()),
			errors.WithCause(err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return errors.New(errors.ErrCodeNetworkErr, "ifile: read response",
			errors.WithGateway(c.Name()),
			errors.WithCause(err))
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return statusError(c.Name(), resp.StatusCode, data)
	}

	if err := json.Unmarshal(data, respBody); err != nil {
		return errors.New(errors.ErrCodeCorruption, "ifile: malformed response",
			errors.WithGateway(c.Name()),
			errors.WithCause(err))
	}
	return nil
}
