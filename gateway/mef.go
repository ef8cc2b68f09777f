package gateway

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/mdtaxnav/navigator/errors"
	"github.com/mdtaxnav/navigator/queue"
)

// MeFConfig holds configuration for the IRS MeF client.
type MeFConfig struct {
	BaseURL  string        // defaults to https://la.www4.irs.gov/a2a/mef
	ETIN     string        // electronic transmitter identification number
	Password string        // A2A credential
	Timeout  time.Duration // per-request timeout, defaults to 60s

	// HTTPClient overrides the default client, for tests.
	HTTPClient *http.Client
}

// MeFClient talks to the IRS Modernized e-File A2A gateway. MeF is a
// session-oriented XML service: a login call yields a session token
// that authenticates subsequent transmit and ack calls.
type MeFClient struct {
	config MeFConfig
	client *http.Client

	mu      sync.Mutex
	session string
}

// NewMeFClient creates a MeF gateway client.
func NewMeFClient(cfg MeFConfig) (*MeFClient, error) {
	if cfg.ETIN == "" {
		return nil, errors.InvalidInput("mef: etin is required")
	}
	if cfg.Password == "" {
		return nil, errors.InvalidInput("mef: password is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://la.www4.irs.gov/a2a/mef"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &MeFClient{config: cfg, client: client}, nil
}

// Name implements Client.
func (c *MeFClient) Name() string {
	return string(queue.GatewayMeF)
}

// mefLoginRequest is the MeF login envelope.
type mefLoginRequest struct {
	XMLName  xml.Name `xml:"LoginRequest"`
	ETIN     string   `xml:"ETIN"`
	Password string   `xml:"Password"`
}

// mefLoginResponse carries the session token.
type mefLoginResponse struct {
	XMLName      xml.Name `xml:"LoginResponse"`
	SessionToken string   `xml:"SessionToken"`
	Status       string   `xml:"Status"`
	Message      string   `xml:"Message,omitempty"`
}

// mefTransmitRequest is the SendSubmissions envelope.
type mefTransmitRequest struct {
	XMLName      xml.Name `xml:"SendSubmissionsRequest"`
	SubmissionID string   `xml:"SubmissionId"`
	TaxYear      int      `xml:"TaxYear,omitempty"`
	Document     []byte   `xml:"ReturnDocument"`
}

// mefTransmitResponse carries the gateway receipt.
type mefTransmitResponse struct {
	XMLName   xml.Name `xml:"SendSubmissionsResponse"`
	ReceiptID string   `xml:"ReceiptId"`
	Status    string   `xml:"Status"`
	Message   string   `xml:"Message,omitempty"`
}

// mefAckRequest is the GetAcks envelope.
type mefAckRequest struct {
	XMLName    xml.Name `xml:"GetAcksRequest"`
	ReceiptIDs []string `xml:"ReceiptIds>ReceiptId"`
}

// mefAckResponse lists acknowledgment records.
type mefAckResponse struct {
	XMLName xml.Name `xml:"GetAcksResponse"`
	Acks    []mefAck `xml:"Acknowledgements>Acknowledgement"`
}

type mefAck struct {
	ReceiptID string `xml:"ReceiptId"`
	Status    string `xml:"Status"` // Accepted, Rejected, Pending
	ErrorCode string `xml:"ErrorCode,omitempty"`
	ErrorText string `xml:"ErrorText,omitempty"`
	Timestamp string `xml:"Timestamp"`
}

// Transmit implements Client.
func (c *MeFClient) Transmit(ctx context.Context, req TransmitRequest) (*TransmitResponse, error) {
	if len(req.Payload) == 0 {
		return nil, errors.InvalidInput("mef: empty return document",
			errors.WithSubmissionID(req.SubmissionID))
	}

	envelope := mefTransmitRequest{
		SubmissionID: req.SubmissionID,
		TaxYear:      req.TaxYear,
		Document:     req.Payload,
	}

	var resp mefTransmitResponse
	if err := c.call(ctx, "/SendSubmissions", envelope, &resp); err != nil {
		return nil, errors.Wrap(err, "mef: transmit failed",
			errors.WithSubmissionID(req.SubmissionID))
	}

	if resp.Status == "Rejected" {
		return nil, errors.SchemaRejected(req.SubmissionID, resp.Message,
			errors.WithGateway(c.Name()))
	}
	if resp.Status == "Duplicate" {
		return nil, errors.New(errors.ErrCodeDuplicateReturn, resp.Message,
			errors.WithGateway(c.Name()),
			errors.WithSubmissionID(req.SubmissionID))
	}
	if resp.ReceiptID == "" {
		return nil, errors.New(errors.ErrCodeTransmitFailed, "mef: no receipt in response",
			errors.WithGateway(c.Name()),
			errors.WithSubmissionID(req.SubmissionID))
	}

	return &TransmitResponse{
		ReceiptID:     resp.ReceiptID,
		StatusMessage: resp.Message,
		TransmittedAt: time.Now().UTC(),
	}, nil
}

// FetchAcks implements Client.
func (c *MeFClient) FetchAcks(ctx context.Context, receipts []string) ([]Ack, error) {
	if len(receipts) == 0 {
		return nil, nil
	}

	var resp mefAckResponse
	if err := c.call(ctx, "/GetAcks", mefAckRequest{ReceiptIDs: receipts}, &resp); err != nil {
		return nil, errors.Wrap(err, "mef: fetch acks failed")
	}

	acks := make([]Ack, 0, len(resp.Acks))
	for _, a := range resp.Acks {
		disp, ok := mefDisposition(a.Status)
		if !ok || disp == DispositionPending {
			continue
		}
		ts, err := time.Parse(time.RFC3339, a.Timestamp)
		if err != nil {
			ts = time.Now().UTC()
		}
		acks = append(acks, Ack{
			ReceiptID:   a.ReceiptID,
			Disposition: disp,
			Code:        a.ErrorCode,
			Detail:      a.ErrorText,
			Timestamp:   ts,
		})
	}
	return acks, nil
}

// Ping implements Client. MeF has no dedicated health endpoint, so a
// login round trip serves as the probe.
func (c *MeFClient) Ping(ctx context.Context) error {
	c.mu.Lock()
	c.session = ""
	c.mu.Unlock()
	if _, err := c.ensureSession(ctx); err != nil {
		return errors.Wrap(err, "mef: ping failed")
	}
	return nil
}

// mefDisposition maps MeF ack statuses onto dispositions.
func mefDisposition(status string) (Disposition, bool) {
	switch status {
	case "Accepted":
		return DispositionAccepted, true
	case "Rejected":
		return DispositionRejected, true
	case "Pending":
		return DispositionPending, true
	default:
		return "", false
	}
}

// ensureSession logs in if no session token is held.
func (c *MeFClient) ensureSession(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != "" {
		return c.session, nil
	}

	var resp mefLoginResponse
	if err := c.doXML(ctx, "/Login", "", mefLoginRequest{
		ETIN:     c.config.ETIN,
		Password: c.config.Password,
	}, &resp); err != nil {
		return "", err
	}
	if resp.SessionToken == "" {
		return "", errors.Unauthorized("mef: login refused: "+resp.Message,
			errors.WithGateway(string(queue.GatewayMeF)))
	}

	c.session = resp.SessionToken
	return c.session, nil
}

// call performs a session-authenticated XML round trip, retrying once
// with a fresh session if the token has expired.
func (c *MeFClient) call(ctx context.Context, path string, reqBody, respBody interface{}) error {
	session, err := c.ensureSession(ctx)
	if err != nil {
		return err
	}

	err = c.doXML(ctx, path, session, reqBody, respBody)
	if errors.Is(err, errors.ErrCodeUnauthorized) {
		c.mu.Lock()
		c.session = ""
		c.mu.Unlock()

		session, lerr := c.ensureSession(ctx)
		if lerr != nil {
			return lerr
		}
		err = c.doXML(ctx, path, session, reqBody, respBody)
	}
	return err
}

// doXML marshals reqBody, posts it, and unmarshals the response into
// respBody. Non-2xx statuses become coded errors.
func (c *MeFClient) doXML(ctx context.Context, path, session string, reqBody, respBody interface{}) error {
	body, err := xml.Marshal(reqBody)
	if err != nil {
		return errors.Internal(fmt.Sprintf("mef: marshal request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return errors.Internal(fmt.Sprintf("mef: build request: %v", err))
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	if session != "" {
		req.Header.Set("X-MeF-Session", session)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errors.Timeout("mef: request canceled",
				errors.WithGateway(string(queue.GatewayMeF)),
				errors.WithCause(err))
		}
		return errors.New(errors.ErrCodeNetworkErr, "mef: request failed",
			errors.WithGateway(string(queue.GatewayMeF)),
			errors.WithCause(err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return errors.New(errors.ErrCodeNetworkErr, "mef: read response",
			errors.WithGateway(string(queue.GatewayMeF)),
			errors.WithCause(err))
	}

	if resp.StatusCode != http.StatusOK {
		return statusError(string(queue.GatewayMeF), resp.StatusCode, data)
	}

	if err := xml.Unmarshal(data, respBody); err != nil {
		return errors.New(errors.ErrCodeCorruption, "mef: malformed response",
			errors.WithGateway(string(queue.GatewayMeF)),
			errors.WithCause(err))
	}
	return nil
}
