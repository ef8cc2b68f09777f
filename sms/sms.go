package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mdtaxnav/navigator/errors"
)

// Sender sends outbound SMS messages.
type Sender interface {
	// Send delivers a message and returns the provider message ID.
	Send(ctx context.Context, to, body string) (string, error)
}

// TwilioConfig holds configuration for the Twilio client.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string        // sending phone number, E.164
	BaseURL    string        // defaults to https://api.twilio.com
	Timeout    time.Duration // per-request timeout, defaults to 30s

	// HTTPClient overrides the default client, for tests.
	HTTPClient *http.Client
}

// TwilioClient is a thin wrapper over the Twilio Messages REST API.
type TwilioClient struct {
	config TwilioConfig
	client *http.Client
}

// NewTwilioClient creates a Twilio SMS sender.
func NewTwilioClient(cfg TwilioConfig) (*TwilioClient, error) {
	if cfg.AccountSID == "" {
		return nil, errors.InvalidInput("twilio: account sid is required")
	}
	if cfg.AuthToken == "" {
		return nil, errors.InvalidInput("twilio: auth token is required")
	}
	if cfg.From == "" {
		return nil, errors.InvalidInput("twilio: from number is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.twilio.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &TwilioClient{config: cfg, client: client}, nil
}

type twilioMessageResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Send implements Sender.
func (c *TwilioClient) Send(ctx context.Context, to, body string) (string, error) {
	if to == "" {
		return "", errors.InvalidInput("twilio: recipient is required")
	}
	if body == "" {
		return "", errors.InvalidInput("twilio: message body is required")
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", c.config.From)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json",
		c.config.BaseURL, c.config.AccountSID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.Internal(fmt.Sprintf("twilio: build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.config.AccountSID, c.config.AuthToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", errors.New(errors.ErrCodeNetworkErr, "twilio: request failed",
			errors.WithCause(err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errors.New(errors.ErrCodeNetworkErr, "twilio: read response",
			errors.WithCause(err))
	}

	var msg twilioMessageResponse
	if err := json.Unmarshal(data, &msg); err != nil {
		return "", errors.New(errors.ErrCodeCorruption, "twilio: malformed response",
			errors.WithCause(err))
	}

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", twilioError(resp.StatusCode, msg)
	}
	if msg.SID == "" {
		return "", errors.Internal("twilio: no message sid in response")
	}
	return msg.SID, nil
}

// twilioError maps a Twilio API error onto a coded error.
func twilioError(status int, msg twilioMessageResponse) *errors.Error {
	text := fmt.Sprintf("twilio: api error %d", status)
	if msg.Message != "" {
		text = fmt.Sprintf("%s: %s", text, msg.Message)
	}
	opts := []errors.Option{
		errors.WithMetadata("twilio_code", fmt.Sprintf("%d", msg.Code)),
	}

	switch {
	case status == http.StatusUnauthorized:
		return errors.New(errors.ErrCodeUnauthorized, text, opts...)
	case status == http.StatusTooManyRequests:
		return errors.New(errors.ErrCodeRateLimit, text, opts...)
	case status >= 500:
		return errors.New(errors.ErrCodeUnavailable, text, opts...)
	default:
		return errors.New(errors.ErrCodeInvalidInput, text, opts...)
	}
}

// MemorySender records sent messages, for tests and local development.
type MemorySender struct {
	mu   sync.Mutex
	sent []SentMessage
	err  error
	seq  int
}

// SentMessage is one message recorded by MemorySender.
type SentMessage struct {
	To   string
	Body string
}

// NewMemorySender creates a recording sender.
func NewMemorySender() *MemorySender {
	return &MemorySender{}
}

// SetError sets an error returned by Send.
func (s *MemorySender) SetError(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Send implements Sender.
func (s *MemorySender) Send(ctx context.Context, to, body string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.seq++
	s.sent = append(s.sent, SentMessage{To: to, Body: body})
	return fmt.Sprintf("mem-%d", s.seq), nil
}

// Sent returns all recorded messages.
func (s *MemorySender) Sent() []SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SentMessage, len(s.sent))
	copy(out, s.sent)
	return out
}
