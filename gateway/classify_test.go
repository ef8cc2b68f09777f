package gateway

import (
	"testing"

	"github.com/mdtaxnav/navigator/errors"
)

func TestStatusError(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCode  errors.ErrorCode
		retryable bool
	}{
		{"unauthorized", 401, errors.ErrCodeUnauthorized, false},
		{"forbidden", 403, errors.ErrCodeUnauthorized, false},
		{"rate limited", 429, errors.ErrCodeRateLimit, true},
		{"timeout", 408, errors.ErrCodeTimeout, true},
		{"duplicate", 409, errors.ErrCodeDuplicateReturn, false},
		{"schema rejected", 422, errors.ErrCodeSchemaRejected, false},
		{"bad request", 400, errors.ErrCodeSchemaRejected, false},
		{"not found", 404, errors.ErrCodeNotFound, false},
		{"maintenance", 503, errors.ErrCodeGatewayOffline, true},
		{"server error", 500, errors.ErrCodeUnavailable, true},
		{"bad gateway", 502, errors.ErrCodeUnavailable, true},
		{"teapot", 418, errors.ErrCodeInvalidInput, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := statusError("mef", tt.status, []byte("detail"))
			if err.Code() != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, err.Code())
			}
			if err.Retryable() != tt.retryable {
				t.Errorf("expected retryable=%v, got %v", tt.retryable, err.Retryable())
			}
			if err.Gateway() != "mef" {
				t.Errorf("expected gateway mef, got %s", err.Gateway())
			}
		})
	}
}

func TestStatusError_TruncatesBody(t *testing.T) {
	body := make([]byte, 2048)
	for i := range body {
		body[i] = 'x'
	}

	err := statusError("ifile", 500, body)
	if len(err.Error()) > 700 {
		t.Errorf("expected truncated message, got %d bytes", len(err.Error()))
	}
}
