package gateway

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/mdtaxnav/navigator/errors"
)

// statusError maps an HTTP status from a gateway onto a coded error.
// The category drives retry handling in the transmit worker: transient
// and resource errors go back on the queue, permanent ones reject the
// submission.
func statusError(gateway string, status int, body []byte) *errors.Error {
	detail := strings.TrimSpace(string(body))
	if len(detail) > 512 {
		detail = detail[:512]
	}
	msg := fmt.Sprintf("%s: gateway returned %d", gateway, status)
	if detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, detail)
	}

	opts := []errors.Option{
		errors.WithGateway(gateway),
		errors.WithMetadata("http_status", fmt.Sprintf("%d", status)),
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.New(errors.ErrCodeUnauthorized, msg, opts...)
	case status == http.StatusTooManyRequests:
		return errors.New(errors.ErrCodeRateLimit, msg, opts...)
	case status == http.StatusRequestTimeout:
		return errors.New(errors.ErrCodeTimeout, msg, opts...)
	case status == http.StatusConflict:
		return errors.New(errors.ErrCodeDuplicateReturn, msg, opts...)
	case status == http.StatusUnprocessableEntity || status == http.StatusBadRequest:
		return errors.New(errors.ErrCodeSchemaRejected, msg, opts...)
	case status == http.StatusNotFound:
		return errors.New(errors.ErrCodeNotFound, msg, opts...)
	case status == http.StatusServiceUnavailable:
		return errors.New(errors.ErrCodeGatewayOffline, msg, opts...)
	case status >= 500:
		return errors.New(errors.ErrCodeUnavailable, msg, opts...)
	case status >= 400:
		return errors.New(errors.ErrCodeInvalidInput, msg, opts...)
	default:
		return errors.New(errors.ErrCodeInternal, msg, opts...)
	}
}
