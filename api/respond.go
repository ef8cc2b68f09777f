package api

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"

	"github.com/mdtaxnav/navigator/errors"
	"github.com/mdtaxnav/navigator/queue"
	"github.com/mdtaxnav/navigator/store"
)

// maxBodyBytes caps request bodies. Return payloads travel base64
// inside JSON, so this allows roughly a 6MB document.
const maxBodyBytes = 8 << 20

// errorBody is the JSON error envelope.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// writeJSON writes v as a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps an error onto an HTTP status and the error envelope.
func writeError(w http.ResponseWriter, err error) {
	var body errorBody
	body.Error.Code = string(errors.Code(err))
	body.Error.Message = err.Error()
	writeJSON(w, statusFor(err), body)
}

// statusFor resolves the HTTP status for an error: sentinel errors
// from the store and queue first, then the coded-error taxonomy.
func statusFor(err error) int {
	switch {
	case stderrors.Is(err, store.ErrNotFound), stderrors.Is(err, queue.ErrNotFound):
		return http.StatusNotFound
	case stderrors.Is(err, store.ErrConflict), stderrors.Is(err, queue.ErrNotDead),
		stderrors.Is(err, queue.ErrTerminal):
		return http.StatusConflict
	case stderrors.Is(err, queue.ErrInvalidSubmission):
		return http.StatusBadRequest
	}

	switch errors.Code(err) {
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeInvalidInput, errors.ErrCodePrecondition:
		return http.StatusBadRequest
	case errors.ErrCodeConflict, errors.ErrCodeAlreadyExists, errors.ErrCodeDuplicateReturn:
		return http.StatusConflict
	case errors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case errors.ErrCodeForbidden:
		return http.StatusForbidden
	case errors.ErrCodeRateLimit, errors.ErrCodeQuotaExceeded:
		return http.StatusTooManyRequests
	case errors.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case errors.ErrCodeUnavailable, errors.ErrCodeGatewayOffline, errors.ErrCodeCircuitOpen:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads and unmarshals a request body into v.
func decodeJSON(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return errors.InvalidInput("unreadable request body")
	}
	if len(body) == 0 {
		return errors.InvalidInput("empty request body")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.InvalidInput("malformed JSON: " + err.Error())
	}
	return nil
}
