// Package errors provides a structured error taxonomy for the e-file
// navigator. It defines error types, codes, and categories that let the
// submission queue and gateway clients make consistent retry decisions.
//
// # Error Categories
//
// Errors are classified into four categories:
//
//   - Transient: Temporary failures where retry may succeed (gateway timeouts, etc.)
//   - Permanent: Failures where retry will not help (schema rejections, bad input, etc.)
//   - Resource: Resource exhaustion issues (gateway rate limits, quotas, etc.)
//   - Internal: Unexpected errors indicating bugs or system failures
//
// # Error Codes
//
// Each error has a specific code that identifies the type of failure:
//
//   - TIMEOUT: Operation timed out
//   - RATE_LIMITED: Gateway rate limit exceeded
//   - SCHEMA_REJECTED: Gateway rejected the return document
//   - DUPLICATE_RETURN: Gateway already holds this return
//   - CIRCUIT_OPEN: Circuit breaker refused the call
//   - And more...
//
// # Usage
//
// Create a new error:
//
//	err := errors.New(errors.ErrCodeTimeout, "transmit timed out")
//
// Wrap an existing error with context:
//
//	wrapped := errors.Wrap(err, "transmitting to MeF")
//
// Check if an error is retryable:
//
//	if efErr := errors.AsEFileError(err); efErr != nil && efErr.Retryable() {
//	    // schedule a retry
//	}
//
// # JSON Serialization
//
// All errors support JSON serialization so they can be persisted on the
// submission record and surfaced through the admin API:
//
//	data, err := json.Marshal(efErr)
//
// Errors can be deserialized back:
//
//	var efErr errors.Error
//	json.Unmarshal(data, &efErr)
package errors
