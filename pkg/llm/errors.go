package llm

import (
	"errors"
	"fmt"
)

var ErrCircuitOpen = errors.New("llm circuit open")

// ErrorKind classifies an API failure for retry decisions.
type ErrorKind string

const (
	// KindAuth covers authorization and quota denials. Never retried.
	KindAuth ErrorKind = "auth"
	// KindRateLimit covers 429 responses. Transient.
	KindRateLimit ErrorKind = "rate_limit"
	// KindServer covers 5xx and overload responses. Transient.
	KindServer ErrorKind = "server"
	// KindTransport covers request/decode failures below HTTP. Transient.
	KindTransport ErrorKind = "transport"
)

// APIError is a typed failure from a model backend.
type APIError struct {
	Status  int
	Kind    ErrorKind
	Message string
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("llm api error (%s, status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("llm api error (%s): %s", e.Kind, e.Message)
}

// Retryable reports whether a failed call may be attempted again.
// Authorization and quota denials are definitive; everything else,
// including plain transport errors, is considered transient.
func Retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind != KindAuth
	}
	return true
}

func classifyStatus(status int, message string) *APIError {
	switch {
	case status == 401 || status == 403:
		return &APIError{Status: status, Kind: KindAuth, Message: message}
	case status == 429:
		return &APIError{Status: status, Kind: KindRateLimit, Message: message}
	default:
		return &APIError{Status: status, Kind: KindServer, Message: message}
	}
}
