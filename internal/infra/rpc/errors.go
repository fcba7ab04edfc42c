package rpc

import (
	"fmt"

	"github.com/vietddude/resilio/internal/core/domain"
)

// RequestError is the terminal failure of Execute. It carries enough context for a
// caller to tell "offline" from "service degraded" from "invalid request".
type RequestError struct {
	Kind      domain.ErrorKind
	Retryable bool
	Severity  domain.Severity
	Message   string
	Context   map[string]string
	Attempts  int
	Status    int
	Record    domain.ErrorRecord
	Err       error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s after %d attempt(s): %s", e.Kind, e.Attempts, e.Message)
}

// Unwrap exposes the underlying transport error, if any.
func (e *RequestError) Unwrap() error {
	return e.Err
}
