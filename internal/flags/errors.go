package flags

import (
	"errors"
	"fmt"

	"github.com/TimurManjosov/flagship-webdemo/internal/reason"
)

var (
	// ErrAlreadyInitialized is returned by Initialize while a live handle exists.
	ErrAlreadyInitialized = errors.New("flag client already initialized")
	// ErrHandleClosed is returned by lifecycle calls on a closed handle.
	ErrHandleClosed = errors.New("flag client handle is closed")
)

// ConfigurationError is a startup misconfiguration. It is the only flag error
// that should stop the process.
type ConfigurationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// PostforkError is a failed worker-start reinitialization. The worker keeps
// serving with the values it already has.
type PostforkError struct {
	Worker int
	Err    error
}

func (e *PostforkError) Error() string {
	return fmt.Sprintf("worker %d: reinitialize flag client: %v", e.Worker, e.Err)
}

func (e *PostforkError) Unwrap() error { return e.Err }

// ShutdownError is a failure while closing the flag client. It is logged and
// returned for inspection only.
type ShutdownError struct {
	Err error
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("shutdown flag client: %v", e.Err)
}

func (e *ShutdownError) Unwrap() error { return e.Err }

// EvaluationDegraded describes an evaluation that fell back to the default.
// It is logged, never returned to request handlers.
type EvaluationDegraded struct {
	FlagKey string
	Reason  reason.Reason
	Err     error
}

func (e *EvaluationDegraded) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("flag %q degraded to default (%s): %v", e.FlagKey, e.Reason, e.Err)
	}
	return fmt.Sprintf("flag %q degraded to default (%s)", e.FlagKey, e.Reason)
}

func (e *EvaluationDegraded) Unwrap() error { return e.Err }
