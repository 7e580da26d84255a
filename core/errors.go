package core

import (
	"errors"
	"fmt"
)

// ErrorKind labels the failure class persisted into an AgentContext.
type ErrorKind string

const (
	// ErrKindProvider marks a step that failed on provider errors.
	ErrKindProvider ErrorKind = "provider"
	// ErrKindAllParticipantsFailed marks a debate where no participant produced
	// a usable answer.
	ErrKindAllParticipantsFailed ErrorKind = "all_participants_failed"
	// ErrKindCancelled marks an externally stopped step.
	ErrKindCancelled ErrorKind = "cancelled"
	// ErrKindIterationLimit marks a run that exceeded its iteration ceiling.
	ErrKindIterationLimit ErrorKind = "iteration_limit"
	// ErrKindOperatorAbort marks a run terminated by a HIL decision.
	ErrKindOperatorAbort ErrorKind = "operator_abort"
	// ErrKindInternal marks an unexpected failure caught at the engine boundary.
	ErrKindInternal ErrorKind = "internal"
)

// Sentinel errors forming the caller-facing taxonomy. Match with errors.Is.
var (
	// ErrInvalidConfig rejects a caller error before any state change.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrNotAllowed rejects a resume request targeting a stale or mismatched
	// execution, or a context in the wrong state.
	ErrNotAllowed = errors.New("not allowed")
	// ErrNotFound reports an unknown agent identifier.
	ErrNotFound = errors.New("agent context not found")
	// ErrAllParticipantsFailed reports a debate with zero usable answers.
	ErrAllParticipantsFailed = errors.New("all debate participants failed")
	// ErrCancelled reports an external stop honored mid-step.
	ErrCancelled = errors.New("execution cancelled")
)

// ProviderError wraps a single model invocation failure. Retryable
// distinguishes transient failures (rate limits, timeouts, 5xx) from permanent
// ones so callers can opt into retry policy.
type ProviderError struct {
	Provider  string
	Retryable bool
	Err       error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError wraps err as a provider failure.
func NewProviderError(provider string, retryable bool, err error) *ProviderError {
	return &ProviderError{Provider: provider, Retryable: retryable, Err: err}
}

// KindOf maps a step failure to the ErrorKind recorded in the context.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrCancelled):
		return ErrKindCancelled
	case errors.Is(err, ErrAllParticipantsFailed):
		return ErrKindAllParticipantsFailed
	default:
		var pErr *ProviderError
		if errors.As(err, &pErr) {
			return ErrKindProvider
		}
		return ErrKindInternal
	}
}
