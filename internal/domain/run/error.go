package run

import (
	"errors"
	"fmt"
)

// Kind groups error codes into the taxonomy the CLI maps onto exit codes
type Kind string

const (
	KindRouting       Kind = "RoutingError"
	KindRunConflict   Kind = "RunConflict"
	KindPhase         Kind = "PhaseError"
	KindWorkerFailure Kind = "WorkerFailure"
	KindConsolidation Kind = "ConsolidationError"
	KindDecision      Kind = "DecisionError"
	KindPersistence   Kind = "PersistenceError"
)

// Error represents a domain-specific orchestration error
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors by code so sentinels work with errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithMessage returns a copy carrying a more specific message
func (e *Error) WithMessage(format string, args ...interface{}) *Error {
	c := e.clone()
	c.Message = fmt.Sprintf(format, args...)
	return c
}

// WithDetail returns a copy with an extra detail entry
func (e *Error) WithDetail(key, value string) *Error {
	c := e.clone()
	c.Details[key] = value
	return c
}

// Wrap returns a copy wrapping the given cause
func (e *Error) Wrap(err error) *Error {
	c := e.clone()
	c.Err = err
	return c
}

func (e *Error) clone() *Error {
	details := make(map[string]string, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	return &Error{
		Kind:    e.Kind,
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Err:     e.Err,
	}
}

// Common orchestration errors
var (
	ErrUnknownWorkflow = &Error{
		Kind:    KindRouting,
		Code:    "UNKNOWN_WORKFLOW",
		Message: "No workflow matches the request",
	}

	ErrRunNotFound = &Error{
		Kind:    KindRouting,
		Code:    "RUN_NOT_FOUND",
		Message: "No persisted run with this name",
	}

	ErrDuplicateRun = &Error{
		Kind:    KindRunConflict,
		Code:    "DUPLICATE_RUN",
		Message: "An active run with this name already exists",
	}

	// ErrConcurrentUpdate indicates the persisted run moved on since it was loaded
	ErrConcurrentUpdate = &Error{
		Kind:    KindRunConflict,
		Code:    "CONCURRENT_UPDATE",
		Message: "Run state was modified by another writer",
	}

	ErrPhaseNotComplete = &Error{
		Kind:    KindPhase,
		Code:    "PHASE_NOT_COMPLETE",
		Message: "Current phase is not done",
	}

	ErrRunAlreadyTerminal = &Error{
		Kind:    KindPhase,
		Code:    "RUN_ALREADY_TERMINAL",
		Message: "Run is already completed or aborted",
	}

	ErrNoPendingCheckpoint = &Error{
		Kind:    KindPhase,
		Code:    "NO_PENDING_CHECKPOINT",
		Message: "Run is not waiting for a decision",
	}

	ErrWorkerFailure = &Error{
		Kind:    KindWorkerFailure,
		Code:    "WORKER_FAILURE",
		Message: "One or more workers failed",
	}

	ErrUnknownWorkerKind = &Error{
		Kind:    KindWorkerFailure,
		Code:    "UNKNOWN_WORKER_KIND",
		Message: "No worker registered for this kind",
	}

	ErrMissingSection = &Error{
		Kind:    KindConsolidation,
		Code:    "MISSING_SECTION",
		Message: "Required section has no result",
	}

	ErrUnexpectedSection = &Error{
		Kind:    KindConsolidation,
		Code:    "UNEXPECTED_SECTION",
		Message: "Result section is not part of the section order",
	}

	ErrInvalidDecision = &Error{
		Kind:    KindDecision,
		Code:    "INVALID_DECISION",
		Message: "Decision is not one of the offered options",
	}

	ErrPersistence = &Error{
		Kind:    KindPersistence,
		Code:    "PERSISTENCE",
		Message: "Artifact store write failed",
	}
)

// KindOf returns the taxonomy kind of err, or "" for foreign errors
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ExitCode maps an error onto the CLI exit code contract
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch {
	case KindOf(err) == KindRouting:
		return 2
	case errors.Is(err, ErrDuplicateRun):
		return 3
	default:
		return 1
	}
}
