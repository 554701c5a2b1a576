package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeInconsistentState = "INCONSISTENT_STATE"
	ErrCodePlanner           = "PLANNER_ERROR"
	ErrCodeFeedback          = "FEEDBACK_ERROR"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeUpdateRejected    = "UPDATE_REJECTED"
	ErrCodeBehaviorLimit     = "BEHAVIOR_LIMIT"
	ErrCodeCircuitOpen       = "CIRCUIT_OPEN"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeStore             = "STORE_ERROR"
)

// Error is the structured error type for all cascade operations.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	StageID string         `json:"stage_id,omitempty"`
	StepID  string         `json:"step_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *Error) Error() string {
	switch {
	case e.StageID != "" && e.StepID != "":
		return fmt.Sprintf("[%s] stage %s step %s: %s", e.Code, e.StageID, e.StepID, e.Message)
	case e.StageID != "":
		return fmt.Sprintf("[%s] stage %s: %s", e.Code, e.StageID, e.Message)
	case e.StepID != "":
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the failure may succeed on a later attempt.
// Data and protocol errors never do.
func (e *Error) IsRetryable() bool {
	switch e.Code {
	case ErrCodePlanner, ErrCodeFeedback, ErrCodeStore:
		return true
	default:
		return false
	}
}

// NewError creates a new Error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStage attaches a stage ID to the error.
func (e *Error) WithStage(stageID string) *Error {
	e.StageID = stageID
	return e
}

// WithStep attaches a step ID to the error.
func (e *Error) WithStep(stepID string) *Error {
	e.StepID = stepID
	return e
}

// WithCause attaches an underlying cause.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}
