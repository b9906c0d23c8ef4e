package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies an engine error by how a run must react to it.
type ErrorClass string

const (
	// ErrorClassPrecondition indicates a prerequisite step is not yet satisfied.
	// Always fatal to the run, whatever the step's failure policy.
	ErrorClassPrecondition ErrorClass = "precondition"

	// ErrorClassAction indicates an external create or configure action failed.
	// Fatal for hard steps, absorbed for soft steps.
	ErrorClassAction ErrorClass = "action"

	// ErrorClassPersistence indicates a checkpoint could not be durably written.
	// Always fatal; the store needs inspection before resuming.
	ErrorClassPersistence ErrorClass = "persistence"

	// ErrorClassValidation indicates an invalid catalog, store, or run request.
	ErrorClassValidation ErrorClass = "validation"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Step is the step that caused the error, if applicable.
	Step string `json:"step,omitempty"`

	// Phase is the step phase being executed when the error occurred.
	Phase Phase `json:"phase,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	switch {
	case e.Step != "" && e.Phase != "":
		msg = fmt.Sprintf("%s (step=%s, phase=%s)", msg, e.Step, e.Phase)
	case e.Step != "":
		msg = fmt.Sprintf("%s (step=%s)", msg, e.Step)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewPreconditionError creates an error for an unsatisfied prerequisite.
func NewPreconditionError(step string, missing Prerequisite) *EngineError {
	return &EngineError{
		Class:   ErrorClassPrecondition,
		Message: fmt.Sprintf("prerequisite %s is not %s", missing.Step, missing.Phase),
		Code:    ErrCodePrerequisiteUnmet,
		Step:    step,
		Details: map[string]interface{}{
			"prerequisite": missing.Step,
			"phase":        string(missing.Phase),
		},
	}
}

// NewActionFailure creates an error for a failed external action.
func NewActionFailure(step string, phase Phase, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassAction,
		Message: fmt.Sprintf("%s action failed", phase),
		Code:    ErrCodeActionFailed,
		Step:    step,
		Phase:   phase,
		Err:     err,
	}
}

// NewPersistenceError creates an error for a checkpoint that could not be written.
func NewPersistenceError(step string, phase Phase, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPersistence,
		Message: "failed to persist checkpoint",
		Code:    ErrCodeCheckpointFailed,
		Step:    step,
		Phase:   phase,
		Err:     err,
	}
}

// NewValidationError creates a validation error.
func NewValidationError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassValidation,
		Message: message,
		Code:    ErrCodeValidation,
		Err:     err,
	}
}

// WithStep adds step context to an error.
func (e *EngineError) WithStep(step string) *EngineError {
	e.Step = step
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsPrecondition returns true if the error is a precondition error.
func IsPrecondition(err error) bool {
	return classOf(err) == ErrorClassPrecondition
}

// IsActionFailure returns true if the error is an action failure.
func IsActionFailure(err error) bool {
	return classOf(err) == ErrorClassAction
}

// IsPersistence returns true if the error is a persistence error.
func IsPersistence(err error) bool {
	return classOf(err) == ErrorClassPersistence
}

// IsValidation returns true if the error is a validation error.
func IsValidation(err error) bool {
	return classOf(err) == ErrorClassValidation
}

// ClassOf returns the class of an engine error, or "" for other errors.
func ClassOf(err error) ErrorClass {
	return classOf(err)
}

func classOf(err error) ErrorClass {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// Common error codes.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeDuplicateStep     = "DUPLICATE_STEP"
	ErrCodeUnknownStep       = "UNKNOWN_STEP"
	ErrCodeCycle             = "CYCLE"
	ErrCodeModeMismatch      = "MODE_MISMATCH"
	ErrCodeScenarioMismatch  = "SCENARIO_MISMATCH"
	ErrCodePrerequisiteUnmet = "PREREQUISITE_UNMET"
	ErrCodeActionFailed      = "ACTION_FAILED"
	ErrCodeCheckpointFailed  = "CHECKPOINT_FAILED"
)

// Sentinel errors for errors.Is matching.
var (
	ErrModeMismatch     = &EngineError{Class: ErrorClassValidation, Code: ErrCodeModeMismatch}
	ErrScenarioMismatch = &EngineError{Class: ErrorClassValidation, Code: ErrCodeScenarioMismatch}
	ErrCycle            = &EngineError{Class: ErrorClassValidation, Code: ErrCodeCycle}
)
