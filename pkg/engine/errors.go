package engine

import (
	"errors"
	"fmt"
	"time"
)

// ErrorClass represents the classification of an error for propagation logic.
type ErrorClass string

const (
	// ErrorClassConfiguration indicates invalid input detected before any lane runs.
	// It is the only class that aborts a run.
	ErrorClassConfiguration ErrorClass = "configuration"

	// ErrorClassLane indicates a lane that ran but did not pass (non-zero exit or timeout).
	// Recorded per lane, never aborts sibling lanes.
	ErrorClassLane ErrorClass = "lane"

	// ErrorClassArtifact indicates a degraded artifact collection.
	// Never changes the pass/fail outcome of a run.
	ErrorClassArtifact ErrorClass = "artifact"

	// ErrorClassInternal indicates an orchestrator fault such as a failed state write.
	ErrorClassInternal ErrorClass = "internal"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Lane is the lane ID that produced the error, if applicable.
	Lane string `json:"lane,omitempty"`

	// Field names the configuration field at fault for configuration errors.
	Field string `json:"field,omitempty"`

	// Value is the offending configuration value.
	Value string `json:"value,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	switch {
	case e.Lane != "" && e.Field != "":
		msg = fmt.Sprintf("%s (lane=%s, field=%s)", msg, e.Lane, e.Field)
	case e.Lane != "":
		msg = fmt.Sprintf("%s (lane=%s)", msg, e.Lane)
	case e.Field != "":
		msg = fmt.Sprintf("%s (field=%s)", msg, e.Field)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
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

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConfiguration,
		Message: message,
		Err:     err,
	}
}

// NewLaneFailure records a lane whose runner exited non-zero or could not start.
func NewLaneFailure(laneID string, exitCode int, err error) *EngineError {
	return (&EngineError{
		Class:   ErrorClassLane,
		Message: fmt.Sprintf("lane exited with code %d", exitCode),
		Code:    ErrCodeLaneFailed,
		Lane:    laneID,
		Err:     err,
	}).WithDetail("exit_code", exitCode)
}

// NewLaneTimeout records a lane that exceeded its time bound.
func NewLaneTimeout(laneID string, timeout time.Duration) *EngineError {
	return (&EngineError{
		Class:   ErrorClassLane,
		Message: fmt.Sprintf("lane exceeded timeout of %s", timeout),
		Code:    ErrCodeLaneTimeout,
		Lane:    laneID,
	}).WithDetail("timeout", timeout.String())
}

// NewMissingReportError records a report file that was absent after the lane finished.
func NewMissingReportError(laneID, path string, err error) *EngineError {
	return (&EngineError{
		Class:   ErrorClassArtifact,
		Message: "report file not found",
		Code:    ErrCodeMissingReport,
		Lane:    laneID,
		Err:     err,
	}).WithDetail("path", path)
}

// NewArtifactUploadError records a failed upload.
func NewArtifactUploadError(laneID, name string, err error) *EngineError {
	return (&EngineError{
		Class:   ErrorClassArtifact,
		Message: "artifact upload failed",
		Code:    ErrCodeArtifactUploadFailed,
		Lane:    laneID,
		Err:     err,
	}).WithDetail("artifact", name)
}

// NewInternalError creates a new internal error.
func NewInternalError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassInternal,
		Message: message,
		Code:    ErrCodeInternal,
		Err:     err,
	}
}

// WithLane adds lane context to an error.
func (e *EngineError) WithLane(laneID string) *EngineError {
	e.Lane = laneID
	return e
}

// WithField records the configuration field and offending value.
func (e *EngineError) WithField(field, value string) *EngineError {
	e.Field = field
	e.Value = value
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

// IsConfigurationError returns true if the error is classified as a configuration error.
func IsConfigurationError(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConfiguration
	}
	return false
}

// IsLaneFailure returns true for lane failures, timeouts included.
func IsLaneFailure(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassLane
	}
	return false
}

// IsLaneTimeout returns true if the error is a lane timeout.
func IsLaneTimeout(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassLane && e.Code == ErrCodeLaneTimeout
	}
	return false
}

// IsMissingReport returns true if the error is a missing report annotation.
func IsMissingReport(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code == ErrCodeMissingReport
	}
	return false
}

// IsArtifactUploadError returns true if the error is a failed upload.
func IsArtifactUploadError(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code == ErrCodeArtifactUploadFailed
	}
	return false
}

// AsEngineError returns err as an *EngineError, wrapping foreign errors as internal.
func AsEngineError(err error) *EngineError {
	if err == nil {
		return nil
	}
	var e *EngineError
	if errors.As(err, &e) {
		return e
	}
	return NewInternalError("unexpected error", err)
}

// Error codes.
const (
	ErrCodeInvalidTagExpression = "INVALID_TAG_EXPRESSION"
	ErrCodeInvalidLaneSpec      = "INVALID_LANE_SPEC"
	ErrCodePolicyDenied         = "POLICY_DENIED"
	ErrCodeLaneFailed           = "LANE_FAILED"
	ErrCodeLaneTimeout          = "LANE_TIMEOUT"
	ErrCodeMissingReport        = "MISSING_REPORT"
	ErrCodeArtifactUploadFailed = "ARTIFACT_UPLOAD_FAILED"
	ErrCodeInternal             = "INTERNAL_ERROR"
)
