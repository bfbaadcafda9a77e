// Package errors provides the standardized error taxonomy of the notification core
// and its mapping onto Zeebe/BPMN job failures.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeValidationFailed       ErrorCode = "VALIDATION_FAILED"
	ErrCodeStorage                ErrorCode = "STORAGE_ERROR"
	ErrCodeNotFound               ErrorCode = "NOT_FOUND"
	ErrCodePreferenceLookupFailed ErrorCode = "PREFERENCE_LOOKUP_FAILED"
	ErrCodeChannel                ErrorCode = "CHANNEL_ERROR"
	ErrCodePublishFailed          ErrorCode = "PUBLISH_FAILED"
	ErrCodeInternal               ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Cause     error                  `json:"-"`
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.Cause
}

// Is matches another StandardError by code, so errors.Is(err, &StandardError{Code: X})
// works through wrapping.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

// NewValidationError creates a non-retryable error for malformed input.
// It is always raised before any I/O happens.
func NewValidationError(field, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Validation failed",
		Details:   details,
		Retryable: false,
		Metadata:  map[string]interface{}{"field": field},
		Timestamp: time.Now().UTC(),
	}
}

// NewStorageError creates a retryable persistence error.
func NewStorageError(operation string, err error) *StandardError {
	details := operation
	if err != nil {
		details = fmt.Sprintf("%s: %s", operation, err.Error())
	}
	return &StandardError{
		Code:      ErrCodeStorage,
		Message:   "Notification storage unavailable",
		Details:   details,
		Retryable: true,
		Metadata:  map[string]interface{}{"operation": operation},
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

// NewNotFoundError creates a non-retryable error for a missing or foreign record.
func NewNotFoundError(resource, id string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotFound,
		Message:   fmt.Sprintf("%s not found", resource),
		Details:   fmt.Sprintf("id: %s", id),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewPreferenceLookupError wraps a preference store failure. The gate logs it and fails open.
func NewPreferenceLookupError(userID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodePreferenceLookupFailed,
		Message:   "Preference lookup failed",
		Details:   err.Error(),
		Retryable: true,
		Metadata:  map[string]interface{}{"userId": userID},
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

// NewChannelError reports a dropped or lagging live subscription.
func NewChannelError(userID string, err error) *StandardError {
	details := "subscription closed"
	if err != nil {
		details = err.Error()
	}
	return &StandardError{
		Code:      ErrCodeChannel,
		Message:   "Live event channel dropped",
		Details:   details,
		Retryable: true,
		Metadata:  map[string]interface{}{"userId": userID},
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

// NewPublishError reports an event that could not be handed to the bus.
func NewPublishError(channel string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodePublishFailed,
		Message:   "Event publish failed",
		Details:   fmt.Sprintf("channel: %s, error: %s", channel, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

// ==========================
// 4. Inspection helpers
// ==========================

// CodeOf returns the code of the first StandardError in err's chain, or INTERNAL_ERROR.
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ErrCodeInternal
}

func IsValidation(err error) bool { return err != nil && CodeOf(err) == ErrCodeValidationFailed }
func IsStorage(err error) bool    { return err != nil && CodeOf(err) == ErrCodeStorage }
func IsNotFound(err error) bool   { return err != nil && CodeOf(err) == ErrCodeNotFound }

// Normalize ensures we always have a StandardError.
func Normalize(err error) *StandardError {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

// ==========================
// 5. Error Conversion to BPMN
// ==========================

// GetRetryCount returns the recommended retry count for a job failing with code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeStorage, ErrCodePublishFailed:
		return 3
	case ErrCodeChannel, ErrCodePreferenceLookupFailed:
		return 1
	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      string(stdErr.Code),
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "VALIDATION"):
		return "VALIDATION"
	case strings.Contains(codeStr, "STORAGE"), strings.Contains(codeStr, "NOT_FOUND"):
		return "DATABASE"
	case strings.Contains(codeStr, "PREFERENCE"):
		return "PREFERENCE"
	case strings.Contains(codeStr, "CHANNEL"), strings.Contains(codeStr, "PUBLISH"):
		return "EVENTS"
	default:
		return "OTHER"
	}
}
