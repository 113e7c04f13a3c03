// Package apperrors defines the stable error taxonomy the engine surfaces
// to callers (spec §7). Components return sentinel-wrapped *TaskError
// values; the API layer maps Code to a transport-neutral status.
package apperrors

import (
	"errors"
	"fmt"
)

// Code is a stable error classification callers can switch on.
type Code string

const (
	CodeInvalidConfig         Code = "InvalidConfig"
	CodeNotFound              Code = "NotFound"
	CodeAlreadyRunning        Code = "AlreadyRunning"
	CodeGlobalBusy            Code = "GlobalBusy"
	CodeConnectionUnavailable Code = "ConnectionUnavailable"
	CodeConnectionLost        Code = "ConnectionLost"
	CodeQueryExecutionFailed  Code = "QueryExecutionFailed"
	CodeValidationFailed      Code = "ValidationFailed"
	CodeCancelled             Code = "Cancelled"
	CodeGroupPartiallyFailed  Code = "GroupPartiallyFailed"
	CodeBonificationOrphan    Code = "BonificationOrphan"
	CodeInvalidGroupConfig    Code = "InvalidGroupConfig"
	CodeNotManual             Code = "NotManual"
)

// retryable carries the set of codes the retry executor (package retry)
// should treat as transient regardless of error-message classification.
var retryable = map[Code]bool{
	CodeConnectionUnavailable: true,
	CodeConnectionLost:        true,
}

// TaskError is the error type every component in this engine returns for
// classified failures. Wrap an underlying cause with Cause so callers can
// still errors.Is/As through to driver-level errors.
type TaskError struct {
	Code    Code
	Message string
	Cause   error
}

func New(code Code, message string) *TaskError {
	return &TaskError{Code: code, Message: message}
}

func Wrap(code Code, cause error, message string) *TaskError {
	return &TaskError{Code: code, Message: message, Cause: cause}
}

func (e *TaskError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *TaskError) Unwrap() error {
	return e.Cause
}

// Is reports a match for any *TaskError target carrying the same Code, so
// callers can write errors.Is(err, apperrors.New(apperrors.CodeNotFound, ""))
// when they only care about the taxonomy rather than the full value.
func (e *TaskError) Is(target error) bool {
	var other *TaskError
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// CodeOf extracts the Code from err, returning "" if err is not (or does
// not wrap) a *TaskError.
func CodeOf(err error) Code {
	var te *TaskError
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}

// Retryable reports whether the engine's own taxonomy marks this error's
// code as transient. The retry executor additionally classifies by
// message substring for errors that never passed through apperrors.
func Retryable(err error) bool {
	return retryable[CodeOf(err)]
}
