package domain

import (
	"errors"
	"fmt"
)

// Code identifies a failure class across component boundaries.
type Code string

const (
	CodeSourceUnavailable        Code = "SOURCE_UNAVAILABLE"
	CodeResolutionTimeout        Code = "RESOLUTION_TIMEOUT"
	CodeInvalidSelection         Code = "INVALID_SELECTION"
	CodeNoActiveSession          Code = "NO_ACTIVE_SESSION"
	CodeDeviceNotFound           Code = "DEVICE_NOT_FOUND"
	CodeNoActiveCast             Code = "NO_ACTIVE_CAST"
	CodeUnsupportedAction        Code = "UNSUPPORTED_ACTION"
	CodeInvalidParameter         Code = "INVALID_PARAMETER"
	CodeDeviceCommunicationError Code = "DEVICE_COMMUNICATION_ERROR"
	CodeEncoderUnavailable       Code = "ENCODER_UNAVAILABLE"
	CodeStreamNotFound           Code = "STREAM_NOT_FOUND"
	CodeRangeUnsatisfiable       Code = "RANGE_UNSATISFIABLE"
	CodeInternal                 Code = "INTERNAL_ERROR"
)

// Error is the structured failure returned by every component.
type Error struct {
	Code           Code           `json:"code"`
	Message        string         `json:"message"`
	SuggestedFixes []string       `json:"suggested_fixes,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
	Err            error          `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// WithDetail returns e after setting a detail key.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
