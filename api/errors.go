// Package api
// Author: momentics <momentics@gmail.com>
//
// Error taxonomy shared by the transport, reactor and protocol layers.

package api

import (
	"errors"
	"fmt"
)

// Sentinel errors. Compare with errors.Is; concrete errors returned by the
// library wrap one of these together with the OS-level cause.
var (
	ErrAddressParse      = errors.New("malformed address")
	ErrBind              = errors.New("bind failed")
	ErrConnect           = errors.New("connect failed")
	ErrMalformedRequest  = errors.New("malformed request")
	ErrOversizedRequest  = errors.New("oversized request")
	ErrIO                = errors.New("socket i/o error")
	ErrTLSHandshake      = errors.New("tls handshake failed")
	ErrClosed            = errors.New("connection closed")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrNotSupported      = errors.New("operation not supported")
	ErrIdleTimeout       = errors.New("idle timeout")
)

// ErrorCode represents specific error conditions in the library. The zero
// value is not a valid code.
type ErrorCode int

const (
	ErrCodeAddressParse ErrorCode = iota + 1
	ErrCodeBind
	ErrCodeConnect
	ErrCodeMalformedRequest
	ErrCodeOversizedRequest
	ErrCodeIO
	ErrCodeTLSHandshake
	ErrCodeClosed
	ErrCodeInvalidArgument
	ErrCodeInternal
)

var codeSentinels = map[ErrorCode]error{
	ErrCodeAddressParse:     ErrAddressParse,
	ErrCodeBind:             ErrBind,
	ErrCodeConnect:          ErrConnect,
	ErrCodeMalformedRequest: ErrMalformedRequest,
	ErrCodeOversizedRequest: ErrOversizedRequest,
	ErrCodeIO:               ErrIO,
	ErrCodeTLSHandshake:     ErrTLSHandshake,
	ErrCodeClosed:           ErrClosed,
	ErrCodeInvalidArgument:  ErrInvalidArgument,
}

// Error represents a structured error with code, context and an optional cause.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if len(e.Context) > 0 {
		msg = fmt.Sprintf("%s (context: %+v)", msg, e.Context)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel matching e.Code.
func (e *Error) Is(target error) bool {
	s, ok := codeSentinels[e.Code]
	return ok && s == target
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Wrap records cause as the underlying error and returns e.
func (e *Error) Wrap(cause error) *Error {
	e.Err = cause
	return e
}
