package iocatcher

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/internal/wire"
)

// Error is a structured iocatcher error with enough context to log or
// match against without parsing a message string.
type Error struct {
	Op       string        // operation that failed (e.g. "OBJ_READ", "RANGE_REGISTER")
	ObjectID wire.ObjectID // zero value if not applicable
	ClientID uint64        // tcpClientId; 0 if not applicable
	Code     IOCErrorCode  // high-level error category
	Errno    syscall.Errno // underlying errno, 0 if not applicable
	Msg      string        // human-readable message
	Inner    error         // wrapped error
}

func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.ObjectID != (wire.ObjectID{}) {
		parts = append(parts, fmt.Sprintf("object=%s", e.ObjectID))
	}
	if e.ClientID != 0 {
		parts = append(parts, fmt.Sprintf("client=%d", e.ClientID))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("iocatcher: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("iocatcher: %s", msg)
}

func (e *Error) Unwrap() error { return e.Inner }

// Is supports errors.Is against another *Error by comparing Code, and
// against a bare IOCErrorCode.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if code, ok := target.(IOCErrorCode); ok {
		return e.Code == code
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// IOCErrorCode is a high-level error category, stable across message
// formatting changes (§7, §10.1).
type IOCErrorCode string

func (c IOCErrorCode) Error() string { return string(c) }

const (
	ErrCodeUnknownObject      IOCErrorCode = "unknown object"
	ErrCodeRangeConflict      IOCErrorCode = "range conflict"
	ErrCodeBadAuth            IOCErrorCode = "bad auth"
	ErrCodeProtocolMismatch   IOCErrorCode = "protocol version mismatch"
	ErrCodeDeserializeOverrun IOCErrorCode = "deserialize overrun"
	ErrCodeStorageIO          IOCErrorCode = "storage I/O error"
	ErrCodeConnectionClosed   IOCErrorCode = "connection closed"
	ErrCodeInvalidParameters  IOCErrorCode = "invalid parameters"
	ErrCodeObjectExists       IOCErrorCode = "object already exists"
	ErrCodeInsufficientMemory IOCErrorCode = "insufficient memory"
	ErrCodeTimeout            IOCErrorCode = "timeout"
)

// NewError creates a structured error with no object/client context.
func NewError(op string, code IOCErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewErrorWithErrno creates a structured error carrying an errno.
func NewErrorWithErrno(op string, code IOCErrorCode, errno syscall.Errno) *Error {
	return &Error{Op: op, Code: code, Errno: errno, Msg: errno.Error()}
}

// NewObjectError creates a structured error scoped to one object.
func NewObjectError(op string, objectID wire.ObjectID, code IOCErrorCode, msg string) *Error {
	return &Error{Op: op, ObjectID: objectID, Code: code, Msg: msg}
}

// NewClientError creates a structured error scoped to one client.
func NewClientError(op string, clientID uint64, code IOCErrorCode, msg string) *Error {
	return &Error{Op: op, ClientID: clientID, Code: code, Msg: msg}
}

// WrapError wraps inner with op, preserving any existing *Error context
// or mapping a bare syscall.Errno onto an IOCErrorCode.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	var ie *Error
	if errors.As(inner, &ie) {
		return &Error{
			Op:       op,
			ObjectID: ie.ObjectID,
			ClientID: ie.ClientID,
			Code:     ie.Code,
			Errno:    ie.Errno,
			Msg:      ie.Msg,
			Inner:    ie.Inner,
		}
	}

	if errno, ok := inner.(syscall.Errno); ok {
		code := mapErrnoToCode(errno)
		return &Error{Op: op, Code: code, Errno: errno, Msg: errno.Error(), Inner: inner}
	}

	return &Error{Op: op, Code: ErrCodeStorageIO, Msg: inner.Error(), Inner: inner}
}

func mapErrnoToCode(errno syscall.Errno) IOCErrorCode {
	switch errno {
	case syscall.ENOENT:
		return ErrCodeUnknownObject
	case syscall.EEXIST:
		return ErrCodeObjectExists
	case syscall.EINVAL, syscall.E2BIG:
		return ErrCodeInvalidParameters
	case syscall.EPERM, syscall.EACCES:
		return ErrCodeBadAuth
	case syscall.ENOMEM, syscall.ENOSPC:
		return ErrCodeInsufficientMemory
	case syscall.ETIMEDOUT:
		return ErrCodeTimeout
	default:
		return ErrCodeStorageIO
	}
}

// IsCode reports whether err is (or wraps) an *Error with the given code.
func IsCode(err error, code IOCErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsErrno reports whether err is (or wraps) an *Error carrying errno.
func IsErrno(err error, errno syscall.Errno) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Errno == errno
	}
	return false
}
