package nvmeuq

import (
	"errors"
	"fmt"
	"syscall"
)

// Error is a structured error carrying the operation, device/queue
// context, and an ErrorCode category, in the shape the teacher's own
// errors.go uses for ublk device errors.
type Error struct {
	Op    string    // Operation that failed (e.g. "SUBMIT_REQUEST", "CREATE_IO_USER_QUEUE")
	DevID int       // Controller id (0 if not applicable)
	Queue int       // Queue id (-1 if not applicable)
	Code  ErrorCode // High-level error category
	Errno syscall.Errno
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.DevID != 0 {
		parts = append(parts, fmt.Sprintf("dev=%d", e.DevID))
	}
	if e.Queue >= 0 {
		parts = append(parts, fmt.Sprintf("queue=%d", e.Queue))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("nvmeuq: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("nvmeuq: %s", msg)
}

func (e *Error) Unwrap() error { return e.Inner }

func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if sc, ok := target.(SentinelError); ok {
		return e.Code == ErrorCode(sc)
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode categorizes an *Error, per spec.md §7's error handling design:
// back-pressure is not an error at all (a zero ioqueue.Result), but every
// other rejection path this engine takes gets one of these codes.
type ErrorCode string

const (
	ErrCodeBackpressure      ErrorCode = "back-pressure"
	ErrCodeUnsupportedOpcode ErrorCode = "unsupported opcode"
	ErrCodeOversizedTransfer ErrorCode = "oversized transfer"
	ErrCodeDeviceCompletion  ErrorCode = "device completion error"
	ErrCodeTransport         ErrorCode = "transport failure"
	ErrCodeDeviceNotFound    ErrorCode = "device not found"
	ErrCodeQueueNotFound     ErrorCode = "queue not found"
	ErrCodeInvalidParameters ErrorCode = "invalid parameters"
	ErrCodeTimeout           ErrorCode = "timeout"
)

// SentinelError lets callers compare against a bare error code with
// errors.Is, the same role the teacher's legacy UblkError type plays.
type SentinelError ErrorCode

func (e SentinelError) Error() string { return fmt.Sprintf("nvmeuq: %s", string(e)) }

var (
	ErrBackpressure      = SentinelError(ErrCodeBackpressure)
	ErrUnsupportedOpcode = SentinelError(ErrCodeUnsupportedOpcode)
	ErrOversizedTransfer = SentinelError(ErrCodeOversizedTransfer)
	ErrDeviceCompletion  = SentinelError(ErrCodeDeviceCompletion)
	ErrTransport         = SentinelError(ErrCodeTransport)
	ErrDeviceNotFound    = SentinelError(ErrCodeDeviceNotFound)
	ErrQueueNotFound     = SentinelError(ErrCodeQueueNotFound)
	ErrInvalidParameters = SentinelError(ErrCodeInvalidParameters)
	ErrTimeout           = SentinelError(ErrCodeTimeout)
)

func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Queue: -1, Code: code, Msg: msg}
}

func NewErrorWithErrno(op string, code ErrorCode, errno syscall.Errno) *Error {
	return &Error{Op: op, Queue: -1, Code: code, Errno: errno, Msg: errno.Error()}
}

func NewQueueError(op string, devID, queue int, code ErrorCode, msg string) *Error {
	return &Error{Op: op, DevID: devID, Queue: queue, Code: code, Msg: msg}
}

// WrapError wraps an existing error with nvmeuq context, mapping a bare
// syscall.Errno (from a real hostsvc.Services implementation) to an
// ErrorCode.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	if ne, ok := inner.(*Error); ok {
		return &Error{Op: op, DevID: ne.DevID, Queue: ne.Queue, Code: ne.Code, Errno: ne.Errno, Msg: ne.Msg, Inner: ne.Inner}
	}

	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{Op: op, Queue: -1, Code: mapErrnoToCode(errno), Errno: errno, Msg: errno.Error(), Inner: inner}
	}

	return &Error{Op: op, Queue: -1, Code: ErrCodeTransport, Msg: inner.Error(), Inner: inner}
}

func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.ENOENT:
		return ErrCodeDeviceNotFound
	case syscall.EINVAL, syscall.E2BIG:
		return ErrCodeInvalidParameters
	case syscall.ETIMEDOUT:
		return ErrCodeTimeout
	case syscall.ENOMEM, syscall.ENOSPC:
		return ErrCodeOversizedTransfer
	default:
		return ErrCodeTransport
	}
}

func IsCode(err error, code ErrorCode) bool {
	var ne *Error
	if errors.As(err, &ne) {
		return ne.Code == code
	}
	return false
}

func IsErrno(err error, errno syscall.Errno) bool {
	var ne *Error
	if errors.As(err, &ne) {
		return ne.Errno == errno
	}
	return false
}
