package protocol

import "fmt"

// Code is a reply error code. Positive replies carry no code; errors are
// always one of the negative values below. This is the later protocol
// revision's code set (-3..-9); the original -1..-7 set is not supported.
type Code int

const (
	ErrGeneric       Code = -3
	ErrVerbNotFound  Code = -4
	ErrWrongArg      Code = -5
	ErrWrongArgCount Code = -6
	ErrMalformedArg  Code = -7
	ErrObjNotFound   Code = -8
	ErrObjExists     Code = -9
)

// Error is a protocol-level failure: a code plus a human-readable reason.
// Only the code is sent back over the wire; the reason is not.
type Error struct {
	Code   Code
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d %s", e.Code, e.Reason)
}

func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Reason: fmt.Sprintf(format, args...)}
}
