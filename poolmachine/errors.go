package poolmachine

import (
	"errors"
	"fmt"
)

// Code is the numeric error code returned to callers when a business rule is
// violated. Preconditions are validated in a fixed order and the first violated
// rule's code is returned; no state is mutated on any failure path.
type Code int64

const (
	CodeAuthorization     Code = 100
	CodeNotFound          Code = 101
	CodeInvalidInput      Code = 102
	CodeStateConflict     Code = 103
	CodeTemporal          Code = 104
	CodeInsufficientFunds Code = 105
	CodeInsufficientVotes Code = 106
)

func (c Code) String() string {
	switch c {
	case CodeAuthorization:
		return "authorization"
	case CodeNotFound:
		return "not found"
	case CodeInvalidInput:
		return "invalid input"
	case CodeStateConflict:
		return "state conflict"
	case CodeTemporal:
		return "temporal"
	case CodeInsufficientFunds:
		return "insufficient funds"
	case CodeInsufficientVotes:
		return "insufficient votes"
	}
	return "unknown"
}

type Error struct {
	Code   Code
	Op     string
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s [%d %s]", e.Op, e.Detail, e.Code, e.Code)
}

func E(code Code, op, detail string) *Error {
	return &Error{Code: code, Op: op, Detail: detail}
}

// CodeOf extracts the numeric code from an error produced by the machine. It
// unwraps, so codes survive fmt.Errorf("%w") wrapping.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}
