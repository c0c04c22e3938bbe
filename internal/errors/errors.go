package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes
// and to the reply a chat user receives.
type Code int

const (
	CodeSuccess       Code = 0
	CodeInternal      Code = 1
	CodeUsage         Code = 2
	CodeMissingSubnet Code = 3
	CodeInvalidAmount Code = 4
	CodeInvalidSubnet Code = 5

	CodeAuth        Code = 10
	CodeRateLimited Code = 11
	CodeUnavailable Code = 12
	CodeBlocked     Code = 16

	CodeNotFound             Code = 20
	CodeAmbiguous            Code = 21
	CodeDirectoryUnavailable Code = 22

	CodeInsufficientBalance Code = 30
	CodeRejected            Code = 31
	CodeUncertain           Code = 32

	CodeExpired        Code = 40
	CodeNothingPending Code = 41
)

// Error is a typed error that carries a stable error code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf returns the code of the outermost typed error in err's chain,
// CodeInternal for untyped errors and CodeSuccess for nil.
func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	if typed, ok := As(err); ok {
		return typed.Code
	}
	return CodeInternal
}

// IsParse reports whether err is a user input error that was recovered
// locally without any side effect.
func IsParse(err error) bool {
	switch CodeOf(err) {
	case CodeUsage, CodeMissingSubnet, CodeInvalidAmount, CodeInvalidSubnet:
		return true
	default:
		return false
	}
}

func ExitCode(err error) int {
	return int(CodeOf(err))
}

func (c Code) String() string {
	switch c {
	case CodeSuccess:
		return "success"
	case CodeInternal:
		return "internal_error"
	case CodeUsage:
		return "usage_error"
	case CodeMissingSubnet:
		return "missing_subnet"
	case CodeInvalidAmount:
		return "invalid_amount"
	case CodeInvalidSubnet:
		return "invalid_subnet"
	case CodeAuth:
		return "auth_error"
	case CodeRateLimited:
		return "rate_limited"
	case CodeUnavailable:
		return "unavailable"
	case CodeBlocked:
		return "command_blocked"
	case CodeNotFound:
		return "not_found"
	case CodeAmbiguous:
		return "ambiguous_match"
	case CodeDirectoryUnavailable:
		return "directory_unavailable"
	case CodeInsufficientBalance:
		return "insufficient_balance"
	case CodeRejected:
		return "rejected"
	case CodeUncertain:
		return "submission_uncertain"
	case CodeExpired:
		return "confirmation_expired"
	case CodeNothingPending:
		return "nothing_pending"
	default:
		return "error"
	}
}
