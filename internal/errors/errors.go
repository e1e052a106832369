// Package errors defines the typed errors the CLI renders into error envelopes.
// Every code maps to a process exit code and a stable type string.
package errors

import (
	"errors"
	"fmt"
)

type Code int

const (
	CodeSuccess       Code = 0
	CodeInternal      Code = 1
	CodeUsage         Code = 2
	CodeAuth          Code = 10
	CodeRateLimited   Code = 11
	CodeUnavailable   Code = 12
	CodeUnsupported   Code = 13
	CodeStale         Code = 14
	CodePartialStrict Code = 15
	CodeBlocked       Code = 16
	// CodeInvalidData marks contract or API responses that violate band invariants.
	CodeInvalidData Code = 17
)

var codeTypes = map[Code]string{
	CodeInternal:      "internal_error",
	CodeUsage:         "usage_error",
	CodeAuth:          "auth_error",
	CodeRateLimited:   "rate_limited",
	CodeUnavailable:   "provider_unavailable",
	CodeUnsupported:   "unsupported",
	CodeStale:         "stale_data",
	CodePartialStrict: "partial_results",
	CodeBlocked:       "command_blocked",
	CodeInvalidData:   "invalid_data",
}

// Type is the envelope error type for the code.
func (c Code) Type() string {
	if typ, ok := codeTypes[c]; ok {
		return typ
	}
	return "internal_error"
}

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

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
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

// CodeOf returns CodeInternal for errors that are not typed.
func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	if cliErr, ok := As(err); ok {
		return cliErr.Code
	}
	return CodeInternal
}

func ExitCode(err error) int {
	return int(CodeOf(err))
}

// Retryable reports whether a later call may succeed: the provider was down or
// throttled. Stale cache fallback and position watch both key off it.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeUnavailable, CodeRateLimited:
		return true
	default:
		return false
	}
}

// ProviderStatus is the meta.providers status string for a provider call result.
func ProviderStatus(err error) string {
	if err == nil {
		return "ok"
	}
	switch CodeOf(err) {
	case CodeAuth:
		return "auth_error"
	case CodeRateLimited:
		return "rate_limited"
	case CodeUnavailable:
		return "unavailable"
	default:
		return "error"
	}
}
