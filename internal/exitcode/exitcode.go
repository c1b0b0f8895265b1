package exitcode

import (
	"context"
	"errors"
)

// Exit codes for llm-relay commands
const (
	Success     = 0
	Error       = 1
	Usage       = 2
	Unavailable = 3   // backend refused or failed the request
	Truncated   = 4   // response stopped at the segment limit
	Cancelled   = 130 // 128 + SIGINT
)

// ExitError is an error that carries a specific exit code
type ExitError struct {
	Code    int
	Message string
}

func (e ExitError) Error() string {
	return e.Message
}

// Convenience constructors
func Backend(msg string) ExitError      { return ExitError{Code: Unavailable, Message: msg} }
func SegmentLimit(msg string) ExitError { return ExitError{Code: Truncated, Message: msg} }
func Cancel() ExitError                 { return ExitError{Code: Cancelled, Message: "cancelled"} }

// Code returns the exit status for err.
func Code(err error) int {
	if err == nil {
		return Success
	}
	var ee ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled
	}
	return Error
}
