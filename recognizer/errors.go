package recognizer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

type Code string

const (
	CodeSpeechTimeout           Code = "speech_timeout"
	CodeNoMatch                 Code = "no_match"
	CodeNetworkTimeout          Code = "network_timeout"
	CodeBusy                    Code = "busy"
	CodeInsufficientPermissions Code = "insufficient_permissions"
	CodeServer                  Code = "server"
)

// Error is a recognition failure. Transient errors are expected during
// continuous recognition and are handled by restarting the engine.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return "recognizer: " + string(e.Code)
	}
	return fmt.Sprintf("recognizer: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Transient() bool {
	switch e.Code {
	case CodeSpeechTimeout, CodeNoMatch, CodeNetworkTimeout:
		return true
	}
	return false
}

// Classify maps any error to a recognition error. Unknown errors are
// treated as server errors.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		return re
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: CodeNetworkTimeout, Message: err.Error(), Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Error{Code: CodeNetworkTimeout, Message: err.Error(), Err: err}
	}
	return &Error{Code: CodeServer, Message: err.Error(), Err: err}
}

func IsTransient(err error) bool {
	re := Classify(err)
	return re != nil && re.Transient()
}

func fromHTTPStatus(status int, err error) *Error {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return &Error{Code: CodeInsufficientPermissions, Message: http.StatusText(status), Err: err}
	case status == http.StatusTooManyRequests:
		return &Error{Code: CodeBusy, Message: http.StatusText(status), Err: err}
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return &Error{Code: CodeNetworkTimeout, Message: http.StatusText(status), Err: err}
	}
	return Classify(err)
}
