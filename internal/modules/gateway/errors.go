package gateway

import (
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Category is the normalised failure class of a gateway call.
type Category string

const (
	CategoryAuth                Category = "AUTH"
	CategoryValidation          Category = "VALIDATION"
	CategoryRateLimited         Category = "RATE_LIMITED"
	CategoryUpstreamUnavailable Category = "UPSTREAM_UNAVAILABLE"
)

type Error struct {
	Category   Category
	Op         string
	StatusCode int
	Code       string
	Message    string
	// NotSent is set when the request provably never reached the gateway.
	NotSent bool
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("gateway %s: %s", e.Op, e.Category)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" status=%d", e.StatusCode)
	}
	if e.Code != "" {
		msg += " code=" + e.Code
	}
	if e.Message != "" {
		msg += " " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient reports whether retrying the same call may succeed.
func (e *Error) Transient() bool {
	return e.Category == CategoryRateLimited || e.Category == CategoryUpstreamUnavailable
}

// IsCategory reports whether err is a gateway error of category c.
func IsCategory(err error, c Category) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Category == c
}

func classifyStatus(op string, status int, code, message string) *Error {
	e := &Error{Op: op, StatusCode: status, Code: code, Message: message}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Category = CategoryAuth
	case status == http.StatusTooManyRequests:
		e.Category = CategoryRateLimited
	case status >= 500:
		e.Category = CategoryUpstreamUnavailable
	default:
		e.Category = CategoryValidation
	}
	return e
}

func transportError(op string, err error) *Error {
	e := &Error{Op: op, Category: CategoryUpstreamUnavailable, Err: err}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		e.NotSent = true
	}
	return e
}
