package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for transport mapping.
type Kind string

const (
	KindValidation        Kind = "VALIDATION"
	KindAuth              Kind = "AUTH"
	KindForbidden         Kind = "FORBIDDEN"
	KindNotFound          Kind = "NOT_FOUND"
	KindConflict          Kind = "CONFLICT"
	KindRateLimited       Kind = "RATE_LIMITED"
	KindUpstreamTransient Kind = "UPSTREAM_TRANSIENT"
	KindUpstreamFatal     Kind = "UPSTREAM_FATAL"
	KindInternal          Kind = "INTERNAL"
)

// Stable machine-readable codes surfaced to clients.
const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodeNotFound            = "NOT_FOUND"
	CodeInternal            = "INTERNAL_ERROR"
	CodeOutOfWindow         = "OUT_OF_WINDOW"
	CodeSlotTaken           = "SLOT_TAKEN"
	CodeInvalidTransition   = "INVALID_TRANSITION"
	CodeConflictingCallback = "CONFLICTING_CALLBACK"
	CodeBadSignature        = "BAD_SIGNATURE"
	CodeGatewayRejected     = "GATEWAY_REJECTED"
	CodeGatewayAuth         = "GATEWAY_AUTH"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeRateLimited         = "RATE_LIMITED"

	CodeRedeemNotFound      = "REDEEM_NOT_FOUND"
	CodeRedeemExpired       = "REDEEM_EXPIRED"
	CodeRedeemInactive      = "REDEEM_INACTIVE"
	CodeRedeemBelowMin      = "REDEEM_BELOW_MIN"
	CodeRedeemExhausted     = "REDEEM_EXHAUSTED"
	CodeRedeemUserExhausted = "REDEEM_USER_EXHAUSTED"
	CodeRedeemNotApplicable = "REDEEM_NOT_APPLICABLE"
	CodeRedeemDuplicate     = "REDEEM_CODE_EXISTS"

	CodeRoomNotFound   = "ROOM_NOT_FOUND"
	CodeTokenExpired   = "TOKEN_EXPIRED"
	CodeTokenInvalid   = "TOKEN_INVALID"
	CodeNotParticipant = "NOT_PARTICIPANT"
	CodeRevoked        = "REVOKED"

	CodeEmptyFile       = "EMPTY_FILE"
	CodeFileTooLarge    = "FILE_TOO_LARGE"
	CodeUnsupportedType = "UNSUPPORTED_FILE_TYPE"
)

// Error is the boundary error returned by every component.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by code so callers can compare against sentinels.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func Validation(code, message string) *Error {
	return New(KindValidation, code, message)
}

func Conflict(code, message string) *Error {
	return New(KindConflict, code, message)
}

func NotFound(resource string) *Error {
	return New(KindNotFound, CodeNotFound, resource+" not found")
}

func Forbidden(message string) *Error {
	return New(KindForbidden, CodeForbidden, message)
}

func Internal(err error) *Error {
	return Wrap(KindInternal, CodeInternal, "internal server error", err)
}

// WithDetails returns a copy carrying extra client-visible details.
func (e *Error) WithDetails(details any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// As extracts *Error from err; anything else is treated as internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

// CodeOf returns the code of err, or "" for nil.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	return As(err).Code
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstreamTransient:
		return http.StatusServiceUnavailable
	case KindUpstreamFatal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
