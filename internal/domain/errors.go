package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the HTTP boundary.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// Error is a client-visible failure. Message and Code are safe to expose;
// Err carries internal detail and is only logged.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinel errors by kind and code so a wrapped copy still
// compares equal to the sentinel it was derived from.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// Validation builds a 400 error with a machine-readable reason.
func Validation(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

// KindOf reports the Kind of err, KindInternal for foreign errors.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// Validation reasons.
const (
	CodeInvalidInput     = "INVALID_INPUT"
	CodeInvalidUsername  = "INVALID_USERNAME"
	CodeInvalidEmail     = "INVALID_EMAIL"
	CodeWeakPassword     = "WEAK_PASSWORD"
	CodePasswordMismatch = "PASSWORD_MISMATCH"
	CodeInvalidEvent     = "INVALID_EVENT"
	CodeInvalidSlot      = "INVALID_SLOT"
	CodeUnknownUser      = "UNKNOWN_USER"
)

var (
	ErrInvalidToken          = &Error{Kind: KindUnauthorized, Code: "INVALID_TOKEN", Message: "invalid or expired token"}
	ErrInvalidOrExpiredToken = &Error{Kind: KindValidation, Code: "INVALID_OR_EXPIRED_TOKEN", Message: "invalid or expired token"}
	ErrInvalidCredentials    = &Error{Kind: KindUnauthorized, Code: "INVALID_CREDENTIALS", Message: "invalid username or password"}
	ErrAccountLocked         = &Error{Kind: KindUnauthorized, Code: "ACCOUNT_LOCKED", Message: "too many failed login attempts, try again later"}
	ErrEmailNotVerified      = &Error{Kind: KindUnauthorized, Code: "EMAIL_NOT_VERIFIED", Message: "email address has not been verified"}
	ErrUnauthorized          = &Error{Kind: KindUnauthorized, Code: "UNAUTHORIZED", Message: "authentication required"}

	ErrUsernameTaken = &Error{Kind: KindConflict, Code: "USERNAME_TAKEN", Message: "username already taken"}
	ErrEmailTaken    = &Error{Kind: KindConflict, Code: "EMAIL_TAKEN", Message: "email already registered"}
	ErrEventExists   = &Error{Kind: KindConflict, Code: "EVENT_EXISTS", Message: "event id already in use"}

	ErrForbidden          = &Error{Kind: KindForbidden, Code: "FORBIDDEN", Message: "not allowed to modify this event"}
	ErrEventNotFound      = &Error{Kind: KindNotFound, Code: "EVENT_NOT_FOUND", Message: "event not found"}
	ErrUserNotFound       = &Error{Kind: KindNotFound, Code: "USER_NOT_FOUND", Message: "user not found"}
	ErrNotParticipant     = &Error{Kind: KindValidation, Code: "NOT_PARTICIPANT", Message: "user is not a participant of this event"}
	ErrAlreadyParticipant = &Error{Kind: KindConflict, Code: "ALREADY_PARTICIPANT", Message: "user is already a participant"}

	ErrRateLimited = &Error{Kind: KindRateLimited, Code: "RATE_LIMIT_EXCEEDED", Message: "too many requests, try again later"}
)
