package protocol

import (
	"errors"
	"fmt"
)

// Client-visible failure codes. Every rejected request carries one of
// these plus a short human-readable reason.
const (
	// Malformed or out-of-range parameters.
	ErrInvalidRequest = "E_INVALID_REQUEST"
	// Wrong actor for the action (not a participant, not the seller, ...).
	ErrNotAuthorized = "E_NOT_AUTHORIZED"
	// Insufficient funds/items, too many listings, bid too low, out of
	// range, already trading.
	ErrPreconditionFailed = "E_PRECONDITION_FAILED"
	// Session/listing no longer in the expected state.
	ErrStateConflict = "E_STATE_CONFLICT"
	// Unknown session/listing id.
	ErrNoSuchEntity = "E_NO_SUCH_ENTITY"
	// Server-side failure that is not the client's fault.
	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrInvalidRequest:     {},
	ErrNotAuthorized:      {},
	ErrPreconditionFailed: {},
	ErrStateConflict:      {},
	ErrNoSuchEntity:       {},
	ErrInternal:           {},
}

func IsKnownCode(code string) bool {
	_, ok := knownCodes[code]
	return ok
}

// Error is a request rejection with a wire code and a reason suitable
// for showing to the player.
type Error struct {
	Code   string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

func NewError(code, format string, args ...any) *Error {
	return &Error{Code: code, Reason: fmt.Sprintf(format, args...)}
}

func InvalidRequest(format string, args ...any) *Error {
	return NewError(ErrInvalidRequest, format, args...)
}

func NotAuthorized(format string, args ...any) *Error {
	return NewError(ErrNotAuthorized, format, args...)
}

func PreconditionFailed(format string, args ...any) *Error {
	return NewError(ErrPreconditionFailed, format, args...)
}

func StateConflict(format string, args ...any) *Error {
	return NewError(ErrStateConflict, format, args...)
}

func NoSuchEntity(format string, args ...any) *Error {
	return NewError(ErrNoSuchEntity, format, args...)
}

func Internal(format string, args ...any) *Error {
	return NewError(ErrInternal, format, args...)
}

// CodeOf extracts the wire code from err, defaulting to E_INTERNAL for
// errors that are not protocol rejections.
func CodeOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ErrInternal
}

// ReasonOf extracts the player-visible reason from err. Internal errors
// are not leaked to clients.
func ReasonOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Reason
	}
	return "internal server error"
}
