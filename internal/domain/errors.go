package domain

import (
	"net/http"

	"github.com/cockroachdb/errors"
)

// Error classes. Concrete reasons below are marked with one of these so
// callers can branch with errors.Is on either.
var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrInvalidInput         = errors.New("invalid input")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrForbidden            = errors.New("forbidden")
	ErrCapacity             = errors.New("capacity exceeded")
)

var (
	ErrSeatNotFound     = errors.Mark(errors.New("seat not found"), ErrNotFound)
	ErrEventNotFound    = errors.Mark(errors.New("event not found"), ErrNotFound)
	ErrSeatNotAvailable = errors.Mark(errors.New("seat is not available"), ErrConflict)
	ErrSeatNotOnHold    = errors.Mark(errors.New("seat is not on hold"), ErrConflict)
	ErrSeatLocked       = errors.Mark(errors.New("seat is already locked"), ErrConflict)
	ErrHolderMismatch   = errors.Mark(errors.Mark(errors.New("user is not holding this seat"), ErrConflict), ErrForbidden)
	ErrHoldLimitReached = errors.Mark(errors.New("hold limit reached"), ErrCapacity)
	ErrUnknownJobType   = errors.Mark(errors.New("unknown job type"), ErrInvalidInput)
)

func Invalidf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalidInput)
}

// IsRejection reports whether err is a business-rule outcome. Rejections are
// final on first evaluation; everything else counts as infrastructure
// failure and is retried.
func IsRejection(err error) bool {
	return errors.IsAny(err, ErrInvalidInput, ErrNotFound, ErrConflict, ErrForbidden, ErrCapacity)
}

func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrSeatLocked):
		return http.StatusLocked
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrCapacity):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
