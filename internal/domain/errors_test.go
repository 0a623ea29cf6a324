package domain_test

import (
	"net/http"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-admission/internal/domain"
)

func TestStatusCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"seat not found", domain.ErrSeatNotFound, http.StatusNotFound},
		{"wrapped not found", errors.Wrap(domain.ErrSeatNotFound, "load seat"), http.StatusNotFound},
		{"not available", domain.ErrSeatNotAvailable, http.StatusConflict},
		{"not on hold", domain.ErrSeatNotOnHold, http.StatusConflict},
		{"holder mismatch", domain.ErrHolderMismatch, http.StatusForbidden},
		{"locked", domain.ErrSeatLocked, http.StatusLocked},
		{"hold limit", errors.Wrap(domain.ErrHoldLimitReached, "user cannot hold more than 6 seats"), http.StatusTooManyRequests},
		{"invalid", domain.Invalidf("seat id is required"), http.StatusBadRequest},
		{"infrastructure", errors.New("dial tcp: connection refused"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := domain.StatusCode(tc.err); got != tc.want {
				t.Errorf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestIsRejection(t *testing.T) {
	rejections := []error{
		domain.ErrSeatNotFound,
		domain.ErrSeatNotAvailable,
		domain.ErrSeatNotOnHold,
		domain.ErrHolderMismatch,
		domain.ErrSeatLocked,
		domain.ErrHoldLimitReached,
		domain.ErrUnknownJobType,
		errors.Wrapf(domain.ErrSeatLocked, "seat %s", "s-1"),
	}
	for _, err := range rejections {
		if !domain.IsRejection(err) {
			t.Errorf("expected %v to be a rejection", err)
		}
	}

	infra := []error{
		errors.New("i/o timeout"),
		domain.ErrSerializationFailure,
	}
	for _, err := range infra {
		if domain.IsRejection(err) {
			t.Errorf("expected %v to be retried, not rejected", err)
		}
	}
}

func TestHolderMismatchIsConflictAndForbidden(t *testing.T) {
	if !errors.Is(domain.ErrHolderMismatch, domain.ErrConflict) {
		t.Error("holder mismatch should be a conflict")
	}
	if !errors.Is(domain.ErrHolderMismatch, domain.ErrForbidden) {
		t.Error("holder mismatch should be forbidden")
	}
	if errors.Is(domain.ErrSeatNotAvailable, domain.ErrSeatLocked) {
		t.Error("distinct conflict reasons must not match each other")
	}
}
