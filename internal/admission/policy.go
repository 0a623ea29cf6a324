// Package admission caps how many seats one identity may hold per event.
package admission

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-admission/internal/domain"
)

type SeatReader interface {
	GetSeat(ctx context.Context, id string) (*domain.Seat, error)
	SeatsByEvent(ctx context.Context, eventID string) ([]domain.Seat, error)
}

type Policy struct {
	seats   SeatReader
	maxHeld int
}

func NewPolicy(seats SeatReader, maxHeld int) *Policy {
	return &Policy{seats: seats, maxHeld: maxHeld}
}

func (p *Policy) MaxHeld() int {
	return p.maxHeld
}

// HeldSeats counts the seats of seatID's event that userID currently has on
// hold. A missing seat counts as zero; the caller reports not-found itself.
func (p *Policy) HeldSeats(ctx context.Context, seatID, userID string) (int, error) {
	seat, err := p.seats.GetSeat(ctx, seatID)
	if errors.Is(err, domain.ErrSeatNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "resolve seat event")
	}
	seats, err := p.seats.SeatsByEvent(ctx, seat.EventID)
	if err != nil {
		return 0, errors.Wrapf(err, "list seats of event %s", seat.EventID)
	}
	held := 0
	for _, s := range seats {
		if s.HeldBy(userID) {
			held++
		}
	}
	return held, nil
}

// Check returns ErrHoldLimitReached once userID holds the maximum.
func (p *Policy) Check(ctx context.Context, seatID, userID string) error {
	held, err := p.HeldSeats(ctx, seatID, userID)
	if err != nil {
		return err
	}
	if held >= p.maxHeld {
		return errors.Wrapf(domain.ErrHoldLimitReached, "user cannot hold more than %d seats", p.maxHeld)
	}
	return nil
}
