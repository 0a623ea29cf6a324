package domain

import (
	"time"
)

// Reservation is the durable ledger record written once a seat is Reserved.
type Reservation struct {
	SeatID     string
	EventID    string
	UserID     string
	JobID      string
	ReservedAt time.Time
}

func NewReservation(seat Seat, jobID string, now time.Time) Reservation {
	return Reservation{
		SeatID:     seat.ID,
		EventID:    seat.EventID,
		UserID:     seat.HolderID,
		JobID:      jobID,
		ReservedAt: now.UTC(),
	}
}
