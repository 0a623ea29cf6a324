package domain

import (
	"strings"
)

const (
	MinEventSeats = 10
	MaxEventSeats = 10000
)

type SeatStatus string

const (
	SeatAvailable SeatStatus = "Available"
	SeatOnHold    SeatStatus = "OnHold"
	SeatReserved  SeatStatus = "Reserved"
)

func (s SeatStatus) Valid() bool {
	switch s {
	case SeatAvailable, SeatOnHold, SeatReserved:
		return true
	}
	return false
}

type Event struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	TotalSeats int    `json:"total_seats"`
}

// Validate checks the event name and that TotalSeats is within
// [MinEventSeats, MaxEventSeats].
func (e Event) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return Invalidf("event name is required")
	}
	if e.TotalSeats < MinEventSeats || e.TotalSeats > MaxEventSeats {
		return Invalidf("total seats must be between %d and %d", MinEventSeats, MaxEventSeats)
	}
	return nil
}

// Seat is the cached projection of a seat. HolderID is empty exactly when
// Status is SeatAvailable.
type Seat struct {
	ID       string     `json:"id"`
	EventID  string     `json:"event_id"`
	HolderID string     `json:"holder_id"`
	Status   SeatStatus `json:"status"`
}

func (s *Seat) Hold(userID string) {
	s.HolderID = userID
	s.Status = SeatOnHold
}

func (s *Seat) Reserve() {
	s.Status = SeatReserved
}

func (s *Seat) Release() {
	s.HolderID = ""
	s.Status = SeatAvailable
}

func (s Seat) HeldBy(userID string) bool {
	return s.Status == SeatOnHold && s.HolderID == userID
}
