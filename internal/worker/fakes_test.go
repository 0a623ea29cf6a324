package worker

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-admission/internal/domain"
)

type memSeats struct {
	mu      sync.Mutex
	seats   map[string]domain.Seat
	saveErr error
	locks   *memLocks
	// afterGet runs once, after the next GetSeat has taken its snapshot.
	afterGet func()
}

func newMemSeats(locks *memLocks, seats ...domain.Seat) *memSeats {
	m := &memSeats{seats: map[string]domain.Seat{}, locks: locks}
	for _, s := range seats {
		m.seats[s.ID] = s
	}
	return m
}

func (m *memSeats) GetSeat(_ context.Context, id string) (*domain.Seat, error) {
	m.mu.Lock()
	s, ok := m.seats[id]
	hook := m.afterGet
	m.afterGet = nil
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
	if !ok {
		return nil, domain.ErrSeatNotFound
	}
	return &s, nil
}

func (m *memSeats) SaveSeat(_ context.Context, seat domain.Seat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.seats[seat.ID] = seat
	return nil
}

func (m *memSeats) MarkHeld(_ context.Context, seatID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	seat, ok := m.seats[seatID]
	switch {
	case !ok:
		return domain.ErrSeatNotFound
	case seat.Status != domain.SeatAvailable:
		return domain.ErrSeatNotAvailable
	case m.locks.holder(seatID) != userID:
		return domain.ErrSeatLocked
	}
	seat.Hold(userID)
	m.seats[seatID] = seat
	return nil
}

func (m *memSeats) CommitReservation(ctx context.Context, seatID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	seat, ok := m.seats[seatID]
	if !ok {
		return domain.ErrSeatNotFound
	}
	if seat.Status != domain.SeatOnHold {
		return domain.ErrSeatNotOnHold
	}
	holder := m.locks.holder(seatID)
	if seat.HolderID != userID || (holder != "" && holder != userID) {
		return domain.ErrHolderMismatch
	}
	if holder == "" {
		return domain.ErrSeatNotOnHold
	}
	seat.Reserve()
	m.seats[seatID] = seat
	return m.locks.Release(ctx, seatID)
}

// put overwrites a seat record directly.
func (m *memSeats) put(seat domain.Seat) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seats[seat.ID] = seat
}

func (m *memSeats) get(id string) domain.Seat {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seats[id]
}

type memLocks struct {
	mu       sync.Mutex
	holders  map[string]string
	attempts int
}

func newMemLocks() *memLocks {
	return &memLocks{holders: map[string]string{}}
}

func (l *memLocks) Acquire(_ context.Context, seatID, holderID string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts++
	if _, ok := l.holders[seatID]; ok {
		return false, nil
	}
	l.holders[seatID] = holderID
	return true, nil
}

func (l *memLocks) Release(_ context.Context, seatID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.holders, seatID)
	return nil
}

func (l *memLocks) holder(seatID string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holders[seatID]
}

type capPolicy struct {
	seats *memSeats
	max   int
}

func (c capPolicy) Check(_ context.Context, seatID, userID string) error {
	c.seats.mu.Lock()
	defer c.seats.mu.Unlock()
	held := 0
	for _, s := range c.seats.seats {
		if s.HeldBy(userID) {
			held++
		}
	}
	if held >= c.max {
		return errors.Wrapf(domain.ErrHoldLimitReached, "user cannot hold more than %d seats", c.max)
	}
	return nil
}

type recordingLedger struct {
	mu       sync.Mutex
	recorded []string
	err      error
}

func (r *recordingLedger) RecordReservation(_ context.Context, seat domain.Seat, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorded = append(r.recorded, seat.ID)
	return r.err
}

type recordingNotifier struct {
	mu   sync.Mutex
	keys []string
}

func (r *recordingNotifier) PublishJSON(_ context.Context, key string, _ interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
	return nil
}

func seatsForEvent(eventID string, n int) []domain.Seat {
	seats := make([]domain.Seat, n)
	for i := range seats {
		seats[i] = domain.Seat{ID: eventID + "-" + string(rune('a'+i)), EventID: eventID, Status: domain.SeatAvailable}
	}
	return seats
}

func holdJob(seatID, userID string) domain.Job {
	return domain.NewJob(domain.JobHoldSeat, seatID, userID, 3, time.Now())
}

func reserveJob(seatID, userID string) domain.Job {
	return domain.NewJob(domain.JobReserveSeat, seatID, userID, 3, time.Now())
}
