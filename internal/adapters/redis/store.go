package redis

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robertarktes/seat-admission/internal/domain"
)

const (
	seatKeyPrefix  = "seat:"
	lockKeySuffix  = ":lock"
	eventKeyPrefix = "event:"
	eventIndexKey  = "events"
)

func seatKey(id string) string       { return seatKeyPrefix + id }
func eventKey(id string) string      { return eventKeyPrefix + id }
func eventSeatsKey(id string) string { return eventKeyPrefix + id + ":seats" }

// releaseScript moves a seat back to Available unless it already is.
// Returns 1 when the seat changed.
var releaseScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status or status == ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'holderId', '')
return 1
`)

// Store keeps seat and event records as hashes, with a per-event set of
// seat ids and a global set of event ids.
type Store struct {
	client *redis.Client
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Client() *redis.Client {
	return s.client
}

func (s *Store) GetSeat(ctx context.Context, id string) (*domain.Seat, error) {
	data, err := s.client.HGetAll(ctx, seatKey(id)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "get seat %s", id)
	}
	seat, ok := seatFromHash(data)
	if !ok {
		return nil, domain.ErrSeatNotFound
	}
	return seat, nil
}

func (s *Store) SaveSeat(ctx context.Context, seat domain.Seat) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, seatKey(seat.ID), seatToHash(seat))
		pipe.SAdd(ctx, eventSeatsKey(seat.EventID), seat.ID)
		return nil
	})
	return errors.Wrapf(err, "save seat %s", seat.ID)
}

// holdScript marks an Available seat OnHold for the lock owner. It refuses
// when the seat moved on after the caller read it or the lock is not the
// caller's.
var holdScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
	return -1
end
if status ~= 'Available' then
	return 0
end
if redis.call('GET', KEYS[2]) ~= ARGV[1] then
	return -2
end
redis.call('HSET', KEYS[1], 'status', 'OnHold', 'holderId', ARGV[1])
return 1
`)

// reserveScript commits a hold as Reserved and drops the seat lock. The seat
// must be OnHold by the caller and the live lock must be the caller's.
var reserveScript = redis.NewScript(`
local seat = redis.call('HMGET', KEYS[1], 'status', 'holderId')
if not seat[1] then
	return -1
end
if seat[1] ~= 'OnHold' then
	return 0
end
if seat[2] ~= ARGV[1] then
	return -2
end
local lock = redis.call('GET', KEYS[2])
if not lock then
	return 0
end
if lock ~= ARGV[1] then
	return -2
end
redis.call('HSET', KEYS[1], 'status', 'Reserved')
redis.call('DEL', KEYS[2])
return 1
`)

// MarkHeld moves an Available seat to OnHold for userID, who must already
// own the seat lock.
func (s *Store) MarkHeld(ctx context.Context, seatID, userID string) error {
	n, err := holdScript.Run(ctx, s.client, []string{seatKey(seatID), LockKey(seatID)}, userID).Int()
	if err != nil {
		return errors.Wrapf(err, "hold seat %s", seatID)
	}
	switch n {
	case 1:
		return nil
	case -1:
		return domain.ErrSeatNotFound
	case -2:
		return domain.ErrSeatLocked
	default:
		return domain.ErrSeatNotAvailable
	}
}

// CommitReservation writes the Reserved status and drops the seat lock in
// one script, so a reserved seat never keeps a lock that would later expire
// and flip it back. A hold that lapsed or changed hands is refused.
func (s *Store) CommitReservation(ctx context.Context, seatID, userID string) error {
	n, err := reserveScript.Run(ctx, s.client, []string{seatKey(seatID), LockKey(seatID)}, userID).Int()
	if err != nil {
		return errors.Wrapf(err, "commit reservation for seat %s", seatID)
	}
	switch n {
	case 1:
		return nil
	case -1:
		return domain.ErrSeatNotFound
	case -2:
		return domain.ErrHolderMismatch
	default:
		return domain.ErrSeatNotOnHold
	}
}

// ReleaseSeat forces a seat back to Available. It reports false when the
// seat is unknown or already Available.
func (s *Store) ReleaseSeat(ctx context.Context, seatID string) (bool, error) {
	n, err := releaseScript.Run(ctx, s.client, []string{seatKey(seatID)}, string(domain.SeatAvailable)).Int()
	if err != nil {
		return false, errors.Wrapf(err, "release seat %s", seatID)
	}
	return n == 1, nil
}

func (s *Store) SeatsByEvent(ctx context.Context, eventID string) ([]domain.Seat, error) {
	ids, err := s.client.SMembers(ctx, eventSeatsKey(eventID)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "list seats of event %s", eventID)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, seatKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, errors.Wrapf(err, "load seats of event %s", eventID)
	}

	seats := make([]domain.Seat, 0, len(ids))
	for _, cmd := range cmds {
		if seat, ok := seatFromHash(cmd.Val()); ok {
			seats = append(seats, *seat)
		}
	}
	return seats, nil
}

// CreateEvent stores the event and creates its Available seats in a single
// pipeline.
func (s *Store) CreateEvent(ctx context.Context, event domain.Event) ([]domain.Seat, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}

	seats := make([]domain.Seat, event.TotalSeats)
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, eventKey(event.ID), map[string]interface{}{
			"id":         event.ID,
			"name":       event.Name,
			"totalSeats": event.TotalSeats,
		})
		pipe.SAdd(ctx, eventIndexKey, event.ID)
		for i := range seats {
			seats[i] = domain.Seat{ID: uuid.New().String(), EventID: event.ID, Status: domain.SeatAvailable}
			pipe.HSet(ctx, seatKey(seats[i].ID), seatToHash(seats[i]))
			pipe.SAdd(ctx, eventSeatsKey(event.ID), seats[i].ID)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "create event %s", event.ID)
	}
	return seats, nil
}

func (s *Store) GetEvent(ctx context.Context, id string) (*domain.Event, error) {
	var raw struct {
		ID         string `redis:"id"`
		Name       string `redis:"name"`
		TotalSeats int    `redis:"totalSeats"`
	}
	res := s.client.HGetAll(ctx, eventKey(id))
	if err := res.Err(); err != nil {
		return nil, errors.Wrapf(err, "get event %s", id)
	}
	if len(res.Val()) == 0 {
		return nil, domain.ErrEventNotFound
	}
	if err := res.Scan(&raw); err != nil {
		return nil, errors.Wrapf(err, "decode event %s", id)
	}
	return &domain.Event{ID: raw.ID, Name: raw.Name, TotalSeats: raw.TotalSeats}, nil
}

func (s *Store) EventIDs(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, eventIndexKey).Result()
	return ids, errors.Wrap(err, "list events")
}

func seatToHash(seat domain.Seat) map[string]interface{} {
	return map[string]interface{}{
		"id":       seat.ID,
		"eventId":  seat.EventID,
		"holderId": seat.HolderID,
		"status":   string(seat.Status),
	}
}

func seatFromHash(data map[string]string) (*domain.Seat, bool) {
	if len(data) == 0 || data["id"] == "" {
		return nil, false
	}
	return &domain.Seat{
		ID:       data["id"],
		EventID:  data["eventId"],
		HolderID: data["holderId"],
		Status:   domain.SeatStatus(data["status"]),
	}, true
}
