package crdb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/seat-admission/internal/domain"
)

const (
	SerializationFailureCode = "40001"
)

const schema = `
CREATE TABLE IF NOT EXISTS reservations (
	seat_id STRING PRIMARY KEY,
	event_id STRING NOT NULL,
	user_id STRING NOT NULL,
	job_id STRING NOT NULL,
	reserved_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS outbox (
	id UUID PRIMARY KEY,
	aggregate_type STRING NOT NULL,
	aggregate_id STRING NOT NULL,
	event_type STRING NOT NULL,
	payload_json JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	published_at TIMESTAMPTZ,
	status STRING NOT NULL DEFAULT 'NEW' CHECK (status IN ('NEW', 'PUBLISHED', 'FAILED')),
	dedupe_key STRING NOT NULL DEFAULT '',
	INDEX (status, created_at)
);
`

// Repository is the durable reservation ledger. Redis stays the source of
// truth for seat state; rows here are written after a reserve commits.
type Repository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, now: time.Now}
}

func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, schema)
	return errors.Wrap(err, "migrate ledger schema")
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return err
	}

	err = fn(tx)
	if err == nil {
		err = tx.Commit(ctx)
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode {
			return domain.ErrSerializationFailure
		}
		return err
	}
	return nil
}

// RecordReservation stores the reservation and its seat.reserved outbox
// row in one transaction. Replays of the same seat are no-ops.
func (r *Repository) RecordReservation(ctx context.Context, seat domain.Seat, jobID string) error {
	res := domain.NewReservation(seat, jobID, r.now())
	payload, err := json.Marshal(map[string]interface{}{
		"seat_id":     res.SeatID,
		"event_id":    res.EventID,
		"user_id":     res.UserID,
		"job_id":      res.JobID,
		"reserved_at": res.ReservedAt.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		err = r.WithTx(ctx, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, `
				INSERT INTO reservations (seat_id, event_id, user_id, job_id, reserved_at)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (seat_id) DO NOTHING
			`, res.SeatID, res.EventID, res.UserID, res.JobID, res.ReservedAt)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return nil
			}
			return r.InsertOutbox(ctx, tx, OutboxRecord{
				ID:            uuid.New(),
				AggregateType: "seat",
				AggregateID:   res.SeatID,
				EventType:     "seat.reserved",
				Payload:       payload,
				DedupeKey:     "seat.reserved:" + res.SeatID,
			})
		})
		if !errors.Is(err, domain.ErrSerializationFailure) || attempt >= 2 {
			return errors.Wrapf(err, "record reservation of seat %s", seat.ID)
		}
	}
}

func (r *Repository) GetReservation(ctx context.Context, seatID string) (*domain.Reservation, error) {
	var res domain.Reservation
	err := r.pool.QueryRow(ctx, `
		SELECT seat_id, event_id, user_id, job_id, reserved_at
		FROM reservations WHERE seat_id = $1
	`, seatID).Scan(&res.SeatID, &res.EventID, &res.UserID, &res.JobID, &res.ReservedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}
