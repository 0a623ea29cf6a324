// Package worker executes admission jobs against the seat store and lock.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-admission/internal/domain"
	"github.com/robertarktes/seat-admission/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type SeatStore interface {
	GetSeat(ctx context.Context, id string) (*domain.Seat, error)
	MarkHeld(ctx context.Context, seatID, userID string) error
	CommitReservation(ctx context.Context, seatID, userID string) error
}

type SeatLocker interface {
	Acquire(ctx context.Context, seatID, holderID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, seatID string) error
}

type HoldPolicy interface {
	Check(ctx context.Context, seatID, userID string) error
}

// Notifier, Auditor and Ledger are optional side effects of a successful
// transition. Their failures are logged and never change the outcome.
type Notifier interface {
	PublishJSON(ctx context.Context, key string, v interface{}) error
}

type Auditor interface {
	LogSeatEvent(ctx context.Context, action string, seat domain.Seat, data map[string]interface{}) error
}

type Ledger interface {
	RecordReservation(ctx context.Context, seat domain.Seat, jobID string) error
}

type Option func(*Processor)

func WithNotifier(n Notifier) Option { return func(p *Processor) { p.notifier = n } }
func WithAuditor(a Auditor) Option   { return func(p *Processor) { p.auditor = a } }
func WithLedger(l Ledger) Option     { return func(p *Processor) { p.ledger = l } }

type Processor struct {
	seats    SeatStore
	locks    SeatLocker
	policy   HoldPolicy
	holdTTL  time.Duration
	logger   observability.Logger
	tracer   trace.Tracer
	notifier Notifier
	auditor  Auditor
	ledger   Ledger
}

func NewProcessor(seats SeatStore, locks SeatLocker, policy HoldPolicy, holdTTL time.Duration, logger observability.Logger, opts ...Option) *Processor {
	p := &Processor{
		seats:   seats,
		locks:   locks,
		policy:  policy,
		holdTTL: holdTTL,
		logger:  logger,
		tracer:  otel.Tracer("worker"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Execute runs one job to a decision. Business rejections come back as an
// unsuccessful Outcome with a nil error; a non-nil error means the job did
// not reach a decision and may be retried.
func (p *Processor) Execute(ctx context.Context, job domain.Job) (domain.Outcome, error) {
	ctx, span := p.tracer.Start(ctx, "job "+string(job.Type), trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("seat.id", job.Payload.SeatID),
		attribute.Int("job.retries", job.Retries),
	))
	defer span.End()

	switch job.Type {
	case domain.JobHoldSeat:
		return p.hold(ctx, job)
	case domain.JobReserveSeat:
		return p.reserve(ctx, job)
	default:
		return domain.Outcome{}, errors.Wrapf(domain.ErrUnknownJobType, "%q", job.Type)
	}
}

func (p *Processor) hold(ctx context.Context, job domain.Job) (domain.Outcome, error) {
	seatID, userID := job.Payload.SeatID, job.Payload.UserID

	if err := p.policy.Check(ctx, seatID, userID); err != nil {
		return decide(err)
	}

	seat, err := p.seats.GetSeat(ctx, seatID)
	if err != nil {
		return decide(err)
	}
	if seat.Status != domain.SeatAvailable {
		return domain.Rejected(domain.ErrSeatNotAvailable), nil
	}

	ok, err := p.locks.Acquire(ctx, seatID, userID, p.holdTTL)
	if err != nil {
		return domain.Outcome{}, err
	}
	if !ok {
		observability.LockContention.Inc()
		return domain.Rejected(domain.ErrSeatLocked), nil
	}

	// A reservation since the read drops its lock, so the status is checked
	// again under the lock.
	if err := p.seats.MarkHeld(ctx, seatID, userID); err != nil {
		if relErr := p.locks.Release(ctx, seatID); relErr != nil {
			p.logger.WithField("seat_id", seatID).Error("failed to roll back seat lock: ", relErr)
		}
		return decide(err)
	}
	seat.Hold(userID)

	p.sideEffects(ctx, "seat.held", *seat, job.ID)

	secs := int(p.holdTTL / time.Second)
	return domain.Outcome{
		Success:     true,
		Message:     fmt.Sprintf("Seat held for %d seconds.", secs),
		Status:      200,
		Seat:        seat,
		HoldSeconds: secs,
	}, nil
}

func (p *Processor) reserve(ctx context.Context, job domain.Job) (domain.Outcome, error) {
	seatID, userID := job.Payload.SeatID, job.Payload.UserID

	seat, err := p.seats.GetSeat(ctx, seatID)
	if err != nil {
		return decide(err)
	}
	if seat.Status != domain.SeatOnHold {
		return domain.Rejected(domain.ErrSeatNotOnHold), nil
	}
	if seat.HolderID != userID {
		return domain.Rejected(domain.ErrHolderMismatch), nil
	}

	if err := p.seats.CommitReservation(ctx, seatID, userID); err != nil {
		return decide(err)
	}
	seat.Reserve()

	if p.ledger != nil {
		if err := p.ledger.RecordReservation(ctx, *seat, job.ID); err != nil {
			p.logger.WithFields(map[string]interface{}{"seat_id": seatID, "job_id": job.ID}).
				Error("failed to record reservation: ", err)
		}
	}
	p.sideEffects(ctx, "seat.reserved", *seat, job.ID)

	return domain.Outcome{
		Success: true,
		Message: "Seat reserved.",
		Status:  200,
		Seat:    seat,
	}, nil
}

func (p *Processor) sideEffects(ctx context.Context, action string, seat domain.Seat, jobID string) {
	log := p.logger.WithFields(map[string]interface{}{"seat_id": seat.ID, "job_id": jobID})
	if p.notifier != nil && action == "seat.held" {
		// seat.reserved goes out through the ledger outbox.
		if err := p.notifier.PublishJSON(ctx, action, seat); err != nil {
			log.Warn("failed to publish ", action, ": ", err)
		}
	}
	if p.auditor != nil {
		if err := p.auditor.LogSeatEvent(ctx, action, seat, map[string]interface{}{"job_id": jobID}); err != nil {
			log.Warn("failed to audit ", action, ": ", err)
		}
	}
}

func decide(err error) (domain.Outcome, error) {
	if domain.IsRejection(err) {
		return domain.Rejected(err), nil
	}
	return domain.Outcome{}, err
}
