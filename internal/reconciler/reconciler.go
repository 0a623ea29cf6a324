// Package reconciler returns seats to Available after their hold lapses.
//
// Expired-key notifications drive the fast path. They are delivered at most
// once, so a periodic sweep also releases any OnHold seat whose lock is gone.
package reconciler

import (
	"context"
	"time"

	redisadapter "github.com/robertarktes/seat-admission/internal/adapters/redis"
	"github.com/robertarktes/seat-admission/internal/domain"
	"github.com/robertarktes/seat-admission/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type SeatStore interface {
	ReleaseSeat(ctx context.Context, seatID string) (bool, error)
	EventIDs(ctx context.Context) ([]string, error)
	SeatsByEvent(ctx context.Context, eventID string) ([]domain.Seat, error)
}

type LockInspector interface {
	Holder(ctx context.Context, seatID string) (string, error)
}

type ExpiryFeed interface {
	Listen(ctx context.Context) (<-chan string, error)
}

type Notifier interface {
	PublishJSON(ctx context.Context, key string, v interface{}) error
}

type Auditor interface {
	LogSeatEvent(ctx context.Context, action string, seat domain.Seat, data map[string]interface{}) error
}

type Option func(*Reconciler)

func WithNotifier(n Notifier) Option { return func(r *Reconciler) { r.notifier = n } }
func WithAuditor(a Auditor) Option   { return func(r *Reconciler) { r.auditor = a } }

type Reconciler struct {
	seats    SeatStore
	locks    LockInspector
	feed     ExpiryFeed
	interval time.Duration
	logger   observability.Logger
	tracer   trace.Tracer
	notifier Notifier
	auditor  Auditor
}

func NewReconciler(seats SeatStore, locks LockInspector, feed ExpiryFeed, interval time.Duration, logger observability.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		seats:    seats,
		locks:    locks,
		feed:     feed,
		interval: interval,
		logger:   logger,
		tracer:   otel.Tracer("reconciler"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run consumes expiry notifications and sweeps on every interval until ctx
// is done. It sweeps once at start to cover expirations missed while down.
func (r *Reconciler) Run(ctx context.Context) error {
	expired, err := r.feed.Listen(ctx)
	if err != nil {
		return err
	}
	r.sweep(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case key, ok := <-expired:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.Warn("expiry subscription closed, resubscribing")
				if expired, err = r.feed.Listen(ctx); err != nil {
					return err
				}
				continue
			}
			if _, err := r.HandleExpired(ctx, key); err != nil {
				r.logger.WithField("key", key).Error("failed to release expired hold: ", err)
			}
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// HandleExpired releases the seat behind an expired lock key. Keys that are
// not seat locks are ignored. It reports whether a seat changed.
func (r *Reconciler) HandleExpired(ctx context.Context, key string) (bool, error) {
	seatID, ok := redisadapter.SeatIDFromLockKey(key)
	if !ok {
		return false, nil
	}
	return r.release(ctx, seatID, "", "expiry")
}

// Sweep releases every OnHold seat that no longer has a lock. It returns the
// number of seats released.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	eventIDs, err := r.seats.EventIDs(ctx)
	if err != nil {
		return 0, err
	}
	released := 0
	for _, eventID := range eventIDs {
		seats, err := r.seats.SeatsByEvent(ctx, eventID)
		if err != nil {
			return released, err
		}
		for _, seat := range seats {
			if seat.Status != domain.SeatOnHold {
				continue
			}
			holder, err := r.locks.Holder(ctx, seat.ID)
			if err != nil {
				return released, err
			}
			if holder != "" {
				continue
			}
			changed, err := r.release(ctx, seat.ID, seat.HolderID, "sweep")
			if err != nil {
				return released, err
			}
			if changed {
				released++
			}
		}
	}
	return released, nil
}

func (r *Reconciler) sweep(ctx context.Context) {
	n, err := r.Sweep(ctx)
	if err != nil {
		r.logger.Error("reconcile sweep failed: ", err)
		return
	}
	if n > 0 {
		r.logger.WithField("released", n).Info("reconcile sweep released seats")
	}
}

func (r *Reconciler) release(ctx context.Context, seatID, holderID, source string) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "release seat", trace.WithAttributes(
		attribute.String("seat.id", seatID),
		attribute.String("source", source),
	))
	defer span.End()

	changed, err := r.seats.ReleaseSeat(ctx, seatID)
	if err != nil || !changed {
		return false, err
	}

	observability.SeatsReleased.WithLabelValues(source).Inc()
	log := r.logger.WithFields(map[string]interface{}{"seat_id": seatID, "source": source})
	log.Info("seat released")

	seat := domain.Seat{ID: seatID, Status: domain.SeatAvailable}
	if r.notifier != nil {
		if err := r.notifier.PublishJSON(ctx, "seat.released", seat); err != nil {
			log.Warn("failed to publish seat.released: ", err)
		}
	}
	if r.auditor != nil {
		data := map[string]interface{}{"source": source}
		if holderID != "" {
			data["previous_holder"] = holderID
		}
		if err := r.auditor.LogSeatEvent(ctx, "seat.released", seat, data); err != nil {
			log.Warn("failed to audit seat.released: ", err)
		}
	}
	return true, nil
}
