package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/seat-admission/internal/adapters/mongo"
	"github.com/robertarktes/seat-admission/internal/domain"
	"github.com/robertarktes/seat-admission/internal/idempotency"
	"github.com/robertarktes/seat-admission/internal/observability"
	"github.com/robertarktes/seat-admission/internal/queue"
)

type SeatStore interface {
	GetSeat(ctx context.Context, id string) (*domain.Seat, error)
	SeatsByEvent(ctx context.Context, eventID string) ([]domain.Seat, error)
	CreateEvent(ctx context.Context, event domain.Event) ([]domain.Seat, error)
	GetEvent(ctx context.Context, id string) (*domain.Event, error)
	EventIDs(ctx context.Context) ([]string, error)
}

type JobQueue interface {
	Enqueue(ctx context.Context, jobType domain.JobType, seatID, userID string) (queue.Admission, error)
	GetJobResult(ctx context.Context, jobID string) (*domain.JobResult, error)
	InFlight(ctx context.Context, jobID string) (bool, error)
	Stats(ctx context.Context) (queue.Stats, error)
}

type LockRefresher interface {
	Refresh(ctx context.Context, seatID, holderID string, ttl time.Duration) (bool, error)
}

type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*idempotency.Response, error)
	Set(ctx context.Context, key string, resp idempotency.Response) error
}

type EventCatalog interface {
	CreateEvent(ctx context.Context, event domain.Event) error
	ListEvents(ctx context.Context, limit int64) ([]domain.Event, error)
}

type AuditTrail interface {
	SeatHistory(ctx context.Context, seatID string, limit int64) ([]mongo.AuditLog, error)
}

// Pinger reports whether a backing service is reachable.
type Pinger func(ctx context.Context) error

type Option func(*Handlers)

func WithIdempotency(s IdempotencyStore) Option { return func(h *Handlers) { h.idemp = s } }
func WithCatalog(c EventCatalog) Option         { return func(h *Handlers) { h.catalog = c } }
func WithAuditTrail(a AuditTrail) Option        { return func(h *Handlers) { h.audit = a } }
func WithReadiness(name string, p Pinger) Option {
	return func(h *Handlers) { h.ready[name] = p }
}

type Handlers struct {
	seats   SeatStore
	queue   JobQueue
	locks   LockRefresher
	holdTTL time.Duration
	logger  observability.Logger
	idemp   IdempotencyStore
	catalog EventCatalog
	audit   AuditTrail
	ready   map[string]Pinger
}

func NewHandlers(seats SeatStore, q JobQueue, locks LockRefresher, holdTTL time.Duration, logger observability.Logger, opts ...Option) *Handlers {
	h := &Handlers{
		seats:   seats,
		queue:   q,
		locks:   locks,
		holdTTL: holdTTL,
		logger:  logger,
		ready:   map[string]Pinger{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type seatRequest struct {
	SeatID string `json:"seat_id"`
	UserID string `json:"user_id"`
}

func decodeSeatRequest(r *http.Request) (seatRequest, error) {
	var req seatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, domain.Invalidf("invalid request body")
	}
	req.SeatID = strings.TrimSpace(req.SeatID)
	req.UserID = strings.TrimSpace(req.UserID)
	if req.SeatID == "" || req.UserID == "" {
		return req, domain.Invalidf("seat_id and user_id are required")
	}
	return req, nil
}

func (h *Handlers) HoldSeat(w http.ResponseWriter, r *http.Request) {
	h.admit(w, r, domain.JobHoldSeat, func(seat *domain.Seat, _ string) error {
		if seat.Status != domain.SeatAvailable {
			return domain.ErrSeatNotAvailable
		}
		return nil
	})
}

func (h *Handlers) ReserveSeat(w http.ResponseWriter, r *http.Request) {
	h.admit(w, r, domain.JobReserveSeat, checkHolder)
}

// admit runs the fast-path precheck and queues the job. The worker checks
// the same conditions again; this only spares the queue obvious failures.
func (h *Handlers) admit(w http.ResponseWriter, r *http.Request, jobType domain.JobType, precheck func(*domain.Seat, string) error) {
	ctx := r.Context()
	key := r.Header.Get("Idempotency-Key")
	if key != "" && h.idemp != nil {
		key = string(jobType) + ":" + key
		existing, err := h.idemp.Get(ctx, key)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if existing != nil {
			w.Header().Set("Idempotent-Replay", "true")
			h.writeBody(w, r, existing.Status, existing.Result)
			return
		}
	}

	req, err := decodeSeatRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	seat, err := h.seats.GetSeat(ctx, req.SeatID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := precheck(seat, req.UserID); err != nil {
		h.writeError(w, r, err)
		return
	}

	adm, err := h.queue.Enqueue(ctx, jobType, req.SeatID, req.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	data, err := json.Marshal(map[string]interface{}{
		"job_id":                 adm.JobID,
		"position":               adm.Position,
		"estimated_wait_seconds": adm.EstimatedWaitSeconds,
		"status_endpoint":        "/v1/jobs/" + adm.JobID,
	})
	if err != nil {
		h.writeError(w, r, errors.Wrapf(err, "encode admission of job %s", adm.JobID))
		return
	}
	// The replay record is stored even when the write fails.
	h.writeBody(w, r, http.StatusAccepted, data)

	if key != "" && h.idemp != nil {
		if err := h.idemp.Set(ctx, key, idempotency.Response{Status: http.StatusAccepted, Result: data}); err != nil {
			h.reqLogger(r).Warn("failed to store idempotent response: ", err)
		}
	}
}

func checkHolder(seat *domain.Seat, userID string) error {
	if seat.Status != domain.SeatOnHold {
		return domain.ErrSeatNotOnHold
	}
	if seat.HolderID != userID {
		return domain.ErrHolderMismatch
	}
	return nil
}

// RefreshHold extends a hold synchronously.
func (h *Handlers) RefreshHold(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := decodeSeatRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	seat, err := h.seats.GetSeat(ctx, req.SeatID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := checkHolder(seat, req.UserID); err != nil {
		h.writeError(w, r, err)
		return
	}
	ok, err := h.locks.Refresh(ctx, req.SeatID, req.UserID, h.holdTTL)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !ok {
		h.writeError(w, r, domain.ErrSeatLocked)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":      fmt.Sprintf("Seat hold refreshed for seat %s", seat.ID),
		"hold_seconds": int(h.holdTTL / time.Second),
	})
}

func (h *Handlers) GetJobStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "id")

	res, err := h.queue.GetJobResult(ctx, jobID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if res != nil {
		writeJSON(w, http.StatusOK, res)
		return
	}

	inflight, err := h.queue.InFlight(ctx, jobID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if inflight {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": domain.JobProcessing, "job_id": jobID})
		return
	}
	writeJSON(w, http.StatusNotFound, map[string]interface{}{
		"error":  "job not found or still processing",
		"job_id": jobID,
	})
}

func (h *Handlers) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handlers) GetSeat(w http.ResponseWriter, r *http.Request) {
	seat, err := h.seats.GetSeat(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, seat)
}

func (h *Handlers) SeatHistory(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "audit trail not configured"})
		return
	}
	logs, err := h.audit.SeatHistory(r.Context(), chi.URLParam(r, "id"), 50)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (h *Handlers) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name       string `json:"name"`
		TotalSeats int    `json:"total_seats"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, domain.Invalidf("invalid request body"))
		return
	}
	event := domain.Event{ID: uuid.New().String(), Name: strings.TrimSpace(req.Name), TotalSeats: req.TotalSeats}
	if err := event.Validate(); err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.seats.CreateEvent(r.Context(), event); err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.catalog != nil {
		if err := h.catalog.CreateEvent(r.Context(), event); err != nil {
			h.reqLogger(r).Warn("failed to add event to catalog: ", err)
		}
	}
	writeJSON(w, http.StatusCreated, event)
}

func (h *Handlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.seats.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog != nil {
		events, err := h.catalog.ListEvents(ctx, 100)
		if err == nil {
			writeJSON(w, http.StatusOK, events)
			return
		}
		h.reqLogger(r).Warn("catalog unavailable, listing from store: ", err)
	}

	ids, err := h.seats.EventIDs(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	events := make([]domain.Event, 0, len(ids))
	for _, id := range ids {
		event, err := h.seats.GetEvent(ctx, id)
		if errors.Is(err, domain.ErrEventNotFound) {
			continue
		}
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		events = append(events, *event)
	}
	writeJSON(w, http.StatusOK, events)
}

// AvailableSeats lists the seats of an event that can currently be held.
func (h *Handlers) AvailableSeats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventID := chi.URLParam(r, "id")
	if _, err := h.seats.GetEvent(ctx, eventID); err != nil {
		h.writeError(w, r, err)
		return
	}
	seats, err := h.seats.SeatsByEvent(ctx, eventID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	available := make([]domain.Seat, 0, len(seats))
	for _, s := range seats {
		if s.Status == domain.SeatAvailable {
			available = append(available, s)
		}
	}
	writeJSON(w, http.StatusOK, available)
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for name, ping := range h.ready {
		if err := ping(ctx); err != nil {
			h.reqLogger(r).Warn(name, " not ready: ", err)
			http.Error(w, name+" not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := domain.StatusCode(err)
	body := map[string]interface{}{"error": err.Error()}
	if status == http.StatusInternalServerError {
		h.reqLogger(r).Error("request failed: ", err)
		body["error"] = "internal server error"
	}
	writeJSON(w, status, body)
}

func (h *Handlers) reqLogger(r *http.Request) observability.Logger {
	if l, ok := r.Context().Value(loggerKey{}).(observability.Logger); ok {
		return l
	}
	return h.logger
}

func (h *Handlers) writeBody(w http.ResponseWriter, r *http.Request, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		h.reqLogger(r).Warn("failed to write response: ", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
