package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	redisadapter "github.com/robertarktes/seat-admission/internal/adapters/redis"
	"github.com/robertarktes/seat-admission/internal/domain"
	"github.com/robertarktes/seat-admission/internal/testutil"
)

func TestStore_CreateEventAndSeats(t *testing.T) {
	ctx := context.Background()
	store := redisadapter.NewStore(testutil.StartRedis(t))

	event := domain.Event{ID: uuid.New().String(), Name: "Test Event", TotalSeats: 10}
	seats, err := store.CreateEvent(ctx, event)
	if err != nil {
		t.Fatal(err)
	}
	if len(seats) != 10 {
		t.Fatalf("expected 10 seats, got %d", len(seats))
	}

	got, err := store.GetEvent(ctx, event.ID)
	if err != nil {
		t.Fatal(err)
	}
	if *got != event {
		t.Errorf("expected %+v, got %+v", event, *got)
	}

	listed, err := store.SeatsByEvent(ctx, event.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 10 {
		t.Fatalf("expected 10 listed seats, got %d", len(listed))
	}
	for _, s := range listed {
		if s.Status != domain.SeatAvailable || s.HolderID != "" || s.EventID != event.ID {
			t.Errorf("unexpected seat %+v", s)
		}
	}

	ids, err := store.EventIDs(ctx)
	if err != nil || len(ids) != 1 || ids[0] != event.ID {
		t.Errorf("expected event index [%s], got %v %v", event.ID, ids, err)
	}

	if _, err := store.CreateEvent(ctx, domain.Event{ID: "small", Name: "x", TotalSeats: 5}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected invalid input, got %v", err)
	}
}

func TestStore_GetMissing(t *testing.T) {
	ctx := context.Background()
	store := redisadapter.NewStore(testutil.StartRedis(t))

	if _, err := store.GetSeat(ctx, "nope"); !errors.Is(err, domain.ErrSeatNotFound) {
		t.Errorf("expected seat not found, got %v", err)
	}
	if _, err := store.GetEvent(ctx, "nope"); !errors.Is(err, domain.ErrEventNotFound) {
		t.Errorf("expected event not found, got %v", err)
	}
}

func TestStore_ReleaseSeat(t *testing.T) {
	ctx := context.Background()
	store := redisadapter.NewStore(testutil.StartRedis(t))

	seat := domain.Seat{ID: "s-1", EventID: "e-1", Status: domain.SeatAvailable}
	seat.Hold("u-1")
	if err := store.SaveSeat(ctx, seat); err != nil {
		t.Fatal(err)
	}

	changed, err := store.ReleaseSeat(ctx, "s-1")
	if err != nil || !changed {
		t.Fatalf("expected first release to change the seat: %v %v", changed, err)
	}
	changed, err = store.ReleaseSeat(ctx, "s-1")
	if err != nil || changed {
		t.Fatalf("expected second release to be a no-op: %v %v", changed, err)
	}
	changed, err = store.ReleaseSeat(ctx, "missing")
	if err != nil || changed {
		t.Fatalf("expected unknown seat to be ignored: %v %v", changed, err)
	}

	got, err := store.GetSeat(ctx, "s-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.SeatAvailable || got.HolderID != "" {
		t.Errorf("expected available and unheld, got %+v", got)
	}
}

func TestStore_CommitReservationDropsLock(t *testing.T) {
	ctx := context.Background()
	client := testutil.StartRedis(t)
	store := redisadapter.NewStore(client)
	lock := redisadapter.NewSeatLock(client)

	seat := domain.Seat{ID: "s-1", EventID: "e-1", Status: domain.SeatAvailable}
	if err := store.SaveSeat(ctx, seat); err != nil {
		t.Fatal(err)
	}
	if ok, _ := lock.Acquire(ctx, seat.ID, "u-1", time.Minute); !ok {
		t.Fatal("expected lock")
	}
	if err := store.MarkHeld(ctx, seat.ID, "u-1"); err != nil {
		t.Fatal(err)
	}

	if err := store.CommitReservation(ctx, seat.ID, "u-1"); err != nil {
		t.Fatal(err)
	}

	holder, err := lock.Holder(ctx, seat.ID)
	if err != nil {
		t.Fatal(err)
	}
	if holder != "" {
		t.Errorf("expected lock removed, still held by %s", holder)
	}
	got, _ := store.GetSeat(ctx, seat.ID)
	if got.Status != domain.SeatReserved || got.HolderID != "u-1" {
		t.Errorf("expected reserved by u-1, got %+v", got)
	}
}

func TestStore_MarkHeldRequiresAvailableSeat(t *testing.T) {
	ctx := context.Background()
	client := testutil.StartRedis(t)
	store := redisadapter.NewStore(client)
	lock := redisadapter.NewSeatLock(client)

	reserved := domain.Seat{ID: "s-1", EventID: "e-1", HolderID: "u-a", Status: domain.SeatReserved}
	if err := store.SaveSeat(ctx, reserved); err != nil {
		t.Fatal(err)
	}
	if ok, _ := lock.Acquire(ctx, reserved.ID, "u-b", time.Minute); !ok {
		t.Fatal("expected lock")
	}
	if err := store.MarkHeld(ctx, reserved.ID, "u-b"); !errors.Is(err, domain.ErrSeatNotAvailable) {
		t.Fatalf("expected seat not available, got %v", err)
	}
	got, _ := store.GetSeat(ctx, reserved.ID)
	if *got != reserved {
		t.Errorf("reserved seat changed: %+v", got)
	}

	free := domain.Seat{ID: "s-2", EventID: "e-1", Status: domain.SeatAvailable}
	if err := store.SaveSeat(ctx, free); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkHeld(ctx, free.ID, "u-b"); !errors.Is(err, domain.ErrSeatLocked) {
		t.Errorf("expected hold without the lock to be refused, got %v", err)
	}
	if err := store.MarkHeld(ctx, "missing", "u-b"); !errors.Is(err, domain.ErrSeatNotFound) {
		t.Errorf("expected seat not found, got %v", err)
	}
}

func TestStore_CommitReservationRefusesLapsedHold(t *testing.T) {
	ctx := context.Background()
	client := testutil.StartRedis(t)
	store := redisadapter.NewStore(client)
	lock := redisadapter.NewSeatLock(client)

	// u-1 read the seat while holding it; since then the hold lapsed and
	// u-2 took the seat.
	seat := domain.Seat{ID: "s-1", EventID: "e-1"}
	seat.Hold("u-2")
	if err := store.SaveSeat(ctx, seat); err != nil {
		t.Fatal(err)
	}
	if ok, _ := lock.Acquire(ctx, seat.ID, "u-2", time.Minute); !ok {
		t.Fatal("expected lock")
	}

	if err := store.CommitReservation(ctx, seat.ID, "u-1"); !errors.Is(err, domain.ErrHolderMismatch) {
		t.Fatalf("expected holder mismatch, got %v", err)
	}
	holder, _ := lock.Holder(ctx, seat.ID)
	if holder != "u-2" {
		t.Errorf("expected u-2 to keep the lock, got %q", holder)
	}
	got, _ := store.GetSeat(ctx, seat.ID)
	if !got.HeldBy("u-2") {
		t.Errorf("expected seat still held by u-2, got %+v", got)
	}

	// The seat still names u-2 but the lock has expired.
	if err := lock.Release(ctx, seat.ID); err != nil {
		t.Fatal(err)
	}
	if err := store.CommitReservation(ctx, seat.ID, "u-2"); !errors.Is(err, domain.ErrSeatNotOnHold) {
		t.Errorf("expected seat not on hold, got %v", err)
	}
	if err := store.CommitReservation(ctx, "missing", "u-2"); !errors.Is(err, domain.ErrSeatNotFound) {
		t.Errorf("expected seat not found, got %v", err)
	}
}

func TestKeyspaceListener_ReportsExpiredLocks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	client := testutil.StartRedis(t)
	listener := redisadapter.NewKeyspaceListener(client)
	if err := listener.EnableNotifications(ctx); err != nil {
		t.Fatal(err)
	}

	keys, err := listener.Listen(ctx)
	if err != nil {
		t.Fatal(err)
	}
	lock := redisadapter.NewSeatLock(client)
	if ok, _ := lock.Acquire(ctx, "s-9", "u-1", 200*time.Millisecond); !ok {
		t.Fatal("expected lock")
	}

	select {
	case key := <-keys:
		if key != redisadapter.LockKey("s-9") {
			t.Errorf("unexpected expired key %s", key)
		}
	case <-ctx.Done():
		t.Fatal("no expiry notification received")
	}
}
