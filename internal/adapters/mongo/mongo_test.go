package mongo_test

import (
	"context"
	"testing"

	mongoadapter "github.com/robertarktes/seat-admission/internal/adapters/mongo"
	"github.com/robertarktes/seat-admission/internal/domain"
	"github.com/robertarktes/seat-admission/internal/observability"
	"github.com/robertarktes/seat-admission/internal/testutil"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func newDB(t *testing.T) *mongo.Database {
	t.Helper()
	ctx := context.Background()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(testutil.StartMongo(t)))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Disconnect(ctx) })
	return client.Database("seats_test")
}

func TestAuditLogger_SeatHistory(t *testing.T) {
	ctx := context.Background()
	audit := mongoadapter.NewAuditLogger(newDB(t), observability.NopLogger())

	seat := domain.Seat{ID: "s1", EventID: "e1"}
	seat.Hold("u1")
	if err := audit.LogSeatEvent(ctx, "seat.held", seat, map[string]interface{}{"job_id": "j1"}); err != nil {
		t.Fatal(err)
	}
	seat.Release()
	if err := audit.LogSeatEvent(ctx, "seat.released", seat, map[string]interface{}{"source": "expiry"}); err != nil {
		t.Fatal(err)
	}
	other := domain.Seat{ID: "s2", EventID: "e1", Status: domain.SeatAvailable}
	audit.LogSeatEvent(ctx, "seat.released", other, nil)

	logs, err := audit.SeatHistory(ctx, "s1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(logs))
	}
	if logs[0].Action != "seat.released" || logs[1].Action != "seat.held" {
		t.Errorf("expected newest first, got %s then %s", logs[0].Action, logs[1].Action)
	}
	if logs[1].UserID != "u1" || logs[1].Status != string(domain.SeatOnHold) {
		t.Errorf("unexpected held entry %+v", logs[1])
	}
}

func TestCatalogRepository(t *testing.T) {
	ctx := context.Background()
	catalog := mongoadapter.NewCatalogRepository(newDB(t), observability.NopLogger())

	event := domain.Event{ID: "e1", Name: "Concert", TotalSeats: 10}
	if err := catalog.CreateEvent(ctx, event); err != nil {
		t.Fatal(err)
	}
	// Re-adding the same event replaces it.
	if err := catalog.CreateEvent(ctx, event); err != nil {
		t.Fatal(err)
	}

	events, err := catalog.ListEvents(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0] != event {
		t.Errorf("unexpected events %+v", events)
	}
}
