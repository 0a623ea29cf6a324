package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/seat-admission/internal/domain"
	"github.com/robertarktes/seat-admission/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        string    `bson:"_id" json:"id"`
	Action    string    `bson:"action" json:"action"`
	SeatID    string    `bson:"seat_id" json:"seat_id"`
	EventID   string    `bson:"event_id,omitempty" json:"event_id,omitempty"`
	UserID    string    `bson:"user_id,omitempty" json:"user_id,omitempty"`
	Status    string    `bson:"status" json:"status"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
	Data      bson.M    `bson:"data,omitempty" json:"data,omitempty"`
}

// LogSeatEvent appends one seat transition (seat.held, seat.reserved,
// seat.released) to the audit trail.
func (a *AuditLogger) LogSeatEvent(ctx context.Context, action string, seat domain.Seat, data map[string]interface{}) error {
	log := AuditLog{
		ID:        uuid.New().String(),
		Action:    action,
		SeatID:    seat.ID,
		EventID:   seat.EventID,
		UserID:    seat.HolderID,
		Status:    string(seat.Status),
		Timestamp: time.Now().UTC(),
		Data:      bson.M(data),
	}
	_, err := a.coll.InsertOne(ctx, log)
	if err != nil {
		a.logger.Error("failed to insert audit log", err)
		return err
	}
	return nil
}

// SeatHistory returns the newest entries for a seat first.
func (a *AuditLogger) SeatHistory(ctx context.Context, seatID string, limit int64) ([]AuditLog, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}).SetLimit(limit)
	cur, err := a.coll.Find(ctx, bson.M{"seat_id": seatID}, opts)
	if err != nil {
		return nil, err
	}
	var logs []AuditLog
	if err := cur.All(ctx, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}
