package mongo

import (
	"context"
	"time"

	"github.com/robertarktes/seat-admission/internal/domain"
	"github.com/robertarktes/seat-admission/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CatalogRepository is a browsable copy of created events. Seat state never
// lives here.
type CatalogRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		coll:   db.Collection("events"),
		logger: logger,
	}
}

type EventDoc struct {
	ID         string    `bson:"_id"`
	Name       string    `bson:"name"`
	TotalSeats int       `bson:"total_seats"`
	CreatedAt  time.Time `bson:"created_at"`
}

func (c *CatalogRepository) CreateEvent(ctx context.Context, event domain.Event) error {
	doc := EventDoc{
		ID:         event.ID,
		Name:       event.Name,
		TotalSeats: event.TotalSeats,
		CreatedAt:  time.Now().UTC(),
	}
	_, err := c.coll.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		c.logger.Error("failed to create event", err)
		return err
	}
	return nil
}

// ListEvents returns the most recently created events first.
func (c *CatalogRepository) ListEvents(ctx context.Context, limit int64) ([]domain.Event, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limit)
	cur, err := c.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		c.logger.Error("failed to list events", err)
		return nil, err
	}
	var docs []EventDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	events := make([]domain.Event, len(docs))
	for i, d := range docs {
		events[i] = domain.Event{ID: d.ID, Name: d.Name, TotalSeats: d.TotalSeats}
	}
	return events, nil
}
