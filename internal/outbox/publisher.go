// Package outbox relays committed ledger events to the message broker.
package outbox

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/seat-admission/internal/adapters/crdb"
	"github.com/robertarktes/seat-admission/internal/observability"
)

type Store interface {
	RelayOutbox(ctx context.Context, limit int, publish func(crdb.OutboxRecord) error) (int, error)
}

type Broker interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

type Publisher struct {
	repo      Store
	rabbitPub Broker
	logger    observability.Logger
	batch     int
	now       func() time.Time
}

func NewPublisher(repo Store, rabbitPub Broker, logger observability.Logger) *Publisher {
	return &Publisher{repo: repo, rabbitPub: rabbitPub, logger: logger, batch: 10, now: time.Now}
}

func (p *Publisher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.PublishPending(ctx); err != nil {
				p.logger.Error("failed to read outbox: ", err)
			}
		}
	}
}

// PublishPending publishes one batch and returns how many records were
// marked published. Records that fail to publish stay NEW for the next pass.
// The dedupe key is the message id, so consumers can drop redeliveries.
func (p *Publisher) PublishPending(ctx context.Context) (int, error) {
	var oldest time.Time
	published, err := p.repo.RelayOutbox(ctx, p.batch, func(rec crdb.OutboxRecord) error {
		msg := amqp.Publishing{
			MessageId:    rec.DedupeKey,
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    rec.CreatedAt,
			Body:         rec.Payload,
		}
		if err := p.rabbitPub.Publish(ctx, rec.EventType, msg); err != nil {
			p.logger.WithFields(map[string]interface{}{"outbox_id": rec.ID, "event_type": rec.EventType}).
				Warn("failed to publish outbox record: ", err)
			return err
		}
		if oldest.IsZero() || rec.CreatedAt.Before(oldest) {
			oldest = rec.CreatedAt
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if !oldest.IsZero() {
		observability.OutboxLag.Set(p.now().Sub(oldest).Seconds())
	}
	return published, nil
}
