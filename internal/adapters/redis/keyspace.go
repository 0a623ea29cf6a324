package redis

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// KeyspaceListener streams the names of keys expired by the server. Pub/sub
// delivery is at-most-once: messages published while nobody is subscribed
// are lost.
type KeyspaceListener struct {
	client *redis.Client
}

func NewKeyspaceListener(client *redis.Client) *KeyspaceListener {
	return &KeyspaceListener{client: client}
}

// EnableNotifications turns on expired-key events. Managed Redis offerings
// often reject CONFIG, in which case this must be set server-side.
func (l *KeyspaceListener) EnableNotifications(ctx context.Context) error {
	return errors.Wrap(l.client.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(), "enable keyspace notifications")
}

func (l *KeyspaceListener) Channel() string {
	return fmt.Sprintf("__keyevent@%d__:expired", l.client.Options().DB)
}

// Listen subscribes and forwards expired key names until ctx is done. The
// returned channel is closed when the subscription ends.
func (l *KeyspaceListener) Listen(ctx context.Context) (<-chan string, error) {
	ps := l.client.Subscribe(ctx, l.Channel())
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, errors.Wrap(err, "subscribe to expired keys")
	}

	out := make(chan string)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
