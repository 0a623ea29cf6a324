package rabbit_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/seat-admission/internal/adapters/rabbit"
	"github.com/robertarktes/seat-admission/internal/domain"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestPublisher_PublishJSON(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	rabbitContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "rabbitmq:3",
			ExposedPorts: []string{"5672/tcp"},
			WaitingFor:   wait.ForLog("Server startup complete").WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer rabbitContainer.Terminate(ctx)

	host, err := rabbitContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	port, err := rabbitContainer.MappedPort(ctx, "5672")
	if err != nil {
		t.Fatal(err)
	}
	conn, err := amqp.Dial("amqp://guest:guest@" + host + ":" + port.Port() + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	consumer, err := rabbit.NewConsumer(conn, "seat-events-test", "seat.held")
	if err != nil {
		t.Fatal(err)
	}
	defer consumer.Close()
	pub, err := rabbit.NewPublisher(conn)
	if err != nil {
		t.Fatal(err)
	}
	defer pub.Close()

	consumeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	deliveries, err := consumer.Consume(consumeCtx)
	if err != nil {
		t.Fatal(err)
	}

	seat := domain.Seat{ID: "s1", EventID: "e1", HolderID: "u1", Status: domain.SeatOnHold}
	if err := pub.PublishJSON(ctx, "seat.released", seat); err != nil {
		t.Fatal(err)
	}
	if err := pub.PublishJSON(ctx, "seat.held", seat); err != nil {
		t.Fatal(err)
	}

	select {
	case d := <-deliveries:
		if d.RoutingKey != "seat.held" || d.ContentType != "application/json" {
			t.Errorf("unexpected delivery %s %s", d.RoutingKey, d.ContentType)
		}
		var got domain.Seat
		if err := json.Unmarshal(d.Body, &got); err != nil {
			t.Fatal(err)
		}
		if got != seat {
			t.Errorf("expected %+v, got %+v", seat, got)
		}
		d.Ack(false)
	case <-consumeCtx.Done():
		t.Fatal("no delivery received")
	}
}
