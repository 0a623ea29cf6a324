package idempotency_test

import (
	"context"
	"testing"
	"time"

	redisadapter "github.com/robertarktes/seat-admission/internal/adapters/redis"
	"github.com/robertarktes/seat-admission/internal/idempotency"
	"github.com/robertarktes/seat-admission/internal/testutil"
)

func TestIdempotency_FirstResponseWins(t *testing.T) {
	ctx := context.Background()
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(testutil.StartRedis(t)), time.Minute)

	got, err := idemp.Get(ctx, "k1")
	if err != nil || got != nil {
		t.Fatalf("expected nothing stored, got %+v %v", got, err)
	}

	if err := idemp.Set(ctx, "k1", idempotency.Response{Status: 202, Result: []byte(`{"job_id":"a"}`)}); err != nil {
		t.Fatal(err)
	}
	if err := idemp.Set(ctx, "k1", idempotency.Response{Status: 202, Result: []byte(`{"job_id":"b"}`)}); err != nil {
		t.Fatal(err)
	}

	got, err = idemp.Get(ctx, "k1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Status != 202 || string(got.Result) != `{"job_id":"a"}` {
		t.Errorf("unexpected stored response %+v", got)
	}
}
