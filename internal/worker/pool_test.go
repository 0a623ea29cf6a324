package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-admission/internal/domain"
	"github.com/robertarktes/seat-admission/internal/observability"
)

type failure struct {
	msg   string
	retry bool
}

type memQueue struct {
	mu        sync.Mutex
	pending   []domain.Job
	completed map[string]domain.Outcome
	failed    map[string]failure
	cleanups  int
}

func newMemQueue(jobs ...domain.Job) *memQueue {
	return &memQueue{
		pending:   jobs,
		completed: map[string]domain.Outcome{},
		failed:    map[string]failure{},
	}
}

func (q *memQueue) Dequeue(ctx context.Context) (*domain.Job, error) {
	q.mu.Lock()
	if len(q.pending) > 0 {
		job := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()
		return &job, nil
	}
	q.mu.Unlock()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Millisecond):
		return nil, nil
	}
}

func (q *memQueue) CompleteJob(_ context.Context, jobID string, outcome domain.Outcome) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed[jobID] = outcome
	return nil
}

func (q *memQueue) FailJob(_ context.Context, jobID, msg string, job *domain.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed[jobID] = failure{msg: msg, retry: job != nil}
	return nil
}

func (q *memQueue) CleanupStaleJobs(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cleanups++
	return 0, nil
}

func (q *memQueue) resolved() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.completed) + len(q.failed)
}

type execFunc func(ctx context.Context, job domain.Job) (domain.Outcome, error)

func (f execFunc) Execute(ctx context.Context, job domain.Job) (domain.Outcome, error) {
	return f(ctx, job)
}

func runPool(t *testing.T, q *memQueue, exec Executor, want int) *Pool {
	t.Helper()
	pool := NewPool(q, exec, PoolOptions{
		Workers:         3,
		ErrorBackoff:    time.Millisecond,
		CleanupInterval: 10 * time.Millisecond,
	}, observability.NopLogger())
	pool.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for q.resolved() < want && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	pool.Stop()
	if err := pool.Wait(); err != nil {
		t.Fatal(err)
	}
	if pool.Running() {
		t.Error("pool still running after Stop")
	}
	return pool
}

func TestPool_DrainsQueue(t *testing.T) {
	f := newFixture(6)
	q := newMemQueue(
		holdJob("e1-a", "u1"),
		holdJob("e1-b", "u1"),
		reserveJob("e1-c", "u1"),
	)
	runPool(t, q, f.proc, 3)

	if len(q.completed) != 3 {
		t.Fatalf("expected 3 completed jobs, got %d (failed %v)", len(q.completed), q.failed)
	}
	rejected := 0
	for _, o := range q.completed {
		if !o.Success {
			rejected++
			if o.Status != 409 {
				t.Errorf("expected not-on-hold rejection, got %+v", o)
			}
		}
	}
	if rejected != 1 {
		t.Errorf("expected 1 rejected job, got %d", rejected)
	}
}

func TestPool_InfrastructureErrorIsRetryable(t *testing.T) {
	job := holdJob("e1-a", "u1")
	q := newMemQueue(job)
	runPool(t, q, execFunc(func(context.Context, domain.Job) (domain.Outcome, error) {
		return domain.Outcome{}, errors.New("redis: connection refused")
	}), 1)

	f, ok := q.failed[job.ID]
	if !ok || !f.retry {
		t.Fatalf("expected retryable failure, got %+v", q.failed)
	}
}

func TestPool_UnknownJobTypeFailsTerminally(t *testing.T) {
	job := holdJob("e1-a", "u1")
	job.Type = "CANCEL_SEAT"
	q := newMemQueue(job)
	runPool(t, q, newFixture(6).proc, 1)

	f, ok := q.failed[job.ID]
	if !ok || f.retry {
		t.Fatalf("expected terminal failure, got %+v", q.failed)
	}
}

func TestPool_RecoversPanics(t *testing.T) {
	job := holdJob("e1-a", "u1")
	q := newMemQueue(job, holdJob("e1-b", "u1"))
	runPool(t, q, execFunc(func(_ context.Context, j domain.Job) (domain.Outcome, error) {
		if j.ID == job.ID {
			panic("boom")
		}
		return domain.Outcome{Success: true, Status: 200}, nil
	}), 2)

	if f, ok := q.failed[job.ID]; !ok || f.msg != "panic: boom" {
		t.Errorf("expected panic recorded as failure, got %+v", q.failed)
	}
	if len(q.completed) != 1 {
		t.Errorf("expected the other job to complete, got %d", len(q.completed))
	}
}

func TestPool_RunsCleanup(t *testing.T) {
	q := newMemQueue()
	pool := NewPool(q, newFixture(6).proc, PoolOptions{
		Workers:         1,
		ErrorBackoff:    time.Millisecond,
		CleanupInterval: 5 * time.Millisecond,
	}, observability.NopLogger())
	pool.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	pool.Stop()
	pool.Wait()

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cleanups == 0 {
		t.Error("cleanup loop never ran")
	}
}
