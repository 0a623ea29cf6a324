package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-admission/internal/domain"
	"github.com/robertarktes/seat-admission/internal/observability"
	"golang.org/x/sync/errgroup"
)

type JobQueue interface {
	Dequeue(ctx context.Context) (*domain.Job, error)
	CompleteJob(ctx context.Context, jobID string, outcome domain.Outcome) error
	FailJob(ctx context.Context, jobID, msg string, job *domain.Job) error
	CleanupStaleJobs(ctx context.Context) (int, error)
}

type Executor interface {
	Execute(ctx context.Context, job domain.Job) (domain.Outcome, error)
}

type PoolOptions struct {
	Workers         int
	ErrorBackoff    time.Duration
	CleanupInterval time.Duration
}

// Pool runs a fixed set of worker loops and one stale-job sweep. Stop is
// cooperative: each loop checks the running flag between dequeue attempts
// and a job that has started always runs to its decision.
type Pool struct {
	queue    JobQueue
	exec     Executor
	opts     PoolOptions
	logger   observability.Logger
	running  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	group    *errgroup.Group
}

func NewPool(queue JobQueue, exec Executor, opts PoolOptions, logger observability.Logger) *Pool {
	return &Pool{
		queue:  queue,
		exec:   exec,
		opts:   opts,
		logger: logger,
		stop:   make(chan struct{}),
	}
}

func (p *Pool) Start(ctx context.Context) {
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	p.group, ctx = errgroup.WithContext(ctx)
	for i := 0; i < p.opts.Workers; i++ {
		id := i
		p.group.Go(func() error {
			p.workerLoop(ctx, id)
			return nil
		})
	}
	p.group.Go(func() error {
		p.cleanupLoop(ctx)
		return nil
	})
	p.logger.Info(fmt.Sprintf("started %d workers", p.opts.Workers))
}

func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.running.Store(false)
		close(p.stop)
	})
}

// Wait blocks until every loop has returned.
func (p *Pool) Wait() error {
	if p.group == nil {
		return nil
	}
	return p.group.Wait()
}

func (p *Pool) Running() bool {
	return p.running.Load()
}

func (p *Pool) workerLoop(ctx context.Context, id int) {
	log := p.logger.WithField("worker_id", id)
	for p.running.Load() && ctx.Err() == nil {
		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("dequeue failed: ", err)
			p.backoff(ctx)
			continue
		}
		if job == nil {
			continue
		}
		if err := p.process(context.WithoutCancel(ctx), log, *job); err != nil {
			p.backoff(ctx)
		}
	}
}

// process runs one job and records its result. It returns an error when
// the job hit an infrastructure failure so the loop can back off.
func (p *Pool) process(ctx context.Context, log observability.Logger, job domain.Job) (err error) {
	log = log.WithFields(map[string]interface{}{"job_id": job.ID, "job_type": job.Type})
	start := time.Now()
	defer func() {
		observability.JobDuration.WithLabelValues(string(job.Type)).Observe(time.Since(start).Seconds())
	}()

	outcome, err := p.safeExecute(ctx, job)
	switch {
	case errors.Is(err, domain.ErrUnknownJobType):
		log.Warn("unknown job type")
		observability.JobsProcessed.WithLabelValues(string(job.Type), "failed").Inc()
		if failErr := p.queue.FailJob(ctx, job.ID, err.Error(), nil); failErr != nil {
			log.Error("failed to record job failure: ", failErr)
		}
		return nil
	case err != nil:
		log.Error("job failed: ", err)
		observability.JobsProcessed.WithLabelValues(string(job.Type), "error").Inc()
		if failErr := p.queue.FailJob(ctx, job.ID, err.Error(), &job); failErr != nil {
			log.Error("failed to record job failure: ", failErr)
		}
		return err
	}

	label := "success"
	if !outcome.Success {
		label = "rejected"
		log.Debug("job rejected: ", outcome.Error)
	}
	observability.JobsProcessed.WithLabelValues(string(job.Type), label).Inc()
	if err := p.queue.CompleteJob(ctx, job.ID, outcome); err != nil {
		log.Error("failed to complete job: ", err)
		return err
	}
	return nil
}

func (p *Pool) safeExecute(ctx context.Context, job domain.Job) (outcome domain.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("panic: %v", r)
		}
	}()
	return p.exec.Execute(ctx, job)
}

func (p *Pool) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(p.opts.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			n, err := p.queue.CleanupStaleJobs(ctx)
			if err != nil {
				p.logger.Error("stale job cleanup failed: ", err)
				continue
			}
			if n > 0 {
				p.logger.Info(fmt.Sprintf("cleaned up %d stale jobs", n))
			}
		}
	}
}

func (p *Pool) backoff(ctx context.Context) {
	t := time.NewTimer(p.opts.ErrorBackoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-p.stop:
	case <-t.C:
	}
}
