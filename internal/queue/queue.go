// Package queue is the durable admission queue for seat operations.
//
// Keys for a queue named q:
//
//	queue:q          pending jobs, FIFO (RPUSH tail, pop head)
//	claimed:q        jobs popped by a worker but not yet registered in flight
//	processing:q     in-flight jobs, hash of job id -> job
//	result:q:<id>    terminal result, written once with a retention TTL
//
// A job is always in exactly one of queue, claimed, processing, or has a
// result, so the stale sweep can always find an abandoned job.
package queue

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/robertarktes/seat-admission/internal/domain"
	"github.com/robertarktes/seat-admission/internal/observability"
)

// claimScript moves a popped job from the claim list into the in-flight
// hash. Returns 0 if the sweep already took it.
var claimScript = redis.NewScript(`
if redis.call('LREM', KEYS[1], 1, ARGV[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[2], ARGV[2], ARGV[1])
return 1
`)

// completeScript drops the in-flight entry and records the result unless a
// result already exists.
var completeScript = redis.NewScript(`
redis.call('HDEL', KEYS[1], ARGV[1])
return redis.call('SET', KEYS[2], ARGV[2], 'EX', ARGV[3], 'NX') and 1 or 0
`)

// failScript resolves a failure only for the caller that removed the
// in-flight (or claimed) entry. ARGV[3] is the retry payload, empty when the
// job is out of retries. Returns 0 when not owned, 1 on retry, 2 on terminal
// failure.
var failScript = redis.NewScript(`
local owned
if ARGV[1] == 'claimed' then
	owned = redis.call('LREM', KEYS[1], 1, ARGV[2])
else
	owned = redis.call('HDEL', KEYS[1], ARGV[2])
end
if owned == 0 then
	return 0
end
if ARGV[3] ~= '' then
	redis.call('RPUSH', KEYS[2], ARGV[3])
	return 1
end
redis.call('SET', KEYS[3], ARGV[4], 'EX', ARGV[5], 'NX')
return 2
`)

type Options struct {
	Name           string
	Concurrency    int
	BatchSeconds   int
	JobTimeout     time.Duration
	ResultTTL      time.Duration
	MaxRetries     int
	DequeueTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		Name:           "seat_operations",
		Concurrency:    10,
		BatchSeconds:   5,
		JobTimeout:     30 * time.Second,
		ResultTTL:      5 * time.Minute,
		MaxRetries:     3,
		DequeueTimeout: time.Second,
	}
}

type Admission struct {
	JobID                string
	Position             int64
	EstimatedWaitSeconds int64
}

type Stats struct {
	Pending  int64 `json:"pending"`
	InFlight int64 `json:"in_flight"`
}

type Queue struct {
	client        *redis.Client
	opts          Options
	logger        observability.Logger
	now           func() time.Time
	queueKey      string
	claimKey      string
	processingKey string
	resultPrefix  string
}

func New(client *redis.Client, opts Options, logger observability.Logger) *Queue {
	return &Queue{
		client:        client,
		opts:          opts,
		logger:        logger,
		now:           time.Now,
		queueKey:      "queue:" + opts.Name,
		claimKey:      "claimed:" + opts.Name,
		processingKey: "processing:" + opts.Name,
		resultPrefix:  "result:" + opts.Name + ":",
	}
}

// Enqueue appends a job at the tail. Position and wait are read from two
// unsynchronized snapshots and are only an estimate.
func (q *Queue) Enqueue(ctx context.Context, jobType domain.JobType, seatID, userID string) (Admission, error) {
	if !jobType.Valid() {
		return Admission{}, errors.Wrapf(domain.ErrUnknownJobType, "%q", jobType)
	}
	job := domain.NewJob(jobType, seatID, userID, q.opts.MaxRetries, q.now())
	data, err := json.Marshal(job)
	if err != nil {
		return Admission{}, errors.Wrap(err, "encode job")
	}
	if err := q.client.RPush(ctx, q.queueKey, data).Err(); err != nil {
		return Admission{}, errors.Wrap(err, "enqueue job")
	}
	observability.JobsEnqueued.WithLabelValues(string(jobType)).Inc()

	stats, err := q.Stats(ctx)
	if err != nil {
		// The job is queued; only the estimate is missing.
		q.logger.WithField("job_id", job.ID).Warn("queue stats unavailable: ", err)
		return Admission{JobID: job.ID}, nil
	}
	position := Position(stats.Pending, stats.InFlight)
	return Admission{
		JobID:                job.ID,
		Position:             position,
		EstimatedWaitSeconds: EstimateWait(position, q.opts.Concurrency, q.opts.BatchSeconds),
	}, nil
}

// Dequeue blocks up to the dequeue timeout for the next job. It returns
// nil, nil when nothing arrived.
func (q *Queue) Dequeue(ctx context.Context) (*domain.Job, error) {
	raw, err := q.client.BLMove(ctx, q.queueKey, q.claimKey, "LEFT", "RIGHT", q.opts.DequeueTimeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "dequeue job")
	}

	var job domain.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		q.client.LRem(ctx, q.claimKey, 1, raw)
		q.logger.WithField("raw", raw).Error("dropping undecodable job: ", err)
		return nil, nil
	}

	claimed, err := claimScript.Run(ctx, q.client, []string{q.claimKey, q.processingKey}, raw, job.ID).Int()
	if err != nil {
		// Still in the claim list, the sweep will recover it.
		return nil, errors.Wrapf(err, "register job %s in flight", job.ID)
	}
	if claimed == 0 {
		return nil, nil
	}
	return &job, nil
}

func (q *Queue) CompleteJob(ctx context.Context, jobID string, outcome domain.Outcome) error {
	data, err := json.Marshal(domain.CompletedResult(outcome, q.now()))
	if err != nil {
		return errors.Wrap(err, "encode result")
	}
	err = completeScript.Run(ctx, q.client, []string{q.processingKey, q.resultKey(jobID)},
		jobID, data, q.resultTTLSeconds()).Err()
	return errors.Wrapf(err, "complete job %s", jobID)
}

// FailJob re-enqueues job with retries+1 while it has retries left, and
// otherwise records a failed result. A nil job is failed without retry.
func (q *Queue) FailJob(ctx context.Context, jobID, msg string, job *domain.Job) error {
	_, err := q.fail(ctx, "processing", jobID, "", msg, job)
	return err
}

func (q *Queue) fail(ctx context.Context, from, jobID, raw, msg string, job *domain.Job) (int, error) {
	var retry string
	if job != nil && job.CanRetry() {
		next := *job
		next.Retries++
		data, err := json.Marshal(next)
		if err != nil {
			return 0, errors.Wrap(err, "encode retry")
		}
		retry = string(data)
	}
	result, err := json.Marshal(domain.FailedResult(msg, q.now()))
	if err != nil {
		return 0, errors.Wrap(err, "encode result")
	}

	key, member := q.processingKey, jobID
	if from == "claimed" {
		key, member = q.claimKey, raw
	}
	n, err := failScript.Run(ctx, q.client, []string{key, q.queueKey, q.resultKey(jobID)},
		from, member, retry, result, q.resultTTLSeconds()).Int()
	if err != nil {
		return 0, errors.Wrapf(err, "fail job %s", jobID)
	}
	if n == 1 {
		observability.JobRetries.Inc()
	}
	return n, nil
}

// GetJobResult returns the terminal result, or nil when the job is still
// running or unknown.
func (q *Queue) GetJobResult(ctx context.Context, jobID string) (*domain.JobResult, error) {
	data, err := q.client.Get(ctx, q.resultKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get result of job %s", jobID)
	}
	var res domain.JobResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, errors.Wrapf(err, "decode result of job %s", jobID)
	}
	return &res, nil
}

func (q *Queue) InFlight(ctx context.Context, jobID string) (bool, error) {
	ok, err := q.client.HExists(ctx, q.processingKey, jobID).Result()
	return ok, errors.Wrapf(err, "check job %s", jobID)
}

// CleanupStaleJobs routes every in-flight or claimed job older than the job
// timeout through the failure path. Age counts from the first enqueue.
func (q *Queue) CleanupStaleJobs(ctx context.Context) (int, error) {
	now := q.now()
	cleaned := 0

	inflight, err := q.client.HGetAll(ctx, q.processingKey).Result()
	if err != nil {
		return 0, errors.Wrap(err, "scan in-flight jobs")
	}
	for jobID, raw := range inflight {
		var job domain.Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			q.client.HDel(ctx, q.processingKey, jobID)
			continue
		}
		if job.Age(now) <= q.opts.JobTimeout {
			continue
		}
		q.logger.WithField("job_id", jobID).Warn("cleaning up stale job")
		n, err := q.fail(ctx, "processing", jobID, "", "job timeout", &job)
		if err != nil {
			return cleaned, err
		}
		if n > 0 {
			cleaned++
		}
	}

	claimed, err := q.client.LRange(ctx, q.claimKey, 0, -1).Result()
	if err != nil {
		return cleaned, errors.Wrap(err, "scan claimed jobs")
	}
	for _, raw := range claimed {
		var job domain.Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			q.client.LRem(ctx, q.claimKey, 1, raw)
			continue
		}
		if job.Age(now) <= q.opts.JobTimeout {
			continue
		}
		n, err := q.fail(ctx, "claimed", job.ID, raw, "job timeout", &job)
		if err != nil {
			return cleaned, err
		}
		if n > 0 {
			cleaned++
		}
	}

	observability.StaleJobs.Add(float64(cleaned))
	return cleaned, nil
}

func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.client.Pipeline()
	pending := pipe.LLen(ctx, q.queueKey)
	inflight := pipe.HLen(ctx, q.processingKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, errors.Wrap(err, "queue stats")
	}
	stats := Stats{Pending: pending.Val(), InFlight: inflight.Val()}
	observability.QueueDepth.Set(float64(stats.Pending))
	observability.InFlightJobs.Set(float64(stats.InFlight))
	return stats, nil
}

func (q *Queue) resultKey(jobID string) string {
	return q.resultPrefix + jobID
}

func (q *Queue) resultTTLSeconds() int64 {
	secs := int64(q.opts.ResultTTL / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Position is max(0, pending - inFlight).
func Position(pending, inFlight int64) int64 {
	if p := pending - inFlight; p > 0 {
		return p
	}
	return 0
}

// EstimateWait is ceil(position / concurrency) * batchSeconds.
func EstimateWait(position int64, concurrency, batchSeconds int) int64 {
	if concurrency < 1 {
		concurrency = 1
	}
	return int64(math.Ceil(float64(position)/float64(concurrency))) * int64(batchSeconds)
}
