package domain

import (
	"time"

	"github.com/google/uuid"
)

type JobType string

const (
	JobHoldSeat    JobType = "HOLD_SEAT"
	JobReserveSeat JobType = "RESERVE_SEAT"
)

func (t JobType) Valid() bool {
	return t == JobHoldSeat || t == JobReserveSeat
}

type JobPayload struct {
	SeatID     string `json:"seatId"`
	UserID     string `json:"userId"`
	EnqueuedAt int64  `json:"timestamp"`
}

// Job moves Queued -> InFlight -> Completed | Failed | Queued(retries+1).
type Job struct {
	ID         string     `json:"id"`
	Type       JobType    `json:"type"`
	Payload    JobPayload `json:"payload"`
	Retries    int        `json:"retries"`
	MaxRetries int        `json:"maxRetries"`
}

func NewJob(jobType JobType, seatID, userID string, maxRetries int, now time.Time) Job {
	return Job{
		ID:   uuid.New().String(),
		Type: jobType,
		Payload: JobPayload{
			SeatID:     seatID,
			UserID:     userID,
			EnqueuedAt: now.UnixMilli(),
		},
		MaxRetries: maxRetries,
	}
}

func (j Job) CanRetry() bool {
	return j.Retries < j.MaxRetries
}

func (j Job) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(j.Payload.EnqueuedAt))
}

type JobStatus string

const (
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Outcome is what a worker produced for a job that ran to a decision.
// Business rejections are completed jobs with Success false.
type Outcome struct {
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	Error       string `json:"error,omitempty"`
	Status      int    `json:"status"`
	Seat        *Seat  `json:"seat,omitempty"`
	HoldSeconds int    `json:"hold_seconds,omitempty"`
}

type JobResult struct {
	Status      JobStatus `json:"status"`
	Result      *Outcome  `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
	CompletedAt int64     `json:"completedAt,omitempty"`
	FailedAt    int64     `json:"failedAt,omitempty"`
}

func CompletedResult(outcome Outcome, now time.Time) JobResult {
	return JobResult{Status: JobCompleted, Result: &outcome, CompletedAt: now.UnixMilli()}
}

func FailedResult(msg string, now time.Time) JobResult {
	return JobResult{Status: JobFailed, Error: msg, FailedAt: now.UnixMilli()}
}

// Rejected turns a business rejection into the outcome the client polls for.
func Rejected(err error) Outcome {
	return Outcome{
		Success: false,
		Error:   err.Error(),
		Status:  StatusCode(err),
	}
}
