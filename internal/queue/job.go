// Package queue implements the durable delivery queue on top of Redis.
//
// Jobs move through waiting -> active -> {completed | failed}. A failed
// attempt with attempts remaining is parked in the delayed set until its
// backoff expires. An active job whose lease lapses is stalled and moved
// back to waiting by the maintenance loop.
package queue

import (
	"encoding/json"
	"time"
)

// State is the lifecycle position of a job.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateDelayed   State = "delayed"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateStalled   State = "stalled"
)

// Job is the persisted record of one unit of delivery work.
type Job struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Payload      json.RawMessage `json:"payload"`
	State        State           `json:"state"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"maxAttempts"`
	Stalls       int             `json:"stalls,omitempty"`
	FailedReason string          `json:"failedReason,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	ProcessedAt  *time.Time      `json:"processedAt,omitempty"`
	FinishedAt   *time.Time      `json:"finishedAt,omitempty"`
	RetryAt      *time.Time      `json:"retryAt,omitempty"`
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v any) error {
	return json.Unmarshal(j.Payload, v)
}

// RetryPolicy defines the exponential backoff parameters for job retries.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryPolicy gives five attempts with delays of 1s, 2s, 4s and 8s
// between them.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:   5,
	BaseDelay:     1 * time.Second,
	MaxDelay:      5 * time.Minute,
	BackoffFactor: 2.0,
}

// CalculateNextRetry computes the delay before the next attempt:
// delay = min(BaseDelay * BackoffFactor^attempt, MaxDelay). A zero MaxDelay
// disables the cap.
func CalculateNextRetry(policy RetryPolicy, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(policy.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= policy.BackoffFactor
	}

	d := time.Duration(delay)
	if policy.MaxDelay > 0 && (d > policy.MaxDelay || d < 0) {
		d = policy.MaxDelay
	}
	return d
}
