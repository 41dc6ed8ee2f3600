// Package revocation models the webhook jobs that propagate consent and
// delivery revocations to external endpoints.
package revocation

import "time"

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// TargetKind names the entity a job is notifying about.
type TargetKind string

const (
	TargetConsent  TargetKind = "consent"
	TargetDelivery TargetKind = "delivery"
	TargetLease    TargetKind = "lease"
)

// Job is one pending webhook notification. Attempts counts deliveries
// already tried, so a freshly created job carries Attempts=1 after its
// inline first try.
type Job struct {
	JobID         string         `json:"jobId"`
	TargetKind    TargetKind     `json:"targetKind"`
	TargetID      string         `json:"targetId"`
	OrderID       string         `json:"orderId,omitempty"`
	Endpoint      string         `json:"endpoint"`
	PayloadHash   string         `json:"payloadHash"`
	Reason        string         `json:"reason,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	Status        JobStatus      `json:"status"`
	Attempts      int            `json:"attempts"`
	MaxAttempts   int            `json:"maxAttempts"`
	LastError     string         `json:"lastError,omitempty"`
	NextAttemptAt time.Time      `json:"nextAttemptAt"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// Due reports whether the job should be retried at now.
func (j *Job) Due(now time.Time) bool {
	return j.Status == JobPending && !now.Before(j.NextAttemptAt)
}

// Exhausted reports whether the job has used up its attempt budget.
func (j *Job) Exhausted() bool {
	return j.Attempts >= j.MaxAttempts
}
