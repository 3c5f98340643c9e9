package batch

import (
	"time"

	"variations/internal/orchestrator"
	"variations/internal/providers"
)

type Status string

const (
	StatusPending         Status = "Pending"
	StatusRunning         Status = "Running"
	StatusPartiallyFailed Status = "PartiallyFailed"
	StatusCompleted       Status = "Completed"
	StatusFailed          Status = "Failed"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartiallyFailed, StatusFailed:
		return true
	default:
		return false
	}
}

type ErrorRecord struct {
	RequestIndex int                 `json:"requestIndex"`
	Kind         providers.ErrorKind `json:"kind"`
	Message      string              `json:"message"`
	Retryable    bool                `json:"retryable"`
	Provider     providers.Provider  `json:"provider,omitempty"`
}

// RequestOutcome is the result of one request of a job. Error is set when
// the request was invalid or none of its variations succeeded; Variations
// always carries the per-variation detail that was produced.
type RequestOutcome struct {
	RequestIndex int                    `json:"requestIndex"`
	Variations   []orchestrator.Outcome `json:"variations,omitempty"`
	Error        *ErrorRecord           `json:"error,omitempty"`
}

func (o RequestOutcome) OK() bool { return o.Error == nil }

type Job struct {
	ID        string           `json:"id"`
	ClientID  string           `json:"clientId,omitempty"`
	Status    Status           `json:"status"`
	Total     int              `json:"total"`
	Done      int              `json:"done"`
	Failed    int              `json:"failed"`
	Outcomes  []RequestOutcome `json:"outcomes"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`

	requests []orchestrator.Request
}

// snapshot copies everything a reader may look at.
func (j *Job) snapshot() Job {
	cp := *j
	cp.Outcomes = append([]RequestOutcome(nil), j.Outcomes...)
	cp.requests = nil
	return cp
}

const (
	EventProgress  = "batch.progress"
	EventCompleted = "batch.completed"
)

// Event is pushed to the submitting client after every request and once the
// job is terminal.
type Event struct {
	Type         string       `json:"type"`
	JobID        string       `json:"jobId"`
	Status       Status       `json:"status"`
	Done         int          `json:"done"`
	Total        int          `json:"total"`
	RequestIndex int          `json:"requestIndex"`
	Error        *ErrorRecord `json:"error,omitempty"`
}
