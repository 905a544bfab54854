package jobs

import (
	"time"

	"github.com/jdahl/transcoded/internal/ffmpeg"
	"github.com/jdahl/transcoded/internal/progress"
)

// Status represents the current lifecycle state of a job
type Status string

const (
	StatusProbing   Status = "probing"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Request describes one transcoding request. Immutable once submitted.
type Request struct {
	InputPath  string      `json:"input_path"`
	Mode       ffmpeg.Mode `json:"mode"`
	OutputPath string      `json:"output_path,omitempty"` // optional override
}

// Result is the terminal outcome of a job, recorded exactly once.
type Result struct {
	Outcome    Status        `json:"outcome"` // completed, failed or cancelled
	OutputPath string        `json:"output_path,omitempty"`
	OutputSize int64         `json:"output_size,omitempty"`
	InputSize  int64         `json:"input_size"`
	Elapsed    time.Duration `json:"elapsed"`
	// Ratio is (inputSize - outputSize) / inputSize, set on success only.
	Ratio float64 `json:"ratio,omitempty"`
	// Diagnostic carries the exit status and trailing log excerpt on failure.
	Diagnostic string `json:"diagnostic,omitempty"`
}

// Job is the caller-visible snapshot of one transcoding job.
type Job struct {
	ID          string            `json:"id"`
	Request     Request           `json:"request"`
	Profile     ffmpeg.Profile    `json:"profile"`
	Status      Status            `json:"status"`
	Duration    time.Duration     `json:"duration,omitempty"` // source media duration, 0 if unknown
	Progress    progress.Snapshot `json:"progress"`
	Result      *Result           `json:"result,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   time.Time         `json:"started_at,omitempty"`
	CompletedAt time.Time         `json:"completed_at,omitempty"`
}

// IsTerminal returns true if the job is in a terminal state
func (j *Job) IsTerminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed || j.Status == StatusCancelled
}

// Copy returns a shallow copy safe to hand to subscribers.
func (j *Job) Copy() *Job {
	c := *j
	if j.Result != nil {
		r := *j.Result
		c.Result = &r
	}
	return &c
}

// EventType classifies events on a job's subscription stream.
type EventType string

const (
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventCancelled EventType = "cancelled"
)

// Event is one entry in a job's subscription stream. The stream is finite:
// it ends exactly once, after the terminal event has been delivered.
type Event struct {
	Type EventType `json:"type"`
	Job  *Job      `json:"job"`
}

// terminalEventType maps a terminal status to its stream event type.
func terminalEventType(s Status) EventType {
	switch s {
	case StatusCompleted:
		return EventCompleted
	case StatusCancelled:
		return EventCancelled
	default:
		return EventFailed
	}
}
