package job

import (
	"context"
	"time"
)

type Kind string

const (
	KindCampaign  Kind = "campaign"
	KindScheduled Kind = "scheduled"
)

type Status string

const (
	// Campaign lifecycle
	StatusPending Status = "pending"
	StatusSending Status = "sending"

	// Scheduled dispatch lifecycle
	StatusScheduled Status = "scheduled"
	StatusExecuting Status = "executing"
	StatusCancelled Status = "cancelled"

	// Shared terminal statuses
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether the status can no longer change.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsRunning reports whether an executor owns the job.
func (s Status) IsRunning() bool {
	return s == StatusSending || s == StatusExecuting
}

// Recipient is a destination on the channel, usually a phone number.
type Recipient struct {
	Address     string `json:"address"`
	DisplayName string `json:"display_name,omitempty"`
}

// Media references an attachment stored on disk.
type Media struct {
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
}

// Job is either an immediate campaign or a future-dated scheduled dispatch.
type Job struct {
	ID          string      `json:"id"`
	Kind        Kind        `json:"kind"`
	InstanceID  string      `json:"instance_id"`
	Message     string      `json:"message"`
	Media       *Media      `json:"media,omitempty"`
	Recipients  []Recipient `json:"recipients"`
	Status      Status      `json:"status"`
	SentCount   int         `json:"sent_count"`
	FailedCount int         `json:"failed_count"`
	ScheduledAt *time.Time  `json:"scheduled_at,omitempty"`
	Error       string      `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	FinishedAt  *time.Time  `json:"finished_at,omitempty"`
}

// Total is the number of recipients the job will attempt.
func (j Job) Total() int {
	return len(j.Recipients)
}

// RunningStatus is the status an executor moves the job into.
func (j Job) RunningStatus() Status {
	if j.Kind == KindScheduled {
		return StatusExecuting
	}
	return StatusSending
}

// InitialStatus is the status a freshly created job starts in.
func (j Job) InitialStatus() Status {
	if j.Kind == KindScheduled {
		return StatusScheduled
	}
	return StatusPending
}

// Progress is the externally visible status of a job.
type Progress struct {
	ID          string     `json:"id"`
	Kind        Kind       `json:"kind"`
	Status      Status     `json:"status"`
	SentCount   int        `json:"sent_count"`
	FailedCount int        `json:"failed_count"`
	Total       int        `json:"total"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

func (j Job) Progress() Progress {
	return Progress{
		ID:          j.ID,
		Kind:        j.Kind,
		Status:      j.Status,
		SentCount:   j.SentCount,
		FailedCount: j.FailedCount,
		Total:       j.Total(),
		ScheduledAt: j.ScheduledAt,
		Error:       j.Error,
	}
}

type Filter struct {
	InstanceID string
	Kind       Kind
	Status     Status
	Limit      int
}

// Store is the durable store of campaigns and scheduled dispatches. It
// exclusively owns job state; every status change goes through
// CompareAndSwapStatus or Finish so concurrent writers cannot lose updates.
type Store interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, j Job) error
	Get(ctx context.Context, id string) (Job, error)
	List(ctx context.Context, filter Filter) ([]Job, error)
	ListDue(ctx context.Context, now time.Time) ([]Job, error)

	// CompareAndSwapStatus moves the job from one status to another only if it
	// is still in `from`. It reports whether the swap happened.
	CompareAndSwapStatus(ctx context.Context, id string, from, to Status) (bool, error)

	// IncrementProgress advances SentCount by one (and FailedCount when the
	// attempt failed). SentCount never exceeds the number of recipients.
	IncrementProgress(ctx context.Context, id string, failed bool) (Job, error)

	// Finish moves a running job into a terminal status.
	Finish(ctx context.Context, id string, status Status, errMsg string) error
}
