package dispatch

import (
	"context"
	"io"
	"time"
)

type Recipient struct {
	Number string `json:"number" form:"number"`
	Name   string `json:"name,omitempty" form:"name"`
}

// Media points at an attachment already stored on disk by the caller.
type Media struct {
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
}

type UploadMediaRequest struct {
	FileName string
	MimeType string
	Size     int64
}

type CampaignRequest struct {
	InstanceID string      `json:"instance_id" form:"instance_id"`
	Message    string      `json:"message" form:"message"`
	Recipients []Recipient `json:"recipients" form:"recipients"`
	Media      *Media      `json:"media,omitempty"`
}

type ScheduleRequest struct {
	CampaignRequest
	ScheduledAt time.Time `json:"scheduled_at" form:"scheduled_at"`
}

type ListRequest struct {
	InstanceID string `query:"instance_id"`
	Kind       string `query:"kind"`
	Status     string `query:"status"`
	Limit      int    `query:"limit"`
}

// Job is the API view of a campaign or scheduled dispatch.
type Job struct {
	ID            string     `json:"id"`
	Kind          string     `json:"kind"`
	InstanceID    string     `json:"instance_id"`
	Message       string     `json:"message"`
	Status        string     `json:"status"`
	SentCount     int        `json:"sent_count"`
	FailedCount   int        `json:"failed_count"`
	Total         int        `json:"total"`
	MediaName     string     `json:"media_name,omitempty"`
	ScheduledAt   *time.Time `json:"scheduled_at,omitempty"`
	TimeRemaining string     `json:"time_remaining,omitempty"`
	Error         string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

type CreateResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type IDispatchUsecase interface {
	CreateCampaign(ctx context.Context, request CampaignRequest) (CreateResponse, error)
	Schedule(ctx context.Context, request ScheduleRequest) (CreateResponse, error)
	Cancel(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (Job, error)
	List(ctx context.Context, request ListRequest) ([]Job, error)
	ImportContacts(ctx context.Context, r io.Reader) ([]Recipient, error)
	StoreMedia(ctx context.Context, request UploadMediaRequest, r io.Reader) (Media, error)
}
