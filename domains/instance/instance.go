package instance

import (
	"context"
	"time"
)

type CreateInstanceRequest struct {
	Name       string `json:"name" form:"name"`
	Credential string `json:"credential" form:"credential"`
}

// Instance is the API view of a channel. The credential is never exposed.
type Instance struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Status       string    `json:"status"`
	PairingToken string    `json:"pairing_token,omitempty"`
	RetryCount   int       `json:"retry_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type StatusResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type PairingResponse struct {
	InstanceID   string `json:"instance_id"`
	Status       string `json:"status"`
	PairingToken string `json:"pairing_token"`
	QRCodeURL    string `json:"qr_code_url"`
}

type IInstanceUsecase interface {
	Create(ctx context.Context, request CreateInstanceRequest) (Instance, error)
	List(ctx context.Context) ([]Instance, error)
	GetByID(ctx context.Context, id string) (Instance, error)
	Status(ctx context.Context, id string) (StatusResponse, error)
	Delete(ctx context.Context, id string) error
	StartPairing(ctx context.Context, id string) (PairingResponse, error)
	CancelPairing(ctx context.Context, id string) error
	PairingQRCode(ctx context.Context, id string) ([]byte, error)
}
