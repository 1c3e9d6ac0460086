package instance

import (
	"context"
	"fmt"
	"time"
)

type Status string

const (
	StatusDisconnected         Status = "disconnected"
	StatusAwaitingConfirmation Status = "awaiting_confirmation"
	StatusConnected            Status = "connected"
)

// Instance is a named, credentialed channel that can be paired with a device.
type Instance struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Credential string `json:"-"`
	Status     Status `json:"status"`

	// PairingToken is the out-of-band artifact (usually a QR payload) shown to
	// the user. Only set while awaiting confirmation.
	PairingToken string `json:"pairing_token,omitempty"`
	RetryCount   int    `json:"retry_count"`

	// PairingSession identifies the poll loop that owns the current token.
	// A loop whose session no longer matches must not write.
	PairingSession string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the token/status invariant.
func (i Instance) Validate() error {
	switch i.Status {
	case StatusDisconnected, StatusConnected:
		if i.PairingToken != "" {
			return fmt.Errorf("instance %s: pairing token present while %s", i.ID, i.Status)
		}
	case StatusAwaitingConfirmation:
		if i.PairingToken == "" {
			return fmt.Errorf("instance %s: awaiting confirmation without pairing token", i.ID)
		}
	default:
		return fmt.Errorf("instance %s: unknown status %q", i.ID, i.Status)
	}
	return nil
}

// ResetPairing drops any pairing state and leaves the instance disconnected.
func (i *Instance) ResetPairing() {
	i.Status = StatusDisconnected
	i.PairingToken = ""
	i.PairingSession = ""
	i.RetryCount = 0
}

// UpdateFunc mutates an instance inside an atomic read-modify-write.
// Returning an error aborts the write.
type UpdateFunc func(inst *Instance) error

// Registry is the durable store of known instances. It exclusively owns
// instance state.
type Registry interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, inst Instance) error
	Get(ctx context.Context, id string) (Instance, error)
	GetByName(ctx context.Context, name string) (Instance, error)
	List(ctx context.Context) ([]Instance, error)
	ListByStatus(ctx context.Context, status Status) ([]Instance, error)
	Update(ctx context.Context, id string, fn UpdateFunc) (Instance, error)
	Delete(ctx context.Context, id string) error
}
