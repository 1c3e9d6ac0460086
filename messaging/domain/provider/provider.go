package provider

import (
	"context"

	"github.com/AzielCF/az-dispatch/messaging/domain/job"
)

// PairingOutcome is the resolved answer of a confirmation check.
type PairingOutcome string

const (
	PairingConfirmed     PairingOutcome = "confirmed"
	PairingRejected      PairingOutcome = "rejected"
	PairingIndeterminate PairingOutcome = "indeterminate"
)

type SendAck struct {
	MessageID string `json:"message_id,omitempty"`
}

// ConnectionState is what the provider reports when a credential is checked.
type ConnectionState string

const (
	ConnectionOpen    ConnectionState = "open"
	ConnectionClosed  ConnectionState = "close"
	ConnectionInvalid ConnectionState = "error"
	ConnectionUnknown ConnectionState = "unknown"
)

// RemoteProvider is the opaque service that owns the real device sessions.
type RemoteProvider interface {
	// CreateRemoteInstance opens a device session slot named instanceName.
	CreateRemoteInstance(ctx context.Context, instanceName string) error
	RequestPairingToken(ctx context.Context, instanceName, credential string) (string, error)
	// CheckPairingConfirmation never fails: transport errors, timeouts and
	// malformed payloads resolve to PairingIndeterminate.
	CheckPairingConfirmation(ctx context.Context, instanceName string) PairingOutcome
	SendMessage(ctx context.Context, credential, address, message string, media *job.Media) (SendAck, error)
	Disconnect(ctx context.Context, instanceName, credential string) error
	VerifyCredential(ctx context.Context, instanceName, credential string) (ConnectionState, error)
}
