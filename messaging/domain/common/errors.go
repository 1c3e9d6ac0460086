package common

import "errors"

var (
	ErrInstanceNotFound  = errors.New("instance not found")
	ErrDuplicateInstance = errors.New("instance already exists")
	ErrInvalidCredential = errors.New("provider rejected the instance credential")
	ErrAlreadyConnected  = errors.New("instance is already connected")

	ErrProviderUnavailable  = errors.New("remote provider unavailable")
	ErrProviderAuth         = errors.New("remote provider refused the credential")
	ErrPairingRejected      = errors.New("pairing rejected by device")
	ErrPairingIndeterminate = errors.New("pairing confirmation indeterminate")

	ErrJobNotFound          = errors.New("job not found")
	ErrInstanceNotConnected = errors.New("instance is not connected")
	ErrInvalidSchedule      = errors.New("scheduled time must be in the future")
	ErrJobNotCancellable    = errors.New("job can only be cancelled while scheduled")
	ErrJobTerminal          = errors.New("job already reached a terminal status")
	ErrSendFailed           = errors.New("message send failed")
	ErrDispatchRejected     = errors.New("dispatch queue rejected the job")
	ErrNoRecipients         = errors.New("at least one recipient is required")
)
