package usecase

import (
	"errors"

	"github.com/AzielCF/az-dispatch/messaging/domain/common"
	pkgError "github.com/AzielCF/az-dispatch/pkg/error"
)

// translateError maps messaging sentinels onto the HTTP-aware error types the
// recovery middleware understands. Unknown errors pass through untouched.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var generic pkgError.GenericError
	if errors.As(err, &generic) {
		return err
	}

	switch {
	case errors.Is(err, common.ErrInstanceNotFound), errors.Is(err, common.ErrJobNotFound):
		return pkgError.NotFoundError(err.Error())
	case errors.Is(err, common.ErrDuplicateInstance), errors.Is(err, common.ErrAlreadyConnected):
		return pkgError.ConflictError(err.Error())
	case errors.Is(err, common.ErrInstanceNotConnected):
		return pkgError.StateError{Code: "INSTANCE_NOT_CONNECTED", Message: err.Error()}
	case errors.Is(err, common.ErrJobNotCancellable):
		return pkgError.StateError{Code: "JOB_NOT_CANCELLABLE", Message: err.Error()}
	case errors.Is(err, common.ErrJobTerminal):
		return pkgError.StateError{Code: "JOB_TERMINAL", Message: err.Error()}
	case errors.Is(err, common.ErrInvalidSchedule),
		errors.Is(err, common.ErrNoRecipients),
		errors.Is(err, common.ErrInvalidCredential):
		return pkgError.ValidationError(err.Error())
	case errors.Is(err, common.ErrProviderUnavailable), errors.Is(err, common.ErrDispatchRejected):
		return pkgError.ServiceUnavailableError(err.Error())
	}
	return err
}
