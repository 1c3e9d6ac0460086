package validations

import (
	"context"
	"regexp"

	domainInstance "github.com/AzielCF/az-dispatch/domains/instance"
	pkgError "github.com/AzielCF/az-dispatch/pkg/error"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var instanceNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

func ValidateCreateInstance(ctx context.Context, request domainInstance.CreateInstanceRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.Name,
			validation.Required,
			validation.Length(1, 64),
			validation.Match(instanceNamePattern).Error("must contain only letters, digits, '.', '_' or '-'"),
		),
		validation.Field(&request.Credential, validation.Required, validation.Length(1, 512)),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}
