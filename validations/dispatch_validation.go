package validations

import (
	"context"
	"fmt"
	"time"

	"github.com/AzielCF/az-dispatch/core/config"
	domainDispatch "github.com/AzielCF/az-dispatch/domains/dispatch"
	pkgError "github.com/AzielCF/az-dispatch/pkg/error"
	"github.com/dustin/go-humanize"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

const maxMessageLength = 4096

func ValidateCampaign(ctx context.Context, request domainDispatch.CampaignRequest, cfg config.DispatchConfig) error {
	maxRecipients := cfg.MaxRecipients
	if maxRecipients <= 0 {
		maxRecipients = 5000
	}

	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.InstanceID, validation.Required),
		validation.Field(&request.Message, validation.Required, validation.Length(1, maxMessageLength)),
		validation.Field(&request.Recipients,
			validation.Required.Error("at least one recipient is required"),
			validation.Length(1, maxRecipients).Error(fmt.Sprintf("at most %d recipients are allowed", maxRecipients)),
		),
	)
	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	for i, r := range request.Recipients {
		err := validation.ValidateStructWithContext(ctx, &r,
			validation.Field(&r.Number, validation.Required, is.Digit, validation.Length(8, 15)),
			validation.Field(&r.Name, validation.Length(0, 128)),
		)
		if err != nil {
			return pkgError.ValidationError(fmt.Sprintf("recipients[%d]: %s", i, err.Error()))
		}
	}

	if request.Media != nil {
		if err := ValidateMedia(ctx, *request.Media, cfg); err != nil {
			return err
		}
	}

	return nil
}

func ValidateSchedule(ctx context.Context, request domainDispatch.ScheduleRequest, cfg config.DispatchConfig, now time.Time) error {
	if err := ValidateCampaign(ctx, request.CampaignRequest, cfg); err != nil {
		return err
	}

	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.ScheduledAt, validation.Required.Error("scheduled_at is required")),
	)
	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	if !request.ScheduledAt.After(now) {
		return pkgError.ValidationError("scheduled_at: must be in the future")
	}
	return nil
}

// ValidateMedia checks an attachment against the allowed types and size cap.
func ValidateMedia(ctx context.Context, media domainDispatch.Media, cfg config.DispatchConfig) error {
	allowed := cfg.AllowedMimeTypes
	if len(allowed) == 0 {
		allowed = config.DefaultAllowedMimeTypes
	}
	allowedValues := make([]interface{}, len(allowed))
	for i, m := range allowed {
		allowedValues[i] = m
	}

	maxSize := cfg.MaxMediaSize
	if maxSize <= 0 {
		maxSize = 16 * 1024 * 1024
	}

	err := validation.ValidateStructWithContext(ctx, &media,
		validation.Field(&media.FileName, validation.Required),
		validation.Field(&media.Path, validation.Required),
		validation.Field(&media.MimeType,
			validation.Required,
			validation.In(allowedValues...).Error("unsupported media type"),
		),
		validation.Field(&media.Size,
			validation.Required,
			validation.Max(maxSize).Error(fmt.Sprintf("media exceeds the %s limit", humanize.IBytes(uint64(maxSize)))),
		),
	)
	if err != nil {
		return pkgError.ValidationError(fmt.Sprintf("media: %s", err.Error()))
	}
	return nil
}

func ValidateListJobs(ctx context.Context, request domainDispatch.ListRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.Kind, validation.In("campaign", "scheduled")),
		validation.Field(&request.Status, validation.In(
			"pending", "sending", "scheduled", "executing", "cancelled", "completed", "failed",
		)),
		validation.Field(&request.Limit, validation.Min(0), validation.Max(1000)),
	)
	if err != nil {
		return pkgError.ValidationError(err.Error())
	}
	return nil
}
