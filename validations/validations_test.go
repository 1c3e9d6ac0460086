package validations

import (
	"context"
	"testing"
	"time"

	"github.com/AzielCF/az-dispatch/core/config"
	domainDispatch "github.com/AzielCF/az-dispatch/domains/dispatch"
	domainInstance "github.com/AzielCF/az-dispatch/domains/instance"
	pkgError "github.com/AzielCF/az-dispatch/pkg/error"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDispatchConfig = config.DispatchConfig{
	MaxMediaSize:     1024,
	MaxRecipients:    2,
	AllowedMimeTypes: []string{"image/png", "application/pdf"},
}

func validCampaign() domainDispatch.CampaignRequest {
	return domainDispatch.CampaignRequest{
		InstanceID: "inst-1",
		Message:    "Hi",
		Recipients: []domainDispatch.Recipient{{Number: "5511999990001", Name: "Ana"}},
	}
}

func TestValidateCreateInstance(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, ValidateCreateInstance(ctx, domainInstance.CreateInstanceRequest{Name: "sales-1", Credential: "key"}))

	err := ValidateCreateInstance(ctx, domainInstance.CreateInstanceRequest{Name: "sales 1", Credential: "key"})
	require.Error(t, err)
	_, ok := err.(pkgError.ValidationError)
	assert.True(t, ok)

	assert.Error(t, ValidateCreateInstance(ctx, domainInstance.CreateInstanceRequest{Name: "sales"}))
}

func TestValidateCampaign(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, ValidateCampaign(ctx, validCampaign(), testDispatchConfig))

	noMessage := validCampaign()
	noMessage.Message = ""
	assert.Error(t, ValidateCampaign(ctx, noMessage, testDispatchConfig))

	noRecipients := validCampaign()
	noRecipients.Recipients = nil
	assert.Error(t, ValidateCampaign(ctx, noRecipients, testDispatchConfig))

	tooMany := validCampaign()
	tooMany.Recipients = append(tooMany.Recipients, tooMany.Recipients[0], tooMany.Recipients[0])
	assert.Error(t, ValidateCampaign(ctx, tooMany, testDispatchConfig))

	badNumber := validCampaign()
	badNumber.Recipients[0].Number = "12ab"
	err := ValidateCampaign(ctx, badNumber, testDispatchConfig)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recipients[0]")
}

func TestValidateMedia(t *testing.T) {
	ctx := context.Background()
	media := domainDispatch.Media{FileName: "a.png", MimeType: "image/png", Path: "/tmp/a.png", Size: 512}
	assert.NoError(t, ValidateMedia(ctx, media, testDispatchConfig))

	wrongType := media
	wrongType.MimeType = "application/zip"
	err := ValidateMedia(ctx, wrongType, testDispatchConfig)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported media type")

	tooBig := media
	tooBig.Size = 4096
	err = ValidateMedia(ctx, tooBig, testDispatchConfig)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1.0 KiB")
}

func TestValidateSchedule(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	req := domainDispatch.ScheduleRequest{CampaignRequest: validCampaign(), ScheduledAt: now.Add(time.Hour)}
	assert.NoError(t, ValidateSchedule(ctx, req, testDispatchConfig, now))

	req.ScheduledAt = now
	assert.Error(t, ValidateSchedule(ctx, req, testDispatchConfig, now))

	req.ScheduledAt = time.Time{}
	assert.Error(t, ValidateSchedule(ctx, req, testDispatchConfig, now))
}

func TestValidateListJobs(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, ValidateListJobs(ctx, domainDispatch.ListRequest{}))
	assert.NoError(t, ValidateListJobs(ctx, domainDispatch.ListRequest{Kind: "scheduled", Status: "cancelled", Limit: 10}))
	assert.Error(t, ValidateListJobs(ctx, domainDispatch.ListRequest{Status: "done"}))
	assert.Error(t, ValidateListJobs(ctx, domainDispatch.ListRequest{Limit: -1}))
}
