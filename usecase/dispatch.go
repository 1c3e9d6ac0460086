package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AzielCF/az-dispatch/core/config"
	domainDispatch "github.com/AzielCF/az-dispatch/domains/dispatch"
	"github.com/AzielCF/az-dispatch/messaging"
	"github.com/AzielCF/az-dispatch/messaging/domain/job"
	"github.com/AzielCF/az-dispatch/pkg/contacts"
	pkgError "github.com/AzielCF/az-dispatch/pkg/error"
	"github.com/AzielCF/az-dispatch/pkg/utils"
	"github.com/AzielCF/az-dispatch/validations"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type dispatchService struct {
	manager  *messaging.Manager
	cfg      config.DispatchConfig
	mediaDir string
	now      func() time.Time
}

func NewDispatchService(manager *messaging.Manager, cfg *config.Config) domainDispatch.IDispatchUsecase {
	service := &dispatchService{manager: manager, mediaDir: "statics/senditems", now: time.Now}
	if cfg != nil {
		service.cfg = cfg.Dispatch
		if cfg.Paths.SendItems != "" {
			service.mediaDir = cfg.Paths.SendItems
		}
	}
	return service
}

func (service *dispatchService) CreateCampaign(ctx context.Context, request domainDispatch.CampaignRequest) (domainDispatch.CreateResponse, error) {
	request = normalizeCampaign(request)
	if err := validations.ValidateCampaign(ctx, request, service.cfg); err != nil {
		return domainDispatch.CreateResponse{}, err
	}
	if err := service.checkMediaPath(request.Media); err != nil {
		return domainDispatch.CreateResponse{}, err
	}

	id, err := service.manager.CreateCampaign(ctx, toDispatchRequest(request))
	if err != nil {
		return domainDispatch.CreateResponse{}, translateError(err)
	}
	logrus.WithField("job_id", id).Infof("[DISPATCH] campaign queued for %d recipients", len(request.Recipients))
	return service.createResponse(ctx, id)
}

func (service *dispatchService) Schedule(ctx context.Context, request domainDispatch.ScheduleRequest) (domainDispatch.CreateResponse, error) {
	request.CampaignRequest = normalizeCampaign(request.CampaignRequest)
	if err := validations.ValidateSchedule(ctx, request, service.cfg, service.now()); err != nil {
		return domainDispatch.CreateResponse{}, err
	}
	if err := service.checkMediaPath(request.Media); err != nil {
		return domainDispatch.CreateResponse{}, err
	}

	id, err := service.manager.ScheduleDispatch(ctx, toDispatchRequest(request.CampaignRequest), request.ScheduledAt)
	if err != nil {
		return domainDispatch.CreateResponse{}, translateError(err)
	}
	logrus.WithField("job_id", id).Infof("[DISPATCH] dispatch scheduled for %s", request.ScheduledAt.Format(time.RFC3339))
	return service.createResponse(ctx, id)
}

func (service *dispatchService) Cancel(ctx context.Context, id string) error {
	return translateError(service.manager.CancelScheduledDispatch(ctx, strings.TrimSpace(id)))
}

func (service *dispatchService) Get(ctx context.Context, id string) (domainDispatch.Job, error) {
	j, err := service.manager.GetJob(ctx, strings.TrimSpace(id))
	if err != nil {
		return domainDispatch.Job{}, translateError(err)
	}
	return toJobDTO(j, service.now()), nil
}

func (service *dispatchService) List(ctx context.Context, request domainDispatch.ListRequest) ([]domainDispatch.Job, error) {
	if err := validations.ValidateListJobs(ctx, request); err != nil {
		return nil, err
	}

	jobs, err := service.manager.ListJobs(ctx, job.Filter{
		InstanceID: strings.TrimSpace(request.InstanceID),
		Kind:       job.Kind(request.Kind),
		Status:     job.Status(request.Status),
		Limit:      request.Limit,
	})
	if err != nil {
		return nil, translateError(err)
	}

	now := service.now()
	result := make([]domainDispatch.Job, 0, len(jobs))
	for _, j := range jobs {
		result = append(result, toJobDTO(j, now))
	}
	return result, nil
}

// ImportContacts parses an uploaded CSV contact list.
func (service *dispatchService) ImportContacts(ctx context.Context, r io.Reader) ([]domainDispatch.Recipient, error) {
	parsed, err := contacts.ParseCSV(r)
	if err != nil {
		if errors.Is(err, contacts.ErrNoRecipients) {
			return nil, pkgError.ValidationError(err.Error())
		}
		return nil, pkgError.ValidationError("contacts: " + err.Error())
	}

	result := make([]domainDispatch.Recipient, 0, len(parsed))
	for _, r := range parsed {
		result = append(result, domainDispatch.Recipient{Number: r.Address, Name: r.DisplayName})
	}
	return result, nil
}

// StoreMedia validates an uploaded attachment and copies it into the media
// directory under a generated name. The returned Media can be attached to a
// campaign or scheduled dispatch.
func (service *dispatchService) StoreMedia(ctx context.Context, request domainDispatch.UploadMediaRequest, r io.Reader) (domainDispatch.Media, error) {
	media := domainDispatch.Media{
		FileName: filepath.Base(strings.TrimSpace(request.FileName)),
		MimeType: strings.TrimSpace(request.MimeType),
		Size:     request.Size,
		Path:     service.mediaDir,
	}
	if err := validations.ValidateMedia(ctx, media, service.cfg); err != nil {
		return domainDispatch.Media{}, err
	}

	if err := utils.CreateFolder(service.mediaDir); err != nil {
		return domainDispatch.Media{}, pkgError.InternalServerError(err.Error())
	}

	media.Path = filepath.Join(service.mediaDir, uuid.NewString()+filepath.Ext(media.FileName))
	out, err := os.Create(media.Path)
	if err != nil {
		return domainDispatch.Media{}, pkgError.InternalServerError(fmt.Sprintf("store media: %v", err))
	}
	defer out.Close()

	// One byte past the limit tells an oversized body apart from an exact fit.
	written, err := io.Copy(out, io.LimitReader(r, media.Size+1))
	if err == nil && written != media.Size {
		err = fmt.Errorf("expected %s, received %s", humanize.IBytes(uint64(media.Size)), humanize.IBytes(uint64(written)))
	}
	if err != nil {
		_ = os.Remove(media.Path)
		return domainDispatch.Media{}, pkgError.ValidationError("media: " + err.Error())
	}

	logrus.WithField("path", media.Path).Debugf("[DISPATCH] stored %s (%s)", media.FileName, humanize.IBytes(uint64(media.Size)))
	return media, nil
}

// checkMediaPath only accepts attachments that live in the media directory.
func (service *dispatchService) checkMediaPath(media *domainDispatch.Media) error {
	if media == nil {
		return nil
	}
	root, err := filepath.Abs(service.mediaDir)
	if err != nil {
		return pkgError.InternalServerError(err.Error())
	}
	path, err := filepath.Abs(media.Path)
	if err != nil {
		return pkgError.ValidationError("media: invalid path")
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return pkgError.ValidationError("media: file must be uploaded first")
	}
	if _, err := os.Stat(path); err != nil {
		return pkgError.ValidationError("media: file not found")
	}
	return nil
}

func (service *dispatchService) createResponse(ctx context.Context, id string) (domainDispatch.CreateResponse, error) {
	progress, err := service.manager.GetJobStatus(ctx, id)
	if err != nil {
		return domainDispatch.CreateResponse{}, translateError(err)
	}
	return domainDispatch.CreateResponse{ID: id, Status: string(progress.Status)}, nil
}

func normalizeCampaign(request domainDispatch.CampaignRequest) domainDispatch.CampaignRequest {
	request.InstanceID = strings.TrimSpace(request.InstanceID)
	recipients := make([]domainDispatch.Recipient, 0, len(request.Recipients))
	for _, r := range request.Recipients {
		recipients = append(recipients, domainDispatch.Recipient{
			Number: contacts.NormalizeNumber(r.Number),
			Name:   strings.TrimSpace(r.Name),
		})
	}
	request.Recipients = recipients
	return request
}

func toDispatchRequest(request domainDispatch.CampaignRequest) messaging.DispatchRequest {
	req := messaging.DispatchRequest{
		InstanceID: request.InstanceID,
		Message:    request.Message,
		Recipients: make([]job.Recipient, 0, len(request.Recipients)),
	}
	for _, r := range request.Recipients {
		req.Recipients = append(req.Recipients, job.Recipient{Address: r.Number, DisplayName: r.Name})
	}
	if request.Media != nil {
		req.Media = &job.Media{
			FileName: request.Media.FileName,
			MimeType: request.Media.MimeType,
			Path:     request.Media.Path,
			Size:     request.Media.Size,
		}
	}
	return req
}

func toJobDTO(j job.Job, now time.Time) domainDispatch.Job {
	dto := domainDispatch.Job{
		ID:          j.ID,
		Kind:        string(j.Kind),
		InstanceID:  j.InstanceID,
		Message:     j.Message,
		Status:      string(j.Status),
		SentCount:   j.SentCount,
		FailedCount: j.FailedCount,
		Total:       j.Total(),
		ScheduledAt: j.ScheduledAt,
		Error:       j.Error,
		CreatedAt:   j.CreatedAt,
		FinishedAt:  j.FinishedAt,
	}
	if j.Media != nil {
		dto.MediaName = j.Media.FileName
	}
	if j.Status == job.StatusScheduled && j.ScheduledAt != nil {
		if j.ScheduledAt.After(now) {
			dto.TimeRemaining = humanize.RelTime(*j.ScheduledAt, now, "ago", "from now")
		} else {
			dto.TimeRemaining = "due"
		}
	}
	return dto
}
