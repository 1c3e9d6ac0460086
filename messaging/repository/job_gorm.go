package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AzielCF/az-dispatch/messaging/domain/common"
	"github.com/AzielCF/az-dispatch/messaging/domain/job"
	"gorm.io/gorm"
)

type jobModel struct {
	ID             string         `gorm:"primaryKey;column:id"`
	Kind           string         `gorm:"column:kind;not null;index"`
	InstanceID     string         `gorm:"column:instance_id;not null;index"`
	Message        string         `gorm:"column:message;type:text"`
	Media          sql.NullString `gorm:"column:media;type:text"`      // JSON
	Recipients     string         `gorm:"column:recipients;type:text"` // JSON
	RecipientCount int            `gorm:"column:recipient_count;not null;default:0"`
	Status         string         `gorm:"column:status;not null;index"`
	SentCount      int            `gorm:"column:sent_count;not null;default:0"`
	FailedCount    int            `gorm:"column:failed_count;not null;default:0"`
	ScheduledAt    *time.Time     `gorm:"column:scheduled_at;index"`
	Error          sql.NullString `gorm:"column:error"`
	StartedAt      *time.Time     `gorm:"column:started_at"`
	FinishedAt     *time.Time     `gorm:"column:finished_at"`
	CreatedAt      time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt      time.Time      `gorm:"column:updated_at;not null"`
}

func (jobModel) TableName() string { return "dispatch_jobs" }

// JobGormRepository persists jobs through GORM. Status transitions are
// conditional UPDATEs so two writers can never both win the same swap.
type JobGormRepository struct {
	db *gorm.DB
}

func NewJobGormRepository(db *gorm.DB) *JobGormRepository {
	return &JobGormRepository{db: db}
}

func (r *JobGormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&jobModel{})
}

func (r *JobGormRepository) Create(ctx context.Context, j job.Job) error {
	now := time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now

	model, err := toJobModel(j)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *JobGormRepository) Get(ctx context.Context, id string) (job.Job, error) {
	var m jobModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return job.Job{}, common.ErrJobNotFound
		}
		return job.Job{}, err
	}
	return fromJobModel(m)
}

func (r *JobGormRepository) List(ctx context.Context, filter job.Filter) ([]job.Job, error) {
	q := r.db.WithContext(ctx).Model(&jobModel{})
	if filter.InstanceID != "" {
		q = q.Where("instance_id = ?", filter.InstanceID)
	}
	if filter.Kind != "" {
		q = q.Where("kind = ?", string(filter.Kind))
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var models []jobModel
	if err := q.Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	return fromJobModels(models)
}

func (r *JobGormRepository) ListDue(ctx context.Context, now time.Time) ([]job.Job, error) {
	var models []jobModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ?", string(job.StatusScheduled), now.UTC()).
		Order("scheduled_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return fromJobModels(models)
}

func (r *JobGormRepository) CompareAndSwapStatus(ctx context.Context, id string, from, to job.Status) (bool, error) {
	if from.IsTerminal() {
		return false, common.ErrJobTerminal
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":     string(to),
		"updated_at": now,
	}
	if to.IsRunning() {
		updates["started_at"] = now
	}
	if to.IsTerminal() {
		updates["finished_at"] = now
	}

	res := r.db.WithContext(ctx).Model(&jobModel{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	if err := r.ensureExists(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *JobGormRepository) IncrementProgress(ctx context.Context, id string, failed bool) (job.Job, error) {
	updates := map[string]interface{}{
		"sent_count": gorm.Expr("sent_count + 1"),
		"updated_at": time.Now().UTC(),
	}
	if failed {
		updates["failed_count"] = gorm.Expr("failed_count + 1")
	}

	res := r.db.WithContext(ctx).Model(&jobModel{}).
		Where("id = ? AND sent_count < recipient_count AND status IN ?", id, activeStatuses()).
		Updates(updates)
	if res.Error != nil {
		return job.Job{}, res.Error
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return job.Job{}, err
	}
	if res.RowsAffected == 0 && current.Status.IsTerminal() {
		return current, common.ErrJobTerminal
	}
	return current, nil
}

func (r *JobGormRepository) Finish(ctx context.Context, id string, status job.Status, errMsg string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("finish requires a terminal status, got %s", status)
	}

	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&jobModel{}).
		Where("id = ? AND status NOT IN ?", id, terminalStatuses()).
		Updates(map[string]interface{}{
			"status":      string(status),
			"error":       sql.NullString{String: errMsg, Valid: errMsg != ""},
			"finished_at": now,
			"updated_at":  now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	if err := r.ensureExists(ctx, id); err != nil {
		return err
	}
	return common.ErrJobTerminal
}

func (r *JobGormRepository) ensureExists(ctx context.Context, id string) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&jobModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return common.ErrJobNotFound
	}
	return nil
}

func activeStatuses() []string {
	return []string{string(job.StatusPending), string(job.StatusSending), string(job.StatusScheduled), string(job.StatusExecuting)}
}

func terminalStatuses() []string {
	return []string{string(job.StatusCompleted), string(job.StatusFailed), string(job.StatusCancelled)}
}

// --- Mappers ---

func toJobModel(j job.Job) (jobModel, error) {
	recipients, err := json.Marshal(j.Recipients)
	if err != nil {
		return jobModel{}, err
	}

	var media sql.NullString
	if j.Media != nil {
		raw, err := json.Marshal(j.Media)
		if err != nil {
			return jobModel{}, err
		}
		media = sql.NullString{String: string(raw), Valid: true}
	}

	var scheduledAt *time.Time
	if j.ScheduledAt != nil {
		t := j.ScheduledAt.UTC()
		scheduledAt = &t
	}

	return jobModel{
		ID:             j.ID,
		Kind:           string(j.Kind),
		InstanceID:     j.InstanceID,
		Message:        j.Message,
		Media:          media,
		Recipients:     string(recipients),
		RecipientCount: len(j.Recipients),
		Status:         string(j.Status),
		SentCount:      j.SentCount,
		FailedCount:    j.FailedCount,
		ScheduledAt:    scheduledAt,
		Error:          sql.NullString{String: j.Error, Valid: j.Error != ""},
		StartedAt:      j.StartedAt,
		FinishedAt:     j.FinishedAt,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}, nil
}

func fromJobModel(m jobModel) (job.Job, error) {
	var recipients []job.Recipient
	if m.Recipients != "" {
		if err := json.Unmarshal([]byte(m.Recipients), &recipients); err != nil {
			return job.Job{}, fmt.Errorf("job %s: decode recipients: %w", m.ID, err)
		}
	}

	var media *job.Media
	if raw := nullStringValue(m.Media); raw != "" && raw != "null" {
		media = &job.Media{}
		if err := json.Unmarshal([]byte(raw), media); err != nil {
			return job.Job{}, fmt.Errorf("job %s: decode media: %w", m.ID, err)
		}
	}

	return job.Job{
		ID:          m.ID,
		Kind:        job.Kind(m.Kind),
		InstanceID:  m.InstanceID,
		Message:     m.Message,
		Media:       media,
		Recipients:  recipients,
		Status:      job.Status(m.Status),
		SentCount:   m.SentCount,
		FailedCount: m.FailedCount,
		ScheduledAt: m.ScheduledAt,
		Error:       nullStringValue(m.Error),
		StartedAt:   m.StartedAt,
		FinishedAt:  m.FinishedAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}, nil
}

func fromJobModels(models []jobModel) ([]job.Job, error) {
	res := make([]job.Job, 0, len(models))
	for _, m := range models {
		j, err := fromJobModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, nil
}
