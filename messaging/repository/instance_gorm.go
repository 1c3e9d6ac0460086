package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/AzielCF/az-dispatch/messaging/domain/common"
	"github.com/AzielCF/az-dispatch/messaging/domain/instance"
	"github.com/AzielCF/az-dispatch/pkg/crypto"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type instanceModel struct {
	ID             string         `gorm:"primaryKey;column:id"`
	Name           string         `gorm:"column:name;not null;uniqueIndex"`
	Credential     string         `gorm:"column:credential;not null"`
	Status         string         `gorm:"column:status;not null;default:'disconnected';index"`
	PairingToken   sql.NullString `gorm:"column:pairing_token;type:text"`
	PairingSession sql.NullString `gorm:"column:pairing_session"`
	RetryCount     int            `gorm:"column:retry_count;default:0"`
	CreatedAt      time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt      time.Time      `gorm:"column:updated_at;not null"`
}

func (instanceModel) TableName() string { return "instances" }

// InstanceGormRepository persists instances through GORM. Credentials are
// sealed with the configured cipher before they reach the database.
type InstanceGormRepository struct {
	db     *gorm.DB
	cipher *crypto.Cipher
}

func NewInstanceGormRepository(db *gorm.DB, cipher *crypto.Cipher) *InstanceGormRepository {
	return &InstanceGormRepository{db: db, cipher: cipher}
}

func (r *InstanceGormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&instanceModel{})
}

func (r *InstanceGormRepository) Create(ctx context.Context, inst instance.Instance) error {
	if err := inst.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = now
	}
	inst.UpdatedAt = now

	model, err := r.toModel(inst)
	if err != nil {
		return err
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&instanceModel{}).Where("id = ? OR name = ?", inst.ID, inst.Name).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return common.ErrDuplicateInstance
		}
		return tx.Create(&model).Error
	})
}

func (r *InstanceGormRepository) Get(ctx context.Context, id string) (instance.Instance, error) {
	var m instanceModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return instance.Instance{}, common.ErrInstanceNotFound
		}
		return instance.Instance{}, err
	}
	return r.fromModel(m)
}

func (r *InstanceGormRepository) GetByName(ctx context.Context, name string) (instance.Instance, error) {
	var m instanceModel
	if err := r.db.WithContext(ctx).First(&m, "name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return instance.Instance{}, common.ErrInstanceNotFound
		}
		return instance.Instance{}, err
	}
	return r.fromModel(m)
}

func (r *InstanceGormRepository) List(ctx context.Context) ([]instance.Instance, error) {
	var models []instanceModel
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	return r.fromModels(models)
}

func (r *InstanceGormRepository) ListByStatus(ctx context.Context, status instance.Status) ([]instance.Instance, error) {
	var models []instanceModel
	if err := r.db.WithContext(ctx).Where("status = ?", string(status)).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	return r.fromModels(models)
}

// Update runs fn against the stored row inside a transaction. Postgres takes a
// row lock; SQLite relies on its single writer connection.
func (r *InstanceGormRepository) Update(ctx context.Context, id string, fn instance.UpdateFunc) (instance.Instance, error) {
	var result instance.Instance

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if tx.Dialector.Name() == "postgres" {
			q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var m instanceModel
		if err := q.First(&m, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return common.ErrInstanceNotFound
			}
			return err
		}

		current, err := r.fromModel(m)
		if err != nil {
			return err
		}
		result = current

		next := current
		if err := fn(&next); err != nil {
			return err
		}
		if err := next.Validate(); err != nil {
			return err
		}

		next.ID = current.ID
		next.CreatedAt = current.CreatedAt
		next.UpdatedAt = time.Now().UTC()

		updated, err := r.toModel(next)
		if err != nil {
			return err
		}
		if err := tx.Save(&updated).Error; err != nil {
			return err
		}

		result = next
		return nil
	})

	return result, err
}

func (r *InstanceGormRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&instanceModel{}, "id = ?", id).Error
}

// --- Mappers ---

func (r *InstanceGormRepository) toModel(inst instance.Instance) (instanceModel, error) {
	credential, err := r.cipher.Encrypt(inst.Credential)
	if err != nil {
		return instanceModel{}, err
	}
	return instanceModel{
		ID:             inst.ID,
		Name:           inst.Name,
		Credential:     credential,
		Status:         string(inst.Status),
		PairingToken:   sql.NullString{String: inst.PairingToken, Valid: inst.PairingToken != ""},
		PairingSession: sql.NullString{String: inst.PairingSession, Valid: inst.PairingSession != ""},
		RetryCount:     inst.RetryCount,
		CreatedAt:      inst.CreatedAt,
		UpdatedAt:      inst.UpdatedAt,
	}, nil
}

func (r *InstanceGormRepository) fromModel(m instanceModel) (instance.Instance, error) {
	credential, err := r.cipher.Decrypt(m.Credential)
	if err != nil {
		return instance.Instance{}, err
	}
	return instance.Instance{
		ID:             m.ID,
		Name:           m.Name,
		Credential:     credential,
		Status:         instance.Status(m.Status),
		PairingToken:   nullStringValue(m.PairingToken),
		PairingSession: nullStringValue(m.PairingSession),
		RetryCount:     m.RetryCount,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}, nil
}

func (r *InstanceGormRepository) fromModels(models []instanceModel) ([]instance.Instance, error) {
	res := make([]instance.Instance, 0, len(models))
	for _, m := range models {
		inst, err := r.fromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, inst)
	}
	return res, nil
}

func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}
