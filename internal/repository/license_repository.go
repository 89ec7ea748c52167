// internal/repository/license_repository.go
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/javajoker/serialkey-backend/internal/models"
)

var ErrLicenseNotFound = errors.New("license not found")

// DeviceBinding holds the fields written when a license is bound.
type DeviceBinding struct {
	DeviceID   string
	DeviceType string
	DeviceHash string
	At         time.Time
}

// LicenseRepository is the store used by the activation and verification
// engines. BindDevice and TouchLastActive are conditional writes: they report
// false, without error, when the row no longer matches the expected state.
type LicenseRepository interface {
	FindByKey(ctx context.Context, serialKey string) (*models.License, error)
	BindDevice(ctx context.Context, licenseID uuid.UUID, binding DeviceBinding, event *models.ActivationLog) (bool, error)
	TouchLastActive(ctx context.Context, licenseID uuid.UUID, deviceID string, at time.Time, event *models.ActivationLog) (bool, error)
	RecordEvent(ctx context.Context, event *models.ActivationLog) error
}

type GormLicenseRepository struct {
	db *gorm.DB
}

func NewLicenseRepository(db *gorm.DB) *GormLicenseRepository {
	return &GormLicenseRepository{db: db}
}

func (r *GormLicenseRepository) FindByKey(ctx context.Context, serialKey string) (*models.License, error) {
	var license models.License
	err := r.db.WithContext(ctx).
		Preload("Product").
		Where("serial_key = ?", serialKey).
		First(&license).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLicenseNotFound
		}
		return nil, err
	}
	return &license, nil
}

// BindDevice moves an available license to used. Only one caller can win for
// a given license; the audit event is committed with the transition.
func (r *GormLicenseRepository) BindDevice(ctx context.Context, licenseID uuid.UUID, binding DeviceBinding, event *models.ActivationLog) (bool, error) {
	bound := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.License{}).
			Where("id = ? AND status = ?", licenseID, models.LicenseStatusAvailable).
			Updates(map[string]interface{}{
				"status":         models.LicenseStatusUsed,
				"device_id":      binding.DeviceID,
				"device_type":    binding.DeviceType,
				"device_hash":    binding.DeviceHash,
				"activated_at":   binding.At,
				"last_active_at": binding.At,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		bound = true
		return tx.Create(event).Error
	})
	if err != nil {
		return false, err
	}

	return bound, nil
}

// TouchLastActive extends last_active_at while the license is still bound to
// deviceID.
func (r *GormLicenseRepository) TouchLastActive(ctx context.Context, licenseID uuid.UUID, deviceID string, at time.Time, event *models.ActivationLog) (bool, error) {
	touched := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.License{}).
			Where("id = ? AND status = ? AND device_id = ?", licenseID, models.LicenseStatusUsed, deviceID).
			Update("last_active_at", at)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		touched = true
		return tx.Create(event).Error
	})
	if err != nil {
		return false, err
	}

	return touched, nil
}

func (r *GormLicenseRepository) RecordEvent(ctx context.Context, event *models.ActivationLog) error {
	return r.db.WithContext(ctx).Create(event).Error
}
