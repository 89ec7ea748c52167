// internal/services/license_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/serialkey-backend/internal/database"
	"github.com/javajoker/serialkey-backend/internal/models"
	"github.com/javajoker/serialkey-backend/internal/utils"
)

const (
	maxKeyAttempts    = 5
	recentActivityCap = 20
)

// LicenseService holds the administrative license operations. Binding and
// verification belong to ActivationService.
type LicenseService struct {
	db     *gorm.DB
	alerts *AlertDispatcher
	newKey func() (string, error)
}

type IssueLicensesRequest struct {
	ProductID     uuid.UUID `json:"product_id" validate:"required"`
	Count         int       `json:"count" validate:"required,min=1,max=1000"`
	CustomerName  string    `json:"customer_name,omitempty" validate:"max=255"`
	CustomerEmail string    `json:"customer_email,omitempty" validate:"omitempty,email"`
	OrderID       string    `json:"order_id,omitempty" validate:"max=255"`
}

type LicenseActionRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type LicenseSearchParams struct {
	utils.PaginationParams
	Status    *models.LicenseStatus `json:"status,omitempty"`
	ProductID *uuid.UUID            `json:"product_id,omitempty"`
}

type LicenseStatistics struct {
	Total     int64 `json:"total"`
	Available int64 `json:"available"`
	Used      int64 `json:"used"`
	Revoked   int64 `json:"revoked"`
}

func NewLicenseService(db *gorm.DB, alerts *AlertDispatcher) *LicenseService {
	return &LicenseService{
		db:     db,
		alerts: alerts,
		newKey: utils.GenerateSerialKey,
	}
}

// IssueLicenses creates Count available licenses for a product in one
// transaction.
func (s *LicenseService) IssueLicenses(ctx context.Context, req *IssueLicensesRequest) ([]models.License, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	var product models.Product
	if err := s.db.WithContext(ctx).First(&product, "id = ?", req.ProductID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}

	licenses := make([]models.License, 0, req.Count)
	err := database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		for i := 0; i < req.Count; i++ {
			license, err := s.issueOne(tx, &product, req)
			if err != nil {
				return err
			}
			licenses = append(licenses, *license)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to issue licenses: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"product_id": product.ID,
		"count":      len(licenses),
		"order_id":   req.OrderID,
	}).Info("Licenses issued")

	return licenses, nil
}

// issueOne retries with a fresh key when the generated one already exists.
func (s *LicenseService) issueOne(tx *gorm.DB, product *models.Product, req *IssueLicensesRequest) (*models.License, error) {
	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		key, err := s.newKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate serial key: %w", err)
		}

		license := &models.License{
			SerialKey:     key,
			SerialHash:    utils.HashString(key),
			ProductID:     product.ID,
			Status:        models.LicenseStatusAvailable,
			CustomerName:  req.CustomerName,
			CustomerEmail: req.CustomerEmail,
			OrderID:       req.OrderID,
		}

		// savepoint so a collision does not abort the outer transaction
		err = tx.Transaction(func(sp *gorm.DB) error {
			return sp.Create(license).Error
		})
		if err == nil {
			return license, nil
		}
		if !database.IsUniqueViolation(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("no unique serial key after %d attempts", maxKeyAttempts)
}

func (s *LicenseService) GetLicense(ctx context.Context, id uuid.UUID) (*models.License, error) {
	var license models.License
	err := s.db.WithContext(ctx).
		Preload("Product").
		Preload("ActivationLogs", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at DESC").Limit(recentActivityCap)
		}).
		First(&license, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLicenseNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &license, nil
}

func (s *LicenseService) SearchLicenses(ctx context.Context, params *LicenseSearchParams) (*utils.PaginationResult, error) {
	params.PaginationParams = utils.NormalizePagination(params.PaginationParams)

	query := s.db.WithContext(ctx).Model(&models.License{})

	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.ProductID != nil {
		query = query.Where("product_id = ?", *params.ProductID)
	}
	if search := strings.TrimSpace(params.Search); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(serial_key) LIKE ? OR LOWER(customer_email) LIKE ? OR order_id = ?", like, like, search)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count licenses: %w", err)
	}

	query = utils.ApplySort(query, params.PaginationParams, []string{"created_at", "activated_at", "last_active_at", "status"})
	query = utils.ApplyPagination(query, params.PaginationParams)

	var licenses []models.License
	if err := query.Preload("Product").Find(&licenses).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch licenses: %w", err)
	}

	result := utils.CreatePaginationResult(licenses, total, params.PaginationParams)
	return &result, nil
}

func (s *LicenseService) GetStatistics(ctx context.Context) (*LicenseStatistics, error) {
	return countByStatus(s.db.WithContext(ctx))
}

// countByStatus groups the licenses matched by scope by status.
func countByStatus(scope *gorm.DB) (*LicenseStatistics, error) {
	var rows []struct {
		Status models.LicenseStatus
		Count  int64
	}
	err := scope.Model(&models.License{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to compute license statistics: %w", err)
	}

	stats := &LicenseStatistics{}
	for _, row := range rows {
		stats.Total += row.Count
		switch row.Status {
		case models.LicenseStatusAvailable:
			stats.Available = row.Count
		case models.LicenseStatusUsed:
			stats.Used = row.Count
		case models.LicenseStatusRevoked:
			stats.Revoked = row.Count
		}
	}
	return stats, nil
}

// RevokeLicense moves any license that is not yet revoked to revoked and
// releases its device binding.
func (s *LicenseService) RevokeLicense(ctx context.Context, id uuid.UUID, req *LicenseActionRequest, actorIP string) (*models.License, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	license, err := s.GetLicense(ctx, id)
	if err != nil {
		return nil, err
	}
	if license.Status == models.LicenseStatusRevoked {
		return nil, ErrAlreadyRevoked
	}

	err = database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		result := tx.Model(&models.License{}).
			Where("id = ? AND status <> ?", id, models.LicenseStatusRevoked).
			Updates(map[string]interface{}{
				"status":      models.LicenseStatusRevoked,
				"device_id":   nil,
				"device_type": nil,
				"device_hash": nil,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrAlreadyRevoked
		}

		return tx.Create(&models.ActivationLog{
			LicenseID:  id,
			Action:     models.ActivationActionRevoke,
			DeviceID:   deref(license.DeviceID),
			DeviceType: deref(license.DeviceType),
			IPAddress:  actorIP,
			Success:    true,
			Reason:     req.Reason,
		}).Error
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyRevoked) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to revoke license: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"license_id": id,
		"reason":     req.Reason,
	}).Info("License revoked")

	s.alerts.Dispatch(AlertRevocation, fmt.Sprintf("Serial key %s (%s) revoked: %s",
		maskSerialKey(license.SerialKey), license.Product.Name, reasonOrDefault(req.Reason)))

	return s.GetLicense(ctx, id)
}

// TransferLicense releases a used license so that a new device can activate
// it. Revoked licenses are never reset.
func (s *LicenseService) TransferLicense(ctx context.Context, id uuid.UUID, req *LicenseActionRequest, actorIP string) (*models.License, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	license, err := s.GetLicense(ctx, id)
	if err != nil {
		return nil, err
	}
	if license.Status != models.LicenseStatusUsed {
		return nil, ErrNotTransferable
	}

	err = database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		result := tx.Model(&models.License{}).
			Where("id = ? AND status = ?", id, models.LicenseStatusUsed).
			Updates(map[string]interface{}{
				"status":         models.LicenseStatusAvailable,
				"device_id":      nil,
				"device_type":    nil,
				"device_hash":    nil,
				"activated_at":   nil,
				"last_active_at": nil,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotTransferable
		}

		return tx.Create(&models.ActivationLog{
			LicenseID:  id,
			Action:     models.ActivationActionTransfer,
			DeviceID:   deref(license.DeviceID),
			DeviceType: deref(license.DeviceType),
			IPAddress:  actorIP,
			Success:    true,
			Reason:     req.Reason,
		}).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotTransferable) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to transfer license: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"license_id":      id,
		"previous_device": deref(license.DeviceID),
	}).Info("License released for transfer")

	s.alerts.Dispatch(AlertTransfer, fmt.Sprintf("Serial key %s (%s) released from device %s: %s",
		maskSerialKey(license.SerialKey), license.Product.Name, deref(license.DeviceID), reasonOrDefault(req.Reason)))

	return s.GetLicense(ctx, id)
}

func reasonOrDefault(reason string) string {
	if reason == "" {
		return "no reason given"
	}
	return reason
}
