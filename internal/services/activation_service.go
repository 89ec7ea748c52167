// internal/services/activation_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/serialkey-backend/internal/metrics"
	"github.com/javajoker/serialkey-backend/internal/models"
	"github.com/javajoker/serialkey-backend/internal/repository"
	"github.com/javajoker/serialkey-backend/internal/utils"
)

// Audit error strings written to activation_logs.
const (
	auditRevoked        = "License revoked"
	auditDeviceConflict = "Already activated on another device"
	auditDeviceMismatch = "Device mismatch"
)

// errStateChanged signals that a conditional write found the license in a
// different state than the one it was read in.
var errStateChanged = errors.New("license state changed concurrently")

type ActivationService struct {
	repo    repository.LicenseRepository
	alerts  *AlertDispatcher
	metrics *metrics.Metrics
	now     func() time.Time
}

// Limits match the licenses and activation_logs column widths.
type ActivateRequest struct {
	SerialKey  string `json:"serial_key" validate:"required,max=64"`
	DeviceID   string `json:"device_id" validate:"required,max=255"`
	DeviceType string `json:"device_type" validate:"required,max=50"`
	OSVersion  string `json:"os_version,omitempty" validate:"max=100"`
	IPAddress  string `json:"-" validate:"max=45"`
}

type ActivateResult struct {
	LicenseID        uuid.UUID
	ProductName      string
	ActivatedAt      time.Time
	AlreadyActivated bool
}

type VerifyRequest struct {
	SerialKey string `json:"serial_key" validate:"required,max=64"`
	DeviceID  string `json:"device_id" validate:"required,max=255"`
	IPAddress string `json:"-" validate:"max=45"`
}

type VerifyResult struct {
	LicenseID    uuid.UUID
	ProductName  string
	LastActiveAt time.Time
}

func NewActivationService(repo repository.LicenseRepository, alerts *AlertDispatcher, m *metrics.Metrics) *ActivationService {
	return &ActivationService{
		repo:    repo,
		alerts:  alerts,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Activate binds a license to the requesting device, or confirms an existing
// binding to the same device.
func (s *ActivationService) Activate(ctx context.Context, req ActivateRequest) (*ActivateResult, error) {
	result, err := s.activate(ctx, req)
	s.metrics.RecordActivation(outcome(err, "activated"))
	return result, err
}

func (s *ActivationService) activate(ctx context.Context, req ActivateRequest) (*ActivateResult, error) {
	req.SerialKey = strings.TrimSpace(req.SerialKey)
	req.DeviceID = strings.TrimSpace(req.DeviceID)
	req.DeviceType = strings.TrimSpace(req.DeviceType)
	req.OSVersion = strings.TrimSpace(req.OSVersion)

	if err := utils.ValidateStruct(&req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	license, err := s.lookup(ctx, req.SerialKey, req.IPAddress, "activate")
	if err != nil {
		return nil, err
	}

	result, err := s.activateLicense(ctx, license, req)
	if errors.Is(err, errStateChanged) {
		// lost a conditional write; judge the fresh row once
		if license, err = s.lookup(ctx, req.SerialKey, req.IPAddress, "activate"); err != nil {
			return nil, err
		}
		result, err = s.activateLicense(ctx, license, req)
		if errors.Is(err, errStateChanged) {
			return nil, storeError(err)
		}
	}
	return result, err
}

func (s *ActivationService) activateLicense(ctx context.Context, license *models.License, req ActivateRequest) (*ActivateResult, error) {
	event := &models.ActivationLog{
		LicenseID:  license.ID,
		Action:     models.ActivationActionActivate,
		DeviceID:   req.DeviceID,
		DeviceType: req.DeviceType,
		OSVersion:  req.OSVersion,
		IPAddress:  req.IPAddress,
	}

	switch license.Status {
	case models.LicenseStatusRevoked:
		event.ErrorMessage = auditRevoked
		s.recordRejection(ctx, event)
		return nil, ErrLicenseRevoked

	case models.LicenseStatusUsed:
		if !license.BoundTo(req.DeviceID) {
			event.ErrorMessage = auditDeviceConflict
			s.recordRejection(ctx, event)
			s.alerts.Dispatch(AlertDeviceConflict, fmt.Sprintf(
				"Serial key %s (%s) was presented by device %s (%s) from %s but is bound to device %s",
				maskSerialKey(license.SerialKey), license.Product.Name, req.DeviceID, req.DeviceType,
				req.IPAddress, deref(license.DeviceID)))
			return nil, ErrDeviceConflict
		}

		now := s.now()
		event.Success = true
		event.CreatedAt = now
		touched, err := s.repo.TouchLastActive(ctx, license.ID, req.DeviceID, now, event)
		if err != nil {
			return nil, s.storeFailure("activate", license, err)
		}
		if !touched {
			return nil, errStateChanged
		}

		result := &ActivateResult{
			LicenseID:        license.ID,
			ProductName:      license.Product.Name,
			AlreadyActivated: true,
		}
		if license.ActivatedAt != nil {
			result.ActivatedAt = *license.ActivatedAt
		}
		return result, nil

	case models.LicenseStatusAvailable:
		now := s.now()
		event.Success = true
		event.CreatedAt = now
		bound, err := s.repo.BindDevice(ctx, license.ID, repository.DeviceBinding{
			DeviceID:   req.DeviceID,
			DeviceType: req.DeviceType,
			DeviceHash: utils.DeviceFingerprint(license.SerialKey, req.DeviceID),
			At:         now,
		}, event)
		if err != nil {
			return nil, s.storeFailure("activate", license, err)
		}
		if !bound {
			return nil, errStateChanged
		}

		logrus.WithFields(logrus.Fields{
			"license_id":  license.ID,
			"device_type": req.DeviceType,
			"ip":          req.IPAddress,
		}).Info("License activated")

		s.alerts.Dispatch(AlertActivation, fmt.Sprintf(
			"Serial key %s (%s) activated on %s device %s from %s",
			maskSerialKey(license.SerialKey), license.Product.Name, req.DeviceType, req.DeviceID, req.IPAddress))

		return &ActivateResult{
			LicenseID:   license.ID,
			ProductName: license.Product.Name,
			ActivatedAt: now,
		}, nil
	}

	return nil, storeError(fmt.Errorf("license %s has unknown status %q", license.ID, license.Status))
}

// Verify confirms that the requesting device is the one bound to the license.
func (s *ActivationService) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	result, err := s.verify(ctx, req)
	s.metrics.RecordVerification(outcome(err, "valid"))
	return result, err
}

func (s *ActivationService) verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	req.SerialKey = strings.TrimSpace(req.SerialKey)
	req.DeviceID = strings.TrimSpace(req.DeviceID)

	if err := utils.ValidateStruct(&req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	license, err := s.lookup(ctx, req.SerialKey, req.IPAddress, "verify")
	if err != nil {
		return nil, err
	}

	result, err := s.verifyLicense(ctx, license, req)
	if errors.Is(err, errStateChanged) {
		if license, err = s.lookup(ctx, req.SerialKey, req.IPAddress, "verify"); err != nil {
			return nil, err
		}
		result, err = s.verifyLicense(ctx, license, req)
		if errors.Is(err, errStateChanged) {
			return nil, storeError(err)
		}
	}
	return result, err
}

func (s *ActivationService) verifyLicense(ctx context.Context, license *models.License, req VerifyRequest) (*VerifyResult, error) {
	event := &models.ActivationLog{
		LicenseID: license.ID,
		Action:    models.ActivationActionVerify,
		DeviceID:  req.DeviceID,
		IPAddress: req.IPAddress,
	}

	switch license.Status {
	case models.LicenseStatusRevoked:
		event.ErrorMessage = auditRevoked
		s.recordRejection(ctx, event)
		return nil, ErrLicenseRevoked

	case models.LicenseStatusAvailable:
		// a probe before activation, not audited
		return nil, ErrNotActivated

	case models.LicenseStatusUsed:
		if !license.BoundTo(req.DeviceID) {
			event.ErrorMessage = auditDeviceMismatch
			s.recordRejection(ctx, event)
			s.alerts.Dispatch(AlertDeviceMismatch, fmt.Sprintf(
				"Serial key %s (%s) was verified by device %s from %s but is bound to device %s",
				maskSerialKey(license.SerialKey), license.Product.Name, req.DeviceID,
				req.IPAddress, deref(license.DeviceID)))
			return nil, ErrDeviceMismatch
		}

		now := s.now()
		event.DeviceType = deref(license.DeviceType)
		event.Success = true
		event.CreatedAt = now
		touched, err := s.repo.TouchLastActive(ctx, license.ID, req.DeviceID, now, event)
		if err != nil {
			return nil, s.storeFailure("verify", license, err)
		}
		if !touched {
			return nil, errStateChanged
		}

		return &VerifyResult{
			LicenseID:    license.ID,
			ProductName:  license.Product.Name,
			LastActiveAt: now,
		}, nil
	}

	return nil, storeError(fmt.Errorf("license %s has unknown status %q", license.ID, license.Status))
}

func (s *ActivationService) lookup(ctx context.Context, serialKey, ip, operation string) (*models.License, error) {
	license, err := s.repo.FindByKey(ctx, serialKey)
	if err != nil {
		if errors.Is(err, repository.ErrLicenseNotFound) {
			logrus.WithFields(logrus.Fields{
				"operation":  operation,
				"serial_key": maskSerialKey(serialKey),
				"ip":         ip,
			}).Warn("Unknown serial key presented")
			return nil, ErrLicenseNotFound
		}
		logrus.WithError(err).WithField("operation", operation).Error("License lookup failed")
		return nil, storeError(err)
	}
	return license, nil
}

// recordRejection appends a failed attempt. The rejection stands even when the
// audit insert fails.
func (s *ActivationService) recordRejection(ctx context.Context, event *models.ActivationLog) {
	event.Success = false
	event.CreatedAt = s.now()
	if err := s.repo.RecordEvent(ctx, event); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"license_id": event.LicenseID,
			"action":     event.Action,
		}).Error("Failed to write activation log")
	}
}

func (s *ActivationService) storeFailure(operation string, license *models.License, err error) error {
	logrus.WithError(err).WithFields(logrus.Fields{
		"operation":  operation,
		"license_id": license.ID,
	}).Error("License store write failed")
	return storeError(err)
}

func outcome(err error, success string) string {
	switch {
	case err == nil:
		return success
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrLicenseNotFound):
		return "not_found"
	case errors.Is(err, ErrLicenseRevoked):
		return "revoked"
	case errors.Is(err, ErrDeviceConflict):
		return "device_conflict"
	case errors.Is(err, ErrDeviceMismatch):
		return "device_mismatch"
	case errors.Is(err, ErrNotActivated):
		return "not_activated"
	default:
		return "error"
	}
}

// maskSerialKey keeps the first group of a key for logs and alerts.
func maskSerialKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return key[:4] + strings.Repeat("*", len(key)-4)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
