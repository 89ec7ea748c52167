// internal/services/errors.go
package services

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrLicenseNotFound = errors.New("invalid serial key")
	ErrLicenseRevoked  = errors.New("license has been revoked")
	ErrDeviceConflict  = errors.New("already activated on another device")
	ErrDeviceMismatch  = errors.New("device mismatch")
	ErrNotActivated    = errors.New("license not yet activated")
	ErrStore           = errors.New("license store failure")

	// Administrative operations
	ErrAlreadyRevoked     = errors.New("license already revoked")
	ErrNotTransferable    = errors.New("only licenses in use can be transferred")
	ErrProductNotFound    = errors.New("product not found")
	ErrOutOfStock         = errors.New("no available licenses for product")
	ErrProductExists      = errors.New("product slug already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidSignature   = errors.New("invalid webhook signature")
)

// storeError marks err as a store failure while keeping the cause.
func storeError(err error) error {
	return fmt.Errorf("%w: %w", ErrStore, err)
}
