// internal/models/license.go
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// License is a serial key that can be bound to exactly one device.
// DeviceID is set if and only if Status is LicenseStatusUsed.
type License struct {
	BaseModel
	SerialKey     string        `json:"serial_key" gorm:"uniqueIndex;size:64;not null"`
	SerialHash    string        `json:"serial_hash" gorm:"size:64;not null"`
	ProductID     uuid.UUID     `json:"product_id" gorm:"type:uuid;not null;index"`
	Status        LicenseStatus `json:"status" gorm:"type:varchar(20);default:'available';not null;index"`
	DeviceID      *string       `json:"device_id" gorm:"size:255"`
	DeviceType    *string       `json:"device_type" gorm:"size:50"`
	DeviceHash    *string       `json:"device_hash" gorm:"size:64"`
	ActivatedAt   *time.Time    `json:"activated_at"`
	LastActiveAt  *time.Time    `json:"last_active_at"`
	CustomerName  string        `json:"customer_name" gorm:"size:255"`
	CustomerEmail string        `json:"customer_email" gorm:"size:255;index"`
	OrderID       string        `json:"order_id" gorm:"size:255;index"`

	// Relationships
	Product        Product         `json:"product,omitempty" gorm:"foreignKey:ProductID"`
	ActivationLogs []ActivationLog `json:"activation_logs,omitempty" gorm:"foreignKey:LicenseID"`
}

// BoundTo reports whether the license is in use by the given device.
func (l *License) BoundTo(deviceID string) bool {
	return l.Status == LicenseStatusUsed && l.DeviceID != nil && *l.DeviceID == deviceID
}

// ActivationLog is an append-only record of one activation, verification or
// administrative attempt against a license.
type ActivationLog struct {
	ID           uuid.UUID        `json:"id" gorm:"type:uuid;primaryKey"`
	LicenseID    uuid.UUID        `json:"license_id" gorm:"type:uuid;not null;index"`
	Action       ActivationAction `json:"action" gorm:"type:varchar(20);not null;index"`
	DeviceID     string           `json:"device_id" gorm:"size:255"`
	DeviceType   string           `json:"device_type" gorm:"size:50"`
	OSVersion    string           `json:"os_version,omitempty" gorm:"size:100"`
	IPAddress    string           `json:"ip_address" gorm:"size:45"`
	Success      bool             `json:"success" gorm:"not null;index"`
	ErrorMessage string           `json:"error_message,omitempty" gorm:"type:text"`
	Reason       string           `json:"reason,omitempty" gorm:"type:text"` // admin revoke/transfer note
	CreatedAt    time.Time        `json:"created_at" gorm:"index"`
}

func (a *ActivationLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
