// internal/models/common.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base model with common fields
type BaseModel struct {
	ID        uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// BeforeCreate assigns the primary key client side so the schema does not
// depend on a database UUID extension.
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// JSONB type for PostgreSQL
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}

	return json.Unmarshal(bytes, j)
}

// Enums
type LicenseStatus string

const (
	LicenseStatusAvailable LicenseStatus = "available"
	LicenseStatusUsed      LicenseStatus = "used"
	LicenseStatusRevoked   LicenseStatus = "revoked"
)

type ActivationAction string

const (
	ActivationActionActivate ActivationAction = "activate"
	ActivationActionVerify   ActivationAction = "verify"
	ActivationActionTransfer ActivationAction = "transfer"
	ActivationActionRevoke   ActivationAction = "revoke"
)

type UserRole string

const (
	UserRoleAdmin   UserRole = "admin"
	UserRoleSupport UserRole = "support"
)
