// Package testutil holds helpers shared by package tests.
package testutil

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/javajoker/serialkey-backend/internal/models"
)

// NewTestDB opens a private in-memory SQLite database with the service
// schema migrated. The connection is closed when the test finishes.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.Product{},
		&models.License{},
		&models.ActivationLog{},
		&models.User{},
		&models.AuditLog{},
	); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB from gorm: %v", err)
	}

	// a single connection serialises writers the way row locks would
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}

// SeedProduct inserts a product and returns it.
func SeedProduct(t *testing.T, db *gorm.DB, name string) *models.Product {
	t.Helper()

	product := &models.Product{Name: name, Slug: slugify(name), IsActive: true}
	if err := db.Create(product).Error; err != nil {
		t.Fatalf("failed to seed product: %v", err)
	}
	return product
}

// SeedLicense inserts an available license for product.
func SeedLicense(t *testing.T, db *gorm.DB, product *models.Product, serialKey string) *models.License {
	t.Helper()

	license := &models.License{
		SerialKey:  serialKey,
		SerialHash: "hash-" + serialKey,
		ProductID:  product.ID,
		Status:     models.LicenseStatusAvailable,
	}
	if err := db.Create(license).Error; err != nil {
		t.Fatalf("failed to seed license: %v", err)
	}
	return license
}

// ReloadLicense reads the license row back from the database.
func ReloadLicense(t *testing.T, db *gorm.DB, id uuid.UUID) *models.License {
	t.Helper()

	var license models.License
	if err := db.First(&license, "id = ?", id).Error; err != nil {
		t.Fatalf("failed to reload license: %v", err)
	}
	return &license
}

// CountActivationLogs counts audit entries for a license.
func CountActivationLogs(t *testing.T, db *gorm.DB, licenseID uuid.UUID) int64 {
	t.Helper()

	var count int64
	if err := db.Model(&models.ActivationLog{}).Where("license_id = ?", licenseID).Count(&count).Error; err != nil {
		t.Fatalf("failed to count activation logs: %v", err)
	}
	return count
}

func slugify(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, r)
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		default:
			if len(out) > 0 && out[len(out)-1] != '-' {
				out = append(out, '-')
			}
		}
	}
	return string(out)
}
