// internal/models/product.go
package models

// Product is the application a license unlocks. Engines only read its name.
type Product struct {
	BaseModel
	Name        string `json:"name" gorm:"size:255;not null"`
	Slug        string `json:"slug" gorm:"uniqueIndex;size:100;not null"`
	Description string `json:"description" gorm:"type:text"`
	IsActive    bool   `json:"is_active" gorm:"default:true"`

	// Relationships
	Licenses []License `json:"licenses,omitempty" gorm:"foreignKey:ProductID"`
}
