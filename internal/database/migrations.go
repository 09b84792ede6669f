package database

import (
	"gorm.io/gorm"

	"github.com/packcycle/packcycle/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Timeline{},
		&models.PackageRecord{},
		&models.CacheEntry{},
	)
}

// SeedData ensures baseline rows exist. Only the fallback admin recipient is
// seeded; timelines are created through the API.
func SeedData(db *gorm.DB) error {
	admin := models.User{
		BaseModel:   models.BaseModel{ID: "admin"},
		Username:    "admin",
		DisplayName: "Administrator",
		Priority:    models.PriorityNormal,
		IsActive:    true,
	}
	return db.Where(models.User{Username: admin.Username}).
		Attrs(admin).
		FirstOrCreate(&models.User{}).Error
}
