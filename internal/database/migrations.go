package database

import (
	"gorm.io/gorm"

	"github.com/mondtic/corporate-access/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.CorporatePartner{},
		&models.Catalog{},
		&models.CatalogEmailRegex{},
		&models.CatalogCourse{},
		&models.CatalogLearner{},
		&models.Invitation{},
		&models.CatalogCourseEnrollment{},
		&models.CacheEntry{},
	)
}
