package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/mondtic/corporate-access/internal/models"
)

// GormUserDirectory resolves accounts from the shared host database.
type GormUserDirectory struct {
	db *gorm.DB
}

// NewGormUserDirectory constructs the default directory implementation.
func NewGormUserDirectory(db *gorm.DB) (*GormUserDirectory, error) {
	if db == nil {
		return nil, errors.New("platform: db is required")
	}
	return &GormUserDirectory{db: db}, nil
}

// ByEmail looks up an account case-insensitively. Ambiguity resolves to the
// first match by id, mirroring the host platform's own lookup.
func (d *GormUserDirectory) ByEmail(ctx context.Context, email string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, ErrUserNotFound
	}

	var user models.User
	err := d.db.WithContext(ctx).
		Where("LOWER(email) = ?", email).
		Order("id").
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("platform: lookup user by email: %w", err)
	}
	return &user, nil
}

// ByUsername looks up an account by exact username.
func (d *GormUserDirectory) ByUsername(ctx context.Context, username string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrUserNotFound
	}

	var user models.User
	err := d.db.WithContext(ctx).
		Where("username = ?", username).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("platform: lookup user by username: %w", err)
	}
	return &user, nil
}

// ByID loads an account by primary key.
func (d *GormUserDirectory) ByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := d.db.WithContext(ctx).First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("platform: lookup user by id: %w", err)
	}
	return &user, nil
}
