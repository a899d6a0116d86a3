package database

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/skyquote/skyquote/internal/models"
	"github.com/skyquote/skyquote/pkg/crypto"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.AdminUser{},
		&models.MagicLinkToken{},
		&models.Operator{},
		&models.PilotApplication{},
		&models.Enquiry{},
		&models.Invite{},
		&models.EmailLog{},
		&models.Event{},
	)
}

// EnsureBootstrapAdmin creates the initial admin account when no admin exists.
// The password is optional; magic-link login works without one.
func EnsureBootstrapAdmin(db *gorm.DB, email, name, password string) error {
	if db == nil {
		return errors.New("nil database handle")
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil
	}

	var count int64
	if err := db.Model(&models.AdminUser{}).Count(&count).Error; err != nil {
		return fmt.Errorf("count admins: %w", err)
	}
	if count > 0 {
		return nil
	}

	admin := models.AdminUser{
		Email:    email,
		Name:     strings.TrimSpace(name),
		IsActive: true,
	}
	if admin.Name == "" {
		admin.Name = "Administrator"
	}

	if password != "" {
		hash, err := crypto.HashPassword(password)
		if err != nil {
			return fmt.Errorf("hash bootstrap password: %w", err)
		}
		admin.PasswordHash = hash
	}

	if err := db.Create(&admin).Error; err != nil {
		return fmt.Errorf("create bootstrap admin: %w", err)
	}

	return nil
}
