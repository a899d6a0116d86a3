package models

import "time"

// AdminUser is a platform administrator. Admins sign in with a magic link;
// the password hash exists only for the optional bootstrap credential set
// at seed time.
type AdminUser struct {
	BaseModel

	Email        string `gorm:"not null;uniqueIndex" json:"email"`
	Name         string `gorm:"not null" json:"name"`
	PasswordHash string `json:"-"`
	IsActive     bool   `gorm:"not null;default:true" json:"is_active"`

	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// MagicLinkToken is a single-use login token for an admin. Only the digest
// is stored.
type MagicLinkToken struct {
	BaseModel

	AdminUserID string     `gorm:"type:uuid;not null;index" json:"admin_user_id"`
	TokenHash   string     `gorm:"not null;index" json:"-"`
	ExpiresAt   time.Time  `gorm:"index" json:"expires_at"`
	ConsumedAt  *time.Time `json:"consumed_at,omitempty"`

	AdminUser *AdminUser `gorm:"foreignKey:AdminUserID" json:"-"`
}
