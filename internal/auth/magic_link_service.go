package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/skyquote/skyquote/internal/models"
	"github.com/skyquote/skyquote/internal/notify"
	"github.com/skyquote/skyquote/pkg/crypto"
	apperrors "github.com/skyquote/skyquote/pkg/errors"
	"github.com/skyquote/skyquote/pkg/logger"
	"go.uber.org/zap"
)

const (
	magicLinkTokenBytes = 32

	// DefaultMagicLinkTTL bounds how long a sign-in link stays redeemable.
	DefaultMagicLinkTTL = 15 * time.Minute
)

// MagicLinkOption customises MagicLinkService behaviour.
type MagicLinkOption func(*MagicLinkService)

// WithMagicLinkClock injects a custom time source, primarily for testing.
func WithMagicLinkClock(clock func() time.Time) MagicLinkOption {
	return func(s *MagicLinkService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithMagicLinkTTL overrides the link validity window.
func WithMagicLinkTTL(ttl time.Duration) MagicLinkOption {
	return func(s *MagicLinkService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithAdminBaseURL sets the base URL embedded in sign-in emails.
func WithAdminBaseURL(base string) MagicLinkOption {
	return func(s *MagicLinkService) {
		if base != "" {
			s.adminBaseURL = strings.TrimRight(base, "/")
		}
	}
}

// MagicLinkService implements passwordless admin sign-in: a single-use,
// time-boxed token is emailed to a known admin and redeemed for a session.
type MagicLinkService struct {
	db         *gorm.DB
	dispatcher *notify.Dispatcher
	jwt        *JWTService
	log        *zap.Logger
	now        func() time.Time

	ttl          time.Duration
	adminBaseURL string
}

// NewMagicLinkService constructs a MagicLinkService with the provided dependencies.
func NewMagicLinkService(db *gorm.DB, dispatcher *notify.Dispatcher, jwt *JWTService, opts ...MagicLinkOption) (*MagicLinkService, error) {
	if db == nil {
		return nil, errors.New("magic link: db is required")
	}
	if dispatcher == nil {
		return nil, errors.New("magic link: dispatcher is required")
	}
	if jwt == nil {
		return nil, errors.New("magic link: jwt service is required")
	}

	service := &MagicLinkService{
		db:           db,
		dispatcher:   dispatcher,
		jwt:          jwt,
		log:          logger.WithModule("auth"),
		now:          time.Now,
		ttl:          DefaultMagicLinkTTL,
		adminBaseURL: "https://skyquote.example/admin",
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// Request issues a sign-in link for the admin with the given email.
//
// Unknown or deactivated addresses are not an error: the call succeeds
// without sending anything, so the endpoint does not leak which addresses
// have admin accounts.
func (s *MagicLinkService) Request(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return apperrors.NewValidation("email is required")
	}

	var admin models.AdminUser
	if err := s.db.WithContext(ctx).First(&admin, "email = ? AND is_active = ?", email, true).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.Info("magic link requested for unknown email")
			return nil
		}
		return fmt.Errorf("magic link: load admin: %w", err)
	}

	rawToken, err := crypto.GenerateToken(magicLinkTokenBytes)
	if err != nil {
		return fmt.Errorf("magic link: generate token: %w", err)
	}

	now := s.now()
	var pending *notify.Pending

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		token := models.MagicLinkToken{
			AdminUserID: admin.ID,
			TokenHash:   crypto.HashToken(rawToken),
			ExpiresAt:   now.Add(s.ttl),
		}
		if err := tx.Create(&token).Error; err != nil {
			return fmt.Errorf("magic link: store token: %w", err)
		}

		p, err := s.dispatcher.Enqueue(ctx, tx, notify.Notification{
			Template:  notify.TemplateMagicLink,
			Recipient: admin.Email,
			Data: notify.MagicLinkData{
				Name:      admin.Name,
				Link:      fmt.Sprintf("%s/login?token=%s", s.adminBaseURL, rawToken),
				ExpiresIn: s.ttl,
			},
		})
		if err != nil {
			return err
		}
		pending = p
		return nil
	})
	if err != nil {
		return apperrors.FromError(err)
	}

	s.dispatcher.Dispatch(pending)
	return nil
}

// Session is an issued admin session.
type Session struct {
	Token string           `json:"token"`
	Admin models.AdminUser `json:"admin"`
}

// Redeem exchanges a magic link token for a session JWT. Tokens are single
// use; expired, consumed or unknown tokens fail with an auth error.
func (s *MagicLinkService) Redeem(ctx context.Context, rawToken string) (*Session, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, apperrors.NewUnauthorized("invalid sign-in link")
	}

	hash := crypto.HashToken(rawToken)
	now := s.now()

	var admin models.AdminUser
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var token models.MagicLinkToken
		if err := tx.First(&token, "token_hash = ?", hash).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NewUnauthorized("invalid sign-in link")
			}
			return fmt.Errorf("magic link: load token: %w", err)
		}

		if !crypto.TokenMatches(token.TokenHash, rawToken) {
			return apperrors.NewUnauthorized("invalid sign-in link")
		}
		if token.ConsumedAt != nil || now.After(token.ExpiresAt) {
			return apperrors.NewUnauthorized("this sign-in link has expired")
		}

		// Single use under concurrent redemption: only one transaction can
		// flip consumed_at from NULL.
		res := tx.Model(&models.MagicLinkToken{}).
			Where("id = ? AND consumed_at IS NULL", token.ID).
			Update("consumed_at", now)
		if res.Error != nil {
			return fmt.Errorf("magic link: consume token: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperrors.NewUnauthorized("this sign-in link has expired")
		}

		if err := tx.First(&admin, "id = ? AND is_active = ?", token.AdminUserID, true).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NewUnauthorized("invalid sign-in link")
			}
			return fmt.Errorf("magic link: load admin: %w", err)
		}

		return tx.Model(&models.AdminUser{}).
			Where("id = ?", admin.ID).
			Update("last_login_at", now).Error
	})
	if err != nil {
		return nil, apperrors.FromError(err)
	}

	signed, err := s.jwt.GenerateSessionToken(admin.ID, admin.Email)
	if err != nil {
		return nil, fmt.Errorf("magic link: issue session: %w", err)
	}

	return &Session{Token: signed, Admin: admin}, nil
}
