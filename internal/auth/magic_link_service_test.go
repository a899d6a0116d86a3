package auth

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/skyquote/skyquote/internal/database/testutil"
	"github.com/skyquote/skyquote/internal/models"
	"github.com/skyquote/skyquote/internal/notify"
	apperrors "github.com/skyquote/skyquote/pkg/errors"
	"github.com/skyquote/skyquote/pkg/mail"
)

type captureMailer struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (m *captureMailer) Send(ctx context.Context, msg mail.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return "<test@skyquote.test>", nil
}

func (m *captureMailer) last(t *testing.T) mail.Message {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent)
	return m.sent[len(m.sent)-1]
}

type magicLinkEnv struct {
	db     *gorm.DB
	mailer *captureMailer
	svc    *MagicLinkService
	clock  *time.Time
}

func newMagicLinkEnv(t *testing.T) *magicLinkEnv {
	t.Helper()

	db := testutil.MustOpenTestDB(t)
	mailer := &captureMailer{}

	dispatcher, err := notify.NewDispatcher(db, mailer, notify.WithSynchronousDelivery())
	require.NoError(t, err)

	now := time.Date(2026, 8, 15, 9, 0, 0, 0, time.UTC)
	clock := &now

	jwtSvc, err := NewJWTService(JWTConfig{
		Secret: "test-secret",
		Issuer: "skyquote",
		Clock:  func() time.Time { return *clock },
	})
	require.NoError(t, err)

	svc, err := NewMagicLinkService(db, dispatcher, jwtSvc,
		WithMagicLinkClock(func() time.Time { return *clock }),
	)
	require.NoError(t, err)

	return &magicLinkEnv{db: db, mailer: mailer, svc: svc, clock: clock}
}

func (e *magicLinkEnv) createAdmin(t *testing.T, email string) models.AdminUser {
	t.Helper()
	admin := models.AdminUser{Email: email, Name: "Admin", IsActive: true}
	require.NoError(t, e.db.Create(&admin).Error)
	return admin
}

// tokenFromEmail extracts the raw token from the sign-in link in the email body.
func tokenFromEmail(t *testing.T, body string) string {
	t.Helper()
	start := strings.Index(body, "?token=")
	require.GreaterOrEqual(t, start, 0)
	raw := body[start+len("?token="):]
	if end := strings.IndexAny(raw, `"<&`); end >= 0 {
		raw = raw[:end]
	}
	token, err := url.QueryUnescape(raw)
	require.NoError(t, err)
	return token
}

func TestMagicLinkRequestAndRedeem(t *testing.T) {
	env := newMagicLinkEnv(t)
	admin := env.createAdmin(t, "admin@skyquote.test")

	require.NoError(t, env.svc.Request(context.Background(), "Admin@SkyQuote.test"))

	var log models.EmailLog
	require.NoError(t, env.db.First(&log, "template = ?", "magic_link").Error)
	require.Equal(t, "admin@skyquote.test", log.Recipient)
	require.Equal(t, models.EmailStatusSent, log.Status)

	token := tokenFromEmail(t, env.mailer.last(t).HTML)

	session, err := env.svc.Redeem(context.Background(), token)
	require.NoError(t, err)
	require.NotEmpty(t, session.Token)
	require.Equal(t, admin.ID, session.Admin.ID)

	var refreshed models.AdminUser
	require.NoError(t, env.db.First(&refreshed, "id = ?", admin.ID).Error)
	require.NotNil(t, refreshed.LastLoginAt)
}

func TestMagicLinkTokenIsSingleUse(t *testing.T) {
	env := newMagicLinkEnv(t)
	env.createAdmin(t, "admin@skyquote.test")

	require.NoError(t, env.svc.Request(context.Background(), "admin@skyquote.test"))
	token := tokenFromEmail(t, env.mailer.last(t).HTML)

	_, err := env.svc.Redeem(context.Background(), token)
	require.NoError(t, err)

	_, err = env.svc.Redeem(context.Background(), token)
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestMagicLinkTokenExpires(t *testing.T) {
	env := newMagicLinkEnv(t)
	env.createAdmin(t, "admin@skyquote.test")

	require.NoError(t, env.svc.Request(context.Background(), "admin@skyquote.test"))
	token := tokenFromEmail(t, env.mailer.last(t).HTML)

	*env.clock = env.clock.Add(DefaultMagicLinkTTL + time.Minute)

	_, err := env.svc.Redeem(context.Background(), token)
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestMagicLinkUnknownEmailDoesNotLeak(t *testing.T) {
	env := newMagicLinkEnv(t)

	require.NoError(t, env.svc.Request(context.Background(), "nobody@skyquote.test"))

	var count int64
	require.NoError(t, env.db.Model(&models.EmailLog{}).Count(&count).Error)
	require.EqualValues(t, 0, count)
}

func TestMagicLinkRedeemGarbageToken(t *testing.T) {
	env := newMagicLinkEnv(t)

	_, err := env.svc.Redeem(context.Background(), "not-a-real-token")
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)
}
