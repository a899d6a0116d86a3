package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/skyquote/skyquote/internal/models"
	"github.com/skyquote/skyquote/internal/services"
	"github.com/skyquote/skyquote/pkg/logger"
)

const (
	defaultSchedule           = "*/10 * * * *"
	defaultEmailStaleAfter    = 30 * time.Minute
	defaultMagicLinkRetention = 7 * 24 * time.Hour
)

// Sweeper reconciles state the request path cannot guarantee: email log rows
// stuck at QUEUED (a crashed transport goroutine or a never-configured
// mailer) are resolved to FAILED, and dead magic link tokens are purged.
type Sweeper struct {
	db     *gorm.DB
	events *services.EventService
	cron   *cron.Cron
	now    func() time.Time
	log    *zap.Logger

	schedule           string
	emailStaleAfter    time.Duration
	magicLinkRetention time.Duration
}

// Option customises the Sweeper.
type Option func(*Sweeper)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Sweeper) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithNow overrides the clock used for staleness comparisons.
func WithNow(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSchedule overrides the cron specification for the sweep.
func WithSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.schedule = spec
		}
	}
}

// WithEmailStaleAfter adjusts how long an email log row may stay QUEUED.
func WithEmailStaleAfter(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.emailStaleAfter = d
		}
	}
}

// WithMagicLinkRetention adjusts how long dead sign-in tokens are kept.
func WithMagicLinkRetention(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.magicLinkRetention = d
		}
	}
}

// NewSweeper constructs a Sweeper with sensible defaults.
func NewSweeper(db *gorm.DB, events *services.EventService, opts ...Option) (*Sweeper, error) {
	if db == nil {
		return nil, errors.New("sweeper: db is required")
	}

	sweeper := &Sweeper{
		db:                 db,
		events:             events,
		now:                time.Now,
		log:                logger.WithModule("maintenance"),
		schedule:           defaultSchedule,
		emailStaleAfter:    defaultEmailStaleAfter,
		magicLinkRetention: defaultMagicLinkRetention,
	}

	for _, opt := range opts {
		opt(sweeper)
	}

	if sweeper.cron == nil {
		sweeper.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return sweeper, nil
}

// Start registers the sweep with the cron scheduler and launches it.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, func() {
		if err := s.RunOnce(context.Background()); err != nil {
			s.log.Warn("maintenance sweep failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (s *Sweeper) Stop() context.Context {
	if s.cron == nil {
		return context.Background()
	}
	return s.cron.Stop()
}

// RunOnce executes all sweep routines sequentially. Also used in tests and
// during graceful shutdown.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if _, err := s.FailStaleEmails(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, err := s.PurgeDeadMagicLinks(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}

	return errs
}

// FailStaleEmails resolves email log rows stuck at QUEUED beyond the
// staleness window to FAILED, appending the matching audit event for rows
// tied to an enquiry or application.
func (s *Sweeper) FailStaleEmails(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.emailStaleAfter)

	var stale []models.EmailLog
	if err := s.db.WithContext(ctx).
		Where("status = ? AND queued_at < ?", models.EmailStatusQueued, cutoff).
		Find(&stale).Error; err != nil {
		return 0, fmt.Errorf("sweeper: load stale emails: %w", err)
	}

	var swept int64
	for i := range stale {
		row := &stale[i]

		// Guard on status so a transport goroutine finishing late does not
		// have its result overwritten.
		res := s.db.WithContext(ctx).Model(&models.EmailLog{}).
			Where("id = ? AND status = ?", row.ID, models.EmailStatusQueued).
			Updates(map[string]any{
				"status": models.EmailStatusFailed,
				"error":  "delivery not attempted within the staleness window",
			})
		if res.Error != nil {
			return swept, fmt.Errorf("sweeper: fail stale email: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			continue
		}
		swept++

		if s.events != nil && (row.EnquiryID != nil || row.ApplicationID != nil) {
			if err := s.events.Append(ctx, nil, services.EventEntry{
				EnquiryID:     row.EnquiryID,
				ApplicationID: row.ApplicationID,
				Type:          models.EventTypeEmailFailed,
				Detail:        fmt.Sprintf("%s email marked failed by maintenance sweep", row.Template),
			}); err != nil {
				s.log.Warn("sweep could not append event", zap.Error(err))
			}
		}
	}

	if swept > 0 {
		s.log.Info("stale queued emails resolved", zap.Int64("count", swept))
	}
	return swept, nil
}

// PurgeDeadMagicLinks deletes consumed or expired sign-in tokens past the
// retention window.
func (s *Sweeper) PurgeDeadMagicLinks(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.magicLinkRetention)

	res := s.db.WithContext(ctx).
		Where("(consumed_at IS NOT NULL AND consumed_at < ?) OR expires_at < ?", cutoff, cutoff).
		Delete(&models.MagicLinkToken{})
	if res.Error != nil {
		return 0, fmt.Errorf("sweeper: purge magic links: %w", res.Error)
	}

	return res.RowsAffected, nil
}
