package services

import (
	"context"
	"encoding/base64"
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
	"github.com/skyquote/skyquote/pkg/metrics"
	appvalidator "github.com/skyquote/skyquote/pkg/validator"
	"go.uber.org/zap"
)

const backlinkTokenBytes = 32

// ApplicationOption customises ApplicationService behaviour.
type ApplicationOption func(*ApplicationService)

// WithApplicationClock injects a custom time source, primarily for testing.
func WithApplicationClock(clock func() time.Time) ApplicationOption {
	return func(s *ApplicationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithPublicBaseURL sets the public base URL used to build the backlink
// confirmation link in approval emails.
func WithPublicBaseURL(base string) ApplicationOption {
	return func(s *ApplicationService) {
		if base != "" {
			s.publicBaseURL = strings.TrimRight(base, "/")
		}
	}
}

// WithAdminAlertEmail sets the address notified when an operator completes
// backlink confirmation.
func WithAdminAlertEmail(email string) ApplicationOption {
	return func(s *ApplicationService) {
		if email != "" {
			s.adminAlertEmail = normaliseEmail(email)
		}
	}
}

// ApplicationService owns the pilot application review workflow and the
// post-approval backlink tier upgrade.
type ApplicationService struct {
	db         *gorm.DB
	dispatcher *notify.Dispatcher
	events     *EventService
	log        *zap.Logger
	now        func() time.Time

	publicBaseURL   string
	adminAlertEmail string
}

// NewApplicationService constructs an ApplicationService with the provided
// dependencies.
func NewApplicationService(db *gorm.DB, dispatcher *notify.Dispatcher, events *EventService, opts ...ApplicationOption) (*ApplicationService, error) {
	if db == nil {
		return nil, errors.New("application service: db is required")
	}
	if dispatcher == nil {
		return nil, errors.New("application service: dispatcher is required")
	}
	if events == nil {
		return nil, errors.New("application service: event service is required")
	}

	service := &ApplicationService{
		db:              db,
		dispatcher:      dispatcher,
		events:          events,
		log:             logger.WithModule("applications"),
		now:             time.Now,
		publicBaseURL:   "https://skyquote.example",
		adminAlertEmail: "ops@skyquote.example",
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// SubmitApplicationInput carries an applicant's onboarding submission.
type SubmitApplicationInput struct {
	BusinessName string `json:"business_name" validate:"required,min=2,max=128"`
	ContactName  string `json:"contact_name" validate:"required,min=2,max=128"`
	Email        string `json:"email" validate:"required,email"`
	Phone        string `json:"phone" validate:"omitempty,max=32"`

	CAAOperatorID     string     `json:"caa_operator_id" validate:"omitempty,max=32"`
	LicenceType       string     `json:"licence_type" validate:"omitempty,max=64"`
	InsuranceProvider string     `json:"insurance_provider" validate:"omitempty,max=128"`
	InsuranceExpiry   *time.Time `json:"insurance_expiry"`

	WebsiteURL string   `json:"website_url" validate:"omitempty,url,max=256"`
	Services   []string `json:"services" validate:"required,min=1,dive,max=64"`
	Regions    []string `json:"regions" validate:"omitempty,dive,max=64"`
	Summary    string   `json:"summary" validate:"omitempty,max=4000"`
}

// Submit records a new pilot application and acknowledges it by email. A
// fresh application from an email address with an open (non-terminal)
// application is rejected as a conflict.
func (s *ApplicationService) Submit(ctx context.Context, input SubmitApplicationInput) (*models.PilotApplication, error) {
	ctx = ensureContext(ctx)

	if err := appvalidator.ValidateStruct(input); err != nil {
		return nil, apperrors.NewValidation(err.Error())
	}

	application := models.PilotApplication{
		BusinessName:      strings.TrimSpace(input.BusinessName),
		ContactName:       strings.TrimSpace(input.ContactName),
		Email:             normaliseEmail(input.Email),
		Phone:             strings.TrimSpace(input.Phone),
		CAAOperatorID:     strings.TrimSpace(input.CAAOperatorID),
		LicenceType:       strings.TrimSpace(input.LicenceType),
		InsuranceProvider: strings.TrimSpace(input.InsuranceProvider),
		InsuranceExpiry:   input.InsuranceExpiry,
		WebsiteURL:        strings.TrimSpace(input.WebsiteURL),
		Services:          normaliseIDs(input.Services),
		Regions:           normaliseIDs(input.Regions),
		Summary:           strings.TrimSpace(input.Summary),
		Status:            models.ApplicationStatusSubmitted,
	}

	var pending *notify.Pending
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var open int64
		if err := tx.Model(&models.PilotApplication{}).
			Where("email = ? AND status IN ?", application.Email,
				[]models.ApplicationStatus{models.ApplicationStatusSubmitted, models.ApplicationStatusNeedsInfo}).
			Count(&open).Error; err != nil {
			return fmt.Errorf("application service: check open applications: %w", err)
		}
		if open > 0 {
			return apperrors.NewConflict("an application for this email is already under review")
		}

		if err := tx.Create(&application).Error; err != nil {
			return fmt.Errorf("application service: create application: %w", err)
		}

		if err := s.events.Append(ctx, tx, EventEntry{
			ApplicationID: &application.ID,
			Type:          models.EventTypeCreated,
			Detail:        fmt.Sprintf("pilot application submitted by %s", application.BusinessName),
		}); err != nil {
			return err
		}

		p, err := s.dispatcher.Enqueue(ctx, tx, notify.Notification{
			Template:  notify.TemplatePilotReceived,
			Recipient: application.Email,
			Data: notify.PilotReceivedData{
				ContactName:  application.ContactName,
				BusinessName: application.BusinessName,
			},
			ApplicationID: &application.ID,
		})
		if err != nil {
			return err
		}
		pending = p
		return nil
	})
	if err != nil {
		return nil, apperrors.FromError(err)
	}

	s.dispatcher.Dispatch(pending)

	return &application, nil
}

// ApproveResult carries the outcome of an approval, including the raw
// backlink token. The token is never persisted; it exists only here and in
// the approval email.
type ApproveResult struct {
	Application models.PilotApplication `json:"application"`
	Operator    models.Operator         `json:"operator"`
}

// Approve transitions an application to APPROVED, creates the operator
// profile at the verified tier and emails the applicant a single-use backlink
// confirmation link.
func (s *ApplicationService) Approve(ctx context.Context, id, actor, notes string) (*ApproveResult, error) {
	ctx = ensureContext(ctx)

	rawToken, err := crypto.GenerateToken(backlinkTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("application service: generate backlink token: %w", err)
	}

	result := &ApproveResult{}
	var pending *notify.Pending

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		application, err := s.lockForReview(tx, id)
		if err != nil {
			return err
		}

		now := s.now()
		operator := models.Operator{
			BusinessName:  application.BusinessName,
			ContactName:   application.ContactName,
			Email:         application.Email,
			Phone:         application.Phone,
			WebsiteURL:    application.WebsiteURL,
			Services:      application.Services,
			Regions:       application.Regions,
			Tier:          models.TierVerifiedOperator,
			Active:        true,
			ApplicationID: &application.ID,
		}
		if err := tx.Create(&operator).Error; err != nil {
			if isUniqueConstraintError(err) {
				return apperrors.NewConflict("an operator with this email already exists")
			}
			return fmt.Errorf("application service: create operator: %w", err)
		}

		updates := map[string]any{
			"status":              models.ApplicationStatusApproved,
			"review_notes":        strings.TrimSpace(notes),
			"reviewed_at":         now,
			"reviewed_by":         strings.TrimSpace(actor),
			"backlink_token_hash": crypto.HashToken(rawToken),
			"operator_id":         operator.ID,
		}
		if err := tx.Model(&models.PilotApplication{}).
			Where("id = ?", application.ID).
			Updates(updates).Error; err != nil {
			return fmt.Errorf("application service: approve application: %w", err)
		}

		if err := s.events.Append(ctx, tx, EventEntry{
			ApplicationID: &application.ID,
			Type:          models.EventTypeStatusChanged,
			Actor:         actor,
			Detail:        fmt.Sprintf("application approved; operator %s created", operator.BusinessName),
		}); err != nil {
			return err
		}

		p, err := s.dispatcher.Enqueue(ctx, tx, notify.Notification{
			Template:  notify.TemplatePilotApproved,
			Recipient: application.Email,
			Data: notify.PilotApprovedData{
				ContactName:  application.ContactName,
				BusinessName: application.BusinessName,
				BacklinkURL:  s.backlinkURL(application.ID, rawToken),
			},
			ApplicationID: &application.ID,
		})
		if err != nil {
			return err
		}
		pending = p

		if err := tx.First(&result.Application, "id = ?", application.ID).Error; err != nil {
			return fmt.Errorf("application service: reload application: %w", err)
		}
		result.Operator = operator
		return nil
	})
	if err != nil {
		return nil, apperrors.FromError(err)
	}

	s.dispatcher.Dispatch(pending)
	metrics.ApplicationsReviewed.WithLabelValues("approved").Inc()

	return result, nil
}

// Reject transitions an application to REJECTED and notifies the applicant
// with the optional reason.
func (s *ApplicationService) Reject(ctx context.Context, id, actor, reason string) (*models.PilotApplication, error) {
	ctx = ensureContext(ctx)

	var application models.PilotApplication
	var pending *notify.Pending

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.lockForReview(tx, id)
		if err != nil {
			return err
		}

		now := s.now()
		if err := tx.Model(&models.PilotApplication{}).
			Where("id = ?", current.ID).
			Updates(map[string]any{
				"status":       models.ApplicationStatusRejected,
				"review_notes": strings.TrimSpace(reason),
				"reviewed_at":  now,
				"reviewed_by":  strings.TrimSpace(actor),
			}).Error; err != nil {
			return fmt.Errorf("application service: reject application: %w", err)
		}

		if err := s.events.Append(ctx, tx, EventEntry{
			ApplicationID: &current.ID,
			Type:          models.EventTypeStatusChanged,
			Actor:         actor,
			Detail:        "application rejected",
		}); err != nil {
			return err
		}

		p, err := s.dispatcher.Enqueue(ctx, tx, notify.Notification{
			Template:  notify.TemplatePilotRejected,
			Recipient: current.Email,
			Data: notify.PilotRejectedData{
				ContactName: current.ContactName,
				Reason:      strings.TrimSpace(reason),
			},
			ApplicationID: &current.ID,
		})
		if err != nil {
			return err
		}
		pending = p

		return tx.First(&application, "id = ?", current.ID).Error
	})
	if err != nil {
		return nil, apperrors.FromError(err)
	}

	s.dispatcher.Dispatch(pending)
	metrics.ApplicationsReviewed.WithLabelValues("rejected").Inc()

	return &application, nil
}

// RequestInfo transitions an application to NEEDS_INFO and forwards the
// reviewer's message to the applicant.
func (s *ApplicationService) RequestInfo(ctx context.Context, id, actor, message string) (*models.PilotApplication, error) {
	ctx = ensureContext(ctx)

	message = strings.TrimSpace(message)
	if message == "" {
		return nil, apperrors.NewValidation("a message for the applicant is required")
	}

	var application models.PilotApplication
	var pending *notify.Pending

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.lockForReview(tx, id)
		if err != nil {
			return err
		}

		now := s.now()
		if err := tx.Model(&models.PilotApplication{}).
			Where("id = ?", current.ID).
			Updates(map[string]any{
				"status":       models.ApplicationStatusNeedsInfo,
				"review_notes": message,
				"reviewed_at":  now,
				"reviewed_by":  strings.TrimSpace(actor),
			}).Error; err != nil {
			return fmt.Errorf("application service: request info: %w", err)
		}

		if err := s.events.Append(ctx, tx, EventEntry{
			ApplicationID: &current.ID,
			Type:          models.EventTypeStatusChanged,
			Actor:         actor,
			Detail:        "additional information requested",
		}); err != nil {
			return err
		}

		p, err := s.dispatcher.Enqueue(ctx, tx, notify.Notification{
			Template:  notify.TemplatePilotInfoRequested,
			Recipient: current.Email,
			Data: notify.PilotInfoRequestedData{
				ContactName: current.ContactName,
				Message:     message,
			},
			ApplicationID: &current.ID,
		})
		if err != nil {
			return err
		}
		pending = p

		return tx.First(&application, "id = ?", current.ID).Error
	})
	if err != nil {
		return nil, apperrors.FromError(err)
	}

	s.dispatcher.Dispatch(pending)
	metrics.ApplicationsReviewed.WithLabelValues("info_requested").Inc()

	return &application, nil
}

// ConfirmIntegration redeems the single-use backlink token issued at
// approval and upgrades the operator to the integrated tier.
//
// The presented token is compared in constant time against the stored
// digest. A consumed token fails with an auth error; it never silently
// succeeds a second time.
func (s *ApplicationService) ConfirmIntegration(ctx context.Context, applicationID, token string) (*models.Operator, error) {
	ctx = ensureContext(ctx)

	applicationID = strings.TrimSpace(applicationID)
	token = strings.TrimSpace(token)
	if applicationID == "" || token == "" {
		return nil, apperrors.NewUnauthorized("invalid confirmation link")
	}

	var operator models.Operator
	var pending *notify.Pending

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var application models.PilotApplication
		if err := tx.First(&application, "id = ?", applicationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NewNotFound("application")
			}
			return fmt.Errorf("application service: load application: %w", err)
		}

		if application.Status != models.ApplicationStatusApproved ||
			application.BacklinkTokenHash == "" ||
			application.OperatorID == nil {
			return apperrors.NewUnauthorized("invalid confirmation link")
		}
		if !crypto.TokenMatches(application.BacklinkTokenHash, token) {
			return apperrors.NewUnauthorized("invalid confirmation link")
		}
		if application.BacklinkConfirmedAt != nil {
			return apperrors.NewUnauthorized("this confirmation link has already been used")
		}

		now := s.now()

		// The IS NULL predicate makes the confirmation single-use even under
		// concurrent redemption of the same link.
		res := tx.Model(&models.PilotApplication{}).
			Where("id = ? AND backlink_confirmed_at IS NULL", application.ID).
			Update("backlink_confirmed_at", now)
		if res.Error != nil {
			return fmt.Errorf("application service: confirm backlink: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperrors.NewUnauthorized("this confirmation link has already been used")
		}

		if err := tx.Model(&models.Operator{}).
			Where("id = ? AND integrated_confirmed_at IS NULL", *application.OperatorID).
			Updates(map[string]any{
				"tier":                    models.TierIntegratedOperator,
				"integrated_confirmed_at": now,
			}).Error; err != nil {
			return fmt.Errorf("application service: upgrade operator: %w", err)
		}

		if err := tx.First(&operator, "id = ?", *application.OperatorID).Error; err != nil {
			return fmt.Errorf("application service: load operator: %w", err)
		}

		if err := s.events.Append(ctx, tx, EventEntry{
			ApplicationID: &application.ID,
			Type:          models.EventTypeStatusChanged,
			Detail:        fmt.Sprintf("backlink confirmed; %s upgraded to integrated operator", operator.BusinessName),
		}); err != nil {
			return err
		}

		p, err := s.dispatcher.Enqueue(ctx, tx, notify.Notification{
			Template:  notify.TemplateAdminBacklinkConfirm,
			Recipient: s.adminAlertEmail,
			Data: notify.AdminBacklinkConfirmData{
				BusinessName: operator.BusinessName,
				ConfirmedAt:  now,
			},
			ApplicationID: &application.ID,
		})
		if err != nil {
			return err
		}
		pending = p
		return nil
	})
	if err != nil {
		return nil, apperrors.FromError(err)
	}

	s.dispatcher.Dispatch(pending)

	return &operator, nil
}

// Get returns one application with its events and email history preloaded.
func (s *ApplicationService) Get(ctx context.Context, id string) (*models.PilotApplication, error) {
	ctx = ensureContext(ctx)

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperrors.NewValidation("application id is required")
	}

	var application models.PilotApplication
	err := s.db.WithContext(ctx).
		Preload("Events", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		}).
		Preload("EmailLogs", func(db *gorm.DB) *gorm.DB {
			return db.Order("queued_at ASC, id ASC")
		}).
		First(&application, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFound("application")
		}
		return nil, fmt.Errorf("application service: load application: %w", err)
	}

	return &application, nil
}

// ListApplicationsInput filters and paginates the admin application list.
// Cursor is opaque to callers; pass the NextCursor from the previous page.
type ListApplicationsInput struct {
	Status   models.ApplicationStatus
	Cursor   string
	PageSize int
}

// ApplicationPage is one page of applications in a cursor walk, newest first.
type ApplicationPage struct {
	Applications []models.PilotApplication `json:"applications"`
	NextCursor   string                    `json:"next_cursor,omitempty"`
	HasMore      bool                      `json:"has_more"`
}

// List walks applications newest first using keyset pagination, so pages stay
// stable while new applications arrive.
func (s *ApplicationService) List(ctx context.Context, input ListApplicationsInput) (*ApplicationPage, error) {
	ctx = ensureContext(ctx)

	perPage := input.PageSize
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}

	query := s.db.WithContext(ctx).Model(&models.PilotApplication{})
	if input.Status != "" {
		query = query.Where("status = ?", input.Status)
	}

	if input.Cursor != "" {
		createdAt, id, err := decodeCursor(input.Cursor)
		if err != nil {
			return nil, apperrors.NewValidation("invalid cursor")
		}
		query = query.Where("created_at < ? OR (created_at = ? AND id < ?)", createdAt, createdAt, id)
	}

	var applications []models.PilotApplication
	if err := query.
		Order("created_at DESC, id DESC").
		Limit(perPage + 1).
		Find(&applications).Error; err != nil {
		return nil, fmt.Errorf("application service: list applications: %w", err)
	}

	page := &ApplicationPage{Applications: applications}
	if len(applications) > perPage {
		page.Applications = applications[:perPage]
		page.HasMore = true
		last := page.Applications[perPage-1]
		page.NextCursor = encodeCursor(last.CreatedAt, last.ID)
	}

	return page, nil
}

// lockForReview loads an application and enforces the terminal-state guard
// shared by every review transition.
func (s *ApplicationService) lockForReview(tx *gorm.DB, id string) (*models.PilotApplication, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperrors.NewValidation("application id is required")
	}

	var application models.PilotApplication
	if err := tx.First(&application, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFound("application")
		}
		return nil, fmt.Errorf("application service: load application: %w", err)
	}

	if application.Status.Terminal() {
		return nil, apperrors.NewConflict(fmt.Sprintf("application is already %s", strings.ToLower(string(application.Status))))
	}

	return &application, nil
}

func (s *ApplicationService) backlinkURL(applicationID, token string) string {
	return fmt.Sprintf("%s/pilots/confirm/%s?token=%s", s.publicBaseURL, applicationID, token)
}

func encodeCursor(createdAt time.Time, id string) string {
	raw := fmt.Sprintf("%s|%s", createdAt.UTC().Format(time.RFC3339Nano), id)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", err
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", errors.New("malformed cursor")
	}
	createdAt, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", err
	}
	return createdAt, parts[1], nil
}
