package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/skyquote/skyquote/internal/models"
	"github.com/skyquote/skyquote/internal/notify"
	apperrors "github.com/skyquote/skyquote/pkg/errors"
	"github.com/skyquote/skyquote/pkg/metrics"
	appvalidator "github.com/skyquote/skyquote/pkg/validator"
)

// EnquiryOption customises EnquiryService behaviour.
type EnquiryOption func(*EnquiryService)

// WithEnquiryClock injects a custom time source, primarily for testing.
func WithEnquiryClock(clock func() time.Time) EnquiryOption {
	return func(s *EnquiryService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithConsentVersion sets the privacy notice version recorded on new enquiries.
func WithConsentVersion(version string) EnquiryOption {
	return func(s *EnquiryService) {
		if version != "" {
			s.consentVersion = version
		}
	}
}

// EnquiryService owns the enquiry state machine: creation, the close
// transition, and the read models over an enquiry's history.
type EnquiryService struct {
	db             *gorm.DB
	dispatcher     *notify.Dispatcher
	events         *EventService
	now            func() time.Time
	consentVersion string
}

// NewEnquiryService constructs an EnquiryService with the provided dependencies.
func NewEnquiryService(db *gorm.DB, dispatcher *notify.Dispatcher, events *EventService, opts ...EnquiryOption) (*EnquiryService, error) {
	if db == nil {
		return nil, errors.New("enquiry service: db is required")
	}
	if dispatcher == nil {
		return nil, errors.New("enquiry service: dispatcher is required")
	}
	if events == nil {
		return nil, errors.New("enquiry service: event service is required")
	}

	service := &EnquiryService{
		db:             db,
		dispatcher:     dispatcher,
		events:         events,
		now:            time.Now,
		consentVersion: "v1",
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// CreateEnquiryInput carries the client-submitted enquiry fields.
type CreateEnquiryInput struct {
	Name            string                 `json:"name" validate:"required,min=2,max=128"`
	Email           string                 `json:"email" validate:"required,email"`
	Phone           string                 `json:"phone" validate:"omitempty,max=32"`
	Service         string                 `json:"service" validate:"required,max=64"`
	Postcode        string                 `json:"postcode" validate:"required,ukpostcode"`
	Region          string                 `json:"region" validate:"omitempty,max=64"`
	PreferredDate   *time.Time             `json:"preferred_date"`
	DateFlexibility models.DateFlexibility `json:"date_flexibility"`
	Details         string                 `json:"details" validate:"omitempty,max=4000"`
	Consent         bool                   `json:"consent"`
}

// Create validates and persists a new enquiry, appends the created event and
// queues the client acknowledgement email, all within one transaction. The
// acknowledgement transport call runs detached after commit.
func (s *EnquiryService) Create(ctx context.Context, input CreateEnquiryInput) (*models.Enquiry, error) {
	ctx = ensureContext(ctx)

	if err := appvalidator.ValidateStruct(input); err != nil {
		return nil, apperrors.NewValidation(err.Error())
	}
	if !input.Consent {
		return nil, apperrors.NewValidation("consent is required")
	}

	flexibility := input.DateFlexibility
	if flexibility == "" {
		flexibility = models.DateFlexibilityASAP
	}
	if !models.ValidDateFlexibility(flexibility) {
		return nil, apperrors.NewValidation(fmt.Sprintf("unknown date flexibility %q", flexibility))
	}

	enquiry := models.Enquiry{
		Name:            strings.TrimSpace(input.Name),
		Email:           normaliseEmail(input.Email),
		Phone:           strings.TrimSpace(input.Phone),
		Service:         strings.TrimSpace(input.Service),
		Postcode:        strings.ToUpper(strings.TrimSpace(input.Postcode)),
		Region:          strings.TrimSpace(input.Region),
		PreferredDate:   input.PreferredDate,
		DateFlexibility: flexibility,
		Details:         strings.TrimSpace(input.Details),
		ConsentVersion:  s.consentVersion,
		Status:          models.EnquiryStatusOpen,
	}

	var pending *notify.Pending
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&enquiry).Error; err != nil {
			return fmt.Errorf("enquiry service: create enquiry: %w", err)
		}

		if err := s.events.Append(ctx, tx, EventEntry{
			EnquiryID: &enquiry.ID,
			Type:      models.EventTypeCreated,
			Detail:    fmt.Sprintf("enquiry created for %s", enquiry.Service),
		}); err != nil {
			return err
		}

		p, err := s.dispatcher.Enqueue(ctx, tx, notify.Notification{
			Template:  notify.TemplateClientAcknowledgement,
			Recipient: enquiry.Email,
			Data: notify.ClientAcknowledgementData{
				Name:      enquiry.Name,
				Service:   enquiry.Service,
				Reference: EnquiryReference(enquiry.ID),
			},
			EnquiryID: &enquiry.ID,
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
	metrics.EnquiriesCreated.Inc()

	return &enquiry, nil
}

// Close transitions an enquiry to CLOSED. Closing twice is rejected with a
// conflict rather than silently accepted, to surface double-submission bugs.
func (s *EnquiryService) Close(ctx context.Context, id, actor string) (*models.Enquiry, error) {
	ctx = ensureContext(ctx)

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperrors.NewValidation("enquiry id is required")
	}

	var enquiry models.Enquiry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()

		// Guarded update: the status predicate makes check-and-set atomic
		// without vendor-specific row locks.
		res := tx.Model(&models.Enquiry{}).
			Where("id = ? AND status = ?", id, models.EnquiryStatusOpen).
			Updates(map[string]any{
				"status":    models.EnquiryStatusClosed,
				"closed_at": now,
				"closed_by": strings.TrimSpace(actor),
			})
		if res.Error != nil {
			return fmt.Errorf("enquiry service: close enquiry: %w", res.Error)
		}

		if res.RowsAffected == 0 {
			var existing models.Enquiry
			if err := tx.First(&existing, "id = ?", id).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return apperrors.NewNotFound("enquiry")
				}
				return fmt.Errorf("enquiry service: load enquiry: %w", err)
			}
			return apperrors.NewConflict("enquiry is already closed")
		}

		if err := s.events.Append(ctx, tx, EventEntry{
			EnquiryID: &id,
			Type:      models.EventTypeClosed,
			Actor:     actor,
			Detail:    "enquiry closed",
		}); err != nil {
			return err
		}

		return tx.First(&enquiry, "id = ?", id).Error
	})
	if err != nil {
		return nil, apperrors.FromError(err)
	}

	return &enquiry, nil
}

// EnquiryDetail aggregates an enquiry with its invites, audit trail and
// email history for the admin detail view.
type EnquiryDetail struct {
	Enquiry   models.Enquiry    `json:"enquiry"`
	Invited   bool              `json:"invited"`
	Invites   []models.Invite   `json:"invites"`
	Events    []models.Event    `json:"events"`
	EmailLogs []models.EmailLog `json:"email_logs"`
}

// Detail returns the read-only aggregate for one enquiry. Events and email
// logs are ordered oldest first; invites newest first for presentation.
func (s *EnquiryService) Detail(ctx context.Context, id string) (*EnquiryDetail, error) {
	ctx = ensureContext(ctx)

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperrors.NewValidation("enquiry id is required")
	}

	var enquiry models.Enquiry
	if err := s.db.WithContext(ctx).First(&enquiry, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFound("enquiry")
		}
		return nil, fmt.Errorf("enquiry service: load enquiry: %w", err)
	}

	detail := EnquiryDetail{Enquiry: enquiry}

	if err := s.db.WithContext(ctx).
		Where("enquiry_id = ?", id).
		Order("created_at DESC").
		Find(&detail.Invites).Error; err != nil {
		return nil, fmt.Errorf("enquiry service: load invites: %w", err)
	}
	detail.Invited = len(detail.Invites) > 0

	events, err := s.events.ListForEnquiry(ctx, id)
	if err != nil {
		return nil, err
	}
	detail.Events = events

	if err := s.db.WithContext(ctx).
		Where("enquiry_id = ?", id).
		Order("queued_at ASC, id ASC").
		Find(&detail.EmailLogs).Error; err != nil {
		return nil, fmt.Errorf("enquiry service: load email logs: %w", err)
	}

	return &detail, nil
}

// ListEnquiriesInput filters and paginates the admin enquiry list.
type ListEnquiriesInput struct {
	Status   models.EnquiryStatus
	Service  string
	Page     int
	PageSize int
}

// List returns enquiries ordered newest first.
func (s *EnquiryService) List(ctx context.Context, input ListEnquiriesInput) ([]models.Enquiry, int64, error) {
	ctx = ensureContext(ctx)

	page := input.Page
	if page <= 0 {
		page = 1
	}
	perPage := input.PageSize
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}

	query := s.db.WithContext(ctx).Model(&models.Enquiry{})
	if input.Status != "" {
		query = query.Where("status = ?", input.Status)
	}
	if input.Service != "" {
		query = query.Where("service = ?", input.Service)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("enquiry service: count enquiries: %w", err)
	}

	var enquiries []models.Enquiry
	if err := query.
		Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&enquiries).Error; err != nil {
		return nil, 0, fmt.Errorf("enquiry service: list enquiries: %w", err)
	}

	return enquiries, total, nil
}

// EnquiryReference derives the short human-facing reference from an enquiry id.
func EnquiryReference(id string) string {
	trimmed := strings.ReplaceAll(id, "-", "")
	if len(trimmed) > 8 {
		trimmed = trimmed[:8]
	}
	return "ENQ-" + strings.ToUpper(trimmed)
}
