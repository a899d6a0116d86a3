package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/skyquote/skyquote/internal/models"
	"github.com/skyquote/skyquote/internal/notify"
	apperrors "github.com/skyquote/skyquote/pkg/errors"
	"github.com/skyquote/skyquote/pkg/logger"
	"github.com/skyquote/skyquote/pkg/metrics"
	"go.uber.org/zap"
)

// InviteOption customises InviteService behaviour.
type InviteOption func(*InviteService)

// WithInviteClock injects a custom time source, primarily for testing.
func WithInviteClock(clock func() time.Time) InviteOption {
	return func(s *InviteService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithQuoteBaseURL sets the public base URL embedded in invitation emails.
func WithQuoteBaseURL(base string) InviteOption {
	return func(s *InviteService) {
		if base != "" {
			s.quoteBaseURL = strings.TrimRight(base, "/")
		}
	}
}

// InviteService orchestrates inviting operators to quote on an enquiry and
// tracks invite delivery state.
type InviteService struct {
	db           *gorm.DB
	dispatcher   *notify.Dispatcher
	events       *EventService
	log          *zap.Logger
	now          func() time.Time
	quoteBaseURL string
}

// NewInviteService constructs an InviteService with the provided dependencies.
func NewInviteService(db *gorm.DB, dispatcher *notify.Dispatcher, events *EventService, opts ...InviteOption) (*InviteService, error) {
	if db == nil {
		return nil, errors.New("invite service: db is required")
	}
	if dispatcher == nil {
		return nil, errors.New("invite service: dispatcher is required")
	}
	if events == nil {
		return nil, errors.New("invite service: event service is required")
	}

	service := &InviteService{
		db:           db,
		dispatcher:   dispatcher,
		events:       events,
		log:          logger.WithModule("invites"),
		now:          time.Now,
		quoteBaseURL: "https://skyquote.example",
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// DispatchInput controls one invite dispatch run for an enquiry.
//
// With IncludeOperatorIDs set, only those operators are considered (still
// subject to the active check). Otherwise eligibility is derived from the
// enquiry's service and region, minus ExcludeOperatorIDs.
type DispatchInput struct {
	EnquiryID          string
	Actor              string
	IncludeOperatorIDs []string
	ExcludeOperatorIDs []string
}

// DispatchResult reports the outcome of one dispatch run.
type DispatchResult struct {
	Created []models.Invite `json:"created"`
	Skipped int             `json:"skipped"`
}

// Dispatch invites eligible operators to quote on an open enquiry.
//
// Operators already invited for the enquiry are skipped, so repeated calls
// only ever reach newly eligible operators. Invite rows and their email log
// rows commit atomically with the invites-sent event; transport delivery runs
// detached after commit. A run that finds no candidates is a successful no-op.
func (s *InviteService) Dispatch(ctx context.Context, input DispatchInput) (*DispatchResult, error) {
	ctx = ensureContext(ctx)

	enquiryID := strings.TrimSpace(input.EnquiryID)
	if enquiryID == "" {
		return nil, apperrors.NewValidation("enquiry id is required")
	}

	result := &DispatchResult{}
	var pendings []*notify.Pending

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Lock the enquiry row for the duration of the transaction so a
		// concurrent close serialises behind the dispatch; invites can
		// never commit against a closed enquiry.
		var enquiry models.Enquiry
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&enquiry, "id = ?", enquiryID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NewNotFound("enquiry")
			}
			return fmt.Errorf("invite service: load enquiry: %w", err)
		}
		if enquiry.Status != models.EnquiryStatusOpen {
			return apperrors.NewConflict("enquiry is closed")
		}

		candidates, err := s.eligibleOperators(tx, &enquiry, input)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			return nil
		}

		invited, err := s.alreadyInvited(tx, enquiryID)
		if err != nil {
			return err
		}

		for i := range candidates {
			operator := &candidates[i]
			if _, seen := invited[operator.ID]; seen {
				result.Skipped++
				continue
			}

			invite := models.Invite{
				EnquiryID:     enquiryID,
				OperatorID:    operator.ID,
				OperatorName:  operator.BusinessName,
				OperatorEmail: operator.Email,
				Status:        models.InviteStatusQueued,
			}
			if err := tx.Create(&invite).Error; err != nil {
				// Another dispatch run won the race for this operator; the
				// unique index is the source of truth, not our pre-check.
				if isUniqueConstraintError(err) {
					result.Skipped++
					continue
				}
				return fmt.Errorf("invite service: create invite: %w", err)
			}

			pending, err := s.dispatcher.Enqueue(ctx, tx, notify.Notification{
				Template:  notify.TemplatePilotInvite,
				Recipient: operator.Email,
				Data: notify.PilotInviteData{
					OperatorName: operator.ContactName,
					Service:      enquiry.Service,
					Postcode:     enquiry.Postcode,
					PreferredOn:  formatPreferredDate(enquiry.PreferredDate, enquiry.DateFlexibility),
					Details:      enquiry.Details,
					QuoteLink:    fmt.Sprintf("%s/quote/%s", s.quoteBaseURL, invite.ID),
				},
				EnquiryID: &enquiryID,
				InviteID:  &invite.ID,
			})
			if err != nil {
				// A render or log-row failure marks this invite FAILED but
				// must not abort the rest of the batch.
				s.log.Warn("invite email could not be queued",
					zap.String("enquiry_id", enquiryID),
					zap.String("operator_id", operator.ID),
					zap.Error(err),
				)
				invite.Status = models.InviteStatusFailed
				if err := tx.Model(&models.Invite{}).
					Where("id = ?", invite.ID).
					Update("status", models.InviteStatusFailed).Error; err != nil {
					return fmt.Errorf("invite service: mark invite failed: %w", err)
				}
				metrics.InvitesDispatched.WithLabelValues("failed").Inc()
				result.Created = append(result.Created, invite)
				continue
			}

			sentAt := s.now()
			invite.Status = models.InviteStatusSent
			invite.SentAt = &sentAt
			if err := tx.Model(&models.Invite{}).
				Where("id = ?", invite.ID).
				Updates(map[string]any{"status": models.InviteStatusSent, "sent_at": sentAt}).Error; err != nil {
				return fmt.Errorf("invite service: mark invite sent: %w", err)
			}

			metrics.InvitesDispatched.WithLabelValues("sent").Inc()
			pendings = append(pendings, pending)
			result.Created = append(result.Created, invite)
		}

		if len(result.Created) == 0 {
			return nil
		}

		return s.events.Append(ctx, tx, EventEntry{
			EnquiryID: &enquiryID,
			Type:      models.EventTypeInvitesSent,
			Actor:     input.Actor,
			Detail:    fmt.Sprintf("%d operator(s) invited", len(result.Created)),
		})
	})
	if err != nil {
		return nil, apperrors.FromError(err)
	}

	for _, pending := range pendings {
		s.dispatcher.Dispatch(pending)
	}

	return result, nil
}

// eligibleOperators resolves the candidate set for one dispatch run.
func (s *InviteService) eligibleOperators(tx *gorm.DB, enquiry *models.Enquiry, input DispatchInput) ([]models.Operator, error) {
	if ids := normaliseIDs(input.IncludeOperatorIDs); len(ids) > 0 {
		var operators []models.Operator
		if err := tx.Where("id IN ? AND active = ?", ids, true).Find(&operators).Error; err != nil {
			return nil, fmt.Errorf("invite service: load operators: %w", err)
		}
		return operators, nil
	}

	var operators []models.Operator
	if err := tx.Where("active = ?", true).Order("business_name ASC").Find(&operators).Error; err != nil {
		return nil, fmt.Errorf("invite service: load operators: %w", err)
	}

	excludes := normaliseIDs(input.ExcludeOperatorIDs)
	matched := operators[:0]
	for i := range operators {
		op := operators[i]
		if containsString(excludes, op.ID) {
			continue
		}
		if !op.OffersService(enquiry.Service) || !op.CoversRegion(enquiry.Region) {
			continue
		}
		matched = append(matched, op)
	}
	return matched, nil
}

func (s *InviteService) alreadyInvited(tx *gorm.DB, enquiryID string) (map[string]struct{}, error) {
	var operatorIDs []string
	if err := tx.Model(&models.Invite{}).
		Where("enquiry_id = ?", enquiryID).
		Pluck("operator_id", &operatorIDs).Error; err != nil {
		return nil, fmt.Errorf("invite service: load existing invites: %w", err)
	}

	invited := make(map[string]struct{}, len(operatorIDs))
	for _, id := range operatorIDs {
		invited[id] = struct{}{}
	}
	return invited, nil
}

// MarkOpened records that an operator opened their invitation email. The
// first open wins; later opens are ignored rather than rejected, since the
// tracking pixel fires on every view.
func (s *InviteService) MarkOpened(ctx context.Context, inviteID string) error {
	ctx = ensureContext(ctx)

	inviteID = strings.TrimSpace(inviteID)
	if inviteID == "" {
		return apperrors.NewValidation("invite id is required")
	}

	// Only a delivered invite can transition to OPENED; FAILED is terminal
	// and a stray tracking hit must not resurrect it.
	now := s.now()
	res := s.db.WithContext(ctx).Model(&models.Invite{}).
		Where("id = ? AND status = ? AND opened_at IS NULL", inviteID, models.InviteStatusSent).
		Updates(map[string]any{"status": models.InviteStatusOpened, "opened_at": now})
	if res.Error != nil {
		return fmt.Errorf("invite service: mark opened: %w", res.Error)
	}

	if res.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.Invite{}).
			Where("id = ?", inviteID).Count(&count).Error; err != nil {
			return fmt.Errorf("invite service: check invite: %w", err)
		}
		if count == 0 {
			return apperrors.NewNotFound("invite")
		}
	}

	return nil
}

// ListForEnquiry returns the invites for one enquiry, newest first.
func (s *InviteService) ListForEnquiry(ctx context.Context, enquiryID string) ([]models.Invite, error) {
	ctx = ensureContext(ctx)

	var invites []models.Invite
	if err := s.db.WithContext(ctx).
		Where("enquiry_id = ?", strings.TrimSpace(enquiryID)).
		Order("created_at DESC").
		Find(&invites).Error; err != nil {
		return nil, fmt.Errorf("invite service: list invites: %w", err)
	}
	return invites, nil
}

// formatPreferredDate renders the client's scheduling preference for the
// invitation email.
func formatPreferredDate(preferred *time.Time, flexibility models.DateFlexibility) string {
	if preferred == nil {
		if flexibility == models.DateFlexibilityASAP {
			return "as soon as possible"
		}
		return ""
	}

	formatted := preferred.Format("2 Jan 2006")
	switch flexibility {
	case models.DateFlexibilityWithinWeek:
		return formatted + " (within a week)"
	case models.DateFlexibilityWithinMonth:
		return formatted + " (within a month)"
	default:
		return formatted
	}
}
