package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/skyquote/skyquote/internal/models"
)

// EventEntry captures a single audit event to persist.
type EventEntry struct {
	EnquiryID     *string
	ApplicationID *string
	Type          models.EventType
	Actor         string
	Detail        string
	Metadata      map[string]any
}

// EventService provides the append-only audit trail shared by the enquiry
// and application workflows. Events are never updated or deleted.
type EventService struct {
	db *gorm.DB
}

// NewEventService constructs an EventService using the provided database handle.
func NewEventService(db *gorm.DB) (*EventService, error) {
	if db == nil {
		return nil, errors.New("event service: db is required")
	}
	return &EventService{db: db}, nil
}

// Append persists an event. When tx is non-nil the event is written inside
// that transaction so it commits atomically with the state change it records.
func (s *EventService) Append(ctx context.Context, tx *gorm.DB, entry EventEntry) error {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(string(entry.Type)) == "" {
		return errors.New("event service: type is required")
	}
	if entry.EnquiryID == nil && entry.ApplicationID == nil {
		return errors.New("event service: subject reference is required")
	}

	event := models.Event{
		EnquiryID:     entry.EnquiryID,
		ApplicationID: entry.ApplicationID,
		Type:          entry.Type,
		Actor:         strings.TrimSpace(entry.Actor),
		Detail:        strings.TrimSpace(entry.Detail),
	}

	if entry.Metadata != nil {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("event service: marshal metadata: %w", err)
		}
		event.Metadata = encoded
	}

	handle := tx
	if handle == nil {
		handle = s.db
	}

	return handle.WithContext(ctx).Create(&event).Error
}

// ListForEnquiry returns the enquiry's audit trail ordered by creation time ascending.
func (s *EventService) ListForEnquiry(ctx context.Context, enquiryID string) ([]models.Event, error) {
	return s.list(ctx, "enquiry_id", enquiryID)
}

// ListForApplication returns the application's audit trail ordered by creation time ascending.
func (s *EventService) ListForApplication(ctx context.Context, applicationID string) ([]models.Event, error) {
	return s.list(ctx, "application_id", applicationID)
}

func (s *EventService) list(ctx context.Context, column, id string) ([]models.Event, error) {
	ctx = ensureContext(ctx)

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("event service: subject id is required")
	}

	var events []models.Event
	if err := s.db.WithContext(ctx).
		Where(fmt.Sprintf("%s = ?", column), id).
		Order("created_at ASC, id ASC").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("event service: list events: %w", err)
	}

	return events, nil
}
