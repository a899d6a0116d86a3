package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EventType enumerates the audit trail entry kinds.
type EventType string

// Stable storage values; do not rename.
const (
	EventTypeCreated       EventType = "created"
	EventTypeInvitesSent   EventType = "invites-sent"
	EventTypeClosed        EventType = "closed"
	EventTypeStatusChanged EventType = "status-changed"
	EventTypeEmailSent     EventType = "email-sent"
	EventTypeEmailFailed   EventType = "email-failed"
)

// Event is one immutable audit record tied to an enquiry or a pilot
// application. Rows are append-only: they are never updated or deleted.
type Event struct {
	ID string `gorm:"primaryKey;type:uuid" json:"id"`

	EnquiryID     *string `gorm:"type:uuid;index" json:"enquiry_id,omitempty"`
	ApplicationID *string `gorm:"type:uuid;index" json:"application_id,omitempty"`

	Type EventType `gorm:"not null;index" json:"type"`

	// Actor is the admin identifier that triggered the action, empty for
	// system-initiated events.
	Actor    string         `gorm:"index" json:"actor"`
	Detail   string         `gorm:"type:text" json:"detail"`
	Metadata datatypes.JSON `json:"metadata,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// BeforeCreate assigns the identifier; Events bypass BaseModel so they carry
// no UpdatedAt column.
func (e *Event) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
