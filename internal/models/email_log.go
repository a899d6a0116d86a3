package models

import "time"

// EmailStatus is the delivery state of one notification attempt.
type EmailStatus string

// Stable storage values; DELIVERED and BOUNCED are set by provider webhooks
// rather than by the synchronous dispatch path.
const (
	EmailStatusQueued    EmailStatus = "QUEUED"
	EmailStatusSent      EmailStatus = "SENT"
	EmailStatusFailed    EmailStatus = "FAILED"
	EmailStatusDelivered EmailStatus = "DELIVERED"
	EmailStatusBounced   EmailStatus = "BOUNCED"
)

// EmailLog is the durable record of one attempted notification send.
// The row is written before the transport call so a transport crash can
// never leave an unaccounted-for send.
type EmailLog struct {
	BaseModel

	Template  string      `gorm:"not null;index" json:"template"`
	Recipient string      `gorm:"not null;index" json:"recipient"`
	Subject   string      `gorm:"not null" json:"subject"`
	Status    EmailStatus `gorm:"not null;default:QUEUED;index" json:"status"`

	QueuedAt time.Time  `gorm:"not null" json:"queued_at"`
	SentAt   *time.Time `json:"sent_at,omitempty"`

	ProviderMessageID string `json:"provider_message_id,omitempty"`
	Error             string `json:"error,omitempty"`

	EnquiryID     *string `gorm:"type:uuid;index" json:"enquiry_id,omitempty"`
	InviteID      *string `gorm:"type:uuid;index" json:"invite_id,omitempty"`
	ApplicationID *string `gorm:"type:uuid;index" json:"application_id,omitempty"`
}
