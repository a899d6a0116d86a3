package models

import "time"

// InviteStatus is the delivery lifecycle of one operator invitation.
type InviteStatus string

// Stable storage values; do not rename.
const (
	InviteStatusQueued InviteStatus = "QUEUED"
	InviteStatusSent   InviteStatus = "SENT"
	InviteStatusOpened InviteStatus = "OPENED"
	InviteStatusFailed InviteStatus = "FAILED"
)

// Invite is one operator's invitation to quote on one enquiry.
//
// The operator name and email are snapshotted at send time so the invite
// history stays accurate even if the operator profile changes later.
// The (enquiry_id, operator_id) pair is unique at the database level; the
// orchestrator's pre-check alone cannot exclude concurrent dispatch races.
type Invite struct {
	BaseModel

	EnquiryID  string `gorm:"type:uuid;not null;index;uniqueIndex:idx_invites_enquiry_operator" json:"enquiry_id"`
	OperatorID string `gorm:"type:uuid;not null;uniqueIndex:idx_invites_enquiry_operator" json:"operator_id"`

	OperatorName  string `gorm:"not null" json:"operator_name"`
	OperatorEmail string `gorm:"not null" json:"operator_email"`

	Status   InviteStatus `gorm:"not null;default:QUEUED" json:"status"`
	SentAt   *time.Time   `json:"sent_at,omitempty"`
	OpenedAt *time.Time   `json:"opened_at,omitempty"`

	Enquiry *Enquiry `gorm:"foreignKey:EnquiryID" json:"-"`
}
