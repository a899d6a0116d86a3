package models

import (
	"time"

	"gorm.io/datatypes"
)

// ApplicationStatus is the review lifecycle of a pilot application.
type ApplicationStatus string

// Stable storage values; APPROVED and REJECTED are terminal.
const (
	ApplicationStatusSubmitted ApplicationStatus = "SUBMITTED"
	ApplicationStatusApproved  ApplicationStatus = "APPROVED"
	ApplicationStatusRejected  ApplicationStatus = "REJECTED"
	ApplicationStatusNeedsInfo ApplicationStatus = "NEEDS_INFO"
)

// Terminal reports whether the status permits no further review transitions.
func (s ApplicationStatus) Terminal() bool {
	return s == ApplicationStatusApproved || s == ApplicationStatusRejected
}

// PilotApplication is an operator's onboarding submission.
type PilotApplication struct {
	BaseModel

	BusinessName string `gorm:"not null" json:"business_name"`
	ContactName  string `gorm:"not null" json:"contact_name"`
	Email        string `gorm:"not null;index" json:"email"`
	Phone        string `json:"phone"`

	CAAOperatorID     string     `gorm:"column:caa_operator_id" json:"caa_operator_id"`
	LicenceType       string     `json:"licence_type"`
	InsuranceProvider string     `json:"insurance_provider"`
	InsuranceExpiry   *time.Time `json:"insurance_expiry,omitempty"`

	WebsiteURL string                      `json:"website_url"`
	Services   datatypes.JSONSlice[string] `json:"services"`
	Regions    datatypes.JSONSlice[string] `json:"regions"`
	Summary    string                      `gorm:"type:text" json:"summary"`

	Status      ApplicationStatus `gorm:"not null;default:SUBMITTED;index" json:"status"`
	ReviewNotes string            `gorm:"type:text" json:"review_notes"`
	ReviewedAt  *time.Time        `json:"reviewed_at,omitempty"`
	ReviewedBy  string            `json:"reviewed_by,omitempty"`

	// BacklinkTokenHash holds the digest of the single-use confirmation
	// token issued on approval. The raw token only ever appears in the
	// approval email.
	BacklinkTokenHash   string     `json:"-"`
	BacklinkConfirmedAt *time.Time `json:"backlink_confirmed_at,omitempty"`

	OperatorID *string `gorm:"type:uuid;index" json:"operator_id,omitempty"`

	Events    []Event    `gorm:"foreignKey:ApplicationID" json:"events,omitempty"`
	EmailLogs []EmailLog `gorm:"foreignKey:ApplicationID" json:"email_logs,omitempty"`
}
