package models

import "time"

// EnquiryStatus is the lifecycle state of a client enquiry.
type EnquiryStatus string

// Stable storage values; do not rename.
const (
	EnquiryStatusOpen   EnquiryStatus = "OPEN"
	EnquiryStatusClosed EnquiryStatus = "CLOSED"
)

// DateFlexibility describes how firmly a client is committed to the requested date.
type DateFlexibility string

const (
	DateFlexibilityFixed       DateFlexibility = "FIXED"
	DateFlexibilityWithinWeek  DateFlexibility = "WITHIN_WEEK"
	DateFlexibilityWithinMonth DateFlexibility = "WITHIN_MONTH"
	DateFlexibilityASAP        DateFlexibility = "ASAP"
)

// ValidDateFlexibility reports whether the supplied value is a known flexibility mode.
func ValidDateFlexibility(v DateFlexibility) bool {
	switch v {
	case DateFlexibilityFixed, DateFlexibilityWithinWeek, DateFlexibilityWithinMonth, DateFlexibilityASAP:
		return true
	}
	return false
}

// Enquiry is a client's request for a drone service.
//
// "Invited" is never stored: it is derived from the existence of Invite rows
// so enquiry status and invite history cannot drift apart.
type Enquiry struct {
	BaseModel

	Name     string `gorm:"not null" json:"name"`
	Email    string `gorm:"not null;index" json:"email"`
	Phone    string `json:"phone"`
	Service  string `gorm:"not null;index" json:"service"`
	Postcode string `gorm:"not null" json:"postcode"`
	Region   string `gorm:"index" json:"region"`

	PreferredDate   *time.Time      `json:"preferred_date,omitempty"`
	DateFlexibility DateFlexibility `gorm:"not null;default:ASAP" json:"date_flexibility"`
	Details         string          `gorm:"type:text" json:"details"`

	// ConsentVersion records which privacy notice the client agreed to.
	ConsentVersion string `gorm:"not null" json:"consent_version"`

	Status   EnquiryStatus `gorm:"not null;default:OPEN;index" json:"status"`
	ClosedAt *time.Time    `json:"closed_at,omitempty"`
	ClosedBy string        `json:"closed_by,omitempty"`

	Invites   []Invite   `gorm:"foreignKey:EnquiryID" json:"invites,omitempty"`
	Events    []Event    `gorm:"foreignKey:EnquiryID" json:"events,omitempty"`
	EmailLogs []EmailLog `gorm:"foreignKey:EnquiryID" json:"email_logs,omitempty"`
}

// Invited reports the derived invited state.
func (e *Enquiry) Invited() bool {
	return len(e.Invites) > 0
}
