package models

import (
	"time"

	"gorm.io/datatypes"
)

// OperatorTier is the visibility tier of an approved drone operator.
type OperatorTier string

// Stable storage values; do not rename.
const (
	TierVerifiedOperator   OperatorTier = "VERIFIED_OPERATOR"
	TierIntegratedOperator OperatorTier = "INTEGRATED_OPERATOR"
)

// Operator is an approved drone-pilot operator profile. Profiles are created
// exclusively by approving a pilot application.
type Operator struct {
	BaseModel

	BusinessName string `gorm:"not null;index" json:"business_name"`
	ContactName  string `gorm:"not null" json:"contact_name"`
	Email        string `gorm:"not null;uniqueIndex" json:"email"`
	Phone        string `json:"phone"`
	WebsiteURL   string `json:"website_url"`

	// Services and Regions drive invite eligibility matching.
	Services datatypes.JSONSlice[string] `json:"services"`
	Regions  datatypes.JSONSlice[string] `json:"regions"`

	Tier   OperatorTier `gorm:"not null;default:VERIFIED_OPERATOR;index" json:"tier"`
	Active bool         `gorm:"not null;default:true;index" json:"active"`

	// IntegratedConfirmedAt is set at most once, by backlink confirmation,
	// and is immutable thereafter.
	IntegratedConfirmedAt *time.Time `json:"integrated_confirmed_at,omitempty"`

	ApplicationID *string `gorm:"type:uuid;index" json:"application_id,omitempty"`
}

// OffersService reports whether the operator covers the given service category.
func (o *Operator) OffersService(service string) bool {
	for _, s := range o.Services {
		if s == service {
			return true
		}
	}
	return false
}

// CoversRegion reports whether the operator covers the given region.
// Operators with no configured regions are treated as nationwide.
func (o *Operator) CoversRegion(region string) bool {
	if len(o.Regions) == 0 || region == "" {
		return true
	}
	for _, r := range o.Regions {
		if r == region {
			return true
		}
	}
	return false
}
