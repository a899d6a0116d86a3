package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/skyquote/skyquote/internal/models"
	apperrors "github.com/skyquote/skyquote/pkg/errors"
)

// OperatorService exposes read and administration operations over approved
// operator profiles. Profiles are only ever created by application approval.
type OperatorService struct {
	db *gorm.DB
}

// NewOperatorService constructs an OperatorService.
func NewOperatorService(db *gorm.DB) (*OperatorService, error) {
	if db == nil {
		return nil, errors.New("operator service: db is required")
	}
	return &OperatorService{db: db}, nil
}

// ListOperatorsInput filters the operator list.
type ListOperatorsInput struct {
	Service    string
	Region     string
	Tier       models.OperatorTier
	ActiveOnly bool
}

// List returns operators ordered by business name. Service and region
// filters apply the same matching rules the invite orchestrator uses.
func (s *OperatorService) List(ctx context.Context, input ListOperatorsInput) ([]models.Operator, error) {
	ctx = ensureContext(ctx)

	query := s.db.WithContext(ctx).Model(&models.Operator{})
	if input.Tier != "" {
		query = query.Where("tier = ?", input.Tier)
	}
	if input.ActiveOnly {
		query = query.Where("active = ?", true)
	}

	var operators []models.Operator
	if err := query.Order("business_name ASC").Find(&operators).Error; err != nil {
		return nil, fmt.Errorf("operator service: list operators: %w", err)
	}

	service := strings.TrimSpace(input.Service)
	region := strings.TrimSpace(input.Region)
	if service == "" && region == "" {
		return operators, nil
	}

	// Services and regions live in JSON columns, so coverage filtering
	// happens in memory on the already-narrowed set.
	matched := operators[:0]
	for i := range operators {
		op := operators[i]
		if service != "" && !op.OffersService(service) {
			continue
		}
		if region != "" && !op.CoversRegion(region) {
			continue
		}
		matched = append(matched, op)
	}
	return matched, nil
}

// Get returns one operator profile.
func (s *OperatorService) Get(ctx context.Context, id string) (*models.Operator, error) {
	ctx = ensureContext(ctx)

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperrors.NewValidation("operator id is required")
	}

	var operator models.Operator
	if err := s.db.WithContext(ctx).First(&operator, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFound("operator")
		}
		return nil, fmt.Errorf("operator service: load operator: %w", err)
	}
	return &operator, nil
}

// SetActive toggles whether an operator is considered for invites.
func (s *OperatorService) SetActive(ctx context.Context, id string, active bool) (*models.Operator, error) {
	ctx = ensureContext(ctx)

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperrors.NewValidation("operator id is required")
	}

	res := s.db.WithContext(ctx).Model(&models.Operator{}).
		Where("id = ?", id).
		Update("active", active)
	if res.Error != nil {
		return nil, fmt.Errorf("operator service: update operator: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperrors.NewNotFound("operator")
	}

	return s.Get(ctx, id)
}
