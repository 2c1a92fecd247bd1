package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"gorm.io/gorm"

	"github.com/mondtic/corporate-access/internal/models"
	"github.com/mondtic/corporate-access/internal/regexcache"
	apperrors "github.com/mondtic/corporate-access/pkg/errors"
)

// ErrRegexRuleNotFound indicates the requested email rule does not exist.
var ErrRegexRuleNotFound = apperrors.New("REGEX_RULE_NOT_FOUND", "Email rule not found", http.StatusNotFound)

// RegexRuleService manages the per-catalog email patterns behind corporate
// eligibility. Every write validates the pattern first and invalidates the
// compiled cache so readers pick up the change.
type RegexRuleService struct {
	db      *gorm.DB
	regexes *regexcache.Cache
}

// NewRegexRuleService constructs a RegexRuleService.
func NewRegexRuleService(db *gorm.DB, regexes *regexcache.Cache) (*RegexRuleService, error) {
	if db == nil {
		return nil, errors.New("regex rules: db is required")
	}
	if regexes == nil {
		return nil, errors.New("regex rules: regex cache is required")
	}
	return &RegexRuleService{db: db, regexes: regexes}, nil
}

// Create validates and stores a new email rule for the catalog.
func (s *RegexRuleService) Create(ctx context.Context, catalogID, pattern string) (*models.CatalogEmailRegex, error) {
	ctx = ensureContext(ctx)

	normalized, err := regexcache.ValidatePattern(pattern)
	if err != nil {
		return nil, apperrors.NewBadRequest(err.Error())
	}

	var catalog models.Catalog
	if err := s.db.WithContext(ctx).First(&catalog, "id = ?", catalogID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New("CATALOG_NOT_FOUND", "Catalog not found", http.StatusNotFound)
		}
		return nil, fmt.Errorf("regex rules: load catalog: %w", err)
	}

	rule := &models.CatalogEmailRegex{
		CatalogID: catalog.ID,
		Pattern:   normalized,
	}
	if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
		return nil, fmt.Errorf("regex rules: create rule: %w", err)
	}

	s.regexes.Invalidate(catalog.ID)
	return rule, nil
}

// Update replaces the pattern of an existing rule.
func (s *RegexRuleService) Update(ctx context.Context, ruleID uint, pattern string) (*models.CatalogEmailRegex, error) {
	ctx = ensureContext(ctx)

	normalized, err := regexcache.ValidatePattern(pattern)
	if err != nil {
		return nil, apperrors.NewBadRequest(err.Error())
	}

	var rule models.CatalogEmailRegex
	if err := s.db.WithContext(ctx).First(&rule, ruleID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRegexRuleNotFound
		}
		return nil, fmt.Errorf("regex rules: load rule: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(&rule).Update("pattern", normalized).Error; err != nil {
		return nil, fmt.Errorf("regex rules: update rule: %w", err)
	}
	rule.Pattern = normalized

	s.regexes.Invalidate(rule.CatalogID)
	return &rule, nil
}

// Delete removes a rule.
func (s *RegexRuleService) Delete(ctx context.Context, ruleID uint) error {
	ctx = ensureContext(ctx)

	var rule models.CatalogEmailRegex
	if err := s.db.WithContext(ctx).First(&rule, ruleID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRegexRuleNotFound
		}
		return fmt.Errorf("regex rules: load rule: %w", err)
	}

	if err := s.db.WithContext(ctx).Delete(&rule).Error; err != nil {
		return fmt.Errorf("regex rules: delete rule: %w", err)
	}

	s.regexes.Invalidate(rule.CatalogID)
	return nil
}

// List returns the catalog's rules ordered by id.
func (s *RegexRuleService) List(ctx context.Context, catalogID string) ([]models.CatalogEmailRegex, error) {
	ctx = ensureContext(ctx)

	var rules []models.CatalogEmailRegex
	err := s.db.WithContext(ctx).
		Where("catalog_id = ?", catalogID).
		Order("id ASC").
		Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("regex rules: list rules: %w", err)
	}
	return rules, nil
}
