package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/mondtic/corporate-access/internal/models"
	"github.com/mondtic/corporate-access/internal/policy"
	"github.com/mondtic/corporate-access/internal/regexcache"
)

// CatalogAccessService answers catalog visibility questions. The eligibility
// rule itself lives in the policy package; this service supplies the roster
// lookup and the compiled email matcher.
type CatalogAccessService struct {
	db      *gorm.DB
	regexes *regexcache.Cache
}

// NewCatalogAccessService constructs a CatalogAccessService.
func NewCatalogAccessService(db *gorm.DB, regexes *regexcache.Cache) (*CatalogAccessService, error) {
	if db == nil {
		return nil, errors.New("catalog access: db is required")
	}
	if regexes == nil {
		return nil, errors.New("catalog access: regex cache is required")
	}
	return &CatalogAccessService{db: db, regexes: regexes}, nil
}

// CanUserSeeCatalogCourses reports whether the user may view the catalog's
// course list. user may be nil for anonymous callers.
func (s *CatalogAccessService) CanUserSeeCatalogCourses(ctx context.Context, user *models.User, catalog *models.Catalog) (bool, error) {
	ctx = ensureContext(ctx)

	roster := func(catalogID string, userID uint) (bool, error) {
		var count int64
		err := s.db.WithContext(ctx).Model(&models.CatalogLearner{}).
			Where("catalog_id = ? AND user_id = ? AND active = ?", catalogID, userID, true).
			Count(&count).Error
		if err != nil {
			return false, fmt.Errorf("catalog access: roster lookup: %w", err)
		}
		return count > 0, nil
	}

	return policy.CanUserSeeCatalogCourses(user, catalog, roster, s.regexes.Matches)
}

// VisibleCourseIDs returns the catalog's course ids ordered by position when
// the user passes the eligibility rule, and an empty slice otherwise.
func (s *CatalogAccessService) VisibleCourseIDs(ctx context.Context, user *models.User, catalog *models.Catalog) ([]uint, error) {
	ctx = ensureContext(ctx)

	allowed, err := s.CanUserSeeCatalogCourses(ctx, user, catalog)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return []uint{}, nil
	}

	var ids []uint
	err = s.db.WithContext(ctx).Model(&models.CatalogCourse{}).
		Where("catalog_id = ?", catalog.ID).
		Order("position ASC, id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("catalog access: list courses: %w", err)
	}
	return ids, nil
}
