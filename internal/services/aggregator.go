package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mondtic/corporate-access/internal/cache"
	"github.com/mondtic/corporate-access/internal/models"
	"github.com/mondtic/corporate-access/pkg/metrics"
)

const (
	allowedIDsKeyPrefix = "flex_allowed_ids:v1:"
	defaultAggregateTTL = 90 * time.Second
)

// CatalogStrategy computes the course ids a user may access within one
// catalog. Strategies are selected by catalog kind.
type CatalogStrategy func(ctx context.Context, user *models.User, catalog *models.Catalog) ([]uint, error)

// AggregatorOption customises Aggregator behaviour.
type AggregatorOption func(*Aggregator)

// WithAggregateTTL overrides the cache TTL for aggregated results.
func WithAggregateTTL(ttl time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		if ttl > 0 {
			a.ttl = ttl
		}
	}
}

// WithAggregatorClock injects a custom clock primarily for testing.
func WithAggregatorClock(clock func() time.Time) AggregatorOption {
	return func(a *Aggregator) {
		if clock != nil {
			a.now = clock
		}
	}
}

// Aggregator computes the union of course ids a user may access across all
// catalogs, dispatching on catalog kind and caching the result per user. One
// catalog failing never hides the others' courses.
type Aggregator struct {
	db         *gorm.DB
	store      cache.Store
	log        *zap.Logger
	ttl        time.Duration
	now        func() time.Time
	strategies map[string]CatalogStrategy
}

// NewAggregator constructs an Aggregator with the built-in strategies for
// flexible and corporate partner catalogs.
func NewAggregator(db *gorm.DB, store cache.Store, access *CatalogAccessService, log *zap.Logger, opts ...AggregatorOption) (*Aggregator, error) {
	if db == nil {
		return nil, errors.New("aggregator: db is required")
	}
	if store == nil {
		return nil, errors.New("aggregator: cache store is required")
	}
	if access == nil {
		return nil, errors.New("aggregator: catalog access service is required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	aggregator := &Aggregator{
		db:         db,
		store:      store,
		log:        log.Named("aggregator"),
		ttl:        defaultAggregateTTL,
		now:        time.Now,
		strategies: map[string]CatalogStrategy{},
	}

	for _, opt := range opts {
		opt(aggregator)
	}

	aggregator.strategies[models.CatalogKindFlexible] = aggregator.flexibleStrategy
	aggregator.strategies[models.CatalogKindCorporate] = func(ctx context.Context, user *models.User, catalog *models.Catalog) ([]uint, error) {
		return access.VisibleCourseIDs(ctx, user, catalog)
	}

	return aggregator, nil
}

// RegisterStrategy installs or replaces the strategy for a catalog kind.
func (a *Aggregator) RegisterStrategy(kind string, strategy CatalogStrategy) {
	a.strategies[kind] = strategy
}

// AllowedCourseIDs returns the deduplicated, ascending set of catalog course
// ids the user may access. skipCache forces a recompute; the fresh result is
// still written back so subsequent readers benefit.
func (a *Aggregator) AllowedCourseIDs(ctx context.Context, user *models.User, skipCache bool) ([]uint, error) {
	ctx = ensureContext(ctx)
	key := a.cacheKey(user)

	if !skipCache {
		if ids, ok := a.readCache(ctx, key); ok {
			metrics.EligibilityCacheLookups.WithLabelValues("hit").Inc()
			return ids, nil
		}
		metrics.EligibilityCacheLookups.WithLabelValues("miss").Inc()
	}

	ids, err := a.compute(ctx, user)
	if err != nil {
		return nil, err
	}

	a.writeCache(ctx, key, ids)
	return ids, nil
}

// InvalidateUser drops the cached result for one user.
func (a *Aggregator) InvalidateUser(ctx context.Context, user *models.User) error {
	return a.store.Delete(ensureContext(ctx), a.cacheKey(user))
}

func (a *Aggregator) compute(ctx context.Context, user *models.User) ([]uint, error) {
	var catalogs []models.Catalog
	if err := a.db.WithContext(ctx).Find(&catalogs).Error; err != nil {
		return nil, fmt.Errorf("aggregator: list catalogs: %w", err)
	}

	seen := map[uint]struct{}{}
	for i := range catalogs {
		catalog := &catalogs[i]

		strategy, ok := a.strategies[catalog.Kind]
		if !ok {
			a.log.Warn("no strategy for catalog kind, skipping",
				zap.String("catalog", catalog.Slug),
				zap.String("kind", catalog.Kind),
			)
			continue
		}

		ids, err := strategy(ctx, user, catalog)
		if err != nil {
			a.log.Error("catalog aggregation failed, skipping catalog",
				zap.String("catalog", catalog.Slug),
				zap.String("kind", catalog.Kind),
				zap.Error(err),
			)
			continue
		}
		for _, id := range ids {
			seen[id] = struct{}{}
		}
	}

	ids := make([]uint, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// flexibleStrategy exposes a flexible catalog's courses to everyone while
// self-enrollment is on and the availability window is open.
func (a *Aggregator) flexibleStrategy(ctx context.Context, _ *models.User, catalog *models.Catalog) ([]uint, error) {
	if !catalog.IsSelfEnrollment {
		return nil, nil
	}

	now := a.now()
	if catalog.AvailableStart != nil && now.Before(*catalog.AvailableStart) {
		return nil, nil
	}
	if catalog.AvailableEnd != nil && now.After(*catalog.AvailableEnd) {
		return nil, nil
	}

	var ids []uint
	err := a.db.WithContext(ctx).Model(&models.CatalogCourse{}).
		Where("catalog_id = ?", catalog.ID).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	return ids, nil
}

func (a *Aggregator) cacheKey(user *models.User) string {
	if user == nil || user.ID == 0 {
		return allowedIDsKeyPrefix + "anon"
	}
	return fmt.Sprintf("%s%d", allowedIDsKeyPrefix, user.ID)
}

func (a *Aggregator) readCache(ctx context.Context, key string) ([]uint, bool) {
	raw, found, err := a.store.Get(ctx, key)
	if err != nil {
		a.log.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !found {
		return nil, false
	}

	var ids []uint
	if err := json.Unmarshal(raw, &ids); err != nil {
		a.log.Warn("cache entry corrupt, recomputing", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return ids, true
}

func (a *Aggregator) writeCache(ctx context.Context, key string, ids []uint) {
	raw, err := json.Marshal(ids)
	if err != nil {
		return
	}
	if err := a.store.Set(ctx, key, raw, a.ttl); err != nil {
		a.log.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}
