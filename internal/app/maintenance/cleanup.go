package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mondtic/corporate-access/internal/models"
	"github.com/mondtic/corporate-access/internal/regexcache"
	"github.com/mondtic/corporate-access/pkg/logger"
)

const (
	defaultCacheSpec = "@every 10m"
	defaultRegexSpec = "@hourly"
)

// Cleaner coordinates background maintenance: purging expired cache entries
// and periodically dropping compiled regex sets so long-running processes
// pick up out-of-band pattern changes.
type Cleaner struct {
	db      *gorm.DB
	regexes *regexcache.Cache
	cron    *cron.Cron
	now     func() time.Time
	log     *zap.Logger
	enabled bool

	cacheSchedule string
	regexSchedule string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for expiry comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithCacheSchedule overrides the cron specification for cache entry purges.
func WithCacheSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.cacheSchedule = spec
		}
	}
}

// WithRegexSchedule overrides the cron specification for regex cache refresh.
func WithRegexSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.regexSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. Any nil dependency
// results in the corresponding job being skipped.
func NewCleaner(db *gorm.DB, regexes *regexcache.Cache, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		db:            db,
		regexes:       regexes,
		now:           time.Now,
		cacheSchedule: defaultCacheSpec,
		regexSchedule: defaultRegexSpec,
		log:           logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	cleaner.enabled = cleaner.db != nil || cleaner.regexes != nil

	return cleaner
}

// Start registers maintenance jobs with the cron scheduler and launches it if
// at least one job is enabled.
func (c *Cleaner) Start() error {
	if !c.enabled {
		return nil
	}

	if c.db != nil {
		if _, err := c.cron.AddFunc(c.cacheSchedule, func() {
			ctx := context.Background()
			if _, err := CleanupCacheEntries(ctx, c.db, c.now()); err != nil {
				c.log.Warn("cache entry cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.regexes != nil {
		if _, err := c.cron.AddFunc(c.regexSchedule, func() {
			c.regexes.InvalidateAll()
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured maintenance routines sequentially.
// Primarily used in tests and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.db != nil {
		if _, err := CleanupCacheEntries(ctx, c.db, c.now()); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.regexes != nil {
		c.regexes.InvalidateAll()
	}

	return errs
}

// CleanupCacheEntries removes cache rows whose expiry has passed. Rows with a
// zero expiry never expire and are left alone.
func CleanupCacheEntries(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	if db == nil {
		return 0, errors.New("cleanup cache entries: db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result := db.WithContext(ctx).
		Where("expires_at > ? AND expires_at < ?", time.Time{}, now).
		Delete(&models.CacheEntry{})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup cache entries: %w", result.Error)
	}
	return result.RowsAffected, nil
}
