package main

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mondtic/corporate-access/internal/app"
	"github.com/mondtic/corporate-access/internal/app/maintenance"
	"github.com/mondtic/corporate-access/internal/cache"
	"github.com/mondtic/corporate-access/internal/database"
	"github.com/mondtic/corporate-access/internal/events"
	"github.com/mondtic/corporate-access/internal/platform"
	"github.com/mondtic/corporate-access/internal/regexcache"
	"github.com/mondtic/corporate-access/internal/services"
	"github.com/mondtic/corporate-access/pkg/logger"
	"github.com/mondtic/corporate-access/pkg/mail"
)

// runtimeStack bundles the long-lived services behind the server process.
type runtimeStack struct {
	DB          *gorm.DB
	Redis       cache.Store
	Bus         *events.Bus
	Regexes     *regexcache.Cache
	Invitations *services.InvitationService
	Enrollments *services.EnrollmentService
	Access      *services.CatalogAccessService
	Aggregator  *services.Aggregator
	RegexRules  *services.RegexRuleService
	BulkImport  *services.BulkImportService
	Cleaner     *maintenance.Cleaner
}

// bootstrapRuntime initialises the database, caches, event bus, and services.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	var store cache.Store = cache.NewDatabaseStore(stack.DB)
	if cfg.Cache.Redis.Enabled {
		client, redisErr := cache.NewRedisClient(cfg.Cache.RedisClientConfig())
		if redisErr != nil {
			log.Warn("redis unavailable; falling back to database-backed cache", zap.Error(redisErr))
		} else {
			stack.Redis = client
			store = client
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	stack.Bus = events.NewBus(logger.WithModule("events"))

	stack.Regexes, err = regexcache.New(stack.DB, regexcache.WithCapacity(cfg.Eligibility.RegexCacheCapacity))
	if err != nil {
		return nil, fmt.Errorf("initialise regex cache: %w", err)
	}

	directory, err := platform.NewGormUserDirectory(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise user directory: %w", err)
	}

	var apiClient *platform.APIClient
	if cfg.Platform.Enabled() {
		apiClient, err = platform.NewAPIClient(cfg.Platform.ClientConfig())
		if err != nil {
			return nil, fmt.Errorf("initialise platform client: %w", err)
		}
		log.Info("platform API configured", zap.String("base_url", cfg.Platform.BaseURL))
	} else {
		log.Warn("no platform API configured; enrollment workflow disabled")
	}

	invitationOpts := []services.InvitationOption{
		services.WithRequireAccountOnAccept(cfg.Invitations.RequireAccountOnAccept),
	}
	if cfg.Invitations.SendEmails && cfg.Email.SMTP.Enabled {
		mailer, mailErr := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
		if mailErr != nil {
			log.Warn("smtp unavailable; invite emails disabled", zap.Error(mailErr))
		} else {
			invitationOpts = append(invitationOpts, services.WithInvitationMailer(mailer))
		}
	}

	stack.Invitations, err = services.NewInvitationService(stack.DB, stack.Bus, directory, logger.Logger(), invitationOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise invitation service: %w", err)
	}

	stack.Access, err = services.NewCatalogAccessService(stack.DB, stack.Regexes)
	if err != nil {
		return nil, fmt.Errorf("initialise catalog access service: %w", err)
	}

	stack.Aggregator, err = services.NewAggregator(stack.DB, store, stack.Access, logger.Logger(),
		services.WithAggregateTTL(cfg.Eligibility.CacheTTL))
	if err != nil {
		return nil, fmt.Errorf("initialise aggregator: %w", err)
	}

	stack.RegexRules, err = services.NewRegexRuleService(stack.DB, stack.Regexes)
	if err != nil {
		return nil, fmt.Errorf("initialise regex rule service: %w", err)
	}

	var runner platform.JobRunner
	if apiClient != nil {
		runner = apiClient

		stack.Enrollments, err = services.NewEnrollmentService(stack.DB, apiClient, logger.Logger(),
			services.WithDefaultMode(cfg.Invitations.DefaultEnrollmentMode))
		if err != nil {
			return nil, fmt.Errorf("initialise enrollment service: %w", err)
		}

		workflow, wfErr := services.NewEnrollmentWorkflow(stack.DB, stack.Enrollments, logger.Logger())
		if wfErr != nil {
			return nil, fmt.Errorf("initialise enrollment workflow: %w", wfErr)
		}
		workflow.Register(stack.Bus)
	}

	stack.BulkImport, err = services.NewBulkImportService(stack.DB, stack.Invitations, directory, runner, logger.Logger())
	if err != nil {
		return nil, fmt.Errorf("initialise bulk import service: %w", err)
	}

	stack.Cleaner = maintenance.NewCleaner(stack.DB, stack.Regexes,
		maintenance.WithCacheSchedule(cfg.Maintenance.CacheSchedule),
		maintenance.WithRegexSchedule(cfg.Maintenance.RegexSchedule))
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		if stopCtx != nil {
			ctx = stopCtx
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if rc, ok := s.Redis.(*cache.RedisClient); ok && rc != nil {
		if err := rc.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.ConnectionConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
