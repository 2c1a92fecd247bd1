package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mondtic/corporate-access/internal/models"
	"github.com/mondtic/corporate-access/internal/platform"
	"github.com/mondtic/corporate-access/pkg/metrics"
)

const defaultEnrollmentMode = "audit"

// EnrollmentOption customises EnrollmentService behaviour.
type EnrollmentOption func(*EnrollmentService)

// WithDefaultMode overrides the fallback enrollment mode used when the caller
// requests none.
func WithDefaultMode(mode string) EnrollmentOption {
	return func(s *EnrollmentService) {
		if mode != "" {
			s.defaultMode = mode
		}
	}
}

// WithEnrollmentClock injects a custom clock primarily for testing.
func WithEnrollmentClock(clock func() time.Time) EnrollmentOption {
	return func(s *EnrollmentService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// EnrollmentService keeps a user's catalog enrollment consistent across the
// local tracking table and the learning platform. Both halves are idempotent
// so the accept workflow can be retried safely.
type EnrollmentService struct {
	db          *gorm.DB
	api         platform.EnrollmentAPI
	log         *zap.Logger
	now         func() time.Time
	defaultMode string
}

// NewEnrollmentService constructs an EnrollmentService.
func NewEnrollmentService(db *gorm.DB, api platform.EnrollmentAPI, log *zap.Logger, opts ...EnrollmentOption) (*EnrollmentService, error) {
	if db == nil {
		return nil, errors.New("enrollment service: db is required")
	}
	if api == nil {
		return nil, errors.New("enrollment service: platform API is required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	service := &EnrollmentService{
		db:          db,
		api:         api,
		log:         log.Named("enrollments"),
		now:         time.Now,
		defaultMode: defaultEnrollmentMode,
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// EnsureLocal records the user's enrollment in the tracking table, creating
// the row active when missing and leaving an existing row untouched. A row
// that was deactivated stays deactivated. The returned flag reports whether a
// new row was inserted.
func (s *EnrollmentService) EnsureLocal(ctx context.Context, userID, catalogCourseID uint) (*models.CatalogCourseEnrollment, bool, error) {
	ctx = ensureContext(ctx)

	var existing models.CatalogCourseEnrollment
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND catalog_course_id = ?", userID, catalogCourseID).
		First(&existing).Error
	if err == nil {
		return &existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("enrollment service: load enrollment: %w", err)
	}

	enrollment := &models.CatalogCourseEnrollment{
		UserID:          userID,
		CatalogCourseID: catalogCourseID,
		Active:          true,
		CreatedAt:       s.now(),
	}
	if err := s.db.WithContext(ctx).Create(enrollment).Error; err != nil {
		if isUniqueConstraintError(err) {
			// Lost a concurrent creation race; the winner's row is
			// authoritative, including its Active flag.
			lookupErr := s.db.WithContext(ctx).
				Where("user_id = ? AND catalog_course_id = ?", userID, catalogCourseID).
				First(&existing).Error
			if lookupErr != nil {
				return nil, false, fmt.Errorf("enrollment service: resolve creation race: %w", lookupErr)
			}
			return &existing, false, nil
		}
		return nil, false, fmt.Errorf("enrollment service: create enrollment: %w", err)
	}

	metrics.EnrollmentOutcomes.WithLabelValues("local", "created").Inc()
	return enrollment, true, nil
}

// EnsurePlatform enrolls the user in the course on the learning platform,
// treating an already-active enrollment as success. requestedMode may be
// empty, in which case a mode is selected from what the platform offers.
// The returned flag reports whether a new platform enrollment was created.
func (s *EnrollmentService) EnsurePlatform(ctx context.Context, userID uint, courseKey, requestedMode string) (*platform.Enrollment, bool, error) {
	ctx = ensureContext(ctx)

	active, err := s.api.IsActivelyEnrolled(ctx, userID, courseKey)
	if err != nil {
		return nil, false, fmt.Errorf("enrollment service: check platform enrollment: %w", err)
	}
	if active {
		metrics.EnrollmentOutcomes.WithLabelValues("platform", "already_enrolled").Inc()
		return &platform.Enrollment{CourseKey: courseKey, IsActive: true}, false, nil
	}

	mode, err := s.selectMode(ctx, courseKey, requestedMode)
	if err != nil {
		return nil, false, err
	}

	enrollment, err := s.api.Enroll(ctx, userID, courseKey, mode)
	if err != nil {
		metrics.EnrollmentOutcomes.WithLabelValues("platform", "error").Inc()
		return nil, false, fmt.Errorf("enrollment service: platform enroll: %w", err)
	}

	metrics.EnrollmentOutcomes.WithLabelValues("platform", "created").Inc()
	s.log.Info("platform enrollment created",
		zap.Uint("user_id", userID),
		zap.String("course_key", courseKey),
		zap.String("mode", mode),
	)
	return enrollment, true, nil
}

// selectMode picks the enrollment mode: a caller-supplied mode wins outright
// (the platform's enroll contract owns rejecting it), otherwise the configured
// default when the course offers it, otherwise the first offered mode. With no
// offered modes the default is used as-is.
func (s *EnrollmentService) selectMode(ctx context.Context, courseKey, requestedMode string) (string, error) {
	if requestedMode != "" {
		return requestedMode, nil
	}

	modes, err := s.api.AvailableModes(ctx, courseKey)
	if err != nil {
		return "", fmt.Errorf("enrollment service: list course modes: %w", err)
	}
	if len(modes) == 0 {
		return s.defaultMode, nil
	}

	for _, m := range modes {
		if m == s.defaultMode {
			return s.defaultMode, nil
		}
	}
	return modes[0], nil
}
