package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mondtic/corporate-access/internal/events"
	"github.com/mondtic/corporate-access/internal/models"
)

// EnrollmentWorkflow reacts to invitation lifecycle events. Acceptance drives
// the dual enrollment: the local tracking row commits first, then the
// platform enrollment is attempted. A platform failure is logged and left for
// a retried accept rather than undoing the local row.
type EnrollmentWorkflow struct {
	db          *gorm.DB
	enrollments *EnrollmentService
	log         *zap.Logger
}

// NewEnrollmentWorkflow constructs an EnrollmentWorkflow.
func NewEnrollmentWorkflow(db *gorm.DB, enrollments *EnrollmentService, log *zap.Logger) (*EnrollmentWorkflow, error) {
	if db == nil {
		return nil, errors.New("enrollment workflow: db is required")
	}
	if enrollments == nil {
		return nil, errors.New("enrollment workflow: enrollment service is required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &EnrollmentWorkflow{
		db:          db,
		enrollments: enrollments,
		log:         log.Named("workflow"),
	}, nil
}

// Register attaches the workflow's handlers to the bus.
func (w *EnrollmentWorkflow) Register(bus *events.Bus) {
	bus.Subscribe(events.InvitationAccepted, w.HandleAccepted)
	bus.Subscribe(events.InvitationDeclined, w.HandleDeclined)
}

// HandleAccepted runs the dual enrollment for an accepted invitation.
func (w *EnrollmentWorkflow) HandleAccepted(data events.InvitationData) {
	ctx := context.Background()

	if data.UserID == nil {
		w.log.Warn("accepted invitation has no bound user, skipping enrollment",
			zap.Uint("invitation_id", data.ID),
			zap.String("invite_email", data.InviteEmail),
		)
		return
	}
	userID := *data.UserID

	courseKey, err := w.courseKey(ctx, data.CatalogCourseID)
	if err != nil {
		w.log.Error("resolve catalog course failed",
			zap.Uint("invitation_id", data.ID),
			zap.Uint("catalog_course_id", data.CatalogCourseID),
			zap.Error(err),
		)
		return
	}

	if _, _, err := w.enrollments.EnsureLocal(ctx, userID, data.CatalogCourseID); err != nil {
		w.log.Error("local enrollment failed",
			zap.Uint("invitation_id", data.ID),
			zap.Uint("user_id", userID),
			zap.Error(err),
		)
		return
	}

	if _, _, err := w.enrollments.EnsurePlatform(ctx, userID, courseKey, ""); err != nil {
		// The local row stays; a retried accept reattempts the platform half.
		w.log.Error("platform enrollment failed",
			zap.Uint("invitation_id", data.ID),
			zap.Uint("user_id", userID),
			zap.String("course_key", courseKey),
			zap.Error(err),
		)
	}
}

// HandleDeclined records the decline for operational visibility.
func (w *EnrollmentWorkflow) HandleDeclined(data events.InvitationData) {
	w.log.Info("invitation declined",
		zap.Uint("invitation_id", data.ID),
		zap.Uint("catalog_course_id", data.CatalogCourseID),
		zap.String("invite_email", data.InviteEmail),
	)
}

func (w *EnrollmentWorkflow) courseKey(ctx context.Context, catalogCourseID uint) (string, error) {
	var catalogCourse models.CatalogCourse
	if err := w.db.WithContext(ctx).First(&catalogCourse, catalogCourseID).Error; err != nil {
		return "", fmt.Errorf("load catalog course %d: %w", catalogCourseID, err)
	}
	return catalogCourse.CourseKey, nil
}
