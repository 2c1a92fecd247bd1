package platform

import (
	"context"
	"errors"

	"github.com/mondtic/corporate-access/internal/models"
)

// The host learning platform owns accounts, courses, enrollments, and the
// async job runner. This package defines the seams the core consumes; only
// the user directory ships with a default implementation, since the plugin
// shares the host's database.

// ErrUserNotFound indicates no account matches the lookup.
var ErrUserNotFound = errors.New("platform: user not found")

// ErrJobNotFound indicates an unknown job id.
var ErrJobNotFound = errors.New("platform: job not found")

// UserDirectory resolves host-platform accounts.
type UserDirectory interface {
	// ByEmail looks up an account by email, case-insensitively.
	ByEmail(ctx context.Context, email string) (*models.User, error)
	ByUsername(ctx context.Context, username string) (*models.User, error)
	ByID(ctx context.Context, id uint) (*models.User, error)
}

// Enrollment is the host platform's view of an enrollment record.
type Enrollment struct {
	CourseKey string
	Mode      string
	IsActive  bool
}

// EnrollmentAPI is the host platform's idempotent enrollment surface.
// Enroll follows a create-or-reactivate-or-no-op contract owned by the host.
type EnrollmentAPI interface {
	Enroll(ctx context.Context, userID uint, courseKey, mode string) (*Enrollment, error)
	AvailableModes(ctx context.Context, courseKey string) ([]string, error)
	IsActivelyEnrolled(ctx context.Context, userID uint, courseKey string) (bool, error)
}

// JobStatus enumerates the async job runner's lifecycle states.
type JobStatus string

const (
	JobPending JobStatus = "PENDING"
	JobStarted JobStatus = "STARTED"
	JobSuccess JobStatus = "SUCCESS"
	JobFailure JobStatus = "FAILURE"
)

// JobResult is the poll response for a submitted job.
type JobResult struct {
	Status JobStatus
	Result any
	Err    string
}

// JobRunner is the opaque async task queue bulk imports are offloaded to.
type JobRunner interface {
	Submit(ctx context.Context, taskName string, payload any) (jobID string, err error)
	Poll(ctx context.Context, jobID string) (*JobResult, error)
}
