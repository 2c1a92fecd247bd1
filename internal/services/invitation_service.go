package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mondtic/corporate-access/internal/events"
	"github.com/mondtic/corporate-access/internal/models"
	"github.com/mondtic/corporate-access/internal/platform"
	"github.com/mondtic/corporate-access/internal/policy"
	apperrors "github.com/mondtic/corporate-access/pkg/errors"
	"github.com/mondtic/corporate-access/pkg/mail"
	"github.com/mondtic/corporate-access/pkg/metrics"
	"github.com/mondtic/corporate-access/pkg/validator"
)

var (
	// ErrInvitationNotFound indicates the requested invitation does not exist.
	ErrInvitationNotFound = apperrors.New("INVITATION_NOT_FOUND", "Invitation not found", http.StatusNotFound)
	// ErrCatalogCourseNotFound indicates the referenced catalog course does not exist.
	ErrCatalogCourseNotFound = apperrors.New("CATALOG_COURSE_NOT_FOUND", "Catalog course not found", http.StatusNotFound)
	// ErrInviteeAccountMissing signals that acceptance requires an account matching the invite email.
	ErrInviteeAccountMissing = apperrors.New("INVITEE_ACCOUNT_MISSING", "No account matches the invitation email", http.StatusNotFound)
	// ErrCannotActOnInvitation rejects actors the authorization rule denies.
	ErrCannotActOnInvitation = apperrors.NewForbidden("Not allowed to act on this invitation")
)

// InvitationOption customises InvitationService behaviour.
type InvitationOption func(*InvitationService)

// WithInvitationClock injects a custom clock primarily for testing.
func WithInvitationClock(clock func() time.Time) InvitationOption {
	return func(s *InvitationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithInvitationMailer enables an invite notification email on creation.
func WithInvitationMailer(mailer mail.Mailer) InvitationOption {
	return func(s *InvitationService) {
		s.mailer = mailer
	}
}

// WithRequireAccountOnAccept controls whether accepting an invitation whose
// email resolves to no account fails (true, the default) or proceeds unbound.
func WithRequireAccountOnAccept(require bool) InvitationOption {
	return func(s *InvitationService) {
		s.requireAccountOnAccept = require
	}
}

// InvitationService owns the invitation lifecycle: idempotent creation and
// transactional status transitions. Events are emitted strictly after the
// enclosing transaction commits.
type InvitationService struct {
	db        *gorm.DB
	bus       *events.Bus
	directory platform.UserDirectory
	mailer    mail.Mailer
	log       *zap.Logger
	now       func() time.Time

	requireAccountOnAccept bool
}

// NewInvitationService constructs an InvitationService.
func NewInvitationService(db *gorm.DB, bus *events.Bus, directory platform.UserDirectory, log *zap.Logger, opts ...InvitationOption) (*InvitationService, error) {
	if db == nil {
		return nil, errors.New("invitation service: db is required")
	}
	if bus == nil {
		return nil, errors.New("invitation service: event bus is required")
	}
	if directory == nil {
		return nil, errors.New("invitation service: user directory is required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	service := &InvitationService{
		db:                     db,
		bus:                    bus,
		directory:              directory,
		log:                    log.Named("invitations"),
		now:                    time.Now,
		requireAccountOnAccept: true,
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

type createInvitationInput struct {
	Email string `json:"email" validate:"required,email"`
}

// Create issues one invitation for (catalog course, email), idempotently.
// A pre-existing row for the same pair is returned instead of duplicated,
// and its user binding is backfilled when an account is now resolvable.
// The returned flag reports whether a new row was inserted.
func (s *InvitationService) Create(ctx context.Context, catalogCourseID uint, email string, invitedBy *models.User) (*models.Invitation, bool, error) {
	ctx = ensureContext(ctx)

	normalized := policy.NormalizeEmail(email)
	if normalized == "" {
		return nil, false, apperrors.NewBadRequest("email is required")
	}
	if err := validator.ValidateStruct(createInvitationInput{Email: normalized}); err != nil {
		return nil, false, apperrors.NewBadRequest(fmt.Sprintf("invalid email %q", normalized))
	}

	var catalogCourse models.CatalogCourse
	if err := s.db.WithContext(ctx).First(&catalogCourse, catalogCourseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, ErrCatalogCourseNotFound
		}
		return nil, false, fmt.Errorf("invitation service: load catalog course: %w", err)
	}

	user, err := s.directory.ByEmail(ctx, normalized)
	if err != nil && !errors.Is(err, platform.ErrUserNotFound) {
		return nil, false, fmt.Errorf("invitation service: resolve user: %w", err)
	}

	recorder := events.NewRecorder(s.bus)
	invitation, created, err := s.getOrCreate(ctx, recorder, &catalogCourse, normalized, user, invitedBy)
	if err != nil {
		recorder.Discard()
		return nil, false, err
	}
	recorder.Flush()

	if created {
		s.sendInviteEmail(ctx, invitation)
	}

	return invitation, created, nil
}

func (s *InvitationService) getOrCreate(ctx context.Context, recorder *events.Recorder, catalogCourse *models.CatalogCourse, email string, user, invitedBy *models.User) (*models.Invitation, bool, error) {
	var invitation *models.Invitation
	created := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.findExisting(tx, catalogCourse.ID, email)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err == nil {
			if existing.UserID == nil && user != nil {
				if err := tx.Model(existing).Update("user_id", user.ID).Error; err != nil {
					return fmt.Errorf("bind user: %w", err)
				}
				existing.UserID = &user.ID
				recorder.Record(events.InvitationUpdated, toEventData(existing))
			}
			invitation = existing
			return nil
		}

		now := s.now()
		fresh := &models.Invitation{
			CatalogCourseID: catalogCourse.ID,
			InviteEmail:     email,
			Status:          models.InvitationSent,
			InvitedAt:       now,
			StatusChangedAt: now,
		}
		if user != nil {
			fresh.UserID = &user.ID
		}
		if invitedBy != nil && invitedBy.ID != 0 {
			fresh.InvitedByID = &invitedBy.ID
		}

		if err := tx.Create(fresh).Error; err != nil {
			return err
		}

		invitation = fresh
		created = true
		recorder.Record(events.InvitationCreated, toEventData(fresh))
		return nil
	})
	if err == nil {
		return invitation, created, nil
	}

	if !isUniqueConstraintError(err) {
		return nil, false, fmt.Errorf("invitation service: create invitation: %w", err)
	}

	// Lost a concurrent creation race; the winner's row is authoritative.
	recorder.Discard()
	var existing models.Invitation
	lookupErr := s.db.WithContext(ctx).
		Where("catalog_course_id = ? AND invite_email = ?", catalogCourse.ID, email).
		First(&existing).Error
	if lookupErr != nil {
		return nil, false, fmt.Errorf("invitation service: resolve creation race: %w", lookupErr)
	}
	return &existing, false, nil
}

func (s *InvitationService) findExisting(tx *gorm.DB, catalogCourseID uint, email string) (*models.Invitation, error) {
	var existing models.Invitation
	err := tx.Where("catalog_course_id = ? AND invite_email = ?", catalogCourseID, email).
		First(&existing).Error
	if err != nil {
		return nil, err
	}
	return &existing, nil
}

// ApplyStatus applies a status transition with consistent timestamps inside a
// single transaction and emits UPDATED (plus ACCEPTED/DECLINED on genuine
// transitions) after commit. Re-applying the current status is idempotent.
func (s *InvitationService) ApplyStatus(ctx context.Context, invitationID uint, newStatus models.InvitationStatus) (*models.Invitation, error) {
	return s.applyStatus(ctx, invitationID, newStatus, nil)
}

// ApplyStatusAsUser is ApplyStatus on behalf of an acting user: the actor is
// authorized first, and bound to the invitation when it is unbound, the
// emails match, and binding would not collide with another invitation for the
// same course.
func (s *InvitationService) ApplyStatusAsUser(ctx context.Context, invitationID uint, actor *models.User, newStatus models.InvitationStatus) (*models.Invitation, error) {
	if actor == nil {
		return nil, ErrCannotActOnInvitation
	}
	return s.applyStatus(ctx, invitationID, newStatus, actor)
}

// Accept marks the invitation accepted.
func (s *InvitationService) Accept(ctx context.Context, invitationID uint) (*models.Invitation, error) {
	return s.ApplyStatus(ctx, invitationID, models.InvitationAccepted)
}

// Decline marks the invitation declined.
func (s *InvitationService) Decline(ctx context.Context, invitationID uint) (*models.Invitation, error) {
	return s.ApplyStatus(ctx, invitationID, models.InvitationDeclined)
}

// MarkSent resets the invitation to SENT, clearing both terminal timestamps.
func (s *InvitationService) MarkSent(ctx context.Context, invitationID uint) (*models.Invitation, error) {
	return s.ApplyStatus(ctx, invitationID, models.InvitationSent)
}

func (s *InvitationService) applyStatus(ctx context.Context, invitationID uint, newStatus models.InvitationStatus, actor *models.User) (*models.Invitation, error) {
	ctx = ensureContext(ctx)

	if !newStatus.Valid() {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("invalid invitation status %d", newStatus))
	}

	recorder := events.NewRecorder(s.bus)
	var invitation models.Invitation

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&invitation, invitationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvitationNotFound
			}
			return fmt.Errorf("load invitation: %w", err)
		}

		if actor != nil && !policy.CanActOnInvitation(actor, &invitation) {
			return ErrCannotActOnInvitation
		}

		updates := map[string]any{}

		if err := s.bindActor(tx, &invitation, actor, updates); err != nil {
			return err
		}
		if err := s.bindFromDirectory(ctx, tx, &invitation, newStatus, updates); err != nil {
			return err
		}

		oldStatus := invitation.Status
		changes := policy.ComputeStatusTimestamps(&invitation, newStatus, s.now())

		if oldStatus != newStatus {
			updates["status"] = newStatus
			invitation.Status = newStatus
		}
		if changes.TouchStatusChangedAt {
			stamp := s.now()
			updates["status_changed_at"] = stamp
			invitation.StatusChangedAt = stamp
		}
		if !timesEqual(invitation.AcceptedAt, changes.AcceptedAt) {
			updates["accepted_at"] = changes.AcceptedAt
			invitation.AcceptedAt = changes.AcceptedAt
		}
		if !timesEqual(invitation.DeclinedAt, changes.DeclinedAt) {
			updates["declined_at"] = changes.DeclinedAt
			invitation.DeclinedAt = changes.DeclinedAt
		}

		if len(updates) > 0 {
			if err := tx.Model(&invitation).Updates(updates).Error; err != nil {
				return fmt.Errorf("persist transition: %w", err)
			}
		}

		recorder.Record(events.InvitationUpdated, toEventData(&invitation))
		if oldStatus != newStatus {
			switch newStatus {
			case models.InvitationAccepted:
				recorder.Record(events.InvitationAccepted, toEventData(&invitation))
			case models.InvitationDeclined:
				recorder.Record(events.InvitationDeclined, toEventData(&invitation))
			}
			metrics.InvitationTransitions.WithLabelValues(newStatus.String(), "transition").Inc()
		} else {
			metrics.InvitationTransitions.WithLabelValues(newStatus.String(), "reapply").Inc()
		}

		return nil
	})
	if err != nil {
		recorder.Discard()
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, fmt.Errorf("invitation service: apply status: %w", err)
	}

	recorder.Flush()
	return &invitation, nil
}

// bindActor binds the acting user to an unbound invitation when the emails
// match and no other invitation for the same course already holds the user.
// A would-be conflict skips the binding but not the transition.
func (s *InvitationService) bindActor(tx *gorm.DB, invitation *models.Invitation, actor *models.User, updates map[string]any) error {
	if actor == nil || !actor.Authenticated() || invitation.UserID != nil {
		return nil
	}

	invEmail := policy.NormalizeEmail(invitation.InviteEmail)
	actorEmail := policy.NormalizeEmail(actor.Email)
	if invEmail == "" || actorEmail == "" || invEmail != actorEmail {
		return nil
	}

	conflict, err := s.hasBindingConflict(tx, invitation, actor.ID)
	if err != nil {
		return err
	}
	if conflict {
		s.log.Warn("skipping actor binding, user already holds an invitation for this course",
			zap.Uint("invitation_id", invitation.ID),
			zap.Uint("user_id", actor.ID),
		)
		return nil
	}

	updates["user_id"] = actor.ID
	invitation.UserID = &actor.ID
	return nil
}

// bindFromDirectory re-resolves the invite email to an account when the
// invitation is still unbound. Acceptance without a resolvable account fails
// when the require-account policy is on; otherwise the transition proceeds
// unbound and the enrollment workflow waits for a later accept. A binding
// that would collide with another invitation for the same course is skipped,
// never failing the transition.
func (s *InvitationService) bindFromDirectory(ctx context.Context, tx *gorm.DB, invitation *models.Invitation, newStatus models.InvitationStatus, updates map[string]any) error {
	if invitation.UserID != nil || policy.NormalizeEmail(invitation.InviteEmail) == "" {
		return nil
	}

	user, err := s.directory.ByEmail(ctx, invitation.InviteEmail)
	if errors.Is(err, platform.ErrUserNotFound) {
		if newStatus == models.InvitationAccepted && s.requireAccountOnAccept {
			return ErrInviteeAccountMissing
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve invitee: %w", err)
	}

	conflict, err := s.hasBindingConflict(tx, invitation, user.ID)
	if err != nil {
		return err
	}
	if conflict {
		s.log.Warn("skipping invitee binding, user already holds an invitation for this course",
			zap.Uint("invitation_id", invitation.ID),
			zap.Uint("user_id", user.ID),
		)
		return nil
	}

	updates["user_id"] = user.ID
	invitation.UserID = &user.ID
	return nil
}

// hasBindingConflict reports whether binding the user would violate the
// one-invitation-per-(course, user) constraint against a different row.
func (s *InvitationService) hasBindingConflict(tx *gorm.DB, invitation *models.Invitation, userID uint) (bool, error) {
	var conflicts int64
	err := tx.Model(&models.Invitation{}).
		Where("catalog_course_id = ? AND user_id = ? AND id <> ?", invitation.CatalogCourseID, userID, invitation.ID).
		Count(&conflicts).Error
	if err != nil {
		return false, fmt.Errorf("check binding conflict: %w", err)
	}
	return conflicts > 0, nil
}

func (s *InvitationService) sendInviteEmail(ctx context.Context, invitation *models.Invitation) {
	if s.mailer == nil || invitation.InviteEmail == "" {
		return
	}

	message := mail.NewInviteMessage(invitation.InviteEmail, invitation.ID)
	if err := s.mailer.Send(ctx, message); err != nil && !errors.Is(err, mail.ErrSMTPDisabled) {
		s.log.Warn("invite email delivery failed",
			zap.Uint("invitation_id", invitation.ID),
			zap.Error(err),
		)
	}
}

func toEventData(invitation *models.Invitation) events.InvitationData {
	return events.InvitationData{
		ID:              invitation.ID,
		CatalogCourseID: invitation.CatalogCourseID,
		Status:          invitation.Status.String(),
		InvitedAt:       invitation.InvitedAt,
		InviteEmail:     invitation.InviteEmail,
		UserID:          invitation.UserID,
		AcceptedAt:      invitation.AcceptedAt,
		DeclinedAt:      invitation.DeclinedAt,
	}
}

func timesEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
