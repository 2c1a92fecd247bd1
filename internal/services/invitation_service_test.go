package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mondtic/corporate-access/internal/events"
	"github.com/mondtic/corporate-access/internal/models"
	"github.com/mondtic/corporate-access/internal/platform"
)

type invitationFixture struct {
	db      *gorm.DB
	bus     *events.Bus
	sink    *eventSink
	service *InvitationService
	course  *models.CatalogCourse
	clock   *time.Time
}

func newInvitationFixture(t *testing.T, opts ...InvitationOption) *invitationFixture {
	t.Helper()

	db := newTestDB(t)
	bus := events.NewBus(zap.NewNop())
	sink := newEventSink(bus)

	directory, err := platform.NewGormUserDirectory(db)
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	opts = append([]InvitationOption{WithInvitationClock(func() time.Time { return *clock })}, opts...)

	service, err := NewInvitationService(db, bus, directory, zap.NewNop(), opts...)
	require.NoError(t, err)

	catalog := seedCatalog(t, db, "acme", models.CatalogKindCorporate)
	course := seedCourse(t, db, catalog, "course-v1:Acme+CS101+2026")

	return &invitationFixture{
		db:      db,
		bus:     bus,
		sink:    sink,
		service: service,
		course:  course,
		clock:   clock,
	}
}

func TestInvitationCreateNormalizesAndBinds(t *testing.T) {
	fx := newInvitationFixture(t)
	jane := seedUser(t, fx.db, "jane", "jane@example.com")

	invitation, created, err := fx.service.Create(context.Background(), fx.course.ID, "  Jane@Example.COM ", nil)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "jane@example.com", invitation.InviteEmail)
	require.NotNil(t, invitation.UserID)
	require.Equal(t, jane.ID, *invitation.UserID)
	require.Equal(t, models.InvitationSent, invitation.Status)
	require.Equal(t, []events.Type{events.InvitationCreated}, fx.sink.types())

	// A differently-cased duplicate resolves to the same row.
	again, created, err := fx.service.Create(context.Background(), fx.course.ID, "JANE@example.com", nil)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, invitation.ID, again.ID)

	var count int64
	require.NoError(t, fx.db.Model(&models.Invitation{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
	require.Equal(t, []events.Type{events.InvitationCreated}, fx.sink.types())
}

func TestInvitationCreateUnknownEmailStaysUnbound(t *testing.T) {
	fx := newInvitationFixture(t)

	invitation, created, err := fx.service.Create(context.Background(), fx.course.ID, "nobody@example.com", nil)
	require.NoError(t, err)
	require.True(t, created)
	require.Nil(t, invitation.UserID)
}

func TestInvitationCreateBackfillsBinding(t *testing.T) {
	fx := newInvitationFixture(t)

	first, _, err := fx.service.Create(context.Background(), fx.course.ID, "late@example.com", nil)
	require.NoError(t, err)
	require.Nil(t, first.UserID)
	fx.sink.reset()

	user := seedUser(t, fx.db, "late", "late@example.com")

	second, created, err := fx.service.Create(context.Background(), fx.course.ID, "late@example.com", nil)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, second.ID)
	require.NotNil(t, second.UserID)
	require.Equal(t, user.ID, *second.UserID)
	require.Equal(t, []events.Type{events.InvitationUpdated}, fx.sink.types())
}

func TestInvitationCreateRejectsInvalidEmail(t *testing.T) {
	fx := newInvitationFixture(t)

	_, _, err := fx.service.Create(context.Background(), fx.course.ID, "not-an-email", nil)
	require.Error(t, err)

	_, _, err = fx.service.Create(context.Background(), fx.course.ID, "   ", nil)
	require.Error(t, err)
}

func TestInvitationCreateUnknownCourse(t *testing.T) {
	fx := newInvitationFixture(t)

	_, _, err := fx.service.Create(context.Background(), 9999, "jane@example.com", nil)
	require.ErrorIs(t, err, ErrCatalogCourseNotFound)
}

func TestInvitationCreateRecordsInviter(t *testing.T) {
	fx := newInvitationFixture(t)
	staff := seedStaff(t, fx.db, "admin", "admin@example.com")

	invitation, _, err := fx.service.Create(context.Background(), fx.course.ID, "jane@example.com", staff)
	require.NoError(t, err)
	require.NotNil(t, invitation.InvitedByID)
	require.Equal(t, staff.ID, *invitation.InvitedByID)
}

func TestAcceptStampsOnce(t *testing.T) {
	fx := newInvitationFixture(t)
	seedUser(t, fx.db, "jane", "jane@example.com")

	invitation, _, err := fx.service.Create(context.Background(), fx.course.ID, "jane@example.com", nil)
	require.NoError(t, err)
	fx.sink.reset()

	firstAccept := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	*fx.clock = firstAccept

	accepted, err := fx.service.Accept(context.Background(), invitation.ID)
	require.NoError(t, err)
	require.Equal(t, models.InvitationAccepted, accepted.Status)
	require.NotNil(t, accepted.AcceptedAt)
	require.True(t, accepted.AcceptedAt.Equal(firstAccept))
	require.True(t, accepted.StatusChangedAt.Equal(firstAccept))
	require.Equal(t, []events.Type{events.InvitationUpdated, events.InvitationAccepted}, fx.sink.types())
	fx.sink.reset()

	// Re-accepting later must not move any stamp.
	*fx.clock = firstAccept.Add(48 * time.Hour)

	again, err := fx.service.Accept(context.Background(), invitation.ID)
	require.NoError(t, err)
	require.True(t, again.AcceptedAt.Equal(firstAccept))
	require.True(t, again.StatusChangedAt.Equal(firstAccept))
	require.Equal(t, []events.Type{events.InvitationUpdated}, fx.sink.types())
}

func TestMarkSentResetsTerminalStamps(t *testing.T) {
	fx := newInvitationFixture(t)
	seedUser(t, fx.db, "jane", "jane@example.com")

	invitation, _, err := fx.service.Create(context.Background(), fx.course.ID, "jane@example.com", nil)
	require.NoError(t, err)

	_, err = fx.service.Accept(context.Background(), invitation.ID)
	require.NoError(t, err)

	resetAt := time.Date(2026, 3, 5, 8, 0, 0, 0, time.UTC)
	*fx.clock = resetAt

	reset, err := fx.service.MarkSent(context.Background(), invitation.ID)
	require.NoError(t, err)
	require.Equal(t, models.InvitationSent, reset.Status)
	require.Nil(t, reset.AcceptedAt)
	require.Nil(t, reset.DeclinedAt)
	require.True(t, reset.StatusChangedAt.Equal(resetAt))

	// A later accept stamps fresh.
	acceptAt := resetAt.Add(time.Hour)
	*fx.clock = acceptAt
	accepted, err := fx.service.Accept(context.Background(), invitation.ID)
	require.NoError(t, err)
	require.True(t, accepted.AcceptedAt.Equal(acceptAt))
}

func TestDeclineClearsAcceptedStamp(t *testing.T) {
	fx := newInvitationFixture(t)
	seedUser(t, fx.db, "jane", "jane@example.com")

	invitation, _, err := fx.service.Create(context.Background(), fx.course.ID, "jane@example.com", nil)
	require.NoError(t, err)

	_, err = fx.service.Accept(context.Background(), invitation.ID)
	require.NoError(t, err)

	declined, err := fx.service.Decline(context.Background(), invitation.ID)
	require.NoError(t, err)
	require.Equal(t, models.InvitationDeclined, declined.Status)
	require.Nil(t, declined.AcceptedAt)
	require.NotNil(t, declined.DeclinedAt)
}

func TestApplyStatusAsUserBindingLocksRow(t *testing.T) {
	fx := newInvitationFixture(t)
	jane := seedUser(t, fx.db, "jane", "jane@example.com")
	impostor := seedUser(t, fx.db, "impostor", "jane@example.com")

	invitation, _, err := fx.service.Create(context.Background(), fx.course.ID, "jane@example.com", nil)
	require.NoError(t, err)
	require.Equal(t, jane.ID, *invitation.UserID)

	// Sharing the invite email is not enough once the row is bound.
	_, err = fx.service.ApplyStatusAsUser(context.Background(), invitation.ID, impostor, models.InvitationAccepted)
	require.ErrorIs(t, err, ErrCannotActOnInvitation)

	accepted, err := fx.service.ApplyStatusAsUser(context.Background(), invitation.ID, jane, models.InvitationAccepted)
	require.NoError(t, err)
	require.Equal(t, models.InvitationAccepted, accepted.Status)
}

func TestApplyStatusAsUserStaffOverride(t *testing.T) {
	fx := newInvitationFixture(t)
	seedUser(t, fx.db, "jane", "jane@example.com")
	staff := seedStaff(t, fx.db, "admin", "admin@example.com")

	invitation, _, err := fx.service.Create(context.Background(), fx.course.ID, "jane@example.com", nil)
	require.NoError(t, err)

	declined, err := fx.service.ApplyStatusAsUser(context.Background(), invitation.ID, staff, models.InvitationDeclined)
	require.NoError(t, err)
	require.Equal(t, models.InvitationDeclined, declined.Status)
}

func TestApplyStatusAsUserBindsMatchingActor(t *testing.T) {
	fx := newInvitationFixture(t)

	invitation, _, err := fx.service.Create(context.Background(), fx.course.ID, "jane@example.com", nil)
	require.NoError(t, err)
	require.Nil(t, invitation.UserID)

	jane := seedUser(t, fx.db, "jane", "Jane@Example.com")

	accepted, err := fx.service.ApplyStatusAsUser(context.Background(), invitation.ID, jane, models.InvitationAccepted)
	require.NoError(t, err)
	require.NotNil(t, accepted.UserID)
	require.Equal(t, jane.ID, *accepted.UserID)
	require.Equal(t, models.InvitationAccepted, accepted.Status)
}

func TestApplyStatusAsUserAnonymousDenied(t *testing.T) {
	fx := newInvitationFixture(t)

	invitation, _, err := fx.service.Create(context.Background(), fx.course.ID, "jane@example.com", nil)
	require.NoError(t, err)

	_, err = fx.service.ApplyStatusAsUser(context.Background(), invitation.ID, nil, models.InvitationAccepted)
	require.ErrorIs(t, err, ErrCannotActOnInvitation)
}

func TestAcceptRequiresResolvableAccount(t *testing.T) {
	fx := newInvitationFixture(t)

	invitation, _, err := fx.service.Create(context.Background(), fx.course.ID, "ghost@example.com", nil)
	require.NoError(t, err)

	_, err = fx.service.Accept(context.Background(), invitation.ID)
	require.ErrorIs(t, err, ErrInviteeAccountMissing)

	// The failed accept must not have leaked a partial transition.
	var reloaded models.Invitation
	require.NoError(t, fx.db.First(&reloaded, invitation.ID).Error)
	require.Equal(t, models.InvitationSent, reloaded.Status)
	require.Nil(t, reloaded.AcceptedAt)

	// Declining without an account is fine.
	declined, err := fx.service.Decline(context.Background(), invitation.ID)
	require.NoError(t, err)
	require.Equal(t, models.InvitationDeclined, declined.Status)
}

func TestAcceptWithoutAccountWhenPolicyRelaxed(t *testing.T) {
	fx := newInvitationFixture(t, WithRequireAccountOnAccept(false))

	invitation, _, err := fx.service.Create(context.Background(), fx.course.ID, "ghost@example.com", nil)
	require.NoError(t, err)

	accepted, err := fx.service.Accept(context.Background(), invitation.ID)
	require.NoError(t, err)
	require.Equal(t, models.InvitationAccepted, accepted.Status)
	require.Nil(t, accepted.UserID)
}

func TestApplyStatusSkipsBindingOnCourseConflict(t *testing.T) {
	fx := newInvitationFixture(t)
	jane := seedUser(t, fx.db, "jane", "jane@example.com")

	// Jane already holds a bound invitation for this course under an old email.
	acceptedAt := *fx.clock
	bound := &models.Invitation{
		CatalogCourseID: fx.course.ID,
		UserID:          &jane.ID,
		InviteEmail:     "jane.old@example.com",
		Status:          models.InvitationAccepted,
		InvitedAt:       *fx.clock,
		StatusChangedAt: *fx.clock,
		AcceptedAt:      &acceptedAt,
	}
	require.NoError(t, fx.db.Create(bound).Error)

	unbound := &models.Invitation{
		CatalogCourseID: fx.course.ID,
		InviteEmail:     "jane@example.com",
		Status:          models.InvitationSent,
		InvitedAt:       *fx.clock,
		StatusChangedAt: *fx.clock,
	}
	require.NoError(t, fx.db.Create(unbound).Error)

	// Re-binding would collide with the bound row, so the binding is skipped
	// while the transition itself still goes through.
	declined, err := fx.service.Decline(context.Background(), unbound.ID)
	require.NoError(t, err)
	require.Equal(t, models.InvitationDeclined, declined.Status)
	require.Nil(t, declined.UserID)
}

func TestApplyStatusAsUserSkipsBindingOnCourseConflict(t *testing.T) {
	fx := newInvitationFixture(t)
	jane := seedUser(t, fx.db, "jane", "jane@example.com")

	bound := &models.Invitation{
		CatalogCourseID: fx.course.ID,
		UserID:          &jane.ID,
		InviteEmail:     "jane.old@example.com",
		Status:          models.InvitationSent,
		InvitedAt:       *fx.clock,
		StatusChangedAt: *fx.clock,
	}
	require.NoError(t, fx.db.Create(bound).Error)

	unbound := &models.Invitation{
		CatalogCourseID: fx.course.ID,
		InviteEmail:     "jane@example.com",
		Status:          models.InvitationSent,
		InvitedAt:       *fx.clock,
		StatusChangedAt: *fx.clock,
	}
	require.NoError(t, fx.db.Create(unbound).Error)

	accepted, err := fx.service.ApplyStatusAsUser(context.Background(), unbound.ID, jane, models.InvitationAccepted)
	require.NoError(t, err)
	require.Equal(t, models.InvitationAccepted, accepted.Status)
	require.Nil(t, accepted.UserID, "a conflicting binding stays skipped")

	var reloadedBound models.Invitation
	require.NoError(t, fx.db.First(&reloadedBound, bound.ID).Error)
	require.Equal(t, models.InvitationSent, reloadedBound.Status)
}

func TestInvitationCreateResolvesConcurrentWinner(t *testing.T) {
	fx := newInvitationFixture(t)

	winner, _, err := fx.service.Create(context.Background(), fx.course.ID, "jane@example.com", nil)
	require.NoError(t, err)
	fx.sink.reset()

	// Hide the winner from the next lookup so the insert collides, the way a
	// creator racing past the get-or-create does.
	forceNextLookupMiss(t, fx.db, "invitations")

	invitation, created, err := fx.service.Create(context.Background(), fx.course.ID, "jane@example.com", nil)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, winner.ID, invitation.ID)
	require.Empty(t, fx.sink.types(), "the losing call publishes nothing")

	var count int64
	require.NoError(t, fx.db.Model(&models.Invitation{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestApplyStatusUnknownInvitation(t *testing.T) {
	fx := newInvitationFixture(t)

	_, err := fx.service.ApplyStatus(context.Background(), 12345, models.InvitationAccepted)
	require.ErrorIs(t, err, ErrInvitationNotFound)
}

func TestApplyStatusRejectsInvalidStatus(t *testing.T) {
	fx := newInvitationFixture(t)

	_, err := fx.service.ApplyStatus(context.Background(), 1, models.InvitationStatus(99))
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrInvitationNotFound))
}
