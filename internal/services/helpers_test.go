package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mondtic/corporate-access/internal/database/testutil"
	"github.com/mondtic/corporate-access/internal/events"
	"github.com/mondtic/corporate-access/internal/models"
	"github.com/mondtic/corporate-access/internal/platform"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	return testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
}

func seedUser(t *testing.T, db *gorm.DB, username, email string) *models.User {
	t.Helper()
	user := &models.User{Username: username, Email: email, IsActive: true}
	require.NoError(t, db.Create(user).Error)
	return user
}

func seedStaff(t *testing.T, db *gorm.DB, username, email string) *models.User {
	t.Helper()
	user := &models.User{Username: username, Email: email, IsActive: true, IsStaff: true}
	require.NoError(t, db.Create(user).Error)
	return user
}

func seedCatalog(t *testing.T, db *gorm.DB, slug, kind string) *models.Catalog {
	t.Helper()
	catalog := &models.Catalog{Slug: slug, Name: slug, Kind: kind}
	require.NoError(t, db.Create(catalog).Error)
	return catalog
}

func seedCourse(t *testing.T, db *gorm.DB, catalog *models.Catalog, courseKey string) *models.CatalogCourse {
	t.Helper()
	course := &models.CatalogCourse{CatalogID: catalog.ID, CourseKey: courseKey}
	require.NoError(t, db.Create(course).Error)
	return course
}

// forceNextLookupMiss makes the next query against the table report no rows,
// standing in for a concurrent writer that commits between the lookup and the
// insert of a get-or-create.
func forceNextLookupMiss(t *testing.T, db *gorm.DB, table string) {
	t.Helper()

	name := "test:force_miss_" + table
	fired := false
	err := db.Callback().Query().After("gorm:query").Register(name, func(tx *gorm.DB) {
		if fired || tx.Error != nil || tx.Statement.Table != table {
			return
		}
		fired = true
		tx.AddError(gorm.ErrRecordNotFound)
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Callback().Query().Remove(name))
	})
}

// eventSink records everything published on a bus, in order.
type eventSink struct {
	mu       sync.Mutex
	received []recordedEvent
}

type recordedEvent struct {
	Type events.Type
	Data events.InvitationData
}

func newEventSink(bus *events.Bus) *eventSink {
	sink := &eventSink{}
	for _, t := range []events.Type{
		events.InvitationCreated,
		events.InvitationUpdated,
		events.InvitationAccepted,
		events.InvitationDeclined,
	} {
		eventType := t
		bus.Subscribe(eventType, func(data events.InvitationData) {
			sink.mu.Lock()
			defer sink.mu.Unlock()
			sink.received = append(sink.received, recordedEvent{Type: eventType, Data: data})
		})
	}
	return sink
}

func (s *eventSink) types() []events.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Type, len(s.received))
	for i, e := range s.received {
		out[i] = e.Type
	}
	return out
}

func (s *eventSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = nil
}

// fakeEnrollmentAPI is an in-memory platform.EnrollmentAPI.
type fakeEnrollmentAPI struct {
	mu       sync.Mutex
	modes    map[string][]string
	enrolled map[string]bool
	enrolls  []string
	failNext error
}

func newFakeEnrollmentAPI() *fakeEnrollmentAPI {
	return &fakeEnrollmentAPI{
		modes:    map[string][]string{},
		enrolled: map[string]bool{},
	}
}

func enrollmentKey(userID uint, courseKey string) string {
	return fmt.Sprintf("%d/%s", userID, courseKey)
}

func (f *fakeEnrollmentAPI) Enroll(_ context.Context, userID uint, courseKey, mode string) (*platform.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return nil, err
	}
	f.enrolled[enrollmentKey(userID, courseKey)] = true
	f.enrolls = append(f.enrolls, fmt.Sprintf("%d/%s/%s", userID, courseKey, mode))
	return &platform.Enrollment{CourseKey: courseKey, Mode: mode, IsActive: true}, nil
}

func (f *fakeEnrollmentAPI) AvailableModes(_ context.Context, courseKey string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.modes[courseKey], nil
}

func (f *fakeEnrollmentAPI) IsActivelyEnrolled(_ context.Context, userID uint, courseKey string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enrolled[enrollmentKey(userID, courseKey)], nil
}

// fakeJobRunner remembers submitted jobs.
type fakeJobRunner struct {
	mu       sync.Mutex
	lastTask string
	payloads []any
}

func (f *fakeJobRunner) Submit(_ context.Context, taskName string, payload any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastTask = taskName
	f.payloads = append(f.payloads, payload)
	return fmt.Sprintf("job-%d", len(f.payloads)), nil
}

func (f *fakeJobRunner) Poll(_ context.Context, jobID string) (*platform.JobResult, error) {
	return &platform.JobResult{Status: platform.JobSuccess}, nil
}
