package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mondtic/corporate-access/internal/models"
	"github.com/mondtic/corporate-access/internal/platform"
	"github.com/mondtic/corporate-access/internal/policy"
	"github.com/mondtic/corporate-access/pkg/metrics"
)

// TaskImportInvitations is the job runner task name for async invitation imports.
const TaskImportInvitations = "corporate_access.import_invitations"

// ImportRowResult is the outcome of one bulk import row.
type ImportRowResult struct {
	Row      int    `json:"row"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Created  bool   `json:"created"`
	Err      string `json:"error,omitempty"`
}

// LearnerRow is one learner import row: a username or email identifying the
// account, plus the desired roster active flag.
type LearnerRow struct {
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Active   bool   `json:"active"`
}

// ImportSummary aggregates a bulk import run. One bad row never aborts the
// rest; callers inspect Rows for per-row outcomes.
type ImportSummary struct {
	Created  int               `json:"created"`
	Existing int               `json:"existing"`
	Failed   int               `json:"failed"`
	Rows     []ImportRowResult `json:"rows"`
}

// ImportInvitationsPayload is the job payload for TaskImportInvitations.
type ImportInvitationsPayload struct {
	CatalogCourseID uint     `json:"catalog_course_id"`
	Emails          []string `json:"emails"`
	InvitedByID     *uint    `json:"invited_by_id,omitempty"`
}

// BulkImportService imports invitations and catalog learners in batches,
// synchronously or offloaded to the host's job runner.
type BulkImportService struct {
	db          *gorm.DB
	invitations *InvitationService
	directory   platform.UserDirectory
	runner      platform.JobRunner
	log         *zap.Logger
}

// NewBulkImportService constructs a BulkImportService. runner may be nil when
// async submission is not available.
func NewBulkImportService(db *gorm.DB, invitations *InvitationService, directory platform.UserDirectory, runner platform.JobRunner, log *zap.Logger) (*BulkImportService, error) {
	if db == nil {
		return nil, errors.New("bulk import: db is required")
	}
	if invitations == nil {
		return nil, errors.New("bulk import: invitation service is required")
	}
	if directory == nil {
		return nil, errors.New("bulk import: user directory is required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &BulkImportService{
		db:          db,
		invitations: invitations,
		directory:   directory,
		runner:      runner,
		log:         log.Named("bulk_import"),
	}, nil
}

// ImportInvitations creates one invitation per email for the catalog course.
// Rows that already have an invitation count as existing, not failed.
func (s *BulkImportService) ImportInvitations(ctx context.Context, catalogCourseID uint, emails []string, invitedBy *models.User) (*ImportSummary, error) {
	ctx = ensureContext(ctx)
	summary := &ImportSummary{}

	for i, email := range emails {
		result := ImportRowResult{Row: i + 1, Email: strings.TrimSpace(email)}

		_, created, err := s.invitations.Create(ctx, catalogCourseID, email, invitedBy)
		switch {
		case err != nil:
			result.Err = err.Error()
			summary.Failed++
			metrics.BulkImportRows.WithLabelValues("invitations", "failed").Inc()
		case created:
			result.Created = true
			summary.Created++
			metrics.BulkImportRows.WithLabelValues("invitations", "created").Inc()
		default:
			summary.Existing++
			metrics.BulkImportRows.WithLabelValues("invitations", "existing").Inc()
		}

		summary.Rows = append(summary.Rows, result)
	}

	s.log.Info("invitation import finished",
		zap.Uint("catalog_course_id", catalogCourseID),
		zap.Int("created", summary.Created),
		zap.Int("existing", summary.Existing),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

// ImportLearners adds accounts to a catalog roster. Rows resolve by username
// first, then by email; rows with no matching account fail with "User not
// found". A row for a learner already on the roster counts as existing and
// re-applies the row's active flag.
func (s *BulkImportService) ImportLearners(ctx context.Context, catalogID string, rows []LearnerRow) (*ImportSummary, error) {
	ctx = ensureContext(ctx)
	summary := &ImportSummary{}

	for i, row := range rows {
		row.Username = strings.TrimSpace(row.Username)
		row.Email = policy.NormalizeEmail(row.Email)
		result := ImportRowResult{Row: i + 1, Username: row.Username, Email: row.Email}

		created, err := s.importLearner(ctx, catalogID, row)
		switch {
		case err != nil:
			result.Err = err.Error()
			summary.Failed++
			metrics.BulkImportRows.WithLabelValues("learners", "failed").Inc()
		case created:
			result.Created = true
			summary.Created++
			metrics.BulkImportRows.WithLabelValues("learners", "created").Inc()
		default:
			summary.Existing++
			metrics.BulkImportRows.WithLabelValues("learners", "existing").Inc()
		}

		summary.Rows = append(summary.Rows, result)
	}

	s.log.Info("learner import finished",
		zap.String("catalog_id", catalogID),
		zap.Int("created", summary.Created),
		zap.Int("existing", summary.Existing),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

func (s *BulkImportService) importLearner(ctx context.Context, catalogID string, row LearnerRow) (bool, error) {
	user, err := s.resolveLearner(ctx, row)
	if err != nil {
		return false, err
	}

	var existing models.CatalogLearner
	err = s.db.WithContext(ctx).
		Where("catalog_id = ? AND user_id = ?", catalogID, user.ID).
		First(&existing).Error
	if err == nil {
		if existing.Active != row.Active {
			if err := s.db.WithContext(ctx).Model(&existing).Update("active", row.Active).Error; err != nil {
				return false, fmt.Errorf("update roster entry: %w", err)
			}
		}
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("load roster entry: %w", err)
	}

	learner := &models.CatalogLearner{
		CatalogID: catalogID,
		UserID:    user.ID,
		Active:    row.Active,
	}
	// Active is selected explicitly so a false value survives the column default.
	if err := s.db.WithContext(ctx).Select("CatalogID", "UserID", "Active").Create(learner).Error; err != nil {
		if isUniqueConstraintError(err) {
			return false, nil
		}
		return false, fmt.Errorf("create roster entry: %w", err)
	}
	return true, nil
}

// resolveLearner prefers the username when the row carries both identifiers.
func (s *BulkImportService) resolveLearner(ctx context.Context, row LearnerRow) (*models.User, error) {
	var (
		user *models.User
		err  error
	)
	switch {
	case row.Username != "":
		user, err = s.directory.ByUsername(ctx, row.Username)
	case row.Email != "":
		user, err = s.directory.ByEmail(ctx, row.Email)
	default:
		return nil, errors.New("Missing username/email in row")
	}
	if errors.Is(err, platform.ErrUserNotFound) {
		return nil, errors.New("User not found")
	}
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}
	return user, nil
}

// SubmitInvitations offloads an invitation import to the host's job runner
// and returns the job id for polling.
func (s *BulkImportService) SubmitInvitations(ctx context.Context, catalogCourseID uint, emails []string, invitedBy *models.User) (string, error) {
	ctx = ensureContext(ctx)

	if s.runner == nil {
		return "", errors.New("bulk import: no job runner configured")
	}

	payload := ImportInvitationsPayload{
		CatalogCourseID: catalogCourseID,
		Emails:          emails,
	}
	if invitedBy != nil && invitedBy.ID != 0 {
		payload.InvitedByID = &invitedBy.ID
	}

	jobID, err := s.runner.Submit(ctx, TaskImportInvitations, payload)
	if err != nil {
		return "", fmt.Errorf("bulk import: submit job: %w", err)
	}

	s.log.Info("invitation import submitted",
		zap.String("job_id", jobID),
		zap.Uint("catalog_course_id", catalogCourseID),
		zap.Int("emails", len(emails)),
	)
	return jobID, nil
}

// ParseEmailsCSV reads a one-column (or email-first) CSV and returns the
// non-empty email values, skipping a header row when the first cell does not
// look like an address.
func ParseEmailsCSV(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var emails []string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse csv: %w", err)
		}
		if len(record) == 0 {
			continue
		}

		value := strings.TrimSpace(record[0])
		if value == "" {
			continue
		}
		if len(emails) == 0 && !strings.Contains(value, "@") {
			continue
		}
		emails = append(emails, value)
	}
	return emails, nil
}

var learnerActiveValues = map[string]bool{"true": true, "1": true, "yes": true, "y": true, "t": true}

// ParseLearnersCSV reads a header-led CSV with username/email/active columns
// into learner rows. active defaults to true when the column is absent or a
// cell is blank; rows with neither identifier are kept so the import can fail
// them individually.
func ParseLearnersCSV(r io.Reader) ([]LearnerRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	usernameCol, hasUsername := columns["username"]
	emailCol, hasEmail := columns["email"]
	activeCol, hasActive := columns["active"]
	if !hasUsername && !hasEmail {
		return nil, errors.New("parse csv: expected a username or email column")
	}

	var rows []LearnerRow
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse csv: %w", err)
		}

		row := LearnerRow{Active: true}
		if hasUsername && usernameCol < len(record) {
			row.Username = strings.TrimSpace(record[usernameCol])
		}
		if hasEmail && emailCol < len(record) {
			row.Email = strings.TrimSpace(record[emailCol])
		}
		if hasActive && activeCol < len(record) {
			if value := strings.ToLower(strings.TrimSpace(record[activeCol])); value != "" {
				row.Active = learnerActiveValues[value]
			}
		}
		if row.Username == "" && row.Email == "" && blankRecord(record) {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func blankRecord(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
