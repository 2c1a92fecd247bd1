package models

import "time"

// InvitationStatus enumerates the invitation lifecycle states.
type InvitationStatus int

const (
	InvitationSent     InvitationStatus = 10
	InvitationAccepted InvitationStatus = 20
	InvitationDeclined InvitationStatus = 30
)

// String renders the status for event payloads and logs.
func (s InvitationStatus) String() string {
	switch s {
	case InvitationSent:
		return "SENT"
	case InvitationAccepted:
		return "ACCEPTED"
	case InvitationDeclined:
		return "DECLINED"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether the value is one of the modeled states.
func (s InvitationStatus) Valid() bool {
	return s == InvitationSent || s == InvitationAccepted || s == InvitationDeclined
}

// Invitation invites an email (or an already-known user) to enroll in one
// catalog course.
//
// Write-time invariants, kept in sync by the invitation service:
//   - SENT     => accepted_at and declined_at both null
//   - ACCEPTED => accepted_at set, declined_at null
//   - DECLINED => declined_at set, accepted_at null
//   - user_id or invite_email must be present
//   - invite_email is stored trimmed and lowercased, so the unique index on
//     (catalog_course_id, invite_email) is effectively case-insensitive
type Invitation struct {
	ID uint `gorm:"primaryKey;autoIncrement" json:"id"`

	CatalogCourseID uint           `gorm:"not null;uniqueIndex:idx_invitation_course_email;uniqueIndex:idx_invitation_course_user" json:"catalog_course_id"`
	CatalogCourse   *CatalogCourse `gorm:"constraint:OnDelete:RESTRICT" json:"catalog_course,omitempty"`

	UserID *uint `gorm:"uniqueIndex:idx_invitation_course_user" json:"user_id,omitempty"`
	User   *User `json:"user,omitempty"`

	InvitedByID *uint `json:"invited_by_id,omitempty"`
	InvitedBy   *User `gorm:"foreignKey:InvitedByID" json:"invited_by,omitempty"`

	InviteEmail string `gorm:"size:254;uniqueIndex:idx_invitation_course_email" json:"invite_email,omitempty"`

	Status InvitationStatus `gorm:"not null;default:10" json:"status"`

	InvitedAt       time.Time  `gorm:"not null" json:"invited_at"`
	StatusChangedAt time.Time  `gorm:"not null" json:"status_changed_at"`
	AcceptedAt      *time.Time `json:"accepted_at,omitempty"`
	DeclinedAt      *time.Time `json:"declined_at,omitempty"`
}

// CatalogCourseEnrollment is the local record that an invitation was honored,
// one row per (user, catalog course). Created once and never duplicated; the
// active flag is never flipped by re-running the workflow.
type CatalogCourseEnrollment struct {
	ID              uint `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID          uint `gorm:"not null;uniqueIndex:idx_enrollment_user_course" json:"user_id"`
	CatalogCourseID uint `gorm:"not null;uniqueIndex:idx_enrollment_user_course" json:"catalog_course_id"`
	Active          bool `gorm:"default:true" json:"active"`

	CreatedAt time.Time `json:"created_at"`

	User          *User          `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	CatalogCourse *CatalogCourse `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}
