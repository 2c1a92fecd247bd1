package events

import (
	"time"
)

// Type identifies one of the invitation notification channels. The names are
// a wire contract shared with external subscribers; do not rename.
type Type string

const (
	InvitationCreated  Type = "invitation.created"
	InvitationUpdated  Type = "invitation.updated"
	InvitationAccepted Type = "invitation.accepted"
	InvitationDeclined Type = "invitation.declined"
)

// InvitationData is the payload carried by every invitation event.
//
// Required: ID, CatalogCourseID, Status, InvitedAt.
// Optional: InviteEmail, UserID, AcceptedAt, DeclinedAt.
type InvitationData struct {
	ID              uint       `json:"id"`
	CatalogCourseID uint       `json:"catalog_course_id"`
	Status          string     `json:"status"` // "SENT" | "ACCEPTED" | "DECLINED"
	InvitedAt       time.Time  `json:"invited_at"`
	InviteEmail     string     `json:"invite_email,omitempty"`
	UserID          *uint      `json:"user_id,omitempty"`
	AcceptedAt      *time.Time `json:"accepted_at,omitempty"`
	DeclinedAt      *time.Time `json:"declined_at,omitempty"`
}
