package policy

import (
	"strings"
	"time"

	"github.com/mondtic/corporate-access/internal/models"
)

// StatusTimestampChanges captures the desired timestamp values for a status
// change. Pure data; persistence decides which fields actually need writing.
type StatusTimestampChanges struct {
	AcceptedAt           *time.Time
	DeclinedAt           *time.Time
	TouchStatusChangedAt bool
}

// ComputeStatusTimestamps is the pure transition rule: given the invitation's
// current state and a new status, compute the timestamps the row must end up
// with. Re-applying a terminal status keeps the original stamp (no drift);
// the first transition into a terminal state stamps it with now exactly once.
// SENT resets both stamps, which administrative "mark sent" uses.
func ComputeStatusTimestamps(inv *models.Invitation, newStatus models.InvitationStatus, now time.Time) StatusTimestampChanges {
	touch := inv.Status != newStatus

	switch newStatus {
	case models.InvitationAccepted:
		accepted := inv.AcceptedAt
		if accepted == nil {
			accepted = &now
		}
		return StatusTimestampChanges{
			AcceptedAt:           accepted,
			DeclinedAt:           nil,
			TouchStatusChangedAt: touch,
		}
	case models.InvitationDeclined:
		declined := inv.DeclinedAt
		if declined == nil {
			declined = &now
		}
		return StatusTimestampChanges{
			AcceptedAt:           nil,
			DeclinedAt:           declined,
			TouchStatusChangedAt: touch,
		}
	default: // SENT
		return StatusTimestampChanges{
			AcceptedAt:           nil,
			DeclinedAt:           nil,
			TouchStatusChangedAt: touch,
		}
	}
}

// CanActOnInvitation is the authorization rule for self accept/decline.
//   - staff/superuser: always allowed
//   - invitation bound to a user: only that exact user, even if another
//     account shares the invite email (anti-hijack: binding locks the row)
//   - unbound: the actor whose email matches invite_email case-insensitively
func CanActOnInvitation(actor *models.User, inv *models.Invitation) bool {
	if actor.IsPrivileged() {
		return true
	}
	if !actor.Authenticated() {
		return false
	}

	if inv.UserID != nil {
		return *inv.UserID == actor.ID
	}

	invEmail := NormalizeEmail(inv.InviteEmail)
	actorEmail := NormalizeEmail(actor.Email)
	return invEmail != "" && actorEmail != "" && invEmail == actorEmail
}

// NormalizeEmail trims and lowercases an address for storage and comparison.
func NormalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
