package policy

import (
	"github.com/mondtic/corporate-access/internal/models"
)

// RosterLookup reports whether the user holds an active roster row for the
// catalog. Injected so the predicate itself stays free of storage concerns.
type RosterLookup func(catalogID string, userID uint) (bool, error)

// EmailMatcher reports whether the email matches any of the catalog's
// compiled patterns (full-string, case-insensitive).
type EmailMatcher func(catalogID string, email string) bool

// CanUserSeeCatalogCourses decides whether the user may view the catalog's
// courses. Access is granted when any rung of the ladder holds:
//
//  1. staff or superuser
//  2. the catalog is public
//  3. (authenticated only from here on)
//  4. active roster membership
//  5. email matches one of the catalog's anchored patterns
//
// Ordinary denial is a false return, never an error; a roster lookup failure
// is surfaced so callers can decide whether to fail open or closed.
func CanUserSeeCatalogCourses(user *models.User, catalog *models.Catalog, roster RosterLookup, matches EmailMatcher) (bool, error) {
	if user.IsPrivileged() {
		return true, nil
	}
	if catalog.IsPublic {
		return true, nil
	}
	if !user.Authenticated() {
		return false, nil
	}

	if roster != nil {
		member, err := roster(catalog.ID, user.ID)
		if err != nil {
			return false, err
		}
		if member {
			return true, nil
		}
	}

	if matches != nil && matches(catalog.ID, NormalizeEmail(user.Email)) {
		return true, nil
	}
	return false, nil
}
