package models

import "time"

// Catalog kinds. Eligibility resolution dispatches on this discriminator
// instead of subclass tables; new variants register a strategy keyed by kind.
const (
	CatalogKindFlexible  = "flexible"
	CatalogKindCorporate = "corporate_partner"
)

// Catalog is a named, access-controlled grouping of courses. The corporate
// partner variant carries partner ownership, limits, and an availability
// window; other variants may ignore those columns.
type Catalog struct {
	BaseModel

	Slug string `gorm:"size:255;uniqueIndex;not null" json:"slug"`
	Name string `gorm:"size:255;not null" json:"name"`
	Kind string `gorm:"size:50;index;not null;default:corporate_partner" json:"kind"`

	PartnerID *uint             `gorm:"index" json:"partner_id,omitempty"`
	Partner   *CorporatePartner `gorm:"constraint:OnDelete:CASCADE" json:"partner,omitempty"`

	EnrollmentLimit  uint       `gorm:"default:0" json:"enrollment_limit"`
	UserLimit        uint       `gorm:"default:0" json:"user_limit"`
	IsSelfEnrollment bool       `gorm:"default:false" json:"is_self_enrollment"`
	IsPublic         bool       `gorm:"default:false" json:"is_public"`
	AvailableStart   *time.Time `json:"available_start,omitempty"`
	AvailableEnd     *time.Time `json:"available_end,omitempty"`

	AuthorizationMessage string `gorm:"type:text" json:"authorization_message,omitempty"`
	SupportEmail         string `gorm:"size:254" json:"support_email,omitempty"`
	AlternativeLink      string `gorm:"size:500" json:"alternative_link,omitempty"`

	EmailRegexes []CatalogEmailRegex `gorm:"foreignKey:CatalogID" json:"email_regexes,omitempty"`
	Courses      []CatalogCourse     `gorm:"foreignKey:CatalogID" json:"courses,omitempty"`
	Learners     []CatalogLearner    `gorm:"foreignKey:CatalogID" json:"learners,omitempty"`
}

// CatalogEmailRegex stores one email pattern granting catalog visibility.
// Patterns are normalized to be fully anchored before persistence; any
// create/update/delete must invalidate the compiled-pattern cache.
type CatalogEmailRegex struct {
	ID        uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	CatalogID string `gorm:"type:uuid;index;not null" json:"catalog_id"`
	Pattern   string `gorm:"size:500;not null" json:"pattern"`

	Catalog *Catalog `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// CatalogCourse links a catalog to a course run with display ordering.
type CatalogCourse struct {
	ID        uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	CatalogID string `gorm:"type:uuid;not null;uniqueIndex:idx_catalog_course" json:"catalog_id"`
	CourseKey string `gorm:"size:255;not null;uniqueIndex:idx_catalog_course" json:"course_key"`
	Position  uint   `gorm:"default:0" json:"position"`

	Catalog *Catalog `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// CatalogLearner is explicit roster membership, independent of email
// matching.
type CatalogLearner struct {
	ID        uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	CatalogID string `gorm:"type:uuid;not null;uniqueIndex:idx_catalog_learner" json:"catalog_id"`
	UserID    uint   `gorm:"not null;uniqueIndex:idx_catalog_learner" json:"user_id"`
	Active    bool   `gorm:"default:true" json:"active"`

	Catalog *Catalog `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	User    *User    `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}
