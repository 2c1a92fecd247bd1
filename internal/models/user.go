package models

// User mirrors the host platform's account record for the fields this
// module reads. The host owns authentication; only identity and the staff
// flags matter here.
type User struct {
	ID          uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Username    string `gorm:"size:150;uniqueIndex;not null" json:"username"`
	Email       string `gorm:"size:254;index;not null" json:"email"`
	IsStaff     bool   `gorm:"default:false" json:"is_staff"`
	IsSuperuser bool   `gorm:"column:is_superuser;default:false" json:"is_superuser"`
	IsActive    bool   `gorm:"default:true" json:"is_active"`
}

// IsPrivileged reports whether the user bypasses catalog eligibility checks.
func (u *User) IsPrivileged() bool {
	if u == nil {
		return false
	}
	return u.IsStaff || u.IsSuperuser
}

// Authenticated reports whether this value represents a signed-in account.
// A nil user stands in for the anonymous visitor.
func (u *User) Authenticated() bool {
	return u != nil && u.ID != 0
}
