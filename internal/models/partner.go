package models

// CorporatePartner is a company that manages one or more course catalogs.
type CorporatePartner struct {
	ID          uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Code        string `gorm:"size:255;uniqueIndex;not null" json:"code"`
	Name        string `gorm:"size:255;not null" json:"name"`
	LogoURL     string `gorm:"size:500" json:"logo_url,omitempty"`
	HomepageURL string `gorm:"size:500" json:"homepage_url,omitempty"`

	Catalogs []Catalog `gorm:"foreignKey:PartnerID" json:"catalogs,omitempty"`
}
