package models

// Resource is a measurable capacity dimension metered by quotas, e.g.
// "api-calls" or "storage-mb". Units is descriptive only and never enters
// any calculation.
type Resource struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Codename string `gorm:"type:varchar(191);not null;uniqueIndex" json:"codename"`
	Units    string `gorm:"type:varchar(64);not null;default:''" json:"units"`
}

func (r Resource) String() string {
	return r.Codename
}
