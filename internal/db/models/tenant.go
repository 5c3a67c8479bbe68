package models

import "time"

// Tenant represents an organization namespace that canonical records are
// projected into. Disabled tenants are skipped by the tenant sync
// orchestrator.
type Tenant struct {
	// ID is the tenant identifier, chosen at tenant creation.
	ID string `gorm:"primaryKey;size:64"`
	// Name is the human readable tenant name.
	Name string `gorm:"size:128;not null"`
	// Enabled indicates whether the tenant participates in syncs.
	Enabled bool `gorm:"not null;default:true"`
	// UserIDRule selects how tenant user identifiers are derived
	// (username, username_at_domain or uuid).
	UserIDRule string `gorm:"type:varchar(32);not null;default:'username'"`
	// UserIDDomain is the domain suffix used by the username_at_domain rule.
	UserIDDomain string `gorm:"size:128"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
