package models

import "time"

// TenantUser is the tenant-scoped projection of a canonical user, keyed by
// (tenant, identifier): the identifier is only unique within its tenant, as
// two tenants on the username rule may both hold "alice". The identifier is
// never regenerated for the same (tenant, source, code).
type TenantUser struct {
	// ID is the stable tenant-scoped identifier produced by the identifier
	// generator.
	ID string `gorm:"primaryKey;size:128"`
	// TenantID is the tenant the user is projected into, which for
	// collaboration runs differs from the source's owning tenant.
	TenantID string `gorm:"primaryKey;size:64;uniqueIndex:idx_tenant_source_user"`
	// SourceUserID references the canonical user.
	SourceUserID uint64 `gorm:"uniqueIndex:idx_tenant_source_user;not null"`
	// SourceID is carried redundantly for per-source scans.
	SourceID uint64 `gorm:"index;not null"`
	// Extras holds the projected custom fields, remapped per collaboration
	// strategy for collaboration runs.
	Extras    []byte `gorm:"type:blob"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ExtrasMap decodes the extras blob. A missing blob yields an empty map.
func (u *TenantUser) ExtrasMap() (map[string]string, error) {
	return decodeExtras(u.Extras)
}

// SetExtras encodes and stores the extras map.
func (u *TenantUser) SetExtras(extras map[string]string) error {
	raw, err := encodeExtras(extras)
	if err != nil {
		return err
	}

	u.Extras = raw

	return nil
}

// TenantDepartment is the tenant-scoped projection of a canonical
// department.
type TenantDepartment struct {
	ID       uint64 `gorm:"primaryKey"`
	TenantID string `gorm:"size:64;uniqueIndex:idx_tenant_source_dept;not null"`
	// SourceDepartmentID references the canonical department.
	SourceDepartmentID uint64 `gorm:"uniqueIndex:idx_tenant_source_dept;not null"`
	SourceID           uint64 `gorm:"index;not null"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TenantUserIDRecord durably maps (tenant, source, external code) to the
// stable tenant user identifier. Rows are written once and never deleted or
// overwritten, so an identifier is never reused for a different external
// code even after the canonical user is deleted and recreated.
type TenantUserIDRecord struct {
	ID       uint64 `gorm:"primaryKey"`
	TenantID string `gorm:"size:64;uniqueIndex:idx_tenant_user_id_record;not null"`
	SourceID uint64 `gorm:"uniqueIndex:idx_tenant_user_id_record;not null"`
	Code     string `gorm:"size:128;uniqueIndex:idx_tenant_user_id_record;not null"`
	// TenantUserID is the minted identifier.
	TenantUserID string `gorm:"size:128;not null"`
	CreatedAt    time.Time
}
