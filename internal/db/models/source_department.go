package models

import "time"

// SourceDepartment is a canonical department record scoped to one data
// source. Departments form exactly one tree per source, stored as an
// adjacency list: ParentID is nil for the single root.
type SourceDepartment struct {
	ID uint64 `gorm:"primaryKey"`
	// SourceID is the owning data source.
	SourceID uint64 `gorm:"uniqueIndex:idx_source_dept_code;not null"`
	// Code is the external identifier of the department within the source.
	Code string `gorm:"uniqueIndex:idx_source_dept_code;size:128;not null"`
	// Name is the department display name.
	Name string `gorm:"size:255;not null"`
	// ParentID references the parent department of the same source.
	ParentID *uint64 `gorm:"index"`
	// Order is the position among siblings, recomputed on every sync.
	Order int `gorm:"not null;default:0"`
	// Extras holds source-provided extra attributes as a JSON object.
	Extras    []byte `gorm:"type:blob"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ExtrasMap decodes the extras blob. A missing blob yields an empty map.
func (d *SourceDepartment) ExtrasMap() (map[string]string, error) {
	return decodeExtras(d.Extras)
}

// SetExtras encodes and stores the extras map.
func (d *SourceDepartment) SetExtras(extras map[string]string) error {
	raw, err := encodeExtras(extras)
	if err != nil {
		return err
	}

	d.Extras = raw

	return nil
}
