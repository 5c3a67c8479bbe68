package models

import (
	"encoding/json"
	"time"
)

// SourceUser is a canonical user record scoped to one data source. Rows are
// mutated exclusively by the data-source sync orchestrator; tenant
// projections reference them by ID.
type SourceUser struct {
	ID uint64 `gorm:"primaryKey"`
	// SourceID is the owning data source.
	SourceID uint64 `gorm:"uniqueIndex:idx_source_user_code;not null"`
	// Code is the external identifier of the user within the source.
	Code string `gorm:"uniqueIndex:idx_source_user_code;size:128;not null"`
	// Username is the login name within the source.
	Username string `gorm:"size:128;not null"`
	// FullName is the display name.
	FullName string `gorm:"size:128"`
	Email    string `gorm:"size:255"`
	Phone    string `gorm:"size:32"`
	// PhoneCountryCode is the dialing prefix, without the leading plus.
	PhoneCountryCode string `gorm:"size:8"`
	// Extras holds tenant-defined custom fields as a JSON object.
	Extras    []byte `gorm:"type:blob"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ExtrasMap decodes the extras blob. A missing blob yields an empty map.
func (u *SourceUser) ExtrasMap() (map[string]string, error) {
	return decodeExtras(u.Extras)
}

// SetExtras encodes and stores the extras map. A nil or empty map clears
// the blob.
func (u *SourceUser) SetExtras(extras map[string]string) error {
	raw, err := encodeExtras(extras)
	if err != nil {
		return err
	}

	u.Extras = raw

	return nil
}

func decodeExtras(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return map[string]string{}, nil
	}

	var extras map[string]string
	if err := json.Unmarshal(raw, &extras); err != nil {
		return nil, err
	}

	return extras, nil
}

func encodeExtras(extras map[string]string) ([]byte, error) {
	if len(extras) == 0 {
		return nil, nil
	}

	return json.Marshal(extras)
}

// SourceDepartmentUserRelation links a canonical user to a department of
// the same source.
type SourceDepartmentUserRelation struct {
	ID           uint64 `gorm:"primaryKey"`
	SourceID     uint64 `gorm:"index;not null"`
	UserID       uint64 `gorm:"uniqueIndex:idx_source_dept_user;not null"`
	DepartmentID uint64 `gorm:"uniqueIndex:idx_source_dept_user;not null"`
}

// SourceLeaderRelation links a canonical user to its leader, another user
// of the same source.
type SourceLeaderRelation struct {
	ID       uint64 `gorm:"primaryKey"`
	SourceID uint64 `gorm:"index;not null"`
	UserID   uint64 `gorm:"uniqueIndex:idx_source_user_leader;not null"`
	LeaderID uint64 `gorm:"uniqueIndex:idx_source_user_leader;not null"`
}
