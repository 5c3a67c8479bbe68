package models

import (
	"encoding/json"
	"time"
)

// DataSourceKind identifies the adapter implementation behind a data source.
type DataSourceKind string

const (
	// DataSourceKindLDAP pulls records from an LDAP directory.
	DataSourceKindLDAP DataSourceKind = "ldap"
	// DataSourceKindHTTPAPI pulls records from a paginated HTTP identity API.
	DataSourceKindHTTPAPI DataSourceKind = "httpapi"
	// DataSourceKindExcel imports records from an uploaded workbook.
	DataSourceKindExcel DataSourceKind = "excel"
	// DataSourceKindLocal marks sources maintained by hand through the
	// management API. Local sources are never synced.
	DataSourceKindLocal DataSourceKind = "local"
)

// LocalOnly reports whether the kind has no remote system to poll and must
// therefore be excluded from periodic scheduling.
func (k DataSourceKind) LocalOnly() bool {
	return k == DataSourceKindExcel || k == DataSourceKindLocal
}

// FieldMappingEntry maps one upstream field onto a canonical user field.
// Custom entries land in the user's extras map instead of a builtin column.
type FieldMappingEntry struct {
	// SourceField is the property name as returned by the adapter.
	SourceField string `json:"source_field"`
	// TargetField is the canonical field name (username, full_name, email,
	// phone, phone_country_code) or, for custom entries, the extras key.
	TargetField string `json:"target_field"`
	// Custom marks the entry as a tenant-defined extra field.
	Custom bool `json:"custom"`
	// Unique enforces that no two users of the source share a non-empty
	// value for this custom field.
	Unique bool `json:"unique"`
}

// DataSource is one external identity provider configuration. The engine
// treats PluginConfig as opaque JSON handed to the adapter factory and only
// writes LastSyncedAt bookkeeping.
type DataSource struct {
	ID uint64 `gorm:"primaryKey"`
	// TenantID is the owning tenant.
	TenantID string `gorm:"size:64;index;not null"`
	// Name is the display name of the source.
	Name string `gorm:"size:128;not null"`
	// Kind selects the adapter implementation.
	Kind DataSourceKind `gorm:"type:varchar(32);not null"`
	// PluginConfig is the adapter-specific configuration as JSON.
	PluginConfig []byte `gorm:"type:blob"`
	// SyncPeriod is the sync interval in minutes, 0 means never.
	SyncPeriod int `gorm:"not null;default:0"`
	// SyncExecTime optionally pins the sync to a fixed daily time ("15:04").
	// It takes precedence over SyncPeriod when set.
	SyncExecTime string `gorm:"size:8"`
	// FieldMapping is the JSON-encoded list of FieldMappingEntry.
	FieldMapping []byte `gorm:"type:blob"`
	// LastSyncedAt is the completion time of the last successful sync.
	LastSyncedAt *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Mappings decodes the field mapping table. An empty table means the
// adapter's property names are used as-is.
func (d *DataSource) Mappings() ([]FieldMappingEntry, error) {
	if len(d.FieldMapping) == 0 {
		return nil, nil
	}

	var entries []FieldMappingEntry
	if err := json.Unmarshal(d.FieldMapping, &entries); err != nil {
		return nil, err
	}

	return entries, nil
}

// SetMappings encodes and stores the field mapping table.
func (d *DataSource) SetMappings(entries []FieldMappingEntry) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return err
	}

	d.FieldMapping = raw

	return nil
}
