package models

import (
	"encoding/json"
	"time"
)

// CollaborationStrategyStatus is the per-side enablement of a strategy.
type CollaborationStrategyStatus string

const (
	// CollaborationStrategyEnabled marks the side as active.
	CollaborationStrategyEnabled CollaborationStrategyStatus = "enabled"
	// CollaborationStrategyDisabled marks the side as inactive.
	CollaborationStrategyDisabled CollaborationStrategyStatus = "disabled"
)

// CollaborationScope restricts which canonical departments (and the users
// attached to them, including descendants) of the source tenant are
// projected into the target tenant.
type CollaborationScope struct {
	// AllDepartments projects the whole organization when true.
	AllDepartments bool `json:"all_departments"`
	// DepartmentCodes lists the department subtree roots in scope when
	// AllDepartments is false.
	DepartmentCodes []string `json:"department_codes"`
}

// CollaborationStrategy lets one tenant's canonical data be projected into
// another tenant's namespace. It is read-only input to the tenant sync
// orchestrator; a projection only runs when both sides are enabled.
type CollaborationStrategy struct {
	ID   uint64 `gorm:"primaryKey"`
	Name string `gorm:"size:128;not null"`
	// SourceTenantID owns the data being shared.
	SourceTenantID string `gorm:"size:64;uniqueIndex:idx_collaboration_pair;not null"`
	// TargetTenantID receives the projection.
	TargetTenantID string `gorm:"size:64;uniqueIndex:idx_collaboration_pair;not null"`
	// SourceStatus is set by the sharing tenant.
	SourceStatus CollaborationStrategyStatus `gorm:"type:varchar(16);not null;default:'disabled'"`
	// TargetStatus is set by the receiving tenant.
	TargetStatus CollaborationStrategyStatus `gorm:"type:varchar(16);not null;default:'disabled'"`
	// ScopeConfig is the JSON-encoded CollaborationScope.
	ScopeConfig []byte `gorm:"type:blob"`
	// FieldMapping is a JSON object renaming extras keys on the target
	// side: source extras key -> target extras key. Unlisted keys are
	// dropped from the projection.
	FieldMapping []byte `gorm:"type:blob"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Enabled reports whether both sides of the strategy are enabled.
func (s *CollaborationStrategy) Enabled() bool {
	return s.SourceStatus == CollaborationStrategyEnabled &&
		s.TargetStatus == CollaborationStrategyEnabled
}

// Scope decodes the scope configuration. A missing configuration means the
// whole organization is in scope.
func (s *CollaborationStrategy) Scope() (CollaborationScope, error) {
	if len(s.ScopeConfig) == 0 {
		return CollaborationScope{AllDepartments: true}, nil
	}

	var scope CollaborationScope
	if err := json.Unmarshal(s.ScopeConfig, &scope); err != nil {
		return CollaborationScope{}, err
	}

	return scope, nil
}

// SetScope encodes and stores the scope configuration.
func (s *CollaborationStrategy) SetScope(scope CollaborationScope) error {
	raw, err := json.Marshal(scope)
	if err != nil {
		return err
	}

	s.ScopeConfig = raw

	return nil
}

// ExtrasMapping decodes the extras field mapping. A missing mapping keeps
// all extras keys unchanged.
func (s *CollaborationStrategy) ExtrasMapping() (map[string]string, error) {
	if len(s.FieldMapping) == 0 {
		return nil, nil
	}

	var mapping map[string]string
	if err := json.Unmarshal(s.FieldMapping, &mapping); err != nil {
		return nil, err
	}

	return mapping, nil
}

// SetExtrasMapping encodes and stores the extras field mapping.
func (s *CollaborationStrategy) SetExtrasMapping(mapping map[string]string) error {
	raw, err := json.Marshal(mapping)
	if err != nil {
		return err
	}

	s.FieldMapping = raw

	return nil
}
