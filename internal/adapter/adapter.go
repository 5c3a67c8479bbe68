// Package adapter defines the contract between the sync engine and the
// external identity systems it pulls from. An adapter returns a complete
// in-memory snapshot of the upstream users and departments; diffing against
// the canonical store is the orchestrator's job, and adapters never mutate
// persisted state.
package adapter

import (
	"context"
	"time"
)

// RawUser is one user record as fetched from the upstream system, before
// field mapping. Properties keys are adapter-specific field names.
type RawUser struct {
	// Code is the stable external identifier of the user.
	Code string
	// Properties holds the fetched attribute values by upstream field name.
	Properties map[string]string
	// Leaders lists the codes of the user's leaders.
	Leaders []string
	// Departments lists the codes of the departments the user belongs to.
	Departments []string
}

// RawDepartment is one department record as fetched from the upstream
// system.
type RawDepartment struct {
	// Code is the stable external identifier of the department.
	Code string
	// Name is the display name.
	Name string
	// ParentCode is the code of the parent department, empty for the root.
	ParentCode string
	// Order is the upstream-provided position among siblings, 0 when the
	// upstream has no ordering.
	Order int
	// Extras holds additional attributes the upstream exposes.
	Extras map[string]string
}

// TestResult reports the outcome of a connectivity test.
type TestResult struct {
	// Latency is the observed round trip of the probe.
	Latency time.Duration
	// Message is a human readable summary for the operator.
	Message string
}

// Adapter produces complete snapshots of an external identity system. A
// successful fetch always returns the full record set, not a delta.
// Implementations performing network I/O must bound every call with the
// configured timeout.
type Adapter interface {
	FetchUsers(ctx context.Context) ([]RawUser, error)
	FetchDepartments(ctx context.Context) ([]RawDepartment, error)
	TestConnection(ctx context.Context) (*TestResult, error)
}
