package syncer

import "errors"

var (
	// ErrSyncAlreadyRunning is returned when the source-scoped lock is held
	// by another run. The invocation fails immediately and is never queued.
	ErrSyncAlreadyRunning = errors.New("a sync for this data source is already running")

	// ErrLocalSourceNotSyncable is returned when a sync is requested for a
	// local-only data source.
	ErrLocalSourceNotSyncable = errors.New("local data sources cannot be synced")

	// ErrUniqueFieldCollision is returned when two different users share a
	// value in a field the tenant declared unique. The apply step is
	// aborted with no partial writes.
	ErrUniqueFieldCollision = errors.New("unique field value shared by two users")

	// ErrUnknownTargetField is returned when the field mapping references a
	// builtin canonical field that does not exist.
	ErrUnknownTargetField = errors.New("field mapping references an unknown builtin field")

	// ErrNoRoot is returned when the fetched departments contain no root.
	ErrNoRoot = errors.New("department set has no root")

	// ErrMultipleRoots is returned when the fetched departments contain
	// more than one root.
	ErrMultipleRoots = errors.New("department set has multiple roots")

	// ErrMissingParent is returned when a department references a parent
	// code absent from the fetched snapshot.
	ErrMissingParent = errors.New("department references a missing parent")

	// ErrTreeCycle is returned when the department parent links contain a
	// cycle.
	ErrTreeCycle = errors.New("department parent links contain a cycle")
)
