// Package recorder accumulates the create/update/delete operations of one
// sync run, keyed by operation and entity kind, for the task log and
// downstream notification.
package recorder

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Operation is a sync mutation kind.
type Operation string

const (
	// OperationCreate marks newly created entities.
	OperationCreate Operation = "create"
	// OperationUpdate marks modified entities.
	OperationUpdate Operation = "update"
	// OperationDelete marks removed entities.
	OperationDelete Operation = "delete"
)

// Kind is the entity kind an operation applied to.
type Kind string

const (
	// KindUser marks user entities.
	KindUser Kind = "user"
	// KindDepartment marks department entities.
	KindDepartment Kind = "department"
)

type key struct {
	op   Operation
	kind Kind
}

// Recorder collects affected entity names per (operation, kind). It is
// safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	entries map[key][]string
}

// New creates an empty Recorder.
func New() *Recorder {
	return &Recorder{entries: make(map[key][]string)}
}

// Record notes the named entities as affected by the operation.
func (r *Recorder) Record(op Operation, kind Kind, names ...string) {
	if len(names) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{op: op, kind: kind}
	r.entries[k] = append(r.entries[k], names...)
}

// Count returns the number of entities recorded for (operation, kind).
func (r *Recorder) Count(op Operation, kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries[key{op: op, kind: kind}])
}

// Total returns the number of recorded entities across all keys.
func (r *Recorder) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := 0
	for _, names := range r.entries {
		total += len(names)
	}

	return total
}

// Names returns a copy of the entities recorded for (operation, kind).
func (r *Recorder) Names(op Operation, kind Kind) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := r.entries[key{op: op, kind: kind}]
	out := make([]string, len(names))
	copy(out, names)

	return out
}

// listedNameLimit bounds how many entity names a summary line spells out.
const listedNameLimit = 10

// Summary renders the accumulated operations as task log lines, one per
// (operation, kind), in a stable order.
func (r *Recorder) Summary() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) == 0 {
		return "no changes"
	}

	keys := make([]key, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].kind != keys[j].kind {
			return keys[i].kind < keys[j].kind
		}
		return keys[i].op < keys[j].op
	})

	var b strings.Builder

	for i, k := range keys {
		if i > 0 {
			b.WriteString("\n")
		}

		names := r.entries[k]

		listed := names
		suffix := ""
		if len(listed) > listedNameLimit {
			listed = listed[:listedNameLimit]
			suffix = ", ..."
		}

		fmt.Fprintf(&b, "%s %s: %d (%s%s)", k.op, k.kind, len(names), strings.Join(listed, ", "), suffix)
	}

	return b.String()
}
