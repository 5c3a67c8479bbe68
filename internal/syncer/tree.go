package syncer

import (
	"fmt"
	"sort"

	"github.com/TencentBlueKing/bk-user-sub004/internal/db/models"
)

// mergeDepartments projects a department plan onto the stored snapshot,
// yielding the set the canonical store will hold after the apply: existing
// rows minus deletes, updates applied, plus creates.
func mergeDepartments(
	existing []models.SourceDepartment,
	parentCodes map[uint64]string,
	plan departmentDiff,
) []canonicalDepartment {
	deleted := make(map[uint64]bool, len(plan.deletes))
	for _, dept := range plan.deletes {
		deleted[dept.ID] = true
	}

	updated := make(map[uint64]canonicalDepartment, len(plan.updates))
	for _, update := range plan.updates {
		updated[update.existing.ID] = update.incoming
	}

	merged := make([]canonicalDepartment, 0, len(existing)+len(plan.creates))

	for _, dept := range existing {
		if deleted[dept.ID] {
			continue
		}

		if incoming, ok := updated[dept.ID]; ok {
			merged = append(merged, incoming)

			continue
		}

		merged = append(merged, canonicalDepartment{
			code:       dept.Code,
			name:       dept.Name,
			parentCode: parentCodes[dept.ID],
			order:      dept.Order,
		})
	}

	return append(merged, plan.creates...)
}

// validateTree checks that the departments form exactly one tree: a single
// root, every parent present in the same set, no cycles. An empty set is
// valid (a source without departments).
func validateTree(departments []canonicalDepartment) error {
	if len(departments) == 0 {
		return nil
	}

	byCode := make(map[string]canonicalDepartment, len(departments))
	for _, dept := range departments {
		byCode[dept.code] = dept
	}

	roots := 0

	for _, dept := range departments {
		if dept.parentCode == "" {
			roots++

			continue
		}

		if _, ok := byCode[dept.parentCode]; !ok {
			return fmt.Errorf("%w: %s -> %s", ErrMissingParent, dept.code, dept.parentCode)
		}
	}

	if roots == 0 {
		return ErrNoRoot
	}

	if roots > 1 {
		return fmt.Errorf("%w: found %d", ErrMultipleRoots, roots)
	}

	// Walk each node towards the root; revisiting a node within one walk
	// means the parent links loop.
	state := make(map[string]int, len(byCode)) // 0 unvisited, 1 in walk, 2 done

	for code := range byCode {
		walk := []string{}

		current := code
		for current != "" {
			switch state[current] {
			case 1:
				return fmt.Errorf("%w: at %s", ErrTreeCycle, current)
			case 2:
				current = ""

				continue
			}

			state[current] = 1
			walk = append(walk, current)
			current = byCode[current].parentCode
		}

		for _, visited := range walk {
			state[visited] = 2
		}
	}

	return nil
}

// normalizeOrder rewrites the sibling ordering metadata: within each parent
// the departments are ranked by their upstream order, ties broken by code,
// and assigned dense positions starting at 1.
func normalizeOrder(departments []canonicalDepartment) []canonicalDepartment {
	children := make(map[string][]int, len(departments))
	for i, dept := range departments {
		children[dept.parentCode] = append(children[dept.parentCode], i)
	}

	out := make([]canonicalDepartment, len(departments))
	copy(out, departments)

	for _, siblings := range children {
		sort.Slice(siblings, func(a, b int) bool {
			da, db := out[siblings[a]], out[siblings[b]]
			if da.order != db.order {
				return da.order < db.order
			}
			return da.code < db.code
		})

		for rank, i := range siblings {
			out[i].order = rank + 1
		}
	}

	return out
}
