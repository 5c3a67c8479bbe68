package syncer

import (
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/TencentBlueKing/bk-user-sub004/internal/db/models"
)

// userDiff is the outcome of diffing fetched users against the canonical
// snapshot of one source.
type userDiff struct {
	creates []canonicalUser
	// updates pair the fetched shape with the existing row it replaces.
	updates []userUpdate
	deletes []models.SourceUser
	// skipped counts same-named collisions left untouched because the run
	// was not allowed to overwrite.
	skipped []string
}

type userUpdate struct {
	incoming canonicalUser
	existing models.SourceUser
}

// departmentDiff is the outcome of diffing fetched departments.
type departmentDiff struct {
	creates []canonicalDepartment
	updates []departmentUpdate
	deletes []models.SourceDepartment
}

type departmentUpdate struct {
	incoming canonicalDepartment
	existing models.SourceDepartment
}

// diffOptions narrows diff behavior per run.
type diffOptions struct {
	// incremental skips deletion of records absent from the fetch.
	incremental bool
	// overwrite allows replacing an existing user whose username collides
	// with a different incoming code.
	overwrite bool
}

// diffUsers computes the create/update/delete plan by external code.
// relations contains the current department and leader codes per user ID,
// so relation-only changes surface as updates.
func diffUsers(
	existing []models.SourceUser,
	existingRelations map[uint64]userRelations,
	incoming []canonicalUser,
	opts diffOptions,
) (userDiff, error) {
	var diff userDiff

	existingByCode := make(map[string]models.SourceUser, len(existing))
	existingByUsername := make(map[string]models.SourceUser, len(existing))

	for _, user := range existing {
		existingByCode[user.Code] = user
		existingByUsername[user.Username] = user
	}

	incomingCodes := make(map[string]bool, len(incoming))

	for _, user := range incoming {
		incomingCodes[user.code] = true

		current, known := existingByCode[user.code]
		if !known {
			// A new code reusing an existing username is a manual-edit
			// collision: skipped unless the run may overwrite, in which
			// case the old row is replaced.
			if collided, taken := existingByUsername[user.username]; taken && user.username != "" {
				if !opts.overwrite {
					log.Warn().
						Str("username", user.username).
						Str("code", user.code).
						Msg("username already present with a different code, skipped (overwrite disabled)")

					diff.skipped = append(diff.skipped, user.username)

					continue
				}

				diff.deletes = append(diff.deletes, collided)
			}

			diff.creates = append(diff.creates, user)

			continue
		}

		changed, err := userChanged(current, existingRelations[current.ID], user)
		if err != nil {
			return userDiff{}, err
		}

		if changed {
			diff.updates = append(diff.updates, userUpdate{incoming: user, existing: current})
		}
	}

	if !opts.incremental {
		for _, user := range existing {
			if !incomingCodes[user.Code] {
				diff.deletes = append(diff.deletes, user)
			}
		}
	}

	return diff, nil
}

func userChanged(current models.SourceUser, relations userRelations, incoming canonicalUser) (bool, error) {
	if current.Username != incoming.username ||
		current.FullName != incoming.fullName ||
		current.Email != incoming.email ||
		current.Phone != incoming.phone ||
		current.PhoneCountryCode != incoming.phoneCountryCode {
		return true, nil
	}

	extras, err := current.ExtrasMap()
	if err != nil {
		return false, err
	}

	if !mapsEqual(extras, incoming.extras) {
		return true, nil
	}

	if !setsEqual(relations.departments, incoming.departments) ||
		!setsEqual(relations.leaders, incoming.leaders) {
		return true, nil
	}

	return false, nil
}

// diffDepartments computes the department plan by external code.
func diffDepartments(
	existing []models.SourceDepartment,
	existingParentCodes map[uint64]string,
	incoming []canonicalDepartment,
	opts diffOptions,
) (departmentDiff, error) {
	var diff departmentDiff

	existingByCode := make(map[string]models.SourceDepartment, len(existing))
	for _, dept := range existing {
		existingByCode[dept.Code] = dept
	}

	incomingCodes := make(map[string]bool, len(incoming))

	for _, dept := range incoming {
		incomingCodes[dept.code] = true

		current, known := existingByCode[dept.code]
		if !known {
			diff.creates = append(diff.creates, dept)

			continue
		}

		changed, err := departmentChanged(current, existingParentCodes[current.ID], dept)
		if err != nil {
			return departmentDiff{}, err
		}

		if changed {
			diff.updates = append(diff.updates, departmentUpdate{incoming: dept, existing: current})
		}
	}

	if !opts.incremental {
		for _, dept := range existing {
			if !incomingCodes[dept.Code] {
				diff.deletes = append(diff.deletes, dept)
			}
		}
	}

	return diff, nil
}

func departmentChanged(current models.SourceDepartment, parentCode string, incoming canonicalDepartment) (bool, error) {
	if current.Name != incoming.name ||
		current.Order != incoming.order ||
		parentCode != incoming.parentCode {
		return true, nil
	}

	extras, err := current.ExtrasMap()
	if err != nil {
		return false, err
	}

	return !mapsEqual(extras, incoming.extras), nil
}

func mapsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}

	for key, value := range a {
		if b[key] != value {
			return false
		}
	}

	return true
}

func setsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	sortedA := append([]string(nil), a...)
	sortedB := append([]string(nil), b...)
	sort.Strings(sortedA)
	sort.Strings(sortedB)

	for i := range sortedA {
		if sortedA[i] != sortedB[i] {
			return false
		}
	}

	return true
}
