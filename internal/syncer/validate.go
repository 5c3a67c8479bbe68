package syncer

import (
	"fmt"

	"github.com/TencentBlueKing/bk-user-sub004/internal/db/models"
)

// finalUserSet materializes the post-diff user set: existing rows minus
// deletes, with updates applied, plus creates. Only code, username and
// extras are needed for validation.
type finalUser struct {
	code     string
	username string
	extras   map[string]string
}

func finalUserSet(existing []models.SourceUser, diff userDiff) ([]finalUser, error) {
	deleted := make(map[string]bool, len(diff.deletes))
	for _, user := range diff.deletes {
		deleted[user.Code] = true
	}

	updated := make(map[string]canonicalUser, len(diff.updates))
	for _, update := range diff.updates {
		updated[update.existing.Code] = update.incoming
	}

	var out []finalUser

	for _, user := range existing {
		if deleted[user.Code] {
			continue
		}

		if incoming, ok := updated[user.Code]; ok {
			out = append(out, finalUser{code: incoming.code, username: incoming.username, extras: incoming.extras})

			continue
		}

		extras, err := user.ExtrasMap()
		if err != nil {
			return nil, err
		}

		out = append(out, finalUser{code: user.Code, username: user.Username, extras: extras})
	}

	for _, user := range diff.creates {
		out = append(out, finalUser{code: user.code, username: user.username, extras: user.extras})
	}

	return out, nil
}

// validateUniqueFields asserts that no two different users of the post-diff
// set share a non-empty value in a field the tenant declared unique. A
// collision aborts the run before any write.
func validateUniqueFields(entries []models.FieldMappingEntry, users []finalUser) error {
	var uniqueFields []string
	for _, entry := range entries {
		if entry.Custom && entry.Unique {
			uniqueFields = append(uniqueFields, entry.TargetField)
		}
	}

	if len(uniqueFields) == 0 {
		return nil
	}

	for _, field := range uniqueFields {
		holders := make(map[string]string, len(users))

		for _, user := range users {
			value := user.extras[field]
			if value == "" {
				continue
			}

			if other, taken := holders[value]; taken {
				return fmt.Errorf(
					"%w: field %q value %q held by %s and %s",
					ErrUniqueFieldCollision, field, value, other, user.code,
				)
			}

			holders[value] = user.code
		}
	}

	return nil
}
