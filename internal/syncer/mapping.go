package syncer

import (
	"fmt"

	"github.com/TencentBlueKing/bk-user-sub004/internal/adapter"
	"github.com/TencentBlueKing/bk-user-sub004/internal/db/models"
)

// Builtin canonical user field names addressable by a field mapping.
const (
	fieldUsername         = "username"
	fieldFullName         = "full_name"
	fieldEmail            = "email"
	fieldPhone            = "phone"
	fieldPhoneCountryCode = "phone_country_code"
)

// canonicalUser is the mapped, in-memory shape of one fetched user before
// it is diffed against the canonical store.
type canonicalUser struct {
	code             string
	username         string
	fullName         string
	email            string
	phone            string
	phoneCountryCode string
	extras           map[string]string
	leaders          []string
	departments      []string
}

// canonicalDepartment is the in-memory shape of one fetched department.
type canonicalDepartment struct {
	code       string
	name       string
	parentCode string
	order      int
	extras     map[string]string
}

// mapUser applies the field mapping table to one raw user. With an empty
// table the adapter's property names are taken as canonical field names
// directly, unknown properties landing in extras.
func mapUser(entries []models.FieldMappingEntry, raw adapter.RawUser) (canonicalUser, error) {
	user := canonicalUser{
		code:        raw.Code,
		extras:      map[string]string{},
		leaders:     raw.Leaders,
		departments: raw.Departments,
	}

	if len(entries) == 0 {
		for name, value := range raw.Properties {
			if !user.setBuiltin(name, value) {
				user.extras[name] = value
			}
		}

		return user, nil
	}

	for _, entry := range entries {
		value := raw.Properties[entry.SourceField]

		if entry.Custom {
			user.extras[entry.TargetField] = value

			continue
		}

		if !user.setBuiltin(entry.TargetField, value) {
			return canonicalUser{}, fmt.Errorf("%w: %q", ErrUnknownTargetField, entry.TargetField)
		}
	}

	return user, nil
}

func (u *canonicalUser) setBuiltin(field, value string) bool {
	switch field {
	case fieldUsername:
		u.username = value
	case fieldFullName:
		u.fullName = value
	case fieldEmail:
		u.email = value
	case fieldPhone:
		u.phone = value
	case fieldPhoneCountryCode:
		u.phoneCountryCode = value
	default:
		return false
	}

	return true
}

// mapDepartment converts one raw department; departments have no field
// mapping table, their extras pass through unchanged.
func mapDepartment(raw adapter.RawDepartment) canonicalDepartment {
	extras := raw.Extras
	if extras == nil {
		extras = map[string]string{}
	}

	return canonicalDepartment{
		code:       raw.Code,
		name:       raw.Name,
		parentCode: raw.ParentCode,
		order:      raw.Order,
		extras:     extras,
	}
}
