package syncer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TencentBlueKing/bk-user-sub004/internal/adapter"
	"github.com/TencentBlueKing/bk-user-sub004/internal/db/models"
)

func TestMapUserWithoutMappingTable(t *testing.T) {
	raw := adapter.RawUser{
		Code: "emp-1",
		Properties: map[string]string{
			"username":  "alice",
			"full_name": "Alice Liddell",
			"email":     "alice@example.com",
			"badge":     "B-17",
		},
		Leaders:     []string{"emp-2"},
		Departments: []string{"eng"},
	}

	user, err := mapUser(nil, raw)
	require.NoError(t, err)

	assert.Equal(t, "emp-1", user.code)
	assert.Equal(t, "alice", user.username)
	assert.Equal(t, "Alice Liddell", user.fullName)
	assert.Equal(t, "alice@example.com", user.email)
	// Unknown property names fall through to extras.
	assert.Equal(t, map[string]string{"badge": "B-17"}, user.extras)
	assert.Equal(t, []string{"emp-2"}, user.leaders)
	assert.Equal(t, []string{"eng"}, user.departments)
}

func TestMapUserWithMappingTable(t *testing.T) {
	entries := []models.FieldMappingEntry{
		{SourceField: "uid", TargetField: "username"},
		{SourceField: "cn", TargetField: "full_name"},
		{SourceField: "employeeNumber", TargetField: "badge", Custom: true},
	}

	raw := adapter.RawUser{
		Code: "emp-1",
		Properties: map[string]string{
			"uid":            "alice",
			"cn":             "Alice Liddell",
			"employeeNumber": "B-17",
			"ignored":        "dropped",
		},
	}

	user, err := mapUser(entries, raw)
	require.NoError(t, err)

	assert.Equal(t, "alice", user.username)
	assert.Equal(t, "Alice Liddell", user.fullName)
	assert.Equal(t, map[string]string{"badge": "B-17"}, user.extras)
}

func TestMapUserUnknownTargetField(t *testing.T) {
	entries := []models.FieldMappingEntry{
		{SourceField: "uid", TargetField: "login_name"},
	}

	_, err := mapUser(entries, adapter.RawUser{Code: "emp-1"})
	require.ErrorIs(t, err, ErrUnknownTargetField)
}

func TestValidateTree(t *testing.T) {
	testCases := []struct {
		name        string
		departments []canonicalDepartment
		wantErr     error
	}{
		{
			name:        "empty set is valid",
			departments: nil,
		},
		{
			name: "single tree",
			departments: []canonicalDepartment{
				{code: "corp"},
				{code: "eng", parentCode: "corp"},
				{code: "backend", parentCode: "eng"},
			},
		},
		{
			name: "no root",
			departments: []canonicalDepartment{
				{code: "a", parentCode: "b"},
				{code: "b", parentCode: "a"},
			},
			wantErr: ErrNoRoot,
		},
		{
			name: "multiple roots",
			departments: []canonicalDepartment{
				{code: "corp"},
				{code: "shadow"},
			},
			wantErr: ErrMultipleRoots,
		},
		{
			name: "missing parent",
			departments: []canonicalDepartment{
				{code: "corp"},
				{code: "eng", parentCode: "ghost"},
			},
			wantErr: ErrMissingParent,
		},
		{
			name: "cycle below the root",
			departments: []canonicalDepartment{
				{code: "corp"},
				{code: "a", parentCode: "b"},
				{code: "b", parentCode: "a"},
			},
			wantErr: ErrTreeCycle,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateTree(tc.departments)

			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestMergeDepartments(t *testing.T) {
	corpID := uint64(1)
	existing := []models.SourceDepartment{
		{ID: 1, Code: "corp", Name: "Corp"},
		{ID: 2, Code: "eng", Name: "Engineering", ParentID: &corpID},
		{ID: 3, Code: "sales", Name: "Sales", ParentID: &corpID},
	}
	parentCodes := map[uint64]string{2: "corp", 3: "corp"}

	plan := departmentDiff{
		creates: []canonicalDepartment{{code: "platform", name: "Platform", parentCode: "eng"}},
		updates: []departmentUpdate{{
			incoming: canonicalDepartment{code: "eng", name: "Engineering & Platform", parentCode: "corp"},
			existing: existing[1],
		}},
		deletes: []models.SourceDepartment{existing[2]},
	}

	merged := mergeDepartments(existing, parentCodes, plan)

	parents := make(map[string]string, len(merged))
	for _, dept := range merged {
		parents[dept.code] = dept.parentCode
	}

	assert.Equal(t, map[string]string{"corp": "", "eng": "corp", "platform": "eng"}, parents)
	require.NoError(t, validateTree(merged))
}

func TestNormalizeOrder(t *testing.T) {
	departments := []canonicalDepartment{
		{code: "corp", order: 7},
		{code: "sales", parentCode: "corp", order: 30},
		{code: "eng", parentCode: "corp", order: 10},
		{code: "hr", parentCode: "corp", order: 10},
	}

	out := normalizeOrder(departments)

	byCode := make(map[string]int, len(out))
	for _, dept := range out {
		byCode[dept.code] = dept.order
	}

	// Dense ranks starting at 1, ties broken by code.
	assert.Equal(t, 1, byCode["corp"])
	assert.Equal(t, 1, byCode["eng"])
	assert.Equal(t, 2, byCode["hr"])
	assert.Equal(t, 3, byCode["sales"])
}

func TestDiffUsers(t *testing.T) {
	existing := []models.SourceUser{
		{ID: 1, Code: "emp-1", Username: "alice"},
		{ID: 2, Code: "emp-2", Username: "bob"},
		{ID: 3, Code: "emp-3", Username: "carol"},
	}
	relations := map[uint64]userRelations{
		1: {departments: []string{"eng"}},
	}

	incoming := []canonicalUser{
		{code: "emp-1", username: "alice", extras: map[string]string{}, departments: []string{"eng"}},
		{code: "emp-2", username: "bobby", extras: map[string]string{}},
		{code: "emp-4", username: "dave", extras: map[string]string{}},
	}

	diff, err := diffUsers(existing, relations, incoming, diffOptions{})
	require.NoError(t, err)

	require.Len(t, diff.creates, 1)
	assert.Equal(t, "emp-4", diff.creates[0].code)

	require.Len(t, diff.updates, 1)
	assert.Equal(t, "emp-2", diff.updates[0].existing.Code)

	require.Len(t, diff.deletes, 1)
	assert.Equal(t, "emp-3", diff.deletes[0].Code)
	assert.Empty(t, diff.skipped)
}

func TestDiffUsersRelationOnlyChange(t *testing.T) {
	existing := []models.SourceUser{{ID: 1, Code: "emp-1", Username: "alice"}}
	relations := map[uint64]userRelations{
		1: {departments: []string{"eng"}, leaders: []string{"emp-2"}},
	}

	incoming := []canonicalUser{
		{code: "emp-1", username: "alice", extras: map[string]string{}, departments: []string{"sales"}, leaders: []string{"emp-2"}},
	}

	diff, err := diffUsers(existing, relations, incoming, diffOptions{})
	require.NoError(t, err)
	require.Len(t, diff.updates, 1, "a membership move must surface as an update")
}

func TestDiffUsersIncrementalSkipsDeletes(t *testing.T) {
	existing := []models.SourceUser{
		{ID: 1, Code: "emp-1", Username: "alice"},
		{ID: 2, Code: "emp-2", Username: "bob"},
	}

	incoming := []canonicalUser{
		{code: "emp-1", username: "alice", extras: map[string]string{}},
	}

	diff, err := diffUsers(existing, nil, incoming, diffOptions{incremental: true})
	require.NoError(t, err)
	assert.Empty(t, diff.deletes)
}

func TestDiffUsersUsernameCollision(t *testing.T) {
	existing := []models.SourceUser{{ID: 1, Code: "emp-1", Username: "alice"}}

	incoming := []canonicalUser{
		{code: "emp-9", username: "alice", extras: map[string]string{}},
	}

	// Without overwrite the colliding create is skipped with a warning.
	diff, err := diffUsers(existing, nil, incoming, diffOptions{incremental: true})
	require.NoError(t, err)
	assert.Empty(t, diff.creates)
	assert.Equal(t, []string{"alice"}, diff.skipped)

	// With overwrite the old row is replaced.
	diff, err = diffUsers(existing, nil, incoming, diffOptions{incremental: true, overwrite: true})
	require.NoError(t, err)
	require.Len(t, diff.creates, 1)
	require.Len(t, diff.deletes, 1)
	assert.Equal(t, "emp-1", diff.deletes[0].Code)
	assert.Empty(t, diff.skipped)
}

func TestValidateUniqueFields(t *testing.T) {
	entries := []models.FieldMappingEntry{
		{SourceField: "employeeNumber", TargetField: "badge", Custom: true, Unique: true},
	}

	users := []finalUser{
		{code: "emp-1", extras: map[string]string{"badge": "B-17"}},
		{code: "emp-2", extras: map[string]string{"badge": "B-18"}},
		{code: "emp-3", extras: map[string]string{}},
		{code: "emp-4", extras: map[string]string{}},
	}

	require.NoError(t, validateUniqueFields(entries, users))

	// Empty values never collide; equal non-empty values do.
	users = append(users, finalUser{code: "emp-5", extras: map[string]string{"badge": "B-17"}})
	require.ErrorIs(t, validateUniqueFields(entries, users), ErrUniqueFieldCollision)
}
