package datasource

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/TencentBlueKing/bk-user-sub004/internal/db/models"
)

// setupTestDB creates an in-memory SQLite database for testing.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err, "failed to create test database")

	err = db.AutoMigrate(&models.DataSource{})
	require.NoError(t, err, "failed to migrate test database")

	return db
}

func seedSources(t *testing.T, db *gorm.DB, sources []models.DataSource) {
	t.Helper()
	for i := range sources {
		err := db.Create(&sources[i]).Error
		require.NoError(t, err, "failed to seed test data")
	}
}

func TestGet(t *testing.T) {
	db := setupTestDB(t)

	seedSources(t, db, []models.DataSource{
		{TenantID: "acme", Name: "corp ldap", Kind: models.DataSourceKindLDAP},
	})

	testCases := []struct {
		name          string
		dbParam       *gorm.DB
		sourceID      uint64
		expectedError error
		expectedName  string
	}{
		{
			name:          "nil database",
			dbParam:       nil,
			sourceID:      1,
			expectedError: ErrDBNil,
		},
		{
			name:          "source not found",
			dbParam:       db,
			sourceID:      999,
			expectedError: ErrDataSourceNotFound,
		},
		{
			name:         "successful get",
			dbParam:      db,
			sourceID:     1,
			expectedName: "corp ldap",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			source, err := Get(tc.dbParam, tc.sourceID)

			if tc.expectedError != nil {
				require.Error(t, err)
				require.ErrorIs(t, err, tc.expectedError)
				assert.Nil(t, source)
			} else {
				require.NoError(t, err)
				require.NotNil(t, source)
				assert.Equal(t, tc.expectedName, source.Name)
			}
		})
	}
}

func TestList(t *testing.T) {
	db := setupTestDB(t)

	_, err := List(nil)
	require.ErrorIs(t, err, ErrDBNil)

	sources, err := List(db)
	require.NoError(t, err)
	assert.Empty(t, sources)

	seedSources(t, db, []models.DataSource{
		{TenantID: "acme", Name: "a", Kind: models.DataSourceKindLDAP},
		{TenantID: "acme", Name: "b", Kind: models.DataSourceKindLocal},
	})

	sources, err = List(db)
	require.NoError(t, err)
	assert.Len(t, sources, 2)
}

func TestListSchedulable(t *testing.T) {
	db := setupTestDB(t)

	seedSources(t, db, []models.DataSource{
		{TenantID: "acme", Name: "periodic ldap", Kind: models.DataSourceKindLDAP, SyncPeriod: 30},
		{TenantID: "acme", Name: "nightly api", Kind: models.DataSourceKindHTTPAPI, SyncExecTime: "03:00"},
		{TenantID: "acme", Name: "unscheduled ldap", Kind: models.DataSourceKindLDAP},
		{TenantID: "acme", Name: "workbook", Kind: models.DataSourceKindExcel, SyncPeriod: 30},
		{TenantID: "acme", Name: "local", Kind: models.DataSourceKindLocal, SyncPeriod: 30},
	})

	sources, err := ListSchedulable(db)
	require.NoError(t, err)

	names := make([]string, 0, len(sources))
	for _, source := range sources {
		names = append(names, source.Name)
	}

	// Local-only kinds and sources without a schedule are excluded even if
	// a period is configured.
	assert.ElementsMatch(t, []string{"periodic ldap", "nightly api"}, names)
}

func TestTouchLastSynced(t *testing.T) {
	db := setupTestDB(t)

	seedSources(t, db, []models.DataSource{
		{TenantID: "acme", Name: "corp ldap", Kind: models.DataSourceKindLDAP},
	})

	require.ErrorIs(t, TouchLastSynced(nil, 1, time.Now()), ErrDBNil)
	require.ErrorIs(t, TouchLastSynced(db, 999, time.Now()), ErrDataSourceNotFound)

	at := time.Now().Truncate(time.Second)
	require.NoError(t, TouchLastSynced(db, 1, at))

	source, err := Get(db, 1)
	require.NoError(t, err)
	require.NotNil(t, source.LastSyncedAt)
	assert.WithinDuration(t, at, *source.LastSyncedAt, time.Second)
}
