// Package datasource provides read and bookkeeping operations for data
// source configurations. Everything except LastSyncedAt is read-only to the
// sync engine; configuration writes belong to the management API.
package datasource

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/TencentBlueKing/bk-user-sub004/internal/db/models"
)

var (
	// ErrDataSourceNotFound is returned when a data source does not exist.
	ErrDataSourceNotFound = errors.New("data source not found")
	// ErrDBNil is returned when the database connection is nil.
	ErrDBNil = errors.New("database connection is nil")
)

// Get retrieves a data source by its ID.
func Get(db *gorm.DB, id uint64) (*models.DataSource, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	var source models.DataSource
	result := db.First(&source, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrDataSourceNotFound
		}
		return nil, result.Error
	}

	return &source, nil
}

// List retrieves all data sources.
func List(db *gorm.DB) ([]models.DataSource, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	var sources []models.DataSource
	if result := db.Find(&sources); result.Error != nil {
		return nil, result.Error
	}

	return sources, nil
}

// ListSchedulable retrieves the data sources eligible for periodic syncing:
// non-local kinds with either a period or a fixed daily exec time
// configured.
func ListSchedulable(db *gorm.DB) ([]models.DataSource, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	var sources []models.DataSource
	result := db.
		Where("kind NOT IN ?", []models.DataSourceKind{models.DataSourceKindExcel, models.DataSourceKindLocal}).
		Where("sync_period > 0 OR sync_exec_time <> ''").
		Find(&sources)
	if result.Error != nil {
		return nil, result.Error
	}

	return sources, nil
}

// TouchLastSynced records the completion time of a successful sync.
func TouchLastSynced(db *gorm.DB, id uint64, at time.Time) error {
	if db == nil {
		return ErrDBNil
	}

	result := db.Model(&models.DataSource{}).
		Where("id = ?", id).
		Update("last_synced_at", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrDataSourceNotFound
	}

	return nil
}
