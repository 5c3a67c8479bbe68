package daemon

import (
	"gorm.io/gorm"

	"github.com/TencentBlueKing/bk-user-sub004/internal/config"
	"github.com/TencentBlueKing/bk-user-sub004/internal/db/models"
)

func seed(_ *config.Config, db *gorm.DB) {
	// Seed a default tenant if the tenant table is empty

	var count int64
	db.Model(&models.Tenant{}).Count(&count)
	if count == 0 {
		db.Create(
			&models.Tenant{
				ID:         "default",
				Name:       "Default",
				Enabled:    true,
				UserIDRule: "username",
			},
		)
	}
}
