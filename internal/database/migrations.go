package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/charlesng35/matchdispatch/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Notification{},
		&models.Interaction{},
		&models.DeliveryAttempt{},
		&models.AuditLog{},
		&models.CacheEntry{},
	)
}

type dispatchIndex struct {
	name    string
	columns string
}

// dispatchIndexes back the per-channel selection queries and the retention sweep.
var dispatchIndexes = []dispatchIndex{
	{name: "idx_notifications_push_dispatch", columns: "push_sent, push_state, type"},
	{name: "idx_notifications_sms_dispatch", columns: "sms_sent, sms_state, type"},
	{name: "idx_notifications_email_dispatch", columns: "email_sent, email_state, type"},
	{name: "idx_notifications_type_created", columns: "type, created_at"},
}

// EnsureDispatchIndexes creates the composite notification indexes when missing.
func EnsureDispatchIndexes(db *gorm.DB) error {
	migrator := db.Migrator()
	for _, idx := range dispatchIndexes {
		if migrator.HasIndex(&models.Notification{}, idx.name) {
			continue
		}
		stmt := fmt.Sprintf("CREATE INDEX %s ON notifications (%s)", idx.name, idx.columns)
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}
