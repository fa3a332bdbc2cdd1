package database

import (
	"fmt"

	"gorm.io/gorm"

	"marketnotify/internal/model"
	"marketnotify/pkg/log"
)

// Models every table the engine owns.
func Models() []interface{} {
	return []interface{}{
		&model.NotificationPreferences{},
		&model.Notification{},
	}
}

// AutoMigrate auto migrate database table schema
func AutoMigrate(db *gorm.DB) error {
	logger := log.Component("database")
	logger.Info("Starting database migration...")

	for _, m := range Models() {
		if err := db.AutoMigrate(m); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", m, err)
		}
		logger.Debugf("Migrated model: %T", m)
	}

	logger.Info("Database migration completed successfully")
	return nil
}

// CheckTables reports which owned tables are missing.
func CheckTables(db *gorm.DB) ([]string, error) {
	var missing []string
	for _, m := range Models() {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(m); err != nil {
			return nil, fmt.Errorf("failed to parse %T: %w", m, err)
		}
		if !db.Migrator().HasTable(stmt.Schema.Table) {
			missing = append(missing, stmt.Schema.Table)
		}
	}
	return missing, nil
}

// DropTables drop all tables
func DropTables(db *gorm.DB) error {
	log.Component("database").Warn("Dropping all tables...")
	return db.Migrator().DropTable(Models()...)
}
