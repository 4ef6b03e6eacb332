package migrations

import (
	"gorm.io/gorm"

	"github.com/jmylchreest/vidgate/internal/models"
)

const statusIndex = "idx_motion_events_status"

// AllMigrations returns the catalog migrations in order.
func AllMigrations() []Migration {
	return []Migration{
		migration001MotionEvents(),
		migration002StatusIndex(),
	}
}

func migration001MotionEvents() Migration {
	return Migration{
		Version:     "001",
		Description: "Create motion_events table",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.MotionEvent{})
		},
		Down: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&models.MotionEvent{})
		},
	}
}

// Active events are swept on restart, index them by status.
func migration002StatusIndex() Migration {
	return Migration{
		Version:     "002",
		Description: "Index motion events by status",
		Up: func(tx *gorm.DB) error {
			if tx.Migrator().HasIndex(&models.MotionEvent{}, statusIndex) {
				return nil
			}
			return tx.Exec("CREATE INDEX " + statusIndex + " ON motion_events (status)").Error
		},
		Down: func(tx *gorm.DB) error {
			if !tx.Migrator().HasIndex(&models.MotionEvent{}, statusIndex) {
				return nil
			}
			return tx.Migrator().DropIndex(&models.MotionEvent{}, statusIndex)
		},
	}
}
