package database

import (
	"gorm.io/gorm"

	"github.com/atelier-studio/atelier/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Project{},
		&models.ProjectMember{},
		&models.Invitation{},
		&models.Notification{},
		&models.Channel{},
		&models.ChannelMember{},
		&models.Message{},
		&models.MessageAttachment{},
		&models.UserChannelState{},
	); err != nil {
		return err
	}

	// The "one pending invitation per (project, email)" invariant must hold
	// under concurrent creates, not just within a single request's
	// read-then-insert. Partial indexes work on both sqlite and postgres.
	return db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_team_invitations_pending
		 ON team_invitations (project_id, email) WHERE status = 'pending'`,
	).Error
}

// SeedData is a no-op today; projects and users are provisioned by the
// surrounding product, not this core.
func SeedData(db *gorm.DB) error {
	return nil
}
