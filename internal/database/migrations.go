package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/jury/internal/status"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationClearOpenStatusOwners     = "2026-10-01_clear_owner_on_open_statuses"
	migrationReopenOwnerlessCompletion = "2026-10-01_reopen_ownerless_completions"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationClearOpenStatusOwners, apply: clearOpenStatusOwners},
		{name: migrationReopenOwnerlessCompletion, apply: reopenOwnerlessCompletions},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Pending and skipped records never carry an owner.
func clearOpenStatusOwners(db *gorm.DB) error {
	return db.Model(&status.SubmissionStatus{}).
		Where("state <> ? AND owner_judge_id IS NOT NULL", status.StateCompleted).
		Updates(map[string]interface{}{
			"owner_judge_id": nil,
			"version":        gorm.Expr("version + 1"),
		}).Error
}

// A completed record without an owner cannot be reopened by anyone, so it returns to pending.
func reopenOwnerlessCompletions(db *gorm.DB) error {
	return db.Model(&status.SubmissionStatus{}).
		Where("state = ? AND (owner_judge_id IS NULL OR owner_judge_id = '')", status.StateCompleted).
		Updates(map[string]interface{}{
			"state":          status.StatePending,
			"owner_judge_id": nil,
			"version":        gorm.Expr("version + 1"),
		}).Error
}
