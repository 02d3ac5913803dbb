// Package database opens the judging store and keeps its schema current.
package database

import (
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/jury/internal/admins"
	"github.com/MarcoPoloResearchLab/jury/internal/catalog"
	"github.com/MarcoPoloResearchLab/jury/internal/judges"
	"github.com/MarcoPoloResearchLab/jury/internal/notes"
	"github.com/MarcoPoloResearchLab/jury/internal/scoring"
	"github.com/MarcoPoloResearchLab/jury/internal/status"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

var (
	errMissingPath     = errors.New("database path is required")
	errMissingDSN      = errors.New("database dsn is required")
	errUnknownDriver   = errors.New("unsupported database driver")
	errMissingDatabase = errors.New("database handle is required")
)

// Config selects the backing store.
type Config struct {
	Driver string
	Path   string
	DSN    string
}

// Models lists every persisted model in migration order.
func Models() []interface{} {
	return []interface{}{
		&catalog.JudgingGroup{},
		&catalog.JudgingCriterion{},
		&catalog.Submission{},
		&judges.Judge{},
		&scoring.JudgeScore{},
		&status.SubmissionStatus{},
		&status.SubmissionStatusChange{},
		&notes.SubmissionNote{},
		&admins.Identity{},
		&migrationRecord{},
	}
}

// Open connects to the configured store and migrates the schema.
func Open(cfg Config, logger *zap.Logger) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if cfg.Driver == DriverSQLite || cfg.Driver == "" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("driver", driverName(cfg.Driver)))
	}
	return db, nil
}

// Migrate brings the schema of db up to date and applies pending data migrations.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if db == nil {
		return errMissingDatabase
	}
	if err := db.AutoMigrate(Models()...); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}

func dialectorFor(cfg Config) (gorm.Dialector, error) {
	switch driverName(cfg.Driver) {
	case DriverSQLite:
		if cfg.Path == "" {
			return nil, errMissingPath
		}
		return sqlite.Open(cfg.Path), nil
	case DriverMySQL:
		if cfg.DSN == "" {
			return nil, errMissingDSN
		}
		return mysql.Open(cfg.DSN), nil
	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, errMissingDSN
		}
		return postgres.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("%w: %s", errUnknownDriver, cfg.Driver)
	}
}

func driverName(driver string) string {
	if driver == "" {
		return DriverSQLite
	}
	return driver
}
