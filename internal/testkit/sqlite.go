// Package testkit provides shared fixtures for package tests.
package testkit

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var databaseSequence atomic.Int64

// OpenSQLite opens an isolated in-memory sqlite database and migrates the provided models.
// A single connection is used so concurrent callers queue on the pool instead of hitting table locks.
func OpenSQLite(t testing.TB, models ...interface{}) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:jury_test_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), databaseSequence.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	if len(models) > 0 {
		if err := db.AutoMigrate(models...); err != nil {
			t.Fatalf("failed to migrate: %v", err)
		}
	}
	return db
}

// FixedClock returns a clock pinned to the provided unix seconds.
func FixedClock(seconds int64) func() time.Time {
	return func() time.Time {
		return time.Unix(seconds, 0).UTC()
	}
}

// SteppingClock returns a clock that advances by step on every call, starting at start.
func SteppingClock(start time.Time, step time.Duration) func() time.Time {
	var calls atomic.Int64
	return func() time.Time {
		offset := calls.Add(1) - 1
		return start.Add(time.Duration(offset) * step).UTC()
	}
}
