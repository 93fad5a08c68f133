// Package testutil gives repo tests an isolated in-memory SQLite database
// instead of the teacher's TEST_POSTGRES_DSN-gated integration harness: the
// coordinator's dual-dialect support (internal/platform/sqldialect) means the
// same repo code this package exercises also runs, unmodified, against
// Postgres in production.
package testutil

import (
	"sync"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/gohive/queen/internal/data/db"
	"github.com/gohive/queen/internal/platform/logger"
)

var (
	logOnce sync.Once
	logg    *logger.Logger
	logErr  error
)

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	logOnce.Do(func() {
		logg, logErr = logger.New("test")
	})
	if logErr != nil {
		tb.Fatalf("failed to init logger: %v", logErr)
	}
	return logg
}

// DB opens the process's shared-cache in-memory SQLite database and migrates
// every table the coordinator owns. That database lives only while a
// connection to it is open, and the cleanup closes this handle, so tests that
// run one after another each start from an empty database; handles open at
// the same time share one database.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()

	gdb, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		tb.Fatalf("failed to open in-memory sqlite: %v", err)
	}
	if err := db.AutoMigrateAll(gdb); err != nil {
		tb.Fatalf("failed to migrate in-memory sqlite: %v", err)
	}
	tb.Cleanup(func() {
		sqlDB, err := gdb.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	})
	return gdb
}

// Tx begins a transaction that is always rolled back in test cleanup, the
// same isolation idiom the teacher used against Postgres.
func Tx(tb testing.TB, gdb *gorm.DB) *gorm.DB {
	tb.Helper()
	tx := gdb.Begin()
	if tx.Error != nil {
		tb.Fatalf("begin tx: %v", tx.Error)
	}
	tb.Cleanup(func() {
		_ = tx.Rollback().Error
	})
	return tx
}
