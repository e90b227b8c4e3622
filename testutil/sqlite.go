package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/premium_ledger/config"
	"bitbucket.org/mmdatafocus/premium_ledger/models"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NewSQLiteDB opens a private in-memory database with the ledger schema migrated and the
// default chart of accounts seeded. Row locks are no-ops on SQLite; the single connection
// serializes transactions instead.
func NewSQLiteDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), config.NewGormConfig())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := config.InstallPlugins(db); err != nil {
		t.Fatalf("install plugins: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := models.SeedChartOfAccounts(context.Background(), db); err != nil {
		t.Fatalf("seed chart of accounts: %v", err)
	}
	return db
}

// FixedClock returns a Now func pinned to t.
func FixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t.UTC() }
}

// Day is midnight UTC of the given date.
func Day(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
