// Package dbtest opens throwaway SQLite databases for tests
package dbtest

import (
	"fmt"
	"testing"
	"time"

	"zakat-ledger/internal/adapters/persistence/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open returns a migrated in-memory database private to t
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// One connection keeps the in-memory database alive and serializes writers
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// SeedProgram inserts an active program
func SeedProgram(t testing.TB, db *gorm.DB, id, organization string) *models.Program {
	t.Helper()

	program := &models.Program{
		ID:           id,
		Name:         "Program " + id,
		Organization: organization,
		IsActive:     true,
	}
	if err := db.Create(program).Error; err != nil {
		t.Fatalf("seed program: %v", err)
	}
	return program
}

// SeedOfficer inserts an active officer
func SeedOfficer(t testing.TB, db *gorm.DB, id, referralCode string) *models.Officer {
	t.Helper()

	officer := &models.Officer{
		ID:           id,
		Name:         "Officer " + referralCode,
		ReferralCode: referralCode,
		IsActive:     true,
	}
	if err := db.Create(officer).Error; err != nil {
		t.Fatalf("seed officer: %v", err)
	}
	return officer
}

// MarkRegistered stamps seeded programs and officers as already held by the
// ledger
func MarkRegistered(t testing.TB, db *gorm.DB, at time.Time) {
	t.Helper()

	for _, model := range []interface{}{&models.Program{}, &models.Officer{}} {
		if err := db.Model(model).Where("ledger_synced_at IS NULL").Update("ledger_synced_at", at).Error; err != nil {
			t.Fatalf("mark registered: %v", err)
		}
	}
}
