package main

import (
	"context"
	"testing"
	"time"

	"zakat-ledger/internal/adapters/ledger"
	"zakat-ledger/internal/adapters/persistence/dbtest"
	"zakat-ledger/internal/adapters/persistence/repositories"
	"zakat-ledger/internal/config"
	"zakat-ledger/internal/core/domain"
	"zakat-ledger/internal/core/services"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMemoryLedgerClearsRegistrations(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	dbtest.SeedProgram(t, db, "PROG-YDSF-2024-0001", domain.OrgMalang)
	dbtest.SeedOfficer(t, db, "OFF-YDSF-2024-0001", "REF001")
	dbtest.MarkRegistered(t, db, time.Now())

	cfg := &config.Config{Ledger: config.LedgerConfig{Driver: "memory"}}
	client, err := openLedger(cfg, db, zerolog.Nop())
	require.NoError(t, err)
	defer client.Close()
	assert.IsType(t, &ledger.MemoryLedger{}, client)

	// a fresh memory ledger holds nothing, so the catalogue must be staged again
	program, err := repositories.NewProgramRepository(db).GetByID(ctx, "PROG-YDSF-2024-0001")
	require.NoError(t, err)
	assert.Nil(t, program.LedgerSyncedAt)
	officer, err := repositories.NewOfficerRepository(db).GetByReferralCode(ctx, "REF001")
	require.NoError(t, err)
	assert.Nil(t, officer.LedgerSyncedAt)
}

func TestStopWithinReturnsOnceCoordinatorStops(t *testing.T) {
	db := dbtest.Open(t)
	log := zerolog.Nop()
	cfg := config.SyncConfig{Workers: 1, BatchSize: 10, PollInterval: 10 * time.Millisecond, SubmitRatePerSec: 10}
	audit := services.NewAuditService(repositories.NewAuditRepository(db))
	notify := services.NewNotificationService(nil, "", log)
	coordinator := services.NewSyncCoordinator(db, ledger.NewMemoryLedger(), services.NewMemoryKeyLocker(), audit, notify, cfg, log)
	coordinator.Start()

	start := time.Now()
	stopWithin(coordinator, time.Second, log)
	assert.Less(t, time.Since(start), time.Second)
}
