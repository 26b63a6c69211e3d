package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"zakat-ledger/internal/adapters/ledger"
	"zakat-ledger/internal/adapters/persistence/dbtest"
	"zakat-ledger/internal/adapters/persistence/models"
	"zakat-ledger/internal/adapters/persistence/repositories"
	"zakat-ledger/internal/config"
	"zakat-ledger/internal/core/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var wib = time.FixedZone("WIB", 7*60*60)

const (
	programMalang = "PROG-YDSF-2024-0001"
	programJatim  = "PROG-YDSF-2024-0002"
)

var (
	officer = domain.Actor{ID: "officer-1", Role: domain.RoleOfficer}
	admin   = domain.Actor{ID: "admin-1", Role: domain.RoleAdmin}
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// flakyLedger fails the next `failures` submissions as unavailable
type flakyLedger struct {
	*ledger.MemoryLedger
	failures atomic.Int32
	calls    atomic.Int32
}

func (l *flakyLedger) Submit(ctx context.Context, fn, token string, args ...string) (*ledger.Receipt, error) {
	l.calls.Add(1)
	if l.failures.Load() > 0 {
		l.failures.Add(-1)
		return nil, &domain.LedgerUnavailableError{Function: fn, Err: errors.New("peer unreachable")}
	}
	return l.MemoryLedger.Submit(ctx, fn, token, args...)
}

// lostAckLedger commits the first submission but reports a timeout
type lostAckLedger struct {
	*ledger.MemoryLedger
	lost atomic.Bool
}

func (l *lostAckLedger) Submit(ctx context.Context, fn, token string, args ...string) (*ledger.Receipt, error) {
	receipt, err := l.MemoryLedger.Submit(ctx, fn, token, args...)
	if err == nil && l.lost.CompareAndSwap(false, true) {
		return nil, &domain.LedgerUnavailableError{Function: fn, Err: context.DeadlineExceeded}
	}
	return receipt, err
}

// rejectingLedger refuses every submission while reject is set
type rejectingLedger struct {
	*ledger.MemoryLedger
	reject atomic.Bool
}

func (l *rejectingLedger) Submit(ctx context.Context, fn, token string, args ...string) (*ledger.Receipt, error) {
	if l.reject.Load() {
		return nil, &domain.LedgerRejectedError{Function: fn, Reason: "endorsement policy failure"}
	}
	return l.MemoryLedger.Submit(ctx, fn, token, args...)
}

// catalogueSeeder is satisfied by every fake built on the memory ledger
type catalogueSeeder interface {
	RegisterProgram(id, name string)
	RegisterOfficer(id, name, referralCode string)
}

type fixture struct {
	db        *gorm.DB
	clock     *testClock
	locks     *MemoryKeyLocker
	audit     *AuditService
	sync      *SyncCoordinator
	donations *DonationService
	queries   *QueryService
	dashboard *DashboardService
	outbox    *repositories.OutboxRepository
}

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		Workers:           2,
		MaxAttempts:       5,
		BatchSize:         50,
		BackoffBase:       2 * time.Second,
		BackoffCap:        5 * time.Minute,
		PollInterval:      10 * time.Millisecond,
		SubmitTimeout:     5 * time.Second,
		StaleProcessing:   2 * time.Minute,
		ReconcileHorizon:  10 * time.Minute,
		ReconcileSchedule: "@every 1m",
		HealthSchedule:    "@every 30s",
		SubmitRatePerSec:  1000,
	}
}

func testOrgConfig() config.OrgConfig {
	return config.OrgConfig{
		DefaultOrganization:  domain.OrgMalang,
		DefaultPaymentMethod: string(domain.PaymentTransfer),
		Timezone:             "WIB",
		Location:             wib,
	}
}

func newFixture(t *testing.T, client ledger.Client, tune ...func(*config.SyncConfig)) *fixture {
	t.Helper()

	clock := &testClock{now: time.Date(2025, 3, 14, 3, 0, 0, 0, time.UTC)}

	// the catalogue starts out registered on both sides
	db := dbtest.Open(t)
	programs := []*models.Program{
		dbtest.SeedProgram(t, db, programMalang, domain.OrgMalang),
		dbtest.SeedProgram(t, db, programJatim, domain.OrgJatim),
	}
	officers := []*models.Officer{
		dbtest.SeedOfficer(t, db, "OFF-YDSF-2024-0001", "REF001"),
		dbtest.SeedOfficer(t, db, "OFF-YDSF-2024-0002", "REF002"),
	}
	dbtest.MarkRegistered(t, db, clock.now)
	if seeder, ok := client.(catalogueSeeder); ok {
		for _, p := range programs {
			seeder.RegisterProgram(p.ID, p.Name)
		}
		for _, o := range officers {
			seeder.RegisterOfficer(o.ID, o.Name, o.ReferralCode)
		}
	}

	cfg := testSyncConfig()
	for _, fn := range tune {
		fn(&cfg)
	}

	log := zerolog.Nop()
	locks := NewMemoryKeyLocker()
	audit := NewAuditService(repositories.NewAuditRepository(db))
	audit.now = clock.Now
	notify := NewNotificationService(nil, "", log)

	coordinator := NewSyncCoordinator(db, client, locks, audit, notify, cfg, log)
	coordinator.now = clock.Now
	// always wait the full ceiling so tests can reason about due times
	coordinator.policy.Rand = func(n int64) int64 { return n - 1 }

	ids := NewIDGenerator(repositories.NewSequenceRepository(db), wib)
	donations := NewDonationService(db, ids, locks, audit, coordinator, notify, testOrgConfig(), log)
	donations.now = clock.Now

	dashboard := NewDashboardService(db, coordinator, wib)
	dashboard.now = clock.Now

	queries := NewQueryService(db, audit, wib)
	queries.now = clock.Now

	return &fixture{
		db:        db,
		clock:     clock,
		locks:     locks,
		audit:     audit,
		sync:      coordinator,
		donations: donations,
		queries:   queries,
		dashboard: dashboard,
		outbox:    repositories.NewOutboxRepository(db),
	}
}

func (f *fixture) create(t *testing.T, amount int64, opts ...func(*CreateDonationInput)) *models.Donation {
	t.Helper()
	in := CreateDonationInput{
		DonorName:  "Ahmad",
		DonorPhone: "08123456789",
		Amount:     amount,
		ZakatType:  "maal",
		ProgramID:  programMalang,
	}
	for _, opt := range opts {
		opt(&in)
	}
	d, err := f.donations.Create(context.Background(), in)
	require.NoError(t, err)
	return d
}

// drain runs the coordinator until nothing is due
func (f *fixture) drain(t *testing.T) {
	t.Helper()
	for i := 0; i < 50; i++ {
		n, err := f.sync.RunOnce(context.Background())
		require.NoError(t, err)
		if n == 0 {
			return
		}
	}
	t.Fatal("outbox did not drain")
}

func (f *fixture) reload(t *testing.T, id string) *models.Donation {
	t.Helper()
	d, err := f.donations.GetByID(context.Background(), id)
	require.NoError(t, err)
	return d
}

func (f *fixture) entries(t *testing.T, id string) []models.OutboxEntry {
	t.Helper()
	entries, err := f.sync.Entries(context.Background(), id)
	require.NoError(t, err)
	return entries
}
