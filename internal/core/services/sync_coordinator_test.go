package services

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"zakat-ledger/internal/adapters/ledger"
	"zakat-ledger/internal/adapters/persistence/dbtest"
	"zakat-ledger/internal/adapters/persistence/models"
	"zakat-ledger/internal/adapters/persistence/repositories"
	"zakat-ledger/internal/config"
	"zakat-ledger/internal/core/domain"
	"zakat-ledger/internal/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncRetriesUntilSynced(t *testing.T) {
	chain := &flakyLedger{MemoryLedger: ledger.NewMemoryLedger()}
	chain.failures.Store(2)
	f := newFixture(t, chain)
	ctx := context.Background()

	d := f.create(t, 100000)

	n, err := f.sync.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entries := f.entries(t, d.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, models.OutboxPending, entries[0].Status)
	assert.Equal(t, 1, entries[0].Attempts)
	assert.NotNil(t, entries[0].LastError)
	// full jitter with the test rand waits the whole first ceiling
	assert.WithinDuration(t, f.clock.Now().Add(2*time.Second), entries[0].NextAttemptAt, time.Millisecond)
	assert.False(t, f.sync.LedgerHealth().Healthy)

	// not due yet
	n, err = f.sync.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.clock.Advance(2 * time.Second)
	f.drain(t)
	assert.Equal(t, string(domain.SyncPending), f.reload(t, d.ID).SyncStatus)

	f.clock.Advance(4 * time.Second)
	f.drain(t)

	synced := f.reload(t, d.ID)
	assert.Equal(t, string(domain.SyncSynced), synced.SyncStatus)
	assert.Nil(t, synced.LastSyncError)
	assert.Equal(t, 1, chain.Len())
	assert.Equal(t, int32(3), chain.calls.Load())
	assert.True(t, f.sync.LedgerHealth().Healthy)
}

func TestLostAcknowledgementIsNotDuplicated(t *testing.T) {
	chain := &lostAckLedger{MemoryLedger: ledger.NewMemoryLedger()}
	f := newFixture(t, chain)

	d := f.create(t, 5000)
	f.drain(t)
	assert.Equal(t, string(domain.SyncPending), f.reload(t, d.ID).SyncStatus)

	f.clock.Advance(time.Minute)
	f.drain(t)

	synced := f.reload(t, d.ID)
	assert.Equal(t, string(domain.SyncSynced), synced.SyncStatus)
	assert.Equal(t, 1, chain.Len())
	height, err := chain.Height(context.Background())
	require.NoError(t, err)
	// one block for one transition despite two submissions
	assert.Equal(t, uint64(2), height)
}

func TestSyncGivesUpThenReconcileRequeues(t *testing.T) {
	chain := &flakyLedger{MemoryLedger: ledger.NewMemoryLedger()}
	chain.failures.Store(100)
	f := newFixture(t, chain, func(c *config.SyncConfig) { c.MaxAttempts = 3 })
	ctx := context.Background()

	d := f.create(t, 5000)
	for i := 0; i < 3; i++ {
		if i > 0 {
			f.clock.Advance(10 * time.Minute)
		}
		f.drain(t)
	}

	failed := f.reload(t, d.ID)
	assert.Equal(t, string(domain.SyncError), failed.SyncStatus)
	require.NotNil(t, failed.LastSyncError)
	assert.Contains(t, *failed.LastSyncError, "peer unreachable")

	entries := f.entries(t, d.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, models.OutboxFailed, entries[0].Status)
	assert.Equal(t, 3, entries[0].Attempts)

	// a parked entry is never picked up by the dispatcher
	n, err := f.sync.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	chain.failures.Store(0)

	// parked less than the horizon ago stays parked
	f.clock.Advance(10 * time.Minute)
	report, err := f.sync.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Requeued)
	assert.Equal(t, models.OutboxFailed, f.entries(t, d.ID)[0].Status)
	assert.Equal(t, string(domain.SyncError), f.reload(t, d.ID).SyncStatus)

	f.clock.Advance(time.Minute)
	report, err = f.sync.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Requeued)
	requeued := f.entries(t, d.ID)
	require.Len(t, requeued, 1)
	assert.Equal(t, 0, requeued[0].Attempts)
	assert.Nil(t, requeued[0].ParkedAt)
	assert.Equal(t, string(domain.SyncPending), f.reload(t, d.ID).SyncStatus)

	f.drain(t)
	assert.Equal(t, string(domain.SyncSynced), f.reload(t, d.ID).SyncStatus)
}

func TestRejectionParksUntilOperatorRetry(t *testing.T) {
	chain := &rejectingLedger{MemoryLedger: ledger.NewMemoryLedger()}
	chain.reject.Store(true)
	f := newFixture(t, chain)
	ctx := context.Background()
	rejectedBefore := testutil.ToFloat64(metrics.LedgerSubmitTotal.WithLabelValues(ledger.FnAddZakat, "rejected"))

	d := f.create(t, 5000)
	_, err := f.donations.ValidatePayment(ctx, d.ID, "R-1", officer)
	require.NoError(t, err)
	f.drain(t)

	rejected := f.reload(t, d.ID)
	assert.Equal(t, string(domain.SyncError), rejected.SyncStatus)
	require.NotNil(t, rejected.LastSyncError)
	assert.Contains(t, *rejected.LastSyncError, "endorsement policy failure")
	assert.Equal(t, rejectedBefore+1, testutil.ToFloat64(metrics.LedgerSubmitTotal.WithLabelValues(ledger.FnAddZakat, "rejected")))

	// the rejected head blocks the later transition
	entries := f.entries(t, d.ID)
	require.Len(t, entries, 2)
	assert.Equal(t, models.OutboxRejected, entries[0].Status)
	assert.Equal(t, models.OutboxPending, entries[1].Status)

	// reconcile leaves rejections to operators
	_, err = f.sync.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.OutboxRejected, f.entries(t, d.ID)[0].Status)

	trail, err := f.audit.Trail(ctx, AuditEntityDonation, d.ID)
	require.NoError(t, err)
	assert.Equal(t, AuditActionLedgerRejected, trail[len(trail)-1].Action)

	_, err = f.sync.RetryDonation(ctx, d.ID, officer)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	chain.reject.Store(false)
	queued, err := f.sync.RetryDonation(ctx, d.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, int64(1), queued)

	f.drain(t)
	synced := f.reload(t, d.ID)
	assert.Equal(t, string(domain.SyncSynced), synced.SyncStatus)
	record, ok := chain.Record(d.ID)
	require.True(t, ok)
	assert.Equal(t, "collected", record.Status)

	// nothing left to retry
	queued, err = f.sync.RetryDonation(ctx, d.ID, admin)
	require.NoError(t, err)
	assert.Zero(t, queued)
}

func TestReconcileRebuildsMissingEntries(t *testing.T) {
	chain := ledger.NewMemoryLedger()
	f := newFixture(t, chain)
	ctx := context.Background()

	d := f.create(t, 5000)
	f.drain(t)
	_, err := f.donations.ValidatePayment(ctx, d.ID, "R-1", officer)
	require.NoError(t, err)
	require.NoError(t, f.db.Where("aggregate_id = ?", d.ID).Delete(&models.OutboxEntry{}).Error)

	// inside the horizon nothing happens
	report, err := f.sync.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Rebuilt)

	f.clock.Set(time.Now().Add(11 * time.Minute))
	report, err = f.sync.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Rebuilt)

	// rebuilt calls keep the seq and token of their transition
	entries := f.entries(t, d.ID)
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.FnAddZakat, entries[0].Operation)
	assert.Equal(t, 1, entries[0].Seq)
	assert.Equal(t, d.ID+"#1", entries[0].IdempotencyToken)
	assert.Equal(t, ledger.FnValidatePayment, entries[1].Operation)
	assert.Equal(t, 2, entries[1].Seq)
	assert.Equal(t, d.ID+"#2", entries[1].IdempotencyToken)
	assert.Equal(t, 2, f.reload(t, d.ID).TransitionSeq)

	f.drain(t)
	assert.Equal(t, string(domain.SyncSynced), f.reload(t, d.ID).SyncStatus)
	record, ok := chain.Record(d.ID)
	require.True(t, ok)
	assert.Equal(t, "collected", record.Status)
	// the AddZakat already on the ledger was replayed, not written again
	height, err := chain.Height(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), height)
}

func TestReconcileResetsStaleClaims(t *testing.T) {
	f := newFixture(t, ledger.NewMemoryLedger())
	ctx := context.Background()

	d := f.create(t, 5000)
	entry := f.entries(t, d.ID)[0]
	claimed, err := f.outbox.Claim(ctx, entry.ID, f.clock.Now())
	require.NoError(t, err)
	require.True(t, claimed)

	n, err := f.sync.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(3 * time.Minute)
	report, err := f.sync.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.StaleReset)

	f.drain(t)
	assert.Equal(t, string(domain.SyncSynced), f.reload(t, d.ID).SyncStatus)
}

func TestLaterTransitionReentersPendingSync(t *testing.T) {
	f := newFixture(t, ledger.NewMemoryLedger())
	ctx := context.Background()

	d := f.create(t, 5000)
	f.drain(t)
	assert.Equal(t, string(domain.SyncSynced), f.reload(t, d.ID).SyncStatus)

	collected, err := f.donations.ValidatePayment(ctx, d.ID, "R-1", officer)
	require.NoError(t, err)
	assert.Equal(t, string(domain.SyncPending), collected.SyncStatus)

	f.drain(t)
	assert.Equal(t, string(domain.SyncSynced), f.reload(t, d.ID).SyncStatus)
}

func TestCoordinatorDrainsInBackground(t *testing.T) {
	f := newFixture(t, ledger.NewMemoryLedger())
	f.sync.Start()
	defer f.sync.Stop()

	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		ids = append(ids, f.create(t, int64(1000*(i+1))).ID)
	}

	require.Eventually(t, func() bool {
		for _, id := range ids {
			d, err := f.donations.GetByID(context.Background(), id)
			if err != nil || d.SyncStatus != string(domain.SyncSynced) {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)
}

func TestCheckLedgerCachesHeight(t *testing.T) {
	chain := ledger.NewMemoryLedger()
	f := newFixture(t, chain)
	ctx := context.Background()

	require.NoError(t, f.sync.CheckLedger(ctx))
	health := f.sync.LedgerHealth()
	assert.True(t, health.Healthy)
	assert.Equal(t, uint64(1), health.Height)

	f.create(t, 1000)
	f.drain(t)
	assert.Equal(t, uint64(2), f.sync.LedgerHealth().Height)

	chain.SetAvailable(false)
	assert.Error(t, f.sync.CheckLedger(ctx))
	health = f.sync.LedgerHealth()
	assert.False(t, health.Healthy)
	assert.Equal(t, uint64(2), health.Height)
	assert.NotEmpty(t, health.LastError)
}

func TestDonationWaitsForCatalogueRegistration(t *testing.T) {
	chain := ledger.NewMemoryLedger()
	f := newFixture(t, chain)
	ctx := context.Background()

	target := int64(50_000_000)
	program := &models.Program{
		ID:           "PROG-YDSF-2024-0009",
		Name:         "Sumur Wakaf",
		Organization: domain.OrgMalang,
		TargetAmount: &target,
		IsActive:     true,
	}
	require.NoError(t, f.db.Create(program).Error)
	dbtest.SeedOfficer(t, f.db, "OFF-YDSF-2024-0009", "REF009")

	d := f.create(t, 25000, func(in *CreateDonationInput) {
		in.ProgramID = program.ID
		in.ReferralCode = "REF009"
	})

	// the AddZakat is held back without spending an attempt
	f.drain(t)
	entries := f.entries(t, d.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, models.OutboxPending, entries[0].Status)
	assert.Equal(t, 0, entries[0].Attempts)
	require.NotNil(t, entries[0].LastError)
	assert.Equal(t, "waiting for program "+program.ID, *entries[0].LastError)
	assert.Zero(t, chain.Len())

	staged, err := f.sync.MirrorCatalogue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, staged)

	// staging twice does not duplicate registrations
	staged, err = f.sync.MirrorCatalogue(ctx)
	require.NoError(t, err)
	assert.Zero(t, staged)

	f.drain(t)
	registered, err := f.sync.programs.GetByID(ctx, program.ID)
	require.NoError(t, err)
	assert.NotNil(t, registered.LedgerSyncedAt)
	onLedger, ok := chain.Program(program.ID)
	require.True(t, ok)
	assert.Equal(t, "Sumur Wakaf", onLedger.Name)
	_, ok = chain.Officer("REF009")
	assert.True(t, ok)

	trail, err := f.audit.Trail(ctx, AuditEntityProgram, program.ID)
	require.NoError(t, err)
	require.NotEmpty(t, trail)
	assert.Equal(t, AuditActionLedgerRegistered, trail[len(trail)-1].Action)

	f.clock.Advance(2 * time.Second)
	f.drain(t)
	assert.Equal(t, string(domain.SyncSynced), f.reload(t, d.ID).SyncStatus)
	record, ok := chain.Record(d.ID)
	require.True(t, ok)
	assert.Equal(t, program.ID, record.ProgramID)
}

// blockingLedger holds every submission until release is closed
type blockingLedger struct {
	*ledger.MemoryLedger
	started chan struct{}
	release chan struct{}
}

func (l *blockingLedger) Submit(ctx context.Context, fn, token string, args ...string) (*ledger.Receipt, error) {
	select {
	case l.started <- struct{}{}:
	default:
	}
	select {
	case <-l.release:
	case <-ctx.Done():
		return nil, &domain.LedgerUnavailableError{Function: fn, Err: ctx.Err()}
	}
	return l.MemoryLedger.Submit(ctx, fn, token, args...)
}

func TestStopWaitsForInFlightSubmission(t *testing.T) {
	chain := &blockingLedger{
		MemoryLedger: ledger.NewMemoryLedger(),
		started:      make(chan struct{}, 1),
		release:      make(chan struct{}),
	}
	f := newFixture(t, chain, func(c *config.SyncConfig) { c.Workers = 1 })
	ctx := context.Background()

	f.sync.Start()
	first := f.create(t, 1000)
	select {
	case <-chain.started:
	case <-time.After(5 * time.Second):
		t.Fatal("submission never started")
	}

	// the only worker is busy, so this one is never handed out
	second := f.create(t, 2000)

	stopped := make(chan struct{})
	go func() {
		f.sync.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while a submission was in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(chain.release)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the submission finished")
	}

	assert.Equal(t, string(domain.SyncSynced), f.reload(t, first.ID).SyncStatus)
	assert.Equal(t, string(domain.SyncPending), f.reload(t, second.ID).SyncStatus)
	entries := f.entries(t, second.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, models.OutboxPending, entries[0].Status)
	assert.Equal(t, 0, entries[0].Attempts)

	f.sync.Start()
	defer f.sync.Stop()
	require.Eventually(t, func() bool {
		d, err := f.donations.GetByID(ctx, second.ID)
		return err == nil && d.SyncStatus == string(domain.SyncSynced)
	}, 5*time.Second, 20*time.Millisecond)
}

// lockedBuffer is a log sink safe for the worker goroutines
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Split(strings.TrimSpace(b.buf.String()), "\n")
}

func TestServiceLogsCarryOneComponent(t *testing.T) {
	f := newFixture(t, ledger.NewMemoryLedger())
	ctx := context.Background()

	var out lockedBuffer
	log := zerolog.New(&out)
	coordinator := NewSyncCoordinator(f.db, f.sync.ledger, f.locks, f.audit, f.sync.notify, testSyncConfig(), log)
	coordinator.now = f.clock.Now
	donations := NewDonationService(f.db, NewIDGenerator(repositories.NewSequenceRepository(f.db), wib),
		f.locks, f.audit, coordinator, f.sync.notify, testOrgConfig(), log)
	donations.now = f.clock.Now

	coordinator.Start()
	d, err := donations.Create(ctx, CreateDonationInput{
		DonorName:  "Ahmad",
		DonorPhone: "08123456789",
		Amount:     1000,
		ZakatType:  "maal",
		ProgramID:  programMalang,
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, err := donations.GetByID(ctx, d.ID)
		return err == nil && got.SyncStatus == string(domain.SyncSynced)
	}, 5*time.Second, 20*time.Millisecond)
	coordinator.Stop()

	seen := map[string]bool{}
	for _, line := range out.Lines() {
		require.Equal(t, 1, strings.Count(line, `"component":`), line)
		var entry struct {
			Component string `json:"component"`
		}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		seen[entry.Component] = true
	}
	assert.True(t, seen["sync"])
	assert.True(t, seen["donations"])
}
