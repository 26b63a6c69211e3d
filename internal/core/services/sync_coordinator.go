package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"zakat-ledger/internal/adapters/ledger"
	"zakat-ledger/internal/adapters/persistence/models"
	"zakat-ledger/internal/adapters/persistence/repositories"
	"zakat-ledger/internal/config"
	"zakat-ledger/internal/core/domain"
	"zakat-ledger/internal/pkg/backoff"
	"zakat-ledger/internal/pkg/logger"
	"zakat-ledger/internal/pkg/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const systemActor = "system"

// LedgerHealth is the coordinator's last view of the ledger. Readers get it
// without touching the network.
type LedgerHealth struct {
	Healthy       bool       `json:"healthy"`
	Height        uint64     `json:"height"`
	LastError     string     `json:"last_error,omitempty"`
	LastContactAt *time.Time `json:"last_contact_at,omitempty"`
}

// ReconcileReport summarizes one reconciliation sweep
type ReconcileReport struct {
	StaleReset int64 `json:"stale_reset"`
	Requeued   int   `json:"requeued"`
	Rebuilt    int   `json:"rebuilt"`
	Mirrored   int   `json:"mirrored"`
}

// SyncCoordinator drains the ledger outbox. Transitions stage entries in
// their own transaction; the coordinator submits them in seq order per
// aggregate, retries unavailability with backoff and parks rejections.
// Programs and officers are registered through the same outbox before any
// AddZakat that names them.
type SyncCoordinator struct {
	db            *gorm.DB
	outbox        *repositories.OutboxRepository
	donations     *repositories.DonationRepository
	distributions *repositories.DistributionRepository
	programs      *repositories.ProgramRepository
	officers      *repositories.OfficerRepository
	ledger        ledger.Client
	locks         KeyLocker
	audit         *AuditService
	notify        *NotificationService
	cfg           config.SyncConfig
	policy        backoff.Policy
	limiter       *rate.Limiter
	log           zerolog.Logger
	now           func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
	health   LedgerHealth
	running  bool

	wake           chan struct{}
	jobs           chan models.OutboxEntry
	stop           chan struct{}
	dispatcherDone chan struct{}
	workers        sync.WaitGroup
}

// NewSyncCoordinator creates a coordinator. Call Start to run it in the background.
func NewSyncCoordinator(
	db *gorm.DB,
	client ledger.Client,
	locks KeyLocker,
	audit *AuditService,
	notify *NotificationService,
	cfg config.SyncConfig,
	log zerolog.Logger,
) *SyncCoordinator {
	burst := int(cfg.SubmitRatePerSec)
	if burst < 1 {
		burst = 1
	}

	return &SyncCoordinator{
		db:            db,
		outbox:        repositories.NewOutboxRepository(db),
		donations:     repositories.NewDonationRepository(db),
		distributions: repositories.NewDistributionRepository(db),
		programs:      repositories.NewProgramRepository(db),
		officers:      repositories.NewOfficerRepository(db),
		ledger:        client,
		locks:         locks,
		audit:         audit,
		notify:        notify,
		cfg:           cfg,
		policy:        backoff.Policy{Base: cfg.BackoffBase, Cap: cfg.BackoffCap},
		limiter:       rate.NewLimiter(rate.Limit(cfg.SubmitRatePerSec), burst),
		log:           logger.Component(log, "sync"),
		now:           time.Now,
		inFlight:      make(map[string]struct{}),
		wake:          make(chan struct{}, 1),
	}
}

// IdempotencyToken is the token sent with the seq-th ledger call of an aggregate
func IdempotencyToken(aggregateID string, seq int) string {
	return fmt.Sprintf("%s#%d", aggregateID, seq)
}

// Stage appends the ledger call for a transition inside tx and marks the
// donation pending_sync. donation.TransitionSeq must already hold the seq of
// this transition.
func (c *SyncCoordinator) Stage(ctx context.Context, tx *gorm.DB, donation *models.Donation, fn string, args []string) error {
	sub := submission{fn: fn, args: args}
	if err := c.appendEntry(ctx, tx, models.AggregateDonation, donation.ID, donation.TransitionSeq, sub); err != nil {
		return err
	}
	return c.markPendingSync(ctx, tx, donation)
}

func (c *SyncCoordinator) appendEntry(ctx context.Context, tx *gorm.DB, aggregate, aggregateID string, seq int, sub submission) error {
	raw, err := json.Marshal(sub.args)
	if err != nil {
		return fmt.Errorf("marshal ledger args: %w", err)
	}

	now := c.now().UTC()
	entry := &models.OutboxEntry{
		ID:               uuid.NewString(),
		Aggregate:        aggregate,
		AggregateID:      aggregateID,
		Seq:              seq,
		Operation:        sub.fn,
		Args:             raw,
		IdempotencyToken: IdempotencyToken(aggregateID, seq),
		Status:           models.OutboxPending,
		NextAttemptAt:    now,
		CreatedAt:        now,
	}
	if err := c.outbox.WithTx(tx).Append(ctx, entry); err != nil {
		return fmt.Errorf("append outbox entry: %w", err)
	}
	return nil
}

func (c *SyncCoordinator) markPendingSync(ctx context.Context, tx *gorm.DB, donation *models.Donation) error {
	err := c.donations.WithTx(tx).UpdateFields(ctx, donation.ID, map[string]interface{}{
		"sync_status":     string(domain.SyncPending),
		"last_sync_error": nil,
	})
	if err != nil {
		return err
	}
	donation.SyncStatus = string(domain.SyncPending)
	donation.LastSyncError = nil
	return nil
}

// Notify wakes the dispatcher after a commit. Never blocks.
func (c *SyncCoordinator) Notify() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Start launches the dispatcher and the worker pool
func (c *SyncCoordinator) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stop = make(chan struct{})
	c.jobs = make(chan models.OutboxEntry)
	c.dispatcherDone = make(chan struct{})
	c.mu.Unlock()

	for i := 0; i < c.cfg.Workers; i++ {
		c.workers.Add(1)
		go c.worker()
	}
	go c.dispatch()

	c.log.Info().Int("workers", c.cfg.Workers).Msg("sync coordinator started")
}

// Stop stops dequeuing and waits for in-flight submissions to finish
func (c *SyncCoordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stop)
	c.mu.Unlock()

	<-c.dispatcherDone
	close(c.jobs)
	c.workers.Wait()

	c.log.Info().Msg("sync coordinator stopped")
}

func (c *SyncCoordinator) dispatch() {
	defer close(c.dispatcherDone)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		c.dispatchDue()

		select {
		case <-c.stop:
			return
		case <-ticker.C:
		case <-c.wake:
		}
	}
}

func (c *SyncCoordinator) dispatchDue() {
	entries, err := c.outbox.ListDue(context.Background(), c.now().UTC(), c.cfg.BatchSize)
	if err != nil {
		c.log.Error().Err(err).Msg("failed to list due outbox entries")
		return
	}

	for _, entry := range entries {
		if !c.markInFlight(entry.AggregateID) {
			continue
		}
		select {
		case c.jobs <- entry:
		case <-c.stop:
			c.clearInFlight(entry.AggregateID)
			return
		}
	}
}

func (c *SyncCoordinator) worker() {
	defer c.workers.Done()

	for entry := range c.jobs {
		c.process(context.Background(), entry)
		c.clearInFlight(entry.AggregateID)
		// the donation's next entry may be due now
		c.Notify()
	}
}

// RunOnce processes every entry due right now and returns how many it
// attempted. Used by tests and one-shot tooling; safe alongside Start.
func (c *SyncCoordinator) RunOnce(ctx context.Context) (int, error) {
	entries, err := c.outbox.ListDue(ctx, c.now().UTC(), c.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, entry := range entries {
		if !c.markInFlight(entry.AggregateID) {
			continue
		}
		c.process(ctx, entry)
		c.clearInFlight(entry.AggregateID)
		processed++
	}
	return processed, nil
}

func (c *SyncCoordinator) markInFlight(aggregateID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inFlight[aggregateID]; busy {
		return false
	}
	c.inFlight[aggregateID] = struct{}{}
	return true
}

func (c *SyncCoordinator) clearInFlight(aggregateID string) {
	c.mu.Lock()
	delete(c.inFlight, aggregateID)
	c.mu.Unlock()
}

// entryLog tags a logger with the entry's aggregate, e.g. donation_id
func (c *SyncCoordinator) entryLog(entry models.OutboxEntry) zerolog.Logger {
	return c.log.With().Str(entry.Aggregate+"_id", entry.AggregateID).Logger()
}

func (c *SyncCoordinator) process(ctx context.Context, entry models.OutboxEntry) {
	log := c.entryLog(entry).With().
		Int("seq", entry.Seq).
		Str("function", entry.Operation).
		Logger()

	claimed, err := c.claim(ctx, entry)
	if err != nil {
		log.Error().Err(err).Msg("failed to claim outbox entry")
		return
	}
	if !claimed {
		return
	}

	var args []string
	if err := json.Unmarshal(entry.Args, &args); err != nil {
		c.recordRejected(ctx, entry, &domain.LedgerRejectedError{
			Function: entry.Operation,
			Reason:   "corrupt outbox arguments: " + err.Error(),
		})
		return
	}

	if entry.Operation == ledger.FnAddZakat {
		waiting, err := c.catalogueWaiting(ctx, args)
		if err != nil {
			log.Error().Err(err).Msg("failed to check catalogue registration")
		}
		if err != nil || waiting != "" {
			reason := "waiting for " + waiting
			if err != nil {
				reason = err.Error()
			}
			// Not an attempt; the ledger would refuse an unregistered reference
			if err := c.outbox.MarkRetry(context.Background(), entry.ID, entry.Attempts, c.now().UTC().Add(c.cfg.BackoffBase), reason); err != nil {
				log.Error().Err(err).Msg("failed to release outbox entry")
			}
			log.Debug().Str("waiting_for", waiting).Msg("catalogue not registered yet")
			return
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		// Not an attempt; hand the entry back untouched
		if err := c.outbox.MarkRetry(context.Background(), entry.ID, entry.Attempts, c.now().UTC(), deref(entry.LastError)); err != nil {
			log.Error().Err(err).Msg("failed to release outbox entry")
		}
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.SubmitTimeout)
	start := time.Now()
	receipt, err := c.ledger.Submit(callCtx, entry.Operation, entry.IdempotencyToken, args...)
	cancel()
	metrics.LedgerSubmitDuration.WithLabelValues(entry.Operation).Observe(time.Since(start).Seconds())

	var rejected *domain.LedgerRejectedError
	switch {
	case err == nil:
		c.recordSuccess(ctx, entry, receipt)
	case errors.As(err, &rejected) && ledger.IsReplay(entry.Operation, rejected.Reason):
		log.Info().Str("reason", rejected.Reason).Msg("ledger already holds this change")
		c.recordSuccess(ctx, entry, &ledger.Receipt{Replayed: true})
	case rejected != nil:
		c.recordRejected(ctx, entry, err)
	default:
		c.recordUnavailable(ctx, entry, err)
	}
}

// catalogueWaiting names the program or officer an AddZakat call refers to
// that the ledger has not acknowledged yet. References unknown locally are
// left for the ledger to judge.
func (c *SyncCoordinator) catalogueWaiting(ctx context.Context, args []string) (string, error) {
	if len(args) != 8 {
		return "", nil
	}
	if programID := args[1]; programID != "" {
		program, err := c.programs.GetByID(ctx, programID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
		case err != nil:
			return "", err
		case program.LedgerSyncedAt == nil:
			return "program " + programID, nil
		}
	}
	if code := args[7]; code != "" {
		officer, err := c.officers.GetByReferralCode(ctx, code)
		switch {
		case errors.Is(err, domain.ErrNotFound):
		case err != nil:
			return "", err
		case officer.LedgerSyncedAt == nil:
			return "officer " + officer.ID, nil
		}
	}
	return "", nil
}

func (c *SyncCoordinator) claim(ctx context.Context, entry models.OutboxEntry) (bool, error) {
	unlock, err := c.locks.Lock(ctx, entry.AggregateID)
	if err != nil {
		return false, err
	}
	defer unlock()
	return c.outbox.Claim(ctx, entry.ID, c.now().UTC())
}

func (c *SyncCoordinator) withLock(ctx context.Context, key string, fn func(tx *gorm.DB) error) error {
	unlock, err := c.locks.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	return c.db.WithContext(ctx).Transaction(fn)
}

func (c *SyncCoordinator) recordSuccess(ctx context.Context, entry models.OutboxEntry, receipt *ledger.Receipt) {
	result := "ok"
	if receipt.Replayed {
		result = "replayed"
	}
	metrics.LedgerSubmitTotal.WithLabelValues(entry.Operation, result).Inc()

	height := uint64(0)
	if receipt.BlockNumber > 0 {
		height = receipt.BlockNumber + 1
	}
	c.markLedgerUp(height, false)

	var synced *models.Donation
	err := c.withLock(ctx, entry.AggregateID, func(tx *gorm.DB) error {
		if err := c.outbox.WithTx(tx).Delete(ctx, entry.ID); err != nil {
			return err
		}
		if entry.Aggregate != models.AggregateDonation {
			return c.markRegistered(ctx, tx, entry, receipt)
		}

		updates := map[string]interface{}{}
		if receipt.TxID != "" {
			updates["ledger_tx_id"] = receipt.TxID
			if entry.Operation == ledger.FnDistributeZakat {
				if err := c.distributions.WithTx(tx).SetLedgerTxID(ctx, entry.AggregateID, receipt.TxID); err != nil {
					return err
				}
			}
		}

		remaining, err := c.outbox.WithTx(tx).CountByAggregate(ctx, entry.AggregateID)
		if err != nil {
			return err
		}
		if remaining == 0 {
			updates["sync_status"] = string(domain.SyncSynced)
			updates["synced_at"] = c.now().UTC()
			updates["last_sync_error"] = nil
		}
		if len(updates) == 0 {
			return nil
		}
		if err := c.donations.WithTx(tx).UpdateFields(ctx, entry.AggregateID, updates); err != nil {
			return err
		}
		if remaining == 0 {
			synced, err = c.donations.WithTx(tx).GetByID(ctx, entry.AggregateID)
			return err
		}
		return nil
	})
	log := c.entryLog(entry)
	if err != nil {
		// The entry stays processing; the stale sweep hands it back and the
		// idempotency token makes the resubmission harmless.
		log.Error().Err(err).Msg("failed to record ledger acknowledgement")
		return
	}

	log.Debug().
		Int("seq", entry.Seq).
		Str("tx_id", receipt.TxID).
		Bool("replayed", receipt.Replayed).
		Msg("ledger acknowledged")

	if synced != nil {
		c.notify.NotifySynced(synced)
	}
}

// markRegistered records that the ledger holds a program or officer
func (c *SyncCoordinator) markRegistered(ctx context.Context, tx *gorm.DB, entry models.OutboxEntry, receipt *ledger.Receipt) error {
	var txID *string
	if receipt.TxID != "" {
		txID = strPtr(receipt.TxID)
	}

	now := c.now().UTC()
	var err error
	switch entry.Aggregate {
	case models.AggregateProgram:
		err = c.programs.WithTx(tx).MarkRegistered(ctx, entry.AggregateID, txID, now)
	case models.AggregateOfficer:
		err = c.officers.WithTx(tx).MarkRegistered(ctx, entry.AggregateID, txID, now)
	default:
		return fmt.Errorf("unknown outbox aggregate %q", entry.Aggregate)
	}
	if err != nil {
		return err
	}
	return c.audit.Record(ctx, tx, entry.Aggregate, entry.AggregateID, AuditActionLedgerRegistered, systemActor,
		map[string]interface{}{
			"function": entry.Operation,
			"tx_id":    receipt.TxID,
			"replayed": receipt.Replayed,
		})
}

func (c *SyncCoordinator) recordUnavailable(ctx context.Context, entry models.OutboxEntry, cause error) {
	metrics.LedgerSubmitTotal.WithLabelValues(entry.Operation, "unavailable").Inc()
	c.markLedgerDown(cause)

	attempts := entry.Attempts + 1
	msg := cause.Error()
	gaveUp := false

	var failed *models.Donation
	err := c.withLock(ctx, entry.AggregateID, func(tx *gorm.DB) error {
		now := c.now().UTC()
		if attempts < c.cfg.MaxAttempts {
			return c.outbox.WithTx(tx).MarkRetry(ctx, entry.ID, attempts, now.Add(c.policy.Delay(attempts)), msg)
		}

		if err := c.outbox.WithTx(tx).MarkFailed(ctx, entry.ID, attempts, now, msg); err != nil {
			return err
		}
		gaveUp = true
		if entry.Aggregate != models.AggregateDonation {
			return nil
		}
		var err error
		failed, err = c.markDonationError(ctx, tx, entry.AggregateID, msg)
		return err
	})
	log := c.entryLog(entry)
	if err != nil {
		log.Error().Err(err).Msg("failed to record ledger failure")
		return
	}

	if gaveUp {
		log.Warn().
			Str("function", entry.Operation).
			Int("attempts", attempts).
			Str("error", msg).
			Msg("ledger sync gave up")
		if failed != nil {
			c.notify.NotifySyncFailed(failed, msg)
		}
		return
	}

	log.Debug().
		Int("attempts", attempts).
		Err(cause).
		Msg("ledger unavailable, will retry")
}

func (c *SyncCoordinator) recordRejected(ctx context.Context, entry models.OutboxEntry, cause error) {
	metrics.LedgerSubmitTotal.WithLabelValues(entry.Operation, "rejected").Inc()
	// a rejection is still an answer
	c.markLedgerUp(0, false)

	msg := cause.Error()
	var donation *models.Donation
	err := c.withLock(ctx, entry.AggregateID, func(tx *gorm.DB) error {
		if err := c.outbox.WithTx(tx).MarkRejected(ctx, entry.ID, entry.Attempts+1, c.now().UTC(), msg); err != nil {
			return err
		}
		if entry.Aggregate == models.AggregateDonation {
			var err error
			if donation, err = c.markDonationError(ctx, tx, entry.AggregateID, msg); err != nil {
				return err
			}
		}
		return c.audit.Record(ctx, tx, entry.Aggregate, entry.AggregateID, AuditActionLedgerRejected, systemActor,
			map[string]interface{}{
				"function": entry.Operation,
				"seq":      entry.Seq,
				"reason":   msg,
			})
	})
	log := c.entryLog(entry)
	if err != nil {
		log.Error().Err(err).Msg("failed to record ledger rejection")
		return
	}

	log.Warn().
		Str("function", entry.Operation).
		Str("reason", msg).
		Msg("ledger rejected submission")
	if donation != nil {
		c.notify.NotifySyncFailed(donation, msg)
	}
}

func (c *SyncCoordinator) markDonationError(ctx context.Context, tx *gorm.DB, donationID, msg string) (*models.Donation, error) {
	repo := c.donations.WithTx(tx)
	err := repo.UpdateFields(ctx, donationID, map[string]interface{}{
		"sync_status":     string(domain.SyncError),
		"last_sync_error": msg,
	})
	if err != nil {
		return nil, err
	}
	return repo.GetByID(ctx, donationID)
}

// Reconcile is the periodic sweep: it hands stale claims back, requeues
// entries that ran out of attempts longer than the horizon ago, rebuilds
// missing entries for donations that never reached the ledger and stages
// registrations for programs and officers the ledger does not hold yet.
func (c *SyncCoordinator) Reconcile(ctx context.Context) (ReconcileReport, error) {
	report, err := c.reconcile(ctx)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.ReconcileRunsTotal.WithLabelValues(result).Inc()
	c.RefreshOutboxMetrics(ctx)

	if report.StaleReset > 0 || report.Requeued > 0 || report.Rebuilt > 0 || report.Mirrored > 0 {
		c.log.Info().
			Int64("stale_reset", report.StaleReset).
			Int("requeued", report.Requeued).
			Int("rebuilt", report.Rebuilt).
			Int("mirrored", report.Mirrored).
			Msg("reconciliation sweep")
		c.Notify()
	}
	return report, err
}

func (c *SyncCoordinator) reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	now := c.now().UTC()
	horizon := now.Add(-c.cfg.ReconcileHorizon)

	reset, err := c.outbox.ResetStale(ctx, now.Add(-c.cfg.StaleProcessing), now)
	if err != nil {
		return report, fmt.Errorf("reset stale entries: %w", err)
	}
	report.StaleReset = reset

	mirrored, err := c.MirrorCatalogue(ctx)
	if err != nil {
		return report, err
	}
	report.Mirrored = mirrored

	parked, err := c.outbox.ListParkedBefore(ctx, models.OutboxFailed, horizon, c.cfg.BatchSize)
	if err != nil {
		return report, fmt.Errorf("list failed entries: %w", err)
	}
	for _, p := range parked {
		var n int64
		err := c.withLock(ctx, p.AggregateID, func(tx *gorm.DB) error {
			var err error
			n, err = c.outbox.WithTx(tx).RequeueParkedBefore(ctx, p.AggregateID, models.OutboxFailed, horizon, now)
			if err != nil || n == 0 || p.Aggregate != models.AggregateDonation {
				return err
			}
			return c.donations.WithTx(tx).UpdateFields(ctx, p.AggregateID, map[string]interface{}{
				"sync_status": string(domain.SyncPending),
			})
		})
		if err != nil {
			return report, fmt.Errorf("requeue %s: %w", p.AggregateID, err)
		}
		if n > 0 {
			report.Requeued++
		}
	}

	stale, err := c.donations.ListUnsynced(ctx,
		[]string{string(domain.SyncPending), string(domain.SyncError)},
		horizon, c.cfg.BatchSize)
	if err != nil {
		return report, fmt.Errorf("list unsynced donations: %w", err)
	}
	for _, d := range stale {
		var rebuilt int
		err := c.withLock(ctx, d.ID, func(tx *gorm.DB) error {
			var err error
			rebuilt, err = c.rebuild(ctx, tx, d.ID)
			return err
		})
		if err != nil {
			return report, fmt.Errorf("rebuild %s: %w", d.ID, err)
		}
		if rebuilt > 0 {
			report.Rebuilt++
		}
	}

	return report, nil
}

// rebuild restages the donation's whole call history when it has no outbox
// entries left but is not synced. Every call keeps the seq of its transition,
// so the ledger sees the same idempotency tokens and acknowledges calls it
// already holds as replays.
func (c *SyncCoordinator) rebuild(ctx context.Context, tx *gorm.DB, donationID string) (int, error) {
	count, err := c.outbox.WithTx(tx).CountByAggregate(ctx, donationID)
	if err != nil || count > 0 {
		return 0, err
	}

	donation, err := c.donations.WithTx(tx).GetForUpdate(ctx, donationID)
	if err != nil {
		return 0, err
	}
	if donation.SyncStatus == string(domain.SyncSynced) {
		return 0, nil
	}

	var dist *models.Distribution
	if donation.Status == string(domain.StatusDistributed) {
		if dist, err = c.distributions.WithTx(tx).GetByDonationID(ctx, donationID); err != nil {
			return 0, err
		}
	}

	subs := submissionsFor(donation, dist)
	for _, sub := range subs {
		if err := c.appendEntry(ctx, tx, models.AggregateDonation, donationID, sub.seq, sub.submission); err != nil {
			return 0, err
		}
	}
	return len(subs), c.markPendingSync(ctx, tx, donation)
}

// MirrorCatalogue stages a registration for every program and officer the
// ledger has not acknowledged and that has no entry in flight. It returns
// how many it staged.
func (c *SyncCoordinator) MirrorCatalogue(ctx context.Context) (int, error) {
	programs, err := c.programs.ListUnregistered(ctx, c.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list unregistered programs: %w", err)
	}
	officers, err := c.officers.ListUnregistered(ctx, c.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list unregistered officers: %w", err)
	}

	type registration struct {
		aggregate string
		id        string
		sub       submission
	}
	pending := make([]registration, 0, len(programs)+len(officers))
	for i := range programs {
		pending = append(pending, registration{models.AggregateProgram, programs[i].ID, createProgramSubmission(&programs[i])})
	}
	for i := range officers {
		pending = append(pending, registration{models.AggregateOfficer, officers[i].ID, registerOfficerSubmission(&officers[i])})
	}

	staged := 0
	for _, r := range pending {
		added := false
		err := c.withLock(ctx, r.id, func(tx *gorm.DB) error {
			count, err := c.outbox.WithTx(tx).CountByAggregate(ctx, r.id)
			if err != nil || count > 0 {
				return err
			}
			added = true
			return c.appendEntry(ctx, tx, r.aggregate, r.id, 1, r.sub)
		})
		if err != nil {
			return staged, fmt.Errorf("stage %s %s: %w", r.aggregate, r.id, err)
		}
		if added {
			staged++
		}
	}

	if staged > 0 {
		c.Notify()
	}
	return staged, nil
}

// RetryDonation requeues a donation's failed and rejected entries so the
// coordinator tries them again. It returns how many entries were queued;
// zero means there was nothing to retry.
func (c *SyncCoordinator) RetryDonation(ctx context.Context, donationID string, actor domain.Actor) (int64, error) {
	if !actor.IsAdmin() {
		return 0, domain.ErrForbidden
	}

	var queued int64
	err := c.withLock(ctx, donationID, func(tx *gorm.DB) error {
		donation, err := c.donations.WithTx(tx).GetForUpdate(ctx, donationID)
		if err != nil {
			return err
		}

		now := c.now().UTC()
		queued, err = c.outbox.WithTx(tx).Requeue(ctx, donationID,
			[]string{models.OutboxFailed, models.OutboxRejected}, now)
		if err != nil {
			return err
		}
		if queued == 0 && donation.SyncStatus != string(domain.SyncSynced) {
			rebuilt, err := c.rebuild(ctx, tx, donationID)
			if err != nil {
				return err
			}
			queued = int64(rebuilt)
		}
		if queued == 0 {
			return nil
		}

		err = c.donations.WithTx(tx).UpdateFields(ctx, donationID, map[string]interface{}{
			"sync_status":     string(domain.SyncPending),
			"last_sync_error": nil,
		})
		if err != nil {
			return err
		}
		return c.audit.Record(ctx, tx, AuditEntityDonation, donationID, AuditActionSyncRetry, actor.ID,
			map[string]interface{}{"requeued": queued})
	})
	if err != nil {
		return 0, err
	}

	if queued > 0 {
		c.log.Info().Str("donation_id", donationID).Str("actor", actor.ID).Int64("requeued", queued).Msg("sync retry requested")
		c.Notify()
	}
	return queued, nil
}

// Entries returns the outbox entries still held for a donation, program or
// officer
func (c *SyncCoordinator) Entries(ctx context.Context, aggregateID string) ([]models.OutboxEntry, error) {
	return c.outbox.ListByAggregate(ctx, aggregateID)
}

// OutboxDepth returns entry counts per status
func (c *SyncCoordinator) OutboxDepth(ctx context.Context) (map[string]int64, error) {
	return c.outbox.CountByStatus(ctx)
}

// RefreshOutboxMetrics publishes outbox depth to Prometheus
func (c *SyncCoordinator) RefreshOutboxMetrics(ctx context.Context) {
	counts, err := c.outbox.CountByStatus(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("failed to count outbox entries")
		return
	}
	for status, n := range counts {
		metrics.OutboxDepth.WithLabelValues(status).Set(float64(n))
	}
}

// LedgerHealth returns the cached ledger state
func (c *SyncCoordinator) LedgerHealth() LedgerHealth {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.health
}

// CheckLedger asks the ledger for its height and refreshes the cached state
func (c *SyncCoordinator) CheckLedger(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, c.cfg.SubmitTimeout)
	defer cancel()

	height, err := c.ledger.Height(checkCtx)
	if err != nil {
		c.markLedgerDown(err)
		return err
	}
	c.markLedgerUp(height, true)
	return nil
}

func (c *SyncCoordinator) markLedgerUp(height uint64, exact bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now().UTC()
	c.health.Healthy = true
	c.health.LastError = ""
	c.health.LastContactAt = &now
	if exact || height > c.health.Height {
		c.health.Height = height
	}

	metrics.LedgerHealthy.Set(1)
	metrics.LedgerHeight.Set(float64(c.health.Height))
}

func (c *SyncCoordinator) markLedgerDown(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.health.Healthy = false
	c.health.LastError = err.Error()
	metrics.LedgerHealthy.Set(0)
}
