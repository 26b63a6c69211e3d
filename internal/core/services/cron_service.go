package services

import (
	"context"
	"time"

	"zakat-ledger/internal/config"
	"zakat-ledger/internal/pkg/logger"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const jobTimeout = time.Minute

// CronService runs the periodic reconciliation sweep and ledger health check
type CronService struct {
	cron   *cron.Cron
	sync   *SyncCoordinator
	cfg    config.SyncConfig
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// NewCronService creates a new cron service
func NewCronService(sync *SyncCoordinator, cfg config.SyncConfig, log zerolog.Logger) *CronService {
	cronLog := logger.Component(log, "cron")
	c := cron.New(cron.WithChain(
		cron.Recover(cron.PrintfLogger(&cronLog)),
		cron.SkipIfStillRunning(cron.PrintfLogger(&cronLog)),
	))

	ctx, cancel := context.WithCancel(context.Background())
	return &CronService{
		cron:   c,
		sync:   sync,
		cfg:    cfg,
		log:    cronLog,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start registers the jobs and starts the scheduler. A first health check runs
// immediately so the dashboard has a height before the first tick.
func (s *CronService) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.ReconcileSchedule, s.reconcile); err != nil {
		return err
	}
	s.log.Info().Str("schedule", s.cfg.ReconcileSchedule).Msg("scheduled reconciliation sweep")

	if _, err := s.cron.AddFunc(s.cfg.HealthSchedule, s.checkLedger); err != nil {
		return err
	}
	s.log.Info().Str("schedule", s.cfg.HealthSchedule).Msg("scheduled ledger health check")

	go s.checkLedger()
	s.cron.Start()
	return nil
}

// Stop stops scheduling and waits for running jobs
func (s *CronService) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.log.Info().Msg("cron stopped")
}

func (s *CronService) reconcile() {
	ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
	defer cancel()

	if _, err := s.sync.Reconcile(ctx); err != nil {
		s.log.Error().Err(err).Msg("reconciliation sweep failed")
	}
}

func (s *CronService) checkLedger() {
	ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
	defer cancel()

	if err := s.sync.CheckLedger(ctx); err != nil {
		s.log.Warn().Err(err).Msg("ledger health check failed")
	}
}
