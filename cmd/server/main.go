package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"zakat-ledger/internal/adapters/http/middleware"
	"zakat-ledger/internal/adapters/http/routes"
	"zakat-ledger/internal/adapters/ledger"
	"zakat-ledger/internal/adapters/lock"
	"zakat-ledger/internal/adapters/messaging/rabbitmq"
	"zakat-ledger/internal/adapters/persistence/models"
	"zakat-ledger/internal/adapters/persistence/repositories"
	"zakat-ledger/internal/config"
	"zakat-ledger/internal/core/services"
	"zakat-ledger/internal/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	_ "zakat-ledger/docs" // Swagger docs
)

// @title Zakat Ledger API
// @version 1.0
// @description Zakat donation tracking with a Hyperledger Fabric audit trail

// @contact.name API Support
// @contact.email it@ydsf.org

// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("failed to load configuration")
	}
	log := logger.New(cfg.AppMode)
	if !cfg.EnvFile {
		log.Warn().Msg(".env file not found, using environment variables")
	}

	// Connect to database
	db, err := config.ConnectDatabase(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer config.CloseDatabase()
	log.Info().Str("driver", cfg.Database.Driver).Str("target", cfg.Database.Target()).Msg("database connected")

	if err := models.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to auto migrate")
	}
	log.Info().Msg("database migration completed")

	if err := config.SeedMasterData(db, log); err != nil {
		log.Warn().Err(err).Msg("failed to seed master data")
	}

	chain, err := openLedger(cfg, db, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open ledger client")
	}
	defer chain.Close()

	locks, closeLocks := openLocker(cfg, log)
	defer closeLocks()

	notify := services.NewNotificationService(openPublisher(cfg, log), cfg.RabbitMQ.Exchange, log)
	defer notify.Close()

	// Core services
	audit := services.NewAuditService(repositories.NewAuditRepository(db))
	coordinator := services.NewSyncCoordinator(db, chain, locks, audit, notify, cfg.Sync, log)
	ids := services.NewIDGenerator(repositories.NewSequenceRepository(db), cfg.Org.Location)
	svc := &routes.Services{
		Donations:    services.NewDonationService(db, ids, locks, audit, coordinator, notify, cfg.Org, log),
		Queries:      services.NewQueryService(db, audit, cfg.Org.Location),
		Sync:         coordinator,
		Dashboard:    services.NewDashboardService(db, coordinator, cfg.Org.Location),
		Verification: services.NewVerificationService(db, chain),
	}

	// programs and officers must be on the ledger before donations naming them
	if _, err := coordinator.MirrorCatalogue(context.Background()); err != nil {
		log.Warn().Err(err).Msg("failed to stage catalogue registration")
	}
	coordinator.Start()

	cronService := services.NewCronService(coordinator, cfg.Sync, log)
	if err := cronService.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start cron")
	}

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "Zakat Ledger API v1.0",
		ErrorHandler: middleware.CustomErrorHandler,
	})

	middleware.Setup(app, cfg)
	routes.Setup(app, db, cfg, svc)

	go gracefulShutdown(app, log)

	log.Info().Str("port", cfg.Port).Str("mode", cfg.AppMode).Msg("server starting")
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
	}

	// HTTP is closed; drain background work before the deferred closers run
	cronService.Stop()
	stopWithin(coordinator, cfg.Sync.ShutdownGraceDelay, log)
	log.Info().Msg("server stopped gracefully")
}

// openLedger returns the configured ledger client. The memory ledger is for
// local development and starts empty, so the catalogue is registered again.
func openLedger(cfg *config.Config, db *gorm.DB, log zerolog.Logger) (ledger.Client, error) {
	if cfg.Ledger.Driver == "memory" {
		log.Warn().Msg("using in-memory ledger; records are lost on restart")
		ctx := context.Background()
		if err := repositories.NewProgramRepository(db).ResetRegistrations(ctx); err != nil {
			return nil, err
		}
		if err := repositories.NewOfficerRepository(db).ResetRegistrations(ctx); err != nil {
			return nil, err
		}
		return ledger.NewMemoryLedger(), nil
	}

	client, err := ledger.NewFabricClient(ledger.FabricConfig{
		PeerEndpoint:        cfg.Ledger.PeerEndpoint,
		GatewayPeer:         cfg.Ledger.GatewayPeer,
		MSPID:               cfg.Ledger.MSPID,
		CertPath:            cfg.Ledger.CertPath,
		KeyPath:             cfg.Ledger.KeyPath,
		TLSCertPath:         cfg.Ledger.TLSCertPath,
		Channel:             cfg.Ledger.Channel,
		Chaincode:           cfg.Ledger.Chaincode,
		EvaluateTimeout:     5 * time.Second,
		EndorseTimeout:      15 * time.Second,
		SubmitTimeout:       5 * time.Second,
		CommitStatusTimeout: cfg.Sync.SubmitTimeout,
	})
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("peer", cfg.Ledger.PeerEndpoint).
		Str("channel", cfg.Ledger.Channel).
		Str("chaincode", cfg.Ledger.Chaincode).
		Msg("connected to fabric gateway")
	return client, nil
}

// openLocker uses Redis when configured so several replicas share the
// per-donation lock, otherwise an in-process locker
func openLocker(cfg *config.Config, log zerolog.Logger) (services.KeyLocker, func()) {
	if cfg.Redis.URL == "" {
		return services.NewMemoryKeyLocker(), func() {}
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid REDIS_URL")
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("redis unreachable")
	}

	log.Info().Str("addr", opts.Addr).Msg("using redis donation locks")
	return lock.NewRedisLocker(client, "", cfg.Redis.LockTTL), func() { _ = client.Close() }
}

// openPublisher connects to RabbitMQ when configured. A broker outage at
// startup only disables events.
func openPublisher(cfg *config.Config, log zerolog.Logger) services.EventPublisher {
	if cfg.RabbitMQ.URL == "" {
		return &rabbitmq.EventProducerFallback{Log: log}
	}

	producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQ.URL, log)
	if err != nil {
		log.Warn().Err(err).Msg("rabbitmq unavailable; lifecycle events disabled")
		return &rabbitmq.EventProducerFallback{Log: log}
	}
	log.Info().Str("exchange", cfg.RabbitMQ.Exchange).Msg("publishing lifecycle events")
	return producer
}

func stopWithin(coordinator *services.SyncCoordinator, grace time.Duration, log zerolog.Logger) {
	done := make(chan struct{})
	go func() {
		coordinator.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		// entries still processing are reset by the next sweep
		log.Warn().Dur("grace", grace).Msg("sync coordinator did not stop in time")
	}
}

// gracefulShutdown handles graceful shutdown
func gracefulShutdown(app *fiber.App, log zerolog.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")
	if err := app.Shutdown(); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}
}
