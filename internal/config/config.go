package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	AppMode  string
	Port     string
	Database DatabaseConfig
	JWT      JWTConfig
	Org      OrgConfig
	Sync     SyncConfig
	Ledger   LedgerConfig
	Redis    RedisConfig
	RabbitMQ RabbitMQConfig

	// EnvFile is false when no .env file was found
	EnvFile bool
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver   string // mysql | postgres | sqlite
	DSN      string // overrides the parts below when set
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// JWTConfig holds the secret used to verify officer tokens
type JWTConfig struct {
	Secret string
}

// OrgConfig holds organization defaults
type OrgConfig struct {
	DefaultOrganization  string
	DefaultPaymentMethod string
	Timezone             string
	Location             *time.Location
}

// SyncConfig tunes the ledger sync coordinator
type SyncConfig struct {
	Workers            int
	MaxAttempts        int
	BatchSize          int
	BackoffBase        time.Duration
	BackoffCap         time.Duration
	PollInterval       time.Duration
	SubmitTimeout      time.Duration
	StaleProcessing    time.Duration
	ReconcileHorizon   time.Duration
	ReconcileSchedule  string
	HealthSchedule     string
	SubmitRatePerSec   float64
	ShutdownGraceDelay time.Duration
}

// LedgerConfig selects and configures the ledger client
type LedgerConfig struct {
	Driver       string // fabric | memory
	PeerEndpoint string
	GatewayPeer  string
	MSPID        string
	CertPath     string
	KeyPath      string
	TLSCertPath  string
	Channel      string
	Chaincode    string
}

// RedisConfig enables the distributed per-donation lock when URL is set
type RedisConfig struct {
	URL     string
	LockTTL time.Duration
}

// RabbitMQConfig enables lifecycle event publishing when URL is set
type RabbitMQConfig struct {
	URL      string
	Exchange string
}

// Global config instance
var AppConfig *Config

// Load reads configuration from .env file and environment variables
func Load() (*Config, error) {
	// Load .env file (ignore error if file doesn't exist in production)
	envFile := godotenv.Load() == nil

	appMode := strings.TrimSpace(getEnv("APP_MODE", "dev"))
	if appMode != "dev" && appMode != "prod" {
		return nil, fmt.Errorf("invalid APP_MODE: '%s' (must be 'dev' or 'prod')", appMode)
	}

	org, err := loadOrgConfig()
	if err != nil {
		return nil, err
	}
	sync, err := loadSyncConfig()
	if err != nil {
		return nil, err
	}
	ledger, err := loadLedgerConfig(appMode)
	if err != nil {
		return nil, err
	}
	database, err := loadDatabaseConfig(appMode)
	if err != nil {
		return nil, err
	}
	lockTTL, err := getDuration("REDIS_LOCK_TTL", "30s")
	if err != nil {
		return nil, err
	}

	config := &Config{
		AppMode:  appMode,
		EnvFile:  envFile,
		Port:     getEnv("PORT", "3000"),
		Database: database,
		JWT:      JWTConfig{Secret: getEnv("JWT_SECRET", "default_secret")},
		Org:      org,
		Sync:     sync,
		Ledger:   ledger,
		Redis: RedisConfig{
			URL:     getEnv("REDIS_URL", ""),
			LockTTL: lockTTL,
		},
		RabbitMQ: RabbitMQConfig{
			URL:      getEnv("RABBITMQ_URL", ""),
			Exchange: getEnv("RABBITMQ_EXCHANGE", "zakat_events"),
		},
	}

	if config.IsProd() && config.JWT.Secret == "default_secret" {
		return nil, fmt.Errorf("JWT_SECRET must be set in prod mode")
	}

	AppConfig = config
	return config, nil
}

// loadDatabaseConfig loads database config; dev defaults to a local SQLite file
func loadDatabaseConfig(mode string) (DatabaseConfig, error) {
	defaultDriver := "sqlite"
	if mode == "prod" {
		defaultDriver = "postgres"
	}

	driver := getEnv("DB_DRIVER", defaultDriver)
	defaultPort := "5432"
	switch driver {
	case "mysql":
		defaultPort = "3306"
	case "postgres", "sqlite":
	default:
		return DatabaseConfig{}, fmt.Errorf("invalid DB_DRIVER: '%s' (must be mysql, postgres or sqlite)", driver)
	}

	return DatabaseConfig{
		Driver:   driver,
		DSN:      getEnv("DB_DSN", ""),
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnv("DB_PORT", defaultPort),
		User:     getEnv("DB_USER", "zakat"),
		Password: getEnv("DB_PASS", ""),
		DBName:   getEnv("DB_NAME", "zakat_ledger"),
	}, nil
}

func loadOrgConfig() (OrgConfig, error) {
	tz := getEnv("TIMEZONE", "Asia/Jakarta")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return OrgConfig{}, fmt.Errorf("invalid TIMEZONE '%s': %w", tz, err)
	}

	return OrgConfig{
		DefaultOrganization:  getEnv("DEFAULT_ORGANIZATION", "YDSF Malang"),
		DefaultPaymentMethod: getEnv("DEFAULT_PAYMENT_METHOD", "transfer"),
		Timezone:             tz,
		Location:             loc,
	}, nil
}

func loadSyncConfig() (SyncConfig, error) {
	var cfg SyncConfig
	var err error

	ints := []struct {
		key, def string
		dst      *int
	}{
		{"SYNC_WORKERS", "4", &cfg.Workers},
		{"SYNC_MAX_ATTEMPTS", "5", &cfg.MaxAttempts},
		{"SYNC_BATCH_SIZE", "50", &cfg.BatchSize},
	}
	for _, f := range ints {
		if *f.dst, err = getPositiveInt(f.key, f.def); err != nil {
			return cfg, err
		}
	}

	durations := []struct {
		key, def string
		dst      *time.Duration
	}{
		{"SYNC_BACKOFF_BASE", "2s", &cfg.BackoffBase},
		{"SYNC_BACKOFF_CAP", "5m", &cfg.BackoffCap},
		{"SYNC_POLL_INTERVAL", "1s", &cfg.PollInterval},
		{"SYNC_SUBMIT_TIMEOUT", "30s", &cfg.SubmitTimeout},
		{"SYNC_STALE_PROCESSING", "2m", &cfg.StaleProcessing},
		{"SYNC_RECONCILE_HORIZON", "10m", &cfg.ReconcileHorizon},
		{"SYNC_SHUTDOWN_GRACE", "45s", &cfg.ShutdownGraceDelay},
	}
	for _, f := range durations {
		if *f.dst, err = getDuration(f.key, f.def); err != nil {
			return cfg, err
		}
	}

	cfg.SubmitRatePerSec, err = strconv.ParseFloat(getEnv("LEDGER_SUBMIT_RPS", "20"), 64)
	if err != nil || cfg.SubmitRatePerSec <= 0 {
		return cfg, fmt.Errorf("invalid LEDGER_SUBMIT_RPS: must be a positive number")
	}

	cfg.ReconcileSchedule = getEnv("SYNC_RECONCILE_SCHEDULE", "@every 1m")
	cfg.HealthSchedule = getEnv("LEDGER_HEALTH_SCHEDULE", "@every 30s")
	return cfg, nil
}

func loadLedgerConfig(mode string) (LedgerConfig, error) {
	defaultDriver := "memory"
	if mode == "prod" {
		defaultDriver = "fabric"
	}

	cfg := LedgerConfig{
		Driver:       getEnv("LEDGER_DRIVER", defaultDriver),
		PeerEndpoint: getEnv("FABRIC_PEER_ENDPOINT", "localhost:7051"),
		GatewayPeer:  getEnv("FABRIC_GATEWAY_PEER", "peer0.org1.example.com"),
		MSPID:        getEnv("FABRIC_MSP_ID", "Org1MSP"),
		CertPath:     getEnv("FABRIC_CERT_PATH", ""),
		KeyPath:      getEnv("FABRIC_KEY_PATH", ""),
		TLSCertPath:  getEnv("FABRIC_TLS_CERT_PATH", ""),
		Channel:      getEnv("FABRIC_CHANNEL", "zakatchannel"),
		Chaincode:    getEnv("FABRIC_CHAINCODE", "zakat"),
	}

	switch cfg.Driver {
	case "memory":
	case "fabric":
		if cfg.CertPath == "" || cfg.KeyPath == "" || cfg.TLSCertPath == "" {
			return cfg, fmt.Errorf("FABRIC_CERT_PATH, FABRIC_KEY_PATH and FABRIC_TLS_CERT_PATH are required for the fabric ledger driver")
		}
	default:
		return cfg, fmt.Errorf("invalid LEDGER_DRIVER: '%s' (must be 'fabric' or 'memory')", cfg.Driver)
	}
	return cfg, nil
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getPositiveInt(key, defaultValue string) (int, error) {
	n, err := strconv.Atoi(getEnv(key, defaultValue))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}

func getDuration(key, defaultValue string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, defaultValue))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive duration", key)
	}
	return d, nil
}

// IsDev returns true if running in development mode
func (c *Config) IsDev() bool {
	return c.AppMode == "dev"
}

// IsProd returns true if running in production mode
func (c *Config) IsProd() bool {
	return c.AppMode == "prod"
}

// GetAllowedOrigins returns allowed origins for CORS
func (c *Config) GetAllowedOrigins() string {
	origins := getEnv("ALLOWED_ORIGINS", "")
	if origins == "" {
		if c.IsDev() {
			return "*"
		}
		return "https://zakat.ydsf.org"
	}
	return origins
}
