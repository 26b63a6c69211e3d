package config

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB is the global database instance
var DB *gorm.DB

// ConnectDatabase opens the configured database. Timestamps are stored in UTC.
func ConnectDatabase(cfg *Config) (*gorm.DB, error) {
	dialector, err := buildDialector(cfg.Database)
	if err != nil {
		return nil, err
	}

	// Configure GORM logger based on mode
	var gormLogger logger.Interface
	if cfg.IsDev() {
		gormLogger = logger.Default.LogMode(logger.Info)
	} else {
		gormLogger = logger.Default.LogMode(logger.Error)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB for connection pool settings
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if cfg.Database.Driver == "sqlite" {
		// SQLite allows one writer; a single connection avoids SQLITE_BUSY
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	// Test connection
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set global DB instance
	DB = db
	return db, nil
}

func buildDialector(d DatabaseConfig) (gorm.Dialector, error) {
	switch d.Driver {
	case "mysql":
		dsn := d.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
				d.User, d.Password, d.Host, d.Port, d.DBName)
		}
		return mysql.Open(dsn), nil
	case "postgres":
		dsn := d.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
				d.Host, d.Port, d.User, d.Password, d.DBName)
		}
		return postgres.Open(dsn), nil
	case "sqlite":
		dsn := d.DSN
		if dsn == "" {
			dsn = "zakat_ledger.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
		}
		return sqlite.Open(dsn), nil
	}
	return nil, fmt.Errorf("unsupported database driver: %s", d.Driver)
}

// Target names the database for logs without exposing credentials
func (d DatabaseConfig) Target() string {
	if d.DSN != "" || d.Driver == "sqlite" {
		return "(dsn)"
	}
	return fmt.Sprintf("%s:%s/%s", d.Host, d.Port, d.DBName)
}

// CloseDatabase closes the database connection
func CloseDatabase() error {
	if DB == nil {
		return nil
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}

// HealthCheck checks if database is healthy
func HealthCheck() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}

	return sqlDB.Ping()
}
