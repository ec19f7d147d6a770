package repository

import (
	"context"
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pressly/goose/v3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/timmy/dishrank/internal/config"
	"github.com/timmy/dishrank/internal/domain"
	"github.com/timmy/dishrank/internal/logger"
	"github.com/timmy/dishrank/internal/secrets"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// InitDB initializes the database connection based on configuration and runs migrations.
// Parameters:
//   - ctx: context for credential lookup.
//   - cfg: database configuration including driver and connection settings.
//   - creds: credential provider for postgres; may be nil to use cfg as-is.
// Returns:
//   - *gorm.DB: initialized database handle.
//   - error: non-nil if connection or migration fails.
func InitDB(ctx context.Context, cfg config.DatabaseConfig, creds secrets.Provider) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		// unique violations surface as gorm.ErrDuplicatedKey
		TranslateError: true,
	}

	var db *gorm.DB
	var err error

	logger.CtxInfo(ctx, "Initializing database with driver %q", cfg.Driver)

	switch cfg.Driver {
	case "postgres":
		if creds != nil {
			c, err := creds.DatabaseCredentials(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve database credentials: %w", err)
			}
			c.Apply(&cfg)
		}
		db, err = initPostgres(cfg, gormConfig)
	case "sqlite", "":
		db, err = initSQLite(cfg, gormConfig)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB instance: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := Migrate(ctx, db, cfg.Driver, cfg.Migrate); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate brings the schema up to date. mode "goose" applies the embedded SQL
// migrations (postgres only), "auto" runs gorm AutoMigrate, "none" skips.
func Migrate(ctx context.Context, db *gorm.DB, driver, mode string) error {
	switch mode {
	case "none":
		logger.CtxInfo(ctx, "Schema migration disabled")
		return nil
	case "goose":
		if driver != "postgres" {
			return fmt.Errorf("goose migrations require postgres, got %q", driver)
		}
		return RunMigrations(db)
	default:
		if err := db.AutoMigrate(domain.Models()...); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		return nil
	}
}

// RunMigrations applies the embedded goose migrations to a postgres database.
func RunMigrations(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB instance: %w", err)
	}

	goose.SetBaseFS(embeddedMigrations)
	goose.SetLogger(logger.GetDefault().WithField(logger.FieldComponent, "goose"))
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(sqlDB, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// initPostgres initializes a PostgreSQL database connection
func initPostgres(cfg config.DatabaseConfig, gormConfig *gorm.Config) (*gorm.DB, error) {
	// PreferSimpleProtocol keeps transaction poolers working
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  cfg.DSN(),
		PreferSimpleProtocol: true,
	}), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	return db, nil
}

// initSQLite initializes a SQLite database connection
func initSQLite(cfg config.DatabaseConfig, gormConfig *gorm.Config) (*gorm.DB, error) {
	path := cfg.Path
	if path == "" {
		path = "./data/dishrank.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite: %w", err)
	}

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA foreign_keys=ON")

	return db, nil
}
