package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/funhub/offers/internal/config"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DB holds database connections
type DB struct {
	Postgres *sqlx.DB
	log      *zap.Logger
}

// NewDB creates new database connections using config
func NewDB(ctx context.Context, cfg *config.Config, log *zap.Logger) (*DB, error) {
	// Connect to PostgreSQL
	pg, err := sqlx.Connect("postgres", cfg.Database.GetDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	// Configure connection pool
	pg.SetMaxOpenConns(cfg.Database.MaxConns)
	pg.SetMaxIdleConns(cfg.Database.MinConns)
	pg.SetConnMaxLifetime(time.Hour)

	// Test PostgreSQL connection
	if err := pg.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	log.Info("Successfully connected to PostgreSQL",
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.Name),
	)

	return &DB{
		Postgres: pg,
		log:      log,
	}, nil
}

// Migrate applies the embedded schema migrations
func (db *DB) Migrate() error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	driver, err := postgres.WithInstance(db.Postgres.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			db.log.Info("No migrations to apply")
			return nil
		}
		return fmt.Errorf("migration up failed: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	db.log.Info("Migrations completed", zap.Uint("version", version), zap.Bool("dirty", dirty))

	return nil
}

// Close closes all database connections
func (db *DB) Close() error {
	if err := db.Postgres.Close(); err != nil {
		return fmt.Errorf("failed to close PostgreSQL: %w", err)
	}

	return nil
}
