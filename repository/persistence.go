package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	auth "github.com/hbsportsdirector/rstse-sub000"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/migrate"
)

const (
	migrationsSourceLabel = "data/sql/migrations"
	defaultPingTimeout    = 5 * time.Second
)

// PersistenceConfig is the connection description handed to the
// persistence client.
type PersistenceConfig struct {
	Driver      string
	DSN         string
	Debug       bool
	PingTimeout time.Duration
}

func (c PersistenceConfig) GetDebug() bool            { return c.Debug }
func (c PersistenceConfig) GetDriver() string         { return c.Driver }
func (c PersistenceConfig) GetServer() string         { return c.DSN }
func (c PersistenceConfig) GetDSN() string            { return c.DSN }
func (c PersistenceConfig) GetOtelIdentifier() string { return "club-session" }

func (c PersistenceConfig) GetPingTimeout() time.Duration {
	if c.PingTimeout <= 0 {
		return defaultPingTimeout
	}
	return c.PingTimeout
}

// MigrationReport summarizes what a Migrate run applied.
type MigrationReport interface {
	IsZero() bool
	String() string
}

var registerModels sync.Once

// Migrate applies the embedded migrations through a persistence client
// sharing db's connection pool. A run with nothing to apply returns a zero
// report.
func Migrate(ctx context.Context, db *bun.DB) (MigrationReport, error) {
	registerModels.Do(func() {
		persistence.RegisterModel((*auth.ProfileRecord)(nil))
		persistence.RegisterModel((*IdentityModel)(nil))
	})

	cfg := PersistenceConfig{Driver: driverName(db)}
	client, err := persistence.New(cfg, db.DB, db.Dialect())
	if err != nil {
		return nil, fmt.Errorf("failed to create persistence client: %w", err)
	}

	client.RegisterDialectMigrations(
		GetMigrationsFS(),
		persistence.WithDialectSourceLabel(migrationsSourceLabel),
	)

	if err := client.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if report := client.Report(); report != nil {
		return report, nil
	}
	return &migrate.MigrationGroup{}, nil
}

func driverName(db *bun.DB) string {
	if db.Dialect().Name() == dialect.PG {
		return DriverPostgres
	}
	return DriverSQLite
}
