// Package tenant provisions one MySQL database per event and keeps a bounded
// cache of open connection pools to those databases.
package tenant

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/iliyamo/eventapp/internal/database"
)

var (
	// ErrProvisioning wraps any failure to create, migrate or drop a tenant database.
	ErrProvisioning = errors.New("tenant provisioning failed")
	// ErrUnknownTenant means the tenant database does not exist.
	ErrUnknownTenant = errors.New("unknown tenant")
	// ErrTenantExists means Create found the database already present, usually
	// left behind by an earlier failed provisioning.
	ErrTenantExists = errors.New("tenant database already exists")
	// ErrInvalidName is returned for names outside [a-z0-9_]{1,64}.
	ErrInvalidName = errors.New("invalid tenant database name")
)

//go:embed migrations/*.sql
var schema embed.FS

var namePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// DSNFunc returns the DSN of the named tenant database.
type DSNFunc func(name string) string

// SchemaMigrator brings a freshly created tenant database to the current schema.
type SchemaMigrator interface {
	Migrate(ctx context.Context, dsn string) error
}

// Opener opens and pings a connection pool.
type Opener interface {
	Open(ctx context.Context, dsn string) (*sql.DB, error)
}

// MigratorFunc adapts a function to SchemaMigrator.
type MigratorFunc func(ctx context.Context, dsn string) error

func (f MigratorFunc) Migrate(ctx context.Context, dsn string) error { return f(ctx, dsn) }

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, dsn string) (*sql.DB, error)

func (f OpenerFunc) Open(ctx context.Context, dsn string) (*sql.DB, error) { return f(ctx, dsn) }

// EmbeddedSchema applies the tenant migrations compiled into the binary.
var EmbeddedSchema = MigratorFunc(func(_ context.Context, dsn string) error {
	return database.MigrateUp(dsn, schema, "migrations")
})

// PoolOpener opens tenant pools with database.TenantPool limits.
var PoolOpener = OpenerFunc(func(ctx context.Context, dsn string) (*sql.DB, error) {
	return database.Open(ctx, dsn, database.TenantPool)
})

// Manager creates, drops and hands out tenant databases. admin is a pool with
// CREATE and DROP privileges; it is not tied to any tenant.
type Manager struct {
	admin    *sql.DB
	cache    *Cache
	dsn      DSNFunc
	migrator SchemaMigrator
	opener   Opener
	prefix   string
	logger   zerolog.Logger
}

func NewManager(admin *sql.DB, cache *Cache, dsn DSNFunc, migrator SchemaMigrator, opener Opener, prefix string, logger zerolog.Logger) *Manager {
	if prefix == "" {
		prefix = "event_"
	}
	return &Manager{
		admin:    admin,
		cache:    cache,
		dsn:      dsn,
		migrator: migrator,
		opener:   opener,
		prefix:   prefix,
		logger:   logger.With().Str("component", "tenant").Logger(),
	}
}

// Name is the database name of an event.
func (m *Manager) Name(eventID int64) string {
	return m.prefix + strconv.FormatInt(eventID, 10)
}

func validName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Create makes the database and applies the tenant schema. A database left
// behind by a failed migration is not dropped.
func (m *Manager) Create(ctx context.Context, name string) error {
	if err := validName(name); err != nil {
		return fmt.Errorf("%w: %v", ErrProvisioning, err)
	}
	// name is validated above; identifiers cannot be bound as parameters.
	if _, err := m.admin.ExecContext(ctx, "CREATE DATABASE `"+name+"` CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci"); err != nil {
		if database.IsDatabaseExists(err) {
			m.logger.Warn().Str("database", name).Msg("tenant database already exists")
			return fmt.Errorf("%w: %w: %s", ErrProvisioning, ErrTenantExists, name)
		}
		return fmt.Errorf("%w: create database %s: %v", ErrProvisioning, name, err)
	}
	if err := m.migrator.Migrate(ctx, m.dsn(name)); err != nil {
		return fmt.Errorf("%w: migrate %s: %v", ErrProvisioning, name, err)
	}
	m.logger.Info().Str("database", name).Msg("tenant provisioned")
	return nil
}

// Delete closes any cached pool for the database and drops it. Dropping a
// database that does not exist succeeds, so a retried delete is safe.
func (m *Manager) Delete(ctx context.Context, name string) error {
	if err := validName(name); err != nil {
		return fmt.Errorf("%w: %v", ErrProvisioning, err)
	}
	m.cache.Remove(name)
	if _, err := m.admin.ExecContext(ctx, "DROP DATABASE IF EXISTS `"+name+"`"); err != nil {
		return fmt.Errorf("%w: drop database %s: %v", ErrProvisioning, name, err)
	}
	// a Handle that started after the first Remove may have cached a pool
	m.cache.Remove(name)
	m.logger.Info().Str("database", name).Msg("tenant dropped")
	return nil
}

// Handle returns a pool for the named tenant database, opening it on first use.
func (m *Manager) Handle(ctx context.Context, name string) (*sql.DB, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	db, err := m.cache.GetOrCreate(ctx, name, func(ctx context.Context) (*sql.DB, error) {
		m.logger.Debug().Str("database", name).Msg("opening tenant pool")
		return m.opener.Open(ctx, m.dsn(name))
	})
	if err != nil {
		if database.IsUnknownDatabase(err) || errors.Is(err, ErrRemoved) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTenant, name)
		}
		return nil, fmt.Errorf("open tenant %s: %w", name, err)
	}
	return db, nil
}
