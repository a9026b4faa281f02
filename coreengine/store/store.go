// Package store is the PostgreSQL implementation of the orchestrator's
// persistence collaborators.
package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/jeeves-cluster-organization/ventureflow/coreengine/config"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/contracts"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/gaterecovery"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/kernel"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/realitygate"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/stagegate"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/templates"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// DBPool abstracts pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store implements every persistence interface of the orchestrator.
type Store struct {
	pool        DBPool
	log         *zap.Logger
	decisionTTL time.Duration
	now         func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithDecisionTTL sets how long a pending chairman decision stays open.
// Zero, the default, never expires decisions.
func WithDecisionTTL(ttl time.Duration) Option {
	return func(s *Store) { s.decisionTTL = ttl }
}

// WithClock overrides the store's clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

var (
	_ kernel.VentureLoader         = (*Store)(nil)
	_ kernel.StagePointer          = (*Store)(nil)
	_ kernel.ArtifactPersister     = (*Store)(nil)
	_ kernel.IdempotencyStore      = (*Store)(nil)
	_ kernel.PreferenceResolver    = (*Store)(nil)
	_ kernel.DecisionStore         = (*Store)(nil)
	_ kernel.DecisionSweeper       = (*Store)(nil)
	_ realitygate.ArtifactReader   = (*Store)(nil)
	_ stagegate.ArtifactSource     = (*Store)(nil)
	_ stagegate.PreferenceResolver = (*Store)(nil)
	_ contracts.PayloadLoader      = (*Store)(nil)
	_ templates.DefinitionSource   = (*Store)(nil)
	_ gaterecovery.Store           = (*Store)(nil)
)

// New creates a store and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger, opts ...Option) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		pool: pool,
		log:  logger.Named("store"),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Connect opens a pgx pool from cfg. The caller closes the pool.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return pool, nil
}

// Migrate creates the tables the store uses when they are missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	s.log.Info("Schema applied")
	return nil
}

// rollback is deferred after Begin. It is a no-op once the tx committed.
func (s *Store) rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		s.log.Error("Failed to rollback transaction", zap.Error(err))
	}
}
