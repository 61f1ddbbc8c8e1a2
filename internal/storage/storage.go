// Package storage provides the Postgres system of record for every record
// kind in spec.md §3. The vector store (internal/vectorstore) holds only a
// derived search copy; this package is where a registry's Put/Get actually
// lives, generalized from the teacher's single decisions table to the full
// record set.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
)

// defaultRetryMaxAttempts and defaultRetryBaseDelay are spec.md §7's retry
// policy (base 100ms, factor 2, capped attempts), applied to the
// DecisionStore and ThreadStore write paths via withRetry.
const (
	defaultRetryMaxAttempts = 5
	defaultRetryBaseDelay   = 100 * time.Millisecond
)

// DB wraps a pgxpool.Pool used by every per-kind store in this package.
type DB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger

	retryMaxAttempts int
	retryBaseDelay   time.Duration
}

// New creates a DB with a connection pool at dsn.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse DSN: %w", err)
	}

	// Register pgvector types on each new connection. Best-effort: if the
	// vector extension hasn't been created yet, log and proceed — later
	// connections succeed once migrations have run.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if err := pgxvector.RegisterTypes(ctx, conn); err != nil {
			logger.Debug("storage: pgvector types not registered (extension may not exist yet)", "error", err)
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	return &DB{
		pool: pool, logger: logger,
		retryMaxAttempts: defaultRetryMaxAttempts, retryBaseDelay: defaultRetryBaseDelay,
	}, nil
}

// withRetry runs fn under this DB's configured retry policy, retrying
// serialization/deadlock errors with jittered exponential backoff
// (internal/storage/retry.go).
func (db *DB) withRetry(ctx context.Context, fn func() error) error {
	// WithRetry counts retries after the first call; retryMaxAttempts counts
	// every call, the first included.
	return WithRetry(ctx, db.retryMaxAttempts-1, db.retryBaseDelay, fn)
}

// Pool returns the underlying connection pool for use by other packages.
func (db *DB) Pool() *pgxpool.Pool { return db.pool }

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error { return db.pool.Ping(ctx) }

// Close shuts down the connection pool.
func (db *DB) Close() { db.pool.Close() }

// Decisions returns the decisions.Store-conforming accessor for this DB.
func (db *DB) Decisions() *DecisionStore { return &DecisionStore{db: db} }

// Threads returns the threads.Store-conforming accessor for this DB.
func (db *DB) Threads() *ThreadStore { return &ThreadStore{db: db} }

// Patterns returns the patterns.Store-conforming accessor for this DB.
func (db *DB) Patterns() *PatternStore { return &PatternStore{db: db} }

// Priming returns the priming.BlockStore-conforming accessor for this DB.
func (db *DB) Priming() *PrimingStore { return &PrimingStore{db: db} }

// Flags returns the priming.FlagRecordStore-conforming accessor for this DB.
func (db *DB) Flags() *FlagStore { return &FlagStore{db: db} }

// Lineage returns the lineage.Store-conforming accessor for this DB.
func (db *DB) Lineage() *LineageStore { return &LineageStore{db: db} }

// Events returns the eventlog.Store-conforming accessor for this DB.
func (db *DB) Events() *EventStore { return &EventStore{db: db} }

// Scans returns the entanglement.SnapshotStore-conforming accessor for this DB.
func (db *DB) Scans() *ScanStore { return &ScanStore{db: db} }
