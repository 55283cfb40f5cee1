// Package postgres provides the Postgres-backed attribute write ledger.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/hsa-app/internal/annotator"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "attribute_writes"

// AttributeStoreConfig controls the Postgres connection pool used for ledger rows.
type AttributeStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// AttributeStore writes one row per accepted attribute upload.
type AttributeStore struct {
	pool  execCloser
	table string
}

// NewAttributeStore creates a Postgres-backed AttributeStore using the provided config.
func NewAttributeStore(ctx context.Context, cfg AttributeStoreConfig) (*AttributeStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &AttributeStore{
		pool:  pool,
		table: table,
	}, nil
}

// NewAttributeStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewAttributeStoreWithPool(pool execCloser, table string) (*AttributeStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &AttributeStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *AttributeStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the ledger table when it does not exist yet.
func (s *AttributeStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("attribute store is not configured")
	}
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id            TEXT PRIMARY KEY,
	image         TEXT NOT NULL,
	bytes         BIGINT NOT NULL,
	sha256        TEXT NOT NULL,
	content_type  TEXT NOT NULL DEFAULT '',
	blob_uri      TEXT NOT NULL,
	written_at    TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// RecordWrite inserts a ledger row into Postgres.
func (s *AttributeStore) RecordWrite(ctx context.Context, write annotator.AttributeWrite) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("attribute store is not configured")
	}
	if write.ID == "" {
		return fmt.Errorf("write id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	image,
	bytes,
	sha256,
	content_type,
	blob_uri,
	written_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7
)`, s.table)

	args := []any{
		write.ID,
		write.Image,
		write.Bytes,
		write.SHA256,
		write.ContentType,
		write.BlobURI,
		write.WrittenAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert attribute write: %w", err)
	}
	return nil
}
