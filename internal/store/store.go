package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SettingsChannel is the Postgres NOTIFY channel carrying settings changes.
const SettingsChannel = "settings_changed"

// Store is the Postgres repository for organizations, branches, reservations and
// notification logs. Organization and branch rows are cached in Redis when a RowCache
// is configured; their settings columns are cached encrypted, as stored.
type Store struct {
	pool  *pgxpool.Pool
	cache *RowCache
}

// Open connects a pool to dsn. cache may be nil.
func Open(ctx context.Context, dsn string, cache *RowCache) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}
	config.MaxConns = 20
	config.MinConns = 5
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return &Store{pool: pool, cache: cache}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	if s.cache != nil {
		return s.cache.Close()
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// NotifySettingsChanged broadcasts payload to every process listening on SettingsChannel.
func (s *Store) NotifySettingsChanged(ctx context.Context, payload []byte) error {
	_, err := s.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, SettingsChannel, string(payload))
	return err
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// nullIfEmpty maps "" to SQL NULL for optional text columns.
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func affected(tag pgconn.CommandTag) bool {
	return tag.RowsAffected() > 0
}
