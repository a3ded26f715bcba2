// Package postgres implements storage.Repository backed by PostgreSQL.
//
// All namespaces share one kv_records table keyed by (namespace, key). This
// lets several CLI hosts or demo API replicas share sessions and accounts.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/payrollportal/storage"
)

// Store implements storage.Repository backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given pgx connection pool.
func NewRepository(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewRepositoryFromDSN creates a connection pool from a DSN string, ensures
// the schema exists, and returns a new Repository.
func NewRepositoryFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewRepository(pool), nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

const (
	upsertSQL = `INSERT INTO kv_records (namespace, key, value, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (namespace, key)
		 DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
	deleteSQL = `DELETE FROM kv_records WHERE namespace = $1 AND key = $2`
	selectSQL = `SELECT value FROM kv_records WHERE namespace = $1 AND key = $2`
	// Serializes batches on one namespace across connections and hosts.
	lockSQL = `SELECT pg_advisory_xact_lock(hashtext($1))`
)

func (s *Store) Get(ctx context.Context, namespace, key string) (string, error) {
	if err := storage.ValidateKey(namespace, key); err != nil {
		return "", err
	}
	var value string
	err := s.pool.QueryRow(ctx, selectSQL, namespace, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%s/%s: %w", namespace, key, storage.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// GetMany reads keys with a single statement, so the result comes from one
// snapshot.
func (s *Store) GetMany(ctx context.Context, namespace string, keys ...string) (map[string]string, error) {
	if err := storage.ValidateKeys(namespace, keys); err != nil {
		return nil, err
	}
	values := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return values, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT key, value FROM kv_records WHERE namespace = $1 AND key = ANY($2)`,
		namespace, keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		values[k] = v
	}
	return values, rows.Err()
}

func (s *Store) Set(ctx context.Context, namespace, key, value string) error {
	if err := storage.ValidateKey(namespace, key); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, upsertSQL, namespace, key, value)
	return err
}

func (s *Store) Remove(ctx context.Context, namespace, key string) error {
	if err := storage.ValidateKey(namespace, key); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, deleteSQL, namespace, key)
	return err
}

func (s *Store) List(ctx context.Context, namespace string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key FROM kv_records WHERE namespace = $1 ORDER BY key`, namespace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

type pgBatchTx struct {
	ctx       context.Context
	tx        pgx.Tx
	namespace string
}

func (b *pgBatchTx) Get(key string) (string, error) {
	if err := storage.ValidateKey(b.namespace, key); err != nil {
		return "", err
	}
	var value string
	err := b.tx.QueryRow(b.ctx, selectSQL, b.namespace, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%s/%s: %w", b.namespace, key, storage.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (b *pgBatchTx) Set(key, value string) error {
	if err := storage.ValidateKey(b.namespace, key); err != nil {
		return err
	}
	_, err := b.tx.Exec(b.ctx, upsertSQL, b.namespace, key, value)
	return err
}

func (b *pgBatchTx) Remove(key string) error {
	if err := storage.ValidateKey(b.namespace, key); err != nil {
		return err
	}
	_, err := b.tx.Exec(b.ctx, deleteSQL, b.namespace, key)
	return err
}

// Batch runs fn inside a single database transaction holding a
// transaction-scoped advisory lock on the namespace. The transaction is rolled
// back if fn returns an error.
func (s *Store) Batch(ctx context.Context, namespace string, fn func(tx storage.BatchTx) error) error {
	if namespace == "" {
		return storage.ErrInvalidKey
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, lockSQL, namespace); err != nil {
		return fmt.Errorf("locking namespace: %w", err)
	}
	if err := fn(&pgBatchTx{ctx: ctx, tx: tx, namespace: namespace}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
