// Package redis implements storage.Repository on top of Redis. Each namespace
// is stored as a single hash so a batch can watch it and apply its writes with
// one MULTI/EXEC.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jmcleod/payrollportal/storage"
)

// DefaultPrefix is prepended to every namespace hash key.
const DefaultPrefix = "payroll:"

// Store implements storage.Repository backed by Redis hashes.
type Store struct {
	client *goredis.Client
	prefix string
}

var _ storage.Repository = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// NewRepository returns a Repository backed by client.
func NewRepository(client *goredis.Client, opts ...Option) *Store {
	s := &Store{client: client, prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewClientFromURL returns a connected client for a redis:// URL such as
// redis://localhost:6379/0.
func NewClientFromURL(ctx context.Context, redisURL string) (*goredis.Client, error) {
	if redisURL == "" {
		return nil, errors.New("empty redis url")
	}
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return client, nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) hashKey(namespace string) string {
	return s.prefix + namespace
}

func (s *Store) Get(ctx context.Context, namespace, key string) (string, error) {
	if err := storage.ValidateKey(namespace, key); err != nil {
		return "", err
	}
	val, err := s.client.HGet(ctx, s.hashKey(namespace), key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", fmt.Errorf("%s/%s: %w", namespace, key, storage.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

// GetMany reads keys with one HMGET.
func (s *Store) GetMany(ctx context.Context, namespace string, keys ...string) (map[string]string, error) {
	if err := storage.ValidateKeys(namespace, keys); err != nil {
		return nil, err
	}
	values := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return values, nil
	}
	raw, err := s.client.HMGet(ctx, s.hashKey(namespace), keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range raw {
		if str, ok := v.(string); ok {
			values[keys[i]] = str
		}
	}
	return values, nil
}

func (s *Store) Set(ctx context.Context, namespace, key, value string) error {
	if err := storage.ValidateKey(namespace, key); err != nil {
		return err
	}
	return s.client.HSet(ctx, s.hashKey(namespace), key, value).Err()
}

func (s *Store) Remove(ctx context.Context, namespace, key string) error {
	if err := storage.ValidateKey(namespace, key); err != nil {
		return err
	}
	return s.client.HDel(ctx, s.hashKey(namespace), key).Err()
}

func (s *Store) List(ctx context.Context, namespace string) ([]string, error) {
	keys, err := s.client.HKeys(ctx, s.hashKey(namespace)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

type op struct {
	remove bool
	key    string
	value  string
}

type redisBatchTx struct {
	ctx       context.Context
	namespace string
	hash      string
	reader    *goredis.Tx
	ops       []op
}

// Get returns the latest staged value for key, falling back to the watched
// hash.
func (tx *redisBatchTx) Get(key string) (string, error) {
	if err := storage.ValidateKey(tx.namespace, key); err != nil {
		return "", err
	}
	for i := len(tx.ops) - 1; i >= 0; i-- {
		if o := tx.ops[i]; o.key == key {
			if o.remove {
				return "", fmt.Errorf("%s/%s: %w", tx.namespace, key, storage.ErrNotFound)
			}
			return o.value, nil
		}
	}
	val, err := tx.reader.HGet(tx.ctx, tx.hash, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", fmt.Errorf("%s/%s: %w", tx.namespace, key, storage.ErrNotFound)
	}
	return val, err
}

func (tx *redisBatchTx) Set(key, value string) error {
	if err := storage.ValidateKey(tx.namespace, key); err != nil {
		return err
	}
	tx.ops = append(tx.ops, op{key: key, value: value})
	return nil
}

func (tx *redisBatchTx) Remove(key string) error {
	if err := storage.ValidateKey(tx.namespace, key); err != nil {
		return err
	}
	tx.ops = append(tx.ops, op{remove: true, key: key})
	return nil
}

// maxBatchAttempts bounds how often Batch reruns fn after the watched hash
// changed underneath it.
const maxBatchAttempts = 5

// Batch watches the namespace hash, runs fn, and applies the buffered writes
// in a single MULTI/EXEC. If another client modified the hash in between, fn
// is run again against the new state. Nothing is sent if fn returns an error.
func (s *Store) Batch(ctx context.Context, namespace string, fn func(tx storage.BatchTx) error) error {
	if namespace == "" {
		return storage.ErrInvalidKey
	}
	hash := s.hashKey(namespace)
	for attempt := 0; attempt < maxBatchAttempts; attempt++ {
		err := s.client.Watch(ctx, func(rtx *goredis.Tx) error {
			tx := &redisBatchTx{ctx: ctx, namespace: namespace, hash: hash, reader: rtx}
			if err := fn(tx); err != nil {
				return err
			}
			if len(tx.ops) == 0 {
				return nil
			}
			_, err := rtx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				for _, o := range tx.ops {
					if o.remove {
						pipe.HDel(ctx, hash, o.key)
					} else {
						pipe.HSet(ctx, hash, o.key, o.value)
					}
				}
				return nil
			})
			return err
		}, hash)
		if !errors.Is(err, goredis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("batch on %s: %w", namespace, goredis.TxFailedErr)
}
