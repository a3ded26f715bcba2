// Package bbolt provides a BBolt-backed storage repository. It is the default
// session file used by the payroll CLI.
package bbolt

import (
	"bytes"
	"context"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/payrollportal/storage"
)

// Store implements storage.Repository backed by a BBolt database. Each
// namespace is a top-level bucket.
type Store struct {
	db *bbolt.DB
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given BBolt database.
func NewRepository(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// NewRepositoryFromFile opens a BBolt database at the given path and returns a new Repository.
func NewRepositoryFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewRepository(db), nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(_ context.Context, namespace, key string) (string, error) {
	if err := storage.ValidateKey(namespace, key); err != nil {
		return "", err
	}
	var value string
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(namespace))
		if b == nil {
			return fmt.Errorf("%s/%s: %w", namespace, key, storage.ErrNotFound)
		}
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%s/%s: %w", namespace, key, storage.ErrNotFound)
		}
		value = string(data)
		return nil
	})
	return value, err
}

func (s *Store) GetMany(_ context.Context, namespace string, keys ...string) (map[string]string, error) {
	if err := storage.ValidateKeys(namespace, keys); err != nil {
		return nil, err
	}
	values := make(map[string]string, len(keys))
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(namespace))
		if b == nil {
			return nil
		}
		for _, k := range keys {
			if data := b.Get([]byte(k)); data != nil {
				values[k] = string(data)
			}
		}
		return nil
	})
	return values, err
}

func (s *Store) Set(_ context.Context, namespace, key, value string) error {
	if err := storage.ValidateKey(namespace, key); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(namespace))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), []byte(value))
	})
}

func (s *Store) Remove(_ context.Context, namespace, key string) error {
	if err := storage.ValidateKey(namespace, key); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(namespace))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

func (s *Store) List(_ context.Context, namespace string) ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(namespace))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			keys = append(keys, string(bytes.Clone(k)))
		}
		return nil
	})
	return keys, err
}

type boltBatchTx struct {
	namespace string
	bucket    *bbolt.Bucket
}

func (tx *boltBatchTx) Get(key string) (string, error) {
	if err := storage.ValidateKey(tx.namespace, key); err != nil {
		return "", err
	}
	data := tx.bucket.Get([]byte(key))
	if data == nil {
		return "", fmt.Errorf("%s/%s: %w", tx.namespace, key, storage.ErrNotFound)
	}
	return string(data), nil
}

func (tx *boltBatchTx) Set(key, value string) error {
	if err := storage.ValidateKey(tx.namespace, key); err != nil {
		return err
	}
	return tx.bucket.Put([]byte(key), []byte(value))
}

func (tx *boltBatchTx) Remove(key string) error {
	if err := storage.ValidateKey(tx.namespace, key); err != nil {
		return err
	}
	return tx.bucket.Delete([]byte(key))
}

// Batch runs fn inside a single read-write BBolt transaction. Returning an
// error from fn rolls the transaction back.
func (s *Store) Batch(_ context.Context, namespace string, fn func(tx storage.BatchTx) error) error {
	if namespace == "" {
		return storage.ErrInvalidKey
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(namespace))
		if err != nil {
			return err
		}
		return fn(&boltBatchTx{namespace: namespace, bucket: b})
	})
}
