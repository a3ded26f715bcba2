// Package storage provides the key/value persistence capability used to hold
// client sessions and the demo backend's user records.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a key does not exist in a namespace.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidKey is returned for empty namespaces or keys.
	ErrInvalidKey = errors.New("invalid namespace or key")
)

// BatchTx stages writes that are applied together when the batch function
// returns nil, and discarded when it returns an error. Get observes the
// batch's own staged writes; a concurrent batch on the same namespace cannot
// change what Get returned before this batch commits.
type BatchTx interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Remove(key string) error
}

// Repository stores string values addressed by (namespace, key).
//
// Remove of a missing key is not an error. Batch applies every staged write
// atomically: readers never observe a subset of a batch. GetMany reads several
// keys from one consistent view; missing keys are absent from the result.
type Repository interface {
	Get(ctx context.Context, namespace, key string) (string, error)
	GetMany(ctx context.Context, namespace string, keys ...string) (map[string]string, error)
	Set(ctx context.Context, namespace, key, value string) error
	Remove(ctx context.Context, namespace, key string) error
	List(ctx context.Context, namespace string) ([]string, error)
	Batch(ctx context.Context, namespace string, fn func(tx BatchTx) error) error
}

// ValidateKeys applies ValidateKey to every key.
func ValidateKeys(namespace string, keys []string) error {
	if namespace == "" {
		return ErrInvalidKey
	}
	for _, key := range keys {
		if err := ValidateKey(namespace, key); err != nil {
			return err
		}
	}
	return nil
}

// ValidateKey rejects empty namespaces and keys. Backends call it before
// touching storage.
func ValidateKey(namespace, key string) error {
	if namespace == "" || key == "" {
		return ErrInvalidKey
	}
	return nil
}
