// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/jmcleod/payrollportal/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing, demos, and single-process use cases.
type Repository struct {
	mu   sync.RWMutex
	data map[string]map[string]string
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]map[string]string)}
}

func (r *Repository) Get(_ context.Context, namespace, key string) (string, error) {
	if err := storage.ValidateKey(namespace, key); err != nil {
		return "", err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	value, ok := r.data[namespace][key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return value, nil
}

func (r *Repository) GetMany(_ context.Context, namespace string, keys ...string) (map[string]string, error) {
	if err := storage.ValidateKeys(namespace, keys); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	values := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := r.data[namespace][k]; ok {
			values[k] = v
		}
	}
	return values, nil
}

func (r *Repository) Set(_ context.Context, namespace, key, value string) error {
	if err := storage.ValidateKey(namespace, key); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setLocked(namespace, key, value)
	return nil
}

func (r *Repository) setLocked(namespace, key, value string) {
	if _, ok := r.data[namespace]; !ok {
		r.data[namespace] = make(map[string]string)
	}
	r.data[namespace][key] = value
}

func (r *Repository) Remove(_ context.Context, namespace, key string) error {
	if err := storage.ValidateKey(namespace, key); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(namespace, key)
	return nil
}

func (r *Repository) removeLocked(namespace, key string) {
	nsData, ok := r.data[namespace]
	if !ok {
		return
	}
	delete(nsData, key)
	if len(nsData) == 0 {
		delete(r.data, namespace)
	}
}

func (r *Repository) List(_ context.Context, namespace string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.data[namespace]))
	for k := range r.data[namespace] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Batch executes fn within a batch transaction. On error, all writes are rolled back.
func (r *Repository) Batch(_ context.Context, namespace string, fn func(tx storage.BatchTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.snapshot(namespace)

	tx := &memoryBatchTx{repo: r, namespace: namespace}
	if err := fn(tx); err != nil {
		r.restore(namespace, snapshot)
		return err
	}
	return nil
}

func (r *Repository) snapshot(namespace string) map[string]string {
	original, ok := r.data[namespace]
	if !ok {
		return nil
	}
	cp := make(map[string]string, len(original))
	for k, v := range original {
		cp[k] = v
	}
	return cp
}

func (r *Repository) restore(namespace string, snapshot map[string]string) {
	if snapshot == nil {
		delete(r.data, namespace)
	} else {
		r.data[namespace] = snapshot
	}
}

type memoryBatchTx struct {
	repo      *Repository
	namespace string
}

func (tx *memoryBatchTx) Get(key string) (string, error) {
	if err := storage.ValidateKey(tx.namespace, key); err != nil {
		return "", err
	}
	value, ok := tx.repo.data[tx.namespace][key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return value, nil
}

func (tx *memoryBatchTx) Set(key, value string) error {
	if err := storage.ValidateKey(tx.namespace, key); err != nil {
		return err
	}
	tx.repo.setLocked(tx.namespace, key, value)
	return nil
}

func (tx *memoryBatchTx) Remove(key string) error {
	if err := storage.ValidateKey(tx.namespace, key); err != nil {
		return err
	}
	tx.repo.removeLocked(tx.namespace, key)
	return nil
}
