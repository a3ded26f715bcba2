package api

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/jmcleod/payrollportal/internal/uuid"
	"github.com/jmcleod/payrollportal/storage"
)

// AuditNamespace is the storage namespace holding persisted audit entries.
const AuditNamespace = "__audit"

// DefaultAuditRetention is how many audit entries are kept before the oldest
// are pruned.
const DefaultAuditRetention = 10000

// AuditEntry is one persisted audit event.
type AuditEntry struct {
	ID         string            `json:"id"`
	Event      string            `json:"event"`
	Username   string            `json:"username,omitempty"`
	RemoteAddr string            `json:"remote_addr,omitempty"`
	Attrs      map[string]string `json:"attrs,omitempty"`
	CreatedAt  string            `json:"created_at"`
}

// auditStore appends audit entries to a storage.Repository. Keys start with
// the creation time so List returns them in chronological order.
type auditStore struct {
	repo       storage.Repository
	maxEntries int
	now        func() time.Time
}

func newAuditStore(repo storage.Repository, maxEntries int) *auditStore {
	if maxEntries <= 0 {
		maxEntries = DefaultAuditRetention
	}
	return &auditStore{repo: repo, maxEntries: maxEntries, now: time.Now}
}

func (s *auditStore) append(ctx context.Context, evt webhookEvent) error {
	now := s.now().UTC()
	entry := AuditEntry{
		ID:         uuid.New(),
		Event:      evt.Event,
		Username:   evt.Username,
		RemoteAddr: evt.RemoteAddr,
		Attrs:      evt.Attrs,
		CreatedAt:  now.Format(time.RFC3339),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%020d-%s", now.UnixNano(), entry.ID)
	return s.repo.Set(ctx, AuditNamespace, key, string(data))
}

// page returns one page of entries, newest first. Without a username filter
// only the requested page is read from the repository.
func (s *auditStore) page(ctx context.Context, username string, limit, offset int) ([]AuditEntry, PaginationMeta, error) {
	keys, err := s.repo.List(ctx, AuditNamespace)
	if err != nil {
		return nil, PaginationMeta{}, err
	}
	slices.Reverse(keys)

	if username == "" {
		pageKeys, meta := paginate(keys, limit, offset)
		entries, err := s.load(ctx, pageKeys)
		return entries, meta, err
	}

	entries, err := s.load(ctx, keys)
	if err != nil {
		return nil, PaginationMeta{}, err
	}
	entries = slices.DeleteFunc(entries, func(e AuditEntry) bool {
		return e.Username != username
	})
	page, meta := paginate(entries, limit, offset)
	return page, meta, nil
}

// load reads keys in one call and decodes them in key order, skipping
// entries that vanished or cannot be decoded.
func (s *auditStore) load(ctx context.Context, keys []string) ([]AuditEntry, error) {
	entries := make([]AuditEntry, 0, len(keys))
	if len(keys) == 0 {
		return entries, nil
	}
	values, err := s.repo.GetMany(ctx, AuditNamespace, keys...)
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		data, ok := values[key]
		if !ok {
			continue
		}
		var entry AuditEntry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// prune removes the oldest entries beyond maxEntries and reports how many
// were removed.
func (s *auditStore) prune(ctx context.Context) (int, error) {
	keys, err := s.repo.List(ctx, AuditNamespace)
	if err != nil {
		return 0, err
	}
	excess := len(keys) - s.maxEntries
	if excess <= 0 {
		return 0, nil
	}
	err = s.repo.Batch(ctx, AuditNamespace, func(tx storage.BatchTx) error {
		for _, key := range keys[:excess] {
			if err := tx.Remove(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return excess, nil
}
