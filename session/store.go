package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/payrollportal/storage"
)

// Store keeps at most one Session per namespace in a storage.Repository.
// The token and the user record are always written and cleared together.
type Store struct {
	repo      storage.Repository
	namespace string
	sealKey   *memguard.Enclave
	logger    *slog.Logger
	optErr    error
}

// Option configures a Store.
type Option func(*Store)

// WithNamespace scopes the store to a profile. Empty keeps DefaultNamespace.
func WithNamespace(namespace string) Option {
	return func(s *Store) {
		if namespace != "" {
			s.namespace = namespace
		}
	}
}

// WithSealKey encrypts both values at rest with the given 32-byte key.
// The caller's slice is left intact.
func WithSealKey(key []byte) Option {
	return func(s *Store) {
		if len(key) != 32 {
			s.optErr = fmt.Errorf("seal key must be exactly 32 bytes, got %d", len(key))
			return
		}
		cp := make([]byte, len(key))
		copy(cp, key)
		s.sealKey = memguard.NewEnclave(cp)
	}
}

// WithLogger sets the logger used to report repaired stores.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore returns a Store over repo.
func NewStore(repo storage.Repository, opts ...Option) (*Store, error) {
	if repo == nil {
		return nil, errors.New("session: repository is required")
	}
	s := &Store{
		repo:      repo,
		namespace: DefaultNamespace,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.optErr != nil {
		return nil, s.optErr
	}
	return s, nil
}

// Namespace returns the profile this store is scoped to.
func (s *Store) Namespace() string {
	return s.namespace
}

// Sealed reports whether values are encrypted at rest.
func (s *Store) Sealed() bool {
	return s.sealKey != nil
}

// Load returns the stored session. ok is false when no complete session is
// stored. Both keys are read from one consistent view. A store holding only
// one of the two keys, or values that cannot be decoded, is cleared and
// reported as empty, unless another writer replaced them in the meantime.
func (s *Store) Load(ctx context.Context) (sess Session, ok bool, err error) {
	seen, err := s.repo.GetMany(ctx, s.namespace, TokenKey, UserKey)
	if err != nil {
		return Session{}, false, fmt.Errorf("reading session: %w", err)
	}
	token, tokenOK := seen[TokenKey]
	userJSON, userOK := seen[UserKey]
	if !tokenOK && !userOK {
		return Session{}, false, nil
	}
	if !tokenOK || !userOK {
		return Session{}, false, s.repair(ctx, "partial session", seen)
	}

	if s.sealKey != nil {
		if token, err = unseal(s.sealKey, s.namespace, TokenKey, token); err != nil {
			return Session{}, false, s.repair(ctx, "unreadable token", seen)
		}
		if userJSON, err = unseal(s.sealKey, s.namespace, UserKey, userJSON); err != nil {
			return Session{}, false, s.repair(ctx, "unreadable user record", seen)
		}
	}

	var user User
	if err := json.Unmarshal([]byte(userJSON), &user); err != nil {
		return Session{}, false, s.repair(ctx, "malformed user record", seen)
	}
	sess = Session{User: user, Token: token}
	if !sess.Valid() {
		return Session{}, false, s.repair(ctx, "incomplete session", seen)
	}
	return sess, true, nil
}

// Save replaces the stored session with sess in a single batch.
func (s *Store) Save(ctx context.Context, sess Session) error {
	if !sess.Valid() {
		return ErrIncomplete
	}
	userJSON, err := json.Marshal(sess.User)
	if err != nil {
		return fmt.Errorf("encoding user: %w", err)
	}
	token, user := sess.Token, string(userJSON)
	if s.sealKey != nil {
		if token, err = seal(s.sealKey, s.namespace, TokenKey, token); err != nil {
			return fmt.Errorf("sealing token: %w", err)
		}
		if user, err = seal(s.sealKey, s.namespace, UserKey, user); err != nil {
			return fmt.Errorf("sealing user: %w", err)
		}
	}
	err = s.repo.Batch(ctx, s.namespace, func(tx storage.BatchTx) error {
		if err := tx.Set(TokenKey, token); err != nil {
			return err
		}
		return tx.Set(UserKey, user)
	})
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// Clear removes both keys. Clearing an empty store is not an error.
func (s *Store) Clear(ctx context.Context) error {
	err := s.repo.Batch(ctx, s.namespace, func(tx storage.BatchTx) error {
		if err := tx.Remove(TokenKey); err != nil {
			return err
		}
		return tx.Remove(UserKey)
	})
	if err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}

// repair clears both keys if they still hold exactly what Load saw.
func (s *Store) repair(ctx context.Context, reason string, seen map[string]string) error {
	replaced := false
	err := s.repo.Batch(ctx, s.namespace, func(tx storage.BatchTx) error {
		for _, key := range []string{TokenKey, UserKey} {
			current, err := tx.Get(key)
			found := err == nil
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return err
			}
			old, had := seen[key]
			if found != had || current != old {
				replaced = true
				return nil
			}
		}
		if err := tx.Remove(TokenKey); err != nil {
			return err
		}
		return tx.Remove(UserKey)
	})
	if err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	if replaced {
		s.logger.Debug("session replaced during load, leaving it in place",
			slog.String("namespace", s.namespace),
		)
		return nil
	}
	s.logger.Warn("discarded inconsistent session",
		slog.String("namespace", s.namespace),
		slog.String("reason", reason),
	)
	return nil
}
