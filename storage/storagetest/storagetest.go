// Package storagetest holds the conformance suite shared by every
// storage.Repository backend.
package storagetest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/payrollportal/storage"
)

// Run exercises repo against the storage.Repository contract. newRepo must
// return an empty repository on every call.
func Run(t *testing.T, newRepo func(t *testing.T) storage.Repository) {
	t.Helper()
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Set(ctx, "default", "authToken", "abc123"))

		got, err := repo.Get(ctx, "default", "authToken")
		require.NoError(t, err)
		assert.Equal(t, "abc123", got)
	})

	t.Run("GetMissing", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.Get(ctx, "nonexistent", "authToken")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		require.NoError(t, repo.Set(ctx, "default", "userData", "{}"))
		_, err = repo.Get(ctx, "default", "authToken")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("GetMany", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Set(ctx, "default", "authToken", "abc123"))
		require.NoError(t, repo.Set(ctx, "default", "userData", "{}"))

		got, err := repo.GetMany(ctx, "default", "authToken", "userData", "missing")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"authToken": "abc123", "userData": "{}"}, got)

		got, err = repo.GetMany(ctx, "nonexistent", "authToken")
		require.NoError(t, err)
		assert.Empty(t, got)

		_, err = repo.GetMany(ctx, "default", "authToken", "")
		assert.ErrorIs(t, err, storage.ErrInvalidKey)
	})

	t.Run("Overwrite", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Set(ctx, "default", "authToken", "v1"))
		require.NoError(t, repo.Set(ctx, "default", "authToken", "v2"))

		got, err := repo.Get(ctx, "default", "authToken")
		require.NoError(t, err)
		assert.Equal(t, "v2", got)
	})

	t.Run("RemoveIsIdempotent", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Set(ctx, "default", "authToken", "abc123"))
		require.NoError(t, repo.Remove(ctx, "default", "authToken"))
		require.NoError(t, repo.Remove(ctx, "default", "authToken"))
		require.NoError(t, repo.Remove(ctx, "never-created", "authToken"))

		_, err := repo.Get(ctx, "default", "authToken")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("InvalidKey", func(t *testing.T) {
		repo := newRepo(t)
		assert.ErrorIs(t, repo.Set(ctx, "", "k", "v"), storage.ErrInvalidKey)
		assert.ErrorIs(t, repo.Set(ctx, "ns", "", "v"), storage.ErrInvalidKey)
		_, err := repo.Get(ctx, "ns", "")
		assert.ErrorIs(t, err, storage.ErrInvalidKey)
	})

	t.Run("NamespaceIsolation", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Set(ctx, "alice", "authToken", "token-a"))
		require.NoError(t, repo.Set(ctx, "bob", "authToken", "token-b"))

		got, err := repo.Get(ctx, "alice", "authToken")
		require.NoError(t, err)
		assert.Equal(t, "token-a", got)

		require.NoError(t, repo.Remove(ctx, "alice", "authToken"))
		got, err = repo.Get(ctx, "bob", "authToken")
		require.NoError(t, err)
		assert.Equal(t, "token-b", got)
	})

	t.Run("List", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Set(ctx, "users", "demo", "{}"))
		require.NoError(t, repo.Set(ctx, "users", "admin", "{}"))
		require.NoError(t, repo.Set(ctx, "other", "zed", "{}"))

		keys, err := repo.List(ctx, "users")
		require.NoError(t, err)
		assert.Equal(t, []string{"admin", "demo"}, keys)

		keys, err = repo.List(ctx, "nonexistent")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("BatchCommit", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Set(ctx, "default", "stale", "x"))

		err := repo.Batch(ctx, "default", func(tx storage.BatchTx) error {
			if err := tx.Set("authToken", "abc123"); err != nil {
				return err
			}
			if err := tx.Set("userData", `{"username":"admin"}`); err != nil {
				return err
			}
			return tx.Remove("stale")
		})
		require.NoError(t, err)

		token, err := repo.Get(ctx, "default", "authToken")
		require.NoError(t, err)
		assert.Equal(t, "abc123", token)
		user, err := repo.Get(ctx, "default", "userData")
		require.NoError(t, err)
		assert.Equal(t, `{"username":"admin"}`, user)
		_, err = repo.Get(ctx, "default", "stale")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("BatchRollback", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Set(ctx, "default", "authToken", "old"))

		boom := errors.New("boom")
		err := repo.Batch(ctx, "default", func(tx storage.BatchTx) error {
			if err := tx.Set("authToken", "new"); err != nil {
				return err
			}
			if err := tx.Set("userData", "{}"); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		token, err := repo.Get(ctx, "default", "authToken")
		require.NoError(t, err)
		assert.Equal(t, "old", token)
		_, err = repo.Get(ctx, "default", "userData")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("BatchGet", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Set(ctx, "default", "authToken", "old"))

		err := repo.Batch(ctx, "default", func(tx storage.BatchTx) error {
			got, err := tx.Get("authToken")
			require.NoError(t, err)
			assert.Equal(t, "old", got)

			_, err = tx.Get("userData")
			assert.ErrorIs(t, err, storage.ErrNotFound)

			if err := tx.Set("authToken", "new"); err != nil {
				return err
			}
			got, err = tx.Get("authToken")
			require.NoError(t, err)
			assert.Equal(t, "new", got)

			if err := tx.Remove("authToken"); err != nil {
				return err
			}
			_, err = tx.Get("authToken")
			assert.ErrorIs(t, err, storage.ErrNotFound)
			return nil
		})
		require.NoError(t, err)

		_, err = repo.Get(ctx, "default", "authToken")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("BatchRemoveMissing", func(t *testing.T) {
		repo := newRepo(t)
		err := repo.Batch(ctx, "empty", func(tx storage.BatchTx) error {
			if err := tx.Remove("authToken"); err != nil {
				return err
			}
			return tx.Remove("userData")
		})
		assert.NoError(t, err)
	})
}
