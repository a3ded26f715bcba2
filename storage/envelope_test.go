package storage

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestEnvelope(t *testing.T) {
	key := newKey(t)
	plain := []byte("abc123")
	aad := []byte("default:authToken")

	env, err := SealRecord(key, plain, aad)
	require.NoError(t, err)
	assert.Equal(t, 1, env.Ver)
	assert.Equal(t, "aes256gcm", env.Scheme)

	decrypted, err := OpenRecord(key, env, aad)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(plain, decrypted))

	t.Run("WrongAAD", func(t *testing.T) {
		_, err := OpenRecord(key, env, []byte("default:userData"))
		assert.Error(t, err)
	})

	t.Run("WrongKey", func(t *testing.T) {
		_, err := OpenRecord(newKey(t), env, aad)
		assert.Error(t, err)
	})

	t.Run("UnsupportedVersion", func(t *testing.T) {
		badEnv := *env
		badEnv.Ver = 99
		_, err := OpenRecord(key, &badEnv, aad)
		assert.Error(t, err)
	})

	t.Run("UnsupportedScheme", func(t *testing.T) {
		badEnv := *env
		badEnv.Scheme = "unknown"
		_, err := OpenRecord(key, &badEnv, aad)
		assert.Error(t, err)
	})

	t.Run("BadKeySize", func(t *testing.T) {
		_, err := SealRecord([]byte("too short"), plain, aad)
		assert.Error(t, err)
	})
}

func TestEnvelopeEncoding(t *testing.T) {
	key := newKey(t)
	env, err := SealRecord(key, []byte(`{"username":"admin"}`), nil)
	require.NoError(t, err)

	value, err := EncodeEnvelope(env)
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(value)
	require.NoError(t, err)
	plain, err := OpenRecord(key, decoded, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"username":"admin"}`, string(plain))

	_, err = DecodeEnvelope("not base64!")
	assert.Error(t, err)
}
