package client

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/payrollportal/session"
)

func TestLoginRejectsEmptyFieldsWithoutNetwork(t *testing.T) {
	srv, rec := newServer(t, map[string]http.HandlerFunc{
		"POST /api/login": loginOK("abc123", adminUser),
	})
	env := newTestEnv(t, srv.URL)

	cases := []Credentials{
		{Username: "", Password: "password123"},
		{Username: "admin", Password: ""},
		{Username: "   ", Password: "password123"},
		{},
	}
	for _, creds := range cases {
		_, err := env.client.Login(context.Background(), creds)
		require.ErrorIs(t, err, ErrValidation)
		assert.Equal(t, "Username and password are required", UserMessage(err))
	}
	assert.Zero(t, rec.total())
	assert.Empty(t, env.keys(t))
	assert.Equal(t, StateAnonymous, env.client.State())
}

func TestLoginStoresTokenAndUser(t *testing.T) {
	srv, rec := newServer(t, map[string]http.HandlerFunc{
		"POST /api/login":    loginOK("abc123", adminUser),
		"GET /api/protected": respondWith(http.StatusOK, map[string]string{"message": "Welcome admin!"}),
	})
	env := newTestEnv(t, srv.URL)

	sess, err := env.client.Login(context.Background(), Credentials{Username: "admin", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, "abc123", sess.Token)
	assert.Equal(t, adminUser, sess.User)
	assert.Equal(t, StateAuthenticated, env.client.State())

	assert.Equal(t, []string{session.TokenKey, session.UserKey}, env.keys(t))
	token, err := env.repo.Get(context.Background(), session.DefaultNamespace, session.TokenKey)
	require.NoError(t, err)
	assert.Equal(t, "abc123", token)

	assert.JSONEq(t, `{"username":"admin","password":"password123"}`, string(rec.body("/api/login")))
	assert.Equal(t, 1, rec.count("/api/login"))

	_, err = env.client.FetchProtected(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer abc123", rec.header("/api/protected").Get("Authorization"))
}

func TestLoginNormalizesUsername(t *testing.T) {
	srv, rec := newServer(t, map[string]http.HandlerFunc{
		"POST /api/login": loginOK("abc123", adminUser),
	})
	env := newTestEnv(t, srv.URL)

	// Fullwidth letters fold to ASCII under NFKC.
	_, err := env.client.Login(context.Background(), Credentials{Username: "  ａｄｍｉｎ ", Password: " pw "})
	require.NoError(t, err)
	assert.JSONEq(t, `{"username":"admin","password":" pw "}`, string(rec.body("/api/login")))
}

func TestLoginInvalidCredentialsLeavesStoreUnchanged(t *testing.T) {
	srv, _ := newServer(t, map[string]http.HandlerFunc{
		"POST /api/login": respondWith(http.StatusUnauthorized, map[string]string{"error": "Invalid credentials"}),
	})

	t.Run("Anonymous", func(t *testing.T) {
		env := newTestEnv(t, srv.URL)
		_, err := env.client.Login(context.Background(), Credentials{Username: "x", Password: "wrong"})
		require.ErrorIs(t, err, ErrInvalidCredentials)
		assert.Equal(t, "Invalid credentials", UserMessage(err))
		assert.Empty(t, env.keys(t))
		assert.Equal(t, StateAnonymous, env.client.State())
	})

	t.Run("ExistingSession", func(t *testing.T) {
		env := newTestEnv(t, srv.URL)
		env.seed(t, "old-token", adminUser)
		env.client.setState(StateAuthenticated)

		_, err := env.client.Login(context.Background(), Credentials{Username: "x", Password: "wrong"})
		require.ErrorIs(t, err, ErrInvalidCredentials)

		sess, ok, err := env.store.Load(context.Background())
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "old-token", sess.Token)
		assert.Equal(t, StateAuthenticated, env.client.State())
	})
}

func TestLoginFailureClassification(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
		message string
	}{
		{
			name:    "BadRequestWithError",
			handler: respondWith(http.StatusBadRequest, map[string]string{"error": "Username and password are required"}),
			want:    ErrInvalidCredentials,
			message: "Username and password are required",
		},
		{
			name:    "RateLimited",
			handler: respondWith(http.StatusTooManyRequests, map[string]string{"error": "too many login attempts"}),
			want:    ErrInvalidCredentials,
			message: "too many login attempts",
		},
		{
			name:    "SuccessFalse",
			handler: respondWith(http.StatusOK, map[string]any{"success": false, "error": "Account disabled"}),
			want:    ErrInvalidCredentials,
			message: "Account disabled",
		},
		{
			name:    "ServerError",
			handler: respondWith(http.StatusInternalServerError, map[string]string{"error": "Login failed: boom"}),
			want:    ErrServer,
			message: loginRetryMessage,
		},
		{
			name:    "MissingToken",
			handler: respondWith(http.StatusOK, map[string]any{"success": true, "user": adminUser}),
			want:    ErrUnexpectedResponse,
			message: loginRetryMessage,
		},
		{
			name:    "MissingUser",
			handler: respondWith(http.StatusOK, map[string]any{"success": true, "token": "abc123"}),
			want:    ErrUnexpectedResponse,
			message: loginRetryMessage,
		},
		{
			name: "NotJSON",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("<html>proxy error</html>"))
			},
			want:    ErrUnexpectedResponse,
			message: loginRetryMessage,
		},
		{
			name:    "RejectedWithoutMessage",
			handler: respondWith(http.StatusUnauthorized, map[string]string{}),
			want:    ErrUnexpectedResponse,
			message: loginRetryMessage,
		},
		{
			name:    "SuccessFlagMissing",
			handler: respondWith(http.StatusOK, map[string]any{"token": "abc123", "user": adminUser}),
			want:    ErrUnexpectedResponse,
			message: loginRetryMessage,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newServer(t, map[string]http.HandlerFunc{"POST /api/login": tt.handler})
			env := newTestEnv(t, srv.URL)

			_, err := env.client.Login(context.Background(), Credentials{Username: "admin", Password: "password123"})
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.message, UserMessage(err))
			assert.Empty(t, env.keys(t))
			assert.Equal(t, StateAnonymous, env.client.State())
		})
	}
}

func TestLoginServerErrorKeepsDetail(t *testing.T) {
	srv, _ := newServer(t, map[string]http.HandlerFunc{
		"POST /api/login": respondWith(http.StatusInternalServerError, map[string]string{"error": "Login failed: db down"}),
	})
	env := newTestEnv(t, srv.URL)

	_, err := env.client.Login(context.Background(), Credentials{Username: "admin", Password: "password123"})
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, KindServer, cerr.Kind)
	assert.Equal(t, http.StatusInternalServerError, cerr.Status)
	assert.Equal(t, "Login failed: db down", cerr.Detail)
	assert.NotContains(t, UserMessage(err), "db down")
}

func TestLoginNetworkFailure(t *testing.T) {
	srv, _ := newServer(t, nil)
	url := srv.URL
	srv.Close()

	env := newTestEnv(t, url)
	_, err := env.client.Login(context.Background(), Credentials{Username: "admin", Password: "password123"})
	require.ErrorIs(t, err, ErrNetwork)
	assert.Equal(t, loginRetryMessage, UserMessage(err))

	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Zero(t, cerr.Status)
	assert.Error(t, cerr.Err)
	assert.Empty(t, env.keys(t))
}

func TestLoginRetryAfterFailure(t *testing.T) {
	var attempts atomic.Int32
	srv, _ := newServer(t, map[string]http.HandlerFunc{
		"POST /api/login": func(w http.ResponseWriter, r *http.Request) {
			if attempts.Add(1) == 1 {
				respond(w, http.StatusInternalServerError, map[string]string{"error": "Login failed: warming up"})
				return
			}
			loginOK("abc123", adminUser)(w, r)
		},
	})
	env := newTestEnv(t, srv.URL)
	creds := Credentials{Username: "admin", Password: "password123"}

	_, err := env.client.Login(context.Background(), creds)
	require.ErrorIs(t, err, ErrServer)

	sess, err := env.client.Login(context.Background(), creds)
	require.NoError(t, err)
	assert.Equal(t, "abc123", sess.Token)
}

func TestLoginReplacesPreviousSession(t *testing.T) {
	demo := session.User{Username: "demo", Email: "demo@jnfpayroll.com", Role: "user"}
	srv, _ := newServer(t, map[string]http.HandlerFunc{
		"POST /api/login": loginOK("def456", demo),
	})
	env := newTestEnv(t, srv.URL)
	env.seed(t, "abc123", adminUser)

	_, err := env.client.Login(context.Background(), Credentials{Username: "demo", Password: "demo123"})
	require.NoError(t, err)

	sess, ok, err := env.client.Session(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, session.Session{User: demo, Token: "def456"}, sess)
}

func TestLogoutIsIdempotent(t *testing.T) {
	srv, rec := newServer(t, nil)
	env := newTestEnv(t, srv.URL)
	env.seed(t, "abc123", adminUser)

	require.NoError(t, env.client.Logout(context.Background()))
	require.NoError(t, env.client.Logout(context.Background()))

	assert.Empty(t, env.keys(t))
	assert.Equal(t, StateAnonymous, env.client.State())
	assert.Zero(t, rec.total())
}
