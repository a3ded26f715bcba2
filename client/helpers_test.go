package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jmcleod/payrollportal/session"
	"github.com/jmcleod/payrollportal/storage/memory"
)

var adminUser = session.User{Username: "admin", Email: "a@x.com", Role: "admin"}

type recorder struct {
	mu      sync.Mutex
	hits    map[string]int
	headers map[string]http.Header
	bodies  map[string][]byte
	queries map[string]string
}

func (r *recorder) count(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hits[path]
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, v := range r.hits {
		n += v
	}
	return n
}

func (r *recorder) header(path string) http.Header {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.headers[path]
}

func (r *recorder) body(path string) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bodies[path]
}

func (r *recorder) query(path string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queries[path]
}

// newServer serves routes (keyed by "METHOD /path") and records every hit.
func newServer(t *testing.T, routes map[string]http.HandlerFunc) (*httptest.Server, *recorder) {
	t.Helper()
	rec := &recorder{
		hits:    map[string]int{},
		headers: map[string]http.Header{},
		bodies:  map[string][]byte{},
		queries: map[string]string{},
	}
	mux := http.NewServeMux()
	for pattern, h := range routes {
		mux.HandleFunc(pattern, h)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))
		rec.mu.Lock()
		rec.hits[r.URL.Path]++
		rec.headers[r.URL.Path] = r.Header.Clone()
		rec.bodies[r.URL.Path] = body
		rec.queries[r.URL.Path] = r.URL.RawQuery
		rec.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondWith(status int, body any) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		respond(w, status, body)
	}
}

func loginOK(token string, user session.User) http.HandlerFunc {
	return respondWith(http.StatusOK, map[string]any{
		"success": true,
		"message": "Login successful",
		"token":   token,
		"user":    user,
	})
}

type testEnv struct {
	client *Client
	store  *session.Store
	repo   *memory.Repository
}

func newTestEnv(t *testing.T, baseURL string, opts ...Option) *testEnv {
	t.Helper()
	repo := memory.NewRepository()
	store, err := session.NewStore(repo)
	require.NoError(t, err)
	c, err := New(context.Background(), baseURL, store, opts...)
	require.NoError(t, err)
	return &testEnv{client: c, store: store, repo: repo}
}

// seed writes a session directly to the store, bypassing Login.
func (e *testEnv) seed(t *testing.T, token string, user session.User) {
	t.Helper()
	require.NoError(t, e.store.Save(context.Background(), session.Session{User: user, Token: token}))
}

func (e *testEnv) keys(t *testing.T) []string {
	t.Helper()
	keys, err := e.repo.List(context.Background(), session.DefaultNamespace)
	require.NoError(t, err)
	return keys
}
