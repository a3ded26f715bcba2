package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/payrollportal/api"
	"github.com/jmcleod/payrollportal/internal/util"
	"github.com/jmcleod/payrollportal/storage/memory"
)

var (
	testSecret = []byte("0123456789abcdef0123456789abcdef")
	fastParams = util.Argon2idParams{Time: 1, MemoryKiB: 1024, Parallelism: 1, KeyLen: 32}
)

func setupServer(t *testing.T, opts ...api.Option) *httptest.Server {
	t.Helper()
	opts = append([]api.Option{
		api.WithPasswordParams(fastParams),
		api.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	a, err := api.New(t.Context(), memory.NewRepository(), testSecret, opts...)
	require.NoError(t, err)
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		srv.Close()
		a.Close()
	})
	return srv
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	}
	req, err := http.NewRequestWithContext(t.Context(), method, url, &reqBody)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func errorOf(t *testing.T, resp *http.Response) string {
	t.Helper()
	return decode[api.ErrorResponse](t, resp).Error
}

func login(t *testing.T, baseURL, username, password string) string {
	t.Helper()
	resp := doJSON(t, http.MethodPost, baseURL+"/api/login", "", api.LoginRequest{Username: username, Password: password})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[api.LoginResponse](t, resp)
	require.NotEmpty(t, body.Token)
	return body.Token
}

func TestHealth(t *testing.T) {
	srv := setupServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	body := decode[api.HealthResponse](t, resp)
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "JNF Payroll API is running", body.Message)
	assert.NotEmpty(t, body.Timestamp)
}

func TestLogin(t *testing.T) {
	srv := setupServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/login", "", api.LoginRequest{Username: "admin", Password: "password123"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[api.LoginResponse](t, resp)
	assert.True(t, body.Success)
	assert.Equal(t, "Login successful", body.Message)
	assert.NotEmpty(t, body.Token)
	assert.Equal(t, "admin", body.User.Username)
	assert.Equal(t, "admin@jnfpayroll.com", body.User.Email)
	assert.Equal(t, "admin", body.User.Role)

	expiresAt, err := time.Parse(time.RFC3339, body.ExpiresAt)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(api.DefaultTokenTTL), expiresAt, time.Minute)
}

func TestLoginRejections(t *testing.T) {
	srv := setupServer(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{"empty body", "", http.StatusBadRequest, "No data provided"},
		{"malformed", "{", http.StatusBadRequest, "No data provided"},
		{"missing password", `{"username":"demo"}`, http.StatusBadRequest, "Username and password are required"},
		{"blank username", `{"username":"  ","password":"x"}`, http.StatusBadRequest, "Username and password are required"},
		{"wrong password", `{"username":"demo","password":"nope"}`, http.StatusUnauthorized, "Invalid credentials"},
		{"unknown user", `{"username":"ghost","password":"demo123"}`, http.StatusUnauthorized, "Invalid credentials"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/api/login", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantError, errorOf(t, resp))
		})
	}
}

func TestLoginRateLimited(t *testing.T) {
	srv := setupServer(t)

	for i := 0; i < 5; i++ {
		resp := doJSON(t, http.MethodPost, srv.URL+"/api/login", "", api.LoginRequest{Username: "demo", Password: "wrong"})
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	// The correct password is refused while the username is locked out.
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/login", "", api.LoginRequest{Username: "demo", Password: "demo123"})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	// Other usernames are unaffected.
	login(t, srv.URL, "admin", "password123")
}

func TestLoginRateLimitHoldsUnderParallelFailures(t *testing.T) {
	srv := setupServer(t)
	body, err := json.Marshal(api.LoginRequest{Username: "demo", Password: "wrong"})
	require.NoError(t, err)

	const attempts = 20
	statuses := make(chan int, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Post(srv.URL+"/api/login", "application/json", bytes.NewReader(body))
			if err != nil {
				statuses <- 0
				return
			}
			resp.Body.Close()
			statuses <- resp.StatusCode
		}()
	}
	wg.Wait()
	close(statuses)

	counts := map[int]int{}
	for status := range statuses {
		counts[status]++
	}
	assert.LessOrEqual(t, counts[http.StatusUnauthorized], 5)
	assert.Equal(t, attempts, counts[http.StatusUnauthorized]+counts[http.StatusTooManyRequests])

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/login", "", api.LoginRequest{Username: "demo", Password: "demo123"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestProtected(t *testing.T) {
	srv := setupServer(t, api.WithEnvironment("Staging"))
	token := login(t, srv.URL, "demo", "demo123")

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/protected", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[api.ProtectedResponse](t, resp)
	assert.Equal(t, "Welcome demo! This is a protected route.", body.Message)
	assert.Equal(t, "Connected successfully!", body.BackendStatus)
	assert.Equal(t, "demo", body.User.Username)
	assert.Equal(t, "Staging", body.DeploymentInfo.Environment)
	assert.NotEmpty(t, body.DeploymentInfo.GoVersion)

	// The Bearer prefix is optional.
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/protected", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", token)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()
	assert.Equal(t, http.StatusOK, raw.StatusCode)
}

func TestProtectedRejections(t *testing.T) {
	srv := setupServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/protected", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Token required", errorOf(t, resp))

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/protected", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid or expired token", errorOf(t, resp))
}

func TestVerifyToken(t *testing.T) {
	srv := setupServer(t)
	token := login(t, srv.URL, "admin", "password123")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/verify-token", "", api.VerifyTokenRequest{Token: token})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[api.VerifyTokenResponse](t, resp)
	assert.True(t, body.Valid)
	assert.Equal(t, "admin", body.User.Username)
	assert.True(t, body.User.IsAdmin())

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/verify-token", "", api.VerifyTokenRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Token required", errorOf(t, resp))

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/verify-token", "", api.VerifyTokenRequest{Token: token + "tampered"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid or expired token", errorOf(t, resp))
}

func TestCreateUser(t *testing.T) {
	srv := setupServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/users", "", api.CreateUserRequest{
		Username: "carol",
		Password: "s3cret",
		Email:    "carol@jnfpayroll.com",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decode[api.CreateUserResponse](t, resp)
	assert.True(t, body.Success)
	assert.Equal(t, "User created successfully", body.Message)
	assert.Equal(t, "user", body.User.Role)

	login(t, srv.URL, "carol", "s3cret")

	tests := []struct {
		name      string
		req       api.CreateUserRequest
		wantError string
	}{
		{"duplicate", api.CreateUserRequest{Username: "carol", Password: "x", Email: "c@x"}, "User already exists"},
		{"missing email", api.CreateUserRequest{Username: "dave", Password: "x"}, "Username, password, and email are required"},
		{"bad role", api.CreateUserRequest{Username: "erin", Password: "x", Email: "e@x", Role: "root"}, "Role must be admin or user"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, http.MethodPost, srv.URL+"/api/users", "", tt.req)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, tt.wantError, errorOf(t, resp))
		})
	}
}

func TestListUsers(t *testing.T) {
	srv := setupServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/users", login(t, srv.URL, "demo", "demo123"), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Admin access required", errorOf(t, resp))

	admin := login(t, srv.URL, "admin", "password123")
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/users", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[api.ListUsersResponse](t, resp)
	assert.Equal(t, 2, body.TotalCount)
	assert.False(t, body.HasMore)
	require.Len(t, body.Users, 2)
	assert.Equal(t, "admin", body.Users[0].Username)
	assert.Equal(t, "demo", body.Users[1].Username)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/users?limit=1&offset=1", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decode[api.ListUsersResponse](t, resp)
	require.Len(t, body.Users, 1)
	assert.Equal(t, "demo", body.Users[0].Username)
	assert.Equal(t, 1, body.Limit)
	assert.Equal(t, 1, body.Offset)
}

func TestAuditLog(t *testing.T) {
	srv := setupServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/login", "", api.LoginRequest{Username: "demo", Password: "bad"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	demo := login(t, srv.URL, "demo", "demo123")

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/audit", demo, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	admin := login(t, srv.URL, "admin", "password123")
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/audit?username=demo", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[api.AuditLogResponse](t, resp)
	require.Len(t, body.Entries, 2)
	assert.Equal(t, "login_success", body.Entries[0].Event)
	assert.Equal(t, "login_failure", body.Entries[1].Event)
	assert.Equal(t, "demo", body.Entries[1].Username)
}

func TestWithoutDemoUsers(t *testing.T) {
	srv := setupServer(t, api.WithoutDemoUsers())

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/login", "", api.LoginRequest{Username: "demo", Password: "demo123"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	srv := setupServer(t)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/login", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://evil.example")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Empty(t, resp2.Header.Get("Access-Control-Allow-Origin"))
}

func TestOpenAPIDocument(t *testing.T) {
	srv := setupServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/openapi.yaml", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "JNF Payroll API")
}

func TestAuditWebhookReceivesEvents(t *testing.T) {
	var (
		mu     sync.Mutex
		events []string
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt struct {
			Event    string `json:"event"`
			Username string `json:"username"`
		}
		json.NewDecoder(r.Body).Decode(&evt)
		mu.Lock()
		events = append(events, evt.Event+":"+evt.Username)
		mu.Unlock()
	}))
	defer hook.Close()

	a, err := api.New(t.Context(), memory.NewRepository(), testSecret,
		api.WithPasswordParams(fastParams),
		api.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		api.WithAuditWebhook(hook.URL, ""),
	)
	require.NoError(t, err)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	login(t, srv.URL, "demo", "demo123")
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/login", "", api.LoginRequest{Username: "demo", Password: "bad"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	a.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"login_success:demo", "login_failure:demo"}, events)
}

func TestNewRejectsShortSecret(t *testing.T) {
	_, err := api.New(t.Context(), memory.NewRepository(), []byte("short"), api.WithPasswordParams(fastParams))
	assert.Error(t, err)
}
