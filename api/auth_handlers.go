package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/jmcleod/payrollportal/internal/util"
)

const (
	architecture = "MVC"
	framework    = "chi"
)

// Login handles POST /login.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[LoginRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	username := util.NormalizeUsername(req.Username)
	if username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	if blocked, retryAfter := a.rateLimiter.reserve(username); blocked {
		a.audit.logEvent(AuditLoginRateLimited, r, username)
		writeRateLimited(w, retryAfter)
		return
	}

	user, err := a.users.Authenticate(r.Context(), username, req.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		a.rateLimiter.recordFailure(username)
		a.audit.logEvent(AuditLoginFailure, r, username)
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if err != nil {
		a.rateLimiter.release(username)
		a.logger.Error("login failed", "username", username, "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Login failed: %v", err))
		return
	}

	token, expiresAt, err := a.tokens.issue(user)
	if err != nil {
		a.rateLimiter.release(username)
		a.logger.Error("issuing token", "username", username, "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Login failed: %v", err))
		return
	}
	a.rateLimiter.recordSuccess(username)
	a.audit.logEvent(AuditLoginSuccess, r, username, slog.String("role", user.Role))

	writeJSON(w, http.StatusOK, LoginResponse{
		Success:   true,
		Message:   "Login successful",
		Token:     token,
		User:      user,
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
		Timestamp: timestamp(),
	})
}

// VerifyToken handles POST /verify-token. The token travels in the body.
func (a *API) VerifyToken(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[VerifyTokenRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, errTokenRequired)
		return
	}
	user, err := a.tokens.parse(req.Token)
	if err != nil {
		a.audit.logFailure(AuditTokenRejected, r, err.Error())
		writeError(w, http.StatusUnauthorized, errTokenInvalid)
		return
	}
	a.audit.logEvent(AuditTokenVerified, r, user.Username)
	writeJSON(w, http.StatusOK, VerifyTokenResponse{
		Valid:     true,
		User:      user,
		Timestamp: timestamp(),
	})
}

// Protected handles GET /protected.
func (a *API) Protected(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errTokenRequired)
		return
	}
	writeJSON(w, http.StatusOK, ProtectedResponse{
		Message:       fmt.Sprintf("Welcome %s! This is a protected route.", user.Username),
		User:          user,
		BackendStatus: "Connected successfully!",
		DeploymentInfo: DeploymentInfo{
			Environment:  a.environment,
			GoVersion:    runtime.Version(),
			Framework:    framework,
			Architecture: architecture,
		},
		Timestamp: timestamp(),
	})
}

// Health handles GET /health.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:       "healthy",
		Message:      "JNF Payroll API is running",
		Architecture: architecture,
		Timestamp:    timestamp(),
	})
}
