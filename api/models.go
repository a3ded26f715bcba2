package api

import "github.com/jmcleod/payrollportal/session"

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// LoginRequest is the JSON body for POST /login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned from POST /login.
type LoginResponse struct {
	Success   bool         `json:"success"`
	Message   string       `json:"message"`
	Token     string       `json:"token"`
	User      session.User `json:"user"`
	ExpiresAt string       `json:"expires_at"`
	Timestamp string       `json:"timestamp"`
}

// VerifyTokenRequest is the JSON body for POST /verify-token.
type VerifyTokenRequest struct {
	Token string `json:"token"`
}

// VerifyTokenResponse is returned from POST /verify-token.
type VerifyTokenResponse struct {
	Valid     bool         `json:"valid"`
	User      session.User `json:"user"`
	Timestamp string       `json:"timestamp"`
}

// DeploymentInfo describes the running backend.
type DeploymentInfo struct {
	Environment  string `json:"environment"`
	GoVersion    string `json:"go_version"`
	Framework    string `json:"framework"`
	Architecture string `json:"architecture"`
}

// ProtectedResponse is returned from GET /protected.
type ProtectedResponse struct {
	Message        string         `json:"message"`
	User           session.User   `json:"user"`
	BackendStatus  string         `json:"backend_status"`
	DeploymentInfo DeploymentInfo `json:"deployment_info"`
	Timestamp      string         `json:"timestamp"`
}

// CreateUserRequest is the JSON body for POST /users.
type CreateUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
	Role     string `json:"role,omitempty"`
}

// CreateUserResponse is returned from POST /users.
type CreateUserResponse struct {
	Success   bool         `json:"success"`
	Message   string       `json:"message"`
	User      session.User `json:"user"`
	Timestamp string       `json:"timestamp"`
}

// ListUsersResponse is returned from GET /users.
type ListUsersResponse struct {
	Users []session.User `json:"users"`
	PaginationMeta
}

// HealthResponse is returned from GET /health.
type HealthResponse struct {
	Status       string `json:"status"`
	Message      string `json:"message"`
	Architecture string `json:"architecture"`
	Timestamp    string `json:"timestamp"`
}

// AuditLogResponse is returned from GET /audit.
type AuditLogResponse struct {
	Entries []AuditEntry `json:"entries"`
	PaginationMeta
}
