package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jmcleod/payrollportal/internal/util"
)

// CreateUser handles POST /users. Registration is open; the new account is
// not logged in.
func (a *API) CreateUser(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[CreateUserRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	if util.NormalizeUsername(req.Username) == "" || req.Password == "" || strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, "Username, password, and email are required")
		return
	}

	user, err := a.users.Create(r.Context(), NewAccount{
		Username: req.Username,
		Password: req.Password,
		Email:    req.Email,
		Role:     req.Role,
	})
	switch {
	case errors.Is(err, ErrUserExists):
		writeError(w, http.StatusBadRequest, "User already exists")
		return
	case errors.Is(err, ErrInvalidRole):
		writeError(w, http.StatusBadRequest, "Role must be admin or user")
		return
	case err != nil:
		a.logger.Error("creating user", "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("User creation failed: %v", err))
		return
	}

	a.audit.logEvent(AuditUserCreated, r, user.Username, slog.String("role", user.Role))
	writeJSON(w, http.StatusCreated, CreateUserResponse{
		Success:   true,
		Message:   "User created successfully",
		User:      user,
		Timestamp: timestamp(),
	})
}

// ListUsers handles GET /users. Admin only.
func (a *API) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.users.List(r.Context())
	if err != nil {
		a.logger.Error("listing users", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list users")
		return
	}
	limit, offset := parsePagination(r)
	page, meta := paginate(users, limit, offset)

	if caller, ok := userFromContext(r.Context()); ok {
		a.audit.logEvent(AuditUsersListed, r, caller.Username)
	}
	writeJSON(w, http.StatusOK, ListUsersResponse{
		Users:          page,
		PaginationMeta: meta,
	})
}

// ListAudit handles GET /audit. Admin only; entries are newest first and may
// be filtered with ?username=.
func (a *API) ListAudit(w http.ResponseWriter, r *http.Request) {
	username := util.NormalizeUsername(r.URL.Query().Get("username"))
	limit, offset := parsePagination(r)
	page, meta, err := a.audit.store.page(r.Context(), username, limit, offset)
	if err != nil {
		a.logger.Error("listing audit entries", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, AuditLogResponse{
		Entries:        page,
		PaginationMeta: meta,
	})
}
