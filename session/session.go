// Package session persists the authenticated identity of a payroll client:
// the bearer token and the user record returned by a successful login.
package session

import "errors"

const (
	// TokenKey holds the bearer token.
	TokenKey = "authToken"
	// UserKey holds the JSON-encoded User.
	UserKey = "userData"
	// DefaultNamespace is the profile used when none is configured.
	DefaultNamespace = "default"

	RoleAdmin = "admin"
	RoleUser  = "user"
)

// ErrIncomplete is returned by Save when a session lacks a token or a username.
var ErrIncomplete = errors.New("session requires a token and a username")

// User is the identity the server attached to a token.
type User struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

// IsAdmin reports whether the user holds the admin role.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Session pairs a bearer token with the user it was issued to.
type Session struct {
	User  User   `json:"user"`
	Token string `json:"token"`
}

// Valid reports whether both halves of the session are present.
func (s Session) Valid() bool {
	return s.Token != "" && s.User.Username != ""
}
