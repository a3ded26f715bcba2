package client

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/jmcleod/payrollportal/internal/util"
	"github.com/jmcleod/payrollportal/session"
)

const newUserRequired = "Username, password, and email are required"

// NewUser is a registration request.
type NewUser struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
	Role     string `json:"role,omitempty"`
}

type createUserResponse struct {
	Success bool          `json:"success"`
	User    *session.User `json:"user"`
}

// CreateUser registers a new account. It does not log the new user in.
// Missing fields and server-side rejections such as a duplicate username
// fail with KindValidation.
func (c *Client) CreateUser(ctx context.Context, u NewUser) (session.User, error) {
	u.Username = util.NormalizeUsername(u.Username)
	u.Email = strings.TrimSpace(u.Email)
	if u.Username == "" || u.Password == "" || u.Email == "" {
		return session.User{}, opCreateUser.fail(KindValidation, 0, newUserRequired, nil)
	}

	resp, err := c.do(ctx, opCreateUser, request{
		method: http.MethodPost,
		path:   "/api/users",
		body:   u,
	})
	if err != nil {
		return session.User{}, err
	}

	switch {
	case resp.status >= 500:
		return session.User{}, opCreateUser.serverError(resp)
	case resp.status >= 400:
		if msg := resp.errorMessage(); msg != "" {
			return session.User{}, opCreateUser.fail(KindValidation, resp.status, msg, nil)
		}
		return session.User{}, opCreateUser.unexpected(resp, nil)
	case !resp.ok():
		return session.User{}, opCreateUser.unexpected(resp, nil)
	}

	var body createUserResponse
	if err := resp.decode(&body); err != nil {
		return session.User{}, opCreateUser.unexpected(resp, err)
	}
	if !body.Success || body.User == nil || body.User.Username == "" {
		return session.User{}, opCreateUser.unexpected(resp, errors.New("response lacks user"))
	}
	return *body.User, nil
}

// HealthStatus is the API's self-reported status.
type HealthStatus struct {
	Status       string `json:"status"`
	Message      string `json:"message"`
	Architecture string `json:"architecture"`
	Timestamp    string `json:"timestamp"`
}

// Healthy reports whether the API described itself as healthy.
func (h HealthStatus) Healthy() bool {
	return h.Status == "healthy"
}

// Health queries the unauthenticated health endpoint.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	resp, err := c.do(ctx, opHealth, request{
		method: http.MethodGet,
		path:   "/api/health",
	})
	if err != nil {
		return HealthStatus{}, err
	}
	if resp.status >= 500 {
		return HealthStatus{}, opHealth.serverError(resp)
	}
	if !resp.ok() {
		return HealthStatus{}, opHealth.unexpected(resp, nil)
	}
	var h HealthStatus
	if err := resp.decode(&h); err != nil {
		return HealthStatus{}, opHealth.unexpected(resp, err)
	}
	return h, nil
}
