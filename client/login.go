package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jmcleod/payrollportal/session"
)

type loginResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Token   string        `json:"token"`
	User    *session.User `json:"user"`
	Error   string        `json:"error"`
}

// Login exchanges creds for a session and stores it. Empty fields fail with
// KindValidation before any request is made. On failure the session store is
// left as it was.
func (c *Client) Login(ctx context.Context, creds Credentials) (session.Session, error) {
	creds = creds.Normalize()
	if err := creds.Validate(); err != nil {
		return session.Session{}, err
	}

	c.flight.Lock()
	defer c.flight.Unlock()

	prev := c.State()
	c.setState(StateAuthenticating)

	sess, err := c.login(ctx, creds)
	if err == nil {
		if saveErr := c.store.Save(ctx, sess); saveErr != nil {
			err = fmt.Errorf("login: %w", saveErr)
		}
	}
	if err != nil {
		c.setState(prev)
		c.logger.Info("login failed",
			slog.String("username", creds.Username),
			slog.Any("error", err),
		)
		return session.Session{}, err
	}

	c.setState(StateAuthenticated)
	c.logger.Info("login succeeded",
		slog.String("username", sess.User.Username),
		slog.String("role", sess.User.Role),
	)
	return sess, nil
}

func (c *Client) login(ctx context.Context, creds Credentials) (session.Session, error) {
	resp, err := c.do(ctx, opLogin, request{
		method: http.MethodPost,
		path:   "/api/login",
		body:   creds,
	})
	if err != nil {
		return session.Session{}, err
	}

	switch {
	case resp.status >= 500:
		return session.Session{}, opLogin.serverError(resp)
	case resp.status >= 400:
		if msg := resp.errorMessage(); msg != "" {
			return session.Session{}, opLogin.fail(KindInvalidCredentials, resp.status, msg, nil)
		}
		return session.Session{}, opLogin.unexpected(resp, nil)
	case !resp.ok():
		return session.Session{}, opLogin.unexpected(resp, nil)
	}

	var body loginResponse
	if err := resp.decode(&body); err != nil {
		return session.Session{}, opLogin.unexpected(resp, err)
	}
	if !body.Success {
		if body.Error != "" {
			return session.Session{}, opLogin.fail(KindInvalidCredentials, resp.status, body.Error, nil)
		}
		return session.Session{}, opLogin.unexpected(resp, errors.New("success flag not set"))
	}
	sess := session.Session{Token: body.Token}
	if body.User != nil {
		sess.User = *body.User
	}
	if !sess.Valid() {
		return session.Session{}, opLogin.unexpected(resp, errors.New("response lacks token or user"))
	}
	return sess, nil
}

// Logout discards the stored session. It does not contact the server and is
// safe to call when no session exists.
func (c *Client) Logout(ctx context.Context) error {
	c.flight.Lock()
	defer c.flight.Unlock()

	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	c.setState(StateAnonymous)
	return nil
}
