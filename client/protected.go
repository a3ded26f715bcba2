package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/jmcleod/payrollportal/session"
)

// FetchProtected returns the protected endpoint's JSON body unmodified.
// Without a stored session it fails with KindUnauthenticated and sends
// nothing. A 401 clears the session store.
func (c *Client) FetchProtected(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.doAuthorized(ctx, opFetchProtected, request{
		method: http.MethodGet,
		path:   "/api/protected",
	}, func(_ session.Session, resp *response) error {
		if !json.Valid(resp.body) {
			return opFetchProtected.unexpected(resp, errors.New("response is not valid JSON"))
		}
		out = json.RawMessage(resp.body)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type verifyResponse struct {
	Valid bool          `json:"valid"`
	User  *session.User `json:"user"`
}

// VerifyToken asks the server whether the stored token is still valid and
// returns the user it belongs to. The stored user record is refreshed when
// the server reports different details.
func (c *Client) VerifyToken(ctx context.Context) (session.User, error) {
	var user session.User
	err := c.doAuthorized(ctx, opVerifyToken, request{
		method:    http.MethodPost,
		path:      "/api/verify-token",
		tokenBody: true,
	}, func(sess session.Session, resp *response) error {
		var body verifyResponse
		if err := resp.decode(&body); err != nil {
			return opVerifyToken.unexpected(resp, err)
		}
		if !body.Valid || body.User == nil || body.User.Username == "" {
			return opVerifyToken.unexpected(resp, errors.New("response lacks user"))
		}
		user = *body.User
		if user == sess.User {
			return nil
		}
		sess.User = user
		if err := c.store.Save(ctx, sess); err != nil {
			return fmt.Errorf("%s: %w", opVerifyToken.name, err)
		}
		return nil
	})
	if err != nil {
		return session.User{}, err
	}
	return user, nil
}

// Page selects a window of a paginated listing. Zero values use the
// server's defaults.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) query() url.Values {
	q := url.Values{}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.Offset > 0 {
		q.Set("offset", strconv.Itoa(p.Offset))
	}
	return q
}

// UserList is one page of registered users.
type UserList struct {
	Users      []session.User `json:"users"`
	TotalCount int            `json:"total_count"`
	Limit      int            `json:"limit"`
	Offset     int            `json:"offset"`
	HasMore    bool           `json:"has_more"`
}

// ListUsers returns a page of registered users. The server only allows this
// for admins and answers KindForbidden otherwise.
func (c *Client) ListUsers(ctx context.Context, page Page) (UserList, error) {
	var list UserList
	err := c.doAuthorized(ctx, opListUsers, request{
		method: http.MethodGet,
		path:   "/api/users",
		query:  page.query(),
	}, func(_ session.Session, resp *response) error {
		if err := resp.decode(&list); err != nil {
			return opListUsers.unexpected(resp, err)
		}
		return nil
	})
	if err != nil {
		return UserList{}, err
	}
	return list, nil
}

// doAuthorized performs req with the stored bearer token and classifies
// every non-2xx status. handle runs only for a 2xx response, still under the
// shared flight lock so a concurrent Login cannot replace the session.
func (c *Client) doAuthorized(ctx context.Context, op operation, req request, handle func(session.Session, *response) error) error {
	c.flight.RLock()
	defer c.flight.RUnlock()

	sess, ok, err := c.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op.name, err)
	}
	if !ok {
		c.setState(StateAnonymous)
		return op.fail(KindUnauthenticated, 0, loginRequired, nil)
	}

	req.token = sess.Token
	if req.tokenBody {
		req.body = map[string]string{"token": sess.Token}
	}

	resp, err := c.do(ctx, op, req)
	if err != nil {
		return err
	}

	switch {
	case resp.ok():
		c.setState(StateAuthenticated)
		return handle(sess, resp)
	case resp.status == http.StatusUnauthorized:
		return c.invalidate(ctx, op, resp)
	case resp.status == http.StatusForbidden:
		msg := resp.errorMessage()
		if msg == "" {
			msg = accessDenied
		}
		return op.fail(KindForbidden, resp.status, msg, nil)
	case resp.status >= 500:
		return op.serverError(resp)
	default:
		return op.unexpected(resp, nil)
	}
}

// invalidate clears the session after the server rejected its token. The
// returned error is always KindUnauthorized; a failure to clear the store is
// attached as its cause.
func (c *Client) invalidate(ctx context.Context, op operation, resp *response) error {
	msg := resp.errorMessage()
	if msg == "" {
		msg = sessionExpired
	}
	e := op.fail(KindUnauthorized, resp.status, msg, nil)

	if err := c.store.Clear(ctx); err != nil {
		e.Err = err
		c.logger.Error("failed to clear rejected session",
			slog.String("op", op.name),
			slog.Any("error", err),
		)
	}
	c.setState(StateAnonymous)
	c.logger.Info("session rejected by server", slog.String("op", op.name))
	return e
}
