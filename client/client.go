// Package client talks to the JNF Payroll API on behalf of one user. It owns
// the client side of the session: logging in, keeping the bearer token in a
// session store, attaching it to protected calls and dropping it when the
// server rejects it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jmcleod/payrollportal/internal/uuid"
	"github.com/jmcleod/payrollportal/session"
)

const (
	// DefaultBaseURL is the address the demo backend listens on.
	DefaultBaseURL = "http://localhost:5000"
	// DefaultTimeout bounds a single request when the caller's context has
	// no deadline.
	DefaultTimeout = 30 * time.Second

	defaultUserAgent = "payrollportal-client"
	maxResponseSize  = 1 << 20
)

// SessionStore persists the token and user of the current session.
// *session.Store satisfies it.
type SessionStore interface {
	Load(ctx context.Context) (session.Session, bool, error)
	Save(ctx context.Context, sess session.Session) error
	Clear(ctx context.Context) error
}

// Client is safe for concurrent use. Login and Logout are serialized, and
// calls that need the session wait for an in-flight Login to finish.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	timeout    time.Duration
	store      SessionStore
	logger     *slog.Logger
	userAgent  string
	observer   func(from, to State)

	// flight is held exclusively by Login and Logout and shared by every
	// call that reads the session.
	flight sync.RWMutex

	stateMu sync.Mutex
	state   State
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default instrumented HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithLogger sets the logger for request and state-change events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithStateObserver registers fn to be called after every state transition.
// fn must not call back into the Client's Login or Logout.
func WithStateObserver(fn func(from, to State)) Option {
	return func(c *Client) {
		c.observer = fn
	}
}

// New returns a Client for the API at baseURL. The initial state is
// StateAuthenticated when store already holds a complete session.
func New(ctx context.Context, baseURL string, store SessionStore, opts ...Option) (*Client, error) {
	if store == nil {
		return nil, errors.New("client: session store is required")
	}
	u, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		baseURL: u,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		timeout:   DefaultTimeout,
		store:     store,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		userAgent: defaultUserAgent,
		state:     StateAnonymous,
	}
	for _, opt := range opts {
		opt(c)
	}

	_, ok, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("client: loading session: %w", err)
	}
	if ok {
		c.state = StateAuthenticated
	}
	return c, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	if raw == "" {
		raw = DefaultBaseURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("client: invalid base URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("client: base URL %q must be an absolute http(s) URL", raw)
	}
	return u, nil
}

// BaseURL returns the API origin the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Session returns the stored session, waiting for an in-flight Login.
func (c *Client) Session(ctx context.Context) (session.Session, bool, error) {
	c.flight.RLock()
	defer c.flight.RUnlock()
	return c.store.Load(ctx)
}

type operation struct {
	name  string
	retry string
}

var (
	opLogin          = operation{"login", loginRetryMessage}
	opFetchProtected = operation{"fetch protected", fetchRetryMessage}
	opVerifyToken    = operation{"verify token", requestRetryMessage}
	opListUsers      = operation{"list users", requestRetryMessage}
	opCreateUser     = operation{"create user", requestRetryMessage}
	opHealth         = operation{"health", requestRetryMessage}
)

func (op operation) fail(kind Kind, status int, message string, err error) *Error {
	return &Error{Kind: kind, Op: op.name, Status: status, Message: message, Err: err}
}

// networkError, serverError and unexpected all carry the operation's
// generic message.
func (op operation) networkError(err error) *Error {
	return op.fail(KindNetwork, 0, op.retry, err)
}

func (op operation) serverError(resp *response) *Error {
	e := op.fail(KindServer, resp.status, op.retry, nil)
	e.Detail = resp.errorMessage()
	return e
}

func (op operation) unexpected(resp *response, err error) *Error {
	e := op.fail(KindUnexpectedResponse, resp.status, op.retry, err)
	e.Detail = resp.errorMessage()
	return e
}

type request struct {
	method string
	path   string
	query  url.Values
	token  string
	body   any
	// tokenBody sends {"token": <token>} as the body.
	tokenBody bool
}

type response struct {
	status int
	body   []byte
}

func (r *response) ok() bool {
	return r.status >= 200 && r.status < 300
}

// errorMessage returns the "error" field of a JSON error payload, or "".
func (r *response) errorMessage() string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(r.body, &payload); err != nil {
		return ""
	}
	return payload.Error
}

func (r *response) decode(v any) error {
	if err := json.Unmarshal(r.body, v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// do performs a single HTTP exchange. It only fails on transport errors; any
// status code is returned to the caller for classification.
func (c *Client) do(ctx context.Context, op operation, req request) (*response, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	u := c.baseURL.JoinPath(req.path)
	if len(req.query) > 0 {
		u.RawQuery = req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		data, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("%s: encoding request: %w", op.name, err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("%s: building request: %w", op.name, err)
	}
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	requestID := uuid.New()
	httpReq.Header.Set("X-Request-ID", requestID)
	if req.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.token)
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Debug("request failed",
			slog.String("op", op.name),
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
		return nil, op.networkError(err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, op.networkError(err)
	}
	c.logger.Debug("request completed",
		slog.String("op", op.name),
		slog.String("method", req.method),
		slog.String("path", req.path),
		slog.String("request_id", requestID),
		slog.Int("status", httpResp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)
	return &response{status: httpResp.StatusCode, body: data}, nil
}
