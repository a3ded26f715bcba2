// Package api is a Go rendition of the JNF Payroll demo backend. It issues
// HS256 bearer tokens for the users it stores and serves the protected
// resource the payroll client fetches.
package api

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-openapi/runtime/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jmcleod/payrollportal/internal/util"
	"github.com/jmcleod/payrollportal/storage"
)

// DefaultAllowedOrigins are the development frontends the backend accepts
// cross-origin requests from.
var DefaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://127.0.0.1:3000",
	"http://localhost:5000",
	"http://127.0.0.1:5000",
}

// API holds the dependencies needed by the REST handlers.
type API struct {
	users       *UserRepository
	tokens      *tokenIssuer
	rateLimiter *loginRateLimiter
	audit       *auditLogger
	logger      *slog.Logger

	environment    string
	allowedOrigins []string
	tokenTTL       time.Duration
	passwordParams util.Argon2idParams
	seedDemoUsers  bool
	webhookURL     string
	webhookAuth    string
	alertFn        AlertFunc
	auditRetention int

	stopSweep chan struct{}
	closeOnce sync.Once
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for request and audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithTokenTTL overrides the 24 hour token lifetime.
func WithTokenTTL(ttl time.Duration) Option {
	return func(a *API) {
		if ttl > 0 {
			a.tokenTTL = ttl
		}
	}
}

// WithEnvironment sets the environment name reported by /protected.
func WithEnvironment(env string) Option {
	return func(a *API) {
		if env != "" {
			a.environment = env
		}
	}
}

// WithAllowedOrigins replaces DefaultAllowedOrigins for CORS.
func WithAllowedOrigins(origins []string) Option {
	return func(a *API) {
		if len(origins) > 0 {
			a.allowedOrigins = origins
		}
	}
}

// WithPasswordParams sets the Argon2id cost used for new password hashes.
func WithPasswordParams(p util.Argon2idParams) Option {
	return func(a *API) {
		a.passwordParams = p
	}
}

// WithoutDemoUsers skips seeding the admin and demo accounts.
func WithoutDemoUsers() Option {
	return func(a *API) {
		a.seedDemoUsers = false
	}
}

// WithAuditWebhook forwards every audit event to url. authHeader, when set,
// is sent as a "Name: value" header.
func WithAuditWebhook(url, authHeader string) Option {
	return func(a *API) {
		a.webhookURL = url
		a.webhookAuth = authHeader
	}
}

// WithAuditRetention caps how many audit entries are kept. Zero or less keeps
// DefaultAuditRetention.
func WithAuditRetention(n int) Option {
	return func(a *API) {
		a.auditRetention = n
	}
}

// WithAlertFunc registers a callback for login-failure spikes.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		a.alertFn = fn
	}
}

// New creates an API whose accounts live in repo and whose tokens are signed
// with secret. The demo accounts are created unless WithoutDemoUsers is given.
func New(ctx context.Context, repo storage.Repository, secret []byte, opts ...Option) (*API, error) {
	a := &API{
		rateLimiter:    newLoginRateLimiter(),
		environment:    "Development",
		allowedOrigins: DefaultAllowedOrigins,
		tokenTTL:       DefaultTokenTTL,
		passwordParams: util.DefaultArgon2idParams(),
		seedDemoUsers:  true,
		stopSweep:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}

	tokens, err := newTokenIssuer(secret, a.tokenTTL)
	if err != nil {
		return nil, err
	}
	a.tokens = tokens

	a.users, err = NewUserRepository(repo, a.passwordParams)
	if err != nil {
		return nil, err
	}
	if a.seedDemoUsers {
		if err := a.users.SeedDemoUsers(ctx); err != nil {
			return nil, fmt.Errorf("seeding demo users: %w", err)
		}
	}

	a.audit = newAuditLogger(a.logger)
	a.audit.store = newAuditStore(repo, a.auditRetention)
	if a.alertFn != nil {
		a.audit.metrics = newMetricsCollector(a.alertFn)
	}
	if a.webhookURL != "" {
		a.audit.webhook = newAuditWebhook(a.webhookURL, a.webhookAuth)
	}

	go a.sweepLoop()
	return a, nil
}

// Close stops background work and flushes pending webhook deliveries.
func (a *API) Close() {
	a.closeOnce.Do(func() {
		close(a.stopSweep)
		if a.audit != nil && a.audit.webhook != nil {
			a.audit.webhook.close()
		}
	})
}

func (a *API) sweepLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.sweep()
		case <-a.stopSweep:
			return
		}
	}
}

// sweep drops expired rate-limit records and prunes the audit log.
func (a *API) sweep() {
	a.rateLimiter.sweep()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	removed, err := a.audit.store.prune(ctx)
	if err != nil {
		a.logger.Warn("pruning audit log", "error", err)
		return
	}
	if removed > 0 {
		a.logger.Info("pruned audit log", "removed", removed)
	}
}

// Router returns a chi.Router with all API routes mounted. Paths are
// relative to the /api prefix.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/openapi.yaml",
		Path:    "api/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/openapi.yaml",
		Path:    "api/redoc",
	}, nil))

	r.Get("/health", a.Health)
	r.Post("/login", a.Login)
	r.Post("/verify-token", a.VerifyToken)
	r.Post("/users", a.CreateUser)

	r.Group(func(r chi.Router) {
		r.Use(a.RequireToken)
		r.Get("/protected", a.Protected)
		r.With(requireAdmin).Get("/users", a.ListUsers)
		r.With(requireAdmin).Get("/audit", a.ListAudit)
	})

	return r
}

// Handler returns the complete HTTP handler: the router mounted under /api
// behind request logging, panic recovery, security headers, CORS and
// OpenTelemetry instrumentation.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(a.requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Retry-After", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Mount("/api", a.Router())
	return otelhttp.NewHandler(r, "payroll-api")
}
