package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/payrollportal/api"
	"github.com/jmcleod/payrollportal/internal/util"
	"github.com/jmcleod/payrollportal/storage"
)

var (
	port           int
	environment    string
	tokenTTL       time.Duration
	webhookURL     string
	webhookAuth    string
	auditRetention int
	allowedOrigins []string
	noDemoUsers    bool
	tlsCert        string
	tlsKey         string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the payroll demo API",
	Long: `Serves the payroll API under /api. Accounts live in the store chosen by
--store (server.db in --data-dir for bbolt). Tokens are signed with
PAYROLL_JWT_SECRET; without it an ephemeral secret is generated and tokens do
not survive a restart.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		repo, closeRepo, err := openRepository(ctx, cfg, serverFile)
		if err != nil {
			return err
		}
		defer closeRepo()

		a, err := newServerAPI(ctx, repo)
		if err != nil {
			return err
		}
		defer a.Close()

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           a.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		useTLS := tlsCert != "" && tlsKey != ""
		if useTLS {
			cert, err := tls.LoadX509KeyPair(tlsCert, tlsKey)
			if err != nil {
				return fmt.Errorf("failed to load TLS key pair: %w", err)
			}
			server.TLSConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			var err error
			if useTLS {
				err = server.ListenAndServeTLS("", "")
			} else {
				err = server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		out := cmd.OutOrStdout()
		printBanner(out)
		fmt.Fprintf(out, "Starting server on port %d (store: %s)...\n", port, cfg.Store)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

// newServerAPI builds the API from the server flags.
func newServerAPI(ctx context.Context, repo storage.Repository) (*api.API, error) {
	secret := []byte(os.Getenv("PAYROLL_JWT_SECRET"))
	if len(secret) == 0 {
		b, err := util.RandomBytes(32)
		if err != nil {
			return nil, err
		}
		secret = b
		logger.Warn("PAYROLL_JWT_SECRET is not set; using an ephemeral signing secret")
	}

	opts := []api.Option{
		api.WithLogger(logger),
		api.WithEnvironment(environment),
		api.WithTokenTTL(tokenTTL),
		api.WithAllowedOrigins(allowedOrigins),
		api.WithAuditRetention(auditRetention),
		api.WithAlertFunc(func(e api.AlertEvent) {
			logger.Warn("security alert", "type", e.Type, "count", e.Count, "threshold", e.Threshold)
		}),
	}
	if webhookURL != "" {
		opts = append(opts, api.WithAuditWebhook(webhookURL, webhookAuth))
	}
	if noDemoUsers {
		opts = append(opts, api.WithoutDemoUsers())
	}
	return api.New(ctx, repo, secret, opts...)
}

func init() {
	rootCmd.AddCommand(serverCmd)
	f := serverCmd.Flags()
	f.IntVarP(&port, "port", "p", readInt("PAYROLL_PORT", 5000), "Port to listen on")
	f.StringVar(&environment, "environment", firstNonEmpty(os.Getenv("PAYROLL_ENVIRONMENT"), "Development"), "Environment name reported by /api/protected")
	f.DurationVar(&tokenTTL, "token-ttl", readDuration("PAYROLL_TOKEN_TTL", api.DefaultTokenTTL), "Lifetime of issued tokens")
	f.StringVar(&webhookURL, "audit-webhook-url", os.Getenv("PAYROLL_AUDIT_WEBHOOK_URL"), "POST audit events to this URL")
	f.IntVar(&auditRetention, "audit-retention", readInt("PAYROLL_AUDIT_RETENTION", api.DefaultAuditRetention), "Number of audit entries kept before the oldest are pruned")
	f.StringVar(&webhookAuth, "audit-webhook-auth", os.Getenv("PAYROLL_AUDIT_WEBHOOK_AUTH"), `Header sent with webhook calls, e.g. "Authorization: Bearer xyz"`)
	f.StringSliceVar(&allowedOrigins, "allowed-origins", api.DefaultAllowedOrigins, "CORS origins")
	f.BoolVar(&noDemoUsers, "no-demo-users", false, "Do not create the admin and demo accounts")
	f.StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	f.StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
}
