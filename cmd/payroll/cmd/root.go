package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmcleod/payrollportal/client"
	"github.com/jmcleod/payrollportal/internal/logging"
	"github.com/jmcleod/payrollportal/internal/telemetry"
)

var (
	cfg      Config
	logger   = logging.Discard()
	shutdown telemetry.ShutdownFunc
)

var rootCmd = &cobra.Command{
	Use:   "payroll",
	Short: "JNF Payroll portal client",
	Long: `Log in to the JNF Payroll API, keep the session between runs and fetch
protected data. The server subcommand runs the demo API itself.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := logging.New(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		logger = l
		cfg.SessionSecret = os.Getenv("PAYROLL_SESSION_SECRET")

		service := "payroll-cli"
		if cmd.Name() == "server" {
			service = "payroll-api"
		}
		shutdown = telemetry.Setup(cmd.Context(), service, logger)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return flushTelemetry()
	},
}

func flushTelemetry() error {
	if shutdown == nil {
		return nil
	}
	err := shutdown(context.Background())
	shutdown = nil
	return err
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	err := rootCmd.ExecuteContext(context.Background())
	flushTelemetry()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", describeError(err))
		os.Exit(1)
	}
}

// describeError prefers the short message of a client error over its full
// chain.
func describeError(err error) string {
	if client.KindOf(err) != 0 {
		return client.UserMessage(err)
	}
	return err.Error()
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&cfg.APIURL, "api-url", firstNonEmpty(os.Getenv("PAYROLL_API_URL"), client.DefaultBaseURL), "Base URL of the payroll API")
	f.StringVar(&cfg.Profile, "profile", firstNonEmpty(os.Getenv("PAYROLL_PROFILE"), "default"), "Session profile; each profile keeps its own login")
	f.StringVar(&cfg.Store, "store", firstNonEmpty(os.Getenv("PAYROLL_STORE"), storeBBolt), "Storage backend: bbolt, memory, redis or postgres")
	f.StringVar(&cfg.DataDir, "data-dir", firstNonEmpty(os.Getenv("PAYROLL_DATA_DIR"), defaultDataDir()), "Directory for bbolt files")
	f.StringVar(&cfg.RedisURL, "redis-url", os.Getenv("PAYROLL_REDIS_URL"), "Redis URL for --store redis")
	f.StringVar(&cfg.PostgresDSN, "postgres-dsn", os.Getenv("PAYROLL_POSTGRES_DSN"), "Postgres DSN for --store postgres")
	f.DurationVar(&cfg.Timeout, "timeout", readDuration("PAYROLL_TIMEOUT", client.DefaultTimeout), "Per-request timeout")
	f.StringVar(&cfg.LogLevel, "log-level", firstNonEmpty(os.Getenv("PAYROLL_LOG_LEVEL"), "warn"), "Log level: debug, info, warn or error")
	f.StringVar(&cfg.LogFormat, "log-format", firstNonEmpty(os.Getenv("PAYROLL_LOG_FORMAT"), logging.FormatText), "Log format: text or json")
}
