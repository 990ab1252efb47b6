// Command starsctl administers a stars installation: database migrations,
// seeding, ledger queries, one-off exports and Google Sheets authorisation.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"stars/internal/backend"
	"stars/internal/cli"
	"stars/internal/config"
	"stars/internal/engine"
	"stars/internal/log"
)

var (
	cfg    *config.Config
	logger *log.Logger
)

var rootCmd = &cobra.Command{
	Use:   "starsctl",
	Short: "Administer the stars ledger",
	Long: `starsctl works directly against the configured data backend.
It reads the same environment (and .env file) as the server, so
DATA_BACKEND, SQLITE_DB_PATH and DATABASE_URL select the database.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// setup loads configuration and logs to stderr so command output stays
// machine readable.
func setup(cmd *cobra.Command, _ []string) error {
	cli.LoadEnvFile()
	var err error
	if cfg, err = config.Load(); err != nil {
		return err
	}
	if backendFlag, _ := cmd.Flags().GetString("backend"); backendFlag != "" {
		cfg.DataBackend = backendFlag
	}
	logger = log.New(log.Config{
		Component: log.ComponentCLI,
		Level:     cli.ParseLevel(cfg.LogLevel),
		Format:    cfg.LogFormat,
		Writer:    cmd.ErrOrStderr(),
	})
	log.SetDefault(logger)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().String("backend", "", "Override DATA_BACKEND (memory, sqlite, postgres)")
}

// backendConfig returns the backend settings without the ledger relay;
// starsctl never publishes.
func backendConfig() (backend.Config, error) {
	bc, err := backend.FromAppConfig(cfg)
	if err != nil {
		return backend.Config{}, err
	}
	bc.AMQPURL = ""
	return bc, nil
}

func openBackend(ctx context.Context) (*backend.BackendResult, error) {
	bc, err := backendConfig()
	if err != nil {
		return nil, err
	}
	return backend.NewFactory(logger).CreateBackend(ctx, bc)
}

// withEngine opens the backend, runs fn and releases the backend.
func withEngine(ctx context.Context, fn func(*engine.Engine) error) (err error) {
	res, err := openBackend(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, res.Cleanup())
	}()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	return fn(engine.New(res.Backend, engine.WithLocation(loc)))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseTime accepts RFC 3339 timestamps or YYYY-MM-DD dates, the latter at
// midnight in the report timezone. Empty input yields the zero time.
func parseTime(flag, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	loc, err := cfg.Location()
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.ParseInLocation(time.DateOnly, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: want RFC 3339 or YYYY-MM-DD, got %q", flag, value)
	}
	return t, nil
}
