package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"stars/internal/backend"
	gsheet "stars/internal/sheets/google"
	"stars/internal/store/memory"
	"stars/internal/store/sqlstore"
	"stars/internal/worker"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(exportCmd)

	seedCmd.Flags().StringP("file", "f", "", "Seed file (defaults to SEED_FILE; the demo household when unset)")
	exportCmd.Flags().Int("limit", 0, "Maximum records to export (defaults to EXPORT_BATCH_SIZE)")
}

var errNotDurable = errors.New("this command needs a durable backend (sqlite or postgres)")

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		bc, err := backendConfig()
		if err != nil {
			return err
		}

		var dialect sqlstore.Dialect
		var dsn string
		switch bc.Type {
		case backend.SQLiteBackend:
			dialect, dsn = sqlstore.SQLite, sqlstore.SQLiteDSN(bc.SQLiteDBPath)
		case backend.PostgresBackend:
			dialect, dsn = sqlstore.Postgres, bc.DatabaseURL
		default:
			return errNotDurable
		}

		if err := sqlstore.Migrate(dialect, dsn); err != nil {
			return err
		}
		logger.Info("Migrations applied", "backend", bc.Type.String())
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert the children, templates and rewards of a seed file",
	Long: `seed inserts every entity of the seed file that is not in the database
yet. Existing rows are left untouched, so seeding twice is harmless.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) (err error) {
		bc, err := backendConfig()
		if err != nil {
			return err
		}
		if !bc.Type.Durable() {
			return errNotDurable
		}

		path, _ := cmd.Flags().GetString("file")
		if path == "" {
			path = cfg.SeedFile
		}
		seed := memory.DefaultSeed()
		if path != "" {
			loaded, err := memory.LoadSeed(path)
			switch {
			case err == nil:
				seed = loaded
			case errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("file"):
				logger.Info("Seed file not found, using the demo household", "seed_file", path)
			default:
				return err
			}
		}
		res, err := backend.NewFactory(logger).CreateBackend(cmd.Context(), bc)
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, res.Cleanup())
		}()

		if err := seed.Apply(cmd.Context(), res.Backend); err != nil {
			return err
		}
		logger.Info("Seed applied",
			"children", len(seed.Children),
			"templates", len(seed.Templates),
			"rewards", len(seed.Rewards))
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export pending ledger records to Google Sheets once",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) (err error) {
		if !cfg.SheetsConfigured() {
			return errors.New("GOOGLE_SPREADSHEET_ID is not set")
		}
		limit, _ := cmd.Flags().GetInt("limit")
		if limit <= 0 {
			limit = cfg.ExportBatchSize
		}

		bc, err := backendConfig()
		if err != nil {
			return err
		}
		if !bc.Type.Durable() {
			return errNotDurable
		}
		res, err := backend.NewFactory(logger).CreateBackend(cmd.Context(), bc)
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, res.Cleanup())
		}()

		writer, err := gsheet.NewFromConfig(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("google sheets: %w", err)
		}
		return worker.NewExportWorker(res.Backend, res.Backend, writer, limit).ProcessPending(cmd.Context())
	},
}
