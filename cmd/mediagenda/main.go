package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"mediagenda/internal/config"
	"mediagenda/internal/db"
)

type rootOptions struct {
	configPath string
	clinicPath string
	envFile    string
}

func main() {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "mediagenda",
		Short:         "Clinic appointment booking service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			// A missing .env is fine; real environment variables still apply.
			_ = godotenv.Load(opts.envFile)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", envOr("MEDIAGENDA_CONFIG", "configs/config.yaml"), "path to config.yaml")
	rootCmd.PersistentFlags().StringVar(&opts.clinicPath, "clinic", envOr("MEDIAGENDA_CLINIC", "configs/clinic.yaml"), "path to clinic.yaml")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config")

	rootCmd.AddCommand(serveCmd(opts))
	rootCmd.AddCommand(syncClinicCmd(opts))
	rootCmd.AddCommand(backupCmd(opts))
	rootCmd.AddCommand(exportCmd(opts))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil || cfg.Log.Level == "" {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Log.Pretty {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		logger = zerolog.New(output)
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

// bootstrap loads the config and opens the database shared by every subcommand.
func bootstrap(opts *rootOptions) (*config.Config, *db.DB, zerolog.Logger, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)

	database, err := db.Open(cfg.Database.Path, &logger)
	if err != nil {
		return nil, nil, logger, fmt.Errorf("open db: %w", err)
	}
	return cfg, database, logger, nil
}

func syncClinicCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-clinic",
		Short: "Apply clinic.yaml doctors and working hours to the database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, database, logger, err := bootstrap(opts)
			if err != nil {
				return err
			}
			defer database.Close()

			clinic, err := config.LoadClinicConfig(opts.clinicPath)
			if err != nil {
				return fmt.Errorf("load clinic config: %w", err)
			}
			if err := database.SyncClinic(cmd.Context(), clinic); err != nil {
				return err
			}
			logger.Info().Int("doctors", len(clinic.Doctors)).Msg("clinic synced")
			return nil
		},
	}
}

func backupCmd(opts *rootOptions) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the database once and prune old backups",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, database, logger, err := bootstrap(opts)
			if err != nil {
				return err
			}
			defer database.Close()

			if dir == "" {
				dir = cfg.BackupDir()
			}
			svc := db.NewBackupService(database, db.BackupConfig{
				Enabled:   true,
				Dir:       dir,
				Interval:  cfg.BackupInterval(),
				Retention: cfg.BackupRetention(),
			}, &logger)

			path, err := svc.PerformBackup(cmd.Context())
			if err != nil {
				return err
			}
			removed := svc.CleanupOldBackups(time.Now())
			logger.Info().Str("path", path).Int("pruned", removed).Msg("backup written")
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "backup directory (defaults to backup.path)")
	return cmd
}
