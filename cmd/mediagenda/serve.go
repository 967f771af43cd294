package main

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"mediagenda/internal/api"
	"mediagenda/internal/booking"
	"mediagenda/internal/cache"
	"mediagenda/internal/config"
	"mediagenda/internal/db"
	"mediagenda/internal/events"
	"mediagenda/internal/google"
	"mediagenda/internal/health"
	"mediagenda/internal/metrics"
	"mediagenda/internal/notify"
	"mediagenda/internal/report"
	"mediagenda/shared/reminders"
)

// clinicHolidays serves the holiday list of the most recently loaded clinic.yaml.
type clinicHolidays struct {
	cfg atomic.Pointer[config.ClinicConfig]
}

func (h *clinicHolidays) IsHoliday(date time.Time) (bool, string) {
	c := h.cfg.Load()
	if c == nil {
		return false, ""
	}
	return c.IsHoliday(date)
}

func serveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with reminders, notifications and background jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, database, logger, err := bootstrap(opts)
			if err != nil {
				return err
			}
			defer database.Close()
			return serve(cmd.Context(), cfg, database, opts.clinicPath, &logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, database *db.DB, clinicPath string, logger *zerolog.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("booking.timezone: %w", err)
	}

	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
	}
	doctors := cache.NewDoctorCache(database, rdb, cfg.CacheTTL(), logger)

	holidays := &clinicHolidays{}
	err = config.WatchClinic(ctx, clinicPath, 30*time.Second, logger, func(clinic *config.ClinicConfig) {
		if err := database.SyncClinic(ctx, clinic); err != nil {
			logger.Error().Err(err).Msg("failed to sync clinic config")
			return
		}
		invalidateDoctors(ctx, database, doctors, logger)
		holidays.cfg.Store(clinic)
		logger.Info().Int("doctors", len(clinic.Doctors)).Int("holidays", len(clinic.Holidays)).Msg("clinic config applied")
	})
	if err != nil {
		return fmt.Errorf("load clinic config: %w", err)
	}

	bus := events.NewEventBus(logger)
	bookingSvc := booking.NewService(database, doctors, bus, holidays, booking.Options{
		DefaultSlotMinutes: cfg.DefaultSlotMinutes(),
		MinAdvance:         cfg.BookingMinAdvance(),
		MaxAdvance:         cfg.BookingMaxAdvance(),
		Location:           loc,
	}, logger)
	reports := report.NewService(database, loc)

	if cfg.Telegram.BotToken != "" {
		if err := startTelegram(ctx, cfg, database, bus, loc, logger); err != nil {
			return err
		}
	} else {
		logger.Warn().Msg("telegram.bot_token is empty; notifications and reminders are disabled")
	}

	if cfg.Google.Enabled {
		client, err := google.NewSheetsClient(ctx, cfg.Google.CredentialsFile, cfg.Google.SpreadsheetID)
		if err != nil {
			return err
		}
		google.NewAgendaSync(database, client, loc, logger).Subscribe(bus)
		logger.Info().Str("spreadsheet", cfg.Google.SpreadsheetID).Msg("google sheets agenda enabled")
	}

	backups := db.NewBackupService(database, db.BackupConfig{
		Enabled:   cfg.Backup.Enabled,
		Dir:       cfg.BackupDir(),
		Interval:  cfg.BackupInterval(),
		Retention: cfg.BackupRetention(),
	}, logger)
	go backups.Start(ctx)

	checker := health.NewChecker(database, rdb)
	healthPort := cfg.Monitoring.HealthCheckPort
	if healthPort == 0 {
		healthPort = 8090
	}
	go func() {
		srv := &http.Server{Addr: fmt.Sprintf(":%d", healthPort), Handler: health.Handler(checker), ReadHeaderTimeout: 5 * time.Second}
		if err := health.Serve(ctx, srv, 3*time.Second, logger); err != nil {
			logger.Error().Err(err).Msg("health server error")
		}
	}()

	if cfg.Monitoring.GRPCHealthPort > 0 {
		go func() {
			if err := health.ServeGRPC(ctx, cfg.Monitoring.GRPCHealthPort, checker, 10*time.Second, logger); err != nil {
				logger.Error().Err(err).Msg("grpc health server error")
			}
		}()
	}

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		port := cfg.Monitoring.PrometheusPort
		if port == 0 {
			port = 9090
		}
		go func() {
			srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: health.MetricsHandler(), ReadHeaderTimeout: 5 * time.Second}
			if err := health.Serve(ctx, srv, 3*time.Second, logger); err != nil {
				logger.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	rps, burst := cfg.RateLimit()
	apiServer := api.NewServer(bookingSvc, reports, api.Options{
		APIKey:         cfg.Server.APIKey,
		RateLimitRPS:   rps,
		RateLimitBurst: burst,
		TrustProxy:     cfg.Server.TrustProxy,
	}, logger)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort()),
		Handler:      apiServer.Router(),
		ReadTimeout:  cfg.ReadTimeout(),
		WriteTimeout: cfg.WriteTimeout(),
	}

	logger.Info().Str("timezone", loc.String()).Msg("mediagenda started")
	return health.Serve(ctx, srv, cfg.ShutdownTimeout(), logger)
}

// startTelegram wires staff notifications, patient reminders and the monthly audit export.
func startTelegram(ctx context.Context, cfg *config.Config, database *db.DB, bus *events.EventBus, loc *time.Location, logger *zerolog.Logger) error {
	bot, err := notify.NewBotAPI(cfg.Telegram.BotToken, cfg.Telegram.Debug)
	if err != nil {
		return err
	}
	notifier := notify.NewNotifier(bot, cfg.Telegram.StaffChatID, loc, logger)
	notifier.Subscribe(bus)

	if cfg.Reminders.Enabled {
		rcfg := reminders.DefaultConfig()
		rcfg.Window = cfg.ReminderWindow()
		rcfg.CheckInterval = cfg.ReminderInterval()
		if cfg.Reminders.Workers > 0 {
			rcfg.Workers = cfg.Reminders.Workers
		}
		if cfg.Reminders.PerSecond > 0 {
			rcfg.PerSecond = float64(cfg.Reminders.PerSecond)
		}

		rm := reminders.NewMetrics("mediagenda")
		if cfg.Monitoring.PrometheusEnabled {
			rm.MustRegister(prometheus.DefaultRegisterer)
		}
		classify := reminders.ErrorClassifier{RetryAfter: notify.RetryAfter, Permanent: notify.Permanent}
		go reminders.NewService(rcfg, database, notifier, classify, rm, logger).Run(ctx)
	}

	if cfg.Telegram.StaffChatID != 0 {
		go report.NewAuditor(database, notifier, loc, logger).Run(ctx)
	}

	logger.Info().Str("bot", bot.Self.UserName).Msg("telegram connected")
	return nil
}

func invalidateDoctors(ctx context.Context, database *db.DB, doctors *cache.DoctorCache, logger *zerolog.Logger) {
	list, err := database.ListDoctors(ctx, false)
	if err != nil {
		logger.Warn().Err(err).Msg("could not list doctors for cache invalidation")
		return
	}
	for _, d := range list {
		doctors.Invalidate(ctx, d.ID)
	}
}
