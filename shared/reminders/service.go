// Package reminders periodically notifies patients about upcoming appointments.
package reminders

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"mediagenda/internal/model"
)

// Config holds configuration for the reminder service.
type Config struct {
	// CheckInterval is how often to look for due reminders. Default: 15 minutes.
	CheckInterval time.Duration

	// Window is how long before the appointment the reminder goes out. Default: 24h.
	Window time.Duration

	// Workers limits parallel sends. Default: 4.
	Workers int

	// PerSecond and Burst throttle outgoing messages. Default: 20/s, burst 5.
	PerSecond float64
	Burst     int

	// MaxRetries bounds delivery attempts after the first. Default: 3.
	MaxRetries  int
	RetryDelays []time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		CheckInterval: 15 * time.Minute,
		Window:        24 * time.Hour,
		Workers:       4,
		PerSecond:     20,
		Burst:         5,
		MaxRetries:    3,
		RetryDelays:   []time.Duration{time.Second, 5 * time.Second, 30 * time.Second},
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.CheckInterval <= 0 {
		c.CheckInterval = d.CheckInterval
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.PerSecond <= 0 {
		c.PerSecond = d.PerSecond
	}
	if c.Burst <= 0 {
		c.Burst = d.Burst
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if len(c.RetryDelays) == 0 {
		c.RetryDelays = d.RetryDelays
	}
}

// Service sends reminders for holding appointments entering the reminder window.
type Service struct {
	config   Config
	store    Store
	notifier Notifier
	classify ErrorClassifier
	limiter  *rate.Limiter
	metrics  *Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService fills unset Config fields with defaults. Nil metrics get an
// unregistered set; nil classifier functions treat every error as transient.
func NewService(config Config, store Store, notifier Notifier, classify ErrorClassifier, metrics *Metrics, logger *zerolog.Logger) *Service {
	config.applyDefaults()
	if metrics == nil {
		metrics = NewMetrics("mediagenda")
	}
	if classify.RetryAfter == nil {
		classify.RetryAfter = func(error) (time.Duration, bool) { return 0, false }
	}
	if classify.Permanent == nil {
		classify.Permanent = func(error) bool { return false }
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "reminders").Logger()
	}

	return &Service{
		config:   config,
		store:    store,
		notifier: notifier,
		classify: classify,
		limiter:  rate.NewLimiter(rate.Limit(config.PerSecond), config.Burst),
		metrics:  metrics,
		logger:   l,
		now:      time.Now,
	}
}

// Run checks immediately and then every CheckInterval until ctx is done.
func (s *Service) Run(ctx context.Context) {
	s.logger.Info().
		Dur("check_interval", s.config.CheckInterval).
		Dur("window", s.config.Window).
		Msg("reminder service started")

	s.CheckNow(ctx)

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("reminder service stopped")
			return
		case <-ticker.C:
			s.CheckNow(ctx)
		}
	}
}

// CheckNow sends every due reminder and returns how many were delivered.
func (s *Service) CheckNow(ctx context.Context) int {
	now := s.now()
	due, err := s.store.DueReminders(ctx, now, now.Add(s.config.Window))
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load due reminders")
		return 0
	}
	s.metrics.RemindersDue.Set(float64(len(due)))
	if len(due) == 0 {
		return 0
	}

	var (
		mu   sync.Mutex
		sent int
		wg   sync.WaitGroup
	)
	sem := make(chan struct{}, s.config.Workers)

	for i := range due {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return sent
		}

		wg.Add(1)
		go func(a *model.Appointment) {
			defer wg.Done()
			defer func() { <-sem }()

			if s.process(ctx, a) {
				mu.Lock()
				sent++
				mu.Unlock()
			}
		}(&due[i])
	}

	wg.Wait()
	return sent
}

// process delivers one reminder and reports whether it reached someone.
func (s *Service) process(ctx context.Context, a *model.Appointment) bool {
	started := time.Now()
	defer func() { s.metrics.ReminderSendDuration.Observe(time.Since(started).Seconds()) }()

	var chatID int64
	if p, err := s.store.GetPatient(ctx, a.PatientID); err != nil {
		s.logger.Warn().Err(err).Int64("patient_id", a.PatientID).Msg("patient lookup failed, using staff chat")
	} else {
		chatID = p.TelegramChatID
	}

	err := s.sendWithRetry(ctx, a, chatID)
	switch {
	case err == nil:
		s.metrics.IncSent("sent")
	case s.classify.Permanent(err):
		s.metrics.IncSent("failed")
		s.logger.Warn().Err(err).Int64("appointment_id", a.ID).Msg("reminder cannot be delivered")
	default:
		s.metrics.IncSent("retry_later")
		s.logger.Error().Err(err).Int64("appointment_id", a.ID).Msg("reminder send failed")
		return false
	}

	// Undeliverable reminders are marked too, otherwise every check would retry them.
	if markErr := s.store.MarkReminderSent(ctx, a.ID); markErr != nil {
		s.logger.Error().Err(markErr).Int64("appointment_id", a.ID).Msg("failed to mark reminder as sent")
	}
	if err != nil {
		return false
	}

	s.logger.Info().Int64("appointment_id", a.ID).Int64("chat_id", chatID).Msg("reminder sent")
	return true
}

func (s *Service) sendWithRetry(ctx context.Context, a *model.Appointment, chatID int64) error {
	var lastErr error
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		lastErr = s.notifier.SendReminder(ctx, a, chatID)
		if lastErr == nil || s.classify.Permanent(lastErr) {
			return lastErr
		}
		if attempt == s.config.MaxRetries {
			break
		}

		delay, ok := s.classify.RetryAfter(lastErr)
		if !ok || delay <= 0 {
			delay = s.config.RetryDelays[min(attempt, len(s.config.RetryDelays)-1)]
		}
		s.metrics.ReminderRetries.Inc()
		s.logger.Debug().Err(lastErr).Int("attempt", attempt+1).Dur("delay", delay).Msg("retrying reminder")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	return lastErr
}
