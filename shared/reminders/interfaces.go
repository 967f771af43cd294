package reminders

import (
	"context"
	"time"

	"mediagenda/internal/model"
)

// Store provides the appointments due for a reminder.
type Store interface {
	// DueReminders returns holding appointments starting in [from, to) whose
	// reminder was not sent yet.
	DueReminders(ctx context.Context, from, to time.Time) ([]model.Appointment, error)

	// MarkReminderSent records that the appointment needs no further reminder.
	MarkReminderSent(ctx context.Context, id int64) error

	// GetPatient resolves the patient's Telegram chat.
	GetPatient(ctx context.Context, id int64) (*model.Patient, error)
}

// Notifier delivers one reminder. chatID 0 means the patient has no chat.
type Notifier interface {
	SendReminder(ctx context.Context, a *model.Appointment, chatID int64) error
}

// ErrorClassifier tells the sender how to treat a failed delivery.
type ErrorClassifier struct {
	// RetryAfter reports a server-requested backoff.
	RetryAfter func(err error) (time.Duration, bool)
	// Permanent reports errors that retrying cannot fix.
	Permanent func(err error) bool
}
