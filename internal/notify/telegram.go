// Package notify delivers appointment messages through Telegram.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"mediagenda/internal/events"
	"mediagenda/internal/model"
)

// Sender is the part of *tgbotapi.BotAPI the notifier uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// NewBotAPI connects to Telegram with a bounded HTTP client.
func NewBotAPI(token string, debug bool) (*tgbotapi.BotAPI, error) {
	client := &http.Client{Timeout: 15 * time.Second}
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	bot.Debug = debug
	return bot, nil
}

const messages = `
{{define "appointment.created"}}New appointment #{{.ID}}
{{.DoctorName}} with {{.PatientName}}
{{date .StartTime}} at {{clock .StartTime}} ({{.DurationMinutes}} min){{with .Reason}}
Reason: {{.}}{{end}}{{end}}

{{define "appointment.cancelled"}}Appointment #{{.ID}} cancelled
{{.DoctorName}} with {{.PatientName}}, {{date .StartTime}} at {{clock .StartTime}}{{with .CancelReason}}
Reason: {{.}}{{end}}{{end}}

{{define "appointment.rescheduled"}}Appointment #{{.ID}} rescheduled
{{.DoctorName}} with {{.PatientName}}
Now on {{date .StartTime}} at {{clock .StartTime}} ({{.DurationMinutes}} min){{end}}

{{define "reminder"}}Reminder: {{.PatientName}}, you have an appointment with {{.DoctorName}} on {{date .StartTime}} at {{clock .StartTime}}.{{end}}
`

// Notifier renders appointment messages and sends them to Telegram chats.
type Notifier struct {
	bot         Sender
	staffChatID int64
	tmpl        *template.Template
	logger      zerolog.Logger
}

func NewNotifier(bot Sender, staffChatID int64, loc *time.Location, logger *zerolog.Logger) *Notifier {
	if loc == nil {
		loc = time.Local
	}
	funcs := template.FuncMap{
		"date":  func(t time.Time) string { return t.In(loc).Format("02/01/2006") },
		"clock": func(t time.Time) string { return t.In(loc).Format("15:04") },
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "notify").Logger()
	}
	return &Notifier{
		bot:         bot,
		staffChatID: staffChatID,
		tmpl:        template.Must(template.New("messages").Funcs(funcs).Parse(messages)),
		logger:      l,
	}
}

// Subscribe routes staff-relevant appointment events to the staff chat.
func (n *Notifier) Subscribe(bus *events.EventBus) {
	bus.SubscribeAll(n.HandleEvent,
		events.AppointmentCreated,
		events.AppointmentCancelled,
		events.AppointmentRescheduled,
	)
}

// HandleEvent posts the event's appointment to the staff chat.
func (n *Notifier) HandleEvent(e events.Event) error {
	if n.staffChatID == 0 {
		return nil
	}

	var a model.Appointment
	if err := e.Decode(&a); err != nil {
		return fmt.Errorf("decode %s: %w", e.Type, err)
	}
	text, err := n.Render(e.Type, &a)
	if err != nil {
		return err
	}
	return n.send(n.staffChatID, text)
}

// SendReminder sends the reminder of a to chatID, or to the staff chat when the
// patient has no Telegram chat.
func (n *Notifier) SendReminder(_ context.Context, a *model.Appointment, chatID int64) error {
	if chatID == 0 {
		chatID = n.staffChatID
	}
	if chatID == 0 {
		return ErrNoRecipient
	}

	text, err := n.Render("reminder", a)
	if err != nil {
		return err
	}
	return n.send(chatID, text)
}

// SendDocument uploads a file to the staff chat.
func (n *Notifier) SendDocument(_ context.Context, filename string, data io.Reader, caption string) error {
	if n.staffChatID == 0 {
		return ErrNoRecipient
	}

	doc := tgbotapi.NewDocument(n.staffChatID, tgbotapi.FileReader{Name: filename, Reader: data})
	doc.Caption = caption
	if _, err := n.bot.Send(doc); err != nil {
		return fmt.Errorf("send document %s: %w", filename, err)
	}
	return nil
}

// Render executes the named message template for a.
func (n *Notifier) Render(name string, a *model.Appointment) (string, error) {
	var sb strings.Builder
	if err := n.tmpl.ExecuteTemplate(&sb, name, a); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return sb.String(), nil
}

func (n *Notifier) send(chatID int64, text string) error {
	if _, err := n.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		n.logger.Error().Err(err).Int64("chat_id", chatID).Msg("telegram send failed")
		return err
	}
	return nil
}

var ErrNoRecipient = errors.New("no telegram chat to notify")

// RetryAfter reports how long Telegram asked us to back off, if it did.
func RetryAfter(err error) (time.Duration, bool) {
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) && tgErr.Code == http.StatusTooManyRequests {
		return time.Duration(tgErr.RetryAfter) * time.Second, true
	}
	return 0, false
}

// Permanent reports errors that will not go away on retry: the bot was blocked,
// the chat does not exist or there is nobody to send to.
func Permanent(err error) bool {
	if errors.Is(err, ErrNoRecipient) {
		return true
	}
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		return tgErr.Code == http.StatusBadRequest || tgErr.Code == http.StatusForbidden
	}
	return false
}
