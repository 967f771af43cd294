// Package google mirrors the daily agenda into a Google Sheets spreadsheet, one tab
// per day.
package google

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"mediagenda/internal/db"
	"mediagenda/internal/events"
	"mediagenda/internal/model"
)

// SheetWriter replaces the contents of a named tab.
type SheetWriter interface {
	EnsureSheet(ctx context.Context, title string) error
	ReplaceValues(ctx context.Context, title string, rows [][]interface{}) error
}

// SheetsClient writes to one spreadsheet through the Sheets API.
type SheetsClient struct {
	srv           *sheets.Service
	spreadsheetID string

	mu    sync.Mutex
	known map[string]bool
}

func NewSheetsClient(ctx context.Context, credentialsFile, spreadsheetID string) (*SheetsClient, error) {
	srv, err := sheets.NewService(ctx, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &SheetsClient{srv: srv, spreadsheetID: spreadsheetID, known: map[string]bool{}}, nil
}

// EnsureSheet adds the tab unless the spreadsheet already has it.
func (c *SheetsClient) EnsureSheet(ctx context.Context, title string) error {
	if c.isKnown(title) {
		return nil
	}

	ss, err := c.srv.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("get spreadsheet: %w", err)
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == title {
			c.markKnown(title)
			return nil
		}
	}

	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: title}},
		}},
	}
	if _, err := c.srv.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add sheet %s: %w", title, err)
	}
	c.markKnown(title)
	return nil
}

// ReplaceValues clears the tab and writes rows from A1.
func (c *SheetsClient) ReplaceValues(ctx context.Context, title string, rows [][]interface{}) error {
	rng := fmt.Sprintf("'%s'!A:Z", title)
	if _, err := c.srv.Spreadsheets.Values.Clear(c.spreadsheetID, rng, &sheets.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear %s: %w", title, err)
	}

	vr := &sheets.ValueRange{Values: rows}
	_, err := c.srv.Spreadsheets.Values.Update(c.spreadsheetID, fmt.Sprintf("'%s'!A1", title), vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("update %s: %w", title, err)
	}
	return nil
}

func (c *SheetsClient) isKnown(title string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.known[title]
}

func (c *SheetsClient) markKnown(title string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.known[title] = true
}

// ForgetSheets drops the known-tab cache, e.g. after tabs were deleted by hand.
func (c *SheetsClient) ForgetSheets() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.known = map[string]bool{}
}

type AppointmentLister interface {
	ListAppointments(ctx context.Context, f db.AppointmentFilter) ([]model.Appointment, error)
}

// AgendaSync rewrites a day's tab whenever an appointment of that day changes.
type AgendaSync struct {
	store  AppointmentLister
	writer SheetWriter
	loc    *time.Location
	logger zerolog.Logger
}

func NewAgendaSync(store AppointmentLister, writer SheetWriter, loc *time.Location, logger *zerolog.Logger) *AgendaSync {
	if loc == nil {
		loc = time.Local
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "sheets").Logger()
	}
	return &AgendaSync{store: store, writer: writer, loc: loc, logger: l}
}

// Subscribe resyncs on every appointment lifecycle event.
func (s *AgendaSync) Subscribe(bus *events.EventBus) {
	bus.SubscribeAll(s.HandleEvent,
		events.AppointmentCreated,
		events.AppointmentConfirmed,
		events.AppointmentCancelled,
		events.AppointmentCompleted,
		events.AppointmentNoShow,
		events.AppointmentRescheduled,
	)
}

func (s *AgendaSync) HandleEvent(e events.Event) error {
	var a model.Appointment
	if err := e.Decode(&a); err != nil {
		return fmt.Errorf("decode %s: %w", e.Type, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.SyncDay(ctx, a.StartTime)
}

// SyncDay writes every appointment of the local day containing day.
func (s *AgendaSync) SyncDay(ctx context.Context, day time.Time) error {
	day = day.In(s.loc)
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, s.loc)

	appts, err := s.store.ListAppointments(ctx, db.AppointmentFilter{From: start, To: start.AddDate(0, 0, 1)})
	if err != nil {
		return fmt.Errorf("load agenda: %w", err)
	}

	title := SheetTitle(start)
	if err := s.writer.EnsureSheet(ctx, title); err != nil {
		return err
	}
	if err := s.writer.ReplaceValues(ctx, title, AgendaRows(appts, s.loc)); err != nil {
		return err
	}

	s.logger.Debug().Str("sheet", title).Int("rows", len(appts)).Msg("agenda synced")
	return nil
}

// SheetTitle names the tab of a day.
func SheetTitle(day time.Time) string {
	return day.Format("2006-01-02")
}

var agendaHeader = []interface{}{"ID", "Time", "End", "Doctor", "Patient", "Status", "Reason"}

// AgendaRows renders a header and one row per appointment.
func AgendaRows(appts []model.Appointment, loc *time.Location) [][]interface{} {
	rows := make([][]interface{}, 0, len(appts)+1)
	rows = append(rows, agendaHeader)
	for i := range appts {
		rows = append(rows, appointmentRowValues(&appts[i], loc))
	}
	return rows
}

func appointmentRowValues(a *model.Appointment, loc *time.Location) []interface{} {
	return []interface{}{
		a.ID,
		a.StartTime.In(loc).Format("15:04"),
		a.EndTime().In(loc).Format("15:04"),
		a.DoctorName,
		a.PatientName,
		string(a.Status),
		a.Reason,
	}
}
