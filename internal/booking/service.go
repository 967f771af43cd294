// Package booking ties the availability engine to storage: it answers free-slot
// queries, books appointments and drives their status lifecycle.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mediagenda/internal/availability"
	"mediagenda/internal/db"
	"mediagenda/internal/events"
	"mediagenda/internal/metrics"
	"mediagenda/internal/model"
)

// MaxRangeDays bounds AvailabilityRange.
const MaxRangeDays = 31

// Store is the persistence the service needs. *db.DB implements it.
type Store interface {
	GetDoctor(ctx context.Context, id int64) (*model.Doctor, error)
	ListDoctors(ctx context.Context, activeOnly bool) ([]model.Doctor, error)
	ReplaceWorkingHours(ctx context.Context, doctorID int64, schedule availability.WeeklySchedule) error

	CreatePatient(ctx context.Context, p *model.Patient) error
	GetPatient(ctx context.Context, id int64) (*model.Patient, error)
	UpdatePatient(ctx context.Context, p *model.Patient) error
	SearchPatients(ctx context.Context, q string, limit int) ([]model.Patient, error)
	DeactivatePatient(ctx context.Context, id int64, now time.Time) error

	CreateAppointment(ctx context.Context, a *model.Appointment) error
	GetAppointment(ctx context.Context, id int64) (*model.Appointment, error)
	ListAppointments(ctx context.Context, f db.AppointmentFilter) ([]model.Appointment, error)
	HoldingAppointments(ctx context.Context, doctorID int64, from, to time.Time) ([]model.Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, c db.StatusChange) error
	RescheduleAppointment(ctx context.Context, id int64, expected model.AppointmentStatus, start time.Time, durationMinutes int, actor string) error
	History(ctx context.Context, appointmentID int64) ([]model.HistoryEntry, error)
}

// DoctorReader serves doctor profiles with weekly hours, usually from a cache.
type DoctorReader interface {
	GetDoctor(ctx context.Context, id int64) (*model.Doctor, error)
	Invalidate(ctx context.Context, id int64)
}

// EventPublisher receives appointment lifecycle events.
type EventPublisher interface {
	PublishJSON(eventType string, payload any) error
}

// HolidayCalendar reports clinic-wide closed dates.
type HolidayCalendar interface {
	IsHoliday(date time.Time) (bool, string)
}

// Options tune booking rules.
type Options struct {
	DefaultSlotMinutes int
	MinAdvance         time.Duration // slots starting before now+MinAdvance are hidden
	MaxAdvance         time.Duration // slots starting after now+MaxAdvance are hidden
	Location           *time.Location
	Now                func() time.Time
}

// Service provides appointment booking operations.
type Service struct {
	store    Store
	doctors  DoctorReader
	bus      EventPublisher
	holidays HolidayCalendar
	opts     Options
	logger   *zerolog.Logger
}

// NewService creates a booking service. doctors, bus and holidays may be nil.
func NewService(store Store, doctors DoctorReader, bus EventPublisher, holidays HolidayCalendar, opts Options, logger *zerolog.Logger) *Service {
	if opts.DefaultSlotMinutes <= 0 {
		opts.DefaultSlotMinutes = model.DefaultSlotMinutes
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if doctors == nil {
		doctors = uncachedDoctors{store}
	}
	l := logger.With().Str("component", "booking").Logger()
	return &Service{
		store:    store,
		doctors:  doctors,
		bus:      bus,
		holidays: holidays,
		opts:     opts,
		logger:   &l,
	}
}

type uncachedDoctors struct {
	store Store
}

func (u uncachedDoctors) GetDoctor(ctx context.Context, id int64) (*model.Doctor, error) {
	return u.store.GetDoctor(ctx, id)
}

func (uncachedDoctors) Invalidate(context.Context, int64) {}

// Location returns the clinic's local clock.
func (s *Service) Location() *time.Location {
	return s.opts.Location
}

// DayAvailability is the free-slot answer for one doctor and day.
type DayAvailability struct {
	DoctorID        int64               `json:"doctor_id"`
	Date            string              `json:"date"`
	DurationMinutes int                 `json:"duration_minutes"`
	Closed          bool                `json:"closed"`
	Holiday         string              `json:"holiday,omitempty"`
	Slots           []availability.Slot `json:"slots"`
}

// Availability returns the free slots of a doctor on date. A zero duration falls back
// to the doctor's default and then to the service default.
func (s *Service) Availability(ctx context.Context, doctorID int64, date time.Time, duration int) (*DayAvailability, error) {
	doctor, err := s.activeDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	return s.dayAvailability(ctx, doctor, date, duration, 0)
}

// AvailabilityRange returns per-day availability for [from, to], both inclusive.
func (s *Service) AvailabilityRange(ctx context.Context, doctorID int64, from, to time.Time, duration int) ([]DayAvailability, error) {
	from = s.dayStart(from)
	to = s.dayStart(to)
	if to.Before(from) {
		return nil, validationError("end date must not be before start date")
	}
	if from.AddDate(0, 0, MaxRangeDays-1).Before(to) {
		return nil, validationError("date range must not exceed %d days", MaxRangeDays)
	}

	doctor, err := s.activeDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	var out []DayAvailability
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		day, err := s.dayAvailability(ctx, doctor, d, duration, 0)
		if err != nil {
			return nil, err
		}
		out = append(out, *day)
	}
	return out, nil
}

func (s *Service) dayAvailability(ctx context.Context, doctor *model.Doctor, date time.Time, duration int, excludeID int64) (*DayAvailability, error) {
	started := time.Now()
	dur := availability.ResolveDuration(duration, doctor.DefaultDuration(s.opts.DefaultSlotMinutes))
	if dur <= 0 {
		return nil, fmt.Errorf("%w: got %d", availability.ErrInvalidDuration, dur)
	}

	day := s.dayStart(date)
	result := &DayAvailability{
		DoctorID:        doctor.ID,
		Date:            day.Format("2006-01-02"),
		DurationMinutes: dur,
		Slots:           []availability.Slot{},
	}

	if s.holidays != nil {
		if ok, name := s.holidays.IsHoliday(day); ok {
			result.Closed = true
			result.Holiday = name
			return result, nil
		}
	}

	appts, err := s.store.HoldingAppointments(ctx, doctor.ID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}

	res, err := availability.ComputeDetailed(doctor.Hours, day, dur, model.BookedIntervals(appts, excludeID))
	if err != nil {
		return nil, err
	}
	if len(res.Skipped) > 0 {
		metrics.AddDegeneratePeriods(len(res.Skipped))
		for _, p := range res.Skipped {
			s.logger.Warn().
				Int64("doctor_id", doctor.ID).
				Str("weekday", availability.WeekdayName(day.Weekday())).
				Str("period", p.String()).
				Msg("skipping degenerate working period")
		}
	}

	result.Closed = len(doctor.Hours.PeriodsFor(day.Weekday())) == 0
	result.Slots = s.bookable(res.Slots)

	metrics.ObserveAvailability(time.Since(started), len(result.Slots))
	return result, nil
}

// bookable drops slots outside the advance booking window.
func (s *Service) bookable(slots []availability.Slot) []availability.Slot {
	now := s.opts.Now()
	earliest := now.Add(s.opts.MinAdvance)
	var latest time.Time
	if s.opts.MaxAdvance > 0 {
		latest = now.Add(s.opts.MaxAdvance)
	}

	out := make([]availability.Slot, 0, len(slots))
	for _, slot := range slots {
		if slot.Start.Before(earliest) {
			continue
		}
		if !latest.IsZero() && slot.Start.After(latest) {
			continue
		}
		out = append(out, slot)
	}
	return out
}

func (s *Service) dayStart(t time.Time) time.Time {
	t = t.In(s.opts.Location)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, s.opts.Location)
}

// BookRequest is the input of Book.
type BookRequest struct {
	DoctorID        int64
	PatientID       int64
	Start           time.Time
	DurationMinutes int
	Reason          string
	Notes           string
	PriceCents      int64
	Actor           string
}

// Book creates a scheduled appointment. The start must coincide with a free slot of
// the requested duration; the storage layer settles races between concurrent bookings.
func (s *Service) Book(ctx context.Context, req BookRequest) (*model.Appointment, error) {
	if req.DoctorID <= 0 {
		return nil, validationError("doctor_id is required")
	}
	if req.PatientID <= 0 {
		return nil, validationError("patient_id is required")
	}
	if req.Start.IsZero() {
		return nil, validationError("start_time is required")
	}
	if req.DurationMinutes < 0 {
		return nil, fmt.Errorf("%w: got %d", availability.ErrInvalidDuration, req.DurationMinutes)
	}
	if req.PriceCents < 0 {
		return nil, validationError("price must not be negative")
	}

	patient, err := s.store.GetPatient(ctx, req.PatientID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	if !patient.Active {
		return nil, ErrPatientNotFound
	}

	doctor, err := s.activeDoctor(ctx, req.DoctorID)
	if err != nil {
		return nil, err
	}

	day, err := s.dayAvailability(ctx, doctor, req.Start, req.DurationMinutes, 0)
	if err != nil {
		return nil, err
	}
	if !availability.Contains(day.Slots, req.Start, day.DurationMinutes) {
		metrics.IncBookingRejected("not_free")
		return nil, ErrSlotNotAvailable
	}

	appt := &model.Appointment{
		DoctorID:        doctor.ID,
		PatientID:       patient.ID,
		StartTime:       req.Start,
		DurationMinutes: day.DurationMinutes,
		Reason:          strings.TrimSpace(req.Reason),
		Notes:           strings.TrimSpace(req.Notes),
		Status:          model.StatusScheduled,
		PriceCents:      req.PriceCents,
		CreatedBy:       req.Actor,
	}
	if err := s.store.CreateAppointment(ctx, appt); err != nil {
		if errors.Is(err, db.ErrConflict) {
			metrics.IncBookingRejected("conflict")
			return nil, ErrSlotNotAvailable
		}
		return nil, err
	}

	s.logger.Info().
		Int64("appointment_id", appt.ID).
		Int64("doctor_id", doctor.ID).
		Int64("patient_id", patient.ID).
		Time("start", appt.StartTime).
		Msg("appointment booked")

	return s.published(ctx, appt.ID, events.AppointmentCreated)
}

// Get returns one appointment.
func (s *Service) Get(ctx context.Context, id int64) (*model.Appointment, error) {
	a, err := s.store.GetAppointment(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrAppointmentNotFound
	}
	return a, err
}

// List returns appointments matching the filter.
func (s *Service) List(ctx context.Context, f db.AppointmentFilter) ([]model.Appointment, error) {
	if f.Status != "" {
		if _, err := model.ParseAppointmentStatus(string(f.Status)); err != nil {
			return nil, validationError("%s", err.Error())
		}
	}
	return s.store.ListAppointments(ctx, f)
}

// History returns the recorded actions of an appointment.
func (s *Service) History(ctx context.Context, id int64) ([]model.HistoryEntry, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.History(ctx, id)
}

// Confirm moves a scheduled appointment to confirmed.
func (s *Service) Confirm(ctx context.Context, id int64, actor string) (*model.Appointment, error) {
	return s.transition(ctx, id, model.StatusConfirmed, "", actor)
}

// Cancel releases the appointment's time. reason is optional and stored trimmed.
func (s *Service) Cancel(ctx context.Context, id int64, reason, actor string) (*model.Appointment, error) {
	return s.transition(ctx, id, model.StatusCancelled, strings.TrimSpace(reason), actor)
}

// Complete marks the appointment as attended.
func (s *Service) Complete(ctx context.Context, id int64, actor string) (*model.Appointment, error) {
	return s.transition(ctx, id, model.StatusCompleted, "", actor)
}

// MarkNoShow records that the patient did not attend.
// Like every transition it fails with ErrInvalidTransition from a terminal status.
func (s *Service) MarkNoShow(ctx context.Context, id int64, actor string) (*model.Appointment, error) {
	return s.transition(ctx, id, model.StatusNoShow, "", actor)
}

func (s *Service) transition(ctx context.Context, id int64, to model.AppointmentStatus, reason, actor string) (*model.Appointment, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.Status.CanTransition(to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, to)
	}

	err = s.store.UpdateAppointmentStatus(ctx, db.StatusChange{
		ID:           id,
		From:         current.Status,
		To:           to,
		CancelReason: reason,
		Actor:        actor,
		At:           s.opts.Now(),
	})
	switch {
	case errors.Is(err, db.ErrNotFound):
		return nil, ErrAppointmentNotFound
	case errors.Is(err, db.ErrConflict):
		return nil, fmt.Errorf("%w: appointment %d changed concurrently", ErrInvalidTransition, id)
	case err != nil:
		return nil, err
	}

	s.logger.Info().
		Int64("appointment_id", id).
		Str("from", current.Status.String()).
		Str("to", to.String()).
		Str("actor", actor).
		Msg("appointment status changed")

	return s.published(ctx, id, "appointment."+string(to))
}

// Reschedule moves a scheduled or confirmed appointment to another free slot of the
// same doctor. A zero duration keeps the current one.
func (s *Service) Reschedule(ctx context.Context, id int64, start time.Time, duration int, actor string) (*model.Appointment, error) {
	if start.IsZero() {
		return nil, validationError("start_time is required")
	}
	if duration < 0 {
		return nil, fmt.Errorf("%w: got %d", availability.ErrInvalidDuration, duration)
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.Status.HoldsCalendar() {
		return nil, fmt.Errorf("%w: cannot reschedule a %s appointment", ErrInvalidTransition, current.Status)
	}
	if duration == 0 {
		duration = current.DurationMinutes
	}

	doctor, err := s.activeDoctor(ctx, current.DoctorID)
	if err != nil {
		return nil, err
	}
	day, err := s.dayAvailability(ctx, doctor, start, duration, id)
	if err != nil {
		return nil, err
	}
	if !availability.Contains(day.Slots, start, duration) {
		metrics.IncBookingRejected("not_free")
		return nil, ErrSlotNotAvailable
	}

	err = s.store.RescheduleAppointment(ctx, id, current.Status, start, duration, actor)
	switch {
	case errors.Is(err, db.ErrNotFound):
		return nil, ErrAppointmentNotFound
	case errors.Is(err, db.ErrConflict):
		metrics.IncBookingRejected("conflict")
		return nil, ErrSlotNotAvailable
	case err != nil:
		return nil, err
	}

	return s.published(ctx, id, events.AppointmentRescheduled)
}

// published reloads the appointment and announces it on the bus.
func (s *Service) published(ctx context.Context, id int64, eventType string) (*model.Appointment, error) {
	appt, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}

	metrics.IncAppointment(string(appt.Status))
	if s.bus != nil {
		if err := s.bus.PublishJSON(eventType, appt); err != nil {
			s.logger.Error().Err(err).Str("event", eventType).Int64("appointment_id", id).Msg("failed to publish event")
		}
	}
	return appt, nil
}

func (s *Service) activeDoctor(ctx context.Context, id int64) (*model.Doctor, error) {
	doctor, err := s.doctors.GetDoctor(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	if !doctor.Active {
		return nil, ErrDoctorNotFound
	}
	return doctor, nil
}
