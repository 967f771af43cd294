package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mediagenda/internal/db"
	"mediagenda/internal/model"
)

// MaxDays bounds the window of one report.
const MaxDays = 366

// ErrInvalidRange is returned by Build when to precedes from or the window exceeds MaxDays.
var ErrInvalidRange = errors.New("invalid report range")

type AppointmentLister interface {
	ListAppointments(ctx context.Context, f db.AppointmentFilter) ([]model.Appointment, error)
}

// Service builds reports from stored appointments.
type Service struct {
	store AppointmentLister
	loc   *time.Location
}

// NewService returns a report builder that groups days in loc, or time.Local when loc is nil.
func NewService(store AppointmentLister, loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{store: store, loc: loc}
}

// Build reports on appointments starting on the days from..to, both inclusive.
func (s *Service) Build(ctx context.Context, from, to time.Time) (*Report, error) {
	from = s.day(from)
	to = s.day(to)
	if to.Before(from) {
		return nil, fmt.Errorf("%w: end before start", ErrInvalidRange)
	}
	if from.AddDate(0, 0, MaxDays-1).Before(to) {
		return nil, fmt.Errorf("%w: more than %d days", ErrInvalidRange, MaxDays)
	}

	appts, err := s.store.ListAppointments(ctx, db.AppointmentFilter{
		From: from,
		To:   to.AddDate(0, 0, 1),
	})
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}
	return Build(appts, from, to, s.loc), nil
}

func (s *Service) day(t time.Time) time.Time {
	t = t.In(s.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, s.loc)
}
