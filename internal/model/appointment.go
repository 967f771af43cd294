package model

import (
	"time"

	"mediagenda/internal/availability"
)

// Appointment is a booked consultation between a patient and a doctor.
type Appointment struct {
	ID              int64             `json:"id"`
	UUID            string            `json:"uuid"`
	DoctorID        int64             `json:"doctor_id"`
	DoctorName      string            `json:"doctor_name,omitempty"`
	PatientID       int64             `json:"patient_id"`
	PatientName     string            `json:"patient_name,omitempty"`
	StartTime       time.Time         `json:"start_time"`
	DurationMinutes int               `json:"duration_minutes"`
	Reason          string            `json:"reason,omitempty"`
	Notes           string            `json:"notes,omitempty"`
	Status          AppointmentStatus `json:"status"`
	PriceCents      int64             `json:"price_cents"`
	CancelReason    string            `json:"cancel_reason,omitempty"`
	ConfirmedAt     *time.Time        `json:"confirmed_at,omitempty"`
	ConfirmedBy     string            `json:"confirmed_by,omitempty"`
	ReminderSent    bool              `json:"reminder_sent"`
	CreatedBy       string            `json:"created_by,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// EndTime returns StartTime plus the appointment duration.
func (a *Appointment) EndTime() time.Time {
	return a.StartTime.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// Interval returns the appointment as a half-open interval.
func (a *Appointment) Interval() availability.Interval {
	return availability.Interval{Start: a.StartTime, End: a.EndTime()}
}

// OverlapsWith checks if two appointments share any instant.
// Uses half-open [start, end) semantics: back-to-back appointments do not overlap.
func (a *Appointment) OverlapsWith(other *Appointment) bool {
	return a.Interval().Overlaps(other.Interval())
}

// BookedIntervals converts the appointments that hold the calendar into intervals for
// the availability engine. The appointment with excludeID is skipped (0 skips none).
func BookedIntervals(appointments []Appointment, excludeID int64) []availability.Interval {
	out := make([]availability.Interval, 0, len(appointments))
	for i := range appointments {
		a := &appointments[i]
		if !a.Status.HoldsCalendar() {
			continue
		}
		if excludeID != 0 && a.ID == excludeID {
			continue
		}
		out = append(out, a.Interval())
	}
	return out
}

// HistoryEntry records one action on an appointment.
type HistoryEntry struct {
	ID            int64     `json:"id"`
	AppointmentID int64     `json:"appointment_id"`
	Action        string    `json:"action"`
	FromStatus    string    `json:"from_status,omitempty"`
	ToStatus      string    `json:"to_status,omitempty"`
	Details       string    `json:"details,omitempty"`
	Actor         string    `json:"actor,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
