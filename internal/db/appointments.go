package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mediagenda/internal/model"
)

const appointmentSelect = `
	SELECT a.id, a.uuid, a.doctor_id, d.name, a.patient_id, p.name, a.start_time, a.duration_minutes,
		a.reason, a.notes, a.status, a.price_cents, a.cancel_reason, a.confirmed_at, a.confirmed_by,
		a.reminder_sent, a.created_by, a.created_at, a.updated_at
	FROM appointments a
	JOIN doctors d ON d.id = a.doctor_id
	JOIN patients p ON p.id = a.patient_id`

// AppointmentFilter narrows ListAppointments. Zero values are ignored.
type AppointmentFilter struct {
	DoctorID  int64
	PatientID int64
	Status    model.AppointmentStatus
	From      time.Time // start_time >= From
	To        time.Time // start_time < To
	Limit     int
	Offset    int
}

// StatusChange is a compare-and-swap status transition.
type StatusChange struct {
	ID           int64
	From         model.AppointmentStatus
	To           model.AppointmentStatus
	CancelReason string
	Actor        string
	At           time.Time
}

// CreateAppointment stores a new appointment. It runs in an immediate transaction and
// returns ErrConflict when a scheduled or confirmed appointment of the same doctor
// overlaps [start, start+duration).
func (db *DB) CreateAppointment(ctx context.Context, a *model.Appointment) error {
	now := time.Now().UTC().Truncate(time.Second)
	if a.UUID == "" {
		a.UUID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = model.StatusScheduled
	}
	a.StartTime = a.StartTime.UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := ensureFree(ctx, tx, a.DoctorID, a.StartTime, a.EndTime(), 0); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO appointments (uuid, doctor_id, patient_id, start_time, end_time, duration_minutes,
			reason, notes, status, price_cents, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.UUID, a.DoctorID, a.PatientID, formatTime(a.StartTime), formatTime(a.EndTime()), a.DurationMinutes,
		a.Reason, a.Notes, string(a.Status), a.PriceCents, a.CreatedBy, formatTime(now), formatTime(now),
	)
	if err != nil {
		return mapWriteError(err, "create appointment")
	}
	if a.ID, err = res.LastInsertId(); err != nil {
		return err
	}

	entry := model.HistoryEntry{
		AppointmentID: a.ID,
		Action:        "created",
		ToStatus:      string(a.Status),
		Details:       fmt.Sprintf("%s, %d min", a.StartTime.Format(time.RFC3339), a.DurationMinutes),
		Actor:         a.CreatedBy,
	}
	if err := addHistoryTx(ctx, tx, &entry, now); err != nil {
		return err
	}

	return tx.Commit()
}

// ensureFree fails with ErrConflict if a holding appointment of the doctor other than
// excludeID overlaps [start, end). Touching intervals are not overlaps.
func ensureFree(ctx context.Context, tx *sql.Tx, doctorID int64, start, end time.Time, excludeID int64) error {
	var overlapping int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM appointments
		WHERE doctor_id = ?
			AND status IN (` + holdingStatuses + `)
			AND start_time < ?
			AND end_time > ?
			AND id <> ?`,
		doctorID, formatTime(end), formatTime(start), excludeID,
	).Scan(&overlapping)
	if err != nil {
		return fmt.Errorf("check overlap: %w", err)
	}
	if overlapping > 0 {
		return fmt.Errorf("doctor %d at %s: %w", doctorID, start.Format(time.RFC3339), ErrConflict)
	}
	return nil
}

// GetAppointment returns an appointment by id.
func (db *DB) GetAppointment(ctx context.Context, id int64) (*model.Appointment, error) {
	row := db.QueryRowContext(ctx, appointmentSelect+` WHERE a.id = ?`, id)
	a, err := scanAppointment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("appointment %d: %w", id, ErrNotFound)
	}
	return a, err
}

// ListAppointments returns appointments matching the filter ordered by start time.
func (db *DB) ListAppointments(ctx context.Context, f AppointmentFilter) ([]model.Appointment, error) {
	query := appointmentSelect + ` WHERE 1 = 1`
	var args []any

	if f.DoctorID != 0 {
		query += ` AND a.doctor_id = ?`
		args = append(args, f.DoctorID)
	}
	if f.PatientID != 0 {
		query += ` AND a.patient_id = ?`
		args = append(args, f.PatientID)
	}
	if f.Status != "" {
		query += ` AND a.status = ?`
		args = append(args, string(f.Status))
	}
	if !f.From.IsZero() {
		query += ` AND a.start_time >= ?`
		args = append(args, formatTime(f.From))
	}
	if !f.To.IsZero() {
		query += ` AND a.start_time < ?`
		args = append(args, formatTime(f.To))
	}
	query += ` ORDER BY a.start_time, a.id`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	return db.queryAppointments(ctx, query, args...)
}

// HoldingAppointments returns the scheduled and confirmed appointments of a doctor that
// overlap [from, to). Always read from storage so availability sees fresh bookings.
func (db *DB) HoldingAppointments(ctx context.Context, doctorID int64, from, to time.Time) ([]model.Appointment, error) {
	return db.queryAppointments(ctx, appointmentSelect+`
		WHERE a.doctor_id = ?
			AND a.status IN (` + holdingStatuses + `)
			AND a.start_time < ?
			AND a.end_time > ?
		ORDER BY a.start_time, a.id`,
		doctorID, formatTime(to), formatTime(from),
	)
}

// DueReminders returns holding appointments starting in [from, to) whose reminder
// was not sent yet.
func (db *DB) DueReminders(ctx context.Context, from, to time.Time) ([]model.Appointment, error) {
	return db.queryAppointments(ctx, appointmentSelect+`
		WHERE a.reminder_sent = 0
			AND a.status IN (` + holdingStatuses + `)
			AND a.start_time >= ?
			AND a.start_time < ?
		ORDER BY a.start_time, a.id`,
		formatTime(from), formatTime(to),
	)
}

// MarkReminderSent flags the reminder of an appointment as delivered.
func (db *DB) MarkReminderSent(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx,
		`UPDATE appointments SET reminder_sent = 1, updated_at = ? WHERE id = ?`,
		formatTime(time.Now()), id,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("appointment %d: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateAppointmentStatus applies a status change only if the stored status still
// equals c.From. Otherwise it returns ErrConflict (or ErrNotFound for a missing row).
func (db *DB) UpdateAppointmentStatus(ctx context.Context, c StatusChange) error {
	at := c.At
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC().Truncate(time.Second)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `UPDATE appointments SET status = ?, updated_at = ?`
	args := []any{string(c.To), formatTime(at)}
	switch c.To {
	case model.StatusConfirmed:
		query += `, confirmed_at = ?, confirmed_by = ?`
		args = append(args, formatTime(at), c.Actor)
	case model.StatusCancelled:
		query += `, cancel_reason = ?`
		args = append(args, c.CancelReason)
	}
	query += ` WHERE id = ? AND status = ?`
	args = append(args, c.ID, string(c.From))

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return mapWriteError(err, "update appointment status")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return db.missingOrStale(ctx, tx, c.ID)
	}

	entry := model.HistoryEntry{
		AppointmentID: c.ID,
		Action:        "status",
		FromStatus:    string(c.From),
		ToStatus:      string(c.To),
		Details:       c.CancelReason,
		Actor:         c.Actor,
	}
	if err := addHistoryTx(ctx, tx, &entry, at); err != nil {
		return err
	}
	return tx.Commit()
}

// RescheduleAppointment moves an appointment whose status still equals expected to a
// new start and duration. The new interval must not overlap another holding
// appointment of the same doctor.
func (db *DB) RescheduleAppointment(
	ctx context.Context,
	id int64,
	expected model.AppointmentStatus,
	start time.Time,
	durationMinutes int,
	actor string,
) error {
	now := time.Now().UTC().Truncate(time.Second)
	end := start.Add(time.Duration(durationMinutes) * time.Minute)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var doctorID int64
	var oldStart string
	err = tx.QueryRowContext(ctx, `SELECT doctor_id, start_time FROM appointments WHERE id = ?`, id).Scan(&doctorID, &oldStart)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("appointment %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return err
	}

	if err := ensureFree(ctx, tx, doctorID, start, end, id); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE appointments
		SET start_time = ?, end_time = ?, duration_minutes = ?, reminder_sent = 0, updated_at = ?
		WHERE id = ? AND status = ?`,
		formatTime(start), formatTime(end), durationMinutes, formatTime(now), id, string(expected),
	)
	if err != nil {
		return mapWriteError(err, "reschedule appointment")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("appointment %d changed concurrently: %w", id, ErrConflict)
	}

	entry := model.HistoryEntry{
		AppointmentID: id,
		Action:        "rescheduled",
		FromStatus:    string(expected),
		ToStatus:      string(expected),
		Details:       fmt.Sprintf("%s -> %s, %d min", oldStart, formatTime(start), durationMinutes),
		Actor:         actor,
	}
	if err := addHistoryTx(ctx, tx, &entry, now); err != nil {
		return err
	}
	return tx.Commit()
}

// History returns the actions recorded for an appointment, oldest first.
func (db *DB) History(ctx context.Context, appointmentID int64) ([]model.HistoryEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, appointment_id, action, from_status, to_status, details, actor, created_at
		FROM appointment_history
		WHERE appointment_id = ?
		ORDER BY id`,
		appointmentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.HistoryEntry
	for rows.Next() {
		var e model.HistoryEntry
		var created string
		if err := rows.Scan(&e.ID, &e.AppointmentID, &e.Action, &e.FromStatus, &e.ToStatus, &e.Details, &e.Actor, &created); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (db *DB) missingOrStale(ctx context.Context, tx *sql.Tx, id int64) error {
	var exists int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM appointments WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("appointment %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("appointment %d changed concurrently: %w", id, ErrConflict)
}

func addHistoryTx(ctx context.Context, tx *sql.Tx, e *model.HistoryEntry, at time.Time) error {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO appointment_history (appointment_id, action, from_status, to_status, details, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.AppointmentID, e.Action, e.FromStatus, e.ToStatus, e.Details, e.Actor, formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("add history: %w", err)
	}
	e.ID, _ = res.LastInsertId()
	e.CreatedAt = at
	return nil
}

func (db *DB) queryAppointments(ctx context.Context, query string, args ...any) ([]model.Appointment, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanAppointment(s scanner) (*model.Appointment, error) {
	var a model.Appointment
	var start, created, updated, status string
	var confirmedAt sql.NullString
	var reminder int
	err := s.Scan(
		&a.ID, &a.UUID, &a.DoctorID, &a.DoctorName, &a.PatientID, &a.PatientName, &start, &a.DurationMinutes,
		&a.Reason, &a.Notes, &status, &a.PriceCents, &a.CancelReason, &confirmedAt, &a.ConfirmedBy,
		&reminder, &a.CreatedBy, &created, &updated,
	)
	if err != nil {
		return nil, err
	}

	a.Status = model.AppointmentStatus(status)
	a.ReminderSent = reminder == 1
	if a.StartTime, err = parseTime(start); err != nil {
		return nil, err
	}
	if a.ConfirmedAt, err = parseNullTime(confirmedAt); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &a, nil
}
