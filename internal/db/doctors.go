package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mediagenda/internal/availability"
	"mediagenda/internal/model"
)

const doctorColumns = `id, uuid, name, crm, specialty, email, phone, slot_duration, active, created_at, updated_at`

// UpsertDoctor inserts a doctor or updates the one with the same CRM. The id and
// uuid of d are filled from the stored row.
func (db *DB) UpsertDoctor(ctx context.Context, d *model.Doctor) error {
	now := formatTime(time.Now())
	if d.UUID == "" {
		d.UUID = uuid.NewString()
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO doctors (uuid, name, crm, specialty, email, phone, slot_duration, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(crm) DO UPDATE SET
			name = excluded.name,
			specialty = excluded.specialty,
			email = excluded.email,
			phone = excluded.phone,
			slot_duration = excluded.slot_duration,
			active = excluded.active,
			updated_at = excluded.updated_at`,
		d.UUID, d.Name, d.CRM, d.Specialty, d.Email, d.Phone, d.SlotDurationMinutes,
		boolToInt(d.Active), now, now,
	)
	if err != nil {
		return mapWriteError(err, "upsert doctor")
	}

	return db.QueryRowContext(ctx, `SELECT id, uuid FROM doctors WHERE crm = ?`, d.CRM).Scan(&d.ID, &d.UUID)
}

// GetDoctor returns a doctor with weekly hours.
func (db *DB) GetDoctor(ctx context.Context, id int64) (*model.Doctor, error) {
	row := db.QueryRowContext(ctx, `SELECT `+doctorColumns+` FROM doctors WHERE id = ?`, id)
	d, err := scanDoctor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("doctor %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	d.Hours, err = db.GetWorkingHours(ctx, id)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ListDoctors returns doctors ordered by name, without hours.
func (db *DB) ListDoctors(ctx context.Context, activeOnly bool) ([]model.Doctor, error) {
	query := `SELECT ` + doctorColumns + ` FROM doctors`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY name, id`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var doctors []model.Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		doctors = append(doctors, *d)
	}
	return doctors, rows.Err()
}

// GetWorkingHours loads the weekly schedule of a doctor in configured order.
func (db *DB) GetWorkingHours(ctx context.Context, doctorID int64) (availability.WeeklySchedule, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT day_of_week, start_minute, end_minute
		FROM working_hours
		WHERE doctor_id = ?
		ORDER BY day_of_week, position, id`,
		doctorID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	schedule := make(availability.WeeklySchedule)
	for rows.Next() {
		var day, start, end int
		if err := rows.Scan(&day, &start, &end); err != nil {
			return nil, err
		}
		wd := time.Weekday(day)
		schedule[wd] = append(schedule[wd], availability.WorkingPeriod{
			Start: availability.TimeOfDay(start),
			End:   availability.TimeOfDay(end),
		})
	}
	return schedule, rows.Err()
}

// ReplaceWorkingHours swaps the whole weekly schedule of a doctor atomically.
func (db *DB) ReplaceWorkingHours(ctx context.Context, doctorID int64, schedule availability.WeeklySchedule) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := replaceHoursTx(ctx, tx, doctorID, schedule); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE doctors SET updated_at = ? WHERE id = ?`, formatTime(time.Now()), doctorID); err != nil {
		return err
	}
	return tx.Commit()
}

func replaceHoursTx(ctx context.Context, tx *sql.Tx, doctorID int64, schedule availability.WeeklySchedule) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM working_hours WHERE doctor_id = ?`, doctorID); err != nil {
		return fmt.Errorf("clear hours of doctor %d: %w", doctorID, err)
	}

	for day := time.Sunday; day <= time.Saturday; day++ {
		for pos, p := range schedule.PeriodsFor(day) {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO working_hours (doctor_id, day_of_week, position, start_minute, end_minute)
				VALUES (?, ?, ?, ?, ?)`,
				doctorID, int(day), pos, int(p.Start), int(p.End),
			)
			if err != nil {
				return fmt.Errorf("insert hours of doctor %d: %w", doctorID, err)
			}
		}
	}
	return nil
}

func scanDoctor(s scanner) (*model.Doctor, error) {
	var d model.Doctor
	var active int
	var created, updated string
	err := s.Scan(
		&d.ID, &d.UUID, &d.Name, &d.CRM, &d.Specialty, &d.Email, &d.Phone,
		&d.SlotDurationMinutes, &active, &created, &updated,
	)
	if err != nil {
		return nil, err
	}
	d.Active = active == 1
	if d.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &d, nil
}
