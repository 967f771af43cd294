package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"mediagenda/internal/model"
)

const dateLayout = "2006-01-02"

const patientColumns = `id, uuid, name, cpf, phone, whatsapp, email, birth_date, telegram_chat_id,
	notes, active, created_at, updated_at`

// CreatePatient inserts a patient. A duplicate CPF among active patients yields ErrConflict.
func (db *DB) CreatePatient(ctx context.Context, p *model.Patient) error {
	now := time.Now().UTC().Truncate(time.Second)
	if p.UUID == "" {
		p.UUID = uuid.NewString()
	}
	p.Active = true
	p.CreatedAt = now
	p.UpdatedAt = now

	res, err := db.ExecContext(ctx, `
		INSERT INTO patients (uuid, name, cpf, phone, whatsapp, email, birth_date, telegram_chat_id,
			notes, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		p.UUID, p.Name, p.CPF, p.Phone, p.WhatsApp, p.Email, nullDate(p.BirthDate), p.TelegramChatID,
		p.Notes, formatTime(now), formatTime(now),
	)
	if err != nil {
		return mapWriteError(err, "create patient")
	}

	p.ID, err = res.LastInsertId()
	return err
}

// GetPatient returns a patient by id, active or not.
func (db *DB) GetPatient(ctx context.Context, id int64) (*model.Patient, error) {
	row := db.QueryRowContext(ctx, `SELECT `+patientColumns+` FROM patients WHERE id = ?`, id)
	p, err := scanPatient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("patient %d: %w", id, ErrNotFound)
	}
	return p, err
}

// UpdatePatient overwrites the editable fields of an active patient.
func (db *DB) UpdatePatient(ctx context.Context, p *model.Patient) error {
	now := time.Now().UTC().Truncate(time.Second)
	res, err := db.ExecContext(ctx, `
		UPDATE patients
		SET name = ?, cpf = ?, phone = ?, whatsapp = ?, email = ?, birth_date = ?,
			telegram_chat_id = ?, notes = ?, updated_at = ?
		WHERE id = ? AND active = 1`,
		p.Name, p.CPF, p.Phone, p.WhatsApp, p.Email, nullDate(p.BirthDate),
		p.TelegramChatID, p.Notes, formatTime(now), p.ID,
	)
	if err != nil {
		return mapWriteError(err, "update patient")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("patient %d: %w", p.ID, ErrNotFound)
	}
	p.UpdatedAt = now
	return nil
}

// SearchPatients finds active patients whose name, CPF or phone contains q.
// An empty q lists active patients by name.
func (db *DB) SearchPatients(ctx context.Context, q string, limit int) ([]model.Patient, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `SELECT ` + patientColumns + ` FROM patients WHERE active = 1`
	args := []any{}
	if q = strings.TrimSpace(q); q != "" {
		like := "%" + q + "%"
		query += ` AND (name LIKE ? OR cpf LIKE ? OR phone LIKE ? OR whatsapp LIKE ?)`
		args = append(args, like, like, like, like)
	}
	query += ` ORDER BY name, id LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patients []model.Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		patients = append(patients, *p)
	}
	return patients, rows.Err()
}

// DeactivatePatient soft-deletes a patient. It is refused with ErrHasFutureAppointments
// while the patient has upcoming holding appointments.
func (db *DB) DeactivatePatient(ctx context.Context, id int64, now time.Time) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var upcoming int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM appointments
		WHERE patient_id = ? AND start_time >= ? AND status IN (` + holdingStatuses + `)`,
		id, formatTime(now),
	).Scan(&upcoming)
	if err != nil {
		return err
	}
	if upcoming > 0 {
		return fmt.Errorf("patient %d: %d upcoming: %w", id, upcoming, ErrHasFutureAppointments)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE patients SET active = 0, updated_at = ? WHERE id = ? AND active = 1`,
		formatTime(now), id,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("patient %d: %w", id, ErrNotFound)
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPatient(s scanner) (*model.Patient, error) {
	var p model.Patient
	var birth sql.NullString
	var active int
	var created, updated string
	err := s.Scan(
		&p.ID, &p.UUID, &p.Name, &p.CPF, &p.Phone, &p.WhatsApp, &p.Email, &birth,
		&p.TelegramChatID, &p.Notes, &active, &created, &updated,
	)
	if err != nil {
		return nil, err
	}
	p.Active = active == 1
	if birth.Valid && birth.String != "" {
		t, err := time.Parse(dateLayout, birth.String)
		if err != nil {
			return nil, fmt.Errorf("parse birth date: %w", err)
		}
		p.BirthDate = &t
	}
	if p.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &p, nil
}

func nullDate(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.Format(dateLayout)
}
