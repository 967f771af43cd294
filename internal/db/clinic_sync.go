package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"mediagenda/internal/availability"
	"mediagenda/internal/config"
)

// SyncClinic applies clinic.yaml to the database. It upserts doctors by CRM and marks
// doctors missing from the file inactive.
//
// Weekly hours are replaced only when the doctor's hours in the file differ from the
// ones applied by the previous sync, so hours edited through the API survive restarts
// and reloads until the file itself changes them.
func (db *DB) SyncClinic(ctx context.Context, cfg *config.ClinicConfig) error {
	if cfg == nil {
		return fmt.Errorf("clinic config is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := formatTime(time.Now())
	seen := make(map[int64]struct{}, len(cfg.Doctors))
	updated := 0

	for i := range cfg.Doctors {
		doc := &cfg.Doctors[i]
		var (
			id      int64
			applied string
		)
		err := tx.QueryRowContext(ctx, `
			INSERT INTO doctors (uuid, name, crm, specialty, email, phone, slot_duration, active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(crm) DO UPDATE SET
				name = excluded.name,
				specialty = excluded.specialty,
				email = excluded.email,
				phone = excluded.phone,
				slot_duration = excluded.slot_duration,
				active = excluded.active,
				updated_at = excluded.updated_at
			RETURNING id, config_hours`,
			uuid.NewString(), doc.Name, doc.CRM, doc.Specialty, doc.Email, doc.Phone, doc.SlotDurationMinutes,
			boolToInt(doc.IsActive()), now, now,
		).Scan(&id, &applied)
		if err != nil {
			return fmt.Errorf("sync doctor %s: %w", doc.CRM, err)
		}
		seen[id] = struct{}{}

		schedule := doc.Schedule()
		fingerprint := hoursFingerprint(schedule)
		if fingerprint == applied {
			continue
		}
		if err := replaceHoursTx(ctx, tx, id, schedule); err != nil {
			return fmt.Errorf("sync doctor %s hours: %w", doc.CRM, err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE doctors SET config_hours = ? WHERE id = ?`, fingerprint, id); err != nil {
			return fmt.Errorf("sync doctor %s hours: %w", doc.CRM, err)
		}
		updated++
	}

	rows, err := tx.QueryContext(ctx, `SELECT id FROM doctors WHERE active = 1`)
	if err != nil {
		return err
	}
	var stale []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		if _, ok := seen[id]; !ok {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range stale {
		if _, err := tx.ExecContext(ctx, `UPDATE doctors SET active = 0, updated_at = ? WHERE id = ?`, now, id); err != nil {
			return fmt.Errorf("deactivate doctor %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	db.logger.Info().
		Int("doctors", len(cfg.Doctors)).
		Int("hours_updated", updated).
		Int("deactivated", len(stale)).
		Msg("Clinic config synced")
	return nil
}

// hoursFingerprint is a canonical text form of a weekly schedule, never empty.
func hoursFingerprint(schedule availability.WeeklySchedule) string {
	var b strings.Builder
	b.WriteString("v1")
	for day := time.Sunday; day <= time.Saturday; day++ {
		for _, p := range schedule.PeriodsFor(day) {
			fmt.Fprintf(&b, "|%d:%s", int(day), p)
		}
	}
	return b.String()
}
