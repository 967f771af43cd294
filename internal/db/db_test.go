package db

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediagenda/internal/availability"
	"mediagenda/internal/config"
	"mediagenda/internal/model"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seed(t *testing.T, db *DB) (doctor *model.Doctor, patient *model.Patient) {
	t.Helper()
	ctx := context.Background()

	doctor = &model.Doctor{Name: "Dr. Ana", CRM: "CRM-1", SlotDurationMinutes: 30, Active: true}
	require.NoError(t, db.UpsertDoctor(ctx, doctor))

	patient = &model.Patient{Name: "Maria Silva", CPF: "123.456.789-00", Phone: "+5511999990000"}
	require.NoError(t, db.CreatePatient(ctx, patient))
	return doctor, patient
}

func appointmentAt(doctor *model.Doctor, patient *model.Patient, start time.Time, minutes int) *model.Appointment {
	return &model.Appointment{
		DoctorID:        doctor.ID,
		PatientID:       patient.ID,
		StartTime:       start,
		DurationMinutes: minutes,
		CreatedBy:       "test",
	}
}

var day = time.Date(2030, 3, 4, 0, 0, 0, 0, time.UTC) // Monday

func TestCreateAppointmentRejectsOverlap(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	doctor, patient := seed(t, db)

	first := appointmentAt(doctor, patient, day.Add(9*time.Hour), 30)
	require.NoError(t, db.CreateAppointment(ctx, first))
	assert.NotZero(t, first.ID)
	assert.NotEmpty(t, first.UUID)
	assert.Equal(t, model.StatusScheduled, first.Status)

	overlapping := appointmentAt(doctor, patient, day.Add(9*time.Hour+15*time.Minute), 30)
	assert.ErrorIs(t, db.CreateAppointment(ctx, overlapping), ErrConflict)

	same := appointmentAt(doctor, patient, day.Add(9*time.Hour), 60)
	assert.ErrorIs(t, db.CreateAppointment(ctx, same), ErrConflict)

	adjacent := appointmentAt(doctor, patient, day.Add(9*time.Hour+30*time.Minute), 30)
	assert.NoError(t, db.CreateAppointment(ctx, adjacent))

	other := &model.Doctor{Name: "Dr. Bruno", CRM: "CRM-2", Active: true}
	require.NoError(t, db.UpsertDoctor(ctx, other))
	assert.NoError(t, db.CreateAppointment(ctx, appointmentAt(other, patient, day.Add(9*time.Hour), 30)))
}

func TestCreateAppointmentConcurrent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	doctor, patient := seed(t, db)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- db.CreateAppointment(ctx, appointmentAt(doctor, patient, day.Add(10*time.Hour), 30))
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrConflict)
	}
	assert.Equal(t, 1, succeeded)
}

func TestCancelledAppointmentFreesSlot(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	doctor, patient := seed(t, db)

	a := appointmentAt(doctor, patient, day.Add(9*time.Hour), 30)
	require.NoError(t, db.CreateAppointment(ctx, a))

	require.NoError(t, db.UpdateAppointmentStatus(ctx, StatusChange{
		ID: a.ID, From: model.StatusScheduled, To: model.StatusCancelled, CancelReason: "patient asked", Actor: "desk",
	}))

	holding, err := db.HoldingAppointments(ctx, doctor.ID, day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, holding)

	assert.NoError(t, db.CreateAppointment(ctx, appointmentAt(doctor, patient, day.Add(9*time.Hour), 30)))

	got, err := db.GetAppointment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Status)
	assert.Equal(t, "patient asked", got.CancelReason)
}

func TestUpdateAppointmentStatusIsCompareAndSwap(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	doctor, patient := seed(t, db)

	a := appointmentAt(doctor, patient, day.Add(9*time.Hour), 30)
	require.NoError(t, db.CreateAppointment(ctx, a))

	confirmAt := time.Date(2030, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, db.UpdateAppointmentStatus(ctx, StatusChange{
		ID: a.ID, From: model.StatusScheduled, To: model.StatusConfirmed, Actor: "desk", At: confirmAt,
	}))

	err := db.UpdateAppointmentStatus(ctx, StatusChange{ID: a.ID, From: model.StatusScheduled, To: model.StatusCancelled})
	assert.ErrorIs(t, err, ErrConflict)

	err = db.UpdateAppointmentStatus(ctx, StatusChange{ID: 9999, From: model.StatusScheduled, To: model.StatusCancelled})
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := db.GetAppointment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, got.Status)
	require.NotNil(t, got.ConfirmedAt)
	assert.Equal(t, confirmAt, *got.ConfirmedAt)
	assert.Equal(t, "desk", got.ConfirmedBy)
	assert.Equal(t, "Dr. Ana", got.DoctorName)
	assert.Equal(t, "Maria Silva", got.PatientName)

	history, err := db.History(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "created", history[0].Action)
	assert.Equal(t, "scheduled", history[1].FromStatus)
	assert.Equal(t, "confirmed", history[1].ToStatus)
}

func TestRescheduleAppointment(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	doctor, patient := seed(t, db)

	a := appointmentAt(doctor, patient, day.Add(9*time.Hour), 30)
	b := appointmentAt(doctor, patient, day.Add(11*time.Hour), 30)
	require.NoError(t, db.CreateAppointment(ctx, a))
	require.NoError(t, db.CreateAppointment(ctx, b))

	err := db.RescheduleAppointment(ctx, a.ID, model.StatusScheduled, day.Add(10*time.Hour+45*time.Minute), 30, "desk")
	assert.ErrorIs(t, err, ErrConflict)

	// Moving within its own interval does not conflict with itself.
	require.NoError(t, db.RescheduleAppointment(ctx, a.ID, model.StatusScheduled, day.Add(9*time.Hour+15*time.Minute), 30, "desk"))

	got, err := db.GetAppointment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, day.Add(9*time.Hour+15*time.Minute), got.StartTime)

	err = db.RescheduleAppointment(ctx, a.ID, model.StatusConfirmed, day.Add(14*time.Hour), 30, "desk")
	assert.ErrorIs(t, err, ErrConflict)

	err = db.RescheduleAppointment(ctx, 4242, model.StatusScheduled, day.Add(14*time.Hour), 30, "desk")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListAppointmentsAndReminders(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	doctor, patient := seed(t, db)

	a := appointmentAt(doctor, patient, day.Add(9*time.Hour), 30)
	b := appointmentAt(doctor, patient, day.Add(26*time.Hour), 30)
	require.NoError(t, db.CreateAppointment(ctx, a))
	require.NoError(t, db.CreateAppointment(ctx, b))

	list, err := db.ListAppointments(ctx, AppointmentFilter{DoctorID: doctor.ID, From: day, To: day.Add(24 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, a.ID, list[0].ID)

	list, err = db.ListAppointments(ctx, AppointmentFilter{PatientID: patient.ID, Status: model.StatusScheduled})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	due, err := db.DueReminders(ctx, day, day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, db.MarkReminderSent(ctx, a.ID))
	due, err = db.DueReminders(ctx, day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestPatients(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	doctor, patient := seed(t, db)

	dup := &model.Patient{Name: "Other", CPF: patient.CPF}
	assert.ErrorIs(t, db.CreatePatient(ctx, dup), ErrConflict)

	found, err := db.SearchPatients(ctx, "silva", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, patient.ID, found[0].ID)

	found, err = db.SearchPatients(ctx, "99999", 10)
	require.NoError(t, err)
	assert.Len(t, found, 1)

	birth := time.Date(1990, 5, 17, 0, 0, 0, 0, time.UTC)
	patient.Email = "maria@example.com"
	patient.BirthDate = &birth
	require.NoError(t, db.UpdatePatient(ctx, patient))

	got, err := db.GetPatient(ctx, patient.ID)
	require.NoError(t, err)
	assert.Equal(t, "maria@example.com", got.Email)
	require.NotNil(t, got.BirthDate)
	assert.Equal(t, birth, *got.BirthDate)

	now := day
	require.NoError(t, db.CreateAppointment(ctx, appointmentAt(doctor, patient, day.Add(9*time.Hour), 30)))
	assert.ErrorIs(t, db.DeactivatePatient(ctx, patient.ID, now), ErrHasFutureAppointments)

	// Once the appointment is in the past the patient can be deactivated.
	require.NoError(t, db.DeactivatePatient(ctx, patient.ID, day.Add(48*time.Hour)))
	got, err = db.GetPatient(ctx, patient.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	// The CPF is free again for a new active record.
	assert.NoError(t, db.CreatePatient(ctx, &model.Patient{Name: "Maria S.", CPF: patient.CPF}))

	_, err = db.GetPatient(ctx, 777)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWorkingHoursRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	doctor, _ := seed(t, db)

	schedule := availability.WeeklySchedule{
		time.Monday: {
			{Start: availability.MustParseTimeOfDay("14:00"), End: availability.MustParseTimeOfDay("18:00")},
			{Start: availability.MustParseTimeOfDay("08:00"), End: availability.MustParseTimeOfDay("12:00")},
		},
		time.Saturday: {
			{Start: availability.MustParseTimeOfDay("08:00"), End: availability.MustParseTimeOfDay("12:00")},
		},
	}
	require.NoError(t, db.ReplaceWorkingHours(ctx, doctor.ID, schedule))

	got, err := db.GetDoctor(ctx, doctor.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule[time.Monday], got.Hours[time.Monday])
	assert.Equal(t, schedule[time.Saturday], got.Hours[time.Saturday])
	assert.Empty(t, got.Hours[time.Sunday])

	_, err = db.GetDoctor(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSyncClinic(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	stale := &model.Doctor{Name: "Dr. Gone", CRM: "CRM-OLD", Active: true}
	require.NoError(t, db.UpsertDoctor(ctx, stale))

	cfg, err := config.ParseClinicConfig([]byte(`
defaults:
  hours:
    monday: ["08:00-12:00", "14:00-18:00"]
doctors:
  - crm: "CRM-1"
    name: "Dr. Ana"
  - crm: "CRM-2"
    name: "Dr. Bruno"
    slot_duration_minutes: 20
    hours:
      tuesday: ["09:00-11:00"]
`))
	require.NoError(t, err)
	require.NoError(t, db.SyncClinic(ctx, cfg))
	// Idempotent.
	require.NoError(t, db.SyncClinic(ctx, cfg))

	doctors, err := db.ListDoctors(ctx, true)
	require.NoError(t, err)
	require.Len(t, doctors, 2)
	assert.Equal(t, "Dr. Ana", doctors[0].Name)
	assert.Equal(t, 30, doctors[0].SlotDurationMinutes)

	ana, err := db.GetDoctor(ctx, doctors[0].ID)
	require.NoError(t, err)
	assert.Len(t, ana.Hours[time.Monday], 2)

	bruno, err := db.GetDoctor(ctx, doctors[1].ID)
	require.NoError(t, err)
	assert.Equal(t, 20, bruno.SlotDurationMinutes)
	assert.Len(t, bruno.Hours[time.Tuesday], 1)
	assert.Empty(t, bruno.Hours[time.Monday])

	gone, err := db.GetDoctor(ctx, stale.ID)
	require.NoError(t, err)
	assert.False(t, gone.Active)
}

func TestSyncClinicKeepsHoursEditedThroughAPI(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	clinic := func(hours string) *config.ClinicConfig {
		cfg, err := config.ParseClinicConfig([]byte(`
doctors:
  - crm: "CRM-1"
    name: "Dr. Ana"
    hours:
      monday: ["` + hours + `"]
`))
		require.NoError(t, err)
		return cfg
	}
	mondayHours := func() []availability.WorkingPeriod {
		doctors, err := db.ListDoctors(ctx, true)
		require.NoError(t, err)
		require.Len(t, doctors, 1)
		hours, err := db.GetWorkingHours(ctx, doctors[0].ID)
		require.NoError(t, err)
		return hours[time.Monday]
	}
	afternoon := availability.WorkingPeriod{
		Start: availability.MustParseTimeOfDay("14:00"),
		End:   availability.MustParseTimeOfDay("18:00"),
	}

	cfg := clinic("08:00-12:00")
	require.NoError(t, db.SyncClinic(ctx, cfg))
	assert.Equal(t, "08:00-12:00", mondayHours()[0].String())

	doctors, err := db.ListDoctors(ctx, true)
	require.NoError(t, err)
	require.NoError(t, db.ReplaceWorkingHours(ctx, doctors[0].ID, availability.WeeklySchedule{
		time.Monday: {afternoon},
	}))

	// A restart re-applies the unchanged file.
	require.NoError(t, db.SyncClinic(ctx, cfg))
	assert.Equal(t, []availability.WorkingPeriod{afternoon}, mondayHours())

	// Editing the file wins again.
	require.NoError(t, db.SyncClinic(ctx, clinic("09:00-11:00")))
	assert.Equal(t, "09:00-11:00", mondayHours()[0].String())
}

func TestOpenAddsMissingColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	logger := zerolog.Nop()
	db, err := Open(path, &logger)
	require.NoError(t, err)
	_, err = db.Exec(`ALTER TABLE doctors DROP COLUMN config_hours`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path, &logger)
	require.NoError(t, err)
	defer db.Close()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('doctors') WHERE name = 'config_hours'`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestTableData(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seed(t, db)

	assert.Contains(t, db.TableNames(), "appointments")

	cols, rows, err := db.TableData(ctx, "doctors")
	require.NoError(t, err)
	assert.Contains(t, cols, "crm")
	require.Len(t, rows, 1)

	_, _, err = db.TableData(ctx, "sqlite_master")
	assert.Error(t, err)
}

func TestBackupService(t *testing.T) {
	db := newTestDB(t)
	seed(t, db)
	logger := zerolog.Nop()
	dir := filepath.Join(t.TempDir(), "backups")

	svc := NewBackupService(db, BackupConfig{Enabled: true, Dir: dir, Retention: time.Hour}, &logger)
	path, err := svc.PerformBackup(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, path)

	restored, err := Open(path, &logger)
	require.NoError(t, err)
	defer restored.Close()
	doctors, err := restored.ListDoctors(context.Background(), false)
	require.NoError(t, err)
	assert.Len(t, doctors, 1)

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))
	assert.Equal(t, 1, svc.CleanupOldBackups(time.Now()))
	assert.NoFileExists(t, path)
}

func TestHoldingStatusesFollowEnum(t *testing.T) {
	assert.Equal(t, "'scheduled', 'confirmed'", holdingStatuses)
	for _, st := range model.AllStatuses {
		assert.Equal(t, st.HoldsCalendar(), strings.Contains(holdingStatuses, "'"+string(st)+"'"), st)
	}
}
