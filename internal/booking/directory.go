package booking

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"mediagenda/internal/availability"
	"mediagenda/internal/db"
	"mediagenda/internal/model"
)

// Doctors lists doctors; activeOnly hides deactivated ones.
func (s *Service) Doctors(ctx context.Context, activeOnly bool) ([]model.Doctor, error) {
	return s.store.ListDoctors(ctx, activeOnly)
}

// Doctor returns a doctor with weekly hours.
func (s *Service) Doctor(ctx context.Context, id int64) (*model.Doctor, error) {
	d, err := s.doctors.GetDoctor(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrDoctorNotFound
	}
	return d, err
}

// UpdateHours validates and replaces the weekly hours of a doctor.
func (s *Service) UpdateHours(ctx context.Context, doctorID int64, schedule availability.WeeklySchedule) (*model.Doctor, error) {
	if err := schedule.Validate(); err != nil {
		return nil, validationError("%s", err.Error())
	}
	if _, err := s.Doctor(ctx, doctorID); err != nil {
		return nil, err
	}

	if err := s.store.ReplaceWorkingHours(ctx, doctorID, schedule); err != nil {
		return nil, err
	}
	s.doctors.Invalidate(ctx, doctorID)

	s.logger.Info().Int64("doctor_id", doctorID).Msg("working hours replaced")
	return s.Doctor(ctx, doctorID)
}

// CreatePatient registers a patient.
func (s *Service) CreatePatient(ctx context.Context, p *model.Patient) error {
	if err := validatePatient(p); err != nil {
		return err
	}
	err := s.store.CreatePatient(ctx, p)
	if errors.Is(err, db.ErrConflict) {
		return ErrDuplicatePatient
	}
	return err
}

// Patient returns a patient by id.
func (s *Service) Patient(ctx context.Context, id int64) (*model.Patient, error) {
	p, err := s.store.GetPatient(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrPatientNotFound
	}
	return p, err
}

// UpdatePatient overwrites the editable fields of an active patient.
func (s *Service) UpdatePatient(ctx context.Context, p *model.Patient) error {
	if err := validatePatient(p); err != nil {
		return err
	}
	err := s.store.UpdatePatient(ctx, p)
	switch {
	case errors.Is(err, db.ErrNotFound):
		return ErrPatientNotFound
	case errors.Is(err, db.ErrConflict):
		return ErrDuplicatePatient
	}
	return err
}

// SearchPatients finds active patients by name, CPF or phone.
func (s *Service) SearchPatients(ctx context.Context, q string, limit int) ([]model.Patient, error) {
	return s.store.SearchPatients(ctx, q, limit)
}

// DeactivatePatient soft-deletes a patient without upcoming appointments.
func (s *Service) DeactivatePatient(ctx context.Context, id int64) error {
	err := s.store.DeactivatePatient(ctx, id, s.opts.Now())
	switch {
	case errors.Is(err, db.ErrNotFound):
		return ErrPatientNotFound
	case errors.Is(err, db.ErrHasFutureAppointments):
		return ErrPatientHasBookings
	}
	return err
}

// PatientAppointments returns the appointment history of a patient.
func (s *Service) PatientAppointments(ctx context.Context, patientID int64) ([]model.Appointment, error) {
	if _, err := s.Patient(ctx, patientID); err != nil {
		return nil, err
	}
	return s.store.ListAppointments(ctx, db.AppointmentFilter{PatientID: patientID})
}

func validatePatient(p *model.Patient) error {
	p.Name = strings.TrimSpace(p.Name)
	p.CPF = strings.TrimSpace(p.CPF)
	p.Email = strings.TrimSpace(p.Email)

	if p.Name == "" {
		return validationError("name is required")
	}
	if len(p.Name) > 200 {
		return validationError("name is too long")
	}
	if p.Email != "" {
		if _, err := mail.ParseAddress(p.Email); err != nil {
			return validationError("invalid email")
		}
	}
	if p.CPF != "" && !validCPF(p.CPF) {
		return validationError("invalid CPF")
	}
	return nil
}

// validCPF accepts 11 digits with optional "." and "-" separators.
func validCPF(cpf string) bool {
	digits := 0
	for _, r := range cpf {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '.' || r == '-':
		default:
			return false
		}
	}
	return digits == 11
}
