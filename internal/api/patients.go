package api

import (
	"net/http"
	"time"

	"mediagenda/internal/model"
)

type patientRequest struct {
	Name           string `json:"name"`
	CPF            string `json:"cpf"`
	Phone          string `json:"phone"`
	WhatsApp       string `json:"whatsapp"`
	Email          string `json:"email"`
	BirthDate      string `json:"birth_date"` // YYYY-MM-DD
	TelegramChatID int64  `json:"telegram_chat_id"`
	Notes          string `json:"notes"`
}

func (req *patientRequest) toPatient() (*model.Patient, error) {
	p := &model.Patient{
		Name:           req.Name,
		CPF:            req.CPF,
		Phone:          req.Phone,
		WhatsApp:       req.WhatsApp,
		Email:          req.Email,
		TelegramChatID: req.TelegramChatID,
		Notes:          req.Notes,
	}
	if req.BirthDate != "" {
		d, err := time.Parse("2006-01-02", req.BirthDate)
		if err != nil {
			return nil, err
		}
		p.BirthDate = &d
	}
	return p, nil
}

// POST /api/patients
func (s *Server) handleCreatePatient(w http.ResponseWriter, r *http.Request) {
	var req patientRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := req.toPatient()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid birth_date format; expected YYYY-MM-DD")
		return
	}

	if err := s.booking.CreatePatient(r.Context(), p); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// GET /api/patients?q=silva&limit=20
func (s *Server) handleSearchPatients(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	patients, err := s.booking.SearchPatients(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if patients == nil {
		patients = []model.Patient{}
	}
	writeJSON(w, http.StatusOK, patients)
}

// GET /api/patients/{id}
func (s *Server) handleGetPatient(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := s.booking.Patient(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// PUT /api/patients/{id}
func (s *Server) handleUpdatePatient(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req patientRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := req.toPatient()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid birth_date format; expected YYYY-MM-DD")
		return
	}
	p.ID = id

	if err := s.booking.UpdatePatient(r.Context(), p); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	updated, err := s.booking.Patient(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DELETE /api/patients/{id}
func (s *Server) handleDeactivatePatient(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.booking.DeactivatePatient(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/patients/{id}/appointments
func (s *Server) handlePatientAppointments(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	appts, err := s.booking.PatientAppointments(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if appts == nil {
		appts = []model.Appointment{}
	}
	writeJSON(w, http.StatusOK, appts)
}
