package api

import (
	"context"
	"net/http"

	"mediagenda/internal/booking"
	"mediagenda/internal/db"
	"mediagenda/internal/model"
)

type bookRequest struct {
	DoctorID        int64  `json:"doctor_id"`
	PatientID       int64  `json:"patient_id"`
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes"`
	Reason          string `json:"reason"`
	Notes           string `json:"notes"`
	PriceCents      int64  `json:"price_cents"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type rescheduleRequest struct {
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes"`
}

// POST /api/appointments
func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.StartTime == "" {
		writeError(w, http.StatusBadRequest, "start_time is required")
		return
	}
	start, err := parseDateTime(req.StartTime, s.booking.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	a, err := s.booking.Book(r.Context(), booking.BookRequest{
		DoctorID:        req.DoctorID,
		PatientID:       req.PatientID,
		Start:           start,
		DurationMinutes: req.DurationMinutes,
		Reason:          req.Reason,
		Notes:           req.Notes,
		PriceCents:      req.PriceCents,
		Actor:           actor(r),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// GET /api/appointments?date=YYYY-MM-DD&doctor_id=1&patient_id=2&status=scheduled&limit=50&offset=0
func (s *Server) handleListAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f db.AppointmentFilter

	if q.Get("date") != "" {
		day, err := dateQuery(r, "date", s.booking.Location())
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.From, f.To = day, day.AddDate(0, 0, 1)
	}

	ints := map[string]*int{}
	var doctorID, patientID int
	ints["doctor_id"] = &doctorID
	ints["patient_id"] = &patientID
	ints["limit"] = &f.Limit
	ints["offset"] = &f.Offset
	for name, dst := range ints {
		v, err := intQuery(r, name)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		*dst = v
	}
	f.DoctorID = int64(doctorID)
	f.PatientID = int64(patientID)
	f.Status = model.AppointmentStatus(q.Get("status"))

	appts, err := s.booking.List(r.Context(), f)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if appts == nil {
		appts = []model.Appointment{}
	}
	writeJSON(w, http.StatusOK, appts)
}

// GET /api/appointments/{id}
func (s *Server) handleGetAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a, err := s.booking.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// GET /api/appointments/{id}/history
func (s *Server) handleAppointmentHistory(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	history, err := s.booking.History(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if history == nil {
		history = []model.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, history)
}

type transitionFunc func(ctx context.Context, id int64, actor string) (*model.Appointment, error)

func (s *Server) transition(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a, err := fn(r.Context(), id, actor(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// POST /api/appointments/{id}/confirm
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.booking.Confirm)
}

// POST /api/appointments/{id}/complete
func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.booking.Complete)
}

// POST /api/appointments/{id}/no-show
func (s *Server) handleNoShow(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.booking.MarkNoShow)
}

// POST /api/appointments/{id}/cancel with an optional {"reason": "..."} body.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	s.transition(w, r, func(ctx context.Context, id int64, actor string) (*model.Appointment, error) {
		return s.booking.Cancel(ctx, id, req.Reason, actor)
	})
}

// POST /api/appointments/{id}/reschedule
func (s *Server) handleReschedule(w http.ResponseWriter, r *http.Request) {
	var req rescheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.StartTime == "" {
		writeError(w, http.StatusBadRequest, "start_time is required")
		return
	}
	start, err := parseDateTime(req.StartTime, s.booking.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.transition(w, r, func(ctx context.Context, id int64, actor string) (*model.Appointment, error) {
		return s.booking.Reschedule(ctx, id, start, req.DurationMinutes, actor)
	})
}
