package api

import (
	"net/http"
	"strings"

	"mediagenda/internal/availability"
	"mediagenda/internal/booking"
	"mediagenda/internal/config"
	"mediagenda/internal/model"
)

// doctorResponse is a doctor with weekly hours keyed by weekday name.
type doctorResponse struct {
	*model.Doctor
	Hours map[string][]availability.WorkingPeriod `json:"hours"`
}

type availabilityResponse struct {
	*booking.DayAvailability
	Times  []availability.SlotInfo `json:"times"`
	Blocks []availability.SlotInfo `json:"blocks"`
}

type durationOption struct {
	Minutes int    `json:"minutes"`
	Label   string `json:"label"`
}

// GET /api/doctors
func (s *Server) handleListDoctors(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") != "true"
	doctors, err := s.booking.Doctors(r.Context(), activeOnly)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if doctors == nil {
		doctors = []model.Doctor{}
	}
	writeJSON(w, http.StatusOK, doctors)
}

// GET /api/doctors/{id}
func (s *Server) handleGetDoctor(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	d, err := s.booking.Doctor(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doctorResponse{Doctor: d, Hours: d.Hours.ByName()})
}

// PUT /api/doctors/{id}/hours with a body like {"monday": ["08:00-12:00", "14:00-18:00"]}.
func (s *Server) handleUpdateHours(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var hours config.HoursConfig
	if err := decodeJSON(r, &hours); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	schedule, err := hours.Schedule()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	d, err := s.booking.UpdateHours(r.Context(), id, schedule)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doctorResponse{Doctor: d, Hours: d.Hours.ByName()})
}

// GET /api/doctors/{id}/availability?date=YYYY-MM-DD&duration=30
func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	date, err := dateQuery(r, "date", s.booking.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	duration, err := intQuery(r, "duration")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	day, err := s.booking.Availability(r.Context(), id, date, duration)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAvailabilityResponse(day))
}

// GET /api/doctors/{id}/availability/range?start=YYYY-MM-DD&end=YYYY-MM-DD&duration=30
func (s *Server) handleAvailabilityRange(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	loc := s.booking.Location()
	start, err := dateQuery(r, "start", loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := dateQuery(r, "end", loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	duration, err := intQuery(r, "duration")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	days, err := s.booking.AvailabilityRange(r.Context(), id, start, end, duration)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]availabilityResponse, len(days))
	for i := range days {
		out[i] = toAvailabilityResponse(&days[i])
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /api/doctors/{id}/availability/durations?date=YYYY-MM-DD&start=HH:MM
// lists the appointment lengths that fit from a free slot onwards.
func (s *Server) handleDurationOptions(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	date, err := dateQuery(r, "date", s.booking.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tod, err := availability.ParseTimeOfDay(strings.TrimSpace(r.URL.Query().Get("start")))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start; expected HH:MM")
		return
	}

	day, err := s.booking.Availability(r.Context(), id, date, 0)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	opts := []durationOption{}
	for _, m := range availability.DurationOptions(day.Slots, tod.On(date), day.DurationMinutes) {
		opts = append(opts, durationOption{Minutes: m, Label: availability.FormatDuration(m)})
	}
	writeJSON(w, http.StatusOK, opts)
}

func toAvailabilityResponse(day *booking.DayAvailability) availabilityResponse {
	return availabilityResponse{
		DayAvailability: day,
		Times:           availability.ToSlotInfo(day.Slots),
		Blocks:          availability.FreeBlocks(day.Slots),
	}
}
