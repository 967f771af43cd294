package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"mediagenda/internal/report"
)

func (s *Server) reportRange(r *http.Request) (from, to time.Time, err error) {
	loc := s.booking.Location()
	if from, err = dateQuery(r, "from", loc); err != nil {
		return
	}
	to, err = dateQuery(r, "to", loc)
	return
}

// handleReport serves one view of the report for ?from=YYYY-MM-DD&to=YYYY-MM-DD.
func (s *Server) handleReport(view func(*report.Report) any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, to, err := s.reportRange(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		rep, err := s.reports.Build(r.Context(), from, to)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view(rep))
	}
}

// GET /api/reports/export?from=YYYY-MM-DD&to=YYYY-MM-DD
func (s *Server) handleReportExport(w http.ResponseWriter, r *http.Request) {
	from, to, err := s.reportRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rep, err := s.reports.Build(r.Context(), from, to)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteReport(&buf, rep); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	filename := fmt.Sprintf("report_%s_%s.xlsx", rep.Summary.From, rep.Summary.To)
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
