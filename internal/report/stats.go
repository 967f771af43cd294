// Package report aggregates appointments into clinic statistics and exports them
// as Excel workbooks.
package report

import (
	"math"
	"sort"
	"time"

	"mediagenda/internal/model"
)

// Summary holds the headline numbers of a window.
type Summary struct {
	From             string  `json:"from"`
	To               string  `json:"to"`
	Days             int     `json:"days"`
	Total            int     `json:"total"`
	Scheduled        int     `json:"scheduled"`
	Confirmed        int     `json:"confirmed"`
	Completed        int     `json:"completed"`
	Cancelled        int     `json:"cancelled"`
	NoShow           int     `json:"no_show"`
	AttendanceRate   float64 `json:"attendance_rate"`   // percent of appointments completed
	CancellationRate float64 `json:"cancellation_rate"` // percent of appointments cancelled
	MeanPerDay       float64 `json:"mean_per_day"`
	RevenueCents     int64   `json:"revenue_cents"` // completed appointments only
}

type DayCount struct {
	Date      string `json:"date"`
	Total     int    `json:"total"`
	Scheduled int    `json:"scheduled"`
	Confirmed int    `json:"confirmed"`
	Completed int    `json:"completed"`
	Cancelled int    `json:"cancelled"`
	NoShow    int    `json:"no_show"`
}

type DoctorCount struct {
	DoctorID     int64  `json:"doctor_id"`
	Doctor       string `json:"doctor"`
	Total        int    `json:"total"`
	Completed    int    `json:"completed"`
	Cancelled    int    `json:"cancelled"`
	NoShow       int    `json:"no_show"`
	RevenueCents int64  `json:"revenue_cents"`
}

type StatusCount struct {
	Status model.AppointmentStatus `json:"status"`
	Count  int                     `json:"count"`
}

type MonthRevenue struct {
	Month        string `json:"month"` // 2006-01
	Count        int    `json:"count"`
	RevenueCents int64  `json:"revenue_cents"`
}

// Report bundles every view of one window.
type Report struct {
	Summary  Summary        `json:"summary"`
	ByDay    []DayCount     `json:"by_day"`
	ByDoctor []DoctorCount  `json:"by_doctor"`
	ByStatus []StatusCount  `json:"by_status"`
	Revenue  []MonthRevenue `json:"revenue"`
}

// Build computes all views for appointments of the days from..to (inclusive) in loc.
func Build(appts []model.Appointment, from, to time.Time, loc *time.Location) *Report {
	return &Report{
		Summary:  Summarize(appts, from, to),
		ByDay:    ByDay(appts, loc),
		ByDoctor: ByDoctor(appts),
		ByStatus: ByStatus(appts),
		Revenue:  RevenueByMonth(appts, loc),
	}
}

// DaysBetween counts calendar days from..to, both inclusive. It is at least 1.
func DaysBetween(from, to time.Time) int {
	days := 1
	for d := from.AddDate(0, 0, 1); !d.After(to); d = d.AddDate(0, 0, 1) {
		days++
	}
	return days
}

func Summarize(appts []model.Appointment, from, to time.Time) Summary {
	s := Summary{
		From: from.Format("2006-01-02"),
		To:   to.Format("2006-01-02"),
		Days: DaysBetween(from, to),
	}

	for i := range appts {
		a := &appts[i]
		s.Total++
		switch a.Status {
		case model.StatusScheduled:
			s.Scheduled++
		case model.StatusConfirmed:
			s.Confirmed++
		case model.StatusCompleted:
			s.Completed++
			s.RevenueCents += a.PriceCents
		case model.StatusCancelled:
			s.Cancelled++
		case model.StatusNoShow:
			s.NoShow++
		}
	}

	if s.Total > 0 {
		s.AttendanceRate = percent(s.Completed, s.Total)
		s.CancellationRate = percent(s.Cancelled, s.Total)
		s.MeanPerDay = round2(float64(s.Total) / float64(s.Days))
	}
	return s
}

// ByDay counts appointments per local calendar day, oldest first.
func ByDay(appts []model.Appointment, loc *time.Location) []DayCount {
	index := map[string]*DayCount{}
	var out []*DayCount
	for i := range appts {
		a := &appts[i]
		key := a.StartTime.In(loc).Format("2006-01-02")
		d, ok := index[key]
		if !ok {
			d = &DayCount{Date: key}
			index[key] = d
			out = append(out, d)
		}
		d.Total++
		switch a.Status {
		case model.StatusScheduled:
			d.Scheduled++
		case model.StatusConfirmed:
			d.Confirmed++
		case model.StatusCompleted:
			d.Completed++
		case model.StatusCancelled:
			d.Cancelled++
		case model.StatusNoShow:
			d.NoShow++
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	res := make([]DayCount, len(out))
	for i, d := range out {
		res[i] = *d
	}
	return res
}

// ByDoctor counts appointments per doctor, busiest first.
func ByDoctor(appts []model.Appointment) []DoctorCount {
	index := map[int64]*DoctorCount{}
	for i := range appts {
		a := &appts[i]
		d, ok := index[a.DoctorID]
		if !ok {
			d = &DoctorCount{DoctorID: a.DoctorID, Doctor: a.DoctorName}
			index[a.DoctorID] = d
		}
		d.Total++
		switch a.Status {
		case model.StatusCompleted:
			d.Completed++
			d.RevenueCents += a.PriceCents
		case model.StatusCancelled:
			d.Cancelled++
		case model.StatusNoShow:
			d.NoShow++
		}
	}

	out := make([]DoctorCount, 0, len(index))
	for _, d := range index {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].DoctorID < out[j].DoctorID
	})
	return out
}

// ByStatus counts appointments per status in the enum's order, omitting zeros.
func ByStatus(appts []model.Appointment) []StatusCount {
	counts := map[model.AppointmentStatus]int{}
	for i := range appts {
		counts[appts[i].Status]++
	}

	out := []StatusCount{}
	for _, st := range model.AllStatuses {
		if n := counts[st]; n > 0 {
			out = append(out, StatusCount{Status: st, Count: n})
		}
	}
	return out
}

// RevenueByMonth sums completed appointments with a price per local calendar month.
func RevenueByMonth(appts []model.Appointment, loc *time.Location) []MonthRevenue {
	index := map[string]*MonthRevenue{}
	for i := range appts {
		a := &appts[i]
		if a.Status != model.StatusCompleted || a.PriceCents <= 0 {
			continue
		}
		key := a.StartTime.In(loc).Format("2006-01")
		m, ok := index[key]
		if !ok {
			m = &MonthRevenue{Month: key}
			index[key] = m
		}
		m.Count++
		m.RevenueCents += a.PriceCents
	}

	out := make([]MonthRevenue, 0, len(index))
	for _, m := range index {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out
}

func percent(part, total int) float64 {
	return round2(float64(part) * 100 / float64(total))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
