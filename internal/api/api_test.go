package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"mediagenda/internal/availability"
	"mediagenda/internal/booking"
	"mediagenda/internal/db"
	"mediagenda/internal/model"
	"mediagenda/internal/report"
)

const testKey = "secret"

type testEnv struct {
	server  *httptest.Server
	doctor  *model.Doctor
	patient *model.Patient
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := zerolog.New(io.Discard)

	store, err := db.Open(filepath.Join(t.TempDir(), "api.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	doctor := &model.Doctor{Name: "Dr. Ana", CRM: "CRM-1", SlotDurationMinutes: 30, Active: true}
	require.NoError(t, store.UpsertDoctor(ctx, doctor))
	require.NoError(t, store.ReplaceWorkingHours(ctx, doctor.ID, availability.WeeklySchedule{
		time.Monday: {
			{Start: availability.MustParseTimeOfDay("09:00"), End: availability.MustParseTimeOfDay("10:00")},
		},
	}))
	patient := &model.Patient{Name: "Maria Silva", CPF: "123.456.789-09"}
	require.NoError(t, store.CreatePatient(ctx, patient))

	now := time.Date(2030, 3, 1, 8, 0, 0, 0, time.UTC)
	bookingSvc := booking.NewService(store, nil, nil, nil, booking.Options{
		Location: time.UTC,
		Now:      func() time.Time { return now },
	}, &logger)
	reports := report.NewService(store, time.UTC)

	srv := httptest.NewServer(NewServer(bookingSvc, reports, opts, &logger).Router())
	t.Cleanup(srv.Close)
	return &testEnv{server: srv, doctor: doctor, patient: patient}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.server.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set(apiKeyHeader, testKey)
	req.Header.Set("x-actor", "reception")
	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (e *testEnv) book(t *testing.T, start string) *http.Response {
	return e.do(t, http.MethodPost, "/api/appointments", map[string]any{
		"doctor_id":  e.doctor.ID,
		"patient_id": e.patient.ID,
		"start_time": start,
		"reason":     "checkup",
	})
}

func TestAuthentication(t *testing.T) {
	env := newTestEnv(t, Options{APIKey: testKey})

	resp, err := http.Get(env.server.URL + "/api/doctors")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/doctors", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	doctors := decode[[]model.Doctor](t, resp)
	require.Len(t, doctors, 1)
	assert.Equal(t, "Dr. Ana", doctors[0].Name)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, Options{RateLimitRPS: 1, RateLimitBurst: 2})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, env.do(t, http.MethodGet, "/api/doctors", nil).StatusCode)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRateLimitIgnoresForwardedForByDefault(t *testing.T) {
	get := func(env *testEnv, forwarded string) int {
		req, err := http.NewRequest(http.MethodGet, env.server.URL+"/api/doctors", nil)
		require.NoError(t, err)
		req.Header.Set(apiKeyHeader, testKey)
		req.Header.Set("X-Forwarded-For", forwarded)
		resp, err := env.server.Client().Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	env := newTestEnv(t, Options{RateLimitRPS: 1, RateLimitBurst: 1})
	assert.Equal(t, http.StatusOK, get(env, "10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, get(env, "10.0.0.2"))

	proxied := newTestEnv(t, Options{RateLimitRPS: 1, RateLimitBurst: 1, TrustProxy: true})
	assert.Equal(t, http.StatusOK, get(proxied, "10.0.0.1"))
	assert.Equal(t, http.StatusOK, get(proxied, "10.0.0.2"))
	assert.Equal(t, http.StatusTooManyRequests, get(proxied, "10.0.0.1"))
}

func TestAvailabilityEndpoint(t *testing.T) {
	env := newTestEnv(t, Options{})
	path := fmt.Sprintf("/api/doctors/%d/availability?date=2030-03-04", env.doctor.ID)

	resp := env.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, float64(30), body["duration_minutes"])
	assert.Equal(t, false, body["closed"])
	times := body["times"].([]any)
	require.Len(t, times, 2)
	assert.Equal(t, "09:00", times[0].(map[string]any)["start"])
	assert.Equal(t, "09:30", times[1].(map[string]any)["start"])
	blocks := body["blocks"].([]any)
	require.Len(t, blocks, 1)
	assert.Equal(t, map[string]any{"start": "09:00", "end": "10:00"}, blocks[0])

	resp = env.do(t, http.MethodGet, path+"&duration=-15", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodGet, fmt.Sprintf("/api/doctors/%d/availability?date=03/04/2030", env.doctor.ID), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/doctors/999/availability?date=2030-03-04", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Tuesday has no hours.
	resp = env.do(t, http.MethodGet, fmt.Sprintf("/api/doctors/%d/availability?date=2030-03-05", env.doctor.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decode[map[string]any](t, resp)
	assert.Equal(t, true, body["closed"])
	assert.Empty(t, body["times"])
	assert.Empty(t, body["blocks"])
}

func TestDurationOptionsEndpoint(t *testing.T) {
	env := newTestEnv(t, Options{})
	resp := env.do(t, http.MethodGet,
		fmt.Sprintf("/api/doctors/%d/availability/durations?date=2030-03-04&start=09:00", env.doctor.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	opts := decode[[]durationOption](t, resp)
	require.Len(t, opts, 2)
	assert.Equal(t, 30, opts[0].Minutes)
	assert.Equal(t, 60, opts[1].Minutes)
}

func TestUpdateHoursEndpoint(t *testing.T) {
	env := newTestEnv(t, Options{})
	path := fmt.Sprintf("/api/doctors/%d/hours", env.doctor.ID)

	resp := env.do(t, http.MethodPut, path, map[string][]string{"tuesday": {"08:00-09:00"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Contains(t, body["hours"], "tuesday")

	resp = env.do(t, http.MethodPut, path, map[string][]string{"tuesday": {"nine-ten"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPut, path, map[string][]string{
		"Tuesday": {"08:00-09:00"},
		"tuesday": {"10:00-11:00"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBookingFlow(t *testing.T) {
	env := newTestEnv(t, Options{})

	resp := env.book(t, "2030-03-04T09:00")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	appt := decode[model.Appointment](t, resp)
	assert.Equal(t, model.StatusScheduled, appt.Status)
	assert.Equal(t, "reception", appt.CreatedBy)

	resp = env.book(t, "2030-03-04T09:00")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = env.book(t, "2030-03-04T09:10")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/appointments?date=2030-03-04", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]model.Appointment](t, resp), 1)

	base := fmt.Sprintf("/api/appointments/%d", appt.ID)
	resp = env.do(t, http.MethodPost, base+"/confirm", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, model.StatusConfirmed, decode[model.Appointment](t, resp).Status)

	resp = env.do(t, http.MethodPost, base+"/reschedule", map[string]any{"start_time": "2030-03-04T09:30"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	moved := decode[model.Appointment](t, resp)
	assert.Equal(t, 9, moved.StartTime.UTC().Hour())
	assert.Equal(t, 30, moved.StartTime.UTC().Minute())

	resp = env.do(t, http.MethodPost, base+"/cancel", map[string]string{"reason": "patient request"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cancelled := decode[model.Appointment](t, resp)
	assert.Equal(t, model.StatusCancelled, cancelled.Status)
	assert.Equal(t, "patient request", cancelled.CancelReason)

	resp = env.do(t, http.MethodPost, base+"/complete", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = env.do(t, http.MethodGet, base+"/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.GreaterOrEqual(t, len(decode[[]model.HistoryEntry](t, resp)), 3)

	// The slot is free again.
	resp = env.book(t, "2030-03-04T09:00")
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestBookingErrors(t *testing.T) {
	env := newTestEnv(t, Options{})

	resp := env.do(t, http.MethodPost, "/api/appointments", map[string]any{"doctor_id": env.doctor.ID, "bogus": 1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/appointments", map[string]any{"doctor_id": env.doctor.ID})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.book(t, "tomorrow")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/appointments/12345", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/appointments/abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPatientEndpoints(t *testing.T) {
	env := newTestEnv(t, Options{})

	resp := env.do(t, http.MethodPost, "/api/patients", map[string]any{
		"name":       "João Souza",
		"phone":      "+55 11 99999-0000",
		"birth_date": "1980-05-17",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[model.Patient](t, resp)
	require.NotZero(t, created.ID)
	require.NotNil(t, created.BirthDate)

	resp = env.do(t, http.MethodPost, "/api/patients", map[string]any{"name": "Dup", "cpf": "123.456.789-09"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/patients?q=Souza", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	found := decode[[]model.Patient](t, resp)
	require.Len(t, found, 1)
	assert.Equal(t, created.ID, found[0].ID)

	path := fmt.Sprintf("/api/patients/%d", created.ID)
	resp = env.do(t, http.MethodPut, path, map[string]any{"name": "João P. Souza", "email": "joao@example.com"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "joao@example.com", decode[model.Patient](t, resp).Email)

	resp = env.do(t, http.MethodGet, path+"/appointments", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]model.Appointment](t, resp))

	resp = env.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/patients/999", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReportEndpoints(t *testing.T) {
	env := newTestEnv(t, Options{})
	require.Equal(t, http.StatusCreated, env.book(t, "2030-03-04T09:00").StatusCode)

	resp := env.do(t, http.MethodGet, "/api/reports/summary?from=2030-03-01&to=2030-03-31", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summary := decode[report.Summary](t, resp)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 31, summary.Days)

	resp = env.do(t, http.MethodGet, "/api/reports/by-doctor?from=2030-03-01&to=2030-03-31", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	byDoctor := decode[[]report.DoctorCount](t, resp)
	require.Len(t, byDoctor, 1)
	assert.Equal(t, env.doctor.ID, byDoctor[0].DoctorID)

	resp = env.do(t, http.MethodGet, "/api/reports/summary?from=2030-03-31&to=2030-03-01", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/reports/summary?from=2030-03-01", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/reports/export?from=2030-03-01&to=2030-03-31", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "report_2030-03-01_2030-03-31.xlsx")
	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer f.Close()
	assert.Contains(t, f.GetSheetList(), "Summary")
}

func TestClientLimiterForgetsIdleClients(t *testing.T) {
	l := newClientLimiter(1, 1, time.Minute)
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, l.allow("a", now))
	assert.False(t, l.allow("a", now))
	assert.True(t, l.allow("b", now))

	later := now.Add(2 * time.Minute)
	assert.True(t, l.allow("c", later))
	l.mu.Lock()
	assert.Len(t, l.clients, 1)
	l.mu.Unlock()
}
