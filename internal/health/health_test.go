package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type fakeDB struct {
	err error
}

func (f *fakeDB) PingContext(context.Context) error { return f.err }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHandler(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	db := &fakeDB{}
	h := Handler(NewChecker(db, rdb))

	assert.Equal(t, http.StatusOK, get(t, h, "/healthz").Code)

	rec := get(t, h, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", rec.Body.String())

	db.err = errors.New("disk I/O error")
	rec = get(t, h, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "db not ready"))

	db.err = nil
	mr.Close()
	rec = get(t, h, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "redis not ready")
	assert.Equal(t, http.StatusOK, get(t, h, "/healthz").Code, "liveness ignores dependencies")
}

func TestCheckerWithoutRedis(t *testing.T) {
	assert.NoError(t, NewChecker(&fakeDB{}, nil).Check(context.Background()))
}

func TestUpdateGRPCStatus(t *testing.T) {
	ctx := context.Background()
	db := &fakeDB{}
	c := NewChecker(db, nil)
	hs := grpchealth.NewServer()

	Update(ctx, c, hs)
	resp, err := hs.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	db.err = errors.New("closed")
	Update(ctx, c, hs)
	resp, err = hs.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)
}

func TestMetricsHandler(t *testing.T) {
	rec := get(t, MetricsHandler(), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}
