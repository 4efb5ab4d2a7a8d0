package telemetry_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AlxanderArt/HumanOS/pkg/telemetry"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestOpsMux_Healthz(t *testing.T) {
	assert.Equal(t, http.StatusOK, get(t, telemetry.NewOpsMux(nil), "/healthz").Code)
}

func TestOpsMux_Readyz_NilFuncIsReady(t *testing.T) {
	assert.Equal(t, http.StatusOK, get(t, telemetry.NewOpsMux(nil), "/readyz").Code)
}

func TestOpsMux_Readyz_ReportsFailure(t *testing.T) {
	mux := telemetry.NewOpsMux(func(context.Context) error { return errors.New("postgres down") })
	rec := get(t, mux, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "postgres down")
}

func TestOpsMux_Metrics(t *testing.T) {
	telemetry.RoutingDecisionsTotal.WithLabelValues("auto_accept").Inc()
	rec := get(t, telemetry.NewOpsMux(nil), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "humanos_routing_decisions_total")
}
