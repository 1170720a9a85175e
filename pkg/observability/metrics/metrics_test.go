package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersAndExposition(t *testing.T) {
	m := New()
	m.VitalStored()
	m.VitalStored()
	m.DuplicateIgnored()
	m.AuthRejected("invalid_credential")
	m.ObserveRequest(http.MethodPost, "/api/v1/patients/{id}/vitals", http.StatusCreated, 5*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.vitalsStored))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.duplicatesIgnored))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.authRejections.WithLabelValues("invalid_credential")))

	rw := httptest.NewRecorder()
	m.Handler().ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rw.Code)
	assert.Contains(t, rw.Body.String(), "vitals_readings_stored_total 2")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.VitalStored()
		m.DuplicateIgnored()
		m.DeviceRegistered()
		m.AuthRejected("missing_credential")
		m.ValidationFailed("vital_submission")
		m.ObserveRequest(http.MethodGet, "/health", http.StatusOK, time.Millisecond)
	})
}
