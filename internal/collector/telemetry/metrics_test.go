package telemetry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsAreIsolatedPerInstance(t *testing.T) {
	a, b := New(), New()
	a.ThreatsTotal.Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.ThreatsTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.ThreatsTotal))
}

func TestEnrichFailedCountsByLookup(t *testing.T) {
	m := New()
	geo := m.EnrichFailed("geo")
	geo(errors.New("x"))
	geo(errors.New("y"))
	m.EnrichFailed("reputation")(errors.New("z"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EnrichFailures.WithLabelValues("geo")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EnrichFailures.WithLabelValues("reputation")))
}

func TestHandlerExposesNamespace(t *testing.T) {
	m := New()
	m.EventsTotal.WithLabelValues("packet").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `netsentry_events_total{source="packet"} 1`))
}
