package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	assert.Same(t, Default(), Default())
}

func TestNew_IndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.RecordDoseAction("take")

	assert.Equal(t, 1.0, testutil.ToFloat64(a.doseActions.WithLabelValues("take")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.doseActions.WithLabelValues("take")))
}

func TestRecorders(t *testing.T) {
	m := New()

	m.RecordDoseAction("take")
	m.RecordDoseAction("take")
	m.RecordDoseAction("skip")
	m.RecordEventsGenerated(7)
	m.RecordEventsGenerated(0)
	m.RecordStatusChange("hold")
	m.RecordFrequencyFallback()
	m.RecordPRNDose(false)
	m.RecordPRNDose(true)
	m.RecordRepair([]string{"missing_schedule", "no_future_events"}, 2)
	m.RecordSweep("ok")
	m.RecordRequestLimited()
	m.IncrementActiveConnections()
	m.IncrementActiveConnections()
	m.DecrementActiveConnections()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.doseActions.WithLabelValues("take")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.doseActions.WithLabelValues("skip")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.eventsGenerated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.statusChanges.WithLabelValues("hold")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.frequencyFallbacks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.prnDoses.WithLabelValues("blocked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.repairIssues.WithLabelValues("missing_schedule")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.repairFixes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sweeps.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsLimited))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeConnections))
}

func TestHandler_ExposesMetrics(t *testing.T) {
	m := New()
	m.RecordRequest(200, 25*time.Millisecond)
	m.RecordDoseAction("snooze")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `medtrack_dose_actions_total{action="snooze"} 1`))
	assert.True(t, strings.Contains(body, `medtrack_http_requests_total{code="200"} 1`))
	assert.True(t, strings.Contains(body, "medtrack_http_request_duration_seconds_count 1"))
}
