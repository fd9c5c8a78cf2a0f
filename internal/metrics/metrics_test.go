package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_StoreWrite(t *testing.T) {
	m := New()
	m.StoreWrite(1200, 3, 2)
	m.StoreWrite(800, 2, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.StoreWrites))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Evictions))
	assert.Equal(t, 800.0, testutil.ToFloat64(m.BytesInUse))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TabsStored))
}

func TestMetrics_InstancesDoNotCollide(t *testing.T) {
	a := New()
	b := New()
	a.RecordEvent("Network.responseReceivedExtraInfo", "ok")

	assert.Equal(t, 1.0, testutil.ToFloat64(a.EventsTotal.WithLabelValues("Network.responseReceivedExtraInfo", "ok")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.EventsTotal.WithLabelValues("Network.responseReceivedExtraInfo", "ok")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordEvent("x", "ok")
		m.RecordObservations("response", 3)
		m.RecordDropped("untrackable")
		m.StoreWrite(1, 1, 1)
		m.QuotaFailure()
		m.IncWSConnections()
		m.DecWSConnections()
		m.RecordWSMessage("BADGE")
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.QuotaFailure()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cookielens_store_quota_failures_total 1")
}
