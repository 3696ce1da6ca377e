package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetbot-dev/meetbot/pkg/models"
)

type staticPool struct{}

func (staticPool) Stats(context.Context) (*models.PoolStats, error) {
	return &models.PoolStats{Idle: 2, Healthy: 1, Total: 3, MaxSize: 5}, nil
}

func (staticPool) QueueStats(context.Context) (*models.QueueStats, error) {
	return &models.QueueStats{Waiting: 4}, nil
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	w := httptest.NewRecorder()
	m.PrometheusHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func TestDeploymentsAndPoolGauges(t *testing.T) {
	shutdown, m, err := InitMetrics("test")
	require.NoError(t, err)
	defer func() { _ = shutdown(context.Background()) }()

	m.RecordDeployment(context.Background(), models.PlatformCoolify, OutcomeSuccess)
	m.RecordDeployment(context.Background(), models.PlatformCoolify, OutcomeSuccess)
	require.NoError(t, m.ObservePool(staticPool{}))

	body := scrape(t, m)
	assert.Contains(t, body, "meetbot_deployments_total{")
	assert.Contains(t, body, `outcome="success"`)
	assert.Contains(t, body, `meetbot_pool_slots{`)
	assert.Contains(t, body, `status="IDLE"`)
	assert.Contains(t, body, "meetbot_queue_waiting")
}

func TestNilMetricsRecordsNothing(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordDeployment(context.Background(), models.PlatformLocal, OutcomeFailure)
	})
}

func TestInitMetricsTwice(t *testing.T) {
	for i := 0; i < 2; i++ {
		shutdown, m, err := InitMetrics("test")
		require.NoError(t, err)
		m.Requests.Add(context.Background(), 1)
		assert.Contains(t, scrape(t, m), "meetbot_http_requests_total")
		require.NoError(t, shutdown(context.Background()))
	}
}
