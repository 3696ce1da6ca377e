package v0_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v0 "github.com/meetbot-dev/meetbot/internal/orchestrator/api/handlers/v0"
	"github.com/meetbot-dev/meetbot/internal/orchestrator/jobs"
	"github.com/meetbot-dev/meetbot/pkg/models"
)

func TestPoolEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	f.addSlot(t, "meetbot-slot-1")
	f.addSlot(t, "meetbot-slot-2")

	w := f.do(t, http.MethodGet, "/admin/v0/pool/stats", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[models.PoolStats](t, w)
	assert.Equal(t, 2, stats.Idle)
	assert.Equal(t, 2, stats.Total)

	w = f.do(t, http.MethodGet, "/admin/v0/pool/queue", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[models.QueueStats](t, w).Waiting)

	w = f.do(t, http.MethodGet, "/admin/v0/pool/slots?status=IDLE", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	slots := decode[v0.SlotsListBody](t, w).Slots
	require.Len(t, slots, 2)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/admin/v0/pool/slots?status=BUSY", nil, "").Code)

	w = f.do(t, http.MethodDelete, "/admin/v0/pool/slots/"+slots[0].ID, nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/admin/v0/pool/slots/"+slots[0].ID, nil, "").Code)
}

func TestPoolSyncInlineAndAsync(t *testing.T) {
	f := newAPIFixture(t)
	f.addSlot(t, "meetbot-slot-1")
	f.fake.AddWorkload("meetbot-slot-9")

	w := f.do(t, http.MethodPost, "/admin/v0/pool/sync", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	inline := decode[struct {
		Result models.SyncResult `json:"result"`
	}](t, w)
	assert.Equal(t, 1, inline.Result.PlatformOrphansDeleted)

	w = f.do(t, http.MethodPost, "/admin/v0/pool/sync?async=true", nil, "")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	started := decode[struct {
		Job v0.JobStartedBody `json:"job"`
	}](t, w)
	require.NotEmpty(t, started.Job.JobID)

	f.jobs.Wait()
	w = f.do(t, http.MethodGet, "/admin/v0/jobs/"+string(started.Job.JobID), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	job := decode[jobs.Job](t, w)
	assert.Equal(t, jobs.JobStatusCompleted, job.Status)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/admin/v0/jobs/pool-sync-missing", nil, "").Code)
}

func TestPoolRecoverAndEnsure(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/admin/v0/pool/ensure", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 5, decode[v0.EnsureSizeBody](t, w).Created)

	w = f.do(t, http.MethodPost, "/admin/v0/pool/recover", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	recovered := decode[struct {
		Result models.RecoveryResult `json:"result"`
	}](t, w)
	assert.Empty(t, recovered.Result.Recovered)
}

func TestHealthVersionAndNotFound(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/v0/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "coolify", decode[v0.HealthBody](t, w).Platform)

	w = f.do(t, http.MethodGet, "/admin/v0/version", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abc123", decode[v0.VersionBody](t, w).GitCommit)

	w = f.do(t, http.MethodGet, "/bots", nil, "")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "/v0/bots")
}

func TestRequestMetrics(t *testing.T) {
	f := newAPIFixture(t)

	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v0/bots/42", nil, "").Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v0/ping", nil, "").Code)

	w := f.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "meetbot_http_requests_total")
	assert.Contains(t, body, "meetbot_http_errors_total")
	assert.Contains(t, body, "meetbot_http_request_duration_bucket")
	assert.Contains(t, body, `path="/v0/bots/{id}"`)
	assert.NotContains(t, body, `path="/v0/ping"`)
}
