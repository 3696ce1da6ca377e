package v0_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v0 "github.com/meetbot-dev/meetbot/internal/orchestrator/api/handlers/v0"
	"github.com/meetbot-dev/meetbot/internal/orchestrator/api/router"
	internaldb "github.com/meetbot-dev/meetbot/internal/orchestrator/database"
	"github.com/meetbot-dev/meetbot/internal/orchestrator/jobs"
	"github.com/meetbot-dev/meetbot/internal/orchestrator/pool"
	"github.com/meetbot-dev/meetbot/internal/orchestrator/service"
	"github.com/meetbot-dev/meetbot/internal/orchestrator/telemetry"
	"github.com/meetbot-dev/meetbot/internal/platform"
	platformtesting "github.com/meetbot-dev/meetbot/internal/platform/testing"
	"github.com/meetbot-dev/meetbot/pkg/models"
	"github.com/meetbot-dev/meetbot/pkg/orchestrator/auth"
)

const testSeed = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

type apiFixture struct {
	db      *internaldb.Memory
	fake    *platformtesting.FakePlatform
	svc     service.Service
	jwt     *auth.JWTManager
	jobs    *jobs.Manager
	mux     *http.ServeMux
	metrics *telemetry.Metrics
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	f := &apiFixture{
		db:   internaldb.NewMemory(),
		fake: platformtesting.NewFakePlatform(),
		jobs: jobs.NewManager(ctx),
		mux:  http.NewServeMux(),
	}
	var err error
	f.jwt, err = auth.NewJWTManager(testSeed, time.Hour)
	require.NoError(t, err)

	shutdown, metrics, err := telemetry.InitMetrics("test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })
	f.metrics = metrics

	manager := pool.NewManager(f.db, f.fake, pool.Config{Image: "ghcr.io/meetbot-dev/meeting-bot:v1"})
	f.svc, err = service.NewDeploymentService(f.db, service.Config{
		DefaultPlatform: f.fake.Name(),
		Image:           "ghcr.io/meetbot-dev/meeting-bot:v1",
		Wait:            platform.WaitOptions{Timeout: time.Second, PollInterval: 10 * time.Millisecond},
	}, map[models.PlatformType]service.Backend{f.fake.Name(): {Client: f.fake, Pool: manager}},
		service.WithTokenIssuer(f.jwt),
		service.WithMetrics(metrics),
		service.WithSleep(func(context.Context, time.Duration) error { return nil }),
	)
	require.NoError(t, err)

	versionInfo := &v0.VersionBody{Version: "test", GitCommit: "abc123", BuildTime: "now"}
	router.NewHumaAPI(f.svc, f.mux, metrics, versionInfo, f.jwt, &router.RouteOptions{JobManager: f.jobs})
	return f
}

func (f *apiFixture) addSlot(t *testing.T, name string) *models.PoolSlot {
	t.Helper()
	slot := &models.PoolSlot{
		ID:         uuid.NewString(),
		WorkloadID: f.fake.AddWorkload(name),
		SlotName:   name,
		Platform:   f.fake.Name(),
		Status:     models.SlotStatusIdle,
	}
	require.NoError(t, f.db.CreateSlot(context.Background(), nil, slot))
	return slot
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func deployBody() map[string]any {
	return map[string]any{
		"meetingPlatform": "zoom",
		"meetingUrl":      "https://zoom.us/j/123",
		"botName":         "Notetaker",
	}
}

func TestDeployBotEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	slot := f.addSlot(t, "meetbot-slot-1")

	w := f.do(t, http.MethodPost, "/v0/bots", deployBody(), "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	result := decode[models.DeployResult](t, w)
	assert.Equal(t, models.BotStatusJoiningCall, result.Status)
	assert.Equal(t, slot.WorkloadID, result.WorkloadID)

	w = f.do(t, http.MethodPost, "/v0/bots", deployBody(), "")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	queued := decode[models.DeployResult](t, w)
	assert.True(t, queued.Queued)
	assert.Equal(t, models.BotStatusQueued, queued.Status)

	w = f.do(t, http.MethodGet, fmt.Sprintf("/v0/bots/%d", result.Bot.ID), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, result.Bot.ID, decode[models.Bot](t, w).ID)

	w = f.do(t, http.MethodGet, "/v0/bots?status=QUEUED", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[v0.BotsListBody](t, w)
	require.Len(t, list.Bots, 1)
	assert.Equal(t, queued.Bot.ID, list.Bots[0].ID)
}

func TestDeployBotEndpointErrors(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/v0/bots", map[string]any{"meetingPlatform": "zoom"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body := deployBody()
	body["platform"] = "aws"
	w = f.do(t, http.MethodPost, "/v0/bots", body, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/v0/bots", map[string]any{"botId": 999}, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/v0/bots/999", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/v0/bots?status=SLEEPING", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeployBotEndpointReportsDeployFailure(t *testing.T) {
	f := newAPIFixture(t)
	slot := f.addSlot(t, "meetbot-slot-1")
	f.fake.SetStatus(slot.WorkloadID, "failed")

	w := f.do(t, http.MethodPost, "/v0/bots", deployBody(), "")
	require.Equal(t, http.StatusBadGateway, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "failed after 3 attempt(s)")
}

func TestDeployBotEndpointAsync(t *testing.T) {
	f := newAPIFixture(t)
	f.addSlot(t, "meetbot-slot-1")

	w := f.do(t, http.MethodPost, "/v0/bots?async=true", deployBody(), "")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	result := decode[models.DeployResult](t, w)
	assert.Equal(t, models.BotStatusDeploying, result.Status)

	f.svc.Wait()
	bot, err := f.svc.GetBot(context.Background(), result.Bot.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BotStatusJoiningCall, bot.Status)
}

func TestBotCallbacksRequireToken(t *testing.T) {
	f := newAPIFixture(t)
	f.addSlot(t, "meetbot-slot-1")

	w := f.do(t, http.MethodPost, "/v0/bots", deployBody(), "")
	require.Equal(t, http.StatusCreated, w.Code)
	first := decode[models.DeployResult](t, w)

	w = f.do(t, http.MethodPost, "/v0/bots", deployBody(), "")
	require.Equal(t, http.StatusAccepted, w.Code)
	second := decode[models.DeployResult](t, w)

	heartbeat := fmt.Sprintf("/v0/bots/%d/heartbeat", first.Bot.ID)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, heartbeat, nil, "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, heartbeat, nil, "garbage").Code)

	otherToken, err := f.jwt.IssueBotToken(second.Bot.ID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, heartbeat, nil, otherToken).Code)

	token, err := f.jwt.IssueBotToken(first.Bot.ID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, heartbeat, nil, token).Code)

	status := fmt.Sprintf("/v0/bots/%d/status", first.Bot.ID)
	w = f.do(t, http.MethodPost, status, map[string]any{"status": "NAPPING"}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, status, map[string]any{"status": "DONE"}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.BotStatusDone, decode[models.Bot](t, w).Status)

	f.svc.Wait()
	bot, err := f.svc.GetBot(context.Background(), second.Bot.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BotStatusJoiningCall, bot.Status)
}
