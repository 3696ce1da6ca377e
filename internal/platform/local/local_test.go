package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetbot-dev/meetbot/internal/platform"
)

type fakeRunner struct {
	mu     sync.Mutex
	calls  []string
	output map[string][]byte
}

func (r *fakeRunner) Run(_ context.Context, dir string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cmd := strings.Join(args, " ")
	r.calls = append(r.calls, filepath.Base(dir)+": "+cmd)
	return r.output[cmd], nil
}

func newTestClient(t *testing.T) (*Client, *fakeRunner) {
	t.Helper()
	runner := &fakeRunner{output: map[string][]byte{}}
	c, err := NewClient(t.TempDir(), runner)
	require.NoError(t, err)
	return c, runner
}

func TestCreateWorkloadWritesProject(t *testing.T) {
	c, runner := newTestClient(t)
	ctx := context.Background()

	id, err := c.CreateWorkload(ctx, platform.WorkloadSpec{
		Name:  "meetbot-bot-5",
		Image: "ghcr.io/meetbot-dev/meeting-bot:v1",
		Env:   map[string]string{"BOT_ID": "5"},
	})
	require.NoError(t, err)
	assert.Equal(t, "meetbot-bot-5", id)
	assert.Empty(t, runner.calls)

	content, err := os.ReadFile(filepath.Join(c.runtimeDir, id, composeFile))
	require.NoError(t, err)
	yaml := string(content)
	assert.Contains(t, yaml, "ghcr.io/meetbot-dev/meeting-bot:v1")
	assert.Contains(t, yaml, "BOT_ID")
	assert.Contains(t, yaml, platform.ManagedByLabel)

	_, err = c.CreateWorkload(ctx, platform.WorkloadSpec{Name: "meetbot-bot-5", Image: "bot:v1"})
	require.Error(t, err)

	workloads, err := c.ListWorkloads(ctx)
	require.NoError(t, err)
	require.Len(t, workloads, 1)
	assert.Equal(t, id, workloads[0].ID)
}

func TestDeployStopDelete(t *testing.T) {
	c, runner := newTestClient(t)
	ctx := context.Background()

	id, err := c.CreateWorkload(ctx, platform.WorkloadSpec{Name: "meetbot-bot-1", Image: "bot:v1"})
	require.NoError(t, err)

	require.NoError(t, c.Deploy(ctx, id))
	require.NoError(t, c.Stop(ctx, id))
	require.NoError(t, c.Delete(ctx, id))
	require.NoError(t, c.Delete(ctx, id))
	require.NoError(t, c.Stop(ctx, id))

	assert.Equal(t, []string{
		"meetbot-bot-1: compose up -d --remove-orphans --force-recreate",
		"meetbot-bot-1: compose stop",
		"meetbot-bot-1: compose down -v --remove-orphans",
	}, runner.calls)

	_, err = os.Stat(filepath.Join(c.runtimeDir, id))
	assert.True(t, os.IsNotExist(err))
	assert.True(t, platform.IsNotFound(c.Deploy(ctx, id)))
}

func TestGetStatus(t *testing.T) {
	c, runner := newTestClient(t)
	ctx := context.Background()
	id, err := c.CreateWorkload(ctx, platform.WorkloadSpec{Name: "meetbot-bot-1", Image: "bot:v1"})
	require.NoError(t, err)

	ps := "compose ps --all --format json"

	status, err := c.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, status)

	runner.output[ps] = []byte(`{"Service":"bot","State":"running","Health":"","ExitCode":0}` + "\n")
	status, err = c.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, status)
	assert.Equal(t, platform.StatusFinished, c.Vocabulary().Normalize(status))

	runner.output[ps] = []byte(`[{"Service":"bot","State":"exited","ExitCode":137}]`)
	status, err = c.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, status)

	runner.output[ps] = []byte(`[{"Service":"bot","State":"exited","ExitCode":0}]`)
	status, err = c.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.True(t, c.Vocabulary().IsTransitional(status))

	_, err = c.GetStatus(ctx, "missing")
	assert.True(t, platform.IsNotFound(err))
}

func TestProjectName(t *testing.T) {
	assert.Equal(t, "meetbot-bot-1", ProjectName("meetbot-bot-1"))
	assert.Equal(t, "daily-sync", ProjectName("Daily Sync"))
	assert.Equal(t, "", ProjectName("!!!"))
}
