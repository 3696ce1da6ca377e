// Package local runs each bot as its own docker compose project on the host.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/compose-spec/compose-go/v2/types"
	"github.com/stoewer/go-strcase"

	"github.com/meetbot-dev/meetbot/internal/platform"
	"github.com/meetbot-dev/meetbot/pkg/models"
)

const (
	composeFile = "docker-compose.yaml"
	serviceName = "bot"
)

// Native statuses reported by GetStatus
const (
	StatusCreated    = "created"
	StatusRunning    = "running"
	StatusRestarting = "restarting"
	StatusExited     = "exited"
	StatusUnhealthy  = "unhealthy"
	StatusFailed     = "failed"
	StatusDead       = "dead"
)

var vocabulary = platform.Vocabulary{
	Success:      []string{StatusRunning},
	Failure:      []string{StatusFailed, StatusDead, StatusUnhealthy},
	Queued:       []string{StatusCreated},
	Transitional: []string{StatusExited, StatusRestarting},
}

// Runner executes docker commands in a project directory
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "docker", args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return out, fmt.Errorf("docker %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// Client is the local docker compose platform adapter
type Client struct {
	runtimeDir string
	runner     Runner
}

var _ platform.Client = (*Client)(nil)

// NewClient creates a local adapter. A nil runner shells out to the docker CLI.
func NewClient(runtimeDir string, runner Runner) (*Client, error) {
	if runtimeDir == "" {
		return nil, errors.New("local: runtime directory is required")
	}
	if runner == nil {
		runner = execRunner{}
	}
	if err := os.MkdirAll(runtimeDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create runtime directory: %w", err)
	}
	return &Client{runtimeDir: runtimeDir, runner: runner}, nil
}

func (c *Client) Name() models.PlatformType { return models.PlatformLocal }

func (c *Client) Pooled() bool { return false }

func (c *Client) HasOperationTracking() bool { return false }

func (c *Client) Vocabulary() platform.Vocabulary { return vocabulary }

func (c *Client) projectDir(workloadID string) string {
	return filepath.Join(c.runtimeDir, workloadID)
}

func (c *Client) exists(workloadID string) bool {
	_, err := os.Stat(filepath.Join(c.projectDir(workloadID), composeFile))
	return err == nil
}

func notFound(operation, workloadID string) error {
	return &platform.PlatformRequestError{
		Platform:   models.PlatformLocal,
		Operation:  operation,
		StatusCode: http.StatusNotFound,
		Body:       fmt.Sprintf("project %s does not exist", workloadID),
	}
}

// ProjectName converts a workload name into a valid compose project name
func ProjectName(name string) string {
	var b strings.Builder
	for _, r := range strcase.KebabCase(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-_")
}

// Project builds the compose project for a workload
func Project(name, dir string, spec platform.WorkloadSpec) *types.Project {
	envValues := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		envValues = append(envValues, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(envValues)

	labels := types.Labels{platform.ManagedByLabel: platform.ManagedByValue}
	for k, v := range spec.Labels {
		labels[k] = v
	}

	return &types.Project{
		Name:       name,
		WorkingDir: dir,
		Services: types.Services{
			serviceName: types.ServiceConfig{
				Name:        serviceName,
				Image:       spec.Image,
				Environment: types.NewMappingWithEquals(envValues),
				Labels:      labels,
				Restart:     types.RestartPolicyNo,
			},
		},
	}
}

// CreateWorkload writes the compose project; nothing runs until Deploy
func (c *Client) CreateWorkload(_ context.Context, spec platform.WorkloadSpec) (string, error) {
	name := ProjectName(spec.Name)
	if name == "" {
		return "", fmt.Errorf("local: invalid workload name %q", spec.Name)
	}
	if c.exists(name) {
		return "", &platform.PlatformRequestError{
			Platform:   models.PlatformLocal,
			Operation:  "create workload",
			StatusCode: http.StatusConflict,
			Body:       fmt.Sprintf("project %s already exists", name),
		}
	}

	dir := c.projectDir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create project directory: %w", err)
	}
	composeYaml, err := Project(name, dir, spec).MarshalYAML()
	if err != nil {
		return "", fmt.Errorf("failed to marshal docker compose yaml: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, composeFile), composeYaml, 0o600); err != nil {
		return "", fmt.Errorf("failed to write docker compose yaml: %w", err)
	}
	return name, nil
}

// Deploy (re)creates the containers. --force-recreate makes a restart pick up a fresh container.
func (c *Client) Deploy(ctx context.Context, workloadID string) error {
	if !c.exists(workloadID) {
		return notFound("deploy", workloadID)
	}
	_, err := c.runner.Run(ctx, c.projectDir(workloadID), "compose", "up", "-d", "--remove-orphans", "--force-recreate")
	return err
}

func (c *Client) Stop(ctx context.Context, workloadID string) error {
	if !c.exists(workloadID) {
		return nil
	}
	_, err := c.runner.Run(ctx, c.projectDir(workloadID), "compose", "stop")
	return err
}

// Delete tears the project down with its volumes and removes the project directory
func (c *Client) Delete(ctx context.Context, workloadID string) error {
	if !c.exists(workloadID) {
		return nil
	}
	dir := c.projectDir(workloadID)
	if _, err := c.runner.Run(ctx, dir, "compose", "down", "-v", "--remove-orphans"); err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

type psEntry struct {
	Service  string `json:"Service"`
	State    string `json:"State"`
	Health   string `json:"Health"`
	ExitCode int    `json:"ExitCode"`
}

// parsePS accepts both the JSON array and the one-object-per-line formats docker compose has used
func parsePS(out []byte) ([]psEntry, error) {
	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return nil, nil
	}
	if out[0] == '[' {
		var entries []psEntry
		if err := json.Unmarshal(out, &entries); err != nil {
			return nil, err
		}
		return entries, nil
	}
	var entries []psEntry
	dec := json.NewDecoder(bytes.NewReader(out))
	for dec.More() {
		var e psEntry
		if err := dec.Decode(&e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (c *Client) GetStatus(ctx context.Context, workloadID string) (string, error) {
	if !c.exists(workloadID) {
		return "", notFound("get status", workloadID)
	}
	out, err := c.runner.Run(ctx, c.projectDir(workloadID), "compose", "ps", "--all", "--format", "json")
	if err != nil {
		return "", err
	}
	entries, err := parsePS(out)
	if err != nil {
		return "", fmt.Errorf("failed to parse docker compose ps output: %w", err)
	}
	for _, e := range entries {
		if e.Service == serviceName {
			return containerStatus(e), nil
		}
	}
	return StatusCreated, nil
}

func containerStatus(e psEntry) string {
	switch strings.ToLower(e.State) {
	case "running":
		if strings.EqualFold(e.Health, "unhealthy") {
			return StatusUnhealthy
		}
		return StatusRunning
	case "exited":
		if e.ExitCode != 0 {
			return StatusFailed
		}
		return StatusExited
	case "dead":
		return StatusDead
	case "restarting":
		return StatusRestarting
	default:
		return StatusCreated
	}
}

// GetLatestOperation is not supported
func (c *Client) GetLatestOperation(context.Context, string) (*platform.Operation, error) {
	return nil, nil
}

// ListWorkloads lists the compose projects under the runtime directory
func (c *Client) ListWorkloads(context.Context) ([]platform.Workload, error) {
	entries, err := os.ReadDir(c.runtimeDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read runtime directory: %w", err)
	}
	var out []platform.Workload
	for _, entry := range entries {
		if !entry.IsDir() || !c.exists(entry.Name()) {
			continue
		}
		out = append(out, platform.Workload{ID: entry.Name(), Name: entry.Name()})
	}
	return out, nil
}
