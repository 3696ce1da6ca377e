// Package coolify deploys bots as docker-image applications on a Coolify
// server. Applications are long-lived pool slots that are restarted for each bot.
package coolify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	"golang.org/x/time/rate"

	"github.com/meetbot-dev/meetbot/internal/platform"
	"github.com/meetbot-dev/meetbot/pkg/models"
)

const maxErrorBody = 4096

// Config holds the API endpoint, credentials and placement of new applications
type Config struct {
	BaseURL         string
	Token           string
	ProjectUUID     string
	ServerUUID      string
	EnvironmentName string
	DestinationUUID string
	// NamePrefix scopes ListWorkloads to applications created by this orchestrator
	NamePrefix string
	// PortsExposes is required by the API even though bots serve nothing
	PortsExposes string
	// RequestsPerSecond throttles API calls; zero disables throttling
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

// Client is the Coolify platform adapter
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter

	mu sync.Mutex
	// started maps an application to the deployment its last Deploy started
	started map[string]string
}

var (
	_ platform.Client     = (*Client)(nil)
	_ platform.EnvUpdater = (*Client)(nil)
)

var vocabulary = platform.Vocabulary{
	Success:      []string{"finished", "running", "running:healthy", "running:unknown"},
	Failure:      []string{"failed", "cancelled-by-user", "cancelled", "degraded", "degraded:unhealthy", "exited:unhealthy"},
	Queued:       []string{"queued"},
	Transitional: []string{"exited", "exited:unknown", "stopped", "starting", "restarting"},
}

// NewClient creates a Coolify adapter
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" || cfg.Token == "" {
		return nil, errors.New("coolify: base URL and API token are required")
	}
	if cfg.EnvironmentName == "" {
		cfg.EnvironmentName = "production"
	}
	if cfg.PortsExposes == "" {
		cfg.PortsExposes = "3000"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	c := &Client{
		cfg:        cfg,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		started:    make(map[string]string),
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c, nil
}

func (c *Client) Name() models.PlatformType { return models.PlatformCoolify }

func (c *Client) Pooled() bool { return true }

func (c *Client) HasOperationTracking() bool { return true }

func (c *Client) Vocabulary() platform.Vocabulary { return vocabulary }

type application struct {
	UUID   string `json:"uuid"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

type createApplicationRequest struct {
	ProjectUUID     string `json:"project_uuid"`
	ServerUUID      string `json:"server_uuid"`
	EnvironmentName string `json:"environment_name"`
	DestinationUUID string `json:"destination_uuid,omitempty"`
	ImageName       string `json:"docker_registry_image_name"`
	ImageTag        string `json:"docker_registry_image_tag"`
	Name            string `json:"name"`
	PortsExposes    string `json:"ports_exposes"`
	InstantDeploy   bool   `json:"instant_deploy"`
}

type envVar struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	IsPreview bool   `json:"is_preview"`
	IsLiteral bool   `json:"is_literal"`
}

type bulkEnvRequest struct {
	Data []envVar `json:"data"`
}

type startResponse struct {
	Message        string `json:"message"`
	DeploymentUUID string `json:"deployment_uuid"`
}

type deployment struct {
	DeploymentUUID string `json:"deployment_uuid"`
	Status         string `json:"status"`
}

type deploymentsResponse struct {
	Count       int          `json:"count"`
	Deployments []deployment `json:"deployments"`
}

// SplitImage splits an image reference into the repository and tag the API expects.
// Digest references keep the digest as the tag.
func SplitImage(image string) (repository, tag string, err error) {
	ref, err := name.ParseReference(image)
	if err != nil {
		return "", "", fmt.Errorf("invalid image reference %q: %w", image, err)
	}
	repo := ref.Context()
	repository = repo.Name()
	if repo.RegistryStr() == name.DefaultRegistry {
		repository = repo.RepositoryStr()
	}
	return repository, ref.Identifier(), nil
}

// CreateWorkload creates a docker-image application and sets its environment.
// The application is not started.
func (c *Client) CreateWorkload(ctx context.Context, spec platform.WorkloadSpec) (string, error) {
	repository, tag, err := SplitImage(spec.Image)
	if err != nil {
		return "", err
	}
	body := createApplicationRequest{
		ProjectUUID:     c.cfg.ProjectUUID,
		ServerUUID:      c.cfg.ServerUUID,
		EnvironmentName: c.cfg.EnvironmentName,
		DestinationUUID: c.cfg.DestinationUUID,
		ImageName:       repository,
		ImageTag:        tag,
		Name:            spec.Name,
		PortsExposes:    c.cfg.PortsExposes,
	}

	var created application
	if err := c.do(ctx, "create workload", http.MethodPost, "/api/v1/applications/dockerimage", body, &created); err != nil {
		return "", err
	}
	if created.UUID == "" {
		return "", fmt.Errorf("coolify create workload: response did not include an application uuid")
	}

	if len(spec.Env) > 0 {
		if err := c.UpdateEnv(ctx, created.UUID, spec.Env); err != nil {
			return created.UUID, err
		}
	}
	return created.UUID, nil
}

// UpdateEnv upserts environment variables on an application. They take effect on the next start.
func (c *Client) UpdateEnv(ctx context.Context, workloadID string, env map[string]string) error {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	body := bulkEnvRequest{Data: make([]envVar, 0, len(keys))}
	for _, k := range keys {
		body.Data = append(body.Data, envVar{Key: k, Value: env[k], IsLiteral: true})
	}
	return c.do(ctx, "update env", http.MethodPatch, "/api/v1/applications/"+url.PathEscape(workloadID)+"/envs/bulk", body, nil)
}

// Deploy starts the application. The deployment it starts is what GetLatestOperation reports.
func (c *Client) Deploy(ctx context.Context, workloadID string) error {
	var resp startResponse
	if err := c.do(ctx, "deploy", http.MethodGet, "/api/v1/applications/"+url.PathEscape(workloadID)+"/start", nil, &resp); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if resp.DeploymentUUID != "" {
		c.started[workloadID] = resp.DeploymentUUID
	} else {
		delete(c.started, workloadID)
	}
	return nil
}

func (c *Client) Stop(ctx context.Context, workloadID string) error {
	err := c.do(ctx, "stop", http.MethodGet, "/api/v1/applications/"+url.PathEscape(workloadID)+"/stop", nil, nil)
	if platform.IsNotFound(err) {
		return nil
	}
	return err
}

func (c *Client) Delete(ctx context.Context, workloadID string) error {
	q := url.Values{}
	q.Set("delete_configurations", "true")
	q.Set("delete_volumes", "true")
	q.Set("docker_cleanup", "true")
	q.Set("delete_connected_networks", "true")
	err := c.do(ctx, "delete", http.MethodDelete, "/api/v1/applications/"+url.PathEscape(workloadID)+"?"+q.Encode(), nil, nil)
	if err != nil && !platform.IsNotFound(err) {
		return err
	}
	c.mu.Lock()
	delete(c.started, workloadID)
	c.mu.Unlock()
	return nil
}

func (c *Client) GetStatus(ctx context.Context, workloadID string) (string, error) {
	var app application
	if err := c.do(ctx, "get status", http.MethodGet, "/api/v1/applications/"+url.PathEscape(workloadID), nil, &app); err != nil {
		return "", err
	}
	return app.Status, nil
}

// GetLatestOperation returns the newest deployment of the application. After a
// Deploy, older deployments are not reported: nil is returned until the started
// one is listed, so a reused slot never shows its previous bot's result.
func (c *Client) GetLatestOperation(ctx context.Context, workloadID string) (*platform.Operation, error) {
	var resp deploymentsResponse
	path := "/api/v1/deployments/applications/" + url.PathEscape(workloadID) + "?skip=0&take=1"
	if err := c.do(ctx, "get deployments", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Deployments) == 0 {
		return nil, nil
	}
	d := resp.Deployments[0]
	c.mu.Lock()
	started, ok := c.started[workloadID]
	c.mu.Unlock()
	if ok && d.DeploymentUUID != started {
		return nil, nil
	}
	return &platform.Operation{ID: d.DeploymentUUID, Status: d.Status}, nil
}

// ListWorkloads lists applications whose name carries the configured prefix
func (c *Client) ListWorkloads(ctx context.Context) ([]platform.Workload, error) {
	var apps []application
	if err := c.do(ctx, "list workloads", http.MethodGet, "/api/v1/applications", nil, &apps); err != nil {
		return nil, err
	}
	var out []platform.Workload
	for _, app := range apps {
		if c.cfg.NamePrefix != "" && !strings.HasPrefix(app.Name, c.cfg.NamePrefix) {
			continue
		}
		out = append(out, platform.Workload{ID: app.UUID, Name: app.Name, Status: app.Status})
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, operation, method, pathWithQuery string, in, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var body io.Reader
	if in != nil {
		inBytes, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal %T: %w", in, err)
		}
		body = bytes.NewReader(inBytes)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+pathWithQuery, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("coolify %s: %w", operation, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &platform.PlatformRequestError{
			Platform:   models.PlatformCoolify,
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Body:       string(errBody),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("coolify %s: failed to decode response: %w", operation, err)
	}
	return nil
}
