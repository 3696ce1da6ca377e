package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	v0 "github.com/meetbot-dev/meetbot/internal/orchestrator/api/handlers/v0"
	"github.com/meetbot-dev/meetbot/internal/orchestrator/jobs"
	"github.com/meetbot-dev/meetbot/pkg/models"
)

// DefaultBaseURL is the orchestrator address used when none is configured
const DefaultBaseURL = "http://localhost:8080"

const (
	publicPrefix = "/v0"
	adminPrefix  = "/admin/v0"
)

// APIError is a non-2xx response from the orchestrator
type APIError struct {
	StatusCode int
	Status     string
	// Detail is the problem detail when the body was application/problem+json
	Detail string
	Body   string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("unexpected status: %s, %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("unexpected status: %s, %s", e.Status, e.Body)
}

// IsNotFound reports whether err is a 404 from the orchestrator
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to the orchestrator HTTP API
type Client struct {
	BaseURL    string
	httpClient *http.Client
	token      string
}

// NewClient constructs a client with explicit baseURL and token
func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			// synchronous deployments can take as long as the platform does
			Timeout: 35 * time.Minute,
		},
	}
}

// NewClientWithConfig constructs a client and verifies the orchestrator is reachable
func NewClientWithConfig(ctx context.Context, baseURL, token string) (*Client, error) {
	c := NewClient(baseURL, token)
	if err := c.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to reach API at %s: %w", c.BaseURL, err)
	}
	return c, nil
}

func (c *Client) newRequest(ctx context.Context, method, pathWithQuery string, in any) (*http.Request, error) {
	var body io.Reader
	if in != nil {
		inBytes, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %T: %w", in, err)
		}
		body = bytes.NewReader(inBytes)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+pathWithQuery, body)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) doJSON(req *http.Request, out any) (int, error) {
	if out != nil {
		req.Header.Set("Accept", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// read up to 1KB of body for error message
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		apiErr := &APIError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(errBody)}
		var problem struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(errBody, &problem) == nil {
			apiErr.Detail = problem.Detail
		}
		return resp.StatusCode, apiErr
	}
	if out == nil {
		return resp.StatusCode, nil
	}
	return resp.StatusCode, json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) doJSONRequest(ctx context.Context, method, pathWithQuery string, in, out any) (int, error) {
	req, err := c.newRequest(ctx, method, pathWithQuery, in)
	if err != nil {
		return 0, err
	}
	return c.doJSON(req, out)
}

// Ping checks connectivity to the API
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.doJSONRequest(ctx, http.MethodGet, publicPrefix+"/ping", nil, nil)
	return err
}

// GetVersion returns the server build information
func (c *Client) GetVersion(ctx context.Context) (*v0.VersionBody, error) {
	var out v0.VersionBody
	if _, err := c.doJSONRequest(ctx, http.MethodGet, publicPrefix+"/version", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeployBot requests a deployment. With async the call returns once the bot is created.
func (c *Client) DeployBot(ctx context.Context, req *v0.DeployBotRequest, async bool) (*models.DeployResult, error) {
	path := publicPrefix + "/bots"
	if async {
		path += "?async=true"
	}
	var out models.DeployResult
	if _, err := c.doJSONRequest(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetBot returns one bot
func (c *Client) GetBot(ctx context.Context, id int64) (*models.Bot, error) {
	var out models.Bot
	if _, err := c.doJSONRequest(ctx, http.MethodGet, publicPrefix+"/bots/"+strconv.FormatInt(id, 10), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListBots lists bots, optionally filtered by deployment platform and status
func (c *Client) ListBots(ctx context.Context, platform, status string, limit int) ([]models.Bot, error) {
	q := url.Values{}
	if platform != "" {
		q.Set("platform", platform)
	}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := publicPrefix + "/bots"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out v0.BotsListBody
	if _, err := c.doJSONRequest(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Bots, nil
}

// GetPoolStats returns slot counts by status
func (c *Client) GetPoolStats(ctx context.Context) (*models.PoolStats, error) {
	var out models.PoolStats
	if _, err := c.doJSONRequest(ctx, http.MethodGet, adminPrefix+"/pool/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetQueueStats returns the slot wait queue summary
func (c *Client) GetQueueStats(ctx context.Context) (*models.QueueStats, error) {
	var out models.QueueStats
	if _, err := c.doJSONRequest(ctx, http.MethodGet, adminPrefix+"/pool/queue", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSlots lists pool slots, optionally only those in status
func (c *Client) ListSlots(ctx context.Context, status string) ([]models.PoolSlot, error) {
	path := adminPrefix + "/pool/slots"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var out v0.SlotsListBody
	if _, err := c.doJSONRequest(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Slots, nil
}

// DeleteSlot removes a slot and its workload
func (c *Client) DeleteSlot(ctx context.Context, id string) error {
	_, err := c.doJSONRequest(ctx, http.MethodDelete, adminPrefix+"/pool/slots/"+url.PathEscape(id), nil, nil)
	return err
}

// SyncPool reconciles slots against the platform. With async the result carries a job instead.
func (c *Client) SyncPool(ctx context.Context, async bool) (*models.SyncResult, *v0.JobStartedBody, error) {
	var out struct {
		Result *models.SyncResult  `json:"result"`
		Job    *v0.JobStartedBody `json:"job"`
	}
	if _, err := c.doJSONRequest(ctx, http.MethodPost, adminPrefix+"/pool/sync"+asyncQuery(async), nil, &out); err != nil {
		return nil, nil, err
	}
	return out.Result, out.Job, nil
}

// RecoverPool retries errored slots. With async the result carries a job instead.
func (c *Client) RecoverPool(ctx context.Context, async bool) (*models.RecoveryResult, *v0.JobStartedBody, error) {
	var out struct {
		Result *models.RecoveryResult `json:"result"`
		Job    *v0.JobStartedBody    `json:"job"`
	}
	if _, err := c.doJSONRequest(ctx, http.MethodPost, adminPrefix+"/pool/recover"+asyncQuery(async), nil, &out); err != nil {
		return nil, nil, err
	}
	return out.Result, out.Job, nil
}

// EnsurePool creates missing slots and returns how many were created
func (c *Client) EnsurePool(ctx context.Context) (int, error) {
	var out v0.EnsureSizeBody
	if _, err := c.doJSONRequest(ctx, http.MethodPost, adminPrefix+"/pool/ensure", nil, &out); err != nil {
		return 0, err
	}
	return out.Created, nil
}

// GetJob returns a background pool job
func (c *Client) GetJob(ctx context.Context, id jobs.JobID) (*jobs.Job, error) {
	var out jobs.Job
	if _, err := c.doJSONRequest(ctx, http.MethodGet, adminPrefix+"/jobs/"+url.PathEscape(string(id)), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func asyncQuery(async bool) string {
	if async {
		return "?async=true"
	}
	return ""
}
