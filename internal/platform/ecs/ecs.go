// Package ecs runs each bot as a standalone Fargate task.
package ecs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/aws/smithy-go"

	"github.com/meetbot-dev/meetbot/internal/platform"
	"github.com/meetbot-dev/meetbot/pkg/models"
)

// StartedBy tags every task launched by this orchestrator
const StartedBy = "meetbot"

// StatusFailed is reported for STOPPED tasks whose container exited non-zero
// or never started
const StatusFailed = "FAILED"

var vocabulary = platform.Vocabulary{
	Success: []string{"RUNNING", "STOPPED"},
	Failure: []string{StatusFailed},
	Queued:  []string{"PROVISIONING", "PENDING"},
}

// ecsAPI is the subset of the ECS client used by the adapter
type ecsAPI interface {
	RunTask(ctx context.Context, params *ecs.RunTaskInput, optFns ...func(*ecs.Options)) (*ecs.RunTaskOutput, error)
	StopTask(ctx context.Context, params *ecs.StopTaskInput, optFns ...func(*ecs.Options)) (*ecs.StopTaskOutput, error)
	DescribeTasks(ctx context.Context, params *ecs.DescribeTasksInput, optFns ...func(*ecs.Options)) (*ecs.DescribeTasksOutput, error)
	ListTasks(ctx context.Context, params *ecs.ListTasksInput, optFns ...func(*ecs.Options)) (*ecs.ListTasksOutput, error)
}

// Config describes the cluster, task definition and networking of bot tasks
type Config struct {
	Region         string
	Cluster        string
	TaskDefinition string
	Subnets        []string
	SecurityGroups []string
	ContainerName  string
	AssignPublicIP bool
}

// Client is the AWS ECS platform adapter
type Client struct {
	cfg Config
	api ecsAPI
}

var (
	_ platform.Client     = (*Client)(nil)
	_ platform.Relauncher = (*Client)(nil)
)

// NewClient loads AWS credentials from the default chain
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return newClient(cfg, ecs.NewFromConfig(awsCfg)), nil
}

func newClient(cfg Config, api ecsAPI) *Client {
	if cfg.ContainerName == "" {
		cfg.ContainerName = "bot"
	}
	return &Client{cfg: cfg, api: api}
}

func (c *Client) Name() models.PlatformType { return models.PlatformAWS }

func (c *Client) Pooled() bool { return false }

func (c *Client) HasOperationTracking() bool { return false }

func (c *Client) Vocabulary() platform.Vocabulary { return vocabulary }

// CreateWorkload launches the task. ECS has no separate create step, so the
// task is already starting when this returns.
func (c *Client) CreateWorkload(ctx context.Context, spec platform.WorkloadSpec) (string, error) {
	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	env := make([]types.KeyValuePair, 0, len(keys))
	for _, k := range keys {
		env = append(env, types.KeyValuePair{Name: aws.String(k), Value: aws.String(spec.Env[k])})
	}

	tags := []types.Tag{
		{Key: aws.String(platform.ManagedByLabel), Value: aws.String(platform.ManagedByValue)},
		{Key: aws.String("meetbot.dev/workload"), Value: aws.String(spec.Name)},
	}
	for k, v := range spec.Labels {
		tags = append(tags, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}

	assignPublicIP := types.AssignPublicIpDisabled
	if c.cfg.AssignPublicIP {
		assignPublicIP = types.AssignPublicIpEnabled
	}

	out, err := c.api.RunTask(ctx, &ecs.RunTaskInput{
		Cluster:        aws.String(c.cfg.Cluster),
		TaskDefinition: aws.String(c.cfg.TaskDefinition),
		LaunchType:     types.LaunchTypeFargate,
		Count:          aws.Int32(1),
		StartedBy:      aws.String(StartedBy),
		Tags:           tags,
		NetworkConfiguration: &types.NetworkConfiguration{
			AwsvpcConfiguration: &types.AwsVpcConfiguration{
				Subnets:        c.cfg.Subnets,
				SecurityGroups: c.cfg.SecurityGroups,
				AssignPublicIp: assignPublicIP,
			},
		},
		Overrides: &types.TaskOverride{
			ContainerOverrides: []types.ContainerOverride{{
				Name:        aws.String(c.cfg.ContainerName),
				Environment: env,
			}},
		},
	})
	if err != nil {
		return "", requestError("create workload", err)
	}
	if len(out.Failures) > 0 {
		f := out.Failures[0]
		return "", &platform.PlatformRequestError{
			Platform:   models.PlatformAWS,
			Operation:  "create workload",
			StatusCode: http.StatusConflict,
			Body:       fmt.Sprintf("%s: %s", aws.ToString(f.Reason), aws.ToString(f.Detail)),
		}
	}
	if len(out.Tasks) == 0 || out.Tasks[0].TaskArn == nil {
		return "", errors.New("ecs create workload: RunTask returned no task")
	}
	return aws.ToString(out.Tasks[0].TaskArn), nil
}

// Deploy is a no-op; the task starts on creation
func (c *Client) Deploy(context.Context, string) error {
	return nil
}

// RelaunchOnRetry is true: a stopped task cannot be started again, so a
// retry runs a new task
func (c *Client) RelaunchOnRetry() bool { return true }

func (c *Client) Stop(ctx context.Context, workloadID string) error {
	_, err := c.api.StopTask(ctx, &ecs.StopTaskInput{
		Cluster: aws.String(c.cfg.Cluster),
		Task:    aws.String(workloadID),
		Reason:  aws.String("stopped by meetbot"),
	})
	if err != nil {
		err = requestError("stop", err)
		if platform.IsNotFound(err) {
			return nil
		}
		return err
	}
	return nil
}

// Delete stops the task; stopped tasks are garbage collected by ECS
func (c *Client) Delete(ctx context.Context, workloadID string) error {
	return c.Stop(ctx, workloadID)
}

func (c *Client) GetStatus(ctx context.Context, workloadID string) (string, error) {
	out, err := c.api.DescribeTasks(ctx, &ecs.DescribeTasksInput{
		Cluster: aws.String(c.cfg.Cluster),
		Tasks:   []string{workloadID},
	})
	if err != nil {
		return "", requestError("get status", err)
	}
	if len(out.Tasks) == 0 {
		reason := "task not found"
		if len(out.Failures) > 0 {
			reason = aws.ToString(out.Failures[0].Reason)
		}
		return "", &platform.PlatformRequestError{
			Platform:   models.PlatformAWS,
			Operation:  "get status",
			StatusCode: http.StatusNotFound,
			Body:       reason,
		}
	}
	return taskStatus(out.Tasks[0]), nil
}

func taskStatus(task types.Task) string {
	status := strings.ToUpper(aws.ToString(task.LastStatus))
	if status != "STOPPED" {
		return status
	}
	if task.StopCode == types.TaskStopCodeTaskFailedToStart {
		return StatusFailed
	}
	for _, container := range task.Containers {
		if container.ExitCode == nil || *container.ExitCode != 0 {
			return StatusFailed
		}
	}
	return status
}

// GetLatestOperation is not supported; RunTask is the only operation
func (c *Client) GetLatestOperation(context.Context, string) (*platform.Operation, error) {
	return nil, nil
}

// ListWorkloads lists running tasks started by this orchestrator
func (c *Client) ListWorkloads(ctx context.Context) ([]platform.Workload, error) {
	var out []platform.Workload
	paginator := ecs.NewListTasksPaginator(c.api, &ecs.ListTasksInput{
		Cluster:   aws.String(c.cfg.Cluster),
		StartedBy: aws.String(StartedBy),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, requestError("list workloads", err)
		}
		for _, arn := range page.TaskArns {
			out = append(out, platform.Workload{ID: arn, Name: arn[strings.LastIndex(arn, "/")+1:]})
		}
	}
	return out, nil
}

// requestError converts AWS API errors into platform request errors
func requestError(operation string, err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("ecs %s: %w", operation, err)
	}
	status := http.StatusBadRequest
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}
	if strings.Contains(strings.ToLower(apiErr.ErrorMessage()), "not found") {
		status = http.StatusNotFound
	}
	return &platform.PlatformRequestError{
		Platform:   models.PlatformAWS,
		Operation:  operation,
		StatusCode: status,
		Body:       fmt.Sprintf("%s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage()),
	}
}
