// Package kubernetes runs each bot as a suspended batch Job that is released on Deploy.
package kubernetes

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/stoewer/go-strcase"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"
	ctrlconfig "sigs.k8s.io/controller-runtime/pkg/client/config"

	"github.com/meetbot-dev/meetbot/internal/platform"
	"github.com/meetbot-dev/meetbot/pkg/models"
)

const (
	containerName  = "bot"
	workloadLabel  = "meetbot.dev/workload"
	maxNameLength  = 63
	secretSuffix   = "-env"
	defaultTTLSecs = 3600
)

// Native statuses reported by GetStatus
const (
	StatusSuspended    = "suspended"
	StatusPending      = "pending"
	StatusRunning      = "running"
	StatusFinished     = "finished"
	StatusFailed       = "failed"
	StatusBackoffLimit = "backoff-limit"
)

var vocabulary = platform.Vocabulary{
	Success: []string{StatusRunning, StatusFinished},
	Failure: []string{StatusFailed, StatusBackoffLimit},
	Queued:  []string{StatusSuspended, StatusPending},
}

// Config selects the cluster and namespace
type Config struct {
	Namespace  string
	Kubeconfig string
}

// Client is the Kubernetes platform adapter
type Client struct {
	kube      client.Client
	namespace string
}

var _ platform.Client = (*Client)(nil)

// NewClient connects to the cluster from the kubeconfig path, or the in-cluster /
// default loading rules when no path is given
func NewClient(cfg Config) (*Client, error) {
	restConfig, err := loadRESTConfig(cfg.Kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("failed to load kubernetes config: %w", err)
	}
	scheme := runtime.NewScheme()
	if err := clientgoscheme.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("failed to build scheme: %w", err)
	}
	kube, err := client.New(restConfig, client.Options{Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	return NewClientWithKubeClient(kube, cfg.Namespace), nil
}

// NewClientWithKubeClient wraps an existing controller-runtime client
func NewClientWithKubeClient(kube client.Client, namespace string) *Client {
	if namespace == "" {
		namespace = "default"
	}
	return &Client{kube: kube, namespace: namespace}
}

func loadRESTConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		return clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	return ctrlconfig.GetConfig()
}

func (c *Client) Name() models.PlatformType { return models.PlatformKubernetes }

func (c *Client) Pooled() bool { return false }

func (c *Client) HasOperationTracking() bool { return false }

func (c *Client) Vocabulary() platform.Vocabulary { return vocabulary }

// ResourceName converts a workload name into a valid DNS-1123 label
func ResourceName(name string) string {
	kebab := strcase.KebabCase(name)
	var b strings.Builder
	for _, r := range kebab {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	out := b.String()
	if len(out) > maxNameLength-len(secretSuffix) {
		out = out[:maxNameLength-len(secretSuffix)]
	}
	return strings.Trim(out, "-")
}

func (c *Client) labels(name string, extra map[string]string) map[string]string {
	labels := maps.Clone(extra)
	if labels == nil {
		labels = make(map[string]string)
	}
	labels[platform.ManagedByLabel] = platform.ManagedByValue
	labels[workloadLabel] = name
	return labels
}

// CreateWorkload stores the bot environment in a Secret and creates a suspended Job referencing it
func (c *Client) CreateWorkload(ctx context.Context, spec platform.WorkloadSpec) (string, error) {
	name := ResourceName(spec.Name)
	if name == "" {
		return "", fmt.Errorf("k8s: invalid workload name %q", spec.Name)
	}
	labels := c.labels(name, spec.Labels)

	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: name + secretSuffix, Namespace: c.namespace, Labels: labels},
		StringData: maps.Clone(spec.Env),
	}
	if err := c.kube.Create(ctx, secret); err != nil {
		return "", requestError("create secret", err)
	}

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: c.namespace, Labels: labels},
		Spec: batchv1.JobSpec{
			Suspend:                 ptr.To(true),
			BackoffLimit:            ptr.To[int32](0),
			TTLSecondsAfterFinished: ptr.To[int32](defaultTTLSecs),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers: []corev1.Container{{
						Name:  containerName,
						Image: spec.Image,
						EnvFrom: []corev1.EnvFromSource{{
							SecretRef: &corev1.SecretEnvSource{
								LocalObjectReference: corev1.LocalObjectReference{Name: secret.Name},
							},
						}},
					}},
				},
			},
		},
	}
	if err := c.kube.Create(ctx, job); err != nil {
		_ = c.kube.Delete(ctx, secret)
		return "", requestError("create job", err)
	}
	return name, nil
}

// Deploy unsuspends the Job
func (c *Client) Deploy(ctx context.Context, workloadID string) error {
	job := &batchv1.Job{}
	if err := c.kube.Get(ctx, client.ObjectKey{Namespace: c.namespace, Name: workloadID}, job); err != nil {
		return requestError("deploy", err)
	}
	if job.Spec.Suspend == nil || !*job.Spec.Suspend {
		return nil
	}
	patch := client.MergeFrom(job.DeepCopy())
	job.Spec.Suspend = ptr.To(false)
	if err := c.kube.Patch(ctx, job, patch); err != nil {
		return requestError("deploy", err)
	}
	return nil
}

// Stop deletes the Job; a Job cannot be paused once its pod is running
func (c *Client) Stop(ctx context.Context, workloadID string) error {
	job := &batchv1.Job{ObjectMeta: metav1.ObjectMeta{Name: workloadID, Namespace: c.namespace}}
	err := c.kube.Delete(ctx, job, client.PropagationPolicy(metav1.DeletePropagationBackground))
	if err != nil && !apierrors.IsNotFound(err) {
		return requestError("stop", err)
	}
	return nil
}

// Delete removes the Job and its Secret
func (c *Client) Delete(ctx context.Context, workloadID string) error {
	if err := c.Stop(ctx, workloadID); err != nil {
		return err
	}
	secret := &corev1.Secret{ObjectMeta: metav1.ObjectMeta{Name: workloadID + secretSuffix, Namespace: c.namespace}}
	if err := c.kube.Delete(ctx, secret); err != nil && !apierrors.IsNotFound(err) {
		return requestError("delete secret", err)
	}
	return nil
}

func (c *Client) GetStatus(ctx context.Context, workloadID string) (string, error) {
	job := &batchv1.Job{}
	if err := c.kube.Get(ctx, client.ObjectKey{Namespace: c.namespace, Name: workloadID}, job); err != nil {
		return "", requestError("get status", err)
	}
	return jobStatus(job), nil
}

func jobStatus(job *batchv1.Job) string {
	for _, cond := range job.Status.Conditions {
		if cond.Status != corev1.ConditionTrue {
			continue
		}
		switch cond.Type {
		case batchv1.JobComplete:
			return StatusFinished
		case batchv1.JobFailed:
			if cond.Reason == batchv1.JobReasonBackoffLimitExceeded {
				return StatusBackoffLimit
			}
			return StatusFailed
		}
	}
	if job.Spec.Suspend != nil && *job.Spec.Suspend {
		return StatusSuspended
	}
	if job.Status.Active > 0 && ptr.Deref(job.Status.Ready, 0) > 0 {
		return StatusRunning
	}
	return StatusPending
}

// GetLatestOperation is not supported; Jobs have no separate deployment record
func (c *Client) GetLatestOperation(context.Context, string) (*platform.Operation, error) {
	return nil, nil
}

// ListWorkloads lists Jobs labeled as managed by this orchestrator
func (c *Client) ListWorkloads(ctx context.Context) ([]platform.Workload, error) {
	var jobs batchv1.JobList
	err := c.kube.List(ctx, &jobs,
		client.InNamespace(c.namespace),
		client.MatchingLabels{platform.ManagedByLabel: platform.ManagedByValue},
	)
	if err != nil {
		return nil, requestError("list workloads", err)
	}
	out := make([]platform.Workload, 0, len(jobs.Items))
	for i := range jobs.Items {
		job := &jobs.Items[i]
		out = append(out, platform.Workload{ID: job.Name, Name: job.Name, Status: jobStatus(job)})
	}
	return out, nil
}

// requestError converts API server errors into platform request errors so
// callers can check for not-found uniformly
func requestError(operation string, err error) error {
	var status apierrors.APIStatus
	if errors.As(err, &status) {
		return &platform.PlatformRequestError{
			Platform:   models.PlatformKubernetes,
			Operation:  operation,
			StatusCode: int(status.Status().Code),
			Body:       status.Status().Message,
		}
	}
	return fmt.Errorf("k8s %s: %w", operation, err)
}
