package kubernetes

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/meetbot-dev/meetbot/internal/platform"
)

func newTestClient(t *testing.T, objs ...client.Object) (*Client, client.Client) {
	t.Helper()
	scheme := runtime.NewScheme()
	require.NoError(t, clientgoscheme.AddToScheme(scheme))
	kube := fake.NewClientBuilder().WithScheme(scheme).WithObjects(objs...).Build()
	return NewClientWithKubeClient(kube, "bots"), kube
}

func TestResourceName(t *testing.T) {
	assert.Equal(t, "meetbot-bot-42", ResourceName("meetbot-bot-42"))
	assert.Equal(t, "meetbot-bot-42", ResourceName("MeetbotBot_42"))
	assert.Equal(t, "team-standup", ResourceName("team standup!"))
	assert.LessOrEqual(t, len(ResourceName(strings.Repeat("a", 100))), maxNameLength)
}

func TestCreateAndDeploy(t *testing.T) {
	c, kube := newTestClient(t)
	ctx := context.Background()

	id, err := c.CreateWorkload(ctx, platform.WorkloadSpec{
		Name:   "meetbot-bot-7",
		Image:  "ghcr.io/meetbot-dev/meeting-bot:v1",
		Env:    map[string]string{"BOT_ID": "7"},
		Labels: map[string]string{"meetbot.dev/bot-id": "7"},
	})
	require.NoError(t, err)
	assert.Equal(t, "meetbot-bot-7", id)

	var job batchv1.Job
	require.NoError(t, kube.Get(ctx, client.ObjectKey{Namespace: "bots", Name: id}, &job))
	assert.True(t, *job.Spec.Suspend)
	assert.Equal(t, platform.ManagedByValue, job.Labels[platform.ManagedByLabel])
	assert.Equal(t, "7", job.Labels["meetbot.dev/bot-id"])
	require.Len(t, job.Spec.Template.Spec.Containers, 1)
	assert.Equal(t, "ghcr.io/meetbot-dev/meeting-bot:v1", job.Spec.Template.Spec.Containers[0].Image)

	var secret corev1.Secret
	require.NoError(t, kube.Get(ctx, client.ObjectKey{Namespace: "bots", Name: id + "-env"}, &secret))
	assert.Equal(t, "7", secret.StringData["BOT_ID"])

	status, err := c.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, status)

	require.NoError(t, c.Deploy(ctx, id))
	require.NoError(t, kube.Get(ctx, client.ObjectKey{Namespace: "bots", Name: id}, &job))
	assert.False(t, *job.Spec.Suspend)

	status, err = c.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status)
	assert.Equal(t, platform.StatusQueued, c.Vocabulary().Normalize(status))
}

func TestCreateDuplicate(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	spec := platform.WorkloadSpec{Name: "meetbot-bot-1", Image: "bot:v1"}

	_, err := c.CreateWorkload(ctx, spec)
	require.NoError(t, err)
	_, err = c.CreateWorkload(ctx, spec)
	require.Error(t, err)
	assert.False(t, platform.IsNotFound(err))
}

func TestJobStatus(t *testing.T) {
	tests := []struct {
		name string
		job  batchv1.Job
		want string
	}{
		{
			name: "complete",
			job: batchv1.Job{Status: batchv1.JobStatus{Conditions: []batchv1.JobCondition{
				{Type: batchv1.JobComplete, Status: corev1.ConditionTrue},
			}}},
			want: StatusFinished,
		},
		{
			name: "backoff limit",
			job: batchv1.Job{Status: batchv1.JobStatus{Conditions: []batchv1.JobCondition{
				{Type: batchv1.JobFailed, Status: corev1.ConditionTrue, Reason: batchv1.JobReasonBackoffLimitExceeded},
			}}},
			want: StatusBackoffLimit,
		},
		{
			name: "failed",
			job: batchv1.Job{Status: batchv1.JobStatus{Conditions: []batchv1.JobCondition{
				{Type: batchv1.JobFailed, Status: corev1.ConditionTrue, Reason: "DeadlineExceeded"},
			}}},
			want: StatusFailed,
		},
		{
			name: "running",
			job:  batchv1.Job{Status: batchv1.JobStatus{Active: 1, Ready: ptr.To[int32](1)}},
			want: StatusRunning,
		},
		{
			name: "suspended",
			job:  batchv1.Job{Spec: batchv1.JobSpec{Suspend: ptr.To(true)}},
			want: StatusSuspended,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, jobStatus(&tt.job))
		})
	}
}

func TestStopAndDeleteAreIdempotent(t *testing.T) {
	c, kube := newTestClient(t)
	ctx := context.Background()

	id, err := c.CreateWorkload(ctx, platform.WorkloadSpec{Name: "meetbot-bot-3", Image: "bot:v1"})
	require.NoError(t, err)

	require.NoError(t, c.Delete(ctx, id))
	require.NoError(t, c.Delete(ctx, id))
	require.NoError(t, c.Stop(ctx, id))

	var job batchv1.Job
	err = kube.Get(ctx, client.ObjectKey{Namespace: "bots", Name: id}, &job)
	assert.Error(t, err)

	_, err = c.GetStatus(ctx, id)
	assert.True(t, platform.IsNotFound(err))
	assert.True(t, platform.IsNotFound(c.Deploy(ctx, id)))
}

func TestListWorkloadsOnlyManaged(t *testing.T) {
	foreign := &batchv1.Job{ObjectMeta: metav1.ObjectMeta{Name: "nightly-backup", Namespace: "bots"}}
	c, _ := newTestClient(t, foreign)
	ctx := context.Background()

	_, err := c.CreateWorkload(ctx, platform.WorkloadSpec{Name: "meetbot-bot-1", Image: "bot:v1"})
	require.NoError(t, err)
	_, err = c.CreateWorkload(ctx, platform.WorkloadSpec{Name: "meetbot-bot-2", Image: "bot:v1"})
	require.NoError(t, err)

	workloads, err := c.ListWorkloads(ctx)
	require.NoError(t, err)
	require.Len(t, workloads, 2)
	for _, w := range workloads {
		assert.NotEqual(t, "nightly-backup", w.ID)
		assert.Equal(t, StatusSuspended, w.Status)
	}
}
