package factory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetbot-dev/meetbot/internal/orchestrator/config"
	"github.com/meetbot-dev/meetbot/pkg/models"
)

func env(vars map[string]string) Options {
	return Options{
		Getenv:     func(k string) string { return vars[k] },
		FileExists: func(string) bool { return false },
	}
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
		env  map[string]string
		want models.PlatformType
	}{
		{
			name: "coolify credentials win",
			cfg:  config.Config{Coolify: config.CoolifyConfig{APIURL: "https://coolify", APIToken: "t"}},
			env:  map[string]string{"KUBERNETES_SERVICE_HOST": "10.0.0.1"},
			want: models.PlatformCoolify,
		},
		{
			name: "coolify url without token is ignored",
			cfg:  config.Config{Coolify: config.CoolifyConfig{APIURL: "https://coolify"}},
			want: models.PlatformLocal,
		},
		{
			name: "in cluster",
			env:  map[string]string{"KUBERNETES_SERVICE_HOST": "10.0.0.1"},
			want: models.PlatformKubernetes,
		},
		{
			name: "kubeconfig",
			cfg:  config.Config{Kubernetes: config.KubernetesConfig{Kubeconfig: "/etc/kube.yaml"}},
			want: models.PlatformKubernetes,
		},
		{
			name: "ecs",
			cfg:  config.Config{AWS: config.AWSConfig{Cluster: "bots"}},
			env:  map[string]string{"AWS_REGION": "us-east-1"},
			want: models.PlatformAWS,
		},
		{
			name: "region without cluster",
			env:  map[string]string{"AWS_REGION": "us-east-1"},
			want: models.PlatformLocal,
		},
		{
			name: "fallback",
			want: models.PlatformLocal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(&tt.cfg, env(tt.env)))
		})
	}
}

func TestDetectHomeKubeconfig(t *testing.T) {
	opts := Options{
		Getenv:     func(k string) string { return map[string]string{"HOME": "/home/bot"}[k] },
		FileExists: func(p string) bool { return p == "/home/bot/.kube/config" },
	}
	assert.Equal(t, models.PlatformKubernetes, Detect(&config.Config{}, opts))
}

func TestResolveExplicit(t *testing.T) {
	cfg := &config.Config{Coolify: config.CoolifyConfig{APIURL: "https://coolify", APIToken: "t"}}
	assert.Equal(t, models.PlatformLocal, Resolve(cfg, models.PlatformLocal, env(nil)))
	assert.Equal(t, models.PlatformCoolify, Resolve(cfg, models.PlatformAuto, env(nil)))
}

func TestNewLocal(t *testing.T) {
	cfg := &config.Config{Local: config.LocalConfig{RuntimeDir: t.TempDir()}}
	c, err := New(context.Background(), cfg, models.PlatformAuto, env(nil))
	require.NoError(t, err)
	assert.Equal(t, models.PlatformLocal, c.Name())
	assert.False(t, c.Pooled())
}

func TestNewCoolify(t *testing.T) {
	cfg := &config.Config{Coolify: config.CoolifyConfig{APIURL: "https://coolify", APIToken: "t"}}
	c, err := New(context.Background(), cfg, models.PlatformCoolify, env(nil))
	require.NoError(t, err)
	assert.True(t, c.Pooled())
	assert.True(t, c.HasOperationTracking())
}
