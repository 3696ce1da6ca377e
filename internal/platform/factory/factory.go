// Package factory builds the platform client selected by configuration.
package factory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/meetbot-dev/meetbot/internal/orchestrator/config"
	"github.com/meetbot-dev/meetbot/internal/platform"
	"github.com/meetbot-dev/meetbot/internal/platform/coolify"
	"github.com/meetbot-dev/meetbot/internal/platform/ecs"
	"github.com/meetbot-dev/meetbot/internal/platform/kubernetes"
	"github.com/meetbot-dev/meetbot/internal/platform/local"
	"github.com/meetbot-dev/meetbot/pkg/models"
)

// Options overrides environment lookups, mainly for tests
type Options struct {
	// Getenv defaults to os.Getenv
	Getenv func(string) string
	// FileExists defaults to checking the filesystem
	FileExists func(string) bool
	// LocalRunner overrides the docker CLI runner of the local platform
	LocalRunner local.Runner
}

func (o Options) withDefaults() Options {
	if o.Getenv == nil {
		o.Getenv = os.Getenv
	}
	if o.FileExists == nil {
		o.FileExists = func(path string) bool {
			_, err := os.Stat(path)
			return err == nil
		}
	}
	return o
}

// Detect picks a platform from the available credentials, in order:
// coolify API credentials, a Kubernetes environment, an ECS cluster, then local.
func Detect(cfg *config.Config, opts Options) models.PlatformType {
	opts = opts.withDefaults()

	if cfg.Coolify.APIURL != "" && cfg.Coolify.APIToken != "" {
		return models.PlatformCoolify
	}
	if opts.Getenv("KUBERNETES_SERVICE_HOST") != "" || cfg.Kubernetes.Kubeconfig != "" || opts.Getenv("KUBECONFIG") != "" {
		return models.PlatformKubernetes
	}
	if home := opts.Getenv("HOME"); home != "" && opts.FileExists(filepath.Join(home, ".kube", "config")) {
		return models.PlatformKubernetes
	}
	region := cfg.AWS.Region
	if region == "" {
		region = opts.Getenv("AWS_REGION")
	}
	if region != "" && cfg.AWS.Cluster != "" {
		return models.PlatformAWS
	}
	return models.PlatformLocal
}

// Resolve returns the concrete platform for a requested type, detecting it for auto
func Resolve(cfg *config.Config, requested models.PlatformType, opts Options) models.PlatformType {
	if requested == "" || requested == models.PlatformAuto {
		return Detect(cfg, opts)
	}
	return requested
}

// New creates the platform client for the requested platform
func New(ctx context.Context, cfg *config.Config, requested models.PlatformType, opts Options) (platform.Client, error) {
	resolved := Resolve(cfg, requested, opts)
	if requested == models.PlatformAuto {
		log.FromContext(ctx).Info("Auto-detected deployment platform", "platform", resolved)
	}

	switch resolved {
	case models.PlatformCoolify:
		return coolify.NewClient(coolify.Config{
			BaseURL:           cfg.Coolify.APIURL,
			Token:             cfg.Coolify.APIToken,
			ProjectUUID:       cfg.Coolify.ProjectUUID,
			ServerUUID:        cfg.Coolify.ServerUUID,
			EnvironmentName:   cfg.Coolify.EnvironmentName,
			DestinationUUID:   cfg.Coolify.DestinationUUID,
			NamePrefix:        cfg.Pool.SlotPrefix + "-slot-",
			RequestsPerSecond: 5,
		})
	case models.PlatformKubernetes:
		return kubernetes.NewClient(kubernetes.Config{
			Namespace:  cfg.Kubernetes.Namespace,
			Kubeconfig: cfg.Kubernetes.Kubeconfig,
		})
	case models.PlatformAWS:
		region := cfg.AWS.Region
		if region == "" {
			region = opts.withDefaults().Getenv("AWS_REGION")
		}
		return ecs.NewClient(ctx, ecs.Config{
			Region:         region,
			Cluster:        cfg.AWS.Cluster,
			TaskDefinition: cfg.AWS.TaskDefinition,
			Subnets:        cfg.AWS.Subnets,
			SecurityGroups: cfg.AWS.SecurityGroups,
			ContainerName:  cfg.AWS.ContainerName,
			AssignPublicIP: cfg.AWS.AssignPublicIP,
		})
	case models.PlatformLocal:
		return local.NewClient(cfg.Local.RuntimeDir, opts.LocalRunner)
	}
	return nil, fmt.Errorf("unsupported deployment platform %q", resolved)
}
