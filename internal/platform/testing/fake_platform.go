// Package testing provides test utilities for platform consumers.
package testing

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/meetbot-dev/meetbot/internal/platform"
	"github.com/meetbot-dev/meetbot/pkg/models"
)

// FakePlatform is a configurable in-memory implementation of platform.Client for testing.
// It supports both data-driven setup via struct fields and function hooks for custom behavior.
type FakePlatform struct {
	mu sync.Mutex

	Platform          models.PlatformType
	IsPooled          bool
	OperationTracking bool
	// Relaunch makes deploy retries replace the workload
	Relaunch          bool
	Vocab             platform.Vocabulary

	// Workloads maps workload id to name
	Workloads map[string]string
	// Statuses overrides the native status per workload; DefaultStatus applies otherwise
	Statuses      map[string]string
	DefaultStatus string
	// Env records the last environment pushed per workload
	Env map[string]map[string]string

	// Calls records every operation as "<op>:<arg>"
	Calls []string

	// Function hooks for custom behavior (take precedence over data fields when set)
	CreateWorkloadFn func(ctx context.Context, spec platform.WorkloadSpec) (string, error)
	DeployFn         func(ctx context.Context, workloadID string) error
	StopFn           func(ctx context.Context, workloadID string) error
	DeleteFn         func(ctx context.Context, workloadID string) error
	GetStatusFn      func(ctx context.Context, workloadID string) (string, error)
	ListWorkloadsFn  func(ctx context.Context) ([]platform.Workload, error)

	nextID int
}

var (
	_ platform.Client     = (*FakePlatform)(nil)
	_ platform.EnvUpdater = (*FakePlatform)(nil)
	_ platform.Relauncher = (*FakePlatform)(nil)
)

// NewFakePlatform creates a pooled fake whose deployments finish immediately
func NewFakePlatform() *FakePlatform {
	return &FakePlatform{
		Platform:      models.PlatformCoolify,
		IsPooled:      true,
		DefaultStatus: "finished",
		Vocab: platform.Vocabulary{
			Success:      []string{"finished", "running"},
			Failure:      []string{"failed"},
			Queued:       []string{"queued"},
			Transitional: []string{"exited", "starting"},
		},
		Workloads: make(map[string]string),
		Statuses:  make(map[string]string),
		Env:       make(map[string]map[string]string),
	}
}

func (f *FakePlatform) record(op, arg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, op+":"+arg)
}

// CallCount returns how many times op was invoked
func (f *FakePlatform) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if len(c) > len(op) && c[:len(op)+1] == op+":" {
			n++
		}
	}
	return n
}

// AddWorkload registers an existing workload and returns its id
func (f *FakePlatform) AddWorkload(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("wl-%d", f.nextID)
	f.Workloads[id] = name
	return id
}

// SetStatus sets the native status reported for a workload
func (f *FakePlatform) SetStatus(workloadID, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Statuses[workloadID] = status
}

// HasWorkload reports whether the workload exists
func (f *FakePlatform) HasWorkload(workloadID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.Workloads[workloadID]
	return ok
}

func (f *FakePlatform) Name() models.PlatformType { return f.Platform }

func (f *FakePlatform) Pooled() bool { return f.IsPooled }

func (f *FakePlatform) HasOperationTracking() bool { return f.OperationTracking }

func (f *FakePlatform) Vocabulary() platform.Vocabulary { return f.Vocab }

func (f *FakePlatform) RelaunchOnRetry() bool { return f.Relaunch }

func (f *FakePlatform) CreateWorkload(ctx context.Context, spec platform.WorkloadSpec) (string, error) {
	f.record("create", spec.Name)
	if f.CreateWorkloadFn != nil {
		return f.CreateWorkloadFn(ctx, spec)
	}
	id := f.AddWorkload(spec.Name)
	f.mu.Lock()
	f.Env[id] = maps.Clone(spec.Env)
	f.mu.Unlock()
	return id, nil
}

func (f *FakePlatform) UpdateEnv(_ context.Context, workloadID string, env map[string]string) error {
	f.record("env", workloadID)
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Workloads[workloadID]; !ok {
		return &platform.PlatformRequestError{Platform: f.Platform, Operation: "update env", StatusCode: 404, Body: "not found"}
	}
	merged := maps.Clone(f.Env[workloadID])
	if merged == nil {
		merged = make(map[string]string)
	}
	maps.Copy(merged, env)
	f.Env[workloadID] = merged
	return nil
}

func (f *FakePlatform) Deploy(ctx context.Context, workloadID string) error {
	f.record("deploy", workloadID)
	if f.DeployFn != nil {
		return f.DeployFn(ctx, workloadID)
	}
	if !f.HasWorkload(workloadID) {
		return &platform.PlatformRequestError{Platform: f.Platform, Operation: "deploy", StatusCode: 404, Body: "not found"}
	}
	return nil
}

func (f *FakePlatform) Stop(ctx context.Context, workloadID string) error {
	f.record("stop", workloadID)
	if f.StopFn != nil {
		return f.StopFn(ctx, workloadID)
	}
	return nil
}

func (f *FakePlatform) Delete(ctx context.Context, workloadID string) error {
	f.record("delete", workloadID)
	if f.DeleteFn != nil {
		return f.DeleteFn(ctx, workloadID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Workloads, workloadID)
	delete(f.Statuses, workloadID)
	return nil
}

func (f *FakePlatform) GetStatus(ctx context.Context, workloadID string) (string, error) {
	if f.GetStatusFn != nil {
		return f.GetStatusFn(ctx, workloadID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Workloads[workloadID]; !ok {
		return "", &platform.PlatformRequestError{Platform: f.Platform, Operation: "get status", StatusCode: 404, Body: "not found"}
	}
	if s, ok := f.Statuses[workloadID]; ok {
		return s, nil
	}
	return f.DefaultStatus, nil
}

func (f *FakePlatform) GetLatestOperation(ctx context.Context, workloadID string) (*platform.Operation, error) {
	status, err := f.GetStatus(ctx, workloadID)
	if err != nil {
		return nil, err
	}
	return &platform.Operation{ID: "op-" + workloadID, Status: status}, nil
}

func (f *FakePlatform) ListWorkloads(ctx context.Context) ([]platform.Workload, error) {
	if f.ListWorkloadsFn != nil {
		return f.ListWorkloadsFn(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := slices.Sorted(maps.Keys(f.Workloads))
	out := make([]platform.Workload, 0, len(ids))
	for _, id := range ids {
		out = append(out, platform.Workload{ID: id, Name: f.Workloads[id], Status: f.DefaultStatus})
	}
	return out, nil
}
