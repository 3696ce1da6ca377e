package v0

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/meetbot-dev/meetbot/internal/orchestrator/jobs"
	"github.com/meetbot-dev/meetbot/internal/orchestrator/service"
	"github.com/meetbot-dev/meetbot/pkg/models"
)

// SlotsListInput represents query parameters for listing slots
type SlotsListInput struct {
	Status string `query:"status" doc:"Filter by slot status" enum:"IDLE,DEPLOYING,HEALTHY,ERROR"`
}

// SlotsListBody is the list of pool slots
type SlotsListBody struct {
	Slots []models.PoolSlot `json:"slots"`
}

// SlotInput identifies a pool slot
type SlotInput struct {
	ID string `path:"id" doc:"Slot ID"`
}

// AsyncInput selects between running a sweep inline or as a job
type AsyncInput struct {
	Async bool `query:"async" doc:"Run as a background job and return its id" default:"false"`
}

// JobStartedBody is returned when a sweep runs as a background job
type JobStartedBody struct {
	JobID  jobs.JobID     `json:"jobId"`
	Status jobs.JobStatus `json:"status"`
}

// SyncResponse is returned by the sync endpoint
type SyncResponse struct {
	Status int
	Body   struct {
		Result *models.SyncResult `json:"result,omitempty"`
		Job    *JobStartedBody    `json:"job,omitempty"`
	}
}

// RecoverResponse is returned by the recover endpoint
type RecoverResponse struct {
	Status int
	Body   struct {
		Result *models.RecoveryResult `json:"result,omitempty"`
		Job    *JobStartedBody        `json:"job,omitempty"`
	}
}

// EnsureSizeBody reports how many slots were created
type EnsureSizeBody struct {
	Created int `json:"created"`
}

// RegisterPoolEndpoints registers the admin pool endpoints. Sweeps accept ?async=true when a job manager is given.
func RegisterPoolEndpoints(api huma.API, pathPrefix string, svc service.DeploymentService, jobManager *jobs.Manager) {
	huma.Register(api, huma.Operation{
		OperationID: "get-pool-stats" + operationSuffix(pathPrefix),
		Method:      http.MethodGet,
		Path:        pathPrefix + "/pool/stats",
		Summary:     "Pool slot counts by status",
		Tags:        []string{"pool"},
	}, func(ctx context.Context, _ *struct{}) (*Response[models.PoolStats], error) {
		stats, err := svc.GetPoolStats(ctx)
		if err != nil {
			return nil, toHumaError(err, "Pool")
		}
		return &Response[models.PoolStats]{Body: *stats}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-queue-stats" + operationSuffix(pathPrefix),
		Method:      http.MethodGet,
		Path:        pathPrefix + "/pool/queue",
		Summary:     "Slot queue statistics",
		Tags:        []string{"pool"},
	}, func(ctx context.Context, _ *struct{}) (*Response[models.QueueStats], error) {
		stats, err := svc.GetQueueStats(ctx)
		if err != nil {
			return nil, toHumaError(err, "Queue")
		}
		return &Response[models.QueueStats]{Body: *stats}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-slots" + operationSuffix(pathPrefix),
		Method:      http.MethodGet,
		Path:        pathPrefix + "/pool/slots",
		Summary:     "List pool slots",
		Tags:        []string{"pool"},
	}, func(ctx context.Context, input *SlotsListInput) (*Response[SlotsListBody], error) {
		var status *models.SlotStatus
		if input.Status != "" {
			s, ok := models.ParseSlotStatus(input.Status)
			if !ok {
				return nil, huma.Error400BadRequest("Invalid slot status " + input.Status)
			}
			status = &s
		}
		slots, err := svc.ListSlots(ctx, status)
		if err != nil {
			return nil, toHumaError(err, "Slots")
		}
		resp := &Response[SlotsListBody]{}
		resp.Body.Slots = make([]models.PoolSlot, 0, len(slots))
		for _, s := range slots {
			resp.Body.Slots = append(resp.Body.Slots, *s)
		}
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-slot" + operationSuffix(pathPrefix),
		Method:      http.MethodDelete,
		Path:        pathPrefix + "/pool/slots/{id}",
		Summary:     "Delete a pool slot and its workload",
		Tags:        []string{"pool"},
	}, func(ctx context.Context, input *SlotInput) (*Response[EmptyResponse], error) {
		deleted, err := svc.DeleteSlot(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err, "Slot")
		}
		if !deleted {
			return nil, huma.Error404NotFound("Slot not found")
		}
		return &Response[EmptyResponse]{Body: EmptyResponse{Message: "Slot deleted"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sync-pool" + operationSuffix(pathPrefix),
		Method:      http.MethodPost,
		Path:        pathPrefix + "/pool/sync",
		Summary:     "Reconcile pool slots with the platform",
		Description: "Deletes platform workloads without a slot record and slot records without a workload.",
		Tags:        []string{"pool"},
	}, func(ctx context.Context, input *AsyncInput) (*SyncResponse, error) {
		resp := &SyncResponse{Status: http.StatusOK}
		if input.Async && jobManager != nil {
			job, err := jobManager.Start(ctx, jobs.SyncJobType, syncJob(svc))
			if err != nil {
				return nil, toHumaError(err, "Job")
			}
			resp.Status = http.StatusAccepted
			resp.Body.Job = &JobStartedBody{JobID: job.ID, Status: job.Status}
			return resp, nil
		}
		result, err := svc.Sync(ctx)
		if err != nil {
			return nil, toHumaError(err, "Pool")
		}
		resp.Body.Result = result
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "recover-pool" + operationSuffix(pathPrefix),
		Method:      http.MethodPost,
		Path:        pathPrefix + "/pool/recover",
		Summary:     "Recover errored slots",
		Tags:        []string{"pool"},
	}, func(ctx context.Context, input *AsyncInput) (*RecoverResponse, error) {
		resp := &RecoverResponse{Status: http.StatusOK}
		if input.Async && jobManager != nil {
			job, err := jobManager.Start(ctx, jobs.RecoverJobType, recoverJob(svc))
			if err != nil {
				return nil, toHumaError(err, "Job")
			}
			resp.Status = http.StatusAccepted
			resp.Body.Job = &JobStartedBody{JobID: job.ID, Status: job.Status}
			return resp, nil
		}
		result, err := svc.RecoverErroredSlots(ctx)
		if err != nil {
			return nil, toHumaError(err, "Pool")
		}
		resp.Body.Result = result
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "ensure-pool-size" + operationSuffix(pathPrefix),
		Method:      http.MethodPost,
		Path:        pathPrefix + "/pool/ensure",
		Summary:     "Create missing pool slots",
		Tags:        []string{"pool"},
	}, func(ctx context.Context, _ *struct{}) (*Response[EnsureSizeBody], error) {
		created, err := svc.EnsurePoolSize(ctx)
		if err != nil {
			return nil, toHumaError(err, "Pool")
		}
		return &Response[EnsureSizeBody]{Body: EnsureSizeBody{Created: created}}, nil
	})
}

func syncJob(svc service.DeploymentService) jobs.Func {
	return func(ctx context.Context, report func(jobs.JobProgress)) (*jobs.JobResult, error) {
		result, err := svc.Sync(ctx)
		if err != nil {
			return nil, err
		}
		out := &jobs.JobResult{
			WorkloadsRemoved: result.PlatformOrphansDeleted,
			RecordsRemoved:   result.DatabaseOrphansDeleted,
		}
		for _, e := range result.Errors {
			out.Failures = append(out.Failures, e.Kind+" "+e.ID+": "+e.Error)
		}
		report(jobs.JobProgress{
			Total:     result.TotalPlatformWorkloads + result.TotalDatabaseSlots,
			Processed: result.TotalPlatformWorkloads + result.TotalDatabaseSlots,
			Failures:  len(result.Errors),
		})
		return out, nil
	}
}

func recoverJob(svc service.DeploymentService) jobs.Func {
	return func(ctx context.Context, report func(jobs.JobProgress)) (*jobs.JobResult, error) {
		result, err := svc.RecoverErroredSlots(ctx)
		if err != nil {
			return nil, err
		}
		total := len(result.Recovered) + len(result.Failed) + len(result.Exhausted)
		report(jobs.JobProgress{Total: total, Processed: total, Failures: len(result.Failed)})
		return &jobs.JobResult{
			SlotsRecovered: len(result.Recovered),
			SlotsExhausted: len(result.Exhausted),
			Failures:       result.Failed,
		}, nil
	}
}
