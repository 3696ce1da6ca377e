package v0

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/meetbot-dev/meetbot/internal/orchestrator/jobs"
)

// JobInput identifies a job
type JobInput struct {
	JobID string `path:"jobId" doc:"Job ID" example:"pool-sync-a1b2c3d4e5f6"`
}

// RegisterJobsEndpoints registers the job status endpoint
func RegisterJobsEndpoints(api huma.API, pathPrefix string, jobManager *jobs.Manager) {
	huma.Register(api, huma.Operation{
		OperationID: "get-job" + operationSuffix(pathPrefix),
		Method:      http.MethodGet,
		Path:        pathPrefix + "/jobs/{jobId}",
		Summary:     "Get background job status",
		Tags:        []string{"jobs"},
	}, func(ctx context.Context, input *JobInput) (*Response[jobs.Job], error) {
		job, err := jobManager.GetJob(jobs.JobID(input.JobID))
		if errors.Is(err, jobs.ErrJobNotFound) {
			return nil, huma.Error404NotFound("Job not found")
		} else if err != nil {
			return nil, huma.Error500InternalServerError("Failed to get job", err)
		}
		return &Response[jobs.Job]{Body: *job}, nil
	})
}
