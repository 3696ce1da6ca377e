package pool

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/apimachinery/pkg/util/wait"

	v0 "github.com/meetbot-dev/meetbot/internal/orchestrator/api/handlers/v0"
	"github.com/meetbot-dev/meetbot/internal/orchestrator/jobs"
	"github.com/meetbot-dev/meetbot/pkg/printer"
)

var (
	async        bool
	waitForJob   bool
	jobPollEvery = time.Second
)

var SyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile slots against the platform",
	Long: `Delete platform workloads that have no slot record and slot records whose
workload no longer exists on the platform.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := requireClient()
		if err != nil {
			return err
		}
		result, job, err := apiClient.SyncPool(cmd.Context(), async)
		if err != nil {
			return fmt.Errorf("failed to sync pool: %w", err)
		}
		if job != nil {
			return followJob(cmd.Context(), p, job)
		}
		if p.Structured() {
			return p.Print(result)
		}
		printer.PrintSuccess(fmt.Sprintf("Sync complete: %d platform orphan(s) and %d stale record(s) removed (%d workloads, %d slots)",
			result.PlatformOrphansDeleted, result.DatabaseOrphansDeleted, result.TotalPlatformWorkloads, result.TotalDatabaseSlots))
		for _, e := range result.Errors {
			printer.PrintWarning(fmt.Sprintf("%s %s: %s", e.Kind, e.ID, e.Error))
		}
		return nil
	},
}

var RecoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Recover slots in ERROR",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := requireClient()
		if err != nil {
			return err
		}
		result, job, err := apiClient.RecoverPool(cmd.Context(), async)
		if err != nil {
			return fmt.Errorf("failed to recover slots: %w", err)
		}
		if job != nil {
			return followJob(cmd.Context(), p, job)
		}
		if p.Structured() {
			return p.Print(result)
		}
		printer.PrintSuccess(fmt.Sprintf("Recovered %d slot(s)", len(result.Recovered)))
		if len(result.Failed) > 0 {
			printer.PrintWarning("Failed: " + strings.Join(result.Failed, ", "))
		}
		if len(result.Exhausted) > 0 {
			printer.PrintWarning("Out of recovery attempts: " + strings.Join(result.Exhausted, ", "))
		}
		return nil
	},
}

var EnsureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Create slots until the pool reaches its configured size",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := requireClient(); err != nil {
			return err
		}
		created, err := apiClient.EnsurePool(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to fill pool: %w", err)
		}
		printer.PrintSuccess(fmt.Sprintf("Created %d slot(s)", created))
		return nil
	},
}

var JobCmd = &cobra.Command{
	Use:   "job <job-id>",
	Short: "Show a background pool job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := requireClient()
		if err != nil {
			return err
		}
		job, err := apiClient.GetJob(cmd.Context(), jobs.JobID(args[0]))
		if err != nil {
			return fmt.Errorf("failed to get job: %w", err)
		}
		return printJob(p, job)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{SyncCmd, RecoverCmd} {
		cmd.Flags().BoolVar(&async, "async", false, "Run as a background job and print its id")
		cmd.Flags().BoolVar(&waitForJob, "wait", false, "With --async, wait for the job to finish")
	}
}

func followJob(ctx context.Context, p *printer.Printer, started *v0.JobStartedBody) error {
	if !waitForJob {
		if p.Structured() {
			return p.Print(started)
		}
		printer.PrintInfo(fmt.Sprintf("Started job %s", started.JobID))
		return nil
	}

	var job *jobs.Job
	err := wait.PollUntilContextCancel(ctx, jobPollEvery, true, func(ctx context.Context) (bool, error) {
		j, err := apiClient.GetJob(ctx, started.JobID)
		if err != nil {
			return false, err
		}
		job = j
		return j.IsTerminal(), nil
	})
	if err != nil {
		return fmt.Errorf("failed waiting for job %s: %w", started.JobID, err)
	}
	return printJob(p, job)
}

func printJob(p *printer.Printer, job *jobs.Job) error {
	if p.Structured() {
		return p.Print(job)
	}
	msg := fmt.Sprintf("Job %s (%s): %s, %d/%d processed", job.ID, job.Type, job.Status, job.Progress.Processed, job.Progress.Total)
	if job.Status == jobs.JobStatusFailed && job.Result != nil {
		printer.PrintError(msg + ": " + job.Result.Error)
		return nil
	}
	printer.PrintInfo(msg)
	return nil
}
