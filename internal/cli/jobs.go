package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bravapress/bravapress/internal/domain"
)

// jobView is the printed form of a job, with the reported status.
type jobView struct {
	ID          string           `json:"id"`
	Type        domain.JobType   `json:"type"`
	Status      domain.JobStatus `json:"status"`
	Priority    int              `json:"priority"`
	Attempts    int              `json:"attempts"`
	MaxAttempts int              `json:"max_attempts"`
	Data        json.RawMessage  `json:"data,omitempty"`
	Result      json.RawMessage  `json:"result,omitempty"`
	Error       string           `json:"error,omitempty"`
	ScheduledAt time.Time        `json:"scheduled_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

func viewJob(j *domain.Job) jobView {
	return jobView{
		ID:          j.ID,
		Type:        j.Type,
		Status:      j.ReportedStatus(),
		Priority:    j.Priority,
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		Data:        j.Data,
		Result:      j.Result,
		Error:       j.Error,
		ScheduledAt: j.ScheduledAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		CreatedAt:   j.CreatedAt,
	}
}

func NewJobsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect queued jobs",
	}
	cmd.AddCommand(newJobsListCmd(app), newJobsGetCmd(app))
	return cmd
}

func newJobsListCmd(app *App) *cobra.Command {
	var status, typ string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.run(cmd, func(ctx context.Context) error {
				jobs, err := app.queue.List(ctx, domain.JobFilter{
					Status: domain.JobStatus(status),
					Type:   domain.JobType(typ),
					Limit:  limit,
				})
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tATTEMPTS\tSCHEDULED\tERROR")
				for i := range jobs {
					j := &jobs[i]
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
						j.ID, j.Type, j.ReportedStatus(), j.Attempts, j.MaxAttempts,
						j.ScheduledAt.UTC().Format(time.RFC3339), j.Error)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending, retrying, processing, completed, failed)")
	cmd.Flags().StringVar(&typ, "type", "", "filter by job type")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func newJobsGetCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show one job as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.run(cmd, func(ctx context.Context) error {
				job, err := app.queue.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), viewJob(job))
			})
		},
	}
}
