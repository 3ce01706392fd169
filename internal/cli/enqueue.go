package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bravapress/bravapress/internal/domain"
)

func NewEnqueueCmd(app *App) *cobra.Command {
	var priority, maxAttempts int
	cmd := &cobra.Command{
		Use:   "enqueue <type> ['{\"submission_id\":\"...\"}']",
		Short: "Add a job to the queue",
		Long: `Add a job to the queue.

Known types get their default priority and attempt budget unless
--priority or --max-attempts is given. Unknown types are stored as-is
and fail when a tick dispatches them.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ := domain.JobType(args[0])
			var data json.RawMessage
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("invalid job json")
				}
				data = json.RawMessage(args[1])
			}
			return app.run(cmd, func(ctx context.Context) error {
				job, err := enqueue(ctx, app.queue, typ, data, priority, maxAttempts)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Job enqueued:", job.ID)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&priority, "priority", 0, "override the type's default priority")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "override the type's default attempt budget")
	return cmd
}

func enqueue(ctx context.Context, q *domain.QueueService, typ domain.JobType, data json.RawMessage, priority, maxAttempts int) (*domain.Job, error) {
	if !typ.Valid() || priority != 0 || maxAttempts != 0 {
		return q.Enqueue(ctx, domain.NewJob{
			Type:        typ,
			Data:        data,
			Priority:    priority,
			MaxAttempts: maxAttempts,
		})
	}

	payload, err := domain.DecodePayload(typ, data)
	if err != nil {
		return nil, err
	}
	switch p := payload.(type) {
	case domain.SubmissionPayload:
		return q.EnqueueSubmission(ctx, p)
	case domain.NotificationPayload:
		return q.EnqueueNotification(ctx, p)
	case domain.CleanupPayload:
		return q.EnqueueCleanup(ctx, time.Duration(p.RetentionHours)*time.Hour)
	default:
		return q.EnqueueMonitoring(ctx)
	}
}
