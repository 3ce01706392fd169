package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bravapress/bravapress/internal/adapter/amqp"
)

func NewStatsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show job counts by status and type",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.run(cmd, func(ctx context.Context) error {
				stats, err := app.queue.Stats(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "STATUS\tTYPE\tCOUNT")
				var total int64
				for _, s := range stats {
					fmt.Fprintf(tw, "%s\t%s\t%d\n", s.Status, s.Type, s.Count)
					total += s.Count
				}
				fmt.Fprintf(tw, "total\t\t%d\n", total)
				return tw.Flush()
			})
		},
	}
}

func NewRequeueStuckCmd(app *App) *cobra.Command {
	var after time.Duration
	cmd := &cobra.Command{
		Use:   "requeue-stuck",
		Short: "Reset jobs processing for too long back to pending",
		Long: `Reset jobs processing for too long back to pending.

Jobs with no attempts left are failed instead, and their submissions are
marked failed with the contact notified.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.run(cmd, func(ctx context.Context) error {
				proc, err := app.processor(ctx)
				if err != nil {
					return err
				}
				res, err := proc.RequeueStuck(ctx, after)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d job(s), failed %d\n", res.Requeued, len(res.Failed))
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&after, "after", 0, "processing age threshold (default queue.stuck_after)")
	return cmd
}

func NewCleanupCmd(app *App) *cobra.Command {
	var retention time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete completed and failed jobs older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.run(cmd, func(ctx context.Context) error {
				n, err := app.queue.Cleanup(ctx, retention)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d job(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&retention, "retention", 0, "age threshold (default queue.retention)")
	return cmd
}

func NewTriggerCmd(app *App) *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Publish a tick request to the AMQP trigger queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.run(cmd, func(ctx context.Context) error {
				if app.cfg.AMQP.URL == "" {
					return fmt.Errorf("amqp.url is not configured")
				}
				client, err := amqp.Dial(app.cfg.AMQP.URL, app.cfg.AMQP.Queue)
				if err != nil {
					return err
				}
				defer client.Close()
				if err := client.PublishTick(ctx, source); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Tick published to", app.cfg.AMQP.Queue)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "cli", "source recorded on the tick message")
	return cmd
}
