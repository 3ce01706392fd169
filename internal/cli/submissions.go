package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bravapress/bravapress/internal/domain"
)

func NewSubmissionsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "submissions",
		Aliases: []string{"sub"},
		Short:   "Inspect and create press release submissions",
	}
	cmd.AddCommand(newSubmissionsListCmd(app), newSubmissionsGetCmd(app), newSubmissionsCreateCmd(app))
	return cmd
}

func newSubmissionsListCmd(app *App) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List submissions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.run(cmd, func(ctx context.Context) error {
				subs, err := app.subs.List(ctx, limit)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tSTATUS\tPACKAGE\tORDER\tTITLE")
				for _, s := range subs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Status, s.PackageType, s.ExternalOrderID, s.Title)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func newSubmissionsGetCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "get <submission-id>",
		Short: "Show a submission with its processing and error logs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.run(cmd, func(ctx context.Context) error {
				sub, err := app.subs.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), sub)
			})
		},
	}
}

func newSubmissionsCreateCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "create <file.json|->",
		Short: "Create a draft submission from JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw []byte
			var err error
			if args[0] == "-" {
				raw, err = io.ReadAll(cmd.InOrStdin())
			} else {
				raw, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}

			var sub domain.Submission
			if err := json.Unmarshal(raw, &sub); err != nil {
				return fmt.Errorf("invalid submission json: %w", err)
			}
			// Lifecycle fields belong to the queue.
			sub.Status = domain.SubmissionDraft
			sub.ExternalOrderID, sub.ConfirmationURL = "", ""
			sub.ProcessingLogs, sub.ErrorLogs = nil, nil

			return app.run(cmd, func(ctx context.Context) error {
				if err := app.subs.Create(ctx, &sub); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Submission created:", sub.ID)
				return nil
			})
		},
	}
}

func NewRetryCmd(app *App) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "retry <submission-id>",
		Short: "Queue a fresh submission job for a failed or stalled submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var pm domain.PaymentMode
			if mode != "" {
				m, err := domain.ParsePaymentMode(mode)
				if err != nil {
					return err
				}
				pm = m
			}
			return app.run(cmd, func(ctx context.Context) error {
				job, err := app.queue.RetrySubmission(ctx, app.subs, args[0], pm)
				if err != nil {
					return fmt.Errorf("retry failed: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Job enqueued:", job.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&mode, "payment-mode", "", "override payment mode for this run (auto, credit, manual)")
	return cmd
}
