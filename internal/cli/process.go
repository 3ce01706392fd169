package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/bravapress/bravapress/internal/processor"
)

func NewProcessCmd(app *App) *cobra.Command {
	var drain bool
	var limit int
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Run one processor tick, or keep ticking until the queue is idle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.run(cmd, func(ctx context.Context) error {
				proc, err := app.processor(ctx)
				if err != nil {
					return err
				}
				for i := 0; ; i++ {
					res, err := proc.Tick(ctx)
					if err != nil {
						return err
					}
					if err := printJSON(cmd.OutOrStdout(), res); err != nil {
						return err
					}
					if !drain || res.Outcome == processor.OutcomeIdle || (limit > 0 && i+1 >= limit) {
						return nil
					}
				}
			})
		},
	}
	cmd.Flags().BoolVar(&drain, "drain", false, "tick until no job is due")
	cmd.Flags().IntVar(&limit, "max", 0, "stop draining after this many ticks (0 = no limit)")
	return cmd
}
