// Package cli is the bravapress command line: the long-running service plus
// one-shot operator commands against the same store.
package cli

import (
	"context"
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	app := &App{}
	cmd := &cobra.Command{
		Use:           "bravapress",
		Short:         "Press release distribution job queue",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&app.ConfigPath, "config", "c", "",
		"config file (default $XDG_CONFIG_HOME/bravapress/config.toml)")

	cmd.AddCommand(
		NewServeCmd(app),
		NewProcessCmd(app),
		NewEnqueueCmd(app),
		NewJobsCmd(app),
		NewSubmissionsCmd(app),
		NewRetryCmd(app),
		NewStatsCmd(app),
		NewRequeueStuckCmd(app),
		NewCleanupCmd(app),
		NewTriggerCmd(app),
	)
	return cmd
}

// run opens app for the duration of fn. Logs go to stderr so stdout stays parseable.
func (a *App) run(cmd *cobra.Command, fn func(ctx context.Context) error) error {
	if err := a.open(cmd.Context(), cmd.ErrOrStderr()); err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context())
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
