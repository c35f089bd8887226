// File: cmd/monitor.go
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/autodevops/api/schemas"
	"github.com/xkilldash9x/autodevops/internal/observability"
	"github.com/xkilldash9x/autodevops/internal/server"
)

func newMonitorCmd() *cobra.Command {
	var asJSON bool

	monitorCmd := &cobra.Command{
		Use:   "monitor [monitor|decide]",
		Short: "Run one monitoring pass and dispatch the resulting actions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			command := "monitor"
			if len(args) == 1 {
				command = args[0]
			}

			comps, err := initializeComponents(cmd.Context(), cfg, observability.GetLogger())
			if err != nil {
				return err
			}
			defer comps.Close()

			return runMonitor(cmd.Context(), cmd.OutOrStdout(), comps.Engine, command, asJSON)
		},
	}
	monitorCmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return monitorCmd
}

// runMonitor contains the core logic for the monitor command.
func runMonitor(ctx context.Context, out io.Writer, m server.Monitor, command string, asJSON bool) error {
	res := m.Run(ctx, command)
	if asJSON {
		if err := printJSON(out, res); err != nil {
			return err
		}
	} else {
		if res.PassID != "" {
			fmt.Fprintf(out, "Pass %s at %s\n", res.PassID, res.Timestamp)
		}
		printDecisions(out, res.Decisions)
	}
	if res.Status == schemas.StatusError {
		return fmt.Errorf("monitor: %s", res.Error)
	}
	return nil
}
