// File: cmd/workflow.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/autodevops/internal/observability"
	"github.com/xkilldash9x/autodevops/internal/server"
	"github.com/xkilldash9x/autodevops/internal/workflow"
)

func newWorkflowCmd() *cobra.Command {
	workflowCmd := &cobra.Command{
		Use:   "workflow",
		Short: "Run declarative workflows",
	}

	var (
		asJSON bool
		inputs []string
	)
	runCmd := &cobra.Command{
		Use:   "run <id>",
		Short: "Execute a workflow definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseInputs(inputs)
			if err != nil {
				return err
			}
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			comps, err := initializeComponents(cmd.Context(), cfg, observability.GetLogger())
			if err != nil {
				return err
			}
			defer comps.Close()
			return runWorkflow(cmd.Context(), cmd.OutOrStdout(), comps.Workflows, args[0], parsed, asJSON)
		},
	}
	runCmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	runCmd.Flags().StringArrayVarP(&inputs, "input", "i", nil, "workflow input as key=value, repeatable")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			ids, err := workflow.List(cfg.Workflow().Dir)
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No workflows in %s.\n", cfg.Workflow().Dir)
				return nil
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}

	workflowCmd.AddCommand(runCmd, listCmd)
	return workflowCmd
}

// parseInputs turns key=value pairs into workflow inputs. A comma separated
// labels value becomes a list.
func parseInputs(pairs []string) (map[string]any, error) {
	inputs := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input %q, expected key=value", pair)
		}
		if key == "labels" && strings.Contains(value, ",") {
			labels := []string{}
			for _, l := range strings.Split(value, ",") {
				if l = strings.TrimSpace(l); l != "" {
					labels = append(labels, l)
				}
			}
			inputs[key] = labels
			continue
		}
		inputs[key] = value
	}
	return inputs, nil
}

func runWorkflow(ctx context.Context, out io.Writer, runner server.WorkflowRunner, id string, inputs map[string]any, asJSON bool) error {
	res := runner.Execute(ctx, id, inputs)
	if asJSON || !res.OK() {
		return printResult(out, res, asJSON)
	}

	results, _ := res.Data["results"].([]workflow.TaskResult)
	tw := newTable(out)
	tw.SetTitle("Workflow " + id)
	tw.AppendHeader(table.Row{"Task", "Type", "Status", "Output"})
	for _, r := range results {
		status := r.Result["status"]
		detail := r.Result["message"]
		if detail == nil {
			detail = r.Result["error"]
		}
		tw.AppendRow(table.Row{r.TaskID, r.Type, status, compact(detail)})
	}
	tw.Render()
	return nil
}
