// File: cmd/act.go
package cmd

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/autodevops/api/schemas"
	"github.com/xkilldash9x/autodevops/internal/actions"
	"github.com/xkilldash9x/autodevops/internal/observability"
)

// newActCmd groups the direct invocations of each action handler.
func newActCmd() *cobra.Command {
	var asJSON bool

	actCmd := &cobra.Command{
		Use:   "act",
		Short: "Invoke an action handler directly",
	}
	actCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print the result as JSON")

	// withHandler wires the components and runs the handler picked from them.
	withHandler := func(cmd *cobra.Command, pick func(*components) actions.Handler, command string, d *schemas.Decision) error {
		cfg, err := configFrom(cmd)
		if err != nil {
			return err
		}
		comps, err := initializeComponents(cmd.Context(), cfg, observability.GetLogger())
		if err != nil {
			return err
		}
		defer comps.Close()
		return runAct(cmd.Context(), cmd.OutOrStdout(), pick(comps), command, d, asJSON)
	}

	var (
		pr      int
		feature string
	)
	clineCmd := &cobra.Command{
		Use:   "cline <fix|refactor|generate|test|document>",
		Short: "Run the coding agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHandler(cmd, func(c *components) actions.Handler { return c.Coder }, args[0],
				&schemas.Decision{PRNumber: pr, Feature: feature})
		},
	}
	clineCmd.Flags().IntVar(&pr, "pr", 0, "pull request number for refactor")
	clineCmd.Flags().StringVar(&feature, "feature", "", "feature description for generate")

	var reviewPR int
	reviewCmd := &cobra.Command{
		Use:   "coderabbit",
		Short: "Review one pull request, or every open pull request when --pr is omitted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withHandler(cmd, func(c *components) actions.Handler { return c.Reviewer }, actions.CommandReview,
				&schemas.Decision{PRNumber: reviewPR})
		},
	}
	reviewCmd.Flags().IntVar(&reviewPR, "pr", 0, "pull request number")

	var model string
	oumiCmd := &cobra.Command{
		Use:   "oumi <train|evaluate|list>",
		Short: "Run the model training agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHandler(cmd, func(c *components) actions.Handler { return c.Trainer }, args[0],
				&schemas.Decision{Model: model})
		},
	}
	oumiCmd.Flags().StringVar(&model, "model", "", "model name")

	deployCmd := &cobra.Command{
		Use:   "deploy",
		Short: "Trigger a deployment of the configured project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withHandler(cmd, func(c *components) actions.Handler { return c.Deployer }, actions.CommandDeploy, nil)
		},
	}

	var (
		title  string
		body   string
		labels []string
	)
	issueCmd := &cobra.Command{
		Use:   "issue",
		Short: "File an issue in the configured repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withHandler(cmd, func(c *components) actions.Handler { return c.Issues }, actions.CommandIssue,
				&schemas.Decision{IssueTitle: title, IssueBody: body, Reason: body, Labels: labels})
		},
	}
	issueCmd.Flags().StringVar(&title, "title", "", "issue title")
	issueCmd.Flags().StringVar(&body, "body", "", "issue body")
	issueCmd.Flags().StringSliceVar(&labels, "label", nil, "issue label, repeatable")

	actCmd.AddCommand(clineCmd, reviewCmd, oumiCmd, deployCmd, issueCmd)
	return actCmd
}

// runAct invokes h and prints its result.
func runAct(ctx context.Context, out io.Writer, h actions.Handler, command string, d *schemas.Decision, asJSON bool) error {
	return printResult(out, h.Run(ctx, command, d), asJSON)
}
