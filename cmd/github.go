// File: cmd/github.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/autodevops/internal/observability"
	"github.com/xkilldash9x/autodevops/internal/tracker"
)

// repoReader is the read side of the issue tracker used by the github commands.
type repoReader interface {
	ListPullRequests(ctx context.Context, repo, state string) ([]tracker.PullRequest, error)
	GetPullRequest(ctx context.Context, repo string, number int) (tracker.PullRequest, error)
	ListIssues(ctx context.Context, repo, state string) ([]tracker.Issue, error)
	GetRepository(ctx context.Context, repo string) (tracker.Repository, error)
}

func newGitHubCmd() *cobra.Command {
	var (
		asJSON bool
		state  string
	)

	githubCmd := &cobra.Command{
		Use:   "github",
		Short: "Inspect the configured GitHub repository",
	}
	githubCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print the result as JSON")

	withReader := func(cmd *cobra.Command, fn func(ctx context.Context, r repoReader, repo string) error) error {
		cfg, err := configFrom(cmd)
		if err != nil {
			return err
		}
		client, err := tracker.New(cfg.GitHub(), observability.GetLogger())
		if err != nil {
			return err
		}
		return fn(cmd.Context(), client, cfg.GitHub().Repo)
	}

	prsCmd := &cobra.Command{
		Use:   "prs",
		Short: "List pull requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withReader(cmd, func(ctx context.Context, r repoReader, repo string) error {
				return runListPullRequests(ctx, cmd.OutOrStdout(), r, repo, state, asJSON)
			})
		},
	}
	prsCmd.Flags().StringVar(&state, "state", "open", "open, closed or all")

	prCmd := &cobra.Command{
		Use:   "pr <number>",
		Short: "Show one pull request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			number, err := strconv.Atoi(args[0])
			if err != nil || number <= 0 {
				return fmt.Errorf("invalid pull request number %q", args[0])
			}
			return withReader(cmd, func(ctx context.Context, r repoReader, repo string) error {
				pr, err := r.GetPullRequest(ctx, repo, number)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), pr)
				}
				printPullRequests(cmd.OutOrStdout(), []tracker.PullRequest{pr})
				return nil
			})
		},
	}

	var issueState string
	issuesCmd := &cobra.Command{
		Use:   "issues",
		Short: "List issues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withReader(cmd, func(ctx context.Context, r repoReader, repo string) error {
				return runListIssues(ctx, cmd.OutOrStdout(), r, repo, issueState, asJSON)
			})
		},
	}
	issuesCmd.Flags().StringVar(&issueState, "state", "open", "open, closed or all")

	repoCmd := &cobra.Command{
		Use:   "repo",
		Short: "Show repository details",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withReader(cmd, func(ctx context.Context, r repoReader, repo string) error {
				info, err := r.GetRepository(ctx, repo)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), info)
			})
		},
	}

	githubCmd.AddCommand(prsCmd, prCmd, issuesCmd, repoCmd)
	return githubCmd
}

func runListPullRequests(ctx context.Context, out io.Writer, r repoReader, repo, state string, asJSON bool) error {
	prs, err := r.ListPullRequests(ctx, repo, state)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(out, prs)
	}
	printPullRequests(out, prs)
	return nil
}

func printPullRequests(out io.Writer, prs []tracker.PullRequest) {
	if len(prs) == 0 {
		fmt.Fprintln(out, "No pull requests.")
		return
	}
	tw := newTable(out)
	tw.AppendHeader(table.Row{"#", "Title", "Author", "State", "Draft", "Labels", "Changes", "Updated"})
	for _, pr := range prs {
		changes := fmt.Sprintf("+%d/-%d (%d files)", pr.Additions, pr.Deletions, pr.ChangedFiles)
		tw.AppendRow(table.Row{pr.Number, pr.Title, pr.Author, pr.State, pr.Draft, strings.Join(pr.Labels, ", "), changes, pr.UpdatedAt})
	}
	tw.Render()
}

func runListIssues(ctx context.Context, out io.Writer, r repoReader, repo, state string, asJSON bool) error {
	issues, err := r.ListIssues(ctx, repo, state)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(out, issues)
	}
	if len(issues) == 0 {
		fmt.Fprintln(out, "No issues.")
		return nil
	}
	tw := newTable(out)
	tw.AppendHeader(table.Row{"#", "Title", "Author", "State", "Labels"})
	for _, is := range issues {
		tw.AppendRow(table.Row{is.Number, is.Title, is.Author, is.State, strings.Join(is.Labels, ", ")})
	}
	tw.Render()
	return nil
}
