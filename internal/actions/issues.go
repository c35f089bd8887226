package actions

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autodevops/api/schemas"
	"github.com/xkilldash9x/autodevops/internal/store"
	"github.com/xkilldash9x/autodevops/internal/tracker"
)

// Issue defaults applied when a decision carries no explicit content.
const DefaultIssueTitle = "Auto-detected Issue"

var DefaultIssueLabels = []string{"auto-generated", "kestra"}

// IssueTracker is the part of the tracker an IssueHandler needs.
type IssueTracker interface {
	HasToken() bool
	CreateIssue(ctx context.Context, repo, title, body string, labels []string) (tracker.Issue, error)
}

// IssueHandler files tracker issues for decisions.
type IssueHandler struct {
	base
	tracker IssueTracker
	repo    string
}

var _ Handler = (*IssueHandler)(nil)

// NewIssueHandler files issues in repo.
func NewIssueHandler(st store.Store, t IssueTracker, repo string, opts ...Option) *IssueHandler {
	return &IssueHandler{
		base:    newBase(schemas.AgentGitHub, "GitHub", st, opts),
		tracker: t,
		repo:    repo,
	}
}

// IssueContent resolves the title, body and labels for d, applying defaults.
func IssueContent(d *schemas.Decision) (title, body string, labels []string) {
	title, labels = DefaultIssueTitle, DefaultIssueLabels
	if d == nil {
		return title, body, labels
	}
	if d.IssueTitle != "" {
		title = d.IssueTitle
	}
	body = d.Reason
	if d.IssueBody != "" {
		body = d.IssueBody
	}
	if len(d.Labels) > 0 {
		labels = d.Labels
	}
	return title, body, labels
}

// Run creates the issue. Without a token it is a no-op reported as idle.
func (h *IssueHandler) Run(ctx context.Context, _ string, d *schemas.Decision) schemas.Result {
	return h.guard(func() schemas.Result {
		if h.tracker == nil || !h.tracker.HasToken() {
			h.log.Debug("Skipping issue creation, no tracker token configured")
			return h.idle("GitHub token not configured; issue not created")
		}

		title, body, labels := IssueContent(d)
		issue, err := h.tracker.CreateIssue(ctx, h.repo, title, body, labels)
		if err != nil {
			h.log.Warn("Issue creation failed", zap.String("title", title), zap.Error(err))
			return h.failure(err)
		}

		h.audit(ctx, "create_issue", fmt.Sprintf("Created issue #%d: %s", issue.Number, issue.Title))
		return h.success("create_issue").Set("issue", issue)
	})
}
