// File: internal/monitor/collectors.go
// Description: Signal collectors. Each one reads a single source (the tracker or
// a store collection) and turns what it sees into Decisions. Collectors never
// fail the pass: a broken source yields no decisions and a warning.

package monitor

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autodevops/api/schemas"
	"github.com/xkilldash9x/autodevops/internal/config"
	"github.com/xkilldash9x/autodevops/internal/store"
	"github.com/xkilldash9x/autodevops/internal/tracker"
)

// PullRequestSource is the part of the tracker the stale PR collector reads.
type PullRequestSource interface {
	HasToken() bool
	ListPullRequests(ctx context.Context, repo, state string) ([]tracker.PullRequest, error)
}

// Option customizes the collectors and the engine.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func applyOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Collectors gathers the five signal sources of a monitoring pass.
type Collectors struct {
	cfg    config.EngineConfig
	store  store.Store
	prs    PullRequestSource
	repo   string
	now    func() time.Time
	logger *zap.Logger
}

// NewCollectors wires the collectors. prs may be nil, which disables the stale PR signal.
func NewCollectors(cfg config.EngineConfig, st store.Store, prs PullRequestSource, repo string, logger *zap.Logger, opts ...Option) *Collectors {
	o := applyOptions(opts)
	return &Collectors{
		cfg:    cfg,
		store:  st,
		prs:    prs,
		repo:   repo,
		now:    o.now,
		logger: logger.Named("collectors"),
	}
}

// Collect runs every collector in the fixed order PR, build, review, model,
// deployment and concatenates their decisions.
func (c *Collectors) Collect(ctx context.Context) []schemas.Decision {
	var decisions []schemas.Decision
	decisions = append(decisions, c.StalePullRequests(ctx)...)
	decisions = append(decisions, c.BuildFailures(ctx)...)
	decisions = append(decisions, c.CodeQuality(ctx)...)
	decisions = append(decisions, c.ModelTraining(ctx)...)
	decisions = append(decisions, c.DeploymentFailures(ctx)...)
	return decisions
}

// parseTrackerTime accepts RFC 3339 timestamps, including a trailing Z.
func parseTrackerTime(s string) (time.Time, error) {
	if strings.HasSuffix(s, "Z") {
		s = strings.TrimSuffix(s, "Z") + "+00:00"
	}
	return time.Parse(time.RFC3339Nano, s)
}

// StalePullRequests flags open pull requests without activity for more than
// StaleAfterDays whole days.
func (c *Collectors) StalePullRequests(ctx context.Context) []schemas.Decision {
	if c.prs == nil || !c.prs.HasToken() {
		return nil
	}
	prs, err := c.prs.ListPullRequests(ctx, c.repo, "open")
	if err != nil {
		c.logger.Warn("Could not list pull requests", zap.String("repo", c.repo), zap.Error(err))
		return nil
	}

	now := c.now()
	var decisions []schemas.Decision
	for _, pr := range prs {
		if pr.UpdatedAt == "" {
			continue
		}
		updated, err := parseTrackerTime(pr.UpdatedAt)
		if err != nil {
			c.logger.Warn("Skipping pull request with malformed timestamp",
				zap.Int("pr", pr.Number), zap.String("updated_at", pr.UpdatedAt), zap.Error(err))
			continue
		}
		days := int(math.Floor(now.Sub(updated).Hours() / 24))
		if days <= c.cfg.StaleAfterDays {
			continue
		}

		action := schemas.ActionReviewPR
		if pr.Draft {
			action = schemas.ActionFixBuild
		}
		decisions = append(decisions, schemas.Decision{
			Type:           schemas.DecisionStalePR,
			Action:         action,
			ActionRequired: true,
			PRNumber:       pr.Number,
			Reason:         fmt.Sprintf("PR #%d is stale (%d days old)", pr.Number, days),
		})
	}
	return decisions
}

// recentLogs reads the last n log entries, skipping malformed ones.
func (c *Collectors) recentLogs(ctx context.Context, n int) []schemas.LogEntry {
	logs, skipped, err := store.Recent[schemas.LogEntry](ctx, c.store, store.Logs, n)
	if err != nil {
		c.logger.Warn("Could not read logs", zap.Error(err))
		return nil
	}
	if skipped > 0 {
		c.logger.Debug("Skipped malformed log entries", zap.Int("count", skipped))
	}
	return logs
}

func countErrors(logs []schemas.LogEntry, keywords ...string) int {
	count := 0
	for _, l := range logs {
		if l.Level != schemas.LevelError {
			continue
		}
		msg := strings.ToLower(l.Message)
		for _, kw := range keywords {
			if strings.Contains(msg, kw) {
				count++
				break
			}
		}
	}
	return count
}

// BuildFailures emits at most one decision covering every recent build or test error.
func (c *Collectors) BuildFailures(ctx context.Context) []schemas.Decision {
	failures := countErrors(c.recentLogs(ctx, c.cfg.BuildWindow), "build", "test")
	if failures == 0 {
		return nil
	}
	return []schemas.Decision{{
		Type:           schemas.DecisionBuildFailure,
		Action:         schemas.ActionFixBuild,
		ActionRequired: true,
		FailuresCount:  failures,
		Reason:         fmt.Sprintf("Detected %d recent build failures", failures),
	}}
}

// CodeQuality emits one refactor decision per recent review scoring below CodeQualityMin.
func (c *Collectors) CodeQuality(ctx context.Context) []schemas.Decision {
	reviews, _, err := store.Recent[schemas.ReviewRecord](ctx, c.store, store.Reviews, c.cfg.ReviewWindow)
	if err != nil {
		c.logger.Warn("Could not read reviews", zap.Error(err))
		return nil
	}

	var decisions []schemas.Decision
	for _, r := range reviews {
		score := r.QualityScore()
		if score >= c.cfg.CodeQualityMin {
			continue
		}
		decisions = append(decisions, schemas.Decision{
			Type:           schemas.DecisionLowCodeQuality,
			Action:         schemas.ActionRefactorCode,
			ActionRequired: true,
			ReviewID:       r.Title,
			Score:          schemas.IntPtr(score),
			Reason:         fmt.Sprintf("Code quality score %d below threshold %d", score, c.cfg.CodeQualityMin),
		})
	}
	return decisions
}

// ModelTraining reports models still in training. These decisions are informational.
func (c *Collectors) ModelTraining(ctx context.Context) []schemas.Decision {
	models, _, err := store.Recent[schemas.ModelRecord](ctx, c.store, store.Models, 0)
	if err != nil {
		c.logger.Warn("Could not read models", zap.Error(err))
		return nil
	}

	var decisions []schemas.Decision
	for _, m := range models {
		if m.Status != schemas.ModelTraining {
			continue
		}
		decisions = append(decisions, schemas.Decision{
			Type:           schemas.DecisionModelTraining,
			Action:         schemas.ActionTrainModel,
			ActionRequired: false,
			Model:          m.Name,
			Reason:         fmt.Sprintf("Model %s is currently training", m.Name),
		})
	}
	return decisions
}

// DeploymentFailures emits at most one redeploy decision.
func (c *Collectors) DeploymentFailures(ctx context.Context) []schemas.Decision {
	if countErrors(c.recentLogs(ctx, c.cfg.DeployWindow), "deploy") == 0 {
		return nil
	}
	return []schemas.Decision{{
		Type:           schemas.DecisionDeploymentFailure,
		Action:         schemas.ActionRedeploy,
		ActionRequired: true,
		Reason:         "Deployment failure detected",
	}}
}
