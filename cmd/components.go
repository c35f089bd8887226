// File: cmd/components.go
package cmd

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autodevops/internal/actions"
	"github.com/xkilldash9x/autodevops/internal/config"
	"github.com/xkilldash9x/autodevops/internal/monitor"
	"github.com/xkilldash9x/autodevops/internal/observability"
	"github.com/xkilldash9x/autodevops/internal/server"
	"github.com/xkilldash9x/autodevops/internal/store"
	"github.com/xkilldash9x/autodevops/internal/tracker"
	"github.com/xkilldash9x/autodevops/internal/workflow"
)

// components holds everything a command may need, wired once from the configuration.
type components struct {
	Config    *config.Config
	Store     store.Store
	Tracker   *tracker.Client
	Coder     *actions.Coder
	Reviewer  *actions.Reviewer
	Deployer  *actions.DeployHandler
	Trainer   *actions.ModelHandler
	Issues    *actions.IssueHandler
	Engine    *monitor.Engine
	Workflows *workflow.Executor
}

// initializeComponents handles dependency injection.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*components, error) {
	c := &components{Config: cfg}

	// 1. Store
	st, err := store.Open(ctx, cfg.Storage(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Storage().Driver, err)
	}
	c.Store = st

	// 2. Issue tracker
	tc, err := tracker.New(cfg.GitHub(), logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize GitHub client: %w", err)
	}
	c.Tracker = tc
	repo := cfg.GitHub().Repo

	// 3. Action handlers
	classifier, err := actions.NewClassifier(cfg.Actions().FixRules)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to build fix classifier: %w", err)
	}
	seed := uint64(time.Now().UnixNano())
	opts := []actions.Option{actions.WithLogger(logger)}

	c.Coder = actions.NewCoder(st, classifier, cfg.Actions().FixErrorWindow, opts...)
	c.Reviewer = actions.NewReviewer(st, actions.NewRandomScorer(seed), tc, repo, cfg.Actions().ApproveThreshold, opts...)
	c.Deployer = actions.NewDeployHandler(actions.NewVercelDeployer(cfg.Deploy(), logger), cfg.Deploy().Project, opts...)
	c.Trainer = actions.NewModelHandler(st, actions.NewSimulatedTrainer(seed+1), opts...)
	c.Issues = actions.NewIssueHandler(st, tc, repo, opts...)

	// 4. Decision engine
	collectors := monitor.NewCollectors(cfg.Engine(), st, tc, repo, logger)
	engine, err := monitor.New(cfg.Engine(), st, collectors, monitor.Handlers{
		Coder:    c.Coder,
		Reviewer: c.Reviewer,
		Deployer: c.Deployer,
		Trainer:  c.Trainer,
		Issues:   c.Issues,
	}, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to create decision engine: %w", err)
	}
	c.Engine = engine

	// 5. Workflows
	c.Workflows = workflow.NewExecutor(cfg.Workflow(), st, tc, repo, logger)
	return c, nil
}

// ServerDeps exposes the components to the HTTP API.
func (c *components) ServerDeps() server.Deps {
	return server.Deps{
		Monitor:   c.Engine,
		Coder:     c.Coder,
		Reviewer:  c.Reviewer,
		Trainer:   c.Trainer,
		Deployer:  c.Deployer,
		Issues:    c.Issues,
		Workflows: c.Workflows,
		Store:     c.Store,
		Version:   Version,
	}
}

// Close releases the store.
func (c *components) Close() {
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			observability.GetLogger().Warn("Error closing store", zap.Error(err))
		}
	}
}
