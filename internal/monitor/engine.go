// File: internal/monitor/engine.go
// Description: The decision engine. A pass collects decisions from every signal
// source, then dispatches each one that requires action to its handler and
// records the outcome in the audit trail.

package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autodevops/api/schemas"
	"github.com/xkilldash9x/autodevops/internal/actions"
	"github.com/xkilldash9x/autodevops/internal/config"
	"github.com/xkilldash9x/autodevops/internal/store"
)

// ErrUnknownAction is returned for a decision whose action is outside the closed ActionKind set.
var ErrUnknownAction = errors.New("unknown action")

// Handlers are the dispatch targets, one per agent.
type Handlers struct {
	Coder    actions.Handler
	Reviewer actions.Handler
	Deployer actions.Handler
	Trainer  actions.Handler
	Issues   actions.Handler
}

// MonitorResult is the outcome of Run.
type MonitorResult struct {
	Agent     string               `json:"agent"`
	Status    schemas.ResultStatus `json:"status"`
	PassID    string               `json:"pass_id,omitempty"`
	Decisions []schemas.Decision   `json:"decisions"`
	Error     string               `json:"error,omitempty"`
	Timestamp string               `json:"timestamp"`
}

// Engine runs monitoring passes. Passes are serialized.
type Engine struct {
	mu         sync.Mutex
	cfg        config.EngineConfig
	store      store.Store
	collectors *Collectors
	handlers   Handlers
	now        func() time.Time
	logger     *zap.Logger
}

// New creates an Engine. Individual handlers may be nil; dispatching to a
// missing handler is reported as a failed action.
func New(cfg config.EngineConfig, st store.Store, collectors *Collectors, handlers Handlers, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if st == nil || collectors == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize engine with nil dependencies")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := applyOptions(opts)
	return &Engine{
		cfg:        cfg,
		store:      st,
		collectors: collectors,
		handlers:   handlers,
		now:        o.now,
		logger:     logger.Named("kestra"),
	}, nil
}

// Run executes a named engine command. "monitor", "decide" and the empty
// command run a pass; anything else is rejected.
func (e *Engine) Run(ctx context.Context, command string) MonitorResult {
	res := MonitorResult{Agent: schemas.AgentKestra, Decisions: []schemas.Decision{}}
	switch command {
	case "", "monitor", "decide":
		res.PassID = uuid.NewString()
		if d := e.monitorAndDecide(ctx, res.PassID); d != nil {
			res.Decisions = d
		}
		res.Status = schemas.StatusSuccess
	default:
		res.Status = schemas.StatusError
		res.Error = "Unknown command: " + command
	}
	res.Timestamp = schemas.Timestamp(e.now())
	return res
}

// MonitorAndDecide runs one pass and returns every collected decision,
// including those that required no action.
func (e *Engine) MonitorAndDecide(ctx context.Context) []schemas.Decision {
	return e.monitorAndDecide(ctx, uuid.NewString())
}

func (e *Engine) monitorAndDecide(ctx context.Context, passID string) []schemas.Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	logger := e.logger.With(zap.String("pass_id", passID))
	start := e.now()
	decisions := e.collectors.Collect(ctx)

	dispatched := 0
	for _, d := range decisions {
		if !d.ActionRequired {
			continue
		}
		if _, err := e.executeDecision(ctx, d); err != nil {
			logger.Warn("Decision was not dispatched", zap.String("decision", d.Key()), zap.Error(err))
			continue
		}
		dispatched++
	}

	logger.Info("Monitoring pass finished",
		zap.Int("decisions", len(decisions)),
		zap.Int("dispatched", dispatched),
		zap.Duration("duration", e.now().Sub(start)))
	return decisions
}

// ExecuteDecision logs d and dispatches it to its handler. The returned error is
// non-nil only when d names an action outside the closed set.
func (e *Engine) ExecuteDecision(ctx context.Context, d schemas.Decision) (schemas.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.executeDecision(ctx, d)
}

// route is the closed mapping from action kind to handler.
func (e *Engine) route(kind schemas.ActionKind) (agent, command string, h actions.Handler, err error) {
	switch kind {
	case schemas.ActionFixBuild:
		return schemas.AgentCline, actions.CommandFix, e.handlers.Coder, nil
	case schemas.ActionRefactorCode:
		return schemas.AgentCline, actions.CommandRefactor, e.handlers.Coder, nil
	case schemas.ActionGenerateFeature:
		return schemas.AgentCline, actions.CommandGenerate, e.handlers.Coder, nil
	case schemas.ActionRedeploy:
		return schemas.AgentVercel, actions.CommandDeploy, e.handlers.Deployer, nil
	case schemas.ActionReviewPR:
		return schemas.AgentCodeRabbit, actions.CommandReview, e.handlers.Reviewer, nil
	case schemas.ActionTrainModel:
		return schemas.AgentOumi, actions.CommandTrain, e.handlers.Trainer, nil
	case schemas.ActionCreateIssue:
		return schemas.AgentGitHub, actions.CommandIssue, e.handlers.Issues, nil
	default:
		return "", "", nil, fmt.Errorf("%w: %q", ErrUnknownAction, kind)
	}
}

func (e *Engine) executeDecision(ctx context.Context, d schemas.Decision) (schemas.Result, error) {
	e.logDecision(ctx, d)

	agent, command, handler, err := e.route(d.Action)
	if err != nil {
		return schemas.Result{}, err
	}
	key := d.Key()
	logger := e.logger.With(zap.String("decision", key), zap.String("agent", agent))

	if e.cfg.Redispatch == config.RedispatchCooldown && e.dispatchedRecently(ctx, key) {
		logger.Info("Skipping dispatch, decision is within its cooldown", zap.Duration("cooldown", e.cfg.Cooldown))
		return schemas.Result{
			Agent:     schemas.AgentKestra,
			Status:    schemas.StatusIdle,
			Message:   "Skipped: already dispatched within cooldown",
			Timestamp: schemas.Timestamp(e.now()),
		}, nil
	}

	res := e.dispatch(ctx, agent, command, handler, d)
	status := schemas.ActionCompleted
	if res.Status == schemas.StatusError {
		status = schemas.ActionFailed
		logger.Warn("Action handler failed", zap.String("error", res.Error))
	} else {
		logger.Debug("Action handler finished", zap.String("status", string(res.Status)))
	}

	rec := schemas.ActionRecord{
		Type:      fmt.Sprintf("kestra_triggered_%s_%s", agent, command),
		Status:    status,
		Agent:     schemas.AgentKestra,
		Timestamp: schemas.Timestamp(e.now()),
	}.With("decision", d).With("decision_key", key)
	if err := store.Append(ctx, e.store, store.Actions, rec); err != nil {
		logger.Error("Failed to append action record", zap.Error(err))
	}
	return res, nil
}

// dispatch calls the handler, converting a panic into an error result.
func (e *Engine) dispatch(ctx context.Context, agent, command string, h actions.Handler, d schemas.Decision) (res schemas.Result) {
	now := schemas.Timestamp(e.now())
	if h == nil {
		return schemas.ErrorResult(agent, fmt.Errorf("no %s handler configured", agent), now)
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Recovered panic in action handler", zap.String("agent", agent), zap.Any("panic", r), zap.Stack("stack"))
			res = schemas.ErrorResult(agent, fmt.Errorf("handler panic: %v", r), now)
		}
	}()
	return h.Run(ctx, command, &d)
}

func (e *Engine) logDecision(ctx context.Context, d schemas.Decision) {
	entry := schemas.LogEntry{
		Level:     schemas.LevelInfo,
		Message:   fmt.Sprintf("Kestra Decision: %s - %s", d.Type, d.Reason),
		Agent:     schemas.AgentKestra,
		Timestamp: schemas.Timestamp(e.now()),
	}.With("decision", d)
	if err := store.Append(ctx, e.store, store.Logs, entry); err != nil {
		e.logger.Error("Failed to log decision", zap.String("type", string(d.Type)), zap.Error(err))
	}
}

// dispatchedRecently reports whether an action for key completed within the cooldown.
func (e *Engine) dispatchedRecently(ctx context.Context, key string) bool {
	recs, _, err := store.Recent[schemas.ActionRecord](ctx, e.store, store.Actions, e.cfg.CooldownWindow)
	if err != nil {
		e.logger.Warn("Could not read action records for cooldown", zap.Error(err))
		return false
	}
	cutoff := e.now().Add(-e.cfg.Cooldown)
	for i := len(recs) - 1; i >= 0; i-- {
		rec := recs[i]
		if rec.Status != schemas.ActionCompleted {
			continue
		}
		var k string
		if !rec.Field("decision_key", &k) || k != key {
			continue
		}
		at, err := time.Parse(time.RFC3339Nano, rec.Timestamp)
		if err != nil {
			continue
		}
		if at.After(cutoff) {
			return true
		}
	}
	return false
}
