// Package actions holds the side-effecting handlers the decision engine dispatches to.
// Every handler can also be invoked on its own from the CLI or the HTTP API.
package actions

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autodevops/api/schemas"
	"github.com/xkilldash9x/autodevops/internal/store"
)

// Handler is the uniform contract every action handler satisfies. Failures are
// reported in the returned Result; Run never panics.
type Handler interface {
	Run(ctx context.Context, command string, d *schemas.Decision) schemas.Result
}

// Commands understood by the handlers.
const (
	CommandFix      = "fix"
	CommandRefactor = "refactor"
	CommandGenerate = "generate"
	CommandTest     = "test"
	CommandDocument = "document"
	CommandReview   = "review"
	CommandDeploy   = "deploy"
	CommandTrain    = "train"
	CommandEvaluate = "evaluate"
	CommandList     = "list"
	CommandIssue    = "issue"
)

// Option customizes a handler.
type Option func(*base)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(b *base) { b.now = now }
}

// WithLogger sets the operational logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *base) { b.log = logger }
}

// base carries what every handler needs to write its audit trail.
type base struct {
	agent   string
	display string
	store   store.Store
	now     func() time.Time
	log     *zap.Logger
}

func newBase(agent, display string, st store.Store, opts []Option) base {
	b := base{
		agent:   agent,
		display: display,
		store:   st,
		now:     time.Now,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&b)
	}
	b.log = b.log.Named(agent)
	return b
}

func (b *base) ts() string { return schemas.Timestamp(b.now()) }

// audit appends "<Display> <action>: <message>" to the logs collection. A failed
// write is reported operationally and never fails the handler.
func (b *base) audit(ctx context.Context, action, message string) {
	b.appendLog(ctx, schemas.LogEntry{
		Level:     schemas.LevelInfo,
		Message:   fmt.Sprintf("%s %s: %s", b.display, action, message),
		Agent:     b.agent,
		Timestamp: b.ts(),
	})
}

func (b *base) appendLog(ctx context.Context, entry schemas.LogEntry) {
	if err := store.Append(ctx, b.store, store.Logs, entry); err != nil {
		b.log.Error("Failed to append log entry", zap.String("message", entry.Message), zap.Error(err))
	}
}

func (b *base) record(ctx context.Context, rec schemas.ActionRecord) {
	if rec.Timestamp == "" {
		rec.Timestamp = b.ts()
	}
	if err := store.Append(ctx, b.store, store.Actions, rec); err != nil {
		b.log.Error("Failed to append action record", zap.String("type", rec.Type), zap.Error(err))
	}
}

func (b *base) success(action string) schemas.Result {
	return schemas.Result{Agent: b.agent, Status: schemas.StatusSuccess, Action: action, Timestamp: b.ts()}
}

func (b *base) idle(message string) schemas.Result {
	return schemas.Result{Agent: b.agent, Status: schemas.StatusIdle, Message: message, Timestamp: b.ts()}
}

func (b *base) failure(err error) schemas.Result {
	return schemas.ErrorResult(b.agent, err, b.ts())
}

// guard converts a panic inside fn into an error result.
func (b *base) guard(fn func() schemas.Result) (res schemas.Result) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("Handler panicked", zap.Any("panic", r), zap.Stack("stack"))
			res = b.failure(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return fn()
}

func prNumber(d *schemas.Decision) int {
	if d == nil {
		return 0
	}
	return d.PRNumber
}
