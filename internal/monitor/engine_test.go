package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/autodevops/api/schemas"
	"github.com/xkilldash9x/autodevops/internal/actions"
	"github.com/xkilldash9x/autodevops/internal/config"
	"github.com/xkilldash9x/autodevops/internal/store"
)

// MockHandler is a mock implementation of actions.Handler.
type MockHandler struct {
	mock.Mock
}

func (m *MockHandler) Run(ctx context.Context, command string, d *schemas.Decision) schemas.Result {
	return m.Called(ctx, command, d).Get(0).(schemas.Result)
}

func ok(agent string) schemas.Result {
	return schemas.Result{Agent: agent, Status: schemas.StatusSuccess}
}

type testEngine struct {
	*Engine
	store    store.Store
	handlers map[string]*MockHandler

	mu  sync.Mutex
	now time.Time
}

func (te *testEngine) clock() time.Time {
	te.mu.Lock()
	defer te.mu.Unlock()
	return te.now
}

func (te *testEngine) advance(d time.Duration) {
	te.mu.Lock()
	te.now = te.now.Add(d)
	te.mu.Unlock()
}

func newTestEngine(t *testing.T, cfg config.EngineConfig) *testEngine {
	t.Helper()
	te := &testEngine{
		store: newTestStore(t),
		now:   testNow,
		handlers: map[string]*MockHandler{
			schemas.AgentCline:      new(MockHandler),
			schemas.AgentCodeRabbit: new(MockHandler),
			schemas.AgentVercel:     new(MockHandler),
			schemas.AgentOumi:       new(MockHandler),
			schemas.AgentGitHub:     new(MockHandler),
		},
	}
	logger := zaptest.NewLogger(t)
	collectors := NewCollectors(cfg, te.store, nil, testRepo, logger, WithClock(te.clock))
	e, err := New(cfg, te.store, collectors, Handlers{
		Coder:    te.handlers[schemas.AgentCline],
		Reviewer: te.handlers[schemas.AgentCodeRabbit],
		Deployer: te.handlers[schemas.AgentVercel],
		Trainer:  te.handlers[schemas.AgentOumi],
		Issues:   te.handlers[schemas.AgentGitHub],
	}, logger, WithClock(te.clock))
	require.NoError(t, err)
	te.Engine = e
	return te
}

func (te *testEngine) actionRecords(t *testing.T) []schemas.ActionRecord {
	t.Helper()
	recs, _, err := store.Recent[schemas.ActionRecord](context.Background(), te.store, store.Actions, 0)
	require.NoError(t, err)
	return recs
}

func (te *testEngine) logs(t *testing.T) []schemas.LogEntry {
	t.Helper()
	logs, _, err := store.Recent[schemas.LogEntry](context.Background(), te.store, store.Logs, 0)
	require.NoError(t, err)
	return logs
}

func TestNew_RejectsMissingDependencies(t *testing.T) {
	_, err := New(engineConfig(), nil, nil, Handlers{}, zaptest.NewLogger(t))
	assert.Error(t, err)

	cfg := engineConfig()
	cfg.Redispatch = "sometimes"
	s := newTestStore(t)
	_, err = New(cfg, s, NewCollectors(cfg, s, nil, testRepo, zaptest.NewLogger(t)), Handlers{}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

// Every member of the closed action set must have a route.
func TestRoute_CoversEveryActionKind(t *testing.T) {
	te := newTestEngine(t, engineConfig())
	for _, kind := range schemas.AllActionKinds {
		agent, command, h, err := te.route(kind)
		require.NoError(t, err, kind)
		assert.NotEmpty(t, agent, kind)
		assert.NotEmpty(t, command, kind)
		assert.NotNil(t, h, kind)
	}

	_, _, _, err := te.route("LAUNCH_ROCKET")
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestExecuteDecision_Routing(t *testing.T) {
	cases := []struct {
		action     schemas.ActionKind
		agent      string
		command    string
		recordType string
	}{
		{schemas.ActionFixBuild, schemas.AgentCline, actions.CommandFix, "kestra_triggered_cline_fix"},
		{schemas.ActionRefactorCode, schemas.AgentCline, actions.CommandRefactor, "kestra_triggered_cline_refactor"},
		{schemas.ActionGenerateFeature, schemas.AgentCline, actions.CommandGenerate, "kestra_triggered_cline_generate"},
		{schemas.ActionRedeploy, schemas.AgentVercel, actions.CommandDeploy, "kestra_triggered_vercel_deploy"},
		{schemas.ActionReviewPR, schemas.AgentCodeRabbit, actions.CommandReview, "kestra_triggered_coderabbit_review"},
		{schemas.ActionTrainModel, schemas.AgentOumi, actions.CommandTrain, "kestra_triggered_oumi_train"},
		{schemas.ActionCreateIssue, schemas.AgentGitHub, actions.CommandIssue, "kestra_triggered_github_issue"},
	}
	require.Len(t, cases, len(schemas.AllActionKinds))

	for _, tc := range cases {
		t.Run(string(tc.action), func(t *testing.T) {
			te := newTestEngine(t, engineConfig())
			d := schemas.Decision{Type: schemas.DecisionStalePR, Action: tc.action, ActionRequired: true, PRNumber: 3, Reason: "r"}
			h := te.handlers[tc.agent]
			h.On("Run", mock.Anything, tc.command, mock.MatchedBy(func(got *schemas.Decision) bool {
				return got != nil && got.Action == tc.action && got.PRNumber == 3
			})).Return(ok(tc.agent)).Once()

			res, err := te.ExecuteDecision(context.Background(), d)
			require.NoError(t, err)
			assert.Equal(t, tc.agent, res.Agent)
			h.AssertExpectations(t)

			recs := te.actionRecords(t)
			require.Len(t, recs, 1)
			assert.Equal(t, tc.recordType, recs[0].Type)
			assert.Equal(t, schemas.ActionCompleted, recs[0].Status)
			assert.Equal(t, schemas.AgentKestra, recs[0].Agent)
		})
	}
}

func TestExecuteDecision_AuditTrail(t *testing.T) {
	te := newTestEngine(t, engineConfig())
	d := schemas.Decision{
		Type:           schemas.DecisionBuildFailure,
		Action:         schemas.ActionFixBuild,
		ActionRequired: true,
		FailuresCount:  2,
		Reason:         "Detected 2 recent build failures",
	}
	te.handlers[schemas.AgentCline].On("Run", mock.Anything, actions.CommandFix, mock.Anything).Return(ok(schemas.AgentCline))

	_, err := te.ExecuteDecision(context.Background(), d)
	require.NoError(t, err)

	logs := te.logs(t)
	require.Len(t, logs, 1)
	assert.Equal(t, "Kestra Decision: BUILD_FAILURE - Detected 2 recent build failures", logs[0].Message)
	assert.Equal(t, schemas.AgentKestra, logs[0].Agent)
	assert.Equal(t, schemas.LevelInfo, logs[0].Level)
	var logged schemas.Decision
	require.True(t, logs[0].Field("decision", &logged))
	assert.Equal(t, d, logged)

	recs := te.actionRecords(t)
	require.Len(t, recs, 1)
	var key string
	require.True(t, recs[0].Field("decision_key", &key))
	assert.Equal(t, d.Key(), key)
	var recorded schemas.Decision
	require.True(t, recs[0].Field("decision", &recorded))
	assert.Equal(t, d, recorded)
}

func TestExecuteDecision_UnknownActionIsNotDispatched(t *testing.T) {
	te := newTestEngine(t, engineConfig())
	d := schemas.Decision{Type: schemas.DecisionBuildFailure, Action: "LAUNCH_ROCKET", ActionRequired: true, Reason: "?"}

	_, err := te.ExecuteDecision(context.Background(), d)
	assert.ErrorIs(t, err, ErrUnknownAction)

	for _, h := range te.handlers {
		h.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything)
	}
	assert.Empty(t, te.actionRecords(t))
	assert.Len(t, te.logs(t), 1, "the decision itself is still logged")
}

func TestExecuteDecision_FaultIsolation(t *testing.T) {
	ctx := context.Background()
	d := schemas.Decision{Type: schemas.DecisionDeploymentFailure, Action: schemas.ActionRedeploy, ActionRequired: true, Reason: "Deployment failure detected"}

	t.Run("error result marks the action failed", func(t *testing.T) {
		te := newTestEngine(t, engineConfig())
		te.handlers[schemas.AgentVercel].On("Run", mock.Anything, actions.CommandDeploy, mock.Anything).
			Return(schemas.ErrorResult(schemas.AgentVercel, schemas.NewFailure("vercel token not provided", "Vercel token not provided"), "t"))

		res, err := te.ExecuteDecision(ctx, d)
		require.NoError(t, err)
		assert.Equal(t, schemas.StatusError, res.Status)
		assert.Equal(t, schemas.ActionFailed, te.actionRecords(t)[0].Status)
	})

	t.Run("panics are recovered", func(t *testing.T) {
		te := newTestEngine(t, engineConfig())
		te.handlers[schemas.AgentVercel].On("Run", mock.Anything, actions.CommandDeploy, mock.Anything).
			Run(func(mock.Arguments) { panic("deployer exploded") })

		var res schemas.Result
		var err error
		require.NotPanics(t, func() { res, err = te.ExecuteDecision(ctx, d) })
		require.NoError(t, err)
		assert.Equal(t, schemas.StatusError, res.Status)
		assert.Contains(t, res.Error, "deployer exploded")
		assert.Equal(t, schemas.ActionFailed, te.actionRecords(t)[0].Status)
	})

	t.Run("missing handler", func(t *testing.T) {
		s := newTestStore(t)
		logger := zaptest.NewLogger(t)
		e, err := New(engineConfig(), s, NewCollectors(engineConfig(), s, nil, testRepo, logger), Handlers{}, logger)
		require.NoError(t, err)

		res, err := e.ExecuteDecision(ctx, d)
		require.NoError(t, err)
		assert.Equal(t, schemas.StatusError, res.Status)
	})
}

func TestExecuteDecision_RedispatchPolicy(t *testing.T) {
	ctx := context.Background()
	d := schemas.Decision{Type: schemas.DecisionStalePR, Action: schemas.ActionReviewPR, ActionRequired: true, PRNumber: 4, Reason: "PR #4 is stale (9 days old)"}

	t.Run("always redispatches", func(t *testing.T) {
		te := newTestEngine(t, engineConfig())
		h := te.handlers[schemas.AgentCodeRabbit]
		h.On("Run", mock.Anything, actions.CommandReview, mock.Anything).Return(ok(schemas.AgentCodeRabbit))

		for i := 0; i < 3; i++ {
			_, err := te.ExecuteDecision(ctx, d)
			require.NoError(t, err)
		}
		h.AssertNumberOfCalls(t, "Run", 3)
	})

	t.Run("cooldown suppresses repeats", func(t *testing.T) {
		cfg := engineConfig()
		cfg.Redispatch = config.RedispatchCooldown
		cfg.Cooldown = time.Hour
		te := newTestEngine(t, cfg)
		h := te.handlers[schemas.AgentCodeRabbit]
		h.On("Run", mock.Anything, actions.CommandReview, mock.Anything).Return(ok(schemas.AgentCodeRabbit))

		_, err := te.ExecuteDecision(ctx, d)
		require.NoError(t, err)

		te.advance(30 * time.Minute)
		res, err := te.ExecuteDecision(ctx, d)
		require.NoError(t, err)
		assert.Equal(t, schemas.StatusIdle, res.Status)
		h.AssertNumberOfCalls(t, "Run", 1)

		other := d
		other.PRNumber = 5
		_, err = te.ExecuteDecision(ctx, other)
		require.NoError(t, err)
		h.AssertNumberOfCalls(t, "Run", 2)

		te.advance(time.Hour)
		_, err = te.ExecuteDecision(ctx, d)
		require.NoError(t, err)
		h.AssertNumberOfCalls(t, "Run", 3)
	})

	t.Run("failed dispatches are retried", func(t *testing.T) {
		cfg := engineConfig()
		cfg.Redispatch = config.RedispatchCooldown
		cfg.Cooldown = time.Hour
		te := newTestEngine(t, cfg)
		h := te.handlers[schemas.AgentCodeRabbit]
		h.On("Run", mock.Anything, actions.CommandReview, mock.Anything).
			Return(schemas.ErrorResult(schemas.AgentCodeRabbit, schemas.NewFailure("github token required", "GitHub token required"), "t"))

		for i := 0; i < 2; i++ {
			_, err := te.ExecuteDecision(ctx, d)
			require.NoError(t, err)
		}
		h.AssertNumberOfCalls(t, "Run", 2)
	})
}

func TestMonitorAndDecide(t *testing.T) {
	te := newTestEngine(t, engineConfig())
	ctx := context.Background()
	appendDoc(t, te.store, store.Logs, errorLog("build failed"))
	appendDoc(t, te.store, store.Models, schemas.ModelRecord{Name: "m1", Status: schemas.ModelTraining})
	te.handlers[schemas.AgentCline].On("Run", mock.Anything, actions.CommandFix, mock.Anything).Return(ok(schemas.AgentCline)).Once()

	decisions := te.MonitorAndDecide(ctx)
	require.Len(t, decisions, 2)
	assert.Equal(t, schemas.DecisionBuildFailure, decisions[0].Type)
	assert.Equal(t, schemas.DecisionModelTraining, decisions[1].Type)

	te.handlers[schemas.AgentCline].AssertExpectations(t)
	te.handlers[schemas.AgentOumi].AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything)
	assert.Len(t, te.actionRecords(t), 1)
}

func TestMonitorAndDecide_ContinuesPastFailures(t *testing.T) {
	te := newTestEngine(t, engineConfig())
	appendDoc(t, te.store, store.Logs, errorLog("test run failed during deploy"))
	te.handlers[schemas.AgentCline].On("Run", mock.Anything, actions.CommandFix, mock.Anything).
		Run(func(mock.Arguments) { panic("coder crashed") })
	te.handlers[schemas.AgentVercel].On("Run", mock.Anything, actions.CommandDeploy, mock.Anything).Return(ok(schemas.AgentVercel))

	decisions := te.MonitorAndDecide(context.Background())
	require.Len(t, decisions, 2)
	te.handlers[schemas.AgentVercel].AssertExpectations(t)

	recs := te.actionRecords(t)
	require.Len(t, recs, 2)
	assert.Equal(t, schemas.ActionFailed, recs[0].Status)
	assert.Equal(t, schemas.ActionCompleted, recs[1].Status)
}

func TestRun(t *testing.T) {
	te := newTestEngine(t, engineConfig())
	ctx := context.Background()

	for _, cmd := range []string{"", "monitor", "decide"} {
		res := te.Run(ctx, cmd)
		assert.Equal(t, schemas.StatusSuccess, res.Status, cmd)
		assert.Equal(t, schemas.AgentKestra, res.Agent)
		assert.NotNil(t, res.Decisions)
		assert.NotEmpty(t, res.PassID)
		assert.Equal(t, "2024-03-10T12:00:00Z", res.Timestamp)
	}

	res := te.Run(ctx, "dance")
	assert.Equal(t, schemas.StatusError, res.Status)
	assert.Equal(t, "Unknown command: dance", res.Error)
	assert.NotNil(t, res.Decisions)
	assert.Empty(t, res.Decisions)
}

func TestMonitorAndDecide_ConcurrentPassesAreSerialized(t *testing.T) {
	defer goleak.VerifyNone(t)

	te := newTestEngine(t, engineConfig())
	appendDoc(t, te.store, store.Logs, errorLog("build failed"))

	var mu sync.Mutex
	active, maxActive := 0, 0
	te.handlers[schemas.AgentCline].On("Run", mock.Anything, actions.CommandFix, mock.Anything).
		Run(func(mock.Arguments) {
			mu.Lock()
			active++
			maxActive = max(maxActive, active)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
		}).Return(ok(schemas.AgentCline))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			te.MonitorAndDecide(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive, "passes must not overlap")
	assert.Len(t, te.actionRecords(t), 5)
}
