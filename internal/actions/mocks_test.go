package actions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/autodevops/api/schemas"
	"github.com/xkilldash9x/autodevops/internal/store"
	"github.com/xkilldash9x/autodevops/internal/tracker"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewFileStore(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

func testOptions(t *testing.T) []Option {
	return []Option{WithClock(fixedClock), WithLogger(zaptest.NewLogger(t))}
}

func logMessages(t *testing.T, s store.Store) []string {
	t.Helper()
	logs, _, err := store.Recent[schemas.LogEntry](context.Background(), s, store.Logs, 0)
	require.NoError(t, err)
	out := make([]string, 0, len(logs))
	for _, l := range logs {
		out = append(out, l.Message)
	}
	return out
}

func actionRecords(t *testing.T, s store.Store) []schemas.ActionRecord {
	t.Helper()
	recs, _, err := store.Recent[schemas.ActionRecord](context.Background(), s, store.Actions, 0)
	require.NoError(t, err)
	return recs
}

// MockScorer is a mock implementation of the Scorer interface.
type MockScorer struct {
	mock.Mock
}

func (m *MockScorer) Score(ctx context.Context, pr int) (Assessment, error) {
	args := m.Called(ctx, pr)
	return args.Get(0).(Assessment), args.Error(1)
}

// MockTracker implements both PullRequestLister and IssueTracker.
type MockTracker struct {
	mock.Mock
}

func (m *MockTracker) HasToken() bool {
	return m.Called().Bool(0)
}

func (m *MockTracker) ListPullRequests(ctx context.Context, repo, state string) ([]tracker.PullRequest, error) {
	args := m.Called(ctx, repo, state)
	prs, _ := args.Get(0).([]tracker.PullRequest)
	return prs, args.Error(1)
}

func (m *MockTracker) CreateIssue(ctx context.Context, repo, title, body string, labels []string) (tracker.Issue, error) {
	args := m.Called(ctx, repo, title, body, labels)
	return args.Get(0).(tracker.Issue), args.Error(1)
}

// MockDeployer is a mock implementation of the Deployer interface.
type MockDeployer struct {
	mock.Mock
}

func (m *MockDeployer) Deploy(ctx context.Context, project string) schemas.Result {
	return m.Called(ctx, project).Get(0).(schemas.Result)
}

// MockTrainer is a mock implementation of the Trainer interface.
type MockTrainer struct {
	mock.Mock
}

func (m *MockTrainer) Train(ctx context.Context, name string) (TrainingRun, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(TrainingRun), args.Error(1)
}

func (m *MockTrainer) Evaluate(ctx context.Context, model schemas.ModelRecord) (schemas.ModelEvaluation, error) {
	args := m.Called(ctx, model)
	return args.Get(0).(schemas.ModelEvaluation), args.Error(1)
}
