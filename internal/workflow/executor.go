package workflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autodevops/api/schemas"
	"github.com/xkilldash9x/autodevops/internal/config"
	"github.com/xkilldash9x/autodevops/internal/store"
	"github.com/xkilldash9x/autodevops/internal/tracker"
)

// Task type fragments, matched by substring so fully qualified plugin names work.
const (
	TypeMailList     = "googleworkspace.mail.List"
	TypeOllama       = "ollama.cli.OllamaCLI"
	TypeIssueCreate  = "github.issues.Create"
	TypeMailSend     = "googleworkspace.mail.Send"
	TypeHTTPRequest  = "http.Request"
	TypePullRequests = "github.pullrequests.List"
)

// Task statuses. A skipped task names a type the executor does not implement.
const (
	TaskSuccess = "success"
	TaskError   = "error"
	TaskSkipped = "skipped"
)

const (
	defaultIssueTitle = "Auto-generated Issue"
	responseLimit     = 1 << 20
)

var errTrackerToken = schemas.NewFailure("github token not configured", "GitHub token not configured")

// Tracker is the part of the issue tracker workflow tasks use.
type Tracker interface {
	HasToken() bool
	CreateIssue(ctx context.Context, repo, title, body string, labels []string) (tracker.Issue, error)
	ListPullRequests(ctx context.Context, repo, state string) ([]tracker.PullRequest, error)
}

// TaskOutput is the free form result of one task. It always carries "status".
type TaskOutput map[string]any

// TaskResult pairs a task with its output.
type TaskResult struct {
	TaskID string     `json:"task_id"`
	Type   string     `json:"type"`
	Result TaskOutput `json:"result"`
}

// Executor runs workflow definitions from a directory.
type Executor struct {
	dir     string
	store   store.Store
	tracker Tracker
	repo    string
	client  *http.Client
	now     func() time.Time
	logger  *zap.Logger
}

// NewExecutor builds an executor. repo is the default target for issue tasks.
func NewExecutor(cfg config.WorkflowConfig, st store.Store, t Tracker, repo string, logger *zap.Logger) *Executor {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Executor{
		dir:     cfg.Dir,
		store:   st,
		tracker: t,
		repo:    repo,
		client:  &http.Client{Timeout: timeout},
		now:     time.Now,
		logger:  logger.Named("workflow"),
	}
}

// Dir is the directory definitions are loaded from.
func (x *Executor) Dir() string { return x.dir }

func (x *Executor) failure(err error) schemas.Result {
	return schemas.ErrorResult(schemas.AgentKestra, err, schemas.Timestamp(x.now()))
}

// Execute runs every task of workflow id in declared order. Task failures are
// reported per task and never stop the run.
func (x *Executor) Execute(ctx context.Context, id string, inputs map[string]any) schemas.Result {
	def, err := Load(x.dir, id)
	if errors.Is(err, ErrNotFound) {
		return x.failure(schemas.NewFailure("workflow "+id+" not found", "Workflow "+id+" not found"))
	}
	if err != nil {
		return x.failure(err)
	}

	logger := x.logger.With(zap.String("workflow_id", id))
	logger.Info("Executing workflow", zap.Int("tasks", len(def.Tasks)))

	results := make([]TaskResult, 0, len(def.Tasks))
	for _, task := range def.Tasks {
		out := x.runTask(ctx, task, inputs)
		if out["status"] == TaskError {
			logger.Warn("Workflow task failed", zap.String("task_id", task.ID), zap.Any("error", out["error"]))
		}
		results = append(results, TaskResult{TaskID: task.ID, Type: task.Type, Result: out})
	}
	x.record(ctx, id, results)

	return schemas.Result{
		Agent:     schemas.AgentKestra,
		Status:    schemas.StatusSuccess,
		Action:    "execute_workflow",
		Timestamp: schemas.Timestamp(x.now()),
	}.Set("workflow_id", id).Set("results", results)
}

// runTask dispatches on the task type, containing any panic to the task.
func (x *Executor) runTask(ctx context.Context, task Task, inputs map[string]any) (out TaskOutput) {
	defer func() {
		if r := recover(); r != nil {
			x.logger.Error("Workflow task panicked", zap.String("task_id", task.ID), zap.Any("panic", r))
			out = taskError(fmt.Errorf("task panic: %v", r))
		}
	}()

	switch t := task.Type; {
	case strings.Contains(t, TypeMailList):
		return mailList()
	case strings.Contains(t, TypeOllama):
		return TaskOutput{"status": TaskSuccess, "processed": "Read mail and extracted: Create GitHub issue for PR review"}
	case strings.Contains(t, TypeIssueCreate):
		return x.createIssue(ctx, inputs)
	case strings.Contains(t, TypeMailSend):
		return TaskOutput{"status": TaskSuccess, "sent_to": []string(task.To), "message": "Email sent successfully"}
	case strings.Contains(t, TypeHTTPRequest):
		return x.httpRequest(ctx, task)
	case strings.Contains(t, TypePullRequests):
		return x.listPullRequests(ctx, task)
	default:
		return TaskOutput{"status": TaskSkipped, "message": fmt.Sprintf("Task type %s not implemented", t)}
	}
}

func taskError(err error) TaskOutput {
	return TaskOutput{"status": TaskError, "error": schemas.ErrorText(err)}
}

// mailList stands in for a mailbox query.
func mailList() TaskOutput {
	return TaskOutput{
		"status": TaskSuccess,
		"mails": []map[string]string{{
			"subject": "PR Review Request",
			"from":    "developer@example.com",
			"body":    "Please review PR #42",
		}},
	}
}

func inputString(inputs map[string]any, key, fallback string) string {
	if s, ok := inputs[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

// inputLabels accepts a single label or a list of labels.
func inputLabels(inputs map[string]any) []string {
	switch v := inputs["labels"].(type) {
	case string:
		if v != "" {
			return []string{v}
		}
	case []string:
		if len(v) > 0 {
			return v
		}
	case []any:
		labels := make([]string, 0, len(v))
		for _, l := range v {
			labels = append(labels, fmt.Sprint(l))
		}
		if len(labels) > 0 {
			return labels
		}
	}
	return []string{"auto-generated"}
}

func (x *Executor) createIssue(ctx context.Context, inputs map[string]any) TaskOutput {
	if x.tracker == nil || !x.tracker.HasToken() {
		return taskError(errTrackerToken)
	}
	repo := inputString(inputs, "repo", x.repo)
	title := inputString(inputs, "title", defaultIssueTitle)
	body := inputString(inputs, "body", "")

	issue, err := x.tracker.CreateIssue(ctx, repo, title, body, inputLabels(inputs))
	if err != nil {
		return taskError(err)
	}
	return TaskOutput{"status": TaskSuccess, "issue": issue}
}

// repoFromURL turns https://github.com/owner/repo(.git) into owner/repo.
func repoFromURL(u string) string {
	u = strings.TrimPrefix(u, "https://github.com/")
	return strings.TrimSuffix(u, ".git")
}

func (x *Executor) listPullRequests(ctx context.Context, task Task) TaskOutput {
	if x.tracker == nil || !x.tracker.HasToken() {
		return taskError(errTrackerToken)
	}
	state := task.State
	if state == "" {
		state = "open"
	}
	prs, err := x.tracker.ListPullRequests(ctx, repoFromURL(task.URL), state)
	if err != nil {
		return taskError(err)
	}
	return TaskOutput{"status": TaskSuccess, "pull_requests": prs, "count": len(prs)}
}

func (x *Executor) httpRequest(ctx context.Context, task Task) TaskOutput {
	method := strings.ToUpper(task.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if method != http.MethodGet {
		payload := task.Body
		if payload == nil {
			payload = map[string]any{}
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return taskError(fmt.Errorf("failed to encode request body: %w", err))
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, task.URI, body)
	if err != nil {
		return taskError(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := x.client.Do(req)
	if err != nil {
		return taskError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, responseLimit))
	if err != nil {
		return taskError(err)
	}
	var decoded any = map[string]any{}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &decoded); err != nil {
			decoded = string(data)
		}
	}
	return TaskOutput{"status": TaskSuccess, "status_code": resp.StatusCode, "body": decoded}
}

// record appends the execution to the logs and actions collections.
func (x *Executor) record(ctx context.Context, id string, results []TaskResult) {
	ts := schemas.Timestamp(x.now())
	entry := schemas.LogEntry{
		Level:     schemas.LevelInfo,
		Message:   fmt.Sprintf("Kestra workflow %s executed", id),
		Agent:     schemas.AgentKestra,
		Timestamp: ts,
	}.With("workflow_id", id).With("results", results)
	if err := store.Append(ctx, x.store, store.Logs, entry); err != nil {
		x.logger.Error("Failed to log workflow execution", zap.String("workflow_id", id), zap.Error(err))
	}

	rec := schemas.ActionRecord{
		Type:      "kestra_workflow_executed",
		Status:    schemas.ActionCompleted,
		Agent:     schemas.AgentKestra,
		Timestamp: ts,
	}.With("workflow_id", id)
	if err := store.Append(ctx, x.store, store.Actions, rec); err != nil {
		x.logger.Error("Failed to record workflow execution", zap.String("workflow_id", id), zap.Error(err))
	}
}
