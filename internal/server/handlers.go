// File: internal/server/handlers.go
package server

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/autodevops/api/schemas"
	"github.com/xkilldash9x/autodevops/internal/actions"
	"github.com/xkilldash9x/autodevops/internal/monitor"
	"github.com/xkilldash9x/autodevops/internal/store"
)

const serviceName = "autodevops"

// Monitor runs engine commands.
type Monitor interface {
	Run(ctx context.Context, command string) monitor.MonitorResult
}

// WorkflowRunner executes workflow definitions.
type WorkflowRunner interface {
	Execute(ctx context.Context, id string, inputs map[string]any) schemas.Result
}

// Deps are the components the API exposes.
type Deps struct {
	Monitor   Monitor
	Coder     actions.Handler
	Reviewer  actions.Handler
	Trainer   actions.Handler
	Deployer  actions.Handler
	Issues    actions.Handler
	Workflows WorkflowRunner
	Store     store.Store
	Version   string
}

type handlers struct {
	deps   Deps
	flight singleflight.Group
	log    *zap.Logger
}

type resultOutput struct {
	Body schemas.Result
}

func (h *handlers) register(api huma.API) {
	h.registerHealth(api)
	h.registerMonitor(api)
	h.registerAgent(api, "cline", "Run the coding agent", h.deps.Coder)
	h.registerAgent(api, "coderabbit", "Run the review agent", h.deps.Reviewer)
	h.registerAgent(api, "oumi", "Run the training agent", h.deps.Trainer)
	h.registerIssues(api)
	h.registerDeploy(api)
	h.registerWorkflows(api)
	h.registerRecords(api)
}

func (h *handlers) registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct{ Body HealthResponse }, error) {
		return &struct{ Body HealthResponse }{Body: HealthResponse{Status: "ok", Service: serviceName, Version: h.deps.Version}}, nil
	})
}

func (h *handlers) registerMonitor(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "monitor",
		Method:      "POST",
		Path:        "/v1/monitor",
		Summary:     "Run a monitoring pass",
		Description: "Collects decisions from every signal source and dispatches those that require action. Concurrent triggers share one pass.",
	}, func(ctx context.Context, input *struct {
		Body *MonitorRequest
	}) (*struct{ Body monitor.MonitorResult }, error) {
		if h.deps.Monitor == nil {
			return nil, huma.Error503ServiceUnavailable("monitor is not configured")
		}
		command := input.Body.command()
		// The pass outlives a caller that disconnects; others may be waiting on it.
		v, _, shared := h.flight.Do("monitor:"+command, func() (any, error) {
			return h.deps.Monitor.Run(context.WithoutCancel(ctx), command), nil
		})
		if shared {
			h.log.Debug("Monitor trigger joined a running pass", zap.String("command", command))
		}
		return &struct{ Body monitor.MonitorResult }{Body: v.(monitor.MonitorResult)}, nil
	})
}

func (h *handlers) registerAgent(api huma.API, agent, summary string, handler actions.Handler) {
	huma.Register(api, huma.Operation{
		OperationID: "agent-" + agent,
		Method:      "POST",
		Path:        "/v1/agents/" + agent,
		Summary:     summary,
		Tags:        []string{"agents"},
	}, func(ctx context.Context, input *struct {
		Body *AgentRequest
	}) (*resultOutput, error) {
		if handler == nil {
			return nil, huma.Error503ServiceUnavailable(agent + " is not configured")
		}
		return &resultOutput{Body: handler.Run(ctx, input.Body.command(), input.Body.decision())}, nil
	})
}

func (h *handlers) registerIssues(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "create-issue",
		Method:      "POST",
		Path:        "/v1/issues",
		Summary:     "Create an issue",
	}, func(ctx context.Context, input *struct {
		Body *IssueRequest
	}) (*resultOutput, error) {
		if h.deps.Issues == nil {
			return nil, huma.Error503ServiceUnavailable("issue tracker is not configured")
		}
		d, err := input.Body.decision()
		if err != nil {
			return nil, huma.Error400BadRequest(err.Error())
		}
		return &resultOutput{Body: h.deps.Issues.Run(ctx, actions.CommandIssue, d)}, nil
	})
}

func (h *handlers) registerDeploy(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "deploy",
		Method:      "POST",
		Path:        "/v1/deploy",
		Summary:     "Trigger a deployment",
	}, func(ctx context.Context, _ *struct{}) (*resultOutput, error) {
		if h.deps.Deployer == nil {
			return nil, huma.Error503ServiceUnavailable("deployer is not configured")
		}
		return &resultOutput{Body: h.deps.Deployer.Run(ctx, actions.CommandDeploy, nil)}, nil
	})
}

func (h *handlers) registerWorkflows(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "execute-workflow",
		Method:      "POST",
		Path:        "/v1/workflows/{id}/execute",
		Summary:     "Execute a workflow",
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id" pattern:"^[A-Za-z0-9_.-]+$"`
		Body *WorkflowRequest
	}) (*resultOutput, error) {
		if h.deps.Workflows == nil {
			return nil, huma.Error503ServiceUnavailable("workflows are not configured")
		}
		return &resultOutput{Body: h.deps.Workflows.Execute(ctx, input.ID, input.Body.inputs())}, nil
	})
}

func (h *handlers) registerRecords(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-records",
		Method:      "GET",
		Path:        "/v1/records/{collection}",
		Summary:     "List recent records of a collection",
	}, func(ctx context.Context, input *struct {
		Collection string `path:"collection" enum:"logs,actions,models,reviews"`
		Limit      int    `query:"limit" default:"50" minimum:"0" maximum:"1000" doc:"Number of most recent records, 0 for all"`
	}) (*struct{ Body RecordsResponse }, error) {
		if h.deps.Store == nil {
			return nil, huma.Error503ServiceUnavailable("store is not configured")
		}
		c := store.Collection(input.Collection)
		docs, err := h.deps.Store.Tail(ctx, c, input.Limit)
		if err != nil {
			h.log.Error("Failed to read records", zap.String("collection", input.Collection), zap.Error(err))
			return nil, huma.Error500InternalServerError("failed to read records")
		}

		// Documents are re-decoded so the response encoder sees plain values.
		records := make([]any, 0, len(docs))
		for _, doc := range docs {
			var v any
			if err := json.Unmarshal(doc, &v); err != nil {
				continue
			}
			records = append(records, v)
		}
		return &struct{ Body RecordsResponse }{Body: RecordsResponse{Collection: c, Count: len(records), Records: records}}, nil
	})
}
