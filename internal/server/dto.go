package server

import (
	"fmt"

	"github.com/xkilldash9x/autodevops/api/schemas"
	"github.com/xkilldash9x/autodevops/internal/store"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status" example:"ok"`
	Service string `json:"service" example:"autodevops"`
	Version string `json:"version,omitempty" example:"1.0"`
}

// MonitorRequest triggers an engine command. An empty command runs a pass.
type MonitorRequest struct {
	Command string `json:"command,omitempty" doc:"Engine command: monitor or decide. Defaults to monitor"`
}

func (r *MonitorRequest) command() string {
	if r == nil {
		return ""
	}
	return r.Command
}

// AgentRequest invokes one action handler directly.
type AgentRequest struct {
	Command  string `json:"command,omitempty" doc:"Handler command, for example fix, refactor, generate, train, evaluate, list"`
	PRNumber int    `json:"pr_number,omitempty" minimum:"0" doc:"Pull request the command applies to"`
	Feature  string `json:"feature,omitempty" doc:"Feature description for generate"`
	Model    string `json:"model,omitempty" doc:"Model name for train and evaluate"`
}

func (r *AgentRequest) command() string {
	if r == nil {
		return ""
	}
	return r.Command
}

func (r *AgentRequest) decision() *schemas.Decision {
	if r == nil {
		return &schemas.Decision{}
	}
	return &schemas.Decision{PRNumber: r.PRNumber, Feature: r.Feature, Model: r.Model}
}

// IssueRequest files an issue in the configured repository.
type IssueRequest struct {
	Title  string `json:"title,omitempty" doc:"Defaults to Auto-detected Issue"`
	Body   string `json:"body,omitempty"`
	Labels any    `json:"labels,omitempty" doc:"A single label or a list of labels"`
}

// decision maps the request onto the issue fields of a Decision. A missing
// body files an issue with the default title.
func (r *IssueRequest) decision() (*schemas.Decision, error) {
	if r == nil {
		return &schemas.Decision{}, nil
	}
	labels, err := normalizeLabels(r.Labels)
	if err != nil {
		return nil, err
	}
	return &schemas.Decision{
		IssueTitle: r.Title,
		IssueBody:  r.Body,
		Reason:     r.Body,
		Labels:     labels,
	}, nil
}

func normalizeLabels(v any) (schemas.StringList, error) {
	switch l := v.(type) {
	case nil:
		return nil, nil
	case string:
		if l == "" {
			return nil, nil
		}
		return schemas.StringList{l}, nil
	case []any:
		out := make(schemas.StringList, 0, len(l))
		for _, item := range l {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("labels must be strings, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("labels must be a string or a list of strings")
	}
}

// WorkflowRequest carries the inputs of a workflow run.
type WorkflowRequest struct {
	Inputs map[string]any `json:"inputs,omitempty"`
}

func (r *WorkflowRequest) inputs() map[string]any {
	if r == nil {
		return nil
	}
	return r.Inputs
}

// RecordsResponse lists the most recent documents of a collection, oldest first.
type RecordsResponse struct {
	Collection store.Collection `json:"collection"`
	Count      int              `json:"count"`
	Records    []any            `json:"records"`
}
