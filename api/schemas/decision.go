package schemas

import (
	"fmt"
	"strings"
)

// -- Decision Schemas --

// DecisionType classifies the signal that produced a Decision.
type DecisionType string

const (
	DecisionStalePR           DecisionType = "STALE_PR"
	DecisionBuildFailure      DecisionType = "BUILD_FAILURE"
	DecisionLowCodeQuality    DecisionType = "LOW_CODE_QUALITY"
	DecisionModelTraining     DecisionType = "MODEL_TRAINING"
	DecisionDeploymentFailure DecisionType = "DEPLOYMENT_FAILURE"
)

// ActionKind is the automation a Decision asks the engine to dispatch.
// The set is closed; the engine rejects anything not listed in AllActionKinds.
type ActionKind string

const (
	ActionFixBuild        ActionKind = "FIX_BUILD"
	ActionRefactorCode    ActionKind = "REFACTOR_CODE"
	ActionRedeploy        ActionKind = "REDEPLOY"
	ActionReviewPR        ActionKind = "REVIEW_PR"
	ActionTrainModel      ActionKind = "TRAIN_MODEL"
	ActionGenerateFeature ActionKind = "GENERATE_FEATURE"
	ActionCreateIssue     ActionKind = "CREATE_ISSUE"
)

// AllActionKinds lists every dispatchable ActionKind.
var AllActionKinds = []ActionKind{
	ActionFixBuild,
	ActionRefactorCode,
	ActionRedeploy,
	ActionReviewPR,
	ActionTrainModel,
	ActionGenerateFeature,
	ActionCreateIssue,
}

// Valid reports whether k is a member of the closed ActionKind set.
func (k ActionKind) Valid() bool {
	for _, known := range AllActionKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Decision is produced by a signal collector and consumed by the engine.
// It is never persisted on its own, only embedded in log entries and action records.
type Decision struct {
	Type           DecisionType `json:"type"`
	Action         ActionKind   `json:"action"`
	ActionRequired bool         `json:"action_required"`
	Reason         string       `json:"reason"`

	// Evidence. Which fields are set depends on Type.
	PRNumber      int        `json:"pr_number,omitempty"`
	FailuresCount int        `json:"failures_count,omitempty"`
	ReviewID      string     `json:"review_id,omitempty"`
	Score         *int       `json:"score,omitempty"`
	Model         string     `json:"model,omitempty"`
	IssueTitle    string     `json:"issue_title,omitempty"`
	IssueBody     string     `json:"issue_body,omitempty"`
	Labels        StringList `json:"labels,omitempty"`
	Feature       string     `json:"feature,omitempty"`
}

// Key identifies the condition a decision reports, independent of when it was observed.
// Two passes that see the same stale PR produce decisions with equal keys.
func (d Decision) Key() string {
	parts := []string{string(d.Type), string(d.Action)}
	switch {
	case d.PRNumber != 0:
		parts = append(parts, fmt.Sprintf("pr:%d", d.PRNumber))
	case d.ReviewID != "":
		parts = append(parts, "review:"+d.ReviewID)
	case d.Model != "":
		parts = append(parts, "model:"+d.Model)
	case d.Feature != "":
		parts = append(parts, "feature:"+d.Feature)
	case d.IssueTitle != "":
		parts = append(parts, "issue:"+d.IssueTitle)
	}
	return strings.Join(parts, "|")
}

// IntPtr is a small helper for optional integer evidence such as Decision.Score.
func IntPtr(v int) *int { return &v }
