package schemas

import (
	"time"

	json "github.com/json-iterator/go"
)

// codec matches encoding/json semantics (sorted map keys, HTML escaping) so
// flattened records render deterministically.
var codec = json.ConfigCompatibleWithStandardLibrary

// -- Store Record Schemas --

// Log levels used by LogEntry.
const (
	LevelInfo    = "info"
	LevelError   = "error"
	LevelSuccess = "success"
)

// ActionStatus is the terminal state of an ActionRecord.
type ActionStatus string

const (
	ActionCompleted ActionStatus = "completed"
	ActionFailed    ActionStatus = "failed"
)

// Agent names as they appear in the audit trail.
const (
	AgentKestra     = "kestra"
	AgentCline      = "cline"
	AgentCodeRabbit = "coderabbit"
	AgentVercel     = "vercel"
	AgentOumi       = "oumi"
	AgentGitHub     = "github"
)

// Timestamp renders t the way every stored record does.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// LogEntry is an append only audit line in the logs collection.
// Producers may attach arbitrary extra fields; they are preserved verbatim.
type LogEntry struct {
	Level     string `json:"level"`
	Message   string `json:"message"`
	Agent     string `json:"agent,omitempty"`
	Timestamp string `json:"timestamp"`

	Fields map[string]json.RawMessage `json:"-"`
}

var logEntryKeys = []string{"level", "message", "agent", "timestamp"}

// With attaches an extra field. Values that cannot be encoded are dropped.
func (e LogEntry) With(key string, v any) LogEntry {
	e.Fields = withField(e.Fields, key, v)
	return e
}

// Field decodes the named extra field into dst.
func (e LogEntry) Field(key string, dst any) bool {
	return decodeField(e.Fields, key, dst)
}

func (e LogEntry) MarshalJSON() ([]byte, error) {
	type plain LogEntry
	return marshalFlat(plain(e), e.Fields)
}

func (e *LogEntry) UnmarshalJSON(data []byte) error {
	type plain LogEntry
	var p plain
	fields, err := unmarshalFlat(data, &p, logEntryKeys)
	if err != nil {
		return err
	}
	*e = LogEntry(p)
	e.Fields = fields
	return nil
}

// ActionRecord is the durable trace of something the system did.
type ActionRecord struct {
	Type      string       `json:"type"`
	Status    ActionStatus `json:"status"`
	Agent     string       `json:"agent"`
	Timestamp string       `json:"timestamp"`

	Fields map[string]json.RawMessage `json:"-"`
}

var actionRecordKeys = []string{"type", "status", "agent", "timestamp"}

// With attaches a type specific field. Values that cannot be encoded are dropped.
func (a ActionRecord) With(key string, v any) ActionRecord {
	a.Fields = withField(a.Fields, key, v)
	return a
}

// Field decodes the named extra field into dst.
func (a ActionRecord) Field(key string, dst any) bool {
	return decodeField(a.Fields, key, dst)
}

func (a ActionRecord) MarshalJSON() ([]byte, error) {
	type plain ActionRecord
	return marshalFlat(plain(a), a.Fields)
}

func (a *ActionRecord) UnmarshalJSON(data []byte) error {
	type plain ActionRecord
	var p plain
	fields, err := unmarshalFlat(data, &p, actionRecordKeys)
	if err != nil {
		return err
	}
	*a = ActionRecord(p)
	a.Fields = fields
	return nil
}

// ReviewRecord is a code review outcome in the reviews collection.
type ReviewRecord struct {
	Title              string     `json:"title"`
	PullRequest        string     `json:"pull_request"`
	Reviewer           string     `json:"reviewer"`
	Status             string     `json:"status"`
	Rating             int        `json:"rating"`
	CodeQualityScore   *int       `json:"code_quality_score,omitempty"`
	ReadabilityScore   int        `json:"readability_score,omitempty"`
	DocumentationScore int        `json:"documentation_score,omitempty"`
	TestCoverage       int        `json:"test_coverage,omitempty"`
	SecurityIssues     StringList `json:"security_issues"`
	ComplexityScore    int        `json:"complexity_score,omitempty"`
	DeadCodeDetected   bool       `json:"dead_code_detected"`
	LintingIssues      StringList `json:"linting_issues"`
	Comments           string     `json:"comments,omitempty"`
	Suggestions        StringList `json:"suggestions"`
	Timestamp          string     `json:"timestamp"`
}

// Review statuses.
const (
	ReviewApproved         = "approved"
	ReviewChangesRequested = "changes_requested"
)

// QualityScore returns the explicit code quality score, or rating*20 when none was recorded.
func (r ReviewRecord) QualityScore() int {
	if r.CodeQualityScore != nil {
		return *r.CodeQualityScore
	}
	return r.Rating * 20
}

// Model statuses.
const (
	ModelTraining  = "training"
	ModelCompleted = "completed"
)

// ModelRecord is keyed by Name and updated in place.
type ModelRecord struct {
	Name                string           `json:"name"`
	Model               string           `json:"model,omitempty"`
	Provider            string           `json:"provider,omitempty"`
	Version             string           `json:"version,omitempty"`
	Status              string           `json:"status"`
	Accuracy            *float64         `json:"accuracy,omitempty"`
	Loss                *float64         `json:"loss,omitempty"`
	DatasetSize         int              `json:"dataset_size,omitempty"`
	Epochs              int              `json:"epochs,omitempty"`
	StartedAt           string           `json:"started_at,omitempty"`
	CompletedAt         string           `json:"completed_at,omitempty"`
	TrainingTimeSeconds int              `json:"training_time_seconds,omitempty"`
	LastEvaluated       string           `json:"last_evaluated,omitempty"`
	Evaluation          *ModelEvaluation `json:"evaluation,omitempty"`
}

// ModelEvaluation holds the metrics produced by an evaluation run.
type ModelEvaluation struct {
	ModelName             string  `json:"model_name"`
	EvaluatedAt           string  `json:"evaluated_at"`
	Accuracy              float64 `json:"accuracy"`
	Precision             float64 `json:"precision"`
	Recall                float64 `json:"recall"`
	F1Score               float64 `json:"f1_score"`
	HallucinationRate     float64 `json:"hallucination_rate"`
	TokenQualityScore     float64 `json:"token_quality_score"`
	PatchQualityScore     float64 `json:"patch_quality_score"`
	TestSamples           int     `json:"test_samples"`
	EvaluationTimeSeconds int     `json:"evaluation_time_seconds"`
}

// -- flattening helpers --

func withField(fields map[string]json.RawMessage, key string, v any) map[string]json.RawMessage {
	raw, err := codec.Marshal(v)
	if err != nil {
		return fields
	}
	out := make(map[string]json.RawMessage, len(fields)+1)
	for k, val := range fields {
		out[k] = val
	}
	out[key] = raw
	return out
}

func decodeField(fields map[string]json.RawMessage, key string, dst any) bool {
	raw, ok := fields[key]
	if !ok {
		return false
	}
	return codec.Unmarshal(raw, dst) == nil
}

// marshalFlat renders known fields and extras as a single JSON object.
// Known fields win over extras carrying the same key.
func marshalFlat(known any, extra map[string]json.RawMessage) ([]byte, error) {
	base, err := codec.Marshal(known)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return base, nil
	}
	merged := make(map[string]json.RawMessage, len(extra)+4)
	for k, v := range extra {
		merged[k] = v
	}
	var fixed map[string]json.RawMessage
	if err := codec.Unmarshal(base, &fixed); err != nil {
		return nil, err
	}
	for k, v := range fixed {
		merged[k] = v
	}
	return codec.Marshal(merged)
}

func unmarshalFlat(data []byte, known any, knownKeys []string) (map[string]json.RawMessage, error) {
	if err := codec.Unmarshal(data, known); err != nil {
		return nil, err
	}
	var all map[string]json.RawMessage
	if err := codec.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for _, k := range knownKeys {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}
