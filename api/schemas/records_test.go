package schemas

import (
	"testing"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogEntry_PreservesExtraFields(t *testing.T) {
	raw := []byte(`{"level":"error","message":"build failed","agent":"ci","timestamp":"2024-01-01T00:00:00Z","job":{"id":7},"attempt":3}`)

	var entry LogEntry
	require.NoError(t, json.Unmarshal(raw, &entry))

	assert.Equal(t, LevelError, entry.Level)
	assert.Equal(t, "build failed", entry.Message)
	assert.Equal(t, "ci", entry.Agent)
	require.Len(t, entry.Fields, 2, "known keys must not leak into Fields")

	var attempt int
	assert.True(t, entry.Field("attempt", &attempt))
	assert.Equal(t, 3, attempt)

	out, err := json.Marshal(entry)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(out))
}

func TestLogEntry_KnownFieldsWinOverExtras(t *testing.T) {
	entry := LogEntry{Level: LevelInfo, Message: "hello", Timestamp: "t"}.With("message", "shadow")

	out, err := json.Marshal(entry)
	require.NoError(t, err)
	assert.JSONEq(t, `{"level":"info","message":"hello","timestamp":"t"}`, string(out))
}

func TestActionRecord_With(t *testing.T) {
	d := Decision{Type: DecisionStalePR, Action: ActionReviewPR, ActionRequired: true, Reason: "r", PRNumber: 4}
	rec := ActionRecord{Type: "kestra_triggered_coderabbit_review", Status: ActionCompleted, Agent: AgentKestra, Timestamp: "t"}.
		With("decision", d).
		With("decision_key", d.Key())

	out, err := json.Marshal(rec)
	require.NoError(t, err)

	var back ActionRecord
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, rec.Type, back.Type)
	assert.Equal(t, ActionCompleted, back.Status)

	var gotDecision Decision
	require.True(t, back.Field("decision", &gotDecision))
	assert.Equal(t, d, gotDecision)

	var key string
	require.True(t, back.Field("decision_key", &key))
	assert.Equal(t, "STALE_PR|REVIEW_PR|pr:4", key)
}

func TestReviewRecord_QualityScore(t *testing.T) {
	t.Run("explicit score is used", func(t *testing.T) {
		r := ReviewRecord{Rating: 5, CodeQualityScore: IntPtr(40)}
		assert.Equal(t, 40, r.QualityScore())
	})
	t.Run("explicit zero is still present", func(t *testing.T) {
		r := ReviewRecord{Rating: 5, CodeQualityScore: IntPtr(0)}
		assert.Equal(t, 0, r.QualityScore())
	})
	t.Run("falls back to rating", func(t *testing.T) {
		var r ReviewRecord
		require.NoError(t, json.Unmarshal([]byte(`{"title":"x","rating":3}`), &r))
		assert.Equal(t, 60, r.QualityScore())
	})
}

func TestStringList(t *testing.T) {
	cases := map[string]StringList{
		`"bug"`:     {"bug"},
		`["a","b"]`: {"a", "b"},
		`null`:      nil,
		`""`:        nil,
		`[]`:        {},
	}
	for input, want := range cases {
		var got StringList
		require.NoError(t, json.Unmarshal([]byte(input), &got), input)
		assert.Equal(t, want, got, input)
	}

	out, err := json.Marshal(struct {
		L StringList `json:"l"`
	}{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"l":[]}`, string(out))
}

func TestActionKind_Valid(t *testing.T) {
	for _, k := range AllActionKinds {
		assert.True(t, k.Valid(), k)
	}
	assert.False(t, ActionKind("DELETE_REPO").Valid())
	assert.False(t, ActionKind("").Valid())
}

func TestDecisionKey(t *testing.T) {
	a := Decision{Type: DecisionBuildFailure, Action: ActionFixBuild, FailuresCount: 3, Reason: "Detected 3 recent build failures"}
	b := Decision{Type: DecisionBuildFailure, Action: ActionFixBuild, FailuresCount: 5, Reason: "Detected 5 recent build failures"}
	assert.Equal(t, a.Key(), b.Key(), "the failure count changes between passes but the condition is the same")

	c := Decision{Type: DecisionLowCodeQuality, Action: ActionRefactorCode, ReviewID: "PR #1: CodeRabbit Review"}
	assert.Equal(t, "LOW_CODE_QUALITY|REFACTOR_CODE|review:PR #1: CodeRabbit Review", c.Key())
}
