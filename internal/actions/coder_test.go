package actions

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/autodevops/api/schemas"
	"github.com/xkilldash9x/autodevops/internal/config"
	"github.com/xkilldash9x/autodevops/internal/store"
)

func appendLogs(t *testing.T, s store.Store, entries ...schemas.LogEntry) {
	t.Helper()
	for _, e := range entries {
		require.NoError(t, store.Append(context.Background(), s, store.Logs, e))
	}
}

func errLog(msg string) schemas.LogEntry {
	return schemas.LogEntry{Level: schemas.LevelError, Message: msg, Timestamp: "t"}
}

func newTestCoder(t *testing.T, s store.Store, extra ...config.FixRule) *Coder {
	t.Helper()
	classifier, err := NewClassifier(extra)
	require.NoError(t, err)
	return NewCoder(s, classifier, 20, testOptions(t)...)
}

func TestClassifier(t *testing.T) {
	c, err := NewClassifier([]config.FixRule{{Pattern: `(?i)timed? ?out`, Classification: "Raised test timeouts"}})
	require.NoError(t, err)

	cases := []struct {
		msg  string
		want string
		ok   bool
	}{
		{"ImportError: No module named foo", "Fixed import errors", true},
		{"Module not found: ./Button", "Fixed import errors", true},
		{"SyntaxError: unexpected token", "Fixed syntax errors", true},
		{"IndentationError: unexpected indent", "Fixed indentation", true},
		{"syntax error near import statement", "Fixed import errors", true},
		{"test timed out after 30s", "Raised test timeouts", true},
		{"segmentation fault", "", false},
	}
	for _, tc := range cases {
		got, ok := c.Classify(tc.msg)
		assert.Equal(t, tc.ok, ok, tc.msg)
		assert.Equal(t, tc.want, got, tc.msg)
	}

	_, err = NewClassifier([]config.FixRule{{Pattern: "(", Classification: "x"}})
	assert.Error(t, err)
}

func TestCoder_Fix(t *testing.T) {
	ctx := context.Background()

	t.Run("classifies recent errors in order", func(t *testing.T) {
		s := newTestStore(t)
		appendLogs(t, s,
			errLog("ImportError: cannot import name x"),
			schemas.LogEntry{Level: schemas.LevelInfo, Message: "syntax check passed"},
			errLog("SyntaxError: invalid syntax"),
			errLog("disk full"),
		)
		coder := newTestCoder(t, s)

		res := coder.Run(ctx, CommandFix, nil)
		require.Equal(t, schemas.StatusSuccess, res.Status, res.Error)
		assert.Equal(t, "fix_build", res.Action)
		assert.Equal(t, []string{"Fixed import errors", "Fixed syntax errors"}, res.Data["fixes_applied"])

		msgs := logMessages(t, s)
		assert.Contains(t, msgs, "Cline fix_build: Attempting to fix build errors")
		assert.Equal(t, "Cline fix_build: Applied 2 fixes", msgs[len(msgs)-1])
	})

	t.Run("only the recent window is inspected", func(t *testing.T) {
		s := newTestStore(t)
		appendLogs(t, s, errLog("module not found: old"))
		for i := 0; i < 25; i++ {
			appendLogs(t, s, schemas.LogEntry{Level: schemas.LevelInfo, Message: fmt.Sprintf("noise %d", i)})
		}
		coder := newTestCoder(t, s)

		res := coder.Run(ctx, CommandFix, nil)
		assert.Equal(t, []string{FallbackFix}, res.Data["fixes_applied"])
		msgs := logMessages(t, s)
		assert.Equal(t, "Cline fix_build: Applied 0 fixes", msgs[len(msgs)-1])
	})
}

func TestCoder_Refactor(t *testing.T) {
	s := newTestStore(t)
	coder := newTestCoder(t, s)

	res := coder.Run(context.Background(), CommandRefactor, &schemas.Decision{PRNumber: 12})
	require.True(t, res.OK())
	assert.Equal(t, 12, res.Data["pr_number"])
	assert.Len(t, res.Data["changes"], 4)
	assert.Equal(t, []string{
		"Cline refactor_code: Refactoring code for PR #12",
		"Cline refactor_code: Code refactoring completed",
	}, logMessages(t, s))

	res = coder.Run(context.Background(), CommandRefactor, nil)
	require.True(t, res.OK())
	_, hasPR := res.Data["pr_number"]
	assert.False(t, hasPR)
}

func TestCoder_Generate(t *testing.T) {
	ctx := context.Background()

	t.Run("requires a feature", func(t *testing.T) {
		coder := newTestCoder(t, newTestStore(t))
		res := coder.Run(ctx, CommandGenerate, &schemas.Decision{})
		assert.Equal(t, schemas.StatusError, res.Status)
		assert.Equal(t, "Feature description required", res.Error)
	})

	t.Run("scaffolds files and records the action", func(t *testing.T) {
		s := newTestStore(t)
		coder := newTestCoder(t, s)

		res := coder.Run(ctx, CommandGenerate, &schemas.Decision{Feature: "Login With GitHub"})
		require.True(t, res.OK())
		assert.Equal(t, "feature/login_with_github", res.Data["branch"])
		assert.Equal(t, []string{
			"backend/features/login_with_github.py",
			"frontend/components/login_with_github.jsx",
			"tests/test_login_with_github.py",
		}, res.Data["files_created"])
		assert.Equal(t, false, res.Data["pr_created"])

		recs := actionRecords(t, s)
		require.Len(t, recs, 1)
		assert.Equal(t, "cline_generated_feature", recs[0].Type)
		assert.Equal(t, schemas.ActionCompleted, recs[0].Status)
		var feature string
		require.True(t, recs[0].Field("feature", &feature))
		assert.Equal(t, "Login With GitHub", feature)
	})
}

func TestCoder_TestsDocsAndIdle(t *testing.T) {
	ctx := context.Background()
	coder := newTestCoder(t, newTestStore(t))

	res := coder.Run(ctx, CommandTest, nil)
	assert.Equal(t, "85%", res.Data["coverage"])

	res = coder.Run(ctx, CommandDocument, nil)
	assert.Equal(t, []string{"API.md", "README.md", "ARCHITECTURE.md"}, res.Data["docs_created"])

	res = coder.Run(ctx, "dance", nil)
	assert.Equal(t, schemas.StatusIdle, res.Status)
	assert.Equal(t, "Cline ready. Use commands: fix, refactor, generate, test, document", res.Message)
}
