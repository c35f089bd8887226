package actions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/autodevops/api/schemas"
	"github.com/xkilldash9x/autodevops/internal/tracker"
)

func TestIssueContent(t *testing.T) {
	title, body, labels := IssueContent(&schemas.Decision{Reason: "Detected 3 recent build failures"})
	assert.Equal(t, "Auto-detected Issue", title)
	assert.Equal(t, "Detected 3 recent build failures", body)
	assert.Equal(t, []string{"auto-generated", "kestra"}, labels)

	title, body, labels = IssueContent(&schemas.Decision{
		Reason:     "r",
		IssueTitle: "Flaky test",
		IssueBody:  "details",
		Labels:     schemas.StringList{"bug"},
	})
	assert.Equal(t, "Flaky test", title)
	assert.Equal(t, "details", body)
	assert.Equal(t, []string{"bug"}, labels)
}

func TestIssueHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("no token is a no-op", func(t *testing.T) {
		tr := new(MockTracker)
		tr.On("HasToken").Return(false)
		h := NewIssueHandler(newTestStore(t), tr, "octo/widgets", testOptions(t)...)

		res := h.Run(ctx, CommandIssue, &schemas.Decision{Reason: "x"})
		assert.Equal(t, schemas.StatusIdle, res.Status)
		tr.AssertNotCalled(t, "CreateIssue", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("creates the issue with defaults", func(t *testing.T) {
		s := newTestStore(t)
		tr := new(MockTracker)
		tr.On("HasToken").Return(true)
		tr.On("CreateIssue", mock.Anything, "octo/widgets", "Auto-detected Issue", "Deployment failure detected", []string{"auto-generated", "kestra"}).
			Return(tracker.Issue{Number: 9, Title: "Auto-detected Issue"}, nil)
		h := NewIssueHandler(s, tr, "octo/widgets", testOptions(t)...)

		res := h.Run(ctx, CommandIssue, &schemas.Decision{Reason: "Deployment failure detected"})
		require.True(t, res.OK(), res.Error)
		assert.Equal(t, 9, res.Data["issue"].(tracker.Issue).Number)
		assert.Equal(t, []string{"GitHub create_issue: Created issue #9: Auto-detected Issue"}, logMessages(t, s))
		tr.AssertExpectations(t)
	})

	t.Run("tracker failure is an error result", func(t *testing.T) {
		tr := new(MockTracker)
		tr.On("HasToken").Return(true)
		tr.On("CreateIssue", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(tracker.Issue{}, errors.New("403 Forbidden"))
		h := NewIssueHandler(newTestStore(t), tr, "octo/widgets", testOptions(t)...)

		res := h.Run(ctx, CommandIssue, nil)
		assert.Equal(t, schemas.StatusError, res.Status)
		assert.Equal(t, "403 Forbidden", res.Error)
	})
}
