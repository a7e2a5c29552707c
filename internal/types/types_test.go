package types

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPrompt() *Prompt {
	now := time.Now()
	return &Prompt{
		ID:          "p-1",
		WorkspaceID: "ws-1",
		Title:       "Fix login bug",
		Status:      StatusTodo,
		Priority:    DefaultPriority,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestPromptValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Prompt)
		wantErr string
	}{
		{name: "valid", mutate: func(p *Prompt) {}},
		{name: "empty title", mutate: func(p *Prompt) { p.Title = "   " }, wantErr: "title is required"},
		{name: "long title", mutate: func(p *Prompt) { p.Title = strings.Repeat("x", MaxTitleLength+1) }, wantErr: "characters or less"},
		{name: "missing workspace", mutate: func(p *Prompt) { p.WorkspaceID = "" }, wantErr: "workspace is required"},
		{name: "priority too low", mutate: func(p *Prompt) { p.Priority = 0 }, wantErr: "priority must be between 1 and 4"},
		{name: "priority too high", mutate: func(p *Prompt) { p.Priority = 5 }, wantErr: "priority must be between 1 and 4"},
		{name: "bad status", mutate: func(p *Prompt) { p.Status = "open" }, wantErr: "invalid status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPrompt()
			tt.mutate(p)
			err := p.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsValidation(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCanTransition(t *testing.T) {
	legal := [][2]Status{
		{StatusTodo, StatusGenerating},
		{StatusGenerating, StatusTodo},
		{StatusTodo, StatusSendingToAgent},
		{StatusSendingToAgent, StatusSentToAgent},
		{StatusSendingToAgent, StatusTodo},
		{StatusSentToAgent, StatusInProgress},
		{StatusSentToAgent, StatusDone},
		{StatusSentToAgent, StatusTodo},
		{StatusInProgress, StatusDone},
		{StatusDone, StatusTodo},
		{StatusDone, StatusDone},
	}
	for _, tr := range legal {
		assert.True(t, CanTransition(tr[0], tr[1]), "%s -> %s should be legal", tr[0], tr[1])
	}

	illegal := [][2]Status{
		{StatusGenerating, StatusDone},
		{StatusGenerating, StatusSendingToAgent},
		{StatusTodo, StatusSentToAgent},
		{StatusDone, StatusGenerating},
		{StatusSentToAgent, StatusGenerating},
		{StatusTodo, Status("archived")},
	}
	for _, tr := range illegal {
		assert.False(t, CanTransition(tr[0], tr[1]), "%s -> %s should be illegal", tr[0], tr[1])
		assert.Error(t, CheckTransition(tr[0], tr[1]))
	}
}

func TestIsAgentRegression(t *testing.T) {
	assert.True(t, IsAgentRegression(StatusDone, StatusInProgress))
	assert.True(t, IsAgentRegression(StatusDone, StatusTodo))
	assert.True(t, IsAgentRegression(StatusInProgress, StatusSentToAgent))
	assert.False(t, IsAgentRegression(StatusSentToAgent, StatusInProgress))
	assert.False(t, IsAgentRegression(StatusInProgress, StatusDone))
	assert.False(t, IsAgentRegression(StatusInProgress, StatusTodo))
	assert.False(t, IsAgentRegression(StatusDone, StatusDone))
}

func TestApplyUpdates(t *testing.T) {
	p := validPrompt()
	now := time.Now().Add(time.Minute)
	meta := WorkflowMetadata{}.WithEpisode(DispatchEpisode{Provider: ProviderCursor, Repository: "https://github.com/acme/app"})

	err := ApplyUpdates(p, Updates{
		FieldStatus:            StatusInProgress,
		FieldPriority:          PriorityUrgent,
		FieldDescription:       "new description",
		FieldPullRequestNumber: 42,
		FieldGeneratedAt:       now,
		FieldUpdatedAt:         now,
		FieldWorkflowMetadata:  meta,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, p.Status)
	assert.Equal(t, PriorityUrgent, p.Priority)
	require.NotNil(t, p.Description)
	assert.Equal(t, "new description", *p.Description)
	require.NotNil(t, p.PullRequestNumber)
	assert.Equal(t, 42, *p.PullRequestNumber)
	assert.Equal(t, now, p.UpdatedAt)
	require.Len(t, p.WorkflowMetadata.Episodes, 1)
	assert.Equal(t, 1, p.WorkflowMetadata.Episodes[0].Number)

	require.NoError(t, ApplyUpdates(p, Updates{FieldDescription: nil, FieldPullRequestNumber: nil}))
	assert.Nil(t, p.Description)
	assert.Nil(t, p.PullRequestNumber)
}

func TestApplyUpdatesRejectsBadInput(t *testing.T) {
	p := validPrompt()
	assert.Error(t, ApplyUpdates(p, Updates{"id": "other"}))
	assert.Error(t, ApplyUpdates(p, Updates{FieldPriority: "high"}))
	assert.Error(t, ApplyUpdates(p, Updates{FieldStatus: "archived"}))
	assert.Error(t, ApplyUpdates(p, Updates{FieldUpdatedAt: nil}))
}

func TestUpdatesMergeLastValueWins(t *testing.T) {
	u := Updates{FieldStatus: StatusInProgress, FieldPriority: 3}
	u = u.Merge(Updates{FieldStatus: StatusDone})
	s, ok := u.Status()
	require.True(t, ok)
	assert.Equal(t, StatusDone, s)
	assert.Equal(t, 3, u[FieldPriority])
}

func TestCloneIsDeep(t *testing.T) {
	p := validPrompt()
	p.Description = StringPtr("original")
	p.WorkflowMetadata = p.WorkflowMetadata.WithEpisode(DispatchEpisode{Provider: ProviderClaude})

	c := p.Clone()
	*c.Description = "changed"
	c.WorkflowMetadata.Episodes[0].AgentID = "agent-x"

	assert.Equal(t, "original", *p.Description)
	assert.Empty(t, p.WorkflowMetadata.Episodes[0].AgentID)
}

func TestDispatchText(t *testing.T) {
	p := validPrompt()
	assert.Equal(t, "Fix login bug", p.DispatchText())
	p.Description = StringPtr("describe the bug")
	assert.Equal(t, "describe the bug", p.DispatchText())
	p.GeneratedPrompt = StringPtr("# Fix login\nrefined")
	assert.Equal(t, "# Fix login\nrefined", p.DispatchText())
}

func TestWebhookHistoryIsCapped(t *testing.T) {
	var m WorkflowMetadata
	for i := 0; i < MaxWebhookRecords+5; i++ {
		m = m.WithWebhook(WebhookRecord{Status: "RUNNING", AgentID: "a"})
	}
	assert.Len(t, m.Webhooks, MaxWebhookRecords)
}

func TestTempIDs(t *testing.T) {
	id := NewTempID(time.Unix(0, 1234))
	assert.Equal(t, "temp-1234", id)
	assert.True(t, IsTempID(id))
	assert.False(t, IsTempID("3f2a"))
}
