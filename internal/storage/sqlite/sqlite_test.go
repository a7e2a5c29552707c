package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/promptline/promptline/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newPrompt(title string) *types.Prompt {
	return &types.Prompt{
		ID:          types.NewTempID(time.Now()),
		WorkspaceID: "ws-1",
		Title:       title,
		Description: types.StringPtr("description for " + title),
	}
}

func TestCreatePromptAssignsPersistedID(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	in := newPrompt("  Write docs  ")
	created, err := store.CreatePrompt(ctx, in, "test")
	if err != nil {
		t.Fatalf("CreatePrompt failed: %v", err)
	}

	if types.IsTempID(created.ID) {
		t.Errorf("Expected persisted id, got %s", created.ID)
	}
	if !types.IsTempID(in.ID) {
		t.Errorf("Caller's prompt was mutated: id=%s", in.ID)
	}
	if created.Title != "Write docs" {
		t.Errorf("Expected trimmed title, got %q", created.Title)
	}
	if created.Status != types.StatusTodo {
		t.Errorf("Expected status todo, got %s", created.Status)
	}
	if created.Priority != types.DefaultPriority {
		t.Errorf("Expected default priority %d, got %d", types.DefaultPriority, created.Priority)
	}

	got, err := store.GetPrompt(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetPrompt failed: %v", err)
	}
	assert.Equal(t, created, got)
}

func TestCreatePromptRejectsInvalid(t *testing.T) {
	store := newTestStorage(t)

	p := newPrompt("   ")
	_, err := store.CreatePrompt(context.Background(), p, "test")
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))
}

func TestGetPromptNotFound(t *testing.T) {
	store := newTestStorage(t)

	_, err := store.GetPrompt(context.Background(), "missing")
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestUpdatePrompt(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	created, err := store.CreatePrompt(ctx, newPrompt("Refactor auth"), "test")
	require.NoError(t, err)

	generatedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	meta := types.WorkflowMetadata{}.WithEpisode(types.DispatchEpisode{
		Provider:   types.ProviderCursor,
		Repository: "https://github.com/acme/app",
	})
	err = store.UpdatePrompt(ctx, created.ID, types.Updates{
		types.FieldStatus:            types.StatusSentToAgent,
		types.FieldGeneratedPrompt:   "refined text",
		types.FieldGeneratedAt:       generatedAt,
		types.FieldAgentID:           "bc-123",
		types.FieldPullRequestNumber: 7,
		types.FieldWorkflowMetadata:  meta,
	}, "test")
	require.NoError(t, err)

	got, err := store.GetPrompt(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSentToAgent, got.Status)
	require.NotNil(t, got.GeneratedPrompt)
	assert.Equal(t, "refined text", *got.GeneratedPrompt)
	require.NotNil(t, got.GeneratedAt)
	assert.True(t, generatedAt.Equal(*got.GeneratedAt))
	require.NotNil(t, got.PullRequestNumber)
	assert.Equal(t, 7, *got.PullRequestNumber)
	require.Len(t, got.WorkflowMetadata.Episodes, 1)
	assert.Equal(t, types.ProviderCursor, got.WorkflowMetadata.Episodes[0].Provider)
	assert.False(t, got.UpdatedAt.Before(created.UpdatedAt))

	byAgent, err := store.GetPromptByAgentID(ctx, "bc-123")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byAgent.ID)

	// Clearing nullable fields
	require.NoError(t, store.UpdatePrompt(ctx, created.ID, types.Updates{
		types.FieldAgentID:           nil,
		types.FieldPullRequestNumber: nil,
	}, "test"))
	got, err = store.GetPrompt(ctx, created.ID)
	require.NoError(t, err)
	assert.Nil(t, got.AgentID)
	assert.Nil(t, got.PullRequestNumber)

	_, err = store.GetPromptByAgentID(ctx, "bc-123")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestUpdatePromptValidation(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	created, err := store.CreatePrompt(ctx, newPrompt("Validate me"), "test")
	require.NoError(t, err)

	tests := []struct {
		name    string
		updates types.Updates
	}{
		{"unknown field", types.Updates{"id": "x"}},
		{"workspace not updatable", types.Updates{types.FieldWorkspaceID: "ws-2"}},
		{"empty title", types.Updates{types.FieldTitle: ""}},
		{"priority out of range", types.Updates{types.FieldPriority: 9}},
		{"bad status", types.Updates{types.FieldStatus: "archived"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.UpdatePrompt(ctx, created.ID, tt.updates, "test")
			require.Error(t, err)
			assert.True(t, types.IsValidation(err), "expected validation error, got %v", err)
		})
	}

	assert.True(t, types.IsValidation(store.UpdatePrompt(ctx, "temp-1", types.Updates{types.FieldTitle: "x"}, "test")))
	assert.ErrorIs(t, store.UpdatePrompt(ctx, "missing", types.Updates{types.FieldTitle: "x"}, "test"), types.ErrNotFound)
}

func TestListPromptsFilterAndOrder(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	product := "prod-1"
	low := newPrompt("low")
	low.Priority = types.PriorityLow
	low.ProductID = &product
	urgent := newPrompt("urgent")
	urgent.Priority = types.PriorityUrgent
	urgent.ProductID = &product
	other := newPrompt("other workspace")
	other.WorkspaceID = "ws-2"

	var ids []string
	for _, p := range []*types.Prompt{low, urgent, other, newPrompt("no product")} {
		created, err := store.CreatePrompt(ctx, p, "test")
		require.NoError(t, err)
		ids = append(ids, created.ID)
	}

	all, err := store.ListPrompts(ctx, types.PromptFilter{WorkspaceID: "ws-1"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "urgent", all[0].Title)
	assert.Equal(t, "low", all[2].Title)

	byProduct, err := store.ListPrompts(ctx, types.PromptFilter{WorkspaceID: "ws-1", ProductID: &product})
	require.NoError(t, err)
	assert.Len(t, byProduct, 2)

	require.NoError(t, store.UpdatePrompt(ctx, ids[0], types.Updates{
		types.FieldStatus:  types.StatusInProgress,
		types.FieldAgentID: "agent-1",
	}, "test"))
	active, err := store.ListPrompts(ctx, types.PromptFilter{
		Statuses: []types.Status{types.StatusSentToAgent, types.StatusInProgress},
		HasAgent: true,
	})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, ids[0], active[0].ID)

	limited, err := store.ListPrompts(ctx, types.PromptFilter{WorkspaceID: "ws-1", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestDeletePromptKeepsEvents(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	created, err := store.CreatePrompt(ctx, newPrompt("Short lived"), "alice")
	require.NoError(t, err)
	require.NoError(t, store.UpdatePrompt(ctx, created.ID, types.Updates{types.FieldStatus: types.StatusInProgress}, "alice"))
	require.NoError(t, store.DeletePrompt(ctx, created.ID, "alice"))

	_, err = store.GetPrompt(ctx, created.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.ErrorIs(t, store.DeletePrompt(ctx, created.ID, "alice"), types.ErrNotFound)

	events, err := store.GetPromptEvents(ctx, created.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, types.EventDeleted, events[0].EventType)
	assert.Equal(t, types.EventStatusChanged, events[1].EventType)
	require.NotNil(t, events[1].NewValue)
	assert.Equal(t, string(types.StatusInProgress), *events[1].NewValue)
	assert.Equal(t, types.EventCreated, events[2].EventType)
	assert.Equal(t, "alice", events[2].Actor)

	limited, err := store.GetPromptEvents(ctx, created.ID, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestChangeFeed(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	feed, unsubscribe := store.Subscribe("ws-1")
	defer unsubscribe()
	otherFeed, unsubscribeOther := store.Subscribe("ws-2")
	defer unsubscribeOther()

	created, err := store.CreatePrompt(ctx, newPrompt("Feed me"), "test")
	require.NoError(t, err)
	require.NoError(t, store.UpdatePrompt(ctx, created.ID, types.Updates{types.FieldPriority: types.PriorityLow}, "test"))
	require.NoError(t, store.DeletePrompt(ctx, created.ID, "test"))

	ev := <-feed
	assert.Equal(t, types.ChangeInsert, ev.Kind)
	assert.Equal(t, created.ID, ev.PromptID)
	require.NotNil(t, ev.Prompt)

	ev = <-feed
	assert.Equal(t, types.ChangeUpdate, ev.Kind)
	require.NotNil(t, ev.Prompt)
	assert.Equal(t, types.PriorityLow, ev.Prompt.Priority)
	assert.Contains(t, ev.Updates, types.FieldUpdatedAt)

	ev = <-feed
	assert.Equal(t, types.ChangeDelete, ev.Kind)
	assert.Nil(t, ev.Prompt)

	select {
	case ev := <-otherFeed:
		t.Fatalf("Unexpected event on another workspace: %+v", ev)
	default:
	}

	unsubscribe()
	_, open := <-feed
	assert.False(t, open, "feed should be closed after unsubscribe")
}

func TestCredentials(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	_, err := store.GetCredential(ctx, types.ProviderCursor)
	assert.ErrorIs(t, err, types.ErrNotFound)

	require.NoError(t, store.SetCredential(ctx, types.ProviderCursor, "key-1"))
	require.NoError(t, store.SetCredential(ctx, types.ProviderCursor, "key-2"))
	secret, err := store.GetCredential(ctx, types.ProviderCursor)
	require.NoError(t, err)
	assert.Equal(t, "key-2", secret)

	assert.True(t, types.IsValidation(store.SetCredential(ctx, types.ProviderClaude, "")))

	require.NoError(t, store.DeleteCredential(ctx, types.ProviderCursor))
	_, err = store.GetCredential(ctx, types.ProviderCursor)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestWebhookDeliveries(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	first, err := store.RecordWebhookDelivery(ctx, "a|RUNNING|1", "a", "RUNNING")
	require.NoError(t, err)
	assert.True(t, first)

	dup, err := store.RecordWebhookDelivery(ctx, "a|RUNNING|1", "a", "RUNNING")
	require.NoError(t, err)
	assert.False(t, dup)

	require.NoError(t, store.ForgetWebhookDelivery(ctx, "a|RUNNING|1"))
	again, err := store.RecordWebhookDelivery(ctx, "a|RUNNING|1", "a", "RUNNING")
	require.NoError(t, err)
	assert.True(t, again)
}

func TestKnowledgeItems(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	style := &types.KnowledgeItem{WorkspaceID: "ws-1", Title: "Style guide", Content: "Use tabs", Tags: []string{"style"}}
	arch := &types.KnowledgeItem{WorkspaceID: "ws-1", Title: "Architecture", Content: "Hexagonal"}
	foreign := &types.KnowledgeItem{WorkspaceID: "ws-2", Title: "Elsewhere"}
	for _, item := range []*types.KnowledgeItem{style, arch, foreign} {
		require.NoError(t, store.AddKnowledgeItem(ctx, item))
		require.NotEmpty(t, item.ID)
	}

	items, err := store.ListKnowledgeItems(ctx, "ws-1", []string{arch.ID, style.ID, foreign.ID, "missing"})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, []string{"style"}, items[0].Tags)

	none, err := store.ListKnowledgeItems(ctx, "ws-1", nil)
	require.NoError(t, err)
	assert.Empty(t, none)

	assert.True(t, types.IsValidation(store.AddKnowledgeItem(ctx, &types.KnowledgeItem{WorkspaceID: "ws-1"})))
}

func TestInMemoryDatabase(t *testing.T) {
	store, err := New(context.Background(), ":memory:")
	require.NoError(t, err)
	defer store.Close()

	_, err = store.CreatePrompt(context.Background(), newPrompt("in memory"), "test")
	assert.NoError(t, err)
}
