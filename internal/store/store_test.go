package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/promptline/promptline/internal/notify"
	"github.com/promptline/promptline/internal/storage"
	"github.com/promptline/promptline/internal/storage/sqlite"
	"github.com/promptline/promptline/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStorage wraps a real database and injects failures per operation
type flakyStorage struct {
	storage.Storage

	mu          sync.Mutex
	createErr   error
	updateErr   error
	deleteErr   error
	updateCalls []types.Updates
	onCreate    func()
}

func (f *flakyStorage) CreatePrompt(ctx context.Context, p *types.Prompt, actor string) (*types.Prompt, error) {
	f.mu.Lock()
	err, hook := f.createErr, f.onCreate
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	return f.Storage.CreatePrompt(ctx, p, actor)
}

func (f *flakyStorage) UpdatePrompt(ctx context.Context, id string, u types.Updates, actor string) error {
	f.mu.Lock()
	f.updateCalls = append(f.updateCalls, u.Clone())
	err := f.updateErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Storage.UpdatePrompt(ctx, id, u, actor)
}

func (f *flakyStorage) DeletePrompt(ctx context.Context, id string, actor string) error {
	f.mu.Lock()
	err := f.deleteErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Storage.DeletePrompt(ctx, id, actor)
}

func (f *flakyStorage) set(fn func(f *flakyStorage)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *flakyStorage) updates() []types.Updates {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Updates(nil), f.updateCalls...)
}

type harness struct {
	store    *Store
	db       *flakyStorage
	notifier *notify.Recorder

	mu     sync.Mutex
	events []Event
}

func (h *harness) recorded() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.events...)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := &harness{db: &flakyStorage{Storage: db}, notifier: &notify.Recorder{}}
	s, err := New(h.db, Config{
		Filter:      types.PromptFilter{WorkspaceID: "ws-1"},
		QuietPeriod: 30 * time.Millisecond,
		Notifier:    h.notifier,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(context.Background()) })

	s.Subscribe(func(ev Event) {
		h.mu.Lock()
		h.events = append(h.events, ev)
		h.mu.Unlock()
	})
	h.store = s
	return h
}

func (h *harness) create(t *testing.T, title string) *types.Prompt {
	t.Helper()
	p, err := h.store.Create(context.Background(), CreateInput{Title: title, Description: "details for " + title})
	require.NoError(t, err)
	return p
}

func TestCreateReplacesTemporaryID(t *testing.T) {
	h := newHarness(t)

	var tentative []*types.Prompt
	h.db.set(func(f *flakyStorage) {
		f.onCreate = func() { tentative = h.store.List() }
	})

	p, err := h.store.Create(context.Background(), CreateInput{Title: "  Add dark mode  ", Description: "toggle in settings"})
	require.NoError(t, err)

	require.Len(t, tentative, 1)
	assert.True(t, tentative[0].IsTemporary(), "temporary prompt should be visible while saving")

	assert.False(t, p.IsTemporary())
	assert.Equal(t, "Add dark mode", p.Title)
	assert.Equal(t, types.StatusTodo, p.Status)
	assert.Equal(t, types.DefaultPriority, p.Priority)
	require.NotNil(t, p.OriginalDescription)
	assert.Equal(t, "toggle in settings", *p.OriginalDescription)

	list := h.store.List()
	require.Len(t, list, 1)
	assert.Equal(t, p.ID, list[0].ID)

	events := h.recorded()
	require.Len(t, events, 2)
	assert.Equal(t, EventCreated, events[0].Kind)
	assert.Equal(t, EventReplaced, events[1].Kind)
	assert.Equal(t, events[0].PromptID, events[1].PreviousID)
}

func TestCreateFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	existing := h.create(t, "Existing prompt")
	before := h.store.List()

	h.db.set(func(f *flakyStorage) { f.createErr = errors.New("network down") })
	_, err := h.store.Create(context.Background(), CreateInput{Title: "Will fail"})

	require.Error(t, err)
	var terr *types.TransientError
	assert.ErrorAs(t, err, &terr)

	if diff := cmp.Diff(before, h.store.List()); diff != "" {
		t.Errorf("state after rollback mismatch (-want +got):\n%s", diff)
	}
	_, ok := h.store.Get(existing.ID)
	assert.True(t, ok)
	assert.Equal(t, 1, h.notifier.Count(notify.SeverityError))
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t)

	tests := []CreateInput{
		{Title: "   "},
		{Title: "ok", Priority: 7},
		{Title: "ok", Status: types.StatusSentToAgent},
	}
	for _, in := range tests {
		_, err := h.store.Create(context.Background(), in)
		require.Error(t, err)
		assert.True(t, types.IsValidation(err), "got %v", err)
	}
	assert.Empty(t, h.store.List())
	assert.Empty(t, h.recorded(), "validation failures must not touch state")
}

func TestUpdateStatusCoalescesRapidChanges(t *testing.T) {
	h := newHarness(t)
	p := h.create(t, "Drag me around")
	ctx := context.Background()

	require.NoError(t, h.store.UpdateStatus(ctx, p.ID, types.StatusInProgress))
	require.NoError(t, h.store.UpdateStatus(ctx, p.ID, types.StatusDone))
	require.NoError(t, h.store.UpdateStatus(ctx, p.ID, types.StatusTodo))

	got, _ := h.store.Get(p.ID)
	assert.Equal(t, types.StatusTodo, got.Status, "memory reflects the change immediately")

	require.Eventually(t, func() bool { return len(h.db.updates()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	calls := h.db.updates()
	require.Len(t, calls, 1)
	status, _ := calls[0].Status()
	assert.Equal(t, types.StatusTodo, status)

	persisted, err := h.db.GetPrompt(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusTodo, persisted.Status)
}

func TestUpdateStatusFailedFlushReloads(t *testing.T) {
	h := newHarness(t)
	p := h.create(t, "Unlucky")

	h.db.set(func(f *flakyStorage) { f.updateErr = errors.New("write failed") })
	require.NoError(t, h.store.UpdateStatus(context.Background(), p.ID, types.StatusInProgress))

	require.Eventually(t, func() bool {
		got, ok := h.store.Get(p.ID)
		return ok && got.Status == types.StatusTodo && h.notifier.Count(notify.SeverityError) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestUpdateStatusRejections(t *testing.T) {
	h := newHarness(t)
	p := h.create(t, "Rules")
	ctx := context.Background()

	assert.True(t, types.IsValidation(h.store.UpdateStatus(ctx, "temp-123", types.StatusDone)))
	assert.True(t, types.IsValidation(h.store.UpdateStatus(ctx, p.ID, types.StatusGenerating)))
	assert.ErrorIs(t, h.store.UpdateStatus(ctx, "missing", types.StatusDone), types.ErrNotFound)

	_, err := h.store.Patch(ctx, p.ID, types.Updates{types.FieldStatus: types.StatusGenerating})
	require.NoError(t, err)
	err = h.store.UpdateStatus(ctx, p.ID, types.StatusDone)
	assert.True(t, types.IsValidation(err), "generating -> done is illegal")
}

func TestUpdateFields(t *testing.T) {
	h := newHarness(t)
	p := h.create(t, "Editable")
	ctx := context.Background()

	err := h.store.UpdateFields(ctx, p.ID, types.Updates{types.FieldGeneratedPrompt: "sneaky"})
	assert.True(t, types.IsValidation(err))

	require.NoError(t, h.store.UpdateFields(ctx, p.ID, types.Updates{
		types.FieldTitle:    "  Renamed  ",
		types.FieldPriority: types.PriorityUrgent,
	}))
	got, _ := h.store.Get(p.ID)
	assert.Equal(t, "Renamed", got.Title)
	assert.Equal(t, types.PriorityUrgent, got.Priority)

	persisted, err := h.db.GetPrompt(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", persisted.Title)
	assert.True(t, persisted.UpdatedAt.Equal(got.UpdatedAt))
}

func TestUpdateFieldsFailureRestoresSnapshot(t *testing.T) {
	h := newHarness(t)
	p := h.create(t, "Fragile")
	before, _ := h.store.Get(p.ID)

	h.db.set(func(f *flakyStorage) { f.updateErr = errors.New("timeout") })
	err := h.store.UpdateFields(context.Background(), p.ID, types.Updates{types.FieldTitle: "Changed"})
	require.Error(t, err)

	after, _ := h.store.Get(p.ID)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("prompt after rollback mismatch (-want +got):\n%s", diff)
	}
}

func TestPatchFlushesPendingStatusFirst(t *testing.T) {
	h := newHarness(t)
	p := h.create(t, "Ordering")
	ctx := context.Background()

	require.NoError(t, h.store.UpdateStatus(ctx, p.ID, types.StatusInProgress))
	_, err := h.store.Patch(ctx, p.ID, types.Updates{types.FieldStatus: types.StatusSendingToAgent})
	require.NoError(t, err)

	calls := h.db.updates()
	require.Len(t, calls, 2)
	first, _ := calls[0].Status()
	second, _ := calls[1].Status()
	assert.Equal(t, types.StatusInProgress, first)
	assert.Equal(t, types.StatusSendingToAgent, second)

	time.Sleep(60 * time.Millisecond)
	persisted, err := h.db.GetPrompt(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSendingToAgent, persisted.Status)
}

func TestPatchEmitsGenerated(t *testing.T) {
	h := newHarness(t)
	p := h.create(t, "Generate me")

	_, err := h.store.Patch(context.Background(), p.ID, types.Updates{
		types.FieldGeneratedPrompt: "refined",
		types.FieldGeneratedAt:     time.Now(),
	})
	require.NoError(t, err)

	events := h.recorded()
	assert.Equal(t, EventGenerated, events[len(events)-1].Kind)
}

func TestDelete(t *testing.T) {
	h := newHarness(t)
	keep := h.create(t, "Keep")
	drop := h.create(t, "Drop")
	ctx := context.Background()

	h.db.set(func(f *flakyStorage) { f.deleteErr = errors.New("locked") })
	require.Error(t, h.store.Delete(ctx, drop.ID))
	_, ok := h.store.Get(drop.ID)
	assert.True(t, ok, "failed delete must restore the prompt")

	h.db.set(func(f *flakyStorage) { f.deleteErr = nil })
	require.NoError(t, h.store.Delete(ctx, drop.ID))
	_, ok = h.store.Get(drop.ID)
	assert.False(t, ok)
	_, ok = h.store.Get(keep.ID)
	assert.True(t, ok)

	_, err := h.db.GetPrompt(ctx, drop.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestDuplicate(t *testing.T) {
	h := newHarness(t)
	src, err := h.store.Create(context.Background(), CreateInput{Title: "Original", Description: "body", Priority: types.PriorityLow})
	require.NoError(t, err)

	dup, err := h.store.Duplicate(context.Background(), src.ID)
	require.NoError(t, err)
	assert.NotEqual(t, src.ID, dup.ID)
	assert.Equal(t, "Original (copy)", dup.Title)
	assert.Equal(t, types.PriorityLow, dup.Priority)
	assert.Equal(t, types.StatusTodo, dup.Status)
	require.NotNil(t, dup.Description)
	assert.Equal(t, "body", *dup.Description)
	assert.Len(t, h.store.List(), 2)
}

func TestApplyRemote(t *testing.T) {
	h := newHarness(t)
	p := h.create(t, "Remote target")
	local, _ := h.store.Get(p.ID)

	older := local.Clone()
	older.Title = "stale"
	older.UpdatedAt = local.UpdatedAt.Add(-time.Second)
	h.store.ApplyRemote(types.ChangeEvent{Kind: types.ChangeUpdate, WorkspaceID: "ws-1", PromptID: p.ID, Prompt: older})
	got, _ := h.store.Get(p.ID)
	assert.Equal(t, "Remote target", got.Title, "older update ignored")

	same := local.Clone()
	same.Title = "echo"
	h.store.ApplyRemote(types.ChangeEvent{Kind: types.ChangeUpdate, WorkspaceID: "ws-1", PromptID: p.ID, Prompt: same})
	got, _ = h.store.Get(p.ID)
	assert.Equal(t, "Remote target", got.Title, "equal timestamp ignored")

	newer := local.Clone()
	newer.Title = "fresh"
	newer.UpdatedAt = local.UpdatedAt.Add(time.Second)
	h.store.ApplyRemote(types.ChangeEvent{Kind: types.ChangeUpdate, WorkspaceID: "ws-1", PromptID: p.ID, Prompt: newer})
	got, _ = h.store.Get(p.ID)
	assert.Equal(t, "fresh", got.Title)

	dupInsert := newer.Clone()
	dupInsert.Title = "duplicate insert"
	h.store.ApplyRemote(types.ChangeEvent{Kind: types.ChangeInsert, WorkspaceID: "ws-1", PromptID: p.ID, Prompt: dupInsert})
	got, _ = h.store.Get(p.ID)
	assert.Equal(t, "fresh", got.Title, "insert for known id ignored")

	temp := newer.Clone()
	temp.ID = "temp-1"
	h.store.ApplyRemote(types.ChangeEvent{Kind: types.ChangeInsert, WorkspaceID: "ws-1", PromptID: "temp-1", Prompt: temp})
	_, ok := h.store.Get("temp-1")
	assert.False(t, ok)

	foreign := newer.Clone()
	foreign.ID = "other"
	foreign.WorkspaceID = "ws-2"
	h.store.ApplyRemote(types.ChangeEvent{Kind: types.ChangeInsert, WorkspaceID: "ws-2", PromptID: "other", Prompt: foreign})
	_, ok = h.store.Get("other")
	assert.False(t, ok)

	h.store.ApplyRemote(types.ChangeEvent{Kind: types.ChangeDelete, WorkspaceID: "ws-1", PromptID: p.ID})
	_, ok = h.store.Get(p.ID)
	assert.False(t, ok)
}

func TestStoresConvergeThroughChangeFeed(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	other, err := New(h.db, Config{Filter: types.PromptFilter{WorkspaceID: "ws-1"}})
	require.NoError(t, err)
	defer other.Close(context.Background())
	other.Start(ctx)
	require.NoError(t, other.Load(ctx))

	p := h.create(t, "Shared")
	require.Eventually(t, func() bool { _, ok := other.Get(p.ID); return ok }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.store.UpdateFields(ctx, p.ID, types.Updates{types.FieldTitle: "Shared v2"}))
	require.Eventually(t, func() bool {
		got, ok := other.Get(p.ID)
		return ok && got.Title == "Shared v2"
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, h.store.Delete(ctx, p.ID))
	require.Eventually(t, func() bool { _, ok := other.Get(p.ID); return !ok }, time.Second, 5*time.Millisecond)
}

func TestRegistry(t *testing.T) {
	db, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	created, err := db.CreatePrompt(ctx, &types.Prompt{WorkspaceID: "ws-9", Title: "Agent bound"}, "test")
	require.NoError(t, err)
	require.NoError(t, db.UpdatePrompt(ctx, created.ID, types.Updates{
		types.FieldStatus:  types.StatusSentToAgent,
		types.FieldAgentID: "bc-42",
	}, "test"))

	reg := NewRegistry(ctx, db, Config{})
	defer reg.Close(ctx)

	s, p, err := reg.ForAgent(ctx, "bc-42")
	require.NoError(t, err)
	assert.Equal(t, "ws-9", s.WorkspaceID())
	assert.Equal(t, created.ID, p.ID)

	again, err := reg.Get(ctx, "ws-9")
	require.NoError(t, err)
	assert.Same(t, s, again)

	byPrompt, err := reg.ForPrompt(ctx, created.ID)
	require.NoError(t, err)
	assert.Same(t, s, byPrompt)

	_, _, err = reg.ForAgent(ctx, "unknown")
	assert.ErrorIs(t, err, types.ErrNotFound)
}
