package sqlite

import (
	"sync"

	"github.com/promptline/promptline/internal/types"
	"go.uber.org/zap"
)

// feedBuffer is the per-subscriber channel capacity. A subscriber that falls
// further behind loses events; it recovers by reloading from storage.
const feedBuffer = 64

// feed fans committed changes out to per-workspace subscribers
type feed struct {
	mu     sync.Mutex
	logger *zap.Logger
	nextID int
	subs   map[string]map[int]chan types.ChangeEvent
	closed bool
}

func newFeed(logger *zap.Logger) *feed {
	return &feed{
		logger: logger,
		subs:   make(map[string]map[int]chan types.ChangeEvent),
	}
}

func (f *feed) subscribe(workspaceID string) (<-chan types.ChangeEvent, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan types.ChangeEvent, feedBuffer)
	if f.closed {
		close(ch)
		return ch, func() {}
	}

	id := f.nextID
	f.nextID++
	if f.subs[workspaceID] == nil {
		f.subs[workspaceID] = make(map[int]chan types.ChangeEvent)
	}
	f.subs[workspaceID][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if c, ok := f.subs[workspaceID][id]; ok {
				delete(f.subs[workspaceID], id)
				if len(f.subs[workspaceID]) == 0 {
					delete(f.subs, workspaceID)
				}
				close(c)
			}
		})
	}
}

func (f *feed) publish(ev types.ChangeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ch := range f.subs[ev.WorkspaceID] {
		select {
		case ch <- ev:
		default:
			f.logger.Warn("change feed subscriber is full, dropping event",
				zap.String("workspace_id", ev.WorkspaceID),
				zap.String("prompt_id", ev.PromptID),
				zap.String("kind", string(ev.Kind)))
		}
	}
}

func (f *feed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for ws, subs := range f.subs {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(f.subs, ws)
	}
}
