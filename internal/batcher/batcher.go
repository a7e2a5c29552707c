// Package batcher coalesces rapid per-entity updates and writes them after a
// quiet period.
package batcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/promptline/promptline/internal/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultQuietPeriod is how long the batcher waits after the last Schedule
const DefaultQuietPeriod = 300 * time.Millisecond

// ErrClosed is returned by Schedule after Close
var ErrClosed = errors.New("batcher is closed")

// FlushFunc persists the merged updates for one entity
type FlushFunc func(ctx context.Context, id string, updates types.Updates) error

// Result reports the outcome of flushing one entity
type Result struct {
	ID      string
	Updates types.Updates
	Err     error
}

// Options tunes a Batcher
type Options struct {
	Logger *zap.Logger
	// MaxParallel bounds concurrent FlushFunc calls within one flush (default 4)
	MaxParallel int
	// FlushTimeout bounds a timer-driven flush (0 means no bound)
	FlushTimeout time.Duration
	// OnResult is called once per flushed entity, success or failure
	OnResult func(Result)
}

// Batcher merges updates per entity id (last value wins per field) and
// flushes every pending entity individually once no Schedule has arrived for
// the quiet period. There is one timer for the whole batch. Failed entities
// are reported, never retried.
type Batcher struct {
	quiet   time.Duration
	flushFn FlushFunc
	opts    Options
	logger  *zap.Logger

	mu      sync.Mutex
	pending map[string]types.Updates
	timer   *time.Timer
	closed  bool
	wg      sync.WaitGroup
}

// New creates a Batcher. A non-positive quiet period uses DefaultQuietPeriod.
func New(quiet time.Duration, flushFn FlushFunc, opts Options) *Batcher {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 4
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Batcher{
		quiet:   quiet,
		flushFn: flushFn,
		opts:    opts,
		logger:  logger,
		pending: make(map[string]types.Updates),
	}
}

// Schedule merges updates into the pending entry for id and re-arms the timer
func (b *Batcher) Schedule(id string, updates types.Updates) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	b.pending[id] = b.pending[id].Merge(updates)

	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.quiet, b.fire)
	return nil
}

// Pending returns a copy of the merged updates waiting for id
func (b *Batcher) Pending(id string) (types.Updates, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	u, ok := b.pending[id]
	if !ok {
		return nil, false
	}
	return u.Clone(), true
}

// Len returns the number of entities waiting to be flushed
func (b *Batcher) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Flush writes everything pending now, without waiting for the quiet period.
// The returned error joins the per-entity failures.
func (b *Batcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	batch := b.swap()
	b.mu.Unlock()

	return b.flush(ctx, batch)
}

// Close flushes what is pending, waits for in-flight timer flushes and
// rejects further Schedule calls. Calling Close twice is a no-op.
func (b *Batcher) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	batch := b.swap()
	b.mu.Unlock()

	err := b.flush(ctx, batch)
	b.wg.Wait()
	return err
}

// fire runs on the timer goroutine
func (b *Batcher) fire() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.wg.Add(1)
	defer b.wg.Done()
	b.timer = nil
	batch := b.swap()
	b.mu.Unlock()

	ctx := context.Background()
	if b.opts.FlushTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.opts.FlushTimeout)
		defer cancel()
	}
	_ = b.flush(ctx, batch)
}

// swap takes ownership of the pending map. Caller holds b.mu.
func (b *Batcher) swap() map[string]types.Updates {
	batch := b.pending
	b.pending = make(map[string]types.Updates)
	return batch
}

func (b *Batcher) flush(ctx context.Context, batch map[string]types.Updates) error {
	if len(batch) == 0 {
		return nil
	}

	var mu sync.Mutex
	var errs []error

	var g errgroup.Group
	g.SetLimit(b.opts.MaxParallel)
	for id, updates := range batch {
		g.Go(func() error {
			err := b.flushFn(ctx, id, updates)
			if err != nil {
				b.logger.Error("batched update failed",
					zap.String("prompt_id", id),
					zap.Int("fields", len(updates)),
					zap.Error(err))
				mu.Lock()
				errs = append(errs, fmt.Errorf("flush %s: %w", id, err))
				mu.Unlock()
			} else {
				b.logger.Debug("batched update flushed",
					zap.String("prompt_id", id),
					zap.Int("fields", len(updates)))
			}
			if b.opts.OnResult != nil {
				b.opts.OnResult(Result{ID: id, Updates: updates, Err: err})
			}
			// Never cancel siblings
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}
