// Package optimistic runs a mutation against local state before the real
// operation completes, then either reconciles or restores the snapshot.
package optimistic

import (
	"context"

	"github.com/promptline/promptline/internal/types"
)

// Mutation describes one logical operation.
//
// Apply makes the tentative change visible and must not block. Commit performs
// the real operation. On success Reconcile receives Commit's result (for example
// to replace a temporary id); on failure Rollback restores the state captured
// before Apply. Reconcile and Rollback may be nil.
type Mutation[T any] struct {
	// Op names the operation in returned errors
	Op        string
	Apply     func()
	Commit    func(ctx context.Context) (T, error)
	Reconcile func(result T)
	Rollback  func()
}

// Run executes the mutation. The visible state is monotonic: after Run returns
// it is either confirmed or rolled back, never left tentative.
//
// Commit errors are returned as *types.TransientError, except validation
// errors which pass through unchanged.
func Run[T any](ctx context.Context, m Mutation[T]) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, types.Transient(m.Op, err)
	}

	if m.Apply != nil {
		m.Apply()
	}

	result, err := m.Commit(ctx)
	if err != nil {
		if m.Rollback != nil {
			m.Rollback()
		}
		return zero, types.Transient(m.Op, err)
	}

	if m.Reconcile != nil {
		m.Reconcile(result)
	}
	return result, nil
}
