package coordination

import (
	"context"
	"sync"
)

// WriteLock is the in-process single-writer mutex every write path (set,
// delete, upsert, setMeta, save) acquires to serialize mutations and WAL
// appends (spec §4.11 "Single-writer lock"). It guarantees WAL records
// appear in the exact order their exclusive section completed, and that
// a concurrent save observes a consistent store state.
type WriteLock struct {
	mu sync.Mutex
}

// RunExclusive runs fn while holding the lock, the Go rendering of the
// spec's "run_exclusive(async fn)": Go has no async/await, so exclusivity
// is a plain mutex held across fn's synchronous execution instead of a
// suspended coroutine. Returns ctx.Err() without running fn if ctx is
// already done.
func (l *WriteLock) RunExclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return fn(ctx)
}
