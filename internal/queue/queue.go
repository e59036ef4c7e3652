// Package queue implements the durable offline action queue: a FIFO of
// user actions not yet confirmed by the server, replayable after reconnect.
//
// The in-memory list is the source of truth. Persistence to SQLite happens
// asynchronously through a write-behind loop signaled on every mutation, so
// enqueuing never blocks on disk I/O and new entries arriving during a
// flush are simply picked up by the next persist cycle.
package queue

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/unifeed/internal/action"
)

// Queue is a thread-safe durable FIFO of queued actions.
type Queue struct {
	mu     sync.Mutex
	items  []action.QueuedAction
	closed bool

	store *store
	dirty chan struct{} // coalesced persist signal (buffered, size 1)
}

// Open loads (or creates) the queue backed by a SQLite file at path.
// Previously persisted actions are restored in FIFO order, including
// records written before the platform-native id column existed.
func Open(path string) (*Queue, error) {
	st, err := openStore(path)
	if err != nil {
		return nil, err
	}

	items, err := st.loadAll(context.Background())
	if err != nil {
		st.Close()
		return nil, err
	}

	q := &Queue{
		items: items,
		store: st,
		dirty: make(chan struct{}, 1),
	}

	slog.Debug("offline queue opened", "path", path, "restored", len(items))
	return q, nil
}

// Enqueue appends an action to the back of the queue and signals the
// persister. Thread-safe; safe to call while a flush is in progress.
// Returns false if the queue is closed.
func (q *Queue) Enqueue(a action.QueuedAction) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, a)
	q.mu.Unlock()

	q.signal()
	return true
}

// Snapshot returns a copy of the queued actions in FIFO order.
// Iterating the snapshot tolerates concurrent Enqueue/Remove.
func (q *Queue) Snapshot() []action.QueuedAction {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]action.QueuedAction, len(q.items))
	copy(out, q.items)
	return out
}

// Remove deletes the action with the given id, preserving order.
// Returns false if no such action is queued.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	removed := false
	for i, item := range q.items {
		if item.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			removed = true
			break
		}
	}
	q.mu.Unlock()

	if removed {
		q.signal()
	}
	return removed
}

// Len returns the number of queued actions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// signal marks the queue dirty. Buffer of 1 coalesces bursts: the persister
// writes the latest state, not one write per mutation.
func (q *Queue) signal() {
	select {
	case q.dirty <- struct{}{}:
	default:
	}
}

// Run is the write-behind persistence loop. Blocks until ctx is cancelled,
// performing a final sync on the way out.
//
// Persist failures are logged and retried on the next signal - the
// in-memory queue stays intact, so no action is lost within the process.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			if err := q.SyncNow(context.Background()); err != nil {
				slog.Error("offline queue final sync failed", "error", err)
			}
			return ctx.Err()

		case <-q.dirty:
			if err := q.SyncNow(ctx); err != nil {
				slog.Error("offline queue persist failed", "error", err)
			}
		}
	}
}

// SyncNow persists the current queue contents synchronously.
// Exposed for deterministic shutdown and tests.
func (q *Queue) SyncNow(ctx context.Context) error {
	items := q.Snapshot()
	if err := q.store.replaceAll(ctx, items); err != nil {
		return err
	}
	slog.Debug("offline queue persisted", "count", len(items))
	return nil
}

// Close syncs outstanding state and releases the database.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	if err := q.SyncNow(context.Background()); err != nil {
		q.store.Close()
		return err
	}
	return q.store.Close()
}
