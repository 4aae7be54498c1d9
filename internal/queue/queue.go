package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/saribmah/orchestrator/internal/engine"
	"github.com/saribmah/orchestrator/internal/event"
	"github.com/saribmah/orchestrator/internal/logging"
)

// Errors returned by queue operations.
var (
	ErrItemNotFound = errors.New("queue item not found")
	ErrNotPending   = errors.New("queue item is not pending")
	ErrEmptyFeature = errors.New("feature must not be empty")
)

// interruptedError marks items that were mid-run when the process died.
const interruptedError = "interrupted by restart"

// Runner executes one queue item and returns the resulting session id.
type Runner func(ctx context.Context, item Item) (string, error)

// Request describes an item to enqueue.
type Request struct {
	Feature    string         `json:"feature"`
	WorkingDir string         `json:"workingDir,omitempty"`
	Options    engine.Options `json:"options"`
}

// Queue is a durable FIFO of feature requests processed one at a time.
// All methods are safe for concurrent use.
type Queue struct {
	mu         sync.Mutex
	state      *State
	store      Store
	runner     Runner
	bus        *event.Bus
	log        *logging.Logger
	processing bool
	ctx        context.Context
	wg         sync.WaitGroup
}

// New loads the persisted queue and recovers from a previous crash: items
// that were running when the process died are marked failed, since their
// engine run is gone and their sessions carry their own resume markers.
// Pending items stay pending but do not start until Kick is called.
func New(ctx context.Context, store Store, runner Runner, bus *event.Bus, log *logging.Logger) (*Queue, error) {
	state, err := store.Load()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Discard()
	}

	q := &Queue{state: state, store: store, runner: runner, bus: bus, log: log, ctx: ctx}

	recovered := 0
	for i := range state.Items {
		if state.Items[i].Status == StatusRunning {
			state.Items[i].Status = StatusFailed
			state.Items[i].Error = interruptedError
			state.Items[i].CompletedAt = time.Now()
			recovered++
		}
	}
	if recovered > 0 || state.IsProcessing || state.CurrentItemID != "" {
		state.IsProcessing = false
		state.CurrentItemID = ""
		if err := store.Save(state); err != nil {
			return nil, err
		}
		log.Warn("recovered queue state from interrupted run", "failed_items", recovered)
	}
	return q, nil
}

// Add enqueues one feature request and starts processing if idle.
func (q *Queue) Add(req Request) (Item, error) {
	items, err := q.AddMany([]Request{req})
	if err != nil {
		return Item{}, err
	}
	return items[0], nil
}

// AddMany enqueues several requests as one persisted mutation. Validation is
// all-or-nothing: one empty feature rejects the whole batch.
func (q *Queue) AddMany(reqs []Request) ([]Item, error) {
	for _, r := range reqs {
		if r.Feature == "" {
			return nil, ErrEmptyFeature
		}
	}

	q.mu.Lock()
	added := make([]Item, 0, len(reqs))
	for _, r := range reqs {
		item := Item{
			ID:         uuid.NewString(),
			Feature:    r.Feature,
			WorkingDir: r.WorkingDir,
			Options:    r.Options,
			Status:     StatusPending,
			AddedAt:    time.Now(),
		}
		q.state.Items = append(q.state.Items, item)
		added = append(added, item)
	}
	if err := q.store.Save(q.state); err != nil {
		// Roll back so memory matches disk.
		q.state.Items = q.state.Items[:len(q.state.Items)-len(added)]
		q.mu.Unlock()
		return nil, err
	}
	q.mu.Unlock()

	q.publishUpdated()
	q.Kick()
	return added, nil
}

// Remove deletes a pending item. Running and finished items are immutable.
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	idx := -1
	for i := range q.state.Items {
		if q.state.Items[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return ErrItemNotFound
	}
	if q.state.Items[idx].Status != StatusPending {
		q.mu.Unlock()
		return ErrNotPending
	}
	q.state.Items = append(q.state.Items[:idx], q.state.Items[idx+1:]...)
	err := q.store.Save(q.state)
	q.mu.Unlock()

	if err != nil {
		return err
	}
	q.publishUpdated()
	return nil
}

// ClearPending removes all pending items and returns how many were dropped.
func (q *Queue) ClearPending() (int, error) {
	q.mu.Lock()
	kept := q.state.Items[:0:0]
	removed := 0
	for _, it := range q.state.Items {
		if it.Status == StatusPending {
			removed++
			continue
		}
		kept = append(kept, it)
	}
	if removed == 0 {
		q.mu.Unlock()
		return 0, nil
	}
	q.state.Items = kept
	err := q.store.Save(q.state)
	q.mu.Unlock()

	if err != nil {
		return 0, err
	}
	q.publishUpdated()
	return removed, nil
}

// GetState returns a defensive copy of the full queue state.
func (q *Queue) GetState() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := State{
		Items:         make([]Item, len(q.state.Items)),
		IsProcessing:  q.state.IsProcessing,
		CurrentItemID: q.state.CurrentItemID,
	}
	copy(out.Items, q.state.Items)
	return out
}

// Items returns a snapshot of the queue in insertion order.
func (q *Queue) Items() []Item {
	return q.GetState().Items
}

// Counts returns the per-status item counts.
func (q *Queue) Counts() Counts {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state.counts()
}

// Kick starts the processing loop if it is not already running. Called
// automatically on Add; called once at startup to drain items recovered
// from disk.
func (q *Queue) Kick() {
	q.mu.Lock()
	if q.processing {
		q.mu.Unlock()
		return
	}
	q.processing = true
	q.mu.Unlock()

	q.wg.Add(1)
	go q.process()
}

// Wait blocks until the processing loop drains and exits.
func (q *Queue) Wait() {
	q.wg.Wait()
}

func (q *Queue) process() {
	defer q.wg.Done()

	for {
		if q.ctx.Err() != nil {
			q.stopProcessing()
			return
		}

		q.mu.Lock()
		idx := -1
		for i := range q.state.Items {
			if q.state.Items[i].Status == StatusPending {
				idx = i
				break
			}
		}
		if idx < 0 {
			q.processing = false
			q.state.IsProcessing = false
			q.state.CurrentItemID = ""
			q.persistLocked()
			q.mu.Unlock()
			return
		}
		q.state.Items[idx].Status = StatusRunning
		q.state.Items[idx].StartedAt = time.Now()
		q.state.IsProcessing = true
		q.state.CurrentItemID = q.state.Items[idx].ID
		q.persistLocked()
		item := q.state.Items[idx]
		q.mu.Unlock()

		q.log.Info("queue item starting", "item_id", item.ID, "feature", item.Feature)
		q.publish(event.TypeQueueItemStarted, map[string]any{
			"id":      item.ID,
			"feature": item.Feature,
		})
		q.publishUpdated()

		sessionID, err := q.runner(q.ctx, item)

		q.mu.Lock()
		for i := range q.state.Items {
			if q.state.Items[i].ID != item.ID {
				continue
			}
			q.state.Items[i].SessionID = sessionID
			q.state.Items[i].CompletedAt = time.Now()
			if err != nil {
				q.state.Items[i].Status = StatusFailed
				q.state.Items[i].Error = err.Error()
			} else {
				q.state.Items[i].Status = StatusCompleted
			}
			break
		}
		q.state.CurrentItemID = ""
		q.persistLocked()
		q.mu.Unlock()

		if err != nil {
			q.log.Warn("queue item failed", "item_id", item.ID, "error", err)
			q.publish(event.TypeQueueItemFailed, map[string]any{
				"id":        item.ID,
				"sessionId": sessionID,
				"error":     err.Error(),
			})
		} else {
			q.log.Info("queue item completed", "item_id", item.ID, "session_id", sessionID)
			q.publish(event.TypeQueueItemCompleted, map[string]any{
				"id":        item.ID,
				"sessionId": sessionID,
			})
		}
		q.publishUpdated()
	}
}

func (q *Queue) stopProcessing() {
	q.mu.Lock()
	q.processing = false
	q.state.IsProcessing = false
	q.state.CurrentItemID = ""
	q.persistLocked()
	q.mu.Unlock()
}

// persistLocked writes through to disk. Failures inside the processing loop
// are logged rather than fatal; the next successful mutation repairs the
// file.
func (q *Queue) persistLocked() {
	if err := q.store.Save(q.state); err != nil {
		q.log.Error("failed to persist queue state", "error", err)
	}
}

func (q *Queue) publish(t event.Type, data map[string]any) {
	if q.bus != nil {
		q.bus.Publish(event.New(t, event.QueueSessionID, data))
	}
}

func (q *Queue) publishUpdated() {
	if q.bus == nil {
		return
	}
	counts := q.Counts()
	q.bus.Publish(event.New(event.TypeQueueUpdated, event.QueueSessionID, map[string]any{
		"pending":   counts.Pending,
		"running":   counts.Running,
		"completed": counts.Completed,
		"failed":    counts.Failed,
	}))
}
