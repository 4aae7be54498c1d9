// Package queue implements a durable, single-lane FIFO of feature requests.
// Items run one at a time through a runner; the whole queue state is written
// through to disk on every mutation so a restart never loses or reorders
// pending work.
package queue

import (
	"time"

	"github.com/saribmah/orchestrator/internal/engine"
)

// Status is the lifecycle state of a queue item.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Item is one queued feature request.
type Item struct {
	ID          string         `json:"id"`
	Feature     string         `json:"feature"`
	WorkingDir  string         `json:"workingDir,omitempty"`
	Options     engine.Options `json:"options"`
	Status      Status         `json:"status"`
	SessionID   string         `json:"sessionId,omitempty"`
	Error       string         `json:"error,omitempty"`
	AddedAt     time.Time      `json:"addedAt"`
	StartedAt   time.Time      `json:"startedAt"`
	CompletedAt time.Time      `json:"completedAt"`
}

// State is the full persisted queue. Order is insertion order; the first
// pending item is always the next to run.
type State struct {
	Items         []Item `json:"items"`
	IsProcessing  bool   `json:"isProcessing"`
	CurrentItemID string `json:"currentItemId,omitempty"`
}

// Counts summarizes the queue by status.
type Counts struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

func (s *State) counts() Counts {
	var c Counts
	for _, it := range s.Items {
		switch it.Status {
		case StatusPending:
			c.Pending++
		case StatusRunning:
			c.Running++
		case StatusCompleted:
			c.Completed++
		case StatusFailed:
			c.Failed++
		}
	}
	return c
}
