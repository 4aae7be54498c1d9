// Package event defines the server event model and the pub-sub bus used to
// fan pipeline progress out to observers. Components publish events without
// knowing who will receive them, and subscribers can join late: the bus keeps
// a bounded, time-limited replay buffer per session so a new subscriber is
// caught up before receiving live events.
package event

import "time"

// Type identifies the kind of a ServerEvent.
type Type string

// Session-scoped event types emitted by the orchestration engine.
const (
	TypeStatus         Type = "status"
	TypeLog            Type = "log"
	TypeAgentStart     Type = "agent_start"
	TypeAgentComplete  Type = "agent_complete"
	TypeQuestion       Type = "question"
	TypeIteration      Type = "iteration"
	TypeComplete       Type = "complete"
	TypeError          Type = "error"
	TypePing           Type = "ping"
	TypeSessionStarted Type = "session_started"

	// TypeConnected is synthesized by the streaming layer as the first event
	// on every new connection. It never passes through the bus.
	TypeConnected Type = "connected"
)

// Queue-level event types, published under QueueSessionID.
const (
	TypeQueueUpdated       Type = "queue_updated"
	TypeQueueItemStarted   Type = "queue_item_started"
	TypeQueueItemCompleted Type = "queue_item_completed"
	TypeQueueItemFailed    Type = "queue_item_failed"
)

// QueueSessionID is the reserved sentinel session id used for queue-level
// events. Real session ids are time-prefixed and can never collide with it.
const QueueSessionID = "queue"

// ServerEvent is one unit of pipeline progress. Events are ephemeral: they
// live only in the bus replay buffer and on the wire, never in the session
// store.
type ServerEvent struct {
	Type      Type           `json:"type"`
	SessionID string         `json:"sessionId"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// New creates a ServerEvent stamped with the current time.
func New(t Type, sessionID string, data map[string]any) ServerEvent {
	return ServerEvent{
		Type:      t,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Data:      data,
	}
}
