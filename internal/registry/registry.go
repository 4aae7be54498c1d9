// Package registry tracks active orchestration sessions and mediates
// interactive questions between a running engine and whoever answers them.
// It replaces ambient per-session globals with one object whose lifecycle is
// explicit: created at process start, entries removed when a session reaches
// a terminal state.
package registry

import (
	"context"
	"errors"
	"sync"
)

// Errors returned by registry operations.
var (
	ErrSessionNotFound   = errors.New("session not registered")
	ErrNoPendingQuestion = errors.New("no pending question for session")
	ErrAlreadyRegistered = errors.New("session already registered")
)

// pendingQuestion is a one-shot rendezvous: the engine blocks on a receive
// from answer, the answering call performs the send.
type pendingQuestion struct {
	text   string
	answer chan bool
}

type entry struct {
	cancel   context.CancelFunc
	question *pendingQuestion
}

// Registry tracks the engines currently running in this process.
// All methods are safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{sessions: make(map[string]*entry)}
}

// Register records an active session. The cancel function is invoked by
// Cancel to abort the session's engine run.
func (r *Registry) Register(sessionID string, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[sessionID]; ok {
		return ErrAlreadyRegistered
	}
	r.sessions[sessionID] = &entry{cancel: cancel}
	return nil
}

// Unregister removes a session, called when its engine run reaches a
// terminal state. Any pending question is abandoned.
func (r *Registry) Unregister(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// Cancel aborts a registered session's engine run.
func (r *Registry) Cancel(sessionID string) error {
	r.mu.Lock()
	e, ok := r.sessions[sessionID]
	r.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	e.cancel()
	return nil
}

// Active returns the ids of all registered sessions.
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Ask blocks the calling engine until the question is answered via Respond
// or the context is cancelled. Only one question may be pending per session;
// the engine has a single suspension point so this never contends.
func (r *Registry) Ask(ctx context.Context, sessionID, text string) (bool, error) {
	q := &pendingQuestion{text: text, answer: make(chan bool, 1)}

	r.mu.Lock()
	e, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return false, ErrSessionNotFound
	}
	e.question = q
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		if e.question == q {
			e.question = nil
		}
		r.mu.Unlock()
	}()

	select {
	case answer := <-q.answer:
		return answer, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Respond answers the pending question for a session. The send cannot block:
// the answer channel is buffered and cleared once consumed.
func (r *Registry) Respond(sessionID string, answer bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if e.question == nil {
		return ErrNoPendingQuestion
	}
	e.question.answer <- answer
	e.question = nil
	return nil
}

// PendingQuestion returns the text of the session's pending question, if any.
func (r *Registry) PendingQuestion(sessionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[sessionID]
	if !ok || e.question == nil {
		return "", false
	}
	return e.question.text, true
}
