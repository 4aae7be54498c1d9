// Package internal contains integration tests that verify the packages work
// together: engine runs publishing through the event bus, the queue driving
// the engine, and session state surviving a simulated crash and resume.
package internal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/saribmah/orchestrator/internal/agent"
	"github.com/saribmah/orchestrator/internal/engine"
	"github.com/saribmah/orchestrator/internal/event"
	"github.com/saribmah/orchestrator/internal/logging"
	"github.com/saribmah/orchestrator/internal/queue"
	"github.com/saribmah/orchestrator/internal/session"
)

// stubInvoker approves on the second review so every session takes two
// iterations.
type stubInvoker struct {
	mu      sync.Mutex
	reviews int
	// failNext makes the next invocation of that role fail, simulating a
	// crash point.
	failNext agent.Role
}

func (s *stubInvoker) Invoke(_ context.Context, req agent.Request) agent.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failNext == req.Role {
		s.failNext = ""
		return agent.Result{Output: "partial", Error: "simulated failure"}
	}
	if req.Role == agent.RoleReviewer {
		s.reviews++
		if s.reviews%2 == 0 {
			return agent.Result{Success: true, Output: "APPROVED"}
		}
		return agent.Result{Success: true, Output: "Add more tests."}
	}
	return agent.Result{Success: true, Output: "done"}
}

func TestEngineAndBusIntegration(t *testing.T) {
	store, err := session.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("session store: %v", err)
	}
	bus := event.NewBus()
	eng := engine.New(&stubInvoker{}, store, bus, logging.Discard(), engine.Config{})

	st, err := eng.Run(context.Background(), engine.Request{Feature: "add widgets"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.Status != session.StatusApproved {
		t.Fatalf("Status = %s, want approved", st.Status)
	}

	// A late subscriber still sees the run through the replay buffer.
	var mu sync.Mutex
	var types []event.Type
	bus.Subscribe(st.ID, func(e event.ServerEvent) {
		mu.Lock()
		types = append(types, e.Type)
		mu.Unlock()
	}, true)

	mu.Lock()
	defer mu.Unlock()
	if len(types) == 0 {
		t.Fatal("no events replayed for completed session")
	}
	if types[len(types)-1] != event.TypeComplete {
		t.Errorf("last replayed event = %s, want %s", types[len(types)-1], event.TypeComplete)
	}
}

func TestCrashAndResumeIntegration(t *testing.T) {
	dir := t.TempDir()
	store, err := session.NewFileStore(dir)
	if err != nil {
		t.Fatalf("session store: %v", err)
	}

	// First run dies during review.
	inv := &stubInvoker{failNext: agent.RoleReviewer}
	eng := engine.New(inv, store, event.NewBus(), logging.Discard(), engine.Config{})
	st, err := eng.Run(context.Background(), engine.Request{Feature: "add widgets"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.Status != session.StatusFailed || st.LastFailedStep != session.StepReviewing {
		t.Fatalf("after crash: status=%s step=%s, want failed/reviewing", st.Status, st.LastFailedStep)
	}

	// A new process loads the session from disk and resumes it.
	store2, err := session.NewFileStore(dir)
	if err != nil {
		t.Fatalf("session store: %v", err)
	}
	prior, err := store2.Load(st.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// reviews starts odd so the resumed review approves immediately.
	eng2 := engine.New(&stubInvoker{reviews: 1}, store2, event.NewBus(), logging.Discard(), engine.Config{})
	resumed, err := eng2.Run(context.Background(), engine.Request{Resume: prior})
	if err != nil {
		t.Fatalf("resumed Run: %v", err)
	}
	if resumed.Status != session.StatusApproved {
		t.Errorf("resumed status = %s, want approved", resumed.Status)
	}

	// One implementation before the crash, none repeated after.
	implementations := 0
	for _, h := range resumed.History {
		if h.Role == "implementer" {
			implementations++
		}
	}
	if implementations != 1 {
		t.Errorf("implementer ran %d times across crash and resume, want 1", implementations)
	}
}

func TestQueueDrivesEngine(t *testing.T) {
	store, err := session.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("session store: %v", err)
	}
	qstore, err := queue.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("queue store: %v", err)
	}
	bus := event.NewBus()
	eng := engine.New(&stubInvoker{}, store, bus, logging.Discard(), engine.Config{})

	runner := func(ctx context.Context, item queue.Item) (string, error) {
		st, err := eng.Run(ctx, engine.Request{
			Feature:   item.Feature,
			SessionID: session.NewID(),
			Options:   item.Options,
		})
		if err != nil {
			return "", err
		}
		if st.Status != session.StatusApproved {
			return st.ID, errors.New("session did not reach approval")
		}
		return st.ID, nil
	}

	q, err := queue.New(context.Background(), qstore, runner, bus, logging.Discard())
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if _, err := q.AddMany([]queue.Request{{Feature: "one"}, {Feature: "two"}}); err != nil {
		t.Fatalf("AddMany: %v", err)
	}

	done := make(chan struct{})
	go func() { q.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("queue did not drain")
	}

	for _, it := range q.Items() {
		if it.Status != queue.StatusCompleted {
			t.Errorf("item %q status = %s, want completed", it.Feature, it.Status)
		}
		if _, err := store.Load(it.SessionID); err != nil {
			t.Errorf("session %q for item %q not stored: %v", it.SessionID, it.Feature, err)
		}
	}
}
