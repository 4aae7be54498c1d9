package engine

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/saribmah/orchestrator/internal/agent"
	"github.com/saribmah/orchestrator/internal/event"
	"github.com/saribmah/orchestrator/internal/logging"
	"github.com/saribmah/orchestrator/internal/session"
)

// fakeInvoker serves scripted results per role, in order. Roles with an
// exhausted or missing script get a generic success.
type fakeInvoker struct {
	mu        sync.Mutex
	calls     []agent.Request
	responses map[agent.Role][]agent.Result
}

func (f *fakeInvoker) Invoke(_ context.Context, req agent.Request) agent.Result {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, req)
	queue := f.responses[req.Role]
	if len(queue) == 0 {
		return agent.Result{Success: true, Output: "ok"}
	}
	res := queue[0]
	f.responses[req.Role] = queue[1:]
	return res
}

func (f *fakeInvoker) callRoles() []agent.Role {
	f.mu.Lock()
	defer f.mu.Unlock()
	roles := make([]agent.Role, len(f.calls))
	for i, c := range f.calls {
		roles[i] = c.Role
	}
	return roles
}

type memStore struct {
	mu    sync.Mutex
	saved map[string]*session.State
	saves int
}

func newMemStore() *memStore {
	return &memStore{saved: make(map[string]*session.State)}
}

func (m *memStore) Save(st *session.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[st.ID] = st.Clone()
	m.saves++
	return nil
}

func (m *memStore) Load(id string) (*session.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.saved[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return st.Clone(), nil
}

func (m *memStore) LoadLatest() (*session.State, error) {
	return nil, session.ErrNotFound
}

func (m *memStore) List() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.saved))
	for id := range m.saved {
		ids = append(ids, id)
	}
	return ids, nil
}

func newTestEngine(inv agent.Invoker, store session.Store) *Engine {
	return New(inv, store, event.NewBus(), logging.Discard(), Config{AgentName: "test-agent"})
}

func historyRoles(st *session.State) []string {
	roles := make([]string, len(st.History))
	for i, h := range st.History {
		roles[i] = h.Role
	}
	return roles
}

func TestRunApprovedAfterRevision(t *testing.T) {
	inv := &fakeInvoker{responses: map[agent.Role][]agent.Result{
		agent.RoleGenerator: {{Success: true, Output: "the plan"}},
		agent.RoleImplementer: {
			{Success: true, Output: "first attempt"},
			{Success: true, Output: "second attempt"},
		},
		agent.RoleReviewer: {
			{Success: true, Output: "Fix the error handling in the parser."},
			{Success: true, Output: "APPROVED"},
		},
	}}
	store := newMemStore()
	eng := newTestEngine(inv, store)

	st, err := eng.Run(context.Background(), Request{Feature: "add a parser"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if st.Status != session.StatusApproved {
		t.Errorf("Status = %s, want %s", st.Status, session.StatusApproved)
	}
	if st.Iteration != 2 {
		t.Errorf("Iteration = %d, want 2", st.Iteration)
	}
	if st.GeneratedPrompt != "the plan" {
		t.Errorf("GeneratedPrompt = %q, want %q", st.GeneratedPrompt, "the plan")
	}
	if st.LastFailedStep != session.StepNone {
		t.Errorf("LastFailedStep = %q, want empty", st.LastFailedStep)
	}

	wantRoles := []string{"generator", "implementer", "reviewer", "implementer", "reviewer"}
	gotRoles := historyRoles(st)
	if len(gotRoles) != len(wantRoles) {
		t.Fatalf("history roles = %v, want %v", gotRoles, wantRoles)
	}
	for i := range wantRoles {
		if gotRoles[i] != wantRoles[i] {
			t.Errorf("history[%d].Role = %s, want %s", i, gotRoles[i], wantRoles[i])
		}
	}
	for i, wantIter := range []int{0, 1, 1, 2, 2} {
		if st.History[i].Iteration != wantIter {
			t.Errorf("history[%d].Iteration = %d, want %d", i, st.History[i].Iteration, wantIter)
		}
	}

	// The retry prompt carries the previous review's feedback.
	secondImpl := inv.calls[3]
	if !strings.Contains(secondImpl.Prompt, "Fix the error handling in the parser.") {
		t.Error("second implementer prompt does not contain reviewer feedback")
	}
	if !strings.Contains(secondImpl.Prompt, "the plan") {
		t.Error("second implementer prompt does not contain the generated prompt")
	}

	// Terminal state made it to the store.
	persisted, err := store.Load(st.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if persisted.Status != session.StatusApproved {
		t.Errorf("persisted Status = %s, want %s", persisted.Status, session.StatusApproved)
	}
}

func TestRunFailsAtIterationLimit(t *testing.T) {
	inv := &fakeInvoker{responses: map[agent.Role][]agent.Result{
		agent.RoleReviewer: {
			{Success: true, Output: "Needs more tests."},
			{Success: true, Output: "Still needs more tests."},
		},
	}}
	eng := newTestEngine(inv, newMemStore())

	st, err := eng.Run(context.Background(), Request{
		Feature: "add a parser",
		Options: Options{MaxIterations: 2},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if st.Status != session.StatusFailed {
		t.Errorf("Status = %s, want %s", st.Status, session.StatusFailed)
	}
	if st.Iteration != 2 {
		t.Errorf("Iteration = %d, want 2", st.Iteration)
	}
}

func TestRunGeneratorFailure(t *testing.T) {
	inv := &fakeInvoker{responses: map[agent.Role][]agent.Result{
		agent.RoleGenerator: {{Output: "partial plan", Error: "exit status 1"}},
	}}
	var events []event.ServerEvent
	eng := newTestEngine(inv, newMemStore())

	st, err := eng.Run(context.Background(), Request{
		Feature: "add a parser",
		Callbacks: Callbacks{OnEvent: func(e event.ServerEvent) {
			events = append(events, e)
		}},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if st.Status != session.StatusFailed {
		t.Errorf("Status = %s, want %s", st.Status, session.StatusFailed)
	}
	if st.LastFailedStep != session.StepPrompting {
		t.Errorf("LastFailedStep = %q, want %q", st.LastFailedStep, session.StepPrompting)
	}
	if len(st.History) != 0 {
		t.Errorf("history has %d entries, want 0", len(st.History))
	}

	// Partial output travels with the fatal error event.
	var sawError, sawComplete bool
	for _, e := range events {
		switch e.Type {
		case event.TypeError:
			sawError = true
			if e.Data["output"] != "partial plan" {
				t.Errorf("error event output = %v, want %q", e.Data["output"], "partial plan")
			}
		case event.TypeComplete:
			sawComplete = true
		}
	}
	if !sawError || !sawComplete {
		t.Errorf("sawError=%v sawComplete=%v, want both", sawError, sawComplete)
	}
}

func TestRunImplementerFailureKeepsResumeMarker(t *testing.T) {
	inv := &fakeInvoker{responses: map[agent.Role][]agent.Result{
		agent.RoleImplementer: {{Output: "half done", Error: "timed out after 10m0s"}},
	}}
	eng := newTestEngine(inv, newMemStore())

	st, err := eng.Run(context.Background(), Request{Feature: "add a parser"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if st.Status != session.StatusFailed {
		t.Errorf("Status = %s, want %s", st.Status, session.StatusFailed)
	}
	if st.LastFailedStep != session.StepImplementing {
		t.Errorf("LastFailedStep = %q, want %q", st.LastFailedStep, session.StepImplementing)
	}
	if st.Iteration != 1 {
		t.Errorf("Iteration = %d, want 1", st.Iteration)
	}
	if got := historyRoles(st); len(got) != 1 || got[0] != "generator" {
		t.Errorf("history roles = %v, want [generator]", got)
	}
}

func TestResumeAtReviewingSkipsImplementer(t *testing.T) {
	prior := session.New("sess_resume_review", "add a parser", "", 5)
	prior.GeneratedPrompt = "the plan"
	prior.Append("test-agent", "generator", "the plan", 0)
	prior.Iteration = 1
	prior.Append("test-agent", "implementer", "first attempt", 1)
	prior.LastFailedStep = session.StepReviewing
	prior.Status = session.StatusFailed

	inv := &fakeInvoker{responses: map[agent.Role][]agent.Result{
		agent.RoleImplementer: {{Success: true, Output: "second attempt"}},
		agent.RoleReviewer: {
			{Success: true, Output: "Tighten the validation."},
			{Success: true, Output: "APPROVED"},
		},
	}}
	eng := newTestEngine(inv, newMemStore())

	st, err := eng.Run(context.Background(), Request{Resume: prior})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The interrupted review runs first; the already-completed implementation
	// is not repeated.
	wantCalls := []agent.Role{agent.RoleReviewer, agent.RoleImplementer, agent.RoleReviewer}
	gotCalls := inv.callRoles()
	if len(gotCalls) != len(wantCalls) {
		t.Fatalf("calls = %v, want %v", gotCalls, wantCalls)
	}
	for i := range wantCalls {
		if gotCalls[i] != wantCalls[i] {
			t.Errorf("calls[%d] = %s, want %s", i, gotCalls[i], wantCalls[i])
		}
	}

	if st.Status != session.StatusApproved {
		t.Errorf("Status = %s, want %s", st.Status, session.StatusApproved)
	}
	// The counter advances once after the resumed review, and the follow-up
	// implementation reuses it.
	if st.Iteration != 2 {
		t.Errorf("Iteration = %d, want 2", st.Iteration)
	}
	if len(st.History) != 5 {
		t.Fatalf("history has %d entries, want 5", len(st.History))
	}
	if st.History[2].Role != "reviewer" || st.History[2].Iteration != 1 {
		t.Errorf("history[2] = %s/%d, want reviewer/1", st.History[2].Role, st.History[2].Iteration)
	}
	if st.History[3].Role != "implementer" || st.History[3].Iteration != 2 {
		t.Errorf("history[3] = %s/%d, want implementer/2", st.History[3].Role, st.History[3].Iteration)
	}

	if !strings.Contains(inv.calls[1].Prompt, "Tighten the validation.") {
		t.Error("post-resume implementer prompt does not carry the review feedback")
	}
}

func TestResumeAtImplementingRetriesSameIteration(t *testing.T) {
	prior := session.New("sess_resume_impl", "add a parser", "", 5)
	prior.GeneratedPrompt = "the plan"
	prior.Append("test-agent", "generator", "the plan", 0)
	prior.Append("test-agent", "implementer", "first attempt", 1)
	prior.Append("test-agent", "reviewer", "Use a table-driven test.", 1)
	prior.Iteration = 2
	prior.LastFailedStep = session.StepImplementing
	prior.Status = session.StatusFailed

	inv := &fakeInvoker{responses: map[agent.Role][]agent.Result{
		agent.RoleImplementer: {{Success: true, Output: "second attempt"}},
		agent.RoleReviewer:    {{Success: true, Output: "APPROVED"}},
	}}
	eng := newTestEngine(inv, newMemStore())

	st, err := eng.Run(context.Background(), Request{Resume: prior})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantCalls := []agent.Role{agent.RoleImplementer, agent.RoleReviewer}
	gotCalls := inv.callRoles()
	if len(gotCalls) != len(wantCalls) {
		t.Fatalf("calls = %v, want %v", gotCalls, wantCalls)
	}

	if st.Status != session.StatusApproved {
		t.Errorf("Status = %s, want %s", st.Status, session.StatusApproved)
	}
	// The counter was already advanced before the interruption.
	if st.Iteration != 2 {
		t.Errorf("Iteration = %d, want 2", st.Iteration)
	}
	if !strings.Contains(inv.calls[0].Prompt, "Use a table-driven test.") {
		t.Error("resumed implementer prompt does not carry the stored feedback")
	}
	if len(st.History) != 5 {
		t.Errorf("history has %d entries, want 5", len(st.History))
	}
}

func TestResumeApprovedSessionRejected(t *testing.T) {
	prior := session.New("sess_done", "add a parser", "", 5)
	prior.Status = session.StatusApproved

	eng := newTestEngine(&fakeInvoker{}, newMemStore())
	if _, err := eng.Run(context.Background(), Request{Resume: prior}); err != ErrSessionComplete {
		t.Errorf("Run error = %v, want ErrSessionComplete", err)
	}
}

func TestInteractiveIterationExtension(t *testing.T) {
	inv := &fakeInvoker{responses: map[agent.Role][]agent.Result{
		agent.RoleReviewer: {
			{Success: true, Output: "Needs more tests."},
			{Success: true, Output: "APPROVED"},
		},
	}}
	eng := newTestEngine(inv, newMemStore())

	var questions []string
	st, err := eng.Run(context.Background(), Request{
		Feature: "add a parser",
		Options: Options{Interactive: true, MaxIterations: 1},
		Callbacks: Callbacks{AskQuestion: func(_ context.Context, text string) (bool, error) {
			questions = append(questions, text)
			return true, nil
		}},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if st.Status != session.StatusApproved {
		t.Errorf("Status = %s, want %s", st.Status, session.StatusApproved)
	}
	if st.MaxIterations != 1+extendBy {
		t.Errorf("MaxIterations = %d, want %d", st.MaxIterations, 1+extendBy)
	}
	if st.Iteration != 2 {
		t.Errorf("Iteration = %d, want 2", st.Iteration)
	}

	if len(questions) != 3 {
		t.Fatalf("asked %d questions, want 3: %v", len(questions), questions)
	}
	if !strings.Contains(questions[0], "Proceed with implementation") {
		t.Errorf("questions[0] = %q, want proceed gate", questions[0])
	}
	if !strings.Contains(questions[1], "Continue with more iterations") {
		t.Errorf("questions[1] = %q, want extension gate", questions[1])
	}
	if !strings.Contains(questions[2], "Continue with iteration 2") {
		t.Errorf("questions[2] = %q, want iteration gate", questions[2])
	}
}

func TestInteractiveDeclinedExtensionFails(t *testing.T) {
	inv := &fakeInvoker{responses: map[agent.Role][]agent.Result{
		agent.RoleReviewer: {{Success: true, Output: "Needs more tests."}},
	}}
	eng := newTestEngine(inv, newMemStore())

	st, err := eng.Run(context.Background(), Request{
		Feature: "add a parser",
		Options: Options{Interactive: true, MaxIterations: 1},
		Callbacks: Callbacks{AskQuestion: func(_ context.Context, text string) (bool, error) {
			// Decline only the extension question.
			return !strings.Contains(text, "Continue with more iterations"), nil
		}},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.Status != session.StatusFailed {
		t.Errorf("Status = %s, want %s", st.Status, session.StatusFailed)
	}
}

func TestRunEventSequence(t *testing.T) {
	inv := &fakeInvoker{responses: map[agent.Role][]agent.Result{
		agent.RoleReviewer: {{Success: true, Output: "APPROVED"}},
	}}
	var events []event.ServerEvent
	eng := newTestEngine(inv, newMemStore())

	st, err := eng.Run(context.Background(), Request{
		Feature: "add a parser",
		Callbacks: Callbacks{OnEvent: func(e event.ServerEvent) {
			events = append(events, e)
		}},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(events) == 0 {
		t.Fatal("no events emitted")
	}
	if events[0].Type != event.TypeSessionStarted {
		t.Errorf("first event = %s, want %s", events[0].Type, event.TypeSessionStarted)
	}
	last := events[len(events)-1]
	if last.Type != event.TypeComplete {
		t.Errorf("last event = %s, want %s", last.Type, event.TypeComplete)
	}
	if last.Data["status"] != string(session.StatusApproved) {
		t.Errorf("complete status = %v, want approved", last.Data["status"])
	}
	for _, e := range events {
		if e.SessionID != st.ID {
			t.Errorf("event %s has session %q, want %q", e.Type, e.SessionID, st.ID)
		}
	}
}

func TestRunEmptyFeature(t *testing.T) {
	eng := newTestEngine(&fakeInvoker{}, newMemStore())
	if _, err := eng.Run(context.Background(), Request{}); err == nil {
		t.Error("Run with empty feature succeeded, want error")
	}
}
