// Package session defines the orchestration session model and its file-backed
// store. Each session is one end-to-end run of the implement/review pipeline
// for a single feature request, persisted as one human-inspectable JSON
// document per session.
package session

import "time"

// Status represents the lifecycle state of a session.
type Status string

const (
	StatusPrompting       Status = "prompting"
	StatusImplementing    Status = "implementing"
	StatusReviewing       Status = "reviewing"
	StatusCommitting      Status = "committing"
	StatusApproved        Status = "approved"
	StatusFailed          Status = "failed"
	StatusWaitingForInput Status = "waiting_for_input"
)

// IsTerminal returns true if this status represents a final state.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusFailed
}

// Step identifies a pipeline step whose side effect has not yet been durably
// recorded. It is the exact-resume marker: a resumed session restarts at this
// step instead of replaying committed work.
type Step string

const (
	StepNone         Step = ""
	StepPrompting    Step = "prompting"
	StepImplementing Step = "implementing"
	StepReviewing    Step = "reviewing"
)

// AgentResponse is one append-only transcript entry, recorded after each
// completed agent step. Entries are never mutated or removed; append order
// defines the canonical transcript.
type AgentResponse struct {
	Agent     string    `json:"agent"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Iteration int       `json:"iteration"`
}

// State is the durable record of one orchestration session.
//
// Invariant: LastFailedStep is non-empty exactly while a step's side effect
// has not yet been durably recorded. Once Status is terminal the record is
// immutable, except for deliberate iteration extension during an interactive
// run.
type State struct {
	ID              string          `json:"id"`
	Feature         string          `json:"feature"`
	Iteration       int             `json:"iteration"`
	MaxIterations   int             `json:"maxIterations"`
	Status          Status          `json:"status"`
	History         []AgentResponse `json:"history"`
	WorkingDir      string          `json:"workingDir"`
	GeneratedPrompt string          `json:"generatedPrompt,omitempty"`
	LastFailedStep  Step            `json:"lastFailedStep,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// New creates a fresh session state for the given feature request.
func New(id, feature, workingDir string, maxIterations int) *State {
	return &State{
		ID:            id,
		Feature:       feature,
		MaxIterations: maxIterations,
		Status:        StatusPrompting,
		History:       []AgentResponse{},
		WorkingDir:    workingDir,
		CreatedAt:     time.Now(),
	}
}

// Append records a completed agent step in the transcript.
func (s *State) Append(agent, role, content string, iteration int) {
	s.History = append(s.History, AgentResponse{
		Agent:     agent,
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
		Iteration: iteration,
	})
}

// LastFeedback returns the content of the most recent reviewer entry in the
// transcript, or "" if no review has happened yet. Used when resuming an
// implementation step past iteration 1.
func (s *State) LastFeedback() string {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Role == "reviewer" {
			return s.History[i].Content
		}
	}
	return ""
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	cp := *s
	cp.History = make([]AgentResponse, len(s.History))
	copy(cp.History, s.History)
	return &cp
}
