// Package engine implements the orchestration state machine that drives one
// feature request through prompt generation, implementation, review, and
// accept/retry until it is approved or fails. The engine persists the session
// after every state transition and supports exact resume: an interrupted
// session restarts at the step that was in flight, without repeating
// committed side effects.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/saribmah/orchestrator/internal/agent"
	"github.com/saribmah/orchestrator/internal/event"
	"github.com/saribmah/orchestrator/internal/logging"
	"github.com/saribmah/orchestrator/internal/session"
)

// Defaults applied when the caller leaves the corresponding field zero.
const (
	defaultMaxIterations      = 5
	defaultGeneratorTimeout   = 10 * time.Minute
	defaultImplementerTimeout = 10 * time.Minute
	defaultReviewerTimeout    = 5 * time.Minute
	defaultAgentName          = "agent"

	// extendBy is how many extra iterations an interactive user buys when
	// continuing past the iteration limit.
	extendBy = 3
)

// ErrSessionComplete is returned when asked to resume a session that already
// reached approval.
var ErrSessionComplete = errors.New("session already approved")

// Options configures one session run.
type Options struct {
	Interactive   bool   `json:"interactive"`
	MaxIterations int    `json:"maxIterations,omitempty"`
	WorkingDir    string `json:"workingDir,omitempty"`
}

// Callbacks are the engine's channels back to its caller. OnEvent is an
// optional tap on every emitted event (the event bus receives them
// regardless). AskQuestion suspends the pipeline until it resolves; it is the
// single suspension point of a run, so implementations never see two
// concurrent questions for one session.
type Callbacks struct {
	OnEvent     func(event.ServerEvent)
	AskQuestion func(ctx context.Context, text string) (bool, error)
}

// Request describes one engine run: a fresh feature request, or a resumed
// session carried in Resume.
type Request struct {
	Feature   string
	Options   Options
	Callbacks Callbacks
	Resume    *session.State
	SessionID string
}

// Config holds engine-wide settings.
type Config struct {
	GeneratorTimeout   time.Duration
	ImplementerTimeout time.Duration
	ReviewerTimeout    time.Duration
	// AgentName is the label recorded in transcript entries.
	AgentName string
}

// Engine drives orchestration sessions. One Engine serves many concurrent
// runs; per-run state lives on the run struct.
type Engine struct {
	invoker agent.Invoker
	store   session.Store
	bus     *event.Bus
	log     *logging.Logger
	cfg     Config
}

// New creates an Engine. Zero config fields fall back to defaults.
func New(invoker agent.Invoker, store session.Store, bus *event.Bus, log *logging.Logger, cfg Config) *Engine {
	if cfg.GeneratorTimeout <= 0 {
		cfg.GeneratorTimeout = defaultGeneratorTimeout
	}
	if cfg.ImplementerTimeout <= 0 {
		cfg.ImplementerTimeout = defaultImplementerTimeout
	}
	if cfg.ReviewerTimeout <= 0 {
		cfg.ReviewerTimeout = defaultReviewerTimeout
	}
	if cfg.AgentName == "" {
		cfg.AgentName = defaultAgentName
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Engine{invoker: invoker, store: store, bus: bus, log: log, cfg: cfg}
}

// errHalted signals that a step already recorded a terminal state; the
// pipeline unwinds without further transitions.
var errHalted = errors.New("pipeline halted")

// run is the per-session working state of one engine run.
type run struct {
	engine *Engine
	st     *session.State
	opts   Options
	cb     Callbacks
	log    *logging.Logger

	// skipImplement is set when resuming a session that crashed mid-review:
	// the implementer's side effects already happened, so the run goes
	// straight to reviewing the same iteration. Cleared permanently after
	// that review's compensating iteration increment.
	skipImplement bool

	// redoImplement is set when resuming a session that crashed mid-
	// implementation: the iteration counter was already advanced before the
	// crash, so the first loop pass must not advance it again.
	redoImplement bool
}

// Run drives one session to a terminal state (approved or failed) and
// returns the final persisted state. Infrastructure misuse (empty feature,
// resuming an approved session) returns an error instead.
func (e *Engine) Run(ctx context.Context, req Request) (*session.State, error) {
	if req.Callbacks.AskQuestion == nil {
		// Nobody can answer, so the run is effectively non-interactive.
		req.Options.Interactive = false
	}

	var st *session.State
	resuming := req.Resume != nil
	if resuming {
		if req.Resume.Status == session.StatusApproved {
			return nil, ErrSessionComplete
		}
		st = req.Resume.Clone()
	} else {
		if req.Feature == "" {
			return nil, errors.New("feature must not be empty")
		}
		id := req.SessionID
		if id == "" {
			id = session.NewID()
		}
		maxIter := req.Options.MaxIterations
		if maxIter <= 0 {
			maxIter = defaultMaxIterations
		}
		st = session.New(id, req.Feature, req.Options.WorkingDir, maxIter)
	}

	r := &run{
		engine:        e,
		st:            st,
		opts:          req.Options,
		cb:            req.Callbacks,
		log:           e.log.WithSession(st.ID),
		skipImplement: resuming && st.LastFailedStep == session.StepReviewing,
		redoImplement: resuming && st.LastFailedStep == session.StepImplementing,
	}

	r.log.Info("session run starting",
		"feature", st.Feature,
		"resumed", resuming,
		"last_failed_step", string(st.LastFailedStep),
		"iteration", st.Iteration)
	r.emit(event.TypeSessionStarted, map[string]any{
		"feature": st.Feature,
		"resumed": resuming,
	})

	return r.execute(ctx, resuming)
}

func (r *run) execute(ctx context.Context, resuming bool) (*session.State, error) {
	st := r.st

	// Prompting. Runs once per session; a cached prompt is the resume
	// fast-path.
	if st.GeneratedPrompt == "" {
		if err := r.generatePrompt(ctx); err != nil {
			return st, nil
		}
		if r.opts.Interactive {
			ok, err := r.ask(ctx, "The generated prompt is ready. Proceed with implementation?")
			if err != nil {
				return r.fail(fmt.Sprintf("question aborted: %v", err), ""), nil
			}
			if !ok {
				return r.fail("declined after prompt generation", ""), nil
			}
		}
	}

	// Feedback from the most recent review, if the session already has one.
	feedback := ""
	if resuming {
		feedback = st.LastFeedback()
	}

	for {
		if !r.skipImplement {
			if r.redoImplement {
				// The counter was advanced before the interrupted attempt.
				r.redoImplement = false
			} else {
				st.Iteration++
			}
			if err := r.implement(ctx, feedback); err != nil {
				return st, nil
			}
		}

		output, err := r.review(ctx)
		if err != nil {
			return st, nil
		}

		if r.skipImplement {
			// Compensating increment for the implementation step that was
			// skipped on resume. It stands in for the next attempt's usual
			// pre-increment, so if this review rejects, the follow-up
			// implementation reuses the already advanced counter.
			st.Iteration++
			r.skipImplement = false
			r.redoImplement = true
			r.persist()
		}

		if Approved(output) {
			st.Status = session.StatusApproved
			r.persist()
			r.log.Info("session approved", "iterations", st.Iteration)
			r.emit(event.TypeComplete, map[string]any{
				"status":     string(session.StatusApproved),
				"iterations": st.Iteration,
			})
			return st, nil
		}

		feedback = ExtractFeedback(output)
		r.log.Info("review requested changes", "iteration", st.Iteration)
		r.emit(event.TypeLog, map[string]any{
			"message":  "review requested changes",
			"feedback": feedback,
		})

		if st.Iteration >= st.MaxIterations {
			if r.opts.Interactive {
				ok, err := r.ask(ctx, fmt.Sprintf(
					"Reached the limit of %d iterations without approval. Continue with more iterations?",
					st.MaxIterations))
				if err != nil {
					return r.fail(fmt.Sprintf("question aborted: %v", err), ""), nil
				}
				if ok {
					st.MaxIterations += extendBy
					st.LastFailedStep = session.StepNone
					r.persist()
					r.log.Info("iteration limit extended", "max_iterations", st.MaxIterations)
					r.emit(event.TypeLog, map[string]any{
						"message":       "iteration limit extended",
						"maxIterations": st.MaxIterations,
					})
					continue
				}
			}
			return r.fail(fmt.Sprintf("not approved after %d iterations", st.Iteration), ""), nil
		}
	}
}

// generatePrompt runs the generator agent and caches its output on the
// session.
func (r *run) generatePrompt(ctx context.Context) error {
	st := r.st
	r.setStatus(session.StatusPrompting)
	st.LastFailedStep = session.StepPrompting
	r.persist()

	r.emit(event.TypeAgentStart, map[string]any{"role": string(agent.RoleGenerator)})
	res := r.invoke(ctx, agent.RoleGenerator, GeneratorPrompt(st.Feature), r.engine.cfg.GeneratorTimeout)
	if !res.Success {
		r.fail(fmt.Sprintf("prompt generation failed: %s", res.Error), res.Output)
		return errHalted
	}

	st.GeneratedPrompt = res.Output
	st.Append(r.engine.cfg.AgentName, string(agent.RoleGenerator), res.Output, 0)
	st.LastFailedStep = session.StepNone
	r.persist()
	r.emit(event.TypeAgentComplete, map[string]any{"role": string(agent.RoleGenerator)})
	return nil
}

// implement runs the implementer agent for the current iteration.
// Iteration 1 (or a run with no feedback yet) uses the generated prompt
// verbatim; later iterations fold in the previous review's feedback.
func (r *run) implement(ctx context.Context, feedback string) error {
	st := r.st

	if r.opts.Interactive && st.Iteration > 1 {
		ok, err := r.ask(ctx, fmt.Sprintf("Continue with iteration %d?", st.Iteration))
		if err != nil {
			r.fail(fmt.Sprintf("question aborted: %v", err), "")
			return errHalted
		}
		if !ok {
			r.fail(fmt.Sprintf("declined before iteration %d", st.Iteration), "")
			return errHalted
		}
	}

	prompt := st.GeneratedPrompt
	if st.Iteration > 1 && feedback != "" {
		prompt = FeedbackPrompt(st.GeneratedPrompt, feedback, st.Iteration)
	}

	r.setStatus(session.StatusImplementing)
	r.emit(event.TypeIteration, map[string]any{
		"iteration":     st.Iteration,
		"maxIterations": st.MaxIterations,
	})
	st.LastFailedStep = session.StepImplementing
	r.persist()

	r.emit(event.TypeAgentStart, map[string]any{
		"role":      string(agent.RoleImplementer),
		"iteration": st.Iteration,
	})
	res := r.invoke(ctx, agent.RoleImplementer, prompt, r.engine.cfg.ImplementerTimeout)
	if !res.Success {
		r.fail(fmt.Sprintf("implementation failed: %s", res.Error), res.Output)
		return errHalted
	}

	st.Append(r.engine.cfg.AgentName, string(agent.RoleImplementer), res.Output, st.Iteration)
	st.LastFailedStep = session.StepNone
	r.persist()
	r.emit(event.TypeAgentComplete, map[string]any{
		"role":      string(agent.RoleImplementer),
		"iteration": st.Iteration,
	})
	return nil
}

// review runs the reviewer agent and returns its raw output.
func (r *run) review(ctx context.Context) (string, error) {
	st := r.st
	r.setStatus(session.StatusReviewing)
	st.LastFailedStep = session.StepReviewing
	r.persist()

	r.emit(event.TypeAgentStart, map[string]any{
		"role":      string(agent.RoleReviewer),
		"iteration": st.Iteration,
	})
	res := r.invoke(ctx, agent.RoleReviewer, ReviewPrompt(st.Feature), r.engine.cfg.ReviewerTimeout)
	if !res.Success {
		r.fail(fmt.Sprintf("review failed: %s", res.Error), res.Output)
		return "", errHalted
	}

	st.Append(r.engine.cfg.AgentName, string(agent.RoleReviewer), res.Output, st.Iteration)
	st.LastFailedStep = session.StepNone
	r.persist()
	r.emit(event.TypeAgentComplete, map[string]any{
		"role":      string(agent.RoleReviewer),
		"iteration": st.Iteration,
	})
	return res.Output, nil
}

// invoke calls the agent invoker with the session working directory and the
// role's timeout.
func (r *run) invoke(ctx context.Context, role agent.Role, prompt string, timeout time.Duration) agent.Result {
	r.log.Debug("invoking agent", "role", string(role), "timeout", timeout.String())
	res := r.engine.invoker.Invoke(ctx, agent.Request{
		Role:       role,
		Prompt:     prompt,
		WorkingDir: r.st.WorkingDir,
		Timeout:    timeout,
	})
	if !res.Success {
		r.log.Warn("agent invocation failed", "role", string(role), "error", res.Error)
	}
	return res
}

// ask suspends the run on the interactive question gate.
func (r *run) ask(ctx context.Context, text string) (bool, error) {
	st := r.st
	prev := st.Status
	st.Status = session.StatusWaitingForInput
	r.persist()
	r.emit(event.TypeQuestion, map[string]any{"text": text})

	answer, err := r.cb.AskQuestion(ctx, text)
	st.Status = prev
	return answer, err
}

// fail records the terminal failed state and emits the fatal error followed
// by the completion event, so observers never see a bare disconnect as the
// only failure signal.
func (r *run) fail(reason, output string) *session.State {
	st := r.st
	st.Status = session.StatusFailed
	r.persist()

	r.log.Error("session failed", "reason", reason, "iteration", st.Iteration)
	data := map[string]any{"message": reason, "fatal": true}
	if output != "" {
		data["output"] = output
	}
	r.emit(event.TypeError, data)
	r.emit(event.TypeComplete, map[string]any{
		"status":     string(session.StatusFailed),
		"iterations": st.Iteration,
	})
	return st
}

func (r *run) setStatus(s session.Status) {
	r.st.Status = s
	r.emit(event.TypeStatus, map[string]any{"status": string(s)})
}

// persist writes the session through to the store. A write failure is logged
// and does not abort the pipeline, but it degrades resume fidelity, so it is
// surfaced at error level.
func (r *run) persist() {
	if err := r.engine.store.Save(r.st); err != nil {
		r.log.Error("failed to persist session state", "error", err)
	}
}

// emit is the engine's only external output channel besides the terminal
// return value and store writes.
func (r *run) emit(t event.Type, data map[string]any) {
	e := event.New(t, r.st.ID, data)
	if r.engine.bus != nil {
		r.engine.bus.Publish(e)
	}
	if r.cb.OnEvent != nil {
		r.cb.OnEvent(e)
	}
}
