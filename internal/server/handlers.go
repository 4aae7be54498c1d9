package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/saribmah/orchestrator/internal/engine"
	"github.com/saribmah/orchestrator/internal/registry"
	"github.com/saribmah/orchestrator/internal/session"
)

type startSessionRequest struct {
	Feature       string `json:"feature"`
	WorkingDir    string `json:"workingDir"`
	Interactive   bool   `json:"interactive"`
	MaxIterations int    `json:"maxIterations"`
}

// sessionSummary is the list view of a session.
type sessionSummary struct {
	ID        string         `json:"id"`
	Feature   string         `json:"feature"`
	Status    session.Status `json:"status"`
	Iteration int            `json:"iteration"`
	CreatedAt string         `json:"createdAt"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Feature == "" {
		writeError(w, http.StatusBadRequest, "feature must not be empty")
		return
	}

	id := session.NewID()
	err := s.launch(id, engine.Request{
		Feature: req.Feature,
		Options: engine.Options{
			Interactive:   req.Interactive,
			MaxIterations: req.MaxIterations,
			WorkingDir:    req.WorkingDir,
		},
	})
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"sessionId": id})
}

func (s *Server) handleResumeSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	state, err := s.deps.Store.Load(id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if state.Status == session.StatusApproved {
		writeError(w, http.StatusConflict, "session already approved")
		return
	}

	interactive := r.URL.Query().Get("interactive") == "true"
	err = s.launch(id, engine.Request{
		Resume:  state,
		Options: engine.Options{Interactive: interactive, WorkingDir: state.WorkingDir},
	})
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"sessionId": id})
}

// launch starts an engine run in the background, registered for cancellation
// and question routing.
func (s *Server) launch(id string, req engine.Request) error {
	ctx, cancel := context.WithCancel(s.baseCtx)
	if err := s.deps.Registry.Register(id, cancel); err != nil {
		cancel()
		return err
	}

	req.SessionID = id
	req.Callbacks.AskQuestion = func(ctx context.Context, text string) (bool, error) {
		return s.deps.Registry.Ask(ctx, id, text)
	}

	go func() {
		defer cancel()
		defer s.deps.Registry.Unregister(id)
		if _, err := s.deps.Engine.Run(ctx, req); err != nil {
			s.deps.Log.Error("engine run failed", "session_id", id, "error", err)
		}
	}()
	return nil
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	var body struct {
		Answer bool `json:"answer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch err := s.deps.Registry.Respond(id, body.Answer); {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"accepted": true})
	case errors.Is(err, registry.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session is not running")
	case errors.Is(err, registry.ErrNoPendingQuestion):
		writeError(w, http.StatusConflict, "no pending question")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := s.deps.Registry.Cancel(id); err != nil {
		writeError(w, http.StatusNotFound, "session is not running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.deps.Store.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	summaries := make([]sessionSummary, 0, len(ids))
	for _, id := range ids {
		state, err := s.deps.Store.Load(id)
		if err != nil {
			s.deps.Log.Warn("skipping unreadable session", "session_id", id, "error", err)
			continue
		}
		summaries = append(summaries, sessionSummary{
			ID:        state.ID,
			Feature:   state.Feature,
			Status:    state.Status,
			Iteration: state.Iteration,
			CreatedAt: state.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": summaries})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	state, err := s.deps.Store.Load(id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	s.deps.Streamer.ServeSession(w, r, chi.URLParam(r, "sessionID"))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"activeSessions": len(s.deps.Registry.Active()),
		"liveStreams":    s.deps.Streamer.Live(),
		"queue":          s.deps.Queue.Counts(),
	})
}
