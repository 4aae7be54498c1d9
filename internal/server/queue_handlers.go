package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/saribmah/orchestrator/internal/queue"
)

func (s *Server) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	state := s.deps.Queue.GetState()
	writeJSON(w, http.StatusOK, map[string]any{
		"items":         state.Items,
		"isProcessing":  state.IsProcessing,
		"currentItemId": state.CurrentItemID,
		"counts":        s.deps.Queue.Counts(),
	})
}

func (s *Server) handleAddQueueItem(w http.ResponseWriter, r *http.Request) {
	var req queue.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := s.deps.Queue.Add(req)
	if err != nil {
		writeAddError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, item)
}

func (s *Server) handleAddQueueItemsBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Items []queue.Request `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(body.Items) == 0 {
		writeError(w, http.StatusBadRequest, "items must not be empty")
		return
	}

	added, err := s.deps.Queue.AddMany(body.Items)
	if err != nil {
		writeAddError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"items": added})
}

func writeAddError(w http.ResponseWriter, err error) {
	if errors.Is(err, queue.ErrEmptyFeature) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) handleRemoveQueueItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "itemID")
	switch err := s.deps.Queue.Remove(id); {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"removed": true})
	case errors.Is(err, queue.ErrItemNotFound):
		writeError(w, http.StatusNotFound, "queue item not found")
	case errors.Is(err, queue.ErrNotPending):
		writeError(w, http.StatusConflict, "queue item is not pending")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	removed, err := s.deps.Queue.ClearPending()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) handleQueueEvents(w http.ResponseWriter, r *http.Request) {
	s.deps.Streamer.ServeQueue(w, r)
}
