// Package server exposes the orchestrator over HTTP: session lifecycle,
// queue management, and SSE event streams.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/saribmah/orchestrator/internal/engine"
	"github.com/saribmah/orchestrator/internal/event"
	"github.com/saribmah/orchestrator/internal/logging"
	"github.com/saribmah/orchestrator/internal/queue"
	"github.com/saribmah/orchestrator/internal/registry"
	"github.com/saribmah/orchestrator/internal/session"
	"github.com/saribmah/orchestrator/internal/stream"
)

// Deps are the wired components the server fronts.
type Deps struct {
	Engine   *engine.Engine
	Store    session.Store
	Bus      *event.Bus
	Queue    *queue.Queue
	Registry *registry.Registry
	Streamer *stream.Streamer
	Log      *logging.Logger
}

// Server is the HTTP front of the orchestrator.
type Server struct {
	deps Deps
	http *http.Server

	// baseCtx parents every engine run started through the API, so shutdown
	// can cancel in-flight sessions.
	baseCtx context.Context
	cancel  context.CancelFunc
}

// New creates a Server listening on addr once started.
func New(addr string, deps Deps) *Server {
	if deps.Log == nil {
		deps.Log = logging.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{deps: deps, baseCtx: ctx, cancel: cancel}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	s.deps.Log.Info("http server listening", "addr", s.http.Addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown cancels in-flight engine runs and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	return s.http.Shutdown(ctx)
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID, s.logRequests, s.recoverPanics)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.handleListSessions)
			r.Post("/", s.handleStartSession)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Get("/events", s.handleSessionEvents)
				r.Post("/resume", s.handleResumeSession)
				r.Post("/respond", s.handleRespond)
				r.Post("/cancel", s.handleCancelSession)
			})
		})
		r.Route("/queue", func(r chi.Router) {
			r.Get("/", s.handleGetQueue)
			r.Get("/events", s.handleQueueEvents)
			r.Post("/items", s.handleAddQueueItem)
			r.Post("/items/batch", s.handleAddQueueItemsBatch)
			r.Delete("/items/{itemID}", s.handleRemoveQueueItem)
			r.Delete("/pending", s.handleClearQueue)
		})
	})

	return r
}
