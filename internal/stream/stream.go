// Package stream serves bus events to HTTP clients over Server-Sent Events.
// Every connection gets a synthetic connected event, the session's replay
// buffer, then live events, with periodic pings to keep intermediaries from
// closing an idle stream.
package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/saribmah/orchestrator/internal/event"
	"github.com/saribmah/orchestrator/internal/logging"
)

const (
	defaultPingInterval = 15 * time.Second

	// sendBuffer absorbs bursts between bus delivery and the client write.
	// A client too slow to drain it loses events rather than stalling the
	// publisher.
	sendBuffer = 256
)

// Streamer serves SSE connections backed by the event bus.
type Streamer struct {
	bus          *event.Bus
	log          *logging.Logger
	pingInterval time.Duration
	live         atomic.Int64
}

// New creates a Streamer with the default ping interval.
func New(bus *event.Bus, log *logging.Logger) *Streamer {
	if log == nil {
		log = logging.Discard()
	}
	return &Streamer{bus: bus, log: log, pingInterval: defaultPingInterval}
}

// Live returns the number of currently connected streams.
func (s *Streamer) Live() int64 {
	return s.live.Load()
}

// ServeSession streams one session's events until the client disconnects.
func (s *Streamer) ServeSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	s.serve(w, r, sessionID)
}

// ServeQueue streams queue-level events.
func (s *Streamer) ServeQueue(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, event.QueueSessionID)
}

func (s *Streamer) serve(w http.ResponseWriter, r *http.Request, key string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	s.live.Add(1)
	defer s.live.Add(-1)

	log := s.log.With("stream_key", key)
	log.Debug("stream connected", "live", s.live.Load())
	defer log.Debug("stream disconnected")

	if !s.write(w, flusher, event.New(event.TypeConnected, key, nil)) {
		return
	}

	ch := make(chan event.ServerEvent, sendBuffer)
	unsubscribe := s.bus.Subscribe(key, func(e event.ServerEvent) {
		select {
		case ch <- e:
		default:
			log.Warn("dropping event for slow stream consumer", "type", string(e.Type))
		}
	}, true)
	defer unsubscribe()

	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-ch:
			if !s.write(w, flusher, e) {
				return
			}
		case <-ticker.C:
			// Pings are connection liveness, not session history; they are
			// written directly and never pass through the bus buffer.
			if !s.write(w, flusher, event.New(event.TypePing, key, nil)) {
				return
			}
		}
	}
}

// write sends one event in SSE framing. A marshal failure skips the event; a
// write failure ends the connection.
func (s *Streamer) write(w http.ResponseWriter, flusher http.Flusher, e event.ServerEvent) bool {
	data, err := json.Marshal(e)
	if err != nil {
		s.log.Error("failed to marshal event", "type", string(e.Type), "error", err)
		return true
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return false
	}
	flusher.Flush()
	return true
}
