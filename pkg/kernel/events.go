package kernel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/manthysbr/aule-agent/internal/core/domain"
)

const (
	keepAliveInterval = 15 * time.Second
	wsWriteTimeout    = 10 * time.Second
)

// jobFeed subscribes to live events for a job and replays the stored log
// first, so a late subscriber still sees the whole run. The returned
// channel is closed once the job reaches a terminal status.
func (s *Server) jobFeed(ctx context.Context, id domain.JobID) (<-chan domain.JobEvent, error) {
	live, unsub := s.bus.Subscribe(id)

	job, err := s.agent.GetJob(ctx, id)
	if err != nil {
		unsub()
		return nil, err
	}
	history, err := s.agent.ListJobEvents(ctx, id)
	if err != nil {
		unsub()
		return nil, err
	}

	out := make(chan domain.JobEvent, 16)
	go func() {
		defer close(out)
		defer unsub()

		seen := make(map[string]struct{}, len(history))
		for _, e := range history {
			seen[e.ID] = struct{}{}
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
		if job.Status.IsTerminal() {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-live:
				if !ok {
					return
				}
				if _, dup := seen[e.ID]; dup {
					continue
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
				if endsRun(e) {
					return
				}
			}
		}
	}()
	return out, nil
}

// endsRun reports whether e is the last event of a run. Succeeded and
// failed runs log a final event after their status write; a cancellation
// only shows up as a status change.
func endsRun(e domain.JobEvent) bool {
	switch e.Type {
	case domain.EventCompleted, domain.EventFailed:
		return true
	case domain.EventStatus:
		var payload struct {
			Status domain.JobStatus `json:"status"`
		}
		if err := json.Unmarshal(e.Data, &payload); err != nil {
			return false
		}
		return payload.Status == domain.JobStatusCancelled
	}
	return false
}

// handleJobSSE streams a job's events as server-sent events.
// GET /v1/jobs/{id}/stream
func (s *Server) handleJobSSE(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	feed, err := s.jobFeed(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "event: connected\ndata: %s\n\n", id)
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case evt, ok := <-feed:
			if !ok {
				fmt.Fprintf(w, "event: end\ndata: %s\n\n", id)
				flusher.Flush()
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				s.logger.Warn("failed to encode event", "job_id", id, "error", err)
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", evt.ID, evt.Type, payload)
			flusher.Flush()
		}
	}
}

// originChecker accepts requests without an Origin header (non-browser
// clients), same-host origins and the listed ones.
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(strings.ToLower(o), "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := set[strings.ToLower(origin)]; ok {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}

// handleJobWebSocket streams a job's events as JSON websocket messages.
// GET /v1/jobs/{id}/ws
func (s *Server) handleJobWebSocket(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	feed, err := s.jobFeed(ctx, id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "job_id", id, "error", err)
		return
	}
	defer conn.Close()

	// drain client frames so close messages are noticed
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-feed:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		}
	}
}
