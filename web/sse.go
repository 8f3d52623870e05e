package web

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/jyothri/detach/notification"
)

const keepAliveInterval = 15 * time.Second

func (s *Server) sse(r *mux.Router) {
	sse := r.PathPrefix("/sse").Subrouter()
	sse.HandleFunc("/events", s.sseHandler)
}

// sseHandler streams progress for ?job=<id>, or for every run when job is
// absent. A job stream ends after the job's final event.
func (s *Server) sseHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	key := r.URL.Query().Get("job")
	if key == "" {
		key = notification.All
	}
	lastEventId := r.Header.Get("Last-Event-Id")

	events, cancel := s.opts.Hub.Subscribe(key)
	defer cancel()

	rc := http.NewResponseController(w)
	clientGone := r.Context().Done()
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	slog.Info("Client connected.", "job", key, "last_event_id", lastEventId)
	start := time.Now()
	flush := func() {
		rc.SetWriteDeadline(time.Time{})
		rc.Flush()
	}
	flush()
	if key != notification.All {
		if p, ok := s.opts.Hub.Finished(key); ok {
			writeProgress(w, key, p)
			flush()
			slog.Info("Job already finished.", "job", key)
			return
		}
	}
	for {
		select {
		case <-clientGone:
			slog.Info("Client disconnected.", "job", key, "duration", time.Since(start))
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				slog.Warn("Unable to write keep-alive.", "job", key, "error", err)
				return
			}
			flush()
		case p, ok := <-events:
			if !ok {
				return
			}
			if !writeProgress(w, key, p) {
				return
			}
			if p.Done && key != notification.All {
				flush()
				slog.Info("Closing stream to client.", "job", key)
				return
			}
			flush()
		}
	}
}

// writeProgress sends p, followed by a close event when p ends the job
// being followed. It reports whether the stream is still writable.
func writeProgress(w http.ResponseWriter, key string, p notification.Progress) bool {
	data, err := json.Marshal(p)
	if err != nil {
		slog.Error("Failed to marshal progress", "error", err)
		return true
	}
	timestamp := strconv.FormatInt(p.Time.UnixMilli(), 10)
	if _, err := fmt.Fprintf(w, "event:progress\nretry: 10000\nid:%s\ndata:%s\n\n", timestamp, data); err != nil {
		slog.Warn("Unable to write.", "job", key, "error", err)
		return false
	}
	if p.Done && key != notification.All {
		fmt.Fprintf(w, "event:close\nid:%s\ndata:%s\n\n", timestamp, p.RunId)
	}
	return true
}
