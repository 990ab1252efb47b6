package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"stars/internal/log"
	"stars/internal/metrics"
	"stars/internal/store"
)

const keepAliveInterval = 30 * time.Second

// handleEvents streams the family's committed changes as Server-Sent Events
// until the client goes away or the store closes. Clients re-read state
// after reconnecting or on a resync event; missed changes are not replayed.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "streaming not supported"})
		return
	}

	familyID := chi.URLParam(r, "familyID")
	filter := store.Filter{FamilyID: familyID, ChildID: r.URL.Query().Get("child_id")}
	for _, e := range r.URL.Query()["entity"] {
		filter.Entities = append(filter.Entities, store.Entity(e))
	}

	ctx := r.Context()
	changes, err := s.engine.Store.Subscribe(ctx, filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	metrics.EventStreams.Inc()
	defer metrics.EventStreams.Dec()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	log.FromContext(ctx).DebugContext(ctx, "Event stream opened", log.FieldFamilyID, familyID)

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case c, ok := <-changes:
			if !ok {
				return
			}
			data, err := json.Marshal(c)
			if err != nil {
				log.FromContext(ctx).ErrorContext(ctx, "Failed to encode change", log.FieldError, err)
				continue
			}
			event := string(c.Entity)
			if c.Op == store.OpResync {
				event = string(store.OpResync)
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
			flusher.Flush()
		}
	}
}
