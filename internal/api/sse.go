// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// sseHeartbeat keeps idle connections alive through proxies that cut
// silent streams.
const sseHeartbeat = 15 * time.Second

// handleJobStream pushes job snapshots as server-sent events until the
// job reaches a terminal status or the client disconnects. Slow readers
// may miss intermediate snapshots; the terminal one always arrives
// because the store closes the channel only after delivering it.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErr(w, r, http.StatusInternalServerError, codeInternal, "streaming unsupported")
		return
	}

	store := s.deps.Engine.Store()
	ch, stop, err := store.Subscribe(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer stop()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Emit the current state up front so the client is not left waiting
	// for the next transition. Terminal jobs skip this: their snapshot
	// is already queued on the subscription channel.
	if job, err := store.Get(r.Context(), id); err == nil && !job.Status.IsTerminal() {
		writeSSE(w, flusher, job)
	}

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case job, open := <-ch:
			if !open {
				return
			}
			writeSSE(w, flusher, job)
		}
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}
