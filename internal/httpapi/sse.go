package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/MimeLyc/live-caption-translator/internal/overlay"
)

const patchStreamHeartbeat = 15 * time.Second

// handlePagePatches streams the page's patch ops as server-sent events. The
// stream lives until the client goes away, the page is detached (its feed
// channel closes) or the server shuts down.
func (s *Server) handlePagePatches(w http.ResponseWriter, r *http.Request, pageID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	page, ok := s.manager.Get(pageID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown page")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	subID, ops := page.Feed.Subscribe()
	defer page.Feed.Unsubscribe(subID)

	send := func(op overlay.PatchOp) bool {
		payload, err := json.Marshal(op)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	// Comment line pushes the headers out so the shim sees the stream open.
	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(patchStreamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		case op, open := <-ops:
			if !open {
				return
			}
			if !send(op) {
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
