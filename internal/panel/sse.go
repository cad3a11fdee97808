package panel

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/sigmoyd/flowcraft/internal/streaming"
)

// handleSSEGlobal streams all events to the client via Server-Sent Events.
func (s *PanelServer) handleSSEGlobal(w http.ResponseWriter, r *http.Request) {
	s.serveSSE(w, r, filterFromQuery(r, ""))
}

// handleSSEWorkflow streams events for a specific workflow.
func (s *PanelServer) handleSSEWorkflow(w http.ResponseWriter, r *http.Request) {
	s.serveSSE(w, r, filterFromQuery(r, r.PathValue("id")))
}

// filterFromQuery reads ?status=a,b and ?kind=a,b.
func filterFromQuery(r *http.Request, workflowID string) streaming.EventFilter {
	q := r.URL.Query()
	return streaming.EventFilter{
		WorkflowID: workflowID,
		NodeID:     q.Get("node"),
		Kinds:      splitList(q.Get("kind")),
		Statuses:   splitList(q.Get("status")),
	}
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// serveSSE is the common SSE implementation.
func (s *PanelServer) serveSSE(w http.ResponseWriter, r *http.Request, filter streaming.EventFilter) {
	if s.deps.Hub == nil {
		writeError(w, http.StatusServiceUnavailable, "live streaming is not enabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch, cancel, err := s.deps.Hub.Subscribe(r.Context(), filter)
	if err != nil {
		s.deps.Logger.Error("SSE subscribe failed", "error", err)
		http.Error(w, "subscribe failed", http.StatusInternalServerError)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind, data)
			flusher.Flush()
		}
	}
}
