package panel

import (
	"net/http"

	"github.com/sigmoyd/flowcraft/internal/store"
	"github.com/sigmoyd/flowcraft/pkg/schema"
)

func (s *PanelServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSessionEvents lists the transition log of a session.
// Query: ?since=<sequence>
func (s *PanelServer) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.deps.Store.GetEvents(r.Context(), r.PathValue("id"), int64(queryInt(r, "since", 0)))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	if events == nil {
		events = []*store.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// handleSessionSummary replays a session's events into a summary.
func (s *PanelServer) handleSessionSummary(w http.ResponseWriter, r *http.Request) {
	replayer, ok := s.deps.Store.(SessionReplayer)
	if !ok {
		writeError(w, http.StatusNotImplemented, "store cannot replay sessions")
		return
	}
	summary, err := replayer.ReplaySession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *PanelServer) handleSyncStatus(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Sync == nil {
		writeError(w, http.StatusNotFound, "workflow sync is not running")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Sync.Status())
}

// handleSyncNow runs a sync immediately. A sync already in progress
// answers 409.
func (s *PanelServer) handleSyncNow(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sync == nil {
		writeError(w, http.StatusNotFound, "workflow sync is not running")
		return
	}
	res, err := s.deps.Sync.Sync(r.Context())
	if err != nil {
		if schema.IsCode(err, schema.ErrCodeBusy) {
			writeFlowError(w, err)
			return
		}
		writeFlowError(w, schema.NewError(schema.ErrCodeTransport, err.Error()).WithCause(err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}
