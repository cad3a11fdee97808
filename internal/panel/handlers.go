package panel

import (
	"net/http"

	"github.com/sigmoyd/flowcraft/internal/diagram"
	"github.com/sigmoyd/flowcraft/internal/store"
	"github.com/sigmoyd/flowcraft/pkg/schema"
)

// handleWorkflows lists cached workflows.
// Query: ?active=true&name=digest&limit=50
func (s *PanelServer) handleWorkflows(w http.ResponseWriter, r *http.Request) {
	wfs, err := s.deps.Store.ListWorkflows(r.Context(), store.WorkflowFilter{
		Active: queryBool(r, "active"),
		Name:   r.URL.Query().Get("name"),
		Limit:  queryInt(r, "limit", 100),
	})
	if err != nil {
		writeFlowError(w, err)
		return
	}
	if wfs == nil {
		wfs = []*store.StoredWorkflow{}
	}
	writeJSON(w, http.StatusOK, wfs)
}

// handleWorkflow returns one cached workflow.
func (s *PanelServer) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.deps.Store.GetWorkflow(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// handleGraph returns the diagram model with execution status overlaid.
func (s *PanelServer) handleGraph(w http.ResponseWriter, r *http.Request) {
	model, err := s.model(r)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model)
}

// handleDiagram renders the workflow. Query: ?format=mermaid|ascii|png
func (s *PanelServer) handleDiagram(w http.ResponseWriter, r *http.Request) {
	model, err := s.model(r)
	if err != nil {
		writeFlowError(w, err)
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "mermaid":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(diagram.RenderMermaid(model)))
	case "ascii":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(diagram.RenderASCII(model)))
	case "png":
		img, err := diagram.RenderImage(r.Context(), model)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(img)
	default:
		writeError(w, http.StatusBadRequest, "unknown format "+format)
	}
}

// handleTraces lists execution traces of a workflow.
// Query: ?node=3&status=failed&since=10&limit=100
func (s *PanelServer) handleTraces(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	traces, err := s.deps.Store.ListTraces(r.Context(), store.TraceFilter{
		WorkflowID: r.PathValue("id"),
		NodeID:     q.Get("node"),
		Status:     q.Get("status"),
		Since:      int64(queryInt(r, "since", 0)),
		Limit:      queryInt(r, "limit", 200),
	})
	if err != nil {
		writeFlowError(w, err)
		return
	}
	if traces == nil {
		traces = []*store.Trace{}
	}
	writeJSON(w, http.StatusOK, traces)
}

// model builds the diagram for the workflow in the path.
func (s *PanelServer) model(r *http.Request) (*diagram.DiagramModel, error) {
	ctx := r.Context()
	id := r.PathValue("id")
	wf, err := s.deps.Store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	traces, err := s.deps.Store.ListTraces(ctx, store.TraceFilter{WorkflowID: id})
	if err != nil {
		s.deps.Logger.Warn("trace lookup failed", "workflow_id", id, "error", err)
	}
	msgs := make([]schema.LogMessage, len(traces))
	for i, t := range traces {
		msgs[i] = t.Message
	}
	return diagram.Build(wf.Document, msgs, s.deps.Layout)
}
