package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/sigmoyd/flowcraft/internal/diagram"
	"github.com/sigmoyd/flowcraft/internal/document"
	"github.com/sigmoyd/flowcraft/internal/store"
	"github.com/sigmoyd/flowcraft/internal/wizard"
	"github.com/sigmoyd/flowcraft/pkg/schema"
)

// current returns the document and fails when there is none or the wizard
// has not finished.
func (s *Session) current() (*document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "no workflow loaded")
	}
	if s.wiz != nil && s.wiz.Phase() != wizard.PhaseComplete {
		return nil, schema.NewErrorf(schema.ErrCodeWizardIncomplete, "configuration is %s", s.wiz.Phase()).
			WithDetails(map[string]any{"phase": string(s.wiz.Phase())})
	}
	return s.doc, nil
}

// Mutate applies edits to the current document as one batch.
func (s *Session) Mutate(ctx context.Context, ms ...document.Mutation) (*document.Document, error) {
	ctx = s.ctx(ctx)
	release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	doc, err := s.current()
	if err != nil {
		return nil, err
	}
	next, err := document.ApplyAll(doc, ms...)
	if err != nil {
		return doc, err
	}

	s.mu.Lock()
	s.doc = next
	if _, ok := s.wiz.(wizard.Complete); ok {
		s.wiz = wizard.Complete{Doc: next, Skipped: true}
	}
	s.mu.Unlock()

	kinds := make([]string, len(ms))
	for i, m := range ms {
		kinds[i] = m.Kind()
	}
	s.emit(ctx, schema.EventWorkflowMutated, next.ID().String(), map[string]any{
		"mutations": kinds,
		"version":   next.Version(),
	})
	return next, nil
}

// Save persists the current document. Without force a clean document is
// refused with CONFLICT.
func (s *Session) Save(ctx context.Context, force bool) (*document.Document, error) {
	ctx = s.ctx(ctx)
	release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	doc, err := s.current()
	if err != nil {
		return nil, err
	}
	if !doc.Dirty() && !force {
		return doc, schema.NewError(schema.ErrCodeConflict, "no unsaved changes")
	}
	return s.commit(ctx, doc, schema.EventWorkflowSaved, s.backend.SaveWorkflow)
}

// Run executes a manual workflow or toggles activation of an event-based
// one. The server persists the document it returns.
func (s *Session) Run(ctx context.Context) (*document.Document, error) {
	ctx = s.ctx(ctx)
	release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	doc, err := s.current()
	if err != nil {
		return nil, err
	}
	return s.commit(ctx, doc, schema.EventWorkflowRun, s.backend.Execute)
}

type boundaryCall func(ctx context.Context, wf *schema.Workflow) (*schema.Workflow, error)

// commit sends doc through call and adopts the returned document.
func (s *Session) commit(ctx context.Context, doc *document.Document, eventType string, call boundaryCall) (*document.Document, error) {
	epoch, err := s.begin()
	if err != nil {
		return nil, err
	}
	out, err := call(ctx, doc.Workflow())
	if err != nil {
		s.logger.WarnContext(ctx, "workflow call failed", slog.String("event", eventType), slog.String("error", err.Error()))
		return doc, err
	}

	s.mu.Lock()
	if err := s.stale(epoch); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	next := document.MarkSaved(doc, out)
	s.doc = next
	s.wiz = wizard.Complete{Doc: next, Skipped: true}
	prompt := s.prompt
	s.mu.Unlock()

	s.remember(ctx, next, prompt)
	s.emit(ctx, eventType, next.ID().String(), map[string]any{
		"active":  out != nil && out.Active,
		"version": next.Version(),
	})
	return next, nil
}

// Delete removes a workflow on the server and from the local cache. An
// empty id deletes the current document.
func (s *Session) Delete(ctx context.Context, id string) error {
	ctx = s.ctx(ctx)
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	cur := s.doc
	s.mu.Unlock()
	if id == "" {
		if cur == nil {
			return schema.NewError(schema.ErrCodeValidation, "no workflow loaded")
		}
		id = cur.ID().String()
	}

	epoch, err := s.begin()
	if err != nil {
		return err
	}
	if err := s.backend.DeleteWorkflow(ctx, id); err != nil {
		return err
	}
	if s.store != nil {
		if err := s.store.DeleteWorkflow(ctx, id); err != nil && !schema.IsCode(err, schema.ErrCodeNotFound) {
			s.logger.WarnContext(ctx, "local delete failed", slog.String("workflow_id", id), slog.String("error", err.Error()))
		}
	}

	s.mu.Lock()
	if s.stale(epoch) == nil && s.doc != nil && s.doc.ID().String() == id {
		s.epoch++
		s.doc = nil
		s.wiz = nil
		s.issues = nil
	}
	s.mu.Unlock()

	s.emit(ctx, schema.EventWorkflowDeleted, id, nil)
	return nil
}

// Graph returns the diagram of the current document with the latest
// execution status of each node overlaid.
func (s *Session) Graph(ctx context.Context) (*diagram.DiagramModel, error) {
	doc := s.Document()
	if doc == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "no workflow loaded")
	}
	traces, err := s.Traces(ctx, store.TraceFilter{})
	if err != nil {
		s.logger.WarnContext(s.ctx(ctx), "trace lookup failed", slog.String("error", err.Error()))
		traces = nil
	}
	msgs := make([]schema.LogMessage, len(traces))
	for i, t := range traces {
		msgs[i] = t.Message
	}
	return s.cache.Get(diagram.CacheKey{Version: doc.Version(), Traces: len(msgs)}, doc.Workflow(), msgs)
}

// Traces lists execution traces of the current document. The filter's
// workflow id is always the current one.
func (s *Session) Traces(ctx context.Context, filter store.TraceFilter) ([]*store.Trace, error) {
	doc := s.Document()
	if doc == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "no workflow loaded")
	}
	if s.store == nil {
		return nil, nil
	}
	filter.WorkflowID = doc.ID().String()
	return s.store.ListTraces(ctx, filter)
}

// remember records a saved document in the local cache so it joins the
// known-workflow set.
func (s *Session) remember(ctx context.Context, doc *document.Document, prompt string) {
	if s.store == nil {
		return
	}
	s.mu.Lock()
	public := s.public
	s.mu.Unlock()
	wf := doc.Workflow()
	now := time.Now().UTC()
	err := s.store.PutWorkflow(ctx, &store.StoredWorkflow{
		ID:       wf.WorkflowID.String(),
		Name:     wf.WorkflowName,
		Prompt:   prompt,
		Document: wf,
		Active:   wf.Active,
		Public:   public,
		SavedAt:  &now,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "cache saved workflow", slog.String("error", err.Error()))
	}
}
