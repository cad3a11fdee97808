package session

import (
	"context"
	"log/slog"

	"github.com/sigmoyd/flowcraft/internal/backend"
	"github.com/sigmoyd/flowcraft/internal/document"
	"github.com/sigmoyd/flowcraft/internal/refine"
	"github.com/sigmoyd/flowcraft/internal/wizard"
	"github.com/sigmoyd/flowcraft/pkg/schema"
)

// Submit starts refinement of a free-text goal.
func (s *Session) Submit(ctx context.Context, text string) (refine.State, error) {
	return s.refine(ctx, func(ctx context.Context) (refine.State, error) {
		return s.machine.Submit(ctx, text)
	})
}

// Reply answers the current clarifying question.
func (s *Session) Reply(ctx context.Context, text string) (refine.State, error) {
	return s.refine(ctx, func(ctx context.Context) (refine.State, error) {
		return s.machine.Reply(ctx, text)
	})
}

// Amend revises the refined specification with free-form feedback.
func (s *Session) Amend(ctx context.Context, text string) (refine.State, error) {
	return s.refine(ctx, func(ctx context.Context) (refine.State, error) {
		return s.machine.Amend(ctx, text)
	})
}

func (s *Session) refine(ctx context.Context, fn func(context.Context) (refine.State, error)) (refine.State, error) {
	if _, err := s.begin(); err != nil {
		return s.machine.State(), err
	}
	release, err := s.acquire()
	if err != nil {
		return s.machine.State(), err
	}
	defer release()
	return fn(s.ctx(ctx))
}

// Generate asks the backend for a workflow built from the refined
// specification. With update set the current workflow is regenerated in
// place. A workflow the user does not have yet starts the wizard.
func (s *Session) Generate(ctx context.Context, update bool) (*document.Document, error) {
	ctx = s.ctx(ctx)
	refined, ok := s.machine.State().(refine.Refined)
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, "cannot generate workflow without a refined query")
	}

	release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	flag, wid := backend.FlagCreate, ""
	if update {
		cur := s.Document()
		if cur == nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "no workflow to update")
		}
		flag, wid = backend.FlagUpdate, cur.ID().String()
	}

	epoch, err := s.begin()
	if err != nil {
		return nil, err
	}
	wf, err := s.backend.CreateAgents(ctx, refined.Spec, flag, wid)
	if err != nil {
		s.logger.WarnContext(ctx, "workflow generation failed", slog.String("error", err.Error()))
		return nil, err
	}
	if wf.WorkflowID.IsZero() {
		return nil, schema.NewError(schema.ErrCodeMalformedPayload, "generated workflow has no workflow_id")
	}
	warnings, err := s.check(ctx, wf)
	if err != nil {
		return nil, err
	}
	known := s.known(ctx)

	s.mu.Lock()
	if err := s.stale(epoch); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	doc := document.New(wf)
	s.doc = doc
	s.wiz = wizard.Start(doc, known)
	s.prompt = refined.Spec
	s.public = false
	s.issues = warnings
	wiz := s.wiz
	s.mu.Unlock()

	s.emit(ctx, schema.EventWorkflowGenerated, doc.ID().String(), map[string]any{
		"update": update,
		"nodes":  len(doc.NodeIDs()),
	})
	s.emitWizard(ctx, doc, wiz)
	return doc, nil
}

// ConfigureSet edits one value of the wizard's current form.
func (s *Session) ConfigureSet(ctx context.Context, key, value string) (wizard.State, error) {
	release, err := s.acquire()
	if err != nil {
		return s.Wizard(), err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wiz == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "no workflow is being configured")
	}
	next, _, err := wizard.Reduce(s.wiz, wizard.SetValue{Key: key, Value: value})
	if err != nil {
		return s.wiz, err
	}
	s.wiz = next
	return next, nil
}

// ConfigureNext commits the current form. After the last form the
// configured workflow is saved; a failed save leaves the wizard
// retry-eligible with the committed document kept.
func (s *Session) ConfigureNext(ctx context.Context) (wizard.State, error) {
	return s.stepWizard(ctx, wizard.Next{})
}

// ConfigureRetry retries the final save of the wizard.
func (s *Session) ConfigureRetry(ctx context.Context) (wizard.State, error) {
	return s.stepWizard(ctx, wizard.RetrySave{})
}

func (s *Session) stepWizard(ctx context.Context, ev wizard.Event) (wizard.State, error) {
	ctx = s.ctx(ctx)
	release, err := s.acquire()
	if err != nil {
		return s.Wizard(), err
	}
	defer release()

	s.mu.Lock()
	if s.wiz == nil {
		s.mu.Unlock()
		return nil, schema.NewError(schema.ErrCodeValidation, "no workflow is being configured")
	}
	from := s.wiz
	next, req, err := wizard.Reduce(from, ev)
	if err != nil {
		s.mu.Unlock()
		return from, err
	}
	s.wiz = next
	s.doc = next.Document()
	epoch := s.epoch
	s.mu.Unlock()

	if _, ok := ev.(wizard.Next); ok {
		if fc, ok := from.(wizard.Collecting); ok {
			cur := fc.Current()
			s.emit(logNode(ctx, cur), schema.EventWizardCommitted, next.Document().ID().String(), map[string]any{
				"node_id": cur.NodeID.String(),
				"trigger": cur.Trigger,
				"step":    fc.Cursor + 1,
				"steps":   len(fc.Targets),
			})
		}
	}
	if req == nil {
		return next, nil
	}

	saved, saveErr := s.backend.SaveWorkflow(ctx, req.Doc.Workflow())

	s.mu.Lock()
	if err := s.stale(epoch); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	var result wizard.Event = wizard.SaveSucceeded{Saved: saved}
	if saveErr != nil {
		result = wizard.SaveFailed{Err: saveErr}
	}
	final, _, err := wizard.Reduce(s.wiz, result)
	if err != nil {
		s.mu.Unlock()
		return s.wiz, err
	}
	s.wiz = final
	s.doc = final.Document()
	prompt := s.prompt
	s.mu.Unlock()

	if saveErr != nil {
		s.logger.WarnContext(ctx, "wizard save failed", slog.String("error", saveErr.Error()))
		return final, saveErr
	}
	s.remember(ctx, final.Document(), prompt)
	s.emit(ctx, schema.EventWizardCompleted, final.Document().ID().String(), map[string]any{
		"commits": final.(wizard.Complete).Commits,
	})
	s.emit(ctx, schema.EventWorkflowSaved, final.Document().ID().String(), nil)
	return final, nil
}

func (s *Session) emitWizard(ctx context.Context, doc *document.Document, wiz wizard.State) {
	switch st := wiz.(type) {
	case wizard.Collecting:
		s.emit(ctx, schema.EventWizardStarted, doc.ID().String(), map[string]any{"steps": len(st.Targets)})
	case wizard.Complete:
		s.emit(ctx, schema.EventWizardSkipped, doc.ID().String(), nil)
	}
}

func logNode(ctx context.Context, t wizard.Target) context.Context {
	if t.Trigger {
		return ctx
	}
	return withNode(ctx, t.NodeID.String())
}
