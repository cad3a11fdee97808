package session

import (
	"context"
	"log/slog"

	"github.com/sigmoyd/flowcraft/internal/document"
	"github.com/sigmoyd/flowcraft/internal/wizard"
	"github.com/sigmoyd/flowcraft/pkg/schema"
)

// PublishOptions shape the public copy of a workflow. The session's own
// document is never changed by them.
type PublishOptions struct {
	// Prompt replaces the stored refined prompt shown with the workflow.
	Prompt string
	// Blank clears every config input value, trigger included, so private
	// values such as addresses or channel ids are not shared.
	Blank bool
	// Edits are applied to the public copy after blanking.
	Edits []document.Mutation
}

// Publish shares the current workflow publicly together with the prompt it
// was generated from. The workflow must be saved first.
func (s *Session) Publish(ctx context.Context, opts PublishOptions) (*schema.Workflow, error) {
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
	if doc.Dirty() {
		return nil, schema.NewError(schema.ErrCodeConflict, "save the workflow before publishing it")
	}
	s.mu.Lock()
	prompt := s.prompt
	s.mu.Unlock()
	if opts.Prompt != "" {
		prompt = opts.Prompt
	}
	if prompt == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "no refined prompt to publish with")
	}

	public, err := PublicCopy(doc, opts.Blank, opts.Edits...)
	if err != nil {
		return nil, err
	}

	epoch, err := s.begin()
	if err != nil {
		return nil, err
	}
	out, err := s.backend.PublishWorkflow(ctx, public.Workflow(), prompt)
	if err != nil {
		s.logger.WarnContext(ctx, "publish failed", slog.String("error", err.Error()))
		return nil, err
	}

	s.mu.Lock()
	if err := s.stale(epoch); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.public = true
	cur := s.doc
	s.mu.Unlock()

	s.remember(ctx, cur, prompt)
	s.emit(ctx, schema.EventWorkflowPublished, doc.ID().String(), map[string]any{
		"blank": opts.Blank,
		"edits": len(opts.Edits),
	})
	return out, nil
}

// PublicCopy derives the document to publish from doc: config values are
// cleared when blank is set, then edits are applied.
func PublicCopy(doc *document.Document, blank bool, edits ...document.Mutation) (*document.Document, error) {
	var ms []document.Mutation
	if blank {
		for _, t := range wizard.Targets(doc) {
			empty := make(map[string]string, len(t.Keys))
			for _, k := range t.Keys {
				empty[k] = ""
			}
			ms = append(ms, document.MergeConfig(t.Trigger, t.NodeID, t.Keys, empty)...)
		}
	}
	ms = append(ms, edits...)
	if len(ms) == 0 {
		return doc, nil
	}
	return document.ApplyAll(doc, ms...)
}
