// Package session orchestrates one user conversation: refinement,
// generation, configuration, editing and persistence of a workflow.
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/sigmoyd/flowcraft/internal/diagram"
	"github.com/sigmoyd/flowcraft/internal/document"
	"github.com/sigmoyd/flowcraft/internal/graph"
	"github.com/sigmoyd/flowcraft/internal/logging"
	"github.com/sigmoyd/flowcraft/internal/refine"
	"github.com/sigmoyd/flowcraft/internal/store"
	"github.com/sigmoyd/flowcraft/internal/streaming"
	"github.com/sigmoyd/flowcraft/internal/validation"
	"github.com/sigmoyd/flowcraft/internal/wizard"
	"github.com/sigmoyd/flowcraft/pkg/schema"
)

// Backend is the part of the boundary client a session calls.
// Satisfied by *backend.Client.
type Backend interface {
	refine.Refiner
	CreateAgents(ctx context.Context, query string, flag int, wid string) (*schema.Workflow, error)
	SaveWorkflow(ctx context.Context, wf *schema.Workflow) (*schema.Workflow, error)
	Execute(ctx context.Context, wf *schema.Workflow) (*schema.Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error
	PublishWorkflow(ctx context.Context, wf *schema.Workflow, refinedPrompt string) (*schema.Workflow, error)
}

// Store is the part of local persistence a session uses.
// Satisfied by store.Store.
type Store interface {
	GetWorkflow(ctx context.Context, id string) (*store.StoredWorkflow, error)
	PutWorkflow(ctx context.Context, wf *store.StoredWorkflow) error
	DeleteWorkflow(ctx context.Context, id string) error
	KnownWorkflowIDs(ctx context.Context) (store.KnownIDs, error)
	ListTraces(ctx context.Context, filter store.TraceFilter) ([]*store.Trace, error)
	AppendEvent(ctx context.Context, event *schema.Event) error
}

// Config holds the optional collaborators of a session.
type Config struct {
	ID        string // generated when empty
	Hub       streaming.EventHub
	Validator *validation.WorkflowValidator
	Layout    graph.Options
	Logger    *slog.Logger
}

// Session is safe for concurrent use. At most one operation runs at a time;
// others fail fast with BUSY.
type Session struct {
	id        string
	backend   Backend
	store     Store
	hub       streaming.EventHub
	validator *validation.WorkflowValidator
	logger    *slog.Logger
	machine   *refine.Machine
	cache     *diagram.Cache
	sem       *semaphore.Weighted

	// mu guards the fields below.
	mu     sync.Mutex
	epoch  uint64
	closed bool
	doc    *document.Document
	wiz    wizard.State
	prompt string
	public bool
	issues []schema.ValidationIssue
}

// New creates a session. st may be nil, in which case nothing is cached
// locally and every generated workflow counts as new.
func New(b Backend, st Store, cfg Config) *Session {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Layout == (graph.Options{}) {
		cfg.Layout = graph.DefaultOptions()
	}

	s := &Session{
		id:        cfg.ID,
		backend:   b,
		store:     st,
		hub:       cfg.Hub,
		validator: cfg.Validator,
		logger:    cfg.Logger.With(slog.String("component", "session")),
		cache:     diagram.NewCache(cfg.Layout),
		sem:       semaphore.NewWeighted(1),
	}
	s.machine = refine.NewMachine(b, s.appender(),
		refine.WithSessionID(s.id),
		refine.WithLogger(s.logger),
	)
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// acquire takes the single operation slot.
func (s *Session) acquire() (func(), error) {
	if !s.sem.TryAcquire(1) {
		return nil, schema.NewError(schema.ErrCodeBusy, "another request is still outstanding")
	}
	return func() { s.sem.Release(1) }, nil
}

// begin captures the epoch a boundary call belongs to.
func (s *Session) begin() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, schema.NewError(schema.ErrCodeStale, "session is closed")
	}
	return s.epoch, nil
}

// stale reports a result that outlived its epoch. Must hold s.mu.
func (s *Session) stale(epoch uint64) error {
	if s.closed || s.epoch != epoch {
		return schema.NewError(schema.ErrCodeStale, "session changed while the request was outstanding")
	}
	return nil
}

func (s *Session) ctx(ctx context.Context) context.Context {
	ctx = logging.WithSessionID(ctx, s.id)
	s.mu.Lock()
	doc := s.doc
	s.mu.Unlock()
	if doc != nil {
		ctx = logging.WithWorkflowID(ctx, doc.ID().String())
	}
	return ctx
}

// Open loads a stored workflow as the current document. Stored workflows
// are known, so no wizard runs.
func (s *Session) Open(ctx context.Context, id string) (*document.Document, error) {
	if s.store == nil {
		return nil, schema.NewError(schema.ErrCodeStore, "no local store configured")
	}
	release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	sw, err := s.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	doc := document.New(sw.Document)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.doc = doc
	s.wiz = wizard.Complete{Doc: doc, Skipped: true}
	s.prompt = sw.Prompt
	s.public = sw.Public
	s.issues = nil
	return doc, nil
}

// Load adopts an existing workflow document, for example one read from a
// file. The wizard runs when the id is not known locally.
func (s *Session) Load(ctx context.Context, wf *schema.Workflow) (*document.Document, error) {
	release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	warnings, err := s.check(ctx, wf)
	if err != nil {
		return nil, err
	}
	doc := document.New(wf)
	known := s.known(ctx)

	s.mu.Lock()
	s.epoch++
	s.doc = doc
	s.wiz = wizard.Start(doc, known)
	s.prompt = ""
	s.public = false
	s.issues = warnings
	wiz := s.wiz
	s.mu.Unlock()

	s.emitWizard(ctx, doc, wiz)
	return doc, nil
}

// Reset discards the conversation and the current document. Outstanding
// calls return STALE.
func (s *Session) Reset(ctx context.Context) {
	s.mu.Lock()
	s.epoch++
	s.doc = nil
	s.wiz = nil
	s.prompt = ""
	s.public = false
	s.issues = nil
	s.mu.Unlock()
	s.machine.Reset(s.ctx(ctx))
	s.cache.Invalidate()
}

// Close ends the session. Outstanding calls return STALE and later
// operations fail.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	s.epoch++
	s.closed = true
	s.mu.Unlock()
	s.machine.Reset(s.ctx(ctx))
}

// Document returns the current document, or nil.
func (s *Session) Document() *document.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc
}

// Wizard returns the wizard state, or nil before generation.
func (s *Session) Wizard() wizard.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wiz
}

// Refinement returns the refinement state.
func (s *Session) Refinement() refine.State { return s.machine.State() }

// known returns the ids already saved on the server. A store failure is
// logged and treated as an empty set, so the wizard runs.
func (s *Session) known(ctx context.Context) wizard.KnownSet {
	if s.store == nil {
		return nil
	}
	ids, err := s.store.KnownWorkflowIDs(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "known workflow lookup failed", slog.String("error", err.Error()))
		return nil
	}
	return ids
}

// check runs the validator over a workflow that came from outside. Errors
// reject it as malformed; warnings are returned for the view.
func (s *Session) check(ctx context.Context, wf *schema.Workflow) ([]schema.ValidationIssue, error) {
	if wf == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow is required")
	}
	if s.validator == nil {
		return nil, nil
	}
	res := s.validator.Validate(ctx, wf)
	for _, w := range res.Warnings {
		s.logger.DebugContext(ctx, "workflow warning", slog.String("path", w.Path), slog.String("message", w.Message))
	}
	if !res.Valid() {
		fe := schema.NewErrorf(schema.ErrCodeMalformedPayload, "workflow rejected: %s", res.Errors[0].Message).
			WithDetails(map[string]any{"errors": res.Errors})
		return nil, fe
	}
	return res.Warnings, nil
}
