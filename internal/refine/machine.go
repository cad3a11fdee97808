package refine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sigmoyd/flowcraft/pkg/schema"
)

// Response is the decoded reply of a refine-query call: a question list for
// the clarify flag, a specification string for the refine flag.
type Response struct {
	Questions []string
	Spec      string
	List      bool
}

// Refiner performs refine-query calls.
type Refiner interface {
	RefineQuery(ctx context.Context, query string, flag int, question Answers) (Response, error)
}

// EventAppender records transition events.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *schema.Event) error
}

// TransitionHook is called before or after a phase transition.
type TransitionHook func(from, to Phase) error

type hookKey struct {
	from, to Phase
}

// ValidTransitions lists the phases reachable from each phase.
var ValidTransitions = map[Phase][]Phase{
	PhaseIdle:     {PhaseAsking, PhaseIdle},
	PhaseAsking:   {PhaseAwaiting, PhaseRefined, PhaseIdle},
	PhaseAwaiting: {PhaseAwaiting, PhaseRefining, PhaseIdle},
	PhaseRefining: {PhaseRefined, PhaseIdle},
	PhaseRefined:  {PhaseAsking, PhaseRefining, PhaseIdle},
}

// Machine drives Reduce against a Refiner. At most one call is outstanding;
// user events arriving meanwhile fail with BUSY, and a result that arrives
// after Reset is dropped with STALE.
type Machine struct {
	mu        sync.Mutex
	state     State
	gen       uint64
	refiner   Refiner
	appender  EventAppender
	sessionID string
	logger    *slog.Logger
	before    map[hookKey][]TransitionHook
	after     map[hookKey][]TransitionHook
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// WithSessionID tags emitted events with a session id.
func WithSessionID(id string) Option {
	return func(m *Machine) { m.sessionID = id }
}

// WithState restores a previously persisted state. In-flight states restore
// as Idle since their call cannot be resumed.
func WithState(s State) Option {
	return func(m *Machine) {
		if s == nil || InFlight(s) {
			s = Idle{}
		}
		m.state = s
	}
}

// NewMachine creates a machine in the Idle state. appender may be nil.
func NewMachine(refiner Refiner, appender EventAppender, opts ...Option) *Machine {
	m := &Machine{
		state:    Idle{},
		refiner:  refiner,
		appender: appender,
		logger:   slog.Default(),
		before:   make(map[hookKey][]TransitionHook),
		after:    make(map[hookKey][]TransitionHook),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnBefore registers a hook called before a transition. A hook error vetoes
// user initiated transitions.
func (m *Machine) OnBefore(from, to Phase, hook TransitionHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := hookKey{from, to}
	m.before[key] = append(m.before[key], hook)
}

// OnAfter registers a hook called after a transition. Its error is logged;
// the transition has already happened.
func (m *Machine) OnAfter(from, to Phase, hook TransitionHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := hookKey{from, to}
	m.after[key] = append(m.after[key], hook)
}

// Submit starts a conversation.
func (m *Machine) Submit(ctx context.Context, text string) (State, error) {
	return m.Dispatch(ctx, Submit{Text: text})
}

// Reply answers the current question.
func (m *Machine) Reply(ctx context.Context, text string) (State, error) {
	return m.Dispatch(ctx, Reply{Text: text})
}

// Amend revises a refined specification.
func (m *Machine) Amend(ctx context.Context, text string) (State, error) {
	return m.Dispatch(ctx, Amend{Text: text})
}

// Reset returns to Idle and invalidates any outstanding call.
func (m *Machine) Reset(ctx context.Context) State {
	s, _ := m.Dispatch(ctx, Reset{})
	return s
}

// Dispatch applies a user event and, when the transition asks for it,
// performs the call and applies its outcome. A failed call is returned as
// the error alongside the recovered state.
func (m *Machine) Dispatch(ctx context.Context, e Event) (State, error) {
	m.mu.Lock()
	from := m.state
	next, call, err := Reduce(from, e)
	if err == nil {
		err = m.transition(ctx, from, next, e, true)
	}
	if err != nil {
		m.mu.Unlock()
		return from, err
	}
	if _, ok := e.(Reset); ok || call != nil {
		m.gen++
	}
	gen := m.gen
	m.mu.Unlock()

	if call == nil {
		return next, nil
	}

	result := m.execute(ctx, call)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		m.logger.DebugContext(ctx, "dropping stale refine result", "flag", call.Flag)
		return m.state, schema.NewError(schema.ErrCodeStale, "refinement was reset while the call was outstanding")
	}

	from = m.state
	next, _, err = Reduce(from, result)
	if err != nil {
		return from, err
	}
	if err := m.transition(ctx, from, next, result, false); err != nil {
		return m.state, err
	}
	if cf, ok := result.(CallFailed); ok {
		return next, cf.Err
	}
	return next, nil
}

func (m *Machine) execute(ctx context.Context, call *Call) Event {
	resp, err := m.refiner.RefineQuery(ctx, call.Query, call.Flag, call.Answers)
	if err != nil {
		m.logger.WarnContext(ctx, "refine call failed", "flag", call.Flag, "error", err)
		return CallFailed{Err: err}
	}
	switch call.Flag {
	case FlagClarify:
		if !resp.List {
			return CallFailed{Err: malformed("expected a question list")}
		}
		return QuestionsReceived{Questions: resp.Questions}
	default:
		if resp.List || resp.Spec == "" {
			return CallFailed{Err: malformed("expected a refined query string")}
		}
		return SpecReceived{Spec: resp.Spec}
	}
}

func malformed(msg string) error {
	return schema.NewError(schema.ErrCodeMalformedPayload, "refine_query: "+msg)
}

// transition validates the phase change, runs hooks and appends the event.
// Must be called with m.mu held. Hook errors only veto when veto is set;
// results of an outstanding call are always applied.
func (m *Machine) transition(ctx context.Context, from, to State, e Event, veto bool) error {
	fp, tp := from.Phase(), to.Phase()
	if !isValidTransition(fp, tp) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition, "invalid refinement transition: %s -> %s", fp, tp).
			WithDetails(map[string]any{"from": string(fp), "to": string(tp)})
	}

	key := hookKey{fp, tp}
	for _, hook := range m.before[key] {
		if err := hook(fp, tp); err != nil {
			if veto {
				return err
			}
			m.logger.WarnContext(ctx, "refine before-hook failed", "from", fp, "to", tp, "error", err)
		}
	}

	m.state = to

	if eventType := transitionEventType(from, to, e); eventType != "" && m.appender != nil {
		ev := &schema.Event{
			Type:      eventType,
			SessionID: m.sessionID,
			Payload:   map[string]any{"from": string(fp), "to": string(tp)},
			Timestamp: time.Now().UTC(),
		}
		if aw, ok := to.(AwaitingClarification); ok {
			ev.Payload["index"] = aw.Index
			ev.Payload["questions"] = len(aw.Questions)
		}
		if err := m.appender.AppendEvent(ctx, ev); err != nil {
			m.logger.WarnContext(ctx, "append refine event", "type", eventType, "error", err)
		}
	}

	for _, hook := range m.after[key] {
		if err := hook(fp, tp); err != nil {
			m.logger.WarnContext(ctx, "refine after-hook failed", "from", fp, "to", tp, "error", err)
		}
	}
	return nil
}

func isValidTransition(from, to Phase) bool {
	for _, a := range ValidTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

func transitionEventType(from, to State, e Event) string {
	if _, ok := e.(CallFailed); ok {
		return schema.EventRefineFailed
	}
	switch to.(type) {
	case Asking:
		return schema.EventRefineSubmitted
	case AwaitingClarification:
		if _, ok := from.(Asking); ok {
			return schema.EventRefineQuestions
		}
		return schema.EventRefineAnswered
	case Refining:
		if _, ok := e.(Amend); ok {
			return schema.EventRefineAmended
		}
		return schema.EventRefineAnswered
	case Refined:
		return schema.EventRefineRefined
	}
	return ""
}
