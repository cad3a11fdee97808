package refine

import (
	"strings"

	"github.com/sigmoyd/flowcraft/pkg/schema"
)

// Event is an input to the machine: a user action or a call result.
type Event interface {
	eventName() string
}

// Submit starts a new conversation with a free-text goal.
type Submit struct{ Text string }

// Reply answers the current clarifying question.
type Reply struct{ Text string }

// Amend asks for the refined specification to be revised.
type Amend struct{ Text string }

// Reset abandons the conversation.
type Reset struct{}

// QuestionsReceived is the result of a clarify call.
type QuestionsReceived struct{ Questions []string }

// SpecReceived is the result of a refine call.
type SpecReceived struct{ Spec string }

// CallFailed reports a failed call.
type CallFailed struct{ Err error }

func (Submit) eventName() string            { return "submit" }
func (Reply) eventName() string             { return "reply" }
func (Amend) eventName() string             { return "amend" }
func (Reset) eventName() string             { return "reset" }
func (QuestionsReceived) eventName() string { return "questions_received" }
func (SpecReceived) eventName() string      { return "spec_received" }
func (CallFailed) eventName() string        { return "call_failed" }

// Call is the side effect a transition asks for: one refine-query request.
type Call struct {
	Query   string
	Flag    int
	Answers Answers
}

// Reduce computes the next state for an event. It is pure: the returned
// Call, if any, must be executed by the caller and its outcome fed back as
// QuestionsReceived, SpecReceived or CallFailed. On error the state is
// unchanged.
func Reduce(s State, e Event) (State, *Call, error) {
	switch ev := e.(type) {
	case Reset:
		return Idle{}, nil, nil

	case Submit:
		text := strings.TrimSpace(ev.Text)
		if text == "" {
			return s, nil, schema.NewError(schema.ErrCodeValidation, "query is empty")
		}
		switch s.(type) {
		case Idle, Refined:
			return Asking{Query: text}, &Call{Query: text, Flag: FlagClarify}, nil
		}
		return s, nil, rejected(s, e)

	case Reply:
		st, ok := s.(AwaitingClarification)
		if !ok {
			return s, nil, rejected(s, e)
		}
		text := strings.TrimSpace(ev.Text)
		if text == "" {
			return s, nil, schema.NewError(schema.ErrCodeValidation, "reply is empty")
		}
		answers := st.Answers.With(st.Questions[st.Index-1], text)
		if st.Index < len(st.Questions) {
			return AwaitingClarification{
				Query:     st.Query,
				Questions: st.Questions,
				Index:     st.Index + 1,
				Answers:   answers,
			}, nil, nil
		}
		return Refining{Original: st.Query, Query: st.Query, Answers: answers},
			&Call{Query: st.Query, Flag: FlagRefine, Answers: answers}, nil

	case Amend:
		st, ok := s.(Refined)
		if !ok {
			return s, nil, rejected(s, e)
		}
		text := strings.TrimSpace(ev.Text)
		if text == "" {
			return s, nil, schema.NewError(schema.ErrCodeValidation, "amendment is empty")
		}
		answers := st.Answers.With(AmendKey, text)
		prev := st
		return Refining{Original: st.Query, Query: st.Spec, Answers: answers, Amending: &prev},
			&Call{Query: st.Spec, Flag: FlagRefine, Answers: answers}, nil

	case QuestionsReceived:
		st, ok := s.(Asking)
		if !ok {
			return s, nil, rejected(s, e)
		}
		if len(ev.Questions) == 0 {
			return Refined{Query: st.Query, Spec: st.Query, Notice: NoQuestionsMessage}, nil, nil
		}
		qs := make([]string, len(ev.Questions))
		copy(qs, ev.Questions)
		return AwaitingClarification{Query: st.Query, Questions: qs, Index: 1}, nil, nil

	case SpecReceived:
		st, ok := s.(Refining)
		if !ok {
			return s, nil, rejected(s, e)
		}
		return Refined{Query: st.Original, Spec: ev.Spec, Answers: st.Answers}, nil, nil

	case CallFailed:
		switch st := s.(type) {
		case Asking:
			return Idle{Err: ErrorMessage}, nil, nil
		case Refining:
			if st.Amending != nil {
				return *st.Amending, nil, nil
			}
			return Idle{Err: ErrorMessage}, nil, nil
		}
		return s, nil, rejected(s, e)
	}

	return s, nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown event %T", e)
}

// rejected reports an event that does not apply to the state. While a call
// is outstanding user input is refused as busy so replies cannot interleave.
func rejected(s State, e Event) error {
	if InFlight(s) {
		switch e.(type) {
		case Submit, Reply, Amend:
			return schema.NewErrorf(schema.ErrCodeBusy, "a refinement call is outstanding").
				WithDetails(map[string]any{"phase": string(s.Phase()), "event": e.eventName()})
		}
	}
	return schema.NewErrorf(schema.ErrCodeInvalidTransition, "cannot %s while %s", e.eventName(), s.Phase()).
		WithDetails(map[string]any{"phase": string(s.Phase()), "event": e.eventName()})
}
