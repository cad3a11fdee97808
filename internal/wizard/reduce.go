package wizard

import (
	"github.com/sigmoyd/flowcraft/internal/document"
	"github.com/sigmoyd/flowcraft/pkg/schema"
)

// Event is an input to the wizard.
type Event interface {
	eventName() string
}

// SetValue edits one value of the current form.
type SetValue struct {
	Key   string
	Value string
}

// Next commits the current form and advances.
type Next struct{}

// SaveSucceeded carries the document the server returned.
type SaveSucceeded struct {
	Saved *schema.Workflow
}

// SaveFailed reports a failed save.
type SaveFailed struct {
	Err error
}

// RetrySave asks for the save to be attempted again.
type RetrySave struct{}

func (SetValue) eventName() string      { return "set_value" }
func (Next) eventName() string          { return "next" }
func (SaveSucceeded) eventName() string { return "save_succeeded" }
func (SaveFailed) eventName() string    { return "save_failed" }
func (RetrySave) eventName() string     { return "retry_save" }

// SaveRequest is the side effect of the final commit: persist Doc.
type SaveRequest struct {
	Doc *document.Document
}

// Reduce computes the next wizard state. On error the state is unchanged.
func Reduce(s State, e Event) (State, *SaveRequest, error) {
	switch ev := e.(type) {
	case SetValue:
		st, ok := s.(Collecting)
		if !ok {
			return s, nil, rejected(s, e)
		}
		if !st.Values.Has(ev.Key) {
			return s, nil, schema.NewErrorf(schema.ErrCodeUnknownField, "%s has no config input %q", st.Current().Name, ev.Key).
				WithNode(st.Current().NodeID)
		}
		values := st.Values.Clone()
		values.Set(ev.Key, ev.Value)
		st.Values = values
		return st, nil, nil

	case Next:
		st, ok := s.(Collecting)
		if !ok {
			return s, nil, rejected(s, e)
		}
		cur := st.Current()
		doc, err := document.ApplyAll(st.Doc, document.MergeConfig(cur.Trigger, cur.NodeID, st.Values.Keys(), st.Values.Map())...)
		if err != nil {
			return s, nil, err
		}
		if st.Last() {
			return Saving{Doc: doc, Commits: st.Commits + 1}, &SaveRequest{Doc: doc}, nil
		}
		next := st.Targets[st.Cursor+1]
		return Collecting{
			Doc:     doc,
			Targets: st.Targets,
			Cursor:  st.Cursor + 1,
			Values:  seed(doc, next),
			Commits: st.Commits + 1,
		}, nil, nil

	case SaveSucceeded:
		st, ok := s.(Saving)
		if !ok {
			return s, nil, rejected(s, e)
		}
		return Complete{Doc: document.MarkSaved(st.Doc, ev.Saved), Commits: st.Commits}, nil, nil

	case SaveFailed:
		st, ok := s.(Saving)
		if !ok {
			return s, nil, rejected(s, e)
		}
		msg := "save failed"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		st.Err = msg
		return st, nil, nil

	case RetrySave:
		st, ok := s.(Saving)
		if !ok {
			return s, nil, rejected(s, e)
		}
		st.Err = ""
		return st, &SaveRequest{Doc: st.Doc}, nil
	}

	return s, nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown wizard event %T", e)
}

func rejected(s State, e Event) error {
	return schema.NewErrorf(schema.ErrCodeInvalidTransition, "cannot %s while wizard is %s", e.eventName(), s.Phase()).
		WithDetails(map[string]any{"phase": string(s.Phase()), "event": e.eventName()})
}
