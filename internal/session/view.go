package session

import (
	"github.com/sigmoyd/flowcraft/internal/refine"
	"github.com/sigmoyd/flowcraft/internal/wizard"
	"github.com/sigmoyd/flowcraft/pkg/schema"
)

// View is a serializable snapshot of a session for outer surfaces.
type View struct {
	SessionID string `json:"session_id"`

	Phase     refine.Phase     `json:"refine_phase"`
	Question  *refine.Question `json:"question,omitempty"`
	Remaining int              `json:"remaining,omitempty"`
	Spec      string           `json:"spec,omitempty"`
	Notice    string           `json:"notice,omitempty"`
	Error     string           `json:"error,omitempty"`

	Workflow *schema.Workflow         `json:"workflow,omitempty"`
	Version  uint64                   `json:"version,omitempty"`
	Dirty    bool                     `json:"dirty"`
	Warnings []schema.ValidationIssue `json:"warnings,omitempty"`

	Wizard    wizard.Phase        `json:"wizard_phase,omitempty"`
	Target    *wizard.Target      `json:"target,omitempty"`
	Values    schema.ConfigInputs `json:"values,omitempty"`
	Step      int                 `json:"step,omitempty"`
	Steps     int                 `json:"steps,omitempty"`
	SaveError string              `json:"save_error,omitempty"`
}

// View returns a snapshot of the session.
func (s *Session) View() View {
	v := View{SessionID: s.id}

	st := s.machine.State()
	v.Phase = st.Phase()
	switch r := st.(type) {
	case refine.Idle:
		v.Error = r.Err
	case refine.AwaitingClarification:
		q := r.Current()
		v.Question = &q
		v.Remaining = r.Remaining()
	case refine.Refined:
		v.Spec = r.Spec
		v.Notice = r.Notice
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc != nil {
		v.Workflow = s.doc.Workflow()
		v.Version = s.doc.Version()
		v.Dirty = s.doc.Dirty()
		v.Warnings = s.issues
	}
	if s.wiz != nil {
		v.Wizard = s.wiz.Phase()
		switch w := s.wiz.(type) {
		case wizard.Collecting:
			t := w.Current()
			v.Target = &t
			v.Values = w.Values.Clone()
			v.Step = w.Cursor + 1
			v.Steps = len(w.Targets)
		case wizard.Saving:
			v.SaveError = w.Err
		}
	}
	return v
}
