// Package wizard walks a freshly generated workflow through every node that
// needs user supplied configuration before it may be saved or run.
package wizard

import (
	"github.com/sigmoyd/flowcraft/internal/document"
	"github.com/sigmoyd/flowcraft/pkg/schema"
)

// Phase names a wizard state.
type Phase string

const (
	PhaseCollecting Phase = "collecting"
	PhaseSaving     Phase = "saving"
	PhaseComplete   Phase = "complete"
)

// Target is one entity to configure: the trigger or a node.
type Target struct {
	Trigger bool      `json:"trigger"`
	NodeID  schema.ID `json:"node_id"`
	Name    string    `json:"name"`
	Keys    []string  `json:"keys"`
}

// KnownSet reports which workflow ids the user already has.
type KnownSet interface {
	Contains(workflowID string) bool
}

// State is one of Collecting, Saving or Complete.
type State interface {
	Phase() Phase
	Document() *document.Document
}

// Collecting shows Targets[Cursor] with Values as the editable form.
type Collecting struct {
	Doc     *document.Document
	Targets []Target
	Cursor  int
	Values  schema.ConfigInputs
	Commits int
}

// Saving waits for the save of the fully configured document. Err holds the
// last save failure; the save may be retried.
type Saving struct {
	Doc     *document.Document
	Commits int
	Err     string
}

// Complete is terminal. Skipped is set when no step was needed.
type Complete struct {
	Doc     *document.Document
	Commits int
	Skipped bool
}

func (Collecting) Phase() Phase { return PhaseCollecting }
func (Saving) Phase() Phase     { return PhaseSaving }
func (Complete) Phase() Phase   { return PhaseComplete }

func (s Collecting) Document() *document.Document { return s.Doc }
func (s Saving) Document() *document.Document     { return s.Doc }
func (s Complete) Document() *document.Document   { return s.Doc }

// Current returns the target being configured.
func (s Collecting) Current() Target { return s.Targets[s.Cursor] }

// Last reports whether the cursor is on the final target.
func (s Collecting) Last() bool { return s.Cursor == len(s.Targets)-1 }

// Targets lists the trigger, if it has config inputs, followed by every node
// with config inputs, in document order. Inputs whose values are still empty
// count: an input is pending until the user has seen it.
func Targets(doc *document.Document) []Target {
	var out []Target
	if t := doc.Trigger(); !t.ConfigInputs.Empty() {
		out = append(out, Target{
			Trigger: true,
			NodeID:  t.EffectiveID(),
			Name:    t.Name,
			Keys:    t.ConfigInputs.Keys(),
		})
	}
	for _, id := range doc.NodeIDs() {
		n, _ := doc.Node(id)
		if n.ConfigInputs.Empty() {
			continue
		}
		out = append(out, Target{NodeID: n.ID, Name: n.Name, Keys: n.ConfigInputs.Keys()})
	}
	return out
}

// Start builds the wizard for a generated document. Workflows the user
// already knows, and workflows with nothing to configure, complete at once
// without side effects.
func Start(doc *document.Document, known KnownSet) State {
	if known != nil && known.Contains(doc.ID().String()) {
		return Complete{Doc: doc, Skipped: true}
	}
	targets := Targets(doc)
	if len(targets) == 0 {
		return Complete{Doc: doc, Skipped: true}
	}
	return Collecting{
		Doc:     doc,
		Targets: targets,
		Values:  seed(doc, targets[0]),
	}
}

// seed reads the current values of a target from the document.
func seed(doc *document.Document, t Target) schema.ConfigInputs {
	if t.Trigger {
		return doc.Trigger().ConfigInputs
	}
	n, _ := doc.Node(t.NodeID)
	return n.ConfigInputs
}
