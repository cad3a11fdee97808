// Package document holds the versioned workflow document and the mutations
// that produce new versions from it.
package document

import (
	"sync/atomic"

	"github.com/sigmoyd/flowcraft/pkg/schema"
)

var versionSeq atomic.Uint64

func nextVersion() uint64 { return versionSeq.Add(1) }

// Document is an immutable version of a workflow. Every mutation returns a
// new Document; the receiver is never changed. Untouched nodes share storage
// with the previous version and are never written through.
type Document struct {
	wf      *schema.Workflow
	version uint64
	dirty   bool
}

// New wraps a workflow as a clean document. The workflow is copied.
func New(wf *schema.Workflow) *Document {
	if wf == nil {
		wf = &schema.Workflow{}
	}
	return &Document{wf: wf.Clone(), version: nextVersion()}
}

// Version is unique per document value across the process. Caches key on it.
func (d *Document) Version() uint64 { return d.version }

// Dirty reports whether a mutation has been applied since the last save.
func (d *Document) Dirty() bool { return d.dirty }

// Workflow returns a deep copy of the document content.
func (d *Document) Workflow() *schema.Workflow { return d.wf.Clone() }

// ID returns the workflow id.
func (d *Document) ID() schema.ID { return d.wf.WorkflowID }

// Name returns the workflow name.
func (d *Document) Name() string { return d.wf.WorkflowName }

// Trigger returns a copy of the trigger.
func (d *Document) Trigger() schema.Trigger {
	t := d.wf.Trigger
	t.ConfigInputs = t.ConfigInputs.Clone()
	return t
}

// Node returns a copy of the node with the given id.
func (d *Document) Node(id schema.ID) (schema.WorkflowNode, bool) {
	n := d.wf.Node(id)
	if n == nil {
		return schema.WorkflowNode{}, false
	}
	return n.Clone(), true
}

// NodeIDs returns the node ids in document order.
func (d *Document) NodeIDs() []schema.ID {
	ids := make([]schema.ID, len(d.wf.Workflow))
	for i := range d.wf.Workflow {
		ids[i] = d.wf.Workflow[i].ID
	}
	return ids
}

// MarkSaved replaces the content with the document the server returned and
// clears the dirty flag. A nil saved document keeps the current content.
func MarkSaved(d *Document, saved *schema.Workflow) *Document {
	wf := d.wf
	if saved != nil {
		wf = saved.Clone()
	}
	return &Document{wf: wf, version: nextVersion()}
}

// shallow copies the workflow header and the node slice. Node values are
// copied but their maps and slices are still shared; callers must clone
// whatever they write.
func (d *Document) shallow() *schema.Workflow {
	wf := *d.wf
	wf.Workflow = make([]schema.WorkflowNode, len(d.wf.Workflow))
	copy(wf.Workflow, d.wf.Workflow)
	return &wf
}
