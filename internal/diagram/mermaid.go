package diagram

import (
	"fmt"
	"strings"

	"github.com/sigmoyd/flowcraft/pkg/schema"
)

// RenderMermaid renders a DiagramModel as a Mermaid flowchart string.
// Data edges are dotted, trigger edges thick.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("graph TD\n")

	if model.Title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", model.Title))
	}

	for _, node := range model.Nodes {
		b.WriteString(fmt.Sprintf("    %s\n", mermaidNodeDef(node)))
	}

	for _, edge := range model.Edges {
		arrow := "-.->"
		if edge.Class == EdgeClassTrigger {
			arrow = "==>"
		}
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", mermaidEscapeLabel(edge.Label))
		}
		b.WriteString(fmt.Sprintf("    %s %s%s %s\n",
			mermaidSafeID(edge.From), arrow, label, mermaidSafeID(edge.To)))
	}

	b.WriteString("\n")
	b.WriteString("    classDef succeeded fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef failed fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef unavailable fill:#6b6b6b,stroke:#4a4a4a,color:#fff,stroke-dasharray:5 5\n")
	b.WriteString("    classDef trigger fill:#1a5276,stroke:#0e3a52,color:#fff\n")

	for _, node := range model.Nodes {
		cls := ""
		if node.Status != nil {
			cls = mermaidStatusClass(node.Status)
		} else if node.Kind == NodeKindTrigger {
			cls = "trigger"
		}
		if cls != "" {
			b.WriteString(fmt.Sprintf("    class %s %s\n", mermaidSafeID(node.ID), cls))
		}
	}

	return b.String()
}

// mermaidNodeDef returns a Mermaid node definition with the shape of its kind.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := mermaidEscapeLabel(firstLine(node.Label))

	switch node.Kind {
	case NodeKindTrigger:
		return fmt.Sprintf("%s((%q))", id, label)
	case NodeKindLLM:
		return fmt.Sprintf("%s{{%q}}", id, label)
	case NodeKindConnector:
		return fmt.Sprintf("%s[[%q]]", id, label)
	default:
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

// mermaidSafeID converts a node ID to a Mermaid-safe identifier. Ids are
// prefixed because Mermaid rejects purely numeric node names in some
// positions.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return "n_" + r.Replace(id)
}

func mermaidEscapeLabel(s string) string {
	return strings.NewReplacer(`"`, "'", "|", "/").Replace(s)
}

func mermaidStatusClass(s *StatusOverlay) string {
	switch strings.ToLower(s.Status) {
	case schema.NodeStatusSucceeded:
		return "succeeded"
	case schema.NodeStatusUnavailable:
		return "unavailable"
	}
	if s.Failed {
		return "failed"
	}
	return ""
}
