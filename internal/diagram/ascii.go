package diagram

import (
	"fmt"
	"strings"

	"github.com/sigmoyd/flowcraft/pkg/schema"
)

// statusTag returns a short ASCII indicator for a node status.
func statusTag(s *StatusOverlay) string {
	if s == nil {
		return ""
	}
	switch strings.ToLower(s.Status) {
	case schema.NodeStatusSucceeded:
		return "[OK]"
	case schema.NodeStatusFailed:
		return "[FAIL]"
	case schema.NodeStatusUnavailable:
		return "[N/A]"
	}
	if s.Failed {
		return "[" + strings.ToUpper(s.Status) + "]"
	}
	return ""
}

// RenderASCII renders a DiagramModel as a text diagram, one row of boxes per
// level followed by the edge list.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder

	if model.Title != "" {
		b.WriteString(fmt.Sprintf("=== %s ===\n\n", model.Title))
	}

	for levelIdx, level := range model.Levels {
		var boxes []asciiBox
		for _, nodeID := range level {
			node := findNode(model.Nodes, nodeID)
			if node == nil {
				continue
			}
			boxes = append(boxes, makeBox(node))
		}

		renderBoxRow(&b, boxes)

		if levelIdx < len(model.Levels)-1 {
			renderConnector(&b, len(boxes))
		}
	}

	if len(model.Edges) > 0 {
		b.WriteString("\n--- data flow ---\n")
		for _, e := range model.Edges {
			arrow := "─→"
			if e.Class == EdgeClassTrigger {
				arrow = "═⇒"
			}
			b.WriteString(fmt.Sprintf("  %s %s %s  (%s)\n", labelOf(model, e.From), arrow, labelOf(model, e.To), e.Label))
		}
	}

	return b.String()
}

type asciiBox struct {
	lines []string
	width int
}

func makeBox(node *Node) asciiBox {
	contentLines := []string{firstLine(node.Label)}
	if node.Meta.ToolAction != "" {
		contentLines = append(contentLines, node.Meta.ToolAction)
	}
	if node.Meta.ConnectorLabel != "" {
		contentLines = append(contentLines, node.Meta.ConnectorLabel)
	}
	if tag := statusTag(node.Status); tag != "" {
		contentLines = append(contentLines, tag)
	}

	maxLen := 0
	for _, line := range contentLines {
		if n := len([]rune(line)); n > maxLen {
			maxLen = n
		}
	}
	width := maxLen + 4

	lines := make([]string, 0, len(contentLines)+2)
	lines = append(lines, "┌"+strings.Repeat("─", width-2)+"┐")
	for _, content := range contentLines {
		padded := content + strings.Repeat(" ", maxLen-len([]rune(content)))
		lines = append(lines, "│ "+padded+" │")
	}
	lines = append(lines, "└"+strings.Repeat("─", width-2)+"┘")

	return asciiBox{lines: lines, width: width}
}

func firstLine(s string) string {
	if i := strings.Index(s, "\n"); i >= 0 {
		return s[:i]
	}
	return s
}

func renderBoxRow(b *strings.Builder, boxes []asciiBox) {
	if len(boxes) == 0 {
		return
	}

	maxHeight := 0
	for _, box := range boxes {
		if len(box.lines) > maxHeight {
			maxHeight = len(box.lines)
		}
	}

	for row := 0; row < maxHeight; row++ {
		for i, box := range boxes {
			if i > 0 {
				b.WriteString("  ")
			}
			if row < len(box.lines) {
				b.WriteString(box.lines[row])
			} else {
				b.WriteString(strings.Repeat(" ", box.width))
			}
		}
		b.WriteByte('\n')
	}
}

func renderConnector(b *strings.Builder, boxCount int) {
	if boxCount == 0 {
		return
	}
	b.WriteString("       │\n")
	b.WriteString("       ▼\n")
}

func labelOf(model *DiagramModel, id string) string {
	if n := findNode(model.Nodes, id); n != nil {
		return fmt.Sprintf("%s#%s", firstLine(n.Label), id)
	}
	return id
}

func findNode(nodes []*Node, id string) *Node {
	for _, n := range nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
