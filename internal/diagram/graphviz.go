package diagram

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/sigmoyd/flowcraft/pkg/schema"
)

// RenderImage renders a DiagramModel as a PNG image using graphviz.
func RenderImage(ctx context.Context, model *DiagramModel) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("diagram: create graphviz: %w", err)
	}
	defer gv.Close()

	gv.SetLayout(graphviz.DOT)

	graph, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("diagram: create graph: %w", err)
	}
	defer graph.Close()

	graph.SetRankDir(cgraph.TBRank)
	if model.Title != "" {
		graph.SetLabel(model.Title)
	}

	gvNodes := make(map[string]*cgraph.Node, len(model.Nodes))
	for _, node := range model.Nodes {
		gvNode, nErr := graph.CreateNodeByName("n" + node.ID)
		if nErr != nil {
			return nil, fmt.Errorf("diagram: create node %s: %w", node.ID, nErr)
		}
		gvNode.SetLabel(imageLabel(node))
		applyNodeStyle(gvNode, node)
		gvNodes[node.ID] = gvNode
	}

	for _, edge := range model.Edges {
		fromGV, toGV := gvNodes[edge.From], gvNodes[edge.To]
		if fromGV == nil || toGV == nil {
			continue
		}
		e, eErr := graph.CreateEdgeByName(edge.ID, fromGV, toGV)
		if eErr != nil {
			continue
		}
		if edge.Label != "" {
			e.SetLabel(edge.Label)
		}
		if edge.Class == EdgeClassTrigger {
			e.SetColor("blue")
			e.SetPenWidth(2)
		} else {
			e.SetStyle(cgraph.DashedEdgeStyle)
		}
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, graphviz.PNG, &buf); err != nil {
		return nil, fmt.Errorf("diagram: render PNG: %w", err)
	}

	return buf.Bytes(), nil
}

func imageLabel(node *Node) string {
	parts := []string{firstLine(node.Label)}
	if node.Meta.ToolAction != "" {
		parts = append(parts, node.Meta.ToolAction)
	}
	if node.Meta.ConnectorLabel != "" {
		parts = append(parts, node.Meta.ConnectorLabel)
	}
	return strings.Join(parts, "\n")
}

// applyNodeStyle sets graphviz attributes based on node kind and status.
func applyNodeStyle(gvNode *cgraph.Node, node *Node) {
	switch node.Kind {
	case NodeKindTool:
		gvNode.SetShape(cgraph.BoxShape)
	case NodeKindConnector:
		gvNode.SetShape(cgraph.ParallelogramShape)
	case NodeKindLLM:
		gvNode.SetShape(cgraph.HexagonShape)
	case NodeKindTrigger:
		gvNode.SetShape(cgraph.EllipseShape)
		gvNode.SetStyle(cgraph.FilledNodeStyle)
		gvNode.SetFillColor("#1a5276")
		gvNode.SetFontColor("white")
	}

	if node.Status != nil {
		applyStatusColor(gvNode, node.Status)
	}
}

func applyStatusColor(gvNode *cgraph.Node, s *StatusOverlay) {
	gvNode.SetStyle(cgraph.FilledNodeStyle)
	switch {
	case strings.EqualFold(s.Status, schema.NodeStatusSucceeded):
		gvNode.SetFillColor("#2d6a2d")
		gvNode.SetFontColor("white")
	case strings.EqualFold(s.Status, schema.NodeStatusUnavailable):
		gvNode.SetFillColor("#e8e8e8")
		gvNode.SetFontColor("#888888")
		gvNode.SetStyle(cgraph.DashedNodeStyle)
	case s.Failed:
		gvNode.SetFillColor("#8b1a1a")
		gvNode.SetFontColor("white")
	}
}
