package graph

// Options tunes the pixel mapping of a layout. The values are presentation
// only and do not affect levels.
type Options struct {
	SpacingX     float64
	SpacingY     float64
	CenterOffset float64
}

// DefaultOptions returns spacing that keeps default-sized nodes apart.
func DefaultOptions() Options {
	return Options{SpacingX: 300, SpacingY: 150}
}

// Position is the computed placement of one node.
type Position struct {
	Level int     `json:"level"`
	Index int     `json:"index"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

// Layout is the result of layering a node set.
type Layout struct {
	Positions map[string]Position
	Levels    [][]string // node ids per level, original order within a level
}

// ComputeLayout assigns every id in order a level and a pixel position.
//
// Levels are longest-path depths from dependency-free nodes: a node sits one
// level below its deepest parent. Nodes that are never reached (cycle
// residue) fall back to level 0. Edges that reference ids outside order, and
// self edges, are ignored. The computation never fails.
func ComputeLayout(order []string, edges []Edge, opts Options) *Layout {
	known := make(map[string]bool, len(order))
	for _, id := range order {
		known[id] = true
	}

	dependencies := make(map[string]map[string]bool, len(order))
	dependents := make(map[string][]string, len(order))
	for _, e := range edges {
		if !known[e.Source] || !known[e.Target] || e.Source == e.Target {
			continue
		}
		if dependencies[e.Target] == nil {
			dependencies[e.Target] = make(map[string]bool)
		}
		if dependencies[e.Target][e.Source] {
			continue
		}
		dependencies[e.Target][e.Source] = true
		dependents[e.Source] = append(dependents[e.Source], e.Target)
	}

	// Worklist relaxation in topological order: a node is settled once every
	// parent is settled, so its level is the max over parents plus one.
	pending := make(map[string]int, len(order))
	level := make(map[string]int, len(order))
	visited := make(map[string]bool, len(order))
	queue := make([]string, 0, len(order))
	for _, id := range order {
		if visited[id] {
			continue
		}
		pending[id] = len(dependencies[id])
		if pending[id] == 0 {
			visited[id] = true
			level[id] = 0
			queue = append(queue, id)
		}
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, child := range dependents[id] {
			if level[id]+1 > level[child] {
				level[child] = level[id] + 1
			}
			pending[child]--
			if pending[child] == 0 && !visited[child] {
				visited[child] = true
				queue = append(queue, child)
			}
		}
	}

	for _, id := range order {
		if !visited[id] {
			level[id] = 0
		}
	}

	return place(order, level, opts)
}

func place(order []string, level map[string]int, opts Options) *Layout {
	maxLevel := -1
	for _, id := range order {
		if level[id] > maxLevel {
			maxLevel = level[id]
		}
	}

	out := &Layout{
		Positions: make(map[string]Position, len(order)),
		Levels:    make([][]string, maxLevel+1),
	}
	seen := make(map[string]bool, len(order))
	for _, id := range order {
		if seen[id] {
			continue
		}
		seen[id] = true
		l := level[id]
		out.Levels[l] = append(out.Levels[l], id)
	}

	for l, ids := range out.Levels {
		startX := -(float64(len(ids))*opts.SpacingX)/2 + opts.CenterOffset
		for i, id := range ids {
			out.Positions[id] = Position{
				Level: l,
				Index: i,
				X:     startX + float64(i)*opts.SpacingX,
				Y:     float64(l) * opts.SpacingY,
			}
		}
	}

	return out
}

// LevelOf returns the level of id, or -1 if it was not laid out.
func (l *Layout) LevelOf(id string) int {
	if p, ok := l.Positions[id]; ok {
		return p.Level
	}
	return -1
}
