package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sigmoyd/flowcraft/internal/graph"
	"github.com/sigmoyd/flowcraft/pkg/schema"
)

// validateCycles reports nodes caught in a data-flow cycle (Kahn's algorithm
// over the resolved edges). Layout still places them, at level 0, so this is
// a warning.
func validateCycles(wf *schema.Workflow) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	ids := make(map[string]bool, len(wf.Workflow))
	for i := range wf.Workflow {
		ids[wf.Workflow[i].ID.String()] = true
	}

	inDegree := make(map[string]int, len(ids))
	children := make(map[string][]string, len(ids))
	seen := make(map[[2]string]bool)
	for _, e := range graph.ResolveEdges(wf) {
		pair := [2]string{e.Source, e.Target}
		if e.FromTrigger || e.Source == e.Target || !ids[e.Source] || seen[pair] {
			continue
		}
		seen[pair] = true
		inDegree[e.Target]++
		children[e.Source] = append(children[e.Source], e.Target)
	}

	queue := make([]string, 0, len(ids))
	for id := range ids {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	visited := make(map[string]bool, len(ids))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited[node] = true
		for _, c := range children[node] {
			inDegree[c]--
			if inDegree[c] == 0 {
				queue = append(queue, c)
			}
		}
	}

	if len(visited) == len(ids) {
		return result
	}
	var stuck []string
	for id := range ids {
		if !visited[id] {
			stuck = append(stuck, id)
		}
	}
	sort.Strings(stuck)
	result.AddWarning("workflow", schema.ErrCodeValidation,
		fmt.Sprintf("nodes in or behind a data-flow cycle: %s", strings.Join(stuck, ", ")))
	return result
}
