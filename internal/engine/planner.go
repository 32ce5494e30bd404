package engine

import (
	"fmt"
	"strings"

	proverrors "github.com/hostplane/provision/pkg/errors"
)

// Plan contains the ordered execution levels for one provisioning run.
// Actions within a level have no dependency relationship with each other.
type Plan struct {
	Levels [][]string
}

// GeneratePlan converts a DAG into an execution plan. When only is non-empty
// the plan is restricted to the named actions plus their transitive
// dependencies, so a partial run never executes an action before its
// prerequisites.
func GeneratePlan(graph *Graph, only []string) (*Plan, error) {
	if graph == nil {
		return nil, fmt.Errorf("graph cannot be nil")
	}

	keep, err := selectionSet(graph, only)
	if err != nil {
		return nil, err
	}

	levels := make([][]string, 0, len(graph.Levels))
	for _, ids := range graph.Levels {
		var level []string
		for _, id := range ids {
			if keep == nil {
				level = append(level, id)
				continue
			}
			if _, ok := keep[id]; ok {
				level = append(level, id)
			}
		}
		if len(level) > 0 {
			levels = append(levels, level)
		}
	}

	return &Plan{Levels: levels}, nil
}

// ActionIDs returns the plan's actions flattened into execution order.
func (p *Plan) ActionIDs() []string {
	if p == nil {
		return nil
	}
	var ids []string
	for _, level := range p.Levels {
		ids = append(ids, level...)
	}
	return ids
}

// Size reports how many actions the plan contains.
func (p *Plan) Size() int {
	if p == nil {
		return 0
	}
	total := 0
	for _, level := range p.Levels {
		total += len(level)
	}
	return total
}

// String renders a human readable summary of the plan.
func (p *Plan) String() string {
	if p == nil {
		return ""
	}

	var b strings.Builder
	for i, level := range p.Levels {
		fmt.Fprintf(&b, "Level %d (%d actions): %s\n", i+1, len(level), strings.Join(level, ", "))
	}
	return b.String()
}

// selectionSet expands the --only identifiers into the closure of their
// transitive dependencies. Returns nil when no restriction applies.
func selectionSet(graph *Graph, only []string) (map[string]struct{}, error) {
	if len(only) == 0 {
		return nil, nil
	}

	keep := make(map[string]struct{})
	var walk func(*Node)
	walk = func(node *Node) {
		if _, seen := keep[node.ID]; seen {
			return
		}
		keep[node.ID] = struct{}{}
		for _, dep := range node.DependsOn {
			walk(dep)
		}
	}

	for _, id := range only {
		node, ok := graph.Nodes[id]
		if !ok {
			return nil, proverrors.NewConfigError("only", fmt.Sprintf("unknown action %q", id), nil)
		}
		walk(node)
	}

	return keep, nil
}
