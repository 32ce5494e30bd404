package engine

import (
	"fmt"

	"github.com/hostplane/provision/internal/config"
	proverrors "github.com/hostplane/provision/pkg/errors"
)

// BuildDAG constructs the execution graph from the catalog's actions.
// Disabled actions are excluded, and dependencies on disabled actions are
// rejected since the dependent could otherwise run without its prerequisite.
func BuildDAG(actions []config.ActionSpec) (*Graph, error) {
	graph := NewGraph()
	enabled := make(map[string]*config.ActionSpec, len(actions))

	for i := range actions {
		spec := &actions[i]
		if !spec.Enabled {
			continue
		}
		if _, err := graph.AddNode(spec, i); err != nil {
			return nil, err
		}
		enabled[spec.ID] = spec
	}

	for _, spec := range actions {
		if !spec.Enabled {
			continue
		}
		for _, dependency := range spec.DependsOn {
			if _, ok := enabled[dependency]; !ok {
				return nil, proverrors.NewConfigError("actions", fmt.Sprintf("action %q depends on unknown or disabled action %q", spec.ID, dependency), nil)
			}
			if err := graph.AddEdge(dependency, spec.ID); err != nil {
				return nil, err
			}
		}
	}

	if err := graph.TopologicalSort(); err != nil {
		return nil, err
	}

	return graph, nil
}
