package engine

import (
	"fmt"
	"sort"

	"github.com/hostplane/provision/internal/config"
	proverrors "github.com/hostplane/provision/pkg/errors"
)

// Node represents a vertex in the execution DAG.
type Node struct {
	ID         string
	Spec       *config.ActionSpec
	Order      int
	DependsOn  []*Node
	Dependents []*Node
}

// Graph encapsulates the DAG structure and topological levels. Levels are
// deterministic: independent actions keep their catalog declaration order.
type Graph struct {
	Nodes  map[string]*Node
	Levels [][]string
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{Nodes: make(map[string]*Node)}
}

// AddNode inserts an action as a vertex in the graph. Order is the action's
// declaration index in the catalog, used as the deterministic tie-break.
func (g *Graph) AddNode(spec *config.ActionSpec, order int) (*Node, error) {
	if spec == nil {
		return nil, proverrors.NewConfigError("actions", "action cannot be nil", nil)
	}

	if g.Nodes == nil {
		g.Nodes = make(map[string]*Node)
	}

	if _, exists := g.Nodes[spec.ID]; exists {
		return nil, proverrors.NewConfigError("actions", fmt.Sprintf("duplicate action id %q", spec.ID), nil)
	}

	node := &Node{ID: spec.ID, Spec: spec, Order: order}
	g.Nodes[spec.ID] = node
	return node, nil
}

// AddEdge connects a dependency relationship between nodes.
func (g *Graph) AddEdge(from, to string) error {
	source, ok := g.Nodes[from]
	if !ok {
		return proverrors.NewConfigError("actions", fmt.Sprintf("unknown dependency %q", from), nil)
	}

	target, ok := g.Nodes[to]
	if !ok {
		return proverrors.NewConfigError("actions", fmt.Sprintf("unknown dependency target %q", to), nil)
	}

	source.Dependents = append(source.Dependents, target)
	target.DependsOn = append(target.DependsOn, source)
	return nil
}

// TopologicalSort computes the DAG levels using Kahn's algorithm. Ties among
// independent actions are broken by declaration order so two sorts of the
// same catalog produce identical plans. A cycle yields a CycleError naming
// the participating action identifiers.
func (g *Graph) TopologicalSort() error {
	indegree := make(map[string]int, len(g.Nodes))
	for id := range g.Nodes {
		indegree[id] = 0
	}

	for _, node := range g.Nodes {
		for _, dep := range node.Dependents {
			indegree[dep.ID]++
		}
	}

	var queue []string
	for id, degree := range indegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}
	g.sortByDeclaration(queue)

	processed := 0
	var levels [][]string

	for len(queue) > 0 {
		currentLevel := queue
		g.sortByDeclaration(currentLevel)
		levels = append(levels, append([]string(nil), currentLevel...))

		var nextLevel []string
		for _, id := range currentLevel {
			processed++
			node := g.Nodes[id]
			for _, dependent := range node.Dependents {
				indegree[dependent.ID]--
				if indegree[dependent.ID] == 0 {
					nextLevel = append(nextLevel, dependent.ID)
				}
			}
		}

		g.sortByDeclaration(nextLevel)
		queue = nextLevel
	}

	if processed != len(g.Nodes) {
		return proverrors.NewCycleError(g.findCycle())
	}

	g.Levels = levels
	return nil
}

func (g *Graph) sortByDeclaration(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		return g.Nodes[ids[i]].Order < g.Nodes[ids[j]].Order
	})
}

// findCycle walks the dependency relation depth-first and returns the members
// of one cycle, in traversal order with the entry node repeated at the end.
func (g *Graph) findCycle() []string {
	visiting := make(map[string]bool, len(g.Nodes))
	visited := make(map[string]bool, len(g.Nodes))
	var stack []string

	var cycle []string
	var dfs func(string) bool
	dfs = func(id string) bool {
		visiting[id] = true
		stack = append(stack, id)

		for _, dep := range g.Nodes[id].DependsOn {
			if visited[dep.ID] {
				continue
			}
			if visiting[dep.ID] {
				idx := indexOf(stack, dep.ID)
				if idx >= 0 {
					cycle = append([]string{}, stack[idx:]...)
					cycle = append(cycle, dep.ID)
				}
				return true
			}
			if dfs(dep.ID) {
				return true
			}
		}

		visiting[id] = false
		visited[id] = true
		stack = stack[:len(stack)-1]
		return false
	}

	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return g.Nodes[ids[i]].Order < g.Nodes[ids[j]].Order })

	for _, id := range ids {
		if visited[id] {
			continue
		}
		if dfs(id) {
			break
		}
	}

	return cycle
}

func indexOf(slice []string, target string) int {
	for i, v := range slice {
		if v == target {
			return i
		}
	}
	return -1
}
