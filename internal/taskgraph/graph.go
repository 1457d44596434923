package taskgraph

import (
	"fmt"
	"sort"
)

// Graph is an arena of nodes with dependency edges stored as adjacency
// lists of arena indices.
type Graph struct {
	nodes      []*Node
	index      map[string]int
	deps       [][]int
	dependents [][]int
	linked     bool
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{index: make(map[string]int)}
}

// Add inserts a node. IDs must be unique.
func (g *Graph) Add(n *Node) error {
	if n == nil || n.ID == "" {
		return fmt.Errorf("taskgraph: node requires an id")
	}
	if _, dup := g.index[n.ID]; dup {
		return fmt.Errorf("taskgraph: duplicate node %q", n.ID)
	}
	g.index[n.ID] = len(g.nodes)
	g.nodes = append(g.nodes, n)
	g.linked = false
	return nil
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Node looks up a node by ID.
func (g *Graph) Node(id string) (*Node, bool) {
	i, ok := g.index[id]
	if !ok {
		return nil, false
	}
	return g.nodes[i], true
}

// Nodes returns nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	return append([]*Node(nil), g.nodes...)
}

// link resolves Deps into adjacency lists.
func (g *Graph) link() error {
	if g.linked {
		return nil
	}
	g.deps = make([][]int, len(g.nodes))
	g.dependents = make([][]int, len(g.nodes))
	for i, n := range g.nodes {
		seen := make(map[int]bool, len(n.Deps))
		for _, dep := range n.Deps {
			j, ok := g.index[dep]
			if !ok {
				return fmt.Errorf("taskgraph: node %q depends on unknown node %q", n.ID, dep)
			}
			if j == i {
				return fmt.Errorf("taskgraph: node %q depends on itself", n.ID)
			}
			if seen[j] {
				continue
			}
			seen[j] = true
			g.deps[i] = append(g.deps[i], j)
			g.dependents[j] = append(g.dependents[j], i)
		}
	}
	for i := range g.dependents {
		sort.Slice(g.dependents[i], func(a, b int) bool {
			return g.nodes[g.dependents[i][a]].ID < g.nodes[g.dependents[i][b]].ID
		})
	}
	g.linked = true
	return nil
}

// Levels groups node IDs by dependency depth using Kahn's algorithm. Nodes
// within a level have no dependency relationship. IDs in a level are sorted.
// Returns an error if a cycle is detected.
func (g *Graph) Levels() ([][]string, error) {
	idx, err := g.levels()
	if err != nil {
		return nil, err
	}
	out := make([][]string, len(idx))
	for l, level := range idx {
		for _, i := range level {
			out[l] = append(out[l], g.nodes[i].ID)
		}
	}
	return out, nil
}

func (g *Graph) levels() ([][]int, error) {
	if err := g.link(); err != nil {
		return nil, err
	}
	inDegree := make([]int, len(g.nodes))
	for i := range g.nodes {
		inDegree[i] = len(g.deps[i])
	}

	var queue []int
	for i, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, i)
		}
	}

	var levels [][]int
	visited := 0
	for len(queue) > 0 {
		sort.Slice(queue, func(a, b int) bool { return g.nodes[queue[a]].ID < g.nodes[queue[b]].ID })
		levels = append(levels, queue)
		visited += len(queue)

		var next []int
		for _, i := range queue {
			for _, dep := range g.dependents[i] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		queue = next
	}

	if visited != len(g.nodes) {
		return nil, fmt.Errorf("taskgraph: cycle detected, processed %d of %d nodes", visited, len(g.nodes))
	}
	return levels, nil
}

// order returns arena indices in a topological order.
func (g *Graph) order() ([]int, error) {
	levels, err := g.levels()
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, len(g.nodes))
	for _, level := range levels {
		out = append(out, level...)
	}
	return out, nil
}

// Dependents returns the IDs of nodes that directly depend on id.
func (g *Graph) Dependents(id string) []string {
	i, ok := g.index[id]
	if !ok || g.link() != nil {
		return nil
	}
	out := make([]string, 0, len(g.dependents[i]))
	for _, j := range g.dependents[i] {
		out = append(out, g.nodes[j].ID)
	}
	return out
}
