package resolver

import (
	"sort"
	"strings"

	"github.com/mgiedrius/pakt/internal/errdefs"
)

// Node is one package in a dependency graph.
type Node struct {
	ID      int
	Name    string
	Version string
}

// Edge records that From depends on To under an optional constraint.
type Edge struct {
	From       int
	To         int
	Constraint string
}

// Graph holds nodes in an arena slice and relates them purely by id, so
// cycles need no special ownership handling.
type Graph struct {
	nodes   []Node
	byName  map[string]int
	forward map[int][]Edge
	reverse map[int][]Edge
}

// NewGraph returns an empty dependency graph.
func NewGraph() *Graph {
	return &Graph{
		byName:  make(map[string]int),
		forward: make(map[int][]Edge),
		reverse: make(map[int][]Edge),
	}
}

// AddNode inserts a node for name, or returns the existing one's id.
func (g *Graph) AddNode(name, version string) int {
	if id, ok := g.byName[name]; ok {
		return id
	}
	id := len(g.nodes)
	g.nodes = append(g.nodes, Node{ID: id, Name: name, Version: version})
	g.byName[name] = id
	return id
}

// AddEdge records that from depends on to.
func (g *Graph) AddEdge(from, to int, constraint string) {
	g.forward[from] = append(g.forward[from], Edge{From: from, To: to, Constraint: constraint})
	g.reverse[to] = append(g.reverse[to], Edge{From: from, To: to, Constraint: constraint})
}

// Node returns the node with the given id.
func (g *Graph) Node(id int) Node { return g.nodes[id] }

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Lookup finds a node id by package name.
func (g *Graph) Lookup(name string) (int, bool) {
	id, ok := g.byName[name]
	return id, ok
}

// Dependencies returns the out-edges of a node.
func (g *Graph) Dependencies(id int) []Edge { return g.forward[id] }

// Dependents returns the in-edges of a node.
func (g *Graph) Dependents(id int) []Edge { return g.reverse[id] }

// TopologicalOrder returns node ids with every dependency ordered before its
// dependents (Kahn's algorithm). When a cycle prevents a full ordering, the
// cycle's members are extracted by depth-first search and reported.
func (g *Graph) TopologicalOrder() ([]int, error) {
	remaining := make([]int, len(g.nodes))
	var queue []int
	for id := range g.nodes {
		remaining[id] = len(g.forward[id])
		if remaining[id] == 0 {
			queue = append(queue, id)
		}
	}

	var order []int
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, e := range g.reverse[id] {
			remaining[e.From]--
			if remaining[e.From] == 0 {
				queue = append(queue, e.From)
			}
		}
	}

	if len(order) < len(g.nodes) {
		members := g.cycleMembers()
		return nil, errdefs.New(errdefs.KindCycleDetected,
			"dependency cycle: %s", strings.Join(members, " -> "))
	}
	return order, nil
}

const (
	white = iota // unvisited
	grey         // on the current path
	black        // fully explored
)

// cycleMembers finds one cycle by DFS colouring and returns its member
// names, sorted for stable error messages.
func (g *Graph) cycleMembers() []string {
	colour := make([]int, len(g.nodes))
	parent := make([]int, len(g.nodes))
	for i := range parent {
		parent[i] = -1
	}

	var cycle []string
	var visit func(id int) bool
	visit = func(id int) bool {
		colour[id] = grey
		for _, e := range g.forward[id] {
			switch colour[e.To] {
			case white:
				parent[e.To] = id
				if visit(e.To) {
					return true
				}
			case grey:
				// Walk back from id to e.To to collect the cycle.
				cycle = append(cycle, g.nodes[e.To].Name)
				for n := id; n != e.To && n != -1; n = parent[n] {
					cycle = append(cycle, g.nodes[n].Name)
				}
				return true
			}
		}
		colour[id] = black
		return false
	}

	for id := range g.nodes {
		if colour[id] == white && visit(id) {
			break
		}
	}
	sort.Strings(cycle)
	return cycle
}

// BreakingSet returns the names of every node that transitively depends on
// id: the packages that would break if it were removed.
func (g *Graph) BreakingSet(id int) []string {
	seen := make(map[int]bool)
	var walk func(int)
	walk = func(n int) {
		for _, e := range g.reverse[n] {
			if !seen[e.From] {
				seen[e.From] = true
				walk(e.From)
			}
		}
	}
	walk(id)

	var names []string
	for n := range seen {
		names = append(names, g.nodes[n].Name)
	}
	sort.Strings(names)
	return names
}
