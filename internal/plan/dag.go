package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/msageha/migrun/internal/model"
)

// dependencyEdges returns task → dependencies for every distinct task ID,
// keeping only edges to existing tasks other than the task itself.
// Unknown refs and self loops are reported by their own checks.
func dependencyEdges(g *model.TaskGraph) (nodes []string, edges map[string][]string) {
	nodes = g.IDs()
	edges = make(map[string][]string, len(nodes))
	for _, id := range nodes {
		t, _ := g.Task(id)
		for _, dep := range t.Dependencies() {
			if dep == id || !g.Has(dep) {
				continue
			}
			edges[id] = append(edges[id], dep)
		}
	}
	return nodes, edges
}

// FindCycles runs a depth-first search with recursion-stack tracking and
// returns each distinct cycle once, as a closed path (first == last).
// Every back edge found yields one cycle, so every cyclic component is reported.
func FindCycles(g *model.TaskGraph) [][]string {
	nodes, edges := dependencyEdges(g)

	const (
		white = 0 // unvisited
		gray  = 1 // on the recursion stack
		black = 2 // finished
	)
	color := make(map[string]int, len(nodes))
	var stack []string
	seen := make(map[string]bool)
	var cycles [][]string

	var dfs func(node string)
	dfs = func(node string) {
		color[node] = gray
		stack = append(stack, node)
		for _, dep := range edges[node] {
			switch color[dep] {
			case gray:
				start := len(stack) - 1
				for stack[start] != dep {
					start--
				}
				cycle := canonicalCycle(stack[start:])
				key := strings.Join(cycle, "\x00")
				if !seen[key] {
					seen[key] = true
					cycles = append(cycles, cycle)
				}
			case white:
				dfs(dep)
			}
		}
		stack = stack[:len(stack)-1]
		color[node] = black
	}

	for _, n := range nodes {
		if color[n] == white {
			dfs(n)
		}
	}
	return cycles
}

// canonicalCycle rotates the cycle to start at its smallest ID and closes it.
func canonicalCycle(path []string) []string {
	minIdx := 0
	for i, id := range path {
		if id < path[minIdx] {
			minIdx = i
		}
	}
	out := make([]string, 0, len(path)+1)
	out = append(out, path[minIdx:]...)
	out = append(out, path[:minIdx]...)
	out = append(out, out[0])
	return out
}

// TopologicalOrder returns task IDs with every dependency before its dependents,
// using Kahn's algorithm with ID order as tie-break. It fails on cycles.
func TopologicalOrder(g *model.TaskGraph) ([]string, error) {
	nodes, edges := dependencyEdges(g)
	if len(nodes) == 0 {
		return nil, nil
	}

	inDegree := make(map[string]int, len(nodes))
	forward := make(map[string][]string)
	for _, n := range nodes {
		inDegree[n] = len(edges[n])
		for _, dep := range edges[n] {
			forward[dep] = append(forward[dep], n)
		}
	}

	var queue []string
	for _, n := range nodes {
		if inDegree[n] == 0 {
			queue = append(queue, n)
		}
	}

	sorted := make([]string, 0, len(nodes))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		sorted = append(sorted, node)

		var released []string
		for _, dependent := range forward[node] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				released = append(released, dependent)
			}
		}
		sort.Strings(released)
		queue = append(queue, released...)
		sort.Strings(queue)
	}

	if len(sorted) != len(nodes) {
		cycles := FindCycles(g)
		if len(cycles) > 0 {
			return nil, fmt.Errorf("circular dependency detected: %s", strings.Join(cycles[0], " -> "))
		}
		return nil, fmt.Errorf("circular dependency detected")
	}
	return sorted, nil
}
