package dag

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by Build. Callers match with errors.Is.
var (
	ErrCyclicDependency  = errors.New("cyclic dependency")
	ErrMissingDependency = errors.New("missing dependency")
	ErrDuplicateNode     = errors.New("duplicate node")
)

// Node declares one vertex by name together with the names it depends on.
type Node struct {
	Name      string
	DependsOn []string
}

// Graph is a validated acyclic dependency graph. The zero value is not
// usable; construct with Build.
type Graph struct {
	order        []string
	predecessors map[string][]string
	successors   map[string][]string
}

// Build validates the node set and returns its graph. Dependencies must
// reference declared siblings and the graph must be acyclic; violations are
// reported with the offending node names.
func Build(nodes []Node) (*Graph, error) {
	g := &Graph{
		order:        make([]string, 0, len(nodes)),
		predecessors: make(map[string][]string, len(nodes)),
		successors:   make(map[string][]string, len(nodes)),
	}
	for _, node := range nodes {
		if _, exists := g.predecessors[node.Name]; exists {
			return nil, fmt.Errorf("%w: %q declared more than once", ErrDuplicateNode, node.Name)
		}
		g.order = append(g.order, node.Name)
		g.predecessors[node.Name] = nil
	}
	for _, node := range nodes {
		seen := make(map[string]struct{}, len(node.DependsOn))
		for _, dep := range node.DependsOn {
			if _, declared := g.predecessors[dep]; !declared {
				return nil, fmt.Errorf("%w: %q depends on undeclared node %q", ErrMissingDependency, node.Name, dep)
			}
			if _, dup := seen[dep]; dup {
				continue
			}
			seen[dep] = struct{}{}
			g.predecessors[node.Name] = append(g.predecessors[node.Name], dep)
			g.successors[dep] = append(g.successors[dep], node.Name)
		}
	}
	if residual := g.residualCycle(); len(residual) > 0 {
		return nil, fmt.Errorf("%w involving %s", ErrCyclicDependency, strings.Join(residual, ", "))
	}
	return g, nil
}

// residualCycle runs Kahn's algorithm and returns the nodes that never reach
// in-degree zero, in declaration order. Empty means acyclic.
func (g *Graph) residualCycle() []string {
	inDegree := make(map[string]int, len(g.order))
	for name, deps := range g.predecessors {
		inDegree[name] = len(deps)
	}
	queue := make([]string, 0, len(g.order))
	for _, name := range g.order {
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}
	visited := 0
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		visited++
		for _, succ := range g.successors[name] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}
	if visited == len(g.order) {
		return nil
	}
	residual := make([]string, 0, len(g.order)-visited)
	for _, name := range g.order {
		if inDegree[name] > 0 {
			residual = append(residual, name)
		}
	}
	return residual
}

// Names returns the node names in declaration order.
func (g *Graph) Names() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Len reports the number of nodes.
func (g *Graph) Len() int {
	return len(g.order)
}

// Contains reports whether name is a declared node.
func (g *Graph) Contains(name string) bool {
	_, ok := g.predecessors[name]
	return ok
}

// Predecessors returns the direct dependencies of name in declaration order.
func (g *Graph) Predecessors(name string) []string {
	deps := g.predecessors[name]
	out := make([]string, len(deps))
	copy(out, deps)
	return out
}

// Successors returns the direct dependents of name in declaration order.
func (g *Graph) Successors(name string) []string {
	succs := g.successors[name]
	out := make([]string, len(succs))
	copy(out, succs)
	return out
}

// Descendants returns every node reachable from name, in declaration order.
func (g *Graph) Descendants(name string) []string {
	reached := make(map[string]struct{})
	stack := append([]string(nil), g.successors[name]...)
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := reached[current]; seen {
			continue
		}
		reached[current] = struct{}{}
		stack = append(stack, g.successors[current]...)
	}
	out := make([]string, 0, len(reached))
	for _, candidate := range g.order {
		if _, ok := reached[candidate]; ok {
			out = append(out, candidate)
		}
	}
	return out
}

// Waves groups the nodes into dependency-ordered batches: every node appears
// strictly after all of its dependencies' waves. Waves larger than
// maxParallel are split, preserving declaration order. maxParallel at or
// below zero means unbounded.
func (g *Graph) Waves(maxParallel int) [][]string {
	inDegree := make(map[string]int, len(g.order))
	for name, deps := range g.predecessors {
		inDegree[name] = len(deps)
	}
	remaining := len(g.order)
	waves := make([][]string, 0, len(g.order))
	for remaining > 0 {
		ready := make([]string, 0, remaining)
		for _, name := range g.order {
			if degree, pending := inDegree[name]; pending && degree == 0 {
				ready = append(ready, name)
			}
		}
		for _, name := range ready {
			delete(inDegree, name)
			remaining--
		}
		for _, name := range ready {
			for _, succ := range g.successors[name] {
				if _, pending := inDegree[succ]; pending {
					inDegree[succ]--
				}
			}
		}
		for len(ready) > 0 {
			size := len(ready)
			if maxParallel > 0 && size > maxParallel {
				size = maxParallel
			}
			wave := make([]string, size)
			copy(wave, ready[:size])
			waves = append(waves, wave)
			ready = ready[size:]
		}
	}
	return waves
}
