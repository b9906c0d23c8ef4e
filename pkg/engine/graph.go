package engine

import (
	"fmt"
	"strings"
)

// edgeKind distinguishes the three kinds of edge between steps.
type edgeKind string

const (
	edgeRequires  edgeKind = "requires"
	edgeConfigure edgeKind = "configure"
	edgeTarget    edgeKind = "target"
)

type stepEdge struct {
	from  string
	to    string
	kind  edgeKind
	phase PrereqPhase
}

// stepGraph is the dependency graph of a catalog. Edges point from the
// prerequisite to the dependent step.
type stepGraph struct {
	steps []Step

	// adjacencyList maps step names to their dependents
	adjacencyList map[string][]string

	edges []stepEdge
}

func newStepGraph(steps []Step) *stepGraph {
	g := &stepGraph{
		steps:         steps,
		adjacencyList: make(map[string][]string, len(steps)),
	}
	for _, s := range steps {
		g.adjacencyList[s.Name] = make([]string, 0)
	}
	for _, s := range steps {
		for _, p := range s.Requires {
			g.addEdge(stepEdge{from: p.Step, to: s.Name, kind: edgeRequires, phase: p.Phase})
		}
		for _, p := range s.ConfigureRequires {
			g.addEdge(stepEdge{from: p.Step, to: s.Name, kind: edgeConfigure, phase: p.Phase})
		}
		if s.Target != "" {
			g.addEdge(stepEdge{from: s.Target, to: s.Name, kind: edgeTarget})
		}
	}
	return g
}

func (g *stepGraph) addEdge(e stepEdge) {
	g.adjacencyList[e.from] = append(g.adjacencyList[e.from], e.to)
	g.edges = append(g.edges, e)
}

// findCycle uses depth-first search to find a circular dependency, visiting
// steps in declaration order so the reported cycle is deterministic.
func (g *stepGraph) findCycle() []string {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, s := range g.steps {
		if visited[s.Name] {
			continue
		}
		if cycle := g.findCycleFrom(s.Name, visited, recStack, nil); cycle != nil {
			return cycle
		}
	}
	return nil
}

func (g *stepGraph) findCycleFrom(name string, visited, recStack map[string]bool, path []string) []string {
	visited[name] = true
	recStack[name] = true
	path = append(path, name)

	for _, dependent := range g.adjacencyList[name] {
		if !visited[dependent] {
			if cycle := g.findCycleFrom(dependent, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[dependent] {
			for i, id := range path {
				if id == dependent {
					cycle := append([]string(nil), path[i:]...)
					return append(cycle, dependent)
				}
			}
		}
	}

	recStack[name] = false
	return nil
}

// toDOT generates a DOT representation of the graph. Steps are ranked in
// declaration order; configure-phase edges are dashed and target edges dotted.
func (g *stepGraph) toDOT(scenario string) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("digraph %q {\n", scenario))
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for i, s := range g.steps {
		label := fmt.Sprintf("%d. %s\\n%s", i+1, s.Name, stepPhases(s))
		sb.WriteString(fmt.Sprintf("  %q [label=\"%s\", fillcolor=\"%s\", style=\"filled,rounded\"];\n",
			s.Name, label, stepColor(s)))
	}
	if len(g.edges) > 0 {
		sb.WriteString("\n")
	}

	for _, e := range g.edges {
		sb.WriteString(fmt.Sprintf("  %q -> %q [%s];\n", e.from, e.to, edgeStyle(e)))
	}

	sb.WriteString("}\n")
	return sb.String()
}

// formatCycle formats a cycle path for error messages.
func formatCycle(cycle []string) string {
	return strings.Join(cycle, " -> ")
}

func stepPhases(s Step) string {
	switch {
	case s.Create && s.Configure:
		return "create+configure"
	case s.Create:
		return "create"
	case s.Target != "":
		return "configure " + s.Target
	default:
		return "configure"
	}
}

func stepColor(s Step) string {
	switch {
	case s.EffectivePolicy() == PolicySoft:
		return "lightyellow"
	case s.Create:
		return "lightgreen"
	default:
		return "lightblue"
	}
}

func edgeStyle(e stepEdge) string {
	var style string
	switch e.kind {
	case edgeConfigure:
		style = "style=dashed, color=blue"
	case edgeTarget:
		style = "style=dotted, color=gray, label=\"target\""
	default:
		style = "style=solid, color=black"
	}
	if e.phase == PrereqCreated {
		style += ", arrowhead=empty"
	}
	return style
}
