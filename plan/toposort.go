package plan

import "ninjacore/graph"

// TopoSort performs a depth-first topological sort of every edge
// reachable from a set of targets, appending each edge to the result only
// after every edge producing one of its inputs (its "parents" in build
// order) has already been appended — so Result() lists producers before
// consumers. The build graph is required to be acyclic by the time this
// runs (scan.Scan.RecomputeDirty already rejected cycles), so a simple
// visited set suffices; no temporary/permanent mark distinction is
// needed.
type TopoSort struct {
	visitedSet map[*graph.Edge]bool
	sorted     []*graph.Edge
}

func NewTopoSort() *TopoSort {
	return &TopoSort{visitedSet: make(map[*graph.Edge]bool)}
}

func (this *TopoSort) VisitTarget(target *graph.Node) {
	if producer := target.InEdge(); producer != nil {
		this.Visit(producer)
	}
}

func (this *TopoSort) Visit(edge *graph.Edge) {
	if this.visitedSet[edge] {
		return
	}
	this.visitedSet[edge] = true
	for _, input := range edge.Inputs {
		if producer := input.InEdge(); producer != nil {
			this.Visit(producer)
		}
	}
	this.sorted = append(this.sorted, edge)
}

func (this *TopoSort) Result() []*graph.Edge { return this.sorted }
