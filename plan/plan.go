// Package plan tracks which edges a build wants to run, in what order,
// and how dyndep discoveries and pool admission reshape that want-state
// as the build progresses (spec.md §4.3/§4.5). Grounded on the teacher's
// build_plan.go/build_plan_h.go, with the Builder callback it depended on
// replaced by two narrow interfaces (StatusSink, DyndepLoader) so plan
// never imports the build package.
package plan

import (
	"github.com/ahrtr/gocontainer/queue/priorityqueue"

	"ninjacore/dyndep"
	"ninjacore/errkind"
	"ninjacore/graph"
	"ninjacore/scan"
)

// Want records, per edge the plan has ever touched, whether we still need
// to build it.
type Want int8

const (
	// WantNothing: we don't want to build this edge, but we might still
	// want one of its dependents.
	WantNothing Want = iota
	// WantToStart: we want this edge built but haven't scheduled it yet.
	WantToStart
	// WantToFinish: scheduled, awaiting completion.
	WantToFinish
)

// EdgeResult is how a just-finished edge's command came out.
type EdgeResult int8

const (
	EdgeFailed EdgeResult = iota
	EdgeSucceeded
)

// StatusSink lets the plan report edges entering/leaving its want-set
// without importing whatever owns the progress display.
type StatusSink interface {
	EdgeAddedToPlan(edge *graph.Edge)
	EdgeRemovedFromPlan(edge *graph.Edge)
}

// DyndepLoader lets NodeFinished trigger a dyndep load (which in turn
// calls back into DyndepsLoaded) without the plan package depending on
// whatever orchestrates the scan + dyndep loader pairing.
type DyndepLoader interface {
	LoadDyndeps(node *graph.Node) error
}

// Plan is the want/ready bookkeeping layer between DependencyScan (which
// says what's dirty) and the executor loop (which asks FindWork for the
// next edge to run).
type Plan struct {
	want map[*graph.Edge]Want
	ready priorityqueue.Interface

	status StatusSink
	dyndep DyndepLoader

	// targets are the user-requested roots, in request order; used only
	// by ComputeCriticalPath's topological walk.
	targets []*graph.Node

	commandEdges int
	wantedEdges  int
}

func NewPlan(status StatusSink, dyndep DyndepLoader) *Plan {
	return &Plan{
		want:   make(map[*graph.Edge]Want),
		ready:  priorityqueue.New().WithComparator(graph.EdgeReadyCmp{}),
		status: status,
		dyndep: dyndep,
	}
}

// AddTarget adds target (and transitively everything it depends on) to
// the plan. Returns false if target is already up to date.
func (this *Plan) AddTarget(target *graph.Node) (bool, error) {
	this.targets = append(this.targets, target)
	return this.AddSubTarget(target, nil, nil)
}

// AddSubTarget walks node and its inputs into the want-set. dependent is
// used only to phrase the "missing and no known rule to make it" error.
// dyndepWalk, when non-nil, restricts the walk to edges newly discovered
// by one dyndep file and marks every edge it touches, mirroring the
// teacher's DyndepsLoaded recursion.
func (this *Plan) AddSubTarget(node *graph.Node, dependent *graph.Node, dyndepWalk map[*graph.Edge]bool) (bool, error) {
	edge := node.InEdge()
	if edge == nil {
		if node.Dirty() && !node.GeneratedByDepLoader() {
			referenced := ""
			if dependent != nil {
				referenced = ", needed by '" + dependent.Path() + "',"
			}
			return false, errkind.Wrap(errkind.MissingSource, "'%s'%s missing and no known rule to make it", node.Path(), referenced)
		}
		return false, nil
	}

	if edge.OutputsReady {
		return false, nil
	}

	want, exists := this.want[edge]
	if !exists {
		this.want[edge] = WantNothing
		want = WantNothing
	}

	if dyndepWalk != nil && want == WantToFinish {
		return false, nil
	}

	if node.Dirty() && want == WantNothing {
		want = WantToStart
		this.want[edge] = want
		this.EdgeWanted(edge)
	}

	if dyndepWalk != nil {
		dyndepWalk[edge] = true
	}

	if exists {
		return true, nil
	}

	for _, input := range edge.Inputs {
		if _, err := this.AddSubTarget(input, node, dyndepWalk); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (this *Plan) EdgeWanted(edge *graph.Edge) {
	this.wantedEdges++
	if !edge.IsPhony() {
		this.commandEdges++
		if this.status != nil {
			this.status.EdgeAddedToPlan(edge)
		}
	}
}

// FindWork pops a ready edge, or nil if none is waiting.
func (this *Plan) FindWork() *graph.Edge {
	if this.ready.IsEmpty() {
		return nil
	}
	return this.ready.Poll().(*graph.Edge)
}

// MoreToDo reports whether the plan still has wanted edges with commands
// left to run.
func (this *Plan) MoreToDo() bool {
	return this.wantedEdges > 0 && this.commandEdges > 0
}

func (this *Plan) CommandEdgeCount() int { return this.commandEdges }

// Reset clears the want/ready sets, e.g. between independent builds
// sharing one State.
func (this *Plan) Reset() {
	this.commandEdges = 0
	this.wantedEdges = 0
	this.ready.Clear()
	this.want = map[*graph.Edge]Want{}
}

// EdgeFinished marks edge as done (successfully or not), releases any
// pool slot it held, and — on success — propagates completion to its
// outputs. Returns an error only if a dyndep load triggered by one of
// those outputs fails.
func (this *Plan) EdgeFinished(edge *graph.Edge, result EdgeResult) error {
	want, ok := this.want[edge]
	if !ok {
		panic("plan: EdgeFinished on an edge the plan never wanted")
	}
	directlyWanted := want != WantNothing

	if directlyWanted {
		edge.Pool.EdgeFinished(edge)
	}
	edge.Pool.RetrieveReadyEdges(this.ready)

	if result != EdgeSucceeded {
		return nil
	}

	if directlyWanted {
		this.wantedEdges--
	}
	delete(this.want, edge)
	edge.OutputsReady = true

	for _, o := range edge.Outputs {
		if err := this.NodeFinished(o); err != nil {
			return err
		}
	}
	return nil
}

// NodeFinished updates the plan with the knowledge that node is now up to
// date: if node is a dyndep binding for any of its dependents, this loads
// it; otherwise it checks whether node unblocked any wanted edge.
func (this *Plan) NodeFinished(node *graph.Node) error {
	if node.DyndepPending() {
		if this.dyndep == nil {
			panic("plan: dyndep-pending node but no DyndepLoader wired")
		}
		return this.dyndep.LoadDyndeps(node)
	}

	for _, oe := range node.OutEdges() {
		if _, ok := this.want[oe]; !ok {
			continue
		}
		if err := this.EdgeMaybeReady(oe); err != nil {
			return err
		}
	}
	return nil
}

// EdgeMaybeReady schedules edge if all its inputs are now ready; if we
// didn't actually want edge ourselves, this just threads completion
// through to its own dependents via EdgeFinished.
func (this *Plan) EdgeMaybeReady(edge *graph.Edge) error {
	if !edge.AllInputsReady() {
		return nil
	}
	if this.want[edge] != WantNothing {
		this.ScheduleWork(edge)
		return nil
	}
	return this.EdgeFinished(edge, EdgeSucceeded)
}

// ScheduleWork submits a ready edge as a candidate for execution; it may
// be delayed immediately if its pool is already at capacity.
func (this *Plan) ScheduleWork(edge *graph.Edge) {
	want := this.want[edge]
	if want == WantToFinish {
		// Already scheduled — reachable if an edge shares an order-only
		// input with one of its own dependents, or a node lists the same
		// out-edge twice. Scheduling twice would double-admit it.
		return
	}
	if want != WantToStart {
		panic("plan: ScheduleWork on an edge that isn't WantToStart")
	}
	this.want[edge] = WantToFinish

	pool := edge.Pool
	if pool.ShouldDelayEdge() {
		pool.DelayEdge(edge)
		pool.RetrieveReadyEdges(this.ready)
	} else {
		pool.EdgeScheduled(edge)
		this.ready.Add(edge)
	}
}

// CleanNode marks node as no longer dirty during the build and, for every
// wanted out-edge whose inputs are now all clean, recomputes whether its
// outputs are actually dirty — demoting the edge out of the want-set (and
// recursing into its own outputs) when they turn out not to be.
func (this *Plan) CleanNode(s *scan.Scan, node *graph.Node) error {
	node.SetDirty(false)

	for _, oe := range node.OutEdges() {
		want, ok := this.want[oe]
		if !ok || want == WantNothing {
			continue
		}
		if oe.DepsMissing {
			continue
		}

		end := len(oe.Inputs) - oe.OrderOnlyDeps
		anyDirty := false
		for i := 0; i < end; i++ {
			if oe.Inputs[i].Dirty() {
				anyDirty = true
				break
			}
		}
		if !anyDirty {
			continue
		}

		var mostRecentInput *graph.Node
		for i := 0; i < end; i++ {
			if mostRecentInput == nil || oe.Inputs[i].Mtime() > mostRecentInput.Mtime() {
				mostRecentInput = oe.Inputs[i]
			}
		}

		outputsDirty, err := s.RecomputeOutputsDirty(oe, mostRecentInput)
		if err != nil {
			return err
		}
		if outputsDirty {
			continue
		}

		for _, o := range oe.Outputs {
			if err := this.CleanNode(s, o); err != nil {
				return err
			}
		}

		this.want[oe] = WantNothing
		this.wantedEdges--
		if !oe.IsPhony() {
			this.commandEdges--
			if this.status != nil {
				this.status.EdgeRemovedFromPlan(oe)
			}
		}
	}
	return nil
}

// PrepareQueue computes critical-path weights and loads the initial ready
// set; call after every AddTarget and before the first FindWork.
func (this *Plan) PrepareQueue() {
	this.ComputeCriticalPath()
	this.ScheduleInitialEdges()
}

// edgeWeightHeuristic is the per-edge contribution to critical-path
// weight: phony edges are free, everything else costs one step.
func edgeWeightHeuristic(edge *graph.Edge) int64 {
	if edge.IsPhony() {
		return 0
	}
	return 1
}

// ComputeCriticalPath assigns each edge reachable from the plan's targets
// a weight equal to the longest chain of real commands still ahead of it,
// so FindWork's ready queue favors edges that gate the most downstream
// work.
func (this *Plan) ComputeCriticalPath() {
	topo := NewTopoSort()
	for _, target := range this.targets {
		topo.VisitTarget(target)
	}
	sorted := topo.Result()

	for _, edge := range sorted {
		edge.CriticalPathWeight = edgeWeightHeuristic(edge)
	}

	for i := len(sorted) - 1; i >= 0; i-- {
		edge := sorted[i]
		edgeWeight := edge.CriticalPathWeight
		for _, input := range edge.Inputs {
			producer := input.InEdge()
			if producer == nil {
				continue
			}
			candidate := edgeWeight + edgeWeightHeuristic(producer)
			if candidate > producer.CriticalPathWeight {
				producer.CriticalPathWeight = candidate
			}
		}
	}
}

// ScheduleInitialEdges admits every WantToStart edge whose inputs are
// already all ready, must run after ComputeCriticalPath and before the
// first FindWork.
func (this *Plan) ScheduleInitialEdges() {
	if !this.ready.IsEmpty() {
		panic("plan: ScheduleInitialEdges called with a non-empty ready queue")
	}

	pools := map[*graph.Pool]bool{}
	for edge, want := range this.want {
		if want == WantToStart && edge.AllInputsReady() {
			pool := edge.Pool
			if pool.ShouldDelayEdge() {
				pool.DelayEdge(edge)
				pools[pool] = true
			} else {
				this.ScheduleWork(edge)
			}
		}
	}

	// Drain pools only after every edge has been considered. A pool admits
	// its delayed edges in the order DelayEdge saw them (the want map's
	// iteration order here), not by critical-path weight.
	for pool := range pools {
		pool.RetrieveReadyEdges(this.ready)
	}
}

// DyndepsLoaded folds a freshly-parsed dyndep file's discoveries into the
// plan: it refreshes the dirty state of node's existing dependents, walks
// any newly-revealed implicit inputs into the want-set, and checks
// whether that unblocked anything.
func (this *Plan) DyndepsLoaded(s *scan.Scan, node *graph.Node, ddf dyndep.File) error {
	if err := this.RefreshDyndepDependents(s, node); err != nil {
		return err
	}

	var dyndepRoots []*dyndep.Dependencies
	for oe, info := range ddf {
		if oe.OutputsReady {
			continue
		}
		if _, ok := this.want[oe]; !ok {
			continue
		}
		dyndepRoots = append(dyndepRoots, info)
	}

	dyndepWalk := map[*graph.Edge]bool{}
	for _, info := range dyndepRoots {
		for _, input := range info.ImplicitInputs {
			if _, err := this.AddSubTarget(input, node, dyndepWalk); err != nil {
				return err
			}
		}
	}

	for _, oe := range node.OutEdges() {
		if _, ok := this.want[oe]; !ok {
			continue
		}
		dyndepWalk[oe] = true
	}

	for we := range dyndepWalk {
		if _, ok := this.want[we]; !ok {
			continue
		}
		if err := this.EdgeMaybeReady(we); err != nil {
			return err
		}
	}
	return nil
}

// RefreshDyndepDependents re-runs RecomputeDirty over every transitive
// dependent of node (whose dirtiness may depend on information the
// dyndep file just revealed) and promotes any that turned out dirty, and
// wanted, into the want-set.
func (this *Plan) RefreshDyndepDependents(s *scan.Scan, node *graph.Node) error {
	dependents := map[*graph.Node]bool{}
	this.UnmarkDependents(node, dependents)

	for n := range dependents {
		var validationNodes []*graph.Node
		if err := s.RecomputeDirty(n, &validationNodes); err != nil {
			return err
		}

		for _, v := range validationNodes {
			if inEdge := v.InEdge(); inEdge != nil && !inEdge.OutputsReady {
				if _, err := this.AddTarget(v); err != nil {
					return err
				}
			}
		}

		if !n.Dirty() {
			continue
		}

		edge := n.InEdge()
		if edge == nil || !edge.OutputsReady {
			panic("plan: dyndep dependent became dirty with no pending producing edge")
		}
		want, ok := this.want[edge]
		if !ok {
			panic("plan: dyndep dependent's edge was never in the want-set")
		}
		if want == WantNothing {
			this.want[edge] = WantToStart
			this.EdgeWanted(edge)
		}
	}
	return nil
}

// UnmarkDependents collects the transitive closure of node's dependents
// that the plan actually wants, clearing their DFS mark so the next
// RecomputeDirty pass is willing to revisit them.
func (this *Plan) UnmarkDependents(node *graph.Node, dependents map[*graph.Node]bool) {
	for _, oe := range node.OutEdges() {
		if _, ok := this.want[oe]; !ok {
			continue
		}
		if oe.Mark != graph.VisitNone {
			oe.Mark = graph.VisitNone
			for _, o := range oe.Outputs {
				if !dependents[o] {
					dependents[o] = true
					this.UnmarkDependents(o, dependents)
				}
			}
		}
	}
}
