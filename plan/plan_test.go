package plan

import (
	"testing"

	"ninjacore/errkind"
	"ninjacore/graph"
)

type fakeStatusSink struct {
	added   []*graph.Edge
	removed []*graph.Edge
}

func (this *fakeStatusSink) EdgeAddedToPlan(edge *graph.Edge)   { this.added = append(this.added, edge) }
func (this *fakeStatusSink) EdgeRemovedFromPlan(edge *graph.Edge) { this.removed = append(this.removed, edge) }

type fakeDyndepLoader struct{ loaded []*graph.Node }

func (this *fakeDyndepLoader) LoadDyndeps(node *graph.Node) error {
	this.loaded = append(this.loaded, node)
	return nil
}

func buildCompileEdge(state *graph.State, in, out string) *graph.Edge {
	edge := state.AddEdge(graph.NewRule("cc"))
	state.AddIn(edge, in, 0)
	state.AddOut(edge, out, 0)
	return edge
}

func TestPlanSingleEdgeLifecycle(t *testing.T) {
	state := graph.NewState()
	edge := buildCompileEdge(state, "a.c", "a.o")
	out := state.GetNode("a.o", 0)
	out.SetDirty(true)

	sink := &fakeStatusSink{}
	p := NewPlan(sink, &fakeDyndepLoader{})

	ok, err := p.AddTarget(out)
	if err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	if !ok {
		t.Fatalf("AddTarget should return true for a dirty target")
	}
	if p.CommandEdgeCount() != 1 {
		t.Fatalf("CommandEdgeCount = %d, want 1", p.CommandEdgeCount())
	}
	if len(sink.added) != 1 || sink.added[0] != edge {
		t.Fatalf("expected EdgeAddedToPlan to fire for the one command edge")
	}

	p.PrepareQueue()

	work := p.FindWork()
	if work != edge {
		t.Fatalf("FindWork returned %v, want the compile edge", work)
	}
	if p.FindWork() != nil {
		t.Fatalf("only one edge was ready; a second FindWork should return nil")
	}

	if !p.MoreToDo() {
		t.Fatalf("MoreToDo should be true before the edge finishes")
	}
	if err := p.EdgeFinished(work, EdgeSucceeded); err != nil {
		t.Fatalf("EdgeFinished: %v", err)
	}
	if p.MoreToDo() {
		t.Fatalf("MoreToDo should be false once the only wanted edge finished")
	}
	if len(sink.removed) != 0 {
		t.Fatalf("EdgeFinished on success doesn't go through CleanNode, so no EdgeRemovedFromPlan is expected")
	}
}

func TestAddTargetRejectsMissingSourceWithNoRule(t *testing.T) {
	state := graph.NewState()
	missing := state.GetNode("missing.c", 0)
	missing.SetDirty(true)

	p := NewPlan(nil, nil)
	_, err := p.AddTarget(missing)
	if err == nil {
		t.Fatalf("expected an error for a dirty node with no producing edge")
	}
	if errkind.KindOf(err) != errkind.MissingSource {
		t.Fatalf("KindOf(err) = %v, want MissingSource", errkind.KindOf(err))
	}
}

func TestAddTargetAllowsMissingDepLoaderGeneratedNode(t *testing.T) {
	state := graph.NewState()
	generated := state.GetNode("generated.h", 0)
	generated.SetDirty(true)
	generated.SetGeneratedByDepLoader(true)

	p := NewPlan(nil, nil)
	ok, err := p.AddTarget(generated)
	if err != nil {
		t.Fatalf("a depfile-discovered missing node should not error: %v", err)
	}
	if ok {
		t.Fatalf("a node with no producing edge is never actually added to the want-set")
	}
}

func TestAddTargetNotDirtyIsAlreadyUpToDate(t *testing.T) {
	state := graph.NewState()
	buildCompileEdge(state, "a.c", "a.o")
	out := state.GetNode("a.o", 0)
	// out.Dirty() defaults to false: nothing to build.

	p := NewPlan(nil, nil)
	ok, err := p.AddTarget(out)
	if err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	if ok {
		t.Fatalf("AddTarget on an already-clean target should report false")
	}
	if p.CommandEdgeCount() != 0 {
		t.Fatalf("CommandEdgeCount = %d, want 0", p.CommandEdgeCount())
	}
}

func TestPoolDelaysSecondEdgeUntilFirstFinishes(t *testing.T) {
	state := graph.NewState()
	pool := graph.NewPool("link_pool", 1)

	first := buildCompileEdge(state, "a.c", "a.o")
	first.Pool = pool
	second := buildCompileEdge(state, "b.c", "b.o")
	second.Pool = pool

	state.GetNode("a.o", 0).SetDirty(true)
	state.GetNode("b.o", 0).SetDirty(true)

	p := NewPlan(nil, nil)
	if _, err := p.AddTarget(state.GetNode("a.o", 0)); err != nil {
		t.Fatalf("AddTarget a.o: %v", err)
	}
	if _, err := p.AddTarget(state.GetNode("b.o", 0)); err != nil {
		t.Fatalf("AddTarget b.o: %v", err)
	}
	p.PrepareQueue()

	first1 := p.FindWork()
	if first1 == nil {
		t.Fatalf("expected exactly one edge admitted under pool depth 1")
	}
	if second1 := p.FindWork(); second1 != nil {
		t.Fatalf("a second edge should still be delayed by the pool, got %v", second1)
	}

	if err := p.EdgeFinished(first1, EdgeSucceeded); err != nil {
		t.Fatalf("EdgeFinished: %v", err)
	}

	released := p.FindWork()
	if released == nil {
		t.Fatalf("finishing the first edge should free the pool slot for the second")
	}
	if first1 == released {
		t.Fatalf("the released edge should be the other one, not the edge that already finished")
	}
	if first1 != first && first1 != second {
		t.Fatalf("unexpected edge admitted first: %v", first1)
	}
}
