package build

import (
	"testing"

	"ninjacore/disk"
	"ninjacore/errkind"
	"ninjacore/graph"
	"ninjacore/runner"
	"ninjacore/status"
)

// fakeDisk is an in-memory disk.Interface double, same shape as the one
// scan's tests use: missing paths stat as MissingTimeStamp, everything
// else is tracked in plain maps.
type fakeDisk struct {
	mtimes map[string]graph.TimeStamp
	files  map[string]string
}

func newFakeDisk() *fakeDisk {
	return &fakeDisk{mtimes: map[string]graph.TimeStamp{}, files: map[string]string{}}
}

func (this *fakeDisk) StatNode(node *graph.Node) (graph.TimeStamp, bool, error) {
	return this.Stat(node.Path())
}

func (this *fakeDisk) Stat(path string) (graph.TimeStamp, bool, error) {
	mtime, ok := this.mtimes[path]
	if !ok {
		return graph.MissingTimeStamp, true, nil
	}
	return mtime, false, nil
}

func (this *fakeDisk) WriteFile(path, contents string) bool {
	this.files[path] = contents
	this.mtimes[path] = 1
	return true
}

func (this *fakeDisk) MakeDir(path string) bool { return true }

func (this *fakeDisk) MakeDirs(path string) (bool, error) { return true, nil }

func (this *fakeDisk) ReadFile(path string) (string, disk.ReadStatus, error) {
	content, ok := this.files[path]
	if !ok {
		return "", disk.NotFound, nil
	}
	return content, disk.Okay, nil
}

func (this *fakeDisk) RemoveFile(path string) int {
	if _, ok := this.files[path]; !ok {
		if _, ok := this.mtimes[path]; !ok {
			return 1
		}
	}
	delete(this.files, path)
	delete(this.mtimes, path)
	return 0
}

func (this *fakeDisk) AllowStatCache(allow bool) {}

func buildCompileEdge(state *graph.State, in, out string) *graph.Edge {
	edge := state.AddEdge(graph.NewRule("cc"))
	var cmd graph.EvalString
	cmd.AddText("cc -c")
	edge.Rule.AddBinding("command", &cmd)
	state.AddIn(edge, in, 0)
	state.AddOut(edge, out, 0)
	return edge
}

func newTestBuilder(d *fakeDisk, cfg Config) (*graph.State, *Builder) {
	state := graph.NewState()
	printer := status.NewPrinter(status.Config{Verbosity: status.Quiet, Parallelism: 1})
	b := NewBuilder(state, cfg, nil, nil, d, printer, 0)
	return state, b
}

func TestAddTargetThenAlreadyUpToDate(t *testing.T) {
	d := newFakeDisk()
	state, b := newTestBuilder(d, NewConfig())
	buildCompileEdge(state, "a.c", "a.o")
	d.set("a.c", 1)
	// a.o is never written: missing output means dirty.

	if _, err := b.AddTarget("a.o"); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	if b.AlreadyUpToDate() {
		t.Fatalf("a target with a missing output should not be up to date")
	}
}

func TestAddTargetUnknownNameIsMissingSource(t *testing.T) {
	d := newFakeDisk()
	_, b := newTestBuilder(d, NewConfig())
	if _, err := b.AddTarget("nonexistent"); err == nil {
		t.Fatalf("expected an error for an unknown target name")
	} else if errkind.KindOf(err) != errkind.MissingSource {
		t.Fatalf("KindOf(err) = %v, want MissingSource", errkind.KindOf(err))
	}
}

func TestBuildDryRunSucceedsAndSettlesThePlan(t *testing.T) {
	d := newFakeDisk()
	cfg := NewConfig()
	cfg.DryRun = true
	state, b := newTestBuilder(d, cfg)
	buildCompileEdge(state, "a.c", "a.o")
	d.set("a.c", 1)

	if _, err := b.AddTarget("a.o"); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	if b.AlreadyUpToDate() {
		t.Fatalf("expected work to do before Build")
	}

	if err := b.Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !b.AlreadyUpToDate() {
		t.Fatalf("expected the plan to be fully settled after a successful dry run")
	}
}

// fakeRunner is a scripted CommandRunner double: it hands back a
// pre-recorded Result for each StartCommand, in start order, letting a
// test dictate exactly how a command "finishes" without spawning a real
// subprocess.
type fakeRunner struct {
	started []*graph.Edge
	results map[*graph.Edge]runner.Result
	pending []*graph.Edge
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{results: map[*graph.Edge]runner.Result{}}
}

func (this *fakeRunner) StartCommand(edge *graph.Edge) bool {
	this.started = append(this.started, edge)
	this.pending = append(this.pending, edge)
	return true
}

func (this *fakeRunner) WaitForCommand(result *runner.Result) bool {
	if len(this.pending) == 0 {
		return false
	}
	edge := this.pending[0]
	this.pending = this.pending[1:]
	r, ok := this.results[edge]
	if !ok {
		r = runner.Result{Edge: edge, Status: runner.ExitSuccess}
	}
	*result = r
	return true
}

func (this *fakeRunner) GetActiveEdges() []*graph.Edge { return nil }
func (this *fakeRunner) CanRunMore() int64             { return 1 }
func (this *fakeRunner) Abort()                        {}

func TestBuildPropagatesCommandFailure(t *testing.T) {
	d := newFakeDisk()
	state, b := newTestBuilder(d, NewConfig())
	edge := buildCompileEdge(state, "a.c", "a.o")
	d.set("a.c", 1)

	if _, err := b.AddTarget("a.o"); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}

	fr := newFakeRunner()
	fr.results[edge] = runner.Result{Edge: edge, Status: runner.ExitFailure, Output: "boom"}
	b.runner = fr

	err := b.Build()
	if err == nil {
		t.Fatalf("expected Build to report the failed command")
	}
	if errkind.KindOf(err) != errkind.CommandFailure {
		t.Fatalf("KindOf(err) = %v, want CommandFailure", errkind.KindOf(err))
	}
}

func TestBuildInterruptedByUser(t *testing.T) {
	d := newFakeDisk()
	state, b := newTestBuilder(d, NewConfig())
	edge := buildCompileEdge(state, "a.c", "a.o")
	d.set("a.c", 1)

	if _, err := b.AddTarget("a.o"); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}

	fr := newFakeRunner()
	fr.results[edge] = runner.Result{Edge: edge, Status: runner.ExitInterrupted}
	b.runner = fr

	err := b.Build()
	if err == nil {
		t.Fatalf("expected Build to report interruption")
	}
	if errkind.KindOf(err) != errkind.Interrupted {
		t.Fatalf("KindOf(err) = %v, want Interrupted", errkind.KindOf(err))
	}
}

func (this *fakeDisk) set(path string, mtime graph.TimeStamp) {
	this.mtimes[path] = mtime
}
