package depslog

import (
	"path/filepath"
	"testing"

	"ninjacore/graph"
)

func TestRecordDepsThenGetDeps(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".ninja_deps")
	state := graph.NewState()

	log := NewLog()
	if status, err := log.Load(path, state); err != nil || status != LoadNotFound {
		t.Fatalf("Load of a missing file: status=%v err=%v", status, err)
	}

	out := state.GetNode("a.o", 0)
	in1 := state.GetNode("a.h", 0)
	in2 := state.GetNode("b.h", 0)

	if err := log.RecordDeps(out, 100, []*graph.Node{in1, in2}); err != nil {
		t.Fatalf("RecordDeps: %v", err)
	}
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	deps, mtime, ok := log.GetDeps(out)
	if !ok {
		t.Fatalf("expected recorded deps for a.o")
	}
	if mtime != 100 {
		t.Fatalf("mtime = %d, want 100", mtime)
	}
	if len(deps) != 2 || deps[0] != in1 || deps[1] != in2 {
		t.Fatalf("deps = %v", deps)
	}
}

func TestRecordDepsIsNoopWhenUnchanged(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".ninja_deps")
	state := graph.NewState()
	log := NewLog()
	log.Load(path, state)

	out := state.GetNode("a.o", 0)
	in1 := state.GetNode("a.h", 0)

	if err := log.RecordDeps(out, 100, []*graph.Node{in1}); err != nil {
		t.Fatalf("RecordDeps (first): %v", err)
	}
	if err := log.RecordDeps(out, 100, []*graph.Node{in1}); err != nil {
		t.Fatalf("RecordDeps (identical second call): %v", err)
	}
	deps, mtime, ok := log.GetDeps(out)
	if !ok || mtime != 100 || len(deps) != 1 || deps[0] != in1 {
		t.Fatalf("deps = %v, mtime = %d, ok = %v", deps, mtime, ok)
	}
}

func TestLoadRoundTripsAcrossProcesses(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".ninja_deps")

	writerState := graph.NewState()
	writer := NewLog()
	writer.Load(path, writerState)

	out := writerState.GetNode("a.o", 0)
	in1 := writerState.GetNode("a.h", 0)
	writer.RecordDeps(out, 55, []*graph.Node{in1})
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	readerState := graph.NewState()
	reader := NewLog()
	status, err := reader.Load(path, readerState)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if status != LoadSuccess {
		t.Fatalf("status = %v, want LoadSuccess", status)
	}

	reloadedOut := readerState.GetNode("a.o", 0)
	deps, mtime, ok := reader.GetDeps(reloadedOut)
	if !ok {
		t.Fatalf("expected deps to survive a reload")
	}
	if mtime != 55 {
		t.Fatalf("mtime = %d, want 55", mtime)
	}
	if len(deps) != 1 || deps[0].Path() != "a.h" {
		t.Fatalf("deps = %v", deps)
	}
}

func TestIsDepsEntryLiveForRequiresDepsBinding(t *testing.T) {
	state := graph.NewState()
	rule := graph.NewRule("cc")
	rule.AddBinding("deps", mustEval("gcc"))
	edge := state.AddEdge(rule)
	state.AddOut(edge, "a.o", 0)

	node := state.GetNode("a.o", 0)
	if !IsDepsEntryLiveFor(node) {
		t.Fatalf("a node whose producing rule declares deps=gcc should be live")
	}

	bare := state.GetNode("b.o", 0)
	if IsDepsEntryLiveFor(bare) {
		t.Fatalf("a node with no producing edge should never be live")
	}
}

func mustEval(s string) *graph.EvalString {
	var e graph.EvalString
	e.AddText(s)
	return &e
}
