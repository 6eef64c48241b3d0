package buildlog

import (
	"path/filepath"
	"testing"

	"ninjacore/graph"
	"ninjacore/hash"
)

func newCommandEdge(state *graph.State, out, command string) *graph.Edge {
	rule := graph.NewRule("cc")
	var cmd graph.EvalString
	cmd.AddText(command)
	rule.AddBinding("command", &cmd)
	edge := state.AddEdge(rule)
	state.AddOut(edge, out, 0)
	return edge
}

func TestRecordCommandThenLookupByOutput(t *testing.T) {
	state := graph.NewState()
	edge := newCommandEdge(state, "a.o", "cc -c a.c -o a.o")

	log := NewLog()
	if err := log.RecordCommand(edge, 10, 20, 12345); err != nil {
		t.Fatalf("RecordCommand: %v", err)
	}

	entry := log.LookupByOutput("a.o")
	if entry == nil {
		t.Fatalf("expected an entry for a.o")
	}
	if entry.StartTimeMs != 10 || entry.EndTimeMs != 20 || entry.RestatMtime != 12345 {
		t.Fatalf("entry = %+v", entry)
	}
	if entry.CommandHash != hash.HashCommand("cc -c a.c -o a.o") {
		t.Fatalf("CommandHash does not match HashCommand of the evaluated command")
	}
}

func TestRecordCommandUpsertsLatestWins(t *testing.T) {
	state := graph.NewState()
	edge := newCommandEdge(state, "a.o", "cc -c a.c -o a.o")

	log := NewLog()
	log.RecordCommand(edge, 1, 2, 100)
	log.RecordCommand(edge, 3, 4, 200)

	entry := log.LookupByOutput("a.o")
	if entry.StartTimeMs != 3 || entry.EndTimeMs != 4 || entry.RestatMtime != 200 {
		t.Fatalf("second RecordCommand should overwrite the first: %+v", entry)
	}
}

func TestLoadNonexistentFileReportsNotFound(t *testing.T) {
	log := NewLog()
	status, err := log.Load(filepath.Join(t.TempDir(), "no_such.ninja_log"))
	if err != nil {
		t.Fatalf("Load of a missing file should not error: %v", err)
	}
	if status != LoadNotFound {
		t.Fatalf("status = %v, want LoadNotFound", status)
	}
}

func TestOpenForWriteThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".ninja_log")

	state := graph.NewState()
	edge := newCommandEdge(state, "a.o", "cc -c a.c -o a.o")

	writer := NewLog()
	if err := writer.OpenForWrite(path, nil); err != nil {
		t.Fatalf("OpenForWrite: %v", err)
	}
	if err := writer.RecordCommand(edge, 1, 2, 42); err != nil {
		t.Fatalf("RecordCommand: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reader := NewLog()
	status, err := reader.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if status != LoadSuccess {
		t.Fatalf("status = %v, want LoadSuccess", status)
	}
	entry := reader.LookupByOutput("a.o")
	if entry == nil {
		t.Fatalf("expected the round-tripped entry for a.o")
	}
	if entry.RestatMtime != 42 {
		t.Fatalf("entry.RestatMtime = %d, want 42", entry.RestatMtime)
	}
}

func TestRecompactDropsDeadOutputs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".ninja_log")

	state := graph.NewState()
	liveEdge := newCommandEdge(state, "live.o", "cc -c live.c -o live.o")
	deadEdge := newCommandEdge(state, "dead.o", "cc -c dead.c -o dead.o")

	log := NewLog()
	if err := log.OpenForWrite(path, nil); err != nil {
		t.Fatalf("OpenForWrite: %v", err)
	}
	log.RecordCommand(liveEdge, 1, 2, 1)
	log.RecordCommand(deadEdge, 1, 2, 1)
	log.Close()

	user := deadPathUser{dead: map[string]bool{"dead.o": true}}
	if err := log.Recompact(path, user); err != nil {
		t.Fatalf("Recompact: %v", err)
	}
	if log.LookupByOutput("dead.o") != nil {
		t.Fatalf("Recompact should have dropped the dead entry from memory")
	}
	if log.LookupByOutput("live.o") == nil {
		t.Fatalf("Recompact should have kept the live entry")
	}

	reloaded := NewLog()
	status, err := reloaded.Load(path)
	if err != nil || status != LoadSuccess {
		t.Fatalf("reload after Recompact: status=%v err=%v", status, err)
	}
	if reloaded.LookupByOutput("dead.o") != nil {
		t.Fatalf("the recompacted file on disk should not mention dead.o")
	}
	if reloaded.LookupByOutput("live.o") == nil {
		t.Fatalf("the recompacted file on disk should still mention live.o")
	}
}

type deadPathUser struct{ dead map[string]bool }

func (this deadPathUser) IsPathDead(path string) bool { return this.dead[path] }
