package runner

import (
	"strings"
	"testing"

	"ninjacore/graph"
)

func edgeWithCommand(command string) *graph.Edge {
	state := graph.NewState()
	rule := graph.NewRule("run")
	var cmd graph.EvalString
	cmd.AddText(command)
	rule.AddBinding("command", &cmd)
	return state.AddEdge(rule)
}

func TestRealCommandRunnerSucceedingCommand(t *testing.T) {
	r := NewRealCommandRunner(Config{Parallelism: 1})
	edge := edgeWithCommand("echo hello")
	if !r.StartCommand(edge) {
		t.Fatalf("StartCommand failed")
	}

	var result Result
	if !r.WaitForCommand(&result) {
		t.Fatalf("WaitForCommand returned false")
	}
	if result.Status != ExitSuccess {
		t.Fatalf("Status = %v, want ExitSuccess", result.Status)
	}
	if result.Edge != edge {
		t.Fatalf("Result.Edge did not round-trip to the started edge")
	}
	if !strings.Contains(result.Output, "hello") {
		t.Fatalf("Output = %q, want it to contain \"hello\"", result.Output)
	}
}

func TestRealCommandRunnerFailingCommand(t *testing.T) {
	r := NewRealCommandRunner(Config{Parallelism: 1})
	edge := edgeWithCommand("exit 3")
	if !r.StartCommand(edge) {
		t.Fatalf("StartCommand failed")
	}

	var result Result
	if !r.WaitForCommand(&result) {
		t.Fatalf("WaitForCommand returned false")
	}
	if result.Status != ExitFailure {
		t.Fatalf("Status = %v, want ExitFailure", result.Status)
	}
}

func TestRealCommandRunnerGetActiveEdgesDuringExecution(t *testing.T) {
	r := NewRealCommandRunner(Config{Parallelism: 2})
	edge := edgeWithCommand("sleep 0.2")
	r.StartCommand(edge)

	active := r.GetActiveEdges()
	if len(active) != 1 || active[0] != edge {
		t.Fatalf("GetActiveEdges() = %v, want [edge]", active)
	}

	var result Result
	r.WaitForCommand(&result)
}

func TestSubprocessSetClearKillsRunningProcesses(t *testing.T) {
	set := NewSubprocessSet()
	if _, err := set.Add("sleep 5", false); err != nil {
		t.Fatalf("Add: %v", err)
	}
	set.Clear()
	if len(set.running) != 0 {
		t.Fatalf("Clear should empty the running set")
	}
}
