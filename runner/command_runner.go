package runner

import (
	"math"

	"github.com/mikoim/go-loadavg"

	"ninjacore/graph"
)

// CommandRunner is the interface Builder drives the executor loop
// through (spec.md §4.4): start as many commands as CanRunMore allows,
// then block for the next one to finish.
type CommandRunner interface {
	StartCommand(edge *graph.Edge) bool
	WaitForCommand(result *Result) bool
	GetActiveEdges() []*graph.Edge
	CanRunMore() int64
	Abort()
}

// Config is the slice of BuildConfig a CommandRunner needs: how many
// commands may run at once, and the load-average ceiling (a negative
// value means no ceiling) that further throttles that.
type Config struct {
	Parallelism    int
	MaxLoadAverage float64
}

// RealCommandRunner launches real subprocesses, admission-gated by
// parallelism and (optionally) system load average.
type RealCommandRunner struct {
	config        Config
	subprocs      *SubprocessSet
	subprocToEdge map[*Subprocess]*graph.Edge
}

func NewRealCommandRunner(config Config) *RealCommandRunner {
	return &RealCommandRunner{
		config:        config,
		subprocs:      NewSubprocessSet(),
		subprocToEdge: make(map[*Subprocess]*graph.Edge),
	}
}

// CanRunMore reports how many additional commands may be started right
// now: bounded by configured parallelism minus commands already in
// flight, and (if set) by how much load-average headroom remains —
// matching the teacher's real_command_runner.go CanRunMore, including its
// "never let capacity drop below 1 if nothing is running" floor so a
// single slow-to-register load sample can't stall the whole build.
func (this *RealCommandRunner) CanRunMore() int64 {
	running := len(this.subprocs.running)
	capacity := float64(this.config.Parallelism - running)

	if this.config.MaxLoadAverage > 0.0 {
		la, err := loadavg.Parse()
		if err == nil {
			headroom := this.config.MaxLoadAverage - la.LoadAverage1
			if headroom < capacity {
				capacity = headroom
			}
		}
	}

	if capacity < 0 {
		capacity = 0
	}
	if capacity == 0 && running == 0 {
		capacity = 1
	}
	return int64(capacity)
}

func (this *RealCommandRunner) StartCommand(edge *graph.Edge) bool {
	command := edge.EvaluateCommand(false)
	sub, err := this.subprocs.Add(command, edge.UseConsole())
	if err != nil {
		return false
	}
	this.subprocToEdge[sub] = edge
	return true
}

func (this *RealCommandRunner) WaitForCommand(result *Result) bool {
	var sub *Subprocess
	for sub == nil {
		sub = this.subprocs.NextFinished()
		if sub != nil {
			break
		}
		if interrupted := this.subprocs.DoWork(); interrupted {
			return false
		}
	}

	result.Status = sub.finish()
	result.Output = sub.getOutput()
	result.Edge = this.subprocToEdge[sub]
	delete(this.subprocToEdge, sub)
	return true
}

func (this *RealCommandRunner) GetActiveEdges() []*graph.Edge {
	edges := make([]*graph.Edge, 0, len(this.subprocToEdge))
	for _, e := range this.subprocToEdge {
		edges = append(edges, e)
	}
	return edges
}

func (this *RealCommandRunner) Abort() {
	this.subprocs.Clear()
}

// DryRunCommandRunner simulates running every command instantly and
// successfully, for `-n`.
type DryRunCommandRunner struct {
	finished []*graph.Edge
}

func NewDryRunCommandRunner() *DryRunCommandRunner {
	return &DryRunCommandRunner{}
}

func (this *DryRunCommandRunner) StartCommand(edge *graph.Edge) bool {
	this.finished = append(this.finished, edge)
	return true
}

func (this *DryRunCommandRunner) WaitForCommand(result *Result) bool {
	if len(this.finished) == 0 {
		return false
	}
	result.Status = ExitSuccess
	result.Edge = this.finished[0]
	this.finished = this.finished[1:]
	return true
}

func (this *DryRunCommandRunner) GetActiveEdges() []*graph.Edge { return nil }

func (this *DryRunCommandRunner) CanRunMore() int64 { return math.MaxInt64 }

func (this *DryRunCommandRunner) Abort() {}
