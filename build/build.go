// Package build drives the executor loop (spec.md §4.4/§5): pulling ready
// edges off the plan, handing them to a CommandRunner, and reacting to
// each one's completion (restat, build-log/deps-log recording, dyndep
// reload, cleanup on interruption). Grounded on the teacher's build.go
// (Builder/BuildConfig/TopoSort/Result), with its Builder<->Plan back
// reference replaced by the plan package's own narrow StatusSink/
// DyndepLoader interfaces and its CommandRunner/Subprocess machinery
// replaced by the runner package.
package build

import (
	"fmt"
	"os"
	"strings"
	"time"

	"ninjacore/buildlog"
	"ninjacore/depfile"
	"ninjacore/disk"
	"ninjacore/errkind"
	"ninjacore/explain"
	"ninjacore/graph"
	"ninjacore/plan"
	"ninjacore/runner"
	"ninjacore/scan"
	"ninjacore/status"
)

// Verbosity controls how much a build narrates each command; it's the
// same scale status.Verbosity uses, since both come from the same -v/-q
// command-line flags.
type Verbosity = status.Verbosity

const (
	Quiet          = status.Quiet
	NoStatusUpdate = status.NoStatusUpdate
	Normal         = status.Normal
	Verbose        = status.Verbose
)

// Config is everything a Builder needs beyond the graph itself: how many
// commands to run at once, whether to actually run them, and how to
// interpret depfiles.
type Config struct {
	Verbosity            Verbosity
	DryRun               bool
	Parallelism          int
	FailuresAllowed      int
	MaxLoadAverage       float64
	DepfileParserOptions depfile.Options
}

func NewConfig() Config {
	return Config{Verbosity: Normal, Parallelism: 1, FailuresAllowed: 1, MaxLoadAverage: -1}
}

// Builder is the executor loop: it owns the plan, the dependency scan,
// and the running commands, and exposes AddTarget/Build as the two
// operations a driver (cmd/ninja) calls.
type Builder struct {
	state   *graph.State
	config  Config
	plan    *plan.Plan
	runner  runner.CommandRunner
	status  *status.Printer
	scan    *scan.Scan
	disk    disk.Interface

	runningEdges    map[*graph.Edge]int64
	startTimeMillis int64
	lockFilePath    string
	explanations    *explain.Recorder
}

// NewBuilder wires a Builder for one build invocation. buildLog/depsLog
// may be nil (no persisted history available yet).
func NewBuilder(state *graph.State, config Config, buildLog *buildlog.Log, depsLog scan.DepsLog,
	diskIface disk.Interface, statusPrinter *status.Printer, startTimeMillis int64) *Builder {
	this := &Builder{
		state:           state,
		config:          config,
		status:          statusPrinter,
		disk:            diskIface,
		runningEdges:    make(map[*graph.Edge]int64),
		startTimeMillis: startTimeMillis,
		lockFilePath:    ".ninja_lock",
		explanations:    explain.NewRecorder(),
	}

	this.scan = scan.NewScan(state, buildLog, depsLog, diskIface, config.DepfileParserOptions, this.explanations)
	this.plan = plan.NewPlan(statusPrinter, this)
	if buildDir := state.Bindings.LookupVariable("builddir"); buildDir != "" {
		this.lockFilePath = buildDir + "/" + this.lockFilePath
	}
	statusPrinter.SetExplanations(this.explanations)
	return this
}

// Cleanup deletes output files left behind by commands that were still
// running when the build was interrupted, matching the teacher's
// Builder.Cleanup: an output is only removed if it actually changed (or
// the edge has a depfile, since a depfile write without a matching
// output write would otherwise leave stale deps on disk).
func (this *Builder) Cleanup() {
	if this.runner != nil {
		activeEdges := this.runner.GetActiveEdges()
		this.runner.Abort()

		for _, e := range activeEdges {
			depfilePath := e.GetUnescapedDepfile()
			for _, o := range e.Outputs {
				newMtime, _, err := this.disk.StatNode(o)
				if err != nil {
					this.status.Error("%s", err.Error())
				}
				if depfilePath != "" || o.Mtime() != newMtime {
					this.disk.RemoveFile(o.Path())
				}
			}
			if depfilePath != "" {
				this.disk.RemoveFile(depfilePath)
			}
		}
	}

	if _, err := os.Stat(this.lockFilePath); err == nil {
		this.disk.RemoveFile(this.lockFilePath)
	}
}

// AddTarget scans name's dependencies and adds it (and any validation
// nodes RecomputeDirty turns up) to the plan.
func (this *Builder) AddTarget(name string) (*graph.Node, error) {
	node := this.state.LookupNode(name)
	if node == nil {
		return nil, errkind.Wrap(errkind.MissingSource, "unknown target: '%s'", name)
	}
	if err := this.AddTargetNode(node); err != nil {
		return nil, err
	}
	return node, nil
}

// AddTargetNode is AddTarget once the *graph.Node is already known.
func (this *Builder) AddTargetNode(target *graph.Node) error {
	var validationNodes []*graph.Node
	if err := this.scan.RecomputeDirty(target, &validationNodes); err != nil {
		return err
	}

	if inEdge := target.InEdge(); inEdge == nil || !inEdge.OutputsReady {
		if _, err := this.plan.AddTarget(target); err != nil {
			return err
		}
	}

	for _, n := range validationNodes {
		if validationEdge := n.InEdge(); validationEdge != nil && !validationEdge.OutputsReady {
			if _, err := this.plan.AddTarget(n); err != nil {
				return err
			}
		}
	}
	return nil
}

// AlreadyUpToDate reports whether every added target is already built.
func (this *Builder) AlreadyUpToDate() bool {
	return !this.plan.MoreToDo()
}

// Build runs the executor loop to completion: start as many ready edges
// as the command runner allows, reap the next finished one, repeat until
// nothing is left wanted or a failure budget runs out. It is an error to
// call this when AlreadyUpToDate() is true.
func (this *Builder) Build() error {
	if this.AlreadyUpToDate() {
		panic("build: Build called with nothing to do")
	}
	this.plan.PrepareQueue()

	pendingCommands := 0
	failuresAllowed := this.config.FailuresAllowed

	if this.runner == nil {
		if this.config.DryRun {
			this.runner = runner.NewDryRunCommandRunner()
		} else {
			this.runner = runner.NewRealCommandRunner(runner.Config{
				Parallelism:    this.config.Parallelism,
				MaxLoadAverage: this.config.MaxLoadAverage,
			})
		}
	}

	this.status.BuildStarted()

	for this.plan.MoreToDo() {
		if failuresAllowed != 0 {
			capacity := this.runner.CanRunMore()
			for capacity > 0 {
				edge := this.plan.FindWork()
				if edge == nil {
					break
				}

				if edge.GetBindingBool("generator") {
					if log := this.scan.BuildLog(); log != nil {
						log.Close()
					}
				}

				if err := this.StartEdge(edge); err != nil {
					this.Cleanup()
					this.status.BuildFinished()
					return err
				}

				if edge.IsPhony() {
					if err := this.plan.EdgeFinished(edge, plan.EdgeSucceeded); err != nil {
						this.Cleanup()
						this.status.BuildFinished()
						return err
					}
				} else {
					pendingCommands++
					capacity--

					if current := this.runner.CanRunMore(); current < capacity {
						capacity = current
					}
				}
			}

			if pendingCommands == 0 && !this.plan.MoreToDo() {
				break
			}
		}

		if pendingCommands != 0 {
			var result runner.Result
			if !this.runner.WaitForCommand(&result) || result.Status == runner.ExitInterrupted {
				this.Cleanup()
				this.status.BuildFinished()
				return errkind.Wrap(errkind.Interrupted, "interrupted by user")
			}

			pendingCommands--
			if err := this.FinishCommand(&result); err != nil {
				this.Cleanup()
				this.status.BuildFinished()
				return err
			}

			if !result.Success() && failuresAllowed != 0 {
				failuresAllowed--
			}
			continue
		}

		this.status.BuildFinished()
		switch {
		case failuresAllowed == 0 && this.config.FailuresAllowed > 1:
			return errkind.Wrap(errkind.CommandFailure, "subcommands failed")
		case failuresAllowed == 0:
			return errkind.Wrap(errkind.CommandFailure, "subcommand failed")
		case failuresAllowed < this.config.FailuresAllowed:
			return errkind.Wrap(errkind.CommandFailure, "cannot make progress due to previous errors")
		default:
			return errkind.Wrap(errkind.CommandFailure, "stuck: no commands running and none ready")
		}
	}

	this.status.BuildFinished()
	return nil
}

// StartEdge creates output/depfile directories, writes the rspfile if
// any, and hands the evaluated command to the runner.
func (this *Builder) StartEdge(edge *graph.Edge) error {
	if edge.IsPhony() {
		return nil
	}

	startTimeMillis := nowMillis() - this.startTimeMillis
	this.runningEdges[edge] = startTimeMillis
	this.status.BuildEdgeStarted(edge, startTimeMillis)

	for _, o := range edge.Outputs {
		if _, err := this.disk.MakeDirs(o.Path()); err != nil {
			return err
		}
	}

	depfilePath := edge.GetUnescapedDepfile()
	if depfilePath != "" {
		if _, err := this.disk.MakeDirs(depfilePath); err != nil {
			return err
		}
	}

	if rspfile := edge.GetUnescapedRspfile(); rspfile != "" {
		content := edge.GetBinding("rspfile_content")
		if !this.disk.WriteFile(rspfile, content) {
			return fmt.Errorf("writing %s", rspfile)
		}
	}

	if !this.runner.StartCommand(edge) {
		return errkind.Wrap(errkind.CommandFailure, "command '%s' failed", edge.EvaluateCommand(false))
	}
	return nil
}

// FinishCommand folds a finished command's result back into the build:
// dependency extraction, restat, plan/status notification, and
// build-log/deps-log recording.
func (this *Builder) FinishCommand(result *runner.Result) error {
	edge := result.Edge

	var depsNodes []*graph.Node
	depsType := edge.GetBinding("deps")
	if depsType != "" {
		nodes, err := this.ExtractDeps(result, depsType)
		if err != nil && result.Success() {
			if result.Output != "" {
				result.Output += "\n"
			}
			result.Output += err.Error()
			result.Status = runner.ExitFailure
		}
		depsNodes = nodes
	}

	startTimeMillis := this.runningEdges[edge]
	endTimeMillis := nowMillis() - this.startTimeMillis
	delete(this.runningEdges, edge)

	this.status.BuildEdgeFinished(edge, startTimeMillis, endTimeMillis, result.Success(), result.Output)

	if !result.Success() {
		return this.plan.EdgeFinished(edge, plan.EdgeFailed)
	}

	var recordMtime graph.TimeStamp
	if !this.config.DryRun {
		restat := edge.GetBindingBool("restat")
		generator := edge.GetBindingBool("generator")

		if recordMtime == 0 || restat || generator {
			for _, o := range edge.Outputs {
				newMtime, _, err := this.disk.StatNode(o)
				if err != nil {
					return err
				}
				if newMtime != recordMtime {
					recordMtime = newMtime
				}
				if o.Mtime() == newMtime && restat {
					if err := this.plan.CleanNode(this.scan, o); err != nil {
						return err
					}
				}
			}
		}
	}

	if err := this.plan.EdgeFinished(edge, plan.EdgeSucceeded); err != nil {
		return err
	}

	if rspfile := edge.GetUnescapedRspfile(); rspfile != "" {
		this.disk.RemoveFile(rspfile)
	}

	if log := this.scan.BuildLog(); log != nil {
		if err := log.RecordCommand(edge, int(startTimeMillis), int(endTimeMillis), int64(recordMtime)); err != nil {
			return errkind.Because(errkind.LogIOError, err, "writing to build log")
		}
	}

	if depsType != "" && !this.config.DryRun {
		if len(edge.Outputs) == 0 {
			panic("build: edge with deps= but no outputs should have been rejected by the parser")
		}
		for _, o := range edge.Outputs {
			depsMtime, _, err := this.disk.StatNode(o)
			if err != nil {
				return err
			}
			if err := this.scan.DepsLog().RecordDeps(o, depsMtime, depsNodes); err != nil {
				return errkind.Because(errkind.LogIOError, err, "writing to deps log")
			}
		}
	}
	return nil
}

// ExtractDeps pulls a command's discovered implicit dependencies out of
// its captured output (for deps=msvc, which filters /showIncludes lines)
// or its depfile (for deps=gcc). Only deps=gcc is implemented: MSVC's
// /showIncludes convention needs a line-oriented CL.exe output parser
// this port never had a reason to write, since nothing in this tree
// targets MSVC; deps=msvc is rejected with a clear error instead of
// silently mis-scanning compiler output that was never in that shape.
func (this *Builder) ExtractDeps(result *runner.Result, depsType string) ([]*graph.Node, error) {
	if depsType != "gcc" {
		return nil, errkind.Wrap(errkind.InvalidDepfile, "unsupported deps type '%s' (only \"gcc\" is implemented)", depsType)
	}

	depfilePath := result.Edge.GetUnescapedDepfile()
	if depfilePath == "" {
		return nil, errkind.Wrap(errkind.InvalidDepfile, "edge with deps=gcc but no depfile makes no sense")
	}

	content, readStatus, err := this.disk.ReadFile(depfilePath)
	if err != nil && readStatus == disk.OtherError {
		return nil, err
	}
	if content == "" {
		return nil, nil
	}

	parser := depfile.NewParser(this.config.DepfileParserOptions)
	if err := parser.Parse(content); err != nil {
		return nil, errkind.Wrap(errkind.InvalidDepfile, "%v", err)
	}

	depsNodes := make([]*graph.Node, 0, len(parser.Ins))
	for _, in := range parser.Ins {
		depsNodes = append(depsNodes, this.state.GetNode(canonicalizePath(in), 0))
	}

	this.disk.RemoveFile(depfilePath)
	return depsNodes, nil
}

// LoadDyndeps satisfies plan.DyndepLoader: it parses node's dyndep file,
// splices its discoveries into the graph, and folds them into the plan.
func (this *Builder) LoadDyndeps(node *graph.Node) error {
	ddf, err := this.scan.LoadDyndepsFile(node)
	if err != nil {
		return err
	}
	return this.plan.DyndepsLoaded(this.scan, node, ddf)
}

func nowMillis() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}

// canonicalizePath normalizes a depfile-declared path the same minimal
// way scan's ImplicitDepLoader does when matching depfile-declared paths
// against manifest-declared ones: ./ prefix stripping and slash
// normalization.
func canonicalizePath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	for strings.HasPrefix(path, "./") {
		path = path[2:]
	}
	return path
}
