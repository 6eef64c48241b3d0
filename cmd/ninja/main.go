// Command ninja drives the executor loop against a small, programmatically
// built graph. Manifest loading (the build.ninja text format) is out of
// core scope (see DESIGN.md) — the graph a real deployment would get from
// parsing build.ninja is built directly against graph.State here instead,
// so this binary still exercises the real flag surface and the real
// Builder. Grounded on the teacher's ninja-go/main.go and ninja.go
// (ReadFlags/real_main/TerminateHandler).
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"git.sr.ht/~sircmpwn/getopt"
	"github.com/tevino/abool/v2"

	"ninjacore/build"
	"ninjacore/buildlog"
	"ninjacore/depslog"
	"ninjacore/disk"
	"ninjacore/graph"
	"ninjacore/logstore"
	"ninjacore/status"
)

const version = "ninjacore 1.0.0"

func usage(parallelism int) {
	fmt.Fprintf(os.Stderr,
		"usage: ninja [options] [targets...]\n"+
			"\n"+
			"if targets are unspecified, builds the demo target build/derived.txt.\n"+
			"\n"+
			"options:\n"+
			"  --version      print version (%q)\n"+
			"  -v             show all command lines while building\n"+
			"  -C DIR         change to DIR before doing anything else\n"+
			"  -j N           run N jobs in parallel (0 means infinity) [default=%d]\n"+
			"  -k N           keep going until N jobs fail (0 means infinity) [default=1]\n"+
			"  -l N           do not start new jobs if the load average is greater than N\n"+
			"  -n             dry run (don't run commands but act like they succeeded)\n"+
			"  -d             enable '-d explain' debugging output\n"+
			"  -c             stat files by content hash instead of mtime\n"+
			"  -M PATH        open a queryable sqlite mirror db at PATH (build-log entries are not copied into it)\n"+
			"  -I ADDR        serve the mirror read-only at ADDR (requires -M)\n",
		version, parallelism)
}

func interruptWatcher(interrupted *abool.AtomicBool, abort func()) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	s := <-quit
	fmt.Fprintln(os.Stderr, "ninja: interrupted by", s)
	interrupted.Set()
	abort()
}

func evalText(s string) *graph.EvalString {
	e := &graph.EvalString{}
	e.AddText(s)
	return e
}

// buildDemoGraph wires a two-step pipeline (generate a seed file, then
// derive a second file from it) so the executor loop, the dirtiness scan
// and the build log all have something real to do without depending on
// any pre-existing source tree.
func buildDemoGraph(state *graph.State) *graph.Node {
	state.Bindings.AddBinding("builddir", "build")

	generate := graph.NewRule("generate")
	generate.AddBinding("command", evalText("sh -c \"mkdir -p build && echo seed > $out\""))
	generate.AddBinding("description", evalText("GEN $out"))
	state.Bindings.AddRule(generate)

	derive := graph.NewRule("derive")
	derive.AddBinding("command", evalText("cp $in $out"))
	derive.AddBinding("description", evalText("COPY $in -> $out"))
	state.Bindings.AddRule(derive)

	seed := state.AddEdge(generate)
	state.AddOut(seed, "build/seed.txt", 0)

	derived := state.AddEdge(derive)
	state.AddIn(derived, "build/seed.txt", 0)
	state.AddOut(derived, "build/derived.txt", 0)

	return state.GetNode("build/derived.txt", 0)
}

func realMain() int {
	config := build.NewConfig()
	parallelism := config.Parallelism

	workingDir := ""
	inputFileIgnored := "build.ninja"
	debugExplain := false
	contentHash := false
	mirrorPath := ""
	inspectAddr := ""

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Println(version)
		return 0
	}

	opts, optind, err := getopt.Getopts(os.Args, "vnj:k:l:C:f:dcM:I:h")
	if err != nil {
		log.Fatalln(err)
	}
	args := os.Args[optind:]

	for _, o := range opts {
		switch o.Option {
		case 'v':
			config.Verbosity = build.Verbose
		case 'n':
			config.DryRun = true
		case 'j':
			v, err := strconv.Atoi(o.Value)
			if err != nil || v < 0 {
				log.Fatalln("invalid -j parameter")
			}
			if v > 0 {
				config.Parallelism = v
			} else {
				config.Parallelism = 1 << 30
			}
		case 'k':
			v, err := strconv.Atoi(o.Value)
			if err != nil {
				log.Fatalln("-k parameter not numeric; did you mean -k 0?")
			}
			if v > 0 {
				config.FailuresAllowed = v
			} else {
				config.FailuresAllowed = 1 << 30
			}
		case 'l':
			v, err := strconv.ParseFloat(o.Value, 64)
			if err != nil {
				log.Fatalln("-l parameter not numeric: did you mean -l 0.0?")
			}
			config.MaxLoadAverage = v
		case 'C':
			workingDir = o.Value
		case 'f':
			inputFileIgnored = o.Value
		case 'd':
			debugExplain = true
		case 'c':
			contentHash = true
		case 'M':
			mirrorPath = o.Value
		case 'I':
			inspectAddr = o.Value
		default:
			usage(parallelism)
			return 1
		}
	}
	_ = inputFileIgnored

	statusPrinter := status.NewPrinter(status.Config{Verbosity: config.Verbosity, Parallelism: config.Parallelism})

	if workingDir != "" {
		if config.Verbosity != build.NoStatusUpdate {
			statusPrinter.Info("Entering directory `%s'", workingDir)
		}
		if err := os.Chdir(workingDir); err != nil {
			log.Fatalf("chdir to '%s' - %v", workingDir, err)
		}
	}

	var diskIface disk.Interface
	if contentHash {
		diskIface = disk.NewContentHashDiskInterface("")
	} else {
		diskIface = disk.NewRealDiskInterface()
	}

	state := graph.NewState()
	target := buildDemoGraph(state)

	if err := os.MkdirAll("build", 0755); err != nil {
		log.Fatalln(err)
	}

	buildLog := buildlog.NewLog()
	logPath := filepath.Join("build", ".ninja_log")
	if logLoadStatus, err := buildLog.Load(logPath); err != nil && logLoadStatus != buildlog.LoadNotFound {
		statusPrinter.Warning("loading %s: %v", logPath, err)
	}
	if err := buildLog.OpenForWrite(logPath, nil); err != nil {
		log.Fatalln(err)
	}
	defer buildLog.Close()

	depsLog := depslog.NewLog()
	depsPath := filepath.Join("build", ".ninja_deps")
	if depsLoadStatus, err := depsLog.Load(depsPath, state); err != nil && depsLoadStatus != depslog.LoadNotFound {
		statusPrinter.Warning("loading %s: %v", depsPath, err)
	}
	defer depsLog.Close()

	var mirror *logstore.Mirror
	var scheduler *logstore.Scheduler
	var inspectServer *logstore.InspectServer
	if mirrorPath != "" {
		mirror, err = logstore.OpenMirror(mirrorPath)
		if err != nil {
			log.Fatalln(err)
		}
		defer mirror.Close()

		isPathDead := func(path string) bool { return state.LookupNode(path) == nil }
		scheduler, err = logstore.NewScheduler(buildLog, logPath, mirror, isPathDead)
		if err != nil {
			log.Fatalln(err)
		}
		if err := scheduler.Start(5 * time.Minute); err != nil {
			log.Fatalln(err)
		}
		defer scheduler.Stop()

		if inspectAddr != "" {
			inspectServer = logstore.NewInspectServer(mirror)
			go func() {
				if err := inspectServer.ListenAndServe(inspectAddr); err != nil {
					statusPrinter.Warning("inspect server stopped: %v", err)
				}
			}()
			defer inspectServer.Shutdown()
		}
	}

	startTimeMillis := time.Now().UnixNano() / int64(time.Millisecond)
	builder := build.NewBuilder(state, config, buildLog, depsLog, diskIface, statusPrinter, startTimeMillis)
	if !debugExplain {
		statusPrinter.SetExplanations(nil)
	}

	interrupted := abool.NewBool(false)
	go interruptWatcher(interrupted, builder.Cleanup)

	targets := []*graph.Node{target}
	if len(args) > 0 {
		targets = targets[:0]
		for _, name := range args {
			n, err := builder.AddTarget(name)
			if err != nil {
				statusPrinter.Error("%v", err)
				return 1
			}
			targets = append(targets, n)
		}
	} else if err := builder.AddTargetNode(target); err != nil {
		statusPrinter.Error("%v", err)
		return 1
	}

	if builder.AlreadyUpToDate() {
		statusPrinter.Info("no work to do.")
		return 0
	}

	if err := builder.Build(); err != nil {
		if interrupted.IsSet() {
			statusPrinter.Error("build interrupted by user.")
		} else {
			statusPrinter.Error("%v", err)
		}
		return 1
	}
	return 0
}

func main() {
	os.Exit(realMain())
}
