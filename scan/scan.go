// Package scan implements the dirtiness DFS (spec.md §4.2): walking the
// build graph from a set of requested targets, deciding which outputs are
// stale, and loading the implicit dependency information (depfiles,
// deps-log entries) each edge needs to make that decision. Grounded on the
// teacher's graph.go (RecomputeNodeDirty/RecomputeOutputDirty/VerifyDAG)
// and graph_h.go (the DependencyScan/ImplicitDepLoader field layout).
package scan

import (
	"github.com/edwingeng/deque"

	"ninjacore/buildlog"
	"ninjacore/disk"
	"ninjacore/dyndep"
	"ninjacore/errkind"
	"ninjacore/explain"
	"ninjacore/graph"
	"ninjacore/hash"
)

// Scan owns the dirtiness walk plus its two collaborating loaders: the
// build log (for command-hash/mtime comparisons) and the implicit-dep
// loader (for depfile/deps-log splicing).
type Scan struct {
	buildLog     *buildlog.Log
	disk         disk.Interface
	depLoader    *ImplicitDepLoader
	dyndepLoader *dyndep.Loader
	explain      *explain.Recorder
}

func NewScan(state *graph.State, buildLog *buildlog.Log, depsLog DepsLog, diskIface disk.Interface,
	depfileOpts DepfileOptions, explainRec *explain.Recorder) *Scan {
	return &Scan{
		buildLog:     buildLog,
		disk:         diskIface,
		depLoader:    NewImplicitDepLoader(state, depsLog, diskIface, depfileOpts, explainRec),
		dyndepLoader: dyndep.NewLoader(state, diskIface, explainRec),
		explain:      explainRec,
	}
}

func (this *Scan) BuildLog() *buildlog.Log          { return this.buildLog }
func (this *Scan) SetBuildLog(log *buildlog.Log)    { this.buildLog = log }
func (this *Scan) DepsLog() DepsLog                 { return this.depLoader.depsLog }

func (this *Scan) LoadDyndeps(node *graph.Node) error {
	_, err := this.dyndepLoader.LoadDyndeps(node)
	return err
}

// LoadDyndepsFile is LoadDyndeps plus the parsed dyndep.File, which
// plan.DyndepsLoaded needs to fold the file's discoveries into the plan
// (spec.md §4.5). Exported for the build package's Plan.DyndepLoader
// adapter; the scan-internal dirtiness walk uses the plain LoadDyndeps
// above, which only needs the side effect on the graph.
func (this *Scan) LoadDyndepsFile(node *graph.Node) (dyndep.File, error) {
	return this.dyndepLoader.LoadDyndeps(node)
}

// RecomputeDirty updates node.Dirty and every in-edge's OutputsReady /
// DepsMissing for node's whole transitive closure. Any validation nodes
// discovered along the way (edges have a validations_ region — spec.md
// §3) are appended to validationNodes, which the caller must then also
// recurse into, mirroring the teacher's worklist-of-validation-roots loop.
func (this *Scan) RecomputeDirty(initial *graph.Node, validationNodes *[]*graph.Node) error {
	queue := deque.NewDeque()
	queue.PushBack(initial)
	for queue.Len() != 0 {
		node := queue.Front().(*graph.Node)
		queue.PopFront()

		var stack []*graph.Node
		var newValidation []*graph.Node
		if err := this.recomputeNodeDirty(node, &stack, &newValidation); err != nil {
			return err
		}
		for _, n := range newValidation {
			queue.PushBack(n)
		}
		if validationNodes != nil {
			*validationNodes = append(*validationNodes, newValidation...)
		}
	}
	return nil
}

func (this *Scan) recomputeNodeDirty(node *graph.Node, stack *[]*graph.Node, validationNodes *[]*graph.Node) error {
	edge := node.InEdge()
	if edge == nil {
		if node.StatusKnown() {
			return nil
		}
		if _, err := node.StatIfNecessary(this.disk); err != nil {
			return err
		}
		if !node.Exists() {
			this.explain.Record(node, "%s has no in-edge and is missing", node.Path())
		}
		node.SetDirty(!node.Exists())
		return nil
	}

	if edge.Mark == graph.VisitDone {
		return nil
	}

	if err := this.verifyDAG(node, *stack); err != nil {
		return err
	}

	edge.Mark = graph.VisitInStack
	*stack = append(*stack, node)

	dirty := false
	edge.OutputsReady = true
	edge.DepsMissing = false

	if !edge.DepsLoaded {
		if edge.Dyndep != nil && edge.Dyndep.DyndepPending() {
			if err := this.recomputeNodeDirty(edge.Dyndep, stack, validationNodes); err != nil {
				return err
			}
			if edge.Dyndep.InEdge() == nil || edge.Dyndep.InEdge().OutputsReady {
				if err := this.LoadDyndeps(edge.Dyndep); err != nil {
					return err
				}
			}
		}
	}

	for _, o := range edge.Outputs {
		if _, err := o.StatIfNecessary(this.disk); err != nil {
			return err
		}
	}

	if !edge.DepsLoaded {
		edge.DepsLoaded = true
		if err := this.depLoader.LoadDeps(edge); err != nil {
			if err != errDepsMissing {
				return err
			}
			// Failed to load dependency info: rebuild to regenerate it.
			// LoadDeps already recorded an explanation; nothing more to do.
			dirty = true
			edge.DepsMissing = true
		}
	}

	*validationNodes = append(*validationNodes, edge.Validations...)

	var mostRecentInput *graph.Node
	explicitCount := len(edge.Inputs) - edge.ImplicitDeps - edge.OrderOnlyDeps
	for idx, in := range edge.Inputs {
		if err := this.recomputeNodeDirty(in, stack, validationNodes); err != nil {
			return err
		}
		if inEdge := in.InEdge(); inEdge != nil && !inEdge.OutputsReady {
			edge.OutputsReady = false
		}
		if idx < explicitCount+edge.ImplicitDeps {
			if in.Dirty() {
				this.explain.Record(node, "%s is dirty", in.Path())
				dirty = true
			} else if mostRecentInput == nil || in.Mtime() > mostRecentInput.Mtime() {
				mostRecentInput = in
			}
		}
	}

	if !dirty {
		var err error
		dirty, err = this.recomputeOutputsDirty(edge, mostRecentInput)
		if err != nil {
			return err
		}
	}

	if dirty {
		for _, o := range edge.Outputs {
			o.MarkDirty()
		}
	}

	if dirty && !(edge.IsPhony() && len(edge.Inputs) == 0) {
		edge.OutputsReady = false
	}

	edge.Mark = graph.VisitDone
	*stack = (*stack)[:len(*stack)-1]
	return nil
}

func (this *Scan) verifyDAG(node *graph.Node, stack []*graph.Node) error {
	edge := node.InEdge()
	if edge == nil {
		panic("scan: verifyDAG called on a node with no in-edge")
	}
	if edge.Mark != graph.VisitInStack {
		return nil
	}

	start := 0
	for start < len(stack) && stack[start].InEdge() != edge {
		start++
	}

	msg := "dependency cycle: "
	for i := start; i < len(stack); i++ {
		msg += stack[i].Path() + " -> "
	}
	msg += node.Path()
	if start == len(stack)-1 && edge.MaybePhonycycleDiagnostic() {
		msg += " [-w phonycycle=err]"
	}
	return errkind.Wrap(errkind.DependencyCycle, "%s", msg)
}

// RecomputeOutputsDirty is the exported entry point plan.CleanNode uses to
// re-check an edge's outputs after one of its inputs turns out to be clean
// after all, without re-running the whole DFS.
func (this *Scan) RecomputeOutputsDirty(edge *graph.Edge, mostRecentInput *graph.Node) (bool, error) {
	return this.recomputeOutputsDirty(edge, mostRecentInput)
}

// recomputeOutputsDirty applies the output-dirty rule (spec.md §4.2) to
// every output of edge, short-circuiting on the first dirty one.
func (this *Scan) recomputeOutputsDirty(edge *graph.Edge, mostRecentInput *graph.Node) (bool, error) {
	command := edge.EvaluateCommand(true)
	for _, o := range edge.Outputs {
		dirty, err := this.recomputeOutputDirty(edge, mostRecentInput, command, o)
		if err != nil {
			return false, err
		}
		if dirty {
			return true, nil
		}
	}
	return false, nil
}

func (this *Scan) recomputeOutputDirty(edge *graph.Edge, mostRecentInput *graph.Node, command string, output *graph.Node) (bool, error) {
	if edge.IsPhony() {
		if len(edge.Inputs) == 0 {
			return !output.Exists(), nil
		}
		return false, nil
	}

	var entry *buildlog.Entry
	if this.buildLog != nil {
		entry = this.buildLog.LookupByOutput(output.Path())
	}

	if !output.Exists() {
		this.explain.Record(output, "output %s doesn't exist", output.Path())
		return true, nil
	}

	if mostRecentInput != nil && output.Mtime() < mostRecentInput.Mtime() {
		if edge.GetBindingBool("restat") && entry != nil && entry.RestatMtime >= int64(mostRecentInput.Mtime()) {
			// restat=1 rule whose log entry already reflects this
			// input's mtime: treat the output as up-to-date.
		} else {
			this.explain.Record(output, "%s is older than most recent input %s (%d vs %d)",
				output.Path(), mostRecentInput.Path(), output.Mtime(), mostRecentInput.Mtime())
			return true, nil
		}
	}

	generator := edge.GetBindingBool("generator")
	if entry != nil && !generator {
		h := hash.HashCommand(command)
		if h != entry.CommandHash {
			this.explain.Record(output, "command line changed for %s", output.Path())
			return true, nil
		}
	}

	if mostRecentInput != nil && entry != nil && entry.RestatMtime < int64(mostRecentInput.Mtime()) {
		this.explain.Record(output, "recorded mtime of %s older than most recent input", output.Path())
		return true, nil
	}

	if entry == nil && !generator {
		this.explain.Record(output, "no record of %s in the build log", output.Path())
		return true, nil
	}

	return false, nil
}
