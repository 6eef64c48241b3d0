package scan

import (
	"errors"
	"fmt"
	"strings"

	"ninjacore/depfile"
	"ninjacore/disk"
	"ninjacore/explain"
	"ninjacore/graph"
)

// errDepsMissing is the sentinel LoadDeps returns when dependency
// information simply isn't available (no depfile, no deps-log entry, or a
// depfile that doesn't exist on disk yet) — spec.md §4.8/§7 distinguishes
// this from a genuine error: the edge becomes dirty and the caller must
// not surface an error message for it.
var errDepsMissing = errors.New("scan: deps missing")

// DepsLog is the narrow slice of depslog.Log that the implicit-dep loader
// needs, kept here (rather than importing the depslog package directly)
// the same way graph.StatNodeDisk avoids an import cycle with disk.
type DepsLog interface {
	GetDeps(node *graph.Node) (inputs []*graph.Node, mtime graph.TimeStamp, ok bool)
	RecordId(node *graph.Node) error
	RecordDeps(node *graph.Node, mtime graph.TimeStamp, nodes []*graph.Node) error
}

// DepfileOptions mirrors the teacher's DepfileParserOptions: currently
// just the escaping-convention toggle depfile.Options exposes.
type DepfileOptions = depfile.Options

// ImplicitDepLoader fills in an edge's discovered (as opposed to
// manifest-declared) implicit inputs, from either a depfile or a deps-log
// entry, per the edge's `deps`/`depfile` rule bindings (spec.md §4.8).
type ImplicitDepLoader struct {
	state       *graph.State
	disk        disk.Interface
	depsLog     DepsLog
	depfileOpts DepfileOptions
	explain     *explain.Recorder
}

func NewImplicitDepLoader(state *graph.State, depsLog DepsLog, diskIface disk.Interface,
	opts DepfileOptions, explainRec *explain.Recorder) *ImplicitDepLoader {
	return &ImplicitDepLoader{state: state, disk: diskIface, depsLog: depsLog, depfileOpts: opts, explain: explainRec}
}

// LoadDeps picks the edge's dependency source and loads it. It returns
// errDepsMissing (never a plain nil wrapping a message) when the
// information is merely absent, matching the teacher's "return false
// without filling err" convention translated into a sentinel error.
func (this *ImplicitDepLoader) LoadDeps(edge *graph.Edge) error {
	if edge.GetBinding("deps") != "" {
		return this.loadDepsFromLog(edge)
	}
	if depfilePath := edge.GetUnescapedDepfile(); depfilePath != "" {
		return this.loadDepFile(edge, depfilePath)
	}
	return nil
}

func (this *ImplicitDepLoader) loadDepsFromLog(edge *graph.Edge) error {
	if len(edge.Outputs) == 0 {
		return errDepsMissing
	}
	out := edge.Outputs[0]
	inputs, recordedMtime, ok := this.depsLog.GetDeps(out)
	if !ok {
		this.explain.Record(out, "deps for '%s' are missing", out.Path())
		return errDepsMissing
	}
	if out.Mtime() > recordedMtime {
		this.explain.Record(out, "deps for '%s' are out of date", out.Path())
		return errDepsMissing
	}

	nodes := this.preallocateSpace(edge, len(inputs))
	for i, n := range inputs {
		nodes[i] = n
		n.AddOutEdge(edge)
	}
	return nil
}

func (this *ImplicitDepLoader) loadDepFile(edge *graph.Edge, path string) error {
	content, status, err := this.disk.ReadFile(path)
	if err != nil || status != disk.Okay {
		this.explain.Record(edge, "depfile '%s' is missing", path)
		return errDepsMissing
	}

	parser := depfile.NewParser(this.depfileOpts)
	if err := parser.Parse(content); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return this.processDepfileDeps(edge, parser.Outs, parser.Ins)
}

// processDepfileDeps validates the parsed depfile against edge and splices
// its inputs into the implicit-dependency region.
func (this *ImplicitDepLoader) processDepfileDeps(edge *graph.Edge, outs, ins []string) error {
	if len(outs) == 0 {
		return fmt.Errorf("depfile has no outputs")
	}
	primary := canonicalize(outs[0])
	if len(edge.Outputs) == 0 || canonicalize(edge.Outputs[0].Path()) != primary {
		return fmt.Errorf("depfile mentions '%s' as an output, but no such output was declared", outs[0])
	}
	for _, out := range outs[1:] {
		p := canonicalize(out)
		found := false
		for _, o := range edge.Outputs {
			if canonicalize(o.Path()) == p {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("depfile mentions '%s' as an output, but no such output was declared", out)
		}
	}

	nodes := this.preallocateSpace(edge, len(ins))
	for i, in := range ins {
		path := canonicalize(in)
		node := this.state.GetNode(path, 0)
		nodes[i] = node
		node.AddOutEdge(edge)
		if node.InEdge() == nil {
			this.createPhonyProducer(node)
		}
	}
	return nil
}

// createPhonyProducer synthesizes a trivially-ready phony edge for a
// depfile-discovered input that has no real producer (e.g. a system
// header), matching the teacher's "no rule to make it" relief valve for
// implicit deps specifically.
func (this *ImplicitDepLoader) createPhonyProducer(node *graph.Node) {
	edge := graph.NewEdge()
	edge.Rule = graph.PhonyRule
	edge.Pool = graph.DefaultPool
	edge.Env = this.state.Bindings
	edge.OutputsReady = true
	edge.Outputs = []*graph.Node{node}
	node.SetInEdge(edge)
	node.SetGeneratedByDepLoader(true)
}

// preallocateSpace grows edge.Inputs by count nodes inserted just before
// the order-only region, returning a slice over the newly-created slots
// so the caller can fill them in without shifting them again.
func (this *ImplicitDepLoader) preallocateSpace(edge *graph.Edge, count int) []*graph.Node {
	insertAt := len(edge.Inputs) - edge.OrderOnlyDeps
	grown := make([]*graph.Node, len(edge.Inputs)+count)
	copy(grown, edge.Inputs[:insertAt])
	copy(grown[insertAt+count:], edge.Inputs[insertAt:])
	edge.Inputs = grown
	edge.ImplicitDeps += count
	return grown[insertAt : insertAt+count]
}

// canonicalize applies the minimal normalization ninjacore needs when
// comparing depfile-declared paths against manifest-declared ones: ./
// prefix stripping and slash normalization. Full canonicalisation
// (., .., duplicate slashes) is an external collaborator (spec.md §1);
// this mirrors only what a depfile realistically emits.
func canonicalize(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	for strings.HasPrefix(path, "./") {
		path = path[2:]
	}
	return path
}
