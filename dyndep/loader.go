// Package dyndep loads dyndep files: small build-statement manifests a
// build step emits mid-build to announce additional inputs/outputs for
// edges it doesn't itself produce output for until it runs (spec.md §4.5).
// Grounded on the teacher's dyndep.go/dyndep_h.go (DyndepLoader, DyndepFile,
// Dyndeps) and dyndep_parser.go for the on-disk grammar.
package dyndep

import (
	"fmt"

	"ninjacore/disk"
	"ninjacore/explain"
	"ninjacore/graph"
)

// Dependencies is the per-edge payload a dyndep file can carry: whether the
// edge should be treated as "restat" from now on, plus the implicit
// inputs/outputs it newly reveals.
type Dependencies struct {
	Used            bool
	Restat          bool
	ImplicitInputs  []*graph.Node
	ImplicitOutputs []*graph.Node
}

// File is the full parse result of one dyndep file: one entry per edge it
// mentions, keyed by the edge whose declared dyndep binding points at this
// file.
type File map[*graph.Edge]*Dependencies

// Loader resolves a dyndep-pending node into a parsed File and splices its
// contents into the owning edges.
type Loader struct {
	state   *graph.State
	disk    disk.Interface
	explain *explain.Recorder
}

func NewLoader(state *graph.State, diskIface disk.Interface, explain *explain.Recorder) *Loader {
	return &Loader{state: state, disk: diskIface, explain: explain}
}

// LoadDyndeps reads node's dyndep file and applies its contents to every
// out-edge of node that names it as a dyndep source, returning the parsed
// File so a caller (the build package's Plan.DyndepLoader adapter) can
// fold its discoveries into the plan without re-parsing.
func (this *Loader) LoadDyndeps(node *graph.Node) (File, error) {
	node.SetDyndepPending(false)
	this.explain.Record(node, "loading dyndep file '%s'", node.Path())

	file, err := this.LoadDyndepFile(node)
	if err != nil {
		return nil, err
	}

	for _, edge := range node.OutEdges() {
		if edge.Dyndep != node {
			continue
		}
		dd, ok := file[edge]
		if !ok {
			return nil, fmt.Errorf("'%s' not mentioned in its dyndep file '%s'",
				edge.Outputs[0].Path(), node.Path())
		}
		dd.Used = true
		if err := this.UpdateEdge(edge, dd); err != nil {
			return nil, err
		}
	}

	for edge, dd := range file {
		if !dd.Used {
			return nil, fmt.Errorf("dyndep file '%s' mentions output '%s' whose build statement "+
				"does not have a dyndep binding for the file", node.Path(), edge.Outputs[0].Path())
		}
	}
	return file, nil
}

func (this *Loader) LoadDyndepFile(file *graph.Node) (File, error) {
	contents, status, err := this.disk.ReadFile(file.Path())
	if err != nil || status != disk.Okay {
		if err == nil {
			err = fmt.Errorf("loading %s", file.Path())
		}
		return nil, err
	}
	return NewParser(this.state).Parse(file.Path(), contents)
}

// UpdateEdge splices a parsed Dependencies entry into edge: new implicit
// outputs gain edge as their producer, new implicit inputs are inserted
// before the order-only inputs and gain edge as an out-edge, and a restat
// binding is added to the edge's own scope.
func (this *Loader) UpdateEdge(edge *graph.Edge, dd *Dependencies) error {
	if dd.Restat {
		if edge.Env == this.state.Bindings {
			edge.Env = graph.NewBindingEnv(edge.Env)
		}
		edge.Env.AddBinding("restat", "1")
	}

	edge.Outputs = append(edge.Outputs, dd.ImplicitOutputs...)
	edge.ImplicitOuts += len(dd.ImplicitOutputs)
	for _, node := range dd.ImplicitOutputs {
		if node.InEdge() != nil {
			return fmt.Errorf("multiple rules generate %s", node.Path())
		}
		node.SetInEdge(edge)
	}

	insertAt := len(edge.Inputs) - edge.OrderOnlyDeps
	inputs := make([]*graph.Node, 0, len(edge.Inputs)+len(dd.ImplicitInputs))
	inputs = append(inputs, edge.Inputs[:insertAt]...)
	inputs = append(inputs, dd.ImplicitInputs...)
	inputs = append(inputs, edge.Inputs[insertAt:]...)
	edge.Inputs = inputs
	edge.ImplicitDeps += len(dd.ImplicitInputs)
	for _, node := range dd.ImplicitInputs {
		node.AddOutEdge(edge)
	}
	return nil
}
