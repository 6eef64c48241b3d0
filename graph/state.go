package graph

// State is the top-level in-memory container for a build graph: interned
// nodes, the ordered edge list (giving each edge a stable id), named
// pools, the rule/binding environment stack, and the default targets.
type State struct {
	paths    map[string]*Node
	pools    map[string]*Pool
	edges    []*Edge
	Bindings *BindingEnv
	Defaults []*Node
}

func NewState() *State {
	s := &State{
		paths:    map[string]*Node{},
		pools:    map[string]*Pool{},
		Bindings: NewBindingEnv(nil),
	}
	s.pools[DefaultPool.Name()] = DefaultPool
	s.pools[ConsolePool.Name()] = ConsolePool
	s.Bindings.AddRule(PhonyRule)
	return s
}

// GetNode interns a node by canonical path, creating it lazily on first
// reference.
func (this *State) GetNode(path string, slashBits uint64) *Node {
	if n, ok := this.paths[path]; ok {
		return n
	}
	n := NewNode(path, slashBits)
	this.paths[path] = n
	return n
}

func (this *State) LookupNode(path string) *Node {
	return this.paths[path]
}

func (this *State) Nodes() map[string]*Node { return this.paths }

func (this *State) AddPool(pool *Pool) {
	if _, exists := this.pools[pool.Name()]; exists {
		panic("duplicate pool " + pool.Name())
	}
	this.pools[pool.Name()] = pool
}

func (this *State) LookupPool(name string) *Pool {
	return this.pools[name]
}

func (this *State) Edges() []*Edge { return this.edges }

// AddEdge allocates a new edge bound to rule, giving it the next
// sequential id (spec.md §3's "creation order" invariant) and defaulting
// it into the default pool.
func (this *State) AddEdge(rule *Rule) *Edge {
	e := NewEdge()
	e.ID = len(this.edges)
	e.Rule = rule
	e.Pool = DefaultPool
	e.Env = this.Bindings
	this.edges = append(this.edges, e)
	return e
}

// AddIn appends node to edge's input list in the explicit region (callers
// must add implicit/order-only inputs in the right relative order before
// incrementing the respective counts).
func (this *State) AddIn(edge *Edge, path string, slashBits uint64) {
	node := this.GetNode(path, slashBits)
	edge.Inputs = append(edge.Inputs, node)
	node.AddOutEdge(edge)
}

// AddOut appends node to edge's output list in the explicit region and
// wires the back-edge, enforcing the at-most-one-in-edge invariant
// (spec.md §3, §8).
func (this *State) AddOut(edge *Edge, path string, slashBits uint64) bool {
	node := this.GetNode(path, slashBits)
	if node.InEdge() != nil {
		return false
	}
	edge.Outputs = append(edge.Outputs, node)
	node.SetInEdge(edge)
	return true
}

func (this *State) AddValidation(edge *Edge, path string, slashBits uint64) {
	node := this.GetNode(path, slashBits)
	edge.Validations = append(edge.Validations, node)
	node.AddValidationOutEdge(edge)
}

// Reset clears per-build transient state (dirty flags, mtimes, edge
// marks) so the same State can drive a second logical build.
func (this *State) Reset() {
	for _, n := range this.paths {
		n.ResetState()
	}
	for _, e := range this.edges {
		e.OutputsReady = false
		e.Mark = VisitNone
		e.DepsLoaded = false
		e.DepsMissing = false
	}
}

// RootNodes returns nodes that are not an input to any edge, used as the
// implicit default target set when the manifest declares none.
func (this *State) RootNodes() []*Node {
	var roots []*Node
	for _, e := range this.edges {
		for _, o := range e.Outputs {
			if len(o.OutEdges()) == 0 {
				roots = append(roots, o)
			}
		}
	}
	return roots
}

func (this *State) DefaultNodes() ([]*Node, error) {
	if len(this.Defaults) == 0 {
		return this.RootNodes(), nil
	}
	return this.Defaults, nil
}
