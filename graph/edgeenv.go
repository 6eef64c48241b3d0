package graph

import (
	"fmt"
	"strings"
)

type escapeKind int8

// EdgeEnv resolves variable lookups scoped to one edge: $in and $out are
// intrinsics; everything else falls back to the rule's binding, evaluated
// lazily against the edge's own environment (spec.md §4.9).
type EdgeEnv struct {
	edge         *Edge
	escapeInOut  escapeKind
	lookups      []string
	recursive    bool
	cycle        []string
}

func NewEdgeEnv(edge *Edge, escape escapeKind) *EdgeEnv {
	return &EdgeEnv{edge: edge, escapeInOut: escape}
}

func (this *EdgeEnv) LookupVariable(name string) string {
	if name == "in" || name == "in_newline" {
		explicitCount := len(this.edge.Inputs) - this.edge.ImplicitDeps - this.edge.OrderOnlyDeps
		sep := byte(' ')
		if name == "in_newline" {
			sep = '\n'
		}
		return this.makePathList(this.edge.Inputs, explicitCount, sep)
	}
	if name == "out" {
		explicitCount := len(this.edge.Outputs) - this.edge.ImplicitOuts
		return this.makePathList(this.edge.Outputs, explicitCount, ' ')
	}

	// lookups is a stack of variable names currently being expanded, used
	// to detect a cycle in rule-variable definitions (spec.md §4.9).
	if this.recursive {
		for i, seen := range this.lookups {
			if seen == name {
				// A cycle in rule-variable definitions; LookupVariableCycleSafe
				// is the entry point that surfaces this as an error instead.
				this.cycle = append(append([]string(nil), this.lookups[i:]...), name)
				return ""
			}
		}
	}

	eval := this.edge.Rule.GetBinding(name)
	recordVarname := this.recursive && eval != nil
	if recordVarname {
		this.lookups = append(this.lookups, name)
	}
	this.recursive = true
	result := this.edge.Env.LookupWithFallback(name, eval, this)
	if recordVarname {
		this.lookups = this.lookups[:len(this.lookups)-1]
	}
	return result
}

// LookupVariableCycleSafe is the same lookup but returns an explicit error
// instead of silently yielding "" on a variable cycle (spec.md §9 prefers a
// surfaced error over the teacher's original process-abort).
func (this *EdgeEnv) LookupVariableCycleSafe(name string) (string, error) {
	if this.recursive {
		for _, seen := range this.lookups {
			if seen == name {
				return "", fmt.Errorf("cycle in rule variables: %s -> %s", strings.Join(this.lookups, " -> "), name)
			}
		}
	}
	this.cycle = nil
	result := this.LookupVariable(name)
	if this.cycle != nil {
		return "", fmt.Errorf("cycle in rule variables: %s", strings.Join(this.cycle, " -> "))
	}
	return result, nil
}

func (this *EdgeEnv) makePathList(nodes []*Node, count int, sep byte) string {
	var b strings.Builder
	for i := 0; i < count; i++ {
		if b.Len() > 0 {
			b.WriteByte(sep)
		}
		path := nodes[i].PathDecanonicalized()
		if this.escapeInOut == kShellEscape {
			b.WriteString(Win32EscapedString(path))
		} else {
			b.WriteString(path)
		}
	}
	return b.String()
}

// Win32EscapedString quotes path for use as a single command-line token on
// the platforms ninja targets; on POSIX this degenerates to shell quoting
// only when path contains characters a shell would otherwise split on.
func Win32EscapedString(path string) string {
	if path == "" {
		return `""`
	}
	needsQuote := strings.ContainsAny(path, " \t\"")
	if !needsQuote {
		return path
	}
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(path); i++ {
		if path[i] == '"' {
			b.WriteByte('\\')
		}
		b.WriteByte(path[i])
	}
	b.WriteByte('"')
	return b.String()
}
