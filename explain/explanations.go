// Package explain records the human-readable reasons RecomputeNodeDirty
// decided a node was dirty, for `-d explain` debugging output. Grounded on
// the teacher's explanations.go/explanations_h.go.
package explain

import "fmt"

// Recorder collects explanations keyed by the node (or edge) they concern.
// A nil *Recorder is valid and silently drops every call, mirroring the
// teacher's OptionalExplanations wrapper: scan code calls
// explanations.Record(...) unconditionally and pays the cost only when a
// caller actually wants the output.
type Recorder struct {
	byItem map[interface{}][]string
	order  []interface{}
}

func NewRecorder() *Recorder {
	return &Recorder{byItem: make(map[interface{}][]string)}
}

// Record formats and stores an explanation for item. Safe to call on a nil
// receiver.
func (this *Recorder) Record(item interface{}, format string, args ...interface{}) {
	if this == nil {
		return
	}
	this.RecordArgs(item, format, args)
}

// RecordArgs is Record with the varargs already collected into a slice, for
// callers forwarding a formatting tuple they received themselves.
func (this *Recorder) RecordArgs(item interface{}, format string, args []interface{}) {
	if this == nil {
		return
	}
	if _, seen := this.byItem[item]; !seen {
		this.order = append(this.order, item)
	}
	this.byItem[item] = append(this.byItem[item], fmt.Sprintf(format, args...))
}

// LookupAndAppend appends every explanation recorded for item to out,
// returning the extended slice.
func (this *Recorder) LookupAndAppend(item interface{}, out []string) []string {
	if this == nil {
		return out
	}
	return append(out, this.byItem[item]...)
}

// Items returns every item that has at least one explanation recorded
// against it, in first-recorded order. Used by the top-level `-d explain`
// dump to walk the whole build in a stable order.
func (this *Recorder) Items() []interface{} {
	if this == nil {
		return nil
	}
	return this.order
}
