package graph

import "github.com/ahrtr/gocontainer/queue/priorityqueue"

// Pool is a named admission controller limiting the total scheduled
// weight of edges that opt into it (spec.md §4.1).
type Pool struct {
	name       string
	depth      int
	currentUse int
	delayed    priorityqueue.Interface
}

// edgeWeightCmp orders delayed edges for FIFO admission by the sequence
// number DelayEdge assigns; sequence numbers are unique, so there is no
// further tie-break.
type edgeWeightCmp struct{}

func (edgeWeightCmp) Compare(a, b interface{}) (int, error) {
	ea, eb := a.(*Edge), b.(*Edge)
	if ea.insertionSeq != eb.insertionSeq {
		if ea.insertionSeq < eb.insertionSeq {
			return -1, nil
		}
		return 1, nil
	}
	return 0, nil
}

var delaySeq int64

func NewPool(name string, depth int) *Pool {
	return &Pool{
		name:    name,
		depth:   depth,
		delayed: priorityqueue.New().WithComparator(edgeWeightCmp{}),
	}
}

func (this *Pool) Name() string  { return this.name }
func (this *Pool) Depth() int    { return this.depth }
func (this *Pool) CurrentUse() int { return this.currentUse }

// ShouldDelayEdge reports whether the pool has a depth limit at all, i.e.
// whether its edges go through the delayed set (RetrieveReadyEdges does
// the capacity check). Depth 0 means unlimited.
func (this *Pool) ShouldDelayEdge() bool {
	return this.depth != 0
}

// EdgeScheduled accounts for edge being admitted into the running set.
func (this *Pool) EdgeScheduled(edge *Edge) {
	if this.depth != 0 {
		this.currentUse += edge.Weight()
	}
}

// EdgeFinished reverses EdgeScheduled's accounting.
func (this *Pool) EdgeFinished(edge *Edge) {
	if this.depth != 0 {
		this.currentUse -= edge.Weight()
	}
}

// DelayEdge inserts edge into the pool's FIFO-ordered delayed set; it will
// be admitted later by RetrieveReadyEdges once capacity frees up.
func (this *Pool) DelayEdge(edge *Edge) {
	edge.insertionSeq = delaySeq
	delaySeq++
	this.delayed.Add(edge)
}

// RetrieveReadyEdges drains as many delayed edges as currently fit under
// depth, in FIFO order, transferring their admission into ready.
func (this *Pool) RetrieveReadyEdges(ready priorityqueue.Interface) {
	for !this.delayed.IsEmpty() {
		next := this.delayed.Poll()
		edge := next.(*Edge)
		if this.depth != 0 && this.currentUse+edge.Weight() > this.depth {
			// Doesn't fit yet; put it back and stop, preserving FIFO order
			// for the edges still waiting behind it.
			this.delayed.Add(edge)
			break
		}
		this.EdgeScheduled(edge)
		ready.Add(edge)
	}
}

// DefaultPool and ConsolePool are the two pools intrinsic to every State.
// ConsolePool holds exclusive access to the controlling terminal, so its
// depth is 1.
var (
	DefaultPool = NewPool("", 0)
	ConsolePool = NewPool("console", 1)
)
