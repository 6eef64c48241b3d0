// Package depslog implements the compact, persistent record of each
// edge's discovered implicit inputs (spec.md §4.7): the alternative to
// re-parsing a depfile on every build once a compiler has emitted one via
// `deps = gcc`/`deps = msvc`. Grounded on the teacher's deps_log.go,
// translated from its hand-rolled binary record format onto a small
// zombiezen.com/go/sqlite-backed table — the teacher's own copy already
// made this exact trade (its "signature+version" comment describes the
// historical binary format but the code beneath it is sqlite-backed), so
// this keeps the teacher's actual storage engine rather than reverting to
// the older binary layout.
package depslog

import (
	"errors"
	"fmt"
	"os"

	"zombiezen.com/go/sqlite"

	"ninjacore/errkind"
	"ninjacore/graph"
)

const currentVersion = 4

// LoadStatus reports how Load's attempt to read an existing log went.
type LoadStatus int8

const (
	LoadSuccess LoadStatus = iota
	LoadNotFound
	LoadError
)

// Deps is the recorded implicit-input set for one node, plus the output's
// mtime at the time it was recorded (used to tell whether the record is
// stale: scan/depload.go invalidates it once output.Mtime() > Mtime).
type Deps struct {
	Mtime graph.TimeStamp
	Nodes []*graph.Node
}

// Log is the in-memory view of the deps database, keyed by the small
// integer ids RecordId hands out (mirroring the teacher's nodes_/deps_
// parallel-slice design, indexed by node id rather than by node pointer,
// since ids compact much better on disk than paths do).
type Log struct {
	conn *sqlite.Conn

	stmtInsert *sqlite.Stmt
	stmtLoad   *sqlite.Stmt

	path string

	nodes []*graph.Node
	deps  []*Deps
}

func NewLog() *Log {
	return &Log{}
}

// Close flushes (creating the file even if nothing was ever recorded, to
// match the teacher's "touch the log on a no-op build" behavior) and
// releases the connection.
func (this *Log) Close() error {
	if err := this.openForWriteIfNeeded(); err != nil {
		return err
	}
	if this.conn != nil {
		err := this.conn.Close()
		this.conn = nil
		return err
	}
	return nil
}

// Load populates the in-memory id/deps tables from an existing database
// at path, interning every referenced path into state.
func (this *Log) Load(path string, state *graph.State) (LoadStatus, error) {
	this.path = path
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return LoadNotFound, nil
		}
		return LoadError, errkind.Because(errkind.LogIOError, err, "statting deps log")
	}
	if err := this.openForWriteIfNeeded(); err != nil {
		return LoadError, errkind.Because(errkind.LogIOError, err, "opening deps log")
	}

	type row struct {
		id    int64
		mtime int64
		path  string
		pid   int64
	}
	var rows []row

	this.stmtLoad.Reset()
	for {
		hasRow, err := this.stmtLoad.Step()
		if err != nil {
			return LoadError, errkind.Because(errkind.LogIOError, err, "stepping deps log query")
		}
		if !hasRow {
			break
		}
		rows = append(rows, row{
			id:    this.stmtLoad.GetInt64("id"),
			mtime: this.stmtLoad.GetInt64("mtime"),
			path:  this.stmtLoad.GetText("path"),
			pid:   this.stmtLoad.GetInt64("pid"),
		})
	}

	total := int64(len(rows))
	this.nodes = make([]*graph.Node, total)
	mtimes := make([]int64, total)
	for _, r := range rows {
		if r.id >= total {
			return LoadError, errkind.Wrap(errkind.LogIOError, "depslog: id %d out of range (total %d)", r.id, total)
		}
		node := state.GetNode(r.path, 0)
		node.SetID(int(r.id))
		this.nodes[r.id] = node
		mtimes[r.id] = r.mtime
	}

	this.deps = make([]*Deps, total)
	for _, r := range rows {
		if r.pid < 0 {
			continue
		}
		if r.pid >= total {
			return LoadError, errkind.Wrap(errkind.LogIOError, "depslog: parent id %d out of range (total %d)", r.pid, total)
		}
		d := this.deps[r.pid]
		if d == nil {
			d = &Deps{Mtime: graph.TimeStamp(mtimes[r.pid])}
			this.deps[r.pid] = d
		}
		d.Nodes = append(d.Nodes, this.nodes[r.id])
	}
	return LoadSuccess, nil
}

// GetDeps satisfies scan.DepsLog: the recorded implicit inputs for node,
// and the mtime they were recorded against.
func (this *Log) GetDeps(node *graph.Node) ([]*graph.Node, graph.TimeStamp, bool) {
	id := node.ID()
	if id < 0 || id >= len(this.deps) || this.deps[id] == nil {
		return nil, 0, false
	}
	d := this.deps[id]
	return d.Nodes, d.Mtime, true
}

// GetFirstReverseDepsNode does a linear scan for any node whose recorded
// deps mention node — used only for diagnostics (`-t deps` style
// tooling), not on any per-build hot path.
func (this *Log) GetFirstReverseDepsNode(node *graph.Node) *graph.Node {
	for id, d := range this.deps {
		if d == nil {
			continue
		}
		for _, n := range d.Nodes {
			if n == node {
				return this.nodes[id]
			}
		}
	}
	return nil
}

// IsDepsEntryLiveFor reports whether node's recorded deps entry still
// corresponds to something the current manifest would produce: it must
// have a producing edge, and that edge must actually opt into a deps log
// (`deps = gcc`/`deps = msvc`).
func IsDepsEntryLiveFor(node *graph.Node) bool {
	edge := node.InEdge()
	return edge != nil && edge.GetBinding("deps") != ""
}

// RecordDeps assigns ids as needed and, only if the new data differs from
// what's already recorded, writes an updated entry for node.
func (this *Log) RecordDeps(node *graph.Node, mtime graph.TimeStamp, nodes []*graph.Node) error {
	madeChange := false

	if node.ID() < 0 {
		if err := this.recordId(node, mtime, -1); err != nil {
			return err
		}
		madeChange = true
	}
	for _, n := range nodes {
		if n.ID() < 0 {
			if err := this.recordId(n, 0, int64(node.ID())); err != nil {
				return err
			}
			madeChange = true
		}
	}

	if !madeChange {
		existing, existingMtime, ok := this.GetDeps(node)
		if !ok || existingMtime != mtime || len(existing) != len(nodes) {
			madeChange = true
		} else {
			for i := range nodes {
				if existing[i] != nodes[i] {
					madeChange = true
					break
				}
			}
		}
	}
	if !madeChange {
		return nil
	}

	if err := this.openForWriteIfNeeded(); err != nil {
		return err
	}
	this.updateDeps(node.ID(), &Deps{Mtime: mtime, Nodes: append([]*graph.Node(nil), nodes...)})
	return nil
}

func (this *Log) updateDeps(id int, d *Deps) {
	if id >= len(this.deps) {
		this.deps = append(this.deps, make([]*Deps, id+1-len(this.deps))...)
	}
	this.deps[id] = d
}

// RecordId satisfies scan.DepsLog: assigns node an id with no parent
// (used when a caller just needs node to have an id, e.g. as an output
// about to have deps recorded against it).
func (this *Log) RecordId(node *graph.Node) error {
	return this.recordId(node, node.Mtime(), -1)
}

func (this *Log) recordId(node *graph.Node, mtime graph.TimeStamp, pid int64) error {
	if node.Path() == "" {
		return fmt.Errorf("depslog: cannot record an empty path")
	}
	if err := this.openForWriteIfNeeded(); err != nil {
		return err
	}
	id := len(this.nodes)
	this.stmtInsert.Reset()
	this.stmtInsert.SetInt64("$id", int64(id))
	this.stmtInsert.SetText("$path", node.Path())
	this.stmtInsert.SetInt64("$mtime", int64(mtime))
	this.stmtInsert.SetInt64("$pid", pid)
	if _, err := this.stmtInsert.Step(); err != nil {
		return err
	}
	node.SetID(id)
	this.nodes = append(this.nodes, node)
	return nil
}

// Truncate deletes every row from the database; used by
// Recompact to rebuild the table from only the entries still live.
func (this *Log) Truncate() error {
	if this.conn == nil {
		return nil
	}
	stmt, err := this.conn.Prepare("DELETE FROM ninja_deps")
	if err != nil {
		return err
	}
	_, err = stmt.Step()
	return err
}

// Recompact rewrites the log keeping only entries IsDepsEntryLiveFor
// still considers live, reassigning dense ids so the database doesn't
// grow unboundedly across the lifetime of a checkout.
func (this *Log) Recompact() error {
	live := make([]*graph.Node, 0, len(this.nodes))
	liveDeps := make([]*Deps, 0, len(this.deps))

	for id, n := range this.nodes {
		if n == nil {
			continue
		}
		if id < len(this.deps) && this.deps[id] != nil && !IsDepsEntryLiveFor(n) {
			continue
		}
		live = append(live, n)
		if id < len(this.deps) {
			liveDeps = append(liveDeps, this.deps[id])
		} else {
			liveDeps = append(liveDeps, nil)
		}
	}

	if err := this.Truncate(); err != nil {
		return err
	}
	this.nodes = nil
	this.deps = nil

	for _, n := range live {
		n.SetID(-1)
		if err := this.recordId(n, n.Mtime(), -1); err != nil {
			return err
		}
	}
	for newID, d := range liveDeps {
		if d == nil {
			continue
		}
		this.updateDeps(newID, &Deps{Mtime: d.Mtime, Nodes: append([]*graph.Node(nil), d.Nodes...)})
	}
	return nil
}

func (this *Log) openForWriteIfNeeded() error {
	if this.conn != nil {
		return nil
	}
	needCreateTable := false
	if _, err := os.Stat(this.path); errors.Is(err, os.ErrNotExist) {
		needCreateTable = true
	} else if err != nil {
		return err
	}

	flags := sqlite.OpenReadWrite
	if needCreateTable {
		flags |= sqlite.OpenCreate
	}
	conn, err := sqlite.OpenConn(this.path, flags)
	if err != nil {
		return err
	}
	this.conn = conn

	if needCreateTable {
		stmt, err := conn.Prepare("CREATE TABLE IF NOT EXISTS ninja_deps " +
			"(`id` INTEGER PRIMARY KEY, `path` TEXT, `mtime` INTEGER, `pid` INTEGER)")
		if err != nil {
			return err
		}
		if _, err := stmt.Step(); err != nil {
			return err
		}
	}

	this.stmtInsert, err = conn.Prepare(
		"INSERT INTO ninja_deps (`id`, `path`, `mtime`, `pid`) VALUES ($id, $path, $mtime, $pid) " +
			"ON CONFLICT(id) DO UPDATE SET `path`=$path, `mtime`=$mtime, `pid`=$pid")
	if err != nil {
		return err
	}
	this.stmtLoad, err = conn.Prepare("SELECT * FROM ninja_deps WHERE `id` >= 0")
	if err != nil {
		return err
	}
	return nil
}
