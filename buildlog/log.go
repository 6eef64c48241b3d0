// Package buildlog implements the append-only `.ninja_log`: a record, per
// output path, of the command that last produced it (as a hash), when it
// ran, and the output's mtime at that time — the signal RecomputeOutputDirty
// compares against to decide whether a command needs to run again
// (spec.md §4.6). Grounded on the teacher's build_log.go/build_log_h.go,
// with the on-disk field layout taken from spec.md §4.6/§6/§8 since the
// teacher's own copy of this file uses an incompatible version number and
// a placeholder (non-MurmurHash2) command hash.
package buildlog

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"ninjacore/errkind"
	"ninjacore/graph"
	"ninjacore/hash"
)

const (
	fileSignaturePrefix = "# ninja log v"
	currentVersion      = 5
	oldestSupportedVersion = 4
	minCompactionEntryCount = 100
	compactionRatio         = 3
)

// Entry is the per-output record: which command (by hash) last produced
// this path, when, and what its mtime was immediately afterward.
type Entry struct {
	Output      string
	CommandHash uint64
	StartTimeMs int
	EndTimeMs   int
	RestatMtime int64
}

// User lets Recompact ask the caller which outputs are no longer part of
// the build graph at all, so their history can be dropped.
type User interface {
	IsPathDead(path string) bool
}

// LoadStatus reports how Load's attempt to read an existing log went.
type LoadStatus int8

const (
	LoadSuccess LoadStatus = iota
	LoadNotFound
	LoadError
)

// Log is the in-memory view of a .ninja_log file, plus (once opened for
// writing) the open file handle new entries are streamed to.
type Log struct {
	entries           map[string]*Entry
	file              *os.File
	writer            *bufio.Writer
	path              string
	needsRecompaction bool
}

func NewLog() *Log {
	return &Log{entries: make(map[string]*Entry)}
}

// OpenForWrite prepares the log for appending; if a prior Load flagged
// the log for recompaction, that happens first. The actual file isn't
// opened until the first RecordCommand.
func (this *Log) OpenForWrite(path string, user User) error {
	if this.needsRecompaction {
		if err := this.Recompact(path, user); err != nil {
			return err
		}
	}
	this.path = path
	return nil
}

// RecordCommand upserts one entry per output of edge and immediately
// flushes it to disk, so a crash mid-build never loses history for
// commands that already completed.
func (this *Log) RecordCommand(edge *graph.Edge, startMs, endMs int, mtime int64) error {
	command := edge.EvaluateCommand(true)
	commandHash := hash.HashCommand(command)

	for _, out := range edge.Outputs {
		path := out.Path()
		entry, ok := this.entries[path]
		if !ok {
			entry = &Entry{Output: path}
			this.entries[path] = entry
		}
		entry.CommandHash = commandHash
		entry.StartTimeMs = startMs
		entry.EndTimeMs = endMs
		entry.RestatMtime = mtime

		if err := this.openForWriteIfNeeded(); err != nil {
			return err
		}
		if this.writer != nil {
			if err := this.writeEntry(this.writer, entry); err != nil {
				return err
			}
			if err := this.writer.Flush(); err != nil {
				return err
			}
			if err := this.file.Sync(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (this *Log) Close() error {
	if err := this.openForWriteIfNeeded(); err != nil {
		return err
	}
	if this.file != nil {
		if this.writer != nil {
			this.writer.Flush()
		}
		err := this.file.Close()
		this.file = nil
		this.writer = nil
		return err
	}
	return nil
}

// Load streams an existing log file, keeping only the newest entry per
// output (later lines win). A version below oldestSupportedVersion or
// above currentVersion is treated as LoadNotFound: an empty/discarded log
// is always safe, it just forces everything to rebuild.
func (this *Log) Load(path string) (LoadStatus, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return LoadNotFound, nil
		}
		return LoadError, errkind.Because(errkind.LogIOError, err, "opening build log")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	version := 0
	uniqueCount := 0
	totalCount := 0
	sawAnyLine := false

	for scanner.Scan() {
		line := scanner.Text()
		sawAnyLine = true

		if version == 0 {
			if !strings.HasPrefix(line, fileSignaturePrefix) {
				continue
			}
			version, err = strconv.Atoi(strings.TrimSpace(line[len(fileSignaturePrefix):]))
			if err != nil || version < oldestSupportedVersion || version > currentVersion {
				return LoadNotFound, nil
			}
			continue
		}

		// Both v4 and v5 lines carry five tab-separated fields; only the
		// meaning of the last one differs (spec.md §4.6): v5 stores the
		// command hash in hex, v4 stored the literal command text, which
		// is rehashed here so both versions converge on the same
		// in-memory Entry shape.
		fields := strings.SplitN(line, "\t", 5)
		if len(fields) != 5 {
			continue
		}

		startMs, err1 := strconv.Atoi(fields[0])
		endMs, err2 := strconv.Atoi(fields[1])
		mtime, err3 := strconv.ParseInt(fields[2], 10, 64)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		output := fields[3]

		var commandHash uint64
		if version == oldestSupportedVersion {
			commandHash = hash.HashCommand(fields[4])
		} else {
			parsed, err4 := strconv.ParseUint(fields[4], 16, 64)
			if err4 != nil {
				continue
			}
			commandHash = parsed
		}

		entry, ok := this.entries[output]
		if !ok {
			entry = &Entry{Output: output}
			this.entries[output] = entry
			uniqueCount++
		}
		totalCount++
		entry.StartTimeMs = startMs
		entry.EndTimeMs = endMs
		entry.RestatMtime = mtime
		entry.CommandHash = commandHash
	}
	if err := scanner.Err(); err != nil {
		return LoadError, errkind.Because(errkind.LogIOError, err, "reading build log")
	}

	if !sawAnyLine {
		return LoadSuccess, nil
	}

	if version < currentVersion {
		this.needsRecompaction = true
	} else if totalCount > minCompactionEntryCount && totalCount > uniqueCount*compactionRatio {
		this.needsRecompaction = true
	}
	return LoadSuccess, nil
}

func (this *Log) LookupByOutput(path string) *Entry {
	return this.entries[path]
}

func (this *Log) writeEntry(w *bufio.Writer, entry *Entry) error {
	_, err := fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%x\n",
		entry.StartTimeMs, entry.EndTimeMs, entry.RestatMtime, entry.Output, entry.CommandHash)
	return err
}

// Recompact rewrites the log with only live entries, dropping any output
// user.IsPathDead reports as no longer part of the build graph.
func (this *Log) Recompact(path string, user User) error {
	this.Close()
	tempPath := path + ".recompact"
	f, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if _, err := fmt.Fprintf(w, "%s%d\n", fileSignaturePrefix, currentVersion); err != nil {
		f.Close()
		return err
	}

	var dead []string
	for output, entry := range this.entries {
		if user != nil && user.IsPathDead(output) {
			dead = append(dead, output)
			continue
		}
		if err := this.writeEntry(w, entry); err != nil {
			f.Close()
			return err
		}
	}
	for _, output := range dead {
		delete(this.entries, output)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	f.Close()

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return os.Rename(tempPath, path)
}

// Restat re-stats the named outputs (or every recorded output, if outputs
// is empty) and rewrites the log with refreshed mtimes, recovering from
// external edits made between builds.
func (this *Log) Restat(path string, statFn func(path string) (int64, error), outputs []string) error {
	this.Close()
	tempPath := path + ".restat"
	f, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if _, err := fmt.Fprintf(w, "%s%d\n", fileSignaturePrefix, currentVersion); err != nil {
		return err
	}

	only := make(map[string]bool, len(outputs))
	for _, o := range outputs {
		only[o] = true
	}

	for output, entry := range this.entries {
		if len(only) == 0 || only[output] {
			mtime, err := statFn(output)
			if err != nil {
				return err
			}
			entry.RestatMtime = mtime
		}
		if err := this.writeEntry(w, entry); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return os.Rename(tempPath, path)
}

func (this *Log) openForWriteIfNeeded() error {
	if this.file != nil || this.path == "" {
		return nil
	}
	f, err := os.OpenFile(this.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	this.file = f
	this.writer = bufio.NewWriter(f)
	if info.Size() == 0 {
		if _, err := fmt.Fprintf(this.writer, "%s%d\n", fileSignaturePrefix, currentVersion); err != nil {
			return err
		}
		if err := this.writer.Flush(); err != nil {
			return err
		}
	}
	return nil
}
