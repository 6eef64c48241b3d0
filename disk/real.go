package disk

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"ninjacore/graph"
)

// RealDiskInterface is the default Interface, backed directly by the OS
// filesystem and plain modification timestamps.
type RealDiskInterface struct {
	useCache bool
	cache    map[string]map[string]graph.TimeStamp
}

func NewRealDiskInterface() *RealDiskInterface {
	return &RealDiskInterface{cache: map[string]map[string]graph.TimeStamp{}}
}

func (this *RealDiskInterface) Stat(path string) (graph.TimeStamp, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return graph.MissingTimeStamp, true, nil
		}
		return graph.UnknownTimeStamp, true, err
	}
	return graph.TimeStamp(info.ModTime().UnixNano()), false, nil
}

func (this *RealDiskInterface) StatNode(node *graph.Node) (graph.TimeStamp, bool, error) {
	return this.Stat(node.Path())
}

func (this *RealDiskInterface) MakeDir(path string) bool {
	return os.Mkdir(path, 0777) == nil
}

func dirName(path string) string {
	dir := filepath.Dir(path)
	if dir == "." {
		return ""
	}
	return dir
}

// MakeDirs creates every missing directory component of path (the
// directory containing it, recursively), matching spec.md §4.4's
// StartEdge requirement to make all output directories before running a
// command.
func (this *RealDiskInterface) MakeDirs(path string) (bool, error) {
	dir := dirName(path)
	if dir == "" {
		return true, nil
	}
	_, missing, err := this.Stat(dir)
	if err != nil {
		return false, err
	}
	if !missing {
		return true, nil
	}
	if ok, err := this.MakeDirs(dir); !ok {
		return false, err
	}
	return this.MakeDir(dir), nil
}

func (this *RealDiskInterface) WriteFile(path, contents string) bool {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0664)
	if err != nil {
		return false
	}
	defer f.Close()
	if _, err := io.WriteString(f, contents); err != nil {
		return false
	}
	return true
}

func (this *RealDiskInterface) ReadFile(path string) (string, ReadStatus, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", NotFound, err
		}
		return "", OtherError, err
	}
	return string(buf), Okay, nil
}

// RemoveFile behaves like `rm -f`: no error is reported if path is
// already absent.
func (this *RealDiskInterface) RemoveFile(path string) int {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return 1
	}
	if err := os.Remove(path); err != nil {
		return -1
	}
	return 0
}

// AllowStatCache records the setting on Windows (disabling it also empties
// the cache) and does nothing on other platforms. Stat does not read the
// cache on any platform, so the setting does not change Stat's results.
func (this *RealDiskInterface) AllowStatCache(allow bool) {
	if runtime.GOOS != "windows" {
		return
	}
	this.useCache = allow
	if !allow {
		this.cache = map[string]map[string]graph.TimeStamp{}
	}
}
