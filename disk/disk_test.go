package disk

import (
	"path/filepath"
	"testing"

	"ninjacore/graph"
)

func TestRealDiskInterfaceStatMissingVsPresent(t *testing.T) {
	dir := t.TempDir()
	d := NewRealDiskInterface()

	missingPath := filepath.Join(dir, "nope.txt")
	mtime, missing, err := d.Stat(missingPath)
	if err != nil {
		t.Fatalf("Stat on a missing file returned an error: %v", err)
	}
	if !missing {
		t.Fatalf("Stat should report missing for a file that was never created")
	}
	if mtime != graph.MissingTimeStamp {
		t.Fatalf("Stat mtime = %v, want MissingTimeStamp", mtime)
	}

	present := filepath.Join(dir, "here.txt")
	if !d.WriteFile(present, "hi") {
		t.Fatalf("WriteFile failed")
	}
	_, missing, err = d.Stat(present)
	if err != nil || missing {
		t.Fatalf("Stat on an existing file: missing=%v err=%v", missing, err)
	}
}

func TestRealDiskInterfaceMakeDirsCreatesEveryComponent(t *testing.T) {
	dir := t.TempDir()
	d := NewRealDiskInterface()

	target := filepath.Join(dir, "a", "b", "c", "out.txt")
	ok, err := d.MakeDirs(target)
	if err != nil || !ok {
		t.Fatalf("MakeDirs(%q) = %v, %v", target, ok, err)
	}
	if _, missing, _ := d.Stat(filepath.Join(dir, "a", "b", "c")); missing {
		t.Fatalf("MakeDirs did not actually create the leaf directory")
	}
}

func TestRealDiskInterfaceWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	d := NewRealDiskInterface()
	path := filepath.Join(dir, "round.txt")

	if !d.WriteFile(path, "payload") {
		t.Fatalf("WriteFile failed")
	}
	contents, status, err := d.ReadFile(path)
	if err != nil || status != Okay || contents != "payload" {
		t.Fatalf("ReadFile = %q, %v, %v", contents, status, err)
	}
}

func TestRealDiskInterfaceReadFileNotFound(t *testing.T) {
	dir := t.TempDir()
	d := NewRealDiskInterface()
	_, status, err := d.ReadFile(filepath.Join(dir, "absent.txt"))
	if status != NotFound || err == nil {
		t.Fatalf("ReadFile on a missing path: status=%v err=%v", status, err)
	}
}

func TestRealDiskInterfaceRemoveFile(t *testing.T) {
	dir := t.TempDir()
	d := NewRealDiskInterface()
	path := filepath.Join(dir, "gone.txt")
	d.WriteFile(path, "x")

	if code := d.RemoveFile(path); code != 0 {
		t.Fatalf("RemoveFile on an existing file = %d, want 0", code)
	}
	if code := d.RemoveFile(path); code != 1 {
		t.Fatalf("RemoveFile on an already-removed file = %d, want 1", code)
	}
}

func TestContentHashDiskInterfaceSameContentDifferentPathDiffers(t *testing.T) {
	dir := t.TempDir()
	d := NewContentHashDiskInterface(dir)

	pathA := filepath.Join(dir, "a.txt")
	pathB := filepath.Join(dir, "b.txt")
	d.RealDiskInterface.WriteFile(pathA, "identical")
	d.RealDiskInterface.WriteFile(pathB, "identical")

	hashA, missingA, errA := d.Stat(pathA)
	hashB, missingB, errB := d.Stat(pathB)
	if errA != nil || errB != nil || missingA || missingB {
		t.Fatalf("Stat failed: %v %v %v %v", missingA, errA, missingB, errB)
	}
	if hashA == hashB {
		t.Fatalf("content hash must fold in the (prefix-relative) path, not just file bytes, but %q and %q hashed equal", pathA, pathB)
	}
}

func TestContentHashDiskInterfaceChangesWithContent(t *testing.T) {
	dir := t.TempDir()
	d := NewContentHashDiskInterface(dir)
	path := filepath.Join(dir, "c.txt")

	d.RealDiskInterface.WriteFile(path, "v1")
	h1, _, err := d.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	d.RealDiskInterface.WriteFile(path, "v2")
	h2, _, err := d.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if h1 == h2 {
		t.Fatalf("content hash did not change when file contents changed")
	}
}

func TestContentHashDiskInterfaceMissingPath(t *testing.T) {
	dir := t.TempDir()
	d := NewContentHashDiskInterface(dir)
	mtime, missing, err := d.Stat(filepath.Join(dir, "absent.txt"))
	if err != nil || !missing || mtime != graph.MissingTimeStamp {
		t.Fatalf("Stat on a missing path: mtime=%v missing=%v err=%v", mtime, missing, err)
	}
}
