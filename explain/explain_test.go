package explain

import "testing"

func TestRecorderCollectsInOrderPerItem(t *testing.T) {
	r := NewRecorder()
	r.Record("a.o", "output %s does not exist", "a.o")
	r.Record("a.o", "input %s is newer", "a.c")
	r.Record("b.o", "input %s is newer", "b.c")

	got := r.LookupAndAppend("a.o", nil)
	want := []string{"output a.o does not exist", "input a.c is newer"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	items := r.Items()
	if len(items) != 2 || items[0] != "a.o" || items[1] != "b.o" {
		t.Fatalf("Items() = %v, want [a.o b.o] in first-recorded order", items)
	}
}

func TestRecorderNoOpOnNilReceiver(t *testing.T) {
	var r *Recorder
	r.Record("a.o", "should be dropped silently")
	if items := r.Items(); items != nil {
		t.Fatalf("nil Recorder should report no items, got %v", items)
	}
	if got := r.LookupAndAppend("a.o", []string{"keep"}); len(got) != 1 || got[0] != "keep" {
		t.Fatalf("nil Recorder LookupAndAppend should only preserve the passed-in slice, got %v", got)
	}
}

func TestRecorderArgsForwardsVarargsSlice(t *testing.T) {
	r := NewRecorder()
	r.RecordArgs("x.o", "restat mtime %d != %d", []interface{}{1, 2})
	got := r.LookupAndAppend("x.o", nil)
	if len(got) != 1 || got[0] != "restat mtime 1 != 2" {
		t.Fatalf("got %v", got)
	}
}
