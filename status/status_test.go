package status

import (
	"testing"

	"ninjacore/graph"
)

func TestFormatProgressStatusBasicPlaceholders(t *testing.T) {
	p := NewPrinter(Config{Verbosity: Normal, Parallelism: 1})
	p.totalEdges = 10
	p.startedEdges = 3
	p.finishedEdges = 2
	p.runningEdges = 1

	got := p.FormatProgressStatus("[%f/%t running=%r started=%s unstarted=%u]", 0)
	want := "[2/10 running=1 started=3 unstarted=7]"
	if got != want {
		t.Fatalf("FormatProgressStatus = %q, want %q", got, want)
	}
}

func TestFormatProgressStatusPercentage(t *testing.T) {
	p := NewPrinter(Config{Verbosity: Normal})
	p.totalEdges = 4
	p.finishedEdges = 1

	got := p.FormatProgressStatus("%p", 0)
	want := " 25%"
	if got != want {
		t.Fatalf("FormatProgressStatus(%%p) = %q, want %q", got, want)
	}
}

func TestFormatProgressStatusLiteralPercent(t *testing.T) {
	p := NewPrinter(Config{Verbosity: Normal})
	if got := p.FormatProgressStatus("100%%", 0); got != "100%" {
		t.Fatalf("FormatProgressStatus(100%%%%) = %q, want 100%%", got)
	}
}

func TestFormatProgressStatusUnknownPlaceholderPassesThrough(t *testing.T) {
	p := NewPrinter(Config{Verbosity: Normal})
	if got := p.FormatProgressStatus("%z", 0); got != "%z" {
		t.Fatalf("FormatProgressStatus(%%z) = %q, want literal %%z", got)
	}
}

func TestEdgeAddedAndRemovedFromPlanTracksPredictableEdges(t *testing.T) {
	p := NewPrinter(Config{Verbosity: Normal})

	state := graph.NewState()
	predictable := state.AddEdge(graph.NewRule("cc"))
	predictable.PrevElapsedTimeMillis = 500

	unpredictable := state.AddEdge(graph.NewRule("cc"))
	unpredictable.PrevElapsedTimeMillis = -1

	p.EdgeAddedToPlan(predictable)
	p.EdgeAddedToPlan(unpredictable)

	if p.totalEdges != 2 {
		t.Fatalf("totalEdges = %d, want 2", p.totalEdges)
	}
	if p.etaPredictableEdgesTotal != 1 || p.etaPredictableCPUTimeTotal != 500 {
		t.Fatalf("predictable accounting = %d/%d, want 1/500", p.etaPredictableEdgesTotal, p.etaPredictableCPUTimeTotal)
	}
	if p.etaUnpredictableEdgesRemaining != 1 {
		t.Fatalf("etaUnpredictableEdgesRemaining = %d, want 1", p.etaUnpredictableEdgesRemaining)
	}

	p.EdgeRemovedFromPlan(predictable)
	if p.totalEdges != 1 {
		t.Fatalf("totalEdges after removal = %d, want 1", p.totalEdges)
	}
	if p.etaPredictableEdgesTotal != 0 || p.etaPredictableCPUTimeTotal != 0 {
		t.Fatalf("predictable accounting after removal = %d/%d, want 0/0", p.etaPredictableEdgesTotal, p.etaPredictableCPUTimeTotal)
	}
}

func TestStripAnsiEscapeCodesRemovesCSISequences(t *testing.T) {
	in := "\x1b[31mFAILED\x1b[0m: a.o\n"
	got := stripAnsiEscapeCodes(in)
	want := "FAILED: a.o\n"
	if got != want {
		t.Fatalf("stripAnsiEscapeCodes(%q) = %q, want %q", in, got, want)
	}
}

func TestStripAnsiEscapeCodesPlainTextUnchanged(t *testing.T) {
	in := "plain output, no escapes"
	if got := stripAnsiEscapeCodes(in); got != in {
		t.Fatalf("stripAnsiEscapeCodes should not modify plain text: got %q", got)
	}
}

func TestSlidingRateInfoIgnoresDuplicateUpdateHints(t *testing.T) {
	r := newSlidingRateInfo(3)
	r.updateRate(1, 1000)
	r.updateRate(1, 2000) // same hint as before: must be ignored
	r.updateRate(2, 2000)

	if r.rate() <= 0 {
		t.Fatalf("rate() = %v, want a positive rate after two distinct samples", r.rate())
	}
}

func TestSlidingRateInfoSingleSampleHasNoRateYet(t *testing.T) {
	r := newSlidingRateInfo(3)
	r.updateRate(1, 1000)
	if r.rate() != -1 {
		t.Fatalf("rate() = %v, want -1 with only one sample", r.rate())
	}
}
