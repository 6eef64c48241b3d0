package status

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"

	"ninjacore/explain"
	"ninjacore/graph"
)

// Verbosity controls how much a Printer says about each command.
type Verbosity int8

const (
	Quiet Verbosity = iota
	NoStatusUpdate
	Normal
	Verbose
)

// Config is the slice of BuildConfig a Printer needs.
type Config struct {
	Verbosity   Verbosity
	Parallelism int
}

// Printer is the Plan.StatusSink and per-command progress reporter:
// it counts edges added/removed from the plan (the predicted-time
// percentage is never computed, so the %E/%W ETA placeholders print "?"
// and %P prints 0%), prints the NINJA_STATUS-formatted status line as
// edges start and finish, and
// prints failures/explanations on their own lines so they survive the
// next status-line overprint.
type Printer struct {
	config Config

	startedEdges  int
	finishedEdges int
	totalEdges    int
	runningEdges  int

	timeMillis int64

	etaPredictableEdgesTotal       int
	etaPredictableCPUTimeTotal     int64
	etaPredictableEdgesRemaining   int
	etaPredictableCPUTimeRemaining int64
	etaUnpredictableEdgesRemaining int
	timePredictedPercentage        float64

	printer LinePrinter

	explanations *explain.Recorder

	progressStatusFormat string

	currentRate *slidingRateInfo
}

func NewPrinter(config Config) *Printer {
	this := &Printer{config: config, currentRate: newSlidingRateInfo(config.Parallelism)}
	if config.Verbosity != Normal {
		this.printer.SetSmartTerminal(false)
	}
	this.progressStatusFormat = os.Getenv("NINJA_STATUS")
	if this.progressStatusFormat == "" {
		this.progressStatusFormat = "[%f/%t] "
	}
	return this
}

// SetExplanations wires the `-d explain` recorder; nil disables it.
func (this *Printer) SetExplanations(e *explain.Recorder) { this.explanations = e }

// EdgeAddedToPlan / EdgeRemovedFromPlan satisfy plan.StatusSink.
func (this *Printer) EdgeAddedToPlan(edge *graph.Edge) {
	this.totalEdges++
	if edge.PrevElapsedTimeMillis != -1 {
		this.etaPredictableEdgesTotal++
		this.etaPredictableEdgesRemaining++
		this.etaPredictableCPUTimeTotal += edge.PrevElapsedTimeMillis
		this.etaPredictableCPUTimeRemaining += edge.PrevElapsedTimeMillis
	} else {
		this.etaUnpredictableEdgesRemaining++
	}
}

func (this *Printer) EdgeRemovedFromPlan(edge *graph.Edge) {
	this.totalEdges--
	if edge.PrevElapsedTimeMillis != -1 {
		this.etaPredictableEdgesTotal--
		this.etaPredictableEdgesRemaining--
		this.etaPredictableCPUTimeTotal -= edge.PrevElapsedTimeMillis
		this.etaPredictableCPUTimeRemaining -= edge.PrevElapsedTimeMillis
	} else {
		this.etaUnpredictableEdgesRemaining--
	}
}

func (this *Printer) BuildStarted() {
	this.startedEdges = 0
	this.finishedEdges = 0
	this.runningEdges = 0
}

func (this *Printer) BuildFinished() {
	this.printer.SetConsoleLocked(false)
	this.printer.PrintOnNewLine("")
}

func (this *Printer) BuildEdgeStarted(edge *graph.Edge, startTimeMillis int64) {
	this.startedEdges++
	this.runningEdges++
	this.timeMillis = startTimeMillis

	if edge.UseConsole() || this.printer.IsSmartTerminal() {
		this.PrintStatus(edge, startTimeMillis)
	}
	if edge.UseConsole() {
		this.printer.SetConsoleLocked(true)
	}
}

func (this *Printer) BuildEdgeFinished(edge *graph.Edge, startTimeMillis, endTimeMillis int64, success bool, output string) {
	this.timeMillis = endTimeMillis
	this.finishedEdges++

	elapsed := endTimeMillis - startTimeMillis
	_ = elapsed

	if edge.PrevElapsedTimeMillis != -1 {
		this.etaPredictableEdgesRemaining--
		this.etaPredictableCPUTimeRemaining -= edge.PrevElapsedTimeMillis
	} else {
		this.etaUnpredictableEdgesRemaining--
	}

	if edge.UseConsole() {
		this.printer.SetConsoleLocked(false)
	}
	if this.config.Verbosity == Quiet {
		return
	}
	if !edge.UseConsole() {
		this.PrintStatus(edge, endTimeMillis)
	}
	this.runningEdges--

	if !success {
		var outputs strings.Builder
		for _, o := range edge.Outputs {
			outputs.WriteString(o.Path())
			outputs.WriteByte(' ')
		}
		failed := color.New(color.FgRed).SprintFunc()
		if this.printer.SupportsColor() {
			this.printer.PrintOnNewLine(failed("FAILED: ") + outputs.String() + "\n")
		} else {
			this.printer.PrintOnNewLine("FAILED: " + outputs.String() + "\n")
		}
		this.printer.PrintOnNewLine(edge.EvaluateCommand(false) + "\n")
	}

	if output != "" {
		if this.printer.SupportsColor() || !strings.ContainsRune(output, '\x1b') {
			this.printer.PrintOnNewLine(output)
		} else {
			this.printer.PrintOnNewLine(stripAnsiEscapeCodes(output))
		}
	}
}

func (this *Printer) Info(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "ninja: "+format+"\n", args...)
}

func (this *Printer) Warning(format string, args ...interface{}) {
	color.New(color.FgYellow).Fprintf(os.Stderr, "ninja: warning: "+format+"\n", args...)
}

func (this *Printer) Error(format string, args ...interface{}) {
	color.New(color.FgRed).Fprintf(os.Stderr, "ninja: error: "+format+"\n", args...)
}

// PrintStatus prints any pending `-d explain` lines for edge's outputs,
// then the current NINJA_STATUS-formatted progress line.
func (this *Printer) PrintStatus(edge *graph.Edge, timeMillis int64) {
	if this.explanations != nil {
		var lines []string
		for _, output := range edge.Outputs {
			lines = this.explanations.LookupAndAppend(output, lines)
		}
		if len(lines) != 0 {
			this.printer.PrintOnNewLine("")
			for _, l := range lines {
				fmt.Fprintf(os.Stderr, "ninja explain: %s\n", l)
			}
		}
	}

	if this.config.Verbosity == Quiet || this.config.Verbosity == NoStatusUpdate {
		return
	}

	forceFullCommand := this.config.Verbosity == Verbose
	toPrint := edge.GetBinding("description")
	if toPrint == "" || forceFullCommand {
		toPrint = edge.GetBinding("command")
	}
	toPrint = this.FormatProgressStatus(this.progressStatusFormat, timeMillis) + toPrint

	if forceFullCommand {
		this.printer.Print(toPrint, Full)
	} else {
		this.printer.Print(toPrint, Elide)
	}
}

// FormatProgressStatus expands a NINJA_STATUS-style format string
// (spec.md §6): %s/%t/%r/%u/%f/%o/%c/%p plus elapsed/ETA placeholders.
func (this *Printer) FormatProgressStatus(format string, timeMillis int64) string {
	var out strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' || i+1 >= len(format) {
			out.WriteByte(c)
			continue
		}
		i++
		switch format[i] {
		case '%':
			out.WriteByte('%')
		case 's':
			fmt.Fprintf(&out, "%d", this.startedEdges)
		case 't':
			fmt.Fprintf(&out, "%d", this.totalEdges)
		case 'r':
			fmt.Fprintf(&out, "%d", this.runningEdges)
		case 'u':
			fmt.Fprintf(&out, "%d", this.totalEdges-this.startedEdges)
		case 'f':
			fmt.Fprintf(&out, "%d", this.finishedEdges)
		case 'o':
			out.WriteString(snprintfRate(float64(this.finishedEdges) / (float64(this.timeMillis) / 1e3)))
		case 'c':
			this.currentRate.updateRate(this.finishedEdges, this.timeMillis)
			out.WriteString(snprintfRate(this.currentRate.rate()))
		case 'p':
			percent := 0
			if this.finishedEdges != 0 && this.totalEdges != 0 {
				percent = (100 * this.finishedEdges) / this.totalEdges
			}
			fmt.Fprintf(&out, "%3d%%", percent)
		case 'e', 'w', 'E', 'W':
			out.WriteString(this.formatElapsedOrETA(format[i], timeMillis))
		case 'P':
			fmt.Fprintf(&out, "%3d%%", int(100.0*this.timePredictedPercentage))
		default:
			// Unknown placeholder: emit it verbatim rather than aborting the
			// whole build over a cosmetic formatting string.
			out.WriteByte('%')
			out.WriteByte(format[i])
		}
	}
	return out.String()
}

func (this *Printer) formatElapsedOrETA(kind byte, timeMillis int64) string {
	elapsedSec := timeMillis / 1000
	etaSec := int64(-1)
	if this.timePredictedPercentage != 0.0 {
		totalWall := int64(float64(timeMillis) / this.timePredictedPercentage)
		etaSec = (totalWall - timeMillis) / 1000
	}

	var sec int64 = -1
	switch kind {
	case 'e', 'w':
		sec = elapsedSec
	case 'E', 'W':
		sec = etaSec
	}
	if sec < 0 {
		return "?"
	}
	switch kind {
	case 'e', 'E':
		return fmt.Sprintf("%.3f", float64(sec))
	default:
		if sec >= 3600 {
			return formatTimeHMMSS(sec)
		}
		return formatTimeMMSS(sec)
	}
}

func formatTimeHMMSS(t int64) string {
	return fmt.Sprintf("%d:%02d:%02d", t/3600, (t%3600)/60, t%60)
}

func formatTimeMMSS(t int64) string {
	return fmt.Sprintf("%02d:%02d", t/60, t%60)
}

func snprintfRate(rate float64) string {
	if rate < 0 {
		return "?"
	}
	return fmt.Sprintf("%.1f", rate)
}

// stripAnsiEscapeCodes removes `\x1b[...letter` CSI sequences, used when
// the terminal can't render color but a subprocess emitted it anyway.
func stripAnsiEscapeCodes(in string) string {
	var out strings.Builder
	for i := 0; i < len(in); i++ {
		if in[i] != '\x1b' {
			out.WriteByte(in[i])
			continue
		}
		if i+1 < len(in) && in[i+1] == '[' {
			i += 2
			for i < len(in) && !(in[i] >= '@' && in[i] <= '~') {
				i++
			}
			continue
		}
		out.WriteByte(in[i])
	}
	return out.String()
}

// slidingRateInfo tracks finished-edges-per-second averaged over the
// last N completions, for the `%c` "current rate" placeholder.
type slidingRateInfo struct {
	rateValue  float64
	n          int
	times      []float64
	lastUpdate int
}

func newSlidingRateInfo(n int) *slidingRateInfo {
	return &slidingRateInfo{rateValue: -1, n: n, lastUpdate: -1}
}

func (this *slidingRateInfo) rate() float64 { return this.rateValue }

func (this *slidingRateInfo) updateRate(updateHint int, timeMillis int64) {
	if updateHint == this.lastUpdate {
		return
	}
	this.lastUpdate = updateHint

	if len(this.times) == this.n {
		this.times = this.times[1:]
	}
	this.times = append(this.times, float64(timeMillis))

	if len(this.times) > 1 {
		intervalSec := (this.times[len(this.times)-1] - this.times[0]) / 1000.0
		this.rateValue = float64(len(this.times)) / intervalSec
	} else {
		this.rateValue = -1
	}
}
