package logstore

import (
	"fmt"
	"os"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/tevino/abool/v2"

	"ninjacore/buildlog"
)

// Scheduler periodically compacts the build log and expires dead mirror
// rows in the background, outside of any build invocation. Grounded on the
// teacher's schedule.go (gocron.Scheduler wrapper) and
// clean_expired_service.go (the single-flight guarded clean task), adapted
// from "delete expired remote-cache artifacts" to "recompact the build log
// and drop mirror rows for paths no longer in the graph" — the domain this
// module actually owns.
type Scheduler struct {
	sched   gocron.Scheduler
	running *abool.AtomicBool
	log     *buildlog.Log
	logPath string
	mirror  *Mirror
	isDead  func(path string) bool
}

// NewScheduler builds a Scheduler that, once started, recompacts log every
// interval and expires mirror rows for paths isDead reports as gone.
func NewScheduler(log *buildlog.Log, logPath string, mirror *Mirror, isDead func(path string) bool) (*Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		sched:   sched,
		running: abool.NewBool(false),
		log:     log,
		logPath: logPath,
		mirror:  mirror,
		isDead:  isDead,
	}, nil
}

// Start registers the periodic job and begins running it every interval.
func (this *Scheduler) Start(interval time.Duration) error {
	_, err := this.sched.NewJob(gocron.DurationJob(interval), gocron.NewTask(this.runOnce))
	if err != nil {
		return err
	}
	this.sched.Start()
	return nil
}

// Stop shuts the scheduler down; safe to call even if Start was never
// called.
func (this *Scheduler) Stop() error {
	return this.sched.Shutdown()
}

type pathDeadUser struct {
	isDead func(path string) bool
}

func (this pathDeadUser) IsPathDead(path string) bool { return this.isDead(path) }

func (this *Scheduler) runOnce() {
	if this.running.IsSet() {
		return
	}
	this.running.Set()
	defer this.running.UnSet()

	if this.log != nil && this.isDead != nil {
		if err := this.log.Recompact(this.logPath, pathDeadUser{isDead: this.isDead}); err != nil {
			fmt.Fprintln(os.Stderr, "ninja: log recompaction failed:", err)
		}
	}
	if this.mirror != nil && this.isDead != nil {
		if _, err := this.mirror.ExpireDead(this.isDead); err != nil {
			fmt.Fprintln(os.Stderr, "ninja: mirror expiry failed:", err)
		}
	}
}
