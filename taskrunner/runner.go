// Package taskrunner implements the cooperative task loop: a
// three-state status flag tasks are woken through, a per-flag
// wake/check pair for single-task producers (trsync and friends), and
// the Run loop that alternates between polling the timer dispatcher and
// invoking the registered task functions.
//
// Grounded on sched.c's run_tasks/sched_wake_tasks/sched_check_wake, with
// the sleep-between-polls step split out as a Sleeper the way the teacher
// splits disableInterrupts/restoreInterrupts across interrupt_go.go and
// interrupt_tinygo.go.
package taskrunner

import (
	"sync/atomic"

	"gopper/tick"
)

// Status is the cooperative task loop's current state.
type Status int8

const (
	// Idle means no task has been woken; Run is free to sleep.
	Idle Status = -1
	// Requested means at least one task was woken since the last time
	// task functions ran, so Run must invoke them.
	Requested Status = 0
	// Running means task functions are currently executing.
	Running Status = 1
)

// WakeFlag is a single boolean wake signal a producer (an interrupt
// handler or another timer callback) sets and a task function clears
// after observing it, mirroring struct task_wake.
type WakeFlag struct {
	set bool
}

// Poller is the subset of dispatch.Dispatcher's behavior Run needs: run
// due timers if any are pending. Implemented by (*dispatch.Dispatcher)
// wrapped in a closure that also checks timerqueue.Queue.MustWake.
type Poller func()

// Sleeper pauses briefly between poll attempts while idle. Swapped by
// build tag between a real short sleep (regular Go) and a no-op
// (tinygo, where the timer interrupt itself wakes the core).
type Sleeper interface {
	Sleep()
}

// StatsFunc records the elapsed active/idle time of one task-loop
// iteration, mirroring basecmd.c's stats_update.
type StatsFunc func(start, cur uint32)

// Runner drives the cooperative task loop.
type Runner struct {
	clock   *tick.Clock
	poll    Poller
	sleeper Sleeper
	stats   StatsFunc

	status Status
	busy   Status

	// external carries a wake request from outside the goroutine running
	// Run -- a host-simulator reader goroutine standing in for the
	// asynchronous IRQ a real MCU's USB peripheral would raise. status and
	// busy are otherwise only ever touched by Run's own goroutine, the way
	// the original's single core owns SchedStatus.tasks_status outright;
	// external is the one field a second goroutine may set, so it's the
	// only one that needs atomic access.
	external int32
}

// New creates a Runner. poll is called on every loop iteration (and
// while idle-waiting) to give pending timers a chance to run; stats may
// be nil.
func New(clock *tick.Clock, poll Poller, stats StatsFunc) *Runner {
	return &Runner{
		clock:   clock,
		poll:    poll,
		sleeper: defaultSleeper(),
		stats:   stats,
		status:  Idle,
		busy:    Idle,
	}
}

// SetSleeper overrides the idle-wait sleeper, mainly for tests that want
// to drive the loop deterministically instead of pausing wall-clock time.
func (r *Runner) SetSleeper(s Sleeper) {
	r.sleeper = s
}

// WakeTasks marks at least one task ready to run.
func (r *Runner) WakeTasks() {
	r.status = Requested
}

// WakeTasksAsync requests a wake from any goroutine, not just the one
// running Run. Unlike WakeTasks, it's safe to call concurrently with Run;
// the request is picked up the next time Run polls, same as a real IRQ
// only takes effect at the next poll point.
func (r *Runner) WakeTasksAsync() {
	atomic.StoreInt32(&r.external, 1)
}

// checkExternalWake consumes a pending WakeTasksAsync request, if any.
// Only Run's own goroutine calls this, so it's the sole place status is
// set from the external flag.
func (r *Runner) checkExternalWake() {
	if atomic.CompareAndSwapInt32(&r.external, 1, 0) {
		r.status = Requested
	}
}

// CheckSetTasksBusy reports whether tasks have stayed busy across two
// consecutive calls (i.e. never gone Idle in between), which the
// dispatcher uses to decide whether to yield instead of continuing to
// drain timers.
func (r *Runner) CheckSetTasksBusy() bool {
	if r.busy >= Requested {
		return true
	}
	r.busy = r.status
	return false
}

// WakeTask wakes the task loop and sets w, for a single producer/single
// consumer wake signal.
func (r *Runner) WakeTask(w *WakeFlag) {
	r.WakeTasks()
	w.set = true
}

// CheckWake reports and clears w's wake signal.
func (r *Runner) CheckWake(w *WakeFlag) bool {
	if !w.set {
		return false
	}
	w.set = false
	return true
}

// Run polls timers and invokes taskFunc forever, sleeping via the
// configured Sleeper whenever no task has been woken. It only returns by
// panicking (via the shutdown controller reached through poll or
// taskFunc); callers are expected to wrap it in a recover that restarts
// it after handling the shutdown.
func (r *Runner) Run(taskFunc func()) {
	start := r.clock.ReadTime()
	for {
		r.poll()
		r.checkExternalWake()

		if r.status != Requested {
			start -= r.clock.ReadTime()
			r.status = Idle
			r.busy = Idle
			for r.status != Requested {
				r.sleeper.Sleep()
				r.poll()
				r.checkExternalWake()
			}
			start += r.clock.ReadTime()
		}
		r.status = Running

		taskFunc()

		cur := r.clock.ReadTime()
		if r.stats != nil {
			r.stats(start, cur)
		}
		start = cur
	}
}
