// Package dispatch implements the scheduler's timer dispatch loop: the
// budgeted run of timerqueue.Queue.DispatchOne that amortizes the cost of
// re-sampling the clock, yields to tasks when timers are arriving faster
// than they can be serviced, and triggers a fatal shutdown when a timer
// reschedules itself hopelessly late.
//
// Grounded on original_source/src/simulator/timer.c's timer_dispatch,
// kept in the teacher's idiom of small exported functions grounded on
// core/scheduler.go's TimerDispatch.
package dispatch

import (
	"gopper/shutdown"
	"gopper/tick"
	"gopper/timerqueue"
)

// repeatCount is how many timers Poll will run back-to-back without
// re-sampling the clock, once it has established the queue isn't idle.
const repeatCount = 20

// idleRepeatCount is the larger budget granted once the fast path has
// been exhausted and tasks are confirmed not busy -- it lets a burst of
// due timers drain without spinning through ReadTime on every one.
const idleRepeatCount = 100

// minTryUSec is the microsecond threshold (converted to ticks at the
// dispatcher's clock rate) under which a timer is considered "near
// enough" to busy-wait for, rather than returning to let the caller sleep.
const minTryUSec = 2

// lateFatalUSec is how far in the past a rescheduled timer's waketime can
// be before Poll treats it as an unrecoverable condition instead of just
// running it immediately.
const lateFatalUSec = 100000

// TasksBusyChecker reports whether the task runner has stayed busy since
// the previous check (tasks never went idle in between); a call that
// reports not busy latches the runner's current status for the next
// check. Implemented by taskrunner.CheckSetTasksBusy.
type TasksBusyChecker func() bool

// Dispatcher runs the budgeted dispatch loop over a timerqueue.Queue.
type Dispatcher struct {
	queue          *timerqueue.Queue
	clock          *tick.Clock
	shutdown       *shutdown.Controller
	checkTasksBusy TasksBusyChecker
}

// New creates a Dispatcher tying together queue, clock, and the shutdown
// controller that a fatal lateness report unwinds through. checkTasksBusy
// may be nil, in which case the tasks-busy-yield branch never triggers.
func New(queue *timerqueue.Queue, clock *tick.Clock, sc *shutdown.Controller, checkTasksBusy TasksBusyChecker) *Dispatcher {
	return &Dispatcher{
		queue:          queue,
		clock:          clock,
		shutdown:       sc,
		checkTasksBusy: checkTasksBusy,
	}
}

// Poll runs timers off the head of the queue until either the budget
// against the current clock sample is exhausted, the next timer is far
// enough in the future to be worth returning for, or the task runner
// reports it's still busy with the previous wake. It panics via the
// shutdown controller if a timer has rescheduled itself more than
// lateFatalUSec in the past.
func (d *Dispatcher) Poll() {
	count := repeatCount
	var next uint32

	for {
		next = d.queue.DispatchOne()

		count--
		lrt := d.clock.LastReadTime()
		if !tick.IsBefore(lrt, next) && count != 0 {
			// Next timer is already due and we haven't exhausted this
			// sample's budget: run it without paying for ReadTime again.
			continue
		}

		now := d.clock.ReadTime()
		diff := int32(next - now)
		minTry := int32(d.clock.FromUS(minTryUSec))
		if diff > minTry {
			// Comfortably in the future; let the caller sleep for it.
			break
		}

		if count == 0 {
			lateFatal := int32(d.clock.FromUS(lateFatalUSec))
			if diff < -lateFatal {
				d.shutdown.Shutdown("Rescheduled timer in the past")
			}
			if d.checkTasksBusy != nil && d.checkTasksBusy() {
				return
			}
			count = idleRepeatCount
		}

		// Next timer is due in the past or the immediate future: spin
		// until it's actually ready rather than returning for a sleep
		// shorter than the cost of sleeping at all.
		for diff > 0 {
			diff = int32(next - d.clock.ReadTime())
		}
	}

	d.clock.SetNextWake(next)
	d.queue.ClearMustWake()
}
