// Package timerqueue implements the waketime-ordered timer list described
// by the scheduler core: a fixed periodic head, a sentinel tail, and the
// add/del/dispatch operations that keep the list sorted under the
// wrap-aware tick ordering from package tick.
//
// Grounded on gopper/core's original Timer/insertTimer/TimerDispatch
// skeleton (plain `<` comparison, no sentinel), generalized here to the
// full periodic/sentinel/last-insert design and wrap-aware comparisons.
package timerqueue

import "gopper/tick"

// Outcome is the result a Timer's callback returns: whether the timer is
// finished or wants to be rescheduled at its (possibly updated) WakeTime.
type Outcome uint8

const (
	// Done indicates the timer is finished and should be removed from
	// the queue.
	Done Outcome = iota
	// Reschedule indicates the timer's WakeTime field (possibly
	// updated by the callback) should be re-placed in the queue.
	Reschedule
)

// periodicIntervalUS is the periodic timer's fixed re-fire interval.
const periodicIntervalUS = 100000

// sentinelOffset anchors the sentinel exactly 2^31 ticks after the
// periodic timer, guaranteeing every legitimate timer's waketime compares
// as "before" the sentinel's under the wrap-aware ordering.
const sentinelOffset = 0x80000000

// Timer is a single scheduled event. Callers own the storage for their
// own Timer values (no dynamic allocation happens inside the queue); Next
// is the queue's intrusive link and must not be touched by callers.
type Timer struct {
	WakeTime uint32
	Func     func(*Timer) Outcome
	next     *Timer
}

// Queue is a singly-linked, waketime-ordered list of Timers, always
// beginning with a periodic timer and ending with a sentinel.
type Queue struct {
	clock *tick.Clock

	periodic *Timer
	sentinel *Timer
	deleted  *Timer

	head       *Timer
	lastInsert *Timer

	mustWake bool

	// wakeTasks is invoked every time the periodic timer fires, mirroring
	// sched_wake_tasks() being called from periodic_event() in the
	// original source.
	wakeTasks func()

	// onFatal reports an unrecoverable queue condition (currently only
	// "Timer too close" and "sentinel timer called"). It is expected to
	// transfer control via the shutdown controller and not return; if it
	// does return (as a test double might), the operation that called it
	// simply aborts without modifying the queue further.
	onFatal func(reason string)
}

// New creates a Queue anchored on clock, with wakeTasks called on every
// periodic tick and onFatal invoked for unrecoverable conditions.
func New(clock *tick.Clock, wakeTasks func(), onFatal func(reason string)) *Queue {
	q := &Queue{
		clock:     clock,
		wakeTasks: wakeTasks,
		onFatal:   onFatal,
	}
	q.periodic = &Timer{Func: q.periodicEvent}
	q.sentinel = &Timer{Func: q.sentinelEvent, WakeTime: sentinelOffset}
	q.deleted = &Timer{Func: deletedEvent}
	q.periodic.next = q.sentinel
	// The sentinel never reaches the head of a well-formed queue; its
	// self-loop guards DispatchOne against a nil dereference when onFatal
	// returns instead of unwinding, as a test double does and as the real
	// controller's TryShutdown does while a shutdown is already under way.
	q.sentinel.next = q.sentinel
	q.head = q.periodic
	q.lastInsert = q.periodic
	return q
}

func (q *Queue) periodicEvent(t *Timer) Outcome {
	if q.wakeTasks != nil {
		q.wakeTasks()
	}
	t.WakeTime += q.clock.FromUS(periodicIntervalUS)
	q.sentinel.WakeTime = t.WakeTime + sentinelOffset
	return Reschedule
}

func (q *Queue) sentinelEvent(t *Timer) Outcome {
	if q.onFatal != nil {
		q.onFatal("sentinel timer called")
	}
	return Done
}

func deletedEvent(t *Timer) Outcome {
	return Done
}

// MustWake reports whether the dispatch loop needs to run again, mirroring
// the timer_kick()-set must_wake_timers flag.
func (q *Queue) MustWake() bool {
	return q.mustWake
}

// ClearMustWake clears the wake-pending flag; called by the dispatch loop
// once it has brought the queue up to date.
func (q *Queue) ClearMustWake() {
	q.mustWake = false
}

// HeadWakeTime returns the current head timer's waketime, for callers that just
// need to know when the next timer is due without dispatching it.
func (q *Queue) HeadWakeTime() uint32 {
	return q.head.WakeTime
}

// stopsWalk reports whether pos ends an insertion walk: either it is the
// sentinel (an unconditional stopper, so no null check is ever needed) or
// waketime sorts strictly before it.
func stopsWalk(pos *Timer, sentinel *Timer, waketime uint32) bool {
	return pos == sentinel || tick.IsBefore(waketime, pos.WakeTime)
}

// insertTimer walks forward from start (which must already sort at or
// before waketime) and splices t in just before the first entry that
// waketime sorts before -- or before the sentinel, whichever comes first.
func (q *Queue) insertTimer(start *Timer, t *Timer, waketime uint32) {
	pos := start
	var prev *Timer
	for {
		prev = pos
		pos = pos.next
		if stopsWalk(pos, q.sentinel, waketime) {
			break
		}
	}
	t.next = pos
	prev.next = t
}

// Add inserts t into the queue at its WakeTime position. If t.WakeTime is
// before the current head's, the head is replaced (via the deleted
// trampoline, so a concurrently in-flight dispatch still sees a
// well-defined list) and MustWake is set; if that new head's waketime is
// already in the past, a fatal "Timer too close" condition is reported
// instead and t is not inserted. A waketime that does not sort before the
// current head is inserted without any past check.
func (q *Queue) Add(t *Timer) {
	waketime := t.WakeTime
	tl := q.head

	if tick.IsBefore(waketime, tl.WakeTime) {
		if tick.IsBefore(waketime, q.clock.ReadTime()) {
			q.onFatal("Timer too close")
			return
		}

		if tl == q.deleted {
			t.next = q.deleted.next
		} else {
			t.next = tl
		}
		q.deleted.WakeTime = waketime
		q.deleted.next = t
		q.head = q.deleted
		q.mustWake = true
		return
	}

	start := q.head
	if q.lastInsert != nil && tick.IsBefore(q.lastInsert.WakeTime, waketime) {
		start = q.lastInsert
	}
	q.insertTimer(start, t, waketime)
	q.lastInsert = t
}

// Del removes t from the queue. If t is the head, the head is replaced
// with the deleted trampoline (preserving its waketime so a pending
// dispatch completes gracefully); otherwise t is unlinked by walking from
// the head.
func (q *Queue) Del(t *Timer) {
	if q.head == t {
		q.deleted.WakeTime = t.WakeTime
		q.deleted.next = t.next
		q.head = q.deleted
	} else {
		for pos := q.head; pos.next != nil; pos = pos.next {
			if pos.next == t {
				pos.next = t.next
				break
			}
		}
	}
	if q.lastInsert == t {
		q.lastInsert = q.periodic
	}
}

// DispatchOne invokes the head timer's callback, then re-places or
// removes it according to the returned Outcome. Returns the new head's
// waketime.
func (q *Queue) DispatchOne() uint32 {
	t := q.head
	res := t.Func(t)
	updated := t.WakeTime

	if res == Done {
		next := t.next.WakeTime
		q.head = t.next
		if q.lastInsert == t {
			q.lastInsert = t.next
		}
		return next
	}

	if !tick.IsBefore(updated, t.next.WakeTime) {
		next := t.next.WakeTime
		q.head = t.next
		pos := q.lastInsert
		if tick.IsBefore(updated, pos.WakeTime) {
			pos = q.head
		}
		q.insertTimer(pos, t, updated)
		q.lastInsert = t
		return next
	}

	return updated
}

// Reset drops all user timers, restoring the queue to exactly
// [periodic, sentinel] and resetting last-insert to periodic.
func (q *Queue) Reset() {
	q.head = q.deleted
	q.deleted.WakeTime = q.periodic.WakeTime
	q.deleted.next = q.periodic
	q.lastInsert = q.periodic
	q.periodic.next = q.sentinel
	q.mustWake = true
}

// Periodic returns the queue's always-present periodic timer, mainly for
// tests that need to assert on its waketime.
func (q *Queue) Periodic() *Timer {
	return q.periodic
}

// Sentinel returns the queue's always-present sentinel timer.
func (q *Queue) Sentinel() *Timer {
	return q.sentinel
}

// Len walks the list and reports how many timers it holds, counting the
// periodic and sentinel timers but not the deleted trampoline, for
// invariant checks in tests. Not used on any hot path.
func (q *Queue) Len() int {
	n := 0
	for t := q.head; t != nil; t = t.next {
		if t != q.deleted {
			n++
		}
		if t == q.sentinel {
			break
		}
	}
	return n
}
