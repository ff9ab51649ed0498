package dispatch

import (
	"testing"

	"gopper/shutdown"
	"gopper/tick"
	"gopper/timerqueue"
)

func newHarness(t *testing.T) (*Dispatcher, *timerqueue.Queue, *tick.Clock, *tick.FakeSource, *shutdown.Controller) {
	t.Helper()
	src := tick.NewFakeSource(tick.Timespec{Sec: 1})
	clock := tick.New(20000000, src)
	sc := shutdown.New()
	q := timerqueue.New(clock, func() {}, sc.TryShutdown)
	d := New(q, clock, sc, nil)
	return d, q, clock, src, sc
}

// scenario 1 (dispatch half): ready timers due "now" all run without the
// dispatcher returning early, and next_wake/must_wake end up consistent.
func TestPollDrainsReadyTimers(t *testing.T) {
	d, q, clock, _, _ := newHarness(t)
	now := clock.ReadTime()

	var fired []string
	for _, name := range []string{"A", "B", "C"} {
		n := name
		q.Add(&timerqueue.Timer{
			WakeTime: now + 10,
			Func: func(tm *timerqueue.Timer) timerqueue.Outcome {
				fired = append(fired, n)
				return timerqueue.Done
			},
		})
	}

	d.Poll()

	if len(fired) != 3 {
		t.Fatalf("fired = %v, want 3 entries", fired)
	}
}

// scenario 5: budget yield. 25 timers due immediately; once the
// dispatcher's fast budget (20) is exhausted it must consult
// checkTasksBusy, and if tasks are busy, return without draining the rest.
func TestBudgetYieldOnTasksBusy(t *testing.T) {
	src := tick.NewFakeSource(tick.Timespec{Sec: 1})
	clock := tick.New(20000000, src)
	sc := shutdown.New()
	q := timerqueue.New(clock, func() {}, sc.TryShutdown)

	busyCalls := 0
	checkBusy := func() bool {
		busyCalls++
		return true
	}
	d := New(q, clock, sc, checkBusy)

	now := clock.ReadTime()
	ran := 0
	for i := 0; i < 25; i++ {
		q.Add(&timerqueue.Timer{
			WakeTime: now,
			Func: func(tm *timerqueue.Timer) timerqueue.Outcome {
				ran++
				return timerqueue.Done
			},
		})
	}

	d.Poll()

	if busyCalls == 0 {
		t.Fatalf("expected checkTasksBusy to be consulted once the fast budget was exhausted")
	}
	if ran >= 25 {
		t.Fatalf("expected Poll to yield before draining all 25 timers, ran = %d", ran)
	}
}

// scenario 4: fatal lateness. A timer rescheduled far enough in the past
// (beyond the 100ms fatal threshold) must drive a shutdown with the
// documented reason.
func TestFatalLatenessShutsDown(t *testing.T) {
	src := tick.NewFakeSource(tick.Timespec{Sec: 1})
	clock := tick.New(20000000, src)
	sc := shutdown.New()
	q := timerqueue.New(clock, func() {}, sc.TryShutdown)
	d := New(q, clock, sc, func() bool { return false })

	now := clock.ReadTime()
	lateBy := clock.FromUS(200000) // 200ms, past the 100ms fatal threshold

	// A timer that reschedules itself deep in the past every time it
	// runs stays head-of-queue (its waketime is always still before the
	// far-future periodic timer behind it), so the dispatcher keeps
	// taking the already-due fast path until its budget is exhausted.
	q.Add(&timerqueue.Timer{
		WakeTime: now,
		Func: func(tm *timerqueue.Timer) timerqueue.Outcome {
			tm.WakeTime = now - lateBy
			return timerqueue.Reschedule
		},
	})

	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected Poll to panic via the shutdown controller")
		}
		if !sc.IsShutdown() && sc.State() != shutdown.InProgress {
			t.Fatalf("expected shutdown state to be InProgress or Shutdown after the panic, got %v", sc.State())
		}
		if sc.Reason() != "Rescheduled timer in the past" {
			t.Fatalf("Reason() = %q, want %q", sc.Reason(), "Rescheduled timer in the past")
		}
	}()

	for i := 0; i < 40; i++ {
		d.Poll()
	}
}
