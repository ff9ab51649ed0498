package timerqueue

import (
	"testing"

	"gopper/tick"
)

func newTestQueue(t *testing.T, startTicks uint32) (*Queue, *tick.Clock, *tick.FakeSource, *[]string) {
	t.Helper()
	src := tick.NewFakeSource(tick.Timespec{Sec: 1})
	clock := tick.New(20000000, src)

	fatals := new([]string)
	q := New(clock, func() {}, func(reason string) {
		*fatals = append(*fatals, reason)
	})
	return q, clock, src, fatals
}

func dispatchAll(q *Queue, n int) []*Timer {
	var order []*Timer
	for i := 0; i < n; i++ {
		head := q.head
		order = append(order, head)
		q.DispatchOne()
	}
	return order
}

// scenario 1: basic order.
func TestBasicOrder(t *testing.T) {
	q, clock, _, _ := newTestQueue(t, 0)
	now := clock.ReadTime()

	var fired []string
	mk := func(name string, offset uint32) *Timer {
		return &Timer{
			WakeTime: now + offset,
			Func: func(tm *Timer) Outcome {
				fired = append(fired, name)
				return Done
			},
		}
	}
	a := mk("A", 1000)
	b := mk("B", 500)
	c := mk("C", 2000)

	q.Add(a)
	q.Add(b)
	q.Add(c)

	// Drain: periodic may or may not be head depending on its initial
	// waketime of 0, which is before "now" here, so dispatch it away
	// first if it comes up.
	for len(fired) < 3 {
		q.DispatchOne()
	}

	want := []string{"B", "A", "C"}
	for i, w := range want {
		if fired[i] != w {
			t.Fatalf("fired order = %v, want %v", fired, want)
		}
	}
}

// scenario 2: self-reschedule.
func TestSelfReschedule(t *testing.T) {
	q, clock, _, _ := newTestQueue(t, 0)
	now := clock.ReadTime()

	x := &Timer{WakeTime: now + 100}
	x.Func = func(tm *Timer) Outcome {
		tm.WakeTime += 100
		return Reschedule
	}
	q.Add(x)

	count := 0
	for count < 5 {
		head := q.head
		q.DispatchOne()
		if head == x {
			count++
		}
	}

	if x.WakeTime != now+600 {
		t.Fatalf("x.WakeTime = %d, want %d", x.WakeTime, now+600)
	}

	occurrences := 0
	for tm := q.head; tm != nil; tm = tm.next {
		if tm == x {
			occurrences++
		}
		if tm == q.sentinel {
			break
		}
	}
	if occurrences != 1 {
		t.Fatalf("x appears %d times in queue, want 1", occurrences)
	}
}

// scenario 3: wrap-around.
func TestWrapAroundOrdering(t *testing.T) {
	if !tick.IsBefore(0xFFFFFF00, 0x00000010) {
		t.Fatalf("expected 0xFFFFFF00 to sort before 0x00000010")
	}

	q, _, _, _ := newTestQueue(t, 0)
	// Force the periodic timer far out of the way so it doesn't interfere.
	q.periodic.WakeTime = 0xFFFFFF00
	q.sentinel.WakeTime = q.periodic.WakeTime + sentinelOffset

	var fired []string
	head := &Timer{
		WakeTime: 0xFFFFFF00,
		Func: func(tm *Timer) Outcome {
			fired = append(fired, "head")
			return Done
		},
	}
	// Splice head in as the actual head directly (bypassing Add's
	// past-check, since this scenario is about ordering, not add-time
	// validation).
	q.head = head
	head.next = q.sentinel
	q.lastInsert = head

	y := &Timer{
		WakeTime: 0x00000010,
		Func: func(tm *Timer) Outcome {
			fired = append(fired, "Y")
			return Done
		},
	}
	q.Add(y)

	q.DispatchOne()
	q.DispatchOne()

	if len(fired) != 2 || fired[0] != "head" || fired[1] != "Y" {
		t.Fatalf("fired = %v, want [head Y]", fired)
	}
}

// scenario 6 (queue half): reset is idempotent and restores [periodic, sentinel].
func TestResetIdempotent(t *testing.T) {
	q, clock, _, _ := newTestQueue(t, 0)
	now := clock.ReadTime()
	q.Add(&Timer{WakeTime: now + 100, Func: func(*Timer) Outcome { return Done }})

	q.Reset()
	if q.Len() != 2 {
		t.Fatalf("Len() after reset = %d, want 2", q.Len())
	}
	if q.head != q.deleted {
		t.Fatalf("expected head to be the deleted trampoline right after reset")
	}

	q.Reset()
	if q.Len() != 2 {
		t.Fatalf("Len() after second reset = %d, want 2", q.Len())
	}
}

// Invariant 2/3 from spec.md §8: queue length >= 2, periodic first (after
// dispatching the deleted trampoline), sentinel last, sentinel anchored.
func TestInvariantSentinelAnchored(t *testing.T) {
	q, clock, _, _ := newTestQueue(t, 0)
	_ = clock
	if q.sentinel.WakeTime != q.periodic.WakeTime+sentinelOffset {
		t.Fatalf("sentinel not anchored: sentinel=%d periodic=%d", q.sentinel.WakeTime, q.periodic.WakeTime)
	}
	if q.Len() < 2 {
		t.Fatalf("Len() = %d, want >= 2", q.Len())
	}
}

func TestAddDelRoundTrip(t *testing.T) {
	q, clock, _, _ := newTestQueue(t, 0)
	now := clock.ReadTime()
	before := q.Len()

	tm := &Timer{WakeTime: now + 500, Func: func(*Timer) Outcome { return Done }}
	q.Add(tm)
	if q.Len() != before+1 {
		t.Fatalf("Len() after add = %d, want %d", q.Len(), before+1)
	}

	q.Del(tm)
	if q.Len() != before {
		t.Fatalf("Len() after del = %d, want %d", q.Len(), before)
	}
}

func TestAddTooCloseTriggersFatal(t *testing.T) {
	q, clock, _, fatals := newTestQueue(t, 0)
	now := clock.ReadTime()
	q.head = &Timer{WakeTime: now + 1000000, next: q.sentinel}

	tm := &Timer{WakeTime: now - 1000, Func: func(*Timer) Outcome { return Done }}
	q.Add(tm)

	if len(*fatals) != 1 || (*fatals)[0] != "Timer too close" {
		t.Fatalf("fatals = %v, want [\"Timer too close\"]", *fatals)
	}
}

func TestSentinelDispatchIsFatal(t *testing.T) {
	q, _, _, fatals := newTestQueue(t, 0)
	q.head = q.sentinel

	q.DispatchOne()

	if len(*fatals) != 1 || (*fatals)[0] != "sentinel timer called" {
		t.Fatalf("fatals = %v, want [\"sentinel timer called\"]", *fatals)
	}
}

func TestTieGoesToIncumbent(t *testing.T) {
	q, clock, _, _ := newTestQueue(t, 0)
	now := clock.ReadTime()
	q.periodic.WakeTime = now
	q.sentinel.WakeTime = now + sentinelOffset
	q.head = q.periodic
	q.lastInsert = q.periodic

	tied := &Timer{WakeTime: now, Func: func(*Timer) Outcome { return Done }}
	q.Add(tied)

	if q.head != q.periodic {
		t.Fatalf("expected incumbent head to remain head on a waketime tie")
	}
	if q.periodic.next != tied {
		t.Fatalf("expected tied timer inserted directly after incumbent head")
	}
}
