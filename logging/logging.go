// Package logging provides the ambient debug-output and post-mortem
// timing facilities the rest of this repo uses: a swappable sink
// function gated by an enabled flag, an optional async channel for
// non-blocking callers, and a fixed-size ring of TimingEvents any
// package can push to for a shutdown-time dump.
//
// Grounded on core/debug.go's DebugWriter/TimingEvent/ring-buffer design,
// generalized from package-level globals (and from stepper-only event
// codes) into a struct any scheduler instance can own independently, and
// that any package -- not just stepper code -- can push timing events
// into.
package logging

import (
	"fmt"
	"sync"
)

// Writer is a sink for log lines. Platform/host setup code supplies one
// that writes to stderr, a file, or a serial debug channel.
type Writer func(string)

// EventType identifies what kind of timing event was recorded.
type EventType uint8

const (
	EvtTimerSchedule EventType = iota + 1
	EvtTimerFire
	EvtTimerPast
	EvtDispatchYield
	EvtTaskWake
	EvtShutdown
)

func (e EventType) String() string {
	switch e {
	case EvtTimerSchedule:
		return "TIMER_SCHED"
	case EvtTimerFire:
		return "TIMER_FIRE"
	case EvtTimerPast:
		return "TIMER_PAST!"
	case EvtDispatchYield:
		return "DISPATCH_YIELD"
	case EvtTaskWake:
		return "TASK_WAKE"
	case EvtShutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// TimingEvent captures a timing-critical event for post-mortem analysis.
type TimingEvent struct {
	Type   EventType
	OID    uint8  // object ID (stepper, endstop, ...), 0 if not applicable
	Clock  uint32 // tick clock value at the time of the event
	Value1 uint32 // event-specific
	Value2 uint32 // event-specific
}

// ringSize is how many timing events are kept for a post-mortem dump.
const ringSize = 32

// Logger owns one debug sink and timing ring. The zero value logs
// nothing and records no timing events; use New for a ready instance.
type Logger struct {
	mu      sync.Mutex
	sink    Writer
	enabled bool

	ring     [ringSize]TimingEvent
	ringHead uint8
	timing   bool

	async chan string
}

// New creates a Logger with no sink (debug output silently dropped until
// SetWriter is called) and timing capture enabled.
func New() *Logger {
	return &Logger{timing: true}
}

// SetWriter sets the sink debug output is written to.
func (l *Logger) SetWriter(w Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sink = w
}

// SetEnabled turns debug output on or off. Timing capture is unaffected.
func (l *Logger) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
}

// Enabled reports whether debug output is currently active.
func (l *Logger) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Printf formats and writes a debug message if output is enabled.
func (l *Logger) Printf(format string, args ...any) {
	l.mu.Lock()
	enabled := l.enabled
	sink := l.sink
	l.mu.Unlock()
	if !enabled || sink == nil {
		return
	}
	sink(fmt.Sprintf(format, args...))
}

// StartAsync starts a background goroutine that drains a buffered
// channel of log lines into the sink, for callers on a timing-critical
// path that can't afford to block on output.
func (l *Logger) StartAsync(buffer int) {
	l.mu.Lock()
	l.async = make(chan string, buffer)
	ch := l.async
	l.mu.Unlock()
	go func() {
		for msg := range ch {
			l.mu.Lock()
			sink := l.sink
			l.mu.Unlock()
			if sink != nil {
				sink(msg)
			}
		}
	}()
}

// Async queues a message for non-blocking output. If no async worker was
// started, or its buffer is full, the message is dropped.
func (l *Logger) Async(msg string) {
	l.mu.Lock()
	ch := l.async
	l.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- msg:
	default:
	}
}

// RecordTiming captures a timing event in the ring buffer. Always
// non-blocking.
func (l *Logger) RecordTiming(evt TimingEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.timing {
		return
	}
	l.ring[l.ringHead] = evt
	l.ringHead = (l.ringHead + 1) % ringSize
}

// SetTimingEnabled turns timing-ring capture on or off.
func (l *Logger) SetTimingEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timing = enabled
}

// DumpTimingRing writes every captured timing event (oldest first) to the
// sink, typically called once from a shutdown hook.
func (l *Logger) DumpTimingRing() {
	l.mu.Lock()
	sink := l.sink
	ring := l.ring
	head := l.ringHead
	l.mu.Unlock()
	if sink == nil {
		return
	}

	sink("[TIMING] === Timing Ring Dump ===")
	for i := uint8(0); i < ringSize; i++ {
		idx := (head + i) % ringSize
		evt := ring[idx]
		if evt.Type == 0 {
			continue
		}
		sink(fmt.Sprintf("[TIMING] %s oid=%d clock=%d v1=%d v2=%d",
			evt.Type, evt.OID, evt.Clock, evt.Value1, evt.Value2))
	}
	sink("[TIMING] === End Dump ===")
}

// ClearTimingRing discards all captured timing events.
func (l *Logger) ClearTimingRing() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ring = [ringSize]TimingEvent{}
	l.ringHead = 0
}
