// Package sched ties the five scheduler components together and exposes
// the external interface described by the external procedure table:
// ReadTime, FromUs, IsBefore, CheckPeriodic, AddTimer, DelTimer,
// WakeTasks/WakeTask/CheckWake, IsShutdown/ClearShutdown/Shutdown/
// TryShutdown, and Main.
//
// Grounded on sched.c's SchedStatus struct-of-globals, moved into a
// per-instance struct the way core.CommandRegistry moved its own global
// registry behind a constructor, so more than one simulated MCU can run
// in the same test binary.
package sched

import (
	"gopper/dispatch"
	"gopper/hooks"
	"gopper/logging"
	"gopper/shutdown"
	"gopper/taskrunner"
	"gopper/tick"
	"gopper/timerqueue"
)

// Sendf emits an outbound protocol message, the opaque "sendf message
// sink" spec.md places out of scope. cmd/gopper-simd wires this to a
// printf-style stand-in that writes through its logging.Logger; tests can
// supply a recording stub.
type Sendf func(format string, args ...any)

// Scheduler owns one instance of the tick clock, timer queue, dispatch
// loop, task runner, shutdown controller, hook registry, and logger.
type Scheduler struct {
	Clock      *tick.Clock
	Queue      *timerqueue.Queue
	Dispatcher *dispatch.Dispatcher
	Runner     *taskrunner.Runner
	Fault      *shutdown.Controller
	Hooks      *hooks.Registry
	Log        *logging.Logger

	sendf          Sendf
	shutdownReason string
}

// New creates a fully wired Scheduler running at freq ticks/second and
// reading wall time from source. sendf may be nil, in which case
// starting/shutdown/is_shutdown messages are simply dropped.
func New(freq uint32, source tick.Source, sendf Sendf) *Scheduler {
	s := &Scheduler{
		Fault:    shutdown.New(),
		Hooks:    hooks.New(),
		Log:      logging.New(),
		sendf:    sendf,
	}
	s.Clock = tick.New(freq, source)
	s.Runner = taskrunner.New(s.Clock, s.poll, nil)
	s.Queue = timerqueue.New(s.Clock, s.Runner.WakeTasks, s.onFatal)
	s.Dispatcher = dispatch.New(s.Queue, s.Clock, s.Fault, s.Runner.CheckSetTasksBusy)

	// A freshly booted MCU's timer hardware is already live, so the first
	// irq_poll has something to check; mirror that by arming must_wake here
	// rather than leaving Run's idle-wait with nothing that will ever poll
	// the dispatcher for it.
	s.Queue.Reset()
	return s
}

// poll is the task runner's irq_poll stand-in: run due timers iff the
// queue has signalled must_wake_timers.
func (s *Scheduler) poll() {
	if s.Queue.MustWake() {
		s.Dispatcher.Poll()
	}
}

// onFatal adapts timerqueue's fatal-condition callback (which reports a
// reason string and expects not to return) onto the shutdown controller's
// TryShutdown, so an add-time "Timer too close" or a sentinel dispatch
// doesn't recursively fault if a shutdown is already underway.
func (s *Scheduler) onFatal(reason string) {
	s.Fault.TryShutdown(reason)
}

// ReadTime samples the tick clock. See tick.Clock.ReadTime.
func (s *Scheduler) ReadTime() uint32 { return s.Clock.ReadTime() }

// FromUs converts a microsecond duration to ticks. See tick.Clock.FromUS.
func (s *Scheduler) FromUs(us uint32) uint32 { return s.Clock.FromUS(us) }

// IsBefore is the wrap-aware tick ordering relation.
func (s *Scheduler) IsBefore(a, b uint32) bool { return tick.IsBefore(a, b) }

// CheckPeriodic reports and advances a caller-owned deadline. See
// tick.Clock.CheckPeriodic.
func (s *Scheduler) CheckPeriodic(deadline *uint32) bool { return s.Clock.CheckPeriodic(deadline) }

// AddTimer inserts t into the timer queue. See timerqueue.Queue.Add.
func (s *Scheduler) AddTimer(t *timerqueue.Timer) { s.Queue.Add(t) }

// DelTimer removes t from the timer queue. See timerqueue.Queue.Del.
func (s *Scheduler) DelTimer(t *timerqueue.Timer) { s.Queue.Del(t) }

// WakeTasks marks the task loop runnable.
func (s *Scheduler) WakeTasks() { s.Runner.WakeTasks() }

// WakeTask wakes the task loop and sets w.
func (s *Scheduler) WakeTask(w *taskrunner.WakeFlag) { s.Runner.WakeTask(w) }

// CheckWake tests and clears w.
func (s *Scheduler) CheckWake(w *taskrunner.WakeFlag) bool { return s.Runner.CheckWake(w) }

// IsShutdown reports whether a shutdown has been requested: true while it
// is InProgress as well as once it is complete.
func (s *Scheduler) IsShutdown() bool { return s.Fault.IsShutdown() }

// ClearShutdown transitions Shutdown -> Normal. It is a no-op while a
// shutdown is InProgress, and itself triggers a fatal shutdown if called
// while already Normal.
func (s *Scheduler) ClearShutdown() {
	switch s.Fault.State() {
	case shutdown.Normal:
		s.Fault.Shutdown("Shutdown cleared when not shutdown")
	case shutdown.InProgress:
		return
	default:
		s.Fault.ClearShutdown()
	}
}

// Shutdown unconditionally triggers a shutdown with reason, unwinding via
// panic to the nearest Main's recovery point. Never returns.
func (s *Scheduler) Shutdown(reason string) { s.Fault.Shutdown(reason) }

// Shutdownf is Shutdown with fmt.Sprintf-style formatting.
func (s *Scheduler) Shutdownf(format string, args ...any) {
	s.Fault.Shutdownf(format, args...)
}

// TryShutdown triggers a shutdown only if not already shutting down.
func (s *Scheduler) TryShutdown(reason string) { s.Fault.TryShutdown(reason) }

// ReportShutdown emits the last shutdown reason via sendf, for an
// is_shutdown status query.
func (s *Scheduler) ReportShutdown() {
	s.send("is_shutdown static_string_id=%q", s.shutdownReason)
}

// SendRaw forwards an already-encoded response payload through the
// configured Sendf sink, for callers (core's command handlers) that build
// their own wire payload ahead of the protocol package's dictionary-aware
// encoder being wired in as the sendf callback itself.
func (s *Scheduler) SendRaw(name string, payload []byte) {
	s.send("%s %x", name, payload)
}

func (s *Scheduler) send(format string, args ...any) {
	if s.sendf != nil {
		s.sendf(format, args...)
	}
}

// runShutdownSequence is run_shutdown(reason): it latches the reason
// (the first reason recorded is kept), resets the timer queue, runs every
// registered shutdown hook, and emits the shutdown message. It has no
// interrupt disable or re-enable step.
// Called from Main's recovered-panic handler, never directly.
func (s *Scheduler) runShutdownSequence(reason string) {
	cur := s.Clock.ReadTime()
	if s.shutdownReason == "" {
		s.shutdownReason = reason
	}
	s.Queue.Reset()
	s.Hooks.RunShutdownFuncs(s.shutdownReason)
	s.send("shutdown clock=%d static_string_id=%q", cur, s.shutdownReason)
}

// Main runs init hooks, announces startup, and enters the task loop.
// Whenever the task loop panics with a shutdown signal, Main recovers it,
// runs the shutdown sequence, and restarts the task loop -- mirroring
// sched_main's setjmp/run_tasks restart structure.
func (s *Scheduler) Main(taskFunc func()) {
	s.Hooks.RunInitFuncs()
	s.send("starting")

	for {
		s.runOnce(taskFunc)
	}
}

// runOnce wraps one attempt at the (otherwise infinite) task loop in a
// deferred recovery, so a shutdown panic unwinds exactly to here instead
// of out of Main entirely.
func (s *Scheduler) runOnce(taskFunc func()) {
	defer s.Fault.Recover(s.runShutdownSequence)
	s.Runner.Run(taskFunc)
}
