// Package shutdown implements the two-phase shutdown state machine: a
// requested-but-not-yet-run phase (InProgress) that guards against
// re-entrant shutdown attempts while handlers run, and the terminal
// Shutdown state.
//
// The original source enters shutdown via setjmp/longjmp, unwinding
// straight out of whatever timer or task callback triggered it back to
// the top of run_shutdown(). Go has no non-local jump, so this package
// models the same control transfer with panic/recover: Shutdown panics
// with an unexported sentinel value that only the task runner's top-level
// loop is expected to recover.
package shutdown

import "fmt"

// State is the shutdown controller's current phase.
type State uint8

const (
	// Normal is the default running state.
	Normal State = iota
	// InProgress is set the instant a shutdown is first requested, before
	// any shutdown handler has run, so a handler that itself triggers a
	// fault doesn't recursively re-enter shutdown.
	InProgress
	// Shutdown is the terminal state once shutdown handlers have run.
	Shutdown
)

// signal is the sentinel panic value carrying the shutdown reason across
// the non-local jump. It is unexported so nothing outside this package
// can construct or match one directly; callers observe shutdown only
// through Controller's state.
type signal struct {
	reason string
}

// Controller tracks shutdown state and reason for one scheduler instance.
type Controller struct {
	state  State
	reason string
}

// New creates a Controller in the Normal state.
func New() *Controller {
	return &Controller{state: Normal}
}

// IsShutdown reports whether the controller is anywhere past Normal --
// InProgress counts, not just the terminal Shutdown state, mirroring the
// original sched_is_shutdown()'s plain !!SchedStatus.shutdown_status: a
// query made from inside a shutdown handler (while state is still
// InProgress) must see shutdown=true, not false.
func (c *Controller) IsShutdown() bool {
	return c.state != Normal
}

// State returns the controller's current phase.
func (c *Controller) State() State {
	return c.state
}

// Reason returns the reason string recorded by the triggering Shutdown
// call. Meaningless before any shutdown has been requested.
func (c *Controller) Reason() string {
	return c.reason
}

// ClearShutdown resets the controller back to Normal, discarding the
// recorded reason. Callers must only do this once they've re-initialized
// every timer and task the shutdown may have interrupted mid-operation.
func (c *Controller) ClearShutdown() {
	c.state = Normal
	c.reason = ""
}

// Shutdown requests a shutdown with the given reason and panics with the
// controller's sentinel signal, unwinding to the nearest Recover. It is
// safe to call from deep inside a timer or task callback; it never
// returns normally.
//
// If a shutdown is already InProgress or complete, Shutdown still panics
// (so the caller's own control flow unwinds) but leaves the recorded
// state and reason untouched, mirroring the original's "don't recurse
// into shutdown handling" guard.
func (c *Controller) Shutdown(reason string) {
	if c.state == Normal {
		c.state = InProgress
		c.reason = reason
	}
	panic(signal{reason: reason})
}

// Shutdownf is Shutdown with fmt.Sprintf-style formatting.
func (c *Controller) Shutdownf(format string, args ...any) {
	c.Shutdown(fmt.Sprintf(format, args...))
}

// TryShutdown behaves like Shutdown, except if a shutdown is already
// InProgress or complete it returns normally instead of panicking again --
// mirroring sched_try_shutdown()'s "don't fault while already faulting"
// behavior, used by callers (like the timer queue's sentinel and
// too-close checks) that must not recursively unwind out of a shutdown
// handler that is itself mid-run.
func (c *Controller) TryShutdown(reason string) {
	if c.state != Normal {
		return
	}
	c.Shutdown(reason)
}

// MarkComplete transitions InProgress -> Shutdown once all shutdown
// handlers have finished running. Called by the task runner's recovery
// wrapper after it has recovered a signal and run the registered
// shutdown hooks.
func (c *Controller) MarkComplete() {
	c.state = Shutdown
}

// Recover must be called via defer at the top of the task runner's loop.
// It recovers a panic produced by Shutdown/TryShutdown/Shutdownf, invokes
// onShutdown with the reason that panic carried, and then marks the
// controller's phase complete. Any other panic value is re-raised
// unchanged.
func (c *Controller) Recover(onShutdown func(reason string)) {
	r := recover()
	if r == nil {
		return
	}
	sig, ok := r.(signal)
	if !ok {
		panic(r)
	}
	if onShutdown != nil {
		onShutdown(sig.reason)
	}
	c.MarkComplete()
}
