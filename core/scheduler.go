package core

import (
	"gopper/protocol"
	"gopper/sched"
)

// Global scheduler instance used by the command handlers in this package
// (gpio.go, trsync.go) to read ticks and add/remove timers, mirroring the
// gpioDriver global in gpio_hal.go.
var scheduler *sched.Scheduler

// SetScheduler is called once during startup to bind the command handlers
// in this package to a running scheduler. It also registers a shutdown
// hook that clears every object's "timer is live in the queue" bookkeeping,
// since runShutdownSequence resets the timer queue itself before running
// shutdown hooks -- without this, a DigitalOut or TriggerSync that had a
// timer queued at shutdown would still believe it does afterward, and its
// next reschedule would call DelTimer on a timer the queue no longer holds.
func SetScheduler(s *sched.Scheduler) {
	scheduler = s
	s.Hooks.RegisterShutdown(func(string) {
		ShutdownAllDigitalOut()
		ShutdownAllTriggerSyncs()
	})
}

// MustScheduler returns the bound scheduler or panics if none was set.
func MustScheduler() *sched.Scheduler {
	if scheduler == nil {
		panic("scheduler not configured")
	}
	return scheduler
}

// globalTransport is the wire transport SendResponse encodes real
// dictionary responses through, set by cmd/gopper-simd once it has built
// one. Until it's set (unit tests, or a caller that never wires a
// transport) SendResponse falls back to the scheduler's Sendf sink so
// existing handlers and tests keep working without one.
var globalTransport *protocol.Transport

// SetTransport binds the transport SendResponse encodes responses
// through.
func SetTransport(t *protocol.Transport) {
	globalTransport = t
}

// SendResponse encodes a response's payload with args and sends it under
// the response's dictionary-assigned command ID. responseName must
// already be registered (normally as a nil-handler response via
// RegisterResponse) -- every response a handler can send is declared up
// front, so a lookup miss here means a handler references one that was
// never registered. args may be nil for a response with no payload.
func SendResponse(responseName string, args func(output protocol.OutputBuffer)) {
	if globalTransport != nil {
		cmd, ok := globalRegistry.GetCommandByName(responseName)
		if !ok {
			panic("core: response not registered: " + responseName)
		}
		globalTransport.SendCommand(cmd.ID, args)
		return
	}

	out := protocol.NewScratchOutput()
	if args != nil {
		args(out)
	}
	MustScheduler().SendRaw(responseName, out.Result())
}
