package stepgen

import (
	"testing"
	"time"

	"gopper/core"
	"gopper/sched"
	standalone "gopper/standalone/types"
	"gopper/tick"
)

// fakeGPIO records every pin write instead of driving real silicon,
// matching the host-simulation-only GPIO stub SPEC_FULL.md's motion
// stack section calls for.
type fakeGPIO struct {
	configured map[core.GPIOPin]bool
	values     map[core.GPIOPin]bool
	writes     int
}

func newFakeGPIO() *fakeGPIO {
	return &fakeGPIO{configured: map[core.GPIOPin]bool{}, values: map[core.GPIOPin]bool{}}
}

func (g *fakeGPIO) ConfigureOutput(pin core.GPIOPin) error {
	g.configured[pin] = true
	return nil
}
func (g *fakeGPIO) ConfigureInputPullUp(pin core.GPIOPin) error   { return nil }
func (g *fakeGPIO) ConfigureInputPullDown(pin core.GPIOPin) error { return nil }
func (g *fakeGPIO) SetPin(pin core.GPIOPin, value bool) error {
	g.values[pin] = value
	g.writes++
	return nil
}
func (g *fakeGPIO) GetPin(pin core.GPIOPin) (bool, error) { return g.values[pin], nil }
func (g *fakeGPIO) ReadPin(pin core.GPIOPin) bool         { return g.values[pin] }

func newTestScheduler() (*sched.Scheduler, *tick.FakeSource) {
	src := tick.NewFakeSource(tick.Timespec{Sec: 1})
	return sched.New(20000000, src, func(string, ...any) {}), src
}

// pollUntilIdle repeatedly advances the fake clock by step and polls the
// dispatcher, driving self-rescheduling timers to completion the way a
// real host-simulation main loop would as wall time passes.
func pollUntilIdle(s *sched.Scheduler, src *tick.FakeSource, step time.Duration, maxIters int, idle func() bool) {
	for i := 0; i < maxIters && !idle(); i++ {
		src.Advance(step)
		s.Dispatcher.Poll()
	}
}

// scenario 2 (spec.md §8), exercised through a real consumer: a
// self-rescheduling timer alternates step-up/step-down until the target
// position is reached, driven entirely by the shared dispatcher.
func TestStepperMovesToTargetPosition(t *testing.T) {
	s, src := newTestScheduler()
	gpio := newFakeGPIO()

	cfg := standalone.AxisConfig{
		StepPin:    "gpio0",
		DirPin:     "gpio1",
		StepsPerMM: 100,
	}
	stepper, err := NewStepper("x", cfg, s)
	if err != nil {
		t.Fatalf("NewStepper: %v", err)
	}
	if err := stepper.InitPins(gpio); err != nil {
		t.Fatalf("InitPins: %v", err)
	}

	stepper.MoveTo(0.05, 1000, 5000) // 5 steps at 100 steps/mm

	pollUntilIdle(s, src, time.Microsecond, 2000, func() bool { return !stepper.IsActive() })

	if stepper.IsActive() {
		t.Fatalf("expected stepper to finish moving within the poll budget")
	}
	if got, want := stepper.GetPosition(), 0.05; got != want {
		t.Fatalf("GetPosition() = %v, want %v", got, want)
	}
	if gpio.writes == 0 {
		t.Fatalf("expected step pin writes to have been recorded")
	}
}

func TestStepperStopFreezesPosition(t *testing.T) {
	s, src := newTestScheduler()
	gpio := newFakeGPIO()

	cfg := standalone.AxisConfig{StepPin: "gpio0", DirPin: "gpio1", StepsPerMM: 100}
	stepper, _ := NewStepper("x", cfg, s)
	_ = stepper.InitPins(gpio)

	stepper.MoveTo(1.0, 10, 100)
	src.Advance(time.Microsecond)
	s.Dispatcher.Poll()

	stepper.Stop()
	if stepper.IsActive() {
		t.Fatalf("expected Stop to clear active immediately")
	}
	pos := stepper.GetPosition()
	src.Advance(time.Microsecond)
	s.Dispatcher.Poll()
	if stepper.GetPosition() != pos {
		t.Fatalf("expected position to stay frozen after Stop")
	}
}
