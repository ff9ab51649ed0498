// Package stepgen generates step pulses for a single stepper axis by
// rescheduling a timerqueue.Timer the way the original firmware's
// stepcompress/step_move logic does, just without the hardware move
// compression: each pulse reschedules itself onto the owning scheduler.
package stepgen

import (
	"fmt"
	"strconv"
	"strings"

	"gopper/core"
	"gopper/sched"
	standalone "gopper/standalone/types"
	"gopper/timerqueue"
)

const stepPulseUS = 2

// Stepper represents a single stepper motor, driven by one timerqueue.Timer
// that alternates between raising and lowering the step pin.
type Stepper struct {
	name   string
	config standalone.AxisConfig
	sched  *sched.Scheduler
	gpio   core.GPIODriver

	stepPin core.GPIOPin
	dirPin  core.GPIOPin
	enPin   core.GPIOPin
	hasEn   bool

	position  int64
	targetPos int64

	nextStepTime uint32
	stepInterval uint32
	timer        timerqueue.Timer
	active       bool
}

// NewStepper creates a new stepper motor controller bound to s for timing.
func NewStepper(name string, config standalone.AxisConfig, s *sched.Scheduler) (*Stepper, error) {
	stepper := &Stepper{
		name:   name,
		config: config,
		sched:  s,
	}
	stepper.timer.Func = stepper.stepEvent
	return stepper, nil
}

// lookupPin parses a config pin name of the form "gpioN" into a GPIOPin.
func lookupPin(name string) (core.GPIOPin, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.ToLower(name), "gpio"))
	if err != nil {
		return 0, fmt.Errorf("invalid pin name %q: %w", name, err)
	}
	return core.GPIOPin(n), nil
}

// InitPins initializes the GPIO pins for this stepper.
func (s *Stepper) InitPins(gpioDriver core.GPIODriver) error {
	s.gpio = gpioDriver

	stepPin, err := lookupPin(s.config.StepPin)
	if err != nil {
		return err
	}
	if err := s.gpio.ConfigureOutput(stepPin); err != nil {
		return err
	}
	s.stepPin = stepPin

	dirPin, err := lookupPin(s.config.DirPin)
	if err != nil {
		return err
	}
	if err := s.gpio.ConfigureOutput(dirPin); err != nil {
		return err
	}
	s.dirPin = dirPin

	if s.config.EnablePin != "" {
		enPin, err := lookupPin(s.config.EnablePin)
		if err != nil {
			return err
		}
		if err := s.gpio.ConfigureOutput(enPin); err != nil {
			return err
		}
		s.enPin = enPin
		s.hasEn = true
		s.setEnablePin(s.config.InvertEnable)
	}

	return nil
}

func (s *Stepper) setEnablePin(high bool) {
	if s.hasEn {
		_ = s.gpio.SetPin(s.enPin, high)
	}
}

// Enable enables the stepper motor.
func (s *Stepper) Enable() {
	s.setEnablePin(!s.config.InvertEnable)
}

// Disable disables the stepper motor.
func (s *Stepper) Disable() {
	s.setEnablePin(s.config.InvertEnable)
}

// MoveTo schedules a constant-velocity move to the target position.
func (s *Stepper) MoveTo(targetMM float64, velocity float64, accel float64) {
	s.targetPos = int64(targetMM * s.config.StepsPerMM)

	dirHigh := s.targetPos >= s.position
	if s.config.InvertDir {
		dirHigh = !dirHigh
	}
	_ = s.gpio.SetPin(s.dirPin, dirHigh)

	stepsPerSecond := velocity * s.config.StepsPerMM
	if stepsPerSecond > 0 {
		s.stepInterval = uint32(float64(s.sched.Clock.Freq()) / stepsPerSecond)
	} else {
		s.stepInterval = s.sched.FromUs(1000000)
	}

	s.Enable()

	if s.active {
		// A move is already in flight on this timer; pull it before
		// re-adding instead of splicing the same node into the queue twice.
		s.sched.DelTimer(&s.timer)
	}

	if s.position != s.targetPos {
		s.active = true
		s.nextStepTime = s.sched.ReadTime() + s.stepInterval
		s.timer.WakeTime = s.nextStepTime
		s.timer.Func = s.stepEvent
		s.sched.AddTimer(&s.timer)
	} else {
		s.active = false
	}
}

// stepEvent raises the step pin and reschedules itself to lower it after a
// short pulse width, alternating with stepDownEvent until the target is
// reached -- the same up/down split spec.md §8 scenario 2 describes for a
// self-rescheduling timer.
func (s *Stepper) stepEvent(t *timerqueue.Timer) timerqueue.Outcome {
	if !s.active || s.position == s.targetPos {
		s.active = false
		return timerqueue.Done
	}

	_ = s.gpio.SetPin(s.stepPin, true)

	if s.targetPos > s.position {
		s.position++
	} else {
		s.position--
	}

	t.WakeTime = s.sched.ReadTime() + s.sched.FromUs(stepPulseUS)
	t.Func = s.stepDownEvent
	return timerqueue.Reschedule
}

func (s *Stepper) stepDownEvent(t *timerqueue.Timer) timerqueue.Outcome {
	_ = s.gpio.SetPin(s.stepPin, false)

	if s.position == s.targetPos {
		s.active = false
		return timerqueue.Done
	}

	s.nextStepTime += s.stepInterval
	t.WakeTime = s.nextStepTime
	t.Func = s.stepEvent
	return timerqueue.Reschedule
}

// GetPosition returns the current position in millimeters.
func (s *Stepper) GetPosition() float64 {
	return float64(s.position) / s.config.StepsPerMM
}

// SetPosition sets the current position (for homing, etc).
func (s *Stepper) SetPosition(posMM float64) {
	s.position = int64(posMM * s.config.StepsPerMM)
	s.targetPos = s.position
}

// IsActive returns whether the stepper is currently moving.
func (s *Stepper) IsActive() bool {
	return s.active
}

// Stop immediately stops the stepper; the in-flight timer sees
// active == false on its next firing and returns Done on its own.
func (s *Stepper) Stop() {
	s.active = false
	s.targetPos = s.position
}
