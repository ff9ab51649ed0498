// Package hostsim provides host-process stand-ins for the hardware this
// repo no longer drives directly: a core.GPIODriver that records pin
// writes instead of toggling real silicon, standing in for the
// TinyGo-and-real-board drivers the teacher's targets/ trees supplied.
package hostsim

import (
	"fmt"
	"sync"

	"gopper/core"
)

// PinMode records how a pin was last configured.
type PinMode int

const (
	ModeUnconfigured PinMode = iota
	ModeOutput
	ModeInputPullUp
	ModeInputPullDown
)

// PinState is one pin's recorded configuration and current value.
type PinState struct {
	Mode  PinMode
	Value bool

	// Writes counts every SetPin call, for tests asserting a pin toggled
	// the expected number of times.
	Writes uint64
}

// GPIODriver implements core.GPIODriver by recording every configure/set
// call in memory rather than touching any real pin. A log of every write
// is kept so a test can inspect what the simulated firmware actually did.
type GPIODriver struct {
	mu   sync.Mutex
	pins map[core.GPIOPin]*PinState
	log  []PinEvent
}

// PinEvent is one recorded SetPin call, for post-hoc inspection.
type PinEvent struct {
	Pin   core.GPIOPin
	Value bool
}

// New creates an empty GPIODriver. Pins are implicitly created on first
// configure/set, the way most GPIO HALs lazily allocate pin state.
func New() *GPIODriver {
	return &GPIODriver{pins: make(map[core.GPIOPin]*PinState)}
}

func (d *GPIODriver) state(pin core.GPIOPin) *PinState {
	s, ok := d.pins[pin]
	if !ok {
		s = &PinState{}
		d.pins[pin] = s
	}
	return s
}

func (d *GPIODriver) ConfigureOutput(pin core.GPIOPin) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state(pin).Mode = ModeOutput
	return nil
}

func (d *GPIODriver) ConfigureInputPullUp(pin core.GPIOPin) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.state(pin)
	s.Mode = ModeInputPullUp
	s.Value = true
	return nil
}

func (d *GPIODriver) ConfigureInputPullDown(pin core.GPIOPin) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.state(pin)
	s.Mode = ModeInputPullDown
	s.Value = false
	return nil
}

func (d *GPIODriver) SetPin(pin core.GPIOPin, value bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.state(pin)
	if s.Mode != ModeOutput {
		return fmt.Errorf("hostsim: pin %d is not configured as an output", pin)
	}
	s.Value = value
	s.Writes++
	d.log = append(d.log, PinEvent{Pin: pin, Value: value})
	return nil
}

func (d *GPIODriver) GetPin(pin core.GPIOPin) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.pins[pin]
	if !ok {
		return false, fmt.Errorf("hostsim: pin %d not configured", pin)
	}
	return s.Value, nil
}

func (d *GPIODriver) ReadPin(pin core.GPIOPin) bool {
	v, _ := d.GetPin(pin)
	return v
}

// Snapshot returns a point-in-time copy of every pin's recorded state,
// keyed by pin number, for tests.
func (d *GPIODriver) Snapshot() map[core.GPIOPin]PinState {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[core.GPIOPin]PinState, len(d.pins))
	for pin, s := range d.pins {
		out[pin] = *s
	}
	return out
}

// Log returns every SetPin call recorded so far, oldest first.
func (d *GPIODriver) Log() []PinEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]PinEvent, len(d.log))
	copy(out, d.log)
	return out
}
