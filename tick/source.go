package tick

import "time"

// RealSource reads the process's monotonic wall clock, the host
// simulation's stand-in for clock_gettime(CLOCK_MONOTONIC, ...).
type RealSource struct {
	epoch time.Time
}

// NewRealSource creates a Source anchored to the current instant. Go's
// time.Time carries a monotonic reading alongside the wall clock, so
// elapsed time stays monotonic even if the wall clock is adjusted.
func NewRealSource() *RealSource {
	return &RealSource{epoch: time.Now()}
}

// Read returns the current time as a Timespec relative to the Unix
// epoch, derived from a monotonic elapsed-time measurement so it can
// never run backwards.
func (s *RealSource) Read() Timespec {
	now := time.Now()
	elapsed := now.Sub(s.epoch)
	base := s.epoch.Unix()
	sec := base + int64(elapsed/time.Second)
	nsec := int64(elapsed % time.Second)
	return Timespec{Sec: sec, Nsec: nsec}
}

// FakeSource is a manually-advanced clock source for deterministic tests.
type FakeSource struct {
	now Timespec
}

// NewFakeSource creates a FakeSource starting at the given time.
func NewFakeSource(start Timespec) *FakeSource {
	return &FakeSource{now: start.Normalize()}
}

// Read returns the current fake time, nudged forward by a single
// nanosecond first. Dispatch's busy-wait ("spin until ReadTime crosses the
// waketime") assumes every Read reflects genuine, if tiny, wall-clock
// progress -- true of a real Source but not of an inert fake one. Without
// this nudge a timer due a handful of ticks out would spin Read forever
// in a test. The nudge is far below tick resolution at any realistic
// clock frequency, so it never perturbs a test's own explicit Advance.
func (s *FakeSource) Read() Timespec {
	s.now.Nsec++
	s.now = s.now.Normalize()
	return s.now
}

// Advance moves the fake clock forward by d and returns the new time.
func (s *FakeSource) Advance(d time.Duration) Timespec {
	s.now.Nsec += d.Nanoseconds()
	s.now = s.now.Normalize()
	return s.now
}

// Set pins the fake clock to an exact time.
func (s *FakeSource) Set(ts Timespec) {
	s.now = ts.Normalize()
}
