package hostsim

import (
	"testing"

	"gopper/core"
)

func TestSetPinRequiresConfigureOutput(t *testing.T) {
	d := New()
	if err := d.SetPin(5, true); err == nil {
		t.Error("expected SetPin on an unconfigured pin to fail")
	}
}

func TestConfigureOutputThenSetPinRecordsValueAndLog(t *testing.T) {
	d := New()
	if err := d.ConfigureOutput(5); err != nil {
		t.Fatalf("ConfigureOutput: %v", err)
	}
	if err := d.SetPin(5, true); err != nil {
		t.Fatalf("SetPin: %v", err)
	}
	if err := d.SetPin(5, false); err != nil {
		t.Fatalf("SetPin: %v", err)
	}

	if got := d.ReadPin(5); got != false {
		t.Errorf("ReadPin = %v, want false", got)
	}

	snap := d.Snapshot()
	s, ok := snap[5]
	if !ok {
		t.Fatal("expected pin 5 in snapshot")
	}
	if s.Writes != 2 {
		t.Errorf("Writes = %d, want 2", s.Writes)
	}

	log := d.Log()
	if len(log) != 2 {
		t.Fatalf("Log() len = %d, want 2", len(log))
	}
	if log[0].Value != true || log[1].Value != false {
		t.Errorf("Log() = %+v, want [{5 true} {5 false}]", log)
	}
}

func TestConfigureInputPullUpDefaultsHigh(t *testing.T) {
	d := New()
	if err := d.ConfigureInputPullUp(3); err != nil {
		t.Fatalf("ConfigureInputPullUp: %v", err)
	}
	if !d.ReadPin(3) {
		t.Error("expected a freshly pulled-up input to read high")
	}
}

func TestGetPinUnconfiguredFails(t *testing.T) {
	d := New()
	if _, err := d.GetPin(9); err == nil {
		t.Error("expected GetPin on an unconfigured pin to fail")
	}
}

var _ core.GPIODriver = (*GPIODriver)(nil)
