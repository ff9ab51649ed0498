package core

import (
	"testing"

	"gopper/protocol"
	"gopper/sched"
	"gopper/tick"
)

// mockGPIODriver is a test implementation of GPIODriver.
type mockGPIODriver struct {
	pins map[GPIOPin]bool
}

func newMockGPIODriver() *mockGPIODriver {
	return &mockGPIODriver{pins: make(map[GPIOPin]bool)}
}

func (m *mockGPIODriver) ConfigureOutput(pin GPIOPin) error        { m.pins[pin] = false; return nil }
func (m *mockGPIODriver) ConfigureInputPullUp(pin GPIOPin) error   { return nil }
func (m *mockGPIODriver) ConfigureInputPullDown(pin GPIOPin) error { return nil }
func (m *mockGPIODriver) SetPin(pin GPIOPin, value bool) error     { m.pins[pin] = value; return nil }
func (m *mockGPIODriver) GetPin(pin GPIOPin) (bool, error)         { return m.pins[pin], nil }
func (m *mockGPIODriver) ReadPin(pin GPIOPin) bool                 { return m.pins[pin] }

func newTestSchedulerForGPIO(t *testing.T) *sched.Scheduler {
	t.Helper()
	src := tick.NewFakeSource(tick.Timespec{Sec: 1})
	s := sched.New(20000000, src, nil)
	SetScheduler(s)
	return s
}

func encodeConfigDigitalOut(oid, pin, value, defaultValue, maxDuration uint32) []byte {
	out := protocol.NewScratchOutput()
	protocol.EncodeVLQUint(out, oid)
	protocol.EncodeVLQUint(out, pin)
	protocol.EncodeVLQUint(out, value)
	protocol.EncodeVLQUint(out, defaultValue)
	protocol.EncodeVLQUint(out, maxDuration)
	return out.Result()
}

func encodeQueueDigitalOut(oid, clock, onTicks uint32) []byte {
	out := protocol.NewScratchOutput()
	protocol.EncodeVLQUint(out, oid)
	protocol.EncodeVLQUint(out, clock)
	protocol.EncodeVLQUint(out, onTicks)
	return out.Result()
}

func TestConfigDigitalOutRegistersPin(t *testing.T) {
	newTestSchedulerForGPIO(t)
	drv := newMockGPIODriver()
	SetGPIODriver(drv)

	data := encodeConfigDigitalOut(1, 25, 1, 0, 0)
	if err := handleConfigDigitalOut(&data); err != nil {
		t.Fatalf("handleConfigDigitalOut: %v", err)
	}

	dout, exists := digitalOutputs[1]
	if !exists {
		t.Fatal("digital out not registered")
	}
	if dout.Pin != GPIOPin(25) {
		t.Errorf("Pin = %d, want 25", dout.Pin)
	}
	if dout.Flags&DF_ON == 0 {
		t.Error("DF_ON not set for initial value=1")
	}
	if state, _ := drv.GetPin(25); !state {
		t.Error("pin 25 not driven high")
	}
}

func TestQueueDigitalOutSchedulesThenFires(t *testing.T) {
	s := newTestSchedulerForGPIO(t)
	drv := newMockGPIODriver()
	SetGPIODriver(drv)

	configData := encodeConfigDigitalOut(2, 7, 0, 0, 0)
	if err := handleConfigDigitalOut(&configData); err != nil {
		t.Fatalf("handleConfigDigitalOut: %v", err)
	}
	dout := digitalOutputs[2]

	queueData := encodeQueueDigitalOut(2, s.ReadTime(), 1)
	if err := handleQueueDigitalOut(&queueData); err != nil {
		t.Fatalf("handleQueueDigitalOut: %v", err)
	}
	if !dout.scheduled {
		t.Fatal("scheduled flag not set after queue_digital_out")
	}

	s.Dispatcher.Poll()

	if state, _ := drv.GetPin(7); !state {
		t.Error("pin 7 not driven high after timer fired")
	}
	if dout.scheduled {
		t.Error("scheduled flag should clear once the one-shot timer is Done")
	}
}

func TestQueueDigitalOutRescheduleDoesNotDoubleInsert(t *testing.T) {
	s := newTestSchedulerForGPIO(t)
	SetGPIODriver(newMockGPIODriver())

	configData := encodeConfigDigitalOut(3, 9, 0, 0, 0)
	if err := handleConfigDigitalOut(&configData); err != nil {
		t.Fatalf("handleConfigDigitalOut: %v", err)
	}

	far := s.ReadTime() + s.FromUs(1000000)
	first := encodeQueueDigitalOut(3, far, 1)
	if err := handleQueueDigitalOut(&first); err != nil {
		t.Fatalf("handleQueueDigitalOut (1): %v", err)
	}

	// Requeue before the first one fires; must Del the still-live timer
	// rather than splice it into the queue a second time.
	second := encodeQueueDigitalOut(3, far+1, 1)
	if err := handleQueueDigitalOut(&second); err != nil {
		t.Fatalf("handleQueueDigitalOut (2): %v", err)
	}

	dout := digitalOutputs[3]
	if dout.Timer.WakeTime != far+1 {
		t.Errorf("WakeTime = %d, want %d", dout.Timer.WakeTime, far+1)
	}
}

func TestShutdownAllDigitalOutClearsScheduledFlag(t *testing.T) {
	s := newTestSchedulerForGPIO(t)
	SetGPIODriver(newMockGPIODriver())

	configData := encodeConfigDigitalOut(4, 11, 0, 1, 0)
	if err := handleConfigDigitalOut(&configData); err != nil {
		t.Fatalf("handleConfigDigitalOut: %v", err)
	}
	far := s.ReadTime() + s.FromUs(1000000)
	queueData := encodeQueueDigitalOut(4, far, 1)
	if err := handleQueueDigitalOut(&queueData); err != nil {
		t.Fatalf("handleQueueDigitalOut: %v", err)
	}

	dout := digitalOutputs[4]
	if !dout.scheduled {
		t.Fatal("expected timer to be live before shutdown")
	}

	// runShutdownSequence resets the queue before shutdown hooks run; the
	// shutdown hook core.SetScheduler registered must still leave the
	// scheduled flag consistent with the now-empty queue.
	s.Queue.Reset()
	s.Hooks.RunShutdownFuncs("test shutdown")

	if dout.scheduled {
		t.Error("scheduled flag should be cleared by the shutdown hook")
	}

	// A later requeue must not try to Del a timer the queue no longer
	// holds -- this would hang forever if the flag were still stale.
	requeue := encodeQueueDigitalOut(4, s.ReadTime()+s.FromUs(10), 1)
	if err := handleQueueDigitalOut(&requeue); err != nil {
		t.Fatalf("handleQueueDigitalOut after shutdown: %v", err)
	}
}
