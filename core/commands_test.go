package core

import (
	"testing"

	"gopper/protocol"
	"gopper/sched"
	"gopper/tick"
)

func newTestSchedulerForCommands(t *testing.T) *sched.Scheduler {
	t.Helper()
	src := tick.NewFakeSource(tick.Timespec{Sec: 1})
	s := sched.New(20000000, src, nil)
	SetScheduler(s)
	globalTransport = nil
	return s
}

func TestGetCommandByNameUnknownFails(t *testing.T) {
	r := NewCommandRegistry()
	if _, ok := r.GetCommandByName("nope"); ok {
		t.Error("expected unknown command name to fail lookup")
	}
}

func TestGetCommandByNameFindsRegistered(t *testing.T) {
	r := NewCommandRegistry()
	r.Register("foo", "bar=%u", func(*[]byte) error { return nil })
	cmd, ok := r.GetCommandByName("foo")
	if !ok {
		t.Fatal("expected foo to be registered")
	}
	if cmd.Name != "foo" {
		t.Errorf("Name = %q, want foo", cmd.Name)
	}
}

func TestSendResponseFallsBackToSendRawWithoutTransport(t *testing.T) {
	oldRegistry := globalRegistry
	globalRegistry = NewCommandRegistry()
	defer func() { globalRegistry = oldRegistry }()
	RegisterResponse("ping", "n=%u")

	var got string
	s := sched.New(20000000, tick.NewFakeSource(tick.Timespec{Sec: 1}), func(format string, args ...any) {
		got = format
	})
	SetScheduler(s)
	globalTransport = nil

	SendResponse("ping", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, 7)
	})

	if got == "" {
		t.Fatal("expected SendRaw fallback to call sendf")
	}
}

func TestSendResponseUnregisteredNamePanicsWithTransport(t *testing.T) {
	oldRegistry := globalRegistry
	globalRegistry = NewCommandRegistry()
	defer func() { globalRegistry = oldRegistry }()

	out := protocol.NewScratchOutput()
	transport := protocol.NewTransport(out, func(uint16, *[]byte) error { return nil })
	oldTransport := globalTransport
	globalTransport = transport
	defer func() { globalTransport = oldTransport }()

	defer func() {
		if recover() == nil {
			t.Error("expected SendResponse to panic on an unregistered response name")
		}
	}()
	SendResponse("never_registered", nil)
}

func TestHandleIdentifyRespondsWithDictionaryChunk(t *testing.T) {
	oldRegistry, oldDict := globalRegistry, globalDictionary
	globalRegistry = NewCommandRegistry()
	globalDictionary = NewDictionary(globalRegistry)
	defer func() { globalRegistry = oldRegistry; globalDictionary = oldDict }()

	newTestSchedulerForCommands(t)
	InitCoreCommands()
	GetGlobalDictionary().BuildDictionary()

	out := protocol.NewScratchOutput()
	transport := protocol.NewTransport(out, func(cmdID uint16, data *[]byte) error {
		return globalRegistry.Dispatch(cmdID, data)
	})
	globalTransport = transport
	defer func() { globalTransport = nil }()

	req := protocol.NewScratchOutput()
	protocol.EncodeVLQUint(req, 0)  // offset
	protocol.EncodeVLQUint(req, 32) // count
	args := req.Result()

	if err := handleIdentify(&args); err != nil {
		t.Fatalf("handleIdentify: %v", err)
	}
	if len(out.Result()) == 0 {
		t.Error("expected handleIdentify to encode an identify_response frame")
	}

	chunk := GetGlobalDictionary().GetChunk(0, 32)
	if len(chunk) == 0 {
		t.Error("expected a non-empty dictionary chunk")
	}
}

func TestHandleEmergencyStopShutsDownScheduler(t *testing.T) {
	oldRegistry := globalRegistry
	globalRegistry = NewCommandRegistry()
	defer func() { globalRegistry = oldRegistry }()

	s := newTestSchedulerForCommands(t)
	InitCoreCommands()

	var ranHook bool
	s.Hooks.RegisterShutdown(func(string) { ranHook = true })

	func() {
		defer s.Fault.Recover(func(reason string) {
			s.Hooks.RunShutdownFuncs(reason)
		})
		if err := handleEmergencyStop(nil); err != nil {
			t.Fatalf("handleEmergencyStop: %v", err)
		}
	}()

	if !s.IsShutdown() {
		t.Error("expected scheduler to be shut down after emergency_stop")
	}
	if !ranHook {
		t.Error("expected shutdown hooks to run after emergency_stop")
	}
}
