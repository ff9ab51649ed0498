package core

import (
	"sync/atomic"

	"gopper/protocol"
)

// firmwareState tracks the small amount of config/identify bookkeeping
// Klipper's bootstrap commands expose to the host, independent of the
// scheduler's own shutdown/timer state.
type firmwareState struct {
	configCRC uint32 // atomic
	moveCount uint16
}

var globalState = &firmwareState{
	moveCount: 16, // command queue depth Klipper's host expects at minimum
}

// InitCoreCommands registers the bootstrap and identify/config protocol
// commands. Registration order matters: the host's dictionary handshake
// hardcodes identify_response at ID 0 and identify at ID 1, so this must
// run before any other Init*Commands.
func InitCoreCommands() {
	RegisterCommand("identify_response", "offset=%u data=%*s", nil)   // ID 0
	RegisterCommand("identify", "offset=%u count=%c", handleIdentify) // ID 1

	RegisterCommand("get_uptime", "", handleGetUptime)
	RegisterCommand("get_clock", "", handleGetClock)
	RegisterCommand("get_config", "", handleGetConfig)
	RegisterCommand("config_reset", "", handleConfigReset)
	RegisterCommand("finalize_config", "crc=%u", handleFinalizeConfig)
	RegisterCommand("allocate_oids", "count=%c", handleAllocateOids)
	RegisterCommand("emergency_stop", "", handleEmergencyStop)
	RegisterCommand("reset", "", handleReset)

	RegisterCommand("clock", "clock=%u", nil)
	RegisterCommand("uptime", "high=%u clock=%u", nil)
	RegisterCommand("config", "is_config=%c crc=%u is_shutdown=%c move_count=%hu", nil)

	RegisterConstant("STATS_SUMSQ_BASE", uint32(256))
}

// handleIdentify serves one chunk of the data dictionary, the handshake
// the host uses to learn this MCU's command/response ID assignment
// before sending anything else.
func handleIdentify(data *[]byte) error {
	offset, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	count8, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	chunk := GetGlobalDictionary().GetChunk(offset, uint8(count8))
	SendResponse("identify_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQBytes(output, chunk)
	})
	return nil
}

// handleGetUptime reports the scheduler's tick clock as a 64-bit value.
// This repo's clock never tracks a high word the way Klipper's wrap
// counter does, so high is always 0; low carries the full 32-bit tick
// count.
func handleGetUptime(_ *[]byte) error {
	clock := MustScheduler().ReadTime()
	SendResponse("uptime", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, 0)
		protocol.EncodeVLQUint(output, clock)
	})
	return nil
}

func handleGetClock(_ *[]byte) error {
	clock := MustScheduler().ReadTime()
	SendResponse("clock", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, clock)
	})
	return nil
}

func handleGetConfig(_ *[]byte) error {
	crc := atomic.LoadUint32(&globalState.configCRC)
	isShutdown := MustScheduler().IsShutdown()

	SendResponse("config", func(output protocol.OutputBuffer) {
		encodeVLQBool(output, crc != 0)
		protocol.EncodeVLQUint(output, crc)
		encodeVLQBool(output, isShutdown)
		protocol.EncodeVLQUint(output, uint32(globalState.moveCount))
	})
	return nil
}

func encodeVLQBool(output protocol.OutputBuffer, v bool) {
	if v {
		protocol.EncodeVLQUint(output, 1)
	} else {
		protocol.EncodeVLQUint(output, 0)
	}
}

func handleConfigReset(_ *[]byte) error {
	atomic.StoreUint32(&globalState.configCRC, 0)
	return nil
}

func handleFinalizeConfig(data *[]byte) error {
	crc, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	atomic.StoreUint32(&globalState.configCRC, crc)
	return nil
}

func handleAllocateOids(data *[]byte) error {
	_, err := protocol.DecodeVLQUint(data)
	return err
}

// handleEmergencyStop shuts the scheduler down the same way a fault
// would, so the registered shutdown hooks (ShutdownAllDigitalOut,
// ShutdownAllTriggerSyncs, the standalone manager's EmergencyStop) run
// through the one path every other shutdown trigger already uses.
func handleEmergencyStop(_ *[]byte) error {
	MustScheduler().Shutdown("emergency_stop command")
	return nil
}

// globalResetHandler, when set, lets a host wrapper (not this package)
// decide what "reset" means for a simulated MCU -- there's no hardware
// watchdog to kick here.
var globalResetHandler func()
var resetPending uint32 // atomic bool

func SetResetHandler(handler func()) {
	globalResetHandler = handler
}

func handleReset(_ *[]byte) error {
	atomic.StoreUint32(&resetPending, 1)
	return nil
}

// CheckPendingReset runs the reset handler if a reset command arrived
// since the last check. Call it from the main loop after pending
// responses have been flushed, so the host's ACK for "reset" goes out
// before the process (or simulated MCU) restarts.
func CheckPendingReset() {
	if atomic.LoadUint32(&resetPending) != 0 && globalResetHandler != nil {
		globalResetHandler()
	}
}
