package standalone

import "gopper/standalone/types"

// Position represents a position in machine coordinates
type Position = types.Position

// Move represents a planned move with timing information
type Move = types.Move

// AxisConfig represents configuration for a single axis
type AxisConfig = types.AxisConfig

// EndstopConfig represents configuration for an endstop
type EndstopConfig = types.EndstopConfig

// HeaterConfig represents configuration for a heater
type HeaterConfig = types.HeaterConfig

// MachineConfig represents the complete machine configuration
type MachineConfig = types.MachineConfig

// MachineState represents the current machine state
type MachineState = types.MachineState

// GCodeCommand represents a parsed G-code command
type GCodeCommand = types.GCodeCommand
