package config

import (
	"gopper/standalone"
)

// LoadConfig parses a JSON configuration string and returns a MachineConfig
func LoadConfig(jsonData []byte) (*standalone.MachineConfig, error) {
	return standalone.LoadConfig(jsonData)
}

// DefaultCartesianConfig returns a default configuration for a Cartesian printer
func DefaultCartesianConfig() *standalone.MachineConfig {
	return standalone.DefaultCartesianConfig()
}
