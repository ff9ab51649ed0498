package simconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"gopper/standalone"
	"gopper/standalone/config"
)

// fileConfig mirrors the YAML shape Load/Machine expect (snake_case keys,
// matching decodeAxis/decodeHeater), so a file written by MarshalDefaults
// round-trips through Load without translation.
type fileConfig struct {
	ClockFreq    uint32         `yaml:"clock_freq"`
	LogLevel     string         `yaml:"log_level"`
	SerialDevice string         `yaml:"serial_device"`
	GcodeDevice  string         `yaml:"gcode_device"`
	Machine      machineSection `yaml:"machine"`
}

type machineSection struct {
	Mode              string                    `yaml:"mode"`
	Kinematics        string                    `yaml:"kinematics"`
	DefaultVelocity   float64                   `yaml:"default_velocity"`
	DefaultAccel      float64                   `yaml:"default_accel"`
	JunctionDeviation float64                   `yaml:"junction_deviation"`
	Axes              map[string]axisSection    `yaml:"axes"`
	Endstops          map[string]endstopSection `yaml:"endstops"`
	Heaters           map[string]heaterSection  `yaml:"heaters"`
}

type axisSection struct {
	StepPin      string  `yaml:"step_pin"`
	DirPin       string  `yaml:"dir_pin"`
	EnablePin    string  `yaml:"enable_pin"`
	StepsPerMM   float64 `yaml:"steps_per_mm"`
	MaxVelocity  float64 `yaml:"max_velocity"`
	MaxAccel     float64 `yaml:"max_accel"`
	HomingVel    float64 `yaml:"homing_vel"`
	MinPosition  float64 `yaml:"min_position"`
	MaxPosition  float64 `yaml:"max_position"`
	InvertDir    bool    `yaml:"invert_dir"`
	InvertEnable bool    `yaml:"invert_enable"`
}

type endstopSection struct {
	Pin    string `yaml:"pin"`
	Invert bool   `yaml:"invert"`
}

type heaterSection struct {
	SensorPin string     `yaml:"sensor_pin"`
	HeaterPin string     `yaml:"heater_pin"`
	PID       [3]float64 `yaml:"pid"`
	MinTemp   float64    `yaml:"min_temp"`
	MaxTemp   float64    `yaml:"max_temp"`
	MaxPower  float64    `yaml:"max_power"`
}

// MarshalDefaults writes a complete starter config (standalone/config's
// default Cartesian printer, plus the simulator-only clock/log knobs) to
// path, the way a first `gopper-simd -init` run seeds a config file an
// operator can then edit.
//
// Grounded on comalice-statechartx's YAMLPersister.Save: yaml.Marshal a
// plain struct, write it with os.WriteFile.
func MarshalDefaults(path string) error {
	mc := config.DefaultCartesianConfig()
	fc := fileConfig{
		ClockFreq:    20000000,
		LogLevel:     "info",
		SerialDevice: "/tmp/gopper-simd.pty",
		GcodeDevice:  "/tmp/gopper-simd.gcode",
		Machine:      toMachineSection(mc),
	}
	data, err := yaml.Marshal(fc)
	if err != nil {
		return fmt.Errorf("simconfig: marshal defaults: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("simconfig: write %s: %w", path, err)
	}
	return nil
}

func toMachineSection(mc *standalone.MachineConfig) machineSection {
	ms := machineSection{
		Mode:              mc.Mode,
		Kinematics:        mc.Kinematics,
		DefaultVelocity:   mc.DefaultVelocity,
		DefaultAccel:      mc.DefaultAccel,
		JunctionDeviation: mc.JunctionDeviation,
		Axes:              make(map[string]axisSection, len(mc.Axes)),
		Endstops:          make(map[string]endstopSection, len(mc.Endstops)),
		Heaters:           make(map[string]heaterSection, len(mc.Heaters)),
	}
	for name, a := range mc.Axes {
		ms.Axes[name] = axisSection{
			StepPin:      a.StepPin,
			DirPin:       a.DirPin,
			EnablePin:    a.EnablePin,
			StepsPerMM:   a.StepsPerMM,
			MaxVelocity:  a.MaxVelocity,
			MaxAccel:     a.MaxAccel,
			HomingVel:    a.HomingVel,
			MinPosition:  a.MinPosition,
			MaxPosition:  a.MaxPosition,
			InvertDir:    a.InvertDir,
			InvertEnable: a.InvertEnable,
		}
	}
	for name, e := range mc.Endstops {
		ms.Endstops[name] = endstopSection{Pin: e.Pin, Invert: e.Invert}
	}
	for name, h := range mc.Heaters {
		ms.Heaters[name] = heaterSection{
			SensorPin: h.SensorPin,
			HeaterPin: h.HeaterPin,
			PID:       h.PID,
			MinTemp:   h.MinTemp,
			MaxTemp:   h.MaxTemp,
			MaxPower:  h.MaxPower,
		}
	}
	return ms
}
