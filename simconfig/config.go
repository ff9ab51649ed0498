// Package simconfig loads cmd/gopper-simd's machine configuration: axis
// geometry, the simulated tick clock frequency, and log level, from a YAML
// file on disk.
//
// Grounded on httpd/config.go's viper+cast wrapper: SetConfigFile +
// ReadInConfig loads the file, then typed accessors built on
// github.com/spf13/cast pull values out of viper's map[string]interface{}
// tree with defaults for anything the file omits.
package simconfig

import (
	"fmt"

	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"gopper/standalone"
)

// Config wraps a loaded viper tree the same way httpd/config.go's config
// type does, plus the extra simulator-only knobs (clock frequency, log
// level) that don't belong on standalone.MachineConfig.
type Config struct {
	v *viper.Viper
}

// Load reads path (YAML) and returns a ready Config. Missing keys are not
// an error here -- Machine() and the scalar accessors apply defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("simconfig: read %s: %w", path, err)
	}
	return &Config{v: v}, nil
}

// ClockFreq returns the simulated MCU tick frequency in Hz. Real Klipper
// MCUs report this from the hardware clock source; tests and the
// simulator need it overridable from the config file instead.
func (c *Config) ClockFreq() uint32 {
	return c.getUint32OrDefault("clock_freq", 20000000)
}

// LogLevel returns the configured log level name ("debug", "info", "off",
// ...), defaulting to "info".
func (c *Config) LogLevel() string {
	return cast.ToString(c.getOrDefault("log_level", "info"))
}

// SerialDevice returns the Unix socket path gopper-simd exposes its
// protocol.Transport endpoint on.
func (c *Config) SerialDevice() string {
	return cast.ToString(c.getOrDefault("serial_device", "/tmp/gopper-simd.pty"))
}

// GcodeDevice returns the socket path gopper-simd exposes the standalone
// motion stack's text g-code front end on, separate from the binary
// dictionary/command protocol on SerialDevice -- a real MCU's USB CDC
// endpoint only ever speaks one protocol, but this simulator gives the
// g-code interpreter its own line so both front ends can be driven and
// tested independently. Defaults to SerialDevice with a ".gcode" suffix.
func (c *Config) GcodeDevice() string {
	return cast.ToString(c.getOrDefault("gcode_device", c.SerialDevice()+".gcode"))
}

// Machine builds a standalone.MachineConfig from the "machine" section of
// the file, applying the same per-axis/heater defaults
// standalone/config.LoadConfig applies to a JSON document -- the two
// loaders converge on the same in-memory shape, just from different wire
// formats.
func (c *Config) Machine() (*standalone.MachineConfig, error) {
	sub := c.v.Sub("machine")
	if sub == nil {
		return defaultMachineConfig(), nil
	}

	mc := &standalone.MachineConfig{
		Mode:              cast.ToString(sub.Get("mode")),
		Kinematics:        cast.ToString(sub.Get("kinematics")),
		DefaultVelocity:   cast.ToFloat64(orDefault(sub.Get("default_velocity"), 50.0)),
		DefaultAccel:      cast.ToFloat64(orDefault(sub.Get("default_accel"), 500.0)),
		JunctionDeviation: cast.ToFloat64(orDefault(sub.Get("junction_deviation"), 0.05)),
		Axes:              map[string]standalone.AxisConfig{},
		Endstops:          map[string]standalone.EndstopConfig{},
		Heaters:           map[string]standalone.HeaterConfig{},
	}
	if mc.Mode == "" {
		mc.Mode = "standalone"
	}
	if mc.Kinematics == "" {
		mc.Kinematics = "cartesian"
	}

	axes, ok := sub.Get("axes").(map[string]interface{})
	if !ok {
		if m := sub.Sub("axes"); m != nil {
			axes = m.AllSettings()
		}
	}
	for name, raw := range axes {
		axis, err := decodeAxis(raw)
		if err != nil {
			return nil, fmt.Errorf("simconfig: axis %q: %w", name, err)
		}
		mc.Axes[name] = axis
	}

	endstops, ok := sub.Get("endstops").(map[string]interface{})
	if !ok {
		if m := sub.Sub("endstops"); m != nil {
			endstops = m.AllSettings()
		}
	}
	for name, raw := range endstops {
		m, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		mc.Endstops[name] = standalone.EndstopConfig{
			Pin:    cast.ToString(m["pin"]),
			Invert: cast.ToBool(m["invert"]),
		}
	}

	heaters, ok := sub.Get("heaters").(map[string]interface{})
	if !ok {
		if m := sub.Sub("heaters"); m != nil {
			heaters = m.AllSettings()
		}
	}
	for name, raw := range heaters {
		heater, err := decodeHeater(raw)
		if err != nil {
			return nil, fmt.Errorf("simconfig: heater %q: %w", name, err)
		}
		mc.Heaters[name] = heater
	}

	return mc, nil
}

func decodeAxis(raw interface{}) (standalone.AxisConfig, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return standalone.AxisConfig{}, fmt.Errorf("not a mapping")
	}
	return standalone.AxisConfig{
		StepPin:      cast.ToString(m["step_pin"]),
		DirPin:       cast.ToString(m["dir_pin"]),
		EnablePin:    cast.ToString(m["enable_pin"]),
		StepsPerMM:   cast.ToFloat64(orDefault(m["steps_per_mm"], 80.0)),
		MaxVelocity:  cast.ToFloat64(orDefault(m["max_velocity"], 300.0)),
		MaxAccel:     cast.ToFloat64(orDefault(m["max_accel"], 1000.0)),
		HomingVel:    cast.ToFloat64(orDefault(m["homing_vel"], 5.0)),
		MinPosition:  cast.ToFloat64(m["min_position"]),
		MaxPosition:  cast.ToFloat64(m["max_position"]),
		InvertDir:    cast.ToBool(m["invert_dir"]),
		InvertEnable: cast.ToBool(m["invert_enable"]),
	}, nil
}

func decodeHeater(raw interface{}) (standalone.HeaterConfig, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return standalone.HeaterConfig{}, fmt.Errorf("not a mapping")
	}
	h := standalone.HeaterConfig{
		SensorPin: cast.ToString(m["sensor_pin"]),
		HeaterPin: cast.ToString(m["heater_pin"]),
		MinTemp:   cast.ToFloat64(m["min_temp"]),
		MaxTemp:   cast.ToFloat64(orDefault(m["max_temp"], 300.0)),
		MaxPower:  cast.ToFloat64(orDefault(m["max_power"], 1.0)),
	}
	if pid, ok := m["pid"].([]interface{}); ok && len(pid) == 3 {
		h.PID = [3]float64{cast.ToFloat64(pid[0]), cast.ToFloat64(pid[1]), cast.ToFloat64(pid[2])}
	}
	return h, nil
}

func (c *Config) getOrDefault(key string, def interface{}) interface{} {
	if !c.v.IsSet(key) {
		return def
	}
	return c.v.Get(key)
}

func (c *Config) getUint32OrDefault(key string, def uint32) uint32 {
	if !c.v.IsSet(key) {
		return def
	}
	n, err := cast.ToUint32E(c.v.Get(key))
	if err != nil {
		return def
	}
	return n
}

func orDefault(v interface{}, def interface{}) interface{} {
	if v == nil {
		return def
	}
	return v
}

func defaultMachineConfig() *standalone.MachineConfig {
	return &standalone.MachineConfig{
		Mode:              "standalone",
		Kinematics:        "cartesian",
		Axes:              map[string]standalone.AxisConfig{},
		Endstops:          map[string]standalone.EndstopConfig{},
		Heaters:           map[string]standalone.HeaterConfig{},
		DefaultVelocity:   50.0,
		DefaultAccel:      500.0,
		JunctionDeviation: 0.05,
	}
}
