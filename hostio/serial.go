// Package hostio provides the host side of the wire protocol: opening a
// serial connection to a running MCU (real or simulated) and speaking
// gopper/protocol's HostTransport over it to fetch the dictionary and
// exchange commands/responses.
//
// Grounded on the teacher's host/serial + host/mcu split, folded into one
// package the way core.CommandRegistry and core.Dictionary already share
// a package despite being separate types.
package hostio

import "io"

// Port represents a serial connection. Different builds/tests supply
// different implementations (native serial today; a pty-backed fake for
// tests, following the same Port abstraction so callers never care which
// one they got).
type Port interface {
	io.ReadWriteCloser

	// Flush flushes any buffered data.
	Flush() error
}

// Config holds serial port configuration.
type Config struct {
	// Device path (e.g. "/dev/ttyACM0", "COM3").
	Device string

	// Baud rate. USB CDC ignores this but a real UART needs it.
	Baud int

	// ReadTimeout is the read timeout in milliseconds (0 = blocking).
	ReadTimeout int
}

// DefaultConfig returns the standard Klipper-style serial configuration
// for device.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        250000,
		ReadTimeout: 100,
	}
}
