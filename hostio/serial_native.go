//go:build !wasm

package hostio

import (
	"fmt"
	"time"

	"github.com/tarm/serial"
)

// nativePort wraps github.com/tarm/serial for a real host OS serial
// device or the pty end a simulator process exposes.
type nativePort struct {
	port *serial.Port
	cfg  *Config
}

// Open opens a native serial port.
func Open(cfg *Config) (Port, error) {
	if cfg == nil {
		return nil, fmt.Errorf("hostio: config cannot be nil")
	}

	serialConfig := &serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: time.Duration(cfg.ReadTimeout) * time.Millisecond,
	}

	port, err := serial.OpenPort(serialConfig)
	if err != nil {
		return nil, fmt.Errorf("hostio: open %s: %w", cfg.Device, err)
	}

	return &nativePort{port: port, cfg: cfg}, nil
}

func (p *nativePort) Read(b []byte) (int, error)  { return p.port.Read(b) }
func (p *nativePort) Write(b []byte) (int, error) { return p.port.Write(b) }

func (p *nativePort) Close() error {
	if p.port != nil {
		return p.port.Close()
	}
	return nil
}

// Flush is a no-op: tarm/serial has no explicit flush and Write already
// blocks until the bytes are handed to the OS.
func (p *nativePort) Flush() error { return nil }
