// Package serialconsole mirrors machine diagnostics to a physical serial
// port, for a bench debug cable attached alongside the stepper wiring. It
// subscribes to a Machine's diagnostic sink rather than importing
// internal/dispatcher or internal/machine's queue, so a serial mirror can
// never itself become a queue producer.
package serialconsole

import (
	"fmt"
	"sync"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// Mirror writes every diagnostic line it receives to an open serial port.
type Mirror struct {
	port serial.Port
	log  *zap.Logger

	mu     sync.Mutex
	closed bool
}

// Open opens portName at baud and returns a Mirror ready to receive lines
// via Write. An empty portName disables the mirror: Open still succeeds but
// the returned Mirror's Write is a no-op, letting callers wire it
// unconditionally in the composition root.
func Open(portName string, baud int, log *zap.Logger) (*Mirror, error) {
	if portName == "" {
		return &Mirror{log: log}, nil
	}

	mode := &serial.Mode{BaudRate: baud}
	p, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial console %q: %w", portName, err)
	}
	return &Mirror{port: p, log: log}, nil
}

// Write sends one diagnostic line, terminated with CRLF, to the port. It
// satisfies the func(string) shape expected by Machine.SetDiagnosticSink.
func (mirror *Mirror) Write(line string) {
	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	if mirror.port == nil || mirror.closed {
		return
	}
	if _, err := mirror.port.Write([]byte(line + "\r\n")); err != nil && mirror.log != nil {
		mirror.log.Warn("serial console write failed", zap.Error(err))
	}
}

// Close releases the underlying port, if one was opened.
func (mirror *Mirror) Close() error {
	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	mirror.closed = true
	if mirror.port == nil {
		return nil
	}
	return mirror.port.Close()
}
