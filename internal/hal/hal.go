// Package hal defines the hardware abstraction the dispatcher and stepper
// driver talk to: digital GPIO for the coil drivers and limit switches, and
// software PWM for the pen servo. Two implementations exist: rpi_linux.go (real
// Raspberry Pi GPIO via go-rpio/periph.io) and mock.go (in-memory, for tests
// and non-Linux development).
package hal

import (
	"fmt"
	"sync"
)

// PinMode is the electrical mode of a GPIO pin.
type PinMode int

const (
	Input PinMode = iota
	Output
	PWM
)

// PullMode is the internal pull resistor state of an input pin.
type PullMode int

const (
	PullNone PullMode = iota
	PullUp
	PullDown
)

// EdgeMode selects which transitions WatchEdge reports.
type EdgeMode int

const (
	EdgeNone EdgeMode = iota
	EdgeRising
	EdgeFalling
	EdgeBoth
)

// GPIOProvider is the pin-level interface the stepper driver, pen control,
// and limit-switch polling use. Pin numbers are BCM GPIO numbers.
type GPIOProvider interface {
	SetMode(pin int, mode PinMode) error
	SetPull(pin int, pull PullMode) error
	DigitalRead(pin int) (bool, error)
	DigitalWrite(pin int, value bool) error
	// PWMWrite sets a PWM duty cycle, 0-255, on a pin previously put in PWM mode.
	PWMWrite(pin int, value int) error
	SetPWMFrequency(pin int, freq int) error
	// WatchEdge registers a callback fired on the given transition. Used for
	// limit-switch interrupts where the backend supports them; on backends
	// that don't, callers fall back to polling DigitalRead.
	WatchEdge(pin int, edge EdgeMode, callback func(pin int, value bool)) error
	// ActivePins returns the pins currently configured, for diagnostics.
	ActivePins() map[int]PinMode
	Close() error
}

// HAL groups the GPIO provider with board identification, mirroring how the
// composition root selects a real or mock backend based on GOOS.
type HAL interface {
	GPIO() GPIOProvider
	Info() BoardInfo
	Close() error
}

var (
	globalHAL HAL
	halMu     sync.RWMutex
)

// SetGlobalHAL installs the process-wide HAL instance, set once by the
// composition root at startup.
func SetGlobalHAL(h HAL) {
	halMu.Lock()
	defer halMu.Unlock()
	globalHAL = h
}

// GetGlobalHAL returns the process-wide HAL instance.
func GetGlobalHAL() (HAL, error) {
	halMu.RLock()
	defer halMu.RUnlock()
	if globalHAL == nil {
		return nil, fmt.Errorf("HAL not initialized")
	}
	return globalHAL, nil
}
