package hal

import (
	"fmt"
	"sync"
)

// MockHAL is an in-memory HAL for tests and non-Linux development,
// with no real pin timing or electrical behavior.
type MockHAL struct {
	gpio *MockGPIO
	info BoardInfo
}

func NewMockHAL() *MockHAL {
	return &MockHAL{
		gpio: &MockGPIO{pins: make(map[int]*MockPin)},
		info: BoardInfo{Model: BoardUnknown, Name: "Mock Board", NumGPIO: 40, CPUCores: 4, RAMSize: 1024},
	}
}

func (m *MockHAL) GPIO() GPIOProvider { return m.gpio }
func (m *MockHAL) Info() BoardInfo    { return m.info }
func (m *MockHAL) Close() error       { return m.gpio.Close() }

type MockPin struct {
	mode  PinMode
	pull  PullMode
	value bool
	pwm   int
	freq  int
}

// MockGPIO is a thread-safe fake GPIOProvider. Tests can poke pin values
// directly through SetInputValue to simulate limit-switch triggers.
type MockGPIO struct {
	mu       sync.RWMutex
	pins     map[int]*MockPin
	watchers map[int]func(pin int, value bool)
}

func (g *MockGPIO) pinOrNew(pin int) *MockPin {
	if g.pins == nil {
		g.pins = make(map[int]*MockPin)
	}
	if g.pins[pin] == nil {
		g.pins[pin] = &MockPin{}
	}
	return g.pins[pin]
}

func (g *MockGPIO) SetMode(pin int, mode PinMode) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pinOrNew(pin).mode = mode
	return nil
}

func (g *MockGPIO) SetPull(pin int, pull PullMode) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pinOrNew(pin).pull = pull
	return nil
}

func (g *MockGPIO) DigitalRead(pin int) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.pins[pin] == nil {
		return false, fmt.Errorf("pin %d not initialized", pin)
	}
	return g.pins[pin].value, nil
}

func (g *MockGPIO) DigitalWrite(pin int, value bool) error {
	g.mu.Lock()
	g.pinOrNew(pin).value = value
	watcher := g.watchers[pin]
	g.mu.Unlock()
	if watcher != nil {
		watcher(pin, value)
	}
	return nil
}

// SetInputValue lets a test drive an input pin (e.g. a limit switch) as if
// external hardware changed state, firing any registered edge watcher.
func (g *MockGPIO) SetInputValue(pin int, value bool) {
	g.DigitalWrite(pin, value)
}

func (g *MockGPIO) PWMWrite(pin int, value int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if value < 0 || value > 255 {
		return fmt.Errorf("PWM value must be 0-255")
	}
	g.pinOrNew(pin).pwm = value
	return nil
}

func (g *MockGPIO) SetPWMFrequency(pin int, freq int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pinOrNew(pin).freq = freq
	return nil
}

func (g *MockGPIO) WatchEdge(pin int, edge EdgeMode, callback func(pin int, value bool)) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.watchers == nil {
		g.watchers = make(map[int]func(pin int, value bool))
	}
	g.watchers[pin] = func(p int, v bool) {
		callback(p, v)
	}
	return nil
}

func (g *MockGPIO) ActivePins() map[int]PinMode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[int]PinMode, len(g.pins))
	for pin, p := range g.pins {
		out[pin] = p.mode
	}
	return out
}

// PWMValue returns the last duty cycle written to a pin, for assertions.
func (g *MockGPIO) PWMValue(pin int) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.pins[pin] == nil {
		return 0
	}
	return g.pins[pin].pwm
}

func (g *MockGPIO) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pins = make(map[int]*MockPin)
	g.watchers = nil
	return nil
}
