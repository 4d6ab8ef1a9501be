package hal

import (
	"log"
	"sync"
	"time"
)

// PinState is the live state of a single GPIO pin, broadcast to the
// diagnostics WebSocket feed.
type PinState struct {
	BCMPin     int       `json:"bcm_pin"`
	Value      bool      `json:"value"`
	Mode       string    `json:"mode"`
	EdgeCount  uint64    `json:"edge_count"`
	LastChange time.Time `json:"last_change"`
}

// GPIOMonitorState is the complete GPIO state for broadcasting: coil-driver
// outputs, limit-switch inputs, and the pen PWM pin.
type GPIOMonitorState struct {
	Pins      map[int]*PinState `json:"pins"`
	BoardName string            `json:"board_name"`
	Available bool              `json:"available"`
	Timestamp time.Time         `json:"timestamp"`
}

// GPIOMonitor polls the active HAL pins and broadcasts state changes, giving
// the operator console a live view of coil phase and limit-switch state
// without the dispatcher itself needing to know about WebSocket clients.
type GPIOMonitor struct {
	mu          sync.RWMutex
	pins        map[int]*PinState
	prevValues  map[int]bool
	broadcaster func(GPIOMonitorState)
	stopChan    chan struct{}
	pollMs      int
	boardName   string
}

func NewGPIOMonitor(pollMs int, broadcaster func(GPIOMonitorState)) *GPIOMonitor {
	boardName := "Unknown"
	if h, err := GetGlobalHAL(); err == nil {
		boardName = h.Info().Name
	}

	return &GPIOMonitor{
		pins:        make(map[int]*PinState),
		prevValues:  make(map[int]bool),
		broadcaster: broadcaster,
		stopChan:    make(chan struct{}),
		pollMs:      pollMs,
		boardName:   boardName,
	}
}

func (m *GPIOMonitor) Start() {
	ticker := time.NewTicker(time.Duration(m.pollMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.poll()
		}
	}
}

func (m *GPIOMonitor) Stop() {
	close(m.stopChan)
}

func (m *GPIOMonitor) GetState() GPIOMonitorState {
	h, err := GetGlobalHAL()
	if err != nil {
		return GPIOMonitorState{Pins: make(map[int]*PinState), BoardName: m.boardName, Available: false, Timestamp: time.Now()}
	}

	activePins := h.GPIO().ActivePins()

	m.mu.RLock()
	defer m.mu.RUnlock()

	pins := make(map[int]*PinState, len(activePins))
	for pin := range activePins {
		if state, ok := m.pins[pin]; ok {
			pinCopy := *state
			pins[pin] = &pinCopy
		}
	}

	return GPIOMonitorState{Pins: pins, BoardName: m.boardName, Available: true, Timestamp: time.Now()}
}

func (m *GPIOMonitor) poll() {
	h, err := GetGlobalHAL()
	if err != nil {
		return
	}

	gpio := h.GPIO()
	if gpio == nil {
		return
	}

	activePins := gpio.ActivePins()
	if len(activePins) == 0 {
		m.mu.Lock()
		if len(m.pins) > 0 {
			m.pins = make(map[int]*PinState)
			m.prevValues = make(map[int]bool)
			m.mu.Unlock()
			m.broadcaster(GPIOMonitorState{Pins: make(map[int]*PinState), BoardName: m.boardName, Available: true, Timestamp: time.Now()})
			return
		}
		m.mu.Unlock()
		return
	}

	changed := false
	now := time.Now()

	m.mu.Lock()

	for pin := range m.pins {
		if _, exists := activePins[pin]; !exists {
			delete(m.pins, pin)
			delete(m.prevValues, pin)
			changed = true
		}
	}

	for pin, mode := range activePins {
		value, err := gpio.DigitalRead(pin)
		if err != nil {
			log.Printf("gpio monitor: failed to read pin %d: %v", pin, err)
			continue
		}

		modeStr := "input"
		switch mode {
		case Output:
			modeStr = "output"
		case PWM:
			modeStr = "pwm"
		}

		state, exists := m.pins[pin]
		if !exists {
			m.pins[pin] = &PinState{BCMPin: pin, Value: value, Mode: modeStr, LastChange: now}
			m.prevValues[pin] = value
			changed = true
		} else {
			state.Mode = modeStr
			if value != m.prevValues[pin] {
				state.Value = value
				state.EdgeCount++
				state.LastChange = now
				m.prevValues[pin] = value
				changed = true
			}
		}
	}

	var state GPIOMonitorState
	if changed {
		pins := make(map[int]*PinState, len(m.pins))
		for pin, s := range m.pins {
			pinCopy := *s
			pins[pin] = &pinCopy
		}
		state = GPIOMonitorState{Pins: pins, BoardName: m.boardName, Available: true, Timestamp: now}
	}

	m.mu.Unlock()

	if changed && m.broadcaster != nil {
		m.broadcaster(state)
	}
}

var (
	globalGPIOMonitor *GPIOMonitor
	gpioMonitorMu     sync.RWMutex
)

func SetGlobalGPIOMonitor(m *GPIOMonitor) {
	gpioMonitorMu.Lock()
	defer gpioMonitorMu.Unlock()
	globalGPIOMonitor = m
}

func GetGlobalGPIOMonitor() *GPIOMonitor {
	gpioMonitorMu.RLock()
	defer gpioMonitorMu.RUnlock()
	return globalGPIOMonitor
}
