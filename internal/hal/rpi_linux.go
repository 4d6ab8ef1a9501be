//go:build linux
// +build linux

package hal

import (
	"fmt"
	"sync"
	"time"

	"github.com/stianeikeland/go-rpio/v4"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// RaspberryPiHAL is the real GPIO backend: eight coil-driver outputs, two
// limit-switch inputs, and one servo pin in PWM mode, all driven through
// go-rpio with periph.io/x/host doing the one-time platform init.
type RaspberryPiHAL struct {
	gpio *rpiGPIO
	info BoardInfo
}

func NewRaspberryPiHAL() (*RaspberryPiHAL, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph.io: %w", err)
	}
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open GPIO: %w", err)
	}

	info, err := DetectBoard()
	if err != nil {
		info = &BoardInfo{Name: "Unknown Board", NumGPIO: 26, CPUCores: 1}
	}

	return &RaspberryPiHAL{
		gpio: &rpiGPIO{
			pins:    make(map[int]rpio.Pin),
			modes:   make(map[int]PinMode),
			pwmPins: make(map[int]*pwmPin),
			watches: make(map[int]chan struct{}),
		},
		info: *info,
	}, nil
}

func (h *RaspberryPiHAL) GPIO() GPIOProvider { return h.gpio }
func (h *RaspberryPiHAL) Info() BoardInfo    { return h.info }
func (h *RaspberryPiHAL) Close() error       { return h.gpio.Close() }

type pwmPin struct {
	pin       rpio.Pin
	frequency physic.Frequency
	dutyCycle int
}

// rpiGPIO implements GPIOProvider against go-rpio. A pin in PWM mode is a
// plain output: PWMWrite records the duty value and drives the pin high when
// it is above 127 and low otherwise. The stored frequency is reported by
// PWMFrequency but does not time the pin; no duty-cycle waveform is generated.
type rpiGPIO struct {
	mu      sync.Mutex
	pins    map[int]rpio.Pin
	modes   map[int]PinMode
	pwmPins map[int]*pwmPin
	watches map[int]chan struct{}
}

func (g *rpiGPIO) SetMode(pin int, mode PinMode) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	p := rpio.Pin(pin)
	g.pins[pin] = p
	g.modes[pin] = mode

	switch mode {
	case Input:
		p.Input()
	case Output:
		p.Output()
	case PWM:
		p.Output()
		g.pwmPins[pin] = &pwmPin{pin: p, frequency: 50 * physic.Hertz, dutyCycle: 0}
	default:
		return fmt.Errorf("unsupported pin mode: %v", mode)
	}
	return nil
}

func (g *rpiGPIO) SetPull(pin int, pull PullMode) error {
	g.mu.Lock()
	p, ok := g.pins[pin]
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("pin %d not initialized", pin)
	}
	switch pull {
	case PullUp:
		p.PullUp()
	case PullDown:
		p.PullDown()
	default:
		p.PullOff()
	}
	return nil
}

func (g *rpiGPIO) DigitalWrite(pin int, value bool) error {
	g.mu.Lock()
	p, ok := g.pins[pin]
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("pin %d not initialized", pin)
	}
	if value {
		p.High()
	} else {
		p.Low()
	}
	return nil
}

func (g *rpiGPIO) DigitalRead(pin int) (bool, error) {
	g.mu.Lock()
	p, ok := g.pins[pin]
	g.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("pin %d not initialized", pin)
	}
	return p.Read() == rpio.High, nil
}

func (g *rpiGPIO) PWMWrite(pin int, value int) error {
	g.mu.Lock()
	pwm, ok := g.pwmPins[pin]
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("pin %d not configured for PWM", pin)
	}
	if value < 0 || value > 255 {
		return fmt.Errorf("PWM value must be 0-255")
	}
	pwm.dutyCycle = value
	pwm.pin.Write(rpio.State(boolToInt(value > 127)))
	return nil
}

func (g *rpiGPIO) SetPWMFrequency(pin int, freq int) error {
	g.mu.Lock()
	pwm, ok := g.pwmPins[pin]
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("pin %d not configured for PWM", pin)
	}
	pwm.frequency = physic.Frequency(freq) * physic.Hertz
	return nil
}

// PWMFrequency reports the configured PWM frequency for a pin, for
// diagnostics that want a physic.Frequency rather than a bare int.
func (g *rpiGPIO) PWMFrequency(pin int) (physic.Frequency, error) {
	g.mu.Lock()
	pwm, ok := g.pwmPins[pin]
	g.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("pin %d not configured for PWM", pin)
	}
	return pwm.frequency, nil
}

// WatchEdge polls the pin at a fixed interval and fires callback on the
// requested transition. go-rpio v4 exposes no interrupt API, so this is the
// cooperative equivalent of the dispatcher's own limit-switch polling.
func (g *rpiGPIO) WatchEdge(pin int, edge EdgeMode, callback func(pin int, value bool)) error {
	g.mu.Lock()
	if _, exists := g.watches[pin]; exists {
		g.mu.Unlock()
		return fmt.Errorf("pin %d already being watched", pin)
	}
	stop := make(chan struct{})
	g.watches[pin] = stop
	g.mu.Unlock()

	go func() {
		ticker := time.NewTicker(2 * time.Millisecond)
		defer ticker.Stop()
		prev, _ := g.DigitalRead(pin)
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				value, err := g.DigitalRead(pin)
				if err != nil {
					continue
				}
				if value == prev {
					continue
				}
				rising := !prev && value
				fire := edge == EdgeBoth || (edge == EdgeRising && rising) || (edge == EdgeFalling && !rising)
				prev = value
				if fire {
					callback(pin, value)
				}
			}
		}
	}()
	return nil
}

func (g *rpiGPIO) ActivePins() map[int]PinMode {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[int]PinMode, len(g.modes))
	for pin, mode := range g.modes {
		out[pin] = mode
	}
	return out
}

func (g *rpiGPIO) Close() error {
	g.mu.Lock()
	for _, stop := range g.watches {
		close(stop)
	}
	g.watches = make(map[int]chan struct{})
	g.mu.Unlock()
	return rpio.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
