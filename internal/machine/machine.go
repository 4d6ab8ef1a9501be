// Package machine owns the single plotter state value threaded by reference
// through the dispatcher, the planner, the routines, and the HTTP adapters:
// hardware handles, kinematic parameters, coordinate systems, boundaries,
// live position, and the G-code queue. Cartesian and SCARA machines share
// this type and differ only in the KinematicModel they're built with.
package machine

import (
	"fmt"
	"sync"
	"time"

	"github.com/plotterfw/motioncore/internal/hal"
	"github.com/plotterfw/motioncore/internal/kinematics"
	"github.com/plotterfw/motioncore/internal/speedctrl"
	"github.com/plotterfw/motioncore/internal/stepper"
	"go.uber.org/zap"
)

// WCSIdentifiers lists all ten coordinate systems in table order. G53 is the
// machine coordinate system and its offset is always (0,0).
var WCSIdentifiers = []string{
	"G53", "G54", "G55", "G56", "G57", "G58", "G59", "G59.1", "G59.2", "G59.3",
}

// Bounds is a set of per-axis limits where a nil field means "not
// constraining". GlobalBoundaries always has every field set; UserBoundaries
// starts fully nil.
type Bounds struct {
	XMin, YMin, XMax, YMax *float64
}

func (b Bounds) allSet() bool {
	return b.XMin != nil && b.YMin != nil && b.XMax != nil && b.YMax != nil
}

// LimitSwitchFault is raised when a safe motion meets an asserted limit
// switch, or a homing cycle finds one already asserted. It is terminal for the
// dispatcher: coils deenergize and the control loop exits.
type LimitSwitchFault struct{ Msg string }

func (e *LimitSwitchFault) Error() string { return e.Msg }

// OutOfBoundsError marks a motion target outside boundaries when RejectOOB
// is set. The dispatcher logs it and continues.
type OutOfBoundsError struct{ Msg string }

func (e *OutOfBoundsError) Error() string { return e.Msg }

// ValueError marks invalid runtime input, as distinct from the ConfigError
// kinds raised at construction time.
type ValueError struct{ Msg string }

func (e *ValueError) Error() string { return e.Msg }

// ConfigError marks an invalid construction parameter for the machine
// itself (as opposed to a speed controller or HAL backend).
type ConfigError struct{ Msg string }

func (e *ConfigError) Error() string { return e.Msg }

// Config carries everything New needs to build a Machine. Pin counts are
// enforced by the [4]int array type rather than at runtime.
type Config struct {
	GPIO  hal.GPIOProvider
	Model KinematicModel
	Log   *zap.Logger

	PrimaryPins, SecondaryPins             [4]int
	BacklashStepsPrimary, BacklashStepsSecondary int
	ServoPin, PrimaryLimitPin, SecondaryLimitPin int

	StepsPerRevolution                                       int
	StepDelayMsRapid, StepDelayMsLinear, StepDelayMsInit      float64
	AccelerationRate                                          float64

	MinPenDuty, MaxPenDuty                                    int
	PenDelayMsInit, PenDelayMsTarget, PenAccelerationRate     float64

	XMin, YMin, XMax, YMax float64
	RejectOOB              bool

	ActiveTimeout  time.Duration
	MaxQueueLength int
}

// Machine is the live state of one physical plotter.
type Machine struct {
	gpio hal.GPIOProvider
	log  *zap.Logger

	Stepper *stepper.Driver
	Model   KinematicModel

	ServoPin          int
	PrimaryLimitPin   int
	SecondaryLimitPin int

	StepsPerRevolution int
	StepDelayMsRapid   float64
	StepDelayMsLinear  float64
	StepDelayMsInit    float64
	AccelerationRate   float64

	MinPenDuty, MaxPenDuty                                int
	PenDelayMsInit, PenDelayMsTarget, PenAccelerationRate float64
	penDuty                                               int

	GlobalBoundaries Bounds
	RejectOOB        bool

	ActiveTimeout time.Duration
	LastCommandTs time.Time

	MaxQueueLength int

	PrimaryController   *speedctrl.Controller
	SecondaryController *speedctrl.Controller

	mu             sync.Mutex
	userBoundaries Bounds
	csCoordinates  map[string]kinematics.Point
	currentCS      string
	csScaling      float64
	tileGridSize   int
	currentTileIdx int
	absolute       bool
	paused         bool
	queue          []string
	additionalInfo []string
	infoSink       func(string)
}

// servoPWMHz is the standard hobby-servo PWM refresh rate the pen actuator
// expects, per §3's "servo pin (PWM at 50 Hz)".
const servoPWMHz = 50

// configurePins puts every GPIO role into the electrical mode it needs
// before any coil, limit-switch, or servo operation runs: the eight coil
// pins as outputs, both limit switches as pulled-up inputs (a switch to
// ground is the common wiring for a NO microswitch), and the servo pin as
// 50 Hz PWM.
func configurePins(cfg Config) error {
	for _, pin := range cfg.PrimaryPins {
		if err := cfg.GPIO.SetMode(pin, hal.Output); err != nil {
			return fmt.Errorf("configure primary coil pin %d: %w", pin, err)
		}
	}
	for _, pin := range cfg.SecondaryPins {
		if err := cfg.GPIO.SetMode(pin, hal.Output); err != nil {
			return fmt.Errorf("configure secondary coil pin %d: %w", pin, err)
		}
	}
	for _, pin := range []int{cfg.PrimaryLimitPin, cfg.SecondaryLimitPin} {
		if err := cfg.GPIO.SetMode(pin, hal.Input); err != nil {
			return fmt.Errorf("configure limit pin %d: %w", pin, err)
		}
		if err := cfg.GPIO.SetPull(pin, hal.PullUp); err != nil {
			return fmt.Errorf("configure limit pin %d pull: %w", pin, err)
		}
	}
	if err := cfg.GPIO.SetMode(cfg.ServoPin, hal.PWM); err != nil {
		return fmt.Errorf("configure servo pin %d: %w", cfg.ServoPin, err)
	}
	if err := cfg.GPIO.SetPWMFrequency(cfg.ServoPin, servoPWMHz); err != nil {
		return fmt.Errorf("set servo pin %d PWM frequency: %w", cfg.ServoPin, err)
	}
	return nil
}

// New builds a Machine ready for the dispatcher's home cycle. Pen duty
// starts at MinPenDuty (pen fully lowered), positioning starts ABSOLUTE, and
// the active coordinate system starts at the machine CS (G53).
func New(cfg Config) (*Machine, error) {
	if cfg.XMin > cfg.XMax || cfg.YMin > cfg.YMax {
		return nil, &ConfigError{Msg: "global boundaries are inverted"}
	}
	if cfg.MaxQueueLength <= 0 {
		cfg.MaxQueueLength = 100
	}
	if cfg.ActiveTimeout <= 0 {
		cfg.ActiveTimeout = 35 * time.Second
	}

	if err := configurePins(cfg); err != nil {
		return nil, err
	}

	primaryAxis := &stepper.Axis{Pins: cfg.PrimaryPins, BacklashSteps: cfg.BacklashStepsPrimary, Phase: 1}
	secondaryAxis := &stepper.Axis{Pins: cfg.SecondaryPins, BacklashSteps: cfg.BacklashStepsSecondary, Phase: 1}
	driver := stepper.New(cfg.GPIO, primaryAxis, secondaryAxis, cfg.StepDelayMsRapid)

	primaryCtrl, err := speedctrl.New(cfg.StepDelayMsRapid, cfg.StepDelayMsInit, cfg.AccelerationRate, cfg.Log)
	if err != nil {
		return nil, err
	}
	secondaryCtrl, err := speedctrl.New(cfg.StepDelayMsRapid, cfg.StepDelayMsInit, cfg.AccelerationRate, cfg.Log)
	if err != nil {
		return nil, err
	}

	cs := make(map[string]kinematics.Point, len(WCSIdentifiers))
	for _, id := range WCSIdentifiers {
		cs[id] = kinematics.Point{}
	}

	xmin, ymin, xmax, ymax := cfg.XMin, cfg.YMin, cfg.XMax, cfg.YMax

	return &Machine{
		gpio:                cfg.GPIO,
		log:                 cfg.Log,
		Stepper:             driver,
		Model:               cfg.Model,
		ServoPin:            cfg.ServoPin,
		PrimaryLimitPin:     cfg.PrimaryLimitPin,
		SecondaryLimitPin:   cfg.SecondaryLimitPin,
		StepsPerRevolution:  cfg.StepsPerRevolution,
		StepDelayMsRapid:    cfg.StepDelayMsRapid,
		StepDelayMsLinear:   cfg.StepDelayMsLinear,
		StepDelayMsInit:     cfg.StepDelayMsInit,
		AccelerationRate:    cfg.AccelerationRate,
		MinPenDuty:          cfg.MinPenDuty,
		MaxPenDuty:          cfg.MaxPenDuty,
		PenDelayMsInit:      cfg.PenDelayMsInit,
		PenDelayMsTarget:    cfg.PenDelayMsTarget,
		PenAccelerationRate: cfg.PenAccelerationRate,
		penDuty:             cfg.MinPenDuty,
		GlobalBoundaries:    Bounds{XMin: &xmin, YMin: &ymin, XMax: &xmax, YMax: &ymax},
		RejectOOB:           cfg.RejectOOB,
		ActiveTimeout:       cfg.ActiveTimeout,
		MaxQueueLength:      cfg.MaxQueueLength,
		PrimaryController:   primaryCtrl,
		SecondaryController: secondaryCtrl,
		csCoordinates:       cs,
		currentCS:           "G53",
		csScaling:           1.0,
		tileGridSize:        3,
		currentTileIdx:      0,
		absolute:            true,
	}, nil
}

// IsPrimaryLimit and IsSecondaryLimit report the raw limit-switch pin state.
func (m *Machine) IsPrimaryLimit() bool {
	v, _ := m.gpio.DigitalRead(m.PrimaryLimitPin)
	return v
}

func (m *Machine) IsSecondaryLimit() bool {
	v, _ := m.gpio.DigitalRead(m.SecondaryLimitPin)
	return v
}

// IsPrimaryHome and IsSecondaryHome are true only when the limit switch is
// asserted and the axis's last motion was BACKWARD; this is the only
// condition treated as "home".
func (m *Machine) IsPrimaryHome() bool {
	return m.IsPrimaryLimit() && m.Stepper.Primary.LastDirection == stepper.DirBackward
}

func (m *Machine) IsSecondaryHome() bool {
	return m.IsSecondaryLimit() && m.Stepper.Secondary.LastDirection == stepper.DirBackward
}

// LimitStatus reports both limit switches' raw state, for the status endpoint.
func (m *Machine) LimitStatus() (primary, secondary bool) {
	return m.IsPrimaryLimit(), m.IsSecondaryLimit()
}

// SetUserBoundaries installs a user-constrained boundary box, rejecting one
// that falls outside the global boundaries.
func (m *Machine) SetUserBoundaries(xMin, yMin, xMax, yMax float64) error {
	g := m.GlobalBoundaries
	if xMin < *g.XMin || yMin < *g.YMin || xMax > *g.XMax || yMax > *g.YMax {
		return &ValueError{Msg: fmt.Sprintf(
			"boundary [%v, %v], [%v, %v] is out of globals bounds [%v, %v] [%v, %v]",
			xMin, yMin, xMax, yMax, *g.XMin, *g.YMin, *g.XMax, *g.YMax)}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.userBoundaries = Bounds{XMin: &xMin, YMin: &yMin, XMax: &xMax, YMax: &yMax}
	return nil
}

func (m *Machine) userBounds() Bounds {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userBoundaries
}

// Absolute and SetAbsolute get/set positioning mode. The dispatcher is the
// sole writer (from G90/G91); the HTTP status endpoint only reads it.
func (m *Machine) Absolute() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.absolute
}

func (m *Machine) SetAbsolute(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.absolute = enabled
}

// Paused and SetPaused get/set the dispatcher's pause flag. M6 (tool change)
// pauses; an external operator action clears it.
func (m *Machine) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

func (m *Machine) SetPaused(paused bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = paused
}

// CSOffset returns the stored offset for a coordinate system identifier.
func (m *Machine) CSOffset(cs string) kinematics.Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.csCoordinates[cs]
}

// SetCSOffset assigns a new offset to a named WCS. G53, the machine CS, must
// never be reassigned away from (0,0).
func (m *Machine) SetCSOffset(cs string, x, y float64) error {
	if cs == "G53" {
		return &ValueError{Msg: "G53 is the machine coordinate system and cannot be reassigned"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.csCoordinates[cs]; !ok {
		return &ValueError{Msg: fmt.Sprintf("unknown coordinate system %q", cs)}
	}
	m.csCoordinates[cs] = kinematics.Point{X: x, Y: y}
	return nil
}

func (m *Machine) CurrentCS() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentCS
}

func (m *Machine) SelectCS(cs string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.csCoordinates[cs]; !ok {
		return &ValueError{Msg: fmt.Sprintf("unknown coordinate system %q", cs)}
	}
	m.currentCS = cs
	return nil
}

func (m *Machine) CSScaling() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.csScaling
}

func (m *Machine) SetCSScaling(factor float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.csScaling = factor
}

// TileGridSize, SetTileGridSize, CurrentTileIdx and SetCurrentTileIdx back
// the tiling HTTP endpoints: an n*n grid of work coordinate systems, scaled
// down by 1/n, selected one at a time.
func (m *Machine) TileGridSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tileGridSize
}

func (m *Machine) SetTileGridSize(n int) error {
	if n != 1 && n != 2 && n != 3 {
		return &ValueError{Msg: fmt.Sprintf("invalid tile grid size: %d", n)}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tileGridSize = n
	m.currentTileIdx = 0
	return nil
}

func (m *Machine) CurrentTileIdx() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTileIdx
}

func (m *Machine) SetCurrentTileIdx(idx int) error {
	m.mu.Lock()
	n := m.tileGridSize
	m.mu.Unlock()
	if idx < 1 || idx > n*n {
		return &ValueError{Msg: fmt.Sprintf("invalid tile index: %d", idx)}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTileIdx = idx
	return nil
}

// Position returns the current tool position in drawing units.
func (m *Machine) Position() kinematics.Point {
	return m.Model.CurrentPos(m.Stepper.Primary.Position, m.Stepper.Secondary.Position)
}

// Activated reports whether the coil drivers currently hold torque.
func (m *Machine) Activated() bool { return m.Stepper.IsActive() }

// Enqueue appends a command line to the FIFO queue, returning false without
// mutating the queue if it is already at MaxQueueLength. HTTP handlers use
// this directly (non-blocking); streaming producers poll it.
func (m *Machine) Enqueue(line string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) >= m.MaxQueueLength {
		return false
	}
	m.queue = append(m.queue, line)
	return true
}

// Dequeue pops the oldest queued command, if any.
func (m *Machine) Dequeue() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return "", false
	}
	line := m.queue[0]
	m.queue = m.queue[1:]
	return line, true
}

// PeekNext returns the next queued command without removing it, used by the
// dispatcher to compute a junction factor ahead of a motion command.
func (m *Machine) PeekNext() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return "", false
	}
	return m.queue[0], true
}

func (m *Machine) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// ClearQueue drains the queue, used by the stop endpoint.
func (m *Machine) ClearQueue() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = nil
}

// AppendInfo records a timestamped diagnostic line, surfaced through the
// status endpoint's additional_info array and, if a sink is installed, also
// forwarded to it (in plotterd, the serial console mirror).
func (m *Machine) AppendInfo(msg string) {
	line := fmt.Sprintf("%s: %s", time.Now().Format(time.RFC3339), msg)

	m.mu.Lock()
	m.additionalInfo = append(m.additionalInfo, line)
	sink := m.infoSink
	m.mu.Unlock()

	if sink != nil {
		sink(line)
	}
}

// SetDiagnosticSink installs a callback invoked with every AppendInfo line,
// mirroring the teacher's logger broadcast-hook pattern. One sink is held at
// a time; plotterd installs the serial console mirror.
func (m *Machine) SetDiagnosticSink(fn func(string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoSink = fn
}

// Info returns a snapshot of the diagnostic log.
func (m *Machine) Info() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.additionalInfo))
	copy(out, m.additionalInfo)
	return out
}
