package config

import (
	"fmt"

	"github.com/plotterfw/motioncore/internal/hal"
)

// Preset names a known bench rig: a pre-filled Config for a specific
// combination of kinematic model and pin layout, so a fresh board can be
// brought up with `-preset` instead of hand-writing a JSON file.
type Preset string

const (
	// PresetBenchCartesian is the reference two-axis Cartesian rig: belt-driven
	// X/Y gantry, unipolar 28BYJ-48 steppers, SG90 pen servo.
	PresetBenchCartesian Preset = "bench-cartesian"

	// PresetBenchScara is the reference two-link arm rig.
	PresetBenchScara Preset = "bench-scara"
)

// GetDefaultPresets returns the built-in preset configurations, keyed by
// name. Values chosen here match the Cartesian and SCARA example
// configurations named in the machine-level scenarios.
func GetDefaultPresets() map[Preset]*Config {
	cartesian := &Config{
		MachineType:        "cartesian",
		StepsPerRevolution: 2038,
		StepDelayMsRapid:   1,
		StepDelayMsLinear:  2,
		StepDelayMsInit:    5,
		AccelerationRate:   0.6,
		UnitPerRevolution:  64,
		MinPenDuty:         10,
		MaxPenDuty:         110,
		PenDelayMsInit:     2,
		PenDelayMsTarget:   1,
		PenAccelerationRate: 0.6,
		XMin: 0, YMin: 0, XMax: 128, YMax: 131.5,
		RejectOOB:            true,
		ActiveTimeoutSeconds: 35,
		MaxQueueLength:       500,
	}
	cartesian.PrimaryAxis = AxisConfig{GPIO: [4]int{17, 18, 27, 22}, LimitGPIO: 5}
	cartesian.SecondaryAxis = AxisConfig{GPIO: [4]int{23, 24, 25, 8}, LimitGPIO: 6}
	cartesian.Servo.GPIO = 12
	cartesian.Server.Host = "0.0.0.0"
	cartesian.Server.Port = 8080
	cartesian.SketchRoot = "./sketches"

	scara := &Config{
		MachineType:        "scara",
		StepsPerRevolution: 2038,
		StepDelayMsRapid:   1,
		StepDelayMsLinear:  2,
		StepDelayMsInit:    5,
		AccelerationRate:   0.6,
		RadiusPrimary:      60,
		RadiusSecondary:    60,
		MinPenDuty:         10,
		MaxPenDuty:         110,
		PenDelayMsInit:     2,
		PenDelayMsTarget:   1,
		PenAccelerationRate: 0.6,
		XMin: -120, YMin: -120, XMax: 120, YMax: 120,
		RejectOOB:            true,
		ActiveTimeoutSeconds: 35,
		MaxQueueLength:       500,
	}
	scara.PrimaryAxis = AxisConfig{GPIO: [4]int{17, 18, 27, 22}, LimitGPIO: 5}
	scara.SecondaryAxis = AxisConfig{GPIO: [4]int{23, 24, 25, 8}, LimitGPIO: 6}
	scara.Servo.GPIO = 12
	scara.Server.Host = "0.0.0.0"
	scara.Server.Port = 8080
	scara.SketchRoot = "./sketches"

	return map[Preset]*Config{
		PresetBenchCartesian: cartesian,
		PresetBenchScara:     scara,
	}
}

// LoadPreset returns a copy of a built-in preset by name.
func LoadPreset(name string) (*Config, error) {
	presets := GetDefaultPresets()
	cfg, ok := presets[Preset(name)]
	if !ok {
		return nil, fmt.Errorf("unknown preset: %s", name)
	}
	clone := *cfg
	return &clone, nil
}

// RecommendPreset maps a detected board to the bench preset most likely to
// match its wiring, for first-boot convenience; hal.DetectBoard does the
// actual device-tree/cpuinfo sniffing.
func RecommendPreset(board hal.BoardInfo) Preset {
	switch board.Model {
	case hal.BoardRPiZero, hal.BoardRPiZeroW, hal.BoardRPiZero2W, hal.BoardRPi1, hal.BoardRPi2:
		return PresetBenchCartesian
	default:
		return PresetBenchScara
	}
}
