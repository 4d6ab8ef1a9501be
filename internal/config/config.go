// Package config loads the plotter's JSON configuration file and builds
// the machine.Config and hal wiring it describes. Validation failures are
// reported as *machine.ConfigError and *machine.ValueError so the
// composition root can treat them uniformly with the errors New itself
// returns.
package config

import (
	"fmt"
	"time"

	"github.com/plotterfw/motioncore/internal/machine"
	"github.com/spf13/viper"
)

// AxisConfig describes one stepper axis: its four coil GPIO pins in phase
// order, and the GPIO pin wired to its limit switch.
type AxisConfig struct {
	GPIO     [4]int `mapstructure:"gpio"`
	LimitGPIO int   `mapstructure:"limit_gpio"`
}

// Config is the top-level shape of the plotter's JSON configuration file.
type Config struct {
	MachineType string `mapstructure:"machine_type"`

	Servo struct {
		GPIO int `mapstructure:"gpio"`
	} `mapstructure:"servo"`

	PrimaryAxis   AxisConfig `mapstructure:"primary_axis"`
	SecondaryAxis AxisConfig `mapstructure:"secondary_axis"`

	BacklashStepsPrimary   int `mapstructure:"backlash_steps_primary"`
	BacklashStepsSecondary int `mapstructure:"backlash_steps_secondary"`

	StepsPerRevolution int     `mapstructure:"steps_per_revolution"`
	StepDelayMsRapid   float64 `mapstructure:"step_delay_ms_rapid"`
	StepDelayMsLinear  float64 `mapstructure:"step_delay_ms_linear"`
	StepDelayMsInit    float64 `mapstructure:"step_delay_ms_init"`
	AccelerationRate   float64 `mapstructure:"acceleration_rate"`

	UnitPerRevolution float64 `mapstructure:"unit_per_revolution"`
	RadiusPrimary     float64 `mapstructure:"radius_primary"`
	RadiusSecondary   float64 `mapstructure:"radius_secondary"`

	PenDelayMsInit      float64 `mapstructure:"pen_delay_ms_init"`
	PenDelayMsTarget    float64 `mapstructure:"pen_delay_ms_target"`
	PenAccelerationRate float64 `mapstructure:"pen_acceleration_rate"`
	MinPenDuty          int     `mapstructure:"min_pen_duty"`
	MaxPenDuty          int     `mapstructure:"max_pen_duty"`

	XMin float64 `mapstructure:"x_min"`
	YMin float64 `mapstructure:"y_min"`
	XMax float64 `mapstructure:"x_max"`
	YMax float64 `mapstructure:"y_max"`

	RejectOOB bool `mapstructure:"reject_oob"`

	ActiveTimeoutSeconds int `mapstructure:"active_timeout_seconds"`
	MaxQueueLength       int `mapstructure:"max_queue_length"`

	Server struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	} `mapstructure:"server"`

	SketchRoot string `mapstructure:"sketch_root"`

	SerialConsole struct {
		Port string `mapstructure:"port"`
		Baud int    `mapstructure:"baud"`
	} `mapstructure:"serial_console"`

	Logger struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
		Dir    string `mapstructure:"dir"`
	} `mapstructure:"logger"`
}

// Load reads the configuration file at path (or the usual search path set
// if empty), applying PLOTTERD_-prefixed environment overrides. Machine type
// and pin layout are validated here; inverted boundaries are rejected by
// machine.New before it configures any pin.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("plotterd")
		v.SetConfigType("json")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/plotterd")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, &machine.ConfigError{Msg: fmt.Sprintf("read config: %v", err)}
		}
	}

	v.SetEnvPrefix("PLOTTERD")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &machine.ConfigError{Msg: fmt.Sprintf("unmarshal config: %v", err)}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("machine_type", "cartesian")
	v.SetDefault("steps_per_revolution", 2038)
	v.SetDefault("step_delay_ms_rapid", 1.0)
	v.SetDefault("step_delay_ms_linear", 2.0)
	v.SetDefault("step_delay_ms_init", 5.0)
	v.SetDefault("acceleration_rate", 1.0)
	v.SetDefault("unit_per_revolution", 64.0)
	v.SetDefault("min_pen_duty", 10)
	v.SetDefault("max_pen_duty", 110)
	v.SetDefault("pen_delay_ms_init", 2.0)
	v.SetDefault("pen_delay_ms_target", 1.0)
	v.SetDefault("pen_acceleration_rate", 1.0)
	v.SetDefault("reject_oob", true)
	v.SetDefault("active_timeout_seconds", 35)
	v.SetDefault("max_queue_length", 500)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("sketch_root", "./sketches")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.dir", "./logs")
}

func (c *Config) validate() error {
	switch c.MachineType {
	case "cartesian", "scara":
	default:
		return &machine.ConfigError{Msg: fmt.Sprintf("unknown machine_type: %q", c.MachineType)}
	}

	for name, axis := range map[string]AxisConfig{"primary_axis": c.PrimaryAxis, "secondary_axis": c.SecondaryAxis} {
		for _, pin := range axis.GPIO {
			if pin == 0 {
				return &machine.ValueError{Msg: fmt.Sprintf("%s requires exactly four GPIO pins", name)}
			}
		}
	}
	return nil
}

// BuildKinematicModel constructs the CartesianModel or ScaraModel named by
// MachineType.
func (c *Config) BuildKinematicModel() machine.KinematicModel {
	if c.MachineType == "scara" {
		return machine.ScaraModel{
			RadiusPrimary:      c.RadiusPrimary,
			RadiusSecondary:    c.RadiusSecondary,
			StepsPerRevolution: c.StepsPerRevolution,
		}
	}
	return machine.CartesianModel{
		UnitPerRevolution:  c.UnitPerRevolution,
		StepsPerRevolution: c.StepsPerRevolution,
	}
}

// MachineConfig translates the file's JSON shape into machine.Config. The
// GPIO provider and logger are supplied by the caller, since this package
// has no business constructing hardware handles.
func (c *Config) MachineConfig() machine.Config {
	return machine.Config{
		Model: c.BuildKinematicModel(),

		PrimaryPins:            c.PrimaryAxis.GPIO,
		SecondaryPins:          c.SecondaryAxis.GPIO,
		BacklashStepsPrimary:   c.BacklashStepsPrimary,
		BacklashStepsSecondary: c.BacklashStepsSecondary,
		ServoPin:               c.Servo.GPIO,
		PrimaryLimitPin:        c.PrimaryAxis.LimitGPIO,
		SecondaryLimitPin:      c.SecondaryAxis.LimitGPIO,

		StepsPerRevolution: c.StepsPerRevolution,
		StepDelayMsRapid:   c.StepDelayMsRapid,
		StepDelayMsLinear:  c.StepDelayMsLinear,
		StepDelayMsInit:    c.StepDelayMsInit,
		AccelerationRate:   c.AccelerationRate,

		MinPenDuty:          c.MinPenDuty,
		MaxPenDuty:          c.MaxPenDuty,
		PenDelayMsInit:      c.PenDelayMsInit,
		PenDelayMsTarget:    c.PenDelayMsTarget,
		PenAccelerationRate: c.PenAccelerationRate,

		XMin: c.XMin, YMin: c.YMin, XMax: c.XMax, YMax: c.YMax,
		RejectOOB: c.RejectOOB,

		ActiveTimeout:  time.Duration(c.ActiveTimeoutSeconds) * time.Second,
		MaxQueueLength: c.MaxQueueLength,
	}
}
