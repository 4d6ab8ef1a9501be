// Command gpio-test is a bench calibration tool: it steps one named axis
// against the real HAL a fixed number of times forward or backward and
// prints the resulting coil phase, position counter, and limit-switch
// state after every step, so a freshly-wired rig can be checked before the
// full dispatcher is ever started. Adapted from the teacher's own
// cmd/gpio-test bring-up tool.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/plotterfw/motioncore/internal/hal"
	"github.com/plotterfw/motioncore/internal/stepper"
)

func main() {
	axisName := flag.String("axis", "primary", "axis to step: primary or secondary")
	backward := flag.Bool("backward", false, "step backward instead of forward")
	steps := flag.Int("steps", 10, "number of steps to issue")
	delayMs := flag.Float64("delay-ms", 5, "delay between steps, milliseconds")
	mock := flag.Bool("mock", false, "use the mock HAL instead of the real GPIO backend")
	primaryGPIO := flag.String("primary-gpio", "17,18,27,22", "comma-separated 4-pin coil sequence for the primary axis")
	secondaryGPIO := flag.String("secondary-gpio", "23,24,25,8", "comma-separated 4-pin coil sequence for the secondary axis")
	primaryLimit := flag.Int("primary-limit-gpio", 5, "primary axis limit-switch pin")
	secondaryLimit := flag.Int("secondary-limit-gpio", 6, "secondary axis limit-switch pin")
	backlash := flag.Int("backlash", 0, "backlash compensation steps for the axis under test")
	flag.Parse()

	primaryPins, err := parsePins(*primaryGPIO)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gpio-test: primary-gpio: %v\n", err)
		os.Exit(1)
	}
	secondaryPins, err := parsePins(*secondaryGPIO)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gpio-test: secondary-gpio: %v\n", err)
		os.Exit(1)
	}

	h, err := initHAL(*mock)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gpio-test: %v\n", err)
		os.Exit(1)
	}
	defer h.Close()

	gpio := h.GPIO()
	if err := gpio.SetMode(*primaryLimit, hal.Input); err != nil {
		fmt.Fprintf(os.Stderr, "gpio-test: primary limit pin: %v\n", err)
		os.Exit(1)
	}
	if err := gpio.SetMode(*secondaryLimit, hal.Input); err != nil {
		fmt.Fprintf(os.Stderr, "gpio-test: secondary limit pin: %v\n", err)
		os.Exit(1)
	}

	primaryAxis := &stepper.Axis{Pins: primaryPins, BacklashSteps: 0, Phase: 1}
	secondaryAxis := &stepper.Axis{Pins: secondaryPins, BacklashSteps: 0, Phase: 1}

	var underTest *stepper.Axis
	switch *axisName {
	case "primary":
		underTest = primaryAxis
		primaryAxis.BacklashSteps = *backlash
	case "secondary":
		underTest = secondaryAxis
		secondaryAxis.BacklashSteps = *backlash
	default:
		fmt.Fprintf(os.Stderr, "gpio-test: unknown axis %q, want primary or secondary\n", *axisName)
		os.Exit(1)
	}

	driver := stepper.New(gpio, primaryAxis, secondaryAxis, *delayMs)
	if err := driver.Activate(); err != nil {
		fmt.Fprintf(os.Stderr, "gpio-test: activate: %v\n", err)
		os.Exit(1)
	}
	defer driver.Deactivate()

	ctx := context.Background()
	for i := 1; i <= *steps; i++ {
		var stepErr error
		if *axisName == "primary" {
			stepErr = driver.StepPrimary(ctx, *backward)
		} else {
			stepErr = driver.StepSecondary(ctx, *backward)
		}
		if stepErr != nil {
			fmt.Fprintf(os.Stderr, "gpio-test: step %d: %v\n", i, stepErr)
			os.Exit(1)
		}

		primaryLimitHit, _ := gpio.DigitalRead(*primaryLimit)
		secondaryLimitHit, _ := gpio.DigitalRead(*secondaryLimit)
		fmt.Printf("step %3d/%d  phase=%d  pos=%-5d  limit_primary=%v  limit_secondary=%v\n",
			i, *steps, underTest.Phase, underTest.Position, primaryLimitHit, secondaryLimitHit)

		time.Sleep(time.Duration(*delayMs) * time.Millisecond)
	}
}

func parsePins(csv string) ([4]int, error) {
	var pins [4]int
	var count int
	cur := 0
	value := 0
	started := false
	for i := 0; i <= len(csv); i++ {
		var c byte
		if i < len(csv) {
			c = csv[i]
		}
		if i < len(csv) && c >= '0' && c <= '9' {
			value = value*10 + int(c-'0')
			started = true
			continue
		}
		if i == len(csv) || c == ',' {
			if !started {
				return pins, fmt.Errorf("expected 4 comma-separated pin numbers, got %q", csv)
			}
			if count >= 4 {
				return pins, fmt.Errorf("expected exactly 4 pins, got more in %q", csv)
			}
			pins[count] = value
			count++
			value = 0
			started = false
			cur++
			continue
		}
		return pins, fmt.Errorf("invalid pin list %q", csv)
	}
	if count != 4 {
		return pins, fmt.Errorf("expected exactly 4 pins, got %d in %q", count, csv)
	}
	return pins, nil
}
