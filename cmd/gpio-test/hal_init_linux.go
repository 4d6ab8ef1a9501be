//go:build linux
// +build linux

package main

import (
	"fmt"

	"github.com/plotterfw/motioncore/internal/hal"
)

func initHAL(mock bool) (hal.HAL, error) {
	if mock {
		return hal.NewMockHAL(), nil
	}
	rpiHAL, err := hal.NewRaspberryPiHAL()
	if err != nil {
		return nil, fmt.Errorf("real HAL unavailable: %w", err)
	}
	return rpiHAL, nil
}
