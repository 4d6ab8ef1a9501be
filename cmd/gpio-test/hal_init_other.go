//go:build !linux
// +build !linux

package main

import (
	"fmt"

	"github.com/plotterfw/motioncore/internal/hal"
)

func initHAL(mock bool) (hal.HAL, error) {
	if !mock {
		return nil, fmt.Errorf("real HAL only available on linux, pass -mock")
	}
	return hal.NewMockHAL(), nil
}
