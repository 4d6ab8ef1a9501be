//go:build linux
// +build linux

package main

import (
	"runtime"

	"github.com/plotterfw/motioncore/internal/hal"
	"go.uber.org/zap"
)

func initHAL(log *zap.Logger) hal.HAL {
	if runtime.GOARCH == "arm64" || runtime.GOARCH == "arm" {
		rpiHAL, err := hal.NewRaspberryPiHAL()
		if err != nil {
			log.Warn("failed to initialize Raspberry Pi HAL, falling back to mock", zap.Error(err))
			return hal.NewMockHAL()
		}
		log.Info("Raspberry Pi HAL initialized", zap.String("board", rpiHAL.Info().Name))
		return rpiHAL
	}
	log.Info("non-ARM Linux platform, using mock HAL")
	return hal.NewMockHAL()
}
