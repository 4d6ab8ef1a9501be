//go:build !linux
// +build !linux

package main

import (
	"go.uber.org/zap"

	"github.com/plotterfw/motioncore/internal/hal"
)

func initHAL(log *zap.Logger) hal.HAL {
	log.Info("non-Linux platform, using mock HAL")
	return hal.NewMockHAL()
}
